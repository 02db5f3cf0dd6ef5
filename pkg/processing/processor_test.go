package processing

import (
	"context"
	"encoding/base64"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/disintegration/imaging"

	"github.com/menta2k/pointrect/pkg/types"
)

func solidImage(w, h int) *image.NRGBA {
	return imaging.New(w, h, color.NRGBA{10, 20, 30, 255})
}

func writePNG(t *testing.T, dir string, img image.Image) string {
	t.Helper()
	path := filepath.Join(dir, "asset.png")
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if err := png.Encode(f, img); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLocalPath(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"/tmp/a.jpg", "/tmp/a.jpg"},
		{"file:/tmp/a.jpg", "/tmp/a.jpg"},
		{"file:///tmp/a%20b.jpg", "/tmp/a b.jpg"},
		{"relative/a.jpg", "relative/a.jpg"},
	}
	for _, tt := range tests {
		if got := LocalPath(tt.in); got != tt.want {
			t.Errorf("LocalPath(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestLoadAssetFromFile(t *testing.T) {
	path := writePNG(t, t.TempDir(), solidImage(40, 30))
	p := NewProcessor()

	img, err := p.LoadAsset(context.Background(), &types.Asset{Path: "file:" + path})
	if err != nil {
		t.Fatalf("LoadAsset failed: %v", err)
	}
	if img.Bounds().Dx() != 40 || img.Bounds().Dy() != 30 {
		t.Errorf("unexpected bounds %v", img.Bounds())
	}
	if _, err := p.LoadAsset(context.Background(), &types.Asset{}); err == nil {
		t.Error("expected error for asset without path")
	}
}

func TestLoadImageFromURL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/text" {
			w.Header().Set("Content-Type", "text/plain")
			_, _ = w.Write([]byte("nope"))
			return
		}
		w.Header().Set("Content-Type", "image/png")
		_ = png.Encode(w, solidImage(8, 6))
	}))
	defer srv.Close()

	p := NewProcessor()
	img, err := p.LoadImageSmart(context.Background(), srv.URL+"/img.png")
	if err != nil {
		t.Fatalf("LoadImageSmart failed: %v", err)
	}
	if img.Bounds().Dx() != 8 {
		t.Errorf("unexpected width %d", img.Bounds().Dx())
	}
	if _, err := p.LoadImageSmart(context.Background(), srv.URL+"/text"); err == nil {
		t.Error("expected content type error")
	}
	if _, err := p.LoadImageFromURL(context.Background(), "ftp://example.com/a.png"); err == nil {
		t.Error("expected scheme error")
	}
}

func TestEnsureSize(t *testing.T) {
	img := solidImage(64, 48)
	md := &types.AssetMetadata{Asset: &types.Asset{ID: "a"}}
	if !EnsureSize(md, img) {
		t.Fatal("expected size to be set")
	}
	if *md.Asset.Size != (types.Size{Width: 64, Height: 48}) {
		t.Errorf("unexpected size %+v", md.Asset.Size)
	}
	if EnsureSize(md, solidImage(1, 1)) {
		t.Error("existing size must not be replaced")
	}
	if EnsureSize(nil, img) || EnsureSize(&types.AssetMetadata{}, img) {
		t.Error("expected false without an asset")
	}
}

func TestPrepareImageForModel(t *testing.T) {
	p := NewProcessor()
	b64, err := p.PrepareImageForModel(solidImage(200, 100), "png", 50, 90)
	if err != nil {
		t.Fatal(err)
	}
	data, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		t.Fatal(err)
	}
	img, err := DecodeImage(data)
	if err != nil {
		t.Fatal(err)
	}
	if img.Bounds().Dx() != 50 || img.Bounds().Dy() != 25 {
		t.Errorf("expected 50x25 after resize, got %v", img.Bounds())
	}
}

func TestRenderRegions(t *testing.T) {
	p := NewProcessor()
	src := solidImage(100, 100)
	regions := []types.Region{
		{Type: types.RegionRectangle, BoundingBox: &types.BoundingBox{Left: 20, Top: 20, Width: 40, Height: 40}},
		{Type: types.RegionPoint, Points: []types.Point{{X: 80, Y: 80}}},
	}
	// asset is twice the image size, so geometry is halved
	out := p.RenderRegions(src, regions, &types.Size{Width: 200, Height: 200})

	bg := color.NRGBAModel.Convert(src.At(0, 0))
	if got := color.NRGBAModel.Convert(out.At(10, 15)); got != color.Color(palette[0]) {
		t.Errorf("expected box edge at (10,15), got %v", got)
	}
	if got := color.NRGBAModel.Convert(out.At(40, 40)); got != color.Color(palette[1]) {
		t.Errorf("expected crosshair at (40,40), got %v", got)
	}
	if got := color.NRGBAModel.Convert(out.At(20, 20)); got != bg {
		t.Errorf("interior should be untouched, got %v", got)
	}
	if got := color.NRGBAModel.Convert(src.At(10, 15)); got != bg {
		t.Error("source image was modified")
	}
}

func TestRenderRegionsStrokeScales(t *testing.T) {
	tests := []struct {
		name   string
		side   int
		stroke int
	}{
		{"small image keeps minimum", 100, 2},
		{"large image", 1000, 4},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := solidImage(tt.side, tt.side)
			bg := color.NRGBAModel.Convert(src.At(0, 0))
			left := tt.side / 10
			regions := []types.Region{{
				Type:        types.RegionRectangle,
				BoundingBox: &types.BoundingBox{Left: float64(left), Top: float64(left), Width: float64(tt.side / 2), Height: float64(tt.side / 2)},
			}}
			out := NewProcessor().RenderRegions(src, regions, nil)

			y := tt.side / 3
			if got := color.NRGBAModel.Convert(out.At(left+tt.stroke-1, y)); got != color.Color(palette[0]) {
				t.Errorf("expected stroke pixel at x=%d, got %v", left+tt.stroke-1, got)
			}
			if got := color.NRGBAModel.Convert(out.At(left+tt.stroke, y)); got != bg {
				t.Errorf("expected background at x=%d, got %v", left+tt.stroke, got)
			}
		})
	}
}

func TestSaveImage(t *testing.T) {
	p := NewProcessor()
	dir := t.TempDir()
	for _, format := range []string{"jpg", "png", "webp"} {
		path := filepath.Join(dir, "out."+format)
		if err := p.SaveImage(solidImage(16, 16), path, format, 80, false); err != nil {
			t.Fatalf("SaveImage(%s) failed: %v", format, err)
		}
		img, err := p.LoadImage(path)
		if err != nil {
			t.Fatalf("reload %s failed: %v", format, err)
		}
		if img.Bounds().Dx() != 16 {
			t.Errorf("%s: unexpected width %d", format, img.Bounds().Dx())
		}
	}
}
