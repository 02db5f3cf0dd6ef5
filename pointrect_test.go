package pointrect

import (
	"context"
	"encoding/json"
	"image"
	"image/color"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/disintegration/imaging"

	"github.com/menta2k/pointrect/pkg/detection"
	"github.com/menta2k/pointrect/pkg/predict"
	"github.com/menta2k/pointrect/pkg/processing"
	"github.com/menta2k/pointrect/pkg/types"
)

func TestNewServiceRequiresURL(t *testing.T) {
	if _, err := NewService(Options{}); err == nil {
		t.Error("expected error without URL")
	}
}

func TestNewServerUnknownBackend(t *testing.T) {
	if _, err := NewServer(ServerOptions{Backend: detection.BackendConfig{Backend: "cloud"}}); err == nil {
		t.Error("expected error for unknown backend")
	}
}

func TestEndToEndLocal(t *testing.T) {
	dir := t.TempDir()
	imgPath := filepath.Join(dir, "scene.png")
	img := imaging.New(100, 100, color.NRGBA{0, 0, 0, 255})
	img = imaging.Paste(img, imaging.New(20, 20, color.NRGBA{255, 255, 255, 255}), image.Pt(40, 40))
	if err := processing.NewProcessor().SaveImage(img, imgPath, "png", 0, false); err != nil {
		t.Fatal(err)
	}

	srv, err := NewServer(ServerOptions{
		Backend:    detection.BackendConfig{Backend: detection.BackendLocal},
		Template:   types.Size{Width: 20, Height: 20},
		Listen:     "127.0.0.1:0",
		LoadImages: true,
	})
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	if err := srv.Start(ctx); err != nil {
		t.Fatal(err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	svc, err := NewService(Options{URL: srv.BaseURL(), Timeout: 10 * time.Second})
	if err != nil {
		t.Fatal(err)
	}
	md := &types.AssetMetadata{
		Asset: &types.Asset{ID: "scene", Path: "file:" + imgPath, Size: &types.Size{Width: 100, Height: 100}},
		Regions: []types.Region{
			{ID: "p", Type: types.RegionPoint, Tags: []string{"box"}, Points: []types.Point{{X: 50, Y: 50}}},
		},
	}

	res := svc.ProcessResult(ctx, md)
	if res.Outcome != predict.Success {
		t.Fatalf("expected success, got %v: %v", res.Outcome, res.Err)
	}
	if len(res.Metadata.Regions) != 2 {
		t.Fatalf("expected point plus rectangle, got %d regions", len(res.Metadata.Regions))
	}
	bb := res.Metadata.Regions[1].BoundingBox
	if bb.Left > 40 || bb.Right() < 60 {
		t.Errorf("rectangle %+v does not cover the bright square", bb)
	}

	overlay, err := RenderOverlay(ctx, res.Metadata)
	if err != nil {
		t.Fatal(err)
	}
	if overlay.Bounds().Dx() != 100 {
		t.Errorf("unexpected overlay size %v", overlay.Bounds())
	}
}

func TestCheckVision(t *testing.T) {
	model := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/x-ndjson")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"model":   "test",
			"message": map[string]any{"role": "assistant", "content": "a white square"},
			"done":    true,
		})
	}))
	defer model.Close()

	img := imaging.New(32, 32, color.NRGBA{255, 255, 255, 255})
	cfg := detection.BackendConfig{Backend: detection.BackendOllama, URL: model.URL, Model: "test"}
	desc, err := CheckVision(context.Background(), cfg, img, nil)
	if err != nil || desc != "a white square" {
		t.Errorf("CheckVision = %q, %v", desc, err)
	}

	if _, err := CheckVision(context.Background(), detection.BackendConfig{Backend: detection.BackendLocal}, img, nil); err == nil {
		t.Error("expected error for a backend without a model")
	}
}

func TestGetVersion(t *testing.T) {
	if GetVersion() != Version {
		t.Errorf("GetVersion() = %q, want %q", GetVersion(), Version)
	}
}
