package processing

import (
	"bytes"
	"context"
	"encoding/base64"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/chai2010/webp"
	"github.com/disintegration/imaging"
	"github.com/pkg/errors"
	_ "golang.org/x/image/webp"

	"github.com/menta2k/pointrect/pkg/types"
)

const userAgent = "pointrect/1.0"

// Processor handles asset image loading, encoding and overlays
type Processor struct {
	httpClient *http.Client
}

// NewProcessor creates a new image processor
func NewProcessor() *Processor {
	return &Processor{httpClient: &http.Client{Timeout: 30 * time.Second}}
}

// LoadImageFromURL downloads and decodes an image
func (p *Processor) LoadImageFromURL(ctx context.Context, imageURL string) (image.Image, error) {
	parsedURL, err := url.Parse(imageURL)
	if err != nil {
		return nil, errors.Wrap(err, "invalid URL")
	}
	if parsedURL.Scheme != "http" && parsedURL.Scheme != "https" {
		return nil, errors.Errorf("unsupported URL scheme: %s (only http and https are supported)", parsedURL.Scheme)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, imageURL, nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create request")
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "failed to download image")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, errors.Errorf("failed to download image: HTTP %d", resp.StatusCode)
	}
	if contentType := resp.Header.Get("Content-Type"); !strings.HasPrefix(contentType, "image/") {
		return nil, errors.Errorf("URL does not point to an image (Content-Type: %s)", contentType)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read image data")
	}
	return DecodeImage(data)
}

// LoadImage loads an image from a file path with WebP support
func (p *Processor) LoadImage(path string) (image.Image, error) {
	if img, err := imaging.Open(path); err == nil {
		return img, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read %s", path)
	}
	img, err := DecodeImage(data)
	if err != nil {
		return nil, errors.Wrap(err, path)
	}
	return img, nil
}

// LoadImageSmart loads an image from a file path, a file: URI or an http(s) URL
func (p *Processor) LoadImageSmart(ctx context.Context, source string) (image.Image, error) {
	if strings.HasPrefix(source, "http://") || strings.HasPrefix(source, "https://") {
		return p.LoadImageFromURL(ctx, source)
	}
	return p.LoadImage(LocalPath(source))
}

// LoadAsset loads the image behind an asset's path
func (p *Processor) LoadAsset(ctx context.Context, asset *types.Asset) (image.Image, error) {
	if asset == nil || asset.Path == "" {
		return nil, errors.New("asset has no path")
	}
	return p.LoadImageSmart(ctx, asset.Path)
}

// LocalPath strips the file: scheme assets carry for local media
func LocalPath(source string) string {
	if !strings.HasPrefix(source, "file:") {
		return source
	}
	if u, err := url.Parse(source); err == nil && u.Path != "" {
		if u.Host != "" {
			return "//" + u.Host + u.Path
		}
		return u.Path
	}
	return strings.TrimPrefix(source, "file:")
}

// DecodeImage decodes image bytes with WebP support
func DecodeImage(data []byte) (image.Image, error) {
	if img, _, err := image.Decode(bytes.NewReader(data)); err == nil {
		return img, nil
	}
	if img, err := webp.Decode(bytes.NewReader(data)); err == nil {
		return img, nil
	}
	return nil, errors.New("image: unknown or unsupported format")
}

// EnsureSize fills in the asset size from the decoded image when it is missing.
// It reports whether the size was set.
func EnsureSize(md *types.AssetMetadata, img image.Image) bool {
	if md == nil || md.Asset == nil || img == nil || md.Asset.Size != nil {
		return false
	}
	b := img.Bounds()
	md.Asset.Size = &types.Size{Width: float64(b.Dx()), Height: float64(b.Dy())}
	return true
}

// PrepareImageForModel converts an image to base64 for sending to vision models
func (p *Processor) PrepareImageForModel(img image.Image, format string, maxDim int, quality int) (string, error) {
	if maxDim > 0 {
		b := img.Bounds()
		w, h := b.Dx(), b.Dy()
		if w > maxDim || h > maxDim {
			if w >= h {
				img = imaging.Resize(img, maxDim, 0, imaging.Lanczos)
			} else {
				img = imaging.Resize(img, 0, maxDim, imaging.Lanczos)
			}
		}
	}

	var buf bytes.Buffer
	switch strings.ToLower(format) {
	case "png":
		enc := png.Encoder{CompressionLevel: png.BestCompression}
		if err := enc.Encode(&buf, img); err != nil {
			return "", errors.Wrap(err, "png encode")
		}
	default: // jpg
		if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
			return "", errors.Wrap(err, "jpeg encode")
		}
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

// SaveImage saves an image to a file with the specified format and quality
func (p *Processor) SaveImage(img image.Image, path, format string, quality int, lossless bool) error {
	switch strings.ToLower(format) {
	case "webp":
		f, err := os.Create(path)
		if err != nil {
			return err
		}
		defer f.Close()
		return webp.Encode(f, img, &webp.Options{Lossless: lossless, Quality: float32(quality)})
	case "png":
		return imaging.Save(img, path)
	default: // jpg/jpeg
		return imaging.Save(img, path, imaging.JPEGQuality(quality))
	}
}

var palette = []color.NRGBA{
	{0, 255, 0, 255},
	{255, 204, 0, 255},
	{0, 170, 255, 255},
	{255, 0, 170, 255},
	{255, 96, 0, 255},
}

// RenderRegions draws region outlines over a copy of img. Region geometry is in
// asset pixels and is scaled by the asset size; a nil size means image pixels.
func (p *Processor) RenderRegions(img image.Image, regions []types.Region, size *types.Size) image.Image {
	nrgba := imaging.Clone(img)
	w, h := nrgba.Bounds().Dx(), nrgba.Bounds().Dy()
	sx, sy := 1.0, 1.0
	if size != nil && size.Width > 0 && size.Height > 0 {
		sx, sy = float64(w)/size.Width, float64(h)/size.Height
	}

	short := float64(min(w, h))
	stroke := max(2, int(0.004*short))
	cross := max(4, int(0.01*short))
	for i, r := range regions {
		c := palette[i%len(palette)]
		if r.Type == types.RegionPoint || r.BoundingBox == nil {
			for _, pt := range r.Points {
				px, py := int(pt.X*sx+0.5), int(pt.Y*sy+0.5)
				drawHLine(nrgba, py, px-cross, px+cross, c)
				drawVLine(nrgba, px, py-cross, py+cross, c)
			}
			continue
		}
		bb := r.BoundingBox
		x0, y0 := int(bb.Left*sx+0.5), int(bb.Top*sy+0.5)
		x1, y1 := int(bb.Right()*sx+0.5), int(bb.Bottom()*sy+0.5)
		drawRect(nrgba, x0, y0, x1, y1, c, stroke)
	}
	return nrgba
}

func drawRect(img *image.NRGBA, x0, y0, x1, y1 int, c color.NRGBA, stroke int) {
	if x1 <= x0 {
		x1 = x0 + 1
	}
	if y1 <= y0 {
		y1 = y0 + 1
	}
	for s := 0; s < stroke; s++ {
		drawHLine(img, y0+s, x0, x1, c)
		drawHLine(img, y1-1-s, x0, x1, c)
		drawVLine(img, x0+s, y0, y1, c)
		drawVLine(img, x1-1-s, y0, y1, c)
	}
}

func drawHLine(img *image.NRGBA, y, x0, x1 int, c color.NRGBA) {
	if y < 0 || y >= img.Bounds().Dy() {
		return
	}
	if x0 > x1 {
		x0, x1 = x1, x0
	}
	x0 = max(x0, 0)
	x1 = min(x1, img.Bounds().Dx())
	for x := x0; x < x1; x++ {
		img.SetNRGBA(x, y, c)
	}
}

func drawVLine(img *image.NRGBA, x, y0, y1 int, c color.NRGBA) {
	if x < 0 || x >= img.Bounds().Dx() {
		return
	}
	if y0 > y1 {
		y0, y1 = y1, y0
	}
	y0 = max(y0, 0)
	y1 = min(y1, img.Bounds().Dy())
	for y := y0; y < y1; y++ {
		img.SetNRGBA(x, y, c)
	}
}
