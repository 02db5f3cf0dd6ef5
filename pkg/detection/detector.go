package detection

import (
	"context"
	"image"
	"strings"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/menta2k/pointrect/pkg/client"
	"github.com/menta2k/pointrect/pkg/types"
)

// DefaultTemplate is the rectangle drawn when nothing better is known
var DefaultTemplate = types.Size{Width: 20, Height: 20}

// Detector turns point regions into rectangle regions
type Detector struct {
	locator  client.Locator
	template types.Size
	newID    func() string
	logger   *zap.SugaredLogger
}

type Option func(*Detector)

// WithTemplate sets the fallback rectangle size
func WithTemplate(size types.Size) Option {
	return func(d *Detector) {
		if size.Width > 0 && size.Height > 0 {
			d.template = size
		}
	}
}

func WithLogger(logger *zap.SugaredLogger) Option {
	return func(d *Detector) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// WithIDGenerator overrides region id generation
func WithIDGenerator(fn func() string) Option {
	return func(d *Detector) { d.newID = fn }
}

// NewDetector creates a new detector over a locator
func NewDetector(locator client.Locator, opts ...Option) *Detector {
	d := &Detector{
		locator:  locator,
		template: DefaultTemplate,
		newID:    uuid.NewString,
		logger:   zap.NewNop().Sugar(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// RectanglesForPoints returns one rectangle region per point region of md, in order.
// Geometry is in asset pixels. img may be nil, in which case every rectangle is the template.
// A failing locator degrades the same way; only a done ctx is an error.
func (d *Detector) RectanglesForPoints(ctx context.Context, md *types.AssetMetadata, img image.Image) ([]types.Region, error) {
	if md == nil || md.Asset == nil || md.Asset.Size == nil ||
		md.Asset.Size.Width <= 0 || md.Asset.Size.Height <= 0 {
		return nil, errors.New("asset size is required")
	}
	size := *md.Asset.Size

	var points []types.Region
	for _, r := range md.Regions {
		if r.Type == types.RegionPoint && len(r.Points) > 0 {
			points = append(points, r)
		}
	}
	if len(points) == 0 {
		return []types.Region{}, nil
	}

	boxes := make([]types.Box, len(points))
	if img != nil && d.locator != nil {
		b := img.Bounds()
		sx, sy := float64(b.Dx())/size.Width, float64(b.Dy())/size.Height
		pts := make([]types.Point, len(points))
		for i, r := range points {
			pts[i] = types.Point{X: r.Points[0].X * sx, Y: r.Points[0].Y * sy}
		}
		located, err := d.locator.Locate(ctx, img, pts)
		switch {
		case ctx.Err() != nil:
			return nil, errors.Wrap(ctx.Err(), "locate")
		case err != nil:
			d.logger.Warnw("locator failed, using template rectangles", "asset", md.Asset.ID, "error", err)
		default:
			copy(boxes, located)
		}
	}

	out := make([]types.Region, len(points))
	fallbacks := 0
	for i, r := range points {
		p := r.Points[0]
		bb := boxes[i].ToBoundingBox(size)
		if boxes[i].Empty() || !bb.Contains(p) {
			bb = d.templateAt(p)
			fallbacks++
		}
		bb = clampToAsset(bb, size)
		out[i] = types.Region{
			ID:          d.newID(),
			Type:        types.RegionRectangle,
			Tags:        normalizeTags(r.Tags),
			Attributes:  r.Clone().Attributes,
			Points:      bb.Corners(),
			BoundingBox: &bb,
		}
	}
	d.logger.Debugw("rectangles for points", "asset", md.Asset.ID, "points", len(points), "fallbacks", fallbacks)
	return out, nil
}

func (d *Detector) templateAt(p types.Point) types.BoundingBox {
	return types.BoundingBox{
		Left:   p.X - d.template.Width/2,
		Top:    p.Y - d.template.Height/2,
		Width:  d.template.Width,
		Height: d.template.Height,
	}
}

// clampToAsset keeps the box inside [0,size]
func clampToAsset(bb types.BoundingBox, size types.Size) types.BoundingBox {
	left := clamp(bb.Left, 0, size.Width)
	top := clamp(bb.Top, 0, size.Height)
	right := clamp(bb.Right(), 0, size.Width)
	bottom := clamp(bb.Bottom(), 0, size.Height)
	return types.BoundingBox{Left: left, Top: top, Width: right - left, Height: bottom - top}
}

// clamp ensures a value is within the given bounds
func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// normalizeTags trims tags and drops empties and duplicates, keeping order
func normalizeTags(tags []string) []string {
	seen := map[string]struct{}{}
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}
