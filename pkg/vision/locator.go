package vision

import (
	"context"
	"image"
	"math"

	"github.com/menta2k/pointrect/pkg/types"
)

// Config holds configuration for the saliency locator
type Config struct {
	EdgeThreshold  float64
	ContrastWeight float64
	ColorWeight    float64
	// WindowSizes are candidate window edges as fractions of the shorter image side
	WindowSizes []float64
	// MinWindow is the smallest window edge in pixels worth scoring
	MinWindow int
}

// DefaultConfig returns the configuration used by New
func DefaultConfig() Config {
	return Config{
		EdgeThreshold:  0.01,
		ContrastWeight: 0.3,
		ColorWeight:    0.2,
		WindowSizes:    []float64{1.0 / 16, 1.0 / 10, 1.0 / 6, 1.0 / 4, 1.0 / 2},
		MinWindow:      8,
	}
}

// Locator finds a salient square window around each query point without a model
type Locator struct {
	config Config
}

// New creates a Locator with default configuration
func New() *Locator {
	return &Locator{config: DefaultConfig()}
}

// NewWithConfig creates a Locator with custom configuration
func NewWithConfig(config Config) *Locator {
	if len(config.WindowSizes) == 0 {
		config.WindowSizes = DefaultConfig().WindowSizes
	}
	if config.MinWindow <= 0 {
		config.MinWindow = DefaultConfig().MinWindow
	}
	return &Locator{config: config}
}

// Window is a scored square window in image pixels
type Window struct {
	X, Y, Size int
	Score      float64
}

// Locate returns one normalized box per point. Points are in image pixels.
// Points outside the image, or with no window scoring above the threshold, get a zero box.
func (l *Locator) Locate(ctx context.Context, img image.Image, pts []types.Point) ([]types.Box, error) {
	bounds := img.Bounds()
	width, height := bounds.Dx(), bounds.Dy()
	boxes := make([]types.Box, len(pts))
	if width == 0 || height == 0 || len(pts) == 0 {
		return boxes, nil
	}

	sat := newSummedArea(l.saliencyMap(img), width, height)
	for i, p := range pts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		w, ok := l.bestWindow(sat, p, width, height)
		if !ok {
			continue
		}
		boxes[i] = types.Box{
			X: float64(w.X) / float64(width),
			Y: float64(w.Y) / float64(height),
			W: float64(w.Size) / float64(width),
			H: float64(w.Size) / float64(height),
		}
	}
	return boxes, nil
}

// bestWindow scores square windows centered on p by how much more salient they are
// than the band surrounding them
func (l *Locator) bestWindow(sat *summedArea, p types.Point, width, height int) (Window, bool) {
	if p.X < 0 || p.Y < 0 || p.X >= float64(width) || p.Y >= float64(height) {
		return Window{}, false
	}
	shorter := math.Min(float64(width), float64(height))

	var best Window
	found := false
	for _, frac := range l.config.WindowSizes {
		size := int(frac * shorter)
		if size < l.config.MinWindow {
			continue
		}
		x0 := clampInt(int(p.X)-size/2, 0, width-size)
		y0 := clampInt(int(p.Y)-size/2, 0, height-size)

		inner := sat.sum(x0, y0, x0+size, y0+size)
		innerArea := float64(size * size)

		margin := size / 4
		if margin < 2 {
			margin = 2
		}
		ox0, oy0 := clampInt(x0-margin, 0, width), clampInt(y0-margin, 0, height)
		ox1, oy1 := clampInt(x0+size+margin, 0, width), clampInt(y0+size+margin, 0, height)
		outer := sat.sum(ox0, oy0, ox1, oy1)
		ringArea := float64((ox1-ox0)*(oy1-oy0)) - innerArea

		ringMean := 0.0
		if ringArea > 0 {
			ringMean = (outer - inner) / ringArea
		}
		score := inner/innerArea - ringMean
		if score > l.config.EdgeThreshold && (!found || score > best.Score) {
			best = Window{X: x0, Y: y0, Size: size, Score: score}
			found = true
		}
	}
	return best, found
}

// saliencyMap combines local edge strength with brightness per pixel
func (l *Locator) saliencyMap(img image.Image) [][]float64 {
	bounds := img.Bounds()
	width, height := bounds.Dx(), bounds.Dy()

	saliency := make([][]float64, height)
	for i := range saliency {
		saliency[i] = make([]float64, width)
	}

	neighbors := [8][2]int{{-1, -1}, {-1, 0}, {-1, 1}, {0, -1}, {0, 1}, {1, -1}, {1, 0}, {1, 1}}
	for y := 1; y < height-1; y++ {
		for x := 1; x < width-1; x++ {
			r1, g1, b1, _ := img.At(x+bounds.Min.X, y+bounds.Min.Y).RGBA()

			var edge float64
			for _, off := range neighbors {
				r2, g2, b2, _ := img.At(x+off[0]+bounds.Min.X, y+off[1]+bounds.Min.Y).RGBA()
				dr := float64(r1) - float64(r2)
				dg := float64(g1) - float64(g2)
				db := float64(b1) - float64(b2)
				edge += math.Sqrt(dr*dr + dg*dg + db*db)
			}
			edge /= 8.0 * 65535.0

			brightness := (float64(r1) + float64(g1) + float64(b1)) / (3.0 * 65535.0)
			saliency[y][x] = l.config.ContrastWeight*edge + l.config.ColorWeight*brightness
		}
	}
	return saliency
}

// summedArea answers rectangle sums over the saliency map in constant time
type summedArea struct {
	width int
	table []float64
}

func newSummedArea(m [][]float64, width, height int) *summedArea {
	stride := width + 1
	table := make([]float64, stride*(height+1))
	for y := 0; y < height; y++ {
		row := 0.0
		for x := 0; x < width; x++ {
			row += m[y][x]
			table[(y+1)*stride+x+1] = table[y*stride+x+1] + row
		}
	}
	return &summedArea{width: width, table: table}
}

// sum over [x0,x1) x [y0,y1)
func (s *summedArea) sum(x0, y0, x1, y1 int) float64 {
	stride := s.width + 1
	return s.table[y1*stride+x1] - s.table[y0*stride+x1] - s.table[y1*stride+x0] + s.table[y0*stride+x0]
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
