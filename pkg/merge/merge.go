// Package merge folds predicted regions into an asset's existing regions.
package merge

import (
	"math"
	"strings"

	"github.com/pkg/errors"

	"github.com/menta2k/pointrect/pkg/types"
)

// Matcher decides whether two bounding boxes describe the same region
type Matcher interface {
	Match(a, b types.BoundingBox) bool
}

// MatcherFunc adapts a function to Matcher
type MatcherFunc func(a, b types.BoundingBox) bool

// Match implements Matcher
func (f MatcherFunc) Match(a, b types.BoundingBox) bool {
	return f(a, b)
}

// Exact matches only boxes whose four fields are equal.
var Exact Matcher = MatcherFunc(func(a, b types.BoundingBox) bool {
	return a.Left == b.Left && a.Top == b.Top && a.Width == b.Width && a.Height == b.Height
})

// Tolerance matches boxes whose fields all differ by at most eps pixels
func Tolerance(eps float64) Matcher {
	return MatcherFunc(func(a, b types.BoundingBox) bool {
		return math.Abs(a.Left-b.Left) <= eps &&
			math.Abs(a.Top-b.Top) <= eps &&
			math.Abs(a.Width-b.Width) <= eps &&
			math.Abs(a.Height-b.Height) <= eps
	})
}

// IoU matches boxes whose intersection-over-union reaches threshold
func IoU(threshold float64) Matcher {
	return MatcherFunc(func(a, b types.BoundingBox) bool {
		return IntersectionOverUnion(a, b) >= threshold
	})
}

// IntersectionOverUnion returns the IoU of two boxes in [0,1]
func IntersectionOverUnion(a, b types.BoundingBox) float64 {
	x0 := math.Max(a.Left, b.Left)
	y0 := math.Max(a.Top, b.Top)
	x1 := math.Min(a.Right(), b.Right())
	y1 := math.Min(a.Bottom(), b.Bottom())
	if x1 <= x0 || y1 <= y0 {
		return 0
	}
	inter := (x1 - x0) * (y1 - y0)
	union := a.Area() + b.Area() - inter
	if union <= 0 {
		return 0
	}
	return inter / union
}

// ParseMatcher builds a matcher from its config name
func ParseMatcher(mode string, value float64) (Matcher, error) {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case "", "exact":
		return Exact, nil
	case "tolerance":
		if value < 0 {
			return nil, errors.Errorf("tolerance must not be negative, got %v", value)
		}
		return Tolerance(value), nil
	case "iou":
		if value <= 0 || value > 1 {
			return nil, errors.Errorf("iou threshold must be in (0,1], got %v", value)
		}
		return IoU(value), nil
	}
	return nil, errors.Errorf("unknown matcher %q (use exact, tolerance or iou)", mode)
}

// Regions returns existing followed by every prediction that matches no region already in the
// result. Predictions without a bounding box are dropped. Inputs are not modified.
func Regions(existing, predicted []types.Region, m Matcher) []types.Region {
	if m == nil {
		m = Exact
	}
	out := make([]types.Region, 0, len(existing)+len(predicted))
	for _, r := range existing {
		out = append(out, r.Clone())
	}
	for _, p := range predicted {
		if p.BoundingBox == nil {
			continue
		}
		if indexOfMatch(out, *p.BoundingBox, m) >= 0 {
			continue
		}
		out = append(out, p.Clone())
	}
	return out
}

func indexOfMatch(regions []types.Region, box types.BoundingBox, m Matcher) int {
	for i, r := range regions {
		if r.BoundingBox != nil && m.Match(*r.BoundingBox, box) {
			return i
		}
	}
	return -1
}
