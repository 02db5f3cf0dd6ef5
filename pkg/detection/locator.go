package detection

import (
	"context"
	"fmt"
	"image"
	"strings"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/menta2k/pointrect/pkg/client"
	"github.com/menta2k/pointrect/pkg/llamacpp"
	"github.com/menta2k/pointrect/pkg/ollama"
	"github.com/menta2k/pointrect/pkg/processing"
	"github.com/menta2k/pointrect/pkg/types"
	"github.com/menta2k/pointrect/pkg/vision"
)

// SimpleTestPrompt for testing if the model can see images
const SimpleTestPrompt = `What do you see in this image? Describe it briefly.`

// LocatePrompt asks for one box per numbered point; %s receives the point list
const LocatePrompt = `You are an image region locator.

For each numbered point below, return the tightest box around the object under that point.
Points (normalized x,y in [0,1]):
%s
Return JSON only:
{"boxes": [{"x": 0.0, "y": 0.0, "w": 0.0, "h": 0.0}]}

HARD RULES
- Exactly one box per point, in the same order as the points.
- All coordinates are normalized to [0,1] (NOT pixels); x,y is the top-left corner.
- Every box must contain its point.
- If there is no distinct object under a point, return {"x":0,"y":0,"w":0,"h":0} for it.
- JSON only. No markdown, no code fences, no comments, no trailing commas.`

// Backends understood by NewLocator
const (
	BackendOllama   = "ollama"
	BackendLlamaCpp = "llamacpp"
	BackendLocal    = "local"
)

// BackendConfig selects and parameterizes a locator backend
type BackendConfig struct {
	Backend     string
	URL         string
	Model       string
	SendFormat  string
	SendMaxDim  int
	SendQuality int
	// Vision tunes the local backend; nil means defaults
	Vision *vision.Config
}

// NewLocator builds the locator for the configured backend
func NewLocator(cfg BackendConfig, logger *zap.SugaredLogger) (client.Locator, error) {
	switch strings.ToLower(cfg.Backend) {
	case BackendLocal:
		if cfg.Vision != nil {
			return vision.NewWithConfig(*cfg.Vision), nil
		}
		return vision.New(), nil
	case BackendOllama, "":
		c, err := ollama.NewClient(cfg.URL)
		if err != nil {
			return nil, errors.Wrap(err, "ollama backend")
		}
		return NewModelLocator(c, cfg, logger), nil
	case BackendLlamaCpp, "llama.cpp":
		c, err := llamacpp.NewClient(cfg.URL)
		if err != nil {
			return nil, errors.Wrap(err, "llamacpp backend")
		}
		return NewModelLocator(c, cfg, logger), nil
	}
	return nil, errors.Errorf("unsupported backend %q (use ollama, llamacpp or local)", cfg.Backend)
}

// ModelLocator asks a vision model for the boxes
type ModelLocator struct {
	client    client.VisionClient
	processor *processing.Processor
	cfg       BackendConfig
	logger    *zap.SugaredLogger
}

// NewModelLocator wraps a vision client as a Locator
func NewModelLocator(vc client.VisionClient, cfg BackendConfig, logger *zap.SugaredLogger) *ModelLocator {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	if cfg.SendFormat == "" {
		cfg.SendFormat = "jpg"
	}
	if cfg.SendQuality <= 0 {
		cfg.SendQuality = 90
	}
	return &ModelLocator{client: vc, processor: processing.NewProcessor(), cfg: cfg, logger: logger}
}

// Locate sends the image once with all points and returns the model's boxes.
// Missing boxes come back as zero boxes.
func (l *ModelLocator) Locate(ctx context.Context, img image.Image, pts []types.Point) ([]types.Box, error) {
	boxes := make([]types.Box, len(pts))
	if len(pts) == 0 {
		return boxes, nil
	}

	imgB64, err := l.processor.PrepareImageForModel(img, l.cfg.SendFormat, l.cfg.SendMaxDim, l.cfg.SendQuality)
	if err != nil {
		return nil, errors.Wrap(err, "failed to encode image")
	}

	res, err := l.client.LocatePoints(ctx, l.cfg.Model, BuildPrompt(img.Bounds(), pts), imgB64)
	if err != nil {
		return nil, err
	}
	if len(res.Boxes) != len(pts) {
		l.logger.Debugw("model returned unexpected box count", "want", len(pts), "got", len(res.Boxes))
	}
	copy(boxes, res.Boxes)
	return boxes, nil
}

// TestVision checks the model can see images at all
func (l *ModelLocator) TestVision(ctx context.Context, img image.Image) (string, error) {
	imgB64, err := l.processor.PrepareImageForModel(img, l.cfg.SendFormat, l.cfg.SendMaxDim, l.cfg.SendQuality)
	if err != nil {
		return "", err
	}
	return l.client.SimpleQuery(ctx, l.cfg.Model, SimpleTestPrompt, imgB64)
}

// BuildPrompt renders LocatePrompt for points given in image pixels
func BuildPrompt(bounds image.Rectangle, pts []types.Point) string {
	var sb strings.Builder
	w, h := float64(bounds.Dx()), float64(bounds.Dy())
	for i, p := range pts {
		fmt.Fprintf(&sb, "%d. (%.4f, %.4f)\n", i+1, clamp(p.X/w, 0, 1), clamp(p.Y/h, 0, 1))
	}
	return fmt.Sprintf(LocatePrompt, sb.String())
}
