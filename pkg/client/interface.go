package client

import (
	"context"
	"image"

	"github.com/menta2k/pointrect/pkg/types"
)

// VisionClient is a vision model backend able to place boxes around query points
type VisionClient interface {
	SimpleQuery(ctx context.Context, model, prompt, imgB64 string) (string, error)
	LocatePoints(ctx context.Context, model, prompt, imgB64 string) (*types.LocateResult, error)
}

// Locator returns one normalized box per query point. A zero box means nothing was found.
type Locator interface {
	Locate(ctx context.Context, img image.Image, pts []types.Point) ([]types.Box, error)
}

// Predictor is the remote point-to-rectangle endpoint
type Predictor interface {
	Probe(ctx context.Context) (int, error)
	Submit(ctx context.Context, md *types.AssetMetadata) (*types.AssetMetadata, error)
}
