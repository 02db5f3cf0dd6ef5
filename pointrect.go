// Package pointrect turns point annotations into rectangle annotations.
//
// An annotation tool marks objects with single clicks. pointrect sends those
// point regions to a prediction endpoint, which answers with a rectangle per point,
// and merges the rectangles back into the asset's regions without duplicating
// ones that are already there.
//
// Basic usage:
//
//	package main
//
//	import (
//		"context"
//		"fmt"
//		"log"
//
//		"github.com/menta2k/pointrect"
//		"github.com/menta2k/pointrect/pkg/types"
//	)
//
//	func main() {
//		svc, err := pointrect.NewService(pointrect.Options{URL: "http://localhost:8000"})
//		if err != nil {
//			log.Fatal(err)
//		}
//
//		md := &types.AssetMetadata{
//			Asset: &types.Asset{ID: "a1", Size: &types.Size{Width: 640, Height: 480}},
//			Regions: []types.Region{{
//				ID: "p1", Type: types.RegionPoint, Tags: []string{"car"},
//				Points: []types.Point{{X: 320, Y: 240}},
//			}},
//		}
//
//		svc.EnsureConnected(context.Background())
//		out := svc.Process(context.Background(), md)
//		fmt.Printf("%d regions, state %v\n", len(out.Regions), out.Asset.State)
//	}
//
// The package consists of these main components:
//
// 1. Predict (pkg/predict): connectivity tracking and prediction merging
// 2. Remote (pkg/remote): HTTP client for the prediction endpoint
// 3. Server (pkg/server): the prediction endpoint itself
// 4. Detection (pkg/detection): point to rectangle location over ollama, llama.cpp or local saliency
// 5. Regions and Settings (pkg/regions, pkg/settings): editing helpers and application settings
//
// Prediction never fails loudly by default: when the endpoint is unreachable or
// answers badly, Process returns the asset unchanged apart from its state.
// ProcessResult reports what happened for callers that need to know.
package pointrect

import (
	"context"
	"image"
	"net/http"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/menta2k/pointrect/pkg/detection"
	"github.com/menta2k/pointrect/pkg/merge"
	"github.com/menta2k/pointrect/pkg/predict"
	"github.com/menta2k/pointrect/pkg/processing"
	"github.com/menta2k/pointrect/pkg/remote"
	"github.com/menta2k/pointrect/pkg/server"
	"github.com/menta2k/pointrect/pkg/types"
)

// Version of the pointrect library
const Version = "1.0.0"

// Options configures a prediction service
type Options struct {
	// URL of the prediction endpoint
	URL string
	// Timeout bounds each HTTP exchange; zero means remote.DefaultTimeout
	Timeout time.Duration
	// Matcher decides when a predicted rectangle duplicates an existing one; nil means exact
	Matcher merge.Matcher
	// ConnectionTTL re-probes a connected endpoint after this long; zero never re-probes
	ConnectionTTL time.Duration
	SecurityToken string
	Logger        *zap.SugaredLogger
}

// NewService wires a remote client into a prediction service
func NewService(opts Options) (*predict.Service, error) {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = remote.DefaultTimeout
	}
	clientOpts := []remote.Option{
		remote.WithHTTPClient(&http.Client{Timeout: timeout}),
		remote.WithUserAgent("pointrect/" + Version),
	}
	if opts.SecurityToken != "" {
		clientOpts = append(clientOpts, remote.WithSecurityToken(opts.SecurityToken))
	}
	c, err := remote.NewClient(opts.URL, clientOpts...)
	if err != nil {
		return nil, errors.Wrap(err, "prediction endpoint")
	}

	svcOpts := []predict.Option{predict.WithMatcher(opts.Matcher)}
	if opts.Logger != nil {
		svcOpts = append(svcOpts, predict.WithLogger(opts.Logger))
	}
	if opts.ConnectionTTL > 0 {
		svcOpts = append(svcOpts, predict.WithConnectionTTL(opts.ConnectionTTL))
	}
	return predict.New(c, svcOpts...), nil
}

// ServerOptions configures a prediction endpoint
type ServerOptions struct {
	Backend      detection.BackendConfig
	Template     types.Size
	Listen       string
	MaxBodyBytes int64
	LoadImages   bool
	Logger       *zap.SugaredLogger
}

// NewServer builds the prediction endpoint for the configured backend
func NewServer(opts ServerOptions) (*server.Server, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	locator, err := detection.NewLocator(opts.Backend, logger)
	if err != nil {
		return nil, err
	}
	detector := detection.NewDetector(locator,
		detection.WithTemplate(opts.Template),
		detection.WithLogger(logger),
	)

	backend := opts.Backend.Backend
	if backend == "" {
		backend = detection.BackendOllama
	}
	srvOpts := []server.Option{
		server.WithLogger(logger),
		server.WithBackendName(backend),
		server.WithMaxBodyBytes(opts.MaxBodyBytes),
		server.WithImageLoading(opts.LoadImages),
	}
	if opts.Listen != "" {
		srvOpts = append(srvOpts, server.WithListenAddress(opts.Listen))
	}
	return server.New(detector, srvOpts...), nil
}

// CheckVision asks the configured model to describe img, confirming the backend receives images
func CheckVision(ctx context.Context, cfg detection.BackendConfig, img image.Image, logger *zap.SugaredLogger) (string, error) {
	locator, err := detection.NewLocator(cfg, logger)
	if err != nil {
		return "", err
	}
	ml, ok := locator.(*detection.ModelLocator)
	if !ok {
		return "", errors.Errorf("backend %q does not use a vision model", cfg.Backend)
	}
	return ml.TestVision(ctx, img)
}

// RenderOverlay loads the asset image and draws its regions over it
func RenderOverlay(ctx context.Context, md *types.AssetMetadata) (image.Image, error) {
	if md == nil || md.Asset == nil {
		return nil, errors.New("metadata has no asset")
	}
	p := processing.NewProcessor()
	img, err := p.LoadAsset(ctx, md.Asset)
	if err != nil {
		return nil, err
	}
	return p.RenderRegions(img, md.Regions, md.Asset.Size), nil
}

// GetVersion returns the library version
func GetVersion() string {
	return Version
}
