// Package main is the pointrect command line tool.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/menta2k/pointrect"
	"github.com/menta2k/pointrect/internal/config"
	"github.com/menta2k/pointrect/internal/logging"
	"github.com/menta2k/pointrect/internal/utils"
	"github.com/menta2k/pointrect/pkg/predict"
	"github.com/menta2k/pointrect/pkg/processing"
	"github.com/menta2k/pointrect/pkg/settings"
	"github.com/menta2k/pointrect/pkg/types"
)

const (
	// Flags.
	flagConfig      = "config"
	flagDebug       = "debug"
	flagIn          = "in"
	flagOut         = "out"
	flagURL         = "url"
	flagMatcher     = "matcher"
	flagTolerance   = "tolerance"
	flagIoU         = "iou"
	flagConcurrency = "concurrency"
	flagListen      = "listen"
	flagBackend     = "backend"
	flagBackendURL  = "backend-url"
	flagModel       = "model"
	flagFormat      = "format"
	flagQuality     = "quality"
	flagLossless    = "lossless"
	flagName        = "name"
	flagProject     = "project"
	flagShow        = "show"
	flagCheckVision = "check-vision"
)

type runtime struct {
	cfg    *config.Config
	logger *zap.SugaredLogger
}

func main() {
	rt := &runtime{}

	app := &cli.App{
		Name:    "pointrect",
		Usage:   "turn point annotations into rectangles",
		Version: pointrect.Version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    flagConfig,
				Aliases: []string{"c"},
				Value:   config.GetConfigPath(),
				Usage:   "load configuration from `FILE`",
			},
			&cli.BoolFlag{
				Name:  flagDebug,
				Usage: "enable debug logging",
			},
		},
		Before: func(c *cli.Context) error {
			cfg, err := config.Load(c.String(flagConfig))
			if err != nil {
				return err
			}
			if c.Bool(flagDebug) {
				cfg.Logging.Level = "debug"
			}
			logger, err := logging.New(cfg.Logging)
			if err != nil {
				return err
			}
			rt.cfg, rt.logger = cfg, logger
			return nil
		},
		After: func(c *cli.Context) error {
			if rt.logger != nil {
				_ = rt.logger.Sync()
			}
			return nil
		},
		Commands: []*cli.Command{
			{
				Name:      "predict",
				Usage:     "send point regions to the prediction endpoint and merge the rectangles",
				UsageText: "pointrect predict --in <metadata file or dir> [--out dir]",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: flagIn, Required: true, Usage: "asset metadata `PATH` (file or directory)"},
					&cli.StringFlag{Name: flagOut, Usage: "output `DIR`; defaults to rewriting inputs in place"},
					&cli.StringFlag{Name: flagURL, Usage: "prediction endpoint URL"},
					&cli.StringFlag{Name: flagMatcher, Usage: "duplicate matching: exact, tolerance or iou"},
					&cli.Float64Flag{Name: flagTolerance, Usage: "pixel tolerance for the tolerance matcher"},
					&cli.Float64Flag{Name: flagIoU, Usage: "overlap threshold for the iou matcher"},
					&cli.IntFlag{Name: flagConcurrency, Usage: "assets predicted in parallel"},
				},
				Action: rt.predictAction,
			},
			{
				Name:  "serve",
				Usage: "run the prediction endpoint",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: flagListen, Usage: "listen `ADDRESS`"},
					&cli.StringFlag{Name: flagBackend, Usage: "locator backend: local, ollama or llamacpp"},
					&cli.StringFlag{Name: flagBackendURL, Usage: "backend server URL"},
					&cli.StringFlag{Name: flagModel, Usage: "vision model name"},
					&cli.StringFlag{Name: flagCheckVision, Usage: "describe image `FILE` with the model before serving"},
				},
				Action: rt.serveAction,
			},
			{
				Name:  "overlay",
				Usage: "draw an asset's regions over its image",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: flagIn, Required: true, Usage: "asset metadata `FILE`"},
					&cli.StringFlag{Name: flagOut, Usage: "output image `FILE`"},
					&cli.StringFlag{Name: flagFormat, Value: "png", Usage: "png, jpg or webp"},
					&cli.IntFlag{Name: flagQuality, Value: 92, Usage: "jpg/webp quality"},
					&cli.BoolFlag{Name: flagLossless, Usage: "lossless webp"},
				},
				Action: rt.overlayAction,
			},
			{
				Name:  "settings",
				Usage: "manage application settings",
				Subcommands: []*cli.Command{
					{
						Name:  "token",
						Usage: "manage security tokens",
						Subcommands: []*cli.Command{
							{
								Name:   "add",
								Usage:  "generate a security token for a project",
								Flags:  []cli.Flag{&cli.StringFlag{Name: flagName, Required: true, Usage: "project name"}},
								Action: rt.tokenAddAction,
							},
							{
								Name:   "ensure",
								Usage:  "make sure a project file's security token exists",
								Flags:  []cli.Flag{&cli.StringFlag{Name: flagProject, Required: true, Usage: "project JSON `FILE`"}},
								Action: rt.tokenEnsureAction,
							},
						},
					},
					{
						Name:   "devtools",
						Usage:  "show or hide developer tools",
						Flags:  []cli.Flag{&cli.BoolFlag{Name: flagShow, Value: true, Usage: "show (true) or hide (false)"}},
						Action: rt.devToolsAction,
					},
					{
						Name:   "reload",
						Usage:  "reload the application",
						Action: rt.reloadAction,
					},
				},
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func (rt *runtime) predictAction(c *cli.Context) error {
	pc := rt.cfg.Predictor
	if c.IsSet(flagURL) {
		pc.URL = c.String(flagURL)
	}
	if c.IsSet(flagMatcher) {
		pc.Matcher = c.String(flagMatcher)
	}
	if c.IsSet(flagTolerance) {
		pc.Tolerance = c.Float64(flagTolerance)
	}
	if c.IsSet(flagIoU) {
		pc.IoU = c.Float64(flagIoU)
	}
	if c.IsSet(flagConcurrency) {
		pc.Concurrency = c.Int(flagConcurrency)
	}
	rt.cfg.Predictor = pc
	if err := rt.cfg.Validate(); err != nil {
		return err
	}

	matcher, err := rt.cfg.Matcher()
	if err != nil {
		return err
	}
	svc, err := pointrect.NewService(pointrect.Options{
		URL:           pc.URL,
		Timeout:       time.Duration(pc.Timeout),
		Matcher:       matcher,
		ConnectionTTL: time.Duration(pc.ConnectionTTL),
		SecurityToken: pc.SecurityToken,
		Logger:        rt.logger,
	})
	if err != nil {
		return err
	}

	ctx := c.Context
	svc.EnsureConnected(ctx)
	if !svc.IsConnected() {
		return errors.Errorf("prediction endpoint %s is not reachable", pc.URL)
	}

	files, err := utils.ListMetadataFiles(c.String(flagIn))
	if err != nil {
		return err
	}
	mds := make([]*types.AssetMetadata, len(files))
	proc := processing.NewProcessor()
	for i, f := range files {
		md, err := utils.ReadMetadata(f)
		if err != nil {
			return err
		}
		rt.fillSize(ctx, proc, md)
		mds[i] = md
	}

	results := svc.ProcessAll(ctx, mds, pc.Concurrency)
	counts := map[predict.Outcome]int{}
	for i, res := range results {
		counts[res.Outcome]++
		if res.Outcome == predict.Skipped {
			continue
		}
		out := files[i]
		if dir := c.String(flagOut); dir != "" {
			out = filepath.Join(dir, filepath.Base(files[i]))
		}
		if err := utils.UpdateMetadata(files[i], out, res.Metadata); err != nil {
			return err
		}
	}
	rt.logger.Infow("prediction finished",
		"assets", len(files),
		"success", counts[predict.Success],
		"skipped", counts[predict.Skipped],
		"connectivity_errors", counts[predict.ConnectivityError],
		"processing_errors", counts[predict.ProcessingError],
	)
	return nil
}

// fillSize gives assets without geometry a size from their image so they can be predicted
func (rt *runtime) fillSize(ctx context.Context, proc *processing.Processor, md *types.AssetMetadata) {
	if md.Asset == nil || md.Asset.Size != nil || md.Asset.Path == "" {
		return
	}
	img, err := proc.LoadAsset(ctx, md.Asset)
	if err != nil {
		rt.logger.Debugw("cannot size asset", "asset", md.Asset.ID, "error", err)
		return
	}
	processing.EnsureSize(md, img)
}

func (rt *runtime) serveAction(c *cli.Context) error {
	sc := rt.cfg.Server
	if c.IsSet(flagListen) {
		sc.Listen = c.String(flagListen)
	}
	if c.IsSet(flagBackend) {
		sc.Backend = c.String(flagBackend)
	}
	if c.IsSet(flagBackendURL) {
		sc.BackendURL = c.String(flagBackendURL)
	}
	if c.IsSet(flagModel) {
		sc.Model = c.String(flagModel)
	}
	rt.cfg.Server = sc
	if err := rt.cfg.Validate(); err != nil {
		return err
	}

	if path := c.String(flagCheckVision); path != "" {
		if err := rt.checkVision(c.Context, path); err != nil {
			return err
		}
	}

	srv, err := pointrect.NewServer(pointrect.ServerOptions{
		Backend:      rt.cfg.BackendConfig(),
		Template:     types.Size{Width: sc.TemplateWidth, Height: sc.TemplateHeight},
		Listen:       sc.Listen,
		MaxBodyBytes: sc.MaxBodyBytes,
		LoadImages:   sc.LoadImages,
		Logger:       rt.logger,
	})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := srv.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	rt.logger.Info("shutting down")
	return srv.Shutdown(shutdownCtx)
}

func (rt *runtime) checkVision(ctx context.Context, path string) error {
	img, err := processing.NewProcessor().LoadImageSmart(ctx, path)
	if err != nil {
		return err
	}
	desc, err := pointrect.CheckVision(ctx, rt.cfg.BackendConfig(), img, rt.logger)
	if err != nil {
		return errors.Wrap(err, "vision check failed")
	}
	rt.logger.Infow("model can see images", "description", desc)
	return nil
}

func (rt *runtime) overlayAction(c *cli.Context) error {
	in := c.String(flagIn)
	md, err := utils.ReadMetadata(in)
	if err != nil {
		return err
	}
	img, err := pointrect.RenderOverlay(c.Context, md)
	if err != nil {
		return err
	}

	format := c.String(flagFormat)
	out := c.String(flagOut)
	if out == "" {
		out = utils.GenerateOutputFilename(in, filepath.Dir(in), "", "_regions", format)
	}
	if err := processing.NewProcessor().SaveImage(img, out, format, c.Int(flagQuality), c.Bool(flagLossless)); err != nil {
		return err
	}
	rt.logger.Infow("wrote overlay", "path", out, "regions", len(md.Regions))
	return nil
}

func (rt *runtime) settingsActions() (*settings.Actions, error) {
	fs := settings.NewFileStore(rt.cfg.Settings.Path)
	initial, err := fs.Load()
	if err != nil {
		return nil, err
	}
	store := settings.NewMemoryStore(initial)
	store.Subscribe(func(a settings.Action, s settings.AppSettings) {
		if a.Type != settings.ToggleDevToolsSuccess {
			return
		}
		if err := fs.Save(s); err != nil {
			rt.logger.Warnw("failed to persist dev tools setting", "error", err)
		}
	})
	return settings.NewActions(store, settings.LogBridge{Logger: rt.logger},
		settings.WithPersister(fs),
		settings.WithLogger(rt.logger),
	), nil
}

func (rt *runtime) tokenAddAction(c *cli.Context) error {
	actions, err := rt.settingsActions()
	if err != nil {
		return err
	}
	s, err := actions.AddNewSecurityToken(c.Context, c.String(flagName))
	if err != nil {
		return err
	}
	rt.logger.Infow("security tokens", "count", len(s.SecurityTokens), "path", rt.cfg.Settings.Path)
	return nil
}

func (rt *runtime) tokenEnsureAction(c *cli.Context) error {
	data, err := os.ReadFile(c.String(flagProject))
	if err != nil {
		return err
	}
	var project types.Project
	if err := json.Unmarshal(data, &project); err != nil {
		return errors.Wrap(err, "parse project")
	}

	actions, err := rt.settingsActions()
	if err != nil {
		return err
	}
	s, err := actions.EnsureSecurityToken(c.Context, &project)
	if err != nil {
		return err
	}
	rt.logger.Infow("security tokens", "count", len(s.SecurityTokens), "path", rt.cfg.Settings.Path)
	return nil
}

func (rt *runtime) devToolsAction(c *cli.Context) error {
	actions, err := rt.settingsActions()
	if err != nil {
		return err
	}
	return actions.ToggleDevTools(c.Context, c.Bool(flagShow))
}

func (rt *runtime) reloadAction(c *cli.Context) error {
	actions, err := rt.settingsActions()
	if err != nil {
		return err
	}
	return actions.ReloadApplication(c.Context)
}
