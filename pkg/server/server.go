package server

import (
	"context"
	"encoding/json"
	"image"
	"net"
	"net/http"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/cors"
	"go.uber.org/zap"
	"goji.io"
	"goji.io/pat"

	"github.com/menta2k/pointrect/pkg/detection"
	"github.com/menta2k/pointrect/pkg/processing"
	"github.com/menta2k/pointrect/pkg/remote"
	"github.com/menta2k/pointrect/pkg/types"
)

// DefaultMaxBodyBytes limits the size of a /process request
const DefaultMaxBodyBytes = 10 << 20

// Server is the point-to-rectangle HTTP endpoint
type Server struct {
	detector   *detection.Detector
	processor  *processing.Processor
	backend    string
	listen     string
	maxBody    int64
	loadImages bool
	logger     *zap.SugaredLogger

	handler    http.Handler
	httpServer *http.Server
	listener   net.Listener
}

type Option func(*Server)

func WithLogger(logger *zap.SugaredLogger) Option {
	return func(s *Server) { s.logger = logger }
}

func WithMaxBodyBytes(n int64) Option {
	return func(s *Server) {
		if n > 0 {
			s.maxBody = n
		}
	}
}

// WithListenAddress sets the address Start listens on. Port 0 picks a free port.
func WithListenAddress(addr string) Option {
	return func(s *Server) { s.listen = addr }
}

// WithBackendName sets the backend reported by the status endpoint
func WithBackendName(name string) Option {
	return func(s *Server) { s.backend = name }
}

// WithImageLoading controls whether asset images are loaded for the locator.
// Without images every rectangle is the template rectangle.
func WithImageLoading(enabled bool) Option {
	return func(s *Server) { s.loadImages = enabled }
}

// New creates a server around a detector
func New(detector *detection.Detector, opts ...Option) *Server {
	s := &Server{
		detector:   detector,
		processor:  processing.NewProcessor(),
		backend:    "unknown",
		listen:     "127.0.0.1:8000",
		maxBody:    DefaultMaxBodyBytes,
		loadImages: true,
		logger:     zap.NewNop().Sugar(),
	}
	for _, opt := range opts {
		opt(s)
	}

	mux := goji.NewMux()
	mux.Use(s.logRequests)
	mux.HandleFunc(pat.Get("/"), s.handleStatus)
	mux.HandleFunc(pat.Post(remote.ProcessPath), s.handleProcess)
	s.handler = cors.AllowAll().Handler(mux)
	return s
}

// Handler returns the HTTP handler for embedding
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start listens and serves in the background until Shutdown
func (s *Server) Start(ctx context.Context) error {
	lc := net.ListenConfig{}
	listener, err := lc.Listen(ctx, "tcp", s.listen)
	if err != nil {
		return errors.Wrapf(err, "listen on %s", s.listen)
	}
	s.listener = listener
	s.httpServer = &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := s.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Errorw("server stopped", "error", err)
		}
	}()
	s.logger.Infow("listening", "addr", listener.Addr().String(), "backend", s.backend)
	return nil
}

// BaseURL returns the URL clients should use, empty before Start
func (s *Server) BaseURL() string {
	if s.listener == nil {
		return ""
	}
	return "http://" + s.listener.Addr().String()
}

// Shutdown stops accepting requests and waits for in-flight ones
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

type statusResponse struct {
	Status  string `json:"status"`
	Backend string `json:"backend"`
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, statusResponse{Status: "ok", Backend: s.backend})
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) handleProcess(w http.ResponseWriter, r *http.Request) {
	body := http.MaxBytesReader(w, r.Body, s.maxBody)
	var md types.AssetMetadata
	if err := json.NewDecoder(body).Decode(&md); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(w, http.StatusRequestEntityTooLarge, errorResponse{Error: "request body too large"})
			return
		}
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid asset metadata: " + err.Error()})
		return
	}
	if md.Asset == nil || md.Asset.Size == nil || md.Asset.Size.Width <= 0 || md.Asset.Size.Height <= 0 {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "asset size with positive width and height is required"})
		return
	}

	img := s.loadImage(r.Context(), md.Asset)
	predicted, err := s.detector.RectanglesForPoints(r.Context(), &md, img)
	if err != nil {
		s.logger.Warnw("prediction failed", "asset", md.Asset.ID, "error", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, types.AssetMetadata{
		Asset:   md.Asset,
		Regions: predicted,
		Version: md.Version,
	})
}

// loadImage returns nil when the asset image is unavailable; prediction then falls back to templates
func (s *Server) loadImage(ctx context.Context, asset *types.Asset) image.Image {
	if !s.loadImages || asset.Path == "" {
		return nil
	}
	img, err := s.processor.LoadAsset(ctx, asset)
	if err != nil {
		s.logger.Debugw("asset image unavailable", "asset", asset.ID, "path", asset.Path, "error", err)
		return nil
	}
	return img
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.logger.Debugw("request", "method", r.Method, "path", r.URL.Path, "status", rec.status, "took", time.Since(start))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
