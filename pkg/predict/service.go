// Package predict merges regions proposed by a remote point-to-rectangle endpoint into asset
// metadata.
//
// Callers usually run EnsureConnected once and then Process per asset. Process never fails: a
// broken endpoint degrades to "no new regions". ProcessResult runs the same computation and also
// reports what went wrong, so a caller can warn the user instead.
package predict

import (
	"context"
	"net/http"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/atomic"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/menta2k/pointrect/pkg/client"
	"github.com/menta2k/pointrect/pkg/merge"
	"github.com/menta2k/pointrect/pkg/remote"
	"github.com/menta2k/pointrect/pkg/types"
)

// DefaultProbeTimeout bounds a connectivity probe.
const DefaultProbeTimeout = 30 * time.Second

// Outcome classifies a ProcessResult.
type Outcome int

const (
	// Success means the endpoint answered and its regions were merged.
	Success Outcome = iota
	// Skipped means the asset had no size and was returned untouched.
	Skipped
	// ConnectivityError means the endpoint could not be reached.
	ConnectivityError
	// ProcessingError means the endpoint answered with an error or an unreadable body.
	ProcessingError
)

func (o Outcome) String() string {
	switch o {
	case Success:
		return "success"
	case Skipped:
		return "skipped"
	case ConnectivityError:
		return "connectivity-error"
	case ProcessingError:
		return "processing-error"
	}
	return "unknown"
}

// Result is the outcome of processing one asset.
type Result struct {
	Metadata *types.AssetMetadata
	Outcome  Outcome
	Err      error
}

// Failed reports whether the endpoint call failed.
func (r Result) Failed() bool {
	return r.Outcome == ConnectivityError || r.Outcome == ProcessingError
}

// Service merges remote predictions into asset metadata.
type Service struct {
	predictor client.Predictor
	matcher   merge.Matcher
	logger    *zap.SugaredLogger
	clock     clock.Clock
	ttl       time.Duration

	probeTimeout time.Duration

	connected *atomic.Bool
	checkedAt *atomic.Int64
	probes    singleflight.Group
}

// Option customizes a Service.
type Option func(*Service)

// WithMatcher sets the duplicate detection policy. The default is merge.Exact.
func WithMatcher(m merge.Matcher) Option {
	return func(s *Service) {
		if m != nil {
			s.matcher = m
		}
	}
}

// WithLogger sets the logger used for swallowed failures.
func WithLogger(l *zap.SugaredLogger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithConnectionTTL makes EnsureConnected re-probe once the cached state is older than d.
// Zero keeps the state until the next failed probe.
func WithConnectionTTL(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.ttl = d
		}
	}
}

// WithProbeTimeout bounds a shared connectivity probe. The default is DefaultProbeTimeout.
func WithProbeTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.probeTimeout = d
		}
	}
}

// WithClock replaces the wall clock, for tests.
func WithClock(c clock.Clock) Option {
	return func(s *Service) {
		if c != nil {
			s.clock = c
		}
	}
}

// New creates a Service backed by predictor.
func New(predictor client.Predictor, opts ...Option) *Service {
	s := &Service{
		predictor:    predictor,
		matcher:      merge.Exact,
		logger:       zap.NewNop().Sugar(),
		clock:        clock.New(),
		probeTimeout: DefaultProbeTimeout,
		connected:    atomic.NewBool(false),
		checkedAt:    atomic.NewInt64(0),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// IsConnected returns the cached connectivity state.
func (s *Service) IsConnected() bool {
	return s.connected.Load()
}

// EnsureConnected probes the endpoint unless a fresh successful probe is cached. Failures only
// clear the connected flag. Concurrent callers share one probe, which runs detached from any
// single caller's context and is bounded by the probe timeout. A caller whose context ends first
// returns early and leaves the state to the probe.
func (s *Service) EnsureConnected(ctx context.Context) {
	if s.connected.Load() && !s.stale() {
		return
	}
	ch := s.probes.DoChan("probe", func() (interface{}, error) {
		pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.probeTimeout)
		defer cancel()
		status, err := s.predictor.Probe(pctx)
		ok := err == nil && status == http.StatusOK
		s.connected.Store(ok)
		s.checkedAt.Store(s.clock.Now().UnixNano())
		switch {
		case err != nil:
			s.logger.Debugw("endpoint probe failed", "error", err)
		case !ok:
			s.logger.Debugw("endpoint probe rejected", "status", status)
		}
		return ok, nil
	})
	select {
	case <-ch:
	case <-ctx.Done():
	}
}

func (s *Service) stale() bool {
	if s.ttl <= 0 {
		return false
	}
	last := time.Unix(0, s.checkedAt.Load())
	return s.clock.Now().Sub(last) >= s.ttl
}

// Process returns a copy of md with predicted regions merged in, its state recomputed and its
// predicted flag set. Assets without a size are returned as is. Endpoint failures are logged and
// treated as an empty prediction.
func (s *Service) Process(ctx context.Context, md *types.AssetMetadata) *types.AssetMetadata {
	return s.ProcessResult(ctx, md).Metadata
}

// ProcessResult is Process with the endpoint outcome exposed.
func (s *Service) ProcessResult(ctx context.Context, md *types.AssetMetadata) Result {
	if md == nil || md.Asset == nil || md.Asset.Size == nil {
		return Result{Metadata: md, Outcome: Skipped}
	}

	res := Result{Outcome: Success}
	var predicted []types.Region
	out, err := s.predictor.Submit(ctx, md)
	if err != nil {
		res.Err = err
		res.Outcome = classify(err)
		s.logger.Warnw("prediction failed, keeping existing regions",
			"asset", md.Asset.ID, "outcome", res.Outcome.String(), "error", err)
	} else if out != nil {
		predicted = out.Regions
	}

	res.Metadata = s.apply(md, predicted)
	return res
}

func (s *Service) apply(md *types.AssetMetadata, predicted []types.Region) *types.AssetMetadata {
	out := md.Clone()
	out.Regions = merge.Regions(md.Regions, predicted, s.matcher)
	if len(out.Regions) > 0 {
		out.Asset.State = types.Tagged
	} else {
		out.Asset.State = types.Visited
	}
	out.Asset.Predicted = true
	return out
}

// ProcessAll processes every asset with at most concurrency requests in flight. Results are in
// input order.
func (s *Service) ProcessAll(ctx context.Context, mds []*types.AssetMetadata, concurrency int) []Result {
	results := make([]Result, len(mds))
	g, gctx := errgroup.WithContext(ctx)
	if concurrency > 0 {
		g.SetLimit(concurrency)
	}
	for i, md := range mds {
		g.Go(func() error {
			results[i] = s.ProcessResult(gctx, md)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func classify(err error) Outcome {
	if remote.IsTransport(err) {
		return ConnectivityError
	}
	return ProcessingError
}
