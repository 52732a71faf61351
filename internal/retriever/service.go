// Package retriever implements the three-stage retrieval pipeline:
// resolve a raw link to a canonical content id, probe it for metadata,
// download the payload. Pipelines hold one sticky egress identity across
// all stages, rotating only on an active block, and release the probed
// video-info resource on every exit path.
package retriever

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/ttgrab/ttgrab/internal/admission"
	"github.com/ttgrab/ttgrab/internal/cache"
	"github.com/ttgrab/ttgrab/internal/egress"
)

// Extractor is the boundary to the external extraction layer. The core
// treats it as untrusted: every error it returns is classified, every
// call it makes is bounded by the caller's context.
type Extractor interface {
	Resolve(ctx context.Context, id *egress.Identity, url string) (Canonical, error)
	Probe(ctx context.Context, id *egress.Identity, can Canonical) (*VideoInfo, error)
	Download(ctx context.Context, id *egress.Identity, info *VideoInfo) (*Payload, error)
}

// Config holds the retry and timeout policy, read once at startup.
type Config struct {
	ResolveAttempts  int
	ProbeAttempts    int
	DownloadAttempts int

	StageTimeout    time.Duration // aggregate of one stage's retries
	PipelineTimeout time.Duration // absolute wall-clock deadline per request

	RetryInitialWait time.Duration
	RetryMaxWait     time.Duration

	EventBuffer int
}

// Service runs retrieval pipelines under admission control.
type Service struct {
	cfg    Config
	pool   *egress.Pool
	adm    *admission.Controller
	ext    Extractor
	rcache *cache.Cache // resolve cache, may be nil
	events chan Event
}

// New wires the service. Pools and controller are constructed once at
// startup and shared by reference.
func New(cfg Config, pool *egress.Pool, adm *admission.Controller, ext Extractor, resolveCache *cache.Cache) *Service {
	if cfg.EventBuffer <= 0 {
		cfg.EventBuffer = 256
	}
	return &Service{
		cfg:    cfg,
		pool:   pool,
		adm:    adm,
		ext:    ext,
		rcache: resolveCache,
		events: make(chan Event, cfg.EventBuffer),
	}
}

// Events exposes the outcome stream for the persistence collaborator.
// Emission never blocks the pipeline; a slow consumer drops events.
func (s *Service) Events() <-chan Event { return s.events }

// QueueLoad reports how many requests a user has waiting for admission.
func (s *Service) QueueLoad(user int64) int { return s.adm.QueuedFor(user) }

// Retrieve runs one pipeline to a terminal outcome. It never returns an
// error: every failure mode is a classified Outcome.
func (s *Service) Retrieve(ctx context.Context, req Request) Outcome {
	start := time.Now()
	metrics.Pipelines.Add(1)

	if err := s.adm.Admit(ctx, req.UserID); err != nil {
		var out Outcome
		if errors.Is(err, admission.ErrQueueFull) {
			metrics.QueueRejections.Add(1)
			out = failed(StageAdmit, ErrResourceTimeout, err)
		} else {
			out = cancelled(StageAdmit)
		}
		s.emit(req, "", out, start)
		return out
	}
	defer s.adm.Release(req.UserID)

	// The pipeline deadline is absolute: stage retries spend it, they
	// never extend it.
	ctx, cancel := context.WithTimeout(ctx, s.cfg.PipelineTimeout)
	defer cancel()

	p := &pipeline{svc: s, req: req}
	out := p.run(ctx)
	s.emit(req, p.canonical.ID, out, start)
	return out
}

func (s *Service) emit(req Request, canonicalID string, out Outcome, start time.Time) {
	ev := Event{
		UserID:      req.UserID,
		CanonicalID: canonicalID,
		Status:      out.Status,
		Stage:       out.Stage,
		Kind:        out.Kind,
		Duration:    time.Since(start),
	}
	select {
	case s.events <- ev:
	default:
		metrics.EventsDropped.Add(1)
	}
}

func (s *Service) cacheGet(ctx context.Context, rawURL string) (Canonical, bool) {
	if s.rcache == nil {
		return Canonical{}, false
	}
	data, ok := s.rcache.Get(ctx, cache.Key("resolve", rawURL))
	if !ok {
		metrics.CacheMisses.Add(1)
		return Canonical{}, false
	}
	var can Canonical
	if err := json.Unmarshal(data, &can); err != nil {
		metrics.CacheMisses.Add(1)
		return Canonical{}, false
	}
	metrics.CacheHits.Add(1)
	return can, true
}

func (s *Service) cacheSet(ctx context.Context, rawURL string, can Canonical) {
	if s.rcache == nil {
		return
	}
	data, err := json.Marshal(can)
	if err != nil {
		return
	}
	s.rcache.Set(ctx, cache.Key("resolve", rawURL), data)
}

// LogMetrics dumps the core counters at debug cadence; main wires this
// to a ticker.
func LogMetrics() {
	slog.Info("retriever metrics", slog.String("counters", FormatMetrics()))
}
