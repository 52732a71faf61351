package retriever

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/ttgrab/ttgrab/internal/egress"
)

// pipeline drives one request through resolve → probe → download. The
// identity field is the sticky session: one egress identity bound for
// the whole pipeline, rebound only by a rotation event, so all three
// stages present a consistent client to the upstream.
type pipeline struct {
	svc       *Service
	req       Request
	identity  *identityBinding
	canonical Canonical
	stage     Stage
}

// identityBinding is the sticky session record.
type identityBinding struct {
	current *egress.Identity
}

func (p *pipeline) run(ctx context.Context) (out Outcome) {
	// Unexpected internal faults stop at the pipeline boundary and
	// come back classified, never re-raised.
	defer func() {
		if r := recover(); r != nil {
			slog.Error("pipeline panic",
				slog.Int64("user", p.req.UserID),
				slog.String("stage", p.stage.String()),
				slog.Any("panic", r),
			)
			out = failed(p.stage, ErrInternal, fmt.Errorf("internal fault: %v", r))
		}
	}()

	p.stage = StageResolve
	id, err := p.svc.pool.Acquire()
	if err != nil {
		metrics.PoolExhausted.Add(1)
		return failed(p.stage, ErrPoolExhausted, err)
	}
	p.identity = &identityBinding{current: id}

	// Stage 1: resolve, memoized across requests since short links are
	// widely re-shared.
	if can, ok := p.svc.cacheGet(ctx, p.req.URL); ok {
		p.canonical = can
	} else {
		fail := p.runStage(ctx, p.svc.cfg.ResolveAttempts, func(ctx context.Context) error {
			can, err := p.svc.ext.Resolve(ctx, p.identity.current, p.req.URL)
			if err != nil {
				return err
			}
			p.canonical = can
			return nil
		})
		if fail != nil {
			return *fail
		}
		metrics.Resolves.Add(1)
		p.svc.cacheSet(ctx, p.req.URL, p.canonical)
	}
	if p.req.Hint == KindMusic {
		p.canonical.Kind = KindMusic
	}

	// Stage 2: probe. The handle owns native extraction state and is
	// released before any terminal state leaves this function.
	p.stage = StageProbe
	var info *VideoInfo
	defer func() {
		if info != nil {
			if cerr := info.Close(); cerr != nil {
				slog.Warn("video info release failed", slog.Any("error", cerr))
			}
		}
	}()
	fail := p.runStage(ctx, p.svc.cfg.ProbeAttempts, func(ctx context.Context) error {
		vi, err := p.svc.ext.Probe(ctx, p.identity.current, p.canonical)
		if err != nil {
			return err
		}
		info = vi
		return nil
	})
	if fail != nil {
		return *fail
	}
	metrics.Probes.Add(1)

	// Stage 3: download references the probed metadata, it never
	// re-runs earlier stages.
	p.stage = StageDownload
	var payload *Payload
	fail = p.runStage(ctx, p.svc.cfg.DownloadAttempts, func(ctx context.Context) error {
		pl, err := p.svc.ext.Download(ctx, p.identity.current, info)
		if err != nil {
			return err
		}
		payload = pl
		return nil
	})
	if fail != nil {
		return *fail
	}
	metrics.Downloads.Add(1)

	return success(payload, info.Meta)
}

// runStage retries one stage to its attempt budget. Transient network
// failures retry on the same identity; exhausting the budget escalates
// to a single rotation with a counter reset; a Blocked response spends
// that rotation immediately. At most one rotation per stage.
func (p *pipeline) runStage(ctx context.Context, budget int, op func(context.Context) error) *Outcome {
	if budget <= 0 {
		budget = 1
	}
	stageCtx, cancel := context.WithTimeout(ctx, p.svc.cfg.StageTimeout)
	defer cancel()

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = p.svc.cfg.RetryInitialWait
	bo.MaxInterval = p.svc.cfg.RetryMaxWait

	attempt := 0
	rotated := false

	for {
		if err := ctx.Err(); err != nil {
			return p.interrupted(err)
		}
		if stageCtx.Err() != nil {
			return p.fail(ErrNetwork, fmt.Errorf("stage %s timed out", p.stage))
		}

		err := op(stageCtx)
		if err == nil {
			p.svc.pool.ReportHealth(p.identity.current, true)
			return nil
		}
		// A dead parent context can surface as the attempt's error (the
		// adapter returns ctx.Err() from a pool wait or an in-flight
		// call) before the top-of-loop check sees it. Classify it as an
		// interruption, never as a stage failure.
		if perr := ctx.Err(); perr != nil {
			return p.interrupted(perr)
		}

		kind := KindOf(err)
		slog.Debug("stage attempt failed",
			slog.String("stage", p.stage.String()),
			slog.String("kind", kind.String()),
			slog.String("identity", p.identity.current.Name),
			slog.Int("attempt", attempt+1),
		)

		switch {
		case kind.Permanent():
			// Content-level: no retry can change the answer.
			return p.fail(kind, err)

		case kind == ErrPoolExhausted:
			metrics.PoolExhausted.Add(1)
			return p.fail(kind, err)

		case kind == ErrResourceTimeout, kind == ErrInternal:
			return p.fail(kind, err)

		case kind == ErrBlocked:
			metrics.BlockedResponses.Add(1)
			p.svc.pool.ReportHealth(p.identity.current, false)
			if !rotated {
				if !p.rotate() {
					return p.fail(ErrPoolExhausted, err)
				}
				rotated = true
				attempt = 0
				bo.Reset()
				continue // fresh identity, no wait
			}
			attempt++
			if attempt >= budget {
				return p.fail(ErrBlocked, err)
			}

		default: // ErrNetwork, ErrDownloadFailed: transient, same identity
			p.svc.pool.ReportHealth(p.identity.current, false)
			attempt++
			if attempt >= budget {
				if !rotated {
					if !p.rotate() {
						return p.fail(ErrPoolExhausted, err)
					}
					rotated = true
					attempt = 0
					bo.Reset()
					continue
				}
				return p.fail(kind, err)
			}
		}

		// Retry-wait point; cancellation is observed here as well as
		// at attempt boundaries.
		select {
		case <-time.After(bo.NextBackOff()):
		case <-stageCtx.Done():
			// Resolved at the top of the next iteration: caller
			// cancellation, pipeline deadline, or stage timeout.
		}
	}
}

// rotate rebinds the sticky session to a different healthy identity.
func (p *pipeline) rotate() bool {
	next, err := p.svc.pool.Rotate(p.identity.current)
	if err != nil {
		return false
	}
	metrics.Rotations.Add(1)
	slog.Info("rotated egress identity",
		slog.String("from", p.identity.current.Name),
		slog.String("to", next.Name),
		slog.String("stage", p.stage.String()),
	)
	p.identity.current = next
	return true
}

func (p *pipeline) fail(kind ErrKind, err error) *Outcome {
	o := failed(p.stage, kind, err)
	return &o
}

// interrupted maps a dead parent context to its terminal outcome: the
// pipeline deadline is a classified failure, a caller cancel is
// Cancelled.
func (p *pipeline) interrupted(err error) *Outcome {
	if errors.Is(err, context.DeadlineExceeded) {
		o := failed(p.stage, ErrNetwork, fmt.Errorf("pipeline deadline exceeded in stage %s", p.stage))
		return &o
	}
	o := cancelled(p.stage)
	return &o
}
