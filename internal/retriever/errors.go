package retriever

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/ttgrab/ttgrab/internal/egress"
)

// ErrKind classifies a pipeline failure. The distinction that matters for
// policy: ErrNetwork retries on the same identity, ErrBlocked retries only
// after rotation, the content-level kinds never retry.
type ErrKind int

const (
	ErrNone ErrKind = iota
	ErrNetwork
	ErrBlocked
	ErrContentUnavailable
	ErrURLUnsupported
	ErrUnsupportedKind
	ErrDownloadFailed
	ErrResourceTimeout
	ErrPoolExhausted
	ErrInternal
)

func (k ErrKind) String() string {
	switch k {
	case ErrNone:
		return "none"
	case ErrNetwork:
		return "network_error"
	case ErrBlocked:
		return "blocked"
	case ErrContentUnavailable:
		return "content_unavailable"
	case ErrURLUnsupported:
		return "url_unsupported"
	case ErrUnsupportedKind:
		return "unsupported_content_kind"
	case ErrDownloadFailed:
		return "download_failed"
	case ErrResourceTimeout:
		return "resource_timeout"
	case ErrPoolExhausted:
		return "pool_exhausted"
	case ErrInternal:
		return "internal_fault"
	default:
		return "unknown"
	}
}

// Permanent reports whether the kind is a content-level failure that no
// amount of retrying or rotating can fix.
func (k ErrKind) Permanent() bool {
	switch k {
	case ErrContentUnavailable, ErrURLUnsupported, ErrUnsupportedKind:
		return true
	}
	return false
}

// PipelineError carries a kind through the adapter boundary.
type PipelineError struct {
	Kind ErrKind
	Msg  string
	Err  error
}

func (e *PipelineError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *PipelineError) Unwrap() error { return e.Err }

// Errf builds a PipelineError.
func Errf(kind ErrKind, format string, args ...any) *PipelineError {
	return &PipelineError{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// WrapErr attaches a kind to an underlying error.
func WrapErr(kind ErrKind, err error, msg string) *PipelineError {
	return &PipelineError{Kind: kind, Msg: msg, Err: err}
}

// KindOf resolves any error coming out of the adapter or the pools into
// exactly one kind.
func KindOf(err error) ErrKind {
	if err == nil {
		return ErrNone
	}

	var pe *PipelineError
	if errors.As(err, &pe) {
		return pe.Kind
	}

	switch {
	case errors.Is(err, egress.ErrExhausted):
		return ErrPoolExhausted
	case errors.Is(err, egress.ErrAcquireTimeout), errors.Is(err, egress.ErrGateTimeout):
		return ErrResourceTimeout
	case errors.Is(err, context.DeadlineExceeded):
		return ErrNetwork
	}

	// Connection-level failures: dial errors, DNS, timeouts.
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return ErrNetwork
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return ErrNetwork
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ErrNetwork
	}

	return ErrInternal
}
