package retriever

import (
	"fmt"
	"sync"
	"time"
)

// ContentKind identifies what a link points at. Probing may refine the
// kind the caller hinted (a /photo/ link can still be a plain video).
type ContentKind int

const (
	KindUnknown ContentKind = iota
	KindVideo
	KindSlideshow
	KindMusic
)

func (k ContentKind) String() string {
	switch k {
	case KindVideo:
		return "video"
	case KindSlideshow:
		return "slideshow"
	case KindMusic:
		return "music"
	default:
		return "unknown"
	}
}

// Stage is one of the three pipeline stages, plus the admission step for
// outcome reporting.
type Stage int

const (
	StageAdmit Stage = iota
	StageResolve
	StageProbe
	StageDownload
)

func (s Stage) String() string {
	switch s {
	case StageAdmit:
		return "admit"
	case StageResolve:
		return "resolve"
	case StageProbe:
		return "probe"
	case StageDownload:
		return "download"
	default:
		return "unknown"
	}
}

// Request is the immutable input for one retrieval pipeline.
type Request struct {
	URL    string
	UserID int64
	Hint   ContentKind
}

// Canonical is the stage-1 result: a canonical content identifier.
type Canonical struct {
	ID   string      `json:"id"`
	URL  string      `json:"url"`
	Kind ContentKind `json:"kind"`
}

// Metadata is the stage-2 result. Read-only after probing; stage 3
// references it, never copies it.
type Metadata struct {
	ID        string
	Title     string
	Author    string
	Duration  time.Duration
	Kind      ContentKind
	PlayURL   string
	CoverURL  string
	Width     int
	Height    int
	ImageURLs []string
}

// VideoInfo wraps probed metadata plus whatever native state the adapter
// allocated to obtain it (temp extraction workspace). It is owned by the
// pipeline that created it and must be released exactly once; Close is
// idempotent so every exit path can call it unconditionally.
type VideoInfo struct {
	Meta *Metadata

	workDir string
	release func() error
	once    sync.Once
}

// NewVideoInfo builds a handle. release may be nil when no native
// resources were allocated.
func NewVideoInfo(meta *Metadata, workDir string, release func() error) *VideoInfo {
	return &VideoInfo{Meta: meta, workDir: workDir, release: release}
}

// WorkDir is the scratch directory allocated at probe time. Valid until
// Close.
func (v *VideoInfo) WorkDir() string { return v.workDir }

// Close releases native resources. Safe to call more than once; only the
// first call runs the release hook.
func (v *VideoInfo) Close() error {
	var err error
	v.once.Do(func() {
		if v.release != nil {
			err = v.release()
		}
	})
	return err
}

// Payload is the stage-3 result.
type Payload struct {
	Kind     ContentKind
	Bytes    []byte
	Images   []string
	FileName string
}

// OutcomeStatus tags the terminal result of a pipeline.
type OutcomeStatus int

const (
	StatusSuccess OutcomeStatus = iota
	StatusFailed
	StatusCancelled
)

func (s OutcomeStatus) String() string {
	switch s {
	case StatusSuccess:
		return "success"
	case StatusFailed:
		return "failed"
	case StatusCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Outcome is the single terminal result returned to the caller. It is
// never mutated after being returned.
type Outcome struct {
	Status    OutcomeStatus
	Payload   *Payload
	Meta      *Metadata
	Stage     Stage
	Kind      ErrKind
	Retriable bool
	Err       error
}

func success(p *Payload, m *Metadata) Outcome {
	return Outcome{Status: StatusSuccess, Payload: p, Meta: m, Stage: StageDownload}
}

func failed(stage Stage, kind ErrKind, err error) Outcome {
	return Outcome{Status: StatusFailed, Stage: stage, Kind: kind, Retriable: false, Err: err}
}

func cancelled(stage Stage) Outcome {
	return Outcome{Status: StatusCancelled, Stage: stage}
}

// Event is the outcome record emitted to the persistence collaborator.
type Event struct {
	UserID      int64
	CanonicalID string
	Status      OutcomeStatus
	Stage       Stage
	Kind        ErrKind
	Duration    time.Duration
}

func (e Event) String() string {
	return fmt.Sprintf("user=%d id=%q status=%s stage=%s kind=%s dur=%s",
		e.UserID, e.CanonicalID, e.Status, e.Stage, e.Kind, e.Duration)
}
