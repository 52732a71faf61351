package egress

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	fhttp "github.com/bogdanfinn/fhttp"
	tls_client "github.com/bogdanfinn/tls-client"
)

// ErrAcquireTimeout means a session pool stayed saturated past the
// configured wait.
var ErrAcquireTimeout = errors.New("session pool acquire timeout")

// Session is one reusable network session bound to an identity: the TLS
// fingerprint and proxy are fixed at construction so all requests through
// it present a consistent client.
type Session struct {
	Identity *Identity

	client tls_client.HttpClient
	broken bool
}

// Do executes a request with the session's fingerprint and proxy.
func (s *Session) Do(req *fhttp.Request) (*fhttp.Response, error) {
	return s.client.Do(req)
}

// MarkBroken flags the session for discard instead of reuse.
func (s *Session) MarkBroken() { s.broken = true }

// SessionPool keeps a bounded free list of sessions per identity, so one
// proxy can never open unbounded sockets. Get blocks cooperatively up to
// the acquire timeout.
type SessionPool struct {
	perIdentity    int
	acquireTimeout time.Duration
	requestTimeout time.Duration

	mu    sync.Mutex
	slots map[string]chan *Session
}

// NewSessionPool builds the pool. perIdentity bounds concurrent sessions
// for one identity; requestTimeout is the per-call network timeout every
// session is constructed with.
func NewSessionPool(perIdentity int, acquireTimeout, requestTimeout time.Duration) *SessionPool {
	if perIdentity <= 0 {
		perIdentity = 2
	}
	return &SessionPool{
		perIdentity:    perIdentity,
		acquireTimeout: acquireTimeout,
		requestTimeout: requestTimeout,
		slots:          make(map[string]chan *Session),
	}
}

func (sp *SessionPool) bucket(id *Identity) chan *Session {
	sp.mu.Lock()
	defer sp.mu.Unlock()
	ch, ok := sp.slots[id.Name]
	if !ok {
		ch = make(chan *Session, sp.perIdentity)
		for i := 0; i < sp.perIdentity; i++ {
			ch <- nil // empty slot, session built on first use
		}
		sp.slots[id.Name] = ch
	}
	return ch
}

// Get acquires a session for the identity, constructing one lazily when
// the slot is empty. Blocks up to the acquire timeout, then fails with
// ErrAcquireTimeout.
func (sp *SessionPool) Get(ctx context.Context, id *Identity) (*Session, error) {
	ch := sp.bucket(id)

	timer := time.NewTimer(sp.acquireTimeout)
	defer timer.Stop()

	select {
	case s := <-ch:
		if s != nil {
			return s, nil
		}
		s, err := sp.newSession(id)
		if err != nil {
			ch <- nil // hand the slot back
			return nil, err
		}
		return s, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
		return nil, ErrAcquireTimeout
	}
}

// Put returns a session to its identity's free list. Broken sessions are
// discarded and their slot re-opened for a fresh one.
func (sp *SessionPool) Put(s *Session) {
	ch := sp.bucket(s.Identity)
	if s.broken {
		slog.Debug("discarding broken session", slog.String("identity", s.Identity.Name))
		ch <- nil
		return
	}
	ch <- s
}

// timeoutSeconds converts the request timeout for the client option,
// which only takes whole seconds. Sub-second values round up to one
// rather than truncating to the library's no-timeout zero.
func (sp *SessionPool) timeoutSeconds() int {
	secs := int(sp.requestTimeout.Seconds())
	if secs < 1 {
		return 1
	}
	return secs
}

func (sp *SessionPool) newSession(id *Identity) (*Session, error) {
	jar := tls_client.NewCookieJar()
	opts := []tls_client.HttpClientOption{
		tls_client.WithTimeoutSeconds(sp.timeoutSeconds()),
		tls_client.WithClientProfile(id.Profile),
		tls_client.WithNotFollowRedirects(),
		tls_client.WithCookieJar(jar),
	}
	if !id.Direct() {
		opts = append(opts, tls_client.WithProxyUrl(id.ProxyURL))
	}
	client, err := tls_client.NewHttpClient(nil, opts...)
	if err != nil {
		return nil, fmt.Errorf("tls-client init for %s: %w", id.Name, err)
	}
	return &Session{Identity: id, client: client}, nil
}
