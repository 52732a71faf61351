package egress

import (
	"bufio"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"regexp"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

var (
	// ErrExhausted means every identity is degraded right now.
	ErrExhausted = errors.New("egress pool exhausted: no healthy identity")
)

// PoolConfig controls identity selection and health policy.
type PoolConfig struct {
	ProxyFile      string
	IncludeDirect  bool // add a no-proxy identity to the rotation
	Cooldown       time.Duration
	FailThreshold  int     // consecutive failures before degradation
	RequestsPerSec float64 // per-identity pacing, 0 disables
}

// Pool hands out sticky egress identities. Selection is least recently
// used over healthy identities; a just-rotated-away identity is never
// the immediate next pick while an alternative exists. Identities are
// never removed: degraded ones re-enter rotation after cooldown, since
// blocking is typically a rate-limit window rather than a ban.
type Pool struct {
	cfg PoolConfig

	mu  sync.Mutex
	ids []*Identity
}

var proxyAuthRe = regexp.MustCompile(`^(https?|socks5)://([^:@]+):([^@]+)@(.+)$`)

// encodeProxyAuth URL-encodes credentials embedded in a proxy URL so
// passwords with reserved characters survive the round trip.
func encodeProxyAuth(proxy string) string {
	m := proxyAuthRe.FindStringSubmatch(proxy)
	if m == nil {
		return proxy
	}
	return fmt.Sprintf("%s://%s:%s@%s",
		m[1], url.QueryEscape(m[2]), url.QueryEscape(m[3]), m[4])
}

func identityName(proxy string) string {
	if proxy == "" {
		return "direct"
	}
	if u, err := url.Parse(proxy); err == nil && u.Host != "" {
		return u.Host
	}
	return proxy
}

// NewPool loads the proxy list (one URL per line, # comments and blank
// lines ignored) and builds the identity set. With no usable proxies the
// pool falls back to a single direct identity.
func NewPool(cfg PoolConfig) (*Pool, error) {
	p := &Pool{cfg: cfg}

	var proxies []string
	if cfg.ProxyFile != "" {
		f, err := os.Open(cfg.ProxyFile)
		if err != nil {
			return nil, fmt.Errorf("open proxy file: %w", err)
		}
		defer f.Close()
		sc := bufio.NewScanner(f)
		for sc.Scan() {
			line := strings.TrimSpace(sc.Text())
			if line == "" || strings.HasPrefix(line, "#") {
				continue
			}
			proxies = append(proxies, encodeProxyAuth(line))
		}
		if err := sc.Err(); err != nil {
			return nil, fmt.Errorf("read proxy file: %w", err)
		}
	}

	for i, proxy := range proxies {
		p.ids = append(p.ids, newIdentity(proxy, i, cfg.RequestsPerSec))
	}
	if cfg.IncludeDirect || len(p.ids) == 0 {
		p.ids = append(p.ids, newIdentity("", len(p.ids), cfg.RequestsPerSec))
	}

	slog.Info("egress pool loaded",
		slog.Int("identities", len(p.ids)),
		slog.Bool("direct", cfg.IncludeDirect || len(proxies) == 0),
	)
	return p, nil
}

func newIdentity(proxy string, i int, rps float64) *Identity {
	fp := fingerprints[i%len(fingerprints)]
	id := &Identity{
		Name:      identityName(proxy),
		ProxyURL:  proxy,
		Profile:   fp.profile,
		UserAgent: fp.userAgent,
	}
	if rps > 0 {
		id.limiter = rate.NewLimiter(rate.Limit(rps), 1)
	}
	return id
}

// Len returns the total number of identities.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.ids)
}

// Acquire returns the least recently used healthy identity and marks it
// used. Fails with ErrExhausted when every identity is on cooldown.
func (p *Pool) Acquire() (*Identity, error) {
	return p.pick(nil)
}

// Rotate degrades current for the configured cooldown and returns a
// different healthy identity. The degraded identity cannot be the
// immediate next pick because the cooldown excludes it.
func (p *Pool) Rotate(current *Identity) (*Identity, error) {
	current.degrade(p.cfg.Cooldown, time.Now())
	slog.Debug("egress identity rotated away",
		slog.String("identity", current.Name),
		slog.Duration("cooldown", p.cfg.Cooldown),
	)
	next, err := p.pick(current)
	if err != nil {
		return nil, err
	}
	return next, nil
}

// ReportHealth records a request outcome against an identity. Repeated
// failures flip it to degraded; any success clears the streak.
func (p *Pool) ReportHealth(id *Identity, ok bool) {
	if id.report(ok, p.cfg.FailThreshold, p.cfg.Cooldown, time.Now()) {
		slog.Warn("egress identity degraded",
			slog.String("identity", id.Name),
			slog.Duration("cooldown", p.cfg.Cooldown),
		)
	}
}

func (p *Pool) pick(exclude *Identity) (*Identity, error) {
	now := time.Now()
	p.mu.Lock()
	defer p.mu.Unlock()

	var best *Identity
	for _, id := range p.ids {
		if id == exclude || !id.healthyAt(now) {
			continue
		}
		if best == nil || id.lastUsed().Before(best.lastUsed()) {
			best = id
		}
	}
	if best == nil {
		return nil, ErrExhausted
	}
	best.touch(now)
	return best, nil
}
