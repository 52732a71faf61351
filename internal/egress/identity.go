// Package egress manages outbound network identities: proxy endpoints
// paired with fixed browser fingerprints, the bounded session pools built
// on top of them, and the worker gate bounding blocking extraction calls.
package egress

import (
	"context"
	"sync"
	"time"

	"github.com/bogdanfinn/tls-client/profiles"
	"golang.org/x/time/rate"
)

// Identity is one egress endpoint: a proxy URL (empty for a direct
// connection) plus a fixed TLS fingerprint profile. Health state is
// mutated concurrently by pipelines reporting outcomes; everything else
// is immutable after construction.
type Identity struct {
	Name      string
	ProxyURL  string
	Profile   profiles.ClientProfile
	UserAgent string

	limiter *rate.Limiter

	mu            sync.Mutex
	failStreak    int
	degradedUntil time.Time
	lastUse       time.Time
}

// fingerprints assigned round-robin across identities, so each proxy
// presents one consistent client. The User-Agent must agree with the TLS
// profile or the inconsistency itself trips fingerprint checks.
var fingerprints = []struct {
	profile   profiles.ClientProfile
	userAgent string
}{
	{
		profiles.Chrome_131,
		"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36",
	},
	{
		profiles.Firefox_117,
		"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:117.0) Gecko/20100101 Firefox/117.0",
	},
	{
		profiles.Safari_16_0,
		"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/16.0 Safari/605.1.15",
	},
}

// Wait blocks until the identity's rate limiter allows another request.
func (id *Identity) Wait(ctx context.Context) error {
	if id.limiter == nil {
		return nil
	}
	return id.limiter.Wait(ctx)
}

// Direct reports whether this identity connects without a proxy.
func (id *Identity) Direct() bool { return id.ProxyURL == "" }

func (id *Identity) healthyAt(now time.Time) bool {
	id.mu.Lock()
	defer id.mu.Unlock()
	return !now.Before(id.degradedUntil)
}

func (id *Identity) touch(now time.Time) {
	id.mu.Lock()
	id.lastUse = now
	id.mu.Unlock()
}

func (id *Identity) lastUsed() time.Time {
	id.mu.Lock()
	defer id.mu.Unlock()
	return id.lastUse
}

// degrade puts the identity on cooldown and resets its streak; it
// re-enters rotation once the cooldown elapses.
func (id *Identity) degrade(cooldown time.Duration, now time.Time) {
	id.mu.Lock()
	id.failStreak = 0
	id.degradedUntil = now.Add(cooldown)
	id.mu.Unlock()
}

// report records one request outcome. Returns true when the failure
// streak crossed the threshold and the identity was degraded.
func (id *Identity) report(ok bool, threshold int, cooldown time.Duration, now time.Time) bool {
	id.mu.Lock()
	defer id.mu.Unlock()
	if ok {
		id.failStreak = 0
		id.degradedUntil = time.Time{}
		return false
	}
	id.failStreak++
	if id.failStreak >= threshold {
		id.failStreak = 0
		id.degradedUntil = now.Add(cooldown)
		return true
	}
	return false
}
