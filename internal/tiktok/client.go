// Package tiktok adapts the platform's web layer into the three
// operations the retrieval core needs: resolve, probe, download. The
// boundary is treated as untrusted; every call carries a timeout and
// every upstream response is normalized into the core error taxonomy.
package tiktok

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	fhttp "github.com/bogdanfinn/fhttp"
	"github.com/google/uuid"
	"github.com/ttgrab/ttgrab/internal/egress"
	"github.com/ttgrab/ttgrab/internal/retriever"
)

const maxRedirects = 5

// Config wires the adapter to the shared pools.
type Config struct {
	Sessions    *egress.SessionPool
	Gate        *egress.Gate
	CallTimeout time.Duration
}

// Client implements retriever.Extractor against the platform web layer.
type Client struct {
	sessions    *egress.SessionPool
	gate        *egress.Gate
	callTimeout time.Duration
}

// New builds the adapter.
func New(cfg Config) *Client {
	return &Client{
		sessions:    cfg.Sessions,
		gate:        cfg.Gate,
		callTimeout: cfg.CallTimeout,
	}
}

// Resolve classifies a raw link and resolves it to a canonical content
// identifier. Short mobile links cost one redirect round-trip; web links
// resolve without touching the network.
func (c *Client) Resolve(ctx context.Context, id *egress.Identity, raw string) (retriever.Canonical, error) {
	link, class := classifyLink(raw)
	switch class {
	case linkNone:
		return retriever.Canonical{}, retriever.Errf(retriever.ErrURLUnsupported, "no supported link in %q", truncate(raw, 80))

	case linkVideo, linkPhoto:
		cid := contentID(link)
		if cid == "" {
			return retriever.Canonical{}, retriever.Errf(retriever.ErrURLUnsupported, "no content id in %q", link)
		}
		kind := retriever.KindVideo
		if class == linkPhoto {
			kind = retriever.KindSlideshow
		}
		return retriever.Canonical{ID: cid, URL: canonicalURL(cid), Kind: kind}, nil

	case linkMusic:
		m := musicIDRe.FindStringSubmatch(link)
		if m == nil {
			return retriever.Canonical{}, retriever.Errf(retriever.ErrURLUnsupported, "no music id in %q", link)
		}
		return retriever.Canonical{ID: m[1], URL: link, Kind: retriever.KindMusic}, nil

	default: // short mobile link, follow redirects
		final, err := c.followRedirects(ctx, id, link)
		if err != nil {
			return retriever.Canonical{}, err
		}
		cid := contentID(final)
		if cid == "" {
			return retriever.Canonical{}, retriever.Errf(retriever.ErrURLUnsupported, "short link %q resolved to unsupported %q", link, truncate(final, 80))
		}
		kind := retriever.KindVideo
		if strings.Contains(final, "/photo/") {
			kind = retriever.KindSlideshow
		}
		return retriever.Canonical{ID: cid, URL: canonicalURL(cid), Kind: kind}, nil
	}
}

// Probe fetches the canonical page and extracts content metadata plus
// the VideoInfo handle guarding the temp extraction workspace. The
// handle is owned by the caller and must be closed on every path.
func (c *Client) Probe(ctx context.Context, id *egress.Identity, can retriever.Canonical) (*retriever.VideoInfo, error) {
	body, err := c.fetch(ctx, id, can.URL, "")
	if err != nil {
		return nil, err
	}

	data, err := parseHydration(body)
	if err != nil {
		// A page without hydration state is the interstitial the
		// platform serves to clients it distrusts.
		return nil, retriever.WrapErr(retriever.ErrBlocked, err, "content page served without state")
	}

	if can.Kind == retriever.KindMusic && musicPage(data) {
		return c.probeMusicPage(can, data)
	}
	// Video page, possibly probed for its attached sound.
	if err := statusCodeErr(data.DefaultScope.VideoDetail.StatusCode); err != nil {
		return nil, err
	}
	item := &data.DefaultScope.VideoDetail.ItemInfo.ItemStruct

	if item.ID == "" {
		return nil, retriever.Errf(retriever.ErrContentUnavailable, "empty item for content %s", can.ID)
	}

	kind := can.Kind
	if item.ImagePost != nil && kind != retriever.KindMusic {
		kind = retriever.KindSlideshow
	} else if kind == retriever.KindSlideshow && item.ImagePost == nil {
		kind = retriever.KindVideo
	}

	meta, err := metadataFromItem(item, kind)
	if err != nil {
		return nil, err
	}
	return newHandle(meta)
}

// Download fetches the payload the probed metadata points at, through
// the same identity that probed it.
func (c *Client) Download(ctx context.Context, id *egress.Identity, info *retriever.VideoInfo) (*retriever.Payload, error) {
	meta := info.Meta
	switch meta.Kind {
	case retriever.KindSlideshow:
		// Image posts are served by direct CDN URLs; the front end
		// passes them through, so no bytes move here.
		return &retriever.Payload{Kind: retriever.KindSlideshow, Images: meta.ImageURLs}, nil

	case retriever.KindMusic:
		data, err := c.fetchPayload(ctx, id, info, meta.PlayURL, meta.ID+".mp3")
		if err != nil {
			return nil, err
		}
		return &retriever.Payload{Kind: retriever.KindMusic, Bytes: data, FileName: meta.ID + ".mp3"}, nil

	default:
		data, err := c.fetchPayload(ctx, id, info, meta.PlayURL, meta.ID+".mp4")
		if err != nil {
			return nil, err
		}
		return &retriever.Payload{Kind: retriever.KindVideo, Bytes: data, FileName: meta.ID + ".mp4"}, nil
	}
}

// musicPage reports whether the hydration state came from a music page
// rather than a video page probed for its sound.
func musicPage(data *universalData) bool {
	md := data.DefaultScope.MusicDetail
	return md.StatusCode != 0 || md.MusicInfo.Music.PlayURL != ""
}

func (c *Client) probeMusicPage(can retriever.Canonical, data *universalData) (*retriever.VideoInfo, error) {
	if err := statusCodeErr(data.DefaultScope.MusicDetail.StatusCode); err != nil {
		return nil, err
	}
	m := data.DefaultScope.MusicDetail.MusicInfo.Music
	if m.PlayURL == "" {
		return nil, retriever.Errf(retriever.ErrContentUnavailable, "music %s has no play url", can.ID)
	}
	return newHandle(&retriever.Metadata{
		ID:       m.ID,
		Title:    m.Title,
		Author:   m.AuthorName,
		Duration: time.Duration(m.Duration) * time.Second,
		Kind:     retriever.KindMusic,
		PlayURL:  m.PlayURL,
		CoverURL: m.CoverLarge,
	})
}

// newHandle allocates the temp workspace the download stage writes into.
func newHandle(meta *retriever.Metadata) (*retriever.VideoInfo, error) {
	dir, err := os.MkdirTemp("", "ttgrab-")
	if err != nil {
		return nil, retriever.WrapErr(retriever.ErrInternal, err, "create extraction workspace")
	}
	return retriever.NewVideoInfo(meta, dir, func() error {
		return os.RemoveAll(dir)
	}), nil
}

// fetchPayload downloads a binary payload through the workspace file so
// partial fetches never masquerade as complete payloads.
func (c *Client) fetchPayload(ctx context.Context, id *egress.Identity, info *retriever.VideoInfo, payloadURL, name string) ([]byte, error) {
	body, err := c.fetch(ctx, id, payloadURL, canonicalURL(info.Meta.ID))
	if err != nil {
		if retriever.KindOf(err) == retriever.ErrNetwork {
			return nil, retriever.WrapErr(retriever.ErrDownloadFailed, err, "payload fetch")
		}
		return nil, err
	}
	if len(body) == 0 {
		return nil, retriever.Errf(retriever.ErrDownloadFailed, "empty payload for %s", info.Meta.ID)
	}

	// Stage to the workspace so a partial write surfaces here rather
	// than as a corrupt upload later. The workspace is reclaimed when
	// the handle closes.
	path := filepath.Join(info.WorkDir(), uuid.NewString()[:8]+"-"+name)
	if err := os.WriteFile(path, body, 0o600); err != nil {
		return nil, retriever.WrapErr(retriever.ErrInternal, err, "stage payload")
	}
	return body, nil
}

// fetch runs one GET through the worker gate and a pooled session,
// following redirects manually up to maxRedirects.
func (c *Client) fetch(ctx context.Context, id *egress.Identity, rawURL, referer string) ([]byte, error) {
	if err := c.gate.Acquire(ctx); err != nil {
		return nil, err
	}
	defer c.gate.Release()

	sess, err := c.sessions.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	defer c.sessions.Put(sess)

	ctx, cancel := context.WithTimeout(ctx, c.callTimeout)
	defer cancel()

	current := rawURL
	for hop := 0; ; hop++ {
		if err := id.Wait(ctx); err != nil {
			return nil, err
		}
		resp, err := c.get(ctx, sess, current, referer)
		if err != nil {
			sess.MarkBroken()
			return nil, retriever.WrapErr(retriever.ErrNetwork, err, "request failed")
		}
		body, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()

		if loc := resp.Header.Get("Location"); loc != "" && resp.StatusCode >= 300 && resp.StatusCode < 400 {
			if hop >= maxRedirects {
				return nil, retriever.Errf(retriever.ErrNetwork, "stopped after %d redirects from %q", maxRedirects, rawURL)
			}
			next, err := url.Parse(loc)
			if err != nil {
				return nil, retriever.WrapErr(retriever.ErrNetwork, err, "bad redirect location")
			}
			base, _ := url.Parse(current)
			if base != nil {
				next = base.ResolveReference(next)
			}
			current = next.String()
			continue
		}

		if err := classifyStatus(resp.StatusCode, body); err != nil {
			slog.Debug("upstream rejected request",
				slog.String("identity", id.Name),
				slog.Int("status", resp.StatusCode),
			)
			return nil, err
		}
		if readErr != nil {
			sess.MarkBroken()
			return nil, retriever.WrapErr(retriever.ErrNetwork, readErr, "read response body")
		}
		return body, nil
	}
}

func (c *Client) get(ctx context.Context, sess *egress.Session, rawURL, referer string) (*fhttp.Response, error) {
	req, err := fhttp.NewRequestWithContext(ctx, fhttp.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	req.Header.Set("accept", "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,*/*;q=0.8")
	req.Header.Set("accept-language", "en-US,en;q=0.9")
	req.Header.Set("user-agent", sess.Identity.UserAgent)
	if referer != "" {
		req.Header.Set("referer", referer)
	}

	// Browser-like header order matters for fingerprinting.
	req.Header[fhttp.HeaderOrderKey] = []string{
		"accept",
		"accept-language",
		"referer",
		"cookie",
		"user-agent",
	}

	return sess.Do(req)
}

// followRedirects resolves a short link to its final URL without
// fetching the final page.
func (c *Client) followRedirects(ctx context.Context, id *egress.Identity, link string) (string, error) {
	if err := c.gate.Acquire(ctx); err != nil {
		return "", err
	}
	defer c.gate.Release()

	sess, err := c.sessions.Get(ctx, id)
	if err != nil {
		return "", err
	}
	defer c.sessions.Put(sess)

	ctx, cancel := context.WithTimeout(ctx, c.callTimeout)
	defer cancel()

	current := link
	for hop := 0; hop < maxRedirects; hop++ {
		if err := id.Wait(ctx); err != nil {
			return "", err
		}
		resp, err := c.get(ctx, sess, current, "")
		if err != nil {
			sess.MarkBroken()
			return "", retriever.WrapErr(retriever.ErrNetwork, err, "resolve request failed")
		}
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()

		loc := resp.Header.Get("Location")
		if loc == "" || resp.StatusCode < 300 || resp.StatusCode >= 400 {
			if err := classifyStatus(resp.StatusCode, body); err != nil {
				return "", err
			}
			return current, nil
		}
		next, err := url.Parse(loc)
		if err != nil {
			return "", retriever.WrapErr(retriever.ErrNetwork, err, "bad redirect location")
		}
		base, _ := url.Parse(current)
		if base != nil {
			next = base.ResolveReference(next)
		}
		current = next.String()
	}
	return current, nil
}

// classifyStatus separates active anti-automation rejections from
// ordinary failures. 403 and 429 are the platform refusing this client
// or this egress IP; only those justify burning an identity rotation.
func classifyStatus(status int, body []byte) error {
	switch {
	case status == fhttp.StatusOK:
		if isInterstitial(body) {
			return retriever.Errf(retriever.ErrBlocked, "verification interstitial served")
		}
		return nil
	case status == fhttp.StatusForbidden, status == fhttp.StatusTooManyRequests:
		return retriever.Errf(retriever.ErrBlocked, "upstream rejected client (status %d)", status)
	case status == fhttp.StatusNotFound:
		return retriever.Errf(retriever.ErrContentUnavailable, "content not found (status %d)", status)
	case status >= 500:
		return retriever.Errf(retriever.ErrNetwork, "upstream error (status %d)", status)
	default:
		return retriever.Errf(retriever.ErrNetwork, "unexpected status %d", status)
	}
}

var interstitialMarkers = []string{
	"tiktok-verify-page",
	"security-check",
	"captcha",
}

// isInterstitial sniffs HTML responses for verification-page markers.
// Binary payloads are skipped: only documents can be interstitials.
func isInterstitial(body []byte) bool {
	trimmed := bytes.TrimLeft(body, " \t\r\n")
	if len(trimmed) == 0 || trimmed[0] != '<' {
		return false
	}
	if len(trimmed) > 256<<10 {
		trimmed = trimmed[:256<<10]
	}
	s := strings.ToLower(string(trimmed))
	for _, m := range interstitialMarkers {
		if strings.Contains(s, m) {
			return true
		}
	}
	return false
}

func canonicalURL(id string) string {
	return "https://www.tiktok.com/@_/video/" + id
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
