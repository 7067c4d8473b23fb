// Package cache implements the resource cache manager: per-class fetch
// strategies over named cache generations.
//
// The contract every strategy honors: interception must never surface an
// error. All failures are absorbed and translated into fallback responses;
// diagnostics go to the logger only.
package cache

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"golang.org/x/sync/singleflight"

	"github.com/wingmanhq/offline-sync/internal/clock"
	"github.com/wingmanhq/offline-sync/internal/storage"
)

//go:embed schema.sql
var schemaSQL string

// Config names the current generations and the fallback resources.
type Config struct {
	// StaticGeneration and RuntimeGeneration are the two current cache
	// buckets. Rotation deletes every other generation.
	StaticGeneration  string
	RuntimeGeneration string
	// Origin is the application origin, e.g. "https://app.example.com".
	// Requests outside it are cross-origin.
	Origin string
	// OfflinePath is the precached fallback document for navigations.
	OfflinePath string
	// PlaceholderIconPath is the precached fallback for image misses.
	PlaceholderIconPath string
	// PrecacheURLs are stored under the static generation on Activate.
	PrecacheURLs []string
	// IdentifyingParams is the whitelist for the level-3 API match
	// (e.g. forumId, seriesId).
	IdentifyingParams []string
}

// Manager applies a per-class caching strategy to intercepted requests.
type Manager struct {
	db    *sql.DB
	fetch Fetcher
	clock clock.Clock
	log   *slog.Logger
	cfg   Config

	// group coalesces concurrent misses for the same key so a burst of
	// identical requests costs one network fetch.
	group singleflight.Group
}

// Open creates or opens the cache database and returns a manager.
// A nil logger discards output.
func Open(path string, fetch Fetcher, clk clock.Clock, cfg Config, log *slog.Logger) (*Manager, error) {
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	db, err := storage.Open(path, schemaSQL)
	if err != nil {
		return nil, err
	}
	m := &Manager{db: db, fetch: fetch, clock: clk, log: log, cfg: cfg}
	if err := m.ensureGenerations(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return m, nil
}

// ensureGenerations creates the current generation rows so entry writes
// never hit a missing foreign key.
func (m *Manager) ensureGenerations(ctx context.Context) error {
	for _, name := range []string{m.cfg.StaticGeneration, m.cfg.RuntimeGeneration} {
		_, err := m.db.ExecContext(ctx, `
			INSERT INTO generations (name, created_at) VALUES (?, ?)
			ON CONFLICT(name) DO NOTHING
		`, name, m.clock.Now().UnixMilli())
		if err != nil {
			return fmt.Errorf("create generation %q: %w", name, err)
		}
	}
	return nil
}

// Close releases the cache database.
func (m *Manager) Close() error {
	if m.db == nil {
		return nil
	}
	return m.db.Close()
}

// Activate rotates generations: ensures the current static and runtime
// generations exist, precaches the configured assets, then deletes every
// generation that is not current. Deletion happens last so there is never
// a window with zero cache.
func (m *Manager) Activate(ctx context.Context) error {
	if err := m.ensureGenerations(ctx); err != nil {
		return fmt.Errorf("activate: %w", err)
	}

	if err := m.Precache(ctx, m.cfg.PrecacheURLs); err != nil {
		m.log.Warn("precache incomplete", "error", err)
	}

	result, err := m.db.ExecContext(ctx, `
		DELETE FROM generations WHERE name NOT IN (?, ?)
	`, m.cfg.StaticGeneration, m.cfg.RuntimeGeneration)
	if err != nil {
		return fmt.Errorf("activate: delete stale generations: %w", err)
	}
	if n, err := result.RowsAffected(); err == nil && n > 0 {
		m.log.Info("deleted stale cache generations", "count", n)
	}
	return nil
}

// Precache fetches URLs and stores successes under the static generation.
// Failures are logged and skipped; a partially warmed cache is still a
// cache.
func (m *Manager) Precache(ctx context.Context, urls []string) error {
	var failed int
	for _, u := range urls {
		resp, err := m.fetch.Fetch(ctx, http.MethodGet, u, FetchOptions{})
		if err != nil || !resp.OK() {
			m.log.Warn("precache fetch failed", "url", u, "error", err)
			failed++
			continue
		}
		if err := m.put(ctx, m.cfg.StaticGeneration, http.MethodGet, u, resp); err != nil {
			m.log.Warn("precache store failed", "url", u, "error", err)
			failed++
		}
	}
	if failed > 0 {
		return fmt.Errorf("precache: %d of %d urls failed", failed, len(urls))
	}
	return nil
}

// Handle applies the strategy for the request's class and always resolves
// to a response.
func (m *Manager) Handle(ctx context.Context, req Request) Response {
	// Only GET is intercepted; writes belong to the mutation queue.
	if !strings.EqualFold(req.Method, http.MethodGet) {
		return m.passThrough(ctx, req)
	}

	switch req.Class {
	case ClassNavigation:
		return m.handleNavigation(ctx, req)
	case ClassStyle, ClassScript, ClassFont:
		return m.handleStatic(ctx, req)
	case ClassImage:
		return m.handleImage(ctx, req)
	case ClassAPI:
		return m.handleAPI(ctx, req)
	default:
		return m.handleDefault(ctx, req)
	}
}

// handleNavigation is network-first: live fetch, store on success, cache
// exact match on failure, offline document as the last resort.
func (m *Manager) handleNavigation(ctx context.Context, req Request) Response {
	resp, err := m.fetch.Fetch(ctx, req.Method, req.URL, FetchOptions{})
	if err == nil {
		if resp.OK() {
			m.store(ctx, m.cfg.RuntimeGeneration, req, resp)
		}
		return resp
	}
	m.log.Debug("navigation fetch failed, trying cache", "url", req.URL, "error", err)

	if cached, ok := m.matchExact(ctx, req.Method, req.URL); ok {
		return cached
	}
	if offline, ok := m.matchExact(ctx, http.MethodGet, m.cfg.OfflinePath); ok {
		return offline
	}
	return emptyFallback(ClassNavigation)
}

// handleStatic is cache-first with network fill. On network failure the
// cache is retried with and without the query string before falling back
// to an empty response carrying the right content type.
func (m *Manager) handleStatic(ctx context.Context, req Request) Response {
	if cached, ok := m.matchExact(ctx, req.Method, req.URL); ok {
		return cached
	}

	resp, err := m.fetchOnce(ctx, req, FetchOptions{})
	if err == nil {
		if resp.StatusCode == http.StatusOK && m.sameOrigin(req.URL) {
			m.store(ctx, m.cfg.RuntimeGeneration, req, resp)
		}
		return resp
	}
	m.log.Debug("static fetch failed, retrying cache", "url", req.URL, "error", err)

	if cached, ok := m.matchExact(ctx, req.Method, withoutQuery(req.URL)); ok {
		return cached
	}
	if cached, ok := m.matchIgnoringSearch(ctx, req.Method, req.URL); ok {
		return cached
	}
	return emptyFallback(req.Class)
}

// handleImage is cache-first. Cross-origin hosts get a credentials-less
// fetch; misses fall back to the bundled placeholder icon.
func (m *Manager) handleImage(ctx context.Context, req Request) Response {
	if cached, ok := m.matchExact(ctx, req.Method, req.URL); ok {
		return cached
	}

	opts := FetchOptions{NoCredentials: !m.sameOrigin(req.URL)}
	resp, err := m.fetchOnce(ctx, req, opts)
	if err == nil {
		if resp.StatusCode == http.StatusOK {
			m.store(ctx, m.cfg.RuntimeGeneration, req, resp)
		}
		return resp
	}
	m.log.Debug("image fetch failed", "url", req.URL, "error", err)

	if cached, ok := m.matchIgnoringSearch(ctx, req.Method, req.URL); ok {
		return cached
	}
	if placeholder, ok := m.matchExact(ctx, http.MethodGet, m.cfg.PlaceholderIconPath); ok {
		return placeholder
	}
	return Response{StatusCode: http.StatusNotFound, Offline: true}
}

// handleAPI is network-first with the four-level fallback ladder:
// exact match, pathname sans query, pathname plus identifying params,
// pathname alone. The structured offline body is the floor.
func (m *Manager) handleAPI(ctx context.Context, req Request) Response {
	resp, err := m.fetch.Fetch(ctx, req.Method, req.URL, FetchOptions{})
	if err == nil {
		if resp.StatusCode == http.StatusOK {
			m.store(ctx, m.cfg.RuntimeGeneration, req, resp)
		}
		return resp
	}
	m.log.Debug("api fetch failed, trying cache ladder", "url", req.URL, "error", err)

	if cached, ok := m.matchExact(ctx, req.Method, req.URL); ok {
		return cached
	}
	if cached, ok := m.matchExact(ctx, req.Method, withoutQuery(req.URL)); ok {
		return cached
	}
	if cached, ok := m.matchIdentifying(ctx, req.Method, req.URL); ok {
		return cached
	}
	if cached, ok := m.matchIgnoringSearch(ctx, req.Method, req.URL); ok {
		return cached
	}
	return offlineAPIFallback()
}

// handleDefault is network-first with best-effort caching and a generic
// 503 floor.
func (m *Manager) handleDefault(ctx context.Context, req Request) Response {
	resp, err := m.fetch.Fetch(ctx, req.Method, req.URL, FetchOptions{})
	if err == nil {
		if resp.OK() {
			m.store(ctx, m.cfg.RuntimeGeneration, req, resp)
		}
		return resp
	}
	m.log.Debug("fetch failed", "url", req.URL, "error", err)

	if cached, ok := m.matchExact(ctx, req.Method, req.URL); ok {
		return cached
	}
	return emptyFallback(ClassOther)
}

// passThrough forwards a non-GET request without caching. The
// always-resolve contract still applies.
func (m *Manager) passThrough(ctx context.Context, req Request) Response {
	resp, err := m.fetch.Fetch(ctx, req.Method, req.URL, FetchOptions{})
	if err != nil {
		m.log.Debug("pass-through fetch failed", "url", req.URL, "error", err)
		return emptyFallback(ClassOther)
	}
	return resp
}

// fetchOnce coalesces concurrent network fetches for the same key.
func (m *Manager) fetchOnce(ctx context.Context, req Request, opts FetchOptions) (Response, error) {
	v, err, _ := m.group.Do(req.Method+" "+req.URL, func() (any, error) {
		return m.fetch.Fetch(ctx, req.Method, req.URL, opts)
	})
	if err != nil {
		return Response{}, err
	}
	return v.(Response), nil
}

// store writes an entry, logging instead of propagating failures: a cache
// write error must not break the response path.
func (m *Manager) store(ctx context.Context, generation string, req Request, resp Response) {
	if err := m.put(ctx, generation, strings.ToUpper(req.Method), req.URL, resp); err != nil {
		m.log.Warn("cache store failed", "url", req.URL, "error", err)
	}
}

// sameOrigin reports whether a URL belongs to the configured origin.
// Origin-relative URLs always do.
func (m *Manager) sameOrigin(rawURL string) bool {
	if strings.HasPrefix(rawURL, "/") {
		return true
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	o, err := url.Parse(m.cfg.Origin)
	if err != nil {
		return false
	}
	return u.Scheme == o.Scheme && u.Host == o.Host
}
