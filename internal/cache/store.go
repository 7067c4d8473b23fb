package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
)

// put stores a response under a generation, overwriting any previous entry
// for the same request identity. Called only for successful fetches.
func (m *Manager) put(ctx context.Context, generation, method, rawURL string, resp Response) error {
	pathname, search, err := splitURL(rawURL)
	if err != nil {
		return fmt.Errorf("cache put %s: %w", rawURL, err)
	}

	_, err = m.db.ExecContext(ctx, `
		INSERT INTO entries
		(generation, method, url, pathname, search, status, content_type, body, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(generation, method, url) DO UPDATE SET
			status = excluded.status,
			content_type = excluded.content_type,
			body = excluded.body,
			created_at = excluded.created_at
	`,
		generation,
		method,
		rawURL,
		pathname,
		search,
		resp.StatusCode,
		resp.ContentType,
		resp.Body,
		m.clock.Now().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("cache put %s: %w", rawURL, err)
	}
	return nil
}

// matchExact looks up an entry by full request identity, query included.
func (m *Manager) matchExact(ctx context.Context, method, rawURL string) (Response, bool) {
	return m.matchOne(ctx, `
		SELECT status, content_type, body FROM entries
		WHERE method = ? AND url = ?
		ORDER BY created_at DESC LIMIT 1
	`, method, rawURL)
}

// matchIgnoringSearch looks up an entry by pathname with the query string
// stripped on both sides. Asset URLs are often content-hashed via query
// parameters; this is the fallback that still finds them.
func (m *Manager) matchIgnoringSearch(ctx context.Context, method, rawURL string) (Response, bool) {
	pathname, _, err := splitURL(rawURL)
	if err != nil {
		return Response{}, false
	}
	return m.matchOne(ctx, `
		SELECT status, content_type, body FROM entries
		WHERE method = ? AND pathname = ?
		ORDER BY created_at DESC LIMIT 1
	`, method, pathname)
}

// matchIdentifying looks up an entry whose pathname matches and whose
// stored query agrees on every whitelisted identifying parameter present
// in the request. Pagination offsets and other incidental parameters may
// differ - serving the offset=0 page of the right forum beats serving
// nothing.
func (m *Manager) matchIdentifying(ctx context.Context, method, rawURL string) (Response, bool) {
	pathname, search, err := splitURL(rawURL)
	if err != nil {
		return Response{}, false
	}
	want, err := url.ParseQuery(search)
	if err != nil {
		return Response{}, false
	}

	identifying := make(map[string]string)
	for _, param := range m.cfg.IdentifyingParams {
		if v := want.Get(param); v != "" {
			identifying[param] = v
		}
	}
	if len(identifying) == 0 {
		return Response{}, false
	}

	rows, err := m.db.QueryContext(ctx, `
		SELECT search, status, content_type, body FROM entries
		WHERE method = ? AND pathname = ?
		ORDER BY created_at DESC
	`, method, pathname)
	if err != nil {
		m.log.Warn("cache lookup failed", "url", rawURL, "error", err)
		return Response{}, false
	}
	defer rows.Close()

	for rows.Next() {
		var (
			entrySearch string
			resp        Response
			contentType sql.NullString
		)
		if err := rows.Scan(&entrySearch, &resp.StatusCode, &contentType, &resp.Body); err != nil {
			m.log.Warn("cache scan failed", "url", rawURL, "error", err)
			return Response{}, false
		}
		have, err := url.ParseQuery(entrySearch)
		if err != nil {
			continue
		}
		matched := true
		for param, v := range identifying {
			if have.Get(param) != v {
				matched = false
				break
			}
		}
		if matched {
			resp.ContentType = contentType.String
			resp.FromCache = true
			return resp, true
		}
	}
	return Response{}, false
}

func (m *Manager) matchOne(ctx context.Context, query string, args ...any) (Response, bool) {
	var (
		resp        Response
		contentType sql.NullString
	)
	err := m.db.QueryRowContext(ctx, query, args...).Scan(&resp.StatusCode, &contentType, &resp.Body)
	if errors.Is(err, sql.ErrNoRows) {
		return Response{}, false
	}
	if err != nil {
		m.log.Warn("cache lookup failed", "error", err)
		return Response{}, false
	}
	resp.ContentType = contentType.String
	resp.FromCache = true
	return resp, true
}
