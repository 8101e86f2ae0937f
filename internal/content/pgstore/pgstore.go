// Package pgstore is a Postgres-backed content.Store and history.Store.
package pgstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JonMunkholm/pagegen/internal/config"
	"github.com/JonMunkholm/pagegen/internal/content"
	"github.com/JonMunkholm/pagegen/internal/history"
)

// uniqueViolation is the Postgres SQLSTATE for unique_violation.
const uniqueViolation = "23505"

// maxSlugAttempts bounds retries when a concurrent insert takes the slug
// chosen for a page.
const maxSlugAttempts = 5

// Store reads and writes pages through a pgx pool.
type Store struct {
	pool *pgxpool.Pool
}

// New wraps an existing pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Open connects to the database described by cfg and verifies the
// connection.
func Open(ctx context.Context, cfg config.DatabaseConfig) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse database URL: %w", err)
	}

	poolConfig.MaxConns = int32(cfg.MaxConns)
	poolConfig.MinConns = int32(cfg.MinConns)
	poolConfig.MaxConnLifetime = cfg.MaxConnLifetime
	poolConfig.MaxConnIdleTime = cfg.MaxConnIdleTime

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return pool, nil
}

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

const pageColumns = `id, title, body, slug, parent_id, status, created_at`

func scanPage(row pgx.Row) (content.Page, error) {
	var p content.Page
	err := row.Scan(&p.ID, &p.Title, &p.Body, &p.Slug, &p.ParentID, &p.Status, &p.CreatedAt)
	return p, err
}

// GetPage implements content.Finder.
func (s *Store) GetPage(ctx context.Context, id content.PageID) (content.Page, error) {
	p, err := scanPage(s.pool.QueryRow(ctx,
		`SELECT `+pageColumns+` FROM pages WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return content.Page{}, fmt.Errorf("%w: %d", content.ErrNotFound, id)
	}
	if err != nil {
		return content.Page{}, fmt.Errorf("get page %d: %w", id, err)
	}
	return p, nil
}

// ListPages implements content.Lister.
func (s *Store) ListPages(ctx context.Context) ([]content.Page, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+pageColumns+` FROM pages ORDER BY lower(title), id`)
	if err != nil {
		return nil, fmt.Errorf("list pages: %w", err)
	}
	defer rows.Close()

	var pages []content.Page
	for rows.Next() {
		p, err := scanPage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan page: %w", err)
		}
		pages = append(pages, p)
	}
	return pages, rows.Err()
}

// CreatePage implements content.Creator. A slug already used under the same
// parent gets the first free numeric suffix.
func (s *Store) CreatePage(ctx context.Context, np content.NewPage) (content.Page, error) {
	if strings.TrimSpace(np.Title) == "" && strings.TrimSpace(np.Body) == "" {
		return content.Page{}, errors.New("content, title, and excerpt are empty")
	}
	if np.ParentID != 0 {
		var exists bool
		if err := s.pool.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM pages WHERE id = $1)`, np.ParentID).Scan(&exists); err != nil {
			return content.Page{}, fmt.Errorf("check parent: %w", err)
		}
		if !exists {
			return content.Page{}, fmt.Errorf("parent %w: %d", content.ErrNotFound, np.ParentID)
		}
	}

	base := np.Slug
	if base == "" {
		base = content.Slugify(np.Title)
	}
	status := np.Status
	if status == "" {
		status = content.StatusDraft
	}

	var lastErr error
	for attempt := 0; attempt < maxSlugAttempts; attempt++ {
		taken, err := s.takenSlugs(ctx, np.ParentID, base)
		if err != nil {
			return content.Page{}, err
		}
		slug := content.UniqueSlug(base, func(c string) bool { return taken[c] })

		p, err := scanPage(s.pool.QueryRow(ctx,
			`INSERT INTO pages (title, body, slug, parent_id, status)
			 VALUES ($1, $2, $3, $4, $5)
			 RETURNING `+pageColumns,
			np.Title, np.Body, slug, np.ParentID, status))
		if err == nil {
			return p, nil
		}

		var pgErr *pgconn.PgError
		if !errors.As(err, &pgErr) || pgErr.Code != uniqueViolation {
			return content.Page{}, fmt.Errorf("insert page: %w", err)
		}
		lastErr = err
	}
	return content.Page{}, fmt.Errorf("insert page: slug %q still taken after %d attempts: %w", base, maxSlugAttempts, lastErr)
}

// takenSlugs returns base and its "-N" variants already used under parent.
func (s *Store) takenSlugs(ctx context.Context, parent content.PageID, base string) (map[string]bool, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT slug FROM pages
		 WHERE parent_id = $1 AND (slug = $2 OR slug LIKE $3 ESCAPE '\')`,
		parent, base, escapeLike(base)+"-%")
	if err != nil {
		return nil, fmt.Errorf("check slugs: %w", err)
	}
	defer rows.Close()

	taken := make(map[string]bool)
	for rows.Next() {
		var slug string
		if err := rows.Scan(&slug); err != nil {
			return nil, fmt.Errorf("scan slug: %w", err)
		}
		taken[slug] = true
	}
	return taken, rows.Err()
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

// SetPageMeta implements content.MetaWriter.
func (s *Store) SetPageMeta(ctx context.Context, id content.PageID, key, value string) error {
	tag, err := s.pool.Exec(ctx,
		`INSERT INTO page_meta (page_id, key, value)
		 SELECT id, $2, $3 FROM pages WHERE id = $1
		 ON CONFLICT (page_id, key) DO UPDATE SET value = EXCLUDED.value`,
		id, key, value)
	if err != nil {
		return fmt.Errorf("set page meta: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %d", content.ErrNotFound, id)
	}
	return nil
}

// PageMeta returns all meta stored for id.
func (s *Store) PageMeta(ctx context.Context, id content.PageID) (map[string]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT key, value FROM page_meta WHERE page_id = $1`, id)
	if err != nil {
		return nil, fmt.Errorf("get page meta: %w", err)
	}
	defer rows.Close()

	meta := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, fmt.Errorf("scan page meta: %w", err)
		}
		meta[k] = v
	}
	return meta, rows.Err()
}

// RecordRun implements history.Store.
func (s *Store) RecordRun(ctx context.Context, run history.Run) error {
	errs := run.Errors
	if errs == nil {
		errs = []string{}
	}
	errJSON, err := json.Marshal(errs)
	if err != nil {
		return fmt.Errorf("encode run errors: %w", err)
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO generation_runs
		   (id, template_id, source, status, total, success, failed, errors, started_at, finished_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		 ON CONFLICT (id) DO NOTHING`,
		run.ID, run.TemplateID, run.Source, run.Status, run.Total,
		run.Success, run.Failed, errJSON, run.StartedAt, run.FinishedAt)
	if err != nil {
		return fmt.Errorf("record run: %w", err)
	}
	return nil
}

// ListRuns implements history.Store.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]history.Run, error) {
	if limit <= 0 {
		limit = history.DefaultLimit
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id::text, template_id, source, status, total, success, failed, errors, started_at, finished_at
		 FROM generation_runs ORDER BY started_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []history.Run
	for rows.Next() {
		var (
			r       history.Run
			errJSON []byte
		)
		if err := rows.Scan(&r.ID, &r.TemplateID, &r.Source, &r.Status, &r.Total,
			&r.Success, &r.Failed, &errJSON, &r.StartedAt, &r.FinishedAt); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		if err := json.Unmarshal(errJSON, &r.Errors); err != nil {
			return nil, fmt.Errorf("decode run errors: %w", err)
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}
