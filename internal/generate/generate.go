// Package generate drives a batch: it renders every CSV row against a
// template, derives a slug, and creates one page per row through a
// content store.
//
// Rows are processed strictly in input order and one at a time. A failing
// row is recorded and the batch moves on; only an invalid batch or a
// missing template stops a run before the first row.
package generate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/JonMunkholm/pagegen/internal/content"
	"github.com/JonMunkholm/pagegen/internal/csvtable"
	"github.com/JonMunkholm/pagegen/internal/render"
)

// ErrTemplateNotFound is returned when the template ID does not resolve.
var ErrTemplateNotFound = errors.New("template not found")

// ErrEmptyInput is returned when a batch has no rows or no mapping.
var ErrEmptyInput = errors.New("empty input")

// DefaultChunkSize is the number of rows processed between progress reports.
const DefaultChunkSize = 10

// CSV columns read for SEO meta.
const (
	ColumnMetaTitle       = "meta_title"
	ColumnMetaDescription = "meta_description"
)

// SlugSettings controls where a page's slug comes from and where it lives.
type SlugSettings struct {
	// Column, when set and non-empty in a row, is slugified for that row.
	// Otherwise the rendered title is used.
	Column   string         `json:"column" yaml:"column"`
	ParentID content.PageID `json:"parent_id" yaml:"parent_id"`
}

// MetaSettings toggles SEO meta import.
type MetaSettings struct {
	ImportTitle       bool `json:"import_title" yaml:"import_title"`
	ImportDescription bool `json:"import_description" yaml:"import_description"`
}

// Batch is one generation run.
type Batch struct {
	Template render.Template
	Mapping  render.Mapping
	Rows     []csvtable.Row
	Slug     SlugSettings
	Meta     MetaSettings
}

// Result aggregates row outcomes. Errors are in row order.
type Result struct {
	SuccessCount int       `json:"success"`
	FailureCount int       `json:"failed"`
	Errors       []string  `json:"errors"`
	Created      []Created `json:"created,omitempty"`
}

// Created identifies a page produced by the batch.
type Created struct {
	Row  int            `json:"row"`
	ID   content.PageID `json:"id"`
	Slug string         `json:"slug"`
}

// Merge adds other's counts and messages to r.
func (r *Result) Merge(other Result) {
	r.SuccessCount += other.SuccessCount
	r.FailureCount += other.FailureCount
	r.Errors = append(r.Errors, other.Errors...)
	r.Created = append(r.Created, other.Created...)
}

// Processed returns the number of rows attempted.
func (r Result) Processed() int {
	return r.SuccessCount + r.FailureCount
}

// Progress is reported after each chunk.
type Progress struct {
	Processed int `json:"processed"`
	Total     int `json:"total"`
	Success   int `json:"success"`
	Failed    int `json:"failed"`
}

// Percent returns completion as 0-100.
func (p Progress) Percent() int {
	if p.Total == 0 {
		return 100
	}
	return p.Processed * 100 / p.Total
}

// Store is what the runner writes into.
type Store interface {
	content.Creator
	content.MetaWriter
}

// Runner executes batches against a store.
type Runner struct {
	Store     Store
	Slugify   func(string) string
	Sanitizer content.Sanitizer
	Logger    *slog.Logger
}

// NewRunner returns a runner with the default slug function and HTML
// sanitizer.
func NewRunner(store Store, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		Store:     store,
		Slugify:   content.Slugify,
		Sanitizer: content.NewHTMLSanitizer(),
		Logger:    logger,
	}
}

// Validate reports ErrEmptyInput when b has nothing to process.
func Validate(b Batch) error {
	if len(b.Rows) == 0 {
		return fmt.Errorf("%w: CSV has no data rows", ErrEmptyInput)
	}
	if len(b.Mapping) == 0 {
		return fmt.Errorf("%w: no placeholders are mapped to columns", ErrEmptyInput)
	}
	return nil
}

// Prepare loads the template page id from finder.
func Prepare(ctx context.Context, finder content.Finder, id content.PageID) (render.Template, error) {
	if id <= 0 {
		return render.Template{}, fmt.Errorf("%w: id %d", ErrTemplateNotFound, id)
	}
	page, err := finder.GetPage(ctx, id)
	if errors.Is(err, content.ErrNotFound) {
		return render.Template{}, fmt.Errorf("%w: id %d", ErrTemplateNotFound, id)
	}
	if err != nil {
		return render.Template{}, fmt.Errorf("load template %d: %w", id, err)
	}
	return render.Template{Title: page.Title, Body: page.Body}, nil
}

// Run processes every row of b and returns the aggregate. Row failures are
// reported in the Result. It fails when b is invalid, or with ctx's error
// and the partial result when ctx ends before the last row.
func (r *Runner) Run(ctx context.Context, b Batch) (Result, error) {
	if err := Validate(b); err != nil {
		return Result{}, err
	}
	return r.runRows(ctx, b, 0, b.Rows)
}

// RunChunked processes b size rows at a time, calling progress after each
// chunk. When ctx ends it stops before the next row and returns the partial
// result with ctx's error. Rows already created are kept.
func (r *Runner) RunChunked(ctx context.Context, b Batch, size int, progress func(Progress)) (Result, error) {
	if err := Validate(b); err != nil {
		return Result{}, err
	}
	if size <= 0 {
		size = DefaultChunkSize
	}

	total := len(b.Rows)
	result := Result{Errors: []string{}}
	for start := 0; start < total; start += size {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		end := min(start+size, total)
		chunk, err := r.runRows(ctx, b, start, b.Rows[start:end])
		result.Merge(chunk)

		if progress != nil {
			progress(Progress{
				Processed: result.Processed(),
				Total:     total,
				Success:   result.SuccessCount,
				Failed:    result.FailureCount,
			})
		}
		if err != nil {
			return result, err
		}
	}
	return result, ctx.Err()
}

// runRows processes rows; the first is row number offset+1. A row whose
// create fails because ctx ended is not counted.
func (r *Runner) runRows(ctx context.Context, b Batch, offset int, rows []csvtable.Row) (Result, error) {
	result := Result{Errors: []string{}}
	for i, row := range rows {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		n := offset + i + 1
		page, err := r.createRow(ctx, b, row)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
				return result, ctxErr
			}
			result.FailureCount++
			result.Errors = append(result.Errors, err.Error())
			r.Logger.Warn("row failed", "row", n, "error", err)
			continue
		}
		result.SuccessCount++
		result.Created = append(result.Created, Created{Row: n, ID: page.ID, Slug: page.Slug})
		r.writeMeta(ctx, b.Meta, page.ID, row, n)
	}
	return result, nil
}

func (r *Runner) createRow(ctx context.Context, b Batch, row csvtable.Row) (content.Page, error) {
	out := render.Render(b.Template, b.Mapping, row)
	slug := r.slugFor(b.Slug, row, out.Title)

	page, err := r.Store.CreatePage(ctx, content.NewPage{
		Title:    r.Sanitizer.Title(out.Title),
		Body:     r.Sanitizer.Body(out.Body),
		Slug:     slug,
		ParentID: b.Slug.ParentID,
		Status:   content.StatusDraft,
	})
	if err != nil {
		return content.Page{}, err
	}
	if page.Slug != slug {
		r.Logger.Debug("slug adjusted by store", "requested", slug, "assigned", page.Slug, "page_id", page.ID)
	}
	return page, nil
}

// SlugFor returns the slug requested for row under s.
func (r *Runner) SlugFor(s SlugSettings, row csvtable.Row, renderedTitle string) string {
	return r.slugFor(s, row, renderedTitle)
}

func (r *Runner) slugFor(s SlugSettings, row csvtable.Row, renderedTitle string) string {
	slugify := r.Slugify
	if slugify == nil {
		slugify = content.Slugify
	}
	if s.Column != "" {
		if v := strings.TrimSpace(row[s.Column]); v != "" {
			return slugify(v)
		}
	}
	return slugify(renderedTitle)
}

// MetaValues returns the SEO meta that would be written for row under s,
// keyed by meta key. Empty values are skipped.
func (r *Runner) MetaValues(s MetaSettings, row csvtable.Row) map[string]string {
	out := make(map[string]string, 2)
	if s.ImportTitle {
		if v := r.Sanitizer.Title(row[ColumnMetaTitle]); v != "" {
			out[content.MetaKeySEOTitle] = v
		}
	}
	if s.ImportDescription {
		if v := r.Sanitizer.Title(row[ColumnMetaDescription]); v != "" {
			out[content.MetaKeySEODescription] = v
		}
	}
	return out
}

func (r *Runner) writeMeta(ctx context.Context, s MetaSettings, id content.PageID, row csvtable.Row, n int) {
	for key, value := range r.MetaValues(s, row) {
		if err := r.Store.SetPageMeta(ctx, id, key, value); err != nil {
			r.Logger.Warn("meta write failed", "row", n, "page_id", id, "key", key, "error", err)
		}
	}
}
