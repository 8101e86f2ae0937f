// Package content defines the page store the generator writes into, plus
// the slug and sanitizing helpers a store is expected to apply.
//
// The generator only needs four capabilities from a store: look up a
// template page, list pages for selection, create a page and attach meta
// values to it. Concrete stores live in the memstore and pgstore
// subpackages.
package content

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a page ID does not resolve.
var ErrNotFound = errors.New("page not found")

// PageID identifies a stored page.
type PageID int64

// Page statuses.
const (
	StatusDraft     = "draft"
	StatusPublished = "publish"
)

// Recognized SEO meta keys.
const (
	MetaKeySEOTitle       = "_yoast_wpseo_title"
	MetaKeySEODescription = "_yoast_wpseo_metadesc"
)

// Page is a stored page.
type Page struct {
	ID        PageID    `json:"id"`
	Title     string    `json:"title"`
	Body      string    `json:"body"`
	Slug      string    `json:"slug"`
	ParentID  PageID    `json:"parent_id"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

// NewPage is the input to Creator.CreatePage.
type NewPage struct {
	Title    string
	Body     string
	Slug     string
	ParentID PageID
	Status   string
}

// Finder looks up a page by ID. Returns ErrNotFound when missing.
type Finder interface {
	GetPage(ctx context.Context, id PageID) (Page, error)
}

// Lister lists pages ordered by title.
type Lister interface {
	ListPages(ctx context.Context) ([]Page, error)
}

// Creator inserts a page. The returned page carries the slug the store
// actually assigned, which may differ from the requested one when it was
// already taken under the same parent.
type Creator interface {
	CreatePage(ctx context.Context, p NewPage) (Page, error)
}

// MetaWriter attaches a key/value pair to a page, replacing any prior value.
type MetaWriter interface {
	SetPageMeta(ctx context.Context, id PageID, key, value string) error
}

// Store is the full set of capabilities used by the generator.
type Store interface {
	Finder
	Lister
	Creator
	MetaWriter
}
