// Package memstore is an in-memory content.Store used for dry runs and tests.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/JonMunkholm/pagegen/internal/content"
)

// Store keeps pages and meta in maps guarded by a mutex.
type Store struct {
	mu     sync.RWMutex
	nextID content.PageID
	pages  map[content.PageID]content.Page
	meta   map[content.PageID]map[string]string
	now    func() time.Time
}

// New returns an empty store. Seed pages get IDs starting at 1.
func New(seed ...content.Page) *Store {
	s := &Store{
		nextID: 1,
		pages:  make(map[content.PageID]content.Page),
		meta:   make(map[content.PageID]map[string]string),
		now:    time.Now,
	}
	for _, p := range seed {
		s.add(p)
	}
	return s
}

// Add inserts p as-is (keeping its ID when set) and returns the stored page.
func (s *Store) Add(p content.Page) content.Page {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.add(p)
}

func (s *Store) add(p content.Page) content.Page {
	if p.ID == 0 {
		p.ID = s.nextID
	}
	if p.ID >= s.nextID {
		s.nextID = p.ID + 1
	}
	if p.Status == "" {
		p.Status = content.StatusPublished
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = s.now()
	}
	s.pages[p.ID] = p
	return p
}

// GetPage implements content.Finder.
func (s *Store) GetPage(ctx context.Context, id content.PageID) (content.Page, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.pages[id]
	if !ok {
		return content.Page{}, fmt.Errorf("%w: %d", content.ErrNotFound, id)
	}
	return p, nil
}

// ListPages implements content.Lister.
func (s *Store) ListPages(ctx context.Context) ([]content.Page, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	pages := make([]content.Page, 0, len(s.pages))
	for _, p := range s.pages {
		pages = append(pages, p)
	}
	sort.Slice(pages, func(i, j int) bool {
		ti, tj := strings.ToLower(pages[i].Title), strings.ToLower(pages[j].Title)
		if ti != tj {
			return ti < tj
		}
		return pages[i].ID < pages[j].ID
	})
	return pages, nil
}

// CreatePage implements content.Creator.
func (s *Store) CreatePage(ctx context.Context, np content.NewPage) (content.Page, error) {
	if err := ctx.Err(); err != nil {
		return content.Page{}, err
	}
	if strings.TrimSpace(np.Title) == "" && strings.TrimSpace(np.Body) == "" {
		return content.Page{}, fmt.Errorf("content, title, and excerpt are empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if np.ParentID != 0 {
		if _, ok := s.pages[np.ParentID]; !ok {
			return content.Page{}, fmt.Errorf("parent %w: %d", content.ErrNotFound, np.ParentID)
		}
	}

	slug := np.Slug
	if slug == "" {
		slug = content.Slugify(np.Title)
	}
	slug = content.UniqueSlug(slug, func(candidate string) bool {
		return s.slugTaken(np.ParentID, candidate)
	})

	status := np.Status
	if status == "" {
		status = content.StatusDraft
	}

	return s.add(content.Page{
		Title:    np.Title,
		Body:     np.Body,
		Slug:     slug,
		ParentID: np.ParentID,
		Status:   status,
	}), nil
}

func (s *Store) slugTaken(parent content.PageID, slug string) bool {
	for _, p := range s.pages {
		if p.ParentID == parent && p.Slug == slug {
			return true
		}
	}
	return false
}

// SetPageMeta implements content.MetaWriter.
func (s *Store) SetPageMeta(ctx context.Context, id content.PageID, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.pages[id]; !ok {
		return fmt.Errorf("%w: %d", content.ErrNotFound, id)
	}
	m, ok := s.meta[id]
	if !ok {
		m = make(map[string]string)
		s.meta[id] = m
	}
	m[key] = value
	return nil
}

// Meta returns the meta value stored for id and key.
func (s *Store) Meta(id content.PageID, key string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.meta[id][key]
	return v, ok
}

// Len returns the number of stored pages.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.pages)
}
