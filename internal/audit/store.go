package audit

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"
)

// DefaultPageSize applies when a Query sets no Limit.
const DefaultPageSize = 10

var ErrNotFound = errors.New("audit: record not found")

// Query filters List. Zero fields match everything; From and To are
// inclusive.
type Query struct {
	EntityType string
	Action     string
	EntityID   string
	UserID     string
	From       time.Time
	To         time.Time

	Offset int
	Limit  int
}

func (q Query) limit() int {
	if q.Limit <= 0 {
		return DefaultPageSize
	}
	return q.Limit
}

func (q Query) offset() int {
	if q.Offset < 0 {
		return 0
	}
	return q.Offset
}

func (q Query) matches(r Record) bool {
	switch {
	case q.EntityType != "" && r.EntityType != q.EntityType:
		return false
	case q.Action != "" && r.Action != q.Action:
		return false
	case q.EntityID != "" && r.EntityID != q.EntityID:
		return false
	case q.UserID != "" && r.UserID != q.UserID:
		return false
	case !q.From.IsZero() && r.CreatedAt.Before(q.From):
		return false
	case !q.To.IsZero() && r.CreatedAt.After(q.To):
		return false
	}
	return true
}

// Page is one slice of a List result, newest first. Total counts every match.
type Page struct {
	Records []Record
	Total   int64
}

// Store is an append-only audit log.
type Store interface {
	Append(ctx context.Context, rec Record) error
	Get(ctx context.Context, id string) (Record, error)
	List(ctx context.Context, q Query) (Page, error)
}

// MemoryStore keeps records in process. It is safe for concurrent use.
type MemoryStore struct {
	mu      sync.RWMutex
	records []Record
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (m *MemoryStore) Append(ctx context.Context, rec Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, rec)
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, id string) (Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, rec := range m.records {
		if rec.ID == id {
			return rec, nil
		}
	}
	return Record{}, ErrNotFound
}

func (m *MemoryStore) List(ctx context.Context, q Query) (Page, error) {
	if err := ctx.Err(); err != nil {
		return Page{}, err
	}
	m.mu.RLock()
	matched := make([]Record, 0, len(m.records))
	for _, rec := range m.records {
		if q.matches(rec) {
			matched = append(matched, rec)
		}
	}
	m.mu.RUnlock()

	// Newest first; equal timestamps keep the later append first.
	for i, j := 0, len(matched)-1; i < j; i, j = i+1, j-1 {
		matched[i], matched[j] = matched[j], matched[i]
	}
	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	page := Page{Total: int64(len(matched))}
	start := q.offset()
	if start >= len(matched) {
		return page, nil
	}
	end := start + q.limit()
	if end > len(matched) {
		end = len(matched)
	}
	page.Records = append([]Record(nil), matched[start:end]...)
	return page, nil
}

// Len returns how many records were appended.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.records)
}
