package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
)

var errClosed = errors.New("memory database closed")

type memoryEntry struct {
	doc Document
	seq uint64
}

// Memory is an in-process DocumentStore. Returned documents are copies.
type Memory struct {
	mu          sync.RWMutex
	collections map[string]map[string]*memoryEntry
	seq         uint64
	closed      bool
}

// NewMemory creates an empty in-memory database
func NewMemory() *Memory {
	return &Memory{
		collections: make(map[string]map[string]*memoryEntry),
	}
}

// Connect succeeds unless ctx is already done
func (m *Memory) Connect(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return &ConnectionError{Driver: "memory", Err: err}
	}
	m.mu.Lock()
	m.closed = false
	m.mu.Unlock()
	return nil
}

// Ping fails once the database is closed
func (m *Memory) Ping(ctx context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return errClosed
	}
	return ctx.Err()
}

// Close marks the database closed. Stored documents are kept.
func (m *Memory) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}

func (m *Memory) Insert(ctx context.Context, doc *Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	coll := m.collections[doc.Collection]
	if coll == nil {
		coll = make(map[string]*memoryEntry)
		m.collections[doc.Collection] = coll
	}

	if doc.ID == "" {
		doc.ID = uuid.NewString()
	}
	if _, exists := coll[doc.ID]; exists {
		return fmt.Errorf("%w: id %s", ErrDuplicate, doc.ID)
	}
	if err := m.checkUnique(doc); err != nil {
		return err
	}

	ts := now()
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = ts
	}
	doc.UpdatedAt = ts

	m.seq++
	coll[doc.ID] = &memoryEntry{doc: cloneDocument(doc), seq: m.seq}
	return nil
}

func (m *Memory) Get(ctx context.Context, collection, id string) (*Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	entry, ok := m.collections[collection][id]
	if !ok {
		return nil, ErrNotFound
	}
	doc := cloneDocument(&entry.doc)
	return &doc, nil
}

func (m *Memory) FindOne(ctx context.Context, collection string, q Query) (*Document, error) {
	q.Limit = 1
	docs, err := m.Find(ctx, collection, q)
	if err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return nil, ErrNotFound
	}
	return docs[0], nil
}

func (m *Memory) Find(ctx context.Context, collection string, q Query) ([]*Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	entries := m.match(collection, q)
	sort.Slice(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if !a.doc.CreatedAt.Equal(b.doc.CreatedAt) {
			if q.Oldest {
				return a.doc.CreatedAt.Before(b.doc.CreatedAt)
			}
			return a.doc.CreatedAt.After(b.doc.CreatedAt)
		}
		if q.Oldest {
			return a.seq < b.seq
		}
		return a.seq > b.seq
	})

	if q.Limit > 0 && len(entries) > q.Limit {
		entries = entries[:q.Limit]
	}

	docs := make([]*Document, 0, len(entries))
	for _, e := range entries {
		doc := cloneDocument(&e.doc)
		docs = append(docs, &doc)
	}
	return docs, nil
}

func (m *Memory) Replace(ctx context.Context, doc *Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.collections[doc.Collection][doc.ID]
	if !ok {
		return ErrNotFound
	}
	if err := m.checkUnique(doc); err != nil {
		return err
	}

	doc.CreatedAt = entry.doc.CreatedAt
	doc.UpdatedAt = now()
	entry.doc = cloneDocument(doc)
	return nil
}

func (m *Memory) Delete(ctx context.Context, collection, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.collections[collection][id]; !ok {
		return ErrNotFound
	}
	delete(m.collections[collection], id)
	return nil
}

func (m *Memory) DeleteMany(ctx context.Context, collection string, q Query) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	q.Limit = 0
	entries := m.match(collection, q)
	for _, e := range entries {
		delete(m.collections[collection], e.doc.ID)
	}
	return int64(len(entries)), nil
}

func (m *Memory) Count(ctx context.Context, collection string, q Query) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return int64(len(m.match(collection, q))), nil
}

// match must be called with the lock held
func (m *Memory) match(collection string, q Query) []*memoryEntry {
	var out []*memoryEntry
	for _, e := range m.collections[collection] {
		if matches(&e.doc, q) {
			out = append(out, e)
		}
	}
	return out
}

// checkUnique must be called with the lock held
func (m *Memory) checkUnique(doc *Document) error {
	field, ok := uniqueFields[doc.Collection]
	if !ok {
		return nil
	}
	value, ok := bodyField(doc.Body, field)
	if !ok {
		return nil
	}
	for id, e := range m.collections[doc.Collection] {
		if id == doc.ID {
			continue
		}
		if other, ok := bodyField(e.doc.Body, field); ok && strings.EqualFold(other, value) {
			return fmt.Errorf("%w: %s", ErrDuplicate, field)
		}
	}
	return nil
}

func matches(doc *Document, q Query) bool {
	if q.OwnerID != "" && doc.OwnerID != q.OwnerID {
		return false
	}
	if !q.Since.IsZero() && doc.CreatedAt.Before(q.Since) {
		return false
	}
	if !q.Until.IsZero() && doc.CreatedAt.After(q.Until) {
		return false
	}
	for k, want := range q.Fields {
		got, ok := bodyField(doc.Body, k)
		if !ok || got != want {
			return false
		}
	}
	return true
}

// bodyField returns a top-level body field in the text form Postgres' ->>
// operator would produce
func bodyField(body json.RawMessage, key string) (string, bool) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return "", false
	}
	raw, ok := fields[key]
	if !ok || string(raw) == "null" {
		return "", false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, true
	}
	return string(raw), true
}

func cloneDocument(doc *Document) Document {
	c := *doc
	c.Body = append(json.RawMessage(nil), doc.Body...)
	return c
}
