package database

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Entity is implemented by the pointer type of anything kept in a Collection
type Entity interface {
	DocumentID() string
	DocumentOwner() string
	SetDocumentMeta(id string, createdAt, updatedAt time.Time)
}

// Collection is a typed view over one collection of a DocumentStore. T is
// stored as its JSON encoding.
type Collection[T any, PT interface {
	*T
	Entity
}] struct {
	store DocumentStore
	name  string
}

// NewCollection returns a typed view of the named collection
func NewCollection[T any, PT interface {
	*T
	Entity
}](store DocumentStore, name string) *Collection[T, PT] {
	return &Collection[T, PT]{store: store, name: name}
}

// Name returns the collection name
func (c *Collection[T, PT]) Name() string {
	return c.name
}

// Insert stores v and writes the assigned ID and timestamps back into it
func (c *Collection[T, PT]) Insert(ctx context.Context, v PT) error {
	doc, err := c.toDocument(v)
	if err != nil {
		return err
	}
	if err := c.store.Insert(ctx, doc); err != nil {
		return fmt.Errorf("insert into %s: %w", c.name, err)
	}
	v.SetDocumentMeta(doc.ID, doc.CreatedAt, doc.UpdatedAt)
	return nil
}

func (c *Collection[T, PT]) Get(ctx context.Context, id string) (PT, error) {
	doc, err := c.store.Get(ctx, c.name, id)
	if err != nil {
		return nil, err
	}
	return c.fromDocument(doc)
}

func (c *Collection[T, PT]) FindOne(ctx context.Context, q Query) (PT, error) {
	doc, err := c.store.FindOne(ctx, c.name, q)
	if err != nil {
		return nil, err
	}
	return c.fromDocument(doc)
}

func (c *Collection[T, PT]) Find(ctx context.Context, q Query) ([]PT, error) {
	docs, err := c.store.Find(ctx, c.name, q)
	if err != nil {
		return nil, fmt.Errorf("find in %s: %w", c.name, err)
	}
	out := make([]PT, 0, len(docs))
	for _, doc := range docs {
		v, err := c.fromDocument(doc)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

// Replace overwrites the stored copy of v
func (c *Collection[T, PT]) Replace(ctx context.Context, v PT) error {
	doc, err := c.toDocument(v)
	if err != nil {
		return err
	}
	if err := c.store.Replace(ctx, doc); err != nil {
		return err
	}
	v.SetDocumentMeta(doc.ID, doc.CreatedAt, doc.UpdatedAt)
	return nil
}

func (c *Collection[T, PT]) Delete(ctx context.Context, id string) error {
	return c.store.Delete(ctx, c.name, id)
}

func (c *Collection[T, PT]) DeleteMany(ctx context.Context, q Query) (int64, error) {
	return c.store.DeleteMany(ctx, c.name, q)
}

func (c *Collection[T, PT]) Count(ctx context.Context, q Query) (int64, error) {
	return c.store.Count(ctx, c.name, q)
}

func (c *Collection[T, PT]) toDocument(v PT) (*Document, error) {
	body, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode %s document: %w", c.name, err)
	}
	return &Document{
		ID:         v.DocumentID(),
		Collection: c.name,
		OwnerID:    v.DocumentOwner(),
		Body:       body,
	}, nil
}

func (c *Collection[T, PT]) fromDocument(doc *Document) (PT, error) {
	v := PT(new(T))
	if err := json.Unmarshal(doc.Body, v); err != nil {
		return nil, fmt.Errorf("decode %s document %s: %w", c.name, doc.ID, err)
	}
	v.SetDocumentMeta(doc.ID, doc.CreatedAt, doc.UpdatedAt)
	return v, nil
}
