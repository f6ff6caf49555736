// Package database provides the process-wide document store. Documents are
// JSON bodies grouped into named collections and optionally owned by a user.
// The Postgres implementation keeps them in a single JSONB table; Memory is an
// in-process implementation for development and tests.
package database

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"mindwell/internal/config"
	apierrors "mindwell/internal/errors"
)

var (
	// ErrNotFound is returned when no document matches
	ErrNotFound = fmt.Errorf("document %w", apierrors.ErrNotFound)
	// ErrDuplicate is returned when a write violates a unique field
	ErrDuplicate = fmt.Errorf("duplicate document: %w", apierrors.ErrConflict)
)

// uniqueFields lists body fields that must be unique (case-insensitively)
// within a collection. The Postgres migration creates the same indexes.
var uniqueFields = map[string]string{
	"users": "email",
}

// ConnectionError reports a failure to reach or prepare the database
type ConnectionError struct {
	Driver string
	Err    error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("database connection failed (%s): %v", e.Driver, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// Document is a stored JSON body with its metadata
type Document struct {
	ID         string
	Collection string
	OwnerID    string
	Body       json.RawMessage
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Query selects documents within one collection. Zero values disable a
// filter. Results are newest first unless Oldest is set.
type Query struct {
	OwnerID string
	// Fields matches top-level body fields by their string form
	Fields map[string]string
	// Since and Until bound CreatedAt, both inclusive
	Since time.Time
	Until time.Time
	Limit int
	// Oldest orders results by ascending CreatedAt
	Oldest bool
}

// DocumentStore is the storage contract used by every domain package
type DocumentStore interface {
	Insert(ctx context.Context, doc *Document) error
	Get(ctx context.Context, collection, id string) (*Document, error)
	FindOne(ctx context.Context, collection string, q Query) (*Document, error)
	Find(ctx context.Context, collection string, q Query) ([]*Document, error)
	Replace(ctx context.Context, doc *Document) error
	Delete(ctx context.Context, collection, id string) error
	DeleteMany(ctx context.Context, collection string, q Query) (int64, error)
	Count(ctx context.Context, collection string, q Query) (int64, error)
}

// Database is a DocumentStore with a connection lifecycle
type Database interface {
	DocumentStore
	Connect(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}

// New builds the database selected by cfg.Driver. No network I/O happens
// until Connect.
func New(cfg config.DatabaseConfig, logger *slog.Logger) (Database, error) {
	switch strings.ToLower(cfg.Driver) {
	case "postgres":
		return NewPostgres(cfg, logger)
	case "memory":
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("unsupported database driver: %q", cfg.Driver)
	}
}

func now() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}
