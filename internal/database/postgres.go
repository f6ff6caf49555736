package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"mindwell/internal/config"
	"mindwell/internal/database/migrations"
)

const driverName = "postgres"

// gooseUpContext is a seam for testing goose.UpContext.
var gooseUpContext = func(ctx context.Context, db *sql.DB, dir string, opts ...goose.OptionsFunc) error {
	return goose.UpContext(ctx, db, dir, opts...)
}

const documentColumns = "id, collection, owner_id, body, created_at, updated_at"

// Postgres stores documents in a single JSONB table
type Postgres struct {
	db     *sql.DB
	cfg    config.DatabaseConfig
	logger *slog.Logger
}

// NewPostgres opens a connection pool for cfg.URL. The pool is lazy; use
// Connect to verify the server is reachable.
func NewPostgres(cfg config.DatabaseConfig, logger *slog.Logger) (*Postgres, error) {
	db, err := sql.Open("pgx", cfg.URL)
	if err != nil {
		return nil, &ConnectionError{Driver: driverName, Err: err}
	}
	return newPostgresWithDB(db, cfg, logger), nil
}

func newPostgresWithDB(db *sql.DB, cfg config.DatabaseConfig, logger *slog.Logger) *Postgres {
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Postgres{
		db:     db,
		cfg:    cfg,
		logger: logger.With(slog.String("component", "database")),
	}
}

// Connect verifies connectivity and applies pending migrations. The wait is
// bounded by ConnectTimeout when it is positive.
func (p *Postgres) Connect(ctx context.Context) error {
	if p.cfg.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.cfg.ConnectTimeout)
		defer cancel()
	}

	if err := p.db.PingContext(ctx); err != nil {
		return &ConnectionError{Driver: driverName, Err: err}
	}

	if p.cfg.AutoMigrate {
		if err := p.migrate(ctx); err != nil {
			return &ConnectionError{Driver: driverName, Err: err}
		}
	}

	p.logger.InfoContext(ctx, "database connected", slog.Bool("migrated", p.cfg.AutoMigrate))
	return nil
}

func (p *Postgres) migrate(ctx context.Context) error {
	goose.SetBaseFS(migrations.Migrations)
	if err := goose.SetDialect("pgx"); err != nil {
		return fmt.Errorf("set goose dialect: %w", err)
	}
	if err := gooseUpContext(ctx, p.db, "."); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	return nil
}

// Ping checks the pool can still reach the server
func (p *Postgres) Ping(ctx context.Context) error {
	return p.db.PingContext(ctx)
}

// Close releases the pool
func (p *Postgres) Close() error {
	return p.db.Close()
}

// Insert stores doc, assigning its ID and timestamps when unset
func (p *Postgres) Insert(ctx context.Context, doc *Document) error {
	if doc.ID == "" {
		doc.ID = uuid.NewString()
	}
	ts := now()
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = ts
	}
	doc.UpdatedAt = ts

	_, err := p.db.ExecContext(ctx,
		`INSERT INTO documents (`+documentColumns+`) VALUES ($1, $2, $3, $4::jsonb, $5, $6)`,
		doc.ID, doc.Collection, doc.OwnerID, string(doc.Body), doc.CreatedAt, doc.UpdatedAt)
	return mapError(err)
}

// Get returns the document with id
func (p *Postgres) Get(ctx context.Context, collection, id string) (*Document, error) {
	row := p.db.QueryRowContext(ctx,
		`SELECT `+documentColumns+` FROM documents WHERE collection = $1 AND id = $2`,
		collection, id)
	return scanDocument(row)
}

// FindOne returns the first document matching q
func (p *Postgres) FindOne(ctx context.Context, collection string, q Query) (*Document, error) {
	q.Limit = 1
	docs, err := p.Find(ctx, collection, q)
	if err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return nil, ErrNotFound
	}
	return docs[0], nil
}

// Find returns every document matching q
func (p *Postgres) Find(ctx context.Context, collection string, q Query) ([]*Document, error) {
	where, args := buildWhere(collection, q)

	order := "DESC"
	if q.Oldest {
		order = "ASC"
	}
	stmt := fmt.Sprintf(`SELECT %s FROM documents WHERE %s ORDER BY created_at %s, id %s`,
		documentColumns, where, order, order)
	if q.Limit > 0 {
		args = append(args, q.Limit)
		stmt += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := p.db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var docs []*Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, mapError(err)
	}
	return docs, nil
}

// Replace overwrites the body and owner of an existing document
func (p *Postgres) Replace(ctx context.Context, doc *Document) error {
	doc.UpdatedAt = now()
	err := p.db.QueryRowContext(ctx,
		`UPDATE documents SET owner_id = $1, body = $2::jsonb, updated_at = $3
		 WHERE collection = $4 AND id = $5 RETURNING created_at`,
		doc.OwnerID, string(doc.Body), doc.UpdatedAt, doc.Collection, doc.ID).Scan(&doc.CreatedAt)
	if err != nil {
		return mapError(err)
	}
	doc.CreatedAt = doc.CreatedAt.UTC()
	return nil
}

// Delete removes the document with id
func (p *Postgres) Delete(ctx context.Context, collection, id string) error {
	res, err := p.db.ExecContext(ctx,
		`DELETE FROM documents WHERE collection = $1 AND id = $2`, collection, id)
	if err != nil {
		return mapError(err)
	}
	return expectAffected(res)
}

// DeleteMany removes every document matching q and reports how many went
func (p *Postgres) DeleteMany(ctx context.Context, collection string, q Query) (int64, error) {
	where, args := buildWhere(collection, q)
	res, err := p.db.ExecContext(ctx, `DELETE FROM documents WHERE `+where, args...)
	if err != nil {
		return 0, mapError(err)
	}
	return res.RowsAffected()
}

// Count returns the number of documents matching q, ignoring its limit
func (p *Postgres) Count(ctx context.Context, collection string, q Query) (int64, error) {
	where, args := buildWhere(collection, q)
	var n int64
	err := p.db.QueryRowContext(ctx, `SELECT count(*) FROM documents WHERE `+where, args...).Scan(&n)
	if err != nil {
		return 0, mapError(err)
	}
	return n, nil
}

// buildWhere renders q as a WHERE clause with positional arguments. Field
// filters are emitted in key order so identical queries produce identical SQL.
func buildWhere(collection string, q Query) (string, []any) {
	clauses := []string{"collection = $1"}
	args := []any{collection}

	add := func(clause string, arg any) {
		args = append(args, arg)
		clauses = append(clauses, fmt.Sprintf(clause, len(args)))
	}

	if q.OwnerID != "" {
		add("owner_id = $%d", q.OwnerID)
	}

	keys := make([]string, 0, len(q.Fields))
	for k := range q.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		args = append(args, k, q.Fields[k])
		clauses = append(clauses, fmt.Sprintf("body->>$%d = $%d", len(args)-1, len(args)))
	}

	if !q.Since.IsZero() {
		add("created_at >= $%d", q.Since)
	}
	if !q.Until.IsZero() {
		add("created_at <= $%d", q.Until)
	}

	return strings.Join(clauses, " AND "), args
}

type scanner interface {
	Scan(dest ...any) error
}

func scanDocument(s scanner) (*Document, error) {
	var (
		doc  Document
		body []byte
	)
	if err := s.Scan(&doc.ID, &doc.Collection, &doc.OwnerID, &body, &doc.CreatedAt, &doc.UpdatedAt); err != nil {
		return nil, mapError(err)
	}
	doc.Body = body
	doc.CreatedAt = doc.CreatedAt.UTC()
	doc.UpdatedAt = doc.UpdatedAt.UTC()
	return &doc, nil
}

func expectAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// mapError translates driver errors into package errors
func mapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) || errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505": // unique_violation
			return fmt.Errorf("%w: %s", ErrDuplicate, pgErr.ConstraintName)
		case "22P02": // invalid_text_representation, e.g. a malformed uuid
			return ErrNotFound
		}
	}
	return err
}
