package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/borsabridge/control-plane/internal/store"
)

type PostgresStore struct {
	db *sql.DB
}

var openDB = sql.Open

func New(conn string) (*PostgresStore, error) {
	db, err := openDB("pgx", conn)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := verifySchema(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &PostgresStore{db: db}, nil
}

func verifySchema(ctx context.Context, db *sql.DB) error {
	var regclass sql.NullString
	if err := db.QueryRowContext(ctx, "SELECT to_regclass($1)", "public.bridge_documents").Scan(&regclass); err != nil {
		return err
	}
	if !regclass.Valid {
		return fmt.Errorf("database schema missing: bridge_documents table not found (run migrations/001_bridge_documents.sql)")
	}
	return nil
}

func (p *PostgresStore) Close() error {
	return p.db.Close()
}

func (p *PostgresStore) Ping(ctx context.Context) error {
	return p.db.PingContext(ctx)
}

func (p *PostgresStore) Get(ctx context.Context, path string) (store.Document, error) {
	key := store.CleanPath(path)
	var body []byte
	err := p.db.QueryRowContext(ctx, "SELECT body FROM bridge_documents WHERE path = $1", key).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, store.Wrap("get", key, err)
	}
	doc := store.Document{}
	if len(body) > 0 {
		if err := json.Unmarshal(body, &doc); err != nil {
			return nil, store.Wrap("get", key, err)
		}
	}
	return doc, nil
}

func (p *PostgresStore) Set(ctx context.Context, path string, doc store.Document) error {
	key := store.CleanPath(path)
	body, err := encode(doc)
	if err != nil {
		return store.Wrap("set", key, err)
	}
	const query = `
		INSERT INTO bridge_documents (path, body, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (path) DO UPDATE
		SET body = EXCLUDED.body, updated_at = now()
	`
	_, err = p.db.ExecContext(ctx, query, key, body)
	return store.Wrap("set", key, err)
}

// Update merges top-level fields with the jsonb concatenation operator.
func (p *PostgresStore) Update(ctx context.Context, path string, fields store.Document) error {
	key := store.CleanPath(path)
	body, err := encode(fields)
	if err != nil {
		return store.Wrap("update", key, err)
	}
	const query = `
		INSERT INTO bridge_documents (path, body, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (path) DO UPDATE
		SET body = bridge_documents.body || EXCLUDED.body, updated_at = now()
	`
	_, err = p.db.ExecContext(ctx, query, key, body)
	return store.Wrap("update", key, err)
}

func (p *PostgresStore) Delete(ctx context.Context, path string) error {
	key := store.CleanPath(path)
	_, err := p.db.ExecContext(ctx, "DELETE FROM bridge_documents WHERE path = $1", key)
	return store.Wrap("delete", key, err)
}

func encode(doc store.Document) ([]byte, error) {
	if doc == nil {
		doc = store.Document{}
	}
	return json.Marshal(doc)
}
