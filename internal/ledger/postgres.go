package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kiranshivaraju/opsloop/internal/config"
)

const defaultDocumentID = "default"

// Connect opens a pgx pool and verifies connectivity.
func Connect(ctx context.Context, cfg config.DatabaseConfig) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse database URL: %w", err)
	}
	poolCfg.MaxConns = int32(cfg.MaxOpenConns)
	poolCfg.MinConns = int32(cfg.MaxIdleConns)
	poolCfg.MaxConnLifetime = cfg.ConnMaxLifetime

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return pool, nil
}

// PostgresPersister stores the ledger document as one JSONB row in
// ledger_documents. Every save bumps the row revision.
type PostgresPersister struct {
	pool *pgxpool.Pool
	id   string
}

// NewPostgresPersister uses the row keyed by documentID, or "default" when empty.
func NewPostgresPersister(pool *pgxpool.Pool, documentID string) *PostgresPersister {
	if documentID == "" {
		documentID = defaultDocumentID
	}
	return &PostgresPersister{pool: pool, id: documentID}
}

func (p *PostgresPersister) Load(ctx context.Context) (Document, error) {
	var body []byte
	err := p.pool.QueryRow(ctx,
		`SELECT body FROM ledger_documents WHERE id = $1`, p.id,
	).Scan(&body)
	if errors.Is(err, pgx.ErrNoRows) {
		return Document{RestartCounts: map[string]map[string]int{}}, nil
	}
	if err != nil {
		return Document{}, fmt.Errorf("load ledger document: %w", err)
	}

	var doc Document
	if err := json.Unmarshal(body, &doc); err != nil {
		return Document{}, fmt.Errorf("decode ledger document: %w", err)
	}
	return doc, nil
}

func (p *PostgresPersister) Save(ctx context.Context, doc Document) error {
	body, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode ledger document: %w", err)
	}

	_, err = p.pool.Exec(ctx,
		`INSERT INTO ledger_documents (id, body, revision, updated_at)
		 VALUES ($1, $2, 1, NOW())
		 ON CONFLICT (id) DO UPDATE
		 SET body = EXCLUDED.body,
		     revision = ledger_documents.revision + 1,
		     updated_at = NOW()`,
		p.id, body)
	if err != nil {
		return fmt.Errorf("save ledger document: %w", err)
	}
	return nil
}

func (p *PostgresPersister) Ping(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

var _ Persister = (*PostgresPersister)(nil)
