package statestore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
)

// Postgres persiste snapshots na tabela engine_state (key text primary key, value jsonb, updated_at).
type Postgres struct {
	DB *sql.DB
}

func NewPostgres(db *sql.DB) *Postgres { return &Postgres{DB: db} }

const createTable = `
	CREATE TABLE IF NOT EXISTS engine_state (
	  key        TEXT PRIMARY KEY,
	  value      JSONB NOT NULL,
	  updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`

// Migrate cria a tabela caso ainda não exista.
func (p *Postgres) Migrate(ctx context.Context) error {
	_, err := p.DB.ExecContext(ctx, createTable)
	return err
}

func (p *Postgres) Load(ctx context.Context, key string, dst any) (bool, error) {
	var b []byte
	err := p.DB.QueryRowContext(ctx, `SELECT value FROM engine_state WHERE key=$1`, key).Scan(&b)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, json.Unmarshal(b, dst)
}

// Save faz upsert por key; ON CONFLICT garante uma linha por chave.
func (p *Postgres) Save(ctx context.Context, key string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	const q = `
		INSERT INTO engine_state (key, value, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (key) DO UPDATE SET
		  value      = EXCLUDED.value,
		  updated_at = EXCLUDED.updated_at
	`
	_, err = p.DB.ExecContext(ctx, q, key, b)
	return err
}

func (p *Postgres) Delete(ctx context.Context, key string) error {
	_, err := p.DB.ExecContext(ctx, `DELETE FROM engine_state WHERE key=$1`, key)
	return err
}
