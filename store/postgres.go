// Package store persists conversations, messages, and tracked tasks in
// Postgres, and carries task-change nudges over Redis pub/sub.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
)

type Config struct {
	DSN          string        `envconfig:"DSN" split_words:"true" required:"true"`
	MaxOpenConns int           `envconfig:"MAX_OPEN_CONNS" split_words:"true" default:"8"`
	MaxIdleConns int           `envconfig:"MAX_IDLE_CONNS" split_words:"true" default:"4"`
	ConnLifetime time.Duration `envconfig:"CONN_LIFETIME" split_words:"true" default:"30m"`
}

// DB holds the bun handle shared by the concrete stores.
type DB struct {
	bun *bun.DB
}

func New(cfg Config) (*DB, error) {
	dsn := strings.TrimSpace(cfg.DSN)
	if dsn == "" {
		return nil, errors.New("postgres dsn is required")
	}

	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(dsn)))
	if cfg.MaxOpenConns > 0 {
		sqldb.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		sqldb.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnLifetime > 0 {
		sqldb.SetConnMaxLifetime(cfg.ConnLifetime)
	}

	return &DB{bun: bun.NewDB(sqldb, pgdialect.New())}, nil
}

// NewFromBun wraps an existing handle, mainly for tests.
func NewFromBun(handle *bun.DB) *DB {
	return &DB{bun: handle}
}

func (d *DB) Ping(ctx context.Context) error {
	return d.bun.PingContext(ctx)
}

// CreateTables provisions the schema. Safe to run on every boot.
func (d *DB) CreateTables(ctx context.Context) error {
	models := []any{
		(*conversationRow)(nil),
		(*messageRow)(nil),
		(*taskRow)(nil),
	}
	for _, model := range models {
		if _, err := d.bun.NewCreateTable().Model(model).IfNotExists().Exec(ctx); err != nil {
			return fmt.Errorf("create table: %w", err)
		}
	}

	indexes := []struct {
		name   string
		model  any
		column string
	}{
		{"messages_conversation_id_idx", (*messageRow)(nil), "conversation_id"},
		{"tasks_conversation_id_idx", (*taskRow)(nil), "conversation_id"},
	}
	for _, idx := range indexes {
		if _, err := d.bun.NewCreateIndex().Model(idx.model).IfNotExists().Index(idx.name).Column(idx.column).Exec(ctx); err != nil {
			return fmt.Errorf("create index %s: %w", idx.name, err)
		}
	}
	return nil
}

func (d *DB) Close() error {
	return d.bun.Close()
}
