// Copyright 2021 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

// Package storage implements the database layer of the bot.
//
// Plugins never see the database itself. They receive a Store, run their
// own migrations against it and query it through the Querier methods.
package storage // import "mellium.im/keelsbot/storage"

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// Querier is the part of a database handle used to run queries.
// It is implemented by *sql.DB and *sql.Tx.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store is a Querier that also lets its users keep their tables up to date.
type Store interface {
	Querier

	// Migrate upgrades or downgrades the tables owned by component to the
	// highest version in m.
	Migrate(ctx context.Context, component string, m Migrations) error
}

// DB is a SQLite database.
type DB struct {
	*sql.DB
	debug *log.Logger
}

var _ Store = (*DB)(nil)

const schema = `
CREATE TABLE IF NOT EXISTS migrations (
	component TEXT PRIMARY KEY NOT NULL,
	version   INTEGER NOT NULL DEFAULT 0
);`

// Open opens the database at path, creating it and any missing parent
// directories if they do not exist.
// The special path ":memory:" opens a private in memory database.
func Open(ctx context.Context, path string, debug *log.Logger) (*DB, error) {
	const dbDriver = "sqlite"

	if debug == nil {
		debug = log.New(io.Discard, "", 0)
	}
	if path != ":memory:" {
		err := os.MkdirAll(filepath.Dir(path), 0770)
		if err != nil {
			return nil, fmt.Errorf("storage: error creating db dir: %w", err)
		}
	}
	db, err := sql.Open(dbDriver, path)
	if err != nil {
		return nil, fmt.Errorf("storage: error opening DB: %w", err)
	}
	// SQLite only supports a single writer and an in memory database only
	// exists for the connection that created it.
	db.SetMaxOpenConns(1)
	for _, pragma := range []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	} {
		if _, err = db.ExecContext(ctx, pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("storage: error running %q: %w", pragma, err)
		}
	}
	if _, err = db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("storage: error applying schema: %w", err)
	}
	debug.Printf("opened database %s", path)
	return &DB{DB: db, debug: debug}, nil
}

// Version returns the schema version of the tables owned by component.
// Components that have never been migrated are at version 0.
func (db *DB) Version(ctx context.Context, component string) (uint, error) {
	var v uint
	err := db.QueryRowContext(ctx, `SELECT version FROM migrations WHERE component=?`, component).Scan(&v)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	return v, err
}

// Migrate implements Store.
func (db *DB) Migrate(ctx context.Context, component string, m Migrations) error {
	var target uint
	for _, mig := range m {
		target = max(target, mig.Version)
	}
	return runMigrations(ctx, db.DB, component, target, m, db.debug)
}
