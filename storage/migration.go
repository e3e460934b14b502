// Copyright 2024 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package storage

import (
	"cmp"
	"context"
	"database/sql"
	"iter"
	"log"
	"slices"
)

// Migration is a schema version and scripts to upgrade and downgrade to or from
// that schema version.
type Migration struct {
	Version uint
	Up      string
	Down    string
}

// Migrations is a sequence of schema versions and scripts that convert from the
// current schema to the new schema.
type Migrations []Migration

// Run returns an iterator over all migration scripts that should be run to
// upgrade or downgrade from the current version to the target version in the
// order they should be run.
// Calling it will sort the slice.
func (m Migrations) Run(current, target uint) iter.Seq2[uint, string] {
	switch cmp.Compare(target, current) {
	case -1:
		slices.SortFunc(m, func(a, b Migration) int {
			return cmp.Compare(b.Version, a.Version)
		})
		return func(yield func(uint, string) bool) {
			for i, cur := range m {
				if cur.Version > current {
					continue
				}
				if cur.Version <= target {
					return
				}
				// After running a down script the schema is at the next lower
				// version.
				next := target
				if i+1 < len(m) && m[i+1].Version > target {
					next = m[i+1].Version
				}
				if !yield(next, cur.Down) {
					return
				}
			}
		}
	case 1:
		slices.SortFunc(m, func(a, b Migration) int {
			return cmp.Compare(a.Version, b.Version)
		})
		return func(yield func(uint, string) bool) {
			for _, cur := range m {
				if cur.Version <= current {
					continue
				}
				if cur.Version > target {
					return
				}
				if !yield(cur.Version, cur.Up) {
					return
				}
			}
		}
	}
	return func(func(uint, string) bool) {}
}

// runMigrations runs migrations until the schema version of component matches
// the target schema version.
// Migrations are run in a transaction that is rolled back if any errors occur.
func runMigrations(ctx context.Context, db *sql.DB, component string, target uint, m Migrations, debug *log.Logger) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	/* #nosec */
	defer tx.Rollback()

	var current uint
	err = tx.QueryRowContext(ctx, `SELECT version FROM migrations WHERE component=?`, component).Scan(&current)
	if err != nil && err != sql.ErrNoRows {
		return err
	}
	if current == target {
		return nil
	}
	debug.Printf("migrating %s from %d to %d…", component, current, target)
	for version, script := range m.Run(current, target) {
		if script != "" {
			if _, err = tx.ExecContext(ctx, script); err != nil {
				return err
			}
		}
		_, err = tx.ExecContext(ctx, `
INSERT INTO migrations (component, version) VALUES (?, ?)
	ON CONFLICT(component) DO UPDATE SET version=excluded.version`, component, version)
		if err != nil {
			return err
		}
	}
	return tx.Commit()
}
