/*
 * Copyright 2025 The RuleGo Authors.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package db aggregation repository stored in a relational database through
// database/sql. Postgres and MySQL are supported.
//
// Package db 基于关系数据库的聚合仓库
package db

import (
	"context"
	"database/sql"
	"errors"
	"regexp"

	"golang.org/x/xerrors"

	"github.com/rulego/routego/api/types"
	"github.com/rulego/routego/repository"
)

var (
	_ types.OptimisticLockingAggregationRepository = (*Repository)(nil)
	_ types.RecoverableAggregationRepository       = (*Repository)(nil)
)

var tableNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Repository keeps open groups in table <name> (id, exchange, version) and
// completed exchanges in <name>_completed. Versions are exposed on the
// exchanges returned by Get and checked by the compare operations.
//
// Repository 数据库聚合仓库，支持乐观锁和恢复
type Repository struct {
	// UseRecovery keep completed exchanges until Confirm
	UseRecovery bool
	db          *sql.DB
	dialect     Dialect
	name        string
	queries     queries
}

type queries struct {
	get             string
	getForUpdate    string
	insert          string
	update          string
	compareUpdate   string
	delete          string
	compareDelete   string
	keys            string
	insertCompleted string
	deleteCompleted string
	getCompleted    string
	scanCompleted   string
}

// New creates a repository on db using table name. Call Init to create the tables.
func New(db *sql.DB, dialect Dialect, name string) (*Repository, error) {
	if db == nil {
		return nil, types.NewIllegalArgumentError("db must not be nil")
	}
	if !tableNamePattern.MatchString(name) {
		return nil, types.NewIllegalArgumentError("invalid repository name %q", name)
	}
	completed := name + "_completed"
	return &Repository{
		db:      db,
		dialect: dialect,
		name:    name,
		queries: queries{
			get:             dialect.Rebind("SELECT exchange, version FROM " + name + " WHERE id = ?"),
			getForUpdate:    dialect.Rebind("SELECT exchange, version FROM " + name + " WHERE id = ? FOR UPDATE"),
			insert:          dialect.Rebind("INSERT INTO " + name + " (id, exchange, version) VALUES (?, ?, ?)"),
			update:          dialect.Rebind("UPDATE " + name + " SET exchange = ?, version = ? WHERE id = ?"),
			compareUpdate:   dialect.Rebind("UPDATE " + name + " SET exchange = ?, version = ? WHERE id = ? AND version = ?"),
			delete:          dialect.Rebind("DELETE FROM " + name + " WHERE id = ?"),
			compareDelete:   dialect.Rebind("DELETE FROM " + name + " WHERE id = ? AND version = ?"),
			keys:            "SELECT id FROM " + name + " ORDER BY id",
			insertCompleted: dialect.Rebind("INSERT INTO " + completed + " (id, exchange) VALUES (?, ?)"),
			deleteCompleted: dialect.Rebind("DELETE FROM " + completed + " WHERE id = ?"),
			getCompleted:    dialect.Rebind("SELECT exchange FROM " + completed + " WHERE id = ?"),
			scanCompleted:   "SELECT id FROM " + completed + " ORDER BY id",
		},
	}, nil
}

// Open opens dsn with the driver of dialect and creates the repository tables
func Open(ctx context.Context, dialect Dialect, dsn, name string) (*Repository, error) {
	db, err := sql.Open(dialect.DriverName, dsn)
	if err != nil {
		return nil, err
	}
	repo, err := New(db, dialect, name)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := repo.Init(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return repo, nil
}

// Name table name of the open groups
func (r *Repository) Name() string {
	return r.name
}

// Init creates the tables if they do not exist
func (r *Repository) Init(ctx context.Context) error {
	for _, ddl := range []string{
		"CREATE TABLE IF NOT EXISTS " + r.name + " (id VARCHAR(255) NOT NULL PRIMARY KEY, exchange " + r.dialect.BlobType + " NOT NULL, version BIGINT NOT NULL)",
		"CREATE TABLE IF NOT EXISTS " + r.name + "_completed (id VARCHAR(255) NOT NULL PRIMARY KEY, exchange " + r.dialect.BlobType + " NOT NULL)",
	} {
		if _, err := r.db.ExecContext(ctx, ddl); err != nil {
			return xerrors.Errorf("create tables of %s: %w", r.name, err)
		}
	}
	return nil
}

// Drop drops both tables
func (r *Repository) Drop(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, "DROP TABLE IF EXISTS "+r.name+", "+r.name+"_completed")
	return err
}

func (r *Repository) Add(ctx context.Context, key string, exchange *types.Exchange) (*types.Exchange, error) {
	data, err := repository.Marshal(exchange)
	if err != nil {
		return nil, err
	}
	var old *types.Exchange
	var version int64
	err = r.inTx(ctx, func(tx *sql.Tx) error {
		var current []byte
		err := tx.QueryRowContext(ctx, r.queries.getForUpdate, key).Scan(&current, &version)
		if errors.Is(err, sql.ErrNoRows) {
			version = 1
			_, err = tx.ExecContext(ctx, r.queries.insert, key, data, version)
			return err
		} else if err != nil {
			return err
		}
		if old, err = repository.Unmarshal(ctx, current); err != nil {
			return err
		}
		version++
		_, err = tx.ExecContext(ctx, r.queries.update, data, version, key)
		return err
	})
	if err != nil {
		return nil, xerrors.Errorf("add %s to %s: %w", key, r.name, err)
	}
	repository.SetVersion(exchange, version)
	return old, nil
}

func (r *Repository) Get(ctx context.Context, key string) (*types.Exchange, error) {
	var data []byte
	var version int64
	err := r.db.QueryRowContext(ctx, r.queries.get, key).Scan(&data, &version)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	} else if err != nil {
		return nil, xerrors.Errorf("get %s from %s: %w", key, r.name, err)
	}
	exchange, err := repository.Unmarshal(ctx, data)
	if err != nil {
		return nil, err
	}
	repository.SetVersion(exchange, version)
	return exchange, nil
}

func (r *Repository) Remove(ctx context.Context, key string, exchange *types.Exchange) error {
	err := r.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, r.queries.delete, key); err != nil {
			return err
		}
		return r.complete(ctx, tx, exchange)
	})
	if err != nil {
		return xerrors.Errorf("remove %s from %s: %w", key, r.name, err)
	}
	return nil
}

func (r *Repository) Confirm(ctx context.Context, exchangeId string) error {
	_, err := r.db.ExecContext(ctx, r.queries.deleteCompleted, exchangeId)
	return err
}

func (r *Repository) Keys(ctx context.Context) ([]string, error) {
	return r.ids(ctx, r.queries.keys)
}

// CompareAndAdd inserts newExchange when oldExchange is nil, otherwise updates
// the group only if its version is still the version of oldExchange
func (r *Repository) CompareAndAdd(ctx context.Context, key string, oldExchange, newExchange *types.Exchange) error {
	expected := repository.Version(oldExchange)
	data, err := repository.Marshal(newExchange)
	if err != nil {
		return err
	}
	if oldExchange == nil || expected == 0 {
		if _, err := r.db.ExecContext(ctx, r.queries.insert, key, data, int64(1)); err != nil {
			if r.dialect.IsDuplicateKey(err) {
				return types.ErrOptimisticLocking
			}
			return xerrors.Errorf("compare and add %s to %s: %w", key, r.name, err)
		}
		repository.SetVersion(newExchange, 1)
		return nil
	}
	result, err := r.db.ExecContext(ctx, r.queries.compareUpdate, data, expected+1, key, expected)
	if err != nil {
		return xerrors.Errorf("compare and add %s to %s: %w", key, r.name, err)
	}
	if n, err := result.RowsAffected(); err != nil {
		return err
	} else if n == 0 {
		return types.ErrOptimisticLocking
	}
	repository.SetVersion(newExchange, expected+1)
	return nil
}

// CompareAndRemove deletes the group only if its version is still the version of exchange
func (r *Repository) CompareAndRemove(ctx context.Context, key string, exchange *types.Exchange) error {
	expected := repository.Version(exchange)
	if expected == 0 {
		return types.ErrOptimisticLocking
	}
	return r.inTx(ctx, func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx, r.queries.compareDelete, key, expected)
		if err != nil {
			return xerrors.Errorf("compare and remove %s from %s: %w", key, r.name, err)
		}
		if n, err := result.RowsAffected(); err != nil {
			return err
		} else if n == 0 {
			return types.ErrOptimisticLocking
		}
		return r.complete(ctx, tx, exchange)
	})
}

// Scan ids of completed exchanges not yet confirmed
func (r *Repository) Scan(ctx context.Context) ([]string, error) {
	return r.ids(ctx, r.queries.scanCompleted)
}

// Recover loads a completed exchange, nil once confirmed
func (r *Repository) Recover(ctx context.Context, exchangeId string) (*types.Exchange, error) {
	var data []byte
	err := r.db.QueryRowContext(ctx, r.queries.getCompleted, exchangeId).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	} else if err != nil {
		return nil, err
	}
	return repository.Unmarshal(ctx, data)
}

// complete stores exchange in the completed table when recovery is enabled
func (r *Repository) complete(ctx context.Context, tx *sql.Tx, exchange *types.Exchange) error {
	if !r.UseRecovery || exchange == nil {
		return nil
	}
	data, err := repository.Marshal(exchange)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, r.queries.deleteCompleted, exchange.Id()); err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, r.queries.insertCompleted, exchange.Id(), data)
	return err
}

func (r *Repository) ids(ctx context.Context, query string) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (r *Repository) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// Close closes the underlying database
func (r *Repository) Close() error {
	return r.db.Close()
}
