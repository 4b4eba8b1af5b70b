/*
Copyright 2024.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package gateway manipulates the Guacamole database directly: users,
// connections, parameters and permissions. The schema is pre-created by the
// gateway's own bootstrap tooling; this package only reads and writes rows.
//
// All mutating methods live on Tx so one reconcile runs as one transaction:
// either the whole sweep commits or none of it is visible.
package gateway

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

var (
	// ErrUserNotFound indicates a username has no entity row.
	ErrUserNotFound = errors.New("user not found")

	// ErrConnectionNotFound indicates a connection name or id has no row.
	ErrConnectionNotFound = errors.New("connection not found")
)

// Config holds the database connection settings.
type Config struct {
	Hostname string
	Port     int
	Database string
	Username string
	Password string
	SSLMode  string
}

// Store owns the database pool. The operator holds at most one live
// transaction at a time, so the pool is kept small.
type Store struct {
	db *sqlx.DB
}

// Open connects to the database and verifies it is reachable.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	sslMode := cfg.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}

	dsn := fmt.Sprintf(
		"host=%s port=%d dbname=%s user=%s password=%s sslmode=%s connect_timeout=30",
		cfg.Hostname, cfg.Port, cfg.Database, cfg.Username, cfg.Password, sslMode,
	)

	db, err := sqlx.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(2)
	db.SetMaxIdleConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to reach database: %w", err)
	}

	return &Store{db: db}, nil
}

// Close releases the database pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// Begin opens the transaction a reconcile runs under.
func (s *Store) Begin(ctx context.Context) (*Tx, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	return &Tx{tx: tx}, nil
}

// Tx is one transaction over the gateway schema.
type Tx struct {
	tx *sqlx.Tx
}

// Commit commits the transaction.
func (t *Tx) Commit() error {
	return t.tx.Commit()
}

// Rollback aborts the transaction. Safe to call after Commit; the resulting
// ErrTxDone is swallowed so it can sit in a defer.
func (t *Tx) Rollback() error {
	err := t.tx.Rollback()
	if errors.Is(err, sql.ErrTxDone) {
		return nil
	}
	return err
}
