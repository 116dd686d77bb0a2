// Package db opens the local SQLite database with separate read and write
// pools.
package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"runtime"

	_ "modernc.org/sqlite"
)

// DB holds a multi-connection read pool and a single-connection write pool
// over one database file.
type DB struct {
	path  string
	read  *sql.DB
	write *sql.DB
}

// dsn builds a connection string for the modernc driver.
func dsn(file string, readonly bool) string {
	params := make(url.Values)
	params.Add("_pragma", "journal_mode(WAL)")
	params.Add("_pragma", "busy_timeout(10000)")
	params.Add("_pragma", "synchronous(NORMAL)")
	params.Add("_pragma", "foreign_keys(1)")
	params.Add("_pragma", "cache_size(-20000)")
	params.Add("_pragma", "temp_store(memory)")

	if readonly {
		params.Add("mode", "ro")
	} else {
		params.Add("_txlock", "immediate")
		params.Add("mode", "rwc")
	}
	return "file:" + file + "?" + params.Encode()
}

func openPool(file string, readonly bool) (*sql.DB, error) {
	pool, err := sql.Open("sqlite", dsn(file, readonly))
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := pool.Ping(); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if readonly {
		conns := max(4, runtime.NumCPU())
		pool.SetMaxOpenConns(conns)
		pool.SetMaxIdleConns(conns)
	} else {
		// Writes are serialized through one connection.
		pool.SetMaxOpenConns(1)
		pool.SetMaxIdleConns(1)
	}
	return pool, nil
}

// Open creates the database file and its directory if needed.
func Open(path string) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	write, err := openPool(path, false)
	if err != nil {
		return nil, fmt.Errorf("write pool: %w", err)
	}
	read, err := openPool(path, true)
	if err != nil {
		write.Close()
		return nil, fmt.Errorf("read pool: %w", err)
	}
	return &DB{path: path, read: read, write: write}, nil
}

func (d *DB) Path() string { return d.path }

// Read returns the read-only pool.
func (d *DB) Read() *sql.DB { return d.read }

// Write returns the single-connection write pool.
func (d *DB) Write() *sql.DB { return d.write }

// WithTx runs fn in a write transaction, rolling back when fn fails.
func (d *DB) WithTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := d.write.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// Close closes both pools.
func (d *DB) Close() error {
	var errs []error
	if err := d.read.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close read pool: %w", err))
	}
	if err := d.write.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close write pool: %w", err))
	}
	return errors.Join(errs...)
}
