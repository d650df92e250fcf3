package database

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"sync"

	_ "modernc.org/sqlite"
)

// SQLite is a key/value store backed by a single sqlite table.
type SQLite struct {
	conn *sql.DB
	path string

	cacheMu sync.RWMutex
	cache   map[string]string
}

func NewSQLite(path string) (*SQLite, error) {
	dsn := fmt.Sprintf("%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	conn.SetMaxOpenConns(2)

	if err := conn.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	db := &SQLite{conn: conn, path: path, cache: make(map[string]string)}
	if err := db.migrate(); err != nil {
		return nil, fmt.Errorf("migrate database: %w", err)
	}
	if err := db.loadCache(); err != nil {
		return nil, fmt.Errorf("load cache: %w", err)
	}

	return db, nil
}

func (db *SQLite) Close() error {
	return db.conn.Close()
}

// SizeBytes returns the file size of the database.
func (db *SQLite) SizeBytes() (int64, error) {
	info, err := os.Stat(db.path)
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

func (db *SQLite) migrate() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS kv (
			key        TEXT PRIMARY KEY,
			value      TEXT NOT NULL,
			updated_at TEXT NOT NULL DEFAULT (datetime('now'))
		)`,
	}

	for _, stmt := range statements {
		if _, err := db.conn.Exec(stmt); err != nil {
			return fmt.Errorf("exec migration: %w\nstatement: %s", err, stmt)
		}
	}
	return nil
}

// loadCache populates the in-memory cache from the database.
func (db *SQLite) loadCache() error {
	rows, err := db.conn.Query(`SELECT key, value FROM kv`)
	if err != nil {
		return err
	}
	defer rows.Close()

	db.cacheMu.Lock()
	defer db.cacheMu.Unlock()
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return err
		}
		db.cache[key] = value
	}
	return rows.Err()
}

func (db *SQLite) Get(key string) (string, bool, error) {
	db.cacheMu.RLock()
	v, ok := db.cache[key]
	db.cacheMu.RUnlock()
	if ok {
		return v, true, nil
	}

	var value string
	err := db.conn.QueryRow(`SELECT value FROM kv WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	db.cacheMu.Lock()
	db.cache[key] = value
	db.cacheMu.Unlock()
	return value, true, nil
}

func (db *SQLite) Set(key, value string) error {
	_, err := db.conn.Exec(`INSERT OR REPLACE INTO kv (key, value, updated_at) VALUES (?, ?, datetime('now'))`,
		key, value)
	if err != nil {
		return err
	}
	db.cacheMu.Lock()
	db.cache[key] = value
	db.cacheMu.Unlock()
	return nil
}

func (db *SQLite) Delete(key string) error {
	if _, err := db.conn.Exec(`DELETE FROM kv WHERE key = ?`, key); err != nil {
		return err
	}
	db.cacheMu.Lock()
	delete(db.cache, key)
	db.cacheMu.Unlock()
	return nil
}
