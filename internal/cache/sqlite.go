package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements Store using SQLite, one table per namespace.
type SQLiteStore struct {
	db         *sql.DB
	namespaces map[string]struct{}
	now        func() time.Time
}

// NewSQLite opens the cache database and ensures a table per namespace.
func NewSQLite(dbPath string, namespaces ...string) (*SQLiteStore, error) {
	if len(namespaces) == 0 {
		namespaces = []string{DefaultNamespace}
	}
	for _, ns := range namespaces {
		if err := ValidateNamespace(ns); err != nil {
			return nil, err
		}
	}

	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// Open database with WAL mode for better concurrency.
	dsn := dbPath + "?_journal=WAL&_sync=NORMAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{
		db:         db,
		namespaces: make(map[string]struct{}, len(namespaces)),
		now:        time.Now,
	}
	for _, ns := range namespaces {
		if err := store.initSchema(ns); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("initialize schema: %w", err)
		}
		store.namespaces[ns] = struct{}{}
	}

	return store, nil
}

// initSchema creates a Drupal-shaped cache bin. The namespace has already
// been validated as an identifier.
func (s *SQLiteStore) initSchema(namespace string) error {
	query := fmt.Sprintf(`
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS %[1]s (
		cid TEXT PRIMARY KEY,
		data BLOB,
		expire INTEGER NOT NULL DEFAULT 0,
		created INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_%[1]s_expire ON %[1]s(expire);
	`, namespace)
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema for %s: %w", namespace, err)
	}
	return nil
}

func (s *SQLiteStore) table(namespace string) (string, error) {
	if err := ValidateNamespace(namespace); err != nil {
		return "", err
	}
	if _, ok := s.namespaces[namespace]; !ok {
		return "", fmt.Errorf("%w: %q is not configured", ErrInvalidNamespace, namespace)
	}
	return namespace, nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Get retrieves an entry. Expired rows are reported as absent.
func (s *SQLiteStore) Get(ctx context.Context, key, namespace string) (*Entry, error) {
	var entry *Entry
	err := withBusyRetry(ctx, "get", func() error {
		var err error
		entry, err = s.getOnce(ctx, key, namespace)
		return err
	})
	return entry, err
}

func (s *SQLiteStore) getOnce(ctx context.Context, key, namespace string) (*Entry, error) {
	table, err := s.table(namespace)
	if err != nil {
		return nil, err
	}

	query := fmt.Sprintf(`SELECT cid, data, expire, created FROM %s WHERE cid = ?`, table)
	row := s.db.QueryRowContext(ctx, query, key)

	var entry Entry
	var data []byte
	var expire, created int64
	err = row.Scan(&entry.Key, &data, &expire, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan cache row: %w", err)
	}

	entry.Data = data
	entry.Created = time.Unix(created, 0)
	// Drupal uses 0 for permanent and -1 for temporary entries; neither
	// expires by time.
	if expire > 0 {
		entry.Expire = time.Unix(expire, 0)
	}
	if entry.Expired(s.now()) {
		slog.Debug("Cache entry expired", "namespace", namespace, "key", key)
		return nil, nil
	}

	return &entry, nil
}

// Set creates or replaces an entry.
func (s *SQLiteStore) Set(ctx context.Context, namespace string, entry *Entry) error {
	table, err := s.table(namespace)
	if err != nil {
		return err
	}

	query := fmt.Sprintf(`
	INSERT INTO %s (cid, data, expire, created)
	VALUES (?, ?, ?, ?)
	ON CONFLICT(cid) DO UPDATE SET
		data = excluded.data,
		expire = excluded.expire,
		created = excluded.created`, table)

	var expire int64
	if !entry.Expire.IsZero() {
		expire = entry.Expire.Unix()
	}
	created := entry.Created
	if created.IsZero() {
		created = s.now()
	}

	return withBusyRetry(ctx, "set", func() error {
		if _, err := s.db.ExecContext(ctx, query, entry.Key, entry.Data, expire, created.Unix()); err != nil {
			return fmt.Errorf("upsert cache entry: %w", err)
		}
		return nil
	})
}

// Delete removes an entry.
func (s *SQLiteStore) Delete(ctx context.Context, key, namespace string) error {
	table, err := s.table(namespace)
	if err != nil {
		return err
	}

	query := fmt.Sprintf(`DELETE FROM %s WHERE cid = ?`, table)
	return withBusyRetry(ctx, "delete", func() error {
		if _, err := s.db.ExecContext(ctx, query, key); err != nil {
			return fmt.Errorf("delete cache entry: %w", err)
		}
		return nil
	})
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

// PurgeExpired deletes rows whose expiry has passed and returns how many
// were removed. Permanent (0) and temporary (-1) rows are kept.
func (s *SQLiteStore) PurgeExpired(ctx context.Context, namespace string) (int64, error) {
	table, err := s.table(namespace)
	if err != nil {
		return 0, err
	}

	query := fmt.Sprintf(`DELETE FROM %s WHERE expire > 0 AND expire <= ?`, table)
	var removed int64
	err = withBusyRetry(ctx, "purge", func() error {
		res, err := s.db.ExecContext(ctx, query, s.now().Unix())
		if err != nil {
			return fmt.Errorf("purge expired entries: %w", err)
		}
		removed, err = res.RowsAffected()
		return err
	})
	return removed, err
}
