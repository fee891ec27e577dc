// Copyright © 2025 jackelyj <dreamerlyj@gmail.com>
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in
// all copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN
// THE SOFTWARE.
//

// Package sqlkv adapts a SQL table to kvstore.Store by polling a version
// column. Writers must bump the version of a row on every change, which
// Put does. Deleting a row is not observable; write a NULL value instead.
// SQLite and PostgreSQL are supported; the caller registers the driver.
//
// Concurrent writers may commit versions out of order or reuse a version
// for different keys. Each poll therefore re-reads VersionWindow versions
// below the cursor and skips rows whose (key, version) was already
// reported. A row committed more than VersionWindow versions late is
// missed.
//
//	CREATE TABLE kvnotify_values (
//	    key     TEXT PRIMARY KEY,
//	    value   BLOB,
//	    version INTEGER NOT NULL,
//	    reason  INTEGER NOT NULL DEFAULT 0
//	);
package sqlkv

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/innovationmech/kvnotify/pkg/kvstore"
	"github.com/innovationmech/kvnotify/pkg/logger"
)

const storeName = "sql"

var tableNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Config holds the SQL store settings.
type Config struct {
	Driver       string        `mapstructure:"driver" yaml:"driver" json:"driver"`
	DSN          string        `mapstructure:"dsn" yaml:"dsn" json:"dsn"`
	Table        string        `mapstructure:"table" yaml:"table" json:"table"`
	PollInterval time.Duration `mapstructure:"poll_interval" yaml:"poll_interval" json:"poll_interval"`
	CreateTable  bool          `mapstructure:"create_table" yaml:"create_table" json:"create_table"`
	// VersionWindow is how many versions below the cursor each poll
	// re-reads.
	VersionWindow int64 `mapstructure:"version_window" yaml:"version_window" json:"version_window"`
}

const defaultVersionWindow = 64

// ApplyDefaults fills unset fields.
func (c *Config) ApplyDefaults() {
	if c.Driver == "" {
		c.Driver = "sqlite3"
	}
	if c.Table == "" {
		c.Table = "kvnotify_values"
	}
	if c.PollInterval == 0 {
		c.PollInterval = time.Second
	}
	if c.VersionWindow <= 0 {
		c.VersionWindow = defaultVersionWindow
	}
}

// Store polls one table for rows with a version above the last one seen.
type Store struct {
	db     *sql.DB
	config Config
	owned  bool
	log    *zap.Logger

	mu     sync.Mutex
	cursor int64
	primed bool
	// seen holds the reported version of every key inside the window.
	seen map[string]int64
}

var _ kvstore.Store = (*Store)(nil)

// Open opens the database with the configured driver. The driver must be
// registered by the caller.
func Open(config Config) (*Store, error) {
	config.ApplyDefaults()
	db, err := sql.Open(config.Driver, config.DSN)
	if err != nil {
		return nil, fmt.Errorf("open %s database: %w", config.Driver, err)
	}
	s, err := NewWithDB(db, config)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	s.owned = true
	if config.CreateTable {
		if err := s.EnsureSchema(context.Background()); err != nil {
			_ = db.Close()
			return nil, err
		}
	}
	return s, nil
}

// NewWithDB wraps an open database.
func NewWithDB(db *sql.DB, config Config) (*Store, error) {
	config.ApplyDefaults()
	if !tableNamePattern.MatchString(config.Table) {
		return nil, fmt.Errorf("sqlkv: invalid table name %q", config.Table)
	}
	return &Store{
		db:     db,
		config: config,
		seen:   make(map[string]int64),
		log:    logger.GetLogger().With(zap.String("store", storeName), zap.String("table", config.Table)),
	}, nil
}

// Name implements kvstore.Store.
func (s *Store) Name() string { return storeName }

// RequiredCapability names what Synchronize checks.
func (s *Store) RequiredCapability() string {
	return fmt.Sprintf("table %s with key, version and reason columns", s.config.Table)
}

func (s *Store) postgres() bool {
	switch s.config.Driver {
	case "postgres", "pgx":
		return true
	default:
		return false
	}
}

// rebind rewrites ? placeholders to $n for PostgreSQL.
func (s *Store) rebind(query string) string {
	if !s.postgres() {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// EnsureSchema creates the table if it does not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	blob := "BLOB"
	if s.postgres() {
		blob = "BYTEA"
	}
	_, err := s.db.ExecContext(ctx, fmt.Sprintf(
		`CREATE TABLE IF NOT EXISTS %s (key TEXT PRIMARY KEY, value %s, version BIGINT NOT NULL, reason INTEGER NOT NULL DEFAULT 0)`,
		s.config.Table, blob))
	if err != nil {
		return fmt.Errorf("create table %s: %w", s.config.Table, err)
	}
	return nil
}

// Put writes a value with the next version.
func (s *Store) Put(ctx context.Context, key string, value []byte, reason kvstore.Reason) error {
	_, err := s.db.ExecContext(ctx, s.rebind(fmt.Sprintf(
		`INSERT INTO %[1]s (key, value, version, reason) VALUES (?, ?, (SELECT COALESCE(MAX(version), 0) + 1 FROM %[1]s), ?) `+
			`ON CONFLICT(key) DO UPDATE SET value = excluded.value, version = excluded.version, reason = excluded.reason`,
		s.config.Table)), key, value, int(reason))
	if err != nil {
		return fmt.Errorf("put %s: %w", key, err)
	}
	return nil
}

// Synchronize pings the database and queries the table. A failing table query
// means the table is missing or has the wrong shape.
func (s *Store) Synchronize(ctx context.Context) (bool, error) {
	if err := s.db.PingContext(ctx); err != nil {
		return false, fmt.Errorf("ping database: %w", err)
	}
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`SELECT key, version, reason FROM %s LIMIT 1`, s.config.Table))
	if err != nil {
		s.log.Debug("table check failed", zap.Error(err))
		return false, nil
	}
	return true, rows.Close()
}

// Subscribe implements kvstore.Store. The first poll reports every row
// with kvstore.InitialSyncChange.
func (s *Store) Subscribe(_ context.Context, handler kvstore.NotificationHandler) (kvstore.Subscription, error) {
	ctx, cancel := context.WithCancel(context.Background())

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(s.config.PollInterval)
		defer ticker.Stop()
		for {
			notifications, err := s.poll(ctx)
			if err != nil && !errors.Is(err, context.Canceled) {
				s.log.Warn("poll failed", zap.Error(err))
			}
			for _, n := range notifications {
				handler(n)
			}
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()

	var once sync.Once
	return kvstore.SubscriptionFunc(func() error {
		once.Do(func() {
			cancel()
			wg.Wait()
		})
		return nil
	}), nil
}

// poll reads the rows changed since the last poll. Consecutive rows with
// the same reason are grouped into one notification.
func (s *Store) poll(ctx context.Context) ([]kvstore.Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	from := s.cursor - s.config.VersionWindow
	if from < 0 {
		from = 0
	}
	rows, err := s.db.QueryContext(ctx, s.rebind(fmt.Sprintf(
		`SELECT key, version, reason FROM %s WHERE version > ? ORDER BY version`, s.config.Table)), from)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var (
		out      []kvstore.Notification
		batch    []string
		current  kvstore.Reason
		cursor   = s.cursor
		reported = make(map[string]int64)
	)
	flush := func() {
		if len(batch) > 0 {
			out = append(out, kvstore.NewChangeNotification(storeName, batch, current))
			batch = nil
		}
	}

	for rows.Next() {
		var (
			key     string
			version int64
			reason  int
		)
		if err := rows.Scan(&key, &version, &reason); err != nil {
			return nil, err
		}
		if version > cursor {
			cursor = version
		}
		if v, ok := s.seen[key]; ok && v == version {
			continue
		}
		reported[key] = version

		r := kvstore.Reason(reason)
		if !s.primed {
			r = kvstore.InitialSyncChange
		}
		if len(batch) > 0 && r != current {
			flush()
		}
		current = r
		batch = append(batch, key)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	flush()

	for key, version := range reported {
		s.seen[key] = version
	}
	floor := cursor - s.config.VersionWindow
	for key, version := range s.seen {
		if version <= floor {
			delete(s.seen, key)
		}
	}
	s.cursor = cursor
	s.primed = true
	return out, nil
}

// Close closes the database if the store opened it.
func (s *Store) Close() error {
	if !s.owned {
		return nil
	}
	return s.db.Close()
}
