// Package configstore persists the router configuration in a relational
// SQLite database. The resolver is its only writer: each executed delta is
// committed in one transaction together with a commit_log row.
package configstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	sqlite "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/psaab/routershell/pkg/config"
	"github.com/psaab/routershell/pkg/delta"
	"github.com/psaab/routershell/pkg/logging"
)

// DefaultHistorySize is the number of commits kept in memory.
const DefaultHistorySize = 50

var (
	// ErrNotFound is returned when an operation targets a missing row.
	ErrNotFound = errors.New("not found")
	// ErrConstraint is returned for unique, check and foreign-key violations.
	ErrConstraint = errors.New("constraint violation")
)

// StoreError wraps a persistence failure with the store operation that hit it.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

func logger() *slog.Logger { return logging.For("configstore") }

// classify maps driver constraint errors onto ErrConstraint.
func classify(err error) error {
	var se *sqlite.Error
	if errors.As(err, &se) && se.Code()&0xff == sqlite3.SQLITE_CONSTRAINT {
		return fmt.Errorf("%w: %v", ErrConstraint, err)
	}
	return err
}

func storeErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return &StoreError{Op: op, Err: classify(err)}
}

// Store is the persisted configuration.
type Store struct {
	db      *sql.DB
	path    string
	history *History
}

// Open opens or creates the database at path and brings its schema up to
// date.
func Open(path string) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_txlock=immediate", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, storeErr("open", err)
	}
	// one connection: the shell is single-threaded and the pragmas are
	// per connection
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, storeErr("open", err)
	}
	m := NewMigrator(db)
	for _, mig := range migrations {
		m.AddMigration(mig)
	}
	if err := m.Run(); err != nil {
		db.Close()
		return nil, storeErr("migrate", err)
	}
	s := &Store{db: db, path: path, history: NewHistory(DefaultHistorySize)}
	if err := s.loadHistory(); err != nil {
		db.Close()
		return nil, err
	}
	logger().Info("store opened", "path", path)
	return s, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the database file.
func (s *Store) Path() string { return s.path }

// History returns the in-memory commit history.
func (s *Store) History() *History { return s.history }

// Destroy removes the database at path along with its journal files.
func Destroy(path string) error {
	for _, p := range []string{path, path + "-wal", path + "-shm", path + "-journal"} {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			return storeErr("destroy", err)
		}
	}
	return nil
}

// Commit records an applied delta. Every operation runs in one
// transaction; on any failure nothing is written.
func (s *Store) Commit(ctx context.Context, d *delta.Delta, mode string) error {
	if d.Empty() {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storeErr("commit", err)
	}
	defer tx.Rollback()

	for i, op := range d.Ops {
		if err := applyOp(ctx, tx, op); err != nil {
			return storeErr("commit", fmt.Errorf("step %d (%s): %w", i+1, op, classify(err)))
		}
	}
	now := time.Now()
	res, err := tx.ExecContext(ctx,
		"INSERT INTO commit_log (committed_at, mode, command, ops) VALUES (?, ?, ?, ?)",
		now.UTC(), mode, d.Command, d.Len())
	if err != nil {
		return storeErr("commit", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return storeErr("commit", err)
	}
	if err := tx.Commit(); err != nil {
		return storeErr("commit", err)
	}
	s.history.Record(&HistoryEntry{ID: id, Timestamp: now, Mode: mode, Command: d.Command, Ops: d.Len()})
	logger().Debug("committed", "id", id, "command", d.Command, "ops", d.Len())
	return nil
}

// Load reads the whole configuration.
func (s *Store) Load(ctx context.Context) (*config.Config, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, storeErr("load", err)
	}
	defer tx.Rollback()
	cfg, err := load(ctx, tx)
	if err != nil {
		return nil, storeErr("load", err)
	}
	return cfg, nil
}

// countedTables feed the store gauges.
var countedTables = []string{
	"interfaces", "interface_addresses", "bridges", "vlans", "nat_pools",
	"dhcp_pools", "dhcp_reservations", "wifi_policies", "firewall_policies",
	"firewall_rules", "renames", "routes", "commit_log",
}

// Counts returns the row count of each entity table.
func (s *Store) Counts(ctx context.Context) (map[string]int, error) {
	out := make(map[string]int, len(countedTables))
	for _, t := range countedTables {
		var n int
		if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+t).Scan(&n); err != nil {
			return nil, storeErr("count", err)
		}
		out[t] = n
	}
	return out, nil
}

// Log returns the most recent persisted commits, newest first.
func (s *Store) Log(ctx context.Context, limit int) ([]*HistoryEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, committed_at, mode, command, ops FROM commit_log ORDER BY id DESC LIMIT ?", limit)
	if err != nil {
		return nil, storeErr("log", err)
	}
	defer rows.Close()
	var out []*HistoryEntry
	for rows.Next() {
		e := &HistoryEntry{}
		if err := rows.Scan(&e.ID, &e.Timestamp, &e.Mode, &e.Command, &e.Ops); err != nil {
			return nil, storeErr("log", err)
		}
		e.Timestamp = e.Timestamp.Local()
		out = append(out, e)
	}
	return out, storeErr("log", rows.Err())
}

func (s *Store) loadHistory() error {
	entries, err := s.Log(context.Background(), s.history.Cap())
	if err != nil {
		return err
	}
	for i := len(entries) - 1; i >= 0; i-- {
		s.history.Record(entries[i])
	}
	return nil
}
