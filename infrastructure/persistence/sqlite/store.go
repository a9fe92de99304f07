package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"brain2-connections/application/ports"
	"brain2-connections/domain/core/valueobjects"
	"brain2-connections/pkg/errors"
	"brain2-connections/pkg/utils"
)

const driverName = "sqlite"

// queryer is satisfied by both *sql.DB and *sql.Tx
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// Store persists connections and history in a single SQLite file.
// The pool holds one connection, so every unit of work is a serializable
// transaction and work on any pair, not only the same one, is serialized.
type Store struct {
	path   string
	db     *sql.DB
	clock  utils.Clock
	logger *zap.Logger
}

// Open opens (creating if needed) the database at path and applies migrations
func Open(ctx context.Context, path string, clock utils.Clock, logger *zap.Logger) (*Store, error) {
	cleanPath := strings.TrimSpace(path)
	if cleanPath == "" {
		return nil, fmt.Errorf("sqlite path must not be empty")
	}
	if info, err := os.Stat(cleanPath); err == nil && info.IsDir() {
		return nil, fmt.Errorf("sqlite path %q is a directory, expected file", cleanPath)
	}
	dir := filepath.Dir(cleanPath)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create sqlite directory %q: %w", dir, err)
		}
	}
	if clock == nil {
		clock = utils.SystemClock
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(2000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)", cleanPath)
	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %q: %w", cleanPath, err)
	}
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(0)
	db.SetConnMaxIdleTime(0)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite %q: %w", cleanPath, err)
	}
	if err := EnsureSchema(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize sqlite schema %q: %w", cleanPath, err)
	}

	logger.Info("SQLite store ready", zap.String("path", cleanPath), zap.Int("schemaVersion", SchemaVersion))
	return &Store{path: cleanPath, db: db, clock: clock, logger: logger}, nil
}

// Close releases the database handle
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Path returns the database file path
func (s *Store) Path() string {
	return s.path
}

// Ping reports whether the database answers
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) Connections() ports.ConnectionStore {
	return &connectionStore{q: s.db, clock: s.clock}
}

func (s *Store) History() ports.HistoryLedger {
	return &historyLedger{q: s.db, clock: s.clock}
}

// Within runs fn inside one database transaction
func (s *Store) Within(ctx context.Context, pair valueobjects.NodePair, fn func(ctx context.Context, tx ports.Tx) error) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.NewDatabaseError("begin transaction", err)
	}

	committed := false
	defer func() {
		if !committed {
			if rbErr := sqlTx.Rollback(); rbErr != nil && rbErr != sql.ErrTxDone {
				s.logger.Error("Failed to roll back transaction", zap.String("pair", pair.Key()), zap.Error(rbErr))
			}
		}
	}()

	t := &tx{
		connections: &connectionStore{q: sqlTx, clock: s.clock},
		history:     &historyLedger{q: sqlTx, clock: s.clock},
	}
	if err := fn(ctx, t); err != nil {
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return errors.NewDatabaseError("commit transaction", err)
	}
	committed = true
	return nil
}

type tx struct {
	connections *connectionStore
	history     *historyLedger
}

func (t *tx) Connections() ports.ConnectionStore { return t.connections }
func (t *tx) History() ports.HistoryLedger       { return t.history }

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

var _ ports.Store = (*Store)(nil)
