package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	"github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
)

const driverName = "sqlite3_recall"

func init() {
	// Auto-register sqlite-vec extension
	sqlite_vec.Auto()

	sql.Register(driverName, &sqlite3.SQLiteDriver{
		ConnectHook: registerFunctions,
	})
}

// Config holds store configuration
type Config struct {
	DBPath    string
	Dimension int
	Logger    zerolog.Logger
}

// SQLiteStore persists memory records with a lexical (FTS4, or FTS5 when
// built with the sqlite_fts5 tag) and a vector (sqlite-vec) index kept in the
// same database. It is safe for concurrent use.
type SQLiteStore struct {
	db        *sql.DB
	dimension int
	logger    zerolog.Logger
}

// Open opens or creates the database at cfg.DBPath
func Open(cfg Config) (*SQLiteStore, error) {
	if cfg.DBPath == "" {
		return nil, errors.New("database path is required")
	}
	if cfg.Dimension <= 0 {
		return nil, errors.New("embedding dimension must be positive")
	}

	if cfg.DBPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_txlock=immediate&_busy_timeout=5000&_foreign_keys=on", cfg.DBPath)
	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Enable WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	s := &SQLiteStore{
		db:        db,
		dimension: cfg.Dimension,
		logger:    cfg.Logger,
	}

	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	if err := s.checkDimension(); err != nil {
		db.Close()
		return nil, err
	}

	s.logger.Info().Str("path", cfg.DBPath).Int("dimension", cfg.Dimension).Str("fts", ftsModule).Msg("Memory store opened")
	return s, nil
}

// initSchema creates database tables
func (s *SQLiteStore) initSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS records (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			id TEXT NOT NULL UNIQUE,
			owner_id TEXT NOT NULL,
			topic_summary TEXT NOT NULL,
			raw_evidence TEXT NOT NULL DEFAULT '[]',
			kind TEXT NOT NULL CHECK (kind IN ('semantic', 'episodic', 'procedural', 'community_observation', 'inferred_preference')),
			privacy_level TEXT NOT NULL CHECK (privacy_level IN ('private', 'restricted', 'public', 'global')),
			scope_group TEXT NOT NULL DEFAULT '',
			source_count INTEGER NOT NULL DEFAULT 1,
			confidence REAL NOT NULL CHECK (confidence >= 0.1 AND confidence <= 1.0),
			decay_base REAL NOT NULL,
			decay_policy TEXT NOT NULL CHECK (decay_policy IN ('none', 'standard', 'pending_cleanup')),
			retrieval_count INTEGER NOT NULL DEFAULT 0 CHECK (retrieval_count >= 0),
			is_protected INTEGER NOT NULL DEFAULT 0,
			superseded_by TEXT,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL,
			last_accessed_at INTEGER NOT NULL,
			CHECK (kind != 'semantic' OR decay_policy = 'none')
		);
		CREATE INDEX IF NOT EXISTS idx_records_scope ON records(owner_id, privacy_level, scope_group);
		CREATE INDEX IF NOT EXISTS idx_records_group ON records(privacy_level, scope_group);
		CREATE INDEX IF NOT EXISTS idx_records_decay ON records(decay_policy, is_protected, last_accessed_at);

		CREATE TABLE IF NOT EXISTS metadata (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return err
	}
	if _, err := s.db.Exec(ftsTable); err != nil {
		return fmt.Errorf("failed to create %s index: %w", ftsModule, err)
	}

	vectorSchema := fmt.Sprintf(`
		CREATE VIRTUAL TABLE IF NOT EXISTS record_vectors USING vec0(
			record_id TEXT PRIMARY KEY,
			embedding float[%d] distance_metric=cosine
		);
	`, s.dimension)

	if _, err := s.db.Exec(vectorSchema); err != nil {
		return fmt.Errorf("failed to create vector table: %w", err)
	}

	return nil
}

// checkDimension pins the embedding dimension on first open and refuses to
// reopen the database with a different one.
func (s *SQLiteStore) checkDimension() error {
	want := fmt.Sprintf("%d", s.dimension)

	var have string
	err := s.db.QueryRow("SELECT value FROM metadata WHERE key = 'dimension'").Scan(&have)
	if errors.Is(err, sql.ErrNoRows) {
		_, err = s.db.Exec("INSERT INTO metadata (key, value) VALUES ('dimension', ?)", want)
		return err
	}
	if err != nil {
		return fmt.Errorf("failed to read store metadata: %w", err)
	}
	if have != want {
		return fmt.Errorf("store was created with embedding dimension %s, configured %s", have, want)
	}
	return nil
}

// Dimension returns the embedding dimension of the vector index
func (s *SQLiteStore) Dimension() int {
	return s.dimension
}

// Ping checks database connectivity
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the store
func (s *SQLiteStore) Close() error {
	s.logger.Info().Msg("Closing memory store")
	return s.db.Close()
}
