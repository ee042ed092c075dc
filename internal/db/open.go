package db

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"
)

// MemoryPath opens a private in-memory database instead of a file.
const MemoryPath = ":memory:"

type Config struct {
	Path string // e.g. "./data/linkserver.db", or MemoryPath
	Env  string // "dev" | "prod"
}

// Per-connection PRAGMAs for a single-process server: foreign keys on, WAL,
// synchronous NORMAL and a busy timeout against SQLITE_BUSY.
const pragmas = "_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)"

// DSN builds the modernc.org/sqlite data source name for cfg.
func DSN(cfg Config) string {
	if cfg.Path == MemoryPath {
		// Shared cache keeps the database alive while the pool holds its conn.
		return "file:linkserver?mode=memory&cache=shared&" + pragmas
	}
	return fmt.Sprintf("file:%s?%s", cfg.Path, pragmas)
}

func Open(ctx context.Context, cfg Config, log zerolog.Logger) (*sql.DB, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		cfg.Path = "./data/linkserver.db"
	}
	if cfg.Env == "" {
		cfg.Env = "dev"
	}

	if cfg.Path != MemoryPath {
		if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
			return nil, fmt.Errorf("mkdir db dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", DSN(cfg))
	if err != nil {
		return nil, fmt.Errorf("sql.Open: %w", err)
	}

	// Single connection: all writes go through Worker anyway.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("db ping: %w", err)
	}

	applied, err := Migrate(ctx, db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	log.Info().
		Str("path", cfg.Path).
		Str("env", cfg.Env).
		Ints("migrations_applied", applied).
		Msg("database ready")

	return db, nil
}
