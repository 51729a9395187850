package synthesis

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/cantorlabs/cantor/internal/config"
	_ "modernc.org/sqlite"
)

// Cache stores finished WAV files on disk with a SQLite index tracking
// size and recency. Every operation is best effort: a broken cache must
// never fail a synthesis request, so callers log returned errors and
// move on. A nil *Cache is valid and caches nothing.
type Cache struct {
	db    *sql.DB
	cfg   config.CacheConfig
	log   *slog.Logger
	clock func() time.Time
}

// OpenCache initializes the audio cache according to config. Returns
// (nil, nil) when caching is disabled.
func OpenCache(ctx context.Context, cfg config.CacheConfig, log *slog.Logger) (*Cache, error) {
	if !cfg.Enabled {
		return nil, nil
	}

	if err := os.MkdirAll(cfg.Directory, 0o755); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}

	path := filepath.Join(cfg.Directory, "index.db")
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	c := &Cache{db: db, cfg: cfg, log: log, clock: time.Now}

	if err := c.initSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}

	if err := c.Prune(ctx); err != nil {
		log.Warn("cache prune on start failed", slog.String("error", err.Error()))
	}

	return c, nil
}

func (c *Cache) initSchema(ctx context.Context) error {
	ddl := `
CREATE TABLE IF NOT EXISTS entries (
    key TEXT PRIMARY KEY,
    size INTEGER NOT NULL,
    created_at TIMESTAMP NOT NULL,
    last_used TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_entries_last_used ON entries(last_used);
`
	_, err := c.db.ExecContext(ctx, ddl)
	return err
}

// Close releases underlying resources.
func (c *Cache) Close() error {
	if c == nil || c.db == nil {
		return nil
	}
	return c.db.Close()
}

func (c *Cache) path(key string) string {
	return filepath.Join(c.cfg.Directory, key+".wav")
}

// Get returns the cached WAV for key, or (nil, false) on a miss. An
// indexed entry whose file is gone is treated as a miss and dropped.
func (c *Cache) Get(ctx context.Context, key string) ([]byte, bool) {
	if c == nil || c.db == nil {
		return nil, false
	}

	var size int64
	err := c.db.QueryRowContext(ctx, `SELECT size FROM entries WHERE key = ?`, key).Scan(&size)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false
	}
	if err != nil {
		c.log.Warn("cache lookup failed", slog.String("error", err.Error()))
		return nil, false
	}

	data, err := os.ReadFile(c.path(key))
	if err != nil {
		c.db.ExecContext(ctx, `DELETE FROM entries WHERE key = ?`, key)
		return nil, false
	}

	if _, err := c.db.ExecContext(ctx,
		`UPDATE entries SET last_used = ? WHERE key = ?`, c.clock().UTC(), key); err != nil {
		c.log.Warn("cache touch failed", slog.String("error", err.Error()))
	}
	return data, true
}

// Put stores a finished WAV under key and prunes the index to the
// configured entry budget.
func (c *Cache) Put(ctx context.Context, key string, wav []byte) error {
	if c == nil || c.db == nil {
		return nil
	}

	if err := os.WriteFile(c.path(key), wav, 0o644); err != nil {
		return fmt.Errorf("write cache file: %w", err)
	}
	now := c.clock().UTC()
	if _, err := c.db.ExecContext(ctx,
		`INSERT INTO entries(key, size, created_at, last_used)
		 VALUES(?, ?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET size=excluded.size, last_used=excluded.last_used`,
		key, int64(len(wav)), now, now); err != nil {
		return fmt.Errorf("index cache entry: %w", err)
	}
	return c.Prune(ctx)
}

// Prune evicts least recently used entries past the configured budget,
// removing both the index rows and the audio files.
func (c *Cache) Prune(ctx context.Context) error {
	if c == nil || c.db == nil || c.cfg.MaxEntries <= 0 {
		return nil
	}

	rows, err := c.db.QueryContext(ctx, `SELECT key FROM entries
		ORDER BY last_used DESC LIMIT -1 OFFSET ?`, c.cfg.MaxEntries)
	if err != nil {
		return err
	}
	defer rows.Close()

	var evict []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return err
		}
		evict = append(evict, key)
	}
	if err := rows.Err(); err != nil {
		return err
	}

	for _, key := range evict {
		if err := os.Remove(c.path(key)); err != nil && !errors.Is(err, os.ErrNotExist) {
			c.log.Warn("cache evict failed", slog.String("key", key), slog.String("error", err.Error()))
		}
		if _, err := c.db.ExecContext(ctx, `DELETE FROM entries WHERE key = ?`, key); err != nil {
			return err
		}
	}
	return nil
}
