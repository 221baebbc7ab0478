package history

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"rangecompare/internal/series"
)

// Cache stores fetched ranges locally to avoid repeated source calls
type Cache struct {
	db *sql.DB
}

// NewCache creates a new history cache
func NewCache(dbPath string) (*Cache, error) {
	if dbPath == ":memory:" {
		dbPath = "file::memory:?cache=shared"
	} else if !strings.HasPrefix(dbPath, "file:") {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
			return nil, fmt.Errorf("create cache dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}

	// Configure SQLite
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, err
		}
	}

	c := &Cache{db: db}
	if err := c.migrate(); err != nil {
		db.Close()
		return nil, err
	}

	return c, nil
}

// migrate creates the necessary tables
func (c *Cache) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS history_ranges (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		entity_id TEXT NOT NULL,
		range_start INTEGER NOT NULL,
		range_end INTEGER NOT NULL,
		samples_json TEXT NOT NULL,
		sample_count INTEGER NOT NULL,
		fetched_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(entity_id, range_start, range_end)
	);

	CREATE INDEX IF NOT EXISTS idx_history_ranges_entity ON history_ranges(entity_id, range_start);
	`
	_, err := c.db.Exec(schema)
	return err
}

// Close closes the database connection
func (c *Cache) Close() error {
	return c.db.Close()
}

// Get retrieves a cached range; a miss returns nil, nil
func (c *Cache) Get(entityID string, from, to time.Time) ([]series.RawSample, error) {
	var samplesJSON string
	err := c.db.QueryRow(
		"SELECT samples_json FROM history_ranges WHERE entity_id = ? AND range_start = ? AND range_end = ?",
		entityID, from.UnixMilli(), to.UnixMilli(),
	).Scan(&samplesJSON)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	samples := []series.RawSample{}
	if err := json.Unmarshal([]byte(samplesJSON), &samples); err != nil {
		return nil, fmt.Errorf("failed to unmarshal cached samples: %w", err)
	}
	return samples, nil
}

// Put stores a range. Non-finite values cannot be encoded and are dropped.
func (c *Cache) Put(entityID string, from, to time.Time, samples []series.RawSample) error {
	kept := series.Finite(samples)
	samplesJSON, err := json.Marshal(kept)
	if err != nil {
		return fmt.Errorf("failed to marshal samples: %w", err)
	}

	_, err = c.db.Exec(`
		INSERT OR REPLACE INTO history_ranges
		(entity_id, range_start, range_end, samples_json, sample_count)
		VALUES (?, ?, ?, ?, ?)`,
		entityID, from.UnixMilli(), to.UnixMilli(), string(samplesJSON), len(kept),
	)
	return err
}

// CachedRangeCount returns the number of cached ranges for an entity
func (c *Cache) CachedRangeCount(entityID string) (int, error) {
	var count int
	err := c.db.QueryRow(
		"SELECT COUNT(*) FROM history_ranges WHERE entity_id = ?",
		entityID,
	).Scan(&count)
	return count, err
}

// Prune deletes ranges fetched before the cutoff and returns how many were removed
func (c *Cache) Prune(before time.Time) (int64, error) {
	res, err := c.db.Exec(
		"DELETE FROM history_ranges WHERE fetched_at < ?",
		before.UTC().Format("2006-01-02 15:04:05"),
	)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
