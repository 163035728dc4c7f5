// Package persistence provides SQLite-backed storage for road conditions and
// run metadata, so blockages survive a restart.
package persistence

import (
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/talgya/citytraffic/internal/geo"
	"github.com/talgya/citytraffic/internal/roads"
)

// DB wraps a SQLite connection.
type DB struct {
	conn *sqlx.DB
}

// Open opens or creates a SQLite database at the given path.
func Open(path string) (*DB, error) {
	conn, err := sqlx.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	conn.SetMaxOpenConns(1)

	db := &DB{conn: conn}
	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return db, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

func (db *DB) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS road_conditions (
		key TEXT PRIMARY KEY,
		blocked INTEGER NOT NULL,
		lat REAL NOT NULL,
		lng REAL NOT NULL,
		created_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS sim_meta (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);
	`
	_, err := db.conn.Exec(schema)
	return err
}

type conditionRow struct {
	Key       string  `db:"key"`
	Blocked   bool    `db:"blocked"`
	Lat       float64 `db:"lat"`
	Lng       float64 `db:"lng"`
	CreatedAt int64   `db:"created_at"` // unix nanoseconds
}

// SaveCondition inserts or replaces one road condition.
func (db *DB) SaveCondition(key string, c roads.Condition) error {
	_, err := db.conn.NamedExec(`INSERT OR REPLACE INTO road_conditions
		(key, blocked, lat, lng, created_at)
		VALUES (:key, :blocked, :lat, :lng, :created_at)`,
		conditionRow{
			Key:       key,
			Blocked:   c.Blocked,
			Lat:       c.Location.Lat,
			Lng:       c.Location.Lng,
			CreatedAt: c.CreatedAt.UnixNano(),
		},
	)
	if err != nil {
		return fmt.Errorf("save condition %s: %w", key, err)
	}
	return nil
}

// DeleteCondition removes one road condition. Deleting a missing key is not an error.
func (db *DB) DeleteCondition(key string) error {
	if _, err := db.conn.Exec("DELETE FROM road_conditions WHERE key = ?", key); err != nil {
		return fmt.Errorf("delete condition %s: %w", key, err)
	}
	return nil
}

// LoadConditions returns every stored road condition keyed by segment key.
func (db *DB) LoadConditions() (map[string]roads.Condition, error) {
	var rows []conditionRow
	if err := db.conn.Select(&rows, "SELECT key, blocked, lat, lng, created_at FROM road_conditions"); err != nil {
		return nil, fmt.Errorf("load conditions: %w", err)
	}

	out := make(map[string]roads.Condition, len(rows))
	for _, r := range rows {
		out[r.Key] = roads.Condition{
			Blocked:   r.Blocked,
			Location:  geo.Coord{Lat: r.Lat, Lng: r.Lng},
			CreatedAt: time.Unix(0, r.CreatedAt).UTC(),
		}
	}
	slog.Info("road conditions loaded", "count", len(out))
	return out, nil
}

// SaveMeta stores a key-value pair in run metadata.
func (db *DB) SaveMeta(key, value string) error {
	_, err := db.conn.Exec(
		"INSERT OR REPLACE INTO sim_meta (key, value) VALUES (?, ?)",
		key, value,
	)
	return err
}

// GetMeta retrieves a metadata value.
func (db *DB) GetMeta(key string) (string, error) {
	var value string
	err := db.conn.Get(&value, "SELECT value FROM sim_meta WHERE key = ?", key)
	return value, err
}

// SaveRunState records the final tick and shutdown time of a run.
func (db *DB) SaveRunState(tick uint64, at time.Time) error {
	if err := db.SaveMeta("last_tick", strconv.FormatUint(tick, 10)); err != nil {
		return fmt.Errorf("save meta: %w", err)
	}
	if err := db.SaveMeta("last_shutdown", at.UTC().Format(time.RFC3339)); err != nil {
		return fmt.Errorf("save meta: %w", err)
	}
	slog.Info("run state saved", "tick", tick)
	return nil
}

// LastTick returns the final tick of the previous run, or 0 if none was recorded.
func (db *DB) LastTick() uint64 {
	v, err := db.GetMeta("last_tick")
	if err != nil {
		return 0
	}
	n, _ := strconv.ParseUint(v, 10, 64)
	return n
}
