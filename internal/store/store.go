// Package store persists the local member's incarnation and per-peer state
// snapshots across process restarts, using modernc.org/sqlite through
// database/sql: one migration list run at open time, one narrow method per
// concern.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/orbitmesh/swim"
)

func msToDuration(ms int64) time.Duration { return time.Duration(ms) * time.Millisecond }

// migrations returns the schema statements, run once per Open in order.
func migrations() []string {
	return []string{
		`CREATE TABLE IF NOT EXISTS local_incarnation (
			member_id   INTEGER PRIMARY KEY,
			incarnation INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS member_snapshot (
			member_id   INTEGER PRIMARY KEY,
			status      INTEGER NOT NULL,
			incarnation INTEGER NOT NULL,
			delay_ms    INTEGER NOT NULL DEFAULT 0,
			updated_at  TEXT NOT NULL DEFAULT (datetime('now'))
		)`,
	}
}

// DB wraps a sqlite-backed store for one swimd process.
type DB struct {
	sql *sql.DB
}

// Open creates (if necessary) and migrates the sqlite database at path.
func Open(path string) (*DB, error) {
	sqlDB, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	for _, stmt := range migrations() {
		if _, err := sqlDB.Exec(stmt); err != nil {
			sqlDB.Close()
			return nil, fmt.Errorf("store: migrate: %w", err)
		}
	}
	return &DB{sql: sqlDB}, nil
}

// Close releases the underlying database handle.
func (db *DB) Close() error { return db.sql.Close() }

// NextIncarnation persists and returns self's next incarnation, implementing
// swim.IncarnationOps.NewIncarnation so a refuted member survives a restart
// without replaying an incarnation a peer has already seen.
func (db *DB) NextIncarnation(ctx context.Context, self swim.MemberID) (swim.Incarnation, error) {
	tx, err := db.sql.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("store: begin: %w", err)
	}
	defer tx.Rollback()

	var current int64
	err = tx.QueryRowContext(ctx,
		`SELECT incarnation FROM local_incarnation WHERE member_id = ?`, int64(self),
	).Scan(&current)
	switch {
	case err == sql.ErrNoRows:
		current = 0
	case err != nil:
		return 0, fmt.Errorf("store: read incarnation: %w", err)
	}

	next := current + 1
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO local_incarnation (member_id, incarnation) VALUES (?, ?)
		 ON CONFLICT(member_id) DO UPDATE SET incarnation = excluded.incarnation`,
		int64(self), next,
	); err != nil {
		return 0, fmt.Errorf("store: write incarnation: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("store: commit: %w", err)
	}
	return swim.Incarnation(next), nil
}

// LoadIncarnation returns self's last-persisted incarnation, or 0 if none is
// on record yet (a fresh member always starts at incarnation 0).
func (db *DB) LoadIncarnation(ctx context.Context, self swim.MemberID) (swim.Incarnation, error) {
	var current int64
	err := db.sql.QueryRowContext(ctx,
		`SELECT incarnation FROM local_incarnation WHERE member_id = ?`, int64(self),
	).Scan(&current)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("store: read incarnation: %w", err)
	}
	return swim.Incarnation(current), nil
}

// SaveSnapshot persists a member's last-known state, so a restarting host can
// warm-start its member store instead of forgetting the group entirely.
func (db *DB) SaveSnapshot(ctx context.Context, id swim.MemberID, st swim.MemberState) error {
	_, err := db.sql.ExecContext(ctx,
		`INSERT INTO member_snapshot (member_id, status, incarnation, delay_ms, updated_at)
		 VALUES (?, ?, ?, ?, datetime('now'))
		 ON CONFLICT(member_id) DO UPDATE SET
			status = excluded.status,
			incarnation = excluded.incarnation,
			delay_ms = excluded.delay_ms,
			updated_at = excluded.updated_at`,
		int64(id), int(st.Status), int64(st.Incarnation), st.Delay.Milliseconds(),
	)
	if err != nil {
		return fmt.Errorf("store: save snapshot for %d: %w", id, err)
	}
	return nil
}

// LoadSnapshots returns every persisted member snapshot, keyed by ID, for
// warm-starting the in-memory member store at process start.
func (db *DB) LoadSnapshots(ctx context.Context) (map[swim.MemberID]swim.MemberState, error) {
	rows, err := db.sql.QueryContext(ctx,
		`SELECT member_id, status, incarnation, delay_ms FROM member_snapshot`)
	if err != nil {
		return nil, fmt.Errorf("store: load snapshots: %w", err)
	}
	defer rows.Close()

	out := make(map[swim.MemberID]swim.MemberState)
	for rows.Next() {
		var id int64
		var status int
		var incarnation int64
		var delayMS int64
		if err := rows.Scan(&id, &status, &incarnation, &delayMS); err != nil {
			return nil, fmt.Errorf("store: scan snapshot: %w", err)
		}
		out[swim.MemberID(id)] = swim.MemberState{
			Status:      swim.Status(status),
			Incarnation: swim.Incarnation(incarnation),
			Delay:       msToDuration(delayMS),
		}
	}
	return out, rows.Err()
}
