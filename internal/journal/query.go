package journal

import (
	"database/sql"
	"fmt"
	"time"
)

// Kind is the type of a journal entry.
type Kind string

const (
	KindBuild  Kind = "build"
	KindDeploy Kind = "deploy"
)

// Entry is one build or deploy as read back from the journal.
type Entry struct {
	Kind     Kind
	At       time.Time
	Target   string
	OK       bool
	Duration time.Duration
	Inputs   int
	Bytes    int64
	PID      int
	Spawned  bool
	Initial  bool
	Error    string
}

// Recent returns up to limit entries, newest first.
func Recent(db *sql.DB, limit int) ([]Entry, error) {
	rows, err := db.Query(`
		SELECT kind, at, target, ok, duration_ms, inputs, bytes, pid, spawned, initial, error FROM (
			SELECT 'build' AS kind, b.started_at AS at, r.target AS target, b.ok AS ok,
				b.duration_ms AS duration_ms, COALESCE(b.inputs, 0) AS inputs, COALESCE(b.bytes, 0) AS bytes,
				0 AS pid, 0 AS spawned, 0 AS initial, COALESCE(b.error, '') AS error
			FROM builds b JOIN runs r ON r.id = b.run_id

			UNION ALL

			SELECT 'deploy', d.at, r.target, d.ok,
				0, 0, 0,
				COALESCE(d.pid, 0), d.spawned, d.initial, COALESCE(d.error, '')
			FROM deploys d JOIN runs r ON r.id = d.run_id
		)
		ORDER BY at DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying journal: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var entries []Entry
	for rows.Next() {
		var (
			e          Entry
			at         int64
			durationMs int64
			ok         int
			spawned    int
			initial    int
		)
		if err := rows.Scan(&e.Kind, &at, &e.Target, &ok, &durationMs, &e.Inputs, &e.Bytes,
			&e.PID, &spawned, &initial, &e.Error); err != nil {
			return nil, fmt.Errorf("scanning journal row: %w", err)
		}
		e.At = time.Unix(0, at)
		e.OK = ok == 1
		e.Spawned = spawned == 1
		e.Initial = initial == 1
		e.Duration = time.Duration(durationMs) * time.Millisecond
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating journal rows: %w", err)
	}
	return entries, nil
}
