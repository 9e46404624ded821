package store

import (
	"fmt"

	"github.com/gobaduk/pachimaster/internal/wire"
)

// MoveRecord is one committed genmoves result, as handed to the CLI
// history subcommand.
type MoveRecord struct {
	SearchID      int64
	Color         string
	Move          string
	TotalPlayouts int
}

// RecordCommand mirrors one registry entry into the command history
// table, for diagnostics across master restarts (the in-memory
// registry itself does not survive a restart; this does).
func (s *Store) RecordCommand(cmd wire.Command) error {
	_, err := s.db.Exec(`INSERT INTO commands (id, verb, args) VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET verb = excluded.verb, args = excluded.args`,
		cmd.ID, cmd.Verb, cmd.Args)
	if err != nil {
		return fmt.Errorf("store: record command: %w", err)
	}
	return nil
}

// RecordMove records a committed move, once the genmoves loop has
// superseded its search command with a play.
func (s *Store) RecordMove(m MoveRecord) error {
	_, err := s.db.Exec(`INSERT INTO moves (search_id, color, move, total_playouts) VALUES (?, ?, ?, ?)`,
		m.SearchID, m.Color, m.Move, m.TotalPlayouts)
	if err != nil {
		return fmt.Errorf("store: record move: %w", err)
	}
	return nil
}

// Commands returns every recorded command in id order, for the
// `pachimaster history` CLI dump.
func (s *Store) Commands() ([]wire.Command, error) {
	rows, err := s.db.Query(`SELECT id, verb, args FROM commands ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("store: query commands: %w", err)
	}
	defer rows.Close()

	var out []wire.Command
	for rows.Next() {
		var cmd wire.Command
		if err := rows.Scan(&cmd.ID, &cmd.Verb, &cmd.Args); err != nil {
			return nil, fmt.Errorf("store: scan command: %w", err)
		}
		out = append(out, cmd)
	}
	return out, rows.Err()
}

// Moves returns every committed move in insertion order.
func (s *Store) Moves() ([]MoveRecord, error) {
	rows, err := s.db.Query(`SELECT search_id, color, move, total_playouts FROM moves ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("store: query moves: %w", err)
	}
	defer rows.Close()

	var out []MoveRecord
	for rows.Next() {
		var m MoveRecord
		if err := rows.Scan(&m.SearchID, &m.Color, &m.Move, &m.TotalPlayouts); err != nil {
			return nil, fmt.Errorf("store: scan move: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}
