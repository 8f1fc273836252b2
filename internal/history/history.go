package history

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/nerrad567/autelis-bridge/internal/bridges/autelis"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 200
)

// timestampLayout matches the created_at default in the migrations.
const timestampLayout = "2006-01-02T15:04:05Z"

// Entry is one recorded change of a node's appliance-confirmed value.
type Entry struct {
	ID        int64                   `json:"id"`
	NodeID    string                  `json:"node_id"`
	Class     autelis.CapabilityClass `json:"class"`
	Value     autelis.Value           `json:"value"`
	CreatedAt time.Time               `json:"created_at"`
}

// CommandEntry is one recorded command outcome.
type CommandEntry struct {
	ID        int64     `json:"id"`
	NodeID    string    `json:"node_id"`
	Outcome   string    `json:"outcome"`
	CreatedAt time.Time `json:"created_at"`
}

// Repository stores node state history and the command log in SQLite.
// It is safe for concurrent use.
type Repository struct {
	db  *sql.DB
	now func() time.Time
}

// NewRepository creates a repository over an open, migrated database.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db, now: time.Now}
}

// RecordState inserts a state history row for a node.
func (r *Repository) RecordState(ctx context.Context, nodeID string, class autelis.CapabilityClass, value autelis.Value) error {
	if nodeID == "" {
		return fmt.Errorf("node id is required")
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO node_state_history (node_id, class, state, setpoint, temperature, unit, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		nodeID,
		string(class),
		value.State,
		value.Setpoint,
		value.Temperature,
		string(value.Unit),
		r.timestamp(),
	)
	if err != nil {
		return fmt.Errorf("inserting node state history: %w", err)
	}
	return nil
}

// GetHistory returns recent entries for a node, newest first.
// limit defaults to 50 and is capped at 200.
func (r *Repository) GetHistory(ctx context.Context, nodeID string, limit int) ([]Entry, error) {
	if nodeID == "" {
		return nil, fmt.Errorf("node id is required")
	}
	limit = clampLimit(limit)

	rows, err := r.db.QueryContext(ctx,
		`SELECT id, node_id, class, state, setpoint, temperature, unit, created_at
		 FROM node_state_history
		 WHERE node_id = ?
		 ORDER BY created_at DESC, id DESC
		 LIMIT ?`,
		nodeID,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying node state history: %w", err)
	}
	defer rows.Close()

	entries := make([]Entry, 0, limit)
	for rows.Next() {
		var (
			e         Entry
			class     string
			unit      string
			createdAt string
		)
		if err := rows.Scan(&e.ID, &e.NodeID, &class, &e.Value.State, &e.Value.Setpoint,
			&e.Value.Temperature, &unit, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning node state history: %w", err)
		}
		e.Class = autelis.CapabilityClass(class)
		e.Value.Unit = autelis.TempUnit(unit)

		if e.CreatedAt, err = parseTimestamp(createdAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating node state history: %w", err)
	}
	return entries, nil
}

// RecordCommand inserts a command log row.
func (r *Repository) RecordCommand(ctx context.Context, nodeID, outcome string) error {
	if nodeID == "" || outcome == "" {
		return fmt.Errorf("node id and outcome are required")
	}

	_, err := r.db.ExecContext(ctx,
		"INSERT INTO command_log (node_id, outcome, created_at) VALUES (?, ?, ?)",
		nodeID,
		outcome,
		r.timestamp(),
	)
	if err != nil {
		return fmt.Errorf("inserting command log: %w", err)
	}
	return nil
}

// GetCommands returns recent command outcomes for a node, newest first.
func (r *Repository) GetCommands(ctx context.Context, nodeID string, limit int) ([]CommandEntry, error) {
	if nodeID == "" {
		return nil, fmt.Errorf("node id is required")
	}
	limit = clampLimit(limit)

	rows, err := r.db.QueryContext(ctx,
		`SELECT id, node_id, outcome, created_at
		 FROM command_log
		 WHERE node_id = ?
		 ORDER BY created_at DESC, id DESC
		 LIMIT ?`,
		nodeID,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying command log: %w", err)
	}
	defer rows.Close()

	var entries []CommandEntry
	for rows.Next() {
		var e CommandEntry
		var createdAt string
		if err := rows.Scan(&e.ID, &e.NodeID, &e.Outcome, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning command log: %w", err)
		}
		if e.CreatedAt, err = parseTimestamp(createdAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating command log: %w", err)
	}
	return entries, nil
}

// Prune deletes history and command log rows older than olderThan and
// returns the number of rows removed.
func (r *Repository) Prune(ctx context.Context, olderThan time.Duration) (int64, error) {
	if olderThan <= 0 {
		return 0, fmt.Errorf("olderThan must be positive")
	}
	cutoff := r.now().UTC().Add(-olderThan).Format(timestampLayout)

	var total int64
	for _, table := range []string{"node_state_history", "command_log"} {
		result, err := r.db.ExecContext(ctx,
			"DELETE FROM "+table+" WHERE created_at < ?", //nolint:gosec // table names are constants
			cutoff,
		)
		if err != nil {
			return total, fmt.Errorf("pruning %s: %w", table, err)
		}
		n, err := result.RowsAffected()
		if err != nil {
			return total, fmt.Errorf("checking rows affected: %w", err)
		}
		total += n
	}
	return total, nil
}

func (r *Repository) timestamp() string {
	return r.now().UTC().Format(timestampLayout)
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return defaultHistoryLimit
	}
	if limit > maxHistoryLimit {
		return maxHistoryLimit
	}
	return limit
}

func parseTimestamp(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, fmt.Errorf("created_at is empty")
	}
	ts, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing created_at: %w", err)
	}
	return ts, nil
}
