package persistence

import (
	"database/sql"
	"fmt"
	"time"

	"coach/pkg/statefile"
)

// UpdateEvent is one recorded engine update outcome.
type UpdateEvent struct {
	ID         int64  `json:"id"`
	SessionID  string `json:"sessionId"`
	Path       string `json:"path"`
	WriterID   string `json:"writerId"`
	Version    int64  `json:"version"`
	OK         bool   `json:"ok"`
	Conflict   bool   `json:"conflict"`
	Resolved   bool   `json:"resolved"`
	DurationMS int64  `json:"durationMs"`
	CreatedAt  string `json:"createdAt"`
}

// StartSession registers this process in the sessions table.
func StartSession(process string) error {
	_, err := GetDB().Exec(
		`INSERT OR REPLACE INTO sessions (id, process, started_at) VALUES (?, ?, ?)`,
		GetSessionID(), process, time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to start session: %w", err)
	}
	return nil
}

// EndSession stamps the session's end time.
func EndSession() error {
	_, err := GetDB().Exec(
		`UPDATE sessions SET ended_at = ? WHERE id = ?`,
		time.Now().UTC().Format(time.RFC3339), GetSessionID(),
	)
	if err != nil {
		return fmt.Errorf("failed to end session: %w", err)
	}
	return nil
}

// RecordUpdate logs one engine result. Telemetry failures are returned
// but callers typically only log them; a missed event must never fail
// the state update it describes.
func RecordUpdate(path, writerID string, res statefile.Result, duration time.Duration) error {
	_, err := GetDB().Exec(
		`INSERT INTO update_events
			(session_id, path, writer_id, version, ok, conflict, resolved, duration_ms, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		GetSessionID(), path, writerID, res.Version,
		boolToInt(res.OK), boolToInt(res.Conflict), boolToInt(res.Resolved),
		duration.Milliseconds(), time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to record update event: %w", err)
	}
	return nil
}

// RecentUpdates returns the newest events first, up to limit.
func RecentUpdates(limit int) ([]UpdateEvent, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := GetDB().Query(
		`SELECT id, session_id, path, writer_id, version, ok, conflict, resolved, duration_ms, created_at
		 FROM update_events ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query update events: %w", err)
	}
	defer rows.Close()

	var events []UpdateEvent
	for rows.Next() {
		var e UpdateEvent
		var ok, conflict, resolved int
		if err := rows.Scan(&e.ID, &e.SessionID, &e.Path, &e.WriterID, &e.Version,
			&ok, &conflict, &resolved, &e.DurationMS, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan update event: %w", err)
		}
		e.OK = ok != 0
		e.Conflict = conflict != 0
		e.Resolved = resolved != 0
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate update events: %w", err)
	}
	return events, nil
}

// ConflictStats summarizes conflict frequency for the dashboard.
type ConflictStats struct {
	Total     int64 `json:"total"`
	Conflicts int64 `json:"conflicts"`
	Resolved  int64 `json:"resolved"`
}

// GetConflictStats aggregates events recorded since the given time.
func GetConflictStats(since time.Time) (ConflictStats, error) {
	var stats ConflictStats
	err := GetDB().QueryRow(
		`SELECT COUNT(*),
			COALESCE(SUM(conflict), 0),
			COALESCE(SUM(resolved), 0)
		 FROM update_events WHERE created_at >= ?`,
		since.UTC().Format(time.RFC3339),
	).Scan(&stats.Total, &stats.Conflicts, &stats.Resolved)
	if err != nil && err != sql.ErrNoRows {
		return ConflictStats{}, fmt.Errorf("failed to aggregate conflict stats: %w", err)
	}
	return stats, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
