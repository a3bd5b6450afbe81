package logging

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// #region log-training
// LogTraining writes an entry to the training_runs table. A missing RunID or
// CreatedAt is filled in.
func LogTraining(db *sql.DB, entry TrainingEntry) (TrainingEntry, error) {
	if entry.RunID == "" {
		entry.RunID = uuid.New().String()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	_, err := db.Exec(
		`INSERT INTO training_runs (run_id, goal_key, decision, episodes, total_steps, params_json, reason, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.RunID,
		entry.GoalKey,
		entry.Decision,
		entry.Episodes,
		entry.TotalSteps,
		nullIfEmpty(entry.ParamsJSON),
		nullIfEmpty(entry.Reason),
		entry.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return entry, fmt.Errorf("log training: %w", err)
	}
	return entry, nil
}
// #endregion log-training

// #region list-training
// ListTraining returns the most recent entries, newest first.
func ListTraining(db *sql.DB, limit int) ([]TrainingEntry, error) {
	rows, err := db.Query(
		`SELECT run_id, goal_key, decision, episodes, total_steps, params_json, reason, created_at
		 FROM training_runs ORDER BY id DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list training: %w", err)
	}
	defer rows.Close()

	var entries []TrainingEntry
	for rows.Next() {
		var e TrainingEntry
		var params, reason sql.NullString
		var createdStr string
		if err := rows.Scan(&e.RunID, &e.GoalKey, &e.Decision, &e.Episodes, &e.TotalSteps, &params, &reason, &createdStr); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		e.ParamsJSON = params.String
		e.Reason = reason.String
		e.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdStr)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
// #endregion list-training

// #region recorder
// Recorder adapts a database handle to the session's run recorder hook.
type Recorder struct {
	db *sql.DB
}

// NewRecorder returns a recorder writing to db.
func NewRecorder(db *sql.DB) *Recorder {
	return &Recorder{db: db}
}

// RecordTraining logs entry and returns it with RunID and CreatedAt set.
func (r *Recorder) RecordTraining(_ context.Context, entry TrainingEntry) (TrainingEntry, error) {
	return LogTraining(r.db, entry)
}
// #endregion recorder

// #region helpers
func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
// #endregion helpers
