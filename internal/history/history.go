// Package history records finished deployments, their processor executions
// and rejected triggers in SQLite.
package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"gitdeployer/internal/deployment"
	"gitdeployer/internal/sqlite"
)

var (
	// ErrNotFound is returned by GetDeployment for unknown IDs.
	ErrNotFound = errors.New("deployment not found")

	// ErrDuplicate is returned when a deployment ID is recorded twice.
	ErrDuplicate = errors.New("deployment already recorded")
)

const timeFormat = "2006-01-02T15:04:05.000000Z"

const deploymentColumns = `id, target_id, triggered_by, status, dry_run, from_revision, to_revision,
	created_count, updated_count, deleted_count, changeset, started_at, completed_at,
	duration_seconds, error_message`

// History manages deployment history in SQLite
type History struct {
	db  *sqlx.DB
	now func() time.Time
}

// NewHistory creates a history tracker on a database opened with sqlite.Open.
func NewHistory(db *sqlx.DB) *History {
	return &History{db: db, now: time.Now}
}

// RecordDeployment stores a deployment and its executions in one transaction.
func (h *History) RecordDeployment(ctx context.Context, d *deployment.Deployment, trigger string) error {
	cs, err := json.Marshal(d.ChangeSet)
	if err != nil {
		return fmt.Errorf("failed to encode change set: %w", err)
	}
	changes := string(cs)

	row := deploymentRow{
		ID:           d.ID,
		TargetID:     d.TargetID,
		Trigger:      trigger,
		Status:       string(d.Status),
		DryRun:       d.DryRun,
		FromRevision: optional(d.FromRevision),
		ToRevision:   optional(d.ToRevision),
		CreatedCount: len(d.ChangeSet.Created()),
		UpdatedCount: len(d.ChangeSet.Updated()),
		DeletedCount: len(d.ChangeSet.Deleted()),
		ChangeSet:    &changes,
		StartedAt:    formatTime(d.Start),
		ErrorMessage: optional(d.Error),
	}
	if !d.End.IsZero() {
		completed := formatTime(d.End)
		duration := d.Duration().Seconds()
		row.CompletedAt = &completed
		row.DurationSeconds = &duration
	}

	tx, err := h.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.NamedExecContext(ctx, `
		INSERT INTO deployments (`+deploymentColumns+`)
		VALUES (:id, :target_id, :triggered_by, :status, :dry_run, :from_revision, :to_revision,
		        :created_count, :updated_count, :deleted_count, :changeset, :started_at, :completed_at,
		        :duration_seconds, :error_message)
	`, row); err != nil {
		if sqlite.IsUniqueViolation(err) {
			return fmt.Errorf("%s: %w", d.ID, ErrDuplicate)
		}
		return fmt.Errorf("failed to insert deployment record: %w", err)
	}

	for i, e := range d.Executions {
		exec := executionRow{
			DeploymentID: d.ID,
			Position:     i,
			Processor:    e.Processor,
			Status:       string(e.Status),
			Detail:       e.Detail,
			StartedAt:    formatTime(e.Start),
		}
		if !e.End.IsZero() {
			completed := formatTime(e.End)
			exec.CompletedAt = &completed
		}

		if _, err := tx.NamedExecContext(ctx, `
			INSERT INTO processor_executions
			(deployment_id, position, processor, status, detail, started_at, completed_at)
			VALUES (:deployment_id, :position, :processor, :status, :detail, :started_at, :completed_at)
		`, exec); err != nil {
			return fmt.Errorf("failed to insert processor execution: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit deployment record: %w", err)
	}
	return nil
}

// RecordRejected stores a trigger that was refused without running.
func (h *History) RecordRejected(ctx context.Context, targetID, trigger, reason string) (string, error) {
	now := formatTime(h.now())
	row := deploymentRow{
		ID:           uuid.NewString(),
		TargetID:     targetID,
		Trigger:      trigger,
		Status:       StatusRejected,
		StartedAt:    now,
		CompletedAt:  &now,
		ErrorMessage: optional(reason),
	}

	if _, err := h.db.NamedExecContext(ctx, `
		INSERT INTO deployments (id, target_id, triggered_by, status, started_at, completed_at, error_message)
		VALUES (:id, :target_id, :triggered_by, :status, :started_at, :completed_at, :error_message)
	`, row); err != nil {
		return "", fmt.Errorf("failed to insert rejected record: %w", err)
	}
	return row.ID, nil
}

// GetDeployment returns a deployment with its executions.
func (h *History) GetDeployment(ctx context.Context, id string) (*DeploymentRecord, error) {
	var row deploymentRow
	err := h.db.GetContext(ctx, &row, `SELECT `+deploymentColumns+` FROM deployments WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query deployment: %w", err)
	}

	record, err := row.record()
	if err != nil {
		return nil, err
	}
	if err := h.loadExecutions(ctx, record); err != nil {
		return nil, err
	}
	return record, nil
}

// GetLatestDeployment returns the most recent deployment for a target, with
// its executions, or nil when there is none.
func (h *History) GetLatestDeployment(ctx context.Context, targetID string) (*DeploymentRecord, error) {
	var row deploymentRow
	err := h.db.GetContext(ctx, &row, `
		SELECT `+deploymentColumns+`
		FROM deployments
		WHERE target_id = ?
		ORDER BY started_at DESC, rowid DESC
		LIMIT 1
	`, targetID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query latest deployment: %w", err)
	}

	record, err := row.record()
	if err != nil {
		return nil, err
	}
	if err := h.loadExecutions(ctx, record); err != nil {
		return nil, err
	}
	return record, nil
}

// GetDeploymentHistory returns the most recent deployments of a target,
// newest first, without executions.
func (h *History) GetDeploymentHistory(ctx context.Context, targetID string, limit int) ([]DeploymentRecord, error) {
	var rows []deploymentRow
	err := h.db.SelectContext(ctx, &rows, `
		SELECT `+deploymentColumns+`
		FROM deployments
		WHERE target_id = ?
		ORDER BY started_at DESC, rowid DESC
		LIMIT ?
	`, targetID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query deployment history: %w", err)
	}

	records := make([]DeploymentRecord, 0, len(rows))
	for _, row := range rows {
		record, err := row.record()
		if err != nil {
			return nil, err
		}
		records = append(records, *record)
	}
	return records, nil
}

// GetAllTargetsStatus returns the latest deployment for each target
func (h *History) GetAllTargetsStatus(ctx context.Context) (map[string]*DeploymentRecord, error) {
	var rows []deploymentRow
	err := h.db.SelectContext(ctx, &rows, `
		SELECT `+deploymentColumns+`
		FROM (
			SELECT *, ROW_NUMBER() OVER (
				PARTITION BY target_id ORDER BY started_at DESC, rowid DESC
			) AS rn
			FROM deployments
		)
		WHERE rn = 1
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query all targets status: %w", err)
	}

	result := make(map[string]*DeploymentRecord, len(rows))
	for _, row := range rows {
		record, err := row.record()
		if err != nil {
			return nil, err
		}
		result[record.Target] = record
	}
	return result, nil
}

func (h *History) loadExecutions(ctx context.Context, record *DeploymentRecord) error {
	var rows []executionRow
	err := h.db.SelectContext(ctx, &rows, `
		SELECT deployment_id, position, processor, status, detail, started_at, completed_at
		FROM processor_executions
		WHERE deployment_id = ?
		ORDER BY position
	`, record.ID)
	if err != nil {
		return fmt.Errorf("failed to query processor executions: %w", err)
	}

	for _, row := range rows {
		exec := ExecutionRecord{
			Position:  row.Position,
			Processor: row.Processor,
			Status:    row.Status,
			Detail:    row.Detail,
		}
		if exec.StartedAt, err = parseTime(row.StartedAt); err != nil {
			return err
		}
		if exec.CompletedAt, err = parseOptionalTime(row.CompletedAt); err != nil {
			return err
		}
		record.Executions = append(record.Executions, exec)
	}
	return nil
}

func (r deploymentRow) record() (*DeploymentRecord, error) {
	record := &DeploymentRecord{
		ID:              r.ID,
		Target:          r.TargetID,
		Trigger:         r.Trigger,
		Status:          r.Status,
		DryRun:          r.DryRun,
		FromRevision:    r.FromRevision,
		ToRevision:      r.ToRevision,
		Created:         r.CreatedCount,
		Updated:         r.UpdatedCount,
		Deleted:         r.DeletedCount,
		DurationSeconds: r.DurationSeconds,
		ErrorMessage:    r.ErrorMessage,
	}
	if r.ChangeSet != nil {
		record.ChangeSet = json.RawMessage(*r.ChangeSet)
	}

	var err error
	if record.StartedAt, err = parseTime(r.StartedAt); err != nil {
		return nil, err
	}
	if record.CompletedAt, err = parseOptionalTime(r.CompletedAt); err != nil {
		return nil, err
	}
	return record, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeFormat)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeFormat, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse timestamp %q: %w", s, err)
	}
	return t, nil
}

func parseOptionalTime(s *string) (*time.Time, error) {
	if s == nil {
		return nil, nil
	}
	t, err := parseTime(*s)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
