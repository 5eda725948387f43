package history

import (
	"encoding/json"
	"time"
)

// Triggers recorded with each deployment.
const (
	TriggerHTTP    = "http"
	TriggerWebhook = "webhook"
	TriggerCLI     = "cli"
)

// StatusRejected marks a trigger refused because the target was busy. The
// other statuses are those of deployment.Status.
const StatusRejected = "rejected"

// DeploymentRecord represents a single deployment event in the database
type DeploymentRecord struct {
	ID              string            `json:"id"`
	Target          string            `json:"target"`
	Trigger         string            `json:"trigger"`
	Status          string            `json:"status"` // in_progress, success, failure, rejected
	DryRun          bool              `json:"dry_run"`
	FromRevision    *string           `json:"from_revision,omitempty"`
	ToRevision      *string           `json:"to_revision,omitempty"`
	Created         int               `json:"created"`
	Updated         int               `json:"updated"`
	Deleted         int               `json:"deleted"`
	StartedAt       time.Time         `json:"started_at"`
	CompletedAt     *time.Time        `json:"completed_at,omitempty"`
	DurationSeconds *float64          `json:"duration_seconds,omitempty"`
	ErrorMessage    *string           `json:"error,omitempty"`
	ChangeSet       json.RawMessage   `json:"change_set,omitempty"`
	Executions      []ExecutionRecord `json:"executions,omitempty"`
}

// ExecutionRecord is one processor invocation of a deployment.
type ExecutionRecord struct {
	Position    int        `json:"position"`
	Processor   string     `json:"processor"`
	Status      string     `json:"status"`
	Detail      string     `json:"detail,omitempty"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// TargetStatus is the latest state of a target
type TargetStatus struct {
	Target            string             `json:"target"`
	ProcessedRevision string             `json:"processed_revision,omitempty"`
	LatestDeployment  *DeploymentRecord  `json:"latest_deployment,omitempty"`
	RecentHistory     []DeploymentRecord `json:"recent_history"`
}

// deploymentRow and executionRow mirror the table layout. Timestamps are
// stored as fixed-width UTC text so they sort correctly.
type deploymentRow struct {
	ID              string   `db:"id"`
	TargetID        string   `db:"target_id"`
	Trigger         string   `db:"triggered_by"`
	Status          string   `db:"status"`
	DryRun          bool     `db:"dry_run"`
	FromRevision    *string  `db:"from_revision"`
	ToRevision      *string  `db:"to_revision"`
	CreatedCount    int      `db:"created_count"`
	UpdatedCount    int      `db:"updated_count"`
	DeletedCount    int      `db:"deleted_count"`
	ChangeSet       *string  `db:"changeset"`
	StartedAt       string   `db:"started_at"`
	CompletedAt     *string  `db:"completed_at"`
	DurationSeconds *float64 `db:"duration_seconds"`
	ErrorMessage    *string  `db:"error_message"`
}

type executionRow struct {
	DeploymentID string  `db:"deployment_id"`
	Position     int     `db:"position"`
	Processor    string  `db:"processor"`
	Status       string  `db:"status"`
	Detail       string  `db:"detail"`
	StartedAt    string  `db:"started_at"`
	CompletedAt  *string `db:"completed_at"`
}
