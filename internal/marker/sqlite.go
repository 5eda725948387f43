package marker

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
)

// SQLiteStore keeps markers in the processed_commits table.
type SQLiteStore struct {
	DB *sqlx.DB
}

func (s *SQLiteStore) Get(ctx context.Context, targetID string) (string, error) {
	if err := validateTargetID(targetID); err != nil {
		return "", err
	}

	var rev string
	err := s.DB.GetContext(ctx, &rev, `SELECT revision FROM processed_commits WHERE target_id = ?`, targetID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("target %q: %w", targetID, ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("get marker: %w", err)
	}
	return rev, nil
}

func (s *SQLiteStore) Put(ctx context.Context, targetID, revision string) error {
	if err := validateTargetID(targetID); err != nil {
		return err
	}
	if err := validateRevision(revision); err != nil {
		return err
	}

	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO processed_commits (target_id, revision, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT (target_id) DO UPDATE SET
			revision = excluded.revision,
			updated_at = excluded.updated_at
	`, targetID, revision, time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("put marker: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Delete(ctx context.Context, targetID string) error {
	if err := validateTargetID(targetID); err != nil {
		return err
	}

	if _, err := s.DB.ExecContext(ctx, `DELETE FROM processed_commits WHERE target_id = ?`, targetID); err != nil {
		return fmt.Errorf("delete marker: %w", err)
	}
	return nil
}
