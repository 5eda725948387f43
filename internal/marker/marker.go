// Package marker persists, per target, the last revision that every processor
// of the target's pipeline has fully processed.
package marker

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNotFound is returned by Get when the target has no marker.
	ErrNotFound = errors.New("marker not found")

	// ErrInvalidTarget is returned for target IDs that cannot be stored.
	ErrInvalidTarget = errors.New("invalid target id")
)

// Store is the processed-commit marker storage. Writes are atomic: a crash
// leaves either the previous or the new revision, never a partial value.
type Store interface {
	// Get returns the stored revision, or ErrNotFound.
	Get(ctx context.Context, targetID string) (string, error)

	// Put records revision as processed for targetID.
	Put(ctx context.Context, targetID, revision string) error

	// Delete removes the marker. Deleting an absent marker is not an error.
	Delete(ctx context.Context, targetID string) error
}

func validateTargetID(id string) error {
	if id == "" || id == "." || id == ".." || strings.ContainsAny(id, `/\`) || strings.ContainsRune(id, 0) {
		return fmt.Errorf("%w: %q", ErrInvalidTarget, id)
	}
	return nil
}

func validateRevision(rev string) error {
	if strings.TrimSpace(rev) == "" {
		return errors.New("revision must not be empty")
	}
	if strings.ContainsAny(rev, "\r\n") {
		return fmt.Errorf("revision %q contains a line break", rev)
	}
	return nil
}
