package services

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"
)

// Error categories surfaced by the stage engine. Callers match them with errors.Is.
var (
	ErrNotFound             = errors.New("resource not found")
	ErrInvalidState         = errors.New("invalid state")
	ErrInvalidInput         = errors.New("invalid input")
	ErrStageInactive        = errors.New("stage is not active")
	ErrCatalogInconsistency = errors.New("catalog inconsistency")
	ErrPersistence          = errors.New("persistence failure")
	ErrScanInProgress       = errors.New("delay scan already in progress")
)

// persistenceError wraps a storage error so both the category and the driver error match.
// sql.ErrNoRows is reported as ErrNotFound, and so is an id Postgres cannot parse
// (22P02), since it cannot match any row.
func persistenceError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) || isInvalidTextRepresentation(err) {
		return fmt.Errorf("%w: %s", ErrNotFound, op)
	}
	return fmt.Errorf("%w: %s: %w", ErrPersistence, op, err)
}

// isUniqueViolation reports a Postgres unique_violation (23505) anywhere in err's chain.
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

func isInvalidTextRepresentation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "22P02"
}
