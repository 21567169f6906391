package store

import (
	"errors"
	"fmt"
	"strings"

	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"

	"github.com/roach88/atsguard/internal/tenant"
)

// Storage errors not covered by the tenant access taxonomy.
var (
	// ErrInvariantViolation is returned when a CHECK constraint rejects a write.
	ErrInvariantViolation = errors.New("storage invariant violated")

	// ErrAppendOnly is returned when an audit record is updated or deleted.
	ErrAppendOnly = errors.New("transition records are append-only")

	// ErrDuplicate is returned when a unique key already exists.
	ErrDuplicate = errors.New("duplicate key")

	// ErrSeqConflict is returned when a subject's next audit sequence number
	// was taken by a concurrent append. It wraps ErrDuplicate.
	ErrSeqConflict = fmt.Errorf("%w: audit sequence already recorded", ErrDuplicate)
)

// Names that identify the (subject_type, subject_id, seq) unique key in
// driver errors.
const (
	sqliteSeqKey   = "transition_records.subject_type, transition_records.subject_id, transition_records.seq"
	postgresSeqKey = "transition_records_subject_seq_key"
)

// Messages raised by schema triggers.
const (
	raiseCrossTenant = "cross_tenant_violation"
	raiseAppendOnly  = "append_only"
)

// Postgres SQLSTATE codes translated by translateError.
const (
	pgInsufficientPrivilege = "42501"
	pgForeignKeyViolation   = "23503"
	pgCheckViolation        = "23514"
	pgUniqueViolation       = "23505"
	pgRaiseException        = "P0001"
)

// translateError maps driver errors onto the store and tenant error taxonomy.
// Unrecognised errors are returned unchanged.
func translateError(scope tenant.Scope, entity, id string, err error) error {
	if err == nil {
		return nil
	}

	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) {
		msg := liteErr.Error()
		switch {
		case strings.Contains(msg, raiseCrossTenant):
			return tenant.NewCrossTenantError(scope, entity, id, err)
		case strings.Contains(msg, raiseAppendOnly):
			return fmt.Errorf("%w: %w", ErrAppendOnly, err)
		case liteErr.ExtendedCode == sqlite3.ErrConstraintForeignKey:
			return tenant.NewCrossTenantError(scope, entity, id, err)
		case liteErr.ExtendedCode == sqlite3.ErrConstraintCheck:
			return fmt.Errorf("%w: %w", ErrInvariantViolation, err)
		case liteErr.ExtendedCode == sqlite3.ErrConstraintUnique && strings.Contains(msg, sqliteSeqKey):
			return fmt.Errorf("%w: %w", ErrSeqConflict, err)
		case liteErr.ExtendedCode == sqlite3.ErrConstraintUnique,
			liteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey:
			return fmt.Errorf("%w: %w", ErrDuplicate, err)
		}
		return err
	}

	var pgErr *pq.Error
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgInsufficientPrivilege, pgForeignKeyViolation:
			return tenant.NewCrossTenantError(scope, entity, id, err)
		case pgCheckViolation:
			return fmt.Errorf("%w: %w", ErrInvariantViolation, err)
		case pgUniqueViolation:
			if pgErr.Constraint == postgresSeqKey {
				return fmt.Errorf("%w: %w", ErrSeqConflict, err)
			}
			return fmt.Errorf("%w: %w", ErrDuplicate, err)
		case pgRaiseException:
			switch pgErr.Message {
			case raiseAppendOnly:
				return fmt.Errorf("%w: %w", ErrAppendOnly, err)
			case raiseCrossTenant:
				return tenant.NewCrossTenantError(scope, entity, id, err)
			}
		}
	}
	return err
}
