package service

import (
	"errors"

	"go.uber.org/zap"

	"github.com/roach88/atsguard/internal/fsm"
	"github.com/roach88/atsguard/internal/store"
	"github.com/roach88/atsguard/internal/tenant"
)

// Outcome is the externally visible category of an error.
type Outcome string

const (
	OutcomeOK         Outcome = "ok"
	OutcomeAuthFailed Outcome = "auth_failed"
	OutcomeNotFound   Outcome = "not_found"
	OutcomeConflict   Outcome = "conflict"
	OutcomeRejected   Outcome = "rejected"
	OutcomeInternal   Outcome = "internal"
)

// Retryable reports whether the caller may retry after re-reading state.
func (o Outcome) Retryable() bool {
	return o == OutcomeConflict
}

// Classify maps an error onto an Outcome.
//
// Rows owned by another tenant, rows that do not exist and operations the
// actor may not perform all classify as OutcomeNotFound, so responses never
// reveal that another tenant's row exists.
func Classify(err error) Outcome {
	switch {
	case err == nil:
		return OutcomeOK
	case tenant.IsAuthentication(err), errors.Is(err, tenant.ErrNoScope):
		return OutcomeAuthFailed
	case tenant.IsCrossTenant(err), tenant.IsNotFound(err), tenant.IsAuthorization(err):
		return OutcomeNotFound
	case fsm.IsStale(err), errors.Is(err, store.ErrDuplicate):
		return OutcomeConflict
	case fsm.IsInvalid(err), fsm.IsTerminal(err),
		errors.Is(err, ErrInvalidInput), errors.Is(err, store.ErrInvariantViolation):
		return OutcomeRejected
	default:
		return OutcomeInternal
	}
}

// observe logs access failures as security events with full internal
// detail. Other errors are left to the caller.
func (s *Service) observe(scope tenant.Scope, op string, err error) {
	var ae *tenant.AccessError
	if err == nil || !errors.As(err, &ae) {
		return
	}
	fields := []zap.Field{
		zap.Bool("security_event", true),
		zap.String("op", op),
		zap.String("code", string(ae.Code)),
		zap.String("tenant_id", scope.TenantID()),
		zap.String("actor_id", scope.Actor().ID),
		zap.String("entity", ae.Entity),
		zap.String("entity_id", ae.EntityID),
		zap.Error(err),
	}
	if ae.Code == tenant.ErrCodeNotFound {
		s.logger.Debug("entity not found", fields...)
		return
	}
	s.logger.Warn("access denied", fields...)
}
