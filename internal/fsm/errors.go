package fsm

import (
	"errors"
	"fmt"
)

// TransitionErrorCode categorizes refused transitions.
type TransitionErrorCode string

const (
	// ErrCodeStaleState indicates the subject's status is not the expected
	// one, usually because a concurrent transition won. Retryable after a
	// re-read.
	ErrCodeStaleState TransitionErrorCode = "STALE_STATE"

	// ErrCodeInvalidTransition indicates the edge is not allowed.
	ErrCodeInvalidTransition TransitionErrorCode = "INVALID_TRANSITION"

	// ErrCodeTerminalState indicates the subject is in a terminal status.
	ErrCodeTerminalState TransitionErrorCode = "TERMINAL_STATE"
)

// Rules named by TransitionError.Rule.
const (
	RuleUnknownStatus      = "unknown_status"
	RuleUnknownSubjectType = "unknown_subject_type"
	RuleNoOp               = "no_op_transition"
	RuleEdgeNotAllowed     = "edge_not_allowed"
	RuleFlaggedForReview   = "flagged_for_review"
	RuleBlacklisted        = "candidate_blacklisted"
	RuleStaleState         = "stale_state"
	RuleTerminalState      = "terminal_state"
)

// SkipRule names a missing history prerequisite, e.g.
// "cannot skip JOINED before LEFT_COMPANY".
func SkipRule(required, target string) string {
	return fmt.Sprintf("cannot skip %s before %s", required, target)
}

// TransitionError is a refused transition. Nothing was written when it is
// returned.
type TransitionError struct {
	Code TransitionErrorCode

	// Rule is a stable identifier of the violated rule.
	Rule    string
	Message string

	SubjectType string
	SubjectID   string
	From        string
	To          string

	// Current is the status found in storage, when it was read.
	Current string
}

// Error implements the error interface.
func (e *TransitionError) Error() string {
	return fmt.Sprintf("%s: %s (%s %s: %s -> %s, rule=%s)",
		e.Code, e.Message, e.SubjectType, e.SubjectID, e.From, e.To, e.Rule)
}

func hasCode(err error, code TransitionErrorCode) bool {
	var te *TransitionError
	if errors.As(err, &te) {
		return te.Code == code
	}
	return false
}

// IsStale reports whether err is a STALE_STATE TransitionError.
func IsStale(err error) bool { return hasCode(err, ErrCodeStaleState) }

// IsInvalid reports whether err is an INVALID_TRANSITION TransitionError.
func IsInvalid(err error) bool { return hasCode(err, ErrCodeInvalidTransition) }

// IsTerminal reports whether err is a TERMINAL_STATE TransitionError.
func IsTerminal(err error) bool { return hasCode(err, ErrCodeTerminalState) }

// RuleOf returns the rule of a TransitionError, or "" for any other error.
func RuleOf(err error) string {
	var te *TransitionError
	if errors.As(err, &te) {
		return te.Rule
	}
	return ""
}

func refuse(code TransitionErrorCode, rule string, req Request, current, format string, args ...any) *TransitionError {
	return &TransitionError{
		Code:        code,
		Rule:        rule,
		Message:     fmt.Sprintf(format, args...),
		SubjectType: req.Subject.Type,
		SubjectID:   req.Subject.ID,
		From:        req.FromExpected,
		To:          req.To,
		Current:     current,
	}
}
