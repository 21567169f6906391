package fsm

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/roach88/atsguard/internal/audit"
	"github.com/roach88/atsguard/internal/ident"
	"github.com/roach88/atsguard/internal/store"
	"github.com/roach88/atsguard/internal/tenant"
)

// Request asks for one status change.
type Request struct {
	Subject audit.Subject

	// FromExpected is the status the caller believes the subject is in.
	// The transition is refused as stale when it is not.
	FromExpected string
	To           string
	Reason       string
}

// Result describes a committed transition.
type Result struct {
	SubjectType string
	SubjectID   string
	From        string
	To          string
	Seq         int64
	Terminal    bool
	Record      store.TransitionRecord
}

// Engine executes transitions. It holds no per-request state and is safe for
// concurrent use; serialization of competing transitions on one subject is
// done by the database (row lock plus compare-and-swap).
type Engine struct {
	store  *store.Store
	ids    ident.Generator
	clock  ident.Clock
	logger *zap.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock sets the clock used to stamp transitions.
// Default: ident.SystemClock.
func WithClock(c ident.Clock) Option {
	return func(e *Engine) {
		e.clock = c
	}
}

// WithLogger sets the engine logger. Default: no-op.
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) {
		e.logger = l
	}
}

// New creates an Engine over s. ids supplies audit record and outbox ids.
func New(s *store.Store, ids ident.Generator, opts ...Option) *Engine {
	e := &Engine{
		store:  s,
		ids:    ids,
		clock:  ident.SystemClock{},
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// AttemptTransition runs req in its own tenant-scoped transaction.
//
// On success the status update, the audit record and the outbox row are
// committed together. On any error nothing is written. Refusals are
// *TransitionError; a subject absent from the scope is a NOT_FOUND
// tenant.AccessError.
func (e *Engine) AttemptTransition(ctx context.Context, scope tenant.Scope, req Request) (Result, error) {
	var res Result
	err := e.store.WithTenantScope(ctx, scope, func(tx *store.Tx) error {
		var err error
		res, err = e.Apply(ctx, tx, req)
		return err
	})
	if err != nil {
		var te *TransitionError
		if errors.As(err, &te) {
			e.logger.Info("transition refused",
				zap.String("tenant_id", scope.TenantID()),
				zap.String("subject", req.Subject.String()),
				zap.String("from", req.FromExpected),
				zap.String("to", req.To),
				zap.String("code", string(te.Code)),
				zap.String("rule", te.Rule),
			)
		}
		return Result{}, err
	}

	e.logger.Info("transition committed",
		zap.String("tenant_id", scope.TenantID()),
		zap.String("subject", req.Subject.String()),
		zap.String("from", res.From),
		zap.String("to", res.To),
		zap.Int64("seq", res.Seq),
	)
	return res, nil
}

// Apply performs req inside an existing scoped transaction. The caller owns
// commit and rollback; on error the transaction must be rolled back.
func (e *Engine) Apply(ctx context.Context, tx *store.Tx, req Request) (Result, error) {
	m, ok := MachineFor(req.Subject.Type)
	if !ok {
		return Result{}, refuse(ErrCodeInvalidTransition, RuleUnknownSubjectType, req, "",
			"unknown subject type %q", req.Subject.Type)
	}
	for _, s := range []string{req.FromExpected, req.To} {
		if !m.Known(s) {
			return Result{}, refuse(ErrCodeInvalidTransition, RuleUnknownStatus, req, "",
				"%q is not a %s status", s, m.SubjectType())
		}
	}
	if req.FromExpected == req.To {
		return Result{}, refuse(ErrCodeInvalidTransition, RuleNoOp, req, "",
			"subject is already %s", req.To)
	}

	subj, err := e.lock(ctx, tx, req.Subject)
	if err != nil {
		return Result{}, err
	}
	if subj.status != req.FromExpected {
		return Result{}, refuse(ErrCodeStaleState, RuleStaleState, req, subj.status,
			"expected %s, found %s", req.FromExpected, subj.status)
	}
	if m.IsTerminal(subj.status) {
		return Result{}, refuse(ErrCodeTerminalState, RuleTerminalState, req, subj.status,
			"%s is terminal", subj.status)
	}

	log := audit.NewLog(tx)
	edge, ok := m.Edge(subj.status, req.To)
	if !ok {
		if required, has := m.Prerequisite(req.To); has {
			held, err := log.HasHeld(ctx, req.Subject, required)
			if err != nil {
				return Result{}, err
			}
			if !held {
				return Result{}, refuse(ErrCodeInvalidTransition, SkipRule(required, req.To), req, subj.status,
					"%s requires a recorded %s", req.To, required)
			}
		}
		return Result{}, refuse(ErrCodeInvalidTransition, RuleEdgeNotAllowed, req, subj.status,
			"no edge from %s to %s", subj.status, req.To)
	}
	if edge.Requires != "" {
		held, err := log.HasHeld(ctx, req.Subject, edge.Requires)
		if err != nil {
			return Result{}, err
		}
		if !held {
			return Result{}, refuse(ErrCodeInvalidTransition, SkipRule(edge.Requires, req.To), req, subj.status,
				"%s requires a recorded %s", req.To, edge.Requires)
		}
	}

	if subj.gate != "" && req.To != StatusRejected && req.To != StatusWithdrawn {
		return Result{}, refuse(ErrCodeInvalidTransition, subj.gate, req, subj.status,
			"only %s or %s allowed while %s", StatusRejected, StatusWithdrawn, subj.gate)
	}

	now := e.clock.Now()
	change := store.StatusChange{
		ID:        req.Subject.ID,
		From:      subj.status,
		To:        req.To,
		At:        now,
		Blacklist: req.To == StatusLeftCompany,
	}
	var swapped bool
	if req.Subject.Type == audit.SubjectCandidate {
		swapped, err = tx.CompareAndSetCandidateStatus(ctx, change)
	} else {
		swapped, err = tx.CompareAndSetApplicationStatus(ctx, change)
	}
	if err != nil {
		return Result{}, fmt.Errorf("transition %s: %w", req.Subject, err)
	}
	if !swapped {
		return Result{}, refuse(ErrCodeStaleState, RuleStaleState, req, "",
			"status changed concurrently")
	}

	rec, err := audit.Append(ctx, tx, audit.Entry{
		ID:         e.ids.Generate(),
		Subject:    req.Subject,
		OldStatus:  subj.status,
		NewStatus:  req.To,
		ActorID:    tx.Scope().Actor().ID,
		ActorKind:  tx.Scope().Actor().Kind,
		Reason:     req.Reason,
		Terminal:   edge.Terminal,
		OccurredAt: now,
	})
	if errors.Is(err, store.ErrSeqConflict) {
		return Result{}, refuse(ErrCodeStaleState, RuleStaleState, req, "",
			"history advanced concurrently")
	}
	if errors.Is(err, store.ErrDuplicate) {
		// Any other key collision is a storage fault, not a retryable race.
		return Result{}, fmt.Errorf("transition %s: %v", req.Subject, err)
	}
	if err != nil {
		return Result{}, err
	}

	err = tx.EnqueueNotification(ctx, store.Notification{
		ID:          e.ids.Generate(),
		SubjectType: rec.SubjectType,
		SubjectID:   rec.SubjectID,
		Seq:         rec.Seq,
		OldStatus:   rec.OldStatus,
		NewStatus:   rec.NewStatus,
		OccurredAt:  rec.OccurredAt,
	})
	if err != nil {
		return Result{}, err
	}

	return Result{
		SubjectType: rec.SubjectType,
		SubjectID:   rec.SubjectID,
		From:        rec.OldStatus,
		To:          rec.NewStatus,
		Seq:         rec.Seq,
		Terminal:    rec.Terminal,
		Record:      rec,
	}, nil
}

// lockedSubject is the state of a subject read under lock.
type lockedSubject struct {
	status string

	// gate is the rule restricting transitions to exits, if any.
	gate string
}

func (e *Engine) lock(ctx context.Context, tx *store.Tx, s audit.Subject) (lockedSubject, error) {
	if s.Type == audit.SubjectCandidate {
		c, err := tx.LockCandidate(ctx, s.ID)
		if err != nil {
			return lockedSubject{}, err
		}
		return lockedSubject{status: c.Status}, nil
	}

	app, err := tx.LockApplication(ctx, s.ID)
	if err != nil {
		return lockedSubject{}, err
	}
	subj := lockedSubject{status: app.Status}
	if app.FlaggedForReview {
		subj.gate = RuleFlaggedForReview
		return subj, nil
	}
	c, err := tx.GetCandidate(ctx, app.CandidateID)
	if err != nil {
		return lockedSubject{}, err
	}
	if c.Blacklisted {
		subj.gate = RuleBlacklisted
	}
	return subj, nil
}
