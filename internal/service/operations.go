package service

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/roach88/atsguard/internal/audit"
	"github.com/roach88/atsguard/internal/fsm"
	"github.com/roach88/atsguard/internal/matcher"
	"github.com/roach88/atsguard/internal/store"
	"github.com/roach88/atsguard/internal/tenant"
)

// Transition asks the FSM engine to move a subject between statuses.
func (s *Service) Transition(ctx context.Context, scope tenant.Scope, req fsm.Request) (fsm.Result, error) {
	res, err := s.engine.AttemptTransition(ctx, scope, req)
	s.observe(scope, "transition", err)
	return res, err
}

// GetCandidate loads one candidate.
func (s *Service) GetCandidate(ctx context.Context, scope tenant.Scope, id string) (store.Candidate, error) {
	var c store.Candidate
	err := s.read(ctx, scope, "get_candidate", func(tx *store.Tx) error {
		var err error
		c, err = tx.GetCandidate(ctx, id)
		return err
	})
	return c, err
}

// GetApplication loads one live application.
func (s *Service) GetApplication(ctx context.Context, scope tenant.Scope, id string) (store.Application, error) {
	var a store.Application
	err := s.read(ctx, scope, "get_application", func(tx *store.Tx) error {
		var err error
		a, err = tx.GetApplication(ctx, id)
		return err
	})
	return a, err
}

// ListApplications lists live applications, optionally of one candidate.
func (s *Service) ListApplications(ctx context.Context, scope tenant.Scope, candidateID string) ([]store.Application, error) {
	var apps []store.Application
	err := s.read(ctx, scope, "list_applications", func(tx *store.Tx) error {
		var err error
		apps, err = tx.ListApplications(ctx, candidateID)
		return err
	})
	return apps, err
}

// History returns the subject's audit records in order.
func (s *Service) History(ctx context.Context, scope tenant.Scope, subject audit.Subject) ([]store.TransitionRecord, error) {
	var recs []store.TransitionRecord
	err := s.read(ctx, scope, "history", func(tx *store.Tx) error {
		if err := requireSubject(ctx, tx, subject); err != nil {
			return err
		}
		var err error
		recs, err = audit.NewLog(tx).List(ctx, subject)
		return err
	})
	return recs, err
}

// requireSubject fails with NOT_FOUND unless the subject is visible in the
// scope, so an empty trail is never confused with a hidden one.
func requireSubject(ctx context.Context, tx *store.Tx, subject audit.Subject) error {
	var err error
	switch subject.Type {
	case audit.SubjectApplication:
		_, err = tx.GetApplication(ctx, subject.ID)
	case audit.SubjectCandidate:
		_, err = tx.GetCandidate(ctx, subject.ID)
	default:
		err = fmt.Errorf("%w: unknown subject type %q", ErrInvalidInput, subject.Type)
	}
	return err
}

// VerifyHistory recomputes the subject's audit hash chain.
func (s *Service) VerifyHistory(ctx context.Context, scope tenant.Scope, subject audit.Subject) (audit.Report, error) {
	var rep audit.Report
	err := s.read(ctx, scope, "verify_history", func(tx *store.Tx) error {
		if err := requireSubject(ctx, tx, subject); err != nil {
			return err
		}
		var err error
		rep, err = audit.NewLog(tx).Verify(ctx, subject)
		return err
	})
	return rep, err
}

// Profile holds the editable candidate fields.
type Profile struct {
	FullName    string
	Email       string
	Phone       string
	Skills      []string
	Experience  map[string]any
	CTCCurrent  string
	CTCExpected string
}

// UpdateCandidateProfile rewrites a candidate's profile and recomputes its
// fingerprint. Restricted to system actors; status and blacklist are changed
// only through transitions and SetBlacklisted.
func (s *Service) UpdateCandidateProfile(ctx context.Context, scope tenant.Scope, id string, p Profile) (store.Candidate, error) {
	if err := requireSystem(scope, "update candidate profile"); err != nil {
		s.observe(scope, "update_candidate_profile", err)
		return store.Candidate{}, err
	}
	p.FullName = strings.TrimSpace(p.FullName)
	if p.FullName == "" {
		return store.Candidate{}, fmt.Errorf("%w: full name is required", ErrInvalidInput)
	}

	var c store.Candidate
	err := s.write(ctx, scope, "update_candidate_profile", func(tx *store.Tx) error {
		var err error
		c, err = tx.GetCandidate(ctx, id)
		if err != nil {
			return err
		}
		c.FullName = p.FullName
		c.Email = strings.TrimSpace(p.Email)
		c.Phone = strings.TrimSpace(p.Phone)
		c.Skills = p.Skills
		c.Experience = p.Experience
		c.CTCCurrent = p.CTCCurrent
		c.CTCExpected = p.CTCExpected
		c.Fingerprint = matcher.Fingerprint(matcher.Identity{FullName: c.FullName, Email: c.Email, Phone: c.Phone})
		c.UpdatedAt = s.clock.Now()
		return tx.UpdateCandidateProfile(ctx, c)
	})
	if err != nil {
		return store.Candidate{}, err
	}
	return c, nil
}

// SetBlacklisted sets or clears a candidate's blacklist flag. Restricted to
// system actors. Clearing the flag of a LEFT_COMPANY candidate is refused by
// storage.
func (s *Service) SetBlacklisted(ctx context.Context, scope tenant.Scope, id string, blacklisted bool) error {
	if err := requireSystem(scope, "set blacklisted"); err != nil {
		s.observe(scope, "set_blacklisted", err)
		return err
	}
	return s.write(ctx, scope, "set_blacklisted", func(tx *store.Tx) error {
		return tx.SetCandidateBlacklisted(ctx, id, blacklisted, s.clock.Now())
	})
}

// ClearReviewFlag lifts an application's review flag. Only a human with the
// admin or reviewer role may do so.
func (s *Service) ClearReviewFlag(ctx context.Context, scope tenant.Scope, applicationID string) error {
	if err := requireHumanRole(scope, "clear review flag", tenant.RoleAdmin, tenant.RoleReviewer); err != nil {
		s.observe(scope, "clear_review_flag", err)
		return err
	}
	err := s.write(ctx, scope, "clear_review_flag", func(tx *store.Tx) error {
		return tx.ClearReviewFlag(ctx, applicationID, s.clock.Now())
	})
	if err == nil {
		s.logger.Info("review flag cleared",
			zap.String("tenant_id", scope.TenantID()),
			zap.String("actor_id", scope.Actor().ID),
			zap.String("application_id", applicationID),
		)
	}
	return err
}

// DeleteApplication soft-deletes an application. Allowed for system actors
// and humans with the admin role.
func (s *Service) DeleteApplication(ctx context.Context, scope tenant.Scope, applicationID string) error {
	actor := scope.Actor()
	if !actor.IsSystem() && !actor.HasRole(tenant.RoleAdmin) {
		err := tenant.NewAuthorizationError("delete application requires admin", scope.TenantID(), actor.ID)
		s.observe(scope, "delete_application", err)
		return err
	}
	return s.write(ctx, scope, "delete_application", func(tx *store.Tx) error {
		return tx.SoftDeleteApplication(ctx, applicationID, s.clock.Now())
	})
}
