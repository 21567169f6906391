package service

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/roach88/atsguard/internal/fsm"
	"github.com/roach88/atsguard/internal/matcher"
	"github.com/roach88/atsguard/internal/store"
	"github.com/roach88/atsguard/internal/tenant"
)

// IntakeRequest is a proposed candidate and the role they apply for, as
// delivered by the ingestion collaborator.
type IntakeRequest struct {
	FullName    string         `json:"full_name" yaml:"full_name" mapstructure:"full_name"`
	Email       string         `json:"email,omitempty" yaml:"email" mapstructure:"email"`
	Phone       string         `json:"phone,omitempty" yaml:"phone" mapstructure:"phone"`
	Skills      []string       `json:"skills,omitempty" yaml:"skills" mapstructure:"skills"`
	Experience  map[string]any `json:"experience,omitempty" yaml:"experience" mapstructure:"experience"`
	CTCCurrent  string         `json:"ctc_current,omitempty" yaml:"ctc_current" mapstructure:"ctc_current"`
	CTCExpected string         `json:"ctc_expected,omitempty" yaml:"ctc_expected" mapstructure:"ctc_expected"`
	JobTitle    string         `json:"job_title" yaml:"job_title" mapstructure:"job_title"`
}

func (r IntakeRequest) identity() matcher.Identity {
	return matcher.Identity{FullName: r.FullName, Email: r.Email, Phone: r.Phone}
}

// IntakeResult reports what intake created.
type IntakeResult struct {
	// Decision is DecisionClean ("create clean") or DecisionFlagged
	// ("create flagged").
	Decision           matcher.Decision `json:"decision"`
	Reason             string           `json:"reason,omitempty"`
	MatchedCandidateID string           `json:"matched_candidate_id,omitempty"`

	CandidateID     string `json:"candidate_id"`
	ApplicationID   string `json:"application_id"`
	ReusedCandidate bool   `json:"reused_candidate"`
}

// Intake runs duplicate detection for a proposed candidate and creates the
// application.
//
//   - A flagging match creates a new candidate and an application flagged for
//     review whose reason names the matched candidate.
//   - An exact fingerprint match to a candidate in good standing reuses that
//     candidate.
//   - Otherwise a new candidate is created.
//
// The matched candidate is never modified. Matching and creation happen in
// one transaction, so the decision is made against the state that commits.
func (s *Service) Intake(ctx context.Context, scope tenant.Scope, req IntakeRequest) (IntakeResult, error) {
	req.FullName = strings.TrimSpace(req.FullName)
	req.Email = strings.TrimSpace(req.Email)
	req.Phone = strings.TrimSpace(req.Phone)
	if req.FullName == "" {
		return IntakeResult{}, fmt.Errorf("%w: full name is required", ErrInvalidInput)
	}

	var out IntakeResult
	err := s.write(ctx, scope, "intake", func(tx *store.Tx) error {
		res, err := s.matcher.Check(ctx, tx, req.identity())
		if err != nil {
			return err
		}
		out = IntakeResult{
			Decision:           res.Decision,
			Reason:             res.Reason,
			MatchedCandidateID: res.MatchedCandidateID(),
		}

		now := s.clock.Now()
		if !res.Flagged() && res.Best != nil && res.Best.Exact {
			out.CandidateID = res.Best.CandidateID
			out.ReusedCandidate = true
		} else {
			out.CandidateID = s.ids.Generate()
			err := tx.InsertCandidate(ctx, store.Candidate{
				ID:          out.CandidateID,
				FullName:    req.FullName,
				Email:       req.Email,
				Phone:       req.Phone,
				Skills:      req.Skills,
				Experience:  req.Experience,
				CTCCurrent:  req.CTCCurrent,
				CTCExpected: req.CTCExpected,
				Status:      fsm.CandidateMachine().Initial(),
				Fingerprint: res.Fingerprint,
				CreatedAt:   now,
				UpdatedAt:   now,
			})
			if err != nil {
				return err
			}
		}

		out.ApplicationID = s.ids.Generate()
		return tx.InsertApplication(ctx, store.Application{
			ID:               out.ApplicationID,
			CandidateID:      out.CandidateID,
			JobTitle:         req.JobTitle,
			Status:           fsm.ApplicationMachine().Initial(),
			FlaggedForReview: res.Flagged(),
			FlagReason:       res.Reason,
			CreatedAt:        now,
			UpdatedAt:        now,
		})
	})
	if err != nil {
		return IntakeResult{}, fmt.Errorf("intake: %w", err)
	}

	s.logger.Info("intake",
		zap.String("tenant_id", scope.TenantID()),
		zap.String("decision", string(out.Decision)),
		zap.String("candidate_id", out.CandidateID),
		zap.String("application_id", out.ApplicationID),
		zap.String("matched_candidate_id", out.MatchedCandidateID),
		zap.Bool("reused_candidate", out.ReusedCandidate),
	)
	return out, nil
}
