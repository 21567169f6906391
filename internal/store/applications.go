package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/roach88/atsguard/internal/queryir"
	"github.com/roach88/atsguard/internal/tenant"
)

const entityApplication = "application"

var applicationColumns = []string{
	"id", "tenant_id", "candidate_id", "job_title", "status",
	"flagged_for_review", "flag_reason", "deleted_at", "created_at", "updated_at",
}

var liveApplication = queryir.IsNull{Column: "deleted_at"}

// InsertApplication adds an application. The referenced candidate must be in
// the same tenant; the composite foreign key rejects anything else.
func (t *Tx) InsertApplication(ctx context.Context, a Application) error {
	tenantID := a.TenantID
	if tenantID == "" {
		tenantID = t.scope.TenantID()
	}
	_, err := t.execStmt(ctx, queryir.Insert{
		Into: "applications",
		Columns: []string{
			"id", "tenant_id", "candidate_id", "job_title", "status",
			"flagged_for_review", "flag_reason", "created_at", "updated_at",
		},
		Values: []any{
			a.ID, tenantID, a.CandidateID, a.JobTitle, a.Status,
			a.FlaggedForReview, a.FlagReason, a.CreatedAt.UTC(), a.UpdatedAt.UTC(),
		},
	}, entityApplication, a.ID)
	if err != nil {
		return fmt.Errorf("insert application: %w", err)
	}
	return nil
}

// GetApplication loads a live application visible in the scope. Absent,
// soft-deleted and other-tenant rows all yield a NOT_FOUND AccessError.
func (t *Tx) GetApplication(ctx context.Context, id string) (Application, error) {
	return t.loadApplication(ctx, id, false)
}

// LockApplication is GetApplication with a row lock (Postgres only).
func (t *Tx) LockApplication(ctx context.Context, id string) (Application, error) {
	return t.loadApplication(ctx, id, true)
}

func (t *Tx) loadApplication(ctx context.Context, id string, lock bool) (Application, error) {
	rows, err := t.queryStmt(ctx, queryir.Select{
		From:      "applications",
		Columns:   applicationColumns,
		Filter:    queryir.All(queryir.Eq("id", id), liveApplication),
		Limit:     1,
		ForUpdate: lock,
	}, entityApplication)
	if err != nil {
		return Application{}, fmt.Errorf("get application: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return Application{}, fmt.Errorf("get application: %w", err)
		}
		return Application{}, tenant.NewNotFoundError(t.scope, entityApplication, id)
	}
	a, err := scanApplication(rows)
	if err != nil {
		return Application{}, fmt.Errorf("get application: %w", err)
	}
	return a, nil
}

// ListApplications returns live applications in the scope, oldest first.
// An empty candidateID lists every application of the tenant.
func (t *Tx) ListApplications(ctx context.Context, candidateID string) ([]Application, error) {
	filter := queryir.All(liveApplication)
	if candidateID != "" {
		filter = queryir.All(liveApplication, queryir.Eq("candidate_id", candidateID))
	}
	rows, err := t.queryStmt(ctx, queryir.Select{
		From:    "applications",
		Columns: applicationColumns,
		Filter:  filter,
		OrderBy: []queryir.Order{{Column: "created_at"}},
	}, entityApplication)
	if err != nil {
		return nil, fmt.Errorf("list applications: %w", err)
	}
	defer rows.Close()

	var out []Application
	for rows.Next() {
		a, err := scanApplication(rows)
		if err != nil {
			return nil, fmt.Errorf("scan application: %w", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list applications: %w", err)
	}
	return out, nil
}

// CompareAndSetApplicationStatus moves a live application from ch.From to
// ch.To. It reports false when the stored status is no longer ch.From.
func (t *Tx) CompareAndSetApplicationStatus(ctx context.Context, ch StatusChange) (bool, error) {
	n, err := t.execStmt(ctx, queryir.Update{
		Table: "applications",
		Set: []queryir.Assignment{
			{Column: "status", Value: ch.To},
			{Column: "updated_at", Value: ch.At.UTC()},
		},
		Filter: queryir.All(queryir.Eq("id", ch.ID), queryir.Eq("status", ch.From), liveApplication),
	}, entityApplication, ch.ID)
	if err != nil {
		return false, fmt.Errorf("update application status: %w", err)
	}
	return n == 1, nil
}

// ClearReviewFlag lifts the review flag. The reason is kept for history.
func (t *Tx) ClearReviewFlag(ctx context.Context, id string, at time.Time) error {
	n, err := t.execStmt(ctx, queryir.Update{
		Table: "applications",
		Set: []queryir.Assignment{
			{Column: "flagged_for_review", Value: false},
			{Column: "updated_at", Value: at.UTC()},
		},
		Filter: queryir.All(queryir.Eq("id", id), liveApplication),
	}, entityApplication, id)
	if err != nil {
		return fmt.Errorf("clear review flag: %w", err)
	}
	return t.expectOne(n, entityApplication, id)
}

// SoftDeleteApplication sets the deletion marker. Deleted applications are
// invisible to every read and are never resurrected.
func (t *Tx) SoftDeleteApplication(ctx context.Context, id string, at time.Time) error {
	n, err := t.execStmt(ctx, queryir.Update{
		Table: "applications",
		Set: []queryir.Assignment{
			{Column: "deleted_at", Value: at.UTC()},
			{Column: "updated_at", Value: at.UTC()},
		},
		Filter: queryir.All(queryir.Eq("id", id), liveApplication),
	}, entityApplication, id)
	if err != nil {
		return fmt.Errorf("delete application: %w", err)
	}
	return t.expectOne(n, entityApplication, id)
}

func scanApplication(r rowScanner) (Application, error) {
	var (
		a       Application
		deleted sql.NullTime
	)
	if err := r.Scan(
		&a.ID, &a.TenantID, &a.CandidateID, &a.JobTitle, &a.Status,
		&a.FlaggedForReview, &a.FlagReason, &deleted, &a.CreatedAt, &a.UpdatedAt,
	); err != nil {
		return Application{}, err
	}
	if deleted.Valid {
		a.DeletedAt = deleted.Time.UTC()
	}
	a.CreatedAt = a.CreatedAt.UTC()
	a.UpdatedAt = a.UpdatedAt.UTC()
	return a, nil
}
