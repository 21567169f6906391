package store

import (
	"context"
	"fmt"

	"github.com/roach88/atsguard/internal/queryir"
)

const entityTransition = "transition_record"

var transitionColumns = []string{
	"id", "tenant_id", "subject_type", "subject_id", "seq", "old_status",
	"new_status", "actor_id", "actor_kind", "reason", "terminal", "occurred_at",
	"prev_hash", "hash",
}

// AppendTransition inserts one audit record. Sequence and hash are computed
// by the caller; a duplicate (subject, seq) yields ErrSeqConflict.
func (t *Tx) AppendTransition(ctx context.Context, rec TransitionRecord) error {
	tenantID := rec.TenantID
	if tenantID == "" {
		tenantID = t.scope.TenantID()
	}
	_, err := t.execStmt(ctx, queryir.Insert{
		Into:    "transition_records",
		Columns: transitionColumns,
		Values: []any{
			rec.ID, tenantID, rec.SubjectType, rec.SubjectID, rec.Seq, rec.OldStatus,
			rec.NewStatus, rec.ActorID, rec.ActorKind, rec.Reason, rec.Terminal,
			rec.OccurredAt.UTC(), rec.PrevHash, rec.Hash,
		},
	}, entityTransition, rec.ID)
	if err != nil {
		return fmt.Errorf("append transition: %w", err)
	}
	return nil
}

// ListTransitions returns a subject's audit records in sequence order.
func (t *Tx) ListTransitions(ctx context.Context, subjectType, subjectID string) ([]TransitionRecord, error) {
	return t.selectTransitions(ctx, subjectFilter(subjectType, subjectID), []queryir.Order{{Column: "seq"}}, 0)
}

// LastTransition returns the highest-sequence record of a subject. ok is
// false when the subject has no history.
func (t *Tx) LastTransition(ctx context.Context, subjectType, subjectID string) (rec TransitionRecord, ok bool, err error) {
	recs, err := t.selectTransitions(ctx, subjectFilter(subjectType, subjectID), []queryir.Order{{Column: "seq", Desc: true}}, 1)
	if err != nil {
		return TransitionRecord{}, false, err
	}
	if len(recs) == 0 {
		return TransitionRecord{}, false, nil
	}
	return recs[0], true, nil
}

// HasHeldStatus reports whether the subject ever transitioned into status.
func (t *Tx) HasHeldStatus(ctx context.Context, subjectType, subjectID, status string) (bool, error) {
	rows, err := t.queryStmt(ctx, queryir.Select{
		From:    "transition_records",
		Columns: []string{"id"},
		Filter:  queryir.All(subjectFilter(subjectType, subjectID), queryir.Eq("new_status", status)),
		Limit:   1,
	}, entityTransition)
	if err != nil {
		return false, fmt.Errorf("has held status: %w", err)
	}
	defer rows.Close()

	found := rows.Next()
	if err := rows.Err(); err != nil {
		return false, fmt.Errorf("has held status: %w", err)
	}
	return found, nil
}

func subjectFilter(subjectType, subjectID string) queryir.And {
	return queryir.All(queryir.Eq("subject_type", subjectType), queryir.Eq("subject_id", subjectID))
}

func (t *Tx) selectTransitions(ctx context.Context, filter queryir.Predicate, order []queryir.Order, limit int) ([]TransitionRecord, error) {
	rows, err := t.queryStmt(ctx, queryir.Select{
		From:    "transition_records",
		Columns: transitionColumns,
		Filter:  filter,
		OrderBy: order,
		Limit:   limit,
	}, entityTransition)
	if err != nil {
		return nil, fmt.Errorf("list transitions: %w", err)
	}
	defer rows.Close()

	var out []TransitionRecord
	for rows.Next() {
		var r TransitionRecord
		if err := rows.Scan(
			&r.ID, &r.TenantID, &r.SubjectType, &r.SubjectID, &r.Seq, &r.OldStatus,
			&r.NewStatus, &r.ActorID, &r.ActorKind, &r.Reason, &r.Terminal,
			&r.OccurredAt, &r.PrevHash, &r.Hash,
		); err != nil {
			return nil, fmt.Errorf("scan transition: %w", err)
		}
		r.OccurredAt = r.OccurredAt.UTC()
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list transitions: %w", err)
	}
	return out, nil
}
