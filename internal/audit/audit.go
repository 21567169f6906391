// Package audit is the append-only history of status transitions.
//
// Every record is hash-chained to the previous record of the same subject
// (digest.ChainLink), so editing or removing an entry is detectable by
// Verify. Records are written only by Append, inside the transaction that
// performs the transition; the database additionally rejects UPDATE and
// DELETE on the table.
package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/roach88/atsguard/internal/digest"
	"github.com/roach88/atsguard/internal/store"
	"github.com/roach88/atsguard/internal/tenant"
)

// Subject types.
const (
	SubjectCandidate   = "candidate"
	SubjectApplication = "application"
)

// Subject identifies the entity whose status history is recorded.
type Subject struct {
	Type string
	ID   string
}

func (s Subject) String() string {
	return s.Type + "/" + s.ID
}

// Entry is one transition to record. Seq, PrevHash and Hash are assigned by
// Append.
type Entry struct {
	ID         string
	Subject    Subject
	OldStatus  string
	NewStatus  string
	ActorID    string
	ActorKind  tenant.ActorKind
	Reason     string
	Terminal   bool
	OccurredAt time.Time
}

// Writer is the storage surface Append needs. *store.Tx implements it.
type Writer interface {
	Scope() tenant.Scope
	LastTransition(ctx context.Context, subjectType, subjectID string) (store.TransitionRecord, bool, error)
	AppendTransition(ctx context.Context, rec store.TransitionRecord) error
}

// Append records e as the next entry of its subject's chain and returns the
// stored record.
//
// Two concurrent appends for the same subject cannot both succeed: the
// (subject, seq) pair is unique, so the loser fails with store.ErrSeqConflict
// and its transaction rolls back.
func Append(ctx context.Context, w Writer, e Entry) (store.TransitionRecord, error) {
	prev, ok, err := w.LastTransition(ctx, e.Subject.Type, e.Subject.ID)
	if err != nil {
		return store.TransitionRecord{}, fmt.Errorf("audit append %s: %w", e.Subject, err)
	}

	rec := store.TransitionRecord{
		ID:          e.ID,
		TenantID:    w.Scope().TenantID(),
		SubjectType: e.Subject.Type,
		SubjectID:   e.Subject.ID,
		Seq:         1,
		OldStatus:   e.OldStatus,
		NewStatus:   e.NewStatus,
		ActorID:     e.ActorID,
		ActorKind:   string(e.ActorKind),
		Reason:      e.Reason,
		Terminal:    e.Terminal,
		OccurredAt:  e.OccurredAt.UTC().Truncate(time.Microsecond),
	}
	if ok {
		rec.Seq = prev.Seq + 1
		rec.PrevHash = prev.Hash
	}

	rec.Hash, err = RecordHash(rec)
	if err != nil {
		return store.TransitionRecord{}, fmt.Errorf("audit append %s: %w", e.Subject, err)
	}
	if err := w.AppendTransition(ctx, rec); err != nil {
		return store.TransitionRecord{}, fmt.Errorf("audit append %s: %w", e.Subject, err)
	}
	return rec, nil
}

// RecordHash computes the chain hash of rec from its content and PrevHash.
// The stored Hash field is not an input.
func RecordHash(rec store.TransitionRecord) (string, error) {
	return digest.ChainLink(rec.PrevHash, map[string]any{
		"id":           rec.ID,
		"tenant_id":    rec.TenantID,
		"subject_type": rec.SubjectType,
		"subject_id":   rec.SubjectID,
		"seq":          rec.Seq,
		"old_status":   rec.OldStatus,
		"new_status":   rec.NewStatus,
		"actor_id":     rec.ActorID,
		"actor_kind":   rec.ActorKind,
		"reason":       rec.Reason,
		"terminal":     rec.Terminal,
		"occurred_at":  rec.OccurredAt.UTC().Format(time.RFC3339Nano),
	})
}
