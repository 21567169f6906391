package audit

import (
	"context"
	"fmt"

	"github.com/roach88/atsguard/internal/store"
)

// Reader is the storage surface Log needs. *store.Tx implements it.
type Reader interface {
	ListTransitions(ctx context.Context, subjectType, subjectID string) ([]store.TransitionRecord, error)
	HasHeldStatus(ctx context.Context, subjectType, subjectID, status string) (bool, error)
}

// Log is the read side of the audit trail, bound to one scoped transaction.
type Log struct {
	r Reader
}

// NewLog wraps a scoped reader.
func NewLog(r Reader) *Log {
	return &Log{r: r}
}

// List returns the subject's records in chronological (sequence) order.
func (l *Log) List(ctx context.Context, s Subject) ([]store.TransitionRecord, error) {
	recs, err := l.r.ListTransitions(ctx, s.Type, s.ID)
	if err != nil {
		return nil, fmt.Errorf("audit list %s: %w", s, err)
	}
	return recs, nil
}

// HasHeld reports whether the subject was ever transitioned into status.
func (l *Log) HasHeld(ctx context.Context, s Subject, status string) (bool, error) {
	held, err := l.r.HasHeldStatus(ctx, s.Type, s.ID, status)
	if err != nil {
		return false, fmt.Errorf("audit has held %s: %w", s, err)
	}
	return held, nil
}

// Verify recomputes the subject's hash chain.
func (l *Log) Verify(ctx context.Context, s Subject) (Report, error) {
	recs, err := l.List(ctx, s)
	if err != nil {
		return Report{}, err
	}
	return VerifyChain(recs), nil
}

// Report is the outcome of a chain verification.
type Report struct {
	Records int
	Intact  bool

	// BrokenSeq is the sequence number of the first bad record when the
	// chain is not intact.
	BrokenSeq int64
	Problem   string
}

// VerifyChain checks that recs, in sequence order, form an unbroken chain:
// sequences are 1..n without gaps, each record links to its predecessor's
// hash and status, and every stored hash matches its content.
func VerifyChain(recs []store.TransitionRecord) Report {
	rep := Report{Records: len(recs), Intact: true}
	broken := func(seq int64, format string, args ...any) Report {
		rep.Intact = false
		rep.BrokenSeq = seq
		rep.Problem = fmt.Sprintf(format, args...)
		return rep
	}

	var prev *store.TransitionRecord
	for i := range recs {
		rec := recs[i]
		want := int64(i + 1)
		if rec.Seq != want {
			return broken(rec.Seq, "expected seq %d, found %d", want, rec.Seq)
		}
		if prev == nil {
			if rec.PrevHash != "" {
				return broken(rec.Seq, "first record has a predecessor hash")
			}
		} else {
			if rec.PrevHash != prev.Hash {
				return broken(rec.Seq, "predecessor hash mismatch")
			}
			if rec.OldStatus != prev.NewStatus {
				return broken(rec.Seq, "old status %s does not follow %s", rec.OldStatus, prev.NewStatus)
			}
		}
		sum, err := RecordHash(rec)
		if err != nil {
			return broken(rec.Seq, "hash: %v", err)
		}
		if sum != rec.Hash {
			return broken(rec.Seq, "content hash mismatch")
		}
		prev = &recs[i]
	}
	return rep
}
