package audit

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/atsguard/internal/store"
	"github.com/roach88/atsguard/internal/tenant"
	"github.com/roach88/atsguard/internal/testutil"
)

var candidateC1 = Subject{Type: SubjectCandidate, ID: "c1"}

func setupStore(t *testing.T) (*store.Store, tenant.Scope) {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "audit.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	require.NoError(t, s.CreateTenant(context.Background(), store.Tenant{
		ID: "t1", Name: "Acme", Active: true,
		CreatedAt: testutil.Epoch, UpdatedAt: testutil.Epoch,
	}))
	scope, err := tenant.Bind(tenant.Principal{
		ActorID: "sys-1", TenantID: "t1", Kind: tenant.ActorSystem, Active: true,
	})
	require.NoError(t, err)
	return s, scope
}

func entry(id string, s Subject, from, to string, at time.Time) Entry {
	return Entry{
		ID:         id,
		Subject:    s,
		OldStatus:  from,
		NewStatus:  to,
		ActorID:    "sys-1",
		ActorKind:  tenant.ActorSystem,
		Reason:     "onboarding",
		OccurredAt: at,
	}
}

func TestAppendBuildsChain(t *testing.T) {
	s, scope := setupStore(t)
	ctx := context.Background()
	clock := testutil.NewDeterministicClock()

	var first, second store.TransitionRecord
	require.NoError(t, s.WithTenantScope(ctx, scope, func(tx *store.Tx) error {
		var err error
		first, err = Append(ctx, tx, entry("r1", candidateC1, "ACTIVE", "JOINED", clock.Now()))
		require.NoError(t, err)
		second, err = Append(ctx, tx, entry("r2", candidateC1, "JOINED", "LEFT_COMPANY", clock.Now()))
		return err
	}))

	assert.Equal(t, int64(1), first.Seq)
	assert.Empty(t, first.PrevHash)
	assert.Equal(t, "t1", first.TenantID)
	assert.Equal(t, int64(2), second.Seq)
	assert.Equal(t, first.Hash, second.PrevHash)
	assert.NotEqual(t, first.Hash, second.Hash)

	require.NoError(t, s.ViewTenantScope(ctx, scope, func(tx *store.Tx) error {
		log := NewLog(tx)

		recs, err := log.List(ctx, candidateC1)
		require.NoError(t, err)
		require.Len(t, recs, 2)
		assert.Equal(t, first, recs[0])
		assert.Equal(t, second, recs[1])

		held, err := log.HasHeld(ctx, candidateC1, "JOINED")
		require.NoError(t, err)
		assert.True(t, held)

		held, err = log.HasHeld(ctx, candidateC1, "HIRED")
		require.NoError(t, err)
		assert.False(t, held)

		rep, err := log.Verify(ctx, candidateC1)
		require.NoError(t, err)
		assert.True(t, rep.Intact, rep.Problem)
		assert.Equal(t, 2, rep.Records)
		return nil
	}))
}

func TestAppendChainsPerSubject(t *testing.T) {
	s, scope := setupStore(t)
	ctx := context.Background()
	clock := testutil.NewDeterministicClock()
	other := Subject{Type: SubjectApplication, ID: "c1"}

	require.NoError(t, s.WithTenantScope(ctx, scope, func(tx *store.Tx) error {
		a, err := Append(ctx, tx, entry("r1", candidateC1, "ACTIVE", "JOINED", clock.Now()))
		require.NoError(t, err)
		b, err := Append(ctx, tx, entry("r2", other, "RECEIVED", "SCREENING", clock.Now()))
		require.NoError(t, err)

		assert.Equal(t, int64(1), a.Seq)
		assert.Equal(t, int64(1), b.Seq, "chains are keyed by subject type and id")
		assert.Empty(t, b.PrevHash)
		return nil
	}))
}

func TestAppendRollsBackWithTransaction(t *testing.T) {
	s, scope := setupStore(t)
	ctx := context.Background()
	clock := testutil.NewDeterministicClock()

	err := s.WithTenantScope(ctx, scope, func(tx *store.Tx) error {
		_, err := Append(ctx, tx, entry("r1", candidateC1, "ACTIVE", "JOINED", clock.Now()))
		require.NoError(t, err)
		return assert.AnError
	})
	require.ErrorIs(t, err, assert.AnError)

	require.NoError(t, s.ViewTenantScope(ctx, scope, func(tx *store.Tx) error {
		recs, err := NewLog(tx).List(ctx, candidateC1)
		require.NoError(t, err)
		assert.Empty(t, recs)
		return nil
	}))
}

func TestRecordHashIgnoresStoredHash(t *testing.T) {
	rec := store.TransitionRecord{
		ID: "r1", TenantID: "t1", SubjectType: SubjectCandidate, SubjectID: "c1",
		Seq: 1, OldStatus: "ACTIVE", NewStatus: "JOINED", ActorID: "sys-1",
		ActorKind: "system", OccurredAt: testutil.Epoch,
	}
	h1, err := RecordHash(rec)
	require.NoError(t, err)

	rec.Hash = "anything"
	h2, err := RecordHash(rec)
	require.NoError(t, err)
	assert.Equal(t, h1, h2)

	rec.PrevHash = "abc"
	h3, err := RecordHash(rec)
	require.NoError(t, err)
	assert.NotEqual(t, h1, h3)
}

func chain(t *testing.T) []store.TransitionRecord {
	t.Helper()
	steps := [][2]string{{"ACTIVE", "HIRED"}, {"HIRED", "JOINED"}, {"JOINED", "LEFT_COMPANY"}}
	var out []store.TransitionRecord
	prev := ""
	for i, st := range steps {
		rec := store.TransitionRecord{
			ID: "r" + string(rune('1'+i)), TenantID: "t1",
			SubjectType: SubjectCandidate, SubjectID: "c1", Seq: int64(i + 1),
			OldStatus: st[0], NewStatus: st[1], ActorID: "sys-1", ActorKind: "system",
			OccurredAt: testutil.Epoch.Add(time.Duration(i) * time.Second),
			PrevHash:   prev,
		}
		h, err := RecordHash(rec)
		require.NoError(t, err)
		rec.Hash = h
		prev = h
		out = append(out, rec)
	}
	return out
}

func TestVerifyChain(t *testing.T) {
	tests := []struct {
		name    string
		tamper  func([]store.TransitionRecord) []store.TransitionRecord
		intact  bool
		broken  int64
		problem string
	}{
		{
			name:   "intact",
			tamper: func(r []store.TransitionRecord) []store.TransitionRecord { return r },
			intact: true,
		},
		{
			name:   "empty",
			tamper: func([]store.TransitionRecord) []store.TransitionRecord { return nil },
			intact: true,
		},
		{
			name: "edited reason",
			tamper: func(r []store.TransitionRecord) []store.TransitionRecord {
				r[1].Reason = "rewritten"
				return r
			},
			broken:  2,
			problem: "content hash mismatch",
		},
		{
			name: "removed middle record",
			tamper: func(r []store.TransitionRecord) []store.TransitionRecord {
				return []store.TransitionRecord{r[0], r[2]}
			},
			broken:  3,
			problem: "expected seq 2, found 3",
		},
		{
			name: "relinked record",
			tamper: func(r []store.TransitionRecord) []store.TransitionRecord {
				r[2].PrevHash = r[0].Hash
				return r
			},
			broken:  3,
			problem: "predecessor hash mismatch",
		},
		{
			name: "status discontinuity",
			tamper: func(r []store.TransitionRecord) []store.TransitionRecord {
				r[2].OldStatus = "ACTIVE"
				return r
			},
			broken:  3,
			problem: "old status ACTIVE does not follow JOINED",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rep := VerifyChain(tt.tamper(chain(t)))
			assert.Equal(t, tt.intact, rep.Intact)
			if !tt.intact {
				assert.Equal(t, tt.broken, rep.BrokenSeq)
				assert.Equal(t, tt.problem, rep.Problem)
			}
		})
	}
}
