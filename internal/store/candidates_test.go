package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/atsguard/internal/tenant"
)

func TestCandidateRoundTrip(t *testing.T) {
	s := createTestStore(t)
	scope := seedTenant(t, s, "t1")
	ctx := context.Background()

	want := testCandidate("c1", "Ada Lovelace", "ada@example.com")
	want.Phone = ""
	mustScope(t, s, scope, func(tx *Tx) error {
		return tx.InsertCandidate(ctx, want)
	})

	err := s.ViewTenantScope(ctx, scope, func(tx *Tx) error {
		got, err := tx.GetCandidate(ctx, "c1")
		require.NoError(t, err)

		want.TenantID = "t1"
		assert.Equal(t, want.ID, got.ID)
		assert.Equal(t, want.TenantID, got.TenantID)
		assert.Equal(t, want.FullName, got.FullName)
		assert.Equal(t, want.Email, got.Email)
		assert.Empty(t, got.Phone)
		assert.Equal(t, want.Skills, got.Skills)
		assert.Equal(t, "Acme", got.Experience["last_employer"])
		assert.Equal(t, "1200000.00", got.CTCCurrent)
		assert.Empty(t, got.CTCExpected)
		assert.Equal(t, "ACTIVE", got.Status)
		assert.False(t, got.Blacklisted)
		assert.Equal(t, testTime, got.CreatedAt)
		return nil
	})
	require.NoError(t, err)
}

func TestFindCandidatesByFingerprint(t *testing.T) {
	s := createTestStore(t)
	t1 := seedTenant(t, s, "t1")
	t2 := seedTenant(t, s, "t2")
	ctx := context.Background()

	shared := testCandidate("c1", "Ada Lovelace", "ada@example.com")
	shared.Fingerprint = "same"
	mustScope(t, s, t1, func(tx *Tx) error { return tx.InsertCandidate(ctx, shared) })

	other := testCandidate("c2", "Ada Lovelace", "ada@example.com")
	other.Fingerprint = "same"
	mustScope(t, s, t2, func(tx *Tx) error { return tx.InsertCandidate(ctx, other) })

	err := s.ViewTenantScope(ctx, t2, func(tx *Tx) error {
		found, err := tx.FindCandidatesByFingerprint(ctx, "same")
		require.NoError(t, err)
		require.Len(t, found, 1)
		assert.Equal(t, "c2", found[0].ID)

		all, err := tx.ListCandidateIdentities(ctx)
		require.NoError(t, err)
		require.Len(t, all, 1)
		assert.Equal(t, "ada@example.com", all[0].Email)
		return nil
	})
	require.NoError(t, err)
}

func TestUpdateCandidateProfile(t *testing.T) {
	s := createTestStore(t)
	scope := seedTenant(t, s, "t1")
	ctx := context.Background()

	c := testCandidate("c1", "Ada Lovelace", "ada@example.com")
	mustScope(t, s, scope, func(tx *Tx) error { return tx.InsertCandidate(ctx, c) })

	later := testTime.Add(time.Hour)
	c.FullName = "Ada King"
	c.Email = ""
	c.Fingerprint = "fp-new"
	c.UpdatedAt = later
	mustScope(t, s, scope, func(tx *Tx) error { return tx.UpdateCandidateProfile(ctx, c) })

	mustScope(t, s, scope, func(tx *Tx) error {
		got, err := tx.GetCandidate(ctx, "c1")
		require.NoError(t, err)
		assert.Equal(t, "Ada King", got.FullName)
		assert.Empty(t, got.Email)
		assert.Equal(t, "fp-new", got.Fingerprint)
		assert.Equal(t, later, got.UpdatedAt)
		assert.Equal(t, "ACTIVE", got.Status)
		return nil
	})
}

func TestCompareAndSetCandidateStatus(t *testing.T) {
	s := createTestStore(t)
	scope := seedTenant(t, s, "t1")
	ctx := context.Background()

	mustScope(t, s, scope, func(tx *Tx) error {
		return tx.InsertCandidate(ctx, testCandidate("c1", "Ada Lovelace", ""))
	})

	mustScope(t, s, scope, func(tx *Tx) error {
		ok, err := tx.CompareAndSetCandidateStatus(ctx, StatusChange{ID: "c1", From: "HIRED", To: "JOINED", At: testTime})
		require.NoError(t, err)
		assert.False(t, ok, "stale from status must not swap")

		ok, err = tx.CompareAndSetCandidateStatus(ctx, StatusChange{ID: "c1", From: "ACTIVE", To: "JOINED", At: testTime})
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = tx.CompareAndSetCandidateStatus(ctx, StatusChange{ID: "c1", From: "JOINED", To: "LEFT_COMPANY", At: testTime, Blacklist: true})
		require.NoError(t, err)
		assert.True(t, ok)

		got, err := tx.GetCandidate(ctx, "c1")
		require.NoError(t, err)
		assert.Equal(t, "LEFT_COMPANY", got.Status)
		assert.True(t, got.Blacklisted)
		return nil
	})
}

func TestLeftCompanyRequiresBlacklistInStorage(t *testing.T) {
	s := createTestStore(t)
	scope := seedTenant(t, s, "t1")
	ctx := context.Background()

	mustScope(t, s, scope, func(tx *Tx) error {
		return tx.InsertCandidate(ctx, testCandidate("c1", "Ada Lovelace", ""))
	})

	// A CAS without the blacklist flag is rejected by the CHECK constraint.
	err := s.WithTenantScope(ctx, scope, func(tx *Tx) error {
		_, err := tx.CompareAndSetCandidateStatus(ctx, StatusChange{ID: "c1", From: "ACTIVE", To: "LEFT_COMPANY", At: testTime})
		return err
	})
	assert.ErrorIs(t, err, ErrInvariantViolation)

	// So is a hand-written statement.
	err = s.WithTenantScope(ctx, scope, func(tx *Tx) error {
		_, err := rawExec(ctx, tx, "UPDATE candidates SET status = 'LEFT_COMPANY' WHERE id = ?", "c1")
		return err
	})
	assert.ErrorIs(t, err, ErrInvariantViolation)

	// And an insert.
	bad := testCandidate("c2", "Grace Hopper", "")
	bad.Status = "LEFT_COMPANY"
	err = s.WithTenantScope(ctx, scope, func(tx *Tx) error { return tx.InsertCandidate(ctx, bad) })
	assert.ErrorIs(t, err, ErrInvariantViolation)

	// Clearing the flag on a LEFT_COMPANY candidate is rejected too.
	mustScope(t, s, scope, func(tx *Tx) error {
		_, err := tx.CompareAndSetCandidateStatus(ctx, StatusChange{ID: "c1", From: "ACTIVE", To: "LEFT_COMPANY", At: testTime, Blacklist: true})
		return err
	})
	err = s.WithTenantScope(ctx, scope, func(tx *Tx) error {
		return tx.SetCandidateBlacklisted(ctx, "c1", false, testTime)
	})
	assert.ErrorIs(t, err, ErrInvariantViolation)

	var count int
	require.NoError(t, s.db.QueryRow(
		"SELECT COUNT(*) FROM candidates WHERE status = 'LEFT_COMPANY' AND blacklisted = 0",
	).Scan(&count))
	assert.Zero(t, count)
}

func TestUnknownStatusRejectedByStorage(t *testing.T) {
	s := createTestStore(t)
	scope := seedTenant(t, s, "t1")
	ctx := context.Background()

	bad := testCandidate("c1", "Ada Lovelace", "")
	bad.Status = "PROMOTED"
	err := s.WithTenantScope(ctx, scope, func(tx *Tx) error { return tx.InsertCandidate(ctx, bad) })
	assert.ErrorIs(t, err, ErrInvariantViolation)
}

func TestGetCandidateOtherTenantIsNotFound(t *testing.T) {
	s := createTestStore(t)
	t1 := seedTenant(t, s, "t1")
	t2 := seedTenant(t, s, "t2")
	ctx := context.Background()

	mustScope(t, s, t1, func(tx *Tx) error {
		return tx.InsertCandidate(ctx, testCandidate("c1", "Ada Lovelace", ""))
	})

	err := s.ViewTenantScope(ctx, t2, func(tx *Tx) error {
		_, err := tx.GetCandidate(ctx, "c1")
		return err
	})
	assert.True(t, tenant.IsNotFound(err))

	var ae *tenant.AccessError
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, "t2", ae.TenantID)
	assert.Equal(t, "c1", ae.EntityID)
}
