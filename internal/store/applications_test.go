package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/atsguard/internal/tenant"
)

func seedCandidateWithApplications(t *testing.T, s *Store, scope tenant.Scope, candidateID string, appIDs ...string) {
	t.Helper()
	ctx := context.Background()
	mustScope(t, s, scope, func(tx *Tx) error {
		if err := tx.InsertCandidate(ctx, testCandidate(candidateID, "Ada Lovelace", "")); err != nil {
			return err
		}
		for i, id := range appIDs {
			a := testApplication(id, candidateID)
			a.CreatedAt = testTime.Add(time.Duration(i) * time.Minute)
			if err := tx.InsertApplication(ctx, a); err != nil {
				return err
			}
		}
		return nil
	})
}

func TestApplicationRoundTrip(t *testing.T) {
	s := createTestStore(t)
	scope := seedTenant(t, s, "t1")
	ctx := context.Background()

	mustScope(t, s, scope, func(tx *Tx) error {
		require.NoError(t, tx.InsertCandidate(ctx, testCandidate("c1", "Ada Lovelace", "")))
		a := testApplication("a1", "c1")
		a.FlaggedForReview = true
		a.FlagReason = "possible duplicate"
		return tx.InsertApplication(ctx, a)
	})

	mustScope(t, s, scope, func(tx *Tx) error {
		got, err := tx.GetApplication(ctx, "a1")
		require.NoError(t, err)
		assert.Equal(t, "t1", got.TenantID)
		assert.Equal(t, "c1", got.CandidateID)
		assert.Equal(t, "Backend Engineer", got.JobTitle)
		assert.Equal(t, "RECEIVED", got.Status)
		assert.True(t, got.FlaggedForReview)
		assert.Equal(t, "possible duplicate", got.FlagReason)
		assert.True(t, got.DeletedAt.IsZero())
		return nil
	})
}

func TestFlaggedApplicationNeedsReason(t *testing.T) {
	s := createTestStore(t)
	scope := seedTenant(t, s, "t1")
	ctx := context.Background()

	err := s.WithTenantScope(ctx, scope, func(tx *Tx) error {
		require.NoError(t, tx.InsertCandidate(ctx, testCandidate("c1", "Ada Lovelace", "")))
		a := testApplication("a1", "c1")
		a.FlaggedForReview = true
		return tx.InsertApplication(ctx, a)
	})
	assert.ErrorIs(t, err, ErrInvariantViolation)
}

func TestListApplications(t *testing.T) {
	s := createTestStore(t)
	scope := seedTenant(t, s, "t1")
	ctx := context.Background()

	seedCandidateWithApplications(t, s, scope, "c1", "a1", "a2")
	seedCandidateWithApplications(t, s, scope, "c2", "a3")

	mustScope(t, s, scope, func(tx *Tx) error {
		apps, err := tx.ListApplications(ctx, "c1")
		require.NoError(t, err)
		require.Len(t, apps, 2)
		assert.Equal(t, "a1", apps[0].ID)
		assert.Equal(t, "a2", apps[1].ID)

		all, err := tx.ListApplications(ctx, "")
		require.NoError(t, err)
		assert.Len(t, all, 3)
		return nil
	})
}

func TestCompareAndSetApplicationStatus(t *testing.T) {
	s := createTestStore(t)
	scope := seedTenant(t, s, "t1")
	ctx := context.Background()
	seedCandidateWithApplications(t, s, scope, "c1", "a1")

	mustScope(t, s, scope, func(tx *Tx) error {
		ok, err := tx.CompareAndSetApplicationStatus(ctx, StatusChange{ID: "a1", From: "RECEIVED", To: "SCREENING", At: testTime})
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = tx.CompareAndSetApplicationStatus(ctx, StatusChange{ID: "a1", From: "RECEIVED", To: "REJECTED", At: testTime})
		require.NoError(t, err)
		assert.False(t, ok)
		return nil
	})
}

func TestClearReviewFlag(t *testing.T) {
	s := createTestStore(t)
	scope := seedTenant(t, s, "t1")
	ctx := context.Background()

	mustScope(t, s, scope, func(tx *Tx) error {
		require.NoError(t, tx.InsertCandidate(ctx, testCandidate("c1", "Ada Lovelace", "")))
		a := testApplication("a1", "c1")
		a.FlaggedForReview = true
		a.FlagReason = "possible duplicate"
		return tx.InsertApplication(ctx, a)
	})

	mustScope(t, s, scope, func(tx *Tx) error {
		require.NoError(t, tx.ClearReviewFlag(ctx, "a1", testTime))
		got, err := tx.GetApplication(ctx, "a1")
		require.NoError(t, err)
		assert.False(t, got.FlaggedForReview)
		assert.Equal(t, "possible duplicate", got.FlagReason)
		return nil
	})

	err := s.WithTenantScope(ctx, scope, func(tx *Tx) error {
		return tx.ClearReviewFlag(ctx, "missing", testTime)
	})
	assert.True(t, tenant.IsCrossTenant(err))
}

func TestSoftDeleteApplication(t *testing.T) {
	s := createTestStore(t)
	scope := seedTenant(t, s, "t1")
	ctx := context.Background()
	seedCandidateWithApplications(t, s, scope, "c1", "a1", "a2")

	mustScope(t, s, scope, func(tx *Tx) error {
		return tx.SoftDeleteApplication(ctx, "a1", testTime)
	})

	err := s.ViewTenantScope(ctx, scope, func(tx *Tx) error {
		_, err := tx.GetApplication(ctx, "a1")
		return err
	})
	assert.True(t, tenant.IsNotFound(err))

	mustScope(t, s, scope, func(tx *Tx) error {
		apps, err := tx.ListApplications(ctx, "c1")
		require.NoError(t, err)
		require.Len(t, apps, 1)
		assert.Equal(t, "a2", apps[0].ID)

		ok, err := tx.CompareAndSetApplicationStatus(ctx, StatusChange{ID: "a1", From: "RECEIVED", To: "SCREENING", At: testTime})
		require.NoError(t, err)
		assert.False(t, ok, "deleted applications do not transition")
		return nil
	})

	// Deleting twice is not a silent success.
	err = s.WithTenantScope(ctx, scope, func(tx *Tx) error {
		return tx.SoftDeleteApplication(ctx, "a1", testTime)
	})
	assert.True(t, tenant.IsCrossTenant(err))

	var deleted int
	require.NoError(t, s.db.QueryRow("SELECT COUNT(*) FROM applications WHERE deleted_at IS NOT NULL").Scan(&deleted))
	assert.Equal(t, 1, deleted)
}
