package store

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/atsguard/internal/tenant"
)

func TestOpenAppliesPragmasAndSchema(t *testing.T) {
	s := createTestStore(t)

	require.NoError(t, s.verifyPragma("journal_mode", "wal"))
	require.NoError(t, s.verifyPragma("foreign_keys", "1"))
	require.NoError(t, s.verifyPragma("busy_timeout", "5000"))

	version, err := s.SchemaVersion(context.Background())
	require.NoError(t, err)
	assert.Equal(t, currentSchemaVersion, version)
	assert.Equal(t, DialectSQLite, s.Dialect())
}

func TestOpenIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	s1, err := Open(path)
	require.NoError(t, err)
	seedTenant(t, s1, "t1")
	require.NoError(t, s1.Close())

	s2, err := Open(path)
	require.NoError(t, err)
	defer s2.Close()

	got, err := s2.GetTenant(context.Background(), "t1")
	require.NoError(t, err)
	assert.Equal(t, "Tenant t1", got.Name)
}

func TestOpenDialectRejectsUnknown(t *testing.T) {
	_, err := OpenDialect("oracle", "x", 0)
	assert.Error(t, err)
}

func TestWithTenantScopeRequiresBoundScope(t *testing.T) {
	s := createTestStore(t)
	called := false

	err := s.WithTenantScope(context.Background(), tenant.Scope{}, func(*Tx) error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, tenant.ErrNoScope)
	assert.False(t, called)

	err = s.ViewTenantScope(context.Background(), tenant.Scope{}, func(*Tx) error { return nil })
	assert.ErrorIs(t, err, tenant.ErrNoScope)
}

func TestSessionTenantClearedAtCheckin(t *testing.T) {
	s := createTestStore(t)
	scope := seedTenant(t, s, "t1")
	ctx := context.Background()

	mustScope(t, s, scope, func(tx *Tx) error {
		var id string
		require.NoError(t, rawQueryRow(ctx, tx, "SELECT ats_current_tenant()").Scan(&id))
		assert.Equal(t, "t1", id)
		return nil
	})

	id, err := s.currentSessionTenant(ctx)
	require.NoError(t, err)
	assert.Empty(t, id)
}

func TestSessionTenantClearedAfterError(t *testing.T) {
	s := createTestStore(t)
	scope := seedTenant(t, s, "t1")
	ctx := context.Background()
	boom := errors.New("boom")

	err := s.WithTenantScope(ctx, scope, func(tx *Tx) error {
		require.NoError(t, tx.InsertCandidate(ctx, testCandidate("c1", "Ada Lovelace", "ada@example.com")))
		return boom
	})
	assert.ErrorIs(t, err, boom)

	id, err := s.currentSessionTenant(ctx)
	require.NoError(t, err)
	assert.Empty(t, id)

	// The insert was rolled back.
	err = s.ViewTenantScope(ctx, scope, func(tx *Tx) error {
		_, err := tx.GetCandidate(ctx, "c1")
		return err
	})
	assert.True(t, tenant.IsNotFound(err))
}

func TestPanicRollsBackAndClearsTenant(t *testing.T) {
	s := createTestStore(t)
	scope := seedTenant(t, s, "t1")
	ctx := context.Background()

	assert.Panics(t, func() {
		_ = s.WithTenantScope(ctx, scope, func(tx *Tx) error {
			require.NoError(t, tx.InsertCandidate(ctx, testCandidate("c1", "Ada Lovelace", "")))
			panic("handler bug")
		})
	})

	id, err := s.currentSessionTenant(ctx)
	require.NoError(t, err)
	assert.Empty(t, id)

	err = s.ViewTenantScope(ctx, scope, func(tx *Tx) error {
		_, err := tx.GetCandidate(ctx, "c1")
		return err
	})
	assert.True(t, tenant.IsNotFound(err))
}

func TestFailedResetDiscardsConnection(t *testing.T) {
	s := createTestStore(t)
	scope := seedTenant(t, s, "t1")
	ctx := context.Background()

	s.dialect.setTenant = func(ctx context.Context, conn *sql.Conn, tenantID string) error {
		if tenantID == "" {
			return errors.New("reset failed")
		}
		return setSQLiteTenant(ctx, conn, tenantID)
	}
	mustScope(t, s, scope, func(*Tx) error { return nil })
	s.dialect.setTenant = sqliteDialect.setTenant

	// The tainted connection was closed; the replacement starts unscoped and
	// is configured by the connect hook.
	id, err := s.currentSessionTenant(ctx)
	require.NoError(t, err)
	assert.Empty(t, id)
	require.NoError(t, s.verifyPragma("foreign_keys", "1"))
}

func TestCancelledContextRollsBack(t *testing.T) {
	s := createTestStore(t)
	scope := seedTenant(t, s, "t1")

	ctx, cancel := context.WithCancel(context.Background())
	err := s.WithTenantScope(ctx, scope, func(tx *Tx) error {
		require.NoError(t, tx.InsertCandidate(ctx, testCandidate("c1", "Ada Lovelace", "")))
		cancel()
		return nil
	})
	require.Error(t, err)

	err = s.ViewTenantScope(context.Background(), scope, func(tx *Tx) error {
		_, err := tx.GetCandidate(context.Background(), "c1")
		return err
	})
	assert.True(t, tenant.IsNotFound(err))
}

func TestDeactivatedTenantFreezesWrites(t *testing.T) {
	s := createTestStore(t)
	scope := seedTenant(t, s, "t1")
	ctx := context.Background()

	mustScope(t, s, scope, func(tx *Tx) error {
		return tx.InsertCandidate(ctx, testCandidate("c1", "Ada Lovelace", ""))
	})
	require.NoError(t, s.SetTenantActive(ctx, "t1", false, testTime))

	err := s.WithTenantScope(ctx, scope, func(*Tx) error {
		t.Fatal("write session must not start for an inactive tenant")
		return nil
	})
	assert.True(t, tenant.IsAuthorization(err))

	err = s.ViewTenantScope(ctx, scope, func(tx *Tx) error {
		c, err := tx.GetCandidate(ctx, "c1")
		if err != nil {
			return err
		}
		assert.Equal(t, "Ada Lovelace", c.FullName)
		return nil
	})
	require.NoError(t, err)
}

func TestUnknownTenantCannotWrite(t *testing.T) {
	s := createTestStore(t)
	err := s.WithTenantScope(context.Background(), scopeFor(t, "ghost", tenant.ActorSystem), func(*Tx) error {
		return nil
	})
	assert.True(t, tenant.IsAuthorization(err))
}

func TestTenantAdmin(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	seedTenant(t, s, "t1")

	got, err := s.GetTenant(ctx, "t1")
	require.NoError(t, err)
	assert.True(t, got.Active)
	assert.Equal(t, testTime, got.CreatedAt)

	_, err = s.GetTenant(ctx, "missing")
	assert.True(t, tenant.IsNotFound(err))

	err = s.SetTenantActive(ctx, "missing", false, testTime)
	assert.True(t, tenant.IsNotFound(err))

	err = s.CreateTenant(ctx, Tenant{ID: "t1", Name: "dup", Active: true, CreatedAt: testTime, UpdatedAt: testTime})
	assert.ErrorIs(t, err, ErrDuplicate)
}
