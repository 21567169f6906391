package store

import (
	"context"
	"fmt"
	"math/rand"
	"reflect"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/atsguard/internal/tenant"
)

func TestInsertForeignTenantRejected(t *testing.T) {
	s := createTestStore(t)
	seedTenant(t, s, "t1")
	t2 := seedTenant(t, s, "t2")
	ctx := context.Background()

	c := testCandidate("c1", "Ada Lovelace", "")
	c.TenantID = "t1"
	err := s.WithTenantScope(ctx, t2, func(tx *Tx) error { return tx.InsertCandidate(ctx, c) })
	assert.True(t, tenant.IsCrossTenant(err), "got %v", err)
}

func TestRawStatementsCannotEscapeTenant(t *testing.T) {
	s := createTestStore(t)
	t1 := seedTenant(t, s, "t1")
	t2 := seedTenant(t, s, "t2")
	ctx := context.Background()

	mustScope(t, s, t1, func(tx *Tx) error {
		return tx.InsertCandidate(ctx, testCandidate("c1", "Ada Lovelace", ""))
	})

	statements := []struct {
		name  string
		query string
		args  []any
	}{
		{"update", "UPDATE candidates SET full_name = 'Mallory' WHERE id = ?", []any{"c1"}},
		{"update all", "UPDATE candidates SET full_name = 'Mallory'", nil},
		{"retag", "UPDATE candidates SET tenant_id = 't2' WHERE id = ?", []any{"c1"}},
		{"delete", "DELETE FROM candidates WHERE id = ?", []any{"c1"}},
		{"insert", `INSERT INTO candidates (id, tenant_id, full_name, status, fingerprint, created_at, updated_at)
			VALUES ('c9', 't1', 'Mallory', 'ACTIVE', 'x', ?, ?)`, []any{testTime, testTime}},
	}
	for _, tt := range statements {
		t.Run(tt.name, func(t *testing.T) {
			err := s.WithTenantScope(ctx, t2, func(tx *Tx) error {
				_, err := rawExec(ctx, tx, tt.query, tt.args...)
				return err
			})
			assert.True(t, tenant.IsCrossTenant(err), "got %v", err)
		})
	}

	mustScope(t, s, t1, func(tx *Tx) error {
		got, err := tx.GetCandidate(ctx, "c1")
		require.NoError(t, err)
		assert.Equal(t, "Ada Lovelace", got.FullName)
		return nil
	})
}

func TestSQLCannotSetSessionTenant(t *testing.T) {
	s := createTestStore(t)
	t1 := seedTenant(t, s, "t1")
	t2 := seedTenant(t, s, "t2")
	ctx := context.Background()

	mustScope(t, s, t1, func(tx *Tx) error {
		return tx.InsertCandidate(ctx, testCandidate("c1", "Ada Lovelace", ""))
	})

	err := s.WithTenantScope(ctx, t2, func(tx *Tx) error {
		if _, err := rawExec(ctx, tx, "SELECT ats_set_tenant('t1')"); err != nil {
			return err
		}
		_, err := rawExec(ctx, tx, "UPDATE candidates SET full_name = 'Mallory' WHERE id = ?", "c1")
		return err
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no such function")

	mustScope(t, s, t2, func(tx *Tx) error {
		var id string
		require.NoError(t, rawQueryRow(ctx, tx, "SELECT ats_current_tenant()").Scan(&id))
		assert.Equal(t, "t2", id)
		return nil
	})
	mustScope(t, s, t1, func(tx *Tx) error {
		got, err := tx.GetCandidate(ctx, "c1")
		require.NoError(t, err)
		assert.Equal(t, "Ada Lovelace", got.FullName)
		return nil
	})
}

// TestTxExposesNoRawSQL pins the Tx API to compiled statements. SQLite has no
// row-level read policy, so a raw SELECT would see every tenant.
func TestTxExposesNoRawSQL(t *testing.T) {
	typ := reflect.TypeOf(&Tx{})
	for _, name := range []string{"Exec", "ExecContext", "Query", "QueryContext", "QueryRow", "QueryRowContext"} {
		_, ok := typ.MethodByName(name)
		assert.False(t, ok, "Tx.%s is exported", name)
	}
}

func TestUnscopedWriteRejected(t *testing.T) {
	s := createTestStore(t)
	seedTenant(t, s, "t1")

	_, err := s.db.Exec(`INSERT INTO candidates (id, tenant_id, full_name, status, fingerprint, created_at, updated_at)
		VALUES ('c1', 't1', 'Ada', 'ACTIVE', 'x', ?, ?)`, testTime, testTime)
	require.Error(t, err)
	assert.True(t, tenant.IsCrossTenant(translateError(tenant.Scope{}, "candidate", "c1", err)))
}

func TestApplicationCannotReferenceForeignCandidate(t *testing.T) {
	s := createTestStore(t)
	t1 := seedTenant(t, s, "t1")
	t2 := seedTenant(t, s, "t2")
	ctx := context.Background()

	mustScope(t, s, t1, func(tx *Tx) error {
		return tx.InsertCandidate(ctx, testCandidate("c1", "Ada Lovelace", ""))
	})

	err := s.WithTenantScope(ctx, t2, func(tx *Tx) error {
		return tx.InsertApplication(ctx, testApplication("a1", "c1"))
	})
	assert.True(t, tenant.IsCrossTenant(err), "got %v", err)
}

// TestRandomizedTenantIsolation seeds several tenants and then issues random
// reads and writes from one tenant against rows owned by another. No attempt
// may observe or change a foreign row.
func TestRandomizedTenantIsolation(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	rng := rand.New(rand.NewSource(20260314))

	tenants := []string{"t1", "t2", "t3"}
	scopes := map[string]tenant.Scope{}
	owner := map[string]string{}
	var ids []string

	for _, tid := range tenants {
		scopes[tid] = seedTenant(t, s, tid)
		for i := 0; i < 5; i++ {
			id := fmt.Sprintf("%s-c%d", tid, i)
			mustScope(t, s, scopes[tid], func(tx *Tx) error {
				if err := tx.InsertCandidate(ctx, testCandidate(id, "Person "+id, id+"@example.com")); err != nil {
					return err
				}
				return tx.InsertApplication(ctx, testApplication(id+"-a", id))
			})
			owner[id] = tid
			ids = append(ids, id)
		}
	}

	for i := 0; i < 300; i++ {
		target := ids[rng.Intn(len(ids))]
		attacker := tenants[rng.Intn(len(tenants))]
		if attacker == owner[target] {
			continue
		}
		scope := scopes[attacker]

		switch op := rng.Intn(7); op {
		case 0:
			err := s.ViewTenantScope(ctx, scope, func(tx *Tx) error {
				_, err := tx.GetCandidate(ctx, target)
				return err
			})
			require.True(t, tenant.IsNotFound(err), "read %s from %s: %v", target, attacker, err)
		case 1:
			err := s.ViewTenantScope(ctx, scope, func(tx *Tx) error {
				_, err := tx.GetApplication(ctx, target+"-a")
				return err
			})
			require.True(t, tenant.IsNotFound(err), "read app %s from %s: %v", target, attacker, err)
		case 2:
			err := s.WithTenantScope(ctx, scope, func(tx *Tx) error {
				c := testCandidate(target, "Mallory", "mallory@example.com")
				return tx.UpdateCandidateProfile(ctx, c)
			})
			require.True(t, tenant.IsCrossTenant(err), "update %s from %s: %v", target, attacker, err)
		case 3:
			mustScope(t, s, scope, func(tx *Tx) error {
				ok, err := tx.CompareAndSetCandidateStatus(ctx, StatusChange{ID: target, From: "ACTIVE", To: "REJECTED", At: testTime})
				require.NoError(t, err)
				require.False(t, ok, "status of %s changed from %s", target, attacker)
				return nil
			})
		case 4:
			err := s.WithTenantScope(ctx, scope, func(tx *Tx) error {
				return tx.SoftDeleteApplication(ctx, target+"-a", testTime)
			})
			require.True(t, tenant.IsCrossTenant(err), "delete app of %s from %s: %v", target, attacker, err)
		case 5:
			err := s.WithTenantScope(ctx, scope, func(tx *Tx) error {
				return tx.InsertApplication(ctx, testApplication(fmt.Sprintf("x%d", i), target))
			})
			require.True(t, tenant.IsCrossTenant(err), "link to %s from %s: %v", target, attacker, err)
		case 6:
			mustScope(t, s, scope, func(tx *Tx) error {
				all, err := tx.ListCandidateIdentities(ctx)
				require.NoError(t, err)
				for _, ci := range all {
					require.Equal(t, attacker, owner[ci.ID], "%s listed foreign row %s", attacker, ci.ID)
				}
				apps, err := tx.ListApplications(ctx, target)
				require.NoError(t, err)
				require.Empty(t, apps)
				return nil
			})
		}
	}

	// Every row is exactly as its owner wrote it.
	for _, id := range ids {
		err := s.ViewTenantScope(ctx, scopes[owner[id]], func(tx *Tx) error {
			c, err := tx.GetCandidate(ctx, id)
			require.NoError(t, err)
			assert.Equal(t, "Person "+id, c.FullName)
			assert.Equal(t, "ACTIVE", c.Status)
			_, err = tx.GetApplication(ctx, id+"-a")
			require.NoError(t, err)
			return nil
		})
		require.NoError(t, err)
	}
}
