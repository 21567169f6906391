package store

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/roach88/atsguard/internal/tenant"
)

var testTime = time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)

// createTestStore creates a new SQLite store in a temp directory.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	require.NoError(t, err, "Open() failed")
	t.Cleanup(func() { s.Close() })
	return s
}

// seedTenant creates an active tenant and returns a system-actor scope for it.
func seedTenant(t *testing.T, s *Store, id string) tenant.Scope {
	t.Helper()
	require.NoError(t, s.CreateTenant(context.Background(), Tenant{
		ID:        id,
		Name:      "Tenant " + id,
		Active:    true,
		CreatedAt: testTime,
		UpdatedAt: testTime,
	}))
	return scopeFor(t, id, tenant.ActorSystem)
}

func scopeFor(t *testing.T, tenantID string, kind tenant.ActorKind) tenant.Scope {
	t.Helper()
	scope, err := tenant.Bind(tenant.Principal{
		ActorID:  "actor-" + tenantID,
		TenantID: tenantID,
		Kind:     kind,
		Roles:    []string{tenant.RoleAdmin},
		Active:   true,
	})
	require.NoError(t, err)
	return scope
}

func testCandidate(id, name, email string) Candidate {
	return Candidate{
		ID:          id,
		FullName:    name,
		Email:       email,
		Phone:       "5551234",
		Skills:      []string{"go", "sql"},
		Experience:  map[string]any{"last_employer": "Acme"},
		CTCCurrent:  "1200000.00",
		Status:      "ACTIVE",
		Fingerprint: "fp-" + id,
		CreatedAt:   testTime,
		UpdatedAt:   testTime,
	}
}

func testApplication(id, candidateID string) Application {
	return Application{
		ID:          id,
		CandidateID: candidateID,
		JobTitle:    "Backend Engineer",
		Status:      "RECEIVED",
		CreatedAt:   testTime,
		UpdatedAt:   testTime,
	}
}

// mustScope runs fn in a write scope and fails the test on error.
func mustScope(t *testing.T, s *Store, scope tenant.Scope, fn TxFunc) {
	t.Helper()
	require.NoError(t, s.WithTenantScope(context.Background(), scope, fn))
}

// rawExec runs a hand-written statement inside tx, bypassing the query
// compiler. Only the database policies stand between it and other tenants.
func rawExec(ctx context.Context, tx *Tx, query string, args ...any) (int64, error) {
	res, err := tx.tx.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, translateError(tx.scope, "", "", err)
	}
	return res.RowsAffected()
}

// rawQueryRow runs a hand-written single-row query inside tx.
func rawQueryRow(ctx context.Context, tx *Tx, query string, args ...any) *sql.Row {
	return tx.tx.QueryRowContext(ctx, query, args...)
}
