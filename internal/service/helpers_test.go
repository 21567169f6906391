package service

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/roach88/atsguard/internal/store"
	"github.com/roach88/atsguard/internal/tenant"
	"github.com/roach88/atsguard/internal/testutil"
)

type fixture struct {
	svc   *Service
	store *store.Store
	logs  *observer.ObservedLogs
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "service.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	core, logs := observer.New(zap.DebugLevel)
	svc := New(st,
		WithIDs(testutil.NewSequenceGenerator("id")),
		WithClock(testutil.NewDeterministicClock()),
		WithLogger(zap.New(core)),
	)
	return &fixture{svc: svc, store: st, logs: logs}
}

// tenant provisions a tenant and returns its id.
func (f *fixture) tenant(t *testing.T, name string) string {
	t.Helper()
	tn, err := f.svc.CreateTenant(context.Background(), name)
	require.NoError(t, err)
	return tn.ID
}

func bind(t *testing.T, tenantID, actorID string, kind tenant.ActorKind, roles ...string) tenant.Scope {
	t.Helper()
	scope, err := tenant.Bind(tenant.Principal{
		ActorID: actorID, TenantID: tenantID, Kind: kind, Roles: roles, Active: true,
	})
	require.NoError(t, err)
	return scope
}

func systemScope(t *testing.T, tenantID string) tenant.Scope {
	return bind(t, tenantID, "ingest-"+tenantID, tenant.ActorSystem)
}

func reviewerScope(t *testing.T, tenantID string) tenant.Scope {
	return bind(t, tenantID, "reviewer-"+tenantID, tenant.ActorHuman, tenant.RoleReviewer)
}

// securityEvents returns the logged security events with the given code.
func (f *fixture) securityEvents(code tenant.AccessErrorCode) []observer.LoggedEntry {
	var out []observer.LoggedEntry
	for _, e := range f.logs.All() {
		ctx := e.ContextMap()
		if ctx["security_event"] == true && ctx["code"] == string(code) {
			out = append(out, e)
		}
	}
	return out
}
