// Package store provides tenant-isolated durable storage for candidates,
// applications and their transition audit trail.
//
// Two dialects are supported: SQLite (mattn/go-sqlite3) for single-node and
// test deployments, and Postgres (lib/pq) for shared deployments.
//
// # Isolation Layers
//
// L-1: Query-layer predicate injection
//   - Every tenant-owned statement is a queryir tree compiled by querysql
//   - tenant_id = ? is AND-ed onto every SELECT/UPDATE, forced onto every INSERT
//
// L-2: Session tenant setting
//   - WithTenantScope sets the tenant on a dedicated connection at checkout
//   - The setting is cleared at checkin; a connection that cannot be cleared
//     is discarded, never returned to the pool
//   - SQLite keeps the setting on the driver connection. SQL can read it with
//     ats_current_tenant() but cannot change it
//
// L-3: Database policy
//   - Postgres: FORCE ROW LEVEL SECURITY keyed on app.current_tenant
//   - SQLite: BEFORE INSERT/UPDATE/DELETE triggers keyed on ats_current_tenant()
//
// Tx offers no raw SQL. On SQLite, L-3 covers writes only and reads rely on
// L-1.
//
// # Storage Invariants
//
//   - candidates: CHECK (status <> 'LEFT_COMPANY' OR blacklisted)
//   - applications: (candidate_id, tenant_id) references candidates(id, tenant_id)
//   - transition_records: append-only (UPDATE and DELETE raise), UNIQUE per
//     (subject_type, subject_id, seq)
//
// The Postgres role used by the application must not be a superuser and must
// not hold BYPASSRLS, otherwise L-3 is silently skipped.
package store
