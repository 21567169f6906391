package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/atsguard/internal/queryir"
	"github.com/roach88/atsguard/internal/querysql"
	"github.com/roach88/atsguard/internal/tenant"
)

// Tx is a transaction bound to one tenant scope. Every tenant-owned
// statement it issues is compiled with the scope's tenant predicate.
type Tx struct {
	tx    *sql.Tx
	scope tenant.Scope
	store *Store
}

// Scope returns the tenant scope the transaction is bound to.
func (t *Tx) Scope() tenant.Scope {
	return t.scope
}

// rowScanner is implemented by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func (t *Tx) compile(q queryir.Query, entity, id string) (string, []any, error) {
	query, args, err := t.store.compiler.Compile(q, t.scope.TenantID())
	if errors.Is(err, querysql.ErrTenantOverride) {
		return "", nil, tenant.NewCrossTenantError(t.scope, entity, id, err)
	}
	if err != nil {
		return "", nil, err
	}
	return query, args, nil
}

// execStmt runs a compiled statement and returns the affected row count.
func (t *Tx) execStmt(ctx context.Context, q queryir.Query, entity, id string) (int64, error) {
	query, args, err := t.compile(q, entity, id)
	if err != nil {
		return 0, err
	}
	res, err := t.tx.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, translateError(t.scope, entity, id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return n, nil
}

// queryStmt runs a compiled SELECT. Callers must close the rows.
func (t *Tx) queryStmt(ctx context.Context, q queryir.Select, entity string) (*sql.Rows, error) {
	query, args, err := t.compile(q, entity, "")
	if err != nil {
		return nil, err
	}
	rows, err := t.tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, translateError(t.scope, entity, "", err)
	}
	return rows, nil
}

// expectOne turns a zero-row targeted write into a cross-tenant violation:
// the row either does not exist or belongs to another tenant, and the caller
// must not be able to tell which.
func (t *Tx) expectOne(n int64, entity, id string) error {
	if n == 0 {
		return tenant.NewCrossTenantError(t.scope, entity, id, nil)
	}
	return nil
}

func (t *Tx) requireActiveTenant(ctx context.Context) error {
	var active bool
	err := t.tx.QueryRowContext(ctx,
		t.store.dialect.rebind("SELECT active FROM tenants WHERE id = ?"),
		t.scope.TenantID(),
	).Scan(&active)
	if errors.Is(err, sql.ErrNoRows) {
		active = false
	} else if err != nil {
		return fmt.Errorf("check tenant: %w", err)
	}
	if !active {
		actor := t.scope.Actor()
		return tenant.NewAuthorizationError("tenant is inactive", t.scope.TenantID(), actor.ID)
	}
	return nil
}
