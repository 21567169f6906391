package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/roach88/atsguard/internal/tenant"
)

// The statements in this file act on tenants, actors and tokens. They run
// outside any tenant scope and are reserved for administrative commands and
// the token resolver.

// CreateTenant inserts a tenant.
func (s *Store) CreateTenant(ctx context.Context, t Tenant) error {
	_, err := s.db.ExecContext(ctx, s.dialect.rebind(`
		INSERT INTO tenants (id, name, active, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
	`), t.ID, t.Name, t.Active, t.CreatedAt.UTC(), t.UpdatedAt.UTC())
	if err != nil {
		return fmt.Errorf("create tenant: %w", translateError(tenant.Scope{}, "tenant", t.ID, err))
	}
	return nil
}

// GetTenant loads a tenant by id. Returns a NOT_FOUND AccessError when absent.
func (s *Store) GetTenant(ctx context.Context, id string) (Tenant, error) {
	var t Tenant
	err := s.db.QueryRowContext(ctx, s.dialect.rebind(`
		SELECT id, name, active, created_at, updated_at FROM tenants WHERE id = ?
	`), id).Scan(&t.ID, &t.Name, &t.Active, &t.CreatedAt, &t.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Tenant{}, &tenant.AccessError{Code: tenant.ErrCodeNotFound, Message: "tenant not found", Entity: "tenant", EntityID: id}
	}
	if err != nil {
		return Tenant{}, fmt.Errorf("get tenant: %w", err)
	}
	t.CreatedAt = t.CreatedAt.UTC()
	t.UpdatedAt = t.UpdatedAt.UTC()
	return t, nil
}

// SetTenantActive activates or deactivates a tenant. Deactivation freezes
// writes; no data is removed.
func (s *Store) SetTenantActive(ctx context.Context, id string, active bool, at time.Time) error {
	res, err := s.db.ExecContext(ctx, s.dialect.rebind(`
		UPDATE tenants SET active = ?, updated_at = ? WHERE id = ?
	`), active, at.UTC(), id)
	if err != nil {
		return fmt.Errorf("set tenant active: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("set tenant active: %w", err)
	}
	if n == 0 {
		return &tenant.AccessError{Code: tenant.ErrCodeNotFound, Message: "tenant not found", Entity: "tenant", EntityID: id}
	}
	return nil
}

// CreateActor inserts an actor in its tenant.
func (s *Store) CreateActor(ctx context.Context, a Actor) error {
	_, err := s.db.ExecContext(ctx, s.dialect.rebind(`
		INSERT INTO actors (id, tenant_id, display_name, kind, roles, active, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`), a.ID, a.TenantID, a.DisplayName, a.Kind, joinRoles(a.Roles), a.Active, a.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("create actor: %w", translateError(tenant.Scope{}, "actor", a.ID, err))
	}
	return nil
}

// SetActorActive activates or deactivates an actor.
func (s *Store) SetActorActive(ctx context.Context, id string, active bool) error {
	res, err := s.db.ExecContext(ctx, s.dialect.rebind(`
		UPDATE actors SET active = ? WHERE id = ?
	`), active, id)
	if err != nil {
		return fmt.Errorf("set actor active: %w", err)
	}
	if n, err := res.RowsAffected(); err != nil || n == 0 {
		return &tenant.AccessError{Code: tenant.ErrCodeNotFound, Message: "actor not found", Entity: "actor", EntityID: id, Err: err}
	}
	return nil
}

// InsertToken stores an issued token.
func (s *Store) InsertToken(ctx context.Context, tok APIToken) error {
	var expires any
	if !tok.ExpiresAt.IsZero() {
		expires = tok.ExpiresAt.UTC()
	}
	_, err := s.db.ExecContext(ctx, s.dialect.rebind(`
		INSERT INTO api_tokens (id, actor_id, prefix, hash, expires_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`), tok.ID, tok.ActorID, tok.Prefix, tok.Hash, expires, tok.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("insert token: %w", translateError(tenant.Scope{}, "api_token", tok.ID, err))
	}
	return nil
}

// RevokeToken marks the token with the given prefix revoked.
func (s *Store) RevokeToken(ctx context.Context, prefix string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, s.dialect.rebind(`
		UPDATE api_tokens SET revoked_at = ? WHERE prefix = ? AND revoked_at IS NULL
	`), at.UTC(), prefix)
	if err != nil {
		return fmt.Errorf("revoke token: %w", err)
	}
	if n, err := res.RowsAffected(); err != nil || n == 0 {
		return tenant.ErrUnknownToken
	}
	return nil
}

// LookupToken implements tenant.TokenLookup.
func (s *Store) LookupToken(ctx context.Context, prefix string) (tenant.TokenRecord, error) {
	var (
		rec              tenant.TokenRecord
		kind, roles      string
		expires, revoked sql.NullTime
	)
	err := s.db.QueryRowContext(ctx, s.dialect.rebind(`
		SELECT k.id, a.id, a.tenant_id, a.kind, a.roles, k.hash, k.expires_at,
		       k.revoked_at, a.active, t.active
		FROM api_tokens k
		JOIN actors a ON a.id = k.actor_id
		JOIN tenants t ON t.id = a.tenant_id
		WHERE k.prefix = ?
	`), prefix).Scan(
		&rec.TokenID, &rec.ActorID, &rec.TenantID, &kind, &roles, &rec.Hash,
		&expires, &revoked, &rec.ActorActive, &rec.TenantActive,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return tenant.TokenRecord{}, tenant.ErrUnknownToken
	}
	if err != nil {
		return tenant.TokenRecord{}, fmt.Errorf("lookup token: %w", err)
	}
	rec.Kind = tenant.ActorKind(kind)
	rec.Roles = splitRoles(roles)
	if expires.Valid {
		rec.ExpiresAt = expires.Time.UTC()
	}
	rec.Revoked = revoked.Valid
	return rec, nil
}
