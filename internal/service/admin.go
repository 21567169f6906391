package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/roach88/atsguard/internal/store"
	"github.com/roach88/atsguard/internal/tenant"
)

// The operations in this file provision tenants, actors and tokens. They are
// operator commands and run outside any tenant scope.

// CreateTenant provisions an active tenant.
func (s *Service) CreateTenant(ctx context.Context, name string) (store.Tenant, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return store.Tenant{}, fmt.Errorf("%w: tenant name is required", ErrInvalidInput)
	}
	now := s.clock.Now()
	t := store.Tenant{ID: s.ids.Generate(), Name: name, Active: true, CreatedAt: now, UpdatedAt: now}
	if err := s.store.CreateTenant(ctx, t); err != nil {
		return store.Tenant{}, err
	}
	s.logger.Info("tenant created", zap.String("tenant_id", t.ID), zap.String("name", name))
	return t, nil
}

// DeactivateTenant freezes a tenant: its tokens stop resolving and scoped
// writes are refused. Data is kept.
func (s *Service) DeactivateTenant(ctx context.Context, id string) error {
	if err := s.store.SetTenantActive(ctx, id, false, s.clock.Now()); err != nil {
		return err
	}
	s.logger.Info("tenant deactivated", zap.String("tenant_id", id))
	return nil
}

// CreateActor registers a human or system actor in a tenant.
func (s *Service) CreateActor(ctx context.Context, tenantID, displayName string, kind tenant.ActorKind, roles []string) (store.Actor, error) {
	if !kind.Valid() {
		return store.Actor{}, fmt.Errorf("%w: unknown actor kind %q", ErrInvalidInput, kind)
	}
	if _, err := s.store.GetTenant(ctx, tenantID); err != nil {
		return store.Actor{}, err
	}
	a := store.Actor{
		ID:          s.ids.Generate(),
		TenantID:    tenantID,
		DisplayName: strings.TrimSpace(displayName),
		Kind:        string(kind),
		Roles:       roles,
		Active:      true,
		CreatedAt:   s.clock.Now(),
	}
	if err := s.store.CreateActor(ctx, a); err != nil {
		return store.Actor{}, err
	}
	return a, nil
}

// IssuedToken is a new token. Raw is shown once and never stored.
type IssuedToken struct {
	Raw       string    `json:"token"`
	Prefix    string    `json:"prefix"`
	ActorID   string    `json:"actor_id"`
	ExpiresAt time.Time `json:"expires_at,omitzero"`
}

// IssueToken mints a token for an actor. A zero ttl issues a token without
// expiry. cost is the bcrypt cost (0 for the library default).
func (s *Service) IssueToken(ctx context.Context, actorID string, ttl time.Duration, cost int) (IssuedToken, error) {
	gen, err := tenant.GenerateToken(cost)
	if err != nil {
		return IssuedToken{}, err
	}
	now := s.clock.Now()
	tok := store.APIToken{
		ID:        s.ids.Generate(),
		ActorID:   actorID,
		Prefix:    gen.Prefix,
		Hash:      gen.Hash,
		CreatedAt: now,
	}
	if ttl > 0 {
		tok.ExpiresAt = now.Add(ttl)
	}
	if err := s.store.InsertToken(ctx, tok); err != nil {
		return IssuedToken{}, err
	}
	return IssuedToken{Raw: gen.Raw, Prefix: gen.Prefix, ActorID: actorID, ExpiresAt: tok.ExpiresAt}, nil
}

// RevokeToken revokes the token with the given raw value or prefix.
func (s *Service) RevokeToken(ctx context.Context, tokenOrPrefix string) error {
	prefix := tokenOrPrefix
	if p, _, err := tenant.ParseToken(tokenOrPrefix); err == nil {
		prefix = p
	}
	err := s.store.RevokeToken(ctx, prefix, s.clock.Now())
	if errors.Is(err, tenant.ErrUnknownToken) {
		return &tenant.AccessError{Code: tenant.ErrCodeNotFound, Message: "token not found", Entity: "api_token", EntityID: prefix}
	}
	return err
}
