package tenant

import (
	"slices"
	"strings"
)

// ActorKind distinguishes people from automated callers.
type ActorKind string

const (
	ActorHuman  ActorKind = "human"
	ActorSystem ActorKind = "system"
)

// Valid reports whether k is a known actor kind.
func (k ActorKind) Valid() bool {
	return k == ActorHuman || k == ActorSystem
}

// Roles recognised by the core.
const (
	RoleAdmin     = "admin"
	RoleReviewer  = "reviewer"
	RoleRecruiter = "recruiter"
)

// Actor is the authenticated caller acting inside a tenant.
type Actor struct {
	ID    string
	Kind  ActorKind
	Roles []string
}

// HasRole reports whether the actor holds any of the given roles.
func (a Actor) HasRole(roles ...string) bool {
	for _, r := range roles {
		if slices.Contains(a.Roles, r) {
			return true
		}
	}
	return false
}

// IsSystem reports whether the actor is an internal/system caller.
func (a Actor) IsSystem() bool {
	return a.Kind == ActorSystem
}

// Principal is what an authentication collaborator resolves a token to.
type Principal struct {
	ActorID  string
	TenantID string
	Kind     ActorKind
	Roles    []string
	Active   bool
}

// Scope binds one logical operation to exactly one tenant and actor.
type Scope struct {
	tenantID string
	actor    Actor
}

// Bind converts a resolved principal into a Scope. It fails closed: an
// inactive actor yields an authorization error and a principal without a
// tenant or actor identity yields an authentication error.
func Bind(p Principal) (Scope, error) {
	tenantID := strings.TrimSpace(p.TenantID)
	actorID := strings.TrimSpace(p.ActorID)
	if tenantID == "" || actorID == "" || !p.Kind.Valid() {
		return Scope{}, NewAuthenticationError("principal is missing tenant or actor identity")
	}
	if !p.Active {
		return Scope{}, NewAuthorizationError("actor is inactive", tenantID, actorID)
	}
	return Scope{
		tenantID: tenantID,
		actor: Actor{
			ID:    actorID,
			Kind:  p.Kind,
			Roles: slices.Clone(p.Roles),
		},
	}, nil
}

// TenantID returns the bound tenant identifier ("" for the zero Scope).
func (s Scope) TenantID() string {
	return s.tenantID
}

// Actor returns the bound actor.
func (s Scope) Actor() Actor {
	a := s.actor
	a.Roles = slices.Clone(a.Roles)
	return a
}

// Valid reports whether the scope was produced by Bind.
func (s Scope) Valid() bool {
	return s.tenantID != "" && s.actor.ID != ""
}

// String renders the scope for logs.
func (s Scope) String() string {
	if !s.Valid() {
		return "tenant.Scope(<unbound>)"
	}
	return "tenant.Scope(" + s.tenantID + "/" + s.actor.ID + ")"
}
