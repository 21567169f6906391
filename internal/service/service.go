// Package service is the entry point collaborators call: authentication,
// ingestion, transitions, reads and the few privileged mutations.
//
// Every data operation takes a tenant.Scope produced by Resolve and runs in
// exactly one tenant-scoped transaction. Errors keep their full detail for
// logging; callers that build external responses map them with Classify.
package service

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/roach88/atsguard/internal/fsm"
	"github.com/roach88/atsguard/internal/ident"
	"github.com/roach88/atsguard/internal/matcher"
	"github.com/roach88/atsguard/internal/store"
	"github.com/roach88/atsguard/internal/tenant"
)

// ErrInvalidInput is returned for malformed requests.
var ErrInvalidInput = errors.New("invalid input")

// Service wires the core components together.
type Service struct {
	store    *store.Store
	resolver tenant.Resolver
	matcher  *matcher.Matcher
	engine   *fsm.Engine
	ids      ident.Generator
	clock    ident.Clock
	logger   *zap.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithResolver replaces the token resolver. Default: a
// tenant.TokenResolver backed by the store.
func WithResolver(r tenant.Resolver) Option {
	return func(s *Service) {
		s.resolver = r
	}
}

// WithMatcher replaces the duplicate matcher. Default: matcher.DefaultConfig.
func WithMatcher(m *matcher.Matcher) Option {
	return func(s *Service) {
		s.matcher = m
	}
}

// WithIDs sets the id generator. Default: ident.UUIDv7Generator.
func WithIDs(g ident.Generator) Option {
	return func(s *Service) {
		s.ids = g
	}
}

// WithClock sets the clock. Default: ident.SystemClock.
func WithClock(c ident.Clock) Option {
	return func(s *Service) {
		s.clock = c
	}
}

// WithLogger sets the logger. Default: no-op.
func WithLogger(l *zap.Logger) Option {
	return func(s *Service) {
		s.logger = l
	}
}

// New creates a Service over st.
func New(st *store.Store, opts ...Option) *Service {
	s := &Service{
		store:  st,
		ids:    ident.UUIDv7Generator{},
		clock:  ident.SystemClock{},
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.resolver == nil {
		s.resolver = tenant.NewTokenResolver(st, s.clock.Now)
	}
	if s.matcher == nil {
		s.matcher = matcher.New(matcher.DefaultConfig())
	}
	s.engine = fsm.New(st, s.ids, fsm.WithClock(s.clock), fsm.WithLogger(s.logger.Named("fsm")))
	return s
}

// Resolve authenticates token and binds the resulting principal to a scope.
// Every failure to establish a scope is an AUTHENTICATION AccessError or an
// infrastructure error.
func (s *Service) Resolve(ctx context.Context, token string) (tenant.Scope, error) {
	p, err := s.resolver.Resolve(ctx, token)
	if err == nil {
		var scope tenant.Scope
		if scope, err = tenant.Bind(p); err == nil {
			return scope, nil
		}
	}
	s.observe(tenant.Scope{}, "resolve", err)
	if tenant.IsAuthorization(err) {
		// A deactivated actor or tenant cannot authenticate.
		ae := tenant.NewAuthenticationError("credentials are not active")
		ae.Err = err
		return tenant.Scope{}, ae
	}
	return tenant.Scope{}, err
}

// write runs fn in a read-write scope and records security events.
func (s *Service) write(ctx context.Context, scope tenant.Scope, op string, fn store.TxFunc) error {
	err := s.store.WithTenantScope(ctx, scope, fn)
	s.observe(scope, op, err)
	return err
}

// read runs fn in a read-only scope and records security events.
func (s *Service) read(ctx context.Context, scope tenant.Scope, op string, fn store.TxFunc) error {
	err := s.store.ViewTenantScope(ctx, scope, fn)
	s.observe(scope, op, err)
	return err
}

// requireSystem refuses human actors.
func requireSystem(scope tenant.Scope, op string) error {
	actor := scope.Actor()
	if actor.IsSystem() {
		return nil
	}
	return tenant.NewAuthorizationError(op+" is restricted to system actors", scope.TenantID(), actor.ID)
}

// requireHumanRole refuses system actors and humans without one of roles.
func requireHumanRole(scope tenant.Scope, op string, roles ...string) error {
	actor := scope.Actor()
	if !actor.IsSystem() && actor.HasRole(roles...) {
		return nil
	}
	return tenant.NewAuthorizationError(op+" requires a human reviewer", scope.TenantID(), actor.ID)
}
