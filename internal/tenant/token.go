package tenant

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"
)

// TokenPrefix marks atsguard API tokens.
const TokenPrefix = "atsk_"

// ErrUnknownToken is returned by a TokenLookup when no token has the prefix.
var ErrUnknownToken = errors.New("unknown token")

// Resolver is the authentication collaborator: it turns a bearer token into a
// principal. The core trusts the resolution completely and never re-derives
// tenant identity from request payloads.
type Resolver interface {
	Resolve(ctx context.Context, token string) (Principal, error)
}

// TokenRecord is the stored side of an API token joined with its actor and
// tenant.
type TokenRecord struct {
	TokenID      string
	ActorID      string
	TenantID     string
	Kind         ActorKind
	Roles        []string
	Hash         string
	ExpiresAt    time.Time
	Revoked      bool
	ActorActive  bool
	TenantActive bool
}

// TokenLookup finds a token by its public prefix.
type TokenLookup interface {
	LookupToken(ctx context.Context, prefix string) (TokenRecord, error)
}

// TokenResolver resolves atsk_ tokens against stored bcrypt hashes.
type TokenResolver struct {
	lookup  TokenLookup
	now     func() time.Time
	compare func(hash, secret []byte) error
}

// NewTokenResolver creates a resolver backed by lookup.
func NewTokenResolver(lookup TokenLookup, now func() time.Time) *TokenResolver {
	if now == nil {
		now = time.Now
	}
	return &TokenResolver{lookup: lookup, now: now, compare: bcrypt.CompareHashAndPassword}
}

// decoyHash is compared against when no token has the prefix, so an unknown
// prefix costs the same bcrypt work as a wrong secret.
var decoyHash = sync.OnceValue(func() []byte {
	hash, err := bcrypt.GenerateFromPassword([]byte("atsguard-decoy-secret"), bcrypt.DefaultCost)
	if err != nil {
		panic(fmt.Sprintf("tenant: generate decoy hash: %v", err))
	}
	return hash
})

// Resolve validates the token and returns the principal it belongs to.
//
// Returns an AUTHENTICATION AccessError for malformed, unknown, mismatched,
// revoked or expired tokens and an AUTHORIZATION AccessError when the actor or
// its tenant has been deactivated.
func (r *TokenResolver) Resolve(ctx context.Context, token string) (Principal, error) {
	prefix, secret, err := ParseToken(token)
	if err != nil {
		return Principal{}, NewAuthenticationError(err.Error())
	}

	rec, err := r.lookup.LookupToken(ctx, prefix)
	if errors.Is(err, ErrUnknownToken) {
		_ = r.compare(decoyHash(), []byte(secret))
		return Principal{}, NewAuthenticationError("token not recognised")
	}
	if err != nil {
		return Principal{}, fmt.Errorf("resolve token: %w", err)
	}

	if r.compare([]byte(rec.Hash), []byte(secret)) != nil {
		return Principal{}, NewAuthenticationError("token not recognised")
	}
	if rec.Revoked {
		return Principal{}, NewAuthenticationError("token revoked")
	}
	if !rec.ExpiresAt.IsZero() && !r.now().Before(rec.ExpiresAt) {
		return Principal{}, NewAuthenticationError("token expired")
	}
	if !rec.ActorActive {
		return Principal{}, NewAuthorizationError("actor is inactive", rec.TenantID, rec.ActorID)
	}
	if !rec.TenantActive {
		return Principal{}, NewAuthorizationError("tenant is inactive", rec.TenantID, rec.ActorID)
	}

	return Principal{
		ActorID:  rec.ActorID,
		TenantID: rec.TenantID,
		Kind:     rec.Kind,
		Roles:    rec.Roles,
		Active:   true,
	}, nil
}

// GeneratedToken is a freshly minted token. Raw is shown to the caller once
// and never stored.
type GeneratedToken struct {
	Raw    string
	Prefix string
	Hash   string
}

// GenerateToken mints a token of the form atsk_<prefix>_<secret>.
func GenerateToken(cost int) (GeneratedToken, error) {
	prefixBytes := make([]byte, 4)
	if _, err := rand.Read(prefixBytes); err != nil {
		return GeneratedToken{}, fmt.Errorf("generate token prefix: %w", err)
	}
	secretBytes := make([]byte, 32)
	if _, err := rand.Read(secretBytes); err != nil {
		return GeneratedToken{}, fmt.Errorf("generate token secret: %w", err)
	}

	prefix := hex.EncodeToString(prefixBytes)
	secret := base64.RawURLEncoding.EncodeToString(secretBytes)

	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), cost)
	if err != nil {
		return GeneratedToken{}, fmt.Errorf("hash token: %w", err)
	}

	return GeneratedToken{
		Raw:    TokenPrefix + prefix + "_" + secret,
		Prefix: prefix,
		Hash:   string(hash),
	}, nil
}

// ParseToken splits a raw token into its lookup prefix and secret.
func ParseToken(token string) (prefix, secret string, err error) {
	rest, ok := strings.CutPrefix(strings.TrimSpace(token), TokenPrefix)
	if !ok {
		return "", "", errors.New("malformed token")
	}
	prefix, secret, ok = strings.Cut(rest, "_")
	if !ok || len(prefix) != 8 || secret == "" {
		return "", "", errors.New("malformed token")
	}
	return prefix, secret, nil
}
