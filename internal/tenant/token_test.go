package tenant

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

type fakeLookup struct {
	records map[string]TokenRecord
	err     error
}

func (f *fakeLookup) LookupToken(_ context.Context, prefix string) (TokenRecord, error) {
	if f.err != nil {
		return TokenRecord{}, f.err
	}
	rec, ok := f.records[prefix]
	if !ok {
		return TokenRecord{}, ErrUnknownToken
	}
	return rec, nil
}

var fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestToken(t *testing.T, mutate func(*TokenRecord)) (string, *TokenResolver) {
	t.Helper()
	tok, err := GenerateToken(bcrypt.MinCost)
	require.NoError(t, err)

	rec := TokenRecord{
		TokenID:      "tok-1",
		ActorID:      "actor-1",
		TenantID:     "tenant-a",
		Kind:         ActorHuman,
		Roles:        []string{RoleRecruiter},
		Hash:         tok.Hash,
		ExpiresAt:    fixedNow.Add(time.Hour),
		ActorActive:  true,
		TenantActive: true,
	}
	if mutate != nil {
		mutate(&rec)
	}

	lookup := &fakeLookup{records: map[string]TokenRecord{tok.Prefix: rec}}
	return tok.Raw, NewTokenResolver(lookup, func() time.Time { return fixedNow })
}

func TestResolveValidToken(t *testing.T) {
	raw, r := newTestToken(t, nil)

	p, err := r.Resolve(context.Background(), raw)
	require.NoError(t, err)
	assert.Equal(t, "tenant-a", p.TenantID)
	assert.Equal(t, "actor-1", p.ActorID)
	assert.True(t, p.Active)

	scope, err := Bind(p)
	require.NoError(t, err)
	assert.Equal(t, "tenant-a", scope.TenantID())
}

func TestResolveRejections(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*TokenRecord)
		checkFn func(error) bool
	}{
		{"expired", func(r *TokenRecord) { r.ExpiresAt = fixedNow }, IsAuthentication},
		{"revoked", func(r *TokenRecord) { r.Revoked = true }, IsAuthentication},
		{"wrong hash", func(r *TokenRecord) { r.Hash = "$2a$04$invalidinvalidinvalidinvalidinvalidinvalidinvalidinv" }, IsAuthentication},
		{"inactive actor", func(r *TokenRecord) { r.ActorActive = false }, IsAuthorization},
		{"inactive tenant", func(r *TokenRecord) { r.TenantActive = false }, IsAuthorization},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw, r := newTestToken(t, tt.mutate)
			_, err := r.Resolve(context.Background(), raw)
			require.Error(t, err)
			assert.True(t, tt.checkFn(err), "unexpected error: %v", err)
		})
	}
}

func TestResolveMalformedAndUnknown(t *testing.T) {
	_, r := newTestToken(t, nil)

	for _, raw := range []string{"", "bearer xyz", "atsk_short_secret", "atsk_0123456789", "atsk_deadbeef_nope"} {
		_, err := r.Resolve(context.Background(), raw)
		assert.True(t, IsAuthentication(err), "token %q: %v", raw, err)
	}
}

func TestResolveUnknownPrefixStillComparesHash(t *testing.T) {
	raw, r := newTestToken(t, nil)

	var hashes [][]byte
	compare := r.compare
	r.compare = func(hash, secret []byte) error {
		hashes = append(hashes, hash)
		return compare(hash, secret)
	}

	_, err := r.Resolve(context.Background(), "atsk_deadbeef_nope")
	assert.True(t, IsAuthentication(err), "got %v", err)
	require.Len(t, hashes, 1, "unknown prefix must cost one hash comparison")
	assert.Equal(t, decoyHash(), hashes[0])

	cost, err := bcrypt.Cost(decoyHash())
	require.NoError(t, err)
	assert.Equal(t, bcrypt.DefaultCost, cost)

	// A known prefix compares against its own hash.
	_, err = r.Resolve(context.Background(), raw)
	require.NoError(t, err)
	require.Len(t, hashes, 2)
	assert.NotEqual(t, decoyHash(), hashes[1])
}

func TestResolveLookupFailureIsNotAnAuthError(t *testing.T) {
	r := NewTokenResolver(&fakeLookup{err: errors.New("db down")}, nil)
	_, err := r.Resolve(context.Background(), "atsk_deadbeef_secret")
	require.Error(t, err)
	assert.False(t, IsAuthentication(err))
	assert.Contains(t, err.Error(), "db down")
}

func TestParseToken(t *testing.T) {
	prefix, secret, err := ParseToken("atsk_0a1b2c3d_se_cr_et")
	require.NoError(t, err)
	assert.Equal(t, "0a1b2c3d", prefix)
	assert.Equal(t, "se_cr_et", secret)
}
