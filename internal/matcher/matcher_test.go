package matcher

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/atsguard/internal/store"
)

// fakeSource is an in-memory CandidateSource for one tenant.
type fakeSource struct {
	candidates []store.CandidateIdentity
	err        error
}

func (f *fakeSource) add(id, name, email, phone, status string, blacklisted bool) {
	f.candidates = append(f.candidates, store.CandidateIdentity{
		ID:          id,
		FullName:    name,
		Email:       email,
		Phone:       phone,
		Status:      status,
		Blacklisted: blacklisted,
		Fingerprint: Fingerprint(Identity{FullName: name, Email: email, Phone: phone}),
	})
}

func (f *fakeSource) FindCandidatesByFingerprint(_ context.Context, fp string) ([]store.CandidateIdentity, error) {
	if f.err != nil {
		return nil, f.err
	}
	var out []store.CandidateIdentity
	for _, c := range f.candidates {
		if c.Fingerprint == fp {
			out = append(out, c)
		}
	}
	return out, nil
}

func (f *fakeSource) ListCandidateIdentities(context.Context) ([]store.CandidateIdentity, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.candidates, nil
}

func TestCheckNoCandidates(t *testing.T) {
	m := New(DefaultConfig())
	res, err := m.Check(context.Background(), &fakeSource{}, Identity{FullName: "Jane Doe", Email: "jane@x.com"})
	require.NoError(t, err)

	assert.Equal(t, DecisionClean, res.Decision)
	assert.False(t, res.Flagged())
	assert.Nil(t, res.Best)
	assert.Empty(t, res.MatchedCandidateID())
	assert.Equal(t, Fingerprint(Identity{FullName: "Jane Doe", Email: "jane@x.com"}), res.Fingerprint)
}

func TestCheckFlagsCandidateWhoLeft(t *testing.T) {
	src := &fakeSource{}
	src.add("c-jane", "Jane Doe", "jane@x.com", "555-1234", "LEFT_COMPANY", true)
	src.add("c-john", "John Roe", "john@x.com", "", "ACTIVE", false)

	res, err := New(DefaultConfig()).Check(context.Background(), src, Identity{FullName: "Jane Doe", Email: "jane@X.com"})
	require.NoError(t, err)

	assert.True(t, res.Flagged())
	assert.Equal(t, "c-jane", res.MatchedCandidateID())
	assert.InDelta(t, 1.0, res.Best.Score, 1e-9)
	assert.Equal(t, ConfidenceHigh, res.Best.Confidence)
	assert.Equal(t, []string{"name", "email"}, res.Best.MatchedOn)
	assert.Equal(t,
		"possible duplicate of candidate c-jane who left the organization (similarity 1.00, matched on name, email)",
		res.Reason)
}

func TestCheckExactMatchOfCandidateWhoLeft(t *testing.T) {
	src := &fakeSource{}
	src.add("c-jane", "Jane Doe", "jane@x.com", "555-1234", "LEFT_COMPANY", true)

	res, err := New(DefaultConfig()).Check(context.Background(), src, Identity{FullName: "JANE DOE", Email: "jane@x.com", Phone: "(555) 1234"})
	require.NoError(t, err)

	assert.True(t, res.Flagged())
	assert.True(t, res.Best.Exact)
	assert.Contains(t, res.Reason, "matched on name, email, phone")
}

func TestCheckExactMatchActiveIsClean(t *testing.T) {
	src := &fakeSource{}
	src.add("c1", "Ada Lovelace", "ada@example.com", "", "ACTIVE", false)

	res, err := New(DefaultConfig()).Check(context.Background(), src, Identity{FullName: "ada lovelace", Email: "ADA@example.com"})
	require.NoError(t, err)

	assert.Equal(t, DecisionClean, res.Decision)
	require.NotNil(t, res.Best)
	assert.True(t, res.Best.Exact)
	assert.Equal(t, "c1", res.Best.CandidateID)
	assert.Len(t, res.Matches, 1, "exact matches are not scored twice")
}

func TestCheckNearIdenticalActiveIsFlaggedForReview(t *testing.T) {
	src := &fakeSource{}
	src.add("c1", "Ada Lovelace", "ada@example.com", "555-0000", "ACTIVE", false)

	// Same person, phone omitted: different fingerprint, fuzzy score 1.0.
	res, err := New(DefaultConfig()).Check(context.Background(), src, Identity{FullName: "Ada Lovelace", Email: "ada@example.com"})
	require.NoError(t, err)

	assert.True(t, res.Flagged())
	assert.False(t, res.Best.Exact)
	assert.Equal(t, "very high similarity to existing candidate c1 (similarity 1.00, status ACTIVE)", res.Reason)
}

func TestCheckPartialMatchIsClean(t *testing.T) {
	src := &fakeSource{}
	src.add("c1", "Ada Lovelace", "ada@example.com", "555-0000", "ACTIVE", false)

	// Name and email agree, phone differs: (0.4 + 0.4) / 1.0.
	res, err := New(DefaultConfig()).Check(context.Background(), src, Identity{FullName: "Ada Lovelace", Email: "ada@example.com", Phone: "555-9999"})
	require.NoError(t, err)

	assert.Equal(t, DecisionClean, res.Decision)
	require.NotNil(t, res.Best)
	assert.InDelta(t, 0.8, res.Best.Score, 1e-9)
	assert.Equal(t, []string{"name", "email"}, res.Best.MatchedOn)
}

func TestCheckNameOnlyIsLowConfidence(t *testing.T) {
	src := &fakeSource{}
	src.add("c1", "Jane Doe", "", "", "LEFT_COMPANY", true)

	res, err := New(DefaultConfig()).Check(context.Background(), src, Identity{FullName: "Jane Do"})
	require.NoError(t, err)

	require.NotNil(t, res.Best)
	assert.Equal(t, ConfidenceLow, res.Best.Confidence)
	assert.Less(t, res.Best.Score, 0.9)
	assert.GreaterOrEqual(t, res.Best.Score, 0.8)
	assert.True(t, res.Flagged())
}

func TestCheckMissingFieldsNeverError(t *testing.T) {
	src := &fakeSource{}
	src.add("c1", "Jane Doe", "jane@x.com", "", "ACTIVE", false)
	src.add("c2", "Someone Else", "", "5551234", "ACTIVE", false)

	for _, id := range []Identity{
		{FullName: "Jane Doe"},
		{FullName: "Jane Doe", Phone: "555-1234"},
		{FullName: "", Email: "jane@x.com"},
		{},
	} {
		_, err := New(DefaultConfig()).Check(context.Background(), src, id)
		assert.NoError(t, err, "%+v", id)
	}
}

func TestCheckPrefersFlaggingMatch(t *testing.T) {
	src := &fakeSource{}
	src.add("c-active", "Jane Doe", "jane@x.com", "555-1234", "ACTIVE", false)
	src.add("c-left", "Jane Doe", "jane@x.com", "555-9999", "LEFT_COMPANY", true)

	res, err := New(DefaultConfig()).Check(context.Background(), src, Identity{FullName: "Jane Doe", Email: "jane@x.com", Phone: "555-1234"})
	require.NoError(t, err)

	require.Len(t, res.Matches, 2)
	assert.Equal(t, "c-active", res.Matches[0].CandidateID, "exact match scores highest")
	assert.True(t, res.Flagged())
	assert.Equal(t, "c-left", res.MatchedCandidateID())
}

func TestCheckBlacklistedFlags(t *testing.T) {
	src := &fakeSource{}
	src.add("c1", "Jane Doe", "jane@x.com", "", "ACTIVE", true)

	res, err := New(DefaultConfig()).Check(context.Background(), src, Identity{FullName: "Jane Doe", Email: "jane@x.com", Phone: "1"})
	require.NoError(t, err)
	assert.True(t, res.Flagged())
	assert.Contains(t, res.Reason, "who is blacklisted")
}

func TestCheckNeverMutatesSource(t *testing.T) {
	src := &fakeSource{}
	src.add("c1", "Jane Doe", "jane@x.com", "555-1234", "LEFT_COMPANY", true)
	before := src.candidates[0]

	_, err := New(DefaultConfig()).Check(context.Background(), src, Identity{FullName: "Jane Doe", Email: "jane@x.com"})
	require.NoError(t, err)
	assert.Equal(t, before, src.candidates[0])
}

func TestCheckPropagatesSourceErrors(t *testing.T) {
	boom := errors.New("db down")
	_, err := New(DefaultConfig()).Check(context.Background(), &fakeSource{err: boom}, Identity{FullName: "Jane"})
	assert.ErrorIs(t, err, boom)
}

func TestNewAppliesDefaults(t *testing.T) {
	cfg := New(Config{}).Config()
	assert.Equal(t, DefaultConfig(), cfg)

	cfg = New(Config{Threshold: 0.9}).Config()
	assert.Equal(t, 0.9, cfg.Threshold)
	assert.Equal(t, 0.85, cfg.NameOnlyConfidence)
}

func TestNameSimilarity(t *testing.T) {
	assert.Equal(t, 1.0, NameSimilarity("jane doe", "jane doe"))
	assert.Equal(t, 1.0, NameSimilarity("doe jane", "jane doe"))
	assert.Greater(t, NameSimilarity("jane doe", "jane do"), 0.9)
	assert.Less(t, NameSimilarity("jane doe", "robert smith"), 0.6)
	assert.Zero(t, NameSimilarity("", "jane"))
}
