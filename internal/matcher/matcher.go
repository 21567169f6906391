package matcher

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"strings"

	"github.com/adrg/strutil"
	"github.com/adrg/strutil/metrics"

	"github.com/roach88/atsguard/internal/store"
)

// Field weights of the similarity score.
const (
	weightName  = 0.4
	weightEmail = 0.4
	weightPhone = 0.2
)

// Decision is the outcome handed to the ingestion collaborator.
type Decision string

const (
	// DecisionClean means the candidate may be created without review.
	DecisionClean Decision = "clean"

	// DecisionFlagged means the new application must be held for review.
	DecisionFlagged Decision = "flagged"
)

// Confidence qualifies a similarity score.
type Confidence string

const (
	// ConfidenceHigh: at least one contact field was comparable.
	ConfidenceHigh Confidence = "high"

	// ConfidenceLow: only the name could be compared.
	ConfidenceLow Confidence = "low"
)

// Match is one existing candidate scored against the proposed identity.
type Match struct {
	CandidateID string
	Score       float64
	Confidence  Confidence
	Exact       bool
	MatchedOn   []string
	Status      string
	Blacklisted bool
}

// Result is the matcher verdict. Best is nil when nothing scored at or above
// the threshold.
type Result struct {
	Decision    Decision
	Reason      string
	Fingerprint string
	Best        *Match
	Matches     []Match
}

// Flagged reports whether the application must be held for review.
func (r Result) Flagged() bool {
	return r.Decision == DecisionFlagged
}

// MatchedCandidateID returns the id of the best match, or "".
func (r Result) MatchedCandidateID() string {
	if r.Best == nil {
		return ""
	}
	return r.Best.CandidateID
}

// CandidateSource is the tenant-scoped read access the matcher needs.
// *store.Tx implements it.
type CandidateSource interface {
	FindCandidatesByFingerprint(ctx context.Context, fingerprint string) ([]store.CandidateIdentity, error)
	ListCandidateIdentities(ctx context.Context) ([]store.CandidateIdentity, error)
}

// Config holds the matching thresholds.
type Config struct {
	// Threshold is the minimum score for a match.
	Threshold float64

	// ReviewThreshold flags a non-exact match at or above it even when the
	// matched candidate is in good standing.
	ReviewThreshold float64

	// NameOnlyConfidence multiplies the score when only names are comparable.
	NameOnlyConfidence float64

	// FlagStatuses are the statuses that make a match flag the application.
	FlagStatuses []string
}

// DefaultConfig returns the production thresholds.
func DefaultConfig() Config {
	return Config{
		Threshold:          0.8,
		ReviewThreshold:    0.95,
		NameOnlyConfidence: 0.85,
		FlagStatuses:       []string{"LEFT_COMPANY"},
	}
}

// Matcher scores proposed candidates against a tenant's existing ones.
// A Matcher is safe for concurrent use.
type Matcher struct {
	cfg Config
}

// New creates a matcher. Zero-valued thresholds take their defaults.
func New(cfg Config) *Matcher {
	def := DefaultConfig()
	if cfg.Threshold <= 0 {
		cfg.Threshold = def.Threshold
	}
	if cfg.ReviewThreshold <= 0 {
		cfg.ReviewThreshold = def.ReviewThreshold
	}
	if cfg.NameOnlyConfidence <= 0 {
		cfg.NameOnlyConfidence = def.NameOnlyConfidence
	}
	if len(cfg.FlagStatuses) == 0 {
		cfg.FlagStatuses = def.FlagStatuses
	}
	return &Matcher{cfg: cfg}
}

// Config returns the effective configuration.
func (m *Matcher) Config() Config {
	cfg := m.cfg
	cfg.FlagStatuses = slices.Clone(cfg.FlagStatuses)
	return cfg
}

// Check decides whether proposed duplicates a candidate visible through src.
// Missing email or phone never cause an error; the score degrades to the
// fields that are present.
func (m *Matcher) Check(ctx context.Context, src CandidateSource, proposed Identity) (Result, error) {
	fp := Fingerprint(proposed)
	res := Result{Decision: DecisionClean, Fingerprint: fp}

	exact, err := src.FindCandidatesByFingerprint(ctx, fp)
	if err != nil {
		return Result{}, fmt.Errorf("exact match: %w", err)
	}
	seen := make(map[string]bool, len(exact))
	for _, c := range exact {
		seen[c.ID] = true
		res.Matches = append(res.Matches, Match{
			CandidateID: c.ID,
			Score:       1.0,
			Confidence:  ConfidenceHigh,
			Exact:       true,
			MatchedOn:   presentFields(proposed),
			Status:      c.Status,
			Blacklisted: c.Blacklisted,
		})
	}

	existing, err := src.ListCandidateIdentities(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("fuzzy match: %w", err)
	}
	target := Normalize(proposed)
	for _, c := range existing {
		if seen[c.ID] {
			continue
		}
		other := Normalize(Identity{FullName: c.FullName, Email: c.Email, Phone: c.Phone})
		s := score(target, other, m.cfg.NameOnlyConfidence)
		if s.value < m.cfg.Threshold {
			continue
		}
		res.Matches = append(res.Matches, Match{
			CandidateID: c.ID,
			Score:       s.value,
			Confidence:  s.confidence,
			MatchedOn:   s.matchedOn,
			Status:      c.Status,
			Blacklisted: c.Blacklisted,
		})
	}

	// Highest score first; exact before fuzzy on ties; then id for stability.
	sort.SliceStable(res.Matches, func(i, j int) bool {
		a, b := res.Matches[i], res.Matches[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.Exact != b.Exact {
			return a.Exact
		}
		return a.CandidateID < b.CandidateID
	})
	if len(res.Matches) == 0 {
		return res, nil
	}

	best := res.Matches[0]
	for _, mt := range res.Matches {
		if m.flags(mt) {
			best = mt
			res.Decision = DecisionFlagged
			standing := "left the organization"
			if !slices.Contains(m.cfg.FlagStatuses, mt.Status) {
				standing = "is blacklisted"
			}
			res.Reason = fmt.Sprintf("possible duplicate of candidate %s who %s (similarity %.2f, matched on %s)",
				mt.CandidateID, standing, mt.Score, strings.Join(mt.MatchedOn, ", "))
			res.Best = &best
			return res, nil
		}
	}
	for _, mt := range res.Matches {
		if !mt.Exact && mt.Score >= m.cfg.ReviewThreshold {
			best = mt
			res.Decision = DecisionFlagged
			res.Reason = fmt.Sprintf("very high similarity to existing candidate %s (similarity %.2f, status %s)",
				mt.CandidateID, mt.Score, mt.Status)
			res.Best = &best
			return res, nil
		}
	}
	res.Best = &best
	return res, nil
}

// presentFields lists the identity fields an exact match agreed on.
func presentFields(id Identity) []string {
	n := Normalize(id)
	fields := []string{"name"}
	if n.Email != "" {
		fields = append(fields, "email")
	}
	if n.Phone != "" {
		fields = append(fields, "phone")
	}
	return fields
}

func (m *Matcher) flags(mt Match) bool {
	return mt.Blacklisted || slices.Contains(m.cfg.FlagStatuses, mt.Status)
}

type scored struct {
	value      float64
	confidence Confidence
	matchedOn  []string
}

// score compares two normalized identities.
func score(a, b Identity, nameOnlyConfidence float64) scored {
	var (
		total, weight float64
		matchedOn     []string
		contact       bool
	)

	if a.FullName != "" && b.FullName != "" {
		sim := NameSimilarity(a.FullName, b.FullName)
		total += sim * weightName
		weight += weightName
		if sim >= 0.8 {
			matchedOn = append(matchedOn, "name")
		}
	}
	if a.Email != "" && b.Email != "" {
		contact = true
		weight += weightEmail
		if a.Email == b.Email {
			total += weightEmail
			matchedOn = append(matchedOn, "email")
		}
	}
	if a.Phone != "" && b.Phone != "" {
		contact = true
		weight += weightPhone
		if a.Phone == b.Phone {
			total += weightPhone
			matchedOn = append(matchedOn, "phone")
		}
	}

	if weight == 0 {
		return scored{confidence: ConfidenceLow}
	}
	s := scored{value: total / weight, confidence: ConfidenceHigh, matchedOn: matchedOn}
	if !contact {
		s.value *= nameOnlyConfidence
		s.confidence = ConfidenceLow
	}
	return s
}

var (
	jaroWinkler = metrics.NewJaroWinkler()
	levenshtein = metrics.NewLevenshtein()
	trigram     = &metrics.Jaccard{NgramSize: 3}
)

// NameSimilarity returns a similarity in [0, 1] between two normalized names:
// the best of Jaro-Winkler, Levenshtein ratio and trigram Jaccard, the latter
// two also over word-sorted forms so "doe jane" matches "jane doe".
func NameSimilarity(a, b string) float64 {
	if a == "" || b == "" {
		return 0
	}
	if a == b {
		return 1
	}
	sa, sb := sortWords(a), sortWords(b)
	return max(
		strutil.Similarity(a, b, jaroWinkler),
		strutil.Similarity(a, b, levenshtein),
		strutil.Similarity(sa, sb, levenshtein),
		strutil.Similarity(sa, sb, trigram),
	)
}

func sortWords(s string) string {
	words := strings.Fields(s)
	sort.Strings(words)
	return strings.Join(words, " ")
}
