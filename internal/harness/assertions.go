package harness

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/roach88/atsguard/internal/audit"
	"github.com/roach88/atsguard/internal/tenant"
)

// AssertionError is returned when an assertion fails.
type AssertionError struct {
	Type     string // assertion type for categorization
	Target   string // alias, or op for trace_count
	Expected string
	Actual   string
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder
	fmt.Fprintf(&buf, "assertion failed: %s", e.Type)
	if e.Target != "" {
		fmt.Fprintf(&buf, " (%s)", e.Target)
	}
	fmt.Fprintf(&buf, ": expected %s, got %s", e.Expected, e.Actual)
	return buf.String()
}

// evaluate checks every assertion and returns one message per failure.
func (h *Harness) evaluate(ctx context.Context, assertions []Assertion, trace []TraceEvent) []string {
	var failures []string
	for i, a := range assertions {
		if err := h.assert(ctx, a, trace); err != nil {
			failures = append(failures, fmt.Sprintf("assertions[%d]: %v", i, err))
		}
	}
	return failures
}

func (h *Harness) assert(ctx context.Context, a Assertion, trace []TraceEvent) error {
	switch a.Type {
	case AssertFinalStatus:
		return h.assertFinalStatus(ctx, a)
	case AssertBlacklisted:
		return h.assertBlacklisted(ctx, a)
	case AssertFlagged:
		return h.assertFlagged(ctx, a)
	case AssertHistoryCount:
		return h.assertHistoryCount(ctx, a)
	case AssertChainIntact:
		return h.assertChainIntact(ctx, a)
	case AssertTraceCount:
		return assertTraceCount(trace, a)
	}
	return fmt.Errorf("unknown assertion type %q", a.Type)
}

// lookup resolves an aliased subject and the reader scope of its tenant.
func (h *Harness) lookup(subjectTypeName, alias string) (audit.Subject, tenant.Scope, error) {
	st := subjectType(subjectTypeName)
	refs := h.applications
	if st == audit.SubjectCandidate {
		refs = h.candidates
	}
	r, ok := refs[alias]
	if !ok {
		return audit.Subject{}, tenant.Scope{}, fmt.Errorf("unknown %s %q", st, alias)
	}
	return audit.Subject{Type: st, ID: r.id}, h.readers[r.tenant], nil
}

func (h *Harness) status(ctx context.Context, subjectTypeName, alias string) (string, error) {
	subject, scope, err := h.lookup(subjectTypeName, alias)
	if err != nil {
		return "", err
	}
	if subject.Type == audit.SubjectCandidate {
		c, err := h.svc.GetCandidate(ctx, scope, subject.ID)
		return c.Status, err
	}
	app, err := h.svc.GetApplication(ctx, scope, subject.ID)
	return app.Status, err
}

func (h *Harness) assertFinalStatus(ctx context.Context, a Assertion) error {
	got, err := h.status(ctx, a.Subject, a.Target)
	if err != nil {
		return err
	}
	if a.Status != "" && got != a.Status {
		return &AssertionError{Type: a.Type, Target: a.Target, Expected: a.Status, Actual: got}
	}
	if len(a.OneOf) > 0 && !slices.Contains(a.OneOf, got) {
		return &AssertionError{
			Type:     a.Type,
			Target:   a.Target,
			Expected: "one of " + strings.Join(a.OneOf, ", "),
			Actual:   got,
		}
	}
	return nil
}

func (h *Harness) assertBlacklisted(ctx context.Context, a Assertion) error {
	subject, scope, err := h.lookup(audit.SubjectCandidate, a.Target)
	if err != nil {
		return err
	}
	c, err := h.svc.GetCandidate(ctx, scope, subject.ID)
	if err != nil {
		return err
	}
	if c.Blacklisted != *a.Value {
		return &AssertionError{Type: a.Type, Target: a.Target,
			Expected: fmt.Sprintf("%t", *a.Value), Actual: fmt.Sprintf("%t", c.Blacklisted)}
	}
	return nil
}

func (h *Harness) assertFlagged(ctx context.Context, a Assertion) error {
	subject, scope, err := h.lookup(audit.SubjectApplication, a.Target)
	if err != nil {
		return err
	}
	app, err := h.svc.GetApplication(ctx, scope, subject.ID)
	if err != nil {
		return err
	}
	if app.FlaggedForReview != *a.Value {
		return &AssertionError{Type: a.Type, Target: a.Target,
			Expected: fmt.Sprintf("%t", *a.Value), Actual: fmt.Sprintf("%t", app.FlaggedForReview)}
	}
	return nil
}

func (h *Harness) assertHistoryCount(ctx context.Context, a Assertion) error {
	subject, scope, err := h.lookup(a.Subject, a.Target)
	if err != nil {
		return err
	}
	recs, err := h.svc.History(ctx, scope, subject)
	if err != nil {
		return err
	}
	if len(recs) != *a.Count {
		return &AssertionError{Type: a.Type, Target: a.Target,
			Expected: fmt.Sprintf("%d records", *a.Count), Actual: fmt.Sprintf("%d records", len(recs))}
	}
	return nil
}

func (h *Harness) assertChainIntact(ctx context.Context, a Assertion) error {
	subject, scope, err := h.lookup(a.Subject, a.Target)
	if err != nil {
		return err
	}
	rep, err := h.svc.VerifyHistory(ctx, scope, subject)
	if err != nil {
		return err
	}
	if !rep.Intact {
		return &AssertionError{Type: a.Type, Target: a.Target, Expected: "intact chain",
			Actual: fmt.Sprintf("broken at seq %d: %s", rep.BrokenSeq, rep.Problem)}
	}
	return nil
}

// assertTraceCount counts trace events with the assertion's op and, when
// given, outcome.
func assertTraceCount(trace []TraceEvent, a Assertion) error {
	n := 0
	for _, e := range trace {
		if e.Op == a.Op && (a.Outcome == "" || e.Outcome == a.Outcome) {
			n++
		}
	}
	if n != *a.Count {
		what := a.Op
		if a.Outcome != "" {
			what += "/" + a.Outcome
		}
		return &AssertionError{Type: a.Type, Target: what,
			Expected: fmt.Sprintf("%d steps", *a.Count), Actual: fmt.Sprintf("%d steps", n)}
	}
	return nil
}
