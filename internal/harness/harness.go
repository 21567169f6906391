package harness

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/roach88/atsguard/internal/audit"
	"github.com/roach88/atsguard/internal/fsm"
	"github.com/roach88/atsguard/internal/service"
	"github.com/roach88/atsguard/internal/store"
	"github.com/roach88/atsguard/internal/tenant"
	"github.com/roach88/atsguard/internal/testutil"
)

// Harness executes one scenario against a fresh store.
type Harness struct {
	svc *service.Service

	tenants map[string]string // alias -> tenant id
	tokens  map[string]string // actor alias -> raw token
	readers map[string]tenant.Scope

	// Subject aliases. Both maps are filled by intake.
	candidates   map[string]ref
	applications map[string]ref
}

// ref locates an aliased subject.
type ref struct {
	id     string
	tenant string // alias
}

// Option configures Run.
type Option func(*runConfig)

type runConfig struct {
	logger *zap.Logger
}

// WithLogger routes service logs to l. Default: no-op.
func WithLogger(l *zap.Logger) Option {
	return func(c *runConfig) {
		c.logger = l
	}
}

// Run executes a scenario in a fresh temporary SQLite database.
//
// Execution flow:
//  1. Create tenants and actors; issue one token per actor
//  2. Execute steps, checking each expect clause
//  3. Evaluate assertions against final state and the trace
//
// The returned error reports infrastructure failures only. Failed
// expectations and assertions are collected in Result.Errors.
func Run(scenario *Scenario, opts ...Option) (*Result, error) {
	cfg := runConfig{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(&cfg)
	}

	dir, err := os.MkdirTemp("", "atsguard-harness-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp dir: %w", err)
	}
	defer os.RemoveAll(dir)

	st, err := store.Open(filepath.Join(dir, "harness.db"), store.WithLogger(cfg.logger.Named("store")))
	if err != nil {
		return nil, fmt.Errorf("failed to create store: %w", err)
	}
	defer st.Close()

	h := &Harness{
		svc: service.New(st,
			service.WithIDs(testutil.NewSequenceGenerator("id")),
			service.WithClock(testutil.NewDeterministicClock()),
			service.WithLogger(cfg.logger),
		),
		tenants:      make(map[string]string),
		tokens:       make(map[string]string),
		readers:      make(map[string]tenant.Scope),
		candidates:   make(map[string]ref),
		applications: make(map[string]ref),
	}

	ctx := context.Background()
	if err := h.setup(ctx, scenario); err != nil {
		return nil, fmt.Errorf("failed to execute setup: %w", err)
	}

	result := NewResult()
	for i, step := range scenario.Steps {
		event := h.execute(ctx, i+1, step, result)
		result.AddTrace(event)
	}

	for _, msg := range h.evaluate(ctx, scenario.Assertions, result.Trace) {
		result.AddError(msg)
	}
	return result, nil
}

func (h *Harness) setup(ctx context.Context, s *Scenario) error {
	for _, alias := range s.Tenants {
		t, err := h.svc.CreateTenant(ctx, alias)
		if err != nil {
			return fmt.Errorf("tenant %s: %w", alias, err)
		}
		h.tenants[alias] = t.ID

		// A system actor outside the scenario reads state for assertions.
		reader, err := h.svc.CreateActor(ctx, t.ID, "harness", tenant.ActorSystem, nil)
		if err != nil {
			return fmt.Errorf("tenant %s reader: %w", alias, err)
		}
		scope, err := tenant.Bind(tenant.Principal{
			ActorID: reader.ID, TenantID: t.ID, Kind: tenant.ActorSystem, Active: true,
		})
		if err != nil {
			return err
		}
		h.readers[alias] = scope
	}

	for _, def := range s.Actors {
		a, err := h.svc.CreateActor(ctx, h.tenants[def.Tenant], def.Name, tenant.ActorKind(def.Kind), def.Roles)
		if err != nil {
			return fmt.Errorf("actor %s: %w", def.Name, err)
		}
		tok, err := h.svc.IssueToken(ctx, a.ID, 0, bcrypt.MinCost)
		if err != nil {
			return fmt.Errorf("actor %s token: %w", def.Name, err)
		}
		h.tokens[def.Name] = tok.Raw
	}
	return nil
}

// execute runs one step and checks its expectation.
func (h *Harness) execute(ctx context.Context, n int, step Step, result *Result) TraceEvent {
	event := TraceEvent{Step: n, Op: step.Op, Actor: step.Actor}
	var err error

	switch step.Op {
	case OpDeactivateTenant:
		event.Target = step.Tenant
		err = h.svc.DeactivateTenant(ctx, h.tenants[step.Tenant])
	default:
		var scope tenant.Scope
		scope, err = h.svc.Resolve(ctx, h.tokens[step.Actor])
		if err == nil {
			err = h.perform(ctx, scope, step, &event, result)
		} else {
			h.describe(step, &event)
		}
	}

	event.Outcome = string(service.Classify(err))
	event.Rule = fsm.RuleOf(err)
	h.check(n, step, event, err, result)
	return event
}

// describe fills the request fields of the event.
func (h *Harness) describe(step Step, event *TraceEvent) {
	switch step.Op {
	case OpIntake:
		event.Target = step.As
	case OpTransition:
		event.Subject, event.Target, event.From, event.To = subjectType(step.Subject), step.Target, step.From, step.To
	case OpRace:
		event.Subject, event.Target, event.From = subjectType(step.Subject), step.Target, step.From
		event.Contenders = step.Contenders
	case OpClearFlag, OpDeleteApplication:
		event.Subject, event.Target = audit.SubjectApplication, step.Target
	case OpBlacklist:
		event.Subject, event.Target = audit.SubjectCandidate, step.Target
	}
}

func (h *Harness) perform(ctx context.Context, scope tenant.Scope, step Step, event *TraceEvent, result *Result) error {
	h.describe(step, event)

	switch step.Op {
	case OpIntake:
		var req service.IntakeRequest
		if err := decodeStrict(step.Args, &req); err != nil {
			return fmt.Errorf("%w: %v", service.ErrInvalidInput, err)
		}
		res, err := h.svc.Intake(ctx, scope, req)
		if err != nil {
			return err
		}
		alias := scopeAlias(h, scope)
		h.candidates[step.As] = ref{id: res.CandidateID, tenant: alias}
		h.applications[step.As] = ref{id: res.ApplicationID, tenant: alias}
		event.Decision = string(res.Decision)
		event.Matched = h.candidateAlias(res.MatchedCandidateID)
		event.Reused = res.ReusedCandidate
		return nil

	case OpTransition:
		res, err := h.svc.Transition(ctx, scope, fsm.Request{
			Subject:      h.subject(step.Subject, step.Target),
			FromExpected: step.From,
			To:           step.To,
			Reason:       step.Reason,
		})
		if err != nil {
			return err
		}
		event.Seq = res.Seq
		return nil

	case OpRace:
		return h.race(ctx, scope, step, event, result)

	case OpClearFlag:
		return h.svc.ClearReviewFlag(ctx, scope, h.applications[step.Target].id)

	case OpBlacklist:
		return h.svc.SetBlacklisted(ctx, scope, h.candidates[step.Target].id, *step.Value)

	case OpDeleteApplication:
		return h.svc.DeleteApplication(ctx, scope, h.applications[step.Target].id)
	}
	return fmt.Errorf("unknown op %q", step.Op)
}

// race starts one transition per contender at once. Exactly one may commit;
// every other contender must see a conflict.
func (h *Harness) race(ctx context.Context, scope tenant.Scope, step Step, event *TraceEvent, result *Result) error {
	subject := h.subject(step.Subject, step.Target)
	errs := make([]error, len(step.Contenders))

	var wg sync.WaitGroup
	for i, to := range step.Contenders {
		wg.Add(1)
		go func(i int, to string) {
			defer wg.Done()
			_, errs[i] = h.svc.Transition(ctx, scope, fsm.Request{
				Subject:      subject,
				FromExpected: step.From,
				To:           to,
				Reason:       step.Reason,
			})
		}(i, to)
	}
	wg.Wait()

	var firstErr error
	for i, err := range errs {
		switch outcome := service.Classify(err); outcome {
		case service.OutcomeOK:
			event.Committed++
		case service.OutcomeConflict:
			event.Conflicts++
		default:
			result.AddError(fmt.Sprintf("step %d (race): contender %s: unexpected outcome %s: %v",
				event.Step, step.Contenders[i], outcome, err))
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	if event.Committed == 0 && firstErr == nil {
		firstErr = errs[0]
	}
	return firstErr
}

// check compares the step against its expect clause.
func (h *Harness) check(n int, step Step, event TraceEvent, err error, result *Result) {
	exp := step.Expect
	if exp == nil {
		exp = &Expect{}
	}
	fail := func(format string, args ...any) {
		result.AddError(fmt.Sprintf("step %d (%s): ", n, step.Op) + fmt.Sprintf(format, args...))
	}

	wantOutcome := exp.Outcome
	if wantOutcome == "" {
		wantOutcome = string(service.OutcomeOK)
	}
	if event.Outcome != wantOutcome {
		detail := ""
		if err != nil {
			detail = ": " + err.Error()
		}
		fail("expected outcome %s, got %s%s", wantOutcome, event.Outcome, detail)
	}
	if exp.Rule != "" && event.Rule != exp.Rule {
		fail("expected rule %q, got %q", exp.Rule, event.Rule)
	}
	if exp.Decision != "" && event.Decision != exp.Decision {
		fail("expected decision %s, got %s", exp.Decision, event.Decision)
	}
	if exp.Matched != "" && event.Matched != exp.Matched {
		fail("expected match with %s, got %q", exp.Matched, event.Matched)
	}
	if exp.Reused != nil && event.Reused != *exp.Reused {
		fail("expected reused=%t, got %t", *exp.Reused, event.Reused)
	}
	if exp.Seq != 0 && event.Seq != exp.Seq {
		fail("expected seq %d, got %d", exp.Seq, event.Seq)
	}
	if exp.Committed != 0 && event.Committed != exp.Committed {
		fail("expected %d committed, got %d", exp.Committed, event.Committed)
	}
}

// subject resolves an aliased subject. Unknown aliases resolve to an id
// that exists nowhere.
func (h *Harness) subject(subjectTypeName, alias string) audit.Subject {
	st := subjectType(subjectTypeName)
	refs := h.applications
	if st == audit.SubjectCandidate {
		refs = h.candidates
	}
	id := refs[alias].id
	if id == "" {
		id = "unknown-" + alias
	}
	return audit.Subject{Type: st, ID: id}
}

// candidateAlias maps a candidate id back to its alias.
func (h *Harness) candidateAlias(id string) string {
	if id == "" {
		return ""
	}
	for alias, r := range h.candidates {
		if r.id == id {
			return alias
		}
	}
	return "<unknown>"
}

func scopeAlias(h *Harness, scope tenant.Scope) string {
	for alias, id := range h.tenants {
		if id == scope.TenantID() {
			return alias
		}
	}
	return ""
}
