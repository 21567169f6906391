package fsm

import (
	"fmt"
	"slices"

	"github.com/roach88/atsguard/internal/audit"
)

// Application statuses.
const (
	StatusReceived           = "RECEIVED"
	StatusScreening          = "SCREENING"
	StatusInterviewScheduled = "INTERVIEW_SCHEDULED"
	StatusInterviewCompleted = "INTERVIEW_COMPLETED"
	StatusTechnicalReview    = "TECHNICAL_REVIEW"
	StatusOfferPending       = "OFFER_PENDING"
	StatusOfferExtended      = "OFFER_EXTENDED"
	StatusOfferAccepted      = "OFFER_ACCEPTED"
	StatusWithdrawn          = "WITHDRAWN"
)

// Candidate statuses.
const (
	StatusActive      = "ACTIVE"
	StatusJoined      = "JOINED"
	StatusLeftCompany = "LEFT_COMPANY"
)

// Statuses shared by both machines.
const (
	StatusHired    = "HIRED"
	StatusRejected = "REJECTED"
)

// Edge is one allowed transition.
type Edge struct {
	From string
	To   string

	// Requires names a status the subject must have held at some point, as
	// recorded in the audit log. Empty when the edge has no prerequisite.
	Requires string

	// Terminal reports whether To is a terminal status.
	Terminal bool
}

// Machine is the transition table of one subject type. It is immutable after
// construction and safe for concurrent use.
type Machine struct {
	subjectType string
	initial     string
	states      []string
	terminal    map[string]bool
	edges       map[string]map[string]Edge

	// prerequisites maps a target status to the status that must appear in
	// the subject's history before it can be entered from anywhere.
	prerequisites map[string]string
}

func newMachine(subjectType, initial string, states, terminal []string) *Machine {
	m := &Machine{
		subjectType:   subjectType,
		initial:       initial,
		states:        states,
		terminal:      make(map[string]bool, len(terminal)),
		edges:         make(map[string]map[string]Edge, len(states)),
		prerequisites: make(map[string]string),
	}
	for _, s := range terminal {
		m.terminal[s] = true
	}
	for _, s := range states {
		m.edges[s] = make(map[string]Edge)
	}
	return m
}

func (m *Machine) allow(from, to, requires string) {
	if !m.Known(from) || !m.Known(to) {
		panic(fmt.Sprintf("fsm: %s edge %s -> %s uses an unknown status", m.subjectType, from, to))
	}
	if m.terminal[from] {
		panic(fmt.Sprintf("fsm: %s edge leaves terminal status %s", m.subjectType, from))
	}
	m.edges[from][to] = Edge{From: from, To: to, Requires: requires, Terminal: m.terminal[to]}
	if requires != "" {
		m.prerequisites[to] = requires
	}
}

// SubjectType returns the audit subject type the machine governs.
func (m *Machine) SubjectType() string { return m.subjectType }

// Initial returns the status new subjects are created in.
func (m *Machine) Initial() string { return m.initial }

// States returns every status in declaration order.
func (m *Machine) States() []string { return slices.Clone(m.states) }

// Known reports whether status belongs to the machine.
func (m *Machine) Known(status string) bool {
	_, ok := m.edges[status]
	return ok
}

// IsTerminal reports whether status admits no outbound transition.
func (m *Machine) IsTerminal(status string) bool { return m.terminal[status] }

// Edge looks up the edge from -> to.
func (m *Machine) Edge(from, to string) (Edge, bool) {
	e, ok := m.edges[from][to]
	return e, ok
}

// Targets returns the statuses reachable from status in one step, sorted.
func (m *Machine) Targets(status string) []string {
	out := make([]string, 0, len(m.edges[status]))
	for to := range m.edges[status] {
		out = append(out, to)
	}
	slices.Sort(out)
	return out
}

// Prerequisite returns the history requirement for entering status.
func (m *Machine) Prerequisite(status string) (string, bool) {
	req, ok := m.prerequisites[status]
	return req, ok
}

var (
	applicationMachine = buildApplicationMachine()
	candidateMachine   = buildCandidateMachine()
)

// ApplicationMachine returns the application lifecycle.
func ApplicationMachine() *Machine { return applicationMachine }

// CandidateMachine returns the candidate lifecycle.
func CandidateMachine() *Machine { return candidateMachine }

// MachineFor returns the machine for an audit subject type.
func MachineFor(subjectType string) (*Machine, bool) {
	switch subjectType {
	case audit.SubjectApplication:
		return applicationMachine, true
	case audit.SubjectCandidate:
		return candidateMachine, true
	default:
		return nil, false
	}
}

// applicationPipeline is the forward path of an application.
var applicationPipeline = []string{
	StatusReceived,
	StatusScreening,
	StatusInterviewScheduled,
	StatusInterviewCompleted,
	StatusTechnicalReview,
	StatusOfferPending,
	StatusOfferExtended,
	StatusOfferAccepted,
	StatusHired,
}

func buildApplicationMachine() *Machine {
	states := append(slices.Clone(applicationPipeline), StatusRejected, StatusWithdrawn)
	m := newMachine(audit.SubjectApplication, StatusReceived, states,
		[]string{StatusHired, StatusRejected, StatusWithdrawn})

	for i := 0; i < len(applicationPipeline)-1; i++ {
		from := applicationPipeline[i]
		m.allow(from, applicationPipeline[i+1], "")
		m.allow(from, StatusRejected, "")
		m.allow(from, StatusWithdrawn, "")
	}
	// An extended offer may be closed as a hire directly.
	m.allow(StatusOfferExtended, StatusHired, "")
	return m
}

func buildCandidateMachine() *Machine {
	m := newMachine(audit.SubjectCandidate, StatusActive,
		[]string{StatusActive, StatusHired, StatusRejected, StatusJoined, StatusLeftCompany},
		[]string{StatusLeftCompany, StatusRejected})

	m.allow(StatusActive, StatusHired, "")
	m.allow(StatusActive, StatusRejected, "")
	m.allow(StatusActive, StatusJoined, "")
	m.allow(StatusHired, StatusJoined, "")
	m.allow(StatusJoined, StatusLeftCompany, StatusJoined)
	return m
}
