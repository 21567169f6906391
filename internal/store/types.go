package store

import "time"

// Tenant is an isolated client organization.
type Tenant struct {
	ID        string
	Name      string
	Active    bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Actor is a stored principal: a person or a system integration.
type Actor struct {
	ID          string
	TenantID    string
	DisplayName string
	Kind        string
	Roles       []string
	Active      bool
	CreatedAt   time.Time
}

// APIToken is the stored half of an issued token. The raw secret is never
// stored.
type APIToken struct {
	ID        string
	ActorID   string
	Prefix    string
	Hash      string
	ExpiresAt time.Time // zero means no expiry
	CreatedAt time.Time
}

// Candidate is a person under consideration by one tenant.
// Email, Phone and the CTC fields are "" when absent.
type Candidate struct {
	ID          string
	TenantID    string
	FullName    string
	Email       string
	Phone       string
	Skills      []string
	Experience  map[string]any
	CTCCurrent  string
	CTCExpected string
	Status      string
	Blacklisted bool
	Fingerprint string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// CandidateIdentity is the projection the duplicate matcher scores against.
type CandidateIdentity struct {
	ID          string
	FullName    string
	Email       string
	Phone       string
	Status      string
	Blacklisted bool
	Fingerprint string
}

// Application links a candidate to a role within the same tenant.
type Application struct {
	ID               string
	TenantID         string
	CandidateID      string
	JobTitle         string
	Status           string
	FlaggedForReview bool
	FlagReason       string
	DeletedAt        time.Time // zero while live
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// StatusChange is a compare-and-swap status update.
type StatusChange struct {
	ID   string
	From string
	To   string
	At   time.Time

	// Blacklist also sets the blacklist flag in the same statement.
	Blacklist bool
}

// TransitionRecord is one append-only audit entry.
type TransitionRecord struct {
	ID          string
	TenantID    string
	SubjectType string
	SubjectID   string
	Seq         int64
	OldStatus   string
	NewStatus   string
	ActorID     string
	ActorKind   string
	Reason      string
	Terminal    bool
	OccurredAt  time.Time
	PrevHash    string
	Hash        string
}

// Notification is an outbox row awaiting delivery to subscribers.
type Notification struct {
	ID          string
	TenantID    string
	SubjectType string
	SubjectID   string
	Seq         int64
	OldStatus   string
	NewStatus   string
	OccurredAt  time.Time
	Attempts    int
}
