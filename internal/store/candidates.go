package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/roach88/atsguard/internal/queryir"
	"github.com/roach88/atsguard/internal/tenant"
)

const entityCandidate = "candidate"

var candidateColumns = []string{
	"id", "tenant_id", "full_name", "email", "phone", "skills", "experience",
	"ctc_current", "ctc_expected", "status", "blacklisted", "fingerprint",
	"created_at", "updated_at",
}

var identityColumns = []string{
	"id", "full_name", "email", "phone", "status", "blacklisted", "fingerprint",
}

// InsertCandidate adds a candidate to the scoped tenant. An empty TenantID
// defaults to the scope; any other tenant is a cross-tenant violation.
func (t *Tx) InsertCandidate(ctx context.Context, c Candidate) error {
	skills, err := marshalSkills(c.Skills)
	if err != nil {
		return fmt.Errorf("insert candidate: %w", err)
	}
	exp, err := marshalExperience(c.Experience)
	if err != nil {
		return fmt.Errorf("insert candidate: %w", err)
	}
	tenantID := c.TenantID
	if tenantID == "" {
		tenantID = t.scope.TenantID()
	}

	_, err = t.execStmt(ctx, queryir.Insert{
		Into:    "candidates",
		Columns: candidateColumns,
		Values: []any{
			c.ID, tenantID, c.FullName, nullString(c.Email), nullString(c.Phone),
			skills, exp, nullString(c.CTCCurrent), nullString(c.CTCExpected),
			c.Status, c.Blacklisted, c.Fingerprint,
			c.CreatedAt.UTC(), c.UpdatedAt.UTC(),
		},
	}, entityCandidate, c.ID)
	if err != nil {
		return fmt.Errorf("insert candidate: %w", err)
	}
	return nil
}

// GetCandidate loads a candidate visible in the scope. A row that is absent
// or owned by another tenant yields a NOT_FOUND AccessError.
func (t *Tx) GetCandidate(ctx context.Context, id string) (Candidate, error) {
	return t.loadCandidate(ctx, id, false)
}

// LockCandidate is GetCandidate with a row lock held until the transaction
// ends (Postgres only; SQLite serializes writers).
func (t *Tx) LockCandidate(ctx context.Context, id string) (Candidate, error) {
	return t.loadCandidate(ctx, id, true)
}

func (t *Tx) loadCandidate(ctx context.Context, id string, lock bool) (Candidate, error) {
	rows, err := t.queryStmt(ctx, queryir.Select{
		From:      "candidates",
		Columns:   candidateColumns,
		Filter:    queryir.Eq("id", id),
		Limit:     1,
		ForUpdate: lock,
	}, entityCandidate)
	if err != nil {
		return Candidate{}, fmt.Errorf("get candidate: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return Candidate{}, fmt.Errorf("get candidate: %w", err)
		}
		return Candidate{}, tenant.NewNotFoundError(t.scope, entityCandidate, id)
	}
	c, err := scanCandidate(rows)
	if err != nil {
		return Candidate{}, fmt.Errorf("get candidate: %w", err)
	}
	return c, nil
}

// FindCandidatesByFingerprint returns every candidate in the scope with the
// given fingerprint, oldest first.
func (t *Tx) FindCandidatesByFingerprint(ctx context.Context, fingerprint string) ([]CandidateIdentity, error) {
	return t.listIdentities(ctx, queryir.Eq("fingerprint", fingerprint))
}

// ListCandidateIdentities returns the identity projection of every candidate
// in the scope.
func (t *Tx) ListCandidateIdentities(ctx context.Context) ([]CandidateIdentity, error) {
	return t.listIdentities(ctx, nil)
}

func (t *Tx) listIdentities(ctx context.Context, filter queryir.Predicate) ([]CandidateIdentity, error) {
	rows, err := t.queryStmt(ctx, queryir.Select{
		From:    "candidates",
		Columns: identityColumns,
		Filter:  filter,
		OrderBy: []queryir.Order{{Column: "created_at"}},
	}, entityCandidate)
	if err != nil {
		return nil, fmt.Errorf("list candidates: %w", err)
	}
	defer rows.Close()

	var out []CandidateIdentity
	for rows.Next() {
		var (
			ci           CandidateIdentity
			email, phone sql.NullString
		)
		if err := rows.Scan(&ci.ID, &ci.FullName, &email, &phone, &ci.Status, &ci.Blacklisted, &ci.Fingerprint); err != nil {
			return nil, fmt.Errorf("scan candidate identity: %w", err)
		}
		ci.Email = email.String
		ci.Phone = phone.String
		out = append(out, ci)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list candidates: %w", err)
	}
	return out, nil
}

// UpdateCandidateProfile rewrites the profile fields and fingerprint. Status
// and blacklist are not touched.
func (t *Tx) UpdateCandidateProfile(ctx context.Context, c Candidate) error {
	skills, err := marshalSkills(c.Skills)
	if err != nil {
		return fmt.Errorf("update candidate: %w", err)
	}
	exp, err := marshalExperience(c.Experience)
	if err != nil {
		return fmt.Errorf("update candidate: %w", err)
	}

	n, err := t.execStmt(ctx, queryir.Update{
		Table: "candidates",
		Set: []queryir.Assignment{
			{Column: "full_name", Value: c.FullName},
			{Column: "email", Value: nullString(c.Email)},
			{Column: "phone", Value: nullString(c.Phone)},
			{Column: "skills", Value: skills},
			{Column: "experience", Value: exp},
			{Column: "ctc_current", Value: nullString(c.CTCCurrent)},
			{Column: "ctc_expected", Value: nullString(c.CTCExpected)},
			{Column: "fingerprint", Value: c.Fingerprint},
			{Column: "updated_at", Value: c.UpdatedAt.UTC()},
		},
		Filter: queryir.Eq("id", c.ID),
	}, entityCandidate, c.ID)
	if err != nil {
		return fmt.Errorf("update candidate: %w", err)
	}
	return t.expectOne(n, entityCandidate, c.ID)
}

// SetCandidateBlacklisted sets or clears the blacklist flag. Clearing it on a
// LEFT_COMPANY candidate is rejected by the storage CHECK constraint.
func (t *Tx) SetCandidateBlacklisted(ctx context.Context, id string, blacklisted bool, at time.Time) error {
	n, err := t.execStmt(ctx, queryir.Update{
		Table: "candidates",
		Set: []queryir.Assignment{
			{Column: "blacklisted", Value: blacklisted},
			{Column: "updated_at", Value: at.UTC()},
		},
		Filter: queryir.Eq("id", id),
	}, entityCandidate, id)
	if err != nil {
		return fmt.Errorf("set blacklisted: %w", err)
	}
	return t.expectOne(n, entityCandidate, id)
}

// CompareAndSetCandidateStatus moves a candidate from ch.From to ch.To. It
// reports false when the stored status is no longer ch.From.
func (t *Tx) CompareAndSetCandidateStatus(ctx context.Context, ch StatusChange) (bool, error) {
	set := []queryir.Assignment{
		{Column: "status", Value: ch.To},
		{Column: "updated_at", Value: ch.At.UTC()},
	}
	if ch.Blacklist {
		set = append(set, queryir.Assignment{Column: "blacklisted", Value: true})
	}
	n, err := t.execStmt(ctx, queryir.Update{
		Table:  "candidates",
		Set:    set,
		Filter: queryir.All(queryir.Eq("id", ch.ID), queryir.Eq("status", ch.From)),
	}, entityCandidate, ch.ID)
	if err != nil {
		return false, fmt.Errorf("update candidate status: %w", err)
	}
	return n == 1, nil
}

func scanCandidate(r rowScanner) (Candidate, error) {
	var (
		c                            Candidate
		email, phone, ctcCur, ctcExp sql.NullString
		skills, exp                  string
	)
	if err := r.Scan(
		&c.ID, &c.TenantID, &c.FullName, &email, &phone, &skills, &exp,
		&ctcCur, &ctcExp, &c.Status, &c.Blacklisted, &c.Fingerprint,
		&c.CreatedAt, &c.UpdatedAt,
	); err != nil {
		return Candidate{}, err
	}

	var err error
	if c.Skills, err = unmarshalSkills(skills); err != nil {
		return Candidate{}, err
	}
	if c.Experience, err = unmarshalExperience(exp); err != nil {
		return Candidate{}, err
	}
	c.Email = email.String
	c.Phone = phone.String
	c.CTCCurrent = ctcCur.String
	c.CTCExpected = ctcExp.String
	c.CreatedAt = c.CreatedAt.UTC()
	c.UpdatedAt = c.UpdatedAt.UTC()
	return c, nil
}
