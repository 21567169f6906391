// Package querysql renders queryir statements to parameterized SQL with the
// tenant predicate attached.
package querysql

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/roach88/atsguard/internal/queryir"
)

// Placeholder selects the bind-parameter syntax of the target database.
type Placeholder int

const (
	// Question renders "?" placeholders (SQLite).
	Question Placeholder = iota
	// Dollar renders "$1, $2, ..." placeholders (Postgres).
	Dollar
)

// Compiler errors.
var (
	// ErrMissingTenant is returned when compiling without a tenant id.
	ErrMissingTenant = errors.New("query compiled without tenant scope")

	// ErrTenantOverride is returned when an insert names a tenant other than
	// the scoped one.
	ErrTenantOverride = errors.New("statement targets a tenant outside the scope")
)

// SQLCompiler compiles queryir statements to SQL.
//
// CRITICAL: every statement is constrained to exactly one tenant.
// CRITICAL: values are never interpolated, always parameterized.
// CRITICAL: every SELECT has an ORDER BY for deterministic results.
type SQLCompiler struct {
	Placeholder Placeholder

	// LockRows renders Select.ForUpdate as FOR UPDATE. SQLite has no row
	// locks, its writer lock serializes transactions instead.
	LockRows bool
}

// NewSQLCompiler creates a compiler for the given placeholder style.
func NewSQLCompiler(p Placeholder) *SQLCompiler {
	return &SQLCompiler{Placeholder: p, LockRows: p == Dollar}
}

// Compile converts a statement to SQL and its bind parameters, constrained to
// tenantID.
func (c *SQLCompiler) Compile(q queryir.Query, tenantID string) (string, []any, error) {
	if strings.TrimSpace(tenantID) == "" {
		return "", nil, ErrMissingTenant
	}
	if err := queryir.Validate(q); err != nil {
		return "", nil, fmt.Errorf("compile: %w", err)
	}

	b := &builder{placeholder: c.Placeholder}

	switch stmt := q.(type) {
	case queryir.Select:
		return c.compileSelect(b, stmt, tenantID)
	case *queryir.Select:
		return c.compileSelect(b, *stmt, tenantID)
	case queryir.Update:
		return c.compileUpdate(b, stmt, tenantID)
	case *queryir.Update:
		return c.compileUpdate(b, *stmt, tenantID)
	case queryir.Insert:
		return c.compileInsert(b, stmt, tenantID)
	case *queryir.Insert:
		return c.compileInsert(b, *stmt, tenantID)
	default:
		return "", nil, fmt.Errorf("unsupported query type: %T", q)
	}
}

func (c *SQLCompiler) compileSelect(b *builder, q queryir.Select, tenantID string) (string, []any, error) {
	b.write("SELECT ")
	b.write(strings.Join(q.Columns, ", "))
	b.write(" FROM ")
	b.write(q.From)
	if err := b.where(q.Filter, tenantID); err != nil {
		return "", nil, err
	}

	b.write(" ORDER BY ")
	b.write(stableOrderKey(q.OrderBy))

	if q.Limit > 0 {
		b.write(" LIMIT ")
		b.write(strconv.Itoa(q.Limit))
	}
	if q.ForUpdate && c.LockRows {
		b.write(" FOR UPDATE")
	}
	return b.sql.String(), b.params, nil
}

func (c *SQLCompiler) compileUpdate(b *builder, q queryir.Update, tenantID string) (string, []any, error) {
	b.write("UPDATE ")
	b.write(q.Table)
	b.write(" SET ")
	for i, a := range q.Set {
		if i > 0 {
			b.write(", ")
		}
		b.write(a.Column)
		b.write(" = ")
		b.write(b.bind(a.Value))
	}
	if err := b.where(q.Filter, tenantID); err != nil {
		return "", nil, err
	}
	return b.sql.String(), b.params, nil
}

func (c *SQLCompiler) compileInsert(b *builder, q queryir.Insert, tenantID string) (string, []any, error) {
	columns := make([]string, 0, len(q.Columns)+1)
	values := make([]any, 0, len(q.Values)+1)
	for i, col := range q.Columns {
		if col == queryir.TenantColumn {
			if s, ok := q.Values[i].(string); !ok || s != tenantID {
				return "", nil, ErrTenantOverride
			}
			continue
		}
		columns = append(columns, col)
		values = append(values, q.Values[i])
	}
	columns = append(columns, queryir.TenantColumn)
	values = append(values, tenantID)

	b.write("INSERT INTO ")
	b.write(q.Into)
	b.write(" (")
	b.write(strings.Join(columns, ", "))
	b.write(") VALUES (")
	for i, v := range values {
		if i > 0 {
			b.write(", ")
		}
		b.write(b.bind(v))
	}
	b.write(")")
	return b.sql.String(), b.params, nil
}

// stableOrderKey returns the ORDER BY clause. Every SELECT goes through here.
// id is appended as a tiebreaker unless it is already the last key.
func stableOrderKey(order []queryir.Order) string {
	parts := make([]string, 0, len(order)+1)
	hasID := false
	for _, o := range order {
		dir := "ASC"
		if o.Desc {
			dir = "DESC"
		}
		parts = append(parts, o.Column+" "+dir)
		hasID = o.Column == "id"
	}
	if !hasID {
		parts = append(parts, "id ASC")
	}
	return strings.Join(parts, ", ")
}

// builder accumulates SQL text and parameters, numbering placeholders in
// emission order.
type builder struct {
	sql         strings.Builder
	params      []any
	placeholder Placeholder
}

func (b *builder) write(s string) {
	b.sql.WriteString(s)
}

func (b *builder) bind(v any) string {
	b.params = append(b.params, v)
	if b.placeholder == Dollar {
		return "$" + strconv.Itoa(len(b.params))
	}
	return "?"
}

// where writes the WHERE clause: the tenant predicate first, then the caller's
// filter in parentheses so it can only narrow the tenant's rows.
func (b *builder) where(filter queryir.Predicate, tenantID string) error {
	b.write(" WHERE ")
	b.write(queryir.TenantColumn)
	b.write(" = ")
	b.write(b.bind(tenantID))

	if filter == nil {
		return nil
	}
	frag, err := b.predicate(filter)
	if err != nil {
		return fmt.Errorf("compile filter: %w", err)
	}
	b.write(" AND (")
	b.write(frag)
	b.write(")")
	return nil
}

func (b *builder) predicate(p queryir.Predicate) (string, error) {
	switch pred := p.(type) {
	case queryir.Equals:
		return pred.Column + " = " + b.bind(pred.Value), nil
	case queryir.NotEquals:
		return pred.Column + " <> " + b.bind(pred.Value), nil
	case queryir.IsNull:
		if pred.Negate {
			return pred.Column + " IS NOT NULL", nil
		}
		return pred.Column + " IS NULL", nil
	case queryir.And:
		if len(pred.Predicates) == 0 {
			return "1 = 1", nil
		}
		parts := make([]string, 0, len(pred.Predicates))
		for _, sub := range pred.Predicates {
			frag, err := b.predicate(sub)
			if err != nil {
				return "", err
			}
			parts = append(parts, frag)
		}
		return strings.Join(parts, " AND "), nil
	default:
		return "", fmt.Errorf("unsupported predicate type: %T", p)
	}
}
