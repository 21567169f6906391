package queryir

import (
	"errors"
	"fmt"
	"regexp"
)

var identPattern = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

// Validation errors.
var (
	ErrInvalidIdentifier = errors.New("invalid identifier")
	ErrTenantAssignment  = errors.New("tenant_id cannot be assigned")
	ErrUnfilteredUpdate  = errors.New("update requires a filter")
	ErrEmptyStatement    = errors.New("statement has no columns")
	ErrNilValue          = errors.New("nil comparison value")
)

// ValidIdentifier reports whether name is a safe table or column identifier.
func ValidIdentifier(name string) bool {
	return identPattern.MatchString(name)
}

// Validate checks the structural rules of a statement. It is a pure function.
//
// Validate does not check tenant consistency of Insert values; that requires
// the scoped tenant and is done by the compiler.
func Validate(q Query) error {
	switch stmt := q.(type) {
	case nil:
		return fmt.Errorf("nil query")
	case Select:
		return validateSelect(stmt)
	case *Select:
		return validateSelect(*stmt)
	case Update:
		return validateUpdate(stmt)
	case *Update:
		return validateUpdate(*stmt)
	case Insert:
		return validateInsert(stmt)
	case *Insert:
		return validateInsert(*stmt)
	default:
		return fmt.Errorf("unsupported query type: %T", q)
	}
}

func validateSelect(s Select) error {
	if err := checkIdent(s.From); err != nil {
		return err
	}
	if len(s.Columns) == 0 {
		return ErrEmptyStatement
	}
	for _, c := range s.Columns {
		if err := checkIdent(c); err != nil {
			return err
		}
	}
	for _, o := range s.OrderBy {
		if err := checkIdent(o.Column); err != nil {
			return err
		}
	}
	if s.Limit < 0 {
		return fmt.Errorf("negative limit %d", s.Limit)
	}
	return ValidatePredicate(s.Filter)
}

func validateUpdate(u Update) error {
	if err := checkIdent(u.Table); err != nil {
		return err
	}
	if len(u.Set) == 0 {
		return ErrEmptyStatement
	}
	for _, a := range u.Set {
		if err := checkIdent(a.Column); err != nil {
			return err
		}
		if a.Column == TenantColumn || a.Column == "id" {
			return fmt.Errorf("%w: %s", ErrTenantAssignment, a.Column)
		}
	}
	if u.Filter == nil {
		return ErrUnfilteredUpdate
	}
	return ValidatePredicate(u.Filter)
}

func validateInsert(i Insert) error {
	if err := checkIdent(i.Into); err != nil {
		return err
	}
	if len(i.Columns) == 0 {
		return ErrEmptyStatement
	}
	if len(i.Columns) != len(i.Values) {
		return fmt.Errorf("insert into %s: %d columns but %d values", i.Into, len(i.Columns), len(i.Values))
	}
	seen := make(map[string]bool, len(i.Columns))
	for _, c := range i.Columns {
		if err := checkIdent(c); err != nil {
			return err
		}
		if seen[c] {
			return fmt.Errorf("insert into %s: duplicate column %s", i.Into, c)
		}
		seen[c] = true
	}
	return nil
}

// ValidatePredicate checks a filter tree. A nil predicate is valid.
func ValidatePredicate(p Predicate) error {
	switch pred := p.(type) {
	case nil:
		return nil
	case Equals:
		if pred.Value == nil {
			return fmt.Errorf("%w for %s", ErrNilValue, pred.Column)
		}
		return checkIdent(pred.Column)
	case NotEquals:
		if pred.Value == nil {
			return fmt.Errorf("%w for %s", ErrNilValue, pred.Column)
		}
		return checkIdent(pred.Column)
	case IsNull:
		return checkIdent(pred.Column)
	case And:
		for _, sub := range pred.Predicates {
			if err := ValidatePredicate(sub); err != nil {
				return err
			}
		}
		return nil
	default:
		return fmt.Errorf("unsupported predicate type: %T", p)
	}
}

func checkIdent(name string) error {
	if !ValidIdentifier(name) {
		return fmt.Errorf("%w: %q", ErrInvalidIdentifier, name)
	}
	return nil
}
