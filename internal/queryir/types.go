package queryir

// TenantColumn is the mandatory tenant discriminator on every tenant-owned table.
const TenantColumn = "tenant_id"

// Query is a sealed statement node.
//
// Query types:
//   - Select: read rows from one table
//   - Update: modify rows in one table
//   - Insert: add one row to one table
type Query interface {
	queryNode()
}

// Predicate is a sealed filter node.
//
// Predicate types:
//   - Equals: column = value
//   - NotEquals: column <> value
//   - IsNull: column IS NULL (or IS NOT NULL when Negate is set)
//   - And: conjunction
type Predicate interface {
	predicateNode()
}

// Select reads rows from a single table.
//
// Semantics:
//
//	SELECT <columns> FROM <from> WHERE tenant_id = ? AND <filter> ORDER BY <order> LIMIT <limit>
//
// OrderBy defaults to "id ASC" so results are always deterministic.
// Limit of 0 means unlimited.
type Select struct {
	From      string
	Columns   []string
	Filter    Predicate
	OrderBy   []Order
	Limit     int
	ForUpdate bool
}

func (Select) queryNode() {}

// Order is one ORDER BY term.
type Order struct {
	Column string
	Desc   bool
}

// Update modifies rows matching Filter inside the scoped tenant.
//
// Semantics:
//
//	UPDATE <table> SET <set> WHERE tenant_id = ? AND <filter>
type Update struct {
	Table  string
	Set    []Assignment
	Filter Predicate
}

func (Update) queryNode() {}

// Assignment is one SET column = value term.
type Assignment struct {
	Column string
	Value  any
}

// Insert adds one row. The compiler appends tenant_id.
type Insert struct {
	Into    string
	Columns []string
	Values  []any
}

func (Insert) queryNode() {}

// Equals matches rows where Column equals Value. Value must not be nil; use
// IsNull for NULL checks.
type Equals struct {
	Column string
	Value  any
}

func (Equals) predicateNode() {}

// NotEquals matches rows where Column differs from Value.
type NotEquals struct {
	Column string
	Value  any
}

func (NotEquals) predicateNode() {}

// IsNull matches rows where Column is NULL, or not NULL when Negate is set.
type IsNull struct {
	Column string
	Negate bool
}

func (IsNull) predicateNode() {}

// And matches rows satisfying every predicate. An empty And matches everything.
type And struct {
	Predicates []Predicate
}

func (And) predicateNode() {}

// Eq is shorthand for Equals.
func Eq(column string, value any) Equals {
	return Equals{Column: column, Value: value}
}

// All is shorthand for And.
func All(preds ...Predicate) And {
	return And{Predicates: preds}
}
