package types

import (
	"errors"
	"fmt"
	"sync"
)

// ErrInvalidSchema is the sentinel wrapped by all schema validation failures.
var ErrInvalidSchema = errors.New("invalid schema")

// Rule is the merge rule attached to a column, governing how values combine
// when rows share a sort-key group.
type Rule uint8

const (
	// RuleSorted marks a primary-key column. Values are non-decreasing
	// within a chunk and define the canonical row order.
	RuleSorted Rule = iota

	// RuleIsDeleted is a boolean tombstone aggregated by logical OR. If
	// present it must be the first non-sort column.
	RuleIsDeleted

	// RuleMax keeps the maximum contributing value.
	RuleMax

	// RuleMin keeps the minimum contributing value.
	RuleMin

	// RuleSum keeps the arithmetic sum of contributing values.
	RuleSum

	// RuleWithMax keeps the value from whichever row won the referenced
	// RuleMax column.
	RuleWithMax

	// RuleWithMin keeps the value from whichever row won the referenced
	// RuleMin column.
	RuleWithMin

	// RuleTTL keeps the soonest expiry; an elapsed TTL drops the group.
	RuleTTL

	// RuleDeleteOneRow is a signed counter; a non-positive sum drops the
	// group from merge output.
	RuleDeleteOneRow
)

// Tag returns the short rule tag used in column file names.
func (r Rule) Tag() string {
	switch r {
	case RuleSorted:
		return "key"
	case RuleIsDeleted:
		return "del"
	case RuleMax:
		return "max"
	case RuleMin:
		return "min"
	case RuleSum:
		return "sum"
	case RuleWithMax:
		return "wmax"
	case RuleWithMin:
		return "wmin"
	case RuleTTL:
		return "ttl"
	case RuleDeleteOneRow:
		return "sign"
	}
	return "unknown"
}

// RuleFromTag parses a rule tag produced by Tag.
func RuleFromTag(tag string) (Rule, bool) {
	for _, r := range []Rule{
		RuleSorted, RuleIsDeleted, RuleMax, RuleMin, RuleSum,
		RuleWithMax, RuleWithMin, RuleTTL, RuleDeleteOneRow,
	} {
		if r.Tag() == tag {
			return r, true
		}
	}
	return 0, false
}

// ColumnDesc describes one column of a table schema.
type ColumnDesc struct {
	// Index defines the on-disk column ordering.
	Index int `json:"index"`

	// Name is the column name. Must be non-empty and unique per table.
	Name string `json:"name"`

	// Kind is the runtime representation of the column's values.
	Kind Kind `json:"kind"`

	// Deletable wraps the kind with tombstone states.
	Deletable bool `json:"deletable"`

	// Rule governs how values combine during a merge.
	Rule Rule `json:"rule"`

	// Ref names the Max/Min column a WithMax/WithMin rule follows.
	Ref string `json:"ref,omitempty"`
}

// TableSchema is the ordered sequence of column descriptors for one table.
type TableSchema struct {
	Name    string       `json:"name"`
	Columns []ColumnDesc `json:"columns"`
}

// SortKeyLen returns the number of leading Sorted columns.
func (s *TableSchema) SortKeyLen() int {
	n := 0
	for _, c := range s.Columns {
		if c.Rule != RuleSorted {
			break
		}
		n++
	}
	return n
}

// ColumnByName returns the descriptor with the given name, if any.
func (s *TableSchema) ColumnByName(name string) (ColumnDesc, bool) {
	for _, c := range s.Columns {
		if c.Name == name {
			return c, true
		}
	}
	return ColumnDesc{}, false
}

// Validate checks the structural constraints of a table schema:
// Sorted columns form a contiguous prefix in ascending index order, every
// column after a Deletable column is itself Deletable, IsDeleted (if present)
// is the first non-sort column, WithMax/WithMin reference an earlier Max/Min
// column, and rule-specific kinds hold (IsDeleted is Bool, TTL is Uint,
// DeleteOneRow is Int).
func (s *TableSchema) Validate() error {
	if s.Name == "" {
		return fmt.Errorf("%w: table name is empty", ErrInvalidSchema)
	}
	if len(s.Columns) == 0 {
		return fmt.Errorf("%w: table %s has no columns", ErrInvalidSchema, s.Name)
	}

	seen := make(map[string]bool, len(s.Columns))
	inKey := true
	sawDeletable := false
	for i, c := range s.Columns {
		if c.Name == "" {
			return fmt.Errorf("%w: column %d has no name", ErrInvalidSchema, i)
		}
		if seen[c.Name] {
			return fmt.Errorf("%w: duplicate column %q", ErrInvalidSchema, c.Name)
		}
		seen[c.Name] = true
		if c.Index != i {
			return fmt.Errorf("%w: column %q has index %d, want %d", ErrInvalidSchema, c.Name, c.Index, i)
		}

		if c.Rule == RuleSorted {
			if !inKey {
				return fmt.Errorf("%w: sort column %q after non-sort columns", ErrInvalidSchema, c.Name)
			}
		} else {
			inKey = false
		}

		if sawDeletable && !c.Deletable {
			return fmt.Errorf("%w: non-deletable column %q after a deletable column", ErrInvalidSchema, c.Name)
		}
		if c.Deletable {
			sawDeletable = true
		}

		switch c.Rule {
		case RuleIsDeleted:
			if c.Kind != KindBool {
				return fmt.Errorf("%w: IsDeleted column %q must be bool", ErrInvalidSchema, c.Name)
			}
			if i != s.SortKeyLen() {
				return fmt.Errorf("%w: IsDeleted column %q must be the first non-sort column", ErrInvalidSchema, c.Name)
			}
		case RuleTTL:
			if c.Kind != KindUint {
				return fmt.Errorf("%w: TTL column %q must be uint", ErrInvalidSchema, c.Name)
			}
		case RuleDeleteOneRow:
			if c.Kind != KindInt {
				return fmt.Errorf("%w: DeleteOneRow column %q must be int", ErrInvalidSchema, c.Name)
			}
		case RuleWithMax, RuleWithMin:
			ref, ok := s.ColumnByName(c.Ref)
			if !ok {
				return fmt.Errorf("%w: column %q references unknown column %q", ErrInvalidSchema, c.Name, c.Ref)
			}
			if ref.Index >= c.Index {
				return fmt.Errorf("%w: column %q must reference an earlier column", ErrInvalidSchema, c.Name)
			}
			if c.Rule == RuleWithMax && ref.Rule != RuleMax {
				return fmt.Errorf("%w: column %q must reference a Max column", ErrInvalidSchema, c.Name)
			}
			if c.Rule == RuleWithMin && ref.Rule != RuleMin {
				return fmt.Errorf("%w: column %q must reference a Min column", ErrInvalidSchema, c.Name)
			}
		}
	}
	if s.SortKeyLen() == 0 {
		return fmt.Errorf("%w: table %s has no sort columns", ErrInvalidSchema, s.Name)
	}
	return nil
}

// CompareRows orders two rows lexicographically over the Sorted-column
// prefix. This is the canonical sort and merge key; rows comparing equal are
// merge candidates.
func (s *TableSchema) CompareRows(a, b Row) int {
	n := s.SortKeyLen()
	for i := 0; i < n; i++ {
		if c := a[i].Compare(b[i]); c != 0 {
			return c
		}
	}
	return 0
}

// SameKey reports whether two rows share a sort-key group, ignoring
// tombstone marker rank.
func (s *TableSchema) SameKey(a, b Row) bool {
	n := s.SortKeyLen()
	for i := 0; i < n; i++ {
		if a[i].comparePayload(b[i]) != 0 {
			return false
		}
	}
	return true
}

// Database maps table names to schemas. Existing tables are immutable except
// for appending new columns.
type Database struct {
	mu     sync.RWMutex
	tables map[string]*TableSchema
}

// NewDatabase returns an empty database schema.
func NewDatabase() *Database {
	return &Database{tables: make(map[string]*TableSchema)}
}

// CreateTable validates and registers a new table schema.
func (d *Database) CreateTable(schema *TableSchema) error {
	if err := schema.Validate(); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.tables[schema.Name]; ok {
		return fmt.Errorf("%w: table %s already exists", ErrInvalidSchema, schema.Name)
	}
	d.tables[schema.Name] = schema
	return nil
}

// AddColumns appends columns to an existing table. Existing columns are
// never removed or retyped; the appended schema must still validate.
func (d *Database) AddColumns(table string, cols ...ColumnDesc) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	old, ok := d.tables[table]
	if !ok {
		return fmt.Errorf("%w: table %s does not exist", ErrInvalidSchema, table)
	}
	next := &TableSchema{Name: old.Name, Columns: append(append([]ColumnDesc(nil), old.Columns...), cols...)}
	if err := next.Validate(); err != nil {
		return err
	}
	d.tables[table] = next
	return nil
}

// Table returns the schema for a table, if registered.
func (d *Database) Table(name string) (*TableSchema, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	s, ok := d.tables[name]
	return s, ok
}
