package store

import (
	"fmt"
	"reflect"
	"regexp"
	"strings"
	"time"
)

// Op is a filter comparison operator.
type Op int

const (
	// OpEq matches documents whose field equals the value. A nil value
	// matches missing and null fields.
	OpEq Op = iota
	// OpIn matches documents whose field equals any of the values.
	OpIn
	// OpContains matches string fields containing the value, ignoring case.
	OpContains
	// OpBefore matches timestamp fields strictly earlier than the value.
	OpBefore
)

// Condition is a single predicate on a document field.
type Condition struct {
	Field  string
	Op     Op
	Value  any
	Values []any
}

// Eq builds an equality condition.
func Eq(field string, value any) Condition {
	return Condition{Field: field, Op: OpEq, Value: value}
}

// In builds a set membership condition.
func In[T any](field string, values ...T) Condition {
	vals := make([]any, len(values))
	for i, v := range values {
		vals[i] = v
	}
	return Condition{Field: field, Op: OpIn, Values: vals}
}

// Contains builds a case-insensitive substring condition.
func Contains(field, substr string) Condition {
	return Condition{Field: field, Op: OpContains, Value: substr}
}

// Before builds a condition matching timestamps earlier than t.
func Before(field string, t time.Time) Condition {
	return Condition{Field: field, Op: OpBefore, Value: t.UTC()}
}

// Filter selects documents. All conditions must hold, when Any is
// non-empty at least one of its conditions must hold as well, and every
// filter in Groups must match.
type Filter struct {
	All    []Condition
	Any    []Condition
	Groups []Filter
}

// Where builds a filter requiring every condition.
func Where(conds ...Condition) Filter {
	return Filter{All: conds}
}

// ByID builds a filter matching a single primary key.
func ByID(id string) Filter {
	return Where(Eq(FieldID, id))
}

// And returns a copy of f with extra required conditions.
func (f Filter) And(conds ...Condition) Filter {
	all := make([]Condition, 0, len(f.All)+len(conds))
	all = append(all, f.All...)
	all = append(all, conds...)
	return Filter{All: all, Any: f.Any, Groups: f.Groups}
}

// Or returns a copy of f whose Any group is extended with conds.
func (f Filter) Or(conds ...Condition) Filter {
	anyOf := make([]Condition, 0, len(f.Any)+len(conds))
	anyOf = append(anyOf, f.Any...)
	anyOf = append(anyOf, conds...)
	return Filter{All: f.All, Any: anyOf, Groups: f.Groups}
}

// AndGroup returns a copy of f that also requires g to match. It lets a
// filter carry more than one Any group.
func (f Filter) AndGroup(g Filter) Filter {
	groups := make([]Filter, 0, len(f.Groups)+1)
	groups = append(groups, f.Groups...)
	groups = append(groups, g)
	return Filter{All: f.All, Any: f.Any, Groups: groups}
}

func (f Filter) empty() bool {
	return len(f.All) == 0 && len(f.Any) == 0 && len(f.Groups) == 0
}

var fieldNameRegex = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

// validate rejects field names that cannot be safely rendered into SQL.
func (f Filter) validate() error {
	for _, c := range append(append([]Condition{}, f.All...), f.Any...) {
		if err := validateField(c.Field); err != nil {
			return err
		}
	}
	for _, g := range f.Groups {
		if err := g.validate(); err != nil {
			return err
		}
	}
	return nil
}

func validateField(field string) error {
	if !fieldNameRegex.MatchString(field) {
		return fmt.Errorf("invalid field name %q", field)
	}
	return nil
}

// Matches reports whether doc satisfies the filter.
func (f Filter) Matches(doc Document) bool {
	for _, c := range f.All {
		if !c.matches(doc) {
			return false
		}
	}
	for _, g := range f.Groups {
		if !g.Matches(doc) {
			return false
		}
	}
	if len(f.Any) == 0 {
		return true
	}
	for _, c := range f.Any {
		if c.matches(doc) {
			return true
		}
	}
	return false
}

func (c Condition) matches(doc Document) bool {
	got := doc[c.Field]
	switch c.Op {
	case OpEq:
		return valuesEqual(got, normalize(c.Value))
	case OpIn:
		for _, v := range c.Values {
			if valuesEqual(got, normalize(v)) {
				return true
			}
		}
		return false
	case OpContains:
		s, ok := got.(string)
		if !ok {
			return false
		}
		needle, _ := normalize(c.Value).(string)
		return strings.Contains(strings.ToLower(s), strings.ToLower(needle))
	case OpBefore:
		s, ok := got.(string)
		if !ok {
			return false
		}
		at, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return false
		}
		limit, _ := c.Value.(time.Time)
		return at.Before(limit)
	default:
		return false
	}
}

func valuesEqual(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return reflect.DeepEqual(a, b)
}

// compareValues orders JSON-native values. Strings that both parse as
// RFC 3339 timestamps are compared as times.
func compareValues(a, b any) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return -1
	case b == nil:
		return 1
	}

	switch av := a.(type) {
	case float64:
		if bv, ok := b.(float64); ok {
			switch {
			case av < bv:
				return -1
			case av > bv:
				return 1
			}
			return 0
		}
	case string:
		if bv, ok := b.(string); ok {
			at, aErr := time.Parse(time.RFC3339Nano, av)
			bt, bErr := time.Parse(time.RFC3339Nano, bv)
			if aErr == nil && bErr == nil {
				return at.Compare(bt)
			}
			return strings.Compare(av, bv)
		}
	case bool:
		if bv, ok := b.(bool); ok {
			switch {
			case av == bv:
				return 0
			case !av:
				return -1
			}
			return 1
		}
	}
	return strings.Compare(fmt.Sprint(a), fmt.Sprint(b))
}
