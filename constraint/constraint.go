// Package constraint provides the value predicates a constrained data type applies
// after decoding. A constraint is stateless; it may read external state, so callers
// evaluate it on every value instead of caching results.
package constraint

import (
	"cmp"
	"fmt"
	"reflect"
	"regexp"
	"slices"
	"strings"
	"unicode/utf8"
)

// Constraint is a predicate over a native value plus a human-readable description.
// The description is what a ValidationError reports when Check fails.
type Constraint[T any] interface {
	Check(v T) bool
	Description() string
}

// Func adapts a plain function to a Constraint.
func Func[T any](description string, check func(T) bool) Constraint[T] {
	return funcConstraint[T]{desc: description, check: check}
}

type funcConstraint[T any] struct {
	desc  string
	check func(T) bool
}

func (f funcConstraint[T]) Check(v T) bool      { return f.check(v) }
func (f funcConstraint[T]) Description() string { return f.desc }

// Sized is the value shape length constraints accept.
type Sized interface {
	~string | ~[]byte
}

// size counts characters for string kinds and bytes otherwise.
func size[T Sized](v T) int {
	if reflect.TypeFor[T]().Kind() == reflect.String {
		return utf8.RuneCountInString(string(v))
	}
	return len(v)
}

// Length requires exactly n characters (strings) or bytes (binaries).
func Length[T Sized](n int) Constraint[T] {
	return Func(fmt.Sprintf("length must be %d", n), func(v T) bool { return size(v) == n })
}

// MinimalLength requires at least n characters or bytes.
func MinimalLength[T Sized](n int) Constraint[T] {
	return Func(fmt.Sprintf("length must be at least %d", n), func(v T) bool { return size(v) >= n })
}

// MaximalLength requires at most n characters or bytes.
func MaximalLength[T Sized](n int) Constraint[T] {
	return Func(fmt.Sprintf("length must be at most %d", n), func(v T) bool { return size(v) <= n })
}

// Pattern requires the whole string to match expr. It panics on an invalid expression,
// like regexp.MustCompile, since patterns are fixed at declaration time.
func Pattern(expr string) Constraint[string] {
	re := regexp.MustCompile(`^(?:` + expr + `)$`)
	return Func(fmt.Sprintf("must match pattern %q", expr), re.MatchString)
}

// Set requires the value to be one of allowed.
func Set[T comparable](allowed ...T) Constraint[T] {
	parts := make([]string, len(allowed))
	for i, a := range allowed {
		parts[i] = fmt.Sprint(a)
	}
	desc := fmt.Sprintf("must be one of [%s]", strings.Join(parts, ", "))
	return Func(desc, func(v T) bool { return slices.Contains(allowed, v) })
}

func MinimalInclusive[T cmp.Ordered](bound T) Constraint[T] {
	return Func(fmt.Sprintf("must be >= %v", bound), func(v T) bool { return cmp.Compare(v, bound) >= 0 })
}

func MaximalInclusive[T cmp.Ordered](bound T) Constraint[T] {
	return Func(fmt.Sprintf("must be <= %v", bound), func(v T) bool { return cmp.Compare(v, bound) <= 0 })
}

func MinimalExclusive[T cmp.Ordered](bound T) Constraint[T] {
	return Func(fmt.Sprintf("must be > %v", bound), func(v T) bool { return cmp.Compare(v, bound) > 0 })
}

func MaximalExclusive[T cmp.Ordered](bound T) Constraint[T] {
	return Func(fmt.Sprintf("must be < %v", bound), func(v T) bool { return cmp.Compare(v, bound) < 0 })
}

// MaximalElementCount bounds the length of a list value.
func MaximalElementCount[E any](n int) Constraint[[]E] {
	return Func(fmt.Sprintf("must have at most %d elements", n), func(v []E) bool { return len(v) <= n })
}

// MinimalElementCount requires a list value to have at least n elements.
func MinimalElementCount[E any](n int) Constraint[[]E] {
	return Func(fmt.Sprintf("must have at least %d elements", n), func(v []E) bool { return len(v) >= n })
}
