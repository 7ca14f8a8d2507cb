package datatype

import (
	"fmt"

	"github.com/rs/zerolog"

	"sila-rpc/constraint"
	"sila-rpc/logging"
	"sila-rpc/silaerr"
)

// Policy decides what happens when a locally produced value violates a constraint.
type Policy int

const (
	// PolicyAbort fails the conversion with a *ConstraintFault.
	PolicyAbort Policy = iota
	// PolicyProceed reports the fault and hands the value on unchanged.
	PolicyProceed
)

// ConstraintFault is a constraint violation in a value this process produced. It is a
// local bug, not a SiLA error; servers that let it escape report it as an undefined
// execution error.
type ConstraintFault struct {
	Origin     Origin
	Constraint string
}

func (f *ConstraintFault) Error() string {
	return fmt.Sprintf("datatype: %s violates constraint: %s", f.Origin, f.Constraint)
}

// FaultReporter receives every ConstraintFault regardless of Policy.
type FaultReporter interface {
	ReportConstraintFault(f *ConstraintFault)
}

// FaultReporterFunc adapts a function to FaultReporter.
type FaultReporterFunc func(f *ConstraintFault)

func (fn FaultReporterFunc) ReportConstraintFault(f *ConstraintFault) { fn(f) }

// LogReporter logs faults at error level.
type LogReporter struct {
	Logger *zerolog.Logger
}

func (r LogReporter) ReportConstraintFault(f *ConstraintFault) {
	l := r.Logger
	if l == nil {
		l = logging.Component("datatype")
	}
	l.Error().
		Str("origin", f.Origin.Kind.String()).
		Str("identifier", f.Origin.Identifier).
		Str("constraint", f.Constraint).
		Msg("produced value violates constraint")
}

// ConstrainedOption configures a Constrained.
type ConstrainedOption func(*faultHandling)

type faultHandling struct {
	reporter FaultReporter
	policy   Policy
}

// WithFaultReporter replaces the default LogReporter.
func WithFaultReporter(r FaultReporter) ConstrainedOption {
	return func(h *faultHandling) { h.reporter = r }
}

// WithPolicy sets how local faults are handled. The default is PolicyAbort.
func WithPolicy(p Policy) ConstrainedOption {
	return func(h *faultHandling) { h.policy = p }
}

// Constrained checks a list of constraints on top of a base DataType. The constraints
// run in order on every conversion and stop at the first failure. Constraints must not
// be mutated after construction.
type Constrained[M, T any] struct {
	base        DataType[M, T]
	constraints []constraint.Constraint[T]
	faults      faultHandling
}

var _ DataType[StringMessage, string] = (*Constrained[StringMessage, string])(nil)

// Constrain wraps base with constraints.
func Constrain[M, T any](base DataType[M, T], constraints []constraint.Constraint[T], opts ...ConstrainedOption) *Constrained[M, T] {
	c := &Constrained[M, T]{
		base:        base,
		constraints: append([]constraint.Constraint[T](nil), constraints...),
		faults:      faultHandling{reporter: LogReporter{}, policy: PolicyAbort},
	}
	for _, opt := range opts {
		opt(&c.faults)
	}
	return c
}

// Constraints returns a copy of the constraint list.
func (c *Constrained[M, T]) Constraints() []constraint.Constraint[T] {
	return append([]constraint.Constraint[T](nil), c.constraints...)
}

// ToNative decodes message and checks the result. A violation in a parameter becomes
// a *silaerr.ValidationError naming the parameter and the failed constraint; any other
// origin is a local fault handled per Policy.
func (c *Constrained[M, T]) ToNative(message M, origin Origin) (T, error) {
	value, err := c.base.ToNative(message, origin)
	if err != nil {
		var zero T
		return zero, err
	}
	if len(c.constraints) == 0 {
		return value, nil
	}
	failed := c.firstFailure(value)
	if failed == nil {
		return value, nil
	}
	if origin.Kind == OriginParameter {
		var zero T
		return zero, silaerr.NewValidationError(origin.Identifier, failed.Description())
	}
	return c.fault(value, origin, failed)
}

// ToMessage encodes value, then decodes the message again and checks the constraints
// on what will actually be sent. Violations here are always local faults.
func (c *Constrained[M, T]) ToMessage(value T, origin Origin) (M, error) {
	message, err := c.base.ToMessage(value, origin)
	if err != nil || len(c.constraints) == 0 {
		return message, err
	}
	decoded, err := c.base.ToNative(message, origin)
	if err != nil {
		var zero M
		return zero, fmt.Errorf("datatype: re-decoding %s: %w", origin, err)
	}
	if failed := c.firstFailure(decoded); failed != nil {
		if _, err := c.fault(decoded, origin, failed); err != nil {
			var zero M
			return zero, err
		}
	}
	return message, nil
}

func (c *Constrained[M, T]) firstFailure(value T) constraint.Constraint[T] {
	for _, con := range c.constraints {
		if !con.Check(value) {
			return con
		}
	}
	return nil
}

func (c *Constrained[M, T]) fault(value T, origin Origin, failed constraint.Constraint[T]) (T, error) {
	f := &ConstraintFault{Origin: origin, Constraint: failed.Description()}
	if c.faults.reporter != nil {
		c.faults.reporter.ReportConstraintFault(f)
	}
	if c.faults.policy == PolicyProceed {
		return value, nil
	}
	var zero T
	return zero, f
}
