package datatype

import (
	"bytes"
	"errors"
	"testing"

	"sila-rpc/blob"
	"sila-rpc/constraint"
	"sila-rpc/silaerr"
)

// countingString counts base conversions.
type countingString struct {
	toMessage, toNative int
}

func (c *countingString) ToMessage(v string, o Origin) (StringMessage, error) {
	c.toMessage++
	return String{}.ToMessage(v, o)
}

func (c *countingString) ToNative(m StringMessage, o Origin) (string, error) {
	c.toNative++
	return String{}.ToNative(m, o)
}

func TestConstrainedShortCircuits(t *testing.T) {
	c1 := constraint.MaximalLength[string](3)
	c2 := constraint.Func("never evaluated", func(string) bool {
		panic("second constraint evaluated after the first failed")
	})
	typ := Constrain[StringMessage, string](String{}, []constraint.Constraint[string]{c1, c2})

	_, err := typ.ToNative(StringMessage{Value: "too long"}, Parameter("Name"))
	var ve *silaerr.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expect *ValidationError, got %T: %v", err, err)
	}
	if ve.Parameter != "Name" || ve.Message != c1.Description() {
		t.Fatalf("unexpected validation error: %+v", ve)
	}
}

func TestConstrainedEvaluatesInOrder(t *testing.T) {
	var seen []string
	mk := func(name string, ok bool) constraint.Constraint[int64] {
		return constraint.Func(name, func(int64) bool {
			seen = append(seen, name)
			return ok
		})
	}
	typ := Constrain[IntegerMessage, int64](Integer{}, []constraint.Constraint[int64]{
		mk("a", true), mk("b", true), mk("c", false), mk("d", true),
	})
	_, err := typ.ToNative(IntegerMessage{Value: 1}, Parameter("N"))
	if err == nil {
		t.Fatal("expect failure")
	}
	if got := len(seen); got != 3 || seen[2] != "c" {
		t.Fatalf("evaluation order = %v", seen)
	}
}

func TestConstrainedAcceptsValidValue(t *testing.T) {
	typ := Constrain[IntegerMessage, int64](Integer{}, []constraint.Constraint[int64]{
		constraint.MinimalInclusive[int64](0),
		constraint.MaximalExclusive[int64](10),
	})
	for _, v := range []int64{0, 5, 9} {
		got, err := typ.ToNative(IntegerMessage{Value: v}, Parameter("N"))
		if err != nil || got != v {
			t.Fatalf("ToNative(%d) = %d, %v", v, got, err)
		}
	}
	if _, err := typ.ToNative(IntegerMessage{Value: 10}, Parameter("N")); err == nil {
		t.Fatal("expect 10 to be rejected")
	}
}

func TestConstrainedResponseFaultIsNotValidation(t *testing.T) {
	var reported []*ConstraintFault
	rep := FaultReporterFunc(func(f *ConstraintFault) { reported = append(reported, f) })
	typ := Constrain[StringMessage, string](String{},
		[]constraint.Constraint[string]{constraint.Set("on", "off")},
		WithFaultReporter(rep))

	_, err := typ.ToNative(StringMessage{Value: "maybe"}, Response("State"))
	var fault *ConstraintFault
	if !errors.As(err, &fault) {
		t.Fatalf("expect *ConstraintFault, got %T: %v", err, err)
	}
	if _, ok := silaerr.As(err); ok {
		t.Fatal("a local fault must not look like a SiLA error")
	}
	if fault.Origin != Response("State") || len(reported) != 1 {
		t.Fatalf("fault = %+v, reported %d", fault, len(reported))
	}
}

func TestConstrainedProceedPolicy(t *testing.T) {
	var reported int
	typ := Constrain[StringMessage, string](String{},
		[]constraint.Constraint[string]{constraint.Length[string](2)},
		WithPolicy(PolicyProceed),
		WithFaultReporter(FaultReporterFunc(func(*ConstraintFault) { reported++ })))

	m, err := typ.ToMessage("abc", Response("Code"))
	if err != nil || m.Value != "abc" {
		t.Fatalf("ToMessage = %+v, %v", m, err)
	}
	v, err := typ.ToNative(StringMessage{Value: "abc"}, Response("Code"))
	if err != nil || v != "abc" {
		t.Fatalf("ToNative = %q, %v", v, err)
	}
	if reported != 2 {
		t.Fatalf("reported %d faults, want 2", reported)
	}
}

func TestConstrainedToMessageRevalidates(t *testing.T) {
	base := &countingString{}
	typ := Constrain[StringMessage, string](base,
		[]constraint.Constraint[string]{constraint.Pattern(`[a-z]+`)},
		WithFaultReporter(FaultReporterFunc(func(*ConstraintFault) {})))

	if _, err := typ.ToMessage("abc", Response("Id")); err != nil {
		t.Fatal(err)
	}
	if base.toMessage != 1 || base.toNative != 1 {
		t.Fatalf("expect one encode and one re-decode, got %d/%d", base.toMessage, base.toNative)
	}

	// A violation while encoding is a local fault, even for a parameter origin.
	_, err := typ.ToMessage("ABC", Parameter("Id"))
	var fault *ConstraintFault
	if !errors.As(err, &fault) {
		t.Fatalf("expect *ConstraintFault, got %v", err)
	}
}

func TestConstrainedEmptyListPassesThrough(t *testing.T) {
	base := &countingString{}
	typ := Constrain[StringMessage, string](base, nil)

	m, err := typ.ToMessage("x", Response("X"))
	if err != nil || m.Value != "x" {
		t.Fatalf("ToMessage = %+v, %v", m, err)
	}
	if base.toNative != 0 {
		t.Fatal("empty constraint list must not re-decode")
	}
	v, err := typ.ToNative(StringMessage{Value: "y"}, Parameter("X"))
	if err != nil || v != "y" {
		t.Fatalf("ToNative = %q, %v", v, err)
	}
}

func TestConstrainedEvaluatesEveryCall(t *testing.T) {
	limit := 5
	typ := Constrain[IntegerMessage, int64](Integer{}, []constraint.Constraint[int64]{
		constraint.Func("below limit", func(v int64) bool { return v < int64(limit) }),
	})
	if _, err := typ.ToNative(IntegerMessage{Value: 4}, Parameter("N")); err != nil {
		t.Fatal(err)
	}
	limit = 3
	if _, err := typ.ToNative(IntegerMessage{Value: 4}, Parameter("N")); err == nil {
		t.Fatal("expect the second call to see the new limit")
	}
}

func TestBinaryInlineAndReference(t *testing.T) {
	store := blob.New()
	typ := Binary{Store: store, InlineLimit: 4}

	small, err := typ.ToMessage([]byte("abcd"), Response("Data"))
	if err != nil || small.BinaryTransferUUID != "" || string(small.Value) != "abcd" {
		t.Fatalf("small = %+v, %v", small, err)
	}

	payload := bytes.Repeat([]byte{7}, 100)
	large, err := typ.ToMessage(payload, Response("Data"))
	if err != nil || large.BinaryTransferUUID == "" || large.Value != nil {
		t.Fatalf("large = %+v, %v", large, err)
	}
	got, err := typ.ToNative(large, Parameter("Data"))
	if err != nil || !bytes.Equal(got, payload) {
		t.Fatalf("resolve = %d bytes, %v", len(got), err)
	}
}

func TestBinaryUnknownReference(t *testing.T) {
	typ := Binary{Store: blob.New()}
	_, err := typ.ToNative(BinaryMessage{BinaryTransferUUID: "00000000-0000-4000-8000-000000000000"}, Parameter("Data"))
	if !blob.IsInvalidUUID(err) {
		t.Fatalf("expect InvalidBinaryTransferUUID, got %v", err)
	}
	var de *silaerr.DefinedExecutionError
	if !errors.As(err, &de) || de.Identifier != blob.IdentifierInvalidUUID {
		t.Fatalf("expect defined execution error, got %T", err)
	}

	if _, err := (Binary{}).ToNative(BinaryMessage{BinaryTransferUUID: "x"}, Parameter("Data")); !blob.IsInvalidUUID(err) {
		t.Fatalf("storeless binary: %v", err)
	}
	if _, err := typ.ToNative(BinaryMessage{Value: []byte{1}, BinaryTransferUUID: "x"}, Parameter("Data")); !errors.Is(err, ErrAmbiguousBinary) {
		t.Fatalf("ambiguous message: %v", err)
	}
}

func TestConstrainedBinaryUnknownReferenceIsNotValidation(t *testing.T) {
	typ := Constrain[BinaryMessage, []byte](Binary{Store: blob.New()},
		[]constraint.Constraint[[]byte]{constraint.MaximalLength[[]byte](10)})
	_, err := typ.ToNative(BinaryMessage{BinaryTransferUUID: "gone"}, Parameter("Data"))
	if !blob.IsInvalidUUID(err) {
		t.Fatalf("expect the resolve failure to surface unchanged, got %v", err)
	}
}
