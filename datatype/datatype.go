// Package datatype converts between wire messages and native Go values.
//
// A DataType pairs a message type M with a native type T. Constrained wraps a
// DataType with a list of constraints that are checked on every conversion.
package datatype

import "fmt"

// OriginKind says which side produced a value.
type OriginKind int

const (
	// OriginParameter marks values received from a remote caller.
	OriginParameter OriginKind = iota + 1
	// OriginResponse marks values this process produced, such as command responses.
	OriginResponse
)

func (k OriginKind) String() string {
	switch k {
	case OriginParameter:
		return "parameter"
	case OriginResponse:
		return "response"
	default:
		return fmt.Sprintf("OriginKind(%d)", int(k))
	}
}

// Origin names the field a value belongs to.
type Origin struct {
	Kind       OriginKind
	Identifier string
}

// Parameter is the origin of an inbound command parameter.
func Parameter(identifier string) Origin {
	return Origin{Kind: OriginParameter, Identifier: identifier}
}

// Response is the origin of a locally produced response field.
func Response(identifier string) Origin {
	return Origin{Kind: OriginResponse, Identifier: identifier}
}

func (o Origin) String() string {
	return o.Kind.String() + " " + o.Identifier
}

// DataType converts between a message M and a native value T.
type DataType[M, T any] interface {
	ToMessage(value T, origin Origin) (M, error)
	ToNative(message M, origin Origin) (T, error)
}
