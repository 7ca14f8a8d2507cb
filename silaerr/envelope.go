package silaerr

import (
	"encoding/base64"
	"errors"
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

var (
	// ErrEnvelopeIntegrity means an envelope with zero or several branches set.
	// A correct writer never produces one.
	ErrEnvelopeIntegrity = errors.New("silaerr: envelope must carry exactly one error branch")
	// ErrMalformedEnvelope covers bytes that are not a SiLAError message at all.
	ErrMalformedEnvelope = errors.New("silaerr: malformed error envelope")
)

// Envelope is the wire form of a SiLA error: a sum type with exactly one Branch.
type Envelope struct {
	Branch Branch
}

// Branch is implemented by the four envelope branch types only.
type Branch interface {
	fieldNumber() protowire.Number
}

type ValidationBranch struct {
	Parameter string
	Message   string
}

type DefinedExecutionBranch struct {
	Identifier string
	Message    string
}

type UndefinedExecutionBranch struct {
	Message string
}

type FrameworkBranch struct {
	Type    FrameworkErrorType
	Message string
}

// Field numbers of the SiLAError oneof.
const (
	fieldValidation         protowire.Number = 1
	fieldDefinedExecution   protowire.Number = 2
	fieldUndefinedExecution protowire.Number = 3
	fieldFramework          protowire.Number = 4
)

func (ValidationBranch) fieldNumber() protowire.Number         { return fieldValidation }
func (DefinedExecutionBranch) fieldNumber() protowire.Number   { return fieldDefinedExecution }
func (UndefinedExecutionBranch) fieldNumber() protowire.Number { return fieldUndefinedExecution }
func (FrameworkBranch) fieldNumber() protowire.Number          { return fieldFramework }

// ToEnvelope converts a SiLA error to its wire form.
func ToEnvelope(e Error) Envelope {
	switch e := e.(type) {
	case *ValidationError:
		return Envelope{Branch: ValidationBranch{Parameter: e.Parameter, Message: e.Message}}
	case *DefinedExecutionError:
		return Envelope{Branch: DefinedExecutionBranch{Identifier: e.Identifier, Message: e.Message}}
	case *UndefinedExecutionError:
		return Envelope{Branch: UndefinedExecutionBranch{Message: e.Message}}
	case *FrameworkError:
		return Envelope{Branch: FrameworkBranch{Type: e.Type, Message: e.Message}}
	default:
		return Envelope{}
	}
}

// FromEnvelope rebuilds the concrete error for the populated branch.
func FromEnvelope(env Envelope) (Error, error) {
	switch b := env.Branch.(type) {
	case ValidationBranch:
		return NewValidationError(b.Parameter, b.Message), nil
	case DefinedExecutionBranch:
		return NewDefinedExecutionError(b.Identifier, b.Message), nil
	case UndefinedExecutionBranch:
		return NewUndefinedExecutionError(b.Message), nil
	case FrameworkBranch:
		if !b.Type.Valid() {
			return nil, fmt.Errorf("%w: unknown framework error type %d", ErrMalformedEnvelope, b.Type)
		}
		return NewFrameworkError(b.Type, b.Message), nil
	case nil:
		return nil, ErrEnvelopeIntegrity
	default:
		return nil, fmt.Errorf("%w: unexpected branch %T", ErrEnvelopeIntegrity, b)
	}
}

// Marshal encodes the envelope as a SiLAError protobuf message.
func (env Envelope) Marshal() ([]byte, error) {
	var inner []byte
	switch b := env.Branch.(type) {
	case ValidationBranch:
		inner = appendString(inner, 1, b.Parameter)
		inner = appendString(inner, 2, b.Message)
	case DefinedExecutionBranch:
		inner = appendString(inner, 1, b.Identifier)
		inner = appendString(inner, 2, b.Message)
	case UndefinedExecutionBranch:
		inner = appendString(inner, 1, b.Message)
	case FrameworkBranch:
		if b.Type != 0 {
			inner = protowire.AppendTag(inner, 1, protowire.VarintType)
			inner = protowire.AppendVarint(inner, uint64(b.Type))
		}
		inner = appendString(inner, 2, b.Message)
	case nil:
		return nil, ErrEnvelopeIntegrity
	default:
		return nil, fmt.Errorf("%w: unexpected branch %T", ErrEnvelopeIntegrity, b)
	}
	out := protowire.AppendTag(nil, env.Branch.fieldNumber(), protowire.BytesType)
	return protowire.AppendBytes(out, inner), nil
}

// UnmarshalEnvelope decodes a SiLAError message. Decoding is strict: unknown fields,
// wrong wire types and trailing garbage are all rejected, so that a random detail
// string is not mistaken for an envelope.
func UnmarshalEnvelope(b []byte) (Envelope, error) {
	var env Envelope
	branches := 0
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return Envelope{}, fmt.Errorf("%w: %v", ErrMalformedEnvelope, protowire.ParseError(n))
		}
		b = b[n:]
		if typ != protowire.BytesType || num < fieldValidation || num > fieldFramework {
			return Envelope{}, fmt.Errorf("%w: unexpected field %d (wire type %d)", ErrMalformedEnvelope, num, typ)
		}
		inner, n := protowire.ConsumeBytes(b)
		if n < 0 {
			return Envelope{}, fmt.Errorf("%w: %v", ErrMalformedEnvelope, protowire.ParseError(n))
		}
		b = b[n:]

		branch, err := unmarshalBranch(num, inner)
		if err != nil {
			return Envelope{}, err
		}
		env.Branch = branch
		branches++
	}
	if branches != 1 {
		return Envelope{}, fmt.Errorf("%w: found %d", ErrEnvelopeIntegrity, branches)
	}
	return env, nil
}

func unmarshalBranch(num protowire.Number, b []byte) (Branch, error) {
	var (
		strs    [3]string
		errType uint64
	)
	for len(b) > 0 {
		fnum, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, fmt.Errorf("%w: %v", ErrMalformedEnvelope, protowire.ParseError(n))
		}
		b = b[n:]
		switch {
		case num == fieldFramework && fnum == 1 && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return nil, fmt.Errorf("%w: %v", ErrMalformedEnvelope, protowire.ParseError(n))
			}
			errType = v
			b = b[n:]
		case typ == protowire.BytesType && fnum <= maxStringField(num) && !(num == fieldFramework && fnum == 1):
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return nil, fmt.Errorf("%w: %v", ErrMalformedEnvelope, protowire.ParseError(n))
			}
			strs[fnum] = string(v)
			b = b[n:]
		default:
			return nil, fmt.Errorf("%w: unexpected field %d in branch %d", ErrMalformedEnvelope, fnum, num)
		}
	}

	switch num {
	case fieldValidation:
		return ValidationBranch{Parameter: strs[1], Message: strs[2]}, nil
	case fieldDefinedExecution:
		return DefinedExecutionBranch{Identifier: strs[1], Message: strs[2]}, nil
	case fieldUndefinedExecution:
		return UndefinedExecutionBranch{Message: strs[1]}, nil
	default:
		if errType > uint64(NoMetadataAllowed) {
			return nil, fmt.Errorf("%w: unknown framework error type %d", ErrMalformedEnvelope, errType)
		}
		return FrameworkBranch{Type: FrameworkErrorType(errType), Message: strs[2]}, nil
	}
}

// maxStringField is the highest string field number of a branch message.
func maxStringField(num protowire.Number) protowire.Number {
	if num == fieldUndefinedExecution {
		return 1
	}
	return 2
}

func appendString(b []byte, num protowire.Number, s string) []byte {
	if s == "" {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, s)
}

// Encode renders e as the ASCII-safe detail string placed in an Aborted failure.
func Encode(e Error) (string, error) {
	raw, err := ToEnvelope(e).Marshal()
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

// Decode parses a detail string produced by Encode.
func Decode(detail string) (Error, error) {
	if detail == "" {
		return nil, fmt.Errorf("%w: empty detail", ErrMalformedEnvelope)
	}
	raw, err := base64.StdEncoding.Strict().DecodeString(detail)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}
	env, err := UnmarshalEnvelope(raw)
	if err != nil {
		return nil, err
	}
	return FromEnvelope(env)
}
