package silaerr

import (
	"errors"
	"fmt"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

var (
	// ErrNotStatus means the failure carried no transport status at all.
	ErrNotStatus = errors.New("silaerr: not a transport status error")
	// ErrNotAborted means the status code was not the one SiLA errors travel under.
	ErrNotAborted = errors.New("silaerr: status is not Aborted")
)

// Status embeds e in an Aborted transport status.
func Status(e Error) *status.Status {
	detail, err := Encode(e)
	if err != nil {
		// Only reachable for an Error implementation outside this package, which the
		// sealed interface rules out.
		return status.New(codes.Internal, err.Error())
	}
	return status.New(codes.Aborted, detail)
}

// StatusError is Status(e).Err().
func StatusError(e Error) error {
	return Status(e).Err()
}

// Detection is the outcome of inspecting a transport failure.
type Detection struct {
	// Matched is true only when Error holds a reconstructed SiLA error.
	Matched bool
	Error   Error
	// Reason explains a non-match. It is informational and meant for logs.
	Reason error
}

// Detector turns transport failures back into SiLA errors.
// A nil Catalog leaves defined execution errors unresolved.
type Detector struct {
	Catalog *Catalog
}

// Detect attempts to decode err as a SiLA error envelope. It never fails: a
// malformed or absent detail is a non-match with a Reason.
func (d Detector) Detect(err error) Detection {
	if err == nil {
		return Detection{Reason: ErrNotStatus}
	}
	if se, ok := As(err); ok {
		return Detection{Matched: true, Error: d.resolve(se)}
	}
	st, ok := status.FromError(err)
	if !ok {
		return Detection{Reason: ErrNotStatus}
	}
	if st.Code() != codes.Aborted {
		return Detection{Reason: fmt.Errorf("%w: %s", ErrNotAborted, st.Code())}
	}
	se, decodeErr := Decode(st.Message())
	if decodeErr != nil {
		return Detection{Reason: decodeErr}
	}
	return Detection{Matched: true, Error: d.resolve(se)}
}

// Upgrade returns the reconstructed SiLA error, or err unchanged when it is not one.
func (d Detector) Upgrade(err error) error {
	if err == nil {
		return nil
	}
	if det := d.Detect(err); det.Matched {
		return det.Error
	}
	return err
}

func (d Detector) resolve(se Error) Error {
	if d.Catalog == nil {
		return se
	}
	if de, ok := se.(*DefinedExecutionError); ok {
		return d.Catalog.Resolve(de)
	}
	return se
}

// Detect runs a Detector without a catalog.
func Detect(err error) Detection {
	return Detector{}.Detect(err)
}

// Upgrade runs a Detector without a catalog.
func Upgrade(err error) error {
	return Detector{}.Upgrade(err)
}
