package extension

import "errors"

var (
	// ErrUnknownType is returned when no descriptor is registered for a type.
	ErrUnknownType = errors.New("extension: unknown connector type")

	// ErrDuplicateType is returned when a type name is registered twice.
	ErrDuplicateType = errors.New("extension: connector type already registered")

	// ErrInvalidDescriptor is returned when a descriptor misses a required part.
	ErrInvalidDescriptor = errors.New("extension: invalid descriptor")
)

// HydrationError reports an attribute that could not be applied to an
// entity. Pointer is the JSON pointer of the attribute in the request
// document.
type HydrationError struct {
	Pointer string
	Detail  string
}

func (e *HydrationError) Error() string {
	return e.Pointer + ": " + e.Detail
}

// HydrationErrors returns every HydrationError carried by err, including
// errors joined with errors.Join.
func HydrationErrors(err error) []*HydrationError {
	if err == nil {
		return nil
	}

	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		var out []*HydrationError
		for _, e := range joined.Unwrap() {
			out = append(out, HydrationErrors(e)...)
		}
		return out
	}

	var he *HydrationError
	if errors.As(err, &he) {
		return []*HydrationError{he}
	}
	return nil
}
