package submem

import "github.com/cockroachdb/errors"

var (
	// ErrMemoryTypeNotFound is returned when no device memory type is compatible with a resource and
	// has every required property flag
	ErrMemoryTypeNotFound = errors.New("no memory type satisfies the resource requirements")
	// ErrAllocationFailure is returned when the device refuses to allocate a new block. The error returned
	// by the device stays on the chain, so errors.Is will match both.
	ErrAllocationFailure = errors.New("failed to allocate device memory for a new block")
	// ErrHandleNotFound is returned when a Handle does not refer to a live resource
	ErrHandleNotFound = errors.New("no live resource exists for the handle")
	// ErrNullHandle is returned when the zero Handle is passed to an operation
	ErrNullHandle = errors.New("null handle")
	// ErrUndersizedDestination is returned from CopyBuffer when the destination is smaller than the source
	ErrUndersizedDestination = errors.New("destination is smaller than source")
	// ErrUnsupportedLayoutTransition is returned for any image layout transition other than
	// Undefined -> TransferDstOptimal and TransferDstOptimal -> ShaderReadOnlyOptimal
	ErrUnsupportedLayoutTransition = errors.New("unsupported image layout transition")
	// ErrResourceKind is returned when a buffer operation is given an image handle, or vice versa
	ErrResourceKind = errors.New("handle refers to the wrong kind of resource")
	// ErrNotHostVisible is returned when mapping a resource whose memory type is not host visible
	ErrNotHostVisible = errors.New("memory is not host visible")
	// ErrManagerDestroyed is returned from every operation on a Manager after Destroy has been called
	ErrManagerDestroyed = errors.New("manager has been destroyed")
	// ErrInvalidOptions is returned from New when CreateOptions fail validation
	ErrInvalidOptions = errors.New("invalid create options")
)

// kindError tags a cause with one of the sentinel errors above. Is matches the sentinel and Unwrap
// exposes the cause.
type kindError struct {
	kind  error
	cause error
}

func withKind(cause error, kind error) error {
	return &kindError{kind: kind, cause: cause}
}

func (e *kindError) Error() string {
	return e.kind.Error() + ": " + e.cause.Error()
}

func (e *kindError) Unwrap() error {
	return e.cause
}

func (e *kindError) Is(target error) bool {
	return target == e.kind
}
