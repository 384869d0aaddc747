package model

import "github.com/pkg/errors"

var (
	// ErrInvalidModel means the artifact is missing or cannot be parsed.
	ErrInvalidModel = errors.New("invalid model")
	// ErrRuntime means the inference runtime rejected the model or failed
	// while running it.
	ErrRuntime = errors.New("inference runtime failure")
	// ErrUnsupportedTopology is reported, together with ErrRuntime, for models
	// that do not have exactly one input and one output tensor.
	ErrUnsupportedTopology = errors.New("unsupported model topology")
	ErrInputSize           = errors.New("input size mismatch")
	ErrClosed              = errors.New("engine closed")
)

// Error pairs one of the sentinel kinds above with the underlying cause.
// errors.Is matches both.
type Error struct {
	Kind error
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Kind.Error()
	}
	return e.Kind.Error() + ": " + e.Err.Error()
}

func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func invalidModel(err error) error {
	return &Error{Kind: ErrInvalidModel, Err: err}
}

func runtimeFailure(err error) error {
	return &Error{Kind: ErrRuntime, Err: err}
}
