package classifier

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	// ErrNotReady is returned by Classify before a successful Initialize or
	// after Close.
	ErrNotReady = errors.New("classifier: not initialized")
	// ErrAlreadyInitialized is wrapped in an InitError when Initialize is
	// called on a ready service.
	ErrAlreadyInitialized = errors.New("classifier: already initialized")
)

type InitErrorKind int

const (
	// InvalidModel: the model artifact is missing or malformed.
	InvalidModel InitErrorKind = iota + 1
	// InitInternal: the inference runtime rejected the model.
	InitInternal
)

func (k InitErrorKind) String() string {
	switch k {
	case InvalidModel:
		return "invalid model"
	case InitInternal:
		return "internal error"
	}
	return fmt.Sprintf("InitErrorKind(%d)", int(k))
}

// InitError is delivered by Initialize. No classification is possible on the
// service until a later Initialize succeeds.
type InitError struct {
	Kind InitErrorKind
	// Model is the artifact's file name, set for InvalidModel.
	Model string
	Err   error
}

func (e *InitError) Error() string {
	if e.Kind == InvalidModel {
		return fmt.Sprintf("classifier: invalid model %s: %v", e.Model, e.Err)
	}
	return fmt.Sprintf("classifier: initialization failed: %v", e.Err)
}

func (e *InitError) Unwrap() error { return e.Err }

type ClassifyErrorKind int

const (
	// InvalidImage: preprocessing could not produce a tensor.
	InvalidImage ClassifyErrorKind = iota + 1
	// ClassifyInternal: the inference runtime failed.
	ClassifyInternal
)

func (k ClassifyErrorKind) String() string {
	switch k {
	case InvalidImage:
		return "invalid image"
	case ClassifyInternal:
		return "internal error"
	}
	return fmt.Sprintf("ClassifyErrorKind(%d)", int(k))
}

// ClassifyError is delivered by Classify when the pipeline fails.
type ClassifyError struct {
	Kind ClassifyErrorKind
	Err  error
}

func (e *ClassifyError) Error() string {
	return fmt.Sprintf("classifier: %v: %v", e.Kind, e.Err)
}

func (e *ClassifyError) Unwrap() error { return e.Err }
