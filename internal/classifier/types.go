package classifier

import (
	"fmt"

	"github.com/Brownie44l1/digit-classifier/internal/model"
)

// Result is a decoded prediction. Confidence is the raw score of the winning
// class and is not necessarily a calibrated probability.
type Result struct {
	Label      int     `json:"label"`
	Confidence float32 `json:"confidence"`
	// Class is the label's name from the model metadata, when it has one.
	Class string `json:"class,omitempty"`
}

func (r Result) String() string {
	return fmt.Sprintf("Predicted: %d\nConfidence: %v", r.Label, r.Confidence)
}

// Response is delivered once per Classify call. Exactly one of Result and
// Err is meaningful.
type Response struct {
	RequestID string
	Result    Result
	Err       error
}

// InitResult is delivered once per Initialize call.
type InitResult struct {
	Engine *model.Engine
	Err    error
}

type State int

const (
	Uninitialized State = iota
	Ready
)

func (s State) String() string {
	if s == Ready {
		return "ready"
	}
	return "uninitialized"
}
