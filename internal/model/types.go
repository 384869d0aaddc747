package model

import (
	"encoding/json"
	"os"

	"github.com/pkg/errors"
)

// Metadata is the optional JSON sidecar shipped next to a model file
// (mnist.tflite -> mnist.json).
type Metadata struct {
	InputShape  []int64  `json:"input_shape"`
	OutputShape []int64  `json:"output_shape"`
	Classes     []string `json:"classes"`
}

// LoadMetadata reads a sidecar file.
func LoadMetadata(path string) (*Metadata, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read metadata")
	}
	var meta Metadata
	if err := json.Unmarshal(raw, &meta); err != nil {
		return nil, errors.Wrap(err, "failed to parse metadata")
	}
	return &meta, nil
}

// InputShape is the image size a model was trained on.
type InputShape struct {
	Width  int
	Height int
}

// Len is the number of values one input tensor holds.
func (s InputShape) Len() int { return s.Width * s.Height }

// Signature is what a runtime reports about its single input and output.
type Signature struct {
	Input  []int64
	Output []int64
}

// inputShape reads width and height out of a batch-first 4D input. The
// channels-last layout [1, W, H, 1] is the native one; [1, 1, H, W] is
// accepted for channels-first exports.
func inputShape(dims []int64) (InputShape, error) {
	if len(dims) != 4 {
		return InputShape{}, errors.Errorf("expected 4D input, got %dD %v", len(dims), dims)
	}
	if dims[0] != 1 {
		return InputShape{}, errors.Errorf("expected batch size 1, got %v", dims)
	}
	var s InputShape
	switch {
	case dims[3] == 1:
		s = InputShape{Width: int(dims[1]), Height: int(dims[2])}
	case dims[1] == 1:
		s = InputShape{Width: int(dims[3]), Height: int(dims[2])}
	default:
		return InputShape{}, errors.Errorf("expected a single channel input, got %v", dims)
	}
	if s.Width <= 0 || s.Height <= 0 {
		return InputShape{}, errors.Errorf("input shape %v has no fixed size", dims)
	}
	return s, nil
}

// numClasses reads the class count out of [1, N] or [N].
func numClasses(dims []int64) (int, error) {
	switch {
	case len(dims) == 1 && dims[0] > 0:
		return int(dims[0]), nil
	case len(dims) == 2 && dims[0] == 1 && dims[1] > 0:
		return int(dims[1]), nil
	}
	return 0, errors.Errorf("expected output [1, classes], got %v", dims)
}

// fixBatch replaces a dynamic leading batch dimension with 1.
func fixBatch(dims []int64) []int64 {
	out := append([]int64(nil), dims...)
	if len(out) > 0 && out[0] < 0 {
		out[0] = 1
	}
	return out
}

func sameDims(a, b []int64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
