// Package model owns a loaded digit model and runs single-image inference on
// it. One Engine serializes every run so the runtime's input and output
// buffers are never shared between calls.
package model

import (
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// DefaultNumThreads is the worker-thread count handed to the runtime.
const DefaultNumThreads = 2

// Runtime is an open inference runtime with exactly one input and one output
// tensor. Implementations need not be safe for concurrent use; Engine calls
// them under its lock.
type Runtime interface {
	// AllocateTensors prepares the input and output buffers. It is called
	// before every run and must be cheap when nothing changed.
	AllocateTensors() error
	CopyInput(data []float32) error
	Invoke() error
	// Output returns the output tensor's values. The slice may alias
	// runtime memory and is only read until the next call.
	Output() ([]float32, error)
	Close() error
}

// Options configure Load.
type Options struct {
	// NumThreads is the runtime's worker-thread count. Zero means
	// DefaultNumThreads.
	NumThreads int
	// LibraryPath points at the onnxruntime shared library. Empty uses the
	// platform default lookup.
	LibraryPath string
	Logger      logrus.FieldLogger
}

func (o Options) threads() int {
	if o.NumThreads > 0 {
		return o.NumThreads
	}
	return DefaultNumThreads
}

func (o Options) logger() logrus.FieldLogger {
	if o.Logger != nil {
		return o.Logger
	}
	return logrus.StandardLogger()
}

type opener func(path string, opts Options) (Runtime, Signature, error)

// runtimes maps a model file extension to the runtime that opens it.
var runtimes = map[string]opener{
	".onnx": openONNX,
}

var knownFormats = map[string]string{
	".onnx":   "onnx",
	".tflite": "tflite",
}

// DefaultFormat is the model extension, without the dot, to use when none
// is configured: tflite when that runtime is compiled in, onnx otherwise.
func DefaultFormat() string {
	if _, ok := runtimes[".tflite"]; ok {
		return "tflite"
	}
	return "onnx"
}

type Engine struct {
	mu      sync.Mutex
	rt      Runtime
	closed  bool
	name    string
	shape   InputShape
	classes int
	meta    *Metadata
	log     logrus.FieldLogger
}

// Load opens the model at path with the runtime matching its extension and
// reads the declared input and output shapes. A missing or unparsable file
// fails with ErrInvalidModel; a model the runtime refuses fails with
// ErrRuntime.
func Load(path string, opts Options) (*Engine, error) {
	name := filepath.Base(path)
	log := opts.logger().WithField("model", name)

	if _, err := os.Stat(path); err != nil {
		return nil, invalidModel(errors.Wrapf(err, "model %s", name))
	}

	ext := strings.ToLower(filepath.Ext(path))
	open, ok := runtimes[ext]
	if !ok {
		if format, known := knownFormats[ext]; known {
			return nil, runtimeFailure(errors.Errorf("%s runtime not compiled in (build with -tags %s)", format, format))
		}
		return nil, invalidModel(errors.Errorf("model %s: unknown format %q", name, ext))
	}

	log.WithField("threads", opts.threads()).Info("loading model")
	rt, sig, err := open(path, opts)
	if err != nil {
		return nil, err
	}

	shape, classes, err := parseSignature(sig)
	if err != nil {
		rt.Close()
		return nil, err
	}

	meta, err := loadSidecar(path, sig, classes)
	if err != nil {
		rt.Close()
		return nil, err
	}

	log.WithFields(logrus.Fields{
		"width":   shape.Width,
		"height":  shape.Height,
		"classes": classes,
	}).Info("model loaded")

	return &Engine{
		rt:      rt,
		name:    name,
		shape:   shape,
		classes: classes,
		meta:    meta,
		log:     log,
	}, nil
}

// New wraps an already open runtime.
func New(rt Runtime, shape InputShape, classes int, opts Options) (*Engine, error) {
	if rt == nil {
		return nil, errors.New("nil runtime")
	}
	if shape.Width <= 0 || shape.Height <= 0 {
		return nil, errors.Errorf("invalid input shape %dx%d", shape.Width, shape.Height)
	}
	if classes <= 0 {
		return nil, errors.Errorf("invalid class count %d", classes)
	}
	return &Engine{
		rt:      rt,
		name:    "custom",
		shape:   shape,
		classes: classes,
		log:     opts.logger().WithField("model", "custom"),
	}, nil
}

func parseSignature(sig Signature) (InputShape, int, error) {
	shape, err := inputShape(sig.Input)
	if err != nil {
		return InputShape{}, 0, runtimeFailure(errors.Wrap(ErrUnsupportedTopology, err.Error()))
	}
	classes, err := numClasses(sig.Output)
	if err != nil {
		return InputShape{}, 0, runtimeFailure(errors.Wrap(ErrUnsupportedTopology, err.Error()))
	}
	return shape, classes, nil
}

// loadSidecar reads <model>.json when present and checks it agrees with what
// the runtime declared.
func loadSidecar(path string, sig Signature, classes int) (*Metadata, error) {
	metaPath := strings.TrimSuffix(path, filepath.Ext(path)) + ".json"
	if _, err := os.Stat(metaPath); os.IsNotExist(err) {
		return nil, nil
	}
	meta, err := LoadMetadata(metaPath)
	if err != nil {
		return nil, invalidModel(err)
	}
	if len(meta.InputShape) > 0 && !sameDims(fixBatch(meta.InputShape), sig.Input) {
		return nil, invalidModel(errors.Errorf("metadata input shape %v, model declares %v", meta.InputShape, sig.Input))
	}
	if len(meta.OutputShape) > 0 && !sameDims(fixBatch(meta.OutputShape), sig.Output) {
		return nil, invalidModel(errors.Errorf("metadata output shape %v, model declares %v", meta.OutputShape, sig.Output))
	}
	if len(meta.Classes) > 0 && len(meta.Classes) != classes {
		return nil, invalidModel(errors.Errorf("metadata lists %d classes, model has %d", len(meta.Classes), classes))
	}
	return meta, nil
}

// Run feeds one normalized tensor through the model and returns a fresh copy
// of the per-class scores. Allocation, copy-in, invoke and read-out happen
// as one critical section.
func (e *Engine) Run(tensor []float32) ([]float32, error) {
	if len(tensor) != e.shape.Len() {
		return nil, errors.Wrapf(ErrInputSize, "got %d values, model expects %d", len(tensor), e.shape.Len())
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return nil, errors.WithStack(ErrClosed)
	}
	if err := e.rt.AllocateTensors(); err != nil {
		return nil, runtimeFailure(errors.Wrap(err, "allocate tensors"))
	}
	if err := e.rt.CopyInput(tensor); err != nil {
		return nil, runtimeFailure(errors.Wrap(err, "copy input"))
	}
	if err := e.rt.Invoke(); err != nil {
		return nil, runtimeFailure(errors.Wrap(err, "invoke"))
	}
	out, err := e.rt.Output()
	if err != nil {
		return nil, runtimeFailure(errors.Wrap(err, "read output"))
	}
	if len(out) != e.classes {
		return nil, runtimeFailure(errors.Errorf("output has %d scores, model declares %d", len(out), e.classes))
	}

	scores := make([]float32, len(out))
	copy(scores, out)
	return scores, nil
}

func (e *Engine) Name() string { return e.name }

func (e *Engine) InputShape() InputShape { return e.shape }

func (e *Engine) NumClasses() int { return e.classes }

// Metadata returns the sidecar read at load time, or nil.
func (e *Engine) Metadata() *Metadata { return e.meta }

// Close releases the runtime. Runs after Close fail with ErrClosed.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true
	e.log.Info("model released")
	return e.rt.Close()
}
