package model

import (
	"sync"

	"github.com/pkg/errors"
	ort "github.com/yalue/onnxruntime_go"
)

// The onnxruntime environment is process wide; every open session holds a
// reference and the last Close tears it down.
var (
	onnxMu   sync.Mutex
	onnxRefs int
)

func acquireONNX(libraryPath string) error {
	onnxMu.Lock()
	defer onnxMu.Unlock()
	if onnxRefs == 0 && !ort.IsInitialized() {
		if libraryPath != "" {
			ort.SetSharedLibraryPath(libraryPath)
		}
		if err := ort.InitializeEnvironment(); err != nil {
			return errors.Wrap(err, "failed to initialize ONNX environment")
		}
	}
	onnxRefs++
	return nil
}

func releaseONNX() error {
	onnxMu.Lock()
	defer onnxMu.Unlock()
	onnxRefs--
	if onnxRefs > 0 {
		return nil
	}
	onnxRefs = 0
	return ort.DestroyEnvironment()
}

type onnxRuntime struct {
	session      *ort.AdvancedSession
	inputTensor  *ort.Tensor[float32]
	outputTensor *ort.Tensor[float32]
}

func openONNX(path string, opts Options) (rt Runtime, sig Signature, err error) {
	if err := acquireONNX(opts.LibraryPath); err != nil {
		return nil, Signature{}, runtimeFailure(err)
	}
	defer func() {
		if err != nil {
			releaseONNX()
		}
	}()

	inputs, outputs, err := ort.GetInputOutputInfo(path)
	if err != nil {
		return nil, Signature{}, invalidModel(errors.Wrap(err, "failed to read model inputs and outputs"))
	}
	if len(inputs) != 1 || len(outputs) != 1 {
		return nil, Signature{}, runtimeFailure(errors.Wrapf(ErrUnsupportedTopology,
			"%d inputs, %d outputs", len(inputs), len(outputs)))
	}
	in, out := inputs[0], outputs[0]
	if in.DataType != ort.TensorElementDataTypeFloat || out.DataType != ort.TensorElementDataTypeFloat {
		return nil, Signature{}, runtimeFailure(errors.Errorf("expected float32 tensors, got %v and %v", in.DataType, out.DataType))
	}

	sig = Signature{Input: fixBatch(in.Dimensions), Output: fixBatch(out.Dimensions)}

	inputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(sig.Input...))
	if err != nil {
		return nil, Signature{}, runtimeFailure(errors.Wrap(err, "failed to create input tensor"))
	}

	outputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(sig.Output...))
	if err != nil {
		inputTensor.Destroy()
		return nil, Signature{}, runtimeFailure(errors.Wrap(err, "failed to create output tensor"))
	}

	options, err := ort.NewSessionOptions()
	if err != nil {
		inputTensor.Destroy()
		outputTensor.Destroy()
		return nil, Signature{}, runtimeFailure(errors.Wrap(err, "failed to create session options"))
	}
	defer options.Destroy()
	if err := options.SetIntraOpNumThreads(opts.threads()); err != nil {
		inputTensor.Destroy()
		outputTensor.Destroy()
		return nil, Signature{}, runtimeFailure(errors.Wrap(err, "failed to set thread count"))
	}

	session, err := ort.NewAdvancedSession(path,
		[]string{in.Name}, []string{out.Name},
		[]ort.ArbitraryTensor{inputTensor}, []ort.ArbitraryTensor{outputTensor},
		options)
	if err != nil {
		inputTensor.Destroy()
		outputTensor.Destroy()
		return nil, Signature{}, runtimeFailure(errors.Wrap(err, "failed to create ONNX session"))
	}

	return &onnxRuntime{
		session:      session,
		inputTensor:  inputTensor,
		outputTensor: outputTensor,
	}, sig, nil
}

// AllocateTensors is a no-op: the tensors are bound to the session when it
// is created.
func (r *onnxRuntime) AllocateTensors() error { return nil }

func (r *onnxRuntime) CopyInput(data []float32) error {
	dst := r.inputTensor.GetData()
	if len(dst) != len(data) {
		return errors.Errorf("input tensor holds %d values, got %d", len(dst), len(data))
	}
	copy(dst, data)
	return nil
}

func (r *onnxRuntime) Invoke() error {
	return r.session.Run()
}

func (r *onnxRuntime) Output() ([]float32, error) {
	return r.outputTensor.GetData(), nil
}

func (r *onnxRuntime) Close() error {
	var firstErr error
	keep := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if r.session != nil {
		keep(r.session.Destroy())
	}
	if r.inputTensor != nil {
		keep(r.inputTensor.Destroy())
	}
	if r.outputTensor != nil {
		keep(r.outputTensor.Destroy())
	}
	keep(releaseONNX())
	return firstErr
}
