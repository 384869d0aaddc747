//go:build tflite

package model

import (
	"github.com/mattn/go-tflite"
	"github.com/pkg/errors"
)

func init() {
	runtimes[".tflite"] = openTFLite
}

type tfliteRuntime struct {
	model       *tflite.Model
	interpreter *tflite.Interpreter
}

func openTFLite(path string, opts Options) (Runtime, Signature, error) {
	model := tflite.NewModelFromFile(path)
	if model == nil {
		return nil, Signature{}, invalidModel(errors.Errorf("cannot parse tflite model %s", path))
	}

	options := tflite.NewInterpreterOptions()
	defer options.Delete()
	options.SetNumThread(opts.threads())

	interpreter := tflite.NewInterpreter(model, options)
	if interpreter == nil {
		model.Delete()
		return nil, Signature{}, runtimeFailure(errors.New("cannot create tflite interpreter"))
	}
	rt := &tfliteRuntime{model: model, interpreter: interpreter}

	if in, out := interpreter.GetInputTensorCount(), interpreter.GetOutputTensorCount(); in != 1 || out != 1 {
		rt.Close()
		return nil, Signature{}, runtimeFailure(errors.Wrapf(ErrUnsupportedTopology, "%d inputs, %d outputs", in, out))
	}
	if status := interpreter.AllocateTensors(); status != tflite.OK {
		rt.Close()
		return nil, Signature{}, runtimeFailure(errors.Errorf("allocate tensors: status %d", int(status)))
	}

	input := interpreter.GetInputTensor(0)
	output := interpreter.GetOutputTensor(0)
	if input.Type() != tflite.Float32 || output.Type() != tflite.Float32 {
		rt.Close()
		return nil, Signature{}, runtimeFailure(errors.Errorf("expected float32 tensors, got %v and %v", input.Type(), output.Type()))
	}

	return rt, Signature{Input: tensorDims(input), Output: tensorDims(output)}, nil
}

func tensorDims(t *tflite.Tensor) []int64 {
	dims := make([]int64, t.NumDims())
	for i := range dims {
		dims[i] = int64(t.Dim(i))
	}
	return dims
}

func (r *tfliteRuntime) AllocateTensors() error {
	if status := r.interpreter.AllocateTensors(); status != tflite.OK {
		return errors.Errorf("status %d", int(status))
	}
	return nil
}

func (r *tfliteRuntime) CopyInput(data []float32) error {
	if status := r.interpreter.GetInputTensor(0).CopyFromBuffer(data); status != tflite.OK {
		return errors.Errorf("status %d", int(status))
	}
	return nil
}

func (r *tfliteRuntime) Invoke() error {
	if status := r.interpreter.Invoke(); status != tflite.OK {
		return errors.Errorf("status %d", int(status))
	}
	return nil
}

func (r *tfliteRuntime) Output() ([]float32, error) {
	out := r.interpreter.GetOutputTensor(0).Float32s()
	if out == nil {
		return nil, errors.New("output tensor is not float32")
	}
	return out, nil
}

func (r *tfliteRuntime) Close() error {
	if r.interpreter != nil {
		r.interpreter.Delete()
		r.interpreter = nil
	}
	if r.model != nil {
		r.model.Delete()
		r.model = nil
	}
	return nil
}
