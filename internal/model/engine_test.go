package model

import (
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
)

// sumRuntime is a fake runtime whose class i scores the mean of the input
// times (i+1). It records overlapping use of its buffers.
type sumRuntime struct {
	classes int
	input   []float32
	output  []float32
	delay   time.Duration

	busy     atomic.Int32
	overlaps atomic.Int32
	runs     atomic.Int32

	failInvoke error
	closed     bool
}

func (r *sumRuntime) AllocateTensors() error {
	if r.busy.Add(1) != 1 {
		r.overlaps.Add(1)
	}
	if r.output == nil {
		r.output = make([]float32, r.classes)
	}
	return nil
}

func (r *sumRuntime) CopyInput(data []float32) error {
	r.input = append(r.input[:0], data...)
	return nil
}

func (r *sumRuntime) Invoke() error {
	defer r.runs.Add(1)
	if r.failInvoke != nil {
		r.busy.Add(-1)
		return r.failInvoke
	}
	time.Sleep(r.delay)
	var sum float32
	for _, v := range r.input {
		sum += v
	}
	mean := sum / float32(len(r.input))
	for i := range r.output {
		r.output[i] = mean * float32(i+1)
	}
	return nil
}

func (r *sumRuntime) Output() ([]float32, error) {
	r.busy.Add(-1)
	return r.output, nil
}

func (r *sumRuntime) Close() error {
	r.closed = true
	return nil
}

func newTestEngine(t *testing.T, rt Runtime) *Engine {
	t.Helper()
	logger, _ := test.NewNullLogger()
	e, err := New(rt, InputShape{Width: 4, Height: 3}, 3, Options{Logger: logger})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return e
}

func filled(n int, v float32) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = v
	}
	return out
}

func TestEngineRun(t *testing.T) {
	rt := &sumRuntime{classes: 3}
	e := newTestEngine(t, rt)
	defer e.Close()

	scores, err := e.Run(filled(12, 0.5))
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	want := []float32{0.5, 1, 1.5}
	for i := range want {
		if scores[i] != want[i] {
			t.Errorf("score[%d] = %v, want %v", i, scores[i], want[i])
		}
	}

	// The returned slice belongs to the caller.
	scores[0] = 42
	again, err := e.Run(filled(12, 0.5))
	if err != nil {
		t.Fatal(err)
	}
	if again[0] != 0.5 {
		t.Errorf("second run saw caller's write: %v", again[0])
	}
}

func TestEngineRunIsDeterministic(t *testing.T) {
	e := newTestEngine(t, &sumRuntime{classes: 3})
	defer e.Close()

	input := []float32{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 1, 0, 0.25}
	first, err := e.Run(input)
	if err != nil {
		t.Fatal(err)
	}
	for n := 0; n < 5; n++ {
		got, err := e.Run(input)
		if err != nil {
			t.Fatal(err)
		}
		for i := range first {
			if got[i] != first[i] {
				t.Fatalf("run %d: score[%d] = %v, want %v", n, i, got[i], first[i])
			}
		}
	}
}

func TestEngineRejectsWrongInputLength(t *testing.T) {
	rt := &sumRuntime{classes: 3}
	e := newTestEngine(t, rt)
	defer e.Close()

	for _, n := range []int{0, 11, 13, 784} {
		if _, err := e.Run(make([]float32, n)); !errors.Is(err, ErrInputSize) {
			t.Errorf("len %d: expected ErrInputSize, got %v", n, err)
		}
	}
	if rt.runs.Load() != 0 {
		t.Errorf("runtime invoked %d times for rejected inputs", rt.runs.Load())
	}
}

func TestEngineWrapsRuntimeFailure(t *testing.T) {
	cause := errors.New("graph execution failed")
	e := newTestEngine(t, &sumRuntime{classes: 3, failInvoke: cause})
	defer e.Close()

	_, err := e.Run(filled(12, 1))
	if !errors.Is(err, ErrRuntime) {
		t.Fatalf("expected ErrRuntime, got %v", err)
	}
	if !errors.Is(err, cause) {
		t.Errorf("expected cause to be kept, got %v", err)
	}
}

func TestEngineRejectsShortOutput(t *testing.T) {
	rt := &sumRuntime{classes: 2}
	logger, _ := test.NewNullLogger()
	e, err := New(rt, InputShape{Width: 4, Height: 3}, 3, Options{Logger: logger})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := e.Run(filled(12, 1)); !errors.Is(err, ErrRuntime) {
		t.Errorf("expected ErrRuntime for short output, got %v", err)
	}
}

func TestEngineClose(t *testing.T) {
	rt := &sumRuntime{classes: 3}
	e := newTestEngine(t, rt)

	if err := e.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if !rt.closed {
		t.Error("runtime not closed")
	}
	if err := e.Close(); err != nil {
		t.Errorf("second Close failed: %v", err)
	}
	if _, err := e.Run(filled(12, 1)); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed, got %v", err)
	}
}

func TestEngineSerializesRuns(t *testing.T) {
	rt := &sumRuntime{classes: 3, delay: 2 * time.Millisecond}
	e := newTestEngine(t, rt)
	defer e.Close()

	var wg sync.WaitGroup
	errs := make(chan error, 16)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(v float32) {
			defer wg.Done()
			scores, err := e.Run(filled(12, v))
			if err != nil {
				errs <- err
				return
			}
			if scores[0] != v {
				errs <- errors.Errorf("input %v produced score %v", v, scores[0])
			}
		}(float32(i) / 16)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}
	if n := rt.overlaps.Load(); n != 0 {
		t.Errorf("runtime buffers used by %d overlapping runs", n)
	}
}

func TestNewValidates(t *testing.T) {
	rt := &sumRuntime{classes: 3}
	if _, err := New(nil, InputShape{Width: 1, Height: 1}, 1, Options{}); err == nil {
		t.Error("expected error for nil runtime")
	}
	if _, err := New(rt, InputShape{Width: 0, Height: 28}, 10, Options{}); err == nil {
		t.Error("expected error for empty shape")
	}
	if _, err := New(rt, InputShape{Width: 28, Height: 28}, 0, Options{}); err == nil {
		t.Error("expected error for zero classes")
	}
}

func TestLoadMissingModel(t *testing.T) {
	logger, hook := test.NewNullLogger()
	_, err := Load(filepath.Join(t.TempDir(), "mnist.tflite"), Options{Logger: logger})
	if !errors.Is(err, ErrInvalidModel) {
		t.Fatalf("expected ErrInvalidModel, got %v", err)
	}
	for _, entry := range hook.AllEntries() {
		if entry.Level <= logrus.ErrorLevel {
			t.Errorf("unexpected error log: %s", entry.Message)
		}
	}
}

func TestLoadUnknownFormat(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mnist.pb")
	if err := os.WriteFile(path, []byte("not a model"), 0o644); err != nil {
		t.Fatal(err)
	}
	_, err := Load(path, Options{})
	if !errors.Is(err, ErrInvalidModel) {
		t.Fatalf("expected ErrInvalidModel, got %v", err)
	}
}

func TestLoadONNX(t *testing.T) {
	path := os.Getenv("DIGIT_TEST_ONNX_MODEL")
	if path == "" {
		t.Skip("DIGIT_TEST_ONNX_MODEL not set")
	}
	logger, _ := test.NewNullLogger()
	e, err := Load(path, Options{LibraryPath: os.Getenv("DIGIT_ONNX_LIB"), Logger: logger})
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	defer e.Close()

	input := make([]float32, e.InputShape().Len())
	first, err := e.Run(input)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	second, err := e.Run(input)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(first) != e.NumClasses() {
		t.Fatalf("got %d scores, want %d", len(first), e.NumClasses())
	}
	for i := range first {
		if first[i] != second[i] {
			t.Errorf("score[%d] not deterministic: %v vs %v", i, first[i], second[i])
		}
	}
}

func TestDefaultFormatIsCompiledIn(t *testing.T) {
	if _, ok := runtimes["."+DefaultFormat()]; !ok {
		t.Errorf("default format %q has no runtime", DefaultFormat())
	}
}
