// Package classifier ties preprocessing, inference and decoding together
// behind an asynchronous API. Initialize and Classify return immediately
// with a channel that receives exactly one value.
package classifier

import (
	"image"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/Brownie44l1/digit-classifier/internal/imageproc"
	"github.com/Brownie44l1/digit-classifier/internal/model"
)

type Config struct {
	// ModelPath is the model artifact Initialize loads.
	ModelPath   string
	NumThreads  int
	LibraryPath string
	// Workers bounds how many classifications run at once. Zero means no
	// bound; the engine still serializes the inference step.
	Workers   int
	Resampler imageproc.Resampler
	Invert    bool
	Logger    logrus.FieldLogger
}

type Service struct {
	cfg Config
	log logrus.FieldLogger
	sem chan struct{}

	mu     sync.RWMutex
	engine *model.Engine
}

func New(cfg Config) *Service {
	log := cfg.Logger
	if log == nil {
		log = logrus.StandardLogger()
	}
	s := &Service{cfg: cfg, log: log}
	if cfg.Workers > 0 {
		s.sem = make(chan struct{}, cfg.Workers)
	}
	return s
}

func (s *Service) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.engine != nil {
		return Ready
	}
	return Uninitialized
}

// Initialize loads the configured model on a background goroutine.
func (s *Service) Initialize() <-chan InitResult {
	ch := make(chan InitResult, 1)
	go func() {
		engine, err := s.load()
		ch <- InitResult{Engine: engine, Err: err}
	}()
	return ch
}

func (s *Service) load() (*model.Engine, error) {
	if s.State() == Ready {
		return nil, &InitError{Kind: InitInternal, Err: ErrAlreadyInitialized}
	}

	name := filepath.Base(s.cfg.ModelPath)
	log := s.log.WithField("model", name)
	start := time.Now()

	engine, err := model.Load(s.cfg.ModelPath, model.Options{
		NumThreads:  s.cfg.NumThreads,
		LibraryPath: s.cfg.LibraryPath,
		Logger:      s.log,
	})
	if err != nil {
		log.WithError(err).Error("failed to initialize classifier")
		if errors.Is(err, model.ErrInvalidModel) {
			return nil, &InitError{Kind: InvalidModel, Model: name, Err: err}
		}
		return nil, &InitError{Kind: InitInternal, Err: err}
	}

	if err := s.InitializeWith(engine); err != nil {
		engine.Close()
		return nil, err
	}
	log.WithField("elapsed", time.Since(start)).Info("classifier ready")
	return engine, nil
}

// InitializeWith adopts an engine that is already loaded. The service takes
// ownership and closes it on Close.
func (s *Service) InitializeWith(engine *model.Engine) error {
	if engine == nil {
		return &InitError{Kind: InitInternal, Err: errors.New("nil engine")}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.engine != nil {
		return &InitError{Kind: InitInternal, Err: ErrAlreadyInitialized}
	}
	s.engine = engine
	return nil
}

// Classify runs the full pipeline for one image on its own goroutine.
// Completions are unordered across calls.
func (s *Service) Classify(img imageproc.RawImage) <-chan Response {
	ch := make(chan Response, 1)
	id := uuid.NewString()
	go func() {
		result, err := s.classify(id, img)
		ch <- Response{RequestID: id, Result: result, Err: err}
	}()
	return ch
}

func (s *Service) classify(id string, img imageproc.RawImage) (Result, error) {
	s.mu.RLock()
	engine := s.engine
	s.mu.RUnlock()
	if engine == nil {
		return Result{}, ErrNotReady
	}

	if s.sem != nil {
		s.sem <- struct{}{}
		defer func() { <-s.sem }()
	}

	log := s.log.WithFields(logrus.Fields{
		"request_id":  id,
		"orientation": img.Orientation,
	})

	shape := engine.InputShape()
	tensor, err := imageproc.Normalize(img, shape.Width, shape.Height, s.options()...)
	if err != nil {
		log.WithError(err).Warn("preprocessing failed")
		return Result{}, &ClassifyError{Kind: InvalidImage, Err: err}
	}

	scores, err := engine.Run(tensor)
	if err != nil {
		if errors.Is(err, model.ErrClosed) {
			return Result{}, ErrNotReady
		}
		log.WithError(err).Error("inference failed")
		return Result{}, &ClassifyError{Kind: ClassifyInternal, Err: err}
	}

	result := Decode(scores)
	if meta := engine.Metadata(); meta != nil && result.Label < len(meta.Classes) {
		result.Class = meta.Classes[result.Label]
	}
	log.WithFields(logrus.Fields{
		"label":      result.Label,
		"confidence": result.Confidence,
	}).Debug("classified")
	return result, nil
}

// Preview returns the grayscale picture the model would see for img, at the
// model's input size.
func (s *Service) Preview(img imageproc.RawImage) (image.Image, error) {
	s.mu.RLock()
	engine := s.engine
	s.mu.RUnlock()
	if engine == nil {
		return nil, ErrNotReady
	}
	shape := engine.InputShape()
	thumb, err := imageproc.Thumbnail(img, shape.Width, shape.Height, s.options()...)
	if err != nil {
		return nil, &ClassifyError{Kind: InvalidImage, Err: err}
	}
	return thumb, nil
}

func (s *Service) options() []imageproc.Option {
	return []imageproc.Option{
		imageproc.WithResampler(s.cfg.Resampler),
		imageproc.WithInvert(s.cfg.Invert),
	}
}

// Close releases the engine and returns the service to Uninitialized. Calls
// already past the readiness check finish with ErrNotReady.
func (s *Service) Close() error {
	s.mu.Lock()
	engine := s.engine
	s.engine = nil
	s.mu.Unlock()
	if engine == nil {
		return nil
	}
	return engine.Close()
}
