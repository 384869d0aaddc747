package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"

	"github.com/Brownie44l1/digit-classifier/internal/classifier"
	"github.com/Brownie44l1/digit-classifier/internal/config"
	"github.com/Brownie44l1/digit-classifier/internal/handlers"
	"github.com/Brownie44l1/digit-classifier/internal/imageproc"
)

var (
	modelPath   = flag.String("model", "", "Model file (default from DIGIT_MODEL_DIR/NAME/EXT)")
	orientation = flag.String("orientation", "auto", "Image orientation: auto, an EXIF value 1-8, or up/down/left/right[-mirrored]")
	invert      = flag.Bool("invert", false, "Invert intensities (dark ink on light paper)")
	resampler   = flag.String("resampler", "", "Resampler: catmullrom, bilinear, nearest or lanczos")
	previewDir  = flag.String("preview", "", "Directory to write what the model sees for each image")
)

func main() {
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: %s [flags] image...\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()
	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("Failed to load configuration: %v", err)
	}
	log := config.NewLogger(cfg.LogLevel)

	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "invert":
			cfg.Invert = *invert
		case "resampler":
			r, err := imageproc.ParseResampler(*resampler)
			if err != nil {
				log.Fatal(err)
			}
			cfg.Resampler = r
		}
	})

	o, err := handlers.ParseOrientation(*orientation)
	if err != nil {
		log.Fatal(err)
	}

	path := cfg.ModelPath()
	if *modelPath != "" {
		path = *modelPath
	}
	log.WithField("path", path).Info("loading model")

	svc := classifier.New(classifier.Config{
		ModelPath:   path,
		NumThreads:  cfg.NumThreads,
		LibraryPath: cfg.ONNXLibrary,
		Workers:     cfg.Workers,
		Resampler:   cfg.Resampler,
		Invert:      cfg.Invert,
		Logger:      log,
	})
	if res := <-svc.Initialize(); res.Err != nil {
		fmt.Fprintln(os.Stderr, handlers.Message(res.Err))
		log.WithError(res.Err).Fatal("classifier unavailable")
	}
	defer svc.Close()

	h := handlers.NewHandler(svc, os.Stdout, log)
	h.PreviewDir = *previewDir

	failed := h.ClassifyFiles(flag.Args(), o)
	log.WithFields(logrus.Fields{
		"images": flag.NArg(),
		"failed": failed,
	}).Info("done")
	if failed > 0 {
		svc.Close()
		os.Exit(1)
	}
}
