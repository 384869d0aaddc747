// Package handlers turns files on disk into classifier requests and prints
// the outcome for a person to read.
package handlers

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/pkg/errors"
	"github.com/rwcarlsen/goexif/exif"
	"github.com/sirupsen/logrus"

	"github.com/Brownie44l1/digit-classifier/internal/classifier"
	"github.com/Brownie44l1/digit-classifier/internal/imageproc"
)

const (
	MsgInitFailed     = "Failed to initialize."
	MsgInvalidImage   = "Invalid image. Try another picture."
	MsgClassifyFailed = "Classification failed."
	MsgNotReady       = "Classifier is not ready yet."
)

// Message picks the fixed text shown for err.
func Message(err error) string {
	var initErr *classifier.InitError
	var classifyErr *classifier.ClassifyError
	switch {
	case errors.As(err, &initErr):
		return MsgInitFailed
	case errors.Is(err, classifier.ErrNotReady):
		return MsgNotReady
	case errors.As(err, &classifyErr) && classifyErr.Kind == classifier.InvalidImage:
		return MsgInvalidImage
	}
	return MsgClassifyFailed
}

// ParseOrientation reads the -orientation flag: "auto" (or empty) takes each
// file's EXIF tag, a number 1..8 is an EXIF tag value, anything else is an
// orientation name. A nil result means auto.
func ParseOrientation(s string) (*imageproc.Orientation, error) {
	s = strings.TrimSpace(s)
	if s == "" || strings.EqualFold(s, "auto") {
		return nil, nil
	}
	var (
		o   imageproc.Orientation
		err error
	)
	if tag, convErr := strconv.Atoi(s); convErr == nil {
		o, err = imageproc.OrientationFromEXIF(tag)
	} else {
		o, err = imageproc.ParseOrientation(s)
	}
	if err != nil {
		return nil, err
	}
	return &o, nil
}

type Handler struct {
	svc *classifier.Service
	out io.Writer
	log logrus.FieldLogger

	// PreviewDir, when set, receives a PNG of what the model saw for each
	// input, named <input>.preview.png.
	PreviewDir string
}

func NewHandler(svc *classifier.Service, out io.Writer, log logrus.FieldLogger) *Handler {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Handler{svc: svc, out: out, log: log}
}

type pending struct {
	path string
	resp <-chan classifier.Response
	err  error
}

// ClassifyFiles submits every file before waiting on any of them, then
// prints the results in argument order. orientation nil reads each file's
// EXIF tag. It returns how many files failed.
func (h *Handler) ClassifyFiles(paths []string, orientation *imageproc.Orientation) int {
	jobs := make([]pending, len(paths))
	for i, path := range paths {
		jobs[i].path = path
		img, err := h.load(path, orientation)
		if err != nil {
			jobs[i].err = err
			continue
		}
		jobs[i].resp = h.svc.Classify(img)
		if h.PreviewDir != "" {
			h.savePreview(path, img)
		}
	}

	failed := 0
	for _, job := range jobs {
		err := job.err
		var result classifier.Result
		if err == nil {
			resp := <-job.resp
			result, err = resp.Result, resp.Err
		}
		if err != nil {
			failed++
			fmt.Fprintf(h.out, "%s\n%s\n", job.path, Message(err))
			continue
		}
		fmt.Fprintf(h.out, "%s\n%s\n", job.path, result)
	}
	return failed
}

func (h *Handler) load(path string, orientation *imageproc.Orientation) (imageproc.RawImage, error) {
	log := h.log.WithField("file", path)
	img, err := imaging.Open(path)
	if err != nil {
		log.WithError(err).Warn("cannot decode image")
		return imageproc.RawImage{}, &classifier.ClassifyError{Kind: classifier.InvalidImage, Err: err}
	}
	var o imageproc.Orientation
	if orientation != nil {
		o = *orientation
	} else {
		o = readOrientation(path)
	}
	b := img.Bounds()
	log.WithFields(logrus.Fields{
		"width":       b.Dx(),
		"height":      b.Dy(),
		"orientation": o,
	}).Debug("image loaded")
	return imageproc.RawImage{Image: img, Orientation: o}, nil
}

// readOrientation returns the EXIF orientation of the file at path, or Up
// when it carries none.
func readOrientation(path string) imageproc.Orientation {
	f, err := os.Open(path)
	if err != nil {
		return imageproc.Up
	}
	defer f.Close()

	x, err := exif.Decode(f)
	if err != nil {
		return imageproc.Up
	}
	tag, err := x.Get(exif.Orientation)
	if err != nil {
		return imageproc.Up
	}
	v, err := tag.Int(0)
	if err != nil {
		return imageproc.Up
	}
	o, err := imageproc.OrientationFromEXIF(v)
	if err != nil {
		return imageproc.Up
	}
	return o
}

func (h *Handler) savePreview(path string, img imageproc.RawImage) {
	log := h.log.WithField("file", path)
	thumb, err := h.svc.Preview(img)
	if err != nil {
		log.WithError(err).Warn("no preview")
		return
	}
	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)) + ".preview.png"
	dst := filepath.Join(h.PreviewDir, name)
	if err := imaging.Save(thumb, dst); err != nil {
		log.WithError(err).Warn("cannot save preview")
		return
	}
	log.WithField("preview", dst).Info("preview saved")
}
