// Package upload normalizes images attached to create and update
// submissions before they are forwarded to the backend as multipart parts.
package upload

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	_ "image/png"
	"net/http"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/image/draw"

	"github.com/pitabwire/console/internal/config"
	"github.com/pitabwire/console/internal/observability"
	"github.com/pitabwire/console/model"
)

// allowedMIME lists the accepted input types, sniffed from the bytes.
var allowedMIME = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
}

// Normalizer validates uploads, downscales oversized images and re-encodes
// them as JPEG.
type Normalizer struct {
	maxBytes     int64
	maxDimension int
	quality      int
	metrics      *observability.Metrics
	logger       *zap.Logger
}

// NewNormalizer creates a Normalizer from configuration. metrics and logger
// may be nil.
func NewNormalizer(cfg config.UploadConfig, metrics *observability.Metrics, logger *zap.Logger) *Normalizer {
	if logger == nil {
		logger = zap.NewNop()
	}
	n := &Normalizer{
		maxBytes:     cfg.MaxBytes,
		maxDimension: cfg.MaxDimension,
		quality:      cfg.JPEGQuality,
		metrics:      metrics,
		logger:       logger,
	}
	if n.maxDimension <= 0 {
		n.maxDimension = 1600
	}
	if n.quality < 1 || n.quality > 100 {
		n.quality = jpeg.DefaultQuality
	}
	return n
}

// Normalize returns f re-encoded as JPEG. Failures are VALIDATION_ERROR
// envelopes naming the offending field.
func (n *Normalizer) Normalize(f model.FileUpload) (model.FileUpload, error) {
	out, err := n.normalize(f)
	if err != nil {
		n.metrics.RecordUpload("rejected")
		return model.FileUpload{}, model.NewValidationError([]model.FieldError{{
			Field:   f.Field,
			Code:    "INVALID_IMAGE",
			Message: err.Error(),
		}})
	}
	n.metrics.RecordUpload("accepted")
	return out, nil
}

// NormalizeAll normalizes every file of a submission in place.
func (n *Normalizer) NormalizeAll(sub *model.Submission) error {
	for i, f := range sub.Files {
		out, err := n.Normalize(f)
		if err != nil {
			return err
		}
		sub.Files[i] = out
	}
	return nil
}

func (n *Normalizer) normalize(f model.FileUpload) (model.FileUpload, error) {
	if len(f.Data) == 0 {
		return model.FileUpload{}, fmt.Errorf("%s is empty", f.Field)
	}
	if n.maxBytes > 0 && int64(len(f.Data)) > n.maxBytes {
		return model.FileUpload{}, fmt.Errorf("%s exceeds %d bytes", f.Field, n.maxBytes)
	}

	// Sniff the actual type; client headers are not trusted.
	detected := http.DetectContentType(f.Data)
	if !allowedMIME[detected] {
		return model.FileUpload{}, fmt.Errorf("%s must be a JPEG or PNG image", f.Field)
	}

	img, _, err := image.Decode(bytes.NewReader(f.Data))
	if err != nil {
		return model.FileUpload{}, fmt.Errorf("%s could not be decoded", f.Field)
	}

	before := img.Bounds()
	img = flatten(downscale(img, n.maxDimension))
	if img.Bounds().Dx() != before.Dx() {
		n.logger.Debug("downscaled upload",
			zap.String("field", f.Field),
			zap.Int("from_width", before.Dx()),
			zap.Int("to_width", img.Bounds().Dx()),
		)
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: n.quality}); err != nil {
		return model.FileUpload{}, fmt.Errorf("%s could not be encoded", f.Field)
	}

	return model.FileUpload{
		Field:       f.Field,
		Filename:    jpegName(f.Filename, f.Field),
		ContentType: "image/jpeg",
		Data:        buf.Bytes(),
	}, nil
}

// downscale resizes the image so neither dimension exceeds maxDim, keeping
// the aspect ratio. Images already within bounds are returned unchanged.
func downscale(img image.Image, maxDim int) image.Image {
	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	if w <= maxDim && h <= maxDim {
		return img
	}

	newW, newH := w, h
	if w > h {
		newW = maxDim
		newH = int(float64(h) * float64(maxDim) / float64(w))
	} else {
		newH = maxDim
		newW = int(float64(w) * float64(maxDim) / float64(h))
	}
	newW = max(newW, 1)
	newH = max(newH, 1)

	dst := image.NewRGBA(image.Rect(0, 0, newW, newH))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, bounds, draw.Over, nil)
	return dst
}

// flatten composites the image onto white so transparent PNG areas do not
// turn black in JPEG.
func flatten(img image.Image) image.Image {
	b := img.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), &image.Uniform{C: color.White}, image.Point{}, draw.Src)
	draw.Draw(dst, dst.Bounds(), img, b.Min, draw.Over)
	return dst
}

func jpegName(name, field string) string {
	if name == "" {
		name = field
	}
	base := strings.TrimSuffix(filepath.Base(name), filepath.Ext(name))
	if base == "" || base == "." {
		base = field
	}
	return base + ".jpg"
}
