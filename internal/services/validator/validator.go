// Package validator rejects malformed or oversized image payloads before they
// cost quota or an upstream call.
package validator

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	"strings"

	// Decoders registered for format detection. GIF and WebP are registered
	// only so they can be named in the rejection message.
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"github.com/cityshield/YuntuWeb/internal/apperrors"
	"github.com/cityshield/YuntuWeb/internal/models"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

const (
	DefaultMaxSize int64 = 100 << 20 // 100MB
	// DefaultMaxPixels matches the decompression bomb ceiling of common
	// imaging libraries (twice 89,478,485 pixels).
	DefaultMaxPixels int64 = 2 * 89_478_485
)

type Validator struct {
	maxSize   int64
	maxPixels int64
	allowed   map[models.Format]bool
}

type Option func(*Validator)

// WithMaxPixels caps width*height of accepted images. Non-positive values keep
// the default.
func WithMaxPixels(n int64) Option {
	return func(v *Validator) {
		if n > 0 {
			v.maxPixels = n
		}
	}
}

func New(maxSize int64, opts ...Option) *Validator {
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}
	allowed := make(map[models.Format]bool, len(models.SupportedFormats))
	for _, f := range models.SupportedFormats {
		allowed[f] = true
	}
	v := &Validator{maxSize: maxSize, maxPixels: DefaultMaxPixels, allowed: allowed}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

func (v *Validator) MaxSize() int64 {
	return v.maxSize
}

func (v *Validator) MaxPixels() int64 {
	return v.maxPixels
}

// Validate runs Decode, CheckSize, DetectFormat and CheckDimensions in order
// and stops at the first failure.
func (v *Validator) Validate(req models.ProcessRequest) (models.ImagePayload, error) {
	if strings.TrimSpace(req.Image) == "" {
		return models.ImagePayload{}, apperrors.New(apperrors.KindMissingPayload, "validator.validate", "missing image data")
	}

	data, err := v.Decode(req.Image)
	if err != nil {
		return models.ImagePayload{}, err
	}
	if err := v.CheckSize(data); err != nil {
		return models.ImagePayload{}, err
	}
	format, cfg, err := v.DetectFormat(data)
	if err != nil {
		return models.ImagePayload{}, err
	}
	if err := v.CheckDimensions(cfg); err != nil {
		return models.ImagePayload{}, err
	}

	return models.ImagePayload{
		Data:           data,
		Format:         format,
		DeclaredMIME:   req.MIMEType,
		DeclaredFormat: req.InputFormat,
		Filename:       req.Filename,
		Width:          cfg.Width,
		Height:         cfg.Height,
	}, nil
}

// Decode accepts standard base64, with or without padding, optionally wrapped
// in a data URL ("data:image/png;base64,...").
func (v *Validator) Decode(encoded string) ([]byte, error) {
	encoded = strings.TrimSpace(encoded)
	if strings.HasPrefix(encoded, "data:") {
		if idx := strings.Index(encoded, ","); idx >= 0 {
			encoded = encoded[idx+1:]
		}
	}

	// Upper bound before allocating the decoded buffer. Line breaks are
	// skipped by the decoder, so they do not count.
	encodedLen := len(encoded) - strings.Count(encoded, "\n") - strings.Count(encoded, "\r")
	if upper := int64(base64.StdEncoding.DecodedLen(encodedLen)); upper > v.maxSize+3 {
		return nil, v.sizeError(upper)
	}

	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		var rawErr error
		data, rawErr = base64.RawStdEncoding.DecodeString(encoded)
		if rawErr != nil {
			return nil, apperrors.Wrap(apperrors.KindDecode, "validator.decode", "image data is not valid base64", err)
		}
	}
	if len(data) == 0 {
		return nil, apperrors.New(apperrors.KindDecode, "validator.decode", "image data is empty")
	}
	return data, nil
}

func (v *Validator) CheckSize(data []byte) error {
	if int64(len(data)) > v.maxSize {
		return v.sizeError(int64(len(data)))
	}
	return nil
}

// DetectFormat reads only the image header. Formats outside the allow-list and
// data no registered decoder recognizes are both UnsupportedFormat.
func (v *Validator) DetectFormat(data []byte) (models.Format, image.Config, error) {
	cfg, name, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return "", image.Config{}, apperrors.Wrap(apperrors.KindUnsupportedFormat, "validator.detect_format",
			"unsupported image format: unrecognized image data", err)
	}

	format := models.ParseFormat(name)
	if !v.allowed[format] {
		return "", image.Config{}, apperrors.New(apperrors.KindUnsupportedFormat, "validator.detect_format",
			fmt.Sprintf("unsupported image format: %s (allowed: JPEG, PNG, TIFF, BMP)", name))
	}
	return format, cfg, nil
}

// CheckDimensions rejects images whose declared pixel count would need an
// unreasonable amount of memory to decode.
func (v *Validator) CheckDimensions(cfg image.Config) error {
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return apperrors.New(apperrors.KindUnsupportedFormat, "validator.check_dimensions",
			"unsupported image format: invalid image dimensions")
	}
	if pixels := int64(cfg.Width) * int64(cfg.Height); pixels > v.maxPixels {
		return apperrors.New(apperrors.KindSizeLimitExceeded, "validator.check_dimensions",
			fmt.Sprintf("image dimensions %dx%d exceed the %d pixel limit", cfg.Width, cfg.Height, v.maxPixels))
	}
	return nil
}

func (v *Validator) sizeError(size int64) error {
	return apperrors.New(apperrors.KindSizeLimitExceeded, "validator.check_size",
		fmt.Sprintf("image size %s exceeds the %s limit", formatBytes(size), formatBytes(v.maxSize)))
}

func formatBytes(n int64) string {
	const mib = 1 << 20
	if n >= mib && n%mib == 0 {
		return fmt.Sprintf("%dMB", n/mib)
	}
	if n >= mib {
		return fmt.Sprintf("%.1fMB", float64(n)/mib)
	}
	return fmt.Sprintf("%d bytes", n)
}
