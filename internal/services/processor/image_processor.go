// Package processor is the offline stand-in for the remote enhancement model:
// a 2x Lanczos upscale followed by a contrast boost and a light sharpen.
package processor

import (
	"bytes"
	"context"
	"fmt"
	"image"

	_ "image/jpeg"
	_ "image/png"

	"github.com/cityshield/YuntuWeb/internal/models"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
)

const (
	DefaultScale    = 2
	DefaultQuality  = 95
	DefaultContrast = 20.0
	DefaultSharpen  = 0.5
)

type ImageProcessor struct {
	scale    int
	quality  int
	contrast float64
	sharpen  float64
}

func NewImageProcessor() *ImageProcessor {
	return &ImageProcessor{
		scale:    DefaultScale,
		quality:  DefaultQuality,
		contrast: DefaultContrast,
		sharpen:  DefaultSharpen,
	}
}

func (p *ImageProcessor) Scale() int {
	return p.scale
}

// Enhance decodes data, upscales and enhances it, and re-encodes it in the
// same format it arrived in.
func (p *ImageProcessor) Enhance(ctx context.Context, data []byte, format models.Format) (*bytes.Buffer, image.Image, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to decode image: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	processedImg := p.resizeImage(img)
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	processedImg = p.enhanceImage(processedImg)

	buffer := &bytes.Buffer{}
	if err := p.encodeImage(buffer, processedImg, format, p.quality); err != nil {
		return nil, nil, fmt.Errorf("failed to encode image: %w", err)
	}
	return buffer, processedImg, nil
}

// ConvertToPNG re-encodes any decodable image as PNG, used for browser
// previews of TIFF uploads.
func (p *ImageProcessor) ConvertToPNG(data []byte) (*bytes.Buffer, image.Image, string, error) {
	img, name, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, nil, "", fmt.Errorf("failed to decode image: %w", err)
	}

	buffer := &bytes.Buffer{}
	if err := p.encodeImage(buffer, img, models.FormatPNG, p.quality); err != nil {
		return nil, nil, "", fmt.Errorf("failed to encode image: %w", err)
	}
	return buffer, img, name, nil
}
