package processor

import (
	"image"
	"image/jpeg"
	"image/png"
	"io"

	"github.com/cityshield/YuntuWeb/internal/models"
	"golang.org/x/image/bmp"
	"golang.org/x/image/tiff"
)

func (p *ImageProcessor) encodeImage(w io.Writer, img image.Image, format models.Format, quality int) error {
	switch format {
	case models.FormatJPEG:
		return jpeg.Encode(w, img, &jpeg.Options{Quality: quality})
	case models.FormatTIFF:
		return tiff.Encode(w, img, &tiff.Options{Compression: tiff.Deflate})
	case models.FormatBMP:
		return bmp.Encode(w, img)
	default:
		return png.Encode(w, img)
	}
}
