package processor

import (
	"image"

	"github.com/disintegration/imaging"
)

func (p *ImageProcessor) resizeImage(img image.Image) image.Image {
	bounds := img.Bounds()
	return imaging.Resize(img, bounds.Dx()*p.scale, bounds.Dy()*p.scale, imaging.Lanczos)
}

func (p *ImageProcessor) enhanceImage(img image.Image) image.Image {
	out := imaging.AdjustContrast(img, p.contrast)
	if p.sharpen > 0 {
		out = imaging.Sharpen(out, p.sharpen)
	}
	return out
}
