package gateway

import (
	"encoding/base64"
	"strings"

	"github.com/cityshield/YuntuWeb/internal/apperrors"
	"github.com/cityshield/YuntuWeb/internal/models"
	"go.uber.org/zap"
)

// ConvertPreview turns an uploaded image (typically TIFF, which browsers cannot
// display) into a PNG preview. It does not touch the quota.
func (g *Gateway) ConvertPreview(req models.ConvertRequest) (models.ConvertResponse, error) {
	if strings.TrimSpace(req.ImageBase64) == "" {
		return g.failConvert(apperrors.New(apperrors.KindMissingPayload, "gateway.convert", "missing image data"))
	}

	data, err := g.validator.Decode(req.ImageBase64)
	if err != nil {
		return g.failConvert(err)
	}
	if err := g.validator.CheckSize(data); err != nil {
		return g.failConvert(err)
	}
	// Header only; the full decode below must not see an oversized image.
	_, cfg, err := g.validator.DetectFormat(data)
	if err != nil {
		return g.failConvert(err)
	}
	if err := g.validator.CheckDimensions(cfg); err != nil {
		return g.failConvert(err)
	}

	buf, img, name, err := g.previewer.ConvertToPNG(data)
	if err != nil {
		return g.failConvert(apperrors.Wrap(apperrors.KindUnsupportedFormat, "gateway.convert",
			"conversion failed: unrecognized image data", err))
	}

	bounds := img.Bounds()
	return models.ConvertResponse{
		Error:       false,
		ImageBase64: base64.StdEncoding.EncodeToString(buf.Bytes()),
		Width:       bounds.Dx(),
		Height:      bounds.Dy(),
		Format:      string(models.ParseFormat(name)),
	}, nil
}

func (g *Gateway) failConvert(err error) (models.ConvertResponse, error) {
	g.logger.Info("Preview conversion rejected",
		zap.String("kind", string(apperrors.KindOf(err))),
		zap.Error(err))
	return models.ConvertResponse{Error: true, Message: apperrors.PublicMessage(err)}, err
}
