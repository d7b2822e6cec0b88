package upstream

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/cityshield/YuntuWeb/internal/apperrors"
	"github.com/cityshield/YuntuWeb/internal/models"
	"github.com/cityshield/YuntuWeb/internal/services/processor"
)

// LocalClient enhances images in-process. It is meant for offline and
// development deployments where the model service is unavailable.
type LocalClient struct {
	processor *processor.ImageProcessor
}

func NewLocalClient(p *processor.ImageProcessor) *LocalClient {
	if p == nil {
		p = processor.NewImageProcessor()
	}
	return &LocalClient{processor: p}
}

func (c *LocalClient) Name() string {
	return "local"
}

func (c *LocalClient) Health(context.Context) string {
	return StatusHealthy
}

func (c *LocalClient) Process(ctx context.Context, payload models.ImagePayload) (*models.ProcessingResult, error) {
	const op = "upstream.LocalProcess"

	buf, img, err := c.processor.Enhance(ctx, payload.Data, payload.Format)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil, apperrors.Wrap(apperrors.KindCanceled, op, "request canceled by client", err)
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, apperrors.Wrap(apperrors.KindUpstreamTimeout, op, "request timed out, please try again later", err)
		}
		return nil, apperrors.Wrap(apperrors.KindInternal, op, "local enhancement failed", err)
	}

	result := newResult(payload, buf.Bytes(), float64(c.processor.Scale()))
	if payload.Width > 0 && payload.Height > 0 {
		result.OriginalResolution = resolution(payload.Width, payload.Height)
	}
	bounds := img.Bounds()
	result.OutputResolution = resolution(bounds.Dx(), bounds.Dy())
	return result, nil
}

func resolution(w, h int) json.RawMessage {
	raw, _ := json.Marshal([2]int{w, h})
	return raw
}
