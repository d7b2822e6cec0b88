// Package upstream holds the enhancement backends the gateway can delegate to.
// Every backend satisfies Client; the gateway never knows which one it runs.
package upstream

import (
	"context"

	"github.com/cityshield/YuntuWeb/internal/models"
)

const (
	StatusHealthy     = "healthy"
	StatusUnhealthy   = "unhealthy"
	StatusUnreachable = "unreachable"
)

// DefaultScaleFactor is reported when the backend omits scale_factor.
const DefaultScaleFactor = 2.0

// SafeRejectionMessage replaces internal model failures before they reach a client.
const SafeRejectionMessage = "image quality too low or format unsupported, please try another image"

type Client interface {
	// Process enhances payload and returns the result in payload's format.
	Process(ctx context.Context, payload models.ImagePayload) (*models.ProcessingResult, error)
	// Health reports StatusHealthy, StatusUnhealthy or StatusUnreachable.
	Health(ctx context.Context) string
	Name() string
}

func newResult(payload models.ImagePayload, output []byte, scale float64) *models.ProcessingResult {
	if scale <= 0 {
		scale = DefaultScaleFactor
	}
	return &models.ProcessingResult{
		Image:       output,
		Format:      payload.Format,
		MIMEType:    payload.Format.MIMEType(),
		InputSize:   payload.Size(),
		OutputSize:  int64(len(output)),
		ScaleFactor: scale,
	}
}
