package upstream

import (
	"context"
	"testing"

	"github.com/cityshield/YuntuWeb/internal/apperrors"
	"github.com/cityshield/YuntuWeb/internal/models"
	"github.com/cityshield/YuntuWeb/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalClientProcess(t *testing.T) {
	client := NewLocalClient(nil)
	payload := models.ImagePayload{Data: testutil.JPEG(t, 6, 4), Format: models.FormatJPEG, Width: 6, Height: 4}

	result, err := client.Process(context.Background(), payload)
	require.NoError(t, err)

	assert.Equal(t, "image/jpeg", result.MIMEType)
	assert.Equal(t, 2.0, result.ScaleFactor)
	assert.JSONEq(t, `[6,4]`, string(result.OriginalResolution))
	assert.JSONEq(t, `[12,8]`, string(result.OutputResolution))
	assert.Equal(t, StatusHealthy, client.Health(context.Background()))
}

func TestLocalClientCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewLocalClient(nil).Process(ctx, models.ImagePayload{Data: testutil.PNG(t, 4, 4), Format: models.FormatPNG})
	assert.Equal(t, apperrors.KindCanceled, apperrors.KindOf(err))
}
