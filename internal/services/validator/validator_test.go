package validator

import (
	"bytes"
	"encoding/base64"
	"image"
	"net/http"
	"strings"
	"testing"

	"github.com/cityshield/YuntuWeb/internal/apperrors"
	"github.com/cityshield/YuntuWeb/internal/models"
	"github.com/cityshield/YuntuWeb/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateAcceptsAllowedFormats(t *testing.T) {
	v := New(0)
	cases := map[models.Format][]byte{
		models.FormatPNG:  testutil.PNG(t, 8, 6),
		models.FormatJPEG: testutil.JPEG(t, 8, 6),
		models.FormatTIFF: testutil.TIFF(t, 8, 6),
		models.FormatBMP:  testutil.BMP(t, 8, 6),
	}

	for want, data := range cases {
		payload, err := v.Validate(models.ProcessRequest{
			Image:    testutil.Base64(data),
			Filename: "sample",
		})
		require.NoError(t, err, want)
		assert.Equal(t, want, payload.Format)
		assert.Equal(t, 8, payload.Width)
		assert.Equal(t, 6, payload.Height)
		assert.Equal(t, int64(len(data)), payload.Size())
	}
}

func TestValidateMissingPayload(t *testing.T) {
	_, err := New(0).Validate(models.ProcessRequest{Image: "  "})
	assert.True(t, apperrors.IsKind(err, apperrors.KindMissingPayload))
}

func TestDecode(t *testing.T) {
	v := New(0)
	raw := []byte("hello image")

	data, err := v.Decode(base64.StdEncoding.EncodeToString(raw))
	require.NoError(t, err)
	assert.Equal(t, raw, data)

	data, err = v.Decode(base64.RawStdEncoding.EncodeToString(raw))
	require.NoError(t, err)
	assert.Equal(t, raw, data)

	data, err = v.Decode("data:image/png;base64," + base64.StdEncoding.EncodeToString(raw))
	require.NoError(t, err)
	assert.Equal(t, raw, data)

	_, err = v.Decode("***not base64***")
	assert.True(t, apperrors.IsKind(err, apperrors.KindDecode))
	assert.Equal(t, "image data is not valid base64", apperrors.PublicMessage(err))
}

func TestCheckSize(t *testing.T) {
	v := New(1024)

	assert.NoError(t, v.CheckSize(make([]byte, 1024)))

	err := v.CheckSize(make([]byte, 1025))
	require.Error(t, err)
	assert.True(t, apperrors.IsKind(err, apperrors.KindSizeLimitExceeded))
	assert.Equal(t, int64(100<<20), New(0).MaxSize())
}

func TestValidateRejectsOversizedBeforeDetection(t *testing.T) {
	v := New(64)
	payload := testutil.Base64(testutil.PNG(t, 32, 32))

	_, err := v.Validate(models.ProcessRequest{Image: payload})
	require.Error(t, err)
	assert.True(t, apperrors.IsKind(err, apperrors.KindSizeLimitExceeded))
	assert.Contains(t, apperrors.PublicMessage(err), "exceeds")
}

func TestDetectFormatRejectsGIF(t *testing.T) {
	_, _, err := New(0).DetectFormat(testutil.GIF(t, 4, 4))
	require.Error(t, err)
	assert.True(t, apperrors.IsKind(err, apperrors.KindUnsupportedFormat))
	assert.Contains(t, apperrors.PublicMessage(err), "gif")
}

func TestDetectFormatRejectsGarbage(t *testing.T) {
	_, _, err := New(0).DetectFormat([]byte(strings.Repeat("x", 64)))
	require.Error(t, err)
	assert.True(t, apperrors.IsKind(err, apperrors.KindUnsupportedFormat))
	assert.Contains(t, apperrors.PublicMessage(err), "unrecognized")
}

func TestFormatBytes(t *testing.T) {
	assert.Equal(t, "100MB", formatBytes(100<<20))
	assert.Equal(t, "1.5MB", formatBytes(3<<19))
	assert.Equal(t, "512 bytes", formatBytes(512))
}

func TestValidateRejectsDecompressionBomb(t *testing.T) {
	v := New(0)
	header := testutil.PNGHeader(30000, 30000)

	_, err := v.Validate(models.ProcessRequest{Image: testutil.Base64(header)})
	require.Error(t, err)
	assert.True(t, apperrors.IsKind(err, apperrors.KindSizeLimitExceeded))
	assert.Equal(t, http.StatusBadRequest, apperrors.HTTPStatus(err))
	assert.Contains(t, apperrors.PublicMessage(err), "30000x30000")
}

func TestCheckDimensions(t *testing.T) {
	v := New(0, WithMaxPixels(100))
	assert.Equal(t, int64(100), v.MaxPixels())
	assert.Equal(t, DefaultMaxPixels, New(0, WithMaxPixels(0)).MaxPixels())

	assert.NoError(t, v.CheckDimensions(image.Config{Width: 10, Height: 10}))

	err := v.CheckDimensions(image.Config{Width: 11, Height: 10})
	assert.True(t, apperrors.IsKind(err, apperrors.KindSizeLimitExceeded))

	err = v.CheckDimensions(image.Config{Width: 0, Height: 10})
	assert.True(t, apperrors.IsKind(err, apperrors.KindUnsupportedFormat))

	err = New(0).CheckDimensions(image.Config{Width: 65535, Height: 65535})
	assert.True(t, apperrors.IsKind(err, apperrors.KindSizeLimitExceeded))
}

func TestDecodeIgnoresLineBreaksInSizeBound(t *testing.T) {
	v := New(1024)
	raw := bytes.Repeat([]byte{0xAB}, 1024)

	encoded := base64.StdEncoding.EncodeToString(raw)
	var wrapped strings.Builder
	for len(encoded) > 76 {
		wrapped.WriteString(encoded[:76])
		wrapped.WriteString("\r\n")
		encoded = encoded[76:]
	}
	wrapped.WriteString(encoded)

	data, err := v.Decode(wrapped.String())
	require.NoError(t, err)
	assert.Equal(t, raw, data)
	assert.NoError(t, v.CheckSize(data))

	_, err = v.Decode(base64.StdEncoding.EncodeToString(bytes.Repeat([]byte{0xAB}, 1100)))
	assert.True(t, apperrors.IsKind(err, apperrors.KindSizeLimitExceeded))
}
