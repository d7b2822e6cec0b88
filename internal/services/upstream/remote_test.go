package upstream

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/cityshield/YuntuWeb/internal/apperrors"
	"github.com/cityshield/YuntuWeb/internal/models"
	"github.com/cityshield/YuntuWeb/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRemote(t *testing.T, handler http.HandlerFunc) *RemoteClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewRemoteClient(RemoteConfig{BaseURL: srv.URL + "/", Token: "secret", Timeout: time.Second}, nil)
}

func pngPayload(t *testing.T) models.ImagePayload {
	return models.ImagePayload{Data: testutil.PNG(t, 4, 4), Format: models.FormatPNG}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func TestRemoteProcessSuccess(t *testing.T) {
	output := testutil.JPEG(t, 8, 8)
	var got processRequest

	client := newRemote(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, processPath, r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		writeJSON(w, http.StatusOK, map[string]any{
			"success":             true,
			"result_image_base64": base64.StdEncoding.EncodeToString(output),
			"scale_factor":        4,
			"original_size":       []int{4, 4},
			"output_size":         []int{8, 8},
		})
	})

	payload := models.ImagePayload{Data: testutil.JPEG(t, 4, 4), Format: models.FormatJPEG}
	result, err := client.Process(context.Background(), payload)
	require.NoError(t, err)

	assert.Equal(t, "secret", got.Token)
	assert.Equal(t, "JPEG", got.InputFormat)
	assert.Equal(t, got.InputFormat, got.OutputFormat)
	assert.Equal(t, base64.StdEncoding.EncodeToString(payload.Data), got.ImageBase64)

	assert.Equal(t, output, result.Image)
	assert.Equal(t, "image/jpeg", result.MIMEType)
	assert.Equal(t, 4.0, result.ScaleFactor)
	assert.Equal(t, payload.Size(), result.InputSize)
	assert.Equal(t, int64(len(output)), result.OutputSize)
	assert.JSONEq(t, `[4,4]`, string(result.OriginalResolution))
	assert.JSONEq(t, `[8,8]`, string(result.OutputResolution))
}

func TestRemoteProcessDefaultsScaleFactor(t *testing.T) {
	client := newRemote(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"success":             true,
			"result_image_base64": base64.StdEncoding.EncodeToString([]byte("png-bytes")),
		})
	})

	result, err := client.Process(context.Background(), pngPayload(t))
	require.NoError(t, err)
	assert.Equal(t, DefaultScaleFactor, result.ScaleFactor)
	assert.Equal(t, "image/png", result.MIMEType)
	assert.Nil(t, result.OriginalResolution)
}

func TestRemoteProcessRejections(t *testing.T) {
	tests := []struct {
		name       string
		handler    http.HandlerFunc
		wantKind   apperrors.Kind
		wantStatus int
		wantMsg    string
	}{
		{
			name: "json detail passed through",
			handler: func(w http.ResponseWriter, r *http.Request) {
				writeJSON(w, http.StatusUnprocessableEntity, map[string]any{"detail": "token invalid"})
			},
			wantKind:   apperrors.KindUpstreamRejected,
			wantStatus: http.StatusUnprocessableEntity,
			wantMsg:    "token invalid",
		},
		{
			name: "non json body gets generic message",
			handler: func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "boom", http.StatusBadGateway)
			},
			wantKind:   apperrors.KindUpstreamRejected,
			wantStatus: http.StatusBadGateway,
			wantMsg:    "enhancement service request failed: 502",
		},
		{
			name: "structured detail is hidden",
			handler: func(w http.ResponseWriter, r *http.Request) {
				writeJSON(w, http.StatusUnprocessableEntity, map[string]any{"detail": []map[string]string{{"loc": "body"}}})
			},
			wantKind:   apperrors.KindUpstreamRejected,
			wantStatus: http.StatusUnprocessableEntity,
			wantMsg:    "enhancement service request failed: 422",
		},
		{
			name: "success false",
			handler: func(w http.ResponseWriter, r *http.Request) {
				writeJSON(w, http.StatusOK, map[string]any{"success": false, "message": "model busy"})
			},
			wantKind:   apperrors.KindUpstreamRejected,
			wantStatus: http.StatusBadRequest,
			wantMsg:    "model busy",
		},
		{
			name: "error code remapped",
			handler: func(w http.ResponseWriter, r *http.Request) {
				writeJSON(w, http.StatusOK, map[string]any{"success": false, "error_code": "IMAGE_DIMENSION_MISMATCH", "message": "x"})
			},
			wantKind:   apperrors.KindUnsupportedFormat,
			wantStatus: http.StatusBadRequest,
			wantMsg:    SafeRejectionMessage,
		},
		{
			name: "tensor vocabulary remapped",
			handler: func(w http.ResponseWriter, r *http.Request) {
				writeJSON(w, http.StatusInternalServerError, map[string]any{"detail": "number of dims don't match in permute"})
			},
			wantKind:   apperrors.KindUnsupportedFormat,
			wantStatus: http.StatusBadRequest,
			wantMsg:    SafeRejectionMessage,
		},
		{
			name: "unknown error code still checks vocabulary",
			handler: func(w http.ResponseWriter, r *http.Request) {
				writeJSON(w, http.StatusInternalServerError, map[string]any{"error_code": "E42", "detail": "tensor permute failed"})
			},
			wantKind:   apperrors.KindUnsupportedFormat,
			wantStatus: http.StatusBadRequest,
			wantMsg:    SafeRejectionMessage,
		},
		{
			name: "unknown error code with plain detail",
			handler: func(w http.ResponseWriter, r *http.Request) {
				writeJSON(w, http.StatusUnprocessableEntity, map[string]any{"error_code": "E42", "detail": "token invalid"})
			},
			wantKind:   apperrors.KindUpstreamRejected,
			wantStatus: http.StatusUnprocessableEntity,
			wantMsg:    "token invalid",
		},
		{
			name: "malformed success body",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusOK)
				_, _ = w.Write([]byte("<html>"))
			},
			wantKind:   apperrors.KindInternal,
			wantStatus: http.StatusInternalServerError,
			wantMsg:    "internal server error",
		},
		{
			name: "bad result image",
			handler: func(w http.ResponseWriter, r *http.Request) {
				writeJSON(w, http.StatusOK, map[string]any{"success": true, "result_image_base64": "%%%"})
			},
			wantKind:   apperrors.KindInternal,
			wantStatus: http.StatusInternalServerError,
			wantMsg:    "internal server error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newRemote(t, tt.handler)

			result, err := client.Process(context.Background(), pngPayload(t))
			require.Error(t, err)
			assert.Nil(t, result)
			assert.Equal(t, tt.wantKind, apperrors.KindOf(err))
			assert.Equal(t, tt.wantStatus, apperrors.HTTPStatus(err))
			assert.Equal(t, tt.wantMsg, apperrors.PublicMessage(err))
		})
	}
}

func TestRemoteProcessTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	t.Cleanup(srv.Close)

	client := NewRemoteClient(RemoteConfig{BaseURL: srv.URL, Timeout: 50 * time.Millisecond}, nil)
	_, err := client.Process(context.Background(), pngPayload(t))

	require.Error(t, err)
	assert.Equal(t, apperrors.KindUpstreamTimeout, apperrors.KindOf(err))
	assert.Equal(t, http.StatusRequestTimeout, apperrors.HTTPStatus(err))
}

func TestRemoteProcessCallerCanceled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(50*time.Millisecond, cancel)

	client := NewRemoteClient(RemoteConfig{BaseURL: srv.URL, Timeout: 5 * time.Second}, nil)
	_, err := client.Process(ctx, pngPayload(t))

	assert.Equal(t, apperrors.KindCanceled, apperrors.KindOf(err))
}

func TestRemoteProcessUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	client := NewRemoteClient(RemoteConfig{BaseURL: url, Timeout: time.Second}, nil)
	_, err := client.Process(context.Background(), pngPayload(t))

	require.Error(t, err)
	assert.Equal(t, apperrors.KindUpstreamUnreachable, apperrors.KindOf(err))
	assert.Equal(t, http.StatusServiceUnavailable, apperrors.HTTPStatus(err))
}

func TestRemoteHealth(t *testing.T) {
	healthy := newRemote(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, healthPath, r.URL.Path)
		w.WriteHeader(http.StatusOK)
	})
	assert.Equal(t, StatusHealthy, healthy.Health(context.Background()))

	sick := newRemote(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	assert.Equal(t, StatusUnhealthy, sick.Health(context.Background()))

	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()
	gone := NewRemoteClient(RemoteConfig{BaseURL: url}, nil)
	assert.Equal(t, StatusUnreachable, gone.Health(context.Background()))
}
