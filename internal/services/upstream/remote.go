package upstream

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/cityshield/YuntuWeb/internal/apperrors"
	"github.com/cityshield/YuntuWeb/internal/models"
	"go.uber.org/zap"
)

const (
	processPath = "/api/v1/super-resolution/swin_real_process"
	healthPath  = "/api/v1/health/"

	DefaultTimeout       = 120 * time.Second
	DefaultHealthTimeout = 5 * time.Second
)

// Error codes the enhancement service may return for inputs its model cannot
// handle. They map to SafeRejectionMessage.
var knownModelFailures = map[string]struct{}{
	"IMAGE_DIMENSION_MISMATCH": {},
	"UNSUPPORTED_IMAGE":        {},
	"IMAGE_QUALITY_TOO_LOW":    {},
	"MODEL_INPUT_INVALID":      {},
}

// Fallback for services that only report failures as free text.
var modelFailureKeywords = []string{"permute", "tensor", "dimension"}

type RemoteConfig struct {
	BaseURL       string
	Token         string
	Timeout       time.Duration
	HealthTimeout time.Duration
}

type RemoteClient struct {
	cfg        RemoteConfig
	httpClient *http.Client
	logger     *zap.Logger
}

type processRequest struct {
	ImageBase64  string `json:"image_base64"`
	Token        string `json:"token"`
	InputFormat  string `json:"input_format"`
	OutputFormat string `json:"output_format"`
}

type processResponse struct {
	Success           bool            `json:"success"`
	ResultImageBase64 string          `json:"result_image_base64"`
	ScaleFactor       float64         `json:"scale_factor"`
	OriginalSize      json.RawMessage `json:"original_size"`
	OutputSize        json.RawMessage `json:"output_size"`
	Message           string          `json:"message"`
	ErrorCode         string          `json:"error_code"`
}

type errorResponse struct {
	Detail    json.RawMessage `json:"detail"`
	Message   string          `json:"message"`
	ErrorCode string          `json:"error_code"`
}

func NewRemoteClient(cfg RemoteConfig, logger *zap.Logger) *RemoteClient {
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.HealthTimeout <= 0 {
		cfg.HealthTimeout = DefaultHealthTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &RemoteClient{
		cfg: cfg,
		httpClient: &http.Client{
			Transport: &http.Transport{
				Proxy:               http.ProxyFromEnvironment,
				DialContext:         (&net.Dialer{Timeout: 10 * time.Second, KeepAlive: 30 * time.Second}).DialContext,
				MaxIdleConnsPerHost: 16,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		logger: logger,
	}
}

func (c *RemoteClient) Name() string {
	return "remote"
}

func (c *RemoteClient) Process(ctx context.Context, payload models.ImagePayload) (*models.ProcessingResult, error) {
	const op = "upstream.Process"

	body, err := json.Marshal(processRequest{
		ImageBase64:  base64.StdEncoding.EncodeToString(payload.Data),
		Token:        c.cfg.Token,
		InputFormat:  string(payload.Format),
		OutputFormat: string(payload.Format),
	})
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindInternal, op, "failed to encode upstream request", err)
	}

	callCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(callCtx, http.MethodPost, c.cfg.BaseURL+processPath, bytes.NewReader(body))
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindInternal, op, "failed to build upstream request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, c.classifyTransportError(ctx, op, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, c.classifyTransportError(ctx, op, err)
	}

	c.logger.Debug("Upstream responded",
		zap.Int("status", resp.StatusCode),
		zap.Int("bytes", len(raw)),
		zap.Duration("duration", time.Since(start)),
	)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, rejectionFromStatus(op, resp, raw)
	}

	var parsed processResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, apperrors.Wrap(apperrors.KindInternal, op, "malformed upstream response", err)
	}
	if !parsed.Success {
		msg := parsed.Message
		if msg == "" {
			msg = "image enhancement failed"
		}
		return nil, rejection(op, http.StatusBadRequest, parsed.ErrorCode, msg)
	}

	output, err := base64.StdEncoding.DecodeString(parsed.ResultImageBase64)
	if err != nil || len(output) == 0 {
		if err == nil {
			err = errors.New("empty result image")
		}
		return nil, apperrors.Wrap(apperrors.KindInternal, op, "malformed upstream result image", err)
	}

	result := newResult(payload, output, parsed.ScaleFactor)
	result.OriginalResolution = nullable(parsed.OriginalSize)
	result.OutputResolution = nullable(parsed.OutputSize)
	return result, nil
}

func (c *RemoteClient) Health(ctx context.Context) string {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.HealthTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+healthPath, nil)
	if err != nil {
		return StatusUnreachable
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return StatusUnreachable
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode == http.StatusOK {
		return StatusHealthy
	}
	return StatusUnhealthy
}

// classifyTransportError separates the caller hanging up from our own
// deadline firing from the service being down.
func (c *RemoteClient) classifyTransportError(parent context.Context, op string, err error) error {
	if parentErr := parent.Err(); parentErr != nil && !errors.Is(parentErr, context.DeadlineExceeded) {
		return apperrors.Wrap(apperrors.KindCanceled, op, "request canceled by client", err)
	}

	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return apperrors.Wrap(apperrors.KindUpstreamTimeout, op, "request timed out, please try again later", err)
	}

	return apperrors.Wrap(apperrors.KindUpstreamUnreachable, op, "cannot reach the enhancement service, please check the network connection", err)
}

func rejectionFromStatus(op string, resp *http.Response, raw []byte) error {
	msg := fmt.Sprintf("enhancement service request failed: %d", resp.StatusCode)
	code := ""

	if strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") {
		var parsed errorResponse
		if err := json.Unmarshal(raw, &parsed); err == nil {
			code = parsed.ErrorCode
			if detail := detailText(parsed.Detail); detail != "" {
				msg = detail
			} else if parsed.Message != "" {
				msg = parsed.Message
			}
		}
	}

	return rejection(op, resp.StatusCode, code, msg)
}

func rejection(op string, status int, code, msg string) error {
	if isModelFailure(code, msg) {
		return &apperrors.Error{
			Kind:    apperrors.KindUnsupportedFormat,
			Op:      op,
			Message: SafeRejectionMessage,
			Cause:   fmt.Errorf("upstream %d %s: %s", status, code, msg),
		}
	}
	return apperrors.Rejected(op, status, msg)
}

func isModelFailure(code, msg string) bool {
	if _, ok := knownModelFailures[strings.ToUpper(code)]; ok {
		return true
	}
	lower := strings.ToLower(msg)
	for _, kw := range modelFailureKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

// detailText accepts the plain string form of detail only. Structured detail
// (validation error lists) is not shown to clients.
func detailText(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return ""
	}
	return s
}

func nullable(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	return raw
}
