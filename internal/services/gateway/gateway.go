// Package gateway runs the per-request admission pipeline: quota check,
// payload validation, slot reservation, upstream enhancement and usage
// commit. Every failure path produces one error and one log line.
package gateway

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cityshield/YuntuWeb/internal/apperrors"
	"github.com/cityshield/YuntuWeb/internal/models"
	"github.com/cityshield/YuntuWeb/internal/services/ledger"
	"github.com/cityshield/YuntuWeb/internal/services/processor"
	"github.com/cityshield/YuntuWeb/internal/services/upstream"
	"github.com/cityshield/YuntuWeb/internal/services/validator"
	"github.com/cityshield/YuntuWeb/pkg/utils"
	"go.uber.org/zap"
)

// Archiver stores an enhanced result and returns a URL for it.
type Archiver interface {
	Archive(ctx context.Context, record models.UsageRecord, result *models.ProcessingResult) (string, error)
	HealthCheck(ctx context.Context) string
}

// Publisher announces committed usage to other systems.
type Publisher interface {
	PublishUsage(ctx context.Context, event models.UsageEvent) error
	HealthCheck() string
}

type Gateway struct {
	ledger    *ledger.Ledger
	validator *validator.Validator
	client    upstream.Client
	previewer *processor.ImageProcessor
	archiver  Archiver
	publisher Publisher
	logger    *zap.Logger
	now       func() time.Time
}

type Option func(*Gateway)

func WithArchiver(a Archiver) Option {
	return func(g *Gateway) { g.archiver = a }
}

func WithPublisher(p Publisher) Option {
	return func(g *Gateway) { g.publisher = p }
}

func WithPreviewer(p *processor.ImageProcessor) Option {
	return func(g *Gateway) { g.previewer = p }
}

func WithClock(now func() time.Time) Option {
	return func(g *Gateway) { g.now = now }
}

func New(l *ledger.Ledger, v *validator.Validator, client upstream.Client, logger *zap.Logger, opts ...Option) *Gateway {
	if logger == nil {
		logger = zap.NewNop()
	}
	g := &Gateway{
		ledger:    l,
		validator: v,
		client:    client,
		previewer: processor.NewImageProcessor(),
		logger:    logger,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

func (g *Gateway) DailyLimit() int {
	return g.ledger.Limit()
}

// MaxBodyBytes bounds a request body: the base64 form of the largest accepted
// image plus room for the other JSON fields.
func (g *Gateway) MaxBodyBytes() int64 {
	return int64(base64.StdEncoding.EncodedLen(int(g.validator.MaxSize()))) + 1<<20
}

// Process handles one enhancement request for identity. The body is only read
// after the quota check passes, so an exhausted caller costs no decoding.
func (g *Gateway) Process(ctx context.Context, identity string, body io.Reader) (models.Envelope, error) {
	start := g.now()
	log := g.logger.With(zap.String("identity", identity))

	quota, err := g.ledger.CheckQuota(ctx, identity)
	if err != nil {
		return g.fail(log, err)
	}
	if !quota.Allowed() {
		return g.fail(log, apperrors.New(apperrors.KindQuotaExceeded, "gateway.check_quota", quotaMessage(quota.DailyLimit)))
	}

	req, err := g.decodeRequest(body)
	if err != nil {
		return g.fail(log, err)
	}

	payload, err := g.validator.Validate(req)
	if err != nil {
		return g.fail(log, err)
	}
	g.noteDeclaredFormat(log, payload)

	res, err := g.ledger.CheckAndReserve(ctx, identity)
	if err != nil {
		return g.fail(log, err)
	}

	result, err := g.client.Process(ctx, payload)
	if err == nil && ctx.Err() != nil {
		err = apperrors.Wrap(apperrors.KindCanceled, "gateway.process", "request canceled by client", ctx.Err())
	}
	if err != nil {
		g.release(ctx, log, res)
		return g.fail(log, err)
	}

	record, err := g.ledger.RecordUsage(ctx, res, payload.Filename, payload.Size())
	if err != nil {
		if ctx.Err() != nil {
			err = apperrors.Wrap(apperrors.KindCanceled, "gateway.record_usage", "request canceled by client", ctx.Err())
		}
		g.release(ctx, log, res)
		return g.fail(log, err)
	}

	env := models.Envelope{
		Error:              false,
		Image:              base64.StdEncoding.EncodeToString(result.Image),
		MIMEType:           result.MIMEType,
		Size:               result.OutputSize,
		OriginalSize:       payload.Size(),
		EnhancementRatio:   result.ScaleFactor,
		OriginalResolution: result.OriginalResolution,
		OutputResolution:   result.OutputResolution,
	}
	env.ResultURL = g.afterCommit(ctx, log, record, result)

	log.Info("Image enhanced",
		zap.String("record_id", record.ID),
		zap.String("format", string(payload.Format)),
		zap.String("upstream", g.client.Name()),
		zap.Int64("input_bytes", payload.Size()),
		zap.Int64("output_bytes", result.OutputSize),
		zap.Int("used", quota.Used+1),
		zap.Duration("duration", g.now().Sub(start)),
	)
	return env, nil
}

func (g *Gateway) decodeRequest(body io.Reader) (models.ProcessRequest, error) {
	var req models.ProcessRequest
	if body == nil {
		return req, apperrors.New(apperrors.KindMissingPayload, "gateway.decode_request", "invalid request data")
	}

	if err := json.NewDecoder(body).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return req, apperrors.Wrap(apperrors.KindSizeLimitExceeded, "gateway.decode_request",
				"request body exceeds the upload size limit", err)
		}
		return req, apperrors.Wrap(apperrors.KindMissingPayload, "gateway.decode_request", "invalid request data", err)
	}
	return req, nil
}

// The detected format always wins; a disagreeing declaration is only noted.
func (g *Gateway) noteDeclaredFormat(log *zap.Logger, payload models.ImagePayload) {
	if payload.DeclaredFormat != "" && models.ParseFormat(payload.DeclaredFormat) != payload.Format {
		log.Debug("Declared input format differs from detected format",
			zap.String("declared", payload.DeclaredFormat),
			zap.String("detected", string(payload.Format)))
	}
	if payload.DeclaredMIME != "" && !utils.IsSupportedImageType(payload.DeclaredMIME) {
		log.Debug("Declared MIME type is not an accepted image type",
			zap.String("declared", payload.DeclaredMIME))
	}
}

// afterCommit runs side effects that must never undo a committed request.
func (g *Gateway) afterCommit(ctx context.Context, log *zap.Logger, record models.UsageRecord, result *models.ProcessingResult) string {
	ctx = context.WithoutCancel(ctx)

	var url string
	if g.archiver != nil {
		archived, err := g.archiver.Archive(ctx, record, result)
		if err != nil {
			log.Warn("Failed to archive result", zap.String("record_id", record.ID), zap.Error(err))
		} else {
			url = archived
		}
	}

	if g.publisher != nil {
		event := models.UsageEvent{
			RecordID:   record.ID,
			Identity:   record.Identity,
			Label:      record.Label,
			ByteSize:   record.ByteSize,
			Day:        record.Day,
			Format:     result.Format,
			OutputSize: result.OutputSize,
			CreatedAt:  record.CreatedAt,
		}
		if err := g.publisher.PublishUsage(ctx, event); err != nil {
			log.Warn("Failed to publish usage event", zap.String("record_id", record.ID), zap.Error(err))
		}
	}
	return url
}

// release runs even when the caller has gone away.
func (g *Gateway) release(ctx context.Context, log *zap.Logger, res ledger.Reservation) {
	if err := g.ledger.Release(context.WithoutCancel(ctx), res); err != nil {
		log.Warn("Failed to release reservation; it will expire", zap.String("reservation_id", res.ID), zap.Error(err))
	}
}

func (g *Gateway) fail(log *zap.Logger, err error) (models.Envelope, error) {
	kind := apperrors.KindOf(err)
	fields := []zap.Field{
		zap.String("kind", string(kind)),
		zap.Int("status", apperrors.HTTPStatus(err)),
		zap.Error(err),
	}

	switch {
	case apperrors.IsClientFault(err), kind == apperrors.KindQuotaExceeded, kind == apperrors.KindCanceled:
		log.Info("Request rejected", fields...)
	case kind == apperrors.KindUpstreamTimeout, kind == apperrors.KindUpstreamUnreachable, kind == apperrors.KindUpstreamRejected:
		log.Warn("Request failed", fields...)
	default:
		log.Error("Request failed", fields...)
	}
	return models.ErrorEnvelope(apperrors.PublicMessage(err)), err
}

func quotaMessage(limit int) string {
	return fmt.Sprintf("daily upload limit reached (%d requests per day)", limit)
}
