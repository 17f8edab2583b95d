package sentry

import (
	"context"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/pewsoft/subscriptions/internal/config"
	ierr "github.com/pewsoft/subscriptions/internal/errors"
	"github.com/pewsoft/subscriptions/internal/logger"
	"go.uber.org/fx"
)

// Service is a nil-safe facade over the sentry SDK. Every method is a no-op
// when sentry is disabled.
type Service struct {
	cfg    *config.Configuration
	logger *logger.Logger
}

// RegisterHooks initialises the SDK on start and flushes on stop
func RegisterHooks(lc fx.Lifecycle, svc *Service) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if !svc.cfg.Sentry.Enabled {
				svc.logger.Info("Sentry is disabled")
				return nil
			}

			err := sentry.Init(sentry.ClientOptions{
				Dsn:              svc.cfg.Sentry.DSN,
				Environment:      svc.cfg.Sentry.Environment,
				EnableTracing:    true,
				TracesSampleRate: svc.cfg.Sentry.SampleRate,
				TracesSampler: sentry.TracesSampler(func(ctx sentry.SamplingContext) float64 {
					switch ctx.Span.Name {
					case "GET /health", "GET /metrics":
						return 0.0
					case "dunning.run", "subscriptions.sweep":
						return 1.0
					}
					return svc.cfg.Sentry.SampleRate
				}),
			})
			if err != nil {
				svc.logger.Errorw("failed to initialize Sentry", "error", err)
				return err
			}
			svc.logger.Infow("Sentry initialized",
				"environment", svc.cfg.Sentry.Environment,
				"sample_rate", svc.cfg.Sentry.SampleRate,
			)
			return nil
		},
		OnStop: func(ctx context.Context) error {
			if svc.cfg.Sentry.Enabled {
				svc.logger.Info("flushing Sentry events before shutdown")
				sentry.Flush(2 * time.Second)
			}
			return nil
		},
	})
}

// NewSentryService creates a new Sentry service
func NewSentryService(cfg *config.Configuration, logger *logger.Logger) *Service {
	return &Service{
		cfg:    cfg,
		logger: logger,
	}
}

func (s *Service) enabled() bool {
	return s != nil && s.cfg != nil && s.cfg.Sentry.Enabled
}

// CaptureException reports err. Validation, not found and permission errors
// are caller mistakes and are never reported.
func (s *Service) CaptureException(err error) {
	if !s.enabled() || err == nil {
		return
	}
	if ierr.IsValidation(err) || ierr.IsNotFound(err) || ierr.IsPermissionDenied(err) {
		return
	}
	sentry.CaptureException(err)
}

// StartDBSpan starts a database span in the current transaction
func (s *Service) StartDBSpan(ctx context.Context, operation string, params map[string]interface{}) (*sentry.Span, context.Context) {
	return s.startSpan(ctx, "db.postgres", operation, params)
}

// StartProviderSpan starts a span around an outbound payment provider call
func (s *Service) StartProviderSpan(ctx context.Context, provider string, operation string) (*sentry.Span, context.Context) {
	return s.startSpan(ctx, "http.client."+provider, operation, map[string]interface{}{
		"provider": provider,
	})
}

func (s *Service) startSpan(ctx context.Context, op, operation string, params map[string]interface{}) (*sentry.Span, context.Context) {
	if !s.enabled() {
		return nil, ctx
	}

	span := sentry.StartSpan(ctx, operation)
	if span == nil {
		return nil, ctx
	}
	span.Description = operation
	span.Op = op
	for k, v := range params {
		span.SetData(k, v)
	}

	return span, span.Context()
}

// StartTransaction opens a transaction for scheduled work. Under a request
// hub it nests in the request transaction.
func (s *Service) StartTransaction(ctx context.Context, name string) (*sentry.Span, context.Context) {
	if !s.enabled() {
		return nil, ctx
	}

	hub := sentry.GetHubFromContext(ctx)
	if hub == nil {
		hub = sentry.CurrentHub().Clone()
		ctx = sentry.SetHubOnContext(ctx, hub)
	}

	transaction := sentry.StartTransaction(ctx, name,
		sentry.WithOpName(name),
		sentry.WithTransactionSource(sentry.SourceCustom),
	)
	return transaction, transaction.Context()
}
