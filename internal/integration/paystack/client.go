package paystack

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/pewsoft/subscriptions/internal/config"
	ierr "github.com/pewsoft/subscriptions/internal/errors"
	"github.com/pewsoft/subscriptions/internal/httpclient"
	"github.com/pewsoft/subscriptions/internal/idempotency"
	"github.com/pewsoft/subscriptions/internal/integration/base"
	"github.com/pewsoft/subscriptions/internal/logger"
	"github.com/pewsoft/subscriptions/internal/sentry"
	"github.com/pewsoft/subscriptions/internal/types"
	"golang.org/x/time/rate"
)

// Client is the Paystack implementation of base.Provider over the shared HTTP client
type Client struct {
	http     httpclient.Client
	limiter  *rate.Limiter
	idempGen *idempotency.Generator
	cfg      config.PaystackConfig
	sentry   *sentry.Service
	logger   *logger.Logger
}

var _ base.Provider = (*Client)(nil)

// NewClient creates a new Paystack client
func NewClient(cfg *config.Configuration, sentry *sentry.Service, logger *logger.Logger) *Client {
	httpCfg := httpclient.DefaultClientConfig()
	if cfg.Paystack.Timeout > 0 {
		httpCfg.Timeout = cfg.Paystack.Timeout
	}

	limit := rate.Inf
	if cfg.Paystack.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.Paystack.RequestsPerSecond)
	}

	return &Client{
		http:     httpclient.NewDefaultClient(httpCfg, logger),
		limiter:  rate.NewLimiter(limit, 1),
		idempGen: idempotency.NewGenerator(),
		cfg:      cfg.Paystack,
		sentry:   sentry,
		logger:   logger,
	}
}

func (c *Client) Name() types.PaymentProvider {
	return types.PaymentProviderPaystack
}

func (c *Client) Capabilities() base.Capabilities {
	return base.Capabilities{
		ImmediateProration: false,
		BillingPortal:      false,
		HostedCheckout:     true,
	}
}

// do sends one API request and decodes the data field of the response envelope into out
func (c *Client) do(ctx context.Context, operation, method, path string, body any, out any) error {
	if c.cfg.SecretKey == "" {
		return ierr.NewError("paystack is not configured").
			WithHint("Paystack billing is not available").
			Mark(ierr.ErrInvalidOperation)
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return ierr.WithError(err).
			WithHint("The payment provider request was cancelled").
			Mark(ierr.ErrProvider)
	}

	span, ctx := c.sentry.StartProviderSpan(ctx, "paystack", operation)
	defer func() {
		if span != nil {
			span.Finish()
		}
	}()

	req := &httpclient.Request{
		Method: method,
		URL:    strings.TrimRight(c.cfg.BaseURL, "/") + path,
		Headers: map[string]string{
			"Authorization": "Bearer " + c.cfg.SecretKey,
			"Accept":        "application/json",
		},
	}
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return ierr.WithError(err).
				WithHint("Failed to encode the payment provider request").
				Mark(ierr.ErrSystem)
		}
		req.Body = payload
	}

	resp, err := c.http.Send(ctx, req)
	if err != nil {
		details := map[string]any{
			"provider":  "paystack",
			"operation": operation,
		}
		if httpErr, ok := httpclient.IsHTTPError(err); ok {
			details["status_code"] = httpErr.StatusCode
			var env envelope
			if json.Unmarshal(httpErr.Response, &env) == nil && env.Message != "" {
				details["message"] = env.Message
			}
		}
		c.logger.Errorw("paystack request failed",
			"operation", operation,
			"error", err,
			"details", details,
		)
		return ierr.WithError(err).
			WithHint("The payment provider could not complete the request").
			WithReportableDetails(details).
			Mark(ierr.ErrProvider)
	}

	var env envelope
	if err := json.Unmarshal(resp.Body, &env); err != nil {
		return ierr.WithError(err).
			WithHint("Unexpected response from the payment provider").
			Mark(ierr.ErrProvider)
	}
	if !env.Status {
		return ierr.NewErrorf("paystack %s failed: %s", operation, env.Message).
			WithHint("The payment provider rejected the request").
			WithReportableDetails(map[string]any{
				"provider":  "paystack",
				"operation": operation,
				"message":   env.Message,
			}).
			Mark(ierr.ErrProvider)
	}

	if out == nil || len(env.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return ierr.WithError(err).
			WithHint("Unexpected response from the payment provider").
			Mark(ierr.ErrProvider)
	}
	return nil
}

func (c *Client) post(ctx context.Context, operation, path string, body any, out any) error {
	return c.do(ctx, operation, http.MethodPost, path, body, out)
}

func (c *Client) get(ctx context.Context, operation, path string, out any) error {
	return c.do(ctx, operation, http.MethodGet, path, nil, out)
}
