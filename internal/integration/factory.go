package integration

import (
	"sort"

	"github.com/pewsoft/subscriptions/internal/config"
	ierr "github.com/pewsoft/subscriptions/internal/errors"
	"github.com/pewsoft/subscriptions/internal/integration/base"
	"github.com/pewsoft/subscriptions/internal/integration/manual"
	"github.com/pewsoft/subscriptions/internal/integration/paystack"
	"github.com/pewsoft/subscriptions/internal/integration/stripe"
	"github.com/pewsoft/subscriptions/internal/logger"
	"github.com/pewsoft/subscriptions/internal/sentry"
	"github.com/pewsoft/subscriptions/internal/types"
	"github.com/samber/lo"
)

// Factory resolves the billing provider adapter for a subscription's provider
type Factory struct {
	providers map[types.PaymentProvider]base.Provider
	logger    *logger.Logger
}

// NewFactory creates a new integration factory with the providers enabled in config.
// The manual provider is always available.
func NewFactory(cfg *config.Configuration, sentry *sentry.Service, logger *logger.Logger) *Factory {
	providers := []base.Provider{manual.NewClient(logger)}
	if cfg.Stripe.Enabled {
		providers = append(providers, stripe.NewClient(cfg, sentry, logger))
	}
	if cfg.Paystack.Enabled {
		providers = append(providers, paystack.NewClient(cfg, sentry, logger))
	}

	f := NewFactoryWithProviders(logger, providers...)
	logger.Infow("billing providers configured", "providers", f.GetSupportedProviders())
	return f
}

// NewFactoryWithProviders builds a factory from explicit adapters
func NewFactoryWithProviders(logger *logger.Logger, providers ...base.Provider) *Factory {
	f := &Factory{
		providers: make(map[types.PaymentProvider]base.Provider, len(providers)),
		logger:    logger,
	}
	for _, p := range providers {
		f.providers[p.Name()] = p
	}
	return f
}

// GetProvider returns the adapter for the given provider
func (f *Factory) GetProvider(provider types.PaymentProvider) (base.Provider, error) {
	if p, ok := f.providers[provider]; ok {
		return p, nil
	}
	return nil, ierr.NewError("unsupported billing provider").
		WithHintf("Billing provider %s is not enabled", provider).
		WithReportableDetails(map[string]any{
			"provider":            provider,
			"supported_providers": f.GetSupportedProviders(),
		}).
		Mark(ierr.ErrInvalidOperation)
}

// GetSupportedProviders returns all enabled provider types
func (f *Factory) GetSupportedProviders() []types.PaymentProvider {
	out := lo.Keys(f.providers)
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// HasProvider checks if a provider is enabled
func (f *Factory) HasProvider(provider types.PaymentProvider) bool {
	_, ok := f.providers[provider]
	return ok
}
