package testutil

import (
	"context"
	"time"

	"github.com/pewsoft/subscriptions/internal/cache"
	"github.com/pewsoft/subscriptions/internal/config"
	"github.com/pewsoft/subscriptions/internal/domain/plan"
	"github.com/pewsoft/subscriptions/internal/domain/subscription"
	"github.com/pewsoft/subscriptions/internal/integration"
	"github.com/pewsoft/subscriptions/internal/integration/manual"
	"github.com/pewsoft/subscriptions/internal/logger"
	"github.com/pewsoft/subscriptions/internal/postgres"
	"github.com/pewsoft/subscriptions/internal/sentry"
	"github.com/pewsoft/subscriptions/internal/types"
	"github.com/samber/lo"
	"github.com/stretchr/testify/suite"
)

// Stores holds all the in-memory repositories used in service tests
type Stores struct {
	PlanRepo         *InMemoryPlanStore
	SubscriptionRepo *InMemorySubscriptionStore
	OverrideRepo     *InMemoryOverrideStore
	BillingRepo      *InMemoryBillingStore
	WebhookEventRepo *InMemoryWebhookEventStore
	AuditRepo        *InMemoryAuditStore
	DriftRepo        *InMemoryDriftStore
}

// BaseServiceTestSuite provides common functionality for all service test suites
type BaseServiceTestSuite struct {
	suite.Suite
	ctx          context.Context
	stores       Stores
	db           *MockPostgresClient
	cache        cache.Cache
	sentry       *sentry.Service
	logger       *logger.Logger
	config       *config.Configuration
	now          time.Time
	stripe       *FakeProvider
	paystack     *FakeProvider
	integrations *integration.Factory
	reminders    *MockReminderPublisher
}

// SetupSuite is called once before running the tests in the suite
func (s *BaseServiceTestSuite) SetupSuite() {
	cfg := config.GetDefaultConfig()
	cfg.Logging.Level = types.LogLevelInfo
	cfg.Cache.Enabled = false
	cfg.Stripe.PortalReturnURL = "https://app.example.com/billing"
	cfg.Billing.EntitlementDenyList = []string{"sso"}

	s.config = cfg
	s.logger = logger.NewNopLogger()
	s.sentry = sentry.NewSentryService(cfg, s.logger)
}

// SetupTest is called before each test
func (s *BaseServiceTestSuite) SetupTest() {
	s.setupContext()
	s.setupStores()
	s.now = time.Now().UTC().Truncate(time.Second)
}

// TearDownTest is called after each test
func (s *BaseServiceTestSuite) TearDownTest() {
	s.clearStores()
}

func (s *BaseServiceTestSuite) setupContext() {
	s.ctx = SetupContext()
}

func (s *BaseServiceTestSuite) setupStores() {
	subs := NewInMemorySubscriptionStore()
	s.stores = Stores{
		PlanRepo:         NewInMemoryPlanStore(subs),
		SubscriptionRepo: subs,
		OverrideRepo:     NewInMemoryOverrideStore(),
		BillingRepo:      NewInMemoryBillingStore(),
		WebhookEventRepo: NewInMemoryWebhookEventStore(),
		AuditRepo:        NewInMemoryAuditStore(),
		DriftRepo:        NewInMemoryDriftStore(),
	}

	s.db = NewMockPostgresClient(s.logger)
	s.cache = cache.NewInMemoryCache(s.config, s.logger)
	s.stripe = NewFakeStripeProvider()
	s.paystack = NewFakePaystackProvider()
	s.integrations = integration.NewFactoryWithProviders(s.logger,
		manual.NewClient(s.logger),
		s.stripe,
		s.paystack,
	)
	s.reminders = NewMockReminderPublisher()
}

func (s *BaseServiceTestSuite) clearStores() {
	s.stores.PlanRepo.Clear()
	s.stores.SubscriptionRepo.Clear()
	s.stores.OverrideRepo.Clear()
	s.stores.BillingRepo.Clear()
	s.stores.WebhookEventRepo.Clear()
	s.stores.AuditRepo.Clear()
	s.stores.DriftRepo.Clear()
	s.reminders.Clear()
}

// GetContext returns the test context
func (s *BaseServiceTestSuite) GetContext() context.Context {
	return s.ctx
}

// GetConfig returns the test configuration
func (s *BaseServiceTestSuite) GetConfig() *config.Configuration {
	return s.config
}

// GetStores returns all test repositories
func (s *BaseServiceTestSuite) GetStores() Stores {
	return s.stores
}

// GetDB returns the test database client
func (s *BaseServiceTestSuite) GetDB() postgres.IClient {
	return s.db
}

// GetCache returns the test cache, disabled by default
func (s *BaseServiceTestSuite) GetCache() cache.Cache {
	return s.cache
}

// GetSentry returns a disabled sentry service
func (s *BaseServiceTestSuite) GetSentry() *sentry.Service {
	return s.sentry
}

// GetLogger returns the test logger
func (s *BaseServiceTestSuite) GetLogger() *logger.Logger {
	return s.logger
}

// GetIntegrations returns a factory holding the manual provider and the two fakes
func (s *BaseServiceTestSuite) GetIntegrations() *integration.Factory {
	return s.integrations
}

// GetStripe returns the fake Stripe provider
func (s *BaseServiceTestSuite) GetStripe() *FakeProvider {
	return s.stripe
}

// GetPaystack returns the fake Paystack provider
func (s *BaseServiceTestSuite) GetPaystack() *FakeProvider {
	return s.paystack
}

// GetReminderPublisher returns the recording reminder publisher
func (s *BaseServiceTestSuite) GetReminderPublisher() *MockReminderPublisher {
	return s.reminders
}

// GetNow returns the current test time
func (s *BaseServiceTestSuite) GetNow() time.Time {
	return s.now.UTC()
}

// GetUUID returns a new UUID string
func (s *BaseServiceTestSuite) GetUUID() string {
	return types.GenerateUUID()
}

// NewFeature builds a plan feature; a nil limit means unlimited
func NewFeature(key string, enabled bool, limit *int) *plan.Feature {
	return &plan.Feature{
		ID:      types.GenerateUUIDWithPrefix(types.UUID_PREFIX_PLAN_FEATURE),
		Key:     key,
		Enabled: enabled,
		Limit:   limit,
	}
}

// CreatePlan stores an active monthly USD plan with price refs for both providers
func (s *BaseServiceTestSuite) CreatePlan(code string, priceMinor int64, features ...*plan.Feature) *plan.Plan {
	p := &plan.Plan{
		ID:         types.GenerateUUIDWithPrefix(types.UUID_PREFIX_PLAN),
		Code:       code,
		Name:       code,
		Currency:   "USD",
		Interval:   types.BillingIntervalMonthly,
		PriceMinor: priceMinor,
		IsActive:   true,
		Metadata: types.Metadata{
			types.PlanMetadataStripePriceID:    "price_" + code,
			types.PlanMetadataPaystackPlanCode: "PLN_" + code,
		},
		BaseModel: types.GetDefaultBaseModel(s.ctx),
	}
	s.Require().NoError(s.stores.PlanRepo.Create(s.ctx, p))

	for _, f := range features {
		f.PlanID = p.ID
		f.BaseModel = types.GetDefaultBaseModel(s.ctx)
	}
	s.Require().NoError(s.stores.PlanRepo.ReplaceFeatures(s.ctx, p.ID, features))
	p.Features = features
	return p
}

// CreateSubscription stores a subscription row for tenantID on p. The row starts a
// month-long period at GetNow unless mutate says otherwise.
func (s *BaseServiceTestSuite) CreateSubscription(
	tenantID string,
	p *plan.Plan,
	status types.SubscriptionStatus,
	provider types.PaymentProvider,
	mutate ...func(*subscription.Subscription),
) *subscription.Subscription {
	now := s.GetNow()
	sub := &subscription.Subscription{
		ID:                 types.GenerateUUIDWithPrefix(types.UUID_PREFIX_SUBSCRIPTION),
		TenantID:           tenantID,
		PlanID:             p.ID,
		Status:             status,
		Provider:           provider,
		StartsAt:           now,
		CurrentPeriodStart: lo.ToPtr(now),
		CurrentPeriodEnd:   lo.ToPtr(p.PeriodEnd(now)),
		EverPaid:           status == types.SubscriptionStatusActive,
		BaseModel:          types.GetDefaultBaseModel(s.ctx),
	}
	for _, fn := range mutate {
		fn(sub)
	}
	s.Require().NoError(s.stores.SubscriptionRepo.Create(s.ctx, sub))

	stored, err := s.stores.SubscriptionRepo.Get(s.ctx, sub.ID)
	s.Require().NoError(err)
	return stored
}

// WithProviderRefs links a subscription row to provider ids
func WithProviderRefs(customerRef, subscriptionRef string) func(*subscription.Subscription) {
	return func(sub *subscription.Subscription) {
		sub.SetProviderRefs(subscription.ProviderRefs{
			Provider:        sub.Provider,
			CustomerRef:     customerRef,
			SubscriptionRef: subscriptionRef,
		})
	}
}
