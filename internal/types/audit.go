package types

import "time"

// ActorType identifies who triggered an audited change
type ActorType string

const (
	ActorTypeUser    ActorType = "USER"
	ActorTypeAdmin   ActorType = "ADMIN"
	ActorTypeWebhook ActorType = "WEBHOOK"
	ActorTypeSystem  ActorType = "SYSTEM"
)

// AuditAction names the audited operation
type AuditAction string

const (
	AuditActionSubscriptionCreated       AuditAction = "subscription.created"
	AuditActionSubscriptionTransitioned  AuditAction = "subscription.transitioned"
	AuditActionSubscriptionAssigned      AuditAction = "subscription.assigned"
	AuditActionPlanChanged               AuditAction = "subscription.plan_changed"
	AuditActionPlanChangeScheduled       AuditAction = "subscription.plan_change_scheduled"
	AuditActionCancelScheduled           AuditAction = "subscription.cancel_scheduled"
	AuditActionCancelReverted            AuditAction = "subscription.cancel_reverted"
	AuditActionReminderQueued            AuditAction = "subscription.reminder_queued"
	AuditActionMetadataBackfilled        AuditAction = "subscription.metadata_backfilled"
	AuditActionWebhookProcessed          AuditAction = "webhook.processed"
	AuditActionPlanUpserted              AuditAction = "plan.upserted"
	AuditActionEntitlementOverrideSet    AuditAction = "entitlement.override_set"
	AuditActionEntitlementOverrideDelete AuditAction = "entitlement.override_deleted"
)

const (
	AuditEntitySubscription = "tenant_subscription"
	AuditEntityPlan         = "subscription_plan"
	AuditEntityWebhookEvent = "webhook_event"
	AuditEntityEntitlement  = "entitlement_override"
)

// AuditFilter selects audit rows
type AuditFilter struct {
	*QueryFilter

	TenantID string        `json:"tenant_id,omitempty" form:"tenant_id"`
	Actions  []AuditAction `json:"actions,omitempty" form:"actions"`
	EntityID string        `json:"entity_id,omitempty" form:"entity_id"`
	Since    *time.Time    `json:"since,omitempty" form:"since"`
}

func NewAuditFilter() *AuditFilter {
	return &AuditFilter{QueryFilter: NewDefaultQueryFilter()}
}
