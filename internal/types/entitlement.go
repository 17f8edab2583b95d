package types

// EntitlementSource tells where a snapshot's values came from
type EntitlementSource string

const (
	EntitlementSourcePlan                 EntitlementSource = "plan"
	EntitlementSourceInactiveSubscription EntitlementSource = "inactive_subscription"
	EntitlementSourceNoSubscription       EntitlementSource = "no_subscription"
)

// AccessMode is the gate decision for a feature
type AccessMode string

const (
	AccessModeEnabled  AccessMode = "enabled"
	AccessModeReadOnly AccessMode = "read_only"
	AccessModeLocked   AccessMode = "locked"
)
