package types

// MirrorKind names a provider-reconciliation mirror table
type MirrorKind string

const (
	MirrorKindInvoice MirrorKind = "invoice"
	MirrorKindPayout  MirrorKind = "payout"
	MirrorKindRefund  MirrorKind = "refund"
	MirrorKindDispute MirrorKind = "dispute"
)

// Normalized mirror statuses shared by both providers
const (
	InvoiceStatusDraft         = "draft"
	InvoiceStatusOpen          = "open"
	InvoiceStatusPaid          = "paid"
	InvoiceStatusUncollectible = "uncollectible"
	InvoiceStatusVoid          = "void"

	PayoutStatusPending = "pending"
	PayoutStatusPaid    = "paid"
	PayoutStatusFailed  = "failed"

	RefundStatusPending   = "pending"
	RefundStatusSucceeded = "succeeded"
	RefundStatusFailed    = "failed"

	DisputeStatusOpen = "open"
	DisputeStatusWon  = "won"
	DisputeStatusLost = "lost"
)

// Giving-module statuses read by the drift views
const (
	PaymentIntentStatusSucceeded = "succeeded"
	DonationStatusCompleted      = "completed"
)
