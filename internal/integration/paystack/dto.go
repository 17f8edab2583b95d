package paystack

import (
	"bytes"
	"encoding/json"
	"time"
)

// envelope wraps every Paystack API response
type envelope struct {
	Status  bool            `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

// webhookPayload is the body Paystack posts to the webhook endpoint
type webhookPayload struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

type initializeTransactionRequest struct {
	Email       string   `json:"email"`
	Amount      int64    `json:"amount"`
	Plan        string   `json:"plan,omitempty"`
	Currency    string   `json:"currency,omitempty"`
	CallbackURL string   `json:"callback_url,omitempty"`
	Metadata    metadata `json:"metadata,omitempty"`
}

type initializeTransactionResponse struct {
	AuthorizationURL string `json:"authorization_url"`
	AccessCode       string `json:"access_code"`
	Reference        string `json:"reference"`
}

type createSubscriptionRequest struct {
	Customer string `json:"customer"`
	Plan     string `json:"plan"`
}

// createSubscriptionResponse keeps plan and customer as ids, so only the codes are read
type createSubscriptionResponse struct {
	SubscriptionCode string     `json:"subscription_code"`
	EmailToken       string     `json:"email_token"`
	Status           string     `json:"status"`
	NextPaymentDate  *time.Time `json:"next_payment_date"`
}

type toggleSubscriptionRequest struct {
	Code  string `json:"code"`
	Token string `json:"token"`
}

type customerData struct {
	ID           int64    `json:"id"`
	CustomerCode string   `json:"customer_code"`
	Email        string   `json:"email"`
	Metadata     metadata `json:"metadata"`
}

type planData struct {
	PlanCode string `json:"plan_code"`
	Name     string `json:"name"`
	Interval string `json:"interval"`
	Amount   int64  `json:"amount"`
}

type subscriptionData struct {
	ID               int64        `json:"id"`
	SubscriptionCode string       `json:"subscription_code"`
	EmailToken       string       `json:"email_token"`
	Status           string       `json:"status"`
	Amount           int64        `json:"amount"`
	NextPaymentDate  *time.Time   `json:"next_payment_date"`
	CreatedAt        *time.Time   `json:"createdAt"`
	Plan             planField    `json:"plan"`
	Customer         customerData `json:"customer"`
}

type chargeData struct {
	ID        int64        `json:"id"`
	Reference string       `json:"reference"`
	Amount    int64        `json:"amount"`
	Currency  string       `json:"currency"`
	Status    string       `json:"status"`
	PaidAt    *time.Time   `json:"paid_at"`
	Metadata  metadata     `json:"metadata"`
	Customer  customerData `json:"customer"`
	Plan      planField    `json:"plan"`
}

type invoiceData struct {
	ID           int64            `json:"id"`
	InvoiceCode  string           `json:"invoice_code"`
	Amount       int64            `json:"amount"`
	Status       string           `json:"status"`
	Paid         bool             `json:"paid"`
	PaidAt       *time.Time       `json:"paid_at"`
	PeriodStart  *time.Time       `json:"period_start"`
	PeriodEnd    *time.Time       `json:"period_end"`
	Subscription subscriptionData `json:"subscription"`
	Customer     customerData     `json:"customer"`
	Transaction  struct {
		Reference string `json:"reference"`
		Currency  string `json:"currency"`
	} `json:"transaction"`
}

type transferData struct {
	ID            int64      `json:"id"`
	TransferCode  string     `json:"transfer_code"`
	Reference     string     `json:"reference"`
	Amount        int64      `json:"amount"`
	Currency      string     `json:"currency"`
	Status        string     `json:"status"`
	TransferredAt *time.Time `json:"transferred_at"`
	Recipient     struct {
		Metadata metadata `json:"metadata"`
	} `json:"recipient"`
}

type refundData struct {
	ID                   int64        `json:"id"`
	Status               string       `json:"status"`
	TransactionReference string       `json:"transaction_reference"`
	RefundReference      string       `json:"refund_reference"`
	Amount               int64        `json:"amount"`
	Currency             string       `json:"currency"`
	Customer             customerData `json:"customer"`
}

type disputeData struct {
	ID           int64      `json:"id"`
	RefundAmount int64      `json:"refund_amount"`
	Currency     string     `json:"currency"`
	Status       string     `json:"status"`
	Resolution   string     `json:"resolution"`
	Category     string     `json:"category"`
	DueAt        *time.Time `json:"due_at"`
	Transaction  struct {
		Reference string   `json:"reference"`
		Amount    int64    `json:"amount"`
		Currency  string   `json:"currency"`
		Metadata  metadata `json:"metadata"`
	} `json:"transaction"`
	Customer customerData `json:"customer"`
}

// metadata accepts an object, a JSON-encoded string or an empty value; Paystack sends all three
type metadata map[string]any

func (m *metadata) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		if s == "" {
			return nil
		}
		b = []byte(s)
	}
	if b[0] != '{' {
		return nil
	}
	out := map[string]any{}
	if err := json.Unmarshal(b, &out); err != nil {
		return err
	}
	*m = out
	return nil
}

func (m metadata) String(key string) string {
	if v, ok := m[key].(string); ok {
		return v
	}
	return ""
}

// planField accepts a plan object or a bare plan code; numeric plan ids are ignored
type planField struct {
	planData
}

func (p *planField) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 {
		return nil
	}
	switch b[0] {
	case '"':
		return json.Unmarshal(b, &p.PlanCode)
	case '{':
		return json.Unmarshal(b, &p.planData)
	default:
		return nil
	}
}
