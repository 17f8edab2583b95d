package reminder

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/pewsoft/subscriptions/internal/config"
	ierr "github.com/pewsoft/subscriptions/internal/errors"
	"github.com/pewsoft/subscriptions/internal/httpclient"
	"github.com/pewsoft/subscriptions/internal/logger"
	"github.com/pewsoft/subscriptions/internal/pubsub/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingClient struct {
	mu       sync.Mutex
	requests []*httpclient.Request
	status   int
}

func (c *recordingClient) Send(ctx context.Context, req *httpclient.Request) (*httpclient.Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.requests = append(c.requests, req)
	if c.status >= http.StatusBadRequest {
		return nil, httpclient.NewError(c.status, []byte("unavailable"))
	}
	return &httpclient.Response{StatusCode: http.StatusAccepted}, nil
}

func testConfig() *config.Configuration {
	cfg := config.GetDefaultConfig()
	cfg.Reminders.Enabled = true
	cfg.Reminders.Endpoint = "https://comms.example.com/v1/reminders"
	cfg.Reminders.APIKey = "secret"
	return cfg
}

func testReminder() *Reminder {
	return &Reminder{
		ID:             "rem_1",
		TenantID:       "tenant-a",
		SubscriptionID: "sub_1",
		PlanID:         "plan_1",
		PastDueSince:   time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
		DaysPastDue:    5,
		IdempotencyKey: "idem_1",
		QueuedAt:       time.Date(2026, 3, 6, 0, 0, 0, 0, time.UTC),
	}
}

func TestPublisherQueuesReminder(t *testing.T) {
	cfg := testConfig()
	log := logger.NewNopLogger()
	ps := memory.NewPubSub(log)
	defer ps.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	require.NoError(t, NewPublisher(ps, cfg, log).Publish(ctx, testReminder()))

	messages, err := ps.Subscribe(ctx, cfg.Reminders.Topic)
	require.NoError(t, err)

	select {
	case msg := <-messages:
		msg.Ack()
		assert.Equal(t, "rem_1", msg.UUID)
		assert.Equal(t, "tenant-a", msg.Metadata.Get("tenant_id"))
		assert.Equal(t, "idem_1", msg.Metadata.Get("idempotency_key"))

		var got Reminder
		require.NoError(t, json.Unmarshal(msg.Payload, &got))
		assert.Equal(t, "sub_1", got.SubscriptionID)
		assert.Equal(t, 5, got.DaysPastDue)
	case <-ctx.Done():
		t.Fatal("reminder was not published")
	}
}

func TestPublisherDisabled(t *testing.T) {
	cfg := testConfig()
	cfg.Reminders.Enabled = false
	log := logger.NewNopLogger()
	ps := memory.NewPubSub(log)
	defer ps.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	require.NoError(t, NewPublisher(ps, cfg, log).Publish(ctx, testReminder()))

	messages, err := ps.Subscribe(ctx, cfg.Reminders.Topic)
	require.NoError(t, err)
	select {
	case msg, ok := <-messages:
		if ok {
			t.Fatalf("unexpected message %s", msg.UUID)
		}
	case <-ctx.Done():
	}
}

func newMessage(t *testing.T, r *Reminder) *message.Message {
	payload, err := json.Marshal(r)
	require.NoError(t, err)
	return message.NewMessage(r.ID, payload)
}

func TestHandlerDeliversReminder(t *testing.T) {
	client := &recordingClient{}
	h := NewHandler(client, testConfig(), logger.NewNopLogger())

	require.NoError(t, h.processMessage(newMessage(t, testReminder())))

	require.Len(t, client.requests, 1)
	req := client.requests[0]
	assert.Equal(t, http.MethodPost, req.Method)
	assert.Equal(t, "https://comms.example.com/v1/reminders", req.URL)
	assert.Equal(t, "idem_1", req.Headers["Idempotency-Key"])
	assert.Equal(t, "secret", req.Headers["x-api-key"])
}

func TestHandlerReturnsDeliveryErrors(t *testing.T) {
	client := &recordingClient{status: http.StatusServiceUnavailable}
	h := NewHandler(client, testConfig(), logger.NewNopLogger())

	err := h.processMessage(newMessage(t, testReminder()))
	require.Error(t, err)
	httpErr, ok := httpclient.IsHTTPError(err)
	require.True(t, ok)
	assert.Equal(t, http.StatusServiceUnavailable, httpErr.StatusCode)
}

func TestHandlerSkipsWithoutEndpoint(t *testing.T) {
	cfg := testConfig()
	cfg.Reminders.Endpoint = ""
	client := &recordingClient{}
	h := NewHandler(client, cfg, logger.NewNopLogger())

	require.NoError(t, h.processMessage(newMessage(t, testReminder())))
	assert.Empty(t, client.requests)
}

func TestHandlerRejectsMalformedPayload(t *testing.T) {
	h := NewHandler(&recordingClient{}, testConfig(), logger.NewNopLogger())

	err := h.processMessage(message.NewMessage("rem_bad", []byte("not json")))
	assert.True(t, ierr.IsValidation(err))
}
