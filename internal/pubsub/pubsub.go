package pubsub

import (
	"context"
	"encoding/json"

	"github.com/ThreeDotsLabs/watermill/message"
	ierr "github.com/pewsoft/subscriptions/internal/errors"
)

// Metadata keys set on every queued message
const (
	MetadataTenantID       = "tenant_id"
	MetadataIdempotencyKey = "idempotency_key"
	MetadataContentType    = "content_type"
)

// Publisher queues messages on a topic
type Publisher interface {
	Publish(ctx context.Context, topic string, msg *message.Message) error
	Close() error
}

// Subscriber streams messages of a topic until ctx is done
type Subscriber interface {
	Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error)
	Close() error
}

// PubSub is implemented by the memory and kafka transports
type PubSub interface {
	Publisher
	Subscriber
}

// NewJSONMessage encodes payload as the body of a message with id as its uuid
func NewJSONMessage(id string, payload any, metadata map[string]string) (*message.Message, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, ierr.WithError(err).
			WithHint("Failed to encode message").
			Mark(ierr.ErrSystem)
	}

	msg := message.NewMessage(id, body)
	msg.Metadata.Set(MetadataContentType, "application/json")
	for k, v := range metadata {
		msg.Metadata.Set(k, v)
	}
	return msg, nil
}

// DecodeJSON reads a message body. A body that fails to decode is marked
// ErrValidation since redelivery cannot fix it.
func DecodeJSON(msg *message.Message, out any) error {
	if err := json.Unmarshal(msg.Payload, out); err != nil {
		return ierr.WithError(err).
			WithHint("Invalid message payload").
			WithDetail("message_uuid", msg.UUID).
			Mark(ierr.ErrValidation)
	}
	return nil
}
