package memory

import (
	"context"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/pewsoft/subscriptions/internal/logger"
	"github.com/pewsoft/subscriptions/internal/pubsub"
)

var _ pubsub.PubSub = (*PubSub)(nil)

// PubSub is the in-process transport used by local mode, scripts and tests.
// Reminders queued here are lost on restart.
type PubSub struct {
	channel *gochannel.GoChannel
	logger  *logger.Logger
}

func NewPubSub(logger *logger.Logger) pubsub.PubSub {
	return &PubSub{
		channel: gochannel.NewGoChannel(gochannel.Config{
			// a dunning run can queue before the router has subscribed
			Persistent:          true,
			OutputChannelBuffer: 100,
		}, logger.GetWatermillLogger()),
		logger: logger,
	}
}

func (p *PubSub) Publish(ctx context.Context, topic string, msg *message.Message) error {
	msg.SetContext(ctx)
	p.logger.Debugw("publishing to memory topic",
		"topic", topic,
		"message_uuid", msg.UUID,
		"tenant_id", msg.Metadata.Get(pubsub.MetadataTenantID),
	)
	return p.channel.Publish(topic, msg)
}

func (p *PubSub) Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error) {
	return p.channel.Subscribe(ctx, topic)
}

func (p *PubSub) Close() error {
	return p.channel.Close()
}
