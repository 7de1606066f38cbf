package outbox

import (
	"context"
	"encoding/json"
	"fmt"

	"realtime_core/internal/domain"
	"realtime_core/internal/events"

	"github.com/rabbitmq/rabbitmq-stream-go-client/pkg/amqp"
	"github.com/rabbitmq/rabbitmq-stream-go-client/pkg/stream"
	"go.uber.org/zap"
)

// StreamConsumer reads domain events off the stream and republishes them on
// the local bus. Handlers must tolerate duplicates: every node consumes every
// event.
type StreamConsumer struct {
	env        *stream.Environment
	bus        events.Publisher
	streamName string
	log        *zap.Logger
}

func NewStreamConsumer(env *stream.Environment, bus events.Publisher, streamName string, log *zap.Logger) *StreamConsumer {
	return &StreamConsumer{env: env, bus: bus, streamName: streamName, log: log}
}

// Start blocks until ctx is done.
func (c *StreamConsumer) Start(ctx context.Context) error {
	consumer, err := c.env.NewConsumer(
		c.streamName,
		func(_ stream.ConsumerContext, message *amqp.Message) {
			c.process(ctx, message.GetData())
		},
		stream.NewConsumerOptions().
			SetOffset(stream.OffsetSpecification{}.Next()),
	)
	if err != nil {
		return fmt.Errorf("failed to start stream consumer: %w", err)
	}
	defer consumer.Close()

	c.log.Info("stream consumer started", zap.String("stream", c.streamName))
	<-ctx.Done()
	return nil
}

func (c *StreamConsumer) process(ctx context.Context, data []byte) {
	var evt domain.OutboxEvent
	if err := json.Unmarshal(data, &evt); err != nil {
		c.log.Warn("failed to unmarshal stream event", zap.Error(err))
		return
	}
	if evt.EventType == "" {
		c.log.Warn("stream event without type", zap.String("event_id", evt.ID.String()))
		return
	}
	if err := c.bus.Publish(ctx, &evt); err != nil {
		c.log.Warn("stream event handling failed",
			zap.String("event_type", evt.EventType), zap.String("event_id", evt.ID.String()), zap.Error(err))
	}
}
