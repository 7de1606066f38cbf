package outbox

import (
	"context"
	"encoding/json"
	"fmt"

	"realtime_core/internal/domain"

	"github.com/rabbitmq/rabbitmq-stream-go-client/pkg/amqp"
	"github.com/rabbitmq/rabbitmq-stream-go-client/pkg/stream"
)

// StreamPublisher appends domain events to a RabbitMQ stream. Every node's
// StreamConsumer replays them into its local bus.
type StreamPublisher struct {
	producer *stream.Producer
}

func NewStreamPublisher(env *stream.Environment, streamName string) (*StreamPublisher, error) {
	producer, err := env.NewProducer(streamName, stream.NewProducerOptions())
	if err != nil {
		return nil, fmt.Errorf("failed to create stream producer: %w", err)
	}
	return &StreamPublisher{producer: producer}, nil
}

func (p *StreamPublisher) Publish(_ context.Context, evt *domain.OutboxEvent) error {
	body, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	if err := p.producer.Send(amqp.NewMessage(body)); err != nil {
		return fmt.Errorf("failed to publish to stream: %w", err)
	}
	return nil
}

func (p *StreamPublisher) Close() error {
	return p.producer.Close()
}
