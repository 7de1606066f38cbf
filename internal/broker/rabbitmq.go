package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"realtime_core/internal/domain"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

const (
	ExchangeGroups = "chat.groups"

	routingPrefix = "group."
)

// RabbitMQClient is a cross-process group transport. Every node owns one
// exclusive queue and binds it to the routing keys of the channels it has
// local subscribers for.
type RabbitMQClient struct {
	conn  *amqp.Connection
	log   *zap.Logger
	queue string

	mu      sync.Mutex
	channel *amqp.Channel

	deliveries chan domain.GroupEnvelope
}

func NewRabbitMQClient(url, nodeID string, log *zap.Logger) (*RabbitMQClient, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to rabbitmq: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	err = ch.ExchangeDeclare(
		ExchangeGroups, // name
		"topic",        // type
		true,           // durable
		false,          // auto-deleted
		false,          // internal
		false,          // no-wait
		nil,            // arguments
	)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to declare groups exchange: %w", err)
	}

	q, err := ch.QueueDeclare(
		"node."+nodeID, // name
		false,          // durable
		true,           // delete when unused
		true,           // exclusive
		false,          // no-wait
		nil,            // arguments
	)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to declare node queue: %w", err)
	}

	msgs, err := ch.Consume(
		q.Name, "", true, true, false, false, nil,
	)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to register consumer: %w", err)
	}

	c := &RabbitMQClient{
		conn:       conn,
		log:        log,
		queue:      q.Name,
		channel:    ch,
		deliveries: make(chan domain.GroupEnvelope, 1024),
	}
	go c.pump(msgs)
	return c, nil
}

func (c *RabbitMQClient) pump(msgs <-chan amqp.Delivery) {
	defer close(c.deliveries)
	for d := range msgs {
		var env domain.GroupEnvelope
		if err := json.Unmarshal(d.Body, &env); err != nil {
			c.log.Warn("dropping malformed group envelope", zap.String("routing_key", d.RoutingKey), zap.Error(err))
			continue
		}
		c.deliveries <- env
	}
}

func routingKey(channel domain.ChannelKey) string {
	return routingPrefix + string(channel)
}

func (c *RabbitMQClient) Send(ctx context.Context, channel domain.ChannelKey, evt domain.GroupEvent) error {
	body, err := json.Marshal(domain.GroupEnvelope{Channel: channel, Event: evt})
	if err != nil {
		return fmt.Errorf("failed to marshal group envelope: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	return c.channel.PublishWithContext(ctx,
		ExchangeGroups,      // exchange
		routingKey(channel), // routing key
		false,               // mandatory
		false,               // immediate
		amqp.Publishing{
			ContentType: "application/json",
			Body:        body,
		},
	)
}

func (c *RabbitMQClient) Join(channel domain.ChannelKey) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.channel.QueueBind(c.queue, routingKey(channel), ExchangeGroups, false, nil); err != nil {
		return fmt.Errorf("failed to bind %s: %w", channel, err)
	}
	return nil
}

func (c *RabbitMQClient) Leave(channel domain.ChannelKey) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.channel.QueueUnbind(c.queue, routingKey(channel), ExchangeGroups, nil); err != nil {
		return fmt.Errorf("failed to unbind %s: %w", channel, err)
	}
	return nil
}

func (c *RabbitMQClient) Deliveries() <-chan domain.GroupEnvelope {
	return c.deliveries
}

func (c *RabbitMQClient) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.channel != nil {
		c.channel.Close()
	}
	if c.conn != nil {
		c.conn.Close()
	}
}
