package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog/log"
)

// AMQPDispatcher publishes events as JSON to durable RabbitMQ queues. Queue
// names are prefixed so multiple deployments can share a broker.
type AMQPDispatcher struct {
	mu      sync.Mutex
	conn    *amqp091.Connection
	channel *amqp091.Channel
	prefix  string

	declared map[string]bool
}

func NewAMQPDispatcher(url, prefix string) (*AMQPDispatcher, error) {
	conn, err := amqp091.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("could not connect to RabbitMQ: %w", err)
	}
	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("could not open RabbitMQ channel: %w", err)
	}

	log.Info().Str("prefix", prefix).Msg("RabbitMQ connection established")
	return &AMQPDispatcher{
		conn:     conn,
		channel:  channel,
		prefix:   prefix,
		declared: make(map[string]bool),
	}, nil
}

func (d *AMQPDispatcher) EmitNewMessage(ctx context.Context, ev NewMessageEvent) error {
	return d.publish(ctx, d.prefix+"_messages", ev)
}

func (d *AMQPDispatcher) EmitStatusChange(ctx context.Context, ev StatusChangeEvent) error {
	return d.publish(ctx, d.prefix+"_statuses", ev)
}

func (d *AMQPDispatcher) publish(ctx context.Context, queueName string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("could not marshal event: %w", err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.declared[queueName] {
		// Declare queue (idempotent)
		_, err := d.channel.QueueDeclare(
			queueName,
			true,  // durable
			false, // auto-delete
			false, // exclusive
			false, // no-wait
			nil,   // arguments
		)
		if err != nil {
			log.Error().Err(err).Str("queue", queueName).Msg("Could not declare RabbitMQ queue")
			return err
		}
		d.declared[queueName] = true
	}

	err = d.channel.PublishWithContext(ctx,
		"",        // exchange (default)
		queueName, // routing key = queue
		false,     // mandatory
		false,     // immediate
		amqp091.Publishing{
			ContentType: "application/json",
			Body:        data,
		},
	)
	if err != nil {
		log.Error().Err(err).Str("queue", queueName).Msg("Could not publish to RabbitMQ")
		return err
	}
	log.Debug().Str("queue", queueName).Msg("Published event to RabbitMQ")
	return nil
}

func (d *AMQPDispatcher) Close() error {
	if err := d.channel.Close(); err != nil {
		return err
	}
	return d.conn.Close()
}
