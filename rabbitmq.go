package main

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog/log"
)

// RabbitPublisher copies dashboard events to RabbitMQ queues.
type RabbitPublisher struct {
	mu             sync.Mutex
	conn           *amqp091.Connection
	channel        *amqp091.Channel
	queue          string
	prefix         string
	specificEvents map[string]bool
	declared       map[string]bool
}

// NewRabbitPublisher connects to url. Events listed in specificEvents get a
// queue of their own, the rest share the default queue.
func NewRabbitPublisher(url, queue, prefix string, specificEvents []string) (*RabbitPublisher, error) {
	p := &RabbitPublisher{
		queue:          queue,
		prefix:         prefix,
		specificEvents: make(map[string]bool),
		declared:       make(map[string]bool),
	}
	for _, event := range specificEvents {
		if event = strings.TrimSpace(event); event != "" {
			p.specificEvents[event] = true
		}
	}
	if len(p.specificEvents) > 0 {
		log.Info().Interface("specificEvents", p.specificEvents).Msg("Specific RabbitMQ events configured")
	}

	var err error
	p.conn, err = amqp091.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("could not connect to RabbitMQ: %w", err)
	}
	p.channel, err = p.conn.Channel()
	if err != nil {
		p.conn.Close()
		return nil, fmt.Errorf("could not open RabbitMQ channel: %w", err)
	}
	log.Info().Str("queue", queue).Str("prefix", prefix).Msg("RabbitMQ connection established")
	return p, nil
}

// queueName returns the queue an event type is published to.
func (p *RabbitPublisher) queueName(eventType string) string {
	if p.specificEvents[eventType] {
		return p.prefix + "_" + strings.ToLower(eventType)
	}
	return p.prefix + "_" + p.queue
}

// PublishEvent publishes a JSON body to the event's queue, declaring it on first use.
func (p *RabbitPublisher) PublishEvent(ctx context.Context, eventType string, body []byte) error {
	queueName := p.queueName(eventType)

	// amqp channels are not safe for concurrent publishing
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.declared[queueName] {
		_, err := p.channel.QueueDeclare(
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
		p.declared[queueName] = true
	}

	err := p.channel.PublishWithContext(ctx,
		"",        // exchange (default)
		queueName, // routing key = queue
		false,     // mandatory
		false,     // immediate
		amqp091.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp091.Persistent,
			Type:         eventType,
			Body:         body,
		},
	)
	if err != nil {
		log.Error().Err(err).Str("queue", queueName).Msg("Could not publish to RabbitMQ")
		return err
	}
	log.Debug().Str("eventType", eventType).Str("queue", queueName).Msg("Published message to RabbitMQ")
	return nil
}

func (p *RabbitPublisher) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.channel != nil {
		p.channel.Close()
	}
	if p.conn != nil {
		p.conn.Close()
	}
}
