package main

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// DeliveryStatus is where a dashboard event is in its trip to the outside.
type DeliveryStatus string

const (
	DeliveryStatusPending   DeliveryStatus = "pending"
	DeliveryStatusDelivered DeliveryStatus = "delivered"
	DeliveryStatusFailed    DeliveryStatus = "failed"
)

// Channel names as reported in DeliveryEvent.Delivered and LastError.
const (
	channelWebhook  = "webhook"
	channelRabbitMQ = "rabbitmq"
)

// DeliveryEvent is a dashboard event on its way to the external channels.
// Delivered lists the channels that already accepted it; retries skip them.
type DeliveryEvent struct {
	ID           string          `json:"id"`
	EventType    string          `json:"event_type"`
	JsonData     json.RawMessage `json:"json_data"`
	CreatedAt    time.Time       `json:"created_at"`
	AttemptCount int             `json:"attempt_count"`
	Status       DeliveryStatus  `json:"status"`
	LastError    string          `json:"last_error,omitempty"`
	Delivered    []string        `json:"delivered,omitempty"`
}

func (e *DeliveryEvent) deliveredTo(channel string) bool {
	for _, c := range e.Delivered {
		if c == channel {
			return true
		}
	}
	return false
}

// DeliveryResult is one channel's answer for one attempt.
type DeliveryResult struct {
	Channel   string    `json:"channel"`
	Success   bool      `json:"success"`
	Error     string    `json:"error,omitempty"`
	Duration  int64     `json:"duration_ms"`
	Timestamp time.Time `json:"timestamp"`
}

// EventPublisher is the message broker side of the fan-out.
type EventPublisher interface {
	PublishEvent(ctx context.Context, eventType string, body []byte) error
}

type deliveryChannel struct {
	name    string
	deliver func(ctx context.Context, event DeliveryEvent) error
}

// DeliveryManager copies queue events (statusUpdate, userProblem) to the
// global webhook and RabbitMQ so systems other than the dashboard can follow
// the queue. Failed channels are retried up to maxRetries attempts.
type DeliveryManager struct {
	mu      sync.RWMutex
	pending map[string]*DeliveryEvent

	maxRetries   int
	retryBackoff time.Duration
	timeout      time.Duration

	webhookURL string
	http       *resty.Client
	rabbit     EventPublisher
	channels   []deliveryChannel

	stop     chan struct{}
	stopOnce sync.Once
}

// NewDeliveryManager returns a manager for the configured channels; an empty
// webhookURL or a nil rabbit leaves that channel out.
func NewDeliveryManager(webhookURL string, rabbit EventPublisher) *DeliveryManager {
	dm := &DeliveryManager{
		pending:      make(map[string]*DeliveryEvent),
		maxRetries:   3,
		retryBackoff: 2 * time.Second,
		timeout:      10 * time.Second,
		webhookURL:   webhookURL,
		http:         resty.New().SetTimeout(5 * time.Second),
		rabbit:       rabbit,
		stop:         make(chan struct{}),
	}
	if webhookURL != "" {
		dm.channels = append(dm.channels, deliveryChannel{name: channelWebhook, deliver: dm.postWebhook})
	}
	if rabbit != nil {
		dm.channels = append(dm.channels, deliveryChannel{name: channelRabbitMQ, deliver: dm.publishRabbit})
	}
	log.Info().
		Int("maxRetries", dm.maxRetries).
		Strs("channels", dm.ChannelNames()).
		Msg("Queue event delivery ready")
	return dm
}

// Enabled reports whether any channel is configured.
func (dm *DeliveryManager) Enabled() bool { return len(dm.channels) > 0 }

// ChannelNames lists the configured channels in delivery order.
func (dm *DeliveryManager) ChannelNames() []string {
	names := make([]string, 0, len(dm.channels))
	for _, c := range dm.channels {
		names = append(names, c.name)
	}
	return names
}

// Start launches the retry loop; Stop ends it.
func (dm *DeliveryManager) Start() {
	go dm.retryLoop()
}

func (dm *DeliveryManager) Stop() {
	dm.stopOnce.Do(func() { close(dm.stop) })
}

// Broadcast wraps payload as {"event", "data"}, the same frame the dashboard
// receives, and queues it for delivery.
func (dm *DeliveryManager) Broadcast(eventType string, payload any) {
	if !dm.Enabled() {
		return
	}
	data, err := json.Marshal(map[string]any{"event": eventType, "data": payload})
	if err != nil {
		log.Error().Err(err).Str("eventType", eventType).Msg("Failed to encode queue event for delivery")
		return
	}
	dm.DeliverEvent(&DeliveryEvent{EventType: eventType, JsonData: data})
}

// DeliverEvent registers event as pending and makes the first attempt in the
// background.
func (dm *DeliveryManager) DeliverEvent(event *DeliveryEvent) {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	event.CreatedAt = time.Now()
	event.Status = DeliveryStatusPending

	dm.mu.Lock()
	dm.pending[event.ID] = event
	dm.mu.Unlock()

	go dm.attempt(event.ID)
}

// attempt sends the event to every channel that has not accepted it yet, in
// parallel, then records the outcome.
func (dm *DeliveryManager) attempt(eventID string) {
	dm.mu.RLock()
	event, ok := dm.pending[eventID]
	var snapshot DeliveryEvent
	if ok {
		snapshot = *event
	}
	dm.mu.RUnlock()
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), dm.timeout)
	defer cancel()

	results := make(chan DeliveryResult, len(dm.channels))
	var wg sync.WaitGroup
	for _, ch := range dm.channels {
		if snapshot.deliveredTo(ch.name) {
			continue
		}
		wg.Add(1)
		go func(ch deliveryChannel) {
			defer wg.Done()
			start := time.Now()
			err := ch.deliver(ctx, snapshot)
			res := DeliveryResult{Channel: ch.name, Success: err == nil, Duration: time.Since(start).Milliseconds(), Timestamp: start}
			if err != nil {
				res.Error = err.Error()
			}
			results <- res
		}(ch)
	}
	wg.Wait()
	close(results)

	dm.record(eventID, results)
}

func (dm *DeliveryManager) record(eventID string, results <-chan DeliveryResult) {
	dm.mu.Lock()
	defer dm.mu.Unlock()
	event, ok := dm.pending[eventID]
	if !ok {
		return
	}

	var failure string
	for res := range results {
		l := log.Debug()
		if !res.Success {
			l = log.Warn()
			failure = res.Channel + ": " + res.Error
		} else if !event.deliveredTo(res.Channel) {
			event.Delivered = append(event.Delivered, res.Channel)
		}
		l.Str("eventID", eventID).
			Str("channel", res.Channel).
			Bool("success", res.Success).
			Int64("durationMs", res.Duration).
			Str("error", res.Error).
			Msg("Queue event delivery attempt")
	}

	if failure == "" {
		event.Status = DeliveryStatusDelivered
		delete(dm.pending, eventID)
		return
	}

	event.AttemptCount++
	event.LastError = failure
	if event.AttemptCount >= dm.maxRetries {
		event.Status = DeliveryStatusFailed
		delete(dm.pending, eventID)
		log.Error().
			Str("eventID", eventID).
			Str("eventType", event.EventType).
			Int("attempts", event.AttemptCount).
			Str("lastError", failure).
			Msg("Queue event dropped after retries")
	}
}

func (dm *DeliveryManager) postWebhook(ctx context.Context, event DeliveryEvent) error {
	resp, err := dm.http.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetHeader("X-Event-Id", event.ID).
		SetHeader("X-Event-Type", event.EventType).
		SetBody([]byte(event.JsonData)).
		Post(dm.webhookURL)
	if err != nil {
		return err
	}
	if resp.IsError() {
		return fmt.Errorf("webhook responded %d", resp.StatusCode())
	}
	return nil
}

func (dm *DeliveryManager) publishRabbit(ctx context.Context, event DeliveryEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return dm.rabbit.PublishEvent(ctx, event.EventType, event.JsonData)
}

func (dm *DeliveryManager) retryLoop() {
	ticker := time.NewTicker(dm.retryBackoff)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			dm.retryFailedEvents()
		case <-dm.stop:
			return
		}
	}
}

// retryFailedEvents makes another attempt for every event that already failed
// at least once and is older than the backoff. It returns how many it retried.
func (dm *DeliveryManager) retryFailedEvents() int {
	dm.mu.RLock()
	var due []string
	for id, event := range dm.pending {
		if event.AttemptCount > 0 && time.Since(event.CreatedAt) > dm.retryBackoff {
			due = append(due, id)
		}
	}
	dm.mu.RUnlock()

	for _, id := range due {
		go dm.attempt(id)
	}
	if len(due) > 0 {
		log.Info().Int("events", len(due)).Msg("Retrying queue event delivery")
	}
	return len(due)
}

// Retry gives a pending event a fresh set of attempts.
func (dm *DeliveryManager) Retry(eventID string) bool {
	dm.mu.Lock()
	event, ok := dm.pending[eventID]
	if ok {
		event.AttemptCount = 0
	}
	dm.mu.Unlock()
	if ok {
		go dm.attempt(eventID)
	}
	return ok
}

// GetPendingEventsCount returns the number of events not yet delivered.
func (dm *DeliveryManager) GetPendingEventsCount() int {
	dm.mu.RLock()
	defer dm.mu.RUnlock()
	return len(dm.pending)
}

// GetEventStatus returns a copy of a pending event.
func (dm *DeliveryManager) GetEventStatus(eventID string) (DeliveryEvent, bool) {
	dm.mu.RLock()
	defer dm.mu.RUnlock()
	event, ok := dm.pending[eventID]
	if !ok {
		return DeliveryEvent{}, false
	}
	cp := *event
	cp.Delivered = append([]string(nil), event.Delivered...)
	return cp, true
}

// PendingEvents returns up to limit pending events, oldest first, filtered by
// event type when eventType is set. limit <= 0 returns all of them.
func (dm *DeliveryManager) PendingEvents(eventType string, limit int) []DeliveryEvent {
	dm.mu.RLock()
	events := make([]DeliveryEvent, 0, len(dm.pending))
	for _, event := range dm.pending {
		if eventType == "" || event.EventType == eventType {
			cp := *event
			cp.Delivered = append([]string(nil), event.Delivered...)
			events = append(events, cp)
		}
	}
	dm.mu.RUnlock()

	sort.Slice(events, func(i, j int) bool { return events[i].CreatedAt.Before(events[j].CreatedAt) })
	if limit > 0 && len(events) > limit {
		events = events[:limit]
	}
	return events
}
