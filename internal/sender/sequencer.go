// Package sender serializes outbound chat messages per conversation.
package sender

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"atendimento/internal/ttlcache"
)

// Transport delivers one message to a conversation.
type Transport interface {
	Send(ctx context.Context, conversationID, body string) error
}

type job struct {
	ctx  context.Context
	body string
	done chan error
}

type lane struct {
	pending []job
}

// Sequencer sends messages for the same conversation strictly in enqueue order,
// drops identical bodies repeated inside the debounce window and waits Delay
// after every message. Different conversations progress independently.
type Sequencer struct {
	transport   Transport
	debounce    *ttlcache.Cache
	debounceTTL time.Duration
	delay       time.Duration

	mu    sync.Mutex
	lanes map[string]*lane

	closeOnce sync.Once
	closed    chan struct{}
}

// Config tunes a Sequencer.
type Config struct {
	DebounceTTL time.Duration
	Delay       time.Duration
}

func New(transport Transport, debounce *ttlcache.Cache, cfg Config) *Sequencer {
	return &Sequencer{
		transport:   transport,
		debounce:    debounce,
		debounceTTL: cfg.DebounceTTL,
		delay:       cfg.Delay,
		lanes:       make(map[string]*lane),
		closed:      make(chan struct{}),
	}
}

// Send queues body behind earlier messages of the conversation and waits for
// its outcome. A debounced duplicate returns nil. Transport errors are returned
// unchanged and never retried.
func (s *Sequencer) Send(ctx context.Context, conversationID, body string) error {
	done := s.push(ctx, conversationID, body)
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Enqueue queues body without waiting. Failures are only logged.
func (s *Sequencer) Enqueue(conversationID, body string) {
	done := s.push(context.Background(), conversationID, body)
	go func() {
		if err := <-done; err != nil {
			log.Error().Err(err).Str("conversationID", conversationID).Msg("Queued message could not be sent")
		}
	}()
}

// Pending returns how many conversations currently have messages in flight.
func (s *Sequencer) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.lanes)
}

// Close cuts short pending inter-message delays. Queued jobs still run.
func (s *Sequencer) Close() {
	s.closeOnce.Do(func() { close(s.closed) })
}

func (s *Sequencer) push(ctx context.Context, conversationID, body string) chan error {
	j := job{ctx: ctx, body: body, done: make(chan error, 1)}

	s.mu.Lock()
	l, running := s.lanes[conversationID]
	if !running {
		l = &lane{}
		s.lanes[conversationID] = l
	}
	l.pending = append(l.pending, j)
	s.mu.Unlock()

	if !running {
		go s.drain(conversationID, l)
	}
	return j.done
}

func (s *Sequencer) drain(conversationID string, l *lane) {
	for {
		s.mu.Lock()
		if len(l.pending) == 0 {
			delete(s.lanes, conversationID)
			s.mu.Unlock()
			return
		}
		j := l.pending[0]
		l.pending = l.pending[1:]
		s.mu.Unlock()

		j.done <- s.deliver(conversationID, j)
	}
}

func (s *Sequencer) deliver(conversationID string, j job) error {
	if err := j.ctx.Err(); err != nil {
		return err
	}

	key := conversationID + "|" + j.body
	if !s.debounce.MarkAndCheck(key, s.debounceTTL) {
		log.Debug().Str("conversationID", conversationID).Msg("Duplicate outbound message debounced")
		return nil
	}

	err := s.transport.Send(j.ctx, conversationID, j.body)
	if err != nil {
		s.debounce.Forget(key)
		log.Error().Err(err).Str("conversationID", conversationID).Msg("Failed to send message")
	} else {
		log.Debug().Str("conversationID", conversationID).Int("length", len(j.body)).Msg("Message sent")
	}

	if s.delay > 0 {
		t := time.NewTimer(s.delay)
		select {
		case <-t.C:
		case <-s.closed:
			t.Stop()
		}
	}
	return err
}
