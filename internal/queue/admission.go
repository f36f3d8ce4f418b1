// Package queue caps the number of concurrently active conversations and
// promotes waiting ones in arrival order as capacity frees up.
package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"atendimento/internal/menu"
	"atendimento/internal/models"
	"atendimento/internal/repository"
	"atendimento/internal/state"
)

// Sender is the outbound side of the sequencer the controller needs.
type Sender interface {
	Enqueue(conversationID, body string)
}

// Publisher pushes the queue snapshot to the dashboard.
type Publisher interface {
	PublishSnapshot(ctx context.Context) error
}

// Archiver stores completed records outside the database.
type Archiver interface {
	ArchiveCompleted(ctx context.Context, records []models.Problem) error
}

// Admission is the outcome of registering a conversation.
type Admission struct {
	Status   models.Status
	Position int // 1-based, only for waiting
	Record   *models.Problem
}

// Controller serializes admission and completion so the active cap holds even
// when registrations arrive in bursts. The store-side conditional insert keeps
// the cap when several processes share a database.
type Controller struct {
	mu sync.Mutex

	problems  repository.Problems
	states    *state.Store
	sender    Sender
	publisher Publisher
	catalog   *menu.Catalog
	archiver  Archiver

	maxActive int
	now       func() time.Time
}

func New(problems repository.Problems, states *state.Store, sender Sender, publisher Publisher, catalog *menu.Catalog, maxActive int) *Controller {
	if maxActive < 1 {
		maxActive = 1
	}
	return &Controller{
		problems:  problems,
		states:    states,
		sender:    sender,
		publisher: publisher,
		catalog:   catalog,
		maxActive: maxActive,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// WithArchiver enables archiving of completed records.
func (c *Controller) WithArchiver(a Archiver) *Controller {
	c.archiver = a
	return c
}

func (c *Controller) WithClock(now func() time.Time) *Controller {
	c.now = now
	return c
}

func (c *Controller) MaxActive() int { return c.maxActive }

// Admit registers a new conversation occurrence as active when there is room,
// otherwise as waiting with its queue position. Sending the menu to an admitted
// conversation is left to the caller.
func (c *Controller) Admit(ctx context.Context, profile models.Profile) (Admission, error) {
	c.mu.Lock()
	p := models.NewProblem(profile, "")
	p.CreatedAt = c.now()
	status, err := c.problems.Admit(ctx, p, c.maxActive)
	if err != nil {
		c.mu.Unlock()
		return Admission{}, fmt.Errorf("admit %s: %w", profile.ConversationID, err)
	}
	adm := Admission{Status: status, Record: p}
	if status == models.StatusWaiting {
		adm.Position, err = c.problems.WaitingPosition(ctx, p.ID)
		if err != nil {
			c.mu.Unlock()
			return adm, fmt.Errorf("position of %s: %w", profile.ConversationID, err)
		}
	}
	c.mu.Unlock()

	log.Info().
		Str("conversationID", profile.ConversationID).
		Int64("recordID", p.ID).
		Str("status", string(status)).
		Int("position", adm.Position).
		Msg("Conversation admitted")
	c.publish(ctx)
	return adm, nil
}

// Position returns the current queue rank of a waiting record.
func (c *Controller) Position(ctx context.Context, recordID int64) (int, error) {
	return c.problems.WaitingPosition(ctx, recordID)
}

// Complete closes the conversation's records, frees its slot for the oldest
// waiting conversation and tells everyone still waiting their new position.
// A repository failure aborts the remaining steps; messages already queued are
// not taken back. The caller holds the conversation lock of state.Store.
func (c *Controller) Complete(ctx context.Context, conversationID string, recordID int64) error {
	c.mu.Lock()
	err := c.completeLocked(ctx, conversationID, recordID)
	c.mu.Unlock()
	if err != nil {
		log.Error().Err(err).Str("conversationID", conversationID).Int64("recordID", recordID).Msg("Completion flow aborted")
		return err
	}
	c.publish(ctx)
	return nil
}

// End is the operator-initiated completion. It takes the conversation lock, so
// it never interleaves with a message the dialog is handling, and the user is
// told the chat ended only once the records are closed.
func (c *Controller) End(ctx context.Context, conversationID string, recordID int64) error {
	unlock := c.states.Lock(conversationID)
	defer unlock()
	if err := c.Complete(ctx, conversationID, recordID); err != nil {
		return err
	}
	c.sender.Enqueue(conversationID, c.catalog.Ended())
	return nil
}

func (c *Controller) completeLocked(ctx context.Context, conversationID string, recordID int64) error {
	done, err := c.problems.Complete(ctx, conversationID, recordID, c.now())
	if err != nil {
		return err
	}
	c.states.Clear(conversationID)
	log.Info().Str("conversationID", conversationID).Int("records", len(done)).Msg("Conversation completed")

	if c.archiver != nil && len(done) > 0 {
		if err := c.archiver.ArchiveCompleted(ctx, done); err != nil {
			log.Error().Err(err).Str("conversationID", conversationID).Msg("Failed to archive completed records")
		}
	}

	promoted, err := c.promoteLocked(ctx)
	if err != nil {
		return err
	}
	if promoted || len(done) > 0 {
		return c.pushPositionsLocked(ctx)
	}
	return nil
}

func (c *Controller) promoteLocked(ctx context.Context) (bool, error) {
	active, err := c.problems.CountByStatus(ctx, models.StatusActive)
	if err != nil {
		return false, err
	}
	if active >= c.maxActive {
		return false, nil
	}

	next, err := c.problems.OldestWaiting(ctx)
	if errors.Is(err, repository.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := c.problems.Activate(ctx, next.ID); err != nil {
		return false, err
	}

	c.states.Set(next.ConversationID, state.Menu())
	c.sender.Enqueue(next.ConversationID, c.catalog.YourTurn(next.Name))
	c.sender.Enqueue(next.ConversationID, c.catalog.TopMenu())
	log.Info().Str("conversationID", next.ConversationID).Int64("recordID", next.ID).Msg("Waiting conversation promoted")
	return true, nil
}

func (c *Controller) pushPositionsLocked(ctx context.Context) error {
	waiting, err := c.problems.List(ctx, repository.ListQuery{Status: models.StatusWaiting})
	if err != nil {
		return err
	}
	for i, w := range waiting {
		c.sender.Enqueue(w.ConversationID, c.catalog.QueuePosition(i+1))
	}
	if len(waiting) > 0 {
		log.Debug().Int("waiting", len(waiting)).Msg("Queue positions pushed")
	}
	return nil
}

// Attend hands the conversation to a human attendant. A conversation that
// already holds the active slot keeps it; a waiting one is only activated when
// the cap allows (repository.ErrQueueFull otherwise) and the rest of the queue
// is told its new position.
func (c *Controller) Attend(ctx context.Context, conversationID, attendantID string) (*models.Problem, error) {
	unlock := c.states.Lock(conversationID)
	defer unlock()

	c.mu.Lock()
	prior, err := c.problems.Current(ctx, conversationID)
	if err != nil {
		c.mu.Unlock()
		return nil, fmt.Errorf("attend %s: %w", conversationID, err)
	}
	p, err := c.problems.Attend(ctx, conversationID, attendantID, c.maxActive)
	if err == nil && prior.Status == models.StatusWaiting {
		err = c.pushPositionsLocked(ctx)
	}
	c.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("attend %s: %w", conversationID, err)
	}

	c.states.Set(conversationID, state.Human())
	c.sender.Enqueue(conversationID, c.catalog.Attending(attendantID))
	log.Info().Str("conversationID", conversationID).Str("attendantID", attendantID).Int64("recordID", p.ID).Msg("Problem attended")
	c.publish(ctx)
	return p, nil
}

// Rate stores the post-completion feedback of a record.
func (c *Controller) Rate(ctx context.Context, recordID int64, rating int) error {
	if err := c.problems.SetFeedback(ctx, recordID, rating); err != nil {
		return fmt.Errorf("rate %d: %w", recordID, err)
	}
	c.publish(ctx)
	return nil
}

func (c *Controller) publish(ctx context.Context) {
	if c.publisher == nil {
		return
	}
	if err := c.publisher.PublishSnapshot(ctx); err != nil {
		log.Error().Err(err).Msg("Failed to publish queue snapshot")
	}
}
