// Package dialog drives the scripted support conversation: registration,
// problem menus, help videos and hand-off to a human attendant.
package dialog

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"atendimento/internal/menu"
	"atendimento/internal/models"
	"atendimento/internal/queue"
	"atendimento/internal/repository"
	"atendimento/internal/state"
	"atendimento/internal/ttlcache"
)

// Sender is the outbound sequencer. Send waits for the message outcome,
// Enqueue does not.
type Sender interface {
	Send(ctx context.Context, conversationID, body string) error
	Enqueue(conversationID, body string)
}

// Queue is the admission controller as seen by the dialog.
type Queue interface {
	Admit(ctx context.Context, profile models.Profile) (queue.Admission, error)
	Position(ctx context.Context, recordID int64) (int, error)
	Complete(ctx context.Context, conversationID string, recordID int64) error
}

// Notifier publishes dashboard updates.
type Notifier interface {
	PublishSnapshot(ctx context.Context) error
	ReportProblem(ctx context.Context, report models.ProblemReport)
}

// Config holds the dedup windows of the inbound path.
type Config struct {
	EventTTL   time.Duration
	MessageTTL time.Duration
}

type Engine struct {
	problems repository.Problems
	ignored  repository.Ignored
	queue    Queue
	states   *state.Store
	sender   Sender
	notifier Notifier
	catalog  *menu.Catalog

	events   *ttlcache.Cache
	messages *ttlcache.Cache
	cfg      Config

	now func() time.Time
}

// Deps groups the collaborators of an Engine.
type Deps struct {
	Problems repository.Problems
	Ignored  repository.Ignored
	Queue    Queue
	States   *state.Store
	Sender   Sender
	Notifier Notifier
	Catalog  *menu.Catalog
	Events   *ttlcache.Cache
	Messages *ttlcache.Cache
}

func New(d Deps, cfg Config) *Engine {
	return &Engine{
		problems: d.Problems,
		ignored:  d.Ignored,
		queue:    d.Queue,
		states:   d.States,
		sender:   d.Sender,
		notifier: d.Notifier,
		catalog:  d.Catalog,
		events:   d.Events,
		messages: d.Messages,
		cfg:      cfg,
		now:      time.Now,
	}
}

func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.now = now
	return e
}

// HandleMessage runs one inbound chat message through dedup, the ignore list,
// the guard and the transition table. Duplicates and ignored contacts return
// nil without side effects.
func (e *Engine) HandleMessage(ctx context.Context, msg models.InboundMessage) error {
	if msg.FromSelf {
		return nil
	}
	text := strings.TrimSpace(msg.Text)
	if text == "" {
		return nil
	}
	l := log.With().Str("conversationID", msg.ConversationID).Str("eventID", msg.EventID).Logger()

	if msg.EventID != "" && !e.events.MarkAndCheck("event|"+msg.EventID, e.cfg.EventTTL) {
		l.Debug().Msg("Duplicate inbound event dropped")
		return nil
	}
	msgKey := fmt.Sprintf("message|%s|%d|%s", msg.ConversationID, msg.Timestamp.Unix(), text)
	if !e.messages.MarkAndCheck(msgKey, e.cfg.MessageTTL) {
		l.Debug().Msg("Duplicate inbound message dropped")
		return nil
	}

	ignored, err := e.ignored.IsIgnored(ctx, msg.ConversationID)
	if err != nil {
		l.Error().Err(err).Msg("Failed to check ignore list")
		return fmt.Errorf("ignore list: %w", err)
	}
	if ignored {
		l.Debug().Msg("Message from ignored contact")
		return nil
	}

	unlock := e.states.Lock(msg.ConversationID)
	defer unlock()

	st, has := e.states.Get(msg.ConversationID)
	if has && st.Kind == state.HumanHandled {
		l.Debug().Msg("Conversation handled by attendant, message left to them")
		return nil
	}
	if !has {
		done, err := e.guard(ctx, msg.ConversationID, text)
		if done || err != nil {
			return err
		}
	}

	if !menu.IsControlToken(text) && e.states.SeenRecently(msg.ConversationID, text, e.now()) {
		l.Debug().Msg("Repeated text dropped")
		return nil
	}

	if menu.IsRegistration(text) {
		return e.register(ctx, msg.ConversationID, text, msg.PushName)
	}
	if !has {
		return e.sender.Send(ctx, msg.ConversationID, e.catalog.RegistrationTemplate())
	}

	l.Debug().Str("state", st.String()).Msg("Dispatching message")
	switch st.Kind {
	case state.ProblemMenu:
		return e.onProblemMenu(ctx, msg.ConversationID, text)
	case state.SubProblemMenu:
		return e.onSubMenu(ctx, msg.ConversationID, st, text)
	case state.DescribingProblem:
		return e.onDescription(ctx, msg.ConversationID, st, text)
	case state.VideoFeedback:
		return e.onVideoFeedback(ctx, msg.ConversationID, st, text)
	}
	return nil
}

// guard handles conversations without dialog state that already hold a record:
// active ones belong to an attendant, waiting ones get their position again.
// A fresh registration on an active record nobody attends restarts the menu.
func (e *Engine) guard(ctx context.Context, conversationID, text string) (bool, error) {
	current, err := e.problems.Current(ctx, conversationID)
	if errors.Is(err, repository.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return true, e.repositoryFailure(ctx, conversationID, state.State{}, err)
	}

	switch current.Status {
	case models.StatusActive:
		if current.AttendantID == nil && menu.IsRegistration(text) {
			return false, nil
		}
		log.Debug().Str("conversationID", conversationID).Int64("recordID", current.ID).Msg("Active conversation without dialog state, message left to attendant")
		return true, nil
	case models.StatusWaiting:
		pos, err := e.queue.Position(ctx, current.ID)
		if err != nil {
			return true, e.repositoryFailure(ctx, conversationID, state.State{}, err)
		}
		return true, e.sender.Send(ctx, conversationID, e.catalog.QueuePosition(pos))
	}
	return false, nil
}

func (e *Engine) register(ctx context.Context, conversationID, text, pushName string) error {
	e.states.Clear(conversationID)

	profile, missing := menu.ParseRegistration(conversationID, text)
	if len(missing) > 0 {
		log.Info().Str("conversationID", conversationID).Strs("missing", missing).Msg("Incomplete registration")
		return e.sender.Send(ctx, conversationID, e.catalog.IncompleteRegistration(missing))
	}

	active, err := e.problems.ActiveRecord(ctx, conversationID)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return e.repositoryFailure(ctx, conversationID, state.State{}, err)
	}
	if active != nil {
		// already holds a slot; restart the menu without taking another
		e.states.Set(conversationID, state.Menu())
		e.sender.Enqueue(conversationID, e.catalog.Welcome(profile.Name))
		return e.sender.Send(ctx, conversationID, e.catalog.TopMenu())
	}

	adm, err := e.queue.Admit(ctx, profile)
	if err != nil {
		return e.repositoryFailure(ctx, conversationID, state.State{}, err)
	}
	log.Info().
		Str("conversationID", conversationID).
		Str("pushName", pushName).
		Str("status", string(adm.Status)).
		Msg("Registration accepted")

	e.sender.Enqueue(conversationID, e.catalog.Welcome(profile.Name))
	if adm.Status == models.StatusWaiting {
		return e.sender.Send(ctx, conversationID, e.catalog.QueuePosition(adm.Position))
	}
	e.states.Set(conversationID, state.Menu())
	return e.sender.Send(ctx, conversationID, e.catalog.TopMenu())
}

func (e *Engine) onProblemMenu(ctx context.Context, conversationID, text string) error {
	if menu.IsBack(text) {
		return e.sender.Send(ctx, conversationID, e.catalog.TopMenu())
	}
	choice, ok := number(text)
	if !ok {
		return e.sender.Send(ctx, conversationID, e.catalog.InvalidOption())
	}

	switch {
	case choice == menu.OptionEscalation:
		e.sender.Enqueue(conversationID, e.catalog.Escalation())
		if err := e.sender.Send(ctx, conversationID, e.catalog.RegistrationTemplate()); err != nil {
			return err
		}
		e.states.Clear(conversationID)
		return nil
	case choice == menu.OptionOther:
		if err := e.sender.Send(ctx, conversationID, e.catalog.DescribePrompt()); err != nil {
			return err
		}
		e.states.Set(conversationID, state.Describing(state.Menu()))
		return nil
	}

	if _, found := e.catalog.Category(choice); !found {
		return e.sender.Send(ctx, conversationID, e.catalog.InvalidOption())
	}
	if err := e.sender.Send(ctx, conversationID, e.catalog.SubMenu(choice)); err != nil {
		return err
	}
	e.states.Set(conversationID, state.SubMenu(choice))
	return nil
}

func (e *Engine) onSubMenu(ctx context.Context, conversationID string, st state.State, text string) error {
	if menu.IsBack(text) {
		if err := e.sender.Send(ctx, conversationID, e.catalog.TopMenu()); err != nil {
			return err
		}
		e.states.Set(conversationID, state.Menu())
		return nil
	}
	option, ok := number(text)
	if !ok {
		return e.sender.Send(ctx, conversationID, e.catalog.InvalidOption())
	}
	description, videoURL, ok := e.catalog.Resolve(st.Category, option)
	if !ok {
		return e.sender.Send(ctx, conversationID, e.catalog.InvalidOption())
	}

	p, err := e.newRecord(ctx, conversationID, description)
	if err != nil {
		return e.repositoryFailure(ctx, conversationID, st, err)
	}
	e.states.Set(conversationID, state.Feedback(p.ID))
	log.Info().Str("conversationID", conversationID).Int64("recordID", p.ID).Str("description", description).Msg("Problem recorded")
	e.publish(ctx)

	e.sender.Enqueue(conversationID, e.catalog.Video(videoURL))
	return e.sender.Send(ctx, conversationID, e.catalog.VideoQuestion())
}

func (e *Engine) onDescription(ctx context.Context, conversationID string, st state.State, text string) error {
	p, err := e.newRecord(ctx, conversationID, text)
	if err != nil {
		return e.repositoryFailure(ctx, conversationID, st, err)
	}
	e.states.Set(conversationID, state.Human())
	log.Info().Str("conversationID", conversationID).Int64("recordID", p.ID).Msg("Free-text problem recorded, conversation handed to attendants")

	e.notifier.ReportProblem(ctx, models.ProblemReport{Description: text, ConversationID: conversationID, Name: p.Name})
	e.publish(ctx)
	return e.sender.Send(ctx, conversationID, e.catalog.DescriptionReceived())
}

func (e *Engine) onVideoFeedback(ctx context.Context, conversationID string, st state.State, text string) error {
	switch {
	case menu.IsYes(text):
		if err := e.sender.Send(ctx, conversationID, e.catalog.Closing()); err != nil {
			return err
		}
		if err := e.queue.Complete(ctx, conversationID, st.RecordID); err != nil {
			return e.repositoryFailure(ctx, conversationID, st, err)
		}
		e.states.Forget(conversationID)
		return nil
	case menu.IsNo(text):
		if err := e.sender.Send(ctx, conversationID, e.catalog.DescribePrompt()); err != nil {
			return err
		}
		e.states.Set(conversationID, state.Describing(st))
		return nil
	}
	return e.sender.Send(ctx, conversationID, e.catalog.InvalidYesNo())
}

// HandleClosed runs the completion flow for a conversation the user closed on
// their side.
func (e *Engine) HandleClosed(ctx context.Context, conversationID string) error {
	unlock := e.states.Lock(conversationID)
	defer unlock()

	current, err := e.problems.Current(ctx, conversationID)
	if errors.Is(err, repository.ErrNotFound) {
		e.states.Forget(conversationID)
		return nil
	}
	if err != nil {
		log.Error().Err(err).Str("conversationID", conversationID).Msg("Failed to load record of closed conversation")
		return err
	}
	if err := e.queue.Complete(ctx, conversationID, current.ID); err != nil {
		return err
	}
	e.states.Forget(conversationID)
	log.Info().Str("conversationID", conversationID).Int64("recordID", current.ID).Msg("Closed conversation completed")
	return nil
}

// newRecord stores a pending problem for the conversation, copying the
// registration data of its current record.
func (e *Engine) newRecord(ctx context.Context, conversationID, description string) (*models.Problem, error) {
	profile := models.Profile{ConversationID: conversationID}
	current, err := e.problems.Current(ctx, conversationID)
	switch {
	case err == nil:
		profile = current.Profile()
	case !errors.Is(err, repository.ErrNotFound):
		return nil, err
	}

	p := models.NewProblem(profile, models.StatusPending)
	p.Description = &description
	p.CreatedAt = e.now().UTC()
	if err := e.problems.Insert(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

// repositoryFailure tells the user to try again and puts a conversation that
// was mid-flow back on the top menu.
func (e *Engine) repositoryFailure(ctx context.Context, conversationID string, st state.State, err error) error {
	log.Error().Err(err).Str("conversationID", conversationID).Str("state", st.String()).Msg("Repository failure while handling message")
	if st.MidFlow() {
		e.states.Set(conversationID, state.Menu())
	}
	if sendErr := e.sender.Send(ctx, conversationID, e.catalog.TryAgainLater()); sendErr != nil {
		return errors.Join(err, sendErr)
	}
	return err
}

func (e *Engine) publish(ctx context.Context) {
	if err := e.notifier.PublishSnapshot(ctx); err != nil {
		log.Error().Err(err).Msg("Failed to publish queue snapshot")
	}
}

func number(text string) (int, bool) {
	n, err := strconv.Atoi(menu.Normalize(text))
	return n, err == nil
}
