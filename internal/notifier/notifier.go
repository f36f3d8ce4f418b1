// Package notifier assembles the queue snapshot and pushes it to the dashboard.
package notifier

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"atendimento/internal/models"
	"atendimento/internal/repository"
)

// Broadcaster delivers a named event to every dashboard subscriber.
type Broadcaster interface {
	Broadcast(event string, payload any)
}

type Limits struct {
	Active    int
	Completed int
}

type Notifier struct {
	problems    repository.Problems
	broadcaster Broadcaster
	limits      Limits
}

func New(problems repository.Problems, broadcaster Broadcaster, limits Limits) *Notifier {
	return &Notifier{problems: problems, broadcaster: broadcaster, limits: limits}
}

// Snapshot queries the four dashboard lists.
func (n *Notifier) Snapshot(ctx context.Context) (models.Snapshot, error) {
	var snap models.Snapshot
	var err error

	snap.ActiveChats, err = n.problems.List(ctx, repository.ListQuery{
		Status: models.StatusActive, NewestFirst: true, Limit: n.limits.Active,
	})
	if err != nil {
		return snap, fmt.Errorf("active chats: %w", err)
	}
	snap.WaitingList, err = n.problems.List(ctx, repository.ListQuery{Status: models.StatusWaiting})
	if err != nil {
		return snap, fmt.Errorf("waiting list: %w", err)
	}
	snap.Problems, err = n.problems.List(ctx, repository.ListQuery{Status: models.StatusPending, NewestFirst: true})
	if err != nil {
		return snap, fmt.Errorf("pending problems: %w", err)
	}
	snap.CompletedChats, err = n.problems.List(ctx, repository.ListQuery{
		Status: models.StatusCompleted, NewestFirst: true, Limit: n.limits.Completed,
	})
	if err != nil {
		return snap, fmt.Errorf("completed chats: %w", err)
	}
	return snap, nil
}

// PublishSnapshot broadcasts one statusUpdate. Calls are never coalesced.
func (n *Notifier) PublishSnapshot(ctx context.Context) error {
	snap, err := n.Snapshot(ctx)
	if err != nil {
		return err
	}
	n.broadcaster.Broadcast(models.EventStatusUpdate, snap)
	log.Debug().
		Int("active", len(snap.ActiveChats)).
		Int("waiting", len(snap.WaitingList)).
		Int("problems", len(snap.Problems)).
		Msg("Status snapshot published")
	return nil
}

// ReportProblem announces a new unclaimed free-text report.
func (n *Notifier) ReportProblem(_ context.Context, report models.ProblemReport) {
	n.broadcaster.Broadcast(models.EventUserProblem, report)
	log.Info().Str("conversationID", report.ConversationID).Msg("Problem reported to dashboard")
}
