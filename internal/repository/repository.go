// Package repository is the query façade over the relational store holding
// Problem records and the ignored-contact list.
package repository

import (
	"context"
	"errors"
	"time"

	"atendimento/internal/models"
)

var (
	// ErrNotFound is returned when no record matches the lookup.
	ErrNotFound = errors.New("record not found")
	// ErrInvalidRating is returned for feedback ratings outside 1..5.
	ErrInvalidRating = errors.New("feedback rating must be between 1 and 5")
	// ErrQueueFull is returned when claiming a record would exceed the active cap.
	ErrQueueFull = errors.New("active queue is full")
)

// ListQuery selects records of one status.
type ListQuery struct {
	Status      models.Status
	NewestFirst bool
	Limit       int // 0 means unbounded
}

// Problems is the contract the engine consumes. "Current" always means the
// most recent non-completed record of a conversation.
type Problems interface {
	// Admit inserts p as active when fewer than maxActive records are active,
	// otherwise as waiting, in a single statement. p.ID and p.Status are set.
	Admit(ctx context.Context, p *models.Problem, maxActive int) (models.Status, error)
	Insert(ctx context.Context, p *models.Problem) error
	CountByStatus(ctx context.Context, status models.Status) (int, error)
	// WaitingPosition is the 1-based rank of record id among waiting records by creation.
	WaitingPosition(ctx context.Context, id int64) (int, error)
	Current(ctx context.Context, conversationID string) (*models.Problem, error)
	// ActiveRecord is the newest active record of the conversation.
	ActiveRecord(ctx context.Context, conversationID string) (*models.Problem, error)
	// Complete closes the conversation's record recordID together with its active
	// and pending records, returning the rows it changed.
	Complete(ctx context.Context, conversationID string, recordID int64, at time.Time) ([]models.Problem, error)
	OldestWaiting(ctx context.Context) (*models.Problem, error)
	Activate(ctx context.Context, id int64) error
	// Attend assigns attendantID to the conversation's active record, or
	// activates its current record when it holds none and fewer than maxActive
	// records are active (ErrQueueFull otherwise). Pending records of the
	// conversation get the same attendant. A conversation never holds two
	// active records.
	Attend(ctx context.Context, conversationID, attendantID string, maxActive int) (*models.Problem, error)
	SetFeedback(ctx context.Context, id int64, rating int) error
	List(ctx context.Context, q ListQuery) ([]models.Problem, error)
}

// Ignored is the contact deny list consulted before dialog dispatch.
type Ignored interface {
	IsIgnored(ctx context.Context, conversationID string) (bool, error)
	List(ctx context.Context) ([]models.IgnoredContact, error)
	// ReplaceAll swaps the whole list atomically.
	ReplaceAll(ctx context.Context, contacts []models.IgnoredContact) error
}

func validRating(rating int) bool {
	return rating >= 1 && rating <= 5
}
