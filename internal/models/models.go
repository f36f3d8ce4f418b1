package models

import (
	"time"
)

// Status is the lifecycle of a Problem record. Transitions only move forward:
// pending/waiting -> active -> completed.
type Status string

const (
	StatusPending   Status = "pending"
	StatusActive    Status = "active"
	StatusWaiting   Status = "waiting"
	StatusCompleted Status = "completed"
)

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusActive, StatusWaiting, StatusCompleted:
		return true
	}
	return false
}

// Profile is the data collected once at registration.
type Profile struct {
	ConversationID string `json:"conversationId"`
	Name           string `json:"name"`
	City           string `json:"city"`
	Position       string `json:"position"`
	School         string `json:"school"`
}

// Problem is one registered support occurrence for a conversation.
type Problem struct {
	ID             int64      `db:"id" json:"id"`
	CreatedAt      time.Time  `db:"created_at" json:"createdAt"`
	ConversationID string     `db:"conversation_id" json:"conversationId"`
	Name           string     `db:"name" json:"name"`
	City           string     `db:"city" json:"city"`
	Position       string     `db:"position" json:"position"`
	School         string     `db:"school" json:"school"`
	Description    *string    `db:"description" json:"description"`
	Status         Status     `db:"status" json:"status"`
	CompletedAt    *time.Time `db:"completed_at" json:"completedAt"`
	AttendantID    *string    `db:"attendant_id" json:"attendantId"`
	FeedbackRating *int       `db:"feedback_rating" json:"feedbackRating"`
}

// NewProblem builds a record from a registration profile.
func NewProblem(p Profile, status Status) *Problem {
	return &Problem{
		ConversationID: p.ConversationID,
		Name:           p.Name,
		City:           p.City,
		Position:       p.Position,
		School:         p.School,
		Status:         status,
	}
}

// Profile extracts the registration data carried by the record.
func (p *Problem) Profile() Profile {
	return Profile{
		ConversationID: p.ConversationID,
		Name:           p.Name,
		City:           p.City,
		Position:       p.Position,
		School:         p.School,
	}
}

// IgnoredContact is a conversation the bot must never answer.
type IgnoredContact struct {
	ConversationID string    `db:"conversation_id" json:"conversationId"`
	Name           string    `db:"name" json:"name"`
	Reason         string    `db:"reason" json:"reason"`
	CreatedAt      time.Time `db:"created_at" json:"createdAt"`
}

// InboundMessage is a chat message delivered by the messaging gateway.
type InboundMessage struct {
	ConversationID string
	EventID        string
	Text           string
	FromSelf       bool
	PushName       string
	Timestamp      time.Time
}

// Snapshot is the statusUpdate payload pushed to the dashboard.
type Snapshot struct {
	ActiveChats    []Problem `json:"activeChats"`
	WaitingList    []Problem `json:"waitingList"`
	Problems       []Problem `json:"problems"`
	CompletedChats []Problem `json:"completedChats"`
}

// ProblemReport is the userProblem payload emitted for a new unclaimed report.
type ProblemReport struct {
	Description    string `json:"description"`
	ConversationID string `json:"conversationId"`
	Name           string `json:"name"`
}

// Dashboard event names.
const (
	EventStatusUpdate = "statusUpdate"
	EventUserProblem  = "userProblem"
)
