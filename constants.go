package main

import (
	"time"

	"atendimento/internal/models"
)

// List of dashboard event types that can be routed to a queue of their own.
var supportedEventTypes = []string{
	models.EventStatusUpdate,
	models.EventUserProblem,
}

// Map for quick validation
var eventTypeMap map[string]bool

func init() {
	eventTypeMap = make(map[string]bool)
	for _, eventType := range supportedEventTypes {
		eventTypeMap[eventType] = true
	}
}

// Auxiliary function to validate event type
func isValidEventType(eventType string) bool {
	return eventTypeMap[eventType]
}

const (
	shutdownTimeout   = 10 * time.Second
	readHeaderTimeout = 5 * time.Second
	metricsLimit      = 50
)
