package main

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"
)

var errDeliveryDisabled = errors.New("delivery manager not initialized")

// DeliveryStatus reports the configured channels and the retry settings.
func (s *server) DeliveryStatus() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.delivery == nil {
			s.Respond(w, r, http.StatusServiceUnavailable, errDeliveryDisabled)
			return
		}

		s.Respond(w, r, http.StatusOK, map[string]interface{}{
			"status":           "running",
			"pending_events":   s.delivery.GetPendingEventsCount(),
			"max_retries":      s.delivery.maxRetries,
			"timeout_ms":       s.delivery.timeout.Milliseconds(),
			"retry_backoff_ms": s.delivery.retryBackoff.Milliseconds(),
			"channels":         s.delivery.ChannelNames(),
			"webhook":          s.delivery.webhookURL != "",
			"rabbitmq":         s.delivery.rabbit != nil,
		})
	}
}

// EventStatus returns one pending queue event.
func (s *server) EventStatus() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.delivery == nil {
			s.Respond(w, r, http.StatusServiceUnavailable, errDeliveryDisabled)
			return
		}

		eventID := mux.Vars(r)["eventId"]
		if eventID == "" {
			s.Respond(w, r, http.StatusBadRequest, errors.New("event ID is required"))
			return
		}

		event, exists := s.delivery.GetEventStatus(eventID)
		if !exists {
			s.Respond(w, r, http.StatusNotFound, errors.New("event not found or already completed"))
			return
		}
		s.Respond(w, r, http.StatusOK, event)
	}
}

// DeliveryMetrics lists pending queue events, optionally by event_type.
func (s *server) DeliveryMetrics() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.delivery == nil {
			s.Respond(w, r, http.StatusServiceUnavailable, errDeliveryDisabled)
			return
		}

		eventType := r.URL.Query().Get("event_type")
		limit := metricsLimit
		if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
			if parsedLimit, err := strconv.Atoi(limitStr); err == nil && parsedLimit > 0 {
				limit = parsedLimit
			}
		}

		filtered := s.delivery.PendingEvents(eventType, 0)
		shown := filtered
		if len(shown) > limit {
			shown = shown[:limit]
		}
		s.Respond(w, r, http.StatusOK, map[string]interface{}{
			"total_pending":  s.delivery.GetPendingEventsCount(),
			"filtered_count": len(filtered),
			"shown_count":    len(shown),
			"events":         shown,
		})
	}
}

// ForceRetry retries one event by id, or every failed event when no id is given.
func (s *server) ForceRetry() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.delivery == nil {
			s.Respond(w, r, http.StatusServiceUnavailable, errDeliveryDisabled)
			return
		}

		eventID := mux.Vars(r)["eventId"]
		if eventID == "" {
			n := s.delivery.retryFailedEvents()
			s.Respond(w, r, http.StatusOK, map[string]interface{}{"retried": n})
			return
		}

		if !s.delivery.Retry(eventID) {
			s.Respond(w, r, http.StatusNotFound, errors.New("event not found"))
			return
		}
		log.Info().Str("eventID", eventID).Msg("Manual retry triggered for event")
		s.Respond(w, r, http.StatusOK, map[string]interface{}{"retried": 1, "eventId": eventID})
	}
}
