package main

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog/hlog"

	"atendimento/internal/dashboard"
	"atendimento/internal/models"
	"atendimento/internal/repository"
)

// Health reports liveness plus a few counters.
func (s *server) Health() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body := map[string]interface{}{
			"status":     "ok",
			"dashboards": s.hub.OnlineCount(),
			"max_active": s.queue.MaxActive(),
		}
		if s.session != nil {
			body["paired"] = s.session.QR().Paired
		}
		s.Respond(w, r, http.StatusOK, body)
	}
}

// Status returns the same snapshot pushed on statusUpdate.
func (s *server) Status() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		snap, err := s.notifier.Snapshot(r.Context())
		if err != nil {
			hlog.FromRequest(r).Error().Err(err).Msg("Failed to load snapshot")
			s.Respond(w, r, http.StatusInternalServerError, errors.New("could not load queue status"))
			return
		}
		s.Respond(w, r, http.StatusOK, snap)
	}
}

// AttendProblem assigns a conversation's current record to an attendant.
func (s *server) AttendProblem() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req dashboard.AttendRequest
		if err := decodeJSON(r, &req); err != nil {
			s.Respond(w, r, http.StatusBadRequest, err)
			return
		}
		if req.ConversationID == "" || req.AttendantID == "" {
			s.Respond(w, r, http.StatusBadRequest, errors.New("conversationId and attendantId are required"))
			return
		}

		p, err := s.queue.Attend(r.Context(), req.ConversationID, req.AttendantID)
		if errors.Is(err, repository.ErrNotFound) {
			s.Respond(w, r, http.StatusNotFound, errors.New("conversation has no open record"))
			return
		}
		if errors.Is(err, repository.ErrQueueFull) {
			s.Respond(w, r, http.StatusConflict, errors.New("active queue is full, end a chat first"))
			return
		}
		if err != nil {
			hlog.FromRequest(r).Error().Err(err).Str("conversationID", req.ConversationID).Msg("Attend failed")
			s.Respond(w, r, http.StatusInternalServerError, errors.New("could not attend problem"))
			return
		}
		s.Respond(w, r, http.StatusOK, p)
	}
}

// EndChat runs the completion flow for a conversation.
func (s *server) EndChat() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req dashboard.EndRequest
		if err := decodeJSON(r, &req); err != nil {
			s.Respond(w, r, http.StatusBadRequest, err)
			return
		}
		if req.ConversationID == "" {
			s.Respond(w, r, http.StatusBadRequest, errors.New("conversationId is required"))
			return
		}

		if err := s.queue.End(r.Context(), req.ConversationID, req.RecordID); err != nil {
			hlog.FromRequest(r).Error().Err(err).Str("conversationID", req.ConversationID).Msg("End chat failed")
			s.Respond(w, r, http.StatusInternalServerError, errors.New("could not end chat"))
			return
		}
		s.Respond(w, r, http.StatusOK, map[string]interface{}{"conversationId": req.ConversationID, "ended": true})
	}
}

// Feedback stores the 1-5 rating of a completed record.
func (s *server) Feedback() http.HandlerFunc {
	type feedbackRequest struct {
		Rating int `json:"rating"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
		if err != nil {
			s.Respond(w, r, http.StatusBadRequest, errors.New("invalid record id"))
			return
		}
		var req feedbackRequest
		if err := decodeJSON(r, &req); err != nil {
			s.Respond(w, r, http.StatusBadRequest, err)
			return
		}

		err = s.queue.Rate(r.Context(), id, req.Rating)
		switch {
		case errors.Is(err, repository.ErrInvalidRating):
			s.Respond(w, r, http.StatusBadRequest, err)
		case errors.Is(err, repository.ErrNotFound):
			s.Respond(w, r, http.StatusNotFound, errors.New("no completed record with that id"))
		case err != nil:
			hlog.FromRequest(r).Error().Err(err).Int64("recordID", id).Msg("Feedback failed")
			s.Respond(w, r, http.StatusInternalServerError, errors.New("could not store feedback"))
		default:
			s.Respond(w, r, http.StatusOK, map[string]interface{}{"recordId": id, "rating": req.Rating})
		}
	}
}

// ListIgnored returns the contact deny list.
func (s *server) ListIgnored() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		contacts, err := s.ignored.List(r.Context())
		if err != nil {
			hlog.FromRequest(r).Error().Err(err).Msg("Failed to list ignored contacts")
			s.Respond(w, r, http.StatusInternalServerError, errors.New("could not list ignored contacts"))
			return
		}
		s.Respond(w, r, http.StatusOK, map[string]interface{}{"contacts": contacts})
	}
}

// ReplaceIgnored swaps the whole deny list in one transaction.
func (s *server) ReplaceIgnored() http.HandlerFunc {
	type replaceRequest struct {
		Contacts []models.IgnoredContact `json:"contacts"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		var req replaceRequest
		if err := decodeJSON(r, &req); err != nil {
			s.Respond(w, r, http.StatusBadRequest, err)
			return
		}
		now := time.Now().UTC()
		for i := range req.Contacts {
			req.Contacts[i].ConversationID = strings.TrimSpace(req.Contacts[i].ConversationID)
			if req.Contacts[i].ConversationID == "" {
				s.Respond(w, r, http.StatusBadRequest, errors.New("every contact needs a conversationId"))
				return
			}
			if req.Contacts[i].CreatedAt.IsZero() {
				req.Contacts[i].CreatedAt = now
			}
		}

		if err := s.ignored.ReplaceAll(r.Context(), req.Contacts); err != nil {
			hlog.FromRequest(r).Error().Err(err).Msg("Failed to replace ignored contacts")
			s.Respond(w, r, http.StatusInternalServerError, errors.New("could not replace ignored contacts"))
			return
		}
		hlog.FromRequest(r).Info().Int("count", len(req.Contacts)).Msg("Ignored contacts replaced")
		s.Respond(w, r, http.StatusOK, map[string]interface{}{"count": len(req.Contacts)})
	}
}

// SessionQR returns the pairing QR code as a PNG data URL.
func (s *server) SessionQR() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.session == nil {
			s.Respond(w, r, http.StatusServiceUnavailable, errors.New("whatsapp session not initialized"))
			return
		}
		s.Respond(w, r, http.StatusOK, s.session.QR())
	}
}
