package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/rs/zerolog/log"
)

// Respond writes the JSON envelope used by every endpoint:
// {"code": status, "success": bool, "data": ...} or {"code", "success": false, "error"}.
func (s *server) Respond(w http.ResponseWriter, r *http.Request, status int, data interface{}) {
	envelope := map[string]interface{}{"code": status}
	if err, ok := data.(error); ok {
		envelope["error"] = err.Error()
		envelope["success"] = false
	} else {
		envelope["data"] = data
		envelope["success"] = status < http.StatusBadRequest
	}
	s.respondWithJSON(w, status, envelope)
}

func (s *server) respondWithJSON(w http.ResponseWriter, statusCode int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

const maxBodyBytes = 1 << 20

// decodeJSON reads a size-limited JSON body into dst.
func decodeJSON(r *http.Request, dst interface{}) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is empty")
		}
		return fmt.Errorf("could not decode payload: %w", err)
	}
	return nil
}

// broadcaster is anything that takes dashboard events.
type broadcaster interface {
	Broadcast(event string, payload any)
}

// fanout hands each dashboard event to every target in order.
type fanout []broadcaster

func (f fanout) Broadcast(event string, payload any) {
	for _, b := range f {
		b.Broadcast(event, payload)
	}
}
