package main

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/justinas/alice"
	"github.com/rs/zerolog/hlog"
	"github.com/rs/zerolog/log"

	"atendimento/internal/dashboard"
	"atendimento/internal/gateway"
	"atendimento/internal/notifier"
	"atendimento/internal/queue"
	"atendimento/internal/repository"
)

// sessionState is the part of the WhatsApp client the dashboard reads.
type sessionState interface {
	QR() gateway.QRState
}

type server struct {
	router   *mux.Router
	queue    *queue.Controller
	notifier *notifier.Notifier
	ignored  repository.Ignored
	hub      *dashboard.Hub
	delivery *DeliveryManager
	session  sessionState
}

func (s *server) routes() {
	base := alice.New(
		hlog.NewHandler(log.Logger),
		hlog.RemoteAddrHandler("ip"),
		hlog.RequestIDHandler("req_id", "Request-Id"),
		recoverer,
	)
	c := base.Append(
		hlog.UserAgentHandler("user_agent"),
		hlog.AccessHandler(func(r *http.Request, status, size int, duration time.Duration) {
			hlog.FromRequest(r).Info().
				Str("method", r.Method).
				Stringer("url", r.URL).
				Int("status", status).
				Int("size", size).
				Dur("duration", duration).
				Msg("Got API request")
		}),
	)

	s.router.Handle("/health", c.Then(s.Health())).Methods("GET")
	s.router.Handle("/ws", base.Then(dashboard.NewWSHandler(s.hub, s.queue, s.notifier))).Methods("GET")

	s.router.Handle("/status", c.Then(s.Status())).Methods("GET")
	s.router.Handle("/problems/attend", c.Then(s.AttendProblem())).Methods("POST")
	s.router.Handle("/chats/end", c.Then(s.EndChat())).Methods("POST")
	s.router.Handle("/chats/{id}/feedback", c.Then(s.Feedback())).Methods("POST")

	s.router.Handle("/ignored", c.Then(s.ListIgnored())).Methods("GET")
	s.router.Handle("/ignored", c.Then(s.ReplaceIgnored())).Methods("PUT")

	s.router.Handle("/session/qr", c.Then(s.SessionQR())).Methods("GET")

	s.router.Handle("/delivery/status", c.Then(s.DeliveryStatus())).Methods("GET")
	s.router.Handle("/delivery/metrics", c.Then(s.DeliveryMetrics())).Methods("GET")
	s.router.Handle("/delivery/events/{eventId}", c.Then(s.EventStatus())).Methods("GET")
	s.router.Handle("/delivery/retry", c.Then(s.ForceRetry())).Methods("POST")
	s.router.Handle("/delivery/retry/{eventId}", c.Then(s.ForceRetry())).Methods("POST")
}

// recoverer turns a handler panic into a 500 and logs it with the request id.
func recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				hlog.FromRequest(r).Error().Interface("panic", rec).Str("path", r.URL.Path).Msg("Recovered from panic")
				http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}
