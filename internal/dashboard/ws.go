package dashboard

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"atendimento/internal/models"
)

const (
	readTimeout  = 60 * time.Second
	writeTimeout = 10 * time.Second
	pingInterval = 30 * time.Second
)

// Commands are the operator actions a dashboard may send.
type Commands interface {
	Attend(ctx context.Context, conversationID, attendantID string) (*models.Problem, error)
	End(ctx context.Context, conversationID string, recordID int64) error
}

// Snapshotter provides the snapshot pushed to a dashboard right after it connects.
type Snapshotter interface {
	Snapshot(ctx context.Context) (models.Snapshot, error)
}

// AttendRequest is the attendProblem payload.
type AttendRequest struct {
	ConversationID string `json:"conversationId"`
	AttendantID    string `json:"attendantId"`
}

// EndRequest is the endChat payload.
type EndRequest struct {
	ConversationID string `json:"conversationId"`
	RecordID       int64  `json:"recordId"`
}

type errorPayload struct {
	Command string `json:"command"`
	Message string `json:"message"`
}

type WSHandler struct {
	hub      *Hub
	commands Commands
	snapshot Snapshotter
	upgrader websocket.Upgrader
}

func NewWSHandler(hub *Hub, commands Commands, snapshot Snapshotter) *WSHandler {
	return &WSHandler{
		hub:      hub,
		commands: commands,
		snapshot: snapshot,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// the dashboard is served from other origins during development
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

func (h *WSHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("Websocket upgrade failed")
		return
	}

	client := &Client{ID: uuid.NewString(), Send: make(chan []byte, 256)}
	if snap, err := h.snapshot.Snapshot(r.Context()); err != nil {
		log.Error().Err(err).Msg("Failed to load snapshot for new dashboard")
	} else if frame, err := Encode(models.EventStatusUpdate, snap); err == nil {
		client.Send <- frame
	}

	h.hub.Register(client)
	defer h.hub.Unregister(client)

	go writePump(conn, client)

	conn.SetReadDeadline(time.Now().Add(readTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(readTimeout))
	})
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			break
		}
		conn.SetReadDeadline(time.Now().Add(readTimeout))

		var event Event
		if err := json.Unmarshal(msg, &event); err != nil {
			continue
		}
		if reply := h.dispatch(r.Context(), event); reply != nil {
			select {
			case client.Send <- reply:
			default:
			}
		}
	}
}

// dispatch runs one client command and returns an error frame when it fails.
func (h *WSHandler) dispatch(ctx context.Context, event Event) []byte {
	var err error
	switch event.Event {
	case "attendProblem":
		var req AttendRequest
		if err = json.Unmarshal(event.Data, &req); err == nil {
			_, err = h.commands.Attend(ctx, req.ConversationID, req.AttendantID)
		}
	case "endChat":
		var req EndRequest
		if err = json.Unmarshal(event.Data, &req); err == nil {
			err = h.commands.End(ctx, req.ConversationID, req.RecordID)
		}
	case "ping":
		frame, _ := Encode("pong", struct{}{})
		return frame
	default:
		log.Debug().Str("event", event.Event).Msg("Unknown dashboard command")
		return nil
	}
	if err == nil {
		return nil
	}
	log.Warn().Err(err).Str("command", event.Event).Msg("Dashboard command failed")
	frame, _ := Encode("error", errorPayload{Command: event.Event, Message: err.Error()})
	return frame
}

func writePump(conn *websocket.Conn, client *Client) {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()
	for {
		select {
		case msg, ok := <-client.Send:
			conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if !ok {
				conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
