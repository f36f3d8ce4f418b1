package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"atendimento/internal/models"
)

type fakeCommands struct {
	mu      sync.Mutex
	attends []AttendRequest
	ends    []EndRequest
	endErr  error
}

func (f *fakeCommands) Attend(_ context.Context, conversationID, attendantID string) (*models.Problem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attends = append(f.attends, AttendRequest{conversationID, attendantID})
	return &models.Problem{ConversationID: conversationID}, nil
}

func (f *fakeCommands) End(_ context.Context, conversationID string, recordID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ends = append(f.ends, EndRequest{conversationID, recordID})
	return f.endErr
}

func (f *fakeCommands) recorded() ([]AttendRequest, []EndRequest) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]AttendRequest(nil), f.attends...), append([]EndRequest(nil), f.ends...)
}

type staticSnapshot struct {
	snap models.Snapshot
}

func (s staticSnapshot) Snapshot(context.Context) (models.Snapshot, error) {
	return s.snap, nil
}

func dial(t *testing.T, hub *Hub, cmds Commands) *websocket.Conn {
	t.Helper()
	snap := models.Snapshot{WaitingList: []models.Problem{{ID: 7, ConversationID: "w1", Status: models.StatusWaiting}}}
	srv := httptest.NewServer(NewWSHandler(hub, cmds, staticSnapshot{snap}))
	t.Cleanup(srv.Close)

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) Event {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var ev Event
	require.NoError(t, conn.ReadJSON(&ev))
	return ev
}

func startHub(t *testing.T) *Hub {
	hub := NewHub()
	go hub.Run()
	t.Cleanup(hub.Shutdown)
	return hub
}

func TestSnapshotPushedOnConnect(t *testing.T) {
	hub := startHub(t)
	conn := dial(t, hub, &fakeCommands{})

	ev := readEvent(t, conn)
	require.Equal(t, models.EventStatusUpdate, ev.Event)
	var snap models.Snapshot
	require.NoError(t, json.Unmarshal(ev.Data, &snap))
	require.Len(t, snap.WaitingList, 1)
	require.Equal(t, "w1", snap.WaitingList[0].ConversationID)
}

func TestBroadcastReachesClients(t *testing.T) {
	hub := startHub(t)
	a := dial(t, hub, &fakeCommands{})
	b := dial(t, hub, &fakeCommands{})
	readEvent(t, a)
	readEvent(t, b)
	require.Eventually(t, func() bool { return hub.OnlineCount() == 2 }, time.Second, 5*time.Millisecond)

	report := models.ProblemReport{Description: "sem acesso", ConversationID: "u1", Name: "Ana"}
	hub.Broadcast(models.EventUserProblem, report)

	for _, conn := range []*websocket.Conn{a, b} {
		ev := readEvent(t, conn)
		require.Equal(t, models.EventUserProblem, ev.Event)
		var got models.ProblemReport
		require.NoError(t, json.Unmarshal(ev.Data, &got))
		require.Equal(t, report, got)
	}
}

func TestCommandsAreDispatched(t *testing.T) {
	hub := startHub(t)
	cmds := &fakeCommands{endErr: errors.New("record not found")}
	conn := dial(t, hub, cmds)
	readEvent(t, conn)

	require.NoError(t, conn.WriteJSON(map[string]any{
		"event": "attendProblem",
		"data":  map[string]any{"conversationId": "u1", "attendantId": "carla"},
	}))
	require.Eventually(t, func() bool {
		attends, _ := cmds.recorded()
		return len(attends) == 1
	}, time.Second, 5*time.Millisecond)
	attends, _ := cmds.recorded()
	require.Equal(t, AttendRequest{"u1", "carla"}, attends[0])

	require.NoError(t, conn.WriteJSON(map[string]any{
		"event": "endChat",
		"data":  map[string]any{"conversationId": "u2", "recordId": 12},
	}))
	ev := readEvent(t, conn)
	require.Equal(t, "error", ev.Event)
	require.Contains(t, string(ev.Data), "record not found")
	_, ends := cmds.recorded()
	require.Equal(t, []EndRequest{{"u2", 12}}, ends)
}

func TestUnregisterOnDisconnect(t *testing.T) {
	hub := startHub(t)
	conn := dial(t, hub, &fakeCommands{})
	readEvent(t, conn)
	require.Eventually(t, func() bool { return hub.OnlineCount() == 1 }, time.Second, 5*time.Millisecond)

	conn.Close()
	require.Eventually(t, func() bool { return hub.OnlineCount() == 0 }, time.Second, 5*time.Millisecond)
}
