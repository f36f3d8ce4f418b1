package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/require"

	"atendimento/internal/dashboard"
	"atendimento/internal/gateway"
	"atendimento/internal/menu"
	"atendimento/internal/models"
	"atendimento/internal/notifier"
	"atendimento/internal/queue"
	"atendimento/internal/repository"
	"atendimento/internal/state"
)

type outbox struct {
	mu   sync.Mutex
	sent map[string][]string
}

func (o *outbox) Enqueue(conversationID, body string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.sent[conversationID] = append(o.sent[conversationID], body)
}

func (o *outbox) to(conversationID string) []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]string(nil), o.sent[conversationID]...)
}

type fakeSession struct{ state gateway.QRState }

func (f fakeSession) QR() gateway.QRState { return f.state }

type testServer struct {
	*server
	problems *repository.Memory
	out      *outbox
	catalog  *menu.Catalog
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	problems := repository.NewMemory()
	hub := dashboard.NewHub()
	go hub.Run()
	t.Cleanup(hub.Shutdown)

	out := &outbox{sent: map[string][]string{}}
	catalog := menu.NewCatalog(menu.DefaultCategories, "https://videos.example.org", "suporte@example.org")
	notif := notifier.New(problems, hub, notifier.Limits{Active: 10, Completed: 10})
	ctrl := queue.New(problems, state.NewStore(30*time.Second, 10), out, notif, catalog, 3)

	s := &server{
		router:   mux.NewRouter(),
		queue:    ctrl,
		notifier: notif,
		ignored:  repository.NewMemoryIgnored(),
		hub:      hub,
	}
	s.routes()
	return &testServer{server: s, problems: problems, out: out, catalog: catalog}
}

func (ts *testServer) admit(t *testing.T, conversationID string) *models.Problem {
	t.Helper()
	adm, err := ts.queue.Admit(context.Background(), models.Profile{
		ConversationID: conversationID,
		Name:           "Maria",
		City:           "Recife",
		Position:       "Professora",
		School:         "Escola Municipal",
	})
	require.NoError(t, err)
	return adm.Record
}

type envelope struct {
	Code    int             `json:"code"`
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
}

func (ts *testServer) do(t *testing.T, method, path string, body any) (int, envelope) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	ts.router.ServeHTTP(rec, req)

	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	require.Equal(t, rec.Code, env.Code)
	return rec.Code, env
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t)
	code, env := ts.do(t, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, code)
	require.True(t, env.Success)

	var body map[string]any
	require.NoError(t, json.Unmarshal(env.Data, &body))
	require.Equal(t, "ok", body["status"])
	require.EqualValues(t, 3, body["max_active"])
	require.NotContains(t, body, "paired")
}

func TestStatusReturnsSnapshot(t *testing.T) {
	ts := newTestServer(t)
	for _, id := range []string{"u1", "u2", "u3", "u4"} {
		ts.admit(t, id)
	}

	code, env := ts.do(t, http.MethodGet, "/status", nil)
	require.Equal(t, http.StatusOK, code)
	var snap models.Snapshot
	require.NoError(t, json.Unmarshal(env.Data, &snap))
	require.Len(t, snap.ActiveChats, 3)
	require.Len(t, snap.WaitingList, 1)
	require.Equal(t, "u4", snap.WaitingList[0].ConversationID)
}

func TestAttendProblem(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.admit(t, "u1")

	code, env := ts.do(t, http.MethodPost, "/problems/attend", dashboard.AttendRequest{ConversationID: "u1", AttendantID: "op-7"})
	require.Equal(t, http.StatusOK, code)
	var p models.Problem
	require.NoError(t, json.Unmarshal(env.Data, &p))
	require.Equal(t, rec.ID, p.ID)
	require.NotNil(t, p.AttendantID)
	require.Equal(t, "op-7", *p.AttendantID)
	require.Contains(t, ts.out.to("u1"), ts.catalog.Attending("op-7"))

	code, env = ts.do(t, http.MethodPost, "/problems/attend", dashboard.AttendRequest{ConversationID: "nobody", AttendantID: "op-7"})
	require.Equal(t, http.StatusNotFound, code)
	require.False(t, env.Success)

	code, _ = ts.do(t, http.MethodPost, "/problems/attend", dashboard.AttendRequest{ConversationID: "u1"})
	require.Equal(t, http.StatusBadRequest, code)
}

func TestAttendWaitingWhileFullConflicts(t *testing.T) {
	ts := newTestServer(t)
	for _, id := range []string{"u1", "u2", "u3", "u4"} {
		ts.admit(t, id)
	}

	code, env := ts.do(t, http.MethodPost, "/problems/attend", dashboard.AttendRequest{ConversationID: "u4", AttendantID: "op-7"})
	require.Equal(t, http.StatusConflict, code)
	require.False(t, env.Success)
	require.Empty(t, ts.out.to("u4"))

	cur, err := ts.problems.Current(context.Background(), "u4")
	require.NoError(t, err)
	require.Equal(t, models.StatusWaiting, cur.Status)
}

func TestEndChatPromotesWaiting(t *testing.T) {
	ts := newTestServer(t)
	first := ts.admit(t, "u1")
	for _, id := range []string{"u2", "u3", "u4"} {
		ts.admit(t, id)
	}

	code, _ := ts.do(t, http.MethodPost, "/chats/end", dashboard.EndRequest{ConversationID: "u1", RecordID: first.ID})
	require.Equal(t, http.StatusOK, code)
	require.Contains(t, ts.out.to("u1"), ts.catalog.Ended())

	cur, err := ts.problems.Current(context.Background(), "u4")
	require.NoError(t, err)
	require.Equal(t, models.StatusActive, cur.Status)

	code, _ = ts.do(t, http.MethodPost, "/chats/end", map[string]any{})
	require.Equal(t, http.StatusBadRequest, code)
}

func TestFeedback(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.admit(t, "u1")

	path := "/chats/" + strconv.FormatInt(rec.ID, 10) + "/feedback"
	code, _ := ts.do(t, http.MethodPost, path, map[string]int{"rating": 5})
	require.Equal(t, http.StatusNotFound, code, "record is still active")

	require.NoError(t, ts.queue.Complete(context.Background(), "u1", rec.ID))

	code, env := ts.do(t, http.MethodPost, path, map[string]int{"rating": 9})
	require.Equal(t, http.StatusBadRequest, code)
	require.Contains(t, env.Error, repository.ErrInvalidRating.Error())

	code, _ = ts.do(t, http.MethodPost, path, map[string]int{"rating": 4})
	require.Equal(t, http.StatusOK, code)

	code, _ = ts.do(t, http.MethodPost, "/chats/abc/feedback", map[string]int{"rating": 4})
	require.Equal(t, http.StatusBadRequest, code)
}

func TestIgnoredContacts(t *testing.T) {
	ts := newTestServer(t)

	code, _ := ts.do(t, http.MethodPut, "/ignored", map[string]any{
		"contacts": []map[string]string{
			{"conversationId": " 5581999990000@s.whatsapp.net ", "name": "Coordenação"},
		},
	})
	require.Equal(t, http.StatusOK, code)

	ignored, err := ts.ignored.IsIgnored(context.Background(), "5581999990000@s.whatsapp.net")
	require.NoError(t, err)
	require.True(t, ignored)

	code, env := ts.do(t, http.MethodGet, "/ignored", nil)
	require.Equal(t, http.StatusOK, code)
	var body struct {
		Contacts []models.IgnoredContact `json:"contacts"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &body))
	require.Len(t, body.Contacts, 1)
	require.False(t, body.Contacts[0].CreatedAt.IsZero())

	code, _ = ts.do(t, http.MethodPut, "/ignored", map[string]any{
		"contacts": []map[string]string{{"conversationId": "  "}},
	})
	require.Equal(t, http.StatusBadRequest, code)

	code, _ = ts.do(t, http.MethodPut, "/ignored", map[string]any{"unknown": true})
	require.Equal(t, http.StatusBadRequest, code)
}

func TestSessionQR(t *testing.T) {
	ts := newTestServer(t)
	code, _ := ts.do(t, http.MethodGet, "/session/qr", nil)
	require.Equal(t, http.StatusServiceUnavailable, code)

	ts.session = fakeSession{state: gateway.QRState{Code: "2@abc", DataURL: "data:image/png;base64,AAAA"}}
	code, env := ts.do(t, http.MethodGet, "/session/qr", nil)
	require.Equal(t, http.StatusOK, code)
	var qr gateway.QRState
	require.NoError(t, json.Unmarshal(env.Data, &qr))
	require.False(t, qr.Paired)
	require.Equal(t, "data:image/png;base64,AAAA", qr.DataURL)
}

func TestDeliveryEndpointsWithoutManager(t *testing.T) {
	ts := newTestServer(t)
	for _, path := range []string{"/delivery/status", "/delivery/metrics", "/delivery/events/x"} {
		code, env := ts.do(t, http.MethodGet, path, nil)
		require.Equal(t, http.StatusServiceUnavailable, code, path)
		require.Equal(t, errDeliveryDisabled.Error(), env.Error)
	}
	code, _ := ts.do(t, http.MethodPost, "/delivery/retry", nil)
	require.Equal(t, http.StatusServiceUnavailable, code)
}

func TestDeliveryEndpoints(t *testing.T) {
	ts := newTestServer(t)
	ts.delivery = NewDeliveryManager("", &recordingPublisher{fail: true})

	event := &DeliveryEvent{EventType: models.EventUserProblem, JsonData: json.RawMessage(`{}`)}
	ts.delivery.DeliverEvent(event)

	code, env := ts.do(t, http.MethodGet, "/delivery/status", nil)
	require.Equal(t, http.StatusOK, code)
	var status map[string]any
	require.NoError(t, json.Unmarshal(env.Data, &status))
	require.Equal(t, true, status["rabbitmq"])
	require.Equal(t, false, status["webhook"])

	code, _ = ts.do(t, http.MethodGet, "/delivery/events/"+event.ID, nil)
	require.Equal(t, http.StatusOK, code)

	code, env = ts.do(t, http.MethodGet, "/delivery/metrics?event_type=statusUpdate", nil)
	require.Equal(t, http.StatusOK, code)
	var metrics map[string]any
	require.NoError(t, json.Unmarshal(env.Data, &metrics))
	require.EqualValues(t, 0, metrics["filtered_count"])

	code, _ = ts.do(t, http.MethodPost, "/delivery/retry/missing", nil)
	require.Equal(t, http.StatusNotFound, code)
}

func TestRecovererTurnsPanicInto500(t *testing.T) {
	h := recoverer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) { panic("boom") }))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestFanout(t *testing.T) {
	a := &countingBroadcaster{}
	b := &countingBroadcaster{}
	fanout{a, b}.Broadcast(models.EventStatusUpdate, nil)
	require.Equal(t, 1, a.n)
	require.Equal(t, 1, b.n)
}

type countingBroadcaster struct{ n int }

func (c *countingBroadcaster) Broadcast(string, any) { c.n++ }
