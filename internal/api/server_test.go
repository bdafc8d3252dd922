package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crmdesk/softphone/internal/calllog"
	"github.com/crmdesk/softphone/internal/session"
)

type stubController struct {
	mu         sync.Mutex
	registered bool
	inCall     bool
	status     session.Status
	answerErr  error
	placed     []string
	hangups    int
}

func (s *stubController) PlaceCall(ctx context.Context, number string) (*session.Call, error) {
	s.mu.Lock()
	s.placed = append(s.placed, number)
	s.mu.Unlock()
	return nil, nil
}

func (s *stubController) Answer(ctx context.Context) error { return s.answerErr }

func (s *stubController) Hangup(ctx context.Context) {
	s.mu.Lock()
	s.hangups++
	s.mu.Unlock()
}

func (s *stubController) Status() session.Status { return s.status }
func (s *stubController) Registered() bool       { return s.registered }
func (s *stubController) IsInCall() bool         { return s.inCall }

func (s *stubController) placedNumbers() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.placed...)
}

type stubJournal struct {
	mu     sync.Mutex
	placed []string
}

func (j *stubJournal) CallPlaced(number string) {
	j.mu.Lock()
	j.placed = append(j.placed, number)
	j.mu.Unlock()
}

func newTestServer(ctrl *stubController, history HistoryProvider, journal Journal) http.Handler {
	return NewServer("127.0.0.1:0", ctrl, history, journal).Handler()
}

func doRequest(h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, path, strings.NewReader(body)))
	return rec
}

func TestHealth(t *testing.T) {
	h := newTestServer(&stubController{registered: true}, nil, nil)

	rec := doRequest(h, http.MethodGet, "/api/v1/health", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, true, body["registered"])
}

func TestStatusEndpoint(t *testing.T) {
	ctrl := &stubController{status: session.Status{
		Connected:  true,
		Registered: true,
		InCall:     true,
		Direction:  "inbound",
		Number:     "9998887777",
	}}
	h := newTestServer(ctrl, nil, nil)

	rec := doRequest(h, http.MethodGet, "/api/v1/status", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var st session.Status
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &st))
	assert.True(t, st.InCall)
	assert.Equal(t, "9998887777", st.Number)

	rec = doRequest(h, http.MethodPost, "/api/v1/status", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestPlaceCall(t *testing.T) {
	ctrl := &stubController{registered: true}
	journal := &stubJournal{}
	h := newTestServer(ctrl, nil, journal)

	rec := doRequest(h, http.MethodPost, "/api/v1/calls", `{"number":"5551234"}`)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	// Dial runs in the background; wait for the stub to see it.
	require.Eventually(t, func() bool {
		return len(ctrl.placedNumbers()) == 1
	}, time.Second, 5*time.Millisecond, "controller never dialed")
	assert.Equal(t, "5551234", ctrl.placedNumbers()[0])

	journal.mu.Lock()
	journaled := append([]string(nil), journal.placed...)
	journal.mu.Unlock()
	assert.Equal(t, []string{"5551234"}, journaled)
}

func TestPlaceCallPreconditions(t *testing.T) {
	h := newTestServer(&stubController{registered: false}, nil, nil)
	rec := doRequest(h, http.MethodPost, "/api/v1/calls", `{"number":"5551234"}`)
	assert.Equal(t, http.StatusPreconditionFailed, rec.Code, "dial while unregistered")

	h = newTestServer(&stubController{registered: true, inCall: true}, nil, nil)
	rec = doRequest(h, http.MethodPost, "/api/v1/calls", `{"number":"5551234"}`)
	assert.Equal(t, http.StatusConflict, rec.Code, "dial while busy")

	h = newTestServer(&stubController{registered: true}, nil, nil)
	rec = doRequest(h, http.MethodPost, "/api/v1/calls", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code, "dial without number")
}

func TestAnswer(t *testing.T) {
	h := newTestServer(&stubController{}, nil, nil)
	rec := doRequest(h, http.MethodPost, "/api/v1/calls/current/answer", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	h = newTestServer(&stubController{answerErr: session.ErrNoIncomingCall}, nil, nil)
	rec = doRequest(h, http.MethodPost, "/api/v1/calls/current/answer", "")
	assert.Equal(t, http.StatusConflict, rec.Code, "answer without incoming call")

	rec = doRequest(h, http.MethodGet, "/api/v1/calls/current/answer", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestHangup(t *testing.T) {
	ctrl := &stubController{}
	h := newTestServer(ctrl, nil, nil)

	rec := doRequest(h, http.MethodPost, "/api/v1/calls/current/hangup", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, ctrl.hangups)
}

func TestHistoryEndpoint(t *testing.T) {
	history := calllog.NewHistory(time.Hour)
	defer history.Close()
	for i := 0; i < 4; i++ {
		history.Write(calllog.Entry{
			ID:   string(rune('a' + i)),
			Type: calllog.EntryCallEnded,
			Time: time.Now().Add(time.Duration(i) * time.Minute),
		})
	}

	h := newTestServer(&stubController{}, history, nil)

	rec := doRequest(h, http.MethodGet, "/api/v1/calls?limit=2", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var entries []calllog.Entry
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &entries))
	assert.Len(t, entries, 2)

	rec = doRequest(h, http.MethodGet, "/api/v1/calls?limit=zero", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
