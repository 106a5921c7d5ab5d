package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/stagecast/engine/internal/collab"
	"github.com/stagecast/engine/internal/config"
	"github.com/stagecast/engine/internal/domain"
	"github.com/stagecast/engine/internal/engine"
	"github.com/stagecast/engine/internal/signal"
)

// noopTransport satisfies engine.Transport for router tests.
type noopTransport struct{}

func (noopTransport) Connect(context.Context) error                              { return nil }
func (noopTransport) Send(signal.MessageType, any) error                         { return nil }
func (noopTransport) SendTo(domain.ParticipantID, signal.MessageType, any) error { return nil }
func (noopTransport) On(signal.MessageType, signal.Handler)                      {}
func (noopTransport) OnDown(func(error))                                         {}
func (noopTransport) Connected() bool                                            { return true }
func (noopTransport) Close()                                                     {}

func testRouter(t *testing.T) (*gin.Engine, *engine.Engine) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	eng := engine.New(noopTransport{}, engine.Options{
		SessionID: "s1",
		Self:      domain.Participant{ID: "me", DisplayName: "Me", Role: domain.RoleHost},
	})
	cfg := &config.Config{Mode: "release", APIAddr: "127.0.0.1:0", StaticPath: t.TempDir()}
	return SetupRouter(cfg, eng), eng
}

func get(t *testing.T, r *gin.Engine, path string) *httptest.ResponseRecorder {
	t.Helper()
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	r.ServeHTTP(w, req)
	return w
}

func TestStatusEndpoint(t *testing.T) {
	r, _ := testRouter(t)

	w := get(t, r, "/api/status")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body["session"] != "s1" || body["connected"] != true {
		t.Fatalf("body = %v", body)
	}
}

func TestChatEndpointReflectsStore(t *testing.T) {
	r, eng := testRouter(t)

	eng.Chat().ApplyNew(domain.ChatMessage{ID: "m1", Content: "hello"})

	w := get(t, r, "/api/chat")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var msgs []domain.ChatMessage
	if err := json.Unmarshal(w.Body.Bytes(), &msgs); err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 1 || msgs[0].Content != "hello" {
		t.Fatalf("messages = %+v", msgs)
	}
}

func TestLeadingOptionEndpoint(t *testing.T) {
	r, eng := testRouter(t)

	if w := get(t, r, "/api/polls/ghost/leading"); w.Code != http.StatusNotFound {
		t.Fatalf("unknown poll status = %d", w.Code)
	}

	eng.Polls().ApplyNew(collab.NewPollPayload{ID: "p1", Question: "q", Options: []string{"a", "b"}, IsActive: true})
	eng.Polls().ApplyVote(collab.VoteCastPayload{PollID: "p1", OptionIndex: 1, VoterID: "v1"})

	w := get(t, r, "/api/polls/p1/leading")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var lead domain.PollOption
	if err := json.Unmarshal(w.Body.Bytes(), &lead); err != nil {
		t.Fatal(err)
	}
	if lead.Index != 1 || lead.Votes != 1 {
		t.Fatalf("leading = %+v", lead)
	}
}

func TestParticipantsEndpointEmpty(t *testing.T) {
	r, _ := testRouter(t)
	w := get(t, r, "/api/participants")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if body := w.Body.String(); body != "[]" {
		t.Fatalf("body = %s, want empty array", body)
	}
}
