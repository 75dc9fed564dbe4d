package relay

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"voicebridge/internal/calls"
	"voicebridge/internal/config"
	"voicebridge/internal/scenario"
	"voicebridge/internal/streamtoken"
)

type fakeSpeechDialer struct{ conn *fakeConn }

func (d *fakeSpeechDialer) Dial(context.Context) (Conn, error) { return d.conn, nil }

func testHandler(t *testing.T, store calls.Store, speech *fakeConn) (*Handler, *streamtoken.Manager) {
	t.Helper()
	tokens, err := streamtoken.NewManager(config.StreamConfig{TokenSecret: "stream-test-secret"})
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	h := NewHandler(
		tokens,
		&fakeSpeechDialer{conn: speech},
		calls.NewTracker(store),
		scenario.NewRegistry(),
		config.SpeechConfig{
			Voice:             "alloy",
			InputAudioFormat:  "g711_ulaw",
			OutputAudioFormat: "g711_ulaw",
			TurnDetectionType: "server_vad",
		},
		config.StreamConfig{},
		nil, // no redis: session cap disabled
	)
	return h, tokens
}

func streamServer(t *testing.T, h *Handler) *httptest.Server {
	t.Helper()
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/media-stream", h.HandleMediaStream)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func TestHandleMediaStreamRecordsCallInProgress(t *testing.T) {
	store := calls.NewMemoryStore()
	speech := newFakeConn()
	h, tokens := testHandler(t, store, speech)
	srv := streamServer(t, h)

	token, err := tokens.Issue(time.Now(), "CA555", "u1", "receptionist")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/media-stream?token=" + token

	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	// The handler registers the call before the session starts pumping.
	deadline := time.Now().Add(2 * time.Second)
	var call calls.Call
	for {
		call, err = store.GetCallByExternalID(context.Background(), "CA555")
		if err == nil {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("call was never registered")
		}
		time.Sleep(10 * time.Millisecond)
	}
	if call.Status != calls.StatusInProgress {
		t.Fatalf("expected in_progress, got %v", call.Status)
	}
	if call.UserID != "u1" || call.Scenario != "receptionist" {
		t.Fatalf("token claims must travel onto the call, got %+v", call)
	}

	// Hang up and make sure the session ran: the speech leg saw the
	// configuration message and the commit.
	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"event":"stop"}`)); err != nil {
		t.Fatalf("write stop: %v", err)
	}
	for {
		types := decodeTypes(t, speech.messages())
		if len(types) >= 2 && types[0] == "session.update" && types[len(types)-1] == "input_audio_buffer.commit" {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("speech leg never saw update+commit, got %v", types)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestHandleMediaStreamRejectsBadToken(t *testing.T) {
	store := calls.NewMemoryStore()
	h, _ := testHandler(t, store, newFakeConn())
	srv := streamServer(t, h)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/media-stream?token=garbage"
	_, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err == nil {
		t.Fatalf("expected handshake rejection")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %+v", resp)
	}
	if _, err := store.GetCallByExternalID(context.Background(), "CA555"); err == nil {
		t.Fatalf("no call may be registered for a rejected stream")
	}
}
