package relay

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"strings"
	"sync"
	"testing"
	"time"
)

// fakeConn is an in-memory Conn. Reads drain a frame queue; writes are
// captured for assertions. Close unblocks pending reads the way a closed
// socket would.
type fakeConn struct {
	in     chan []byte
	closed chan struct{}
	once   sync.Once

	mu      sync.Mutex
	written [][]byte
}

func newFakeConn(frames ...string) *fakeConn {
	c := &fakeConn{in: make(chan []byte, 64), closed: make(chan struct{})}
	for _, f := range frames {
		c.in <- []byte(f)
	}
	return c
}

func (c *fakeConn) push(frame string) { c.in <- []byte(frame) }

func (c *fakeConn) ReadMessage() (int, []byte, error) {
	select {
	case data := <-c.in:
		return 1, data, nil
	case <-c.closed:
		return 0, nil, net.ErrClosed
	}
}

func (c *fakeConn) WriteMessage(_ int, data []byte) error {
	select {
	case <-c.closed:
		return net.ErrClosed
	default:
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	cp := make([]byte, len(data))
	copy(cp, data)
	c.written = append(c.written, cp)
	return nil
}

func (c *fakeConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

func (c *fakeConn) messages() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([][]byte, len(c.written))
	copy(out, c.written)
	return out
}

func testConfig() Config {
	return Config{
		CallSID:           "CA123",
		Instructions:      "be helpful",
		Voice:             "alloy",
		InputAudioFormat:  "g711_ulaw",
		OutputAudioFormat: "g711_ulaw",
		TurnDetectionType: "server_vad",
		TurnThreshold:     0.5,
		PrefixPaddingMs:   300,
		SilenceDurationMs: 500,
		Temperature:       0.8,
	}
}

func runSession(t *testing.T, telephony, speech Conn) (*Session, error) {
	t.Helper()
	s := NewSession(telephony, testConfig(), slog.Default())
	done := make(chan error, 1)
	go func() { done <- s.Run(speech) }()
	select {
	case err := <-done:
		return s, err
	case <-time.After(2 * time.Second):
		t.Fatalf("session did not finish")
		return nil, nil
	}
}

func decodeTypes(t *testing.T, msgs [][]byte) []string {
	t.Helper()
	var types []string
	for _, m := range msgs {
		var head struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(m, &head); err != nil {
			t.Fatalf("bad speech-side message %q: %v", m, err)
		}
		types = append(types, head.Type)
	}
	return types
}

func TestSessionSingleUpdateThenCommit(t *testing.T) {
	telephony := newFakeConn(
		`{"event":"connected"}`,
		`{"event":"start","start":{"streamSid":"MZ1","callSid":"CA123"}}`,
		`{"event":"stop"}`,
	)
	speech := newFakeConn()

	s, err := runSession(t, telephony, speech)
	if err != nil {
		t.Fatalf("expected clean shutdown, got %v", err)
	}
	if s.State() != StateClosed {
		t.Fatalf("expected closed state, got %v", s.State())
	}

	types := decodeTypes(t, speech.messages())
	if len(types) != 2 || types[0] != "session.update" || types[1] != "input_audio_buffer.commit" {
		t.Fatalf("expected [session.update input_audio_buffer.commit], got %v", types)
	}
	if !telephony.isClosed() || !speech.isClosed() {
		t.Fatalf("both sockets must be closed on exit")
	}
}

func TestMediaForwardedByteIdentical(t *testing.T) {
	payload := "dGVzdC1hdWRpby1ieXRlcw=="
	telephony := newFakeConn(
		`{"event":"start","start":{"streamSid":"MZ1","callSid":"CA123"}}`,
		`{"event":"media","streamSid":"MZ1","media":{"payload":"`+payload+`"}}`,
		`{"event":"stop"}`,
	)
	speech := newFakeConn()

	if _, err := runSession(t, telephony, speech); err != nil {
		t.Fatalf("expected clean shutdown, got %v", err)
	}

	var appends []audioBufferAppend
	for _, m := range speech.messages() {
		var head struct {
			Type  string `json:"type"`
			Audio string `json:"audio"`
		}
		if err := json.Unmarshal(m, &head); err != nil {
			t.Fatalf("bad message: %v", err)
		}
		if head.Type == "input_audio_buffer.append" {
			appends = append(appends, audioBufferAppend{Type: head.Type, Audio: head.Audio})
		}
	}
	if len(appends) != 1 {
		t.Fatalf("expected exactly one append per media frame, got %d", len(appends))
	}
	if appends[0].Audio != payload {
		t.Fatalf("audio payload must pass through untouched: got %q", appends[0].Audio)
	}
}

func TestInvalidFramesDroppedSessionContinues(t *testing.T) {
	telephony := newFakeConn(
		`not json at all`,
		`{"event":""}`,
		`{"event":"teleport","streamSid":"MZ1"}`,
		`{"event":"media","streamSid":"MZ1"}`,
		`{"event":"media","streamSid":"MZ1","media":{"payload":"QUJD"}}`,
		`{"event":"stop"}`,
	)
	speech := newFakeConn()

	s, err := runSession(t, telephony, speech)
	if err != nil {
		t.Fatalf("invalid frames must not take the session down, got %v", err)
	}
	if s.State() != StateClosed {
		t.Fatalf("expected closed state, got %v", s.State())
	}

	types := decodeTypes(t, speech.messages())
	appendCount := 0
	for _, tp := range types {
		if tp == "input_audio_buffer.append" {
			appendCount++
		}
	}
	if appendCount != 1 {
		t.Fatalf("only the one valid media frame should be forwarded, got %d appends", appendCount)
	}
}

func TestSpeechAudioForwardedToCall(t *testing.T) {
	telephony := newFakeConn(
		`{"event":"start","start":{"streamSid":"MZ77","callSid":"CA123"}}`,
	)
	speech := newFakeConn()

	go func() {
		// Let the inbound pump record the stream id before audio arrives,
		// then hang up once the forward had a chance to happen.
		time.Sleep(30 * time.Millisecond)
		speech.push(`{"type":"audio","audio":"c3ludGg="}`)
		time.Sleep(50 * time.Millisecond)
		telephony.push(`{"event":"stop"}`)
	}()

	if _, err := runSession(t, telephony, speech); err != nil {
		t.Fatalf("expected clean shutdown, got %v", err)
	}

	var found bool
	for _, m := range telephony.messages() {
		var f outboundMediaFrame
		if err := json.Unmarshal(m, &f); err != nil {
			continue
		}
		if f.Event == "media" && f.Media.Payload == "c3ludGg=" && f.StreamSid == "MZ77" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected synthesized audio forwarded with the stream id, wrote %d frames", len(telephony.messages()))
	}
}

func TestSpeechErrorEventFailsSession(t *testing.T) {
	telephony := newFakeConn()
	speech := newFakeConn(
		`{"type":"error","error":{"message":"rate limited"}}`,
	)

	s, err := runSession(t, telephony, speech)
	if err == nil || !strings.Contains(err.Error(), "rate limited") {
		t.Fatalf("expected speech error surfaced, got %v", err)
	}
	if s.State() != StateFailed {
		t.Fatalf("expected failed state, got %v", s.State())
	}
	if !telephony.isClosed() || !speech.isClosed() {
		t.Fatalf("both sockets must be closed after a fault")
	}
}

// failWriteConn rejects every write, forcing negotiation to fail.
type failWriteConn struct{ fakeConn }

func (c *failWriteConn) WriteMessage(int, []byte) error { return errors.New("write refused") }

func TestNegotiationFailure(t *testing.T) {
	telephony := newFakeConn()
	speech := &failWriteConn{fakeConn: fakeConn{in: make(chan []byte), closed: make(chan struct{})}}

	s := NewSession(telephony, testConfig(), slog.Default())
	if err := s.Run(speech); err == nil {
		t.Fatalf("expected negotiation error")
	}
	if s.State() != StateFailed {
		t.Fatalf("expected failed state, got %v", s.State())
	}
	if !telephony.isClosed() {
		t.Fatalf("telephony socket must be closed after negotiation failure")
	}
}

// panicConn panics on read to exercise the pump guard.
type panicConn struct{ fakeConn }

func (c *panicConn) ReadMessage() (int, []byte, error) { panic("read exploded") }

func TestPumpPanicBecomesFailure(t *testing.T) {
	telephony := &panicConn{fakeConn: fakeConn{in: make(chan []byte), closed: make(chan struct{})}}
	speech := newFakeConn()

	s := NewSession(telephony, testConfig(), slog.Default())
	err := s.Run(speech)
	if err == nil || !strings.Contains(err.Error(), "panic") {
		t.Fatalf("expected panic converted to error, got %v", err)
	}
	if s.State() != StateFailed {
		t.Fatalf("expected failed state, got %v", s.State())
	}
	if !speech.isClosed() {
		t.Fatalf("speech socket must be closed after a pump panic")
	}
}
