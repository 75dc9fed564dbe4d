// Package relay bridges a telephony media stream to a realtime speech
// service, one session per call.
package relay

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"

	"github.com/gorilla/websocket"
)

// State of one relay session. FAILED is reachable from every non-terminal
// state.
type State int32

const (
	StateConnecting State = iota
	StateNegotiating
	StateStreaming
	StateClosing
	StateClosed
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateNegotiating:
		return "negotiating"
	case StateStreaming:
		return "streaming"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Conn is the subset of *websocket.Conn the session needs. Narrowed for
// tests.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// Config carries everything needed for the one session-configuration
// message sent while negotiating.
type Config struct {
	CallSID      string
	Instructions string
	Voice        string

	InputAudioFormat  string
	OutputAudioFormat string

	TurnDetectionType string
	TurnThreshold     float64
	PrefixPaddingMs   int
	SilenceDurationMs int
	Temperature       float64
}

// Session owns exactly two socket handles for the lifetime of one call.
// The two forwarding pumps share nothing else except the stream id the
// telephony side assigns, which the inbound pump publishes once.
type Session struct {
	telephony Conn
	speech    Conn
	cfg       Config
	log       *slog.Logger

	state     atomic.Int32
	streamSid atomic.Value // string

	closeTelephony sync.Once
	closeSpeech    sync.Once
}

// NewSession wraps an accepted telephony connection. The speech leg is
// attached in Run.
func NewSession(telephony Conn, cfg Config, log *slog.Logger) *Session {
	s := &Session{telephony: telephony, cfg: cfg, log: log.With("call_sid", cfg.CallSID)}
	s.state.Store(int32(StateConnecting))
	return s
}

func (s *Session) State() State { return State(s.state.Load()) }

func (s *Session) setState(st State) {
	// FAILED and CLOSED are terminal.
	cur := State(s.state.Load())
	if cur == StateFailed || cur == StateClosed {
		return
	}
	s.state.Store(int32(st))
}

// Run negotiates the speech leg and then pumps both directions until either
// side finishes. Whichever pump completes first causes the other to be
// cancelled; both sockets are closed on every exit path. A failure here ends
// only this session.
func (s *Session) Run(speech Conn) error {
	s.speech = speech
	s.setState(StateNegotiating)

	if err := s.negotiate(); err != nil {
		s.fail()
		s.log.Error("speech session negotiation failed", "err", err)
		return fmt.Errorf("relay: negotiate: %w", err)
	}

	s.setState(StateStreaming)
	s.log.Info("relay streaming")

	errCh := make(chan error, 2)
	go func() { errCh <- s.guard("inbound", s.inboundPump) }()
	go func() { errCh <- s.guard("outbound", s.outboundPump) }()

	first := <-errCh
	s.setState(StateClosing)
	s.closeBoth()
	<-errCh // wait for the sibling pump to unblock and return

	if first != nil && !isExpectedClose(first) {
		s.fail()
		s.log.Error("relay session failed", "err", first)
		return first
	}
	s.setState(StateClosed)
	s.log.Info("relay session closed")
	return nil
}

// negotiate sends exactly one session-configuration message.
func (s *Session) negotiate() error {
	upd := sessionUpdate{
		Type: "session.update",
		Session: sessionConfig{
			Modalities:        []string{"text", "audio"},
			Instructions:      s.cfg.Instructions,
			Voice:             s.cfg.Voice,
			InputAudioFormat:  s.cfg.InputAudioFormat,
			OutputAudioFormat: s.cfg.OutputAudioFormat,
			TurnDetection: turnDetection{
				Type:              s.cfg.TurnDetectionType,
				Threshold:         s.cfg.TurnThreshold,
				PrefixPaddingMs:   s.cfg.PrefixPaddingMs,
				SilenceDurationMs: s.cfg.SilenceDurationMs,
			},
			Temperature: s.cfg.Temperature,
		},
	}
	data, err := json.Marshal(upd)
	if err != nil {
		return err
	}
	return s.speech.WriteMessage(websocket.TextMessage, data)
}

// guard keeps a pump panic from escaping the session: the panic becomes a
// fault that closes both sockets, same as any pump error.
func (s *Session) guard(name string, pump func() error) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("relay: %s pump panic: %v", name, p)
		}
	}()
	return pump()
}

// inboundPump forwards telephony media into the speech buffer. A stop frame
// commits the buffer and ends this pump only; the session teardown then
// cancels the outbound pump.
func (s *Session) inboundPump() error {
	for {
		_, data, err := s.telephony.ReadMessage()
		if err != nil {
			return err
		}

		var f telephonyFrame
		if err := json.Unmarshal(data, &f); err != nil {
			s.log.Warn("telephony frame dropped", "err", fmt.Errorf("%w: bad json: %v", ErrProtocolViolation, err))
			continue
		}
		if err := f.validate(); err != nil {
			s.log.Warn("telephony frame dropped", "err", err)
			continue
		}

		switch f.Event {
		case eventStart:
			if f.Start != nil && f.Start.StreamSid != "" {
				s.streamSid.Store(f.Start.StreamSid)
			}
		case eventMedia:
			s.streamSid.Store(f.StreamSid)
			cmd := audioBufferAppend{Type: "input_audio_buffer.append", Audio: f.Media.Payload}
			out, err := json.Marshal(cmd)
			if err != nil {
				return err
			}
			if err := s.speech.WriteMessage(websocket.TextMessage, out); err != nil {
				return err
			}
		case eventStop:
			cmd := audioBufferCommit{Type: "input_audio_buffer.commit"}
			out, err := json.Marshal(cmd)
			if err != nil {
				return err
			}
			if err := s.speech.WriteMessage(websocket.TextMessage, out); err != nil {
				return err
			}
			return nil
		default:
			// connected/mark/clear carry no speech-side effect
			s.log.Debug("telephony event observed", "event", f.Event)
		}
	}
}

// outboundPump forwards speech audio back onto the call. Only audio and
// error events have telephony-side effects.
func (s *Session) outboundPump() error {
	for {
		_, data, err := s.speech.ReadMessage()
		if err != nil {
			return err
		}

		var ev speechEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			s.log.Warn("speech event dropped", "err", fmt.Errorf("%w: bad json: %v", ErrProtocolViolation, err))
			continue
		}

		switch ev.Type {
		case "audio":
			sid, _ := s.streamSid.Load().(string)
			frame := outboundMediaFrame{
				Event:     eventMedia,
				StreamSid: sid,
				Media:     mediaPayload{Payload: ev.Audio},
			}
			out, err := json.Marshal(frame)
			if err != nil {
				return err
			}
			if err := s.telephony.WriteMessage(websocket.TextMessage, out); err != nil {
				return err
			}
		case "error":
			msg := "speech service error"
			if ev.Error != nil {
				msg = ev.Error.Message
			}
			return fmt.Errorf("relay: speech error event: %s", msg)
		default:
			s.log.Debug("speech event observed", "type", ev.Type)
		}
	}
}

// fail closes both sockets with a fault indication.
func (s *Session) fail() {
	s.closeBoth()
	s.state.Store(int32(StateFailed))
}

func (s *Session) closeBoth() {
	s.closeTelephony.Do(func() {
		if s.telephony != nil {
			_ = s.telephony.Close()
		}
	})
	s.closeSpeech.Do(func() {
		if s.speech != nil {
			_ = s.speech.Close()
		}
	})
}

// isExpectedClose reports whether err is an ordinary socket teardown rather
// than a fault.
func isExpectedClose(err error) bool {
	if err == nil {
		return true
	}
	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
		return true
	}
	return errors.Is(err, net.ErrClosed) || errors.Is(err, io.EOF) || errors.Is(err, io.ErrClosedPipe)
}
