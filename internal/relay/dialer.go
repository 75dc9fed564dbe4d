package relay

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gorilla/websocket"

	"voicebridge/internal/config"
)

// SpeechDialer opens the provider-side leg of a relay session.
type SpeechDialer interface {
	Dial(ctx context.Context) (Conn, error)
}

// WebsocketSpeechDialer connects to the realtime speech endpoint with the
// account's API key.
type WebsocketSpeechDialer struct {
	url    string
	apiKey string
	dialer *websocket.Dialer
}

func NewWebsocketSpeechDialer(cfg config.SpeechConfig) *WebsocketSpeechDialer {
	return &WebsocketSpeechDialer{
		url:    cfg.URL,
		apiKey: cfg.APIKey,
		dialer: websocket.DefaultDialer,
	}
}

func (d *WebsocketSpeechDialer) Dial(ctx context.Context) (Conn, error) {
	header := http.Header{}
	header.Set("Authorization", "Bearer "+d.apiKey)
	header.Set("OpenAI-Beta", "realtime=v1")

	conn, resp, err := d.dialer.DialContext(ctx, d.url, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("relay: speech dial: %w (status %d)", err, resp.StatusCode)
		}
		return nil, fmt.Errorf("relay: speech dial: %w", err)
	}
	return conn, nil
}
