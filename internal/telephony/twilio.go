package telephony

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"voicebridge/internal/calls"
	"voicebridge/internal/config"

	twilio "github.com/twilio/twilio-go"
	api "github.com/twilio/twilio-go/rest/api/v2010"
	intelligence "github.com/twilio/twilio-go/rest/intelligence/v2"
)

// TwilioProvider adapts the Twilio SDK to the Provider interface. It is the
// only place vendor response shapes are touched; optional vendor fields get
// their defaults here and nowhere else.
type TwilioProvider struct {
	client *twilio.RestClient
	from   string
}

func NewTwilioProvider(cfg config.TelephonyConfig) (*TwilioProvider, error) {
	if cfg.AccountSID == "" {
		return nil, errors.New("telephony: account sid is required")
	}
	client := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: cfg.AccountSID,
		Password: cfg.AuthToken,
	})
	return &TwilioProvider{client: client, from: cfg.FromNumber}, nil
}

func (p *TwilioProvider) Name() string { return "twilio" }

func (p *TwilioProvider) PlaceCall(ctx context.Context, req PlaceCallRequest) (PlacedCall, error) {
	if req.To == "" {
		return PlacedCall{}, errors.New("telephony: destination number is required")
	}
	if req.WebhookURL == "" {
		return PlacedCall{}, errors.New("telephony: webhook url is required")
	}

	from := req.From
	if from == "" {
		from = p.from
	}

	params := &api.CreateCallParams{}
	params.SetTo(req.To)
	params.SetFrom(from)
	params.SetUrl(req.WebhookURL)
	params.SetRecord(req.Record)
	if req.Timeout > 0 {
		params.SetTimeout(int(req.Timeout.Seconds()))
	}

	resp, err := p.client.Api.CreateCall(params)
	if err != nil {
		return PlacedCall{}, fmt.Errorf("telephony: create call: %w", err)
	}
	if resp.Sid == nil || *resp.Sid == "" {
		return PlacedCall{}, errors.New("telephony: provider returned call without sid")
	}
	return PlacedCall{CallID: *resp.Sid}, nil
}

func (p *TwilioProvider) FetchTranscript(ctx context.Context, transcriptID string) (ProviderTranscript, error) {
	if transcriptID == "" {
		return ProviderTranscript{}, errors.New("telephony: transcript id is required")
	}

	tr, err := p.client.IntelligenceV2.FetchTranscript(transcriptID)
	if err != nil {
		return ProviderTranscript{}, fmt.Errorf("telephony: fetch transcript: %w", err)
	}

	raw, err := p.client.IntelligenceV2.ListSentence(transcriptID, &intelligence.ListSentenceParams{})
	if err != nil {
		return ProviderTranscript{}, fmt.Errorf("telephony: list sentences: %w", err)
	}

	out := ProviderTranscript{
		ID:              transcriptID,
		Status:          strOr(tr.Status, "completed"),
		Language:        strOr(tr.LanguageCode, ""),
		DurationSeconds: tr.Duration,
		Sentences:       mapSentences(raw),
	}
	return out, nil
}

func mapSentences(raw []intelligence.IntelligenceV2Sentence) []calls.Sentence {
	out := make([]calls.Sentence, 0, len(raw))
	for _, s := range raw {
		out = append(out, calls.Sentence{
			Text:       strOr(s.Transcript, ""),
			Channel:    s.MediaChannel,
			StartTime:  floatOr(s.StartTime, 0),
			EndTime:    floatOr(s.EndTime, 0),
			Confidence: floatOr(s.Confidence, 0),
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].StartTime < out[j].StartTime })
	return out
}

func strOr(p *string, def string) string {
	if p == nil || *p == "" {
		return def
	}
	return *p
}

func floatOr(p *float32, def float64) float64 {
	if p == nil {
		return def
	}
	return float64(*p)
}

// DialTimeout is the default ring timeout for scheduled outbound calls.
const DialTimeout = 30 * time.Second

var _ Provider = (*TwilioProvider)(nil)
