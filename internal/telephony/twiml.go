package telephony

import (
	"github.com/twilio/twilio-go/twiml"
)

// StreamAnswer builds the TwiML answer that connects an answered call to the
// media-stream relay endpoint.
func StreamAnswer(streamURL string) (string, error) {
	connect := &twiml.VoiceConnect{
		InnerElements: []twiml.Element{
			&twiml.VoiceStream{Url: streamURL},
		},
	}
	return twiml.Voice([]twiml.Element{connect})
}
