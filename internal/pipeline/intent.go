package pipeline

import "strings"

// IntentDetector decides whether a conversation contains a scheduling
// commitment. The phrase heuristic is deliberately crude and swappable.
type IntentDetector interface {
	DetectSchedulingIntent(text string) bool
}

// PhraseIntentDetector matches a fixed set of commitment phrases,
// case-insensitively.
type PhraseIntentDetector struct {
	phrases []string
}

func NewPhraseIntentDetector() *PhraseIntentDetector {
	return &PhraseIntentDetector{phrases: []string{
		"i'll schedule that",
		"i will schedule that",
		"i'll schedule your appointment",
		"adding to your calendar",
		"i'll add that to the calendar",
		"i'll add it to the calendar",
		"added to your calendar",
		"put that on the calendar",
		"i'll book that",
		"i'll book you in",
		"your appointment is scheduled",
		"scheduled your appointment",
	}}
}

var _ IntentDetector = (*PhraseIntentDetector)(nil)

func (d *PhraseIntentDetector) DetectSchedulingIntent(text string) bool {
	lowered := strings.ToLower(text)
	for _, p := range d.phrases {
		if strings.Contains(lowered, p) {
			return true
		}
	}
	return false
}
