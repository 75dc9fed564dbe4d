package pipeline

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Fields are the best-effort event details pulled out of a transcript.
// Start and End are always populated; unparseable fields fall back to
// documented defaults.
type Fields struct {
	ClientName string
	Phone      string
	Service    string
	Start      time.Time
	End        time.Time
	TimeZone   string // IANA name of the location the times were parsed in
}

// FieldExtractor turns transcript text into event fields.
type FieldExtractor interface {
	ExtractEventFields(text string, now time.Time) Fields
}

const (
	defaultHour     = 14
	defaultDuration = time.Hour
	defaultService  = "appointment"
)

var (
	namePattern  = regexp.MustCompile(`(?i)(?:my name is|this is|i am|i'm)\s+([a-z]+(?:\s+[a-z]+)?)`)
	phonePattern = regexp.MustCompile(`\+?\d[\d().\-\s]{7,}\d`)
	timePattern  = regexp.MustCompile(`(?i)\bat\s+(\d{1,2})(?::(\d{2}))?\s*(am|pm|o'clock)?`)

	serviceKeywords = []string{
		"haircut", "cleaning", "consultation", "massage",
		"repair", "inspection", "checkup", "tutoring",
	}

	weekdays = map[string]time.Weekday{
		"sunday": time.Sunday, "monday": time.Monday, "tuesday": time.Tuesday,
		"wednesday": time.Wednesday, "thursday": time.Thursday,
		"friday": time.Friday, "saturday": time.Saturday,
	}
)

// HeuristicExtractor is the regex/keyword implementation. Times are
// interpreted in loc.
type HeuristicExtractor struct {
	loc *time.Location
}

func NewHeuristicExtractor(loc *time.Location) *HeuristicExtractor {
	if loc == nil {
		loc = time.Local
	}
	return &HeuristicExtractor{loc: loc}
}

var _ FieldExtractor = (*HeuristicExtractor)(nil)

func (e *HeuristicExtractor) ExtractEventFields(text string, now time.Time) Fields {
	now = now.In(e.loc)
	f := Fields{Service: defaultService, TimeZone: e.loc.String()}

	if m := namePattern.FindStringSubmatch(text); m != nil {
		f.ClientName = titleCase(m[1])
	}
	if m := phonePattern.FindString(text); m != "" {
		f.Phone = cleanPhone(m)
	}
	lowered := strings.ToLower(text)
	for _, kw := range serviceKeywords {
		if strings.Contains(lowered, kw) {
			f.Service = kw
			break
		}
	}

	f.Start = e.extractStart(lowered, now)
	f.End = f.Start.Add(defaultDuration)
	return f
}

// extractStart resolves a day phrase plus an optional clock phrase. With no
// day phrase at all, the default is the next business day at 14:00.
func (e *HeuristicExtractor) extractStart(lowered string, now time.Time) time.Time {
	day, dayFound := e.extractDay(lowered, now)
	hour, minute, clockFound := extractClock(lowered)

	if !dayFound && !clockFound {
		return e.nextBusinessDay(now)
	}
	if !dayFound {
		// A bare clock time means the next business day at that time.
		day = e.nextBusinessDay(now)
	}
	if !clockFound {
		hour, minute = defaultHour, 0
	}
	return time.Date(day.Year(), day.Month(), day.Day(), hour, minute, 0, 0, e.loc)
}

func (e *HeuristicExtractor) extractDay(lowered string, now time.Time) (time.Time, bool) {
	switch {
	case strings.Contains(lowered, "day after tomorrow"):
		return now.AddDate(0, 0, 2), true
	case strings.Contains(lowered, "tomorrow"):
		return now.AddDate(0, 0, 1), true
	case strings.Contains(lowered, "today"):
		return now, true
	}
	for name, wd := range weekdays {
		if strings.Contains(lowered, name) {
			days := int(wd-now.Weekday()+7) % 7
			if days == 0 {
				days = 7 // "monday" spoken on a Monday means next week
			}
			return now.AddDate(0, 0, days), true
		}
	}
	return time.Time{}, false
}

func extractClock(lowered string) (hour, minute int, ok bool) {
	m := timePattern.FindStringSubmatch(lowered)
	if m == nil {
		return 0, 0, false
	}
	hour, err := strconv.Atoi(m[1])
	if err != nil || hour > 23 {
		return 0, 0, false
	}
	if m[2] != "" {
		minute, err = strconv.Atoi(m[2])
		if err != nil || minute > 59 {
			return 0, 0, false
		}
	}
	switch m[3] {
	case "pm":
		if hour < 12 {
			hour += 12
		}
	case "am":
		if hour == 12 {
			hour = 0
		}
	case "", "o'clock":
		// Bare hours in conversation skew toward business hours.
		if hour >= 1 && hour <= 7 {
			hour += 12
		}
	}
	return hour, minute, true
}

// nextBusinessDay is the default slot: the next Mon-Fri day at 14:00.
func (e *HeuristicExtractor) nextBusinessDay(now time.Time) time.Time {
	d := now.AddDate(0, 0, 1)
	for d.Weekday() == time.Saturday || d.Weekday() == time.Sunday {
		d = d.AddDate(0, 0, 1)
	}
	return time.Date(d.Year(), d.Month(), d.Day(), defaultHour, 0, 0, 0, e.loc)
}

func cleanPhone(s string) string {
	var b strings.Builder
	for i, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		} else if r == '+' && i == 0 {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func titleCase(s string) string {
	parts := strings.Fields(strings.ToLower(s))
	for i, p := range parts {
		parts[i] = strings.ToUpper(p[:1]) + p[1:]
	}
	return strings.Join(parts, " ")
}
