// Package scenario maps a scenario key carried in the stream token to the
// persona instructions handed to the speech session.
package scenario

import (
	"sort"
	"strings"
	"sync"
)

// Persona is one selectable conversation profile.
type Persona struct {
	Key          string
	Name         string
	Instructions string
	Greeting     string
}

// Registry is a read-mostly persona lookup keyed by scenario. Unknown keys
// fall back to the default persona so a stale token never kills a call.
type Registry struct {
	mu         sync.RWMutex
	personas   map[string]Persona
	defaultKey string
}

func NewRegistry() *Registry {
	r := &Registry{personas: make(map[string]Persona)}
	for _, p := range builtinPersonas {
		r.personas[p.Key] = p
	}
	r.defaultKey = "receptionist"
	return r
}

// Register adds or replaces a persona. Keys are case-insensitive.
func (r *Registry) Register(p Persona) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.personas[strings.ToLower(p.Key)] = p
}

// Resolve returns the persona for key, falling back to the default for
// unknown or empty keys.
func (r *Registry) Resolve(key string) Persona {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if p, ok := r.personas[strings.ToLower(strings.TrimSpace(key))]; ok {
		return p
	}
	return r.personas[r.defaultKey]
}

// Keys lists registered scenario keys in sorted order.
func (r *Registry) Keys() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	keys := make([]string, 0, len(r.personas))
	for k := range r.personas {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

var builtinPersonas = []Persona{
	{
		Key:  "receptionist",
		Name: "Front-desk receptionist",
		Instructions: "You are a friendly front-desk receptionist for a local business. " +
			"Greet the caller, answer questions about services and hours, and help " +
			"them book an appointment. When the caller wants an appointment, confirm " +
			"their name, a callback number, the service they want, and a preferred " +
			"date and time, then say you will schedule it and add it to the calendar. " +
			"Keep answers short and conversational.",
		Greeting: "Hi, thanks for calling! How can I help you today?",
	},
	{
		Key:  "appointment_reminder",
		Name: "Appointment reminder",
		Instructions: "You are calling to remind the customer about an upcoming " +
			"appointment. Confirm whether they can still make it. If they ask to " +
			"reschedule, collect a preferred date and time and say you will update " +
			"the calendar. Be brief and polite.",
		Greeting: "Hello! This is a quick reminder call about your upcoming appointment.",
	},
	{
		Key:  "follow_up",
		Name: "Post-service follow up",
		Instructions: "You are following up after a recent service visit. Ask how it " +
			"went and whether the customer needs anything else. If they want another " +
			"appointment, collect their preferred date and time and say you will " +
			"schedule it and add it to the calendar.",
		Greeting: "Hi! Just following up on your recent visit. How did everything go?",
	},
}
