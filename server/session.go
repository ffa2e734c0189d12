package server

import (
	"strings"
	"sync"

	"github.com/labstack/echo/v4"

	"github.com/mockagent/mockagent/scenario"
)

// DefaultSessionKey is used when a request carries no API key at all.
const DefaultSessionKey = "default-session"

// terminalMessage is served once the timeline is exhausted and no assistant
// text was ever produced.
const terminalMessage = "I'm ready to help with your next coding task. What would you like to do?"

// Session tracks one API key's position in the scenario timeline. The
// cursor only moves forward; grouped steps are consumed atomically.
type Session struct {
	Key string

	mu            sync.Mutex
	cursor        int
	lastAssistant string
}

// Next returns the response parts for the next inbound request. Steps that
// never produce a response (complete, merge, advanceMs, user-side events)
// are skipped. Once the timeline is exhausted the session repeats the last
// assistant message forever.
func (s *Session) Next(doc *scenario.Document) (parts []scenario.Element, stepIndex int, exhausted bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for s.cursor < len(doc.Timeline) {
		step := doc.Timeline[s.cursor]
		idx := s.cursor
		s.cursor++

		if !stepProducesResponse(step) {
			continue
		}
		s.rememberAssistant(step)
		return step.Elements, idx, false
	}

	return []scenario.Element{terminalElement(s.lastAssistant)}, -1, true
}

// Cursor returns the session's current timeline position.
func (s *Session) Cursor() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cursor
}

func (s *Session) rememberAssistant(step scenario.Step) {
	for _, elem := range step.Elements {
		if a, ok := elem.(scenario.Assistant); ok {
			var lines []string
			for _, line := range a.Lines {
				lines = append(lines, line.Text)
			}
			if len(lines) > 0 {
				s.lastAssistant = strings.Join(lines, "\n")
			}
		}
	}
}

func terminalElement(lastAssistant string) scenario.Element {
	text := lastAssistant
	if text == "" {
		text = terminalMessage
	}
	return scenario.Assistant{Lines: []scenario.TimedText{{Text: text}}}
}

func stepProducesResponse(step scenario.Step) bool {
	for _, elem := range step.Elements {
		if scenario.ResponseKind(elem) {
			return true
		}
	}
	return false
}

// Registry is the process-global session map. Created on first use, lives
// until process exit.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*Session
}

// NewRegistry returns an empty session registry.
func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*Session)}
}

// Get returns the session for an API key, creating it on first observation.
func (r *Registry) Get(key string) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	if s, ok := r.sessions[key]; ok {
		return s
	}
	s := &Session{Key: key}
	r.sessions[key] = s
	return s
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// SessionKey derives the session identity from request headers. Any
// non-empty key is a valid, independent session.
func SessionKey(c echo.Context) string {
	h := c.Request().Header
	if auth := h.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		if key := strings.TrimSpace(strings.TrimPrefix(auth, "Bearer ")); key != "" {
			return key
		}
	}
	if key := h.Get("api-key"); key != "" {
		return key
	}
	if key := h.Get("x-api-key"); key != "" {
		return key
	}
	return DefaultSessionKey
}
