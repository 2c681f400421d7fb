// Package telephony turns platform call-state reports into call events.
//
// The device telephony stack is reached through a spool file: a bridge
// process appends one line per phone-state change and SpoolSource tails it.
// A line is either JSON, {"state":"RINGING","number":"+919876543210"}, or
// plain text, "RINGING +919876543210". States follow the platform names
// (RINGING, OFFHOOK, IDLE) and the normalized ones are accepted as well.
package telephony

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/jbctechsolutions/leadline/internal/domain/call"
)

// Source delivers call events until closed.
type Source interface {
	Events() <-chan call.Event
	Close() error
}

// Normalize maps a raw platform state to an event kind.
func Normalize(raw string) (call.Kind, bool) {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "RINGING", "CALL_STATE_RINGING":
		return call.Ringing, true
	case "OFFHOOK", "OFF_HOOK", "ANSWERED", "CALL_STATE_OFFHOOK":
		return call.Answered, true
	case "IDLE", "CALL_STATE_IDLE":
		return call.Idle, true
	}
	return "", false
}

type rawEvent struct {
	State  string    `json:"state"`
	Number string    `json:"number"`
	At     time.Time `json:"at"`
}

// ParseLine decodes one spool line. Blank lines and unknown states report false.
func ParseLine(line string, now time.Time) (call.Event, bool) {
	line = strings.TrimSpace(line)
	if line == "" {
		return call.Event{}, false
	}

	var raw rawEvent
	if strings.HasPrefix(line, "{") {
		if err := json.Unmarshal([]byte(line), &raw); err != nil {
			return call.Event{}, false
		}
	} else {
		fields := strings.Fields(line)
		raw.State = fields[0]
		if len(fields) > 1 {
			raw.Number = strings.Join(fields[1:], "")
		}
	}

	kind, ok := Normalize(raw.State)
	if !ok {
		return call.Event{}, false
	}
	at := raw.At
	if at.IsZero() {
		at = now
	}
	return call.Event{Kind: kind, Number: raw.Number, At: at}, true
}

// NopSource never emits. It is used when telephony is disabled.
type NopSource struct {
	ch     chan call.Event
	closed chan struct{}
}

// NewNopSource returns an idle source.
func NewNopSource() *NopSource {
	return &NopSource{ch: make(chan call.Event), closed: make(chan struct{})}
}

// Events returns a channel that is closed by Close.
func (s *NopSource) Events() <-chan call.Event { return s.ch }

// Close closes the event channel. It is safe to call more than once.
func (s *NopSource) Close() error {
	select {
	case <-s.closed:
	default:
		close(s.closed)
		close(s.ch)
	}
	return nil
}
