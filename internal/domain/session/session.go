// Package session defines the single call/qualification focus of the agent.
//
// A session is one of three states. Waiting has no focused number. Tracking
// follows a live call while the qualification form is hidden. Qualifying
// holds an open form, and in that state calls from other numbers are parked
// in the side queue instead of replacing the focus.
package session

import (
	"time"

	"github.com/jbctechsolutions/leadline/internal/domain/call"
)

// CallState is the telephony state of the focused call.
type CallState string

const (
	CallWaiting CallState = "waiting"
	CallRinging CallState = "ringing"
	CallOnCall  CallState = "on_call"
	CallEnded   CallState = "ended"
)

// State is the tagged union of session states: Waiting, Tracking or Qualifying.
type State interface {
	sessionState()
}

// Waiting is the idle state with no focused number.
type Waiting struct{}

// Tracking follows the live call on Phone; the form is not visible.
type Tracking struct {
	Phone string    // focused number
	Call  CallState // ringing, on_call or ended
}

// Qualifying has the form open for Phone.
type Qualifying struct {
	Phone string    // focused number, fixed for the life of the form
	Call  CallState // state of Phone's own call
	Form  Form      // draft being filled in
}

func (Waiting) sessionState()    {}
func (Tracking) sessionState()   {}
func (Qualifying) sessionState() {}

// Phone returns the focused number of s, or "" when waiting.
func Phone(s State) string {
	switch st := s.(type) {
	case Tracking:
		return st.Phone
	case Qualifying:
		return st.Phone
	}
	return ""
}

// CallOf returns the call state of s.
func CallOf(s State) CallState {
	switch st := s.(type) {
	case Tracking:
		return st.Call
	case Qualifying:
		return st.Call
	}
	return CallWaiting
}

// IsQualifying reports whether the form is open.
func IsQualifying(s State) bool {
	_, ok := s.(Qualifying)
	return ok
}

// IsActive reports whether s is anything other than Waiting.
func IsActive(s State) bool {
	switch s.(type) {
	case nil, Waiting:
		return false
	}
	return true
}

// Name returns a short label for s.
func Name(s State) string {
	switch s.(type) {
	case Tracking:
		return "tracking"
	case Qualifying:
		return "qualifying"
	}
	return "waiting"
}

// Dispatch applies a telephony event to the session and side queue, returning
// the next state. q is mutated only while qualifying.
//
// While qualifying, events for the session's own number advance its call
// state until that call has ended; events for any other number never touch
// the focus. A ringing from another number, from a withheld number, or from
// the session's own number after its call ended is queued. An idle from
// anyone but a live own call marks every incoming queued call missed.
func Dispatch(s State, q *call.Queue, ev call.Event) State {
	phone := ev.Phone()
	at := ev.At
	if at.IsZero() {
		at = time.Now()
	}

	switch st := s.(type) {
	case Qualifying:
		if phone != "" && phone == st.Phone && (st.Call == CallRinging || st.Call == CallOnCall) {
			st.Call = advance(st.Call, ev.Kind)
			return st
		}
		switch ev.Kind {
		case call.Ringing:
			q.Add(phone, at)
		case call.Idle:
			q.MarkAllMissed()
		}
		return st

	case Tracking:
		switch ev.Kind {
		case call.Ringing:
			if phone == "" {
				phone = st.Phone
			}
			return Tracking{Phone: phone, Call: CallRinging}
		case call.Answered:
			if phone != "" && phone != st.Phone {
				return Tracking{Phone: phone, Call: CallOnCall}
			}
			st.Call = CallOnCall
			return st
		case call.Idle:
			st.Call = advance(st.Call, call.Idle)
			return st
		}
		return st

	default:
		switch ev.Kind {
		case call.Ringing:
			return Tracking{Phone: phone, Call: CallRinging}
		case call.Answered:
			return Tracking{Phone: phone, Call: CallOnCall}
		}
		return Waiting{}
	}
}

// advance moves a call state forward for the session's own call.
func advance(cur CallState, kind call.Kind) CallState {
	switch kind {
	case call.Answered:
		if cur == CallRinging || cur == CallWaiting {
			return CallOnCall
		}
	case call.Idle:
		if cur == CallRinging || cur == CallOnCall {
			return CallEnded
		}
	}
	return cur
}
