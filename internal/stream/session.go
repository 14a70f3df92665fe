// Package stream owns the lifecycle of generation requests: one session per
// request, cooperative cancellation, and at most one in-flight generation
// per kind.
package stream

import (
	"time"

	"github.com/pagesage/pagesage/internal/pubsub"
)

// SessionKind identifies which generation feature a session serves.
type SessionKind string

const (
	KindSummarise SessionKind = "summarise"
	KindAsk       SessionKind = "ask"
	KindTranslate SessionKind = "translate"
	KindSimplify  SessionKind = "simplify"
)

// Kinds lists every session kind in a stable order.
var Kinds = []SessionKind{KindSummarise, KindAsk, KindTranslate, KindSimplify}

func (k SessionKind) Valid() bool {
	switch k {
	case KindSummarise, KindAsk, KindTranslate, KindSimplify:
		return true
	}
	return false
}

// SessionState is a one-way lifecycle; a terminal state is only ever
// replaced by a fresh session for the next request.
type SessionState string

const (
	StateIdle      SessionState = "idle"
	StatePreparing SessionState = "preparing"
	StateStreaming SessionState = "streaming"
	StateDone      SessionState = "done"
	StateError     SessionState = "error"
	StateAborted   SessionState = "aborted"
)

// Active reports whether the session still has a generation in flight.
func (s SessionState) Active() bool {
	return s == StatePreparing || s == StateStreaming
}

// Session is a snapshot of one generation request's lifecycle. Values are
// copied out of the engine, so readers never observe a half-applied
// transition.
type Session struct {
	ID   string
	Kind SessionKind

	State SessionState

	// AccumulatedText grows monotonically while streaming and is cleared
	// once FinalText takes over.
	AccumulatedText string

	// FinalText is the authoritative completion payload. It may differ
	// slightly from the concatenation of chunks.
	FinalText string

	SuggestedQuestions []string

	// Error holds the user-facing failure description when State is error.
	Error string

	UpdatedAt time.Time
}

const (
	EventSessionCreated pubsub.EventType = "session_created"
	EventSessionUpdated pubsub.EventType = "session_updated"

	EventLoginRequired pubsub.EventType = "login_required"
)
