// Package upstream is the transport boundary to the generation service. The
// engine treats it as a black box that emits ordered text chunks followed by
// exactly one terminal event.
package upstream

import (
	"context"
	"errors"
	"fmt"
)

// Task selects the kind of generation being requested.
type Task string

const (
	TaskSummarise Task = "summarise"
	TaskAsk       Task = "ask"
	TaskTranslate Task = "translate"
	TaskSimplify  Task = "simplify"
)

// HistoryTurn is one prior conversation message sent as context with an ask
// request.
type HistoryTurn struct {
	Role    string `json:"role"` // "user" or "assistant"
	Content string `json:"content"`
}

// Request describes one generation call.
type Request struct {
	Task Task

	// Text is the page payload for page-scoped tasks (summarise, translate,
	// simplify).
	Text string

	// Ask-specific fields.
	Question       string
	ChatHistory    []HistoryTurn
	InitialContext string

	ContextType  string
	LanguageCode string
}

type EventType string

const (
	// EventChunk carries the full accumulated text so far, not a delta.
	EventChunk EventType = "chunk"
	// EventComplete carries the authoritative final text plus any suggested
	// follow-up questions. Exactly one terminal event is emitted per stream.
	EventComplete      EventType = "complete"
	EventError         EventType = "error"
	EventLoginRequired EventType = "login_required"
)

type Event struct {
	Type EventType

	Delta       string
	Accumulated string

	FinalText          string
	SuggestedQuestions []string

	Error error
}

// Generator is the upstream generation call. The returned channel delivers
// zero or more chunk events followed by exactly one terminal event, then
// closes. Cancelling ctx aborts the stream.
type Generator interface {
	StreamGeneration(ctx context.Context, req Request) <-chan Event
}

// ErrLoginRequired signals that upstream authentication has expired. It is a
// distinct flow, not a generic error: the caller discards in-flight text and
// prompts for login.
var ErrLoginRequired = errors.New("login required")

// NetworkError is a transport failure. The user may retry; the engine never
// does so automatically.
type NetworkError struct {
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("network error: %v", e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// UpstreamError is a structured failure returned by the generation service
// itself.
type UpstreamError struct {
	Code    string
	Message string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("upstream error %s: %s", e.Code, e.Message)
}
