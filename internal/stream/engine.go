package stream

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pagesage/pagesage/internal/logging"
	"github.com/pagesage/pagesage/internal/pubsub"
	"github.com/pagesage/pagesage/internal/status"
	"github.com/pagesage/pagesage/internal/upstream"
)

var (
	ErrSessionBusy = errors.New("a generation of this kind is already in flight")
	ErrUnknownKind = errors.New("unknown session kind")
)

// TranscriptAppender is the slice of the conversation store the engine
// needs: completed generations become turns, follow-up suggestions attach to
// the turn they came with.
type TranscriptAppender interface {
	AppendAssistantTurn(content string) int
	AttachFollowUps(turnIndex int, prompts []string)
}

type runHandle struct {
	id     string
	cancel context.CancelFunc
}

// Engine drives generation sessions. All state transitions happen under one
// mutex; observers see them through copied Session values on the broker.
type Engine struct {
	generator  upstream.Generator
	transcript TranscriptAppender
	broker     *pubsub.Broker[Session]
	logins     *pubsub.Broker[SessionKind]

	mu        sync.Mutex
	sessions  map[SessionKind]Session
	active    map[SessionKind]runHandle
	streaming bool

	onStreamingChanged func(bool)
}

func NewEngine(generator upstream.Generator, transcript TranscriptAppender) *Engine {
	sessions := make(map[SessionKind]Session, len(Kinds))
	for _, kind := range Kinds {
		sessions[kind] = Session{Kind: kind, State: StateIdle, UpdatedAt: time.Now()}
	}
	return &Engine{
		generator:  generator,
		transcript: transcript,
		broker:     pubsub.NewBroker[Session](),
		logins:     pubsub.NewBroker[SessionKind](),
		sessions:   sessions,
		active:     make(map[SessionKind]runHandle),
	}
}

// SetStreamingObserver registers a callback invoked synchronously whenever
// the engine switches between "some generation is streaming" and "none is".
// The registry uses it to start and stop the scroll anchor.
func (e *Engine) SetStreamingObserver(fn func(streaming bool)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onStreamingChanged = fn
}

func (e *Engine) Subscribe(ctx context.Context) <-chan pubsub.Event[Session] {
	return e.broker.Subscribe(ctx)
}

// SubscribeLogins delivers a notification whenever upstream signals that
// authentication expired mid-generation.
func (e *Engine) SubscribeLogins(ctx context.Context) <-chan pubsub.Event[SessionKind] {
	return e.logins.Subscribe(ctx)
}

// Start begins a generation of the given kind. It refuses with
// ErrSessionBusy while a session of the same kind is still in flight;
// requests are rejected, never queued.
func (e *Engine) Start(ctx context.Context, kind SessionKind, req upstream.Request) (Session, error) {
	if !kind.Valid() {
		return Session{}, ErrUnknownKind
	}

	e.mu.Lock()
	if _, busy := e.active[kind]; busy {
		e.mu.Unlock()
		return Session{}, ErrSessionBusy
	}

	sess := Session{
		ID:        uuid.New().String(),
		Kind:      kind,
		State:     StatePreparing,
		UpdatedAt: time.Now(),
	}
	e.sessions[kind] = sess

	genCtx, cancel := context.WithCancel(ctx)
	e.active[kind] = runHandle{id: sess.ID, cancel: cancel}
	e.mu.Unlock()

	e.broker.Publish(EventSessionCreated, sess)

	go e.run(genCtx, sess.ID, kind, req)

	return sess, nil
}

func (e *Engine) run(ctx context.Context, id string, kind SessionKind, req upstream.Request) {
	defer logging.RecoverPanic("stream.Engine.run", nil)

	events := e.generator.StreamGeneration(ctx, req)
	for event := range events {
		switch event.Type {
		case upstream.EventChunk:
			e.handleChunk(id, kind, event.Accumulated)
		case upstream.EventComplete:
			e.handleComplete(id, kind, event.FinalText, event.SuggestedQuestions)
		case upstream.EventError:
			e.handleError(id, kind, event.Error)
		case upstream.EventLoginRequired:
			e.handleLoginRequired(id, kind)
		}
	}

	e.finishRun(id, kind)
}

// current returns the session for kind if it still belongs to run id and has
// not already been resolved (by completion, stop, or reset).
func (e *Engine) current(id string, kind SessionKind) (Session, bool) {
	sess := e.sessions[kind]
	if sess.ID != id || !sess.State.Active() {
		return Session{}, false
	}
	return sess, true
}

func (e *Engine) handleChunk(id string, kind SessionKind, accumulated string) {
	e.mu.Lock()
	sess, ok := e.current(id, kind)
	if !ok {
		e.mu.Unlock()
		return
	}
	sess.State = StateStreaming
	sess.AccumulatedText = accumulated
	sess.UpdatedAt = time.Now()
	e.sessions[kind] = sess
	e.mu.Unlock()

	e.broker.Publish(EventSessionUpdated, sess)
	e.syncStreaming()
}

func (e *Engine) handleComplete(id string, kind SessionKind, finalText string, questions []string) {
	e.mu.Lock()
	sess, ok := e.current(id, kind)
	if !ok {
		e.mu.Unlock()
		return
	}
	sess.State = StateDone
	sess.FinalText = finalText
	sess.SuggestedQuestions = questions
	sess.AccumulatedText = ""
	sess.UpdatedAt = time.Now()
	e.sessions[kind] = sess
	e.mu.Unlock()

	// The conversation store is appended exactly once per completion.
	turnIndex := e.transcript.AppendAssistantTurn(finalText)
	if len(questions) > 0 {
		e.transcript.AttachFollowUps(turnIndex, questions)
	}

	e.broker.Publish(EventSessionUpdated, sess)
	e.syncStreaming()
}

func (e *Engine) handleError(id string, kind SessionKind, err error) {
	e.mu.Lock()
	sess, ok := e.current(id, kind)
	if !ok {
		e.mu.Unlock()
		return
	}
	sess.State = StateError
	if err != nil {
		sess.Error = err.Error()
	}
	// Whatever was accumulated stays visible on the session, but an errored
	// generation never becomes a transcript turn.
	sess.UpdatedAt = time.Now()
	e.sessions[kind] = sess
	e.mu.Unlock()

	if err != nil {
		status.Error(err.Error())
	}
	e.broker.Publish(EventSessionUpdated, sess)
	e.syncStreaming()
}

func (e *Engine) handleLoginRequired(id string, kind SessionKind) {
	e.mu.Lock()
	sess, ok := e.current(id, kind)
	if !ok {
		e.mu.Unlock()
		return
	}
	// Authentication expiry is its own flow: in-flight text is discarded and
	// the session returns to idle instead of error.
	sess.State = StateIdle
	sess.AccumulatedText = ""
	sess.UpdatedAt = time.Now()
	e.sessions[kind] = sess
	e.mu.Unlock()

	e.broker.Publish(EventSessionUpdated, sess)
	e.logins.Publish(EventLoginRequired, kind)
	e.syncStreaming()
}

// finishRun releases the kind's slot once the generator channel closes. A
// session the generator abandoned without a terminal event (parent context
// cancelled during shutdown) is marked aborted.
func (e *Engine) finishRun(id string, kind SessionKind) {
	e.mu.Lock()
	if handle, ok := e.active[kind]; ok && handle.id == id {
		handle.cancel()
		delete(e.active, kind)
	}
	sess, stillActive := e.current(id, kind)
	if stillActive {
		sess.State = StateAborted
		sess.UpdatedAt = time.Now()
		e.sessions[kind] = sess
	}
	e.mu.Unlock()

	if stillActive {
		e.broker.Publish(EventSessionUpdated, sess)
	}
	e.syncStreaming()
}

// Stop cancels the in-flight generation of the given kind. Partial progress
// is deliberately preserved: non-empty accumulated text is promoted to a
// completed transcript turn. A stop before the first byte returns the
// session to idle with nothing appended. Safe to call when nothing is
// running and safe to race with normal completion.
func (e *Engine) Stop(kind SessionKind) {
	e.mu.Lock()
	handle, ok := e.active[kind]
	if !ok {
		e.mu.Unlock()
		return
	}
	handle.cancel()
	delete(e.active, kind)

	sess, active := e.current(handle.id, kind)
	if !active {
		// The run finished in the meantime; the cancel was a harmless no-op.
		e.mu.Unlock()
		return
	}

	promoted := ""
	if sess.AccumulatedText != "" {
		promoted = sess.AccumulatedText
		sess.State = StateDone
		sess.FinalText = promoted
		sess.AccumulatedText = ""
	} else {
		sess.State = StateIdle
	}
	sess.UpdatedAt = time.Now()
	e.sessions[kind] = sess
	e.mu.Unlock()

	if promoted != "" {
		e.transcript.AppendAssistantTurn(promoted)
	}

	e.broker.Publish(EventSessionUpdated, sess)
	e.syncStreaming()
}

// Reset cancels everything in flight and returns every kind to a fresh idle
// session, without promoting partial text.
func (e *Engine) Reset() {
	e.mu.Lock()
	for kind, handle := range e.active {
		handle.cancel()
		delete(e.active, kind)
	}
	updated := make([]Session, 0, len(Kinds))
	for _, kind := range Kinds {
		sess := Session{Kind: kind, State: StateIdle, UpdatedAt: time.Now()}
		e.sessions[kind] = sess
		updated = append(updated, sess)
	}
	e.mu.Unlock()

	for _, sess := range updated {
		e.broker.Publish(EventSessionUpdated, sess)
	}
	e.syncStreaming()
}

// Session returns a copy of the current session for kind.
func (e *Engine) Session(kind SessionKind) Session {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sessions[kind]
}

// Sessions returns a copy of every kind's current session.
func (e *Engine) Sessions() map[SessionKind]Session {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make(map[SessionKind]Session, len(e.sessions))
	for kind, sess := range e.sessions {
		out[kind] = sess
	}
	return out
}

// IsBusy reports whether a generation of the given kind is in flight.
func (e *Engine) IsBusy(kind SessionKind) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, busy := e.active[kind]
	return busy
}

// syncStreaming recomputes the aggregate streaming flag and informs the
// observer on edges.
func (e *Engine) syncStreaming() {
	e.mu.Lock()
	streaming := false
	for _, sess := range e.sessions {
		if sess.State == StateStreaming {
			streaming = true
			break
		}
	}
	changed := streaming != e.streaming
	e.streaming = streaming
	observer := e.onStreamingChanged
	e.mu.Unlock()

	if changed && observer != nil {
		observer(streaming)
	}
}

// Shutdown stops all sessions and closes the engine's brokers.
func (e *Engine) Shutdown() {
	e.Reset()
	e.broker.Shutdown()
	e.logins.Shutdown()
}
