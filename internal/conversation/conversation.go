// Package conversation holds the in-page transcript: an append-only list of
// user and assistant turns that lives exactly as long as the session.
package conversation

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pagesage/pagesage/internal/pubsub"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is one message in the transcript. Indices are stable for the life of
// the conversation, so follow-ups can attach asynchronously after append.
type Turn struct {
	ID      string
	Index   int
	Role    Role
	Content string

	// SuggestedFollowUps arrive with (or after) the completion that produced
	// an assistant turn.
	SuggestedFollowUps []string

	CreatedAt time.Time
}

const (
	EventTurnCreated         pubsub.EventType = "turn_created"
	EventTurnUpdated         pubsub.EventType = "turn_updated"
	EventConversationCleared pubsub.EventType = "conversation_cleared"
)

// ReferenceResetter is implemented by the reference registry: clearing the
// conversation must also drop cached citation resolutions and any active
// highlight, so stale element references never outlive the transcript that
// produced them.
type ReferenceResetter interface {
	Reset()
}

type Store struct {
	mu     sync.RWMutex
	turns  []Turn
	broker *pubsub.Broker[Turn]

	references ReferenceResetter
}

func NewStore() *Store {
	return &Store{
		broker: pubsub.NewBroker[Turn](),
	}
}

// SetReferenceResetter wires the registry that must be reset on Clear.
func (s *Store) SetReferenceResetter(r ReferenceResetter) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.references = r
}

func (s *Store) Subscribe(ctx context.Context) <-chan pubsub.Event[Turn] {
	return s.broker.Subscribe(ctx)
}

// Append adds a turn and returns its stable index.
func (s *Store) Append(role Role, content string) int {
	s.mu.Lock()
	turn := Turn{
		ID:        uuid.New().String(),
		Index:     len(s.turns),
		Role:      role,
		Content:   content,
		CreatedAt: time.Now(),
	}
	s.turns = append(s.turns, turn)
	s.mu.Unlock()

	s.broker.Publish(EventTurnCreated, turn)
	return turn.Index
}

// AppendAssistantTurn satisfies the engine's TranscriptAppender.
func (s *Store) AppendAssistantTurn(content string) int {
	return s.Append(RoleAssistant, content)
}

// AttachFollowUps associates suggested prompts with an existing turn. The
// upstream may deliver suggestions separately from the main text, so the
// turn is addressed by index rather than mutated inline.
func (s *Store) AttachFollowUps(turnIndex int, prompts []string) {
	s.mu.Lock()
	if turnIndex < 0 || turnIndex >= len(s.turns) {
		s.mu.Unlock()
		slog.Warn("follow-ups for unknown turn dropped", "index", turnIndex)
		return
	}
	s.turns[turnIndex].SuggestedFollowUps = append([]string(nil), prompts...)
	turn := s.turns[turnIndex]
	s.mu.Unlock()

	s.broker.Publish(EventTurnUpdated, turn)
}

// ReplaceTail swaps every turn from fromIndex on for the given turns. It is
// the reconciliation entry point for an upstream that returns a corrected
// full transcript; the streaming completion path appends its authoritative
// final text directly and does not go through here.
func (s *Store) ReplaceTail(fromIndex int, turns []Turn) {
	s.mu.Lock()
	if fromIndex < 0 || fromIndex > len(s.turns) {
		s.mu.Unlock()
		slog.Warn("tail replacement out of range", "from", fromIndex)
		return
	}
	s.turns = s.turns[:fromIndex]
	for i := range turns {
		turns[i].Index = len(s.turns)
		if turns[i].ID == "" {
			turns[i].ID = uuid.New().String()
		}
		if turns[i].CreatedAt.IsZero() {
			turns[i].CreatedAt = time.Now()
		}
		s.turns = append(s.turns, turns[i])
	}
	updated := make([]Turn, len(s.turns[fromIndex:]))
	copy(updated, s.turns[fromIndex:])
	s.mu.Unlock()

	for _, turn := range updated {
		s.broker.Publish(EventTurnUpdated, turn)
	}
}

// Turns returns a copy of the transcript.
func (s *Store) Turns() []Turn {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Turn, len(s.turns))
	copy(out, s.turns)
	return out
}

// Len returns the number of turns.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.turns)
}

// Clear atomically empties the transcript and resets the reference registry.
func (s *Store) Clear() {
	s.mu.Lock()
	s.turns = nil
	references := s.references
	s.mu.Unlock()

	if references != nil {
		references.Reset()
	}
	s.broker.Publish(EventConversationCleared, Turn{})
}

func (s *Store) Shutdown() {
	s.broker.Shutdown()
}
