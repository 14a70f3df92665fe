package controller

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pagesage/pagesage/internal/conversation"
	"github.com/pagesage/pagesage/internal/page"
	"github.com/pagesage/pagesage/internal/prefs"
	"github.com/pagesage/pagesage/internal/reference"
	"github.com/pagesage/pagesage/internal/stream"
	"github.com/pagesage/pagesage/internal/upstream"
)

const articleHTML = `<html><head><title>Tides</title></head><body>
<article>
<h1>Tides</h1>
<p>The gravitational pull of the moon drives the tides.</p>
<p>Coastal life has adapted to the rhythm of high and low water.</p>
</article>
</body></html>`

// cannedGenerator replies to every request with a scripted event sequence
// and remembers what it was asked.
type cannedGenerator struct {
	mu       sync.Mutex
	requests []upstream.Request
	events   []upstream.Event
}

func (g *cannedGenerator) StreamGeneration(ctx context.Context, req upstream.Request) <-chan upstream.Event {
	g.mu.Lock()
	g.requests = append(g.requests, req)
	script := append([]upstream.Event(nil), g.events...)
	g.mu.Unlock()

	out := make(chan upstream.Event)
	go func() {
		defer close(out)
		for _, event := range script {
			select {
			case out <- event:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

func (g *cannedGenerator) lastRequest(t *testing.T) upstream.Request {
	t.Helper()
	g.mu.Lock()
	defer g.mu.Unlock()
	require.NotEmpty(t, g.requests)
	return g.requests[len(g.requests)-1]
}

func newTestController(t *testing.T, gen *cannedGenerator, opts ...Option) (*Controller, *stream.Engine, *conversation.Store) {
	t.Helper()

	doc := page.NewDocument()
	require.NoError(t, doc.SetHTML(articleHTML, "https://example.com/tides"))

	registry := reference.NewRegistry(doc, page.NewMatcher(doc))
	store := conversation.NewStore()
	store.SetReferenceResetter(registry)
	engine := stream.NewEngine(gen, store)

	t.Cleanup(func() {
		engine.Shutdown()
		store.Shutdown()
		registry.Shutdown()
	})

	return New(doc, registry, store, engine, opts...), engine, store
}

func newTestPrefs(t *testing.T) *prefs.Store {
	t.Helper()
	store, err := prefs.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func waitDone(t *testing.T, engine *stream.Engine, kind stream.SessionKind) stream.Session {
	t.Helper()
	var sess stream.Session
	require.Eventually(t, func() bool {
		sess = engine.Session(kind)
		return sess.State == stream.StateDone
	}, time.Second, 5*time.Millisecond)
	return sess
}

func TestControllerSummariseSendsPageContent(t *testing.T) {
	t.Parallel()
	gen := &cannedGenerator{events: []upstream.Event{
		{Type: upstream.EventComplete, FinalText: "A short summary."},
	}}
	ctrl, engine, _ := newTestController(t, gen)

	_, err := ctrl.Summarise(context.Background())
	require.NoError(t, err)
	waitDone(t, engine, stream.KindSummarise)

	req := gen.lastRequest(t)
	assert.Equal(t, upstream.TaskSummarise, req.Task)
	assert.Contains(t, req.Text, "gravitational pull of the moon")
	assert.Equal(t, "en", req.LanguageCode)
}

func TestControllerAskAppendsOptimisticTurn(t *testing.T) {
	t.Parallel()
	gen := &cannedGenerator{events: []upstream.Event{
		{Type: upstream.EventComplete, FinalText: "Because of the moon."},
	}}
	ctrl, engine, store := newTestController(t, gen)

	_, err := ctrl.Ask(context.Background(), "Why do tides happen?")
	require.NoError(t, err)

	// The user's turn is visible before any answer arrives.
	turns := store.Turns()
	require.NotEmpty(t, turns)
	assert.Equal(t, conversation.RoleUser, turns[0].Role)
	assert.Equal(t, "Why do tides happen?", turns[0].Content)

	waitDone(t, engine, stream.KindAsk)
	require.Eventually(t, func() bool { return store.Len() == 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, "Because of the moon.", store.Turns()[1].Content)

	req := gen.lastRequest(t)
	assert.Equal(t, "Why do tides happen?", req.Question)
	assert.Contains(t, req.InitialContext, "gravitational pull")
	assert.Empty(t, req.ChatHistory, "the question itself travels separately, not as history")
}

func TestControllerAskStripsMarkersFromHistory(t *testing.T) {
	t.Parallel()
	gen := &cannedGenerator{events: []upstream.Event{
		{Type: upstream.EventComplete, FinalText: "Follow-up answer."},
	}}
	ctrl, engine, store := newTestController(t, gen)

	store.Append(conversation.RoleUser, "first question")
	store.Append(conversation.RoleAssistant, "Tides rise [[[ pull of the moon ]]] daily.")

	_, err := ctrl.Ask(context.Background(), "And neap tides?")
	require.NoError(t, err)
	waitDone(t, engine, stream.KindAsk)

	req := gen.lastRequest(t)
	require.Len(t, req.ChatHistory, 2)
	assert.Equal(t, "Tides rise  daily.", req.ChatHistory[1].Content)
}

func TestControllerRejectsEmptyQuestion(t *testing.T) {
	t.Parallel()
	ctrl, _, _ := newTestController(t, &cannedGenerator{})

	_, err := ctrl.Ask(context.Background(), "")
	assert.Error(t, err)
}

func TestControllerViewParsesCitations(t *testing.T) {
	t.Parallel()
	gen := &cannedGenerator{events: []upstream.Event{
		{Type: upstream.EventComplete, FinalText: "The moon matters [[[ pull of the moon ]]] here."},
	}}
	ctrl, engine, _ := newTestController(t, gen)

	_, err := ctrl.Summarise(context.Background())
	require.NoError(t, err)
	waitDone(t, engine, stream.KindSummarise)

	vm := ctrl.View()
	assert.Equal(t, "https://example.com/tides", vm.PageURL)
	require.Len(t, vm.Sessions, len(stream.Kinds))

	var summary ViewSession
	for _, sess := range vm.Sessions {
		if sess.Kind == stream.KindSummarise {
			summary = sess
		}
	}
	assert.Equal(t, stream.StateDone, summary.State)
	assert.Equal(t, "The moon matters ⟦REF_1⟧ here.", summary.DisplayText)
	assert.Equal(t, []string{"pull of the moon"}, summary.Citations)
}

func TestControllerClickCitationTogglesHighlight(t *testing.T) {
	t.Parallel()
	ctrl, _, _ := newTestController(t, &cannedGenerator{})

	ctrl.ClickCitation("  pull of the moon  ")
	vm := ctrl.View()
	assert.Equal(t, "pull of the moon", vm.ActiveCitation)

	ctrl.ClickCitation("pull of the moon")
	assert.Empty(t, ctrl.View().ActiveCitation)
}

func TestControllerClearWipesEverything(t *testing.T) {
	t.Parallel()
	gen := &cannedGenerator{events: []upstream.Event{
		{Type: upstream.EventComplete, FinalText: "answer"},
	}}
	ctrl, engine, store := newTestController(t, gen)

	_, err := ctrl.Ask(context.Background(), "anything?")
	require.NoError(t, err)
	waitDone(t, engine, stream.KindAsk)
	ctrl.ClickCitation("pull of the moon")

	ctrl.Clear()

	assert.Equal(t, 0, store.Len())
	assert.Empty(t, ctrl.View().ActiveCitation)
	for _, kind := range stream.Kinds {
		assert.Equal(t, stream.StateIdle, engine.Session(kind).State)
	}
}

func TestControllerLanguagePreferences(t *testing.T) {
	t.Parallel()
	gen := &cannedGenerator{events: []upstream.Event{
		{Type: upstream.EventComplete, FinalText: "done"},
	}}
	ctrl, engine, _ := newTestController(t, gen, WithPrefs(newTestPrefs(t)), WithLanguage("en"))
	ctx := context.Background()

	// A site override beats the fallback.
	require.NoError(t, ctrl.SetSiteLanguage(ctx, "fr"))
	_, err := ctrl.Translate(ctx)
	require.NoError(t, err)
	waitDone(t, engine, stream.KindTranslate)
	assert.Equal(t, "fr", gen.lastRequest(t).LanguageCode)

	// A new fallback applies on a site with no override.
	ctrl.SetLanguage("de")
	require.NoError(t, ctrl.SetPage(ctx, articleHTML, "https://other.example.net/tides"))
	_, err = ctrl.Summarise(ctx)
	require.NoError(t, err)
	waitDone(t, engine, stream.KindSummarise)
	assert.Equal(t, "de", gen.lastRequest(t).LanguageCode)
}

func TestControllerAutoSummariseOnSetPage(t *testing.T) {
	t.Parallel()
	gen := &cannedGenerator{events: []upstream.Event{
		{Type: upstream.EventComplete, FinalText: "An automatic summary."},
	}}
	ctrl, engine, _ := newTestController(t, gen, WithPrefs(newTestPrefs(t)))
	ctx := context.Background()

	require.NoError(t, ctrl.SetSiteAutoSummarise(ctx, true))
	require.NoError(t, ctrl.SetPage(ctx, articleHTML, "https://example.com/other-page"))

	sess := waitDone(t, engine, stream.KindSummarise)
	assert.Equal(t, "An automatic summary.", sess.FinalText)
	assert.Equal(t, upstream.TaskSummarise, gen.lastRequest(t).Task)
}

func TestControllerSetPageResetsCitationState(t *testing.T) {
	t.Parallel()
	ctrl, _, _ := newTestController(t, &cannedGenerator{})

	ctrl.ClickCitation("pull of the moon")
	require.NotEmpty(t, ctrl.View().ActiveCitation)

	require.NoError(t, ctrl.SetPage(context.Background(), articleHTML, "https://example.com/other"))
	assert.Empty(t, ctrl.View().ActiveCitation)
	assert.Equal(t, "https://example.com/other", ctrl.View().PageURL)
}
