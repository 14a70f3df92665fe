// Package controller is the façade the transport layer talks to. It wires
// the page snapshot, the stream engine, the conversation store, and the
// reference registry into the operations the client invokes.
package controller

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/pagesage/pagesage/internal/conversation"
	"github.com/pagesage/pagesage/internal/page"
	"github.com/pagesage/pagesage/internal/prefs"
	"github.com/pagesage/pagesage/internal/reference"
	"github.com/pagesage/pagesage/internal/stream"
	"github.com/pagesage/pagesage/internal/upstream"
)

type Controller struct {
	doc      *page.Document
	registry *reference.Registry
	store    *conversation.Store
	engine   *stream.Engine
	prefs    *prefs.Store

	mu       sync.RWMutex
	language string
}

type Option func(*Controller)

// WithPrefs enables per-site preference lookups.
func WithPrefs(store *prefs.Store) Option {
	return func(c *Controller) { c.prefs = store }
}

// WithLanguage sets the fallback language for translate and simplify when a
// site has no override.
func WithLanguage(code string) Option {
	return func(c *Controller) { c.language = code }
}

func New(doc *page.Document, registry *reference.Registry, store *conversation.Store, engine *stream.Engine, opts ...Option) *Controller {
	c := &Controller{
		doc:      doc,
		registry: registry,
		store:    store,
		engine:   engine,
		language: "en",
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SetPage replaces the page snapshot. Earlier snapshots' elements stop being
// live, so the citation cache and any active highlight are dropped with the
// old page. A site configured for auto-summarise gets its summary kicked off
// here.
func (c *Controller) SetPage(ctx context.Context, rawHTML, pageURL string) error {
	if err := c.doc.SetHTML(rawHTML, pageURL); err != nil {
		return err
	}
	c.registry.Reset()

	if c.prefs != nil {
		sitePrefs, err := c.prefs.ForSite(ctx, pageURL)
		if err != nil {
			slog.Warn("site preference lookup failed", "url", pageURL, "error", err)
		} else if sitePrefs.AutoSummarise && !c.engine.IsBusy(stream.KindSummarise) {
			if _, err := c.Summarise(ctx); err != nil {
				slog.Warn("auto-summarise failed to start", "url", pageURL, "error", err)
			}
		}
	}
	return nil
}

// Summarise starts a summary generation over the current page.
func (c *Controller) Summarise(ctx context.Context) (stream.Session, error) {
	return c.startPageTask(ctx, stream.KindSummarise, upstream.TaskSummarise)
}

// Translate starts a translation of the current page into the user's
// language.
func (c *Controller) Translate(ctx context.Context) (stream.Session, error) {
	return c.startPageTask(ctx, stream.KindTranslate, upstream.TaskTranslate)
}

// Simplify starts a plain-language rewrite of the current page.
func (c *Controller) Simplify(ctx context.Context) (stream.Session, error) {
	return c.startPageTask(ctx, stream.KindSimplify, upstream.TaskSimplify)
}

func (c *Controller) startPageTask(ctx context.Context, kind stream.SessionKind, task upstream.Task) (stream.Session, error) {
	content, err := c.doc.PageContent()
	if err != nil {
		return stream.Session{}, fmt.Errorf("extract page content: %w", err)
	}
	return c.engine.Start(ctx, kind, upstream.Request{
		Task:         task,
		Text:         content,
		LanguageCode: c.languageFor(ctx),
	})
}

// Ask starts a question generation. The user's turn is appended to the
// transcript immediately (optimistic), before the first byte of the answer
// arrives; prior turns travel as chat history with citation markers stripped.
func (c *Controller) Ask(ctx context.Context, question string) (stream.Session, error) {
	if question == "" {
		return stream.Session{}, fmt.Errorf("empty question")
	}
	if c.engine.IsBusy(stream.KindAsk) {
		return stream.Session{}, stream.ErrSessionBusy
	}

	history := c.chatHistory()

	content, err := c.doc.PageContent()
	if err != nil {
		// Questions still work without page context; the upstream just
		// answers from the conversation alone.
		slog.Debug("asking without page context", "error", err)
		content = ""
	}

	c.store.Append(conversation.RoleUser, question)

	sess, err := c.engine.Start(ctx, stream.KindAsk, upstream.Request{
		Task:           upstream.TaskAsk,
		Question:       question,
		ChatHistory:    history,
		InitialContext: content,
		ContextType:    "page",
		LanguageCode:   c.languageFor(ctx),
	})
	if err != nil {
		return stream.Session{}, err
	}
	return sess, nil
}

func (c *Controller) chatHistory() []upstream.HistoryTurn {
	turns := c.store.Turns()
	history := make([]upstream.HistoryTurn, 0, len(turns))
	for _, turn := range turns {
		history = append(history, upstream.HistoryTurn{
			Role:    string(turn.Role),
			Content: reference.FilterReferenceLinks(turn.Content),
		})
	}
	return history
}

// Stop cancels the in-flight generation of the given kind.
func (c *Controller) Stop(kind stream.SessionKind) {
	c.engine.Stop(kind)
}

// Clear wipes the conversation and returns every session to idle. The store
// resets the reference registry as part of its clear.
func (c *Controller) Clear() {
	c.engine.Reset()
	c.store.Clear()
}

// ClickCitation toggles the highlight for a citation key the user clicked.
func (c *Controller) ClickCitation(raw string) {
	c.registry.Toggle(reference.NormalizeKey(raw))
}

// SetSiteLanguage stores a language override for the current page's site.
func (c *Controller) SetSiteLanguage(ctx context.Context, code string) error {
	if c.prefs == nil {
		return fmt.Errorf("preferences not configured")
	}
	sitePrefs, err := c.prefs.ForSite(ctx, c.doc.URL())
	if err != nil {
		return err
	}
	sitePrefs.Language = code
	return c.prefs.SetForSite(ctx, c.doc.URL(), sitePrefs)
}

// SetSiteAutoSummarise toggles automatic summaries for the current page's
// site; the next snapshot from that site kicks one off.
func (c *Controller) SetSiteAutoSummarise(ctx context.Context, enabled bool) error {
	if c.prefs == nil {
		return fmt.Errorf("preferences not configured")
	}
	sitePrefs, err := c.prefs.ForSite(ctx, c.doc.URL())
	if err != nil {
		return err
	}
	sitePrefs.AutoSummarise = enabled
	return c.prefs.SetForSite(ctx, c.doc.URL(), sitePrefs)
}

// SetLanguage replaces the fallback language used when a site has no
// override.
func (c *Controller) SetLanguage(code string) {
	c.mu.Lock()
	c.language = code
	c.mu.Unlock()
}

func (c *Controller) languageFor(ctx context.Context) string {
	if c.prefs != nil {
		sitePrefs, err := c.prefs.ForSite(ctx, c.doc.URL())
		if err == nil && sitePrefs.Language != "" {
			return sitePrefs.Language
		}
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.language
}

// ViewTurn is one transcript turn prepared for display: citation markers
// replaced with numbered placeholders, the extracted keys alongside.
type ViewTurn struct {
	ID                 string            `json:"id"`
	Index              int               `json:"index"`
	Role               conversation.Role `json:"role"`
	DisplayText        string            `json:"displayText"`
	Citations          []string          `json:"citations,omitempty"`
	SuggestedFollowUps []string          `json:"suggestedFollowUps,omitempty"`
}

// ViewSession is one generation session prepared for display. DisplayText is
// the accumulated text while streaming and the final text once done.
type ViewSession struct {
	ID                 string              `json:"id,omitempty"`
	Kind               stream.SessionKind  `json:"kind"`
	State              stream.SessionState `json:"state"`
	DisplayText        string              `json:"displayText,omitempty"`
	Citations          []string            `json:"citations,omitempty"`
	SuggestedQuestions []string            `json:"suggestedQuestions,omitempty"`
	Error              string              `json:"error,omitempty"`
}

// ViewModel is an immutable snapshot of everything the client renders.
type ViewModel struct {
	PageURL        string        `json:"pageUrl,omitempty"`
	ActiveCitation string        `json:"activeCitation,omitempty"`
	Sessions       []ViewSession `json:"sessions"`
	Turns          []ViewTurn    `json:"turns"`
}

// SessionView prepares one session for display: the streamed (or final)
// text with citation markers replaced by numbered placeholders.
func SessionView(sess stream.Session) ViewSession {
	text := sess.AccumulatedText
	if sess.State == stream.StateDone {
		text = sess.FinalText
	}
	display, citations := reference.ParseCitations(text)
	return ViewSession{
		ID:                 sess.ID,
		Kind:               sess.Kind,
		State:              sess.State,
		DisplayText:        display,
		Citations:          citations,
		SuggestedQuestions: sess.SuggestedQuestions,
		Error:              sess.Error,
	}
}

// View assembles the current snapshot. Sessions appear in a stable kind
// order.
func (c *Controller) View() ViewModel {
	vm := ViewModel{
		PageURL:        c.doc.URL(),
		ActiveCitation: c.registry.ActiveKey(),
	}

	sessions := c.engine.Sessions()
	for _, kind := range stream.Kinds {
		vm.Sessions = append(vm.Sessions, SessionView(sessions[kind]))
	}

	for _, turn := range c.store.Turns() {
		display, citations := reference.ParseCitations(turn.Content)
		vm.Turns = append(vm.Turns, ViewTurn{
			ID:                 turn.ID,
			Index:              turn.Index,
			Role:               turn.Role,
			DisplayText:        display,
			Citations:          citations,
			SuggestedFollowUps: turn.SuggestedFollowUps,
		})
	}
	return vm
}
