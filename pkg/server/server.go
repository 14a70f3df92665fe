// Package server exposes the engine to the browser client over HTTP plus a
// server-sent-events stream.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/pagesage/pagesage/internal/config"
	"github.com/pagesage/pagesage/internal/controller"
	"github.com/pagesage/pagesage/internal/conversation"
	"github.com/pagesage/pagesage/internal/logging"
	"github.com/pagesage/pagesage/internal/pubsub"
	"github.com/pagesage/pagesage/internal/reference"
	"github.com/pagesage/pagesage/internal/status"
	"github.com/pagesage/pagesage/internal/stream"
)

type Server struct {
	ctrl     *controller.Controller
	engine   *stream.Engine
	store    *conversation.Store
	registry *reference.Registry

	echo *echo.Echo
	port int
	log  *slog.Logger
}

func New(ctrl *controller.Controller, engine *stream.Engine, store *conversation.Store, registry *reference.Registry, port int) *Server {
	s := &Server{
		ctrl:     ctrl,
		engine:   engine,
		store:    store,
		registry: registry,
		port:     port,
		log:      slog.With("service", "server"),
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	e.GET("/health", s.handleHealth)
	e.GET("/view", s.handleView)
	e.GET("/event", s.handleEvents)
	e.GET("/logs", s.handleLogs)

	e.POST("/page", s.handleSetPage)
	e.POST("/language", s.handleLanguage)
	e.POST("/prefs", s.handlePrefs)
	e.POST("/summarise", s.handleGenerate(stream.KindSummarise))
	e.POST("/translate", s.handleGenerate(stream.KindTranslate))
	e.POST("/simplify", s.handleGenerate(stream.KindSimplify))
	e.POST("/ask", s.handleAsk)
	e.POST("/stop", s.handleStop)
	e.POST("/clear", s.handleClear)
	e.POST("/citation", s.handleCitation)

	s.echo = e
	return s
}

// Handler exposes the route tree, mostly for tests that drive the server
// through httptest.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start serves until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	s.log.Info("listening", "port", s.port)
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.echo.Shutdown(shutdownCtx); err != nil {
			s.log.Warn("shutdown", "error", err)
		}
	}()
	err := s.echo.Start(fmt.Sprintf(":%d", s.port))
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleView(c echo.Context) error {
	return c.JSON(http.StatusOK, s.ctrl.View())
}

type setPageRequest struct {
	HTML string `json:"html"`
	URL  string `json:"url"`
}

func (s *Server) handleSetPage(c echo.Context) error {
	var req setPageRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := s.ctrl.SetPage(c.Request().Context(), req.HTML, req.URL); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) handleGenerate(kind stream.SessionKind) echo.HandlerFunc {
	return func(c echo.Context) error {
		var sess stream.Session
		var err error
		ctx := context.WithoutCancel(c.Request().Context())
		switch kind {
		case stream.KindSummarise:
			sess, err = s.ctrl.Summarise(ctx)
		case stream.KindTranslate:
			sess, err = s.ctrl.Translate(ctx)
		case stream.KindSimplify:
			sess, err = s.ctrl.Simplify(ctx)
		}
		if err != nil {
			return generationError(err)
		}
		return c.JSON(http.StatusAccepted, controller.SessionView(sess))
	}
}

type askRequest struct {
	Question string `json:"question"`
}

func (s *Server) handleAsk(c echo.Context) error {
	var req askRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	sess, err := s.ctrl.Ask(context.WithoutCancel(c.Request().Context()), req.Question)
	if err != nil {
		return generationError(err)
	}
	return c.JSON(http.StatusAccepted, controller.SessionView(sess))
}

// generationError maps engine refusals to HTTP codes: a busy kind is a
// conflict, not a server failure.
func generationError(err error) error {
	switch {
	case err == stream.ErrSessionBusy:
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case err == stream.ErrUnknownKind:
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	default:
		return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
	}
}

type stopRequest struct {
	Kind stream.SessionKind `json:"kind"`
}

func (s *Server) handleStop(c echo.Context) error {
	var req stopRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if !req.Kind.Valid() {
		return echo.NewHTTPError(http.StatusBadRequest, "unknown session kind")
	}
	s.ctrl.Stop(req.Kind)
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) handleClear(c echo.Context) error {
	s.ctrl.Clear()
	return c.NoContent(http.StatusNoContent)
}

type citationRequest struct {
	Key string `json:"key"`
}

func (s *Server) handleCitation(c echo.Context) error {
	var req citationRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	s.ctrl.ClickCitation(req.Key)
	return c.NoContent(http.StatusNoContent)
}

type languageRequest struct {
	Language string `json:"language"`
	// Scope is "site" (default) for a per-site override or "global" for the
	// fallback written to the config file.
	Scope string `json:"scope"`
}

func (s *Server) handleLanguage(c echo.Context) error {
	var req languageRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.Language == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "language required")
	}
	switch req.Scope {
	case "", "site":
		if err := s.ctrl.SetSiteLanguage(c.Request().Context(), req.Language); err != nil {
			return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
		}
	case "global":
		if err := config.UpdateNativeLanguage(req.Language); err != nil {
			return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
		}
		s.ctrl.SetLanguage(req.Language)
	default:
		return echo.NewHTTPError(http.StatusBadRequest, "unknown scope")
	}
	return c.NoContent(http.StatusNoContent)
}

type prefsRequest struct {
	Language      *string `json:"language"`
	AutoSummarise *bool   `json:"autoSummarise"`
}

// handlePrefs updates preferences for the current page's site. Absent fields
// are left untouched.
func (s *Server) handlePrefs(c echo.Context) error {
	var req prefsRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.Language == nil && req.AutoSummarise == nil {
		return echo.NewHTTPError(http.StatusBadRequest, "no preferences given")
	}
	ctx := c.Request().Context()
	if req.Language != nil {
		if err := s.ctrl.SetSiteLanguage(ctx, *req.Language); err != nil {
			return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
		}
	}
	if req.AutoSummarise != nil {
		if err := s.ctrl.SetSiteAutoSummarise(ctx, *req.AutoSummarise); err != nil {
			return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
		}
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) handleLogs(c echo.Context) error {
	limit := 0
	if raw := c.QueryParam("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid limit")
		}
		limit = parsed
	}
	logs, err := logging.List(c.Request().Context(), limit)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, logs)
}

// eventMessage is the SSE payload framing: a type tag plus the event's
// properties.
type eventMessage struct {
	Type       string `json:"type"`
	Properties any    `json:"properties"`
}

// handleEvents streams every engine-side event to the client: session
// updates, transcript turns, highlight commands, login prompts, and log
// entries.
func (s *Server) handleEvents(c echo.Context) error {
	w := c.Response()
	w.Header().Set(echo.HeaderContentType, "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	w.Flush()

	ctx := c.Request().Context()
	out := make(chan eventMessage, 100)

	forward(ctx, out, s.engine.Subscribe, func(sess stream.Session) any {
		return controller.SessionView(sess)
	})
	forward(ctx, out, s.store.Subscribe, func(turn conversation.Turn) any {
		display, citations := reference.ParseCitations(turn.Content)
		return controller.ViewTurn{
			ID:                 turn.ID,
			Index:              turn.Index,
			Role:               turn.Role,
			DisplayText:        display,
			Citations:          citations,
			SuggestedFollowUps: turn.SuggestedFollowUps,
		}
	})
	forward(ctx, out, s.registry.Subscribe, func(cmd reference.HighlightCommand) any {
		return cmd
	})
	forward(ctx, out, s.engine.SubscribeLogins, func(kind stream.SessionKind) any {
		return map[string]any{"kind": kind}
	})
	forward(ctx, out, status.Subscribe, func(msg status.StatusMessage) any {
		return msg
	})
	forward(ctx, out, logging.Subscribe, func(entry logging.Log) any {
		return entry
	})

	for {
		select {
		case <-ctx.Done():
			return nil
		case msg := <-out:
			data, err := json.Marshal(msg)
			if err != nil {
				s.log.Warn("event encode failed", "type", msg.Type, "error", err)
				continue
			}
			if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
				return nil
			}
			w.Flush()
		}
	}
}

// forward pumps one broker subscription into the SSE channel, translating
// payloads for the wire. A full channel drops the event rather than stalling
// the broker.
func forward[T any](ctx context.Context, out chan<- eventMessage, subscribe func(context.Context) <-chan pubsub.Event[T], view func(T) any) {
	go func() {
		defer logging.RecoverPanic("server-event-forward", nil)

		events := subscribe(ctx)
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-events:
				if !ok {
					return
				}
				msg := eventMessage{Type: string(event.Type), Properties: view(event.Payload)}
				select {
				case out <- msg:
				default:
					slog.Warn("event dropped for slow client", "type", event.Type)
				}
			}
		}
	}()
}
