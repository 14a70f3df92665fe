package cmd

import (
	"context"
	"fmt"
	"io"
	"os"

	"log/slog"

	"github.com/pagesage/pagesage/internal/config"
	"github.com/pagesage/pagesage/internal/controller"
	"github.com/pagesage/pagesage/internal/format"
	"github.com/pagesage/pagesage/internal/stream"
)

// checkStdinPipe reads piped page HTML from stdin, if any.
func checkStdinPipe() (string, bool) {
	stat, err := os.Stdin.Stat()
	if err != nil {
		return "", false
	}
	if stat.Mode()&os.ModeCharDevice != 0 {
		return "", false
	}

	data, err := io.ReadAll(os.Stdin)
	if err != nil {
		return "", false
	}
	if len(data) > 0 {
		return string(data), true
	}
	return "", false
}

// handleOneShotMode runs a single generation task against a page file (or
// piped HTML) and prints the result, without starting the HTTP server.
func handleOneShotMode(ctx context.Context, cfg *config.Config, taskName, pagePath, question string, outputFormat format.OutputFormat) error {
	slog.Info("running in one-shot mode", "task", taskName, "page", pagePath, "format", outputFormat)

	kind := stream.SessionKind(taskName)
	if !kind.Valid() {
		return fmt.Errorf("unknown task: %s (expected one of summarise, ask, translate, simplify)", taskName)
	}
	if kind == stream.KindAsk && question == "" {
		return fmt.Errorf("the ask task needs --question")
	}

	var html, pageURL string
	if pagePath != "" {
		data, err := os.ReadFile(pagePath)
		if err != nil {
			return fmt.Errorf("read page file: %w", err)
		}
		html = string(data)
		pageURL = "file://" + pagePath
	} else if piped, ok := checkStdinPipe(); ok {
		html = piped
		pageURL = "stdin://page"
	} else {
		return fmt.Errorf("no page given: pass --page or pipe HTML on stdin")
	}

	app, err := buildApp(cfg)
	if err != nil {
		return err
	}
	defer app.shutdown()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if err := app.ctrl.SetPage(ctx, html, pageURL); err != nil {
		return err
	}

	// Subscribe before starting so no terminal event can slip past.
	events := app.engine.Subscribe(ctx)

	switch kind {
	case stream.KindSummarise:
		_, err = app.ctrl.Summarise(ctx)
	case stream.KindAsk:
		_, err = app.ctrl.Ask(ctx, question)
	case stream.KindTranslate:
		_, err = app.ctrl.Translate(ctx)
	case stream.KindSimplify:
		_, err = app.ctrl.Simplify(ctx)
	}
	if err != nil {
		return fmt.Errorf("failed to start %s: %w", kind, err)
	}

	for event := range events {
		sess := event.Payload
		if sess.Kind != kind {
			continue
		}
		switch sess.State {
		case stream.StateDone:
			view := controller.SessionView(sess)
			output, err := format.Output(format.Result{
				Response:           view.DisplayText,
				Citations:          view.Citations,
				SuggestedQuestions: view.SuggestedQuestions,
			}, outputFormat)
			if err != nil {
				return fmt.Errorf("failed to format output: %w", err)
			}
			fmt.Println(output)
			return nil
		case stream.StateError:
			return fmt.Errorf("generation failed: %s", sess.Error)
		case stream.StateIdle:
			// A started session only returns to idle when authentication
			// expired and the text was discarded.
			return fmt.Errorf("login required: the upstream session has expired")
		case stream.StateAborted:
			return fmt.Errorf("generation aborted")
		}
	}

	return fmt.Errorf("event stream closed before the generation finished")
}
