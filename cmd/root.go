package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"log/slog"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/pagesage/pagesage/internal/config"
	"github.com/pagesage/pagesage/internal/controller"
	"github.com/pagesage/pagesage/internal/conversation"
	"github.com/pagesage/pagesage/internal/format"
	"github.com/pagesage/pagesage/internal/logging"
	"github.com/pagesage/pagesage/internal/page"
	"github.com/pagesage/pagesage/internal/prefs"
	"github.com/pagesage/pagesage/internal/reference"
	"github.com/pagesage/pagesage/internal/status"
	"github.com/pagesage/pagesage/internal/stream"
	"github.com/pagesage/pagesage/internal/upstream"
	"github.com/pagesage/pagesage/internal/version"
	"github.com/pagesage/pagesage/pkg/server"
)

var rootCmd = &cobra.Command{
	Use:   "pagesage",
	Short: "A streaming AI reading assistant for web pages",
	Long: `PageSage is the engine behind an in-page reading assistant. It accepts page
snapshots from a browser client, streams AI-generated summaries, answers,
translations and simplifications back over server-sent events, and ties
generated citations to the page passages they quote.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		// If the help flag is set, show the help message
		if cmd.Flag("help").Changed {
			cmd.Help()
			return nil
		}
		if cmd.Flag("version").Changed {
			fmt.Println(version.Version)
			return nil
		}

		// Setup logging
		lvl := new(slog.LevelVar)
		logger := slog.New(slog.NewTextHandler(logging.NewSlogWriter(), &slog.HandlerOptions{Level: lvl}))
		slog.SetDefault(logger)

		// Load the config
		debug, _ := cmd.Flags().GetBool("debug")
		cwd, _ := cmd.Flags().GetString("cwd")
		if cwd != "" {
			err := os.Chdir(cwd)
			if err != nil {
				return fmt.Errorf("failed to change directory: %v", err)
			}
		}
		if cwd == "" {
			c, err := os.Getwd()
			if err != nil {
				return fmt.Errorf("failed to get current working directory: %v", err)
			}
			cwd = c
		}
		cfg, err := config.Load(cwd, debug)
		if err != nil {
			return err
		}
		if cfg.Debug {
			lvl.Set(slog.LevelDebug)
		}

		// Check if we're in one-shot mode
		task, _ := cmd.Flags().GetString("task")
		if task != "" {
			outputFormatStr, _ := cmd.Flags().GetString("output-format")
			outputFormat := format.OutputFormat(outputFormatStr)
			if !outputFormat.IsValid() {
				return fmt.Errorf("invalid output format: %s", outputFormatStr)
			}

			pagePath, _ := cmd.Flags().GetString("page")
			question, _ := cmd.Flags().GetString("question")

			return handleOneShotMode(cmd.Context(), cfg, task, pagePath, question, outputFormat)
		}

		// Build the engine and serve until interrupted
		app, err := buildApp(cfg)
		if err != nil {
			return err
		}
		defer app.shutdown()

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()

		srv := server.New(app.ctrl, app.engine, app.store, app.registry, cfg.Port)

		var wg errgroup.Group
		wg.Go(func() error {
			defer stop()
			defer logging.RecoverPanic("server", nil)
			return srv.Start(ctx)
		})

		<-ctx.Done()
		return wg.Wait()
	},
}

// app bundles the engine's wired components.
type app struct {
	doc      *page.Document
	registry *reference.Registry
	store    *conversation.Store
	engine   *stream.Engine
	ctrl     *controller.Controller
	prefs    *prefs.Store
}

func buildApp(cfg *config.Config) (*app, error) {
	if err := logging.InitService(); err != nil {
		return nil, err
	}
	status.InitManager(status.NewService())

	doc := page.NewDocument()
	registry := reference.NewRegistry(doc, page.NewMatcher(doc),
		reference.WithTransition(config.HighlightTransition()),
		reference.WithAnchorCadence(config.AnchorCadence()),
	)

	store := conversation.NewStore()
	store.SetReferenceResetter(registry)

	generator := upstream.NewOpenAIGenerator(
		upstream.WithAPIKey(cfg.Upstream.APIKey),
		upstream.WithBaseURL(cfg.Upstream.BaseURL),
		upstream.WithModel(cfg.Upstream.Model),
		upstream.WithMaxTokens(cfg.Upstream.MaxTokens),
	)

	engine := stream.NewEngine(generator, store)
	engine.SetStreamingObserver(registry.SetStreaming)

	prefStore, err := prefs.Open(cfg.Data.Directory)
	if err != nil {
		return nil, err
	}

	ctrl := controller.New(doc, registry, store, engine,
		controller.WithPrefs(prefStore),
		controller.WithLanguage(cfg.NativeLanguage),
	)

	return &app{
		doc:      doc,
		registry: registry,
		store:    store,
		engine:   engine,
		ctrl:     ctrl,
		prefs:    prefStore,
	}, nil
}

func (a *app) shutdown() {
	a.engine.Shutdown()
	a.registry.Shutdown()
	a.store.Shutdown()
	if a.prefs != nil {
		if err := a.prefs.Close(); err != nil {
			slog.Warn("closing preference store", "error", err)
		}
	}
	slog.Info("engine shut down")
}

func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.Flags().BoolP("help", "h", false, "Help")
	rootCmd.Flags().BoolP("version", "v", false, "Version")
	rootCmd.Flags().BoolP("debug", "d", false, "Debug")
	rootCmd.Flags().StringP("cwd", "c", "", "Current working directory")
	rootCmd.Flags().StringP("task", "t", "", "Run a single task in one-shot mode (summarise, ask, translate, simplify)")
	rootCmd.Flags().StringP("page", "p", "", "Path to a page HTML file for one-shot mode (defaults to stdin)")
	rootCmd.Flags().StringP("question", "q", "", "Question for the ask task in one-shot mode")
	rootCmd.Flags().StringP("output-format", "f", "text", "Output format for one-shot mode (text, json)")
}
