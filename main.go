// Package main provides the mockagent binary entry point: a mock LLM API
// server that replays scripted scenarios to real coding-agent CLIs, and a
// direct-execution runner that plays the same scenarios without HTTP.
package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/spf13/cobra"

	"github.com/mockagent/mockagent/config"
	"github.com/mockagent/mockagent/recorder"
	"github.com/mockagent/mockagent/runner"
	"github.com/mockagent/mockagent/scenario"
	"github.com/mockagent/mockagent/server"
	"github.com/mockagent/mockagent/store"
	"github.com/mockagent/mockagent/toolmap"
)

func main() {
	root := &cobra.Command{
		Use:           "mockagent",
		Short:         "Scenario-driven mock LLM and coding-agent simulator",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newServerCmd(), newRunCmd())

	if err := root.Execute(); err != nil {
		log.Fatalf("ERROR: %v", err)
	}
}

func newServerCmd() *cobra.Command {
	var (
		scenarioPath string
		toolsProfile string
		strictTools  bool
		agentVersion string
		logTemplate  string
		port         int
		watch        bool
	)

	cmd := &cobra.Command{
		Use:   "server",
		Short: "Serve scripted LLM responses over the OpenAI and Anthropic wire shapes",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load()
			if port == 0 {
				port = cfg.Port
			}
			if logTemplate == "" {
				logTemplate = cfg.RequestLogTemplate
			}

			holder, err := server.NewScenarioHolder(scenarioPath)
			if err != nil {
				log.Fatalf("Failed to load scenario: %v", err)
			}
			if watch {
				closeWatch, err := holder.Watch()
				if err != nil {
					log.Printf("WARN: scenario watch disabled: %v", err)
				} else {
					defer closeWatch()
				}
			}

			db, err := store.NewSQLiteStore(cfg.DatabaseURL)
			if err != nil {
				log.Fatalf("Failed to initialize store: %v", err)
			}
			defer db.Close()

			profiles := toolmap.NewProfiles()
			profile := toolmap.ParseProfile(toolsProfile)
			validator, err := toolmap.NewValidator(cmd.Context(), profiles, profile, agentVersion, strictTools, "")
			if err != nil {
				log.Fatalf("Failed to initialize validator: %v", err)
			}

			reqlog := server.NewRequestLogger(logTemplate, holder.Doc().Name)
			h := server.NewHandler(holder, validator, profiles, profile, db, reqlog)

			e := echo.New()
			e.HideBanner = true
			e.Use(middleware.Logger())
			e.Use(middleware.Recover())
			h.RegisterRoutes(e)

			log.Printf("Starting mock server on :%d (scenario %s, profile %s, strict=%v)",
				port, scenarioPath, profile, strictTools)

			go func() {
				if err := e.Start(fmt.Sprintf(":%d", port)); err != nil && err != http.ErrServerClosed {
					log.Fatalf("Server error: %v", err)
				}
			}()

			quit := make(chan os.Signal, 1)
			signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
			<-quit

			log.Printf("Shutting down...")
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return e.Shutdown(ctx)
		},
	}

	cmd.Flags().StringVar(&scenarioPath, "scenario", "", "scenario YAML file (required)")
	cmd.Flags().StringVar(&toolsProfile, "tools-profile", "claude", "agent tool profile (codex, claude, ...)")
	cmd.Flags().BoolVar(&strictTools, "strict-tools-validation", false, "reject requests carrying unknown tool names")
	cmd.Flags().StringVar(&agentVersion, "agent-version", "unknown", "agent version used for drift capture paths")
	cmd.Flags().StringVar(&logTemplate, "request-log-template", "", "request log destination: path template, stdout, or none")
	cmd.Flags().IntVar(&port, "port", 0, "listen port (default MOCKAGENT_PORT or 8080)")
	cmd.Flags().BoolVar(&watch, "watch", true, "hot-reload the scenario file on change")
	cmd.MarkFlagRequired("scenario")
	return cmd
}

func newRunCmd() *cobra.Command {
	var (
		scenarioPath  string
		workspace     string
		format        string
		fastMode      bool
		interactive   bool
		checkpointCmd string
		tuiTestingURI string
		usePty        bool
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Play a scenario directly against a workspace, recording a transcript",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load()

			doc, err := scenario.Load(scenarioPath)
			if err != nil {
				log.Fatalf("Failed to load scenario: %v", err)
			}

			fmtRecorder := recorder.Format(format)
			home := cfg.CodexHome
			if fmtRecorder == recorder.FormatClaude {
				home = cfg.ClaudeHome
			}

			r, err := runner.New(doc, runner.Options{
				Workspace:         workspace,
				Format:            fmtRecorder,
				FastMode:          fastMode,
				Interactive:       interactive,
				CheckpointCmd:     checkpointCmd,
				TUITestingURI:     tuiTestingURI,
				Home:              home,
				ToolTimeout:       cfg.ToolTimeout,
				HookTimeout:       cfg.HookTimeout,
				CheckpointTimeout: cfg.CheckpointTimeout,
				UsePty:            usePty,
			})
			if err != nil {
				log.Fatalf("Failed to prepare runner: %v", err)
			}

			// Ctrl-C flushes the transcript before exit.
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			path, err := r.Run(ctx)
			if path != "" {
				fmt.Println(path)
			}
			return err
		},
	}

	cmd.Flags().StringVar(&scenarioPath, "scenario", "", "scenario YAML file (required)")
	cmd.Flags().StringVar(&workspace, "workspace", "", "workspace directory (required)")
	cmd.Flags().StringVar(&format, "format", "codex", "transcript format: codex or claude")
	cmd.Flags().BoolVar(&fastMode, "fast-mode", false, "skip all scripted delays")
	cmd.Flags().BoolVar(&interactive, "interactive", false, "prompt on userInputs events instead of replaying scripted text")
	cmd.Flags().StringVar(&checkpointCmd, "checkpoint-cmd", "", "shell command run after every tool use or edit")
	cmd.Flags().StringVar(&tuiTestingURI, "tui-testing-uri", "", "websocket endpoint for screenshot requests")
	cmd.Flags().BoolVar(&usePty, "pty", false, "run commands under a pseudo-terminal")
	cmd.MarkFlagRequired("scenario")
	cmd.MarkFlagRequired("workspace")
	return cmd
}
