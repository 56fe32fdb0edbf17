// Peregrine is a conversational travel-planning agent.
//
// It exposes a REST/streaming API for chat and session administration,
// plus an interactive terminal chat loop for local use. Configuration
// is loaded from a single YAML file discovered automatically (see
// [config.DefaultSearchPaths]).
//
// Usage:
//
//	peregrine serve           Start the API server
//	peregrine chat            Interactive chat in the terminal
//	peregrine ask <question>  Ask a single question (for testing)
//	peregrine version         Print version and build information
//	peregrine -o json version Output version information as JSON
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/peregrine-ai/peregrine/internal/agent"
	"github.com/peregrine-ai/peregrine/internal/api"
	"github.com/peregrine-ai/peregrine/internal/buildinfo"
	"github.com/peregrine-ai/peregrine/internal/config"
	"github.com/peregrine-ai/peregrine/internal/events"
	"github.com/peregrine-ai/peregrine/internal/llm"
	"github.com/peregrine-ai/peregrine/internal/places"
	"github.com/peregrine-ai/peregrine/internal/retry"
	"github.com/peregrine-ai/peregrine/internal/session"
	"github.com/peregrine-ai/peregrine/internal/tools"
	"github.com/peregrine-ai/peregrine/internal/validate"
	"github.com/peregrine-ai/peregrine/internal/weather"
)

// main is intentionally minimal. It constructs the OS-level environment
// (context, stdio, argv) and delegates immediately to [run]. This keeps
// os.Exit, os.Stdout, and os.Args out of the application logic so that
// the full startup-to-shutdown lifecycle can be driven from tests.
func main() {
	ctx := context.Background()

	if err := run(ctx, os.Stdin, os.Stdout, os.Stderr, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
}

// run is the real entry point for the peregrine command. All OS-level
// dependencies are injected as parameters so tests can drive the whole
// lifecycle. Arguments are parsed by hand; the flag package relies on
// package-level globals (flag.CommandLine), which makes it impossible
// to call run() concurrently from tests.
func run(ctx context.Context, stdin io.Reader, stdout, stderr io.Writer, args []string) error {
	var configPath string
	var outputFmt string // "text" (default) or "json"
	var command string
	var cmdArgs []string

	for i := 0; i < len(args); i++ {
		switch {
		case args[i] == "-config" && i+1 < len(args):
			configPath = args[i+1]
			i++ // skip the value
		case strings.HasPrefix(args[i], "-config="):
			configPath = strings.TrimPrefix(args[i], "-config=")
		case (args[i] == "-o" || args[i] == "--output") && i+1 < len(args):
			outputFmt = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-o="):
			outputFmt = strings.TrimPrefix(args[i], "-o=")
		case args[i] == "-h" || args[i] == "-help" || args[i] == "--help":
			return printUsage(stdout)
		case !strings.HasPrefix(args[i], "-") && command == "":
			command = args[i]
		default:
			if command != "" {
				cmdArgs = append(cmdArgs, args[i])
			} else {
				return fmt.Errorf("unknown flag: %s", args[i])
			}
		}
	}

	if outputFmt == "" {
		outputFmt = "text"
	}
	if outputFmt != "text" && outputFmt != "json" {
		return fmt.Errorf("unknown output format: %q (expected text or json)", outputFmt)
	}

	switch command {
	case "serve":
		return runServe(ctx, stdout, configPath)
	case "chat":
		return runChat(ctx, stdin, stdout, configPath)
	case "ask":
		if len(cmdArgs) == 0 {
			return fmt.Errorf("usage: peregrine ask <question>")
		}
		return runAsk(ctx, stdout, configPath, cmdArgs)
	case "version":
		return runVersion(stdout, outputFmt)
	case "":
		return printUsage(stdout)
	default:
		return fmt.Errorf("unknown command: %s", command)
	}
}

// runVersion prints build metadata in the requested output format.
func runVersion(w io.Writer, outputFmt string) error {
	info := buildinfo.Info()
	if outputFmt == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(info)
	}
	fmt.Fprintln(w, buildinfo.String())
	for _, k := range []string{"version", "git_commit", "build_time", "go_version", "os", "arch"} {
		if v, ok := info[k]; ok {
			fmt.Fprintf(w, "  %-12s %s\n", k+":", v)
		}
	}
	return nil
}

// printUsage writes the top-level help text to w.
func printUsage(w io.Writer) error {
	fmt.Fprintln(w, "Peregrine - Conversational Travel Planning Agent")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage: peregrine [flags] <command> [args]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  serve        Start the API server")
	fmt.Fprintln(w, "  chat         Interactive chat in the terminal")
	fmt.Fprintln(w, "  ask          Ask a single question (for testing)")
	fmt.Fprintln(w, "  version      Show version information")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Flags:")
	fmt.Fprintln(w, "  -config <path>    Path to config file (default: auto-discover)")
	fmt.Fprintln(w, "  -o, --output fmt  Output format: text (default) or json")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Config search order:")
	fmt.Fprintln(w, "  ./config.yaml, ~/.config/peregrine/config.yaml, /etc/peregrine/config.yaml")
	return nil
}

// app bundles the constructed application components. Everything is
// built once at startup and passed explicitly; there is no global
// agent state.
type app struct {
	cfg      *config.Config
	loop     *agent.Loop
	sessions *session.Store
	bus      *events.Bus
}

func (a *app) Close() {
	_ = a.sessions.Close()
}

// buildApp constructs the full component graph from configuration:
// LLM client, upstream tool clients, tool registry, session store,
// event bus, and the agent loop.
func buildApp(cfg *config.Config, logger *slog.Logger) (*app, error) {
	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return nil, fmt.Errorf("create data directory %s: %w", cfg.DataDir, err)
	}

	dbPath := filepath.Join(cfg.DataDir, "peregrine.db")
	sessions, err := session.Open(dbPath)
	if err != nil {
		return nil, fmt.Errorf("open session database %s: %w", dbPath, err)
	}
	logger.Info("session database opened", "path", dbPath)

	llmClient := llm.NewOpenAIClient(cfg.LLM.BaseURL, cfg.LLM.APIKey)

	weatherClient := weather.NewClient(cfg.Weather.BaseURL, cfg.Weather.APIKey)
	placesClient := places.NewClient(cfg.Places.BaseURL, cfg.Places.APIKey)
	if cfg.Agent.ToolTimeout > 0 {
		weatherClient.SetTimeout(cfg.Agent.ToolTimeout)
		placesClient.SetTimeout(cfg.Agent.ToolTimeout)
	}

	policy := retry.Policy{
		MaxAttempts: cfg.Agent.RetryAttempts,
		Delay:       cfg.Agent.RetryDelay,
	}
	registry, err := tools.NewRegistry(weatherClient, placesClient, policy)
	if err != nil {
		sessions.Close()
		return nil, fmt.Errorf("build tool registry: %w", err)
	}
	logger.Info("tool registry initialized", "tools", registry.Names())

	bus := events.New()
	loop := agent.NewLoop(logger, llmClient, cfg.LLM.Model, registry, sessions, cfg.Agent.MaxIterations)
	loop.SetBus(bus)

	return &app{cfg: cfg, loop: loop, sessions: sessions, bus: bus}, nil
}

// runServe handles the "peregrine serve" subcommand: loads config,
// builds the component graph, starts the API server, and blocks until
// a shutdown signal arrives.
func runServe(ctx context.Context, stdout io.Writer, configPath string) error {
	logger := newLogger(stdout, slog.LevelInfo)
	logger.Info("starting Peregrine",
		"version", buildinfo.Version,
		"commit", buildinfo.GitCommit,
		"built", buildinfo.BuildTime,
	)

	cfg, cfgPath, err := loadConfig(configPath, logger)
	if err != nil {
		return err
	}

	// Reconfigure logger now that the desired level is known. The
	// initial Info-level logger covers only the startup banner.
	if cfg.LogLevel != "" {
		level, err := config.ParseLogLevel(cfg.LogLevel)
		if err != nil {
			return fmt.Errorf("config %s: %w", cfgPath, err)
		}
		logger = newLogger(stdout, level)
	}

	logger.Info("config loaded",
		"path", cfgPath,
		"port", cfg.Listen.Port,
		"model", cfg.LLM.Model,
	)

	a, err := buildApp(cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	server := api.NewServer(cfg.Listen.Address, cfg.Listen.Port, a.loop, a.sessions, a.bus, logger)
	server.SetAllowedOrigins(cfg.Listen.AllowedOrigins)
	if cfg.Listen.ShareBaseURL != "" {
		server.SetShareBaseURL(cfg.Listen.ShareBaseURL)
	}

	// SIGINT/SIGTERM cancellation flows through the same ctx used by
	// all components.
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	go func() {
		<-ctx.Done()
		logger.Info("shutdown signal received")
		_ = server.Shutdown(context.Background())
	}()

	if err := server.Start(ctx); err != nil {
		if ctx.Err() == nil {
			return fmt.Errorf("server failed: %w", err)
		}
	}

	logger.Info("Peregrine stopped")
	return nil
}

// runAsk handles "peregrine ask <question>": one validated turn against
// a throwaway session, response to stdout.
func runAsk(ctx context.Context, stdout io.Writer, configPath string, args []string) error {
	logger := newLogger(stdout, slog.LevelWarn)

	question := strings.Join(args, " ")
	if v := validate.Input(question); !v.Valid {
		return fmt.Errorf("invalid question: %s", v.Message)
	}

	cfg, _, err := loadConfig(configPath, logger)
	if err != nil {
		return err
	}

	a, err := buildApp(cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	resp, err := a.loop.Run(ctx, &agent.Request{Message: question})
	if err != nil {
		return fmt.Errorf("ask: %w", err)
	}

	fmt.Fprintln(stdout, resp.Content)
	return nil
}

// runChat handles "peregrine chat": an interactive read-eval loop on
// the terminal. All turns share one session so the agent keeps the
// conversation context; quit or exit (or EOF) ends the loop.
func runChat(ctx context.Context, stdin io.Reader, stdout io.Writer, configPath string) error {
	logger := newLogger(stdout, slog.LevelWarn)

	cfg, _, err := loadConfig(configPath, logger)
	if err != nil {
		return err
	}

	a, err := buildApp(cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	sessionID, err := uuid.NewV7()
	if err != nil {
		return fmt.Errorf("generate session id: %w", err)
	}

	fmt.Fprintln(stdout, buildinfo.String())
	fmt.Fprintln(stdout, "Type your travel question, or 'quit' to exit.")
	fmt.Fprintln(stdout)

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	scanner := bufio.NewScanner(stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 64*1024)

	for {
		fmt.Fprint(stdout, "you> ")
		if !scanner.Scan() {
			fmt.Fprintln(stdout)
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())

		switch strings.ToLower(line) {
		case "":
			continue
		case "quit", "exit":
			fmt.Fprintln(stdout, "Goodbye!")
			return nil
		}

		if v := validate.Input(line); !v.Valid {
			fmt.Fprintf(stdout, "  %s\n\n", v.Message)
			continue
		}

		start := time.Now()
		resp, err := a.loop.Run(ctx, &agent.Request{
			SessionID: sessionID.String(),
			Message:   line,
		})
		if err != nil {
			if ctx.Err() != nil {
				fmt.Fprintln(stdout, "\nGoodbye!")
				return nil
			}
			fmt.Fprintf(stdout, "  Sorry, something went wrong: %s\n\n", err)
			continue
		}

		fmt.Fprintf(stdout, "\n%s\n", resp.Content)

		if report := validate.Output(resp.Content); !report.Valid {
			fmt.Fprintf(stdout, "\n  (response quality: %d/100 - %s)\n",
				report.Score, strings.Join(report.Issues, "; "))
		}
		fmt.Fprintf(stdout, "\n  [%.1fs", time.Since(start).Seconds())
		if len(resp.ToolsUsed) > 0 {
			fmt.Fprintf(stdout, ", tools: %s", strings.Join(resp.ToolsUsed, ", "))
		}
		fmt.Fprintln(stdout, "]")
		fmt.Fprintln(stdout)
	}
}

// newLogger creates a structured text logger writing to w. All log
// output goes through slog; this helper standardizes the handler
// configuration across subcommands.
func newLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: config.ReplaceLogLevelNames,
	}))
}

// loadConfig locates and parses the YAML configuration file. If
// explicit is non-empty, that exact path is used (and must exist).
// When no file exists anywhere on the search path, built-in defaults
// apply; tools with missing API keys report errors per call, so this
// is a warning rather than a failure.
func loadConfig(explicit string, logger *slog.Logger) (*config.Config, string, error) {
	cfgPath, err := config.FindConfig(explicit)
	if err != nil {
		if explicit != "" {
			return nil, "", err
		}
		logger.Warn("no config file found, using defaults")
		return config.Default(), "(defaults)", nil
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, cfgPath, fmt.Errorf("load config %s: %w", cfgPath, err)
	}

	return cfg, cfgPath, nil
}
