package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"

	"scholarbot/internal/adapter/library"
	"scholarbot/internal/adapter/llm"
	"scholarbot/internal/adapter/tool"
	"scholarbot/internal/adapter/tui/chat"
	"scholarbot/internal/infra/config"
	"scholarbot/internal/infra/logger"
	"scholarbot/internal/infra/tracer"
	"scholarbot/internal/usecase"
)

func main() {
	if len(os.Args) >= 2 {
		switch os.Args[1] {
		case "--help", "-h", "help":
			showUsage()
			return
		}
	}

	if len(os.Args) >= 2 && os.Args[1] == "ask" {
		if err := runAsk(); err != nil {
			fmt.Fprintf(os.Stderr, "ask: %v\n", err)
			os.Exit(1)
		}
		return
	}

	if len(os.Args) >= 2 && !strings.HasPrefix(os.Args[1], "-") {
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\nRun 'scholarbot --help' for usage.\n", os.Args[1])
		os.Exit(1)
	}

	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func showUsage() {
	fmt.Println(`scholarbot - Conversational library research assistant

USAGE:
    scholarbot [COMMAND] [FLAGS]

COMMANDS:
    ask QUESTION   Answer a single question and exit

    (no command) - Interactive chat

FLAGS:
    -h, --help       Show this help message
    --config PATH    Config file path (default: ./config.yaml)

CONFIGURATION:
    Config file: ./config.yaml
    Environment: OPENAI_API_KEY, OPENAI_MODEL, SCHOLARBOT_* variables
                 override config

EXAMPLES:
    scholarbot                                   # Interactive chat
    scholarbot ask "Recent books by Andrew Ng"   # One-shot question
    scholarbot --config /path/to/config.yaml`)
}

// configPath returns the --config flag value or the default.
func configPath() string {
	for i := 1; i < len(os.Args); i++ {
		switch {
		case os.Args[i] == "--config" && i+1 < len(os.Args):
			return os.Args[i+1]
		case strings.HasPrefix(os.Args[i], "--config="):
			return strings.TrimPrefix(os.Args[i], "--config=")
		}
	}
	return "config.yaml"
}

// app bundles the wired components shared by the interactive and one-shot
// modes.
type app struct {
	cfg       *config.Config
	log       *slog.Logger
	assistant *usecase.Assistant
	cleanup   func()
}

// buildApp wires config, logging, tracing, providers, tools, and the agent.
func buildApp() (*app, error) {
	cfg, err := config.Load(configPath())
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	log, logCloser, err := logger.New(cfg.Logger)
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}

	ctx := context.Background()
	tracerShutdown, err := tracer.Setup(ctx, cfg.Tracer)
	if err != nil {
		logCloser()
		return nil, fmt.Errorf("tracer: %w", err)
	}

	provider := llm.NewChatProvider(cfg.LLM, log)

	libClient := library.NewClient(cfg.Library, log)

	registry := tool.NewRegistry(log)
	if err := registry.Register(tool.NewLibrarySearchTool(libClient, log)); err != nil {
		logCloser()
		return nil, fmt.Errorf("tool registry: %w", err)
	}

	builder := usecase.NewContextBuilder(
		cfg.LLM.Provider.Model,
		cfg.LLM.Provider.Temperature,
		cfg.Agent.MaxContextTokens,
	)

	agent := usecase.NewAgent(usecase.AgentDeps{
		LLM:            provider,
		Tools:          registry,
		ContextBuilder: builder,
		Logger:         log,
		MaxIterations:  cfg.Agent.MaxIterations,
		SystemPrompt:   cfg.Agent.SystemPrompt,
		Classifier:     usecase.NewErrorClassifier(),
	})

	store := usecase.NewSessionStore()
	assistant := usecase.NewAssistant(agent, store, log)

	return &app{
		cfg:       cfg,
		log:       log,
		assistant: assistant,
		cleanup: func() {
			_ = tracerShutdown(ctx)
			_ = logCloser()
		},
	}, nil
}

// run launches the interactive chat TUI.
func run() error {
	a, err := buildApp()
	if err != nil {
		return err
	}
	defer a.cleanup()

	model := chat.New(chat.ModelDeps{
		Assistant: a.assistant,
		Logger:    a.log,
		ModelName: a.cfg.LLM.Provider.Model,
	})

	p := tea.NewProgram(model, tea.WithAltScreen())
	_, err = p.Run()
	return err
}

// runAsk answers a single question on stdout and exits.
func runAsk() error {
	var parts []string
	for _, arg := range os.Args[2:] {
		if strings.HasPrefix(arg, "-") {
			continue
		}
		parts = append(parts, arg)
	}
	question := strings.TrimSpace(strings.Join(parts, " "))
	if question == "" {
		return fmt.Errorf("usage: scholarbot ask QUESTION")
	}

	a, err := buildApp()
	if err != nil {
		return err
	}
	defer a.cleanup()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reply, err := a.assistant.Chat(ctx, "ask-oneshot", question)
	if err != nil {
		return err
	}
	fmt.Println(reply)
	return nil
}
