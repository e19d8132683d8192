package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"parley/internal/adapter/gateway"
	"parley/internal/adapter/tui/chat"
	"parley/internal/infra/config"
	"parley/internal/infra/logger"
	"parley/internal/infra/tracer"
	"parley/internal/usecase"
	"parley/internal/usecase/eventbus"
)

func main() {
	if len(os.Args) >= 2 {
		switch os.Args[1] {
		case "--help", "-h", "help":
			showUsage()
			return
		}
	}

	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func showUsage() {
	fmt.Println(`parley - streaming chat client

USAGE:
    parley [FLAGS]

FLAGS:
    -h, --help           Show this help message
    --config PATH        Config file path (default: ./config.yaml)
    --conversation ID    Open a stored conversation on start
    --model NAME         Override the configured model
    --agent TYPE         Override the configured agent type

CONFIGURATION:
    Config file: ./config.yaml
    The gateway API key may reference the environment, e.g.
      gateway:
        api_key: ${PARLEY_API_KEY}`)
}

// cliFlags holds flags that override the config file.
type cliFlags struct {
	ConfigPath     string
	ConversationID int64
	Model          string
	AgentType      string
}

func parseFlags() cliFlags {
	flags := cliFlags{ConfigPath: "config.yaml"}
	for i := 1; i < len(os.Args); i++ {
		switch {
		case os.Args[i] == "--config" && i+1 < len(os.Args):
			flags.ConfigPath = os.Args[i+1]
			i++
		case strings.HasPrefix(os.Args[i], "--config="):
			flags.ConfigPath = strings.TrimPrefix(os.Args[i], "--config=")
		case os.Args[i] == "--conversation" && i+1 < len(os.Args):
			fmt.Sscanf(os.Args[i+1], "%d", &flags.ConversationID)
			i++
		case os.Args[i] == "--model" && i+1 < len(os.Args):
			flags.Model = os.Args[i+1]
			i++
		case strings.HasPrefix(os.Args[i], "--model="):
			flags.Model = strings.TrimPrefix(os.Args[i], "--model=")
		case os.Args[i] == "--agent" && i+1 < len(os.Args):
			flags.AgentType = os.Args[i+1]
			i++
		case strings.HasPrefix(os.Args[i], "--agent="):
			flags.AgentType = strings.TrimPrefix(os.Args[i], "--agent=")
		}
	}
	if p := os.Getenv("PARLEY_CONFIG"); p != "" && flags.ConfigPath == "config.yaml" {
		flags.ConfigPath = p
	}
	return flags
}

func run() error {
	// 1. Config
	flags := parseFlags()
	cfg, err := config.Load(flags.ConfigPath)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if flags.Model != "" {
		cfg.Chat.ModelID = flags.Model
	}
	if flags.AgentType != "" {
		cfg.Chat.AgentType = flags.AgentType
	}
	if flags.ConversationID != 0 {
		cfg.Chat.ConversationID = flags.ConversationID
	}

	// 2. Logger & Tracer
	log, logCloser, err := logger.New(cfg.Logger)
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer logCloser()

	ctx := context.Background()
	tracerShutdown, err := tracer.Setup(ctx, cfg.Tracer)
	if err != nil {
		return fmt.Errorf("tracer: %w", err)
	}
	defer tracerShutdown(ctx)

	// 3. Event bus
	bus := eventbus.New(log)
	defer bus.Close()

	// 4. Gateway client behind a circuit breaker
	gw := gateway.NewBreakerClient(gateway.New(cfg.Gateway, log), cfg.Gateway.Breaker, log)

	// 5. Timeline history
	history := usecase.NewHistory(gw, bus, log)

	// 6. Session engine
	engine := usecase.NewEngine(usecase.EngineDeps{
		Gateway:        gw,
		Bus:            bus,
		Refresher:      history,
		Logger:         log,
		ModelID:        cfg.Chat.ModelID,
		AgentType:      cfg.Chat.AgentType,
		AutonomousMode: cfg.Chat.AutonomousMode,
	})

	// 7. Graceful shutdown
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// 8. Open the requested conversation
	if cfg.Chat.ConversationID != 0 {
		if err := engine.SetConversation(cfg.Chat.ConversationID); err != nil {
			return fmt.Errorf("open conversation: %w", err)
		}
		if err := history.Load(ctx, cfg.Chat.ConversationID); err != nil {
			log.Warn("could not load conversation history",
				"conversation", cfg.Chat.ConversationID,
				"error", err,
			)
		}
	}

	log.Info("parley starting",
		"gateway", cfg.Gateway.BaseURL,
		"model", cfg.Chat.ModelID,
		"agent_type", cfg.Chat.AgentType,
		"conversation", cfg.Chat.ConversationID,
	)

	// 9. TUI
	channel := chat.NewChannel(chat.ModelDeps{
		Engine:    engine,
		History:   history,
		Gateway:   gw,
		Logger:    log,
		AgentName: "Parley",
		ModelName: cfg.Chat.ModelID,
	}, bus)

	err = channel.Start(ctx)

	// Stop any generation still running before the process exits.
	engine.Cancel(context.Background())
	return err
}
