package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"lan-chat/internal"
	"lan-chat/moderation"
	"lan-chat/repositories"
	"lan-chat/runtime"
	"lan-chat/services"
	"lan-chat/sink"
	"lan-chat/ui"

	"github.com/dgraph-io/badger/v4"
	"github.com/mama165/sdk-go/logs"
)

// Exit codes to provide meaningful status to the operating system or service manager.
const (
	exitOK      = 0
	exitRuntime = 1
	exitConfig  = 2
)

func main() {
	code, err := run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "lanchat terminated with error: %v\n", err)
	}
	os.Exit(code)
}

// run wires the network core, the history and the console, and blocks until the
// user quits or a termination signal arrives. Deferred cleanups run before exit.
func run() (int, error) {
	// 1. Configuration & Logger
	config, err := internal.LoadConfig()
	if err != nil {
		return exitConfig, fmt.Errorf("config error: %w", err)
	}
	display, err := internal.LoadDisplayConfig()
	if err != nil {
		return exitConfig, fmt.Errorf("display config error: %w", err)
	}
	opts, err := config.Options()
	if err != nil {
		return exitConfig, err
	}

	logger := logs.GetLoggerFromString(config.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. History (BadgerDB)
	db, err := badger.Open(buildBadgerOpts(config, logger, ctx))
	if err != nil {
		return exitRuntime, fmt.Errorf("database opening failed: %w", err)
	}
	defer func() {
		logger.Info("Closing BadgerDB...")
		_ = db.Close()
	}()
	history := repositories.NewHistoryRepository(db, logger, &config.LimitMessages)

	// 3. Moderation of displayed content
	var moderator *moderation.Moderator
	if config.EnableModeration {
		if moderator, err = buildModerator(config, logger); err != nil {
			return exitRuntime, err
		}
	}

	// 4. Network core
	orchestrator, err := runtime.NewOrchestrator(logger, opts, sink.NewHistorySink(history, logger))
	if err != nil {
		return exitConfig, err
	}
	service := services.NewMessengerService(orchestrator, history)
	console := ui.NewConsole(os.Stdout, service, moderator, display, logger)
	orchestrator.Add(console)

	if err = orchestrator.Start(ctx); err != nil {
		return exitRuntime, fmt.Errorf("failed to start network service: %w", err)
	}
	defer orchestrator.Stop()
	logger.Info("LAN chat started",
		"user", orchestrator.LocalUserName(),
		"tcp_port", orchestrator.TCPPort(),
		"group", opts.MulticastGroup)

	// 5. Console loop
	if err = console.Run(ctx, os.Stdin); err != nil {
		return exitRuntime, err
	}
	logger.Info("Shutting down...")
	return exitOK, nil
}

func buildBadgerOpts(config internal.Config, logger *slog.Logger, ctx context.Context) badger.Options {
	options := badger.DefaultOptions(config.HistoryFilepath)

	if logger.Enabled(ctx, slog.LevelDebug) {
		options = options.WithLoggingLevel(badger.DEBUG)
	} else {
		options = options.WithLoggingLevel(badger.WARNING)
	}

	return options
}

func buildModerator(config internal.Config, logger *slog.Logger) (*moderation.Moderator, error) {
	data, err := moderation.NewEmbeddedLoader().LoadAll(moderation.DefaultCensoredDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load censored words: %w", err)
	}
	char, err := internal.CharacterRune(config.CharReplacement)
	if err != nil {
		return nil, err
	}
	scope, err := moderation.ParseScope(config.ModerationScope)
	if err != nil {
		return nil, err
	}
	moderator, err := moderation.NewModerator(data.Words, char, scope, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to build moderator: %w", err)
	}
	logger.Info("Moderation enabled", "languages", data.Languages, "words", len(data.Words), "scope", scope)
	return moderator, nil
}
