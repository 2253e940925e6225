// Command ema-chat is a terminal chat client for the analytics API.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/google/uuid"

	"github.com/koscakluka/ema-datachat/core/chat"
	"github.com/koscakluka/ema-datachat/core/conversation"
	"github.com/koscakluka/ema-datachat/core/events"
	"github.com/koscakluka/ema-datachat/core/store"
	"github.com/koscakluka/ema-datachat/internal/config"
	"github.com/koscakluka/ema-datachat/internal/ui"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "ema-chat:", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "", "path to the config file (default: user config dir)")
	projectID := flag.String("project", "", "project to chat about")
	datasetID := flag.String("dataset", "", "dataset to ask about")
	baseURL := flag.String("url", "", "analytics API base URL")
	transport := flag.String("transport", "", "stream transport: http or websocket")
	fresh := flag.Bool("new", false, "start a new conversation instead of resuming the latest one")
	initConfig := flag.Bool("init", false, "write the default config file and exit")
	flag.Parse()

	if *initConfig {
		return writeDefaultConfig(*configPath)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	overrideString(&cfg.Chat.ProjectID, *projectID)
	overrideString(&cfg.Chat.DatasetID, *datasetID)
	overrideString(&cfg.API.BaseURL, *baseURL)
	overrideString(&cfg.API.Transport, *transport)
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger, closeLog, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer closeLog()
	slog.SetDefault(logger)

	initiator, err := newInitiator(cfg)
	if err != nil {
		return err
	}

	conversationID, history, recorder, closeStore, err := openHistory(cfg, *fresh, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	var program *tea.Program
	session := chat.NewSession(initiator, cfg.Chat.ProjectID,
		chat.WithDataset(cfg.Chat.DatasetID),
		chat.WithSettings(chat.Settings{
			Provider:    cfg.Chat.Provider,
			Model:       cfg.Chat.Model,
			Temperature: cfg.Chat.Temperature,
		}),
		chat.WithLogger(logger),
		chat.WithAssemblerOptions(
			conversation.WithHistory(history),
			conversation.WithTranscriptCallback(func(transcript conversation.Transcript, change conversation.Change) {
				program.Send(ui.TranscriptMsg{Transcript: transcript, Change: change})
			}),
			conversation.WithTurnCompletedCallback(func(turnID string, answer events.FinalAnswer) {
				program.Send(ui.TurnCompletedMsg{TurnID: turnID, RunID: answer.RunID})
			}),
			conversation.WithTurnFailedCallback(func(err *conversation.TurnError) {
				logger.Warn("turn ended without a final answer", "turn_id", err.TurnID, "error", err.Err)
			}),
		),
	)
	logger.Info("starting chat",
		"project_id", cfg.Chat.ProjectID,
		"conversation_id", conversationID,
		"transport", cfg.API.Transport,
		"history", len(history),
	)

	opts := []ui.Option{ui.WithRunLister(chat.NewRunsClient(cfg.API.BaseURL))}
	if recorder != nil {
		opts = append(opts, ui.WithTurnRecorder(recorder))
	}

	program = tea.NewProgram(ui.New(session, opts...), tea.WithAltScreen())
	if _, err := program.Run(); err != nil {
		return fmt.Errorf("error running terminal UI: %w", err)
	}
	return nil
}

func overrideString(target *string, value string) {
	if value != "" {
		*target = value
	}
}

func writeDefaultConfig(path string) error {
	if path == "" {
		defaultPath, err := config.DefaultPath()
		if err != nil {
			return err
		}
		path = defaultPath
	}
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file %s already exists", path)
	}
	if err := config.Default().Save(path); err != nil {
		return err
	}
	fmt.Println("Wrote", path)
	return nil
}

// newLogger logs to the configured file. Without one, logs are dropped since
// the terminal belongs to the UI.
func newLogger(cfg *config.Config) (*slog.Logger, func(), error) {
	options := &slog.HandlerOptions{Level: cfg.SlogLevel()}
	if cfg.Logging.File == "" {
		return slog.New(slog.NewTextHandler(io.Discard, options)), func() {}, nil
	}

	if err := os.MkdirAll(filepath.Dir(cfg.Logging.File), 0o755); err != nil {
		return nil, nil, fmt.Errorf("creating log directory: %w", err)
	}
	file, err := os.OpenFile(cfg.Logging.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("opening log file: %w", err)
	}
	return slog.New(slog.NewTextHandler(file, options)), func() { file.Close() }, nil
}

func newInitiator(cfg *config.Config) (chat.Initiator, error) {
	switch cfg.API.Transport {
	case config.TransportWebsocket:
		return chat.NewWebsocketInitiator(cfg.API.BaseURL)
	default:
		return chat.NewHTTPInitiator(cfg.API.BaseURL), nil
	}
}

// openHistory resumes the project's most recent conversation from the local
// store, or starts a new one. The recorder is nil when the store is disabled.
func openHistory(cfg *config.Config, fresh bool, logger *slog.Logger) (string, conversation.Transcript, ui.TurnRecorder, func(), error) {
	conversationID := uuid.NewString()
	if cfg.Store.Disabled {
		return conversationID, nil, nil, func() {}, nil
	}

	path, err := cfg.StorePath()
	if err != nil {
		return "", nil, nil, nil, err
	}
	sqliteStore, err := store.NewSQLiteStore(path)
	if err != nil {
		return "", nil, nil, nil, err
	}
	closeStore := func() {
		if err := sqliteStore.Close(); err != nil {
			logger.Warn("failed to close store", "error", err)
		}
	}

	ctx := context.Background()
	var history conversation.Transcript
	if !fresh {
		conversations, err := sqliteStore.ListConversations(ctx, cfg.Chat.ProjectID)
		if err != nil {
			closeStore()
			return "", nil, nil, nil, err
		}
		if len(conversations) > 0 {
			conversationID = conversations[0].ID
			history, err = sqliteStore.LoadTranscript(ctx, conversationID)
			if err != nil && !errors.Is(err, store.ErrConversationNotFound) {
				closeStore()
				return "", nil, nil, nil, err
			}
		}
	}

	projectID := cfg.Chat.ProjectID
	recorder := func(ctx context.Context, prompt, answer conversation.Message) error {
		return sqliteStore.SaveTurn(ctx, conversationID, projectID, prompt, answer)
	}
	return conversationID, history, recorder, closeStore, nil
}
