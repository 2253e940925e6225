// Package store persists chat transcripts in SQLite so conversations survive
// restarts.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/koscakluka/ema-datachat/core/conversation"
	"github.com/koscakluka/ema-datachat/core/results"
)

var ErrConversationNotFound = errors.New("conversation not found")

// Conversation is the stored header of one chat session.
type Conversation struct {
	ID        string
	ProjectID string
	CreatedAt time.Time
	UpdatedAt time.Time
}

type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore opens the store at path, creating parent directories and the
// schema as needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	storeLogger := logger.With("component", "store")

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	s := &SQLiteStore{db: db, logger: storeLogger}
	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	storeLogger.Info("SQLite store initialized", "path", path)
	return s, nil
}

func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS conversations (
			id TEXT PRIMARY KEY,
			project_id TEXT NOT NULL,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_conversations_project_updated
			ON conversations(project_id, updated_at);

		CREATE TABLE IF NOT EXISTS messages (
			id TEXT PRIMARY KEY,
			conversation_id TEXT NOT NULL,
			turn_id TEXT NOT NULL,
			seq INTEGER NOT NULL,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			table_json TEXT,
			chart_json TEXT,
			run_id TEXT NOT NULL DEFAULT '',
			is_finalised INTEGER NOT NULL,
			created_at DATETIME NOT NULL,
			FOREIGN KEY (conversation_id) REFERENCES conversations(id)
		);

		CREATE INDEX IF NOT EXISTS idx_messages_conversation_seq
			ON messages(conversation_id, seq);
	`
	_, err := s.db.Exec(schema)
	return err
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// SaveTurn stores a turn's prompt and answer, creating the conversation on
// first use. Saving a message again updates it in place and keeps its
// position.
func (s *SQLiteStore) SaveTurn(ctx context.Context, conversationID, projectID string, prompt, answer conversation.Message) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	_, err = tx.ExecContext(ctx, `
		INSERT INTO conversations (id, project_id, created_at, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET updated_at = excluded.updated_at
	`, conversationID, projectID, now, now)
	if err != nil {
		return fmt.Errorf("saving conversation: %w", err)
	}

	for _, message := range []conversation.Message{prompt, answer} {
		if err := saveMessage(ctx, tx, conversationID, message, now); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}

	s.logger.Debug("saved turn", "conversation_id", conversationID, "turn_id", answer.TurnID)
	return nil
}

func saveMessage(ctx context.Context, tx *sql.Tx, conversationID string, message conversation.Message, now time.Time) error {
	tableJSON, err := encodeNullable(message.Table)
	if err != nil {
		return fmt.Errorf("encoding table of message %s: %w", message.ID, err)
	}
	chartJSON, err := encodeNullable(message.Chart)
	if err != nil {
		return fmt.Errorf("encoding chart of message %s: %w", message.ID, err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO messages (id, conversation_id, turn_id, seq, role, content, table_json, chart_json, run_id, is_finalised, created_at)
		VALUES (?, ?, ?, (SELECT COALESCE(MAX(seq), -1) + 1 FROM messages WHERE conversation_id = ?), ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			content = excluded.content,
			table_json = excluded.table_json,
			chart_json = excluded.chart_json,
			run_id = excluded.run_id,
			is_finalised = excluded.is_finalised
	`, message.ID, conversationID, message.TurnID, conversationID, string(message.Role), message.Content,
		tableJSON, chartJSON, message.RunID, message.IsFinalised, now)
	if err != nil {
		return fmt.Errorf("saving message %s: %w", message.ID, err)
	}
	return nil
}

// LoadTranscript returns the stored messages of a conversation in order. A
// stored table or chart that no longer validates is left out of its message.
func (s *SQLiteStore) LoadTranscript(ctx context.Context, conversationID string) (conversation.Transcript, error) {
	if _, err := s.GetConversation(ctx, conversationID); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, turn_id, role, content, table_json, chart_json, run_id, is_finalised
		FROM messages
		WHERE conversation_id = ?
		ORDER BY seq ASC
	`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("querying messages: %w", err)
	}
	defer rows.Close()

	var transcript conversation.Transcript
	for rows.Next() {
		var (
			message              conversation.Message
			role                 string
			tableJSON, chartJSON sql.NullString
		)
		if err := rows.Scan(&message.ID, &message.TurnID, &role, &message.Content,
			&tableJSON, &chartJSON, &message.RunID, &message.IsFinalised); err != nil {
			return nil, fmt.Errorf("scanning message: %w", err)
		}
		message.Role = conversation.Role(role)

		if tableJSON.Valid {
			if message.Table, err = results.ParseTable(json.RawMessage(tableJSON.String)); err != nil {
				s.logger.Warn("dropping stored table", "message_id", message.ID, "error", err)
			}
		}
		if chartJSON.Valid {
			if message.Chart, err = results.ParseChart(json.RawMessage(chartJSON.String)); err != nil {
				s.logger.Warn("dropping stored chart", "message_id", message.ID, "error", err)
			}
		}

		transcript = append(transcript, message)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating messages: %w", err)
	}

	return transcript, nil
}

func (s *SQLiteStore) GetConversation(ctx context.Context, conversationID string) (*Conversation, error) {
	var stored Conversation
	err := s.db.QueryRowContext(ctx, `
		SELECT id, project_id, created_at, updated_at
		FROM conversations
		WHERE id = ?
	`, conversationID).Scan(&stored.ID, &stored.ProjectID, &stored.CreatedAt, &stored.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrConversationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying conversation: %w", err)
	}
	return &stored, nil
}

// ListConversations returns a project's conversations, most recently updated
// first.
func (s *SQLiteStore) ListConversations(ctx context.Context, projectID string) ([]Conversation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, project_id, created_at, updated_at
		FROM conversations
		WHERE project_id = ?
		ORDER BY updated_at DESC, id ASC
	`, projectID)
	if err != nil {
		return nil, fmt.Errorf("querying conversations: %w", err)
	}
	defer rows.Close()

	var conversations []Conversation
	for rows.Next() {
		var stored Conversation
		if err := rows.Scan(&stored.ID, &stored.ProjectID, &stored.CreatedAt, &stored.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scanning conversation: %w", err)
		}
		conversations = append(conversations, stored)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating conversations: %w", err)
	}

	return conversations, nil
}

// encodeNullable stores nil results as NULL. Nil slices are written as empty
// arrays so the stored payload validates again on load.
func encodeNullable(value any) (sql.NullString, error) {
	switch typed := value.(type) {
	case *results.Table:
		if typed == nil {
			return sql.NullString{}, nil
		}
		table := *typed
		if table.Columns == nil {
			table.Columns = []string{}
		}
		if table.Rows == nil {
			table.Rows = []results.Row{}
		}
		value = table
	case *results.Chart:
		if typed == nil {
			return sql.NullString{}, nil
		}
		chart := *typed
		if chart.Data == nil {
			chart.Data = []map[string]any{}
		}
		value = chart
	}

	encoded, err := json.Marshal(value)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(encoded), Valid: true}, nil
}
