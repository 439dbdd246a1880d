package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/atera92/mensetsu-app/internal/models"
	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/multierr"
)

const schema = `
CREATE TABLE IF NOT EXISTS conversations (
    id TEXT PRIMARY KEY,
    title TEXT NOT NULL,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS messages (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    conversation_id TEXT NOT NULL,
    role TEXT NOT NULL,
    content TEXT NOT NULL,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    FOREIGN KEY (conversation_id) REFERENCES conversations(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages(conversation_id, id);`

// ErrNotFound is returned when a conversation does not exist.
var ErrNotFound = errors.New("conversation not found")

// Database is a SQLite-backed history store.
type Database struct {
	db *sql.DB
}

func New(dbPath string) (*Database, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_busy_timeout=5000")
	if err != nil {
		return nil, err
	}
	// sqlite serializes writers anyway; one connection keeps ":memory:" shared.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		return nil, multierr.Append(fmt.Errorf("failed to apply schema: %w", err), db.Close())
	}

	return &Database{db: db}, nil
}

func (db *Database) Close() error {
	return db.db.Close()
}

func (db *Database) CreateConversation(ctx context.Context, title string) (*models.Conversation, error) {
	if strings.TrimSpace(title) == "" {
		title = "New interview"
	}
	conv := &models.Conversation{ID: uuid.NewString(), Title: title, CreatedAt: time.Now().UTC()}
	_, err := db.db.ExecContext(ctx, `
        INSERT INTO conversations (id, title, created_at)
        VALUES (?, ?, ?)`, conv.ID, conv.Title, conv.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create conversation: %w", err)
	}
	return conv, nil
}

func (db *Database) GetConversation(ctx context.Context, id string) (*models.Conversation, error) {
	conv := &models.Conversation{}
	err := db.db.QueryRowContext(ctx, `
        SELECT id, title, created_at FROM conversations WHERE id = ?`, id).
		Scan(&conv.ID, &conv.Title, &conv.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return conv, nil
}

// AppendTurns stores turns in order inside one transaction, creating the
// conversation row on first use.
func (db *Database) AppendTurns(ctx context.Context, conversationID string, turns ...models.Turn) error {
	tx, err := db.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	if _, err := tx.ExecContext(ctx, `
        INSERT OR IGNORE INTO conversations (id, title, created_at)
        VALUES (?, ?, ?)`, conversationID, conversationID, now); err != nil {
		return fmt.Errorf("failed to ensure conversation: %w", err)
	}

	for _, turn := range turns {
		_, err := tx.ExecContext(ctx, `
            INSERT INTO messages (conversation_id, role, content, created_at)
            VALUES (?, ?, ?, ?)`, conversationID, string(turn.Role), turn.Content, now)
		if err != nil {
			return fmt.Errorf("failed to save message: %w", err)
		}
	}

	return tx.Commit()
}

// History returns every stored turn of a conversation, oldest first. An
// unknown conversation has an empty history.
func (db *Database) History(ctx context.Context, conversationID string) ([]models.Turn, error) {
	rows, err := db.db.QueryContext(ctx, `
        SELECT role, content, created_at
        FROM messages
        WHERE conversation_id = ?
        ORDER BY id ASC`, conversationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	turns := make([]models.Turn, 0)
	for rows.Next() {
		var turn models.Turn
		var role string
		if err := rows.Scan(&role, &turn.Content, &turn.CreatedAt); err != nil {
			return nil, err
		}
		turn.Role = models.Role(role)
		turns = append(turns, turn)
	}
	return turns, rows.Err()
}

func (db *Database) DeleteConversation(ctx context.Context, id string) error {
	tx, err := db.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM messages WHERE conversation_id = ?", id); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM conversations WHERE id = ?", id); err != nil {
		return err
	}

	return tx.Commit()
}
