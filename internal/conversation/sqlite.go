package conversation

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mnemic/groqnode/internal/store"
	"github.com/mnemic/groqnode/pkg/llm"
)

// Compile-time interface guard.
var _ Backend = (*SQLiteBackend)(nil)

func migrations() []store.Migration {
	return []store.Migration{
		{
			Version:     1,
			Description: "create conversations table",
			Up: func(tx *sql.Tx) error {
				_, err := tx.Exec(`
					CREATE TABLE conversations (
						id         TEXT     PRIMARY KEY,
						messages   TEXT     NOT NULL,
						updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
					)`)
				return err
			},
		},
		{
			Version:     2,
			Description: "add nanosecond update order",
			Up: func(tx *sql.Tx) error {
				_, err := tx.Exec(`ALTER TABLE conversations ADD COLUMN updated_ns INTEGER NOT NULL DEFAULT 0`)
				return err
			},
		},
	}
}

// SQLiteBackend stores each conversation as one row holding its messages
// as a JSON array.
type SQLiteBackend struct {
	db  *store.SQLite
	now func() time.Time
}

// NewSQLiteBackend migrates the schema and returns a backend on db.
func NewSQLiteBackend(ctx context.Context, db *store.SQLite) (*SQLiteBackend, error) {
	if err := db.Migrate(ctx, "conversation", migrations()); err != nil {
		return nil, fmt.Errorf("migrate conversation store: %w", err)
	}
	return &SQLiteBackend{db: db, now: time.Now}, nil
}

// LoadAll returns every stored conversation, least recently updated first.
// Rows written before updated_ns existed sort first, by updated_at.
func (b *SQLiteBackend) LoadAll(ctx context.Context) ([]Record, error) {
	rows, err := b.db.DB().QueryContext(ctx, `
		SELECT id, messages FROM conversations
		ORDER BY updated_ns, updated_at, rowid`)
	if err != nil {
		return nil, fmt.Errorf("query conversations: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var id, raw string
		if err := rows.Scan(&id, &raw); err != nil {
			return nil, fmt.Errorf("scan conversation: %w", err)
		}
		var msgs []llm.Message
		if err := json.Unmarshal([]byte(raw), &msgs); err != nil {
			return nil, fmt.Errorf("decode conversation %s: %w", id, err)
		}
		if msgs == nil {
			msgs = []llm.Message{}
		}
		out = append(out, Record{ID: id, Messages: msgs})
	}
	return out, rows.Err()
}

// Save upserts the full message list for id.
func (b *SQLiteBackend) Save(ctx context.Context, id string, messages []llm.Message) error {
	if messages == nil {
		messages = []llm.Message{}
	}
	raw, err := json.Marshal(messages)
	if err != nil {
		return fmt.Errorf("encode conversation %s: %w", id, err)
	}
	_, err = b.db.DB().ExecContext(ctx, `
		INSERT INTO conversations (id, messages, updated_at, updated_ns) VALUES (?, ?, CURRENT_TIMESTAMP, ?)
		ON CONFLICT(id) DO UPDATE SET
			messages   = excluded.messages,
			updated_at = CURRENT_TIMESTAMP,
			updated_ns = excluded.updated_ns`,
		id, string(raw), b.now().UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("save conversation %s: %w", id, err)
	}
	return nil
}

// Delete removes id. Deleting an unknown id is not an error.
func (b *SQLiteBackend) Delete(ctx context.Context, id string) error {
	if _, err := b.db.DB().ExecContext(ctx, "DELETE FROM conversations WHERE id = ?", id); err != nil {
		return fmt.Errorf("delete conversation %s: %w", id, err)
	}
	return nil
}
