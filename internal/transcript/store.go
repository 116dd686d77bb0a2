// Package transcript keeps a local record of agent turns per thread so a
// run's step trace can be inspected after the fact.
package transcript

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"nbassist/internal/agentrun"
	"nbassist/pkg/db"
	"nbassist/pkg/migration"
)

//go:embed migrations/*.sql
var migrations embed.FS

const titleMaxRunes = 60

// ErrThreadNotFound is returned for an unknown thread id.
var ErrThreadNotFound = errors.New("thread not found")

// Thread summarizes one recorded conversation.
type Thread struct {
	ID        string
	Title     string
	Turns     int
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Store persists turns in SQLite. It implements agentrun.Recorder.
type Store struct {
	db  *db.DB
	log *zap.Logger
	now func() time.Time
}

// Open opens the database at path and applies pending migrations.
func Open(ctx context.Context, path string, log *zap.Logger) (*Store, error) {
	database, err := db.Open(path)
	if err != nil {
		return nil, err
	}
	if err := migration.NewRunner(database.Write(), migrations, "migrations").Run(ctx); err != nil {
		database.Close()
		return nil, fmt.Errorf("migrate transcript store: %w", err)
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Store{db: database, log: log, now: time.Now}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// RecordTurn appends a user message and, when present, the assistant reply
// to threadID, creating the thread on first use.
func (s *Store) RecordTurn(ctx context.Context, threadID string, user agentrun.Message, assistant *agentrun.Message) error {
	if strings.TrimSpace(threadID) == "" {
		return errors.New("thread id cannot be empty")
	}
	now := s.now().UnixMilli()

	err := s.db.WithTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO threads (id, title, created_at, updated_at)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET updated_at = excluded.updated_at
		`, threadID, titleFrom(user.Content), now, now); err != nil {
			return fmt.Errorf("upsert thread: %w", err)
		}

		if err := insertMessage(ctx, tx, threadID, user); err != nil {
			return err
		}
		if assistant != nil {
			if err := insertMessage(ctx, tx, threadID, *assistant); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.log.Debug("turn recorded", zap.String("thread_id", threadID), zap.Bool("answered", assistant != nil))
	return nil
}

func insertMessage(ctx context.Context, tx *sql.Tx, threadID string, msg agentrun.Message) error {
	steps := msg.Steps
	if steps == nil {
		steps = []agentrun.Step{}
	}
	encoded, err := json.Marshal(steps)
	if err != nil {
		return fmt.Errorf("encode steps: %w", err)
	}
	ts := msg.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO turns (thread_id, message_id, role, content, steps, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, threadID, msg.ID, string(msg.Role), msg.Content, string(encoded), ts.UnixMilli())
	if err != nil {
		return fmt.Errorf("insert %s message: %w", msg.Role, err)
	}
	return nil
}

// Threads lists recorded threads, most recently updated first.
func (s *Store) Threads(ctx context.Context, limit int) ([]Thread, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Read().QueryContext(ctx, `
		SELECT t.id, t.title, t.created_at, t.updated_at, COUNT(m.seq)
		FROM threads t
		LEFT JOIN turns m ON m.thread_id = t.id
		GROUP BY t.id
		ORDER BY t.updated_at DESC, t.id
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list threads: %w", err)
	}
	defer rows.Close()

	var threads []Thread
	for rows.Next() {
		var (
			th               Thread
			created, updated int64
		)
		if err := rows.Scan(&th.ID, &th.Title, &created, &updated, &th.Turns); err != nil {
			return nil, err
		}
		th.CreatedAt = time.UnixMilli(created)
		th.UpdatedAt = time.UnixMilli(updated)
		threads = append(threads, th)
	}
	return threads, rows.Err()
}

// Messages returns a thread's messages in recording order.
func (s *Store) Messages(ctx context.Context, threadID string) ([]agentrun.Message, error) {
	var exists int
	err := s.db.Read().QueryRowContext(ctx, `SELECT COUNT(*) FROM threads WHERE id = ?`, threadID).Scan(&exists)
	if err != nil {
		return nil, fmt.Errorf("lookup thread: %w", err)
	}
	if exists == 0 {
		return nil, fmt.Errorf("%w: %s", ErrThreadNotFound, threadID)
	}

	rows, err := s.db.Read().QueryContext(ctx, `
		SELECT message_id, role, content, steps, created_at
		FROM turns
		WHERE thread_id = ?
		ORDER BY seq
	`, threadID)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	var out []agentrun.Message
	for rows.Next() {
		var (
			msg     agentrun.Message
			role    string
			steps   string
			created int64
		)
		if err := rows.Scan(&msg.ID, &role, &msg.Content, &steps, &created); err != nil {
			return nil, err
		}
		msg.Role = agentrun.Role(role)
		msg.Timestamp = time.UnixMilli(created)
		if err := json.Unmarshal([]byte(steps), &msg.Steps); err != nil {
			s.log.Warn("corrupt step trace", zap.String("message_id", msg.ID), zap.Error(err))
		}
		if len(msg.Steps) == 0 {
			msg.Steps = nil
		}
		out = append(out, msg)
	}
	return out, rows.Err()
}

// DeleteThread removes a thread and its messages.
func (s *Store) DeleteThread(ctx context.Context, threadID string) error {
	return s.db.WithTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM turns WHERE thread_id = ?`, threadID); err != nil {
			return fmt.Errorf("delete turns: %w", err)
		}
		res, err := tx.ExecContext(ctx, `DELETE FROM threads WHERE id = ?`, threadID)
		if err != nil {
			return fmt.Errorf("delete thread: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("%w: %s", ErrThreadNotFound, threadID)
		}
		return nil
	})
}

func titleFrom(text string) string {
	text = strings.Join(strings.Fields(text), " ")
	runes := []rune(text)
	if len(runes) <= titleMaxRunes {
		return text
	}
	return string(runes[:titleMaxRunes]) + "..."
}
