package postgres

import (
	"c4chat/internal/logger"
	"c4chat/internal/repository/db"
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const threadColumns = `id, user_id, title, pinned, generating, last_modified, created_at`

func scanThread(row scanner) (*db.Thread, error) {
	var thread db.Thread
	err := row.Scan(&thread.ID, &thread.UserID, &thread.Title, &thread.Pinned, &thread.Generating,
		&thread.LastModified, &thread.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, db.ErrNotFound
		}
		return nil, err
	}
	return &thread, nil
}

// CreateThread creates a new thread for a user
func (p *PostgresDB) CreateThread(ctx context.Context, userID, title string) (*db.Thread, error) {
	query := `
	INSERT INTO threads (id, user_id, title)
	VALUES ($1, $2, $3)
	RETURNING ` + threadColumns

	thread, err := scanThread(p.conn.QueryRowContext(ctx, query, uuid.New().String(), userID, title))
	if err != nil {
		return nil, fmt.Errorf("error creating thread: %w", err)
	}

	logger.Log.WithFields(logrus.Fields{"thread_id": thread.ID, "user_id": userID}).Debug("Created new thread")
	return thread, nil
}

// GetThread retrieves a specific thread
func (p *PostgresDB) GetThread(ctx context.Context, id string) (*db.Thread, error) {
	query := `SELECT ` + threadColumns + ` FROM threads WHERE id = $1`
	thread, err := scanThread(p.conn.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("error retrieving thread: %w", err)
	}
	return thread, nil
}

// GetThreadsByUser lists a user's pinned or unpinned threads, most recently modified first
func (p *PostgresDB) GetThreadsByUser(ctx context.Context, userID string, pinned bool, limit int) ([]db.Thread, error) {
	query := `
	SELECT ` + threadColumns + `
	FROM threads
	WHERE user_id = $1 AND pinned = $2
	ORDER BY last_modified DESC
	LIMIT $3
	`

	rows, err := p.conn.QueryContext(ctx, query, userID, pinned, limit)
	if err != nil {
		return nil, fmt.Errorf("error querying threads: %w", err)
	}
	defer rows.Close()

	var threads []db.Thread
	for rows.Next() {
		thread, err := scanThread(rows)
		if err != nil {
			return nil, fmt.Errorf("error scanning thread: %w", err)
		}
		threads = append(threads, *thread)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating threads: %w", err)
	}
	return threads, nil
}

func (p *PostgresDB) updateThread(ctx context.Context, query string, args ...any) error {
	result, err := p.conn.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("error updating thread: %w", err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return db.ErrNotFound
	}
	return nil
}

// SetThreadTitle renames a thread
func (p *PostgresDB) SetThreadTitle(ctx context.Context, id, title string) error {
	return p.updateThread(ctx, `UPDATE threads SET title = $2 WHERE id = $1`, id, title)
}

// SetThreadPinned pins or unpins a thread
func (p *PostgresDB) SetThreadPinned(ctx context.Context, id string, pinned bool) error {
	return p.updateThread(ctx, `UPDATE threads SET pinned = $2 WHERE id = $1`, id, pinned)
}

// DeleteThread removes a thread and its messages, returning the attachments
// those messages referenced. A generating thread is left untouched.
func (p *PostgresDB) DeleteThread(ctx context.Context, id string) ([]db.Attachment, error) {
	var attachments []db.Attachment
	err := p.withTx(ctx, func(tx *sql.Tx) error {
		var generating bool
		err := tx.QueryRowContext(ctx, `SELECT generating FROM threads WHERE id = $1 FOR UPDATE`, id).Scan(&generating)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return db.ErrNotFound
			}
			return fmt.Errorf("error locking thread: %w", err)
		}
		if generating {
			return db.ErrThreadGenerating
		}

		rows, err := tx.QueryContext(ctx, `SELECT attachments FROM messages WHERE thread_id = $1`, id)
		if err != nil {
			return fmt.Errorf("error querying attachments: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			var raw []byte
			if err := rows.Scan(&raw); err != nil {
				return fmt.Errorf("error scanning attachments: %w", err)
			}
			atts, err := parseJSONColumn[db.Attachment](raw)
			if err != nil {
				return fmt.Errorf("error decoding attachments: %w", err)
			}
			attachments = append(attachments, atts...)
		}
		if err := rows.Err(); err != nil {
			return fmt.Errorf("error iterating attachments: %w", err)
		}

		// messages go with the thread through ON DELETE CASCADE
		if _, err := tx.ExecContext(ctx, `DELETE FROM threads WHERE id = $1`, id); err != nil {
			return fmt.Errorf("error deleting thread: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return attachments, nil
}

// refreshGenerating recomputes a thread's generating flag from its messages
func refreshGenerating(ctx context.Context, tx *sql.Tx, threadID string) error {
	query := `
	UPDATE threads
	SET generating = EXISTS (SELECT 1 FROM messages WHERE thread_id = $1 AND NOT completed),
		last_modified = NOW()
	WHERE id = $1
	`
	if _, err := tx.ExecContext(ctx, query, threadID); err != nil {
		return fmt.Errorf("error refreshing thread state: %w", err)
	}
	return nil
}
