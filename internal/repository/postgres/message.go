package postgres

import (
	"c4chat/internal/repository/db"
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

const messageColumns = `id, thread_id, model, model_name, user_message, message, reasoning,
	annotations, attachments, completed, completion_status, created_at`

func scanMessage(row scanner) (*db.Message, error) {
	var msg db.Message
	var annotations, attachments []byte
	var status sql.NullString
	err := row.Scan(&msg.ID, &msg.ThreadID, &msg.Model, &msg.ModelName, &msg.UserMessage, &msg.Message,
		&msg.Reasoning, &annotations, &attachments, &msg.Completed, &status, &msg.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, db.ErrNotFound
		}
		return nil, err
	}
	if status.Valid {
		s := db.CompletionStatus(status.String)
		msg.CompletionStatus = &s
	}
	if msg.Annotations, err = parseJSONColumn[db.Annotation](annotations); err != nil {
		return nil, fmt.Errorf("error decoding annotations: %w", err)
	}
	if msg.Attachments, err = parseJSONColumn[db.Attachment](attachments); err != nil {
		return nil, fmt.Errorf("error decoding attachments: %w", err)
	}
	return &msg, nil
}

func scanMessages(rows *sql.Rows) ([]db.Message, error) {
	defer rows.Close()
	var messages []db.Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("error scanning message: %w", err)
		}
		messages = append(messages, *msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating messages: %w", err)
	}
	return messages, nil
}

// StartMessage debits the user and creates an incomplete message in one
// transaction. The user and thread rows stay locked until commit, so two
// starts on the same thread cannot both pass the generating check.
func (p *PostgresDB) StartMessage(ctx context.Context, params db.StartMessageParams, charge db.ChargeFunc) (*db.Message, error) {
	var msg *db.Message
	err := p.withTx(ctx, func(tx *sql.Tx) error {
		user, err := lockUser(ctx, tx, params.UserID)
		if err != nil {
			return err
		}

		var owner string
		err = tx.QueryRowContext(ctx, `SELECT user_id FROM threads WHERE id = $1 FOR UPDATE`, params.ThreadID).Scan(&owner)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return db.ErrNotFound
			}
			return fmt.Errorf("error locking thread: %w", err)
		}
		if owner != params.UserID {
			return db.ErrNotFound
		}

		var busy bool
		err = tx.QueryRowContext(ctx,
			`SELECT EXISTS (SELECT 1 FROM messages WHERE thread_id = $1 AND NOT completed)`,
			params.ThreadID).Scan(&busy)
		if err != nil {
			return fmt.Errorf("error checking thread state: %w", err)
		}
		if busy {
			return db.ErrThreadGenerating
		}

		if err := charge(user); err != nil {
			return err
		}
		attachments := user.UnsentAttachments
		user.UnsentAttachments = nil
		if err := saveBilling(ctx, tx, user); err != nil {
			return err
		}

		encoded, err := jsonColumn(attachments)
		if err != nil {
			return fmt.Errorf("error encoding attachments: %w", err)
		}
		query := `
		INSERT INTO messages (id, thread_id, model, model_name, user_message, attachments)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING ` + messageColumns
		msg, err = scanMessage(tx.QueryRowContext(ctx, query, uuid.New().String(), params.ThreadID,
			params.Model, params.ModelName, params.UserMessage, encoded))
		if err != nil {
			return fmt.Errorf("error creating message: %w", err)
		}

		if _, err := tx.ExecContext(ctx,
			`UPDATE threads SET generating = TRUE, last_modified = NOW() WHERE id = $1`,
			params.ThreadID); err != nil {
			return fmt.Errorf("error marking thread generating: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return msg, nil
}

// GetMessage retrieves a single message
func (p *PostgresDB) GetMessage(ctx context.Context, id string) (*db.Message, error) {
	query := `SELECT ` + messageColumns + ` FROM messages WHERE id = $1`
	msg, err := scanMessage(p.conn.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("error retrieving message: %w", err)
	}
	return msg, nil
}

// GetThreadMessages retrieves every message of a thread in creation order
func (p *PostgresDB) GetThreadMessages(ctx context.Context, threadID string) ([]db.Message, error) {
	query := `
	SELECT ` + messageColumns + `
	FROM messages
	WHERE thread_id = $1
	ORDER BY created_at ASC, id ASC
	`
	rows, err := p.conn.QueryContext(ctx, query, threadID)
	if err != nil {
		return nil, fmt.Errorf("error querying messages: %w", err)
	}
	return scanMessages(rows)
}

// GetMessagesUpTo returns the target message and every earlier message of its thread
func (p *PostgresDB) GetMessagesUpTo(ctx context.Context, messageID string) ([]db.Message, error) {
	query := `
	SELECT ` + messageColumns + `
	FROM messages
	WHERE thread_id = (SELECT thread_id FROM messages WHERE id = $1)
		AND created_at <= (SELECT created_at FROM messages WHERE id = $1)
	ORDER BY created_at ASC, id ASC
	`
	rows, err := p.conn.QueryContext(ctx, query, messageID)
	if err != nil {
		return nil, fmt.Errorf("error querying history: %w", err)
	}
	messages, err := scanMessages(rows)
	if err != nil {
		return nil, err
	}
	if len(messages) == 0 {
		return nil, db.ErrNotFound
	}
	return messages, nil
}

// CheckpointMessage stores partial output while the message is still
// incomplete and reports what it found
func (p *PostgresDB) CheckpointMessage(ctx context.Context, id, text, reasoning string) (*db.Checkpoint, error) {
	var written string
	err := p.conn.QueryRowContext(ctx,
		`UPDATE messages SET message = $2, reasoning = $3 WHERE id = $1 AND NOT completed RETURNING id`,
		id, text, reasoning).Scan(&written)
	if err == nil {
		return &db.Checkpoint{Exists: true}, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("error writing checkpoint: %w", err)
	}

	var status sql.NullString
	err = p.conn.QueryRowContext(ctx, `SELECT completion_status FROM messages WHERE id = $1`, id).Scan(&status)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return &db.Checkpoint{Exists: false}, nil
		}
		return nil, fmt.Errorf("error reading message status: %w", err)
	}
	return &db.Checkpoint{Exists: true, Status: db.CompletionStatus(status.String)}, nil
}

// FinalizeMessage marks the message complete with its final output. A status
// already present, such as stopped, wins over status.
func (p *PostgresDB) FinalizeMessage(ctx context.Context, id string, status db.CompletionStatus, text, reasoning string, annotations []db.Annotation) (*db.Message, error) {
	encoded, err := jsonColumn(annotations)
	if err != nil {
		return nil, fmt.Errorf("error encoding annotations: %w", err)
	}

	var msg *db.Message
	err = p.withTx(ctx, func(tx *sql.Tx) error {
		query := `
		UPDATE messages
		SET completed = TRUE,
			completion_status = COALESCE(completion_status, $2),
			message = $3,
			reasoning = $4,
			annotations = $5
		WHERE id = $1
		RETURNING ` + messageColumns
		var err error
		msg, err = scanMessage(tx.QueryRowContext(ctx, query, id, string(status), text, reasoning, encoded))
		if err != nil {
			if errors.Is(err, db.ErrNotFound) {
				return err
			}
			return fmt.Errorf("error finalizing message: %w", err)
		}
		return refreshGenerating(ctx, tx, msg.ThreadID)
	})
	if err != nil {
		return nil, err
	}
	return msg, nil
}

// StopMessage marks an incomplete message stopped. It reports false when the
// message had already finished.
func (p *PostgresDB) StopMessage(ctx context.Context, id string) (bool, error) {
	stopped := false
	err := p.withTx(ctx, func(tx *sql.Tx) error {
		var threadID string
		err := tx.QueryRowContext(ctx, `
		UPDATE messages
		SET completed = TRUE, completion_status = $2
		WHERE id = $1 AND NOT completed
		RETURNING thread_id`, id, string(db.StatusStopped)).Scan(&threadID)
		if errors.Is(err, sql.ErrNoRows) {
			var exists bool
			if err := tx.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM messages WHERE id = $1)`, id).Scan(&exists); err != nil {
				return fmt.Errorf("error checking message: %w", err)
			}
			if !exists {
				return db.ErrNotFound
			}
			return nil
		}
		if err != nil {
			return fmt.Errorf("error stopping message: %w", err)
		}
		stopped = true
		return refreshGenerating(ctx, tx, threadID)
	})
	if err != nil {
		return false, err
	}
	return stopped, nil
}

// DeleteMessage removes a message and returns it so its blobs can be cleaned up
func (p *PostgresDB) DeleteMessage(ctx context.Context, id string) (*db.Message, error) {
	var msg *db.Message
	err := p.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		msg, err = scanMessage(tx.QueryRowContext(ctx, `DELETE FROM messages WHERE id = $1 RETURNING `+messageColumns, id))
		if err != nil {
			if errors.Is(err, db.ErrNotFound) {
				return err
			}
			return fmt.Errorf("error deleting message: %w", err)
		}
		return refreshGenerating(ctx, tx, msg.ThreadID)
	})
	if err != nil {
		return nil, err
	}
	return msg, nil
}
