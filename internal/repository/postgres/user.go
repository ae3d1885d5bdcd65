package postgres

import (
	"c4chat/internal/logger"
	"c4chat/internal/repository/db"
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/sirupsen/logrus"
)

const userColumns = `id, username, email, password_hash, account_credits, free_requests_left,
	free_requests_billing_cycle, last_model_used, pinned_models, unsent_attachments, openrouter_key, created_at`

func scanUser(row scanner) (*db.User, error) {
	var user db.User
	var unsent []byte
	err := row.Scan(&user.ID, &user.Username, &user.Email, &user.PasswordHash, &user.AccountCredits,
		&user.FreeRequestsLeft, &user.FreeRequestsBillingCycle, &user.LastModelUsed,
		pq.Array(&user.PinnedModels), &unsent, &user.OpenRouterKey, &user.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, db.ErrNotFound
		}
		return nil, err
	}
	if user.UnsentAttachments, err = parseJSONColumn[db.Attachment](unsent); err != nil {
		return nil, fmt.Errorf("error decoding unsent attachments: %w", err)
	}
	return &user, nil
}

// CreateUser inserts a user whose password is already hashed
func (p *PostgresDB) CreateUser(ctx context.Context, user *db.User) (*db.User, error) {
	created := *user
	if created.ID == "" {
		created.ID = uuid.New().String()
	}
	unsent, err := jsonColumn(created.UnsentAttachments)
	if err != nil {
		return nil, fmt.Errorf("error encoding unsent attachments: %w", err)
	}

	query := `
	INSERT INTO users (id, username, email, password_hash, account_credits, free_requests_left,
		free_requests_billing_cycle, last_model_used, pinned_models, unsent_attachments, openrouter_key)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	RETURNING created_at
	`

	err = p.conn.QueryRowContext(ctx, query, created.ID, created.Username, created.Email, created.PasswordHash,
		created.AccountCredits, created.FreeRequestsLeft, created.FreeRequestsBillingCycle, created.LastModelUsed,
		pq.Array(created.PinnedModels), unsent, created.OpenRouterKey).Scan(&created.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, db.ErrAlreadyExists
		}
		return nil, fmt.Errorf("error creating user: %w", err)
	}

	logger.Log.WithFields(logrus.Fields{"username": created.Username, "user_id": created.ID}).Info("Created new user")
	return &created, nil
}

// GetUser retrieves a user by id
func (p *PostgresDB) GetUser(ctx context.Context, id string) (*db.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`
	user, err := scanUser(p.conn.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("error retrieving user: %w", err)
	}
	return user, nil
}

// GetUserByUsername retrieves a user by username
func (p *PostgresDB) GetUserByUsername(ctx context.Context, username string) (*db.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE username = $1`
	user, err := scanUser(p.conn.QueryRowContext(ctx, query, username))
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("error retrieving user: %w", err)
	}
	return user, nil
}

// UpdateOpenRouterKey stores or clears the user's own upstream key
func (p *PostgresDB) UpdateOpenRouterKey(ctx context.Context, userID, key string) error {
	result, err := p.conn.ExecContext(ctx, `UPDATE users SET openrouter_key = $2 WHERE id = $1`, userID, key)
	if err != nil {
		return fmt.Errorf("error updating openrouter key: %w", err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return db.ErrNotFound
	}
	return nil
}

// lockUser loads a user row and holds its lock until tx ends
func lockUser(ctx context.Context, tx *sql.Tx, userID string) (*db.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1 FOR UPDATE`
	user, err := scanUser(tx.QueryRowContext(ctx, query, userID))
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("error locking user: %w", err)
	}
	return user, nil
}

// saveBilling writes back the fields a charge may change
func saveBilling(ctx context.Context, tx *sql.Tx, user *db.User) error {
	unsent, err := jsonColumn(user.UnsentAttachments)
	if err != nil {
		return fmt.Errorf("error encoding unsent attachments: %w", err)
	}
	query := `
	UPDATE users
	SET account_credits = $2, free_requests_left = $3, free_requests_billing_cycle = $4,
		last_model_used = $5, unsent_attachments = $6
	WHERE id = $1
	`
	if _, err := tx.ExecContext(ctx, query, user.ID, user.AccountCredits, user.FreeRequestsLeft,
		user.FreeRequestsBillingCycle, user.LastModelUsed, unsent); err != nil {
		return fmt.Errorf("error saving user balance: %w", err)
	}
	return nil
}

// ChargeUser runs charge against the locked user row and persists the result
func (p *PostgresDB) ChargeUser(ctx context.Context, userID string, charge db.ChargeFunc) (*db.User, error) {
	var user *db.User
	err := p.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		if user, err = lockUser(ctx, tx, userID); err != nil {
			return err
		}
		if err := charge(user); err != nil {
			return err
		}
		return saveBilling(ctx, tx, user)
	})
	if err != nil {
		return nil, err
	}
	return user, nil
}

// AddUnsentAttachment charges the user and queues the attachment for their next message
func (p *PostgresDB) AddUnsentAttachment(ctx context.Context, userID string, charge db.ChargeFunc, attachment db.Attachment) (*db.User, error) {
	var user *db.User
	err := p.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		if user, err = lockUser(ctx, tx, userID); err != nil {
			return err
		}
		if err := charge(user); err != nil {
			return err
		}
		user.UnsentAttachments = append(user.UnsentAttachments, attachment)
		return saveBilling(ctx, tx, user)
	})
	if err != nil {
		return nil, err
	}
	return user, nil
}

// RemoveUnsentAttachment drops a queued attachment. It reports whether one was removed.
func (p *PostgresDB) RemoveUnsentAttachment(ctx context.Context, userID, attachmentID string) (bool, error) {
	removed := false
	err := p.withTx(ctx, func(tx *sql.Tx) error {
		user, err := lockUser(ctx, tx, userID)
		if err != nil {
			return err
		}
		kept := user.UnsentAttachments[:0]
		for _, att := range user.UnsentAttachments {
			if att.ID == attachmentID {
				removed = true
				continue
			}
			kept = append(kept, att)
		}
		if !removed {
			return nil
		}
		user.UnsentAttachments = kept
		return saveBilling(ctx, tx, user)
	})
	if err != nil {
		return false, err
	}
	return removed, nil
}
