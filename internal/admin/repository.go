package admin

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) GetByUsername(ctx context.Context, username string) (Account, error) {
	var account Account
	err := r.db.QueryRowContext(ctx, `
		SELECT id, username, password_hash, created_at, updated_at
		FROM admin_users
		WHERE username = $1
	`, username).Scan(&account.ID, &account.Username, &account.PasswordHash, &account.CreatedAt, &account.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Account{}, err
		}
		return Account{}, fmt.Errorf("query admin by username: %w", err)
	}

	return account, nil
}

// UpsertSingleAccount makes the env-configured admin the only admin: it
// creates or updates the first account and removes any others.
func (r *Repository) UpsertSingleAccount(ctx context.Context, username, plainPassword string) error {
	id, err := uuid.NewV7()
	if err != nil {
		return fmt.Errorf("generate uuid v7: %w", err)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(plainPassword), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}

	now := time.Now().UTC()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	var existingID string
	err = tx.QueryRowContext(ctx, `SELECT id FROM admin_users ORDER BY created_at ASC LIMIT 1`).Scan(&existingID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			existingID = id.String()
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO admin_users (id, username, password_hash, created_at, updated_at)
				VALUES ($1, $2, $3, $4, $4)
			`, existingID, username, string(hash), now); err != nil {
				return fmt.Errorf("insert admin account: %w", err)
			}
		} else {
			return fmt.Errorf("select existing admin: %w", err)
		}
	} else {
		if _, err := tx.ExecContext(ctx, `
			UPDATE admin_users
			SET username = $2, password_hash = $3, updated_at = $4
			WHERE id = $1
		`, existingID, username, string(hash), now); err != nil {
			return fmt.Errorf("update admin account: %w", err)
		}
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM admin_users WHERE id <> $1`, existingID); err != nil {
		return fmt.Errorf("cleanup extra admins: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}

	return nil
}
