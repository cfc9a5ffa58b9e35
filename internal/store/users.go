package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Users is the repository over the door_users table.
type Users struct {
	db *sql.DB
}

func NewUsers(db *sql.DB) *Users {
	return &Users{db: db}
}

const userColumns = `id, display_name, enabled, rate_limit_disabled, attempts, pass_expires_at, created_at, updated_at`

func (r *Users) Get(ctx context.Context, id string) (User, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+userColumns+`
		FROM door_users
		WHERE id = $1
	`, id)

	user, err := scanUser(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return User{}, ErrNotFound
		}
		return User{}, fmt.Errorf("query door user: %w", err)
	}

	return user, nil
}

// Scan returns every user row. The table is a single small team directory,
// so a full scan per status/checkout request is acceptable.
func (r *Users) Scan(ctx context.Context) ([]User, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+userColumns+`
		FROM door_users
		ORDER BY created_at ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("scan door users: %w", err)
	}
	defer rows.Close()

	users := make([]User, 0)
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("scan door user row: %w", err)
		}
		users = append(users, user)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate door users: %w", err)
	}

	return users, nil
}

func (r *Users) Create(ctx context.Context, id, displayName string, enabled bool) (User, error) {
	now := time.Now().UTC()

	row := r.db.QueryRowContext(ctx, `
		INSERT INTO door_users (id, display_name, enabled, attempts, created_at, updated_at)
		VALUES ($1, $2, $3, '[]'::jsonb, $4, $4)
		ON CONFLICT (id)
		DO UPDATE SET display_name = EXCLUDED.display_name, updated_at = EXCLUDED.updated_at
		RETURNING `+userColumns+`
	`, id, displayName, enabled, now)

	user, err := scanUser(row)
	if err != nil {
		return User{}, fmt.Errorf("insert door user: %w", err)
	}

	return user, nil
}

func (r *Users) SetEnabled(ctx context.Context, id string, enabled bool) error {
	return r.setFlag(ctx, id, "enabled", enabled)
}

func (r *Users) SetRateLimitDisabled(ctx context.Context, id string, disabled bool) error {
	return r.setFlag(ctx, id, "rate_limit_disabled", disabled)
}

func (r *Users) setFlag(ctx context.Context, id, column string, value bool) error {
	// column comes from the two fixed callers above, never from input.
	res, err := r.db.ExecContext(ctx, `
		UPDATE door_users
		SET `+column+` = $2, updated_at = $3
		WHERE id = $1
	`, id, value, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("update door user %s: %w", column, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("door user %s rows affected: %w", column, err)
	}
	if affected == 0 {
		return ErrNotFound
	}

	return nil
}

// RecordAttempt prepends the attempt to the user's history and truncates it
// to maxLen, under a row lock so concurrent commands from the same user
// cannot lose entries.
func (r *Users) RecordAttempt(ctx context.Context, id string, attempt Attempt, maxLen int) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin attempt tx: %w", err)
	}
	defer tx.Rollback()

	var raw []byte
	err = tx.QueryRowContext(ctx, `
		SELECT attempts
		FROM door_users
		WHERE id = $1
		FOR UPDATE
	`, id).Scan(&raw)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		return fmt.Errorf("lock door user row: %w", err)
	}

	var attempts []Attempt
	if err := json.Unmarshal(raw, &attempts); err != nil {
		return fmt.Errorf("decode attempts: %w", err)
	}

	attempts = append([]Attempt{attempt}, attempts...)
	if len(attempts) > maxLen {
		attempts = attempts[:maxLen]
	}

	encoded, err := json.Marshal(attempts)
	if err != nil {
		return fmt.Errorf("encode attempts: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE door_users
		SET attempts = $2, updated_at = $3
		WHERE id = $1
	`, id, encoded, attempt.At.UTC())
	if err != nil {
		return fmt.Errorf("update attempts: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit attempt tx: %w", err)
	}

	return nil
}

func (r *Users) CountActivePasses(ctx context.Context, now time.Time) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*)
		FROM door_users
		WHERE pass_expires_at > $1
	`, now.UTC()).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count active passes: %w", err)
	}

	return count, nil
}

// GrantPass sets the user's pass expiry, guarded on the active-pass count
// still being under capacity at write time. The guard narrows the
// read-then-write race; an over-issue can still slip through under
// concurrent READ COMMITTED writes, which the caller accepts.
func (r *Users) GrantPass(ctx context.Context, id string, expiresAt time.Time, capacity int, now time.Time) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE door_users
		SET pass_expires_at = $2, updated_at = $3
		WHERE id = $1
		  AND (SELECT COUNT(*) FROM door_users d WHERE d.pass_expires_at > $3) < $4
	`, id, expiresAt.UTC(), now.UTC(), capacity)
	if err != nil {
		return fmt.Errorf("grant pass: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("grant pass rows affected: %w", err)
	}
	if affected == 0 {
		return ErrConditionFailed
	}

	return nil
}

// PruneAttempts clears stale attempt history in batches for users who have
// not issued a command since cutoff.
func (r *Users) PruneAttempts(ctx context.Context, cutoff time.Time, batchSize int) (int64, error) {
	if batchSize <= 0 {
		batchSize = 500
	}

	res, err := r.db.ExecContext(ctx, `
		WITH stale AS (
			SELECT id
			FROM door_users
			WHERE updated_at < $1 AND attempts <> '[]'::jsonb
			ORDER BY updated_at ASC
			LIMIT $2
		)
		UPDATE door_users u
		SET attempts = '[]'::jsonb
		FROM stale
		WHERE u.id = stale.id
	`, cutoff.UTC(), batchSize)
	if err != nil {
		return 0, fmt.Errorf("prune attempts: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("prune attempts rows affected: %w", err)
	}

	return affected, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (User, error) {
	var user User
	var rawAttempts []byte
	var passExpiresAt sql.NullTime

	err := row.Scan(
		&user.ID,
		&user.DisplayName,
		&user.Enabled,
		&user.RateLimitDisabled,
		&rawAttempts,
		&passExpiresAt,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	if err != nil {
		return User{}, err
	}

	if err := json.Unmarshal(rawAttempts, &user.Attempts); err != nil {
		return User{}, fmt.Errorf("decode attempts: %w", err)
	}
	if passExpiresAt.Valid {
		value := passExpiresAt.Time.UTC()
		user.PassExpiresAt = &value
	}

	return user, nil
}
