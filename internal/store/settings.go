package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

const (
	settingSlashToken      = "slash_token"
	settingLockCredentials = "lock_credentials"
)

// Settings reads and writes the singleton configuration rows: the canonical
// slash-command token and the shared lock-API credential pool.
type Settings struct {
	db *sql.DB
}

func NewSettings(db *sql.DB) *Settings {
	return &Settings{db: db}
}

type slashTokenValue struct {
	Token string `json:"token"`
}

func (s *Settings) CanonicalToken(ctx context.Context) (string, error) {
	raw, err := s.getValue(ctx, settingSlashToken)
	if err != nil {
		return "", err
	}

	var value slashTokenValue
	if err := json.Unmarshal(raw, &value); err != nil {
		return "", fmt.Errorf("decode slash token setting: %w", err)
	}
	if value.Token == "" {
		return "", ErrNotFound
	}

	return value.Token, nil
}

func (s *Settings) PutCanonicalToken(ctx context.Context, token string) error {
	encoded, err := json.Marshal(slashTokenValue{Token: token})
	if err != nil {
		return fmt.Errorf("encode slash token setting: %w", err)
	}

	return s.putValue(ctx, settingSlashToken, encoded)
}

func (s *Settings) CredentialPool(ctx context.Context) ([]Credential, error) {
	raw, err := s.getValue(ctx, settingLockCredentials)
	if err != nil {
		return nil, err
	}

	var pool []Credential
	if err := json.Unmarshal(raw, &pool); err != nil {
		return nil, fmt.Errorf("decode credential pool setting: %w", err)
	}

	return pool, nil
}

func (s *Settings) PutCredentialPool(ctx context.Context, pool []Credential) error {
	encoded, err := json.Marshal(pool)
	if err != nil {
		return fmt.Errorf("encode credential pool setting: %w", err)
	}

	return s.putValue(ctx, settingLockCredentials, encoded)
}

func (s *Settings) getValue(ctx context.Context, key string) ([]byte, error) {
	var raw []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT value
		FROM settings
		WHERE key = $1
	`, key).Scan(&raw)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("query setting %s: %w", key, err)
	}

	return raw, nil
}

func (s *Settings) putValue(ctx context.Context, key string, value []byte) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO settings (key, value, updated_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (key)
		DO UPDATE SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at
	`, key, value, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("upsert setting %s: %w", key, err)
	}

	return nil
}
