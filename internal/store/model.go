package store

import (
	"errors"
	"time"
)

// Attempt is one recorded command attempt. The attempts list on a user is
// ordered most-recent-first and capped by the caller.
type Attempt struct {
	At        time.Time `json:"at"`
	Operation string    `json:"op"`
}

// User is one row of the door_users table, keyed by the chat platform's
// user id.
type User struct {
	ID                string
	DisplayName       string
	Enabled           bool
	RateLimitDisabled bool
	Attempts          []Attempt
	PassExpiresAt     *time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// Credential is one entry of the shared lock-API credential pool.
type Credential struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

var (
	ErrNotFound = errors.New("record not found")

	// ErrConditionFailed means a guarded write found its precondition
	// no longer true (e.g. pass capacity reached between read and write).
	ErrConditionFailed = errors.New("conditional write failed")
)
