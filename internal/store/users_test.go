package store

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newUsersWithMock(t *testing.T) (*Users, sqlmock.Sqlmock, *sql.DB) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New error: %v", err)
	}
	return NewUsers(db), mock, db
}

func userRow(t *testing.T, id string, attempts []Attempt, passExpiresAt *time.Time) *sqlmock.Rows {
	t.Helper()
	encoded, err := json.Marshal(attempts)
	require.NoError(t, err)
	if attempts == nil {
		encoded = []byte(`[]`)
	}

	now := time.Now().UTC()
	rows := sqlmock.NewRows([]string{
		"id", "display_name", "enabled", "rate_limit_disabled",
		"attempts", "pass_expires_at", "created_at", "updated_at",
	})

	var expires any
	if passExpiresAt != nil {
		expires = *passExpiresAt
	}
	rows.AddRow(id, "Some One", true, false, encoded, expires, now, now)
	return rows
}

func TestUsersGet(t *testing.T) {
	repo, mock, db := newUsersWithMock(t)
	defer db.Close()

	attempts := []Attempt{{At: time.Now().UTC(), Operation: "unlock"}}
	mock.ExpectQuery(`SELECT .+ FROM door_users WHERE id = \$1`).
		WithArgs("U1").
		WillReturnRows(userRow(t, "U1", attempts, nil))

	user, err := repo.Get(context.Background(), "U1")
	require.NoError(t, err)
	assert.Equal(t, "U1", user.ID)
	assert.True(t, user.Enabled)
	require.Len(t, user.Attempts, 1)
	assert.Equal(t, "unlock", user.Attempts[0].Operation)
	assert.Nil(t, user.PassExpiresAt)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUsersGetNotFound(t *testing.T) {
	repo, mock, db := newUsersWithMock(t)
	defer db.Close()

	mock.ExpectQuery(`SELECT .+ FROM door_users WHERE id = \$1`).
		WithArgs("ghost").
		WillReturnError(sql.ErrNoRows)

	_, err := repo.Get(context.Background(), "ghost")
	assert.ErrorIs(t, err, ErrNotFound)
}

// attemptsArg matches the JSON attempts column by decoded length and the
// operation of the newest entry.
type attemptsArg struct {
	length int
	newest string
}

func (a attemptsArg) Match(value driver.Value) bool {
	raw, ok := value.([]byte)
	if !ok {
		if s, isString := value.(string); isString {
			raw = []byte(s)
		} else {
			return false
		}
	}
	var attempts []Attempt
	if err := json.Unmarshal(raw, &attempts); err != nil {
		return false
	}
	return len(attempts) == a.length && attempts[0].Operation == a.newest
}

func TestUsersRecordAttemptTruncates(t *testing.T) {
	repo, mock, db := newUsersWithMock(t)
	defer db.Close()

	now := time.Now().UTC()
	existing, err := json.Marshal([]Attempt{
		{At: now.Add(-10 * time.Second), Operation: "status"},
		{At: now.Add(-20 * time.Second), Operation: "unlock"},
	})
	require.NoError(t, err)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT attempts FROM door_users WHERE id = \$1 FOR UPDATE`).
		WithArgs("U1").
		WillReturnRows(sqlmock.NewRows([]string{"attempts"}).AddRow(existing))
	mock.ExpectExec(`UPDATE door_users SET attempts = \$2`).
		WithArgs("U1", attemptsArg{length: 2, newest: "checkout"}, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	attempt := Attempt{At: now, Operation: "checkout"}
	require.NoError(t, repo.RecordAttempt(context.Background(), "U1", attempt, 2))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUsersRecordAttemptUnknownUser(t *testing.T) {
	repo, mock, db := newUsersWithMock(t)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT attempts FROM door_users WHERE id = \$1 FOR UPDATE`).
		WithArgs("ghost").
		WillReturnError(sql.ErrNoRows)
	mock.ExpectRollback()

	err := repo.RecordAttempt(context.Background(), "ghost", Attempt{At: time.Now()}, 5)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUsersGrantPass(t *testing.T) {
	repo, mock, db := newUsersWithMock(t)
	defer db.Close()

	mock.ExpectExec(`UPDATE door_users SET pass_expires_at = \$2`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	now := time.Now().UTC()
	err := repo.GrantPass(context.Background(), "U1", now.Add(24*time.Hour), 5, now)
	require.NoError(t, err)
}

func TestUsersGrantPassGuardFails(t *testing.T) {
	repo, mock, db := newUsersWithMock(t)
	defer db.Close()

	mock.ExpectExec(`UPDATE door_users SET pass_expires_at = \$2`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	now := time.Now().UTC()
	err := repo.GrantPass(context.Background(), "U1", now.Add(24*time.Hour), 5, now)
	assert.ErrorIs(t, err, ErrConditionFailed)
}

func TestUsersCountActivePasses(t *testing.T) {
	repo, mock, db := newUsersWithMock(t)
	defer db.Close()

	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM door_users WHERE pass_expires_at > \$1`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(3))

	count, err := repo.CountActivePasses(context.Background(), time.Now().UTC())
	require.NoError(t, err)
	assert.Equal(t, 3, count)
}

func TestUsersScan(t *testing.T) {
	repo, mock, db := newUsersWithMock(t)
	defer db.Close()

	expires := time.Now().UTC().Add(time.Hour)
	rows := userRow(t, "U1", nil, &expires)
	mock.ExpectQuery(`SELECT .+ FROM door_users ORDER BY created_at ASC`).
		WillReturnRows(rows)

	users, err := repo.Scan(context.Background())
	require.NoError(t, err)
	require.Len(t, users, 1)
	require.NotNil(t, users[0].PassExpiresAt)
}

func TestUsersSetEnabledNotFound(t *testing.T) {
	repo, mock, db := newUsersWithMock(t)
	defer db.Close()

	mock.ExpectExec(`UPDATE door_users SET enabled = \$2`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.SetEnabled(context.Background(), "ghost", true)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUsersRecordAttemptCommitError(t *testing.T) {
	repo, mock, db := newUsersWithMock(t)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT attempts FROM door_users WHERE id = \$1 FOR UPDATE`).
		WithArgs("U1").
		WillReturnRows(sqlmock.NewRows([]string{"attempts"}).AddRow([]byte(`[]`)))
	mock.ExpectExec(`UPDATE door_users SET attempts = \$2`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit().WillReturnError(errors.New("connection reset"))

	err := repo.RecordAttempt(context.Background(), "U1", Attempt{At: time.Now()}, 5)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "commit attempt tx")
}
