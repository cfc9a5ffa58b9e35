package pipeline

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"speakeasy-serverless/internal/store"
)

func attempts(ops ...string) []store.Attempt {
	// Most-recent-first, spaced 10s apart inside the window.
	out := make([]store.Attempt, 0, len(ops))
	for i, op := range ops {
		out = append(out, store.Attempt{
			At:        testNow.Add(-time.Duration(i+1) * 10 * time.Second),
			Operation: op,
		})
	}
	return out
}

func TestWindowPolicyBlocksAtLimit(t *testing.T) {
	f := newFixture()
	f.users.user.Attempts = attempts("unlock", "open", "unlock")

	f.pipeline(nil).Run(context.Background(), request("unlock front"))

	posts := f.responder.sent()
	require.Len(t, posts, 1)
	assert.Contains(t, posts[0], "Easy there")
	// The blocked attempt itself is never recorded.
	assert.Empty(t, f.users.recorded)
	assert.Empty(t, f.lock.recorded())
}

func TestWindowPolicyWaitHintUsesOldestAttempt(t *testing.T) {
	f := newFixture()
	// Oldest qualifying attempt is 30s old; window is 60s, so the wait
	// hint should read 30 seconds.
	f.users.user.Attempts = attempts("unlock", "open", "unlock")

	f.pipeline(nil).Run(context.Background(), request("unlock front"))

	posts := f.responder.sent()
	require.Len(t, posts, 1)
	assert.Contains(t, posts[0], "30 seconds")
}

func TestWindowPolicyIgnoresUnlimitedOps(t *testing.T) {
	f := newFixture()
	f.users.user.Attempts = attempts("status", "status", "status", "status")

	f.pipeline(nil).Run(context.Background(), request("unlock front"))

	posts := f.responder.sent()
	require.Len(t, posts, 1)
	assert.Equal(t, "Front door: unlocked", posts[0])
}

func TestWindowPolicyDoesNotLimitStatus(t *testing.T) {
	f := newFixture()
	f.users.user.Attempts = attempts("unlock", "unlock", "unlock")

	f.pipeline(nil).Run(context.Background(), request("status"))

	posts := f.responder.sent()
	require.Len(t, posts, 1)
	assert.NotContains(t, posts[0], "Easy there")
	// status still records its attempt.
	require.Len(t, f.users.recorded, 1)
	assert.Equal(t, "status", f.users.recorded[0].Operation)
}

func TestWindowPolicyExpiredAttemptsDoNotCount(t *testing.T) {
	f := newFixture()
	f.users.user.Attempts = []store.Attempt{
		{At: testNow.Add(-2 * time.Minute), Operation: "unlock"},
		{At: testNow.Add(-3 * time.Minute), Operation: "unlock"},
		{At: testNow.Add(-4 * time.Minute), Operation: "unlock"},
	}

	f.pipeline(nil).Run(context.Background(), request("unlock front"))

	posts := f.responder.sent()
	require.Len(t, posts, 1)
	assert.Equal(t, "Front door: unlocked", posts[0])
	require.Len(t, f.users.recorded, 1)
}

func TestCooldownPolicyBlocksAnyOperation(t *testing.T) {
	f := newFixture()
	f.users.user.Attempts = []store.Attempt{
		{At: testNow.Add(-20 * time.Second), Operation: "status"},
	}

	p := f.pipeline(func(cfg *Config) {
		cfg.RateLimit.Policy = PolicyCooldown
	})
	p.Run(context.Background(), request("status"))

	posts := f.responder.sent()
	require.Len(t, posts, 1)
	assert.Contains(t, posts[0], "Try again in 40 seconds")
	assert.Empty(t, f.users.recorded)
}

func TestCooldownPolicyAllowsAfterWindow(t *testing.T) {
	f := newFixture()
	f.users.user.Attempts = []store.Attempt{
		{At: testNow.Add(-61 * time.Second), Operation: "unlock"},
	}

	p := f.pipeline(func(cfg *Config) {
		cfg.RateLimit.Policy = PolicyCooldown
	})
	p.Run(context.Background(), request("unlock front"))

	posts := f.responder.sent()
	require.Len(t, posts, 1)
	assert.Equal(t, "Front door: unlocked", posts[0])
	require.Len(t, f.users.recorded, 1)
}

func TestExemptUserSkipsCheckButStillRecords(t *testing.T) {
	f := newFixture()
	f.users.user.RateLimitDisabled = true
	f.users.user.Attempts = attempts("unlock", "unlock", "unlock")

	f.pipeline(nil).Run(context.Background(), request("unlock front"))

	posts := f.responder.sent()
	require.Len(t, posts, 1)
	assert.Equal(t, "Front door: unlocked", posts[0])
	require.Len(t, f.users.recorded, 1)
}

func TestRecordFailureAbortsPipeline(t *testing.T) {
	f := newFixture()
	f.users.recordErr = fmt.Errorf("connection reset")

	f.pipeline(nil).Run(context.Background(), request("unlock front"))

	posts := f.responder.sent()
	require.Len(t, posts, 1)
	assert.Contains(t, posts[0], "couldn't save that attempt")
	// Persistence is mandatory: no lock API traffic after a failed write.
	assert.Empty(t, f.lock.recorded())
}
