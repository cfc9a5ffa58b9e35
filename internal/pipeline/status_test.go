package pipeline

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusPreservesCatalogOrder(t *testing.T) {
	f := newFixture()
	// The first door answers last; output order must not change.
	f.lock.peekDelays = map[string]time.Duration{"lock-front": 30 * time.Millisecond}
	f.lock.peekMessages = map[string]string{
		"lock-front": "locked tight",
		"lock-back":  "ajar",
	}

	f.pipeline(nil).Run(context.Background(), request("status"))

	posts := f.responder.sent()
	require.Len(t, posts, 1)
	lines := strings.Split(posts[0], "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, "Front door: locked tight", lines[0])
	assert.Equal(t, "Back door: ajar", lines[1])
}

func TestStatusDegradesPerDoor(t *testing.T) {
	f := newFixture()
	f.lock.peekErrs = map[string]error{"lock-front": fmt.Errorf("timeout")}
	f.lock.peekMessages = map[string]string{"lock-back": "locked"}

	f.pipeline(nil).Run(context.Background(), request("status"))

	posts := f.responder.sent()
	require.Len(t, posts, 1)
	lines := strings.Split(posts[0], "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "no answer from the controller")
	assert.Equal(t, "Back door: locked", lines[1])
}

func TestStatusIncludesPassSummary(t *testing.T) {
	f := newFixture()
	f.users.activeCount = 1
	active := testNow.Add(3 * time.Hour)
	f.users.user.PassExpiresAt = &active

	f.pipeline(passConfig).Run(context.Background(), request("status"))

	posts := f.responder.sent()
	require.Len(t, posts, 1)
	assert.Contains(t, posts[0], "Passes in use: 1 of 2")
	assert.Contains(t, posts[0], "good for another 3 hours")
}

func TestStatusPassSummaryNeverCheckedOut(t *testing.T) {
	f := newFixture()

	f.pipeline(passConfig).Run(context.Background(), request("status"))

	posts := f.responder.sent()
	require.Len(t, posts, 1)
	assert.Contains(t, posts[0], "haven't checked out a pass")
}

func TestStatusPassCountFailureDegrades(t *testing.T) {
	f := newFixture()
	f.users.countErr = fmt.Errorf("connection reset")

	f.pipeline(passConfig).Run(context.Background(), request("status"))

	posts := f.responder.sent()
	require.Len(t, posts, 1)
	assert.Contains(t, posts[0], "pass usage is unavailable")
	// Door lines still present.
	assert.Contains(t, posts[0], "Front door")
}

func TestResolveCompoundKey(t *testing.T) {
	catalog := testCatalog()

	doors, ok := catalog.Resolve("bw")
	require.True(t, ok)
	require.Len(t, doors, 2)
	assert.Equal(t, "front", doors[0].ShortKey)
	assert.Equal(t, "back", doors[1].ShortKey)

	_, ok = catalog.Resolve("nope")
	assert.False(t, ok)
}
