package webhook

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"speakeasy-serverless/internal/observability"
	"speakeasy-serverless/internal/pipeline"
)

type recordingRunner struct {
	mu   sync.Mutex
	reqs []pipeline.Request
	done chan struct{}
}

func newRecordingRunner() *recordingRunner {
	return &recordingRunner{done: make(chan struct{}, 1)}
}

func (r *recordingRunner) Run(_ context.Context, req pipeline.Request) {
	r.mu.Lock()
	r.reqs = append(r.reqs, req)
	r.mu.Unlock()
	r.done <- struct{}{}
}

func (r *recordingRunner) requests() []pipeline.Request {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]pipeline.Request(nil), r.reqs...)
}

func postCommand(t *testing.T, h *Handler, form url.Values) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/commands/speakeasy", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	recorder := httptest.NewRecorder()
	h.Command(recorder, req)
	return recorder
}

func TestHelpBypassesPipeline(t *testing.T) {
	runner := newRecordingRunner()
	h := NewHandler(runner, observability.NewLogger(), time.Minute)

	// No token at all: help must still answer.
	rec := postCommand(t, h, url.Values{"text": {"help"}})

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "doorkeeper")
	assert.Empty(t, runner.requests())
}

func TestEmptyCommandGetsHelp(t *testing.T) {
	runner := newRecordingRunner()
	h := NewHandler(runner, observability.NewLogger(), time.Minute)

	rec := postCommand(t, h, url.Values{"text": {"   "}})

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "doorkeeper")
	assert.Empty(t, runner.requests())
}

func TestCommandIsAckedAndHandedOff(t *testing.T) {
	runner := newRecordingRunner()
	h := NewHandler(runner, observability.NewLogger(), time.Minute)

	rec := postCommand(t, h, url.Values{
		"text":         {"unlock front"},
		"token":        {"hush"},
		"user_id":      {"U1"},
		"response_url": {"https://callback.test/r1"},
	})

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "On it")

	select {
	case <-runner.done:
	case <-time.After(time.Second):
		t.Fatal("pipeline never ran")
	}

	reqs := runner.requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, "unlock front", reqs[0].Text)
	assert.Equal(t, "hush", reqs[0].Token)
	assert.Equal(t, "U1", reqs[0].UserID)
	assert.Equal(t, "https://callback.test/r1", reqs[0].CallbackURL)
	assert.NotEmpty(t, reqs[0].RequestID)
}

func TestMissingCallbackRejected(t *testing.T) {
	runner := newRecordingRunner()
	h := NewHandler(runner, observability.NewLogger(), time.Minute)

	rec := postCommand(t, h, url.Values{
		"text":    {"status"},
		"token":   {"hush"},
		"user_id": {"U1"},
	})

	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, runner.requests())
}
