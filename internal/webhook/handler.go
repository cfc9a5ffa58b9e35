// Package webhook receives the messaging platform's slash-command posts.
// It must answer inside the platform's synchronous window, so real work is
// handed to the pipeline and the result arrives via the callback URL.
package webhook

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"speakeasy-serverless/internal/observability"
	"speakeasy-serverless/internal/pipeline"
)

const maxFormBodyBytes = 64 << 10

const helpText = "I'm the speakeasy doorkeeper. Commands:\n" +
	"`/speakeasy status` — how every door is doing\n" +
	"`/speakeasy checkout` — grab a 24h access pass\n" +
	"`/speakeasy unlock <door>` — open a door (or `open`)\n" +
	"`/speakeasy help` — this message"

type Runner interface {
	Run(ctx context.Context, req pipeline.Request)
}

type Handler struct {
	runner   Runner
	logger   *observability.Logger
	deadline time.Duration
}

func NewHandler(runner Runner, logger *observability.Logger, deadline time.Duration) *Handler {
	if deadline <= 0 {
		deadline = time.Minute
	}
	return &Handler{runner: runner, logger: logger, deadline: deadline}
}

// Command answers the platform webhook. help (and an empty command) is
// served right here, before authorization and without touching the store,
// so it keeps working when everything else is down.
func (h *Handler) Command(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxFormBodyBytes)

	if err := r.ParseForm(); err != nil {
		writeError(w, http.StatusBadRequest, "invalid form body")
		return
	}

	text := strings.TrimSpace(r.PostFormValue("text"))
	command, _, _ := strings.Cut(text, " ")
	if command == "" || command == "help" {
		writeEphemeral(w, helpText)
		return
	}

	req := pipeline.Request{
		Text:        text,
		CallbackURL: strings.TrimSpace(r.PostFormValue("response_url")),
		Token:       strings.TrimSpace(r.PostFormValue("token")),
		UserID:      strings.TrimSpace(r.PostFormValue("user_id")),
		RequestID:   newRequestID(),
	}
	if req.CallbackURL == "" || req.UserID == "" {
		writeError(w, http.StatusBadRequest, "missing response_url or user_id")
		return
	}

	h.logger.Info("command_accepted", map[string]any{
		"user_id":    req.UserID,
		"command":    command,
		"request_id": req.RequestID,
	})

	// Detached from the request context: the ack below must not wait for
	// the pipeline, and the pipeline must outlive the webhook response.
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), h.deadline)
		defer cancel()
		h.runner.Run(ctx, req)
	}()

	writeEphemeral(w, "On it. Results land here in a moment.")
}

func newRequestID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return "unknown"
	}
	return id.String()
}

func writeEphemeral(w http.ResponseWriter, text string) {
	writeJSON(w, http.StatusOK, map[string]string{
		"response_type": "ephemeral",
		"text":          text,
	})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
