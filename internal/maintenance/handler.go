// Package maintenance hosts the scheduled-cleanup endpoint invoked by the
// platform's cron trigger.
package maintenance

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"speakeasy-serverless/internal/observability"
	"speakeasy-serverless/internal/store"
)

type CleanupHandler struct {
	users            *store.Users
	logger           *observability.Logger
	cronSecret       string
	attemptRetention time.Duration
	batchSize        int
}

func NewCleanupHandler(users *store.Users, logger *observability.Logger, cronSecret string, attemptRetention time.Duration, batchSize int) *CleanupHandler {
	if attemptRetention <= 0 {
		attemptRetention = 30 * 24 * time.Hour
	}
	return &CleanupHandler{
		users:            users,
		logger:           logger,
		cronSecret:       strings.TrimSpace(cronSecret),
		attemptRetention: attemptRetention,
		batchSize:        batchSize,
	}
}

// Handle prunes stale attempt history. Without a configured secret the
// endpoint does not exist.
func (h *CleanupHandler) Handle(w http.ResponseWriter, r *http.Request) {
	if h.cronSecret == "" {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
		return
	}

	if r.Method != http.MethodGet && r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	authHeader := strings.TrimSpace(r.Header.Get("Authorization"))
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || strings.TrimSpace(parts[1]) != h.cronSecret {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		return
	}

	cutoff := time.Now().UTC().Add(-h.attemptRetention)
	pruned, err := h.users.PruneAttempts(r.Context(), cutoff, h.batchSize)
	if err != nil {
		h.logger.Error("attempt_cleanup_failed", map[string]any{"error": err.Error()})
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "cleanup failed"})
		return
	}

	h.logger.Info("attempt_cleanup_completed", map[string]any{
		"pruned_users": pruned,
	})

	writeJSON(w, http.StatusOK, map[string]any{
		"status":       "ok",
		"pruned_users": pruned,
	})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
