package admin

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/getsentry/sentry-go"

	"speakeasy-serverless/internal/store"
)

var usernameRegex = regexp.MustCompile(`^[a-z0-9_.-]{3,32}$`)

const maxJSONBodyBytes = 1 << 20

// Handler serves the admin console API: login plus management of the door
// user directory, the canonical slash token, and the lock credential pool.
type Handler struct {
	service  *Service
	users    *store.Users
	settings *store.Settings
}

func NewHandler(service *Service, users *store.Users, settings *store.Settings) *Handler {
	return &Handler{service: service, users: users, settings: settings}
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBodyBytes)

	var body loginRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}

	body.Username = strings.TrimSpace(body.Username)
	body.Password = strings.TrimSpace(body.Password)
	if !usernameRegex.MatchString(strings.ToLower(body.Username)) {
		writeError(w, http.StatusBadRequest, "username format is invalid")
		return
	}
	if len(body.Password) < 12 || len(body.Password) > 200 {
		writeError(w, http.StatusBadRequest, "password format is invalid")
		return
	}

	token, err := h.service.Login(r.Context(), body.Username, body.Password)
	if err != nil {
		if errors.Is(err, ErrInvalidCredentials) {
			writeError(w, http.StatusUnauthorized, "invalid credentials")
			return
		}
		sentry.CaptureException(err)
		writeError(w, http.StatusInternalServerError, "failed to login")
		return
	}

	writeJSON(w, http.StatusOK, token)
}

type userView struct {
	ID                string     `json:"id"`
	DisplayName       string     `json:"display_name"`
	Enabled           bool       `json:"enabled"`
	RateLimitDisabled bool       `json:"rate_limit_disabled"`
	PassExpiresAt     *time.Time `json:"pass_expires_at,omitempty"`
}

func (h *Handler) ListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.users.Scan(r.Context())
	if err != nil {
		sentry.CaptureException(err)
		writeError(w, http.StatusInternalServerError, "failed to list users")
		return
	}

	views := make([]userView, 0, len(users))
	for _, user := range users {
		views = append(views, userView{
			ID:                user.ID,
			DisplayName:       user.DisplayName,
			Enabled:           user.Enabled,
			RateLimitDisabled: user.RateLimitDisabled,
			PassExpiresAt:     user.PassExpiresAt,
		})
	}

	writeJSON(w, http.StatusOK, views)
}

type createUserRequest struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	Enabled     bool   `json:"enabled"`
}

func (h *Handler) CreateUser(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBodyBytes)

	var body createUserRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}

	body.ID = strings.TrimSpace(body.ID)
	body.DisplayName = strings.TrimSpace(body.DisplayName)
	if body.ID == "" {
		writeError(w, http.StatusBadRequest, "id is required")
		return
	}

	user, err := h.users.Create(r.Context(), body.ID, body.DisplayName, body.Enabled)
	if err != nil {
		sentry.CaptureException(err)
		writeError(w, http.StatusInternalServerError, "failed to create user")
		return
	}

	writeJSON(w, http.StatusCreated, userView{
		ID:                user.ID,
		DisplayName:       user.DisplayName,
		Enabled:           user.Enabled,
		RateLimitDisabled: user.RateLimitDisabled,
		PassExpiresAt:     user.PassExpiresAt,
	})
}

type flagRequest struct {
	Value bool `json:"value"`
}

func (h *Handler) SetEnabled(w http.ResponseWriter, r *http.Request) {
	h.setUserFlag(w, r, h.users.SetEnabled)
}

func (h *Handler) SetRateLimitDisabled(w http.ResponseWriter, r *http.Request) {
	h.setUserFlag(w, r, h.users.SetRateLimitDisabled)
}

func (h *Handler) setUserFlag(w http.ResponseWriter, r *http.Request, update func(ctx context.Context, id string, value bool) error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBodyBytes)

	id := strings.TrimSpace(r.PathValue("id"))
	if id == "" {
		writeError(w, http.StatusBadRequest, "id is required")
		return
	}

	var body flagRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}

	if err := update(r.Context(), id, body.Value); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "user not found")
			return
		}
		sentry.CaptureException(err)
		writeError(w, http.StatusInternalServerError, "failed to update user")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

type slashTokenRequest struct {
	Token string `json:"token"`
}

func (h *Handler) SetSlashToken(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBodyBytes)

	var body slashTokenRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}

	body.Token = strings.TrimSpace(body.Token)
	if body.Token == "" {
		writeError(w, http.StatusBadRequest, "token is required")
		return
	}

	if err := h.settings.PutCanonicalToken(r.Context(), body.Token); err != nil {
		sentry.CaptureException(err)
		writeError(w, http.StatusInternalServerError, "failed to update slash token")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

type credentialPoolRequest struct {
	Credentials []store.Credential `json:"credentials"`
}

func (h *Handler) SetCredentialPool(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBodyBytes)

	var body credentialPoolRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}

	if len(body.Credentials) == 0 {
		writeError(w, http.StatusBadRequest, "credentials must not be empty")
		return
	}
	for _, cred := range body.Credentials {
		if strings.TrimSpace(cred.Username) == "" || cred.Password == "" {
			writeError(w, http.StatusBadRequest, "every credential needs a username and password")
			return
		}
	}

	if err := h.settings.PutCredentialPool(r.Context(), body.Credentials); err != nil {
		sentry.CaptureException(err)
		writeError(w, http.StatusInternalServerError, "failed to update credential pool")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
