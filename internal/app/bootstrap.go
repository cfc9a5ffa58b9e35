// Package app builds the shared runtime used by both the serverless entry
// and the long-running server.
package app

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"speakeasy-serverless/internal/admin"
	"speakeasy-serverless/internal/db"
	"speakeasy-serverless/internal/lockapi"
	"speakeasy-serverless/internal/maintenance"
	"speakeasy-serverless/internal/observability"
	"speakeasy-serverless/internal/pipeline"
	"speakeasy-serverless/internal/relay"
	"speakeasy-serverless/internal/store"
	"speakeasy-serverless/internal/webhook"
)

type Options struct {
	LoadDotEnv    bool
	RunMigrations bool
}

type Runtime struct {
	Handler http.Handler
	Close   func() error
}

func Build(options Options) (*Runtime, error) {
	if options.LoadDotEnv {
		_ = godotenv.Load()
	}

	logger := observability.NewLogger()

	databaseURL, err := mustEnv("DATABASE_URL")
	if err != nil {
		return nil, err
	}
	jwtSecret, err := mustEnv("JWT_SECRET")
	if err != nil {
		return nil, err
	}
	lockAPIURL, err := mustEnv("LOCK_API_URL")
	if err != nil {
		return nil, err
	}
	catalog, err := catalogFromEnv()
	if err != nil {
		return nil, err
	}

	if err := observability.InitSentry(os.Getenv("SENTRY_DSN"), envOrDefault("APP_ENV", "development")); err != nil {
		logger.Error("init_sentry_failed", map[string]any{"error": err.Error()})
	}

	database, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	database.SetMaxOpenConns(envIntOrDefault("DB_MAX_OPEN_CONNS", 10))
	database.SetMaxIdleConns(envIntOrDefault("DB_MAX_IDLE_CONNS", 5))
	database.SetConnMaxLifetime(envMinutesOrDefault("DB_CONN_MAX_LIFETIME_MINUTES", 30))
	database.SetConnMaxIdleTime(envMinutesOrDefault("DB_CONN_MAX_IDLE_TIME_MINUTES", 10))

	if err := database.Ping(); err != nil {
		_ = database.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if options.RunMigrations {
		if err := db.RunMigrations(database); err != nil {
			_ = database.Close()
			return nil, fmt.Errorf("run migrations: %w", err)
		}
	}

	settings := store.NewSettings(database)
	users := store.NewUsers(database)

	lockClient, err := lockapi.New(lockAPIURL, envSecondsOrDefault("LOCK_API_TIMEOUT_SECONDS", 10))
	if err != nil {
		_ = database.Close()
		return nil, fmt.Errorf("init lock api client: %w", err)
	}

	responder := relay.New(envSecondsOrDefault("CALLBACK_TIMEOUT_SECONDS", 5))

	pipe := pipeline.New(settings, users, lockClient, responder, logger, pipeline.Config{
		Catalog: catalog,
		RateLimit: pipeline.RateLimitConfig{
			Policy:       pipeline.Policy(envOrDefault("RATE_LIMIT_POLICY", string(pipeline.PolicyWindow))),
			Window:       envSecondsOrDefault("RATE_LIMIT_WINDOW_SECONDS", 60),
			MaxPerWindow: envIntOrDefault("RATE_LIMIT_MAX", 3),
		},
		AttemptHistory: envIntOrDefault("ATTEMPT_HISTORY_LIMIT", 5),
		PassesEnabled:  EnvBoolOrDefault("PASSES_ENABLED", true),
		PassCapacity:   envIntOrDefault("PASS_CAPACITY", 5),
		PassDuration:   envHoursOrDefault("PASS_HOURS", 24),
		UnlockStagger:  envSecondsOrDefault("UNLOCK_STAGGER_SECONDS", 10),
	})

	commandHandler := webhook.NewHandler(pipe, logger, envSecondsOrDefault("PIPELINE_DEADLINE_SECONDS", 60))

	adminRepo := admin.NewRepository(database)
	adminService := admin.NewService(adminRepo, jwtSecret).
		WithAccessTTL(envMinutesOrDefault("ACCESS_TOKEN_TTL_MINUTES", 15))
	adminHandler := admin.NewHandler(adminService, users, settings)

	if err := adminService.BootstrapFromEnv(context.Background(), os.Getenv("ADMIN_USERNAME"), os.Getenv("ADMIN_PASSWORD")); err != nil {
		_ = database.Close()
		return nil, fmt.Errorf("bootstrap admin: %w", err)
	}

	loginLimiter := admin.NewLoginRateLimiter(
		envIntOrDefault("ADMIN_LOGIN_RATE_LIMIT_MAX", 10),
		envSecondsOrDefault("ADMIN_LOGIN_RATE_LIMIT_WINDOW_SECONDS", 60),
	)

	cleanupHandler := maintenance.NewCleanupHandler(
		users,
		logger,
		os.Getenv("CRON_SECRET"),
		envDaysOrDefault("ATTEMPT_RETENTION_DAYS", 30),
		envIntOrDefault("CLEANUP_BATCH_SIZE", 500),
	)

	mux := http.NewServeMux()
	mux.HandleFunc("POST /commands/speakeasy", commandHandler.Command)
	mux.HandleFunc("GET /internal/maintenance/cleanup", cleanupHandler.Handle)
	mux.HandleFunc("POST /internal/maintenance/cleanup", cleanupHandler.Handle)
	mux.HandleFunc("GET /health", healthHandler(database))
	mux.Handle("POST /admin/login", loginLimiter.Middleware(http.HandlerFunc(adminHandler.Login)))
	mux.Handle("GET /admin/users", admin.Middleware(jwtSecret, http.HandlerFunc(adminHandler.ListUsers)))
	mux.Handle("POST /admin/users", admin.Middleware(jwtSecret, http.HandlerFunc(adminHandler.CreateUser)))
	mux.Handle("PUT /admin/users/{id}/enabled", admin.Middleware(jwtSecret, http.HandlerFunc(adminHandler.SetEnabled)))
	mux.Handle("PUT /admin/users/{id}/rate-limit-disabled", admin.Middleware(jwtSecret, http.HandlerFunc(adminHandler.SetRateLimitDisabled)))
	mux.Handle("PUT /admin/settings/slash-token", admin.Middleware(jwtSecret, http.HandlerFunc(adminHandler.SetSlashToken)))
	mux.Handle("PUT /admin/settings/lock-credentials", admin.Middleware(jwtSecret, http.HandlerFunc(adminHandler.SetCredentialPool)))

	handler := observability.RecoverMiddleware(logger, observability.RequestLoggingMiddleware(logger, mux))

	return &Runtime{
		Handler: handler,
		Close: func() error {
			observability.FlushSentry()
			return database.Close()
		},
	}, nil
}

type catalogDoor struct {
	Name   string `json:"name"`
	Key    string `json:"key"`
	LockID string `json:"lock_id"`
}

// catalogFromEnv parses the static door catalog. DOOR_CATALOG is a JSON
// array ordered the way status output should read; COMPOUND_KEY (optional)
// names the shorthand that unlocks COMPOUND_PAIR ("outer,inner") in order.
func catalogFromEnv() (pipeline.Catalog, error) {
	raw, err := mustEnv("DOOR_CATALOG")
	if err != nil {
		return pipeline.Catalog{}, err
	}

	var doors []catalogDoor
	if err := json.Unmarshal([]byte(raw), &doors); err != nil {
		return pipeline.Catalog{}, fmt.Errorf("parse DOOR_CATALOG: %w", err)
	}
	if len(doors) == 0 {
		return pipeline.Catalog{}, fmt.Errorf("DOOR_CATALOG must not be empty")
	}

	catalog := pipeline.Catalog{}
	seen := make(map[string]bool, len(doors))
	for _, door := range doors {
		if door.Name == "" || door.Key == "" || door.LockID == "" {
			return pipeline.Catalog{}, fmt.Errorf("DOOR_CATALOG entries need name, key and lock_id")
		}
		if seen[door.Key] {
			return pipeline.Catalog{}, fmt.Errorf("DOOR_CATALOG has duplicate key %q", door.Key)
		}
		seen[door.Key] = true
		catalog.Doors = append(catalog.Doors, pipeline.Door{
			DisplayName: door.Name,
			ShortKey:    door.Key,
			LockID:      door.LockID,
		})
	}

	compoundKey := strings.TrimSpace(os.Getenv("COMPOUND_KEY"))
	if compoundKey == "" {
		return catalog, nil
	}
	if seen[compoundKey] {
		return pipeline.Catalog{}, fmt.Errorf("COMPOUND_KEY %q collides with a door key", compoundKey)
	}

	pair := strings.Split(strings.TrimSpace(os.Getenv("COMPOUND_PAIR")), ",")
	if len(pair) != 2 || !seen[strings.TrimSpace(pair[0])] || !seen[strings.TrimSpace(pair[1])] {
		return pipeline.Catalog{}, fmt.Errorf("COMPOUND_PAIR must name two catalog keys, outer first")
	}

	catalog.CompoundKey = compoundKey
	catalog.CompoundPair = [2]string{strings.TrimSpace(pair[0]), strings.TrimSpace(pair[1])}
	return catalog, nil
}

func healthHandler(database *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		status := http.StatusOK
		body := map[string]any{"status": "ok", "time": time.Now().UTC().Format(time.RFC3339)}
		if err := database.PingContext(ctx); err != nil {
			status = http.StatusServiceUnavailable
			body = map[string]any{"status": "degraded", "time": time.Now().UTC().Format(time.RFC3339)}
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(body)
	}
}

func mustEnv(name string) (string, error) {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return "", fmt.Errorf("missing required env: %s", name)
	}
	return value, nil
}

func envOrDefault(name, fallback string) string {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return fallback
	}
	return value
}

func envIntOrDefault(name string, fallback int) int {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil || parsed <= 0 {
		return fallback
	}
	return parsed
}

func envMinutesOrDefault(name string, fallback int) time.Duration {
	return time.Duration(envIntOrDefault(name, fallback)) * time.Minute
}

func envHoursOrDefault(name string, fallback int) time.Duration {
	return time.Duration(envIntOrDefault(name, fallback)) * time.Hour
}

func envDaysOrDefault(name string, fallback int) time.Duration {
	return time.Duration(envIntOrDefault(name, fallback)) * 24 * time.Hour
}

func envSecondsOrDefault(name string, fallback int) time.Duration {
	return time.Duration(envIntOrDefault(name, fallback)) * time.Second
}

func EnvBoolOrDefault(name string, fallback bool) bool {
	value := strings.TrimSpace(strings.ToLower(os.Getenv(name)))
	if value == "" {
		return fallback
	}

	switch value {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}
