// Package pipeline implements the command-processing core: the ordered
// authorization, rate-limit, and credential-login stages, and the
// per-command dispatch that drives the downstream lock API.
package pipeline

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/getsentry/sentry-go"

	"speakeasy-serverless/internal/lockapi"
	"speakeasy-serverless/internal/observability"
	"speakeasy-serverless/internal/store"
)

// Request is one inbound slash command, already unwrapped from the
// platform's webhook envelope.
type Request struct {
	Text        string
	CallbackURL string
	Token       string
	UserID      string
	RequestID   string
}

// State accumulates what the stages resolve. It is owned by exactly one
// in-flight request and discarded when the run completes.
type State struct {
	req     Request
	args    []string
	command string
	user    store.User
	session lockapi.Session

	// reply is the terminal message; dispatch handlers set it.
	reply string
}

type SettingsStore interface {
	CanonicalToken(ctx context.Context) (string, error)
	CredentialPool(ctx context.Context) ([]store.Credential, error)
}

type UserStore interface {
	Get(ctx context.Context, id string) (store.User, error)
	RecordAttempt(ctx context.Context, id string, attempt store.Attempt, maxLen int) error
	CountActivePasses(ctx context.Context, now time.Time) (int, error)
	GrantPass(ctx context.Context, id string, expiresAt time.Time, capacity int, now time.Time) error
}

type LockAPI interface {
	SignIn(ctx context.Context, username, password string) (lockapi.Session, error)
	Peek(ctx context.Context, lockID string, session lockapi.Session) (string, error)
	Unlock(ctx context.Context, lockID string, session lockapi.Session) (string, error)
}

type Responder interface {
	Post(ctx context.Context, callbackURL, text string) error
}

// Config is injected at construction; nothing here mutates at runtime.
type Config struct {
	Catalog        Catalog
	RateLimit      RateLimitConfig
	AttemptHistory int

	// PassesEnabled gates checkout and the unlock pass check.
	PassesEnabled bool
	PassCapacity  int
	PassDuration  time.Duration

	// UnlockStagger separates the two calls of a compound unlock.
	UnlockStagger time.Duration

	// Now, Sleep and PickIndex are injection points for tests.
	Now       func() time.Time
	Sleep     func(ctx context.Context, d time.Duration)
	PickIndex func(n int) int
}

type Pipeline struct {
	settings  SettingsStore
	users     UserStore
	lock      LockAPI
	responder Responder
	logger    *observability.Logger
	cfg       Config
}

func New(settings SettingsStore, users UserStore, lock LockAPI, responder Responder, logger *observability.Logger, cfg Config) *Pipeline {
	if cfg.AttemptHistory <= 0 {
		cfg.AttemptHistory = 5
	}
	if cfg.PassDuration <= 0 {
		cfg.PassDuration = 24 * time.Hour
	}
	if cfg.UnlockStagger <= 0 {
		cfg.UnlockStagger = 10 * time.Second
	}
	if cfg.Now == nil {
		cfg.Now = func() time.Time { return time.Now().UTC() }
	}
	if cfg.Sleep == nil {
		cfg.Sleep = func(ctx context.Context, d time.Duration) {
			timer := time.NewTimer(d)
			defer timer.Stop()
			select {
			case <-timer.C:
			case <-ctx.Done():
			}
		}
	}
	if cfg.PickIndex == nil {
		cfg.PickIndex = rand.Intn
	}
	cfg.RateLimit = cfg.RateLimit.withDefaults()

	return &Pipeline{
		settings:  settings,
		users:     users,
		lock:      lock,
		responder: responder,
		logger:    logger,
		cfg:       cfg,
	}
}

type stage struct {
	name string
	run  func(ctx context.Context, s *State) *Failure
}

// Run executes the fixed stage sequence, short-circuiting on the first
// failure. Exactly one relay call terminates the request; a compound
// unlock additionally relays its first door's result mid-flight.
func (p *Pipeline) Run(ctx context.Context, req Request) {
	s := &State{req: req, args: strings.Fields(req.Text)}
	if len(s.args) > 0 {
		s.command = s.args[0]
	}

	logger := p.logger.With(map[string]any{
		"request_id": req.RequestID,
		"user_id":    req.UserID,
		"command":    s.command,
	})

	stages := []stage{
		{"authorize", p.authorize},
		{"rate_limit", p.rateLimit},
		{"credential_login", p.credentialLogin},
		{"dispatch", p.dispatch},
	}

	for _, st := range stages {
		if failure := st.run(ctx, s); failure != nil {
			logger.Error("stage_failed", map[string]any{
				"stage": st.name,
				"code":  string(failure.Code),
				"error": failure.Error(),
			})
			if failure.Code == CodeDownstreamError || failure.Code == CodePersistFailure || failure.Code == CodeAuthUnavailable {
				sentry.CaptureException(failure)
			}
			p.respond(ctx, req.CallbackURL, failure.Text)
			return
		}
	}

	logger.Info("command_completed", nil)
	p.respond(ctx, req.CallbackURL, s.reply)
}

func (p *Pipeline) respond(ctx context.Context, callbackURL, text string) {
	if err := p.responder.Post(ctx, callbackURL, text); err != nil {
		p.logger.Error("relay_failed", map[string]any{"error": err.Error()})
		sentry.CaptureException(err)
	}
}

// humanDuration renders a duration the way a person would say it in chat.
func humanDuration(d time.Duration) string {
	if d < 0 {
		d = -d
	}

	switch {
	case d < time.Minute:
		seconds := int(d.Round(time.Second).Seconds())
		if seconds <= 1 {
			return "a second"
		}
		return fmt.Sprintf("%d seconds", seconds)
	case d < time.Hour:
		minutes := int(d.Round(time.Minute).Minutes())
		if minutes <= 1 {
			return "a minute"
		}
		return fmt.Sprintf("%d minutes", minutes)
	default:
		hours := int(d.Round(time.Hour).Hours())
		if hours <= 1 {
			return "an hour"
		}
		return fmt.Sprintf("%d hours", hours)
	}
}
