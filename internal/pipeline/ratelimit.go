package pipeline

import (
	"context"
	"fmt"
	"time"

	"speakeasy-serverless/internal/store"
)

// Policy selects how a user's recent attempts are judged. The two modes
// are deliberately distinct deployments, never mixed.
type Policy string

const (
	// PolicyWindow counts qualifying operations inside a sliding window.
	PolicyWindow Policy = "window"
	// PolicyCooldown blocks everything until the window has elapsed since
	// the most recent attempt of any kind.
	PolicyCooldown Policy = "cooldown"
)

type RateLimitConfig struct {
	Policy       Policy
	Window       time.Duration
	MaxPerWindow int

	// LimitedOps is the allow-list of operations the window policy counts.
	// Irrelevant under cooldown.
	LimitedOps []string
}

func (c RateLimitConfig) withDefaults() RateLimitConfig {
	if c.Policy == "" {
		c.Policy = PolicyWindow
	}
	if c.Window <= 0 {
		c.Window = time.Minute
	}
	if c.MaxPerWindow <= 0 {
		c.MaxPerWindow = 3
	}
	if len(c.LimitedOps) == 0 {
		c.LimitedOps = []string{"unlock", "open", "checkout"}
	}
	return c
}

func (c RateLimitConfig) limited(op string) bool {
	for _, name := range c.LimitedOps {
		if name == op {
			return true
		}
	}
	return false
}

// rateLimit blocks over-eager users, then records the attempt. A blocked
// request records nothing. Recording is mandatory: if the write fails the
// pipeline aborts and the attempt is treated as never having happened.
func (p *Pipeline) rateLimit(ctx context.Context, s *State) *Failure {
	now := p.cfg.Now()

	if !s.user.RateLimitDisabled {
		if wait, blocked := p.checkRateLimit(s, now); blocked {
			return fail(CodeRateLimited,
				fmt.Sprintf("Easy there. Try again in %s.", humanDuration(wait)), nil)
		}
	}

	attempt := store.Attempt{At: now, Operation: s.command}
	if err := p.users.RecordAttempt(ctx, s.user.ID, attempt, p.cfg.AttemptHistory); err != nil {
		return fail(CodePersistFailure,
			"I couldn't save that attempt, so I stopped. Try again.", err)
	}

	return nil
}

func (p *Pipeline) checkRateLimit(s *State, now time.Time) (time.Duration, bool) {
	cfg := p.cfg.RateLimit

	switch cfg.Policy {
	case PolicyCooldown:
		if len(s.user.Attempts) == 0 {
			return 0, false
		}
		elapsed := now.Sub(s.user.Attempts[0].At)
		if elapsed >= cfg.Window {
			return 0, false
		}
		return cfg.Window - elapsed, true

	default: // PolicyWindow
		if !cfg.limited(s.command) {
			return 0, false
		}
		threshold := now.Add(-cfg.Window)
		count := 0
		oldest := now
		for _, attempt := range s.user.Attempts {
			if !cfg.limited(attempt.Operation) || !attempt.At.After(threshold) {
				continue
			}
			count++
			if attempt.At.Before(oldest) {
				oldest = attempt.At
			}
		}
		if count < cfg.MaxPerWindow {
			return 0, false
		}
		wait := oldest.Add(cfg.Window).Sub(now)
		if wait < time.Second {
			wait = time.Second
		}
		return wait, true
	}
}
