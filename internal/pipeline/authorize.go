package pipeline

import (
	"context"
	"crypto/subtle"
	"errors"

	"speakeasy-serverless/internal/store"
)

// authorize verifies the platform token against the canonical one and
// resolves the calling user. Two store reads, no writes.
func (p *Pipeline) authorize(ctx context.Context, s *State) *Failure {
	canonical, err := p.settings.CanonicalToken(ctx)
	if err != nil {
		return fail(CodeAuthUnavailable,
			"Sorry, I can't verify commands right now. Try again in a bit.", err)
	}

	if subtle.ConstantTimeCompare([]byte(canonical), []byte(s.req.Token)) != 1 {
		return fail(CodeAuthMismatch,
			"That didn't come from where I expected, so I'm ignoring it.", nil)
	}

	user, err := p.users.Get(ctx, s.req.UserID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return fail(CodeUserNotFound,
				"I don't know you yet. Ask an admin to add you to the door list.", err)
		}
		return fail(CodeAuthUnavailable,
			"Sorry, I can't verify commands right now. Try again in a bit.", err)
	}

	if !user.Enabled {
		return fail(CodeFeatureDisabled,
			"Your door access is switched off. Ask an admin to enable it.", nil)
	}

	s.user = user
	return nil
}
