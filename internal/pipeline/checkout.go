package pipeline

import (
	"context"
	"errors"
	"fmt"

	"speakeasy-serverless/internal/store"
)

// handleCheckout issues a pass valid for the configured duration, as long
// as capacity allows. The count and the grant are not one atomic step; the
// guarded write narrows that race and a residual over-issue under
// concurrent checkouts is accepted.
func (p *Pipeline) handleCheckout(ctx context.Context, s *State) *Failure {
	now := p.cfg.Now()

	count, err := p.users.CountActivePasses(ctx, now)
	if err != nil {
		return fail(CodeDownstreamError,
			"I couldn't check pass usage. Try again in a bit.", err)
	}
	if count >= p.cfg.PassCapacity {
		return capacityExceeded(p.cfg.PassCapacity)
	}

	expiresAt := now.Add(p.cfg.PassDuration)
	if err := p.users.GrantPass(ctx, s.user.ID, expiresAt, p.cfg.PassCapacity, now); err != nil {
		if errors.Is(err, store.ErrConditionFailed) {
			return capacityExceeded(p.cfg.PassCapacity)
		}
		return fail(CodePersistFailure,
			"I couldn't save your pass, so nothing was issued. Try again.", err)
	}

	s.reply = fmt.Sprintf("You're checked out. Your pass is good for %s.",
		humanDuration(p.cfg.PassDuration))
	return nil
}

func capacityExceeded(capacity int) *Failure {
	return fail(CodeCapacityExceeded,
		fmt.Sprintf("All %d passes are taken right now. Try again later.", capacity), nil)
}
