package pipeline

import (
	"context"
	"fmt"
)

// handleUnlock resolves the door key and actuates one door, or the
// designated compound pair with a settling delay in between. Each door of
// a pair is reported as soon as its result is known, and a failure on one
// never cancels the other.
func (p *Pipeline) handleUnlock(ctx context.Context, s *State) *Failure {
	if len(s.args) < 2 {
		return fail(CodeNoArgument,
			"Which door? Try `/speakeasy unlock front`.", nil)
	}

	key := s.args[1]
	doors, ok := p.cfg.Catalog.Resolve(key)
	if !ok {
		return fail(CodeUnknownDoor,
			fmt.Sprintf("I don't know a door called %q.", key), nil)
	}

	if p.cfg.PassesEnabled {
		if failure := p.checkPass(s); failure != nil {
			return failure
		}
	}

	if len(doors) == 1 {
		message, err := p.lock.Unlock(ctx, doors[0].LockID, s.session)
		if err != nil {
			return downstreamFailure(err)
		}
		s.reply = fmt.Sprintf("%s: %s", doors[0].DisplayName, message)
		return nil
	}

	// Compound pair: outer first, inner after the stagger so the first
	// lock has time to settle.
	p.respond(ctx, s.req.CallbackURL, p.unlockOne(ctx, s, doors[0]))
	p.cfg.Sleep(ctx, p.cfg.UnlockStagger)
	s.reply = p.unlockOne(ctx, s, doors[1])
	return nil
}

func (p *Pipeline) unlockOne(ctx context.Context, s *State, door Door) string {
	message, err := p.lock.Unlock(ctx, door.LockID, s.session)
	if err != nil {
		p.logger.Error("door_unlock_failed", map[string]any{
			"door":    door.ShortKey,
			"user_id": s.user.ID,
			"error":   err.Error(),
		})
		return fmt.Sprintf(":warning: %s wouldn't unlock. The controller didn't cooperate.", door.DisplayName)
	}
	return fmt.Sprintf("%s: %s", door.DisplayName, message)
}

func (p *Pipeline) checkPass(s *State) *Failure {
	now := p.cfg.Now()

	if s.user.PassExpiresAt == nil {
		return fail(CodeNoActivePass,
			"You don't have an active pass. Run `/speakeasy checkout` first.", nil)
	}
	if !s.user.PassExpiresAt.After(now) {
		return fail(CodePassExpired,
			fmt.Sprintf("Your pass expired %s ago. Run `/speakeasy checkout` for a new one.",
				humanDuration(now.Sub(*s.user.PassExpiresAt))), nil)
	}

	return nil
}
