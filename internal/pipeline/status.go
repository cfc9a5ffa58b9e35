package pipeline

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// handleStatus peeks every door concurrently but reports in catalog order.
// A single door failing to answer becomes a warning line, not a failed
// request.
func (p *Pipeline) handleStatus(ctx context.Context, s *State) *Failure {
	doors := p.cfg.Catalog.Doors
	lines := make([]string, len(doors))

	var wg sync.WaitGroup
	for i, door := range doors {
		wg.Add(1)
		go func(i int, door Door) {
			defer wg.Done()
			message, err := p.lock.Peek(ctx, door.LockID, s.session)
			if err != nil {
				p.logger.Warn("door_peek_failed", map[string]any{
					"door":    door.ShortKey,
					"user_id": s.user.ID,
					"error":   err.Error(),
				})
				lines[i] = fmt.Sprintf(":warning: %s: no answer from the controller", door.DisplayName)
				return
			}
			lines[i] = fmt.Sprintf("%s: %s", door.DisplayName, message)
		}(i, door)
	}
	wg.Wait()

	if p.cfg.PassesEnabled {
		lines = append(lines, p.passSummary(ctx, s)...)
	}

	s.reply = strings.Join(lines, "\n")
	return nil
}

func (p *Pipeline) passSummary(ctx context.Context, s *State) []string {
	now := p.cfg.Now()
	lines := make([]string, 0, 2)

	count, err := p.users.CountActivePasses(ctx, now)
	if err != nil {
		p.logger.Warn("pass_count_failed", map[string]any{"error": err.Error()})
		lines = append(lines, ":warning: pass usage is unavailable right now")
	} else {
		lines = append(lines, fmt.Sprintf("Passes in use: %d of %d", count, p.cfg.PassCapacity))
	}

	switch {
	case s.user.PassExpiresAt == nil:
		lines = append(lines, "You haven't checked out a pass.")
	case s.user.PassExpiresAt.After(now):
		lines = append(lines, fmt.Sprintf("Your pass is good for another %s.",
			humanDuration(s.user.PassExpiresAt.Sub(now))))
	default:
		lines = append(lines, fmt.Sprintf("Your pass expired %s ago.",
			humanDuration(now.Sub(*s.user.PassExpiresAt))))
	}

	return lines
}
