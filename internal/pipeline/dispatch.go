package pipeline

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// dispatch routes on the first whitespace-delimited token, case-sensitive.
// help never reaches this point; the webhook answers it before auth so it
// stays reachable with the store down.
func (p *Pipeline) dispatch(ctx context.Context, s *State) *Failure {
	switch s.command {
	case "status":
		return p.handleStatus(ctx, s)
	case "checkout":
		if !p.cfg.PassesEnabled {
			return unknownCommand(s.command)
		}
		return p.handleCheckout(ctx, s)
	case "unlock", "open":
		return p.handleUnlock(ctx, s)
	default:
		return unknownCommand(s.command)
	}
}

func unknownCommand(command string) *Failure {
	return fail(CodeUnknownCommand,
		fmt.Sprintf("I don't know the command %q. Try `/speakeasy help`.", command), nil)
}

// downstreamFailure distinguishes a controller timeout from any other
// controller error, so the user hint matches what actually happened.
func downstreamFailure(err error) *Failure {
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return fail(CodeDownstreamTimeout,
			"The door controller took too long to answer. Nothing was changed.", err)
	}
	return fail(CodeDownstreamError,
		"The door controller didn't cooperate. Nothing was changed.", err)
}
