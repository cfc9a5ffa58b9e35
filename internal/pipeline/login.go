package pipeline

import "context"

// credentialLogin picks one credential from the shared pool at random and
// exchanges it for session headers. Uniform non-crypto randomness is
// enough here: the goal is spreading load across the pool, not secrecy.
func (p *Pipeline) credentialLogin(ctx context.Context, s *State) *Failure {
	pool, err := p.settings.CredentialPool(ctx)
	if err != nil || len(pool) == 0 {
		return fail(CodeCredentialsUnavailable,
			"No door credentials are configured. Ask an admin to set them up.", err)
	}

	cred := pool[p.cfg.PickIndex(len(pool))]

	session, err := p.lock.SignIn(ctx, cred.Username, cred.Password)
	if err != nil {
		return fail(CodeLoginFailed,
			"I couldn't sign in to the door controller. Try again in a bit.", err)
	}

	s.session = session
	return nil
}
