package pipeline

import "fmt"

// Code identifies why a request was refused or aborted. Codes appear in
// logs and error reports; users only ever see the Text.
type Code string

const (
	CodeAuthUnavailable        Code = "auth_unavailable"
	CodeAuthMismatch           Code = "auth_mismatch"
	CodeUserNotFound           Code = "user_not_found"
	CodeFeatureDisabled        Code = "feature_disabled"
	CodeRateLimited            Code = "rate_limited"
	CodePersistFailure         Code = "persist_failure"
	CodeCredentialsUnavailable Code = "credentials_unavailable"
	CodeLoginFailed            Code = "login_failed"
	CodeUnknownCommand         Code = "unknown_command"
	CodeUnknownDoor            Code = "unknown_door"
	CodeNoArgument             Code = "no_argument"
	CodeNoActivePass           Code = "no_active_pass"
	CodePassExpired            Code = "pass_expired"
	CodeCapacityExceeded       Code = "capacity_exceeded"
	CodeDownstreamTimeout      Code = "downstream_timeout"
	CodeDownstreamError        Code = "downstream_error"
)

// Failure terminates a pipeline run. Text is the complete user-facing
// message; Cause carries internal detail for logs only.
type Failure struct {
	Code  Code
	Text  string
	Cause error
}

func (f *Failure) Error() string {
	if f.Cause != nil {
		return fmt.Sprintf("%s: %v", f.Code, f.Cause)
	}
	return string(f.Code)
}

func (f *Failure) Unwrap() error {
	return f.Cause
}

func fail(code Code, text string, cause error) *Failure {
	return &Failure{Code: code, Text: text, Cause: cause}
}
