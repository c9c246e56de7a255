package engine

import "errors"

// ErrStopped marks a job interrupted by shutdown.
var ErrStopped = errors.New("job engine stopped")

// NoRetry wraps err so the job is dead-lettered after the current attempt.
func NoRetry(err error) error {
	if err == nil {
		return nil
	}
	return &permanent{cause: err}
}

// IsNoRetry reports whether err was produced by NoRetry.
func IsNoRetry(err error) bool {
	_, ok := permanentCause(err)
	return ok
}

type permanent struct{ cause error }

func (p *permanent) Error() string { return "permanent: " + p.cause.Error() }
func (p *permanent) Unwrap() error { return p.cause }

func permanentCause(err error) (error, bool) {
	var p *permanent
	if errors.As(err, &p) {
		return p.cause, true
	}
	return nil, false
}
