package queue

import (
	"time"

	"github.com/jerry-enebeli/swapflow/config"
)

// BackoffPolicy bounds how often and how soon a failed job runs again.
type BackoffPolicy struct {
	Base        time.Duration
	Cap         time.Duration
	MaxAttempts int
}

func DefaultBackoffPolicy() BackoffPolicy {
	return BackoffPolicy{
		Base:        config.DEFAULT_BACKOFF_BASE_MS * time.Millisecond,
		Cap:         config.DEFAULT_BACKOFF_CAP_MS * time.Millisecond,
		MaxAttempts: config.DEFAULT_MAX_ATTEMPTS,
	}
}

func PolicyFromConfig(cnf config.QueueConfig) BackoffPolicy {
	return BackoffPolicy{
		Base:        time.Duration(cnf.BackoffBaseMs) * time.Millisecond,
		Cap:         time.Duration(cnf.BackoffCapMs) * time.Millisecond,
		MaxAttempts: cnf.MaxAttempts,
	}.normalize()
}

func (p BackoffPolicy) normalize() BackoffPolicy {
	def := DefaultBackoffPolicy()
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = def.MaxAttempts
	}
	if p.Base < 0 {
		p.Base = 0
	}
	if p.Cap < p.Base {
		p.Cap = p.Base
	}
	return p
}

// Delay returns the wait after failed attempt n: Base doubled for every
// earlier failure, never more than Cap.
func (p BackoffPolicy) Delay(n int) time.Duration {
	if n < 1 {
		n = 1
	}
	d := p.Base
	for i := 1; i < n; i++ {
		if d >= p.Cap || d > p.Cap/2 {
			return p.Cap
		}
		d *= 2
	}
	if d > p.Cap {
		return p.Cap
	}
	return d
}
