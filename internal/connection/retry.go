package connection

import (
	"time"

	"crypto_feed/internal/domain"

	"github.com/cenkalti/backoff/v5"
)

const (
	BackoffFixed       = "fixed"
	BackoffExponential = "exponential"

	maxExponentialDelay = 60 * time.Second
)

// RetryPolicy decides whether and when a faulted session reconnects.
type RetryPolicy struct {
	// MaxAttempts caps consecutive reconnect attempts; 0 retries forever.
	MaxAttempts int
	Delay       time.Duration
	Exponential bool
}

// PolicyFor applies the connector's overrides on top of exchange defaults.
func PolicyFor(cfg domain.ConnectorConfig, defMaxAttempts int, defDelay time.Duration) RetryPolicy {
	p := RetryPolicy{MaxAttempts: defMaxAttempts, Delay: defDelay}
	if cfg.MaxRetries != nil {
		p.MaxAttempts = *cfg.MaxRetries
	}
	if cfg.ReconnectDelay > 0 {
		p.Delay = cfg.ReconnectDelay
	}
	p.Exponential = cfg.Backoff == BackoffExponential
	return p
}

// Exhausted reports whether attempts consecutive faults exceed the cap.
func (p RetryPolicy) Exhausted(attempts int) bool {
	return p.MaxAttempts > 0 && attempts > p.MaxAttempts
}

// NewBackOff returns the delay generator for this policy.
func (p RetryPolicy) NewBackOff() backoff.BackOff {
	delay := p.Delay
	if delay <= 0 {
		delay = time.Second
	}
	if !p.Exponential {
		return backoff.NewConstantBackOff(delay)
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = delay
	b.MaxInterval = maxExponentialDelay
	return b
}
