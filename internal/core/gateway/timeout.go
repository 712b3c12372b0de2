package gateway

import "time"

const (
	DefaultConnectTimeout = 10 * time.Second
	DefaultReadTimeout    = 30 * time.Second
	DefaultMaxRetries     = 3
)

// TimeoutConfig holds the per-service connect/read timeouts and the retry budget.
type TimeoutConfig struct {
	Connect    time.Duration
	Read       time.Duration
	MaxRetries int
}

// DefaultTimeoutConfig returns the values used when no setting overrides them.
func DefaultTimeoutConfig() TimeoutConfig {
	return TimeoutConfig{
		Connect:    DefaultConnectTimeout,
		Read:       DefaultReadTimeout,
		MaxRetries: DefaultMaxRetries,
	}
}
