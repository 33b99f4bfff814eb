package scheduler

import (
	"context"
	"time"
)

// Config defines the orchestrator configuration.
type Config struct {
	// MaxConcurrency is the maximum number of nodes running at once.
	MaxConcurrency int `yaml:"max_concurrency"`
	// PollInterval is how long the control loop waits when nothing is ready
	// but nodes are still running.
	PollInterval time.Duration `yaml:"poll_interval"`
	// Optimize rewrites node inputs with the ledger's cost strategy before
	// dispatch.
	Optimize bool `yaml:"optimize"`
	// Sleep is used for poll waits and retry backoff. Nil means a real
	// context-aware sleep; tests inject a no-op.
	Sleep func(ctx context.Context, d time.Duration) `yaml:"-"`
}

// DefaultConfig returns the default orchestrator configuration.
func DefaultConfig() *Config {
	return &Config{
		MaxConcurrency: 5,
		PollInterval:   time.Second,
		Optimize:       true,
	}
}

func (c *Config) sleep(ctx context.Context, d time.Duration) {
	if c.Sleep != nil {
		c.Sleep(ctx, d)
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
