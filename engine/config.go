package engine

import (
	"fmt"
	"time"

	fairiagent "github.com/ElderMedic/FAIRiAgent-sub001"
)

// Config holds controller configuration. Retry budgets, timeouts and
// backoff come from the pipeline's stage configs; Stages overrides them
// per stage name.
type Config struct {
	// Memory enrichment
	MemoryEnabled bool
	MemoryK       int
	MemoryTimeout time.Duration

	// Maximum runes of an accepted output stored as a memory summary
	SummaryLimit int

	// Per-stage overrides, merged over the pipeline's stage config
	Stages map[string]fairiagent.StageConfig

	// Bounded worker pool size for Pool
	MaxConcurrentSessions int
}

// DefaultConfig provides sensible defaults
var DefaultConfig = Config{
	MemoryEnabled:         true,
	MemoryK:               5,
	MemoryTimeout:         5 * time.Second,
	SummaryLimit:          280,
	MaxConcurrentSessions: 4,
}

// Validate rejects settings the controller cannot honour
func (c Config) Validate() error {
	if c.MemoryK < 0 {
		return fmt.Errorf("memory k cannot be negative")
	}
	if c.MemoryTimeout < 0 {
		return fmt.Errorf("memory timeout cannot be negative")
	}
	if c.MaxConcurrentSessions < 0 {
		return fmt.Errorf("max concurrent sessions cannot be negative")
	}
	for name, sc := range c.Stages {
		if sc.TimeoutSeconds < 0 || sc.RetryDelayMs < 0 {
			return fmt.Errorf("stage %s override has negative timeout or delay", name)
		}
	}
	return nil
}
