package fairiagent

import "time"

// StageConfig holds stage-level execution parameters.
// Zero values fall back to the controller defaults; a negative MaxRetries
// disables retries for the stage.
type StageConfig struct {
	// Retry policy
	MaxRetries   int
	RetryDelayMs int
	RetryBackoff BackoffStrategy

	// Timeout for a single executor invocation
	TimeoutSeconds int

	// Stages whose accepted output this stage reads
	Requires []string
}

// BackoffStrategy defines retry backoff behavior
type BackoffStrategy string

const (
	BackoffLinear      BackoffStrategy = "LINEAR"
	BackoffExponential BackoffStrategy = "EXPONENTIAL"
	BackoffNone        BackoffStrategy = "NONE"
)

// DefaultStageConfig provides sensible defaults
var DefaultStageConfig = StageConfig{
	MaxRetries:     2,
	RetryDelayMs:   0,
	RetryBackoff:   BackoffNone,
	TimeoutSeconds: 120,
}

// Merge returns c with every zero field taken from base
func (c StageConfig) Merge(base StageConfig) StageConfig {
	out := c
	if out.MaxRetries == 0 {
		out.MaxRetries = base.MaxRetries
	}
	if out.RetryDelayMs == 0 {
		out.RetryDelayMs = base.RetryDelayMs
	}
	if out.RetryBackoff == "" {
		out.RetryBackoff = base.RetryBackoff
	}
	if out.TimeoutSeconds == 0 {
		out.TimeoutSeconds = base.TimeoutSeconds
	}
	if out.Requires == nil {
		out.Requires = base.Requires
	}
	return out
}

// RetryCap returns the effective retry budget
func (c StageConfig) RetryCap() int {
	if c.MaxRetries < 0 {
		return 0
	}
	return c.MaxRetries
}

// Timeout returns the executor timeout as a duration
func (c StageConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// StageOption allows functional configuration of stages
type StageOption func(*StageConfig)

// WithRetries sets the maximum retry attempts
func WithRetries(max int) StageOption {
	return func(c *StageConfig) {
		c.MaxRetries = max
	}
}

// WithTimeout sets the stage timeout
func WithTimeout(d time.Duration) StageOption {
	return func(c *StageConfig) {
		c.TimeoutSeconds = int(d.Seconds())
	}
}

// WithBackoff sets the retry backoff strategy
func WithBackoff(strategy BackoffStrategy) StageOption {
	return func(c *StageConfig) {
		c.RetryBackoff = strategy
	}
}

// WithRetryDelay sets the base retry delay
func WithRetryDelay(d time.Duration) StageOption {
	return func(c *StageConfig) {
		c.RetryDelayMs = int(d.Milliseconds())
	}
}

// WithRequires declares the upstream stages whose outputs this stage reads
func WithRequires(stages ...string) StageOption {
	return func(c *StageConfig) {
		c.Requires = append(c.Requires, stages...)
	}
}

// StartOption allows functional configuration of session execution
type StartOption func(*StartOptions)

// StartOptions holds options for starting a session
type StartOptions struct {
	SessionID string
	Tags      map[string]string
}

// WithSessionID pins the session id instead of generating one
func WithSessionID(id string) StartOption {
	return func(opts *StartOptions) {
		opts.SessionID = id
	}
}

// WithTags sets custom tags logged with the session
func WithTags(tags map[string]string) StartOption {
	return func(opts *StartOptions) {
		opts.Tags = tags
	}
}
