package fairiagent

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDefaultStageConfig(t *testing.T) {
	config := DefaultStageConfig

	assert.Equal(t, 2, config.MaxRetries)
	assert.Equal(t, 0, config.RetryDelayMs)
	assert.Equal(t, BackoffNone, config.RetryBackoff)
	assert.Equal(t, 120, config.TimeoutSeconds)
	assert.Empty(t, config.Requires)
}

func TestStageOptions_Multiple(t *testing.T) {
	var config StageConfig
	for _, opt := range []StageOption{
		WithRetries(5),
		WithTimeout(60 * time.Second),
		WithBackoff(BackoffExponential),
		WithRetryDelay(2 * time.Second),
		WithRequires("parse"),
	} {
		opt(&config)
	}

	assert.Equal(t, 5, config.MaxRetries)
	assert.Equal(t, 60, config.TimeoutSeconds)
	assert.Equal(t, BackoffExponential, config.RetryBackoff)
	assert.Equal(t, 2000, config.RetryDelayMs)
	assert.Equal(t, []string{"parse"}, config.Requires)
	assert.Equal(t, time.Minute, config.Timeout())
}

func TestStageConfig_Merge(t *testing.T) {
	base := StageConfig{MaxRetries: 3, RetryDelayMs: 100, RetryBackoff: BackoffLinear, TimeoutSeconds: 30}

	t.Run("zero values inherit", func(t *testing.T) {
		merged := StageConfig{}.Merge(base)
		assert.Equal(t, base, merged)
	})

	t.Run("set values win", func(t *testing.T) {
		merged := StageConfig{MaxRetries: 1, TimeoutSeconds: 5}.Merge(base)
		assert.Equal(t, 1, merged.MaxRetries)
		assert.Equal(t, 5, merged.TimeoutSeconds)
		assert.Equal(t, 100, merged.RetryDelayMs)
		assert.Equal(t, BackoffLinear, merged.RetryBackoff)
	})

	t.Run("negative retries disable retrying", func(t *testing.T) {
		merged := StageConfig{MaxRetries: -1}.Merge(base)
		assert.Equal(t, 0, merged.RetryCap())
	})
}

func TestStartOptions(t *testing.T) {
	opts := &StartOptions{}
	WithSessionID("s-1")(opts)
	WithTags(map[string]string{"source": "cli"})(opts)

	assert.Equal(t, "s-1", opts.SessionID)
	assert.Equal(t, "cli", opts.Tags["source"])
}
