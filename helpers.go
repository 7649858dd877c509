package fairiagent

import (
	"encoding/json"
	"strings"
	"time"
)

// CalculateBackoff calculates the delay before a retry attempt.
// It supports three strategies:
//   - EXPONENTIAL: base * 2^(attempt-1)
//   - LINEAR: base * attempt
//   - NONE: no backoff delay
//
// attempt is the number of retries already consumed; 0 yields no delay.
func CalculateBackoff(baseDelayMs int, attempt int, strategy BackoffStrategy) time.Duration {
	if attempt <= 0 || baseDelayMs <= 0 {
		return 0
	}

	baseDelay := time.Duration(baseDelayMs) * time.Millisecond

	switch strategy {
	case BackoffExponential:
		multiplier := 1 << (attempt - 1)
		return baseDelay * time.Duration(multiplier)
	case BackoffLinear:
		return baseDelay * time.Duration(attempt)
	case BackoffNone:
		return 0
	default:
		// Default to linear
		return baseDelay * time.Duration(attempt)
	}
}

// SummarizeOutput renders raw output as a single line of at most limit runes
func SummarizeOutput(raw json.RawMessage, limit int) string {
	s := strings.Join(strings.Fields(string(compact(raw))), " ")
	r := []rune(s)
	if limit > 0 && len(r) > limit {
		return string(r[:limit]) + "..."
	}
	return s
}
