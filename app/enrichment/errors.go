package enrichment

import (
	"fmt"
	"time"
)

// ParseError reports a model reply that held no usable JSON analysis.
type ParseError struct {
	Response string
	Err      error
}

func (e *ParseError) Error() string {
	if e.Err == nil {
		return "no JSON object in model response"
	}
	return fmt.Sprintf("invalid analysis JSON: %v", e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// RateLimitError is returned when the model API answers 429.
type RateLimitError struct {
	Cooldown time.Duration
	Err      error
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limited by model API: %v", e.Err)
}

func (e *RateLimitError) Unwrap() error {
	return e.Err
}
