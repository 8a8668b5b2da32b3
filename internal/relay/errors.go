package relay

import (
	"errors"
	"fmt"
)

var (
	// ErrUnauthorized is returned when a room/token pair is missing or does
	// not match. It never says which of the two was wrong.
	ErrUnauthorized = errors.New("relay: unauthorized")

	// ErrHubClosed is returned by Subscribe after Shutdown has begun.
	ErrHubClosed = errors.New("relay: hub is shut down")
)

// RateLimitError is returned when a source exceeded its publish quota.
type RateLimitError struct {
	RetryAfter int
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("relay: rate limited, retry after %ds", e.RetryAfter)
}
