// Package limiter throttles failed wallet sign-in attempts.
package limiter

import (
	"context"
	"time"
)

// Limiter tracks failed sign-ins per (wallet address, client IP) and places temporary blocks.
type Limiter interface {
	// Allow reports whether a sign-in attempt may proceed and, if not, how long to wait.
	Allow(ctx context.Context, wallet string, ipHash []byte) (bool, time.Duration, error)
	// Success clears the failure history after a verified signature.
	Success(ctx context.Context, wallet string, ipHash []byte) error
	// Failure records a rejected signature and reports whether a block was placed.
	Failure(ctx context.Context, wallet string, ipHash []byte) (bool, time.Duration, error)
}
