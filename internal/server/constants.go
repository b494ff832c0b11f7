// Package server provides HTTP and WebSocket handlers
package server

import "time"

// Server configuration constants
const (
	// Per-connection websocket rate limit (sliding window)
	RateLimitMessages = 30
	RateLimitWindow   = time.Second

	// Bound on a single broadcast write to a slow client
	WriteTimeout = 5 * time.Second

	// Largest accepted JSON request body (batch results can be big)
	MaxBodyBytes = 32 << 20
)
