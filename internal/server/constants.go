// Package server provides the REST API and WebSocket progress stream
package server

// Server configuration constants
const (
	// Maximum accepted request body size
	MaxBodyBytes = 1 << 20
)
