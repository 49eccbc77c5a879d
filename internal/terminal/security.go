package terminal

import (
	"fmt"
	"sync"
	"time"
)

// AllowedShells is the whitelist of shells a Manager may start.
var AllowedShells = []string{
	"/bin/bash",
	"/usr/bin/bash",
	"/bin/sh",
	"/bin/zsh",
}

// DefaultShell is used when no shell is configured.
const DefaultShell = "/bin/bash"

// ValidateShell checks whether shell is in AllowedShells. An empty string is
// allowed and means DefaultShell.
func ValidateShell(shell string) error {
	if shell == "" {
		return nil
	}
	for _, allowed := range AllowedShells {
		if shell == allowed {
			return nil
		}
	}
	return fmt.Errorf("shell %q is not allowed; permitted shells: %v", shell, AllowedShells)
}

const (
	// MaxInputMessageSize is the largest single input message accepted from
	// a client.
	MaxInputMessageSize = 64 * 1024

	MaxTermCols = 500
	MaxTermRows = 200

	DefaultCols = 80
	DefaultRows = 24
)

// RateLimiter is a token bucket for client messages.
type RateLimiter struct {
	mu         sync.Mutex
	tokens     float64
	maxTokens  float64
	refillRate float64 // tokens per second
	lastRefill time.Time
}

// NewRateLimiter creates a rate limiter with the given rate (tokens/sec) and burst size.
func NewRateLimiter(rate float64, burst int) *RateLimiter {
	return &RateLimiter{
		tokens:     float64(burst),
		maxTokens:  float64(burst),
		refillRate: rate,
		lastRefill: time.Now(),
	}
}

// Allow reports whether a message is permitted, consuming one token.
func (rl *RateLimiter) Allow() bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	rl.tokens += now.Sub(rl.lastRefill).Seconds() * rl.refillRate
	rl.lastRefill = now
	if rl.tokens > rl.maxTokens {
		rl.tokens = rl.maxTokens
	}

	if rl.tokens < 1 {
		return false
	}
	rl.tokens--
	return true
}
