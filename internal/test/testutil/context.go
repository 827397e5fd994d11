package testutil

import (
	"context"
	"testing"
	"time"
)

// DefaultTimeout bounds tests that talk to goroutines or loopback servers
const DefaultTimeout = 5 * time.Second

// Context returns a context cancelled when the test ends or after DefaultTimeout
func Context(t *testing.T) context.Context {
	return ContextWithTimeout(t, DefaultTimeout)
}

// ContextWithTimeout returns a context cancelled when the test ends or after timeout
func ContextWithTimeout(t *testing.T, timeout time.Duration) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	t.Cleanup(cancel)
	return ctx
}
