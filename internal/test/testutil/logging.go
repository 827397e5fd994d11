package testutil

import (
	"bytes"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"
)

// TestLogger is a logrus logger writing into a buffer the test can inspect.
// Entries are also captured by a hook.
type TestLogger struct {
	logger *logrus.Logger
	buffer *syncBuffer
	hook   *test.Hook
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// NewTestLogger creates a debug-level logger capturing its output
func NewTestLogger(t *testing.T) *TestLogger {
	t.Helper()
	buffer := &syncBuffer{}
	logger := logrus.New()
	logger.SetOutput(buffer)
	logger.SetLevel(logrus.DebugLevel)
	logger.SetFormatter(&logrus.TextFormatter{
		DisableColors:   true,
		TimestampFormat: "2006-01-02 15:04:05.000",
		FullTimestamp:   true,
	})
	hook := test.NewLocal(logger)
	t.Cleanup(func() {
		if t.Failed() {
			t.Logf("captured logs:\n%s", buffer.String())
		}
	})
	return &TestLogger{logger: logger, buffer: buffer, hook: hook}
}

// Logger returns the underlying logger
func (l *TestLogger) Logger() *logrus.Logger {
	return l.logger
}

// Entries returns the captured log entries
func (l *TestLogger) Entries() []*logrus.Entry {
	return l.hook.AllEntries()
}

// LastEntry returns the most recent entry or nil
func (l *TestLogger) LastEntry() *logrus.Entry {
	return l.hook.LastEntry()
}

// RequireEntry asserts that an entry with msg was logged at level
func (l *TestLogger) RequireEntry(t *testing.T, level logrus.Level, msg string) {
	t.Helper()
	for _, entry := range l.Entries() {
		if entry.Message == msg {
			require.Equal(t, level, entry.Level, "level of %q", msg)
			return
		}
	}
	t.Errorf("log entry not found: %s", msg)
}

// String returns everything logged so far
func (l *TestLogger) String() string {
	return l.buffer.String()
}

// RequireContains asserts that the log contains text
func (l *TestLogger) RequireContains(t *testing.T, text string) {
	t.Helper()
	require.Contains(t, l.String(), text)
}

// RequireField asserts that the entry containing text carries field=value
func (l *TestLogger) RequireField(t *testing.T, text, field string, value interface{}) {
	t.Helper()
	for _, line := range strings.Split(l.String(), "\n") {
		if strings.Contains(line, text) {
			require.Contains(t, line, fmt.Sprintf("%s=%v", field, value))
			return
		}
	}
	t.Errorf("log entry not found: %s", text)
}
