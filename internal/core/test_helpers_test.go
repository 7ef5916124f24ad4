package core

import (
	"context"
	"errors"
	"time"

	"visitmap/pkg/domain"
)

var errBackend = errors.New("backend unavailable")

// failingStore rejects every call with errBackend.
type failingStore struct{}

func (failingStore) Get(context.Context, string) (domain.VisitRecord, error) {
	return nil, errBackend
}

func (failingStore) Update(context.Context, string, domain.UpdateFunc) (domain.VisitRecord, error) {
	return nil, errBackend
}

func (failingStore) Driver() domain.StorageDriver { return "failing" }

func fixedClock(t time.Time) Clock {
	return ClockFunc(func() time.Time { return t })
}

type logEntry struct {
	level string
	msg   string
	args  []any
}

type captureLogger struct {
	entries []logEntry
}

func (c *captureLogger) record(level, msg string, args []any) {
	c.entries = append(c.entries, logEntry{level: level, msg: msg, args: args})
}

func (c *captureLogger) Debug(msg string, args ...any) { c.record("debug", msg, args) }
func (c *captureLogger) Info(msg string, args ...any)  { c.record("info", msg, args) }
func (c *captureLogger) Warn(msg string, args ...any)  { c.record("warn", msg, args) }
func (c *captureLogger) Error(msg string, args ...any) { c.record("error", msg, args) }

func (c *captureLogger) has(level string) bool {
	for _, e := range c.entries {
		if e.level == level {
			return true
		}
	}
	return false
}
