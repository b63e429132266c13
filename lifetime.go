package mcptools

import (
	"errors"
	"fmt"
	"sync"
)

// Lifetime owns the resources acquired while connecting servers and releases
// them in reverse acquisition order. Registration is single-goroutine; Close
// is idempotent and safe to call from cleanup paths and defer alike.
type Lifetime struct {
	entries []lifetimeEntry
	once    sync.Once
	err     error
}

type lifetimeEntry struct {
	name   string
	closer func() error
}

// NewLifetime creates an empty resource stack.
func NewLifetime() *Lifetime {
	return &Lifetime{}
}

// Register pushes a closer; it will run before every closer registered
// earlier.
func (l *Lifetime) Register(name string, closer func() error) {
	l.entries = append(l.entries, lifetimeEntry{name: name, closer: closer})
}

// Close releases every registered resource, last acquired first. Errors are
// collected; a failing closer does not stop the remaining ones. Subsequent
// calls are no-ops returning the first call's result.
func (l *Lifetime) Close() error {
	l.once.Do(func() {
		var errs []error
		for i := len(l.entries) - 1; i >= 0; i-- {
			entry := l.entries[i]
			if err := entry.closer(); err != nil {
				errs = append(errs, fmt.Errorf("failed to close %s: %w", entry.name, err))
			}
		}
		l.entries = nil
		l.err = errors.Join(errs...)
	})
	return l.err
}
