// Package store provides the dedup set and page cache shared by all crawl units.
// Backends: Redis (the default), SQLite for single-host persistence, and an
// in-process memory store. Every backend makes MarkSeen an atomic test-and-insert.
package store

import (
	"errors"
	"fmt"
)

// ErrUnavailable wraps every backend failure. A crawl run treats it as fatal.
var ErrUnavailable = errors.New("store unavailable")

func unavailable(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrUnavailable, op, err)
}
