// Package store defines the persistence interface for processed-message
// records. All implementations (memory, SQLite, Redis) satisfy
// ProcessedStore, so the replay guard can swap backends without changing
// callback handling.
package store

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// ProcessedStore records which message ids have already been handled.
// Implementations must be safe for concurrent use and must make the
// check-and-insert in MarkProcessed atomic.
type ProcessedStore interface {
	// MarkProcessed records id as seen at now. It returns true when this is
	// the first sighting within ttl, false when an unexpired record exists.
	// Expired records may be purged as a side effect.
	MarkProcessed(ctx context.Context, id string, now time.Time, ttl time.Duration) (bool, error)

	// Close releases backend resources.
	Close() error
}

// ProcessedRecord is one remembered message id.
type ProcessedRecord struct {
	MessageID string    `json:"message_id"`
	SeenAt    time.Time `json:"seen_at"`
}

// Expired reports whether the record is older than ttl at now.
func (r ProcessedRecord) Expired(now time.Time, ttl time.Duration) bool {
	return now.Sub(r.SeenAt) > ttl
}

// Backend names accepted by Open.
const (
	BackendMemory = "memory"
	BackendSQLite = "sqlite"
	BackendRedis  = "redis"
)

// Options selects and configures a backend.
type Options struct {
	Backend       string
	SQLitePath    string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisPrefix   string
}

// Open constructs the backend named in opts.
func Open(opts Options) (ProcessedStore, error) {
	switch strings.ToLower(opts.Backend) {
	case "", BackendMemory:
		return NewMemoryStore(), nil
	case BackendSQLite:
		return NewSQLiteStore(opts.SQLitePath)
	case BackendRedis:
		return NewRedisStore(opts.RedisAddr, opts.RedisPassword, opts.RedisDB, opts.RedisPrefix)
	}
	return nil, fmt.Errorf("unknown store backend %q", opts.Backend)
}
