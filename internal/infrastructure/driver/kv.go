package driver

import (
	"context"
	"errors"
	"time"
)

// ErrKeyNotFound the key does not exist or has expired
var ErrKeyNotFound = errors.New("key not found")

// KeyValueDB define a key-value storage interface
type KeyValueDB interface {
	SetEX(ctx context.Context, key string, value string, expiration time.Duration) error
	// SetNX sets key only when it does not exist yet, reports whether it was set
	SetNX(ctx context.Context, key string, value string, expiration time.Duration) (bool, error)
	// Get returns ErrKeyNotFound for a missing key
	Get(ctx context.Context, key string) (string, error)
	Exists(ctx context.Context, key string) (bool, error)
	Ping(ctx context.Context) error
	Close() error
}
