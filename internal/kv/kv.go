// Package kv is a small key-value store with expiry, used for judge sessions,
// OAuth state tokens and per-user sync locks.
package kv

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

var ErrNotFound = errors.New("kv: key not found")

// Store holds string values with an optional time to live. A zero ttl never expires.
type Store interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	// SetNX stores value only when key is absent and reports whether it did.
	SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	// Take returns the value and removes the key in one step.
	Take(ctx context.Context, key string) (string, error)
	Del(ctx context.Context, key string) error
	// CompareAndDelete removes key only while it still holds value and
	// reports whether it did.
	CompareAndDelete(ctx context.Context, key, value string) (bool, error)
}

// Lock takes key for ttl under a fresh token. ok is false when someone else
// holds it. The returned unlock leaves the key alone once the lock has expired
// and been taken over.
func Lock(ctx context.Context, s Store, key string, ttl time.Duration) (unlock func(), ok bool, err error) {
	token := uuid.NewString()
	ok, err = s.SetNX(ctx, key, token, ttl)
	if err != nil || !ok {
		return nil, ok, err
	}
	unlock = func() {
		released, err := s.CompareAndDelete(context.WithoutCancel(ctx), key, token)
		if err != nil {
			zap.S().Warnf("release lock %s: %v", key, err)
			return
		}
		if !released {
			zap.S().Warnf("lock %s expired before it was released", key)
		}
	}
	return unlock, true, nil
}
