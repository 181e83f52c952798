package payments

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"time"

	"github.com/angelmondragon/marketcore-backend/pkg/paygate"
)

const replaySource = "paygate"

// ReplayGuard drops exact duplicate callback deliveries before any database
// work. The database stays authoritative; the guard only saves round trips.
type ReplayGuard interface {
	Claim(ctx context.Context, fingerprint string) (bool, error)
	Release(ctx context.Context, fingerprint string)
}

type replayStore interface {
	SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error)
	Del(ctx context.Context, keys ...string) error
	ReplayKey(source, fingerprint string) string
}

// RedisReplayGuard remembers fingerprints for a fixed window with SETNX.
type RedisReplayGuard struct {
	store  replayStore
	window time.Duration
}

// NewRedisReplayGuard builds a guard over the redis client.
func NewRedisReplayGuard(store replayStore, window time.Duration) (*RedisReplayGuard, error) {
	if store == nil {
		return nil, errors.New("redis store required for replay guard")
	}
	if window <= 0 {
		window = 24 * time.Hour
	}
	return &RedisReplayGuard{store: store, window: window}, nil
}

// Claim reports whether this is the first delivery of fingerprint in the window.
func (g *RedisReplayGuard) Claim(ctx context.Context, fingerprint string) (bool, error) {
	return g.store.SetNX(ctx, g.store.ReplayKey(replaySource, fingerprint), "1", g.window)
}

// Release forgets fingerprint so a delivery that failed midway can be retried.
func (g *RedisReplayGuard) Release(ctx context.Context, fingerprint string) {
	_ = g.store.Del(ctx, g.store.ReplayKey(replaySource, fingerprint))
}

// Fingerprint identifies one exact callback delivery.
func Fingerprint(cb paygate.Callback) string {
	raw := strings.Join([]string{cb.TxnID, cb.RefNo, cb.Status, cb.Message, strings.ToLower(cb.Digest)}, "\x1f")
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}
