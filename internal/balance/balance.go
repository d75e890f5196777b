// Package balance remembers a fingerprint of the last run's balances so the
// notifier can tell whether anything changed.
package balance

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"newapi-checkin/internal/checkin"
)

// Fingerprint hashes the quota of every account that reported a balance.
// It is empty when no account did.
func Fingerprint(s checkin.Summary) string {
	quotas := make(map[string][]float64)
	for i, r := range s.Results {
		if !r.Succeeded() || r.Balance == nil {
			continue
		}
		key := fmt.Sprintf("account_%d", i+1)
		quotas[key] = append(quotas[key], r.Balance.Quota)
	}
	if len(quotas) == 0 {
		return ""
	}

	// encoding/json sorts map keys.
	raw, _ := json.Marshal(quotas)
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])[:16]
}

type Store interface {
	// Load returns "" when nothing was stored yet.
	Load(ctx context.Context) (string, error)
	Save(ctx context.Context, fingerprint string) error
}

type FileStore struct {
	Path string
}

func NewFileStore(path string) *FileStore { return &FileStore{Path: path} }

func (f *FileStore) Load(context.Context) (string, error) {
	raw, err := os.ReadFile(f.Path)
	if errors.Is(err, os.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(raw)), nil
}

func (f *FileStore) Save(_ context.Context, fingerprint string) error {
	if dir := filepath.Dir(f.Path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return os.WriteFile(f.Path, []byte(fingerprint), 0o644)
}

type redisKV interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
}

const DefaultRedisKey = "newapi-checkin:balance_hash"

type RedisStore struct {
	client redisKV
	key    string
}

func NewRedisStore(client *redis.Client, key string) *RedisStore {
	if key == "" {
		key = DefaultRedisKey
	}
	return &RedisStore{client: client, key: key}
}

func (r *RedisStore) Load(ctx context.Context) (string, error) {
	v, err := r.client.Get(ctx, r.key).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	return v, err
}

func (r *RedisStore) Save(ctx context.Context, fingerprint string) error {
	return r.client.Set(ctx, r.key, fingerprint, 0).Err()
}

// Tracker compares each run's fingerprint with the stored one.
type Tracker struct {
	store Store
	log   *zap.SugaredLogger
}

func NewTracker(store Store, log *zap.SugaredLogger) *Tracker {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Tracker{store: store, log: log}
}

// Observe reports whether the balances differ from the previous run (a first
// run counts as a change) and stores the new fingerprint. Store failures are
// logged; they never fail the run.
func (t *Tracker) Observe(ctx context.Context, s checkin.Summary) bool {
	fp := Fingerprint(s)
	if fp == "" {
		t.log.Infow("balance_fingerprint_empty")
		return false
	}

	last, err := t.store.Load(ctx)
	if err != nil {
		t.log.Warnw("balance_fingerprint_load_failed", "err", err)
		last = ""
	}
	changed := last != fp
	t.log.Infow("balance_fingerprint", "current", fp, "last", last, "changed", changed)

	if changed {
		if err := t.store.Save(ctx, fp); err != nil {
			t.log.Warnw("balance_fingerprint_save_failed", "err", err)
		}
	}
	return changed
}
