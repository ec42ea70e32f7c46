package heatmap

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/teslashibe/go-panscan/internal/log"
)

// Store defines the interface for heat map persistence backends.
type Store interface {
	// Save persists the serialized map.
	Save(ctx context.Context, data []byte) error

	// Load retrieves the serialized map. A missing map returns nil, nil.
	Load(ctx context.Context) ([]byte, error)

	// Close releases any resources held by the store.
	Close() error
}

// FileStore keeps the heat map in a single JSON file.
type FileStore struct {
	Path string
}

// NewFileStore creates a file-backed store.
func NewFileStore(path string) *FileStore {
	return &FileStore{Path: path}
}

// Save writes data atomically: temp file in the same directory, then rename.
func (s *FileStore) Save(_ context.Context, data []byte) error {
	if s.Path == "" {
		return nil
	}

	dir := filepath.Dir(s.Path)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory: %w", err)
		}
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(s.Path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, s.Path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename: %w", err)
	}
	return nil
}

// Load reads the file; a missing file is not an error.
func (s *FileStore) Load(_ context.Context) ([]byte, error) {
	if s.Path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(s.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read file: %w", err)
	}
	return data, nil
}

// Close is a no-op for files.
func (s *FileStore) Close() error {
	return nil
}

// DefaultRedisKey is the key used when RedisStore.Key is empty.
const DefaultRedisKey = "panscan:heatmap"

// RedisStore keeps the heat map JSON under a single redis key, so several
// rigs (or a restarted container) can share it.
type RedisStore struct {
	client *redis.Client
	key    string
	owned  bool
}

// NewRedisStore wraps an existing client. The caller keeps ownership.
func NewRedisStore(client *redis.Client, key string) *RedisStore {
	if key == "" {
		key = DefaultRedisKey
	}
	return &RedisStore{client: client, key: key}
}

// DialRedis opens a client for addr and returns a store that closes it.
func DialRedis(addr, password string, db int, key string) *RedisStore {
	s := NewRedisStore(redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	}), key)
	s.owned = true
	return s
}

// Key returns the redis key holding the map.
func (s *RedisStore) Key() string {
	return s.key
}

// Save stores data without expiry.
func (s *RedisStore) Save(ctx context.Context, data []byte) error {
	if err := s.client.Set(ctx, s.key, data, 0).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", s.key, err)
	}
	return nil
}

// Load returns nil, nil when the key does not exist.
func (s *RedisStore) Load(ctx context.Context) ([]byte, error) {
	data, err := s.client.Get(ctx, s.key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("redis get %s: %w", s.key, err)
	}
	return data, nil
}

// Close closes the client if the store opened it.
func (s *RedisStore) Close() error {
	if s.owned {
		return s.client.Close()
	}
	return nil
}

var (
	_ Store = (*FileStore)(nil)
	_ Store = (*RedisStore)(nil)
)

// persistedBucket is the on-disk form of one bucket.
type persistedBucket struct {
	Weight     float64 `json:"weight"`
	LastUpdate float64 `json:"last_update"`
}

// MarshalJSON encodes the map as {"<angle>": {"weight": w, "last_update": unix}}.
func (h *HeatMap) MarshalJSON() ([]byte, error) {
	h.mu.RLock()
	out := make(map[string]persistedBucket, len(h.cells))
	for idx, c := range h.cells {
		key := strconv.FormatFloat(h.centerOf(idx), 'f', -1, 64)
		var ts float64
		if !c.lastUpdate.IsZero() {
			ts = float64(c.lastUpdate.UnixNano()) / 1e9
		}
		out[key] = persistedBucket{Weight: c.weight, LastUpdate: ts}
	}
	h.mu.RUnlock()
	return json.Marshal(out)
}

// Decode parses persisted data into a new map built from cfg. Unknown fields
// are ignored, unparsable keys skipped and negative weights dropped.
func Decode(data []byte, cfg Config) (*HeatMap, error) {
	h := New(cfg)
	if len(data) == 0 {
		return h, nil
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return h, fmt.Errorf("decode heat map: %w", err)
	}

	for key, msg := range raw {
		angle, err := strconv.ParseFloat(key, 64)
		if err != nil || math.IsNaN(angle) || math.IsInf(angle, 0) {
			continue
		}
		var b persistedBucket
		if err := json.Unmarshal(msg, &b); err != nil {
			continue
		}
		var ts time.Time
		if b.LastUpdate > 0 {
			sec, frac := math.Modf(b.LastUpdate)
			ts = time.Unix(int64(sec), int64(frac*1e9))
		} else {
			ts = time.Unix(0, 0)
		}
		h.set(angle, math.Max(0, b.Weight), ts)
	}
	return h, nil
}

// Load restores a heat map from store. It never fails: a missing, unreadable
// or corrupted map yields an empty one and a warning.
func Load(ctx context.Context, store Store, cfg Config) *HeatMap {
	logger := log.Component("heatmap")
	if store == nil {
		return New(cfg)
	}

	data, err := store.Load(ctx)
	if err != nil {
		logger.Warn("heat map load failed, starting empty", "error", err)
		return New(cfg)
	}
	h, err := Decode(data, cfg)
	if err != nil {
		logger.Warn("heat map corrupted, starting empty", "error", err)
		return New(cfg)
	}
	logger.Info("heat map loaded", "buckets", h.Len())
	return h
}

// Save serializes h into store.
func Save(ctx context.Context, store Store, h *HeatMap) error {
	if store == nil {
		return nil
	}
	data, err := json.Marshal(h)
	if err != nil {
		return fmt.Errorf("encode heat map: %w", err)
	}
	return store.Save(ctx, data)
}

// SaveFile writes h to path.
func SaveFile(path string, h *HeatMap) error {
	return Save(context.Background(), NewFileStore(path), h)
}

// LoadFile reads a heat map from path, falling back to an empty one.
func LoadFile(path string, cfg Config) *HeatMap {
	return Load(context.Background(), NewFileStore(path), cfg)
}
