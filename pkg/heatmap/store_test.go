package heatmap

import (
	"context"
	"encoding/json"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileStore_RoundTrip(t *testing.T) {
	h, _ := newTestMap(t)
	h.RecordEvent(45, EventDetection, 1.0)
	h.RecordEvent(135, EventEntry, 0.5)
	h.RecordEvent(90, EventDetection, 0.3)

	path := filepath.Join(t.TempDir(), "state", "heatmap.json")
	if err := SaveFile(path, h); err != nil {
		t.Fatalf("SaveFile failed: %v", err)
	}

	restored := LoadFile(path, h.Config())
	if restored.Len() != 3 {
		t.Fatalf("Expected 3 buckets after reload, got %d", restored.Len())
	}
	want, got := h.OrderedBuckets(), restored.OrderedBuckets()
	if len(got) != len(want) {
		t.Fatalf("Expected order %v after reload, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Bucket %d: expected %v, got %v", i, want[i], got[i])
		}
	}
	for _, angle := range []float64{45, 90, 135} {
		if math.Abs(restored.Weight(angle)-h.Weight(angle)) > 1e-9 {
			t.Errorf("Expected weight %v at %v°, got %v", h.Weight(angle), angle, restored.Weight(angle))
		}
	}

	entries, _ := os.ReadDir(filepath.Dir(path))
	if len(entries) != 1 {
		t.Errorf("Expected only the heat map file after save, got %d entries", len(entries))
	}
}

func TestFileStore_MissingFile(t *testing.T) {
	h := LoadFile(filepath.Join(t.TempDir(), "nope.json"), DefaultConfig())
	if h.Len() != 0 {
		t.Errorf("Expected empty map for missing file, got %d buckets", h.Len())
	}
}

func TestLoad_CorruptedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "heatmap.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}

	h := LoadFile(path, DefaultConfig())
	if h == nil || h.Len() != 0 {
		t.Errorf("Expected empty map for corrupted file")
	}
}

func TestDecode_Tolerant(t *testing.T) {
	data := []byte(`{
		"45": {"weight": 2.5, "last_update": 1700000000.5, "extra": true},
		"95": {"weight": -3, "last_update": 1700000000},
		"abc": {"weight": 1, "last_update": 1700000000},
		"135": {"last_update": 1700000000},
		"165": {"weight": 0.75}
	}`)

	h, err := Decode(data, DefaultConfig())
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if h.Weight(45) != 2.5 {
		t.Errorf("Expected weight 2.5 at 45°, got %v", h.Weight(45))
	}
	if h.Weight(95) != 0 {
		t.Errorf("Expected negative weight clamped away, got %v", h.Weight(95))
	}
	if h.Weight(165) != 0.75 {
		t.Errorf("Expected weight 0.75 with missing timestamp, got %v", h.Weight(165))
	}
	if h.Len() != 2 {
		t.Errorf("Expected 2 usable buckets, got %d", h.Len())
	}
}

func TestMarshalJSON_Format(t *testing.T) {
	h, clk := newTestMap(t)
	h.RecordEvent(45, EventDetection, 1.0)

	data, err := json.Marshal(h)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}

	var raw map[string]map[string]float64
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("Expected object of objects, got %s", data)
	}
	b, ok := raw["45"]
	if !ok {
		t.Fatalf("Expected key \"45\", got %s", data)
	}
	if b["weight"] != 1.0 {
		t.Errorf("Expected weight 1.0, got %v", b["weight"])
	}
	if int64(b["last_update"]) != clk.now.Unix() {
		t.Errorf("Expected last_update %d, got %v", clk.now.Unix(), b["last_update"])
	}
}

func setupTestRedis(t *testing.T) (*miniredis.Miniredis, *RedisStore) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return mr, NewRedisStore(client, "test:heatmap")
}

func TestRedisStore_RoundTrip(t *testing.T) {
	mr, store := setupTestRedis(t)
	ctx := context.Background()

	h, _ := newTestMap(t)
	h.RecordEvent(75, EventDetection, 0.9)
	h.RecordEvent(25, EventDetection, 0.4)
	require.NoError(t, Save(ctx, store, h))
	assert.True(t, mr.Exists("test:heatmap"))

	restored := Load(ctx, store, h.Config())
	require.Equal(t, 2, restored.Len())
	assert.InDelta(t, 0.9, restored.Weight(75), 1e-9)
	assert.Equal(t, h.OrderedBuckets(), restored.OrderedBuckets())
}

func TestRedisStore_MissingKey(t *testing.T) {
	_, store := setupTestRedis(t)

	data, err := store.Load(context.Background())
	require.NoError(t, err)
	assert.Nil(t, data)

	h := Load(context.Background(), store, DefaultConfig())
	assert.Equal(t, 0, h.Len())
}

func TestRedisStore_Corrupted(t *testing.T) {
	mr, store := setupTestRedis(t)
	require.NoError(t, mr.Set("test:heatmap", "garbage"))

	h := Load(context.Background(), store, DefaultConfig())
	assert.Equal(t, 0, h.Len())
}

func TestRedisStore_Unavailable(t *testing.T) {
	mr, store := setupTestRedis(t)
	mr.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	h := Load(ctx, store, DefaultConfig())
	assert.Equal(t, 0, h.Len())
	assert.Error(t, store.Save(ctx, []byte("{}")))
}

func TestRedisStore_DefaultKey(t *testing.T) {
	store := NewRedisStore(redis.NewClient(&redis.Options{Addr: "127.0.0.1:0"}), "")
	defer store.client.Close()
	assert.Equal(t, DefaultRedisKey, store.Key())
}
