package cacheinfra

import (
	"fmt"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Capacity != 10000 {
		t.Errorf("expected Capacity to be 10000, got %d", cfg.Capacity)
	}

	if cfg.NumShards != 64 {
		t.Errorf("expected NumShards to be 64, got %d", cfg.NumShards)
	}

	if cfg.TTL != 0 {
		t.Errorf("expected TTL to be disabled, got %v", cfg.TTL)
	}

	if cfg.EvictionPercentage != 10 {
		t.Errorf("expected EvictionPercentage to be 10, got %d", cfg.EvictionPercentage)
	}

	if err := cfg.Validate(); err != nil {
		t.Errorf("expected default config to be valid, got %v", err)
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name      string
		cfg       Config
		wantError bool
		errorMsg  string
	}{
		{
			name:      "valid default config",
			cfg:       DefaultConfig(),
			wantError: false,
		},
		{
			name: "invalid capacity - zero",
			cfg: Config{
				Capacity:           0,
				NumShards:          8,
				EvictionPercentage: 10,
			},
			wantError: true,
			errorMsg:  "Capacity",
		},
		{
			name: "invalid num shards - zero",
			cfg: Config{
				Capacity:           1000,
				NumShards:          0,
				EvictionPercentage: 10,
			},
			wantError: true,
			errorMsg:  "NumShards",
		},
		{
			name: "invalid num shards - above capacity",
			cfg: Config{
				Capacity:           4,
				NumShards:          8,
				EvictionPercentage: 10,
			},
			wantError: true,
			errorMsg:  "must not exceed Capacity",
		},
		{
			name: "invalid TTL - negative",
			cfg: Config{
				Capacity:           1000,
				NumShards:          8,
				TTL:                -time.Second,
				EvictionPercentage: 10,
			},
			wantError: true,
			errorMsg:  "TTL",
		},
		{
			name: "invalid eviction percentage - too low",
			cfg: Config{
				Capacity:           1000,
				NumShards:          8,
				EvictionPercentage: 0,
			},
			wantError: true,
			errorMsg:  "must be between 1 and 100",
		},
		{
			name: "invalid eviction percentage - too high",
			cfg: Config{
				Capacity:           1000,
				NumShards:          8,
				EvictionPercentage: 101,
			},
			wantError: true,
			errorMsg:  "must be between 1 and 100",
		},
		{
			name: "invalid eviction interval",
			cfg: Config{
				Capacity:           1000,
				NumShards:          8,
				EvictionPercentage: 10,
				EvictionInterval:   -time.Second,
			},
			wantError: true,
			errorMsg:  "EvictionInterval",
		},
		{
			name: "zero TTL disables expiry",
			cfg: Config{
				Capacity:           1000,
				NumShards:          8,
				EvictionPercentage: 10,
			},
			wantError: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantError {
				if err == nil {
					t.Fatalf("expected error but got nil")
				}
				if !strings.Contains(err.Error(), tt.errorMsg) {
					t.Errorf("expected error to contain %q, got %q", tt.errorMsg, err.Error())
				}
				if _, ok := err.(*ConfigError); !ok {
					t.Errorf("expected *ConfigError, got %T", err)
				}
				return
			}
			if err != nil {
				t.Errorf("expected no error but got: %v", err)
			}
		})
	}
}

func TestConfig_ToSturdycOptions(t *testing.T) {
	cfg := DefaultConfig()
	if got := len(cfg.ToSturdycOptions()); got != 0 {
		t.Errorf("expected no options for default config, got %d", got)
	}

	cfg.EvictionInterval = time.Minute
	if got := len(cfg.ToSturdycOptions()); got != 1 {
		t.Errorf("expected eviction interval option, got %d options", got)
	}
}

func TestNewMemoryStore_InvalidConfig(t *testing.T) {
	_, err := NewMemoryStore(Config{})
	if err == nil {
		t.Fatal("expected error for zero config")
	}
}

func TestMemoryStore_SetGetDelete(t *testing.T) {
	store, err := NewMemoryStore(DefaultConfig())
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}

	if _, ok := store.Get("missing"); ok {
		t.Fatal("expected miss on empty store")
	}

	store.Set("a", []string{"x"})
	value, ok := store.Get("a")
	if !ok {
		t.Fatal("expected hit after Set")
	}
	if diff := cmp.Diff([]string{"x"}, value); diff != "" {
		t.Errorf("unexpected value (-want +got):\n%s", diff)
	}

	store.Set("a", "replaced")
	if value, _ := store.Get("a"); value != "replaced" {
		t.Errorf("expected replaced value, got %v", value)
	}

	removed, ok := store.Delete("a")
	if !ok || removed != "replaced" {
		t.Errorf("expected Delete to return previous value, got %v (%v)", removed, ok)
	}
	if _, ok := store.Delete("a"); ok {
		t.Error("expected second Delete to report a miss")
	}
}

func TestMemoryStore_ClearAndSize(t *testing.T) {
	store, err := NewMemoryStore(Config{Capacity: 100, NumShards: 4, EvictionPercentage: 10})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}

	for i := 0; i < 5; i++ {
		store.Set(fmt.Sprintf("key-%d", i), i)
	}

	if got := store.Size(); got != 5 {
		t.Errorf("expected size 5, got %d", got)
	}

	keys := store.Keys()
	sort.Strings(keys)
	want := []string{"key-0", "key-1", "key-2", "key-3", "key-4"}
	if diff := cmp.Diff(want, keys); diff != "" {
		t.Errorf("unexpected keys (-want +got):\n%s", diff)
	}

	store.Clear()
	if got := store.Size(); got != 0 {
		t.Errorf("expected empty store after Clear, got %d", got)
	}
}

func TestMemoryStore_Expiry(t *testing.T) {
	store, err := NewMemoryStore(Config{
		Capacity:           10,
		NumShards:          1,
		TTL:                20 * time.Millisecond,
		EvictionPercentage: 10,
	})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}

	store.Set("k", 1)
	time.Sleep(50 * time.Millisecond)

	if _, ok := store.Get("k"); ok {
		t.Error("expected entry to expire")
	}
}
