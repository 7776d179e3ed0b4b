package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestMemoryStore_SetGet(t *testing.T) {
	s := NewMemoryStore(time.Minute)
	defer s.Close()

	ctx := context.Background()

	_, ok := s.Get(ctx, "missing")
	assert.False(t, ok, "missing key should report absent")

	s.Set(ctx, "k", "v", time.Minute)
	val, ok := s.Get(ctx, "k")
	assert.True(t, ok)
	assert.Equal(t, "v", val)

	s.Set(ctx, "k", "v2", time.Minute)
	val, _ = s.Get(ctx, "k")
	assert.Equal(t, "v2", val, "set should overwrite")
}

func TestMemoryStore_Expiry(t *testing.T) {
	s := NewMemoryStore(time.Minute)
	defer s.Close()

	ctx := context.Background()

	s.Set(ctx, "short", "v", 10*time.Millisecond)
	_, ok := s.Get(ctx, "short")
	assert.True(t, ok, "entry should be readable before expiry")

	time.Sleep(25 * time.Millisecond)

	_, ok = s.Get(ctx, "short")
	assert.False(t, ok, "entry should expire after its TTL")
}

func TestMemoryStore_ZeroTTLNeverExpires(t *testing.T) {
	s := NewMemoryStore(10 * time.Millisecond)
	defer s.Close()

	ctx := context.Background()

	s.Set(ctx, "forever", "v", 0)
	time.Sleep(30 * time.Millisecond)

	val, ok := s.Get(ctx, "forever")
	assert.True(t, ok, "zero TTL entries must survive cleanup sweeps")
	assert.Equal(t, "v", val)
}
