package jobcache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"
)

func TestMemory(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return now }

	if _, err := m.Get(ctx, "a"); !errors.Is(err, ErrMiss) {
		t.Errorf("Get(missing) err = %v, want ErrMiss", err)
	}

	_ = m.Set(ctx, "a", []byte("one"), time.Minute)
	_ = m.Set(ctx, "b", []byte("two"), 0)

	if v, err := m.Get(ctx, "a"); err != nil || string(v) != "one" {
		t.Errorf("Get(a) = %q, %v", v, err)
	}

	now = now.Add(2 * time.Minute)
	if _, err := m.Get(ctx, "a"); !errors.Is(err, ErrMiss) {
		t.Errorf("Get(expired) err = %v, want ErrMiss", err)
	}
	if v, err := m.Get(ctx, "b"); err != nil || string(v) != "two" {
		t.Errorf("Get(b) = %q, %v", v, err)
	}
}

func TestRedis_Key(t *testing.T) {
	r := NewRedisWithClient(redis.NewClient(&redis.Options{Addr: "localhost:0"}), "pagegen:")
	defer r.Close()
	if got := r.key("abc"); got != "pagegen:job:abc" {
		t.Errorf("key = %q", got)
	}
}

func TestNewRedis_InvalidURL(t *testing.T) {
	if _, err := NewRedis(context.Background(), "not a url", ""); err == nil {
		t.Error("NewRedis with invalid URL should fail")
	}
}
