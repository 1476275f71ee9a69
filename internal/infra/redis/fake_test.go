//go:build !integration

package redis

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
)

// fakeRedis is an in-memory RedisClient. TTLs are recorded, not enforced.
type fakeRedis struct {
	mu   sync.Mutex
	kv   map[string]string
	ttl  map[string]time.Duration
	subs map[string][]*fakeSub
	// Err, when set, is returned by every call.
	Err error
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{kv: map[string]string{}, ttl: map[string]time.Duration{}, subs: map[string][]*fakeSub{}}
}

func toString(v interface{}) string {
	switch t := v.(type) {
	case string:
		return t
	case []byte:
		return string(t)
	default:
		return fmt.Sprint(t)
	}
}

func (f *fakeRedis) Ping(ctx context.Context) error { return f.Err }

func (f *fakeRedis) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	if f.Err != nil {
		return f.Err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.kv[key] = toString(value)
	f.ttl[key] = expiration
	return nil
}

func (f *fakeRedis) Get(ctx context.Context, key string) (string, error) {
	if f.Err != nil {
		return "", f.Err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.kv[key]
	if !ok {
		return "", redis.Nil
	}
	return v, nil
}

func (f *fakeRedis) Incr(ctx context.Context, key string) (int64, error) {
	if f.Err != nil {
		return 0, f.Err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	fmt.Sscan(f.kv[key], &n)
	n++
	f.kv[key] = fmt.Sprint(n)
	return n, nil
}

func (f *fakeRedis) Expire(ctx context.Context, key string, expiration time.Duration) error {
	if f.Err != nil {
		return f.Err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ttl[key] = expiration
	return nil
}

func (f *fakeRedis) Del(ctx context.Context, keys ...string) error {
	if f.Err != nil {
		return f.Err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, k := range keys {
		delete(f.kv, k)
		delete(f.ttl, k)
	}
	return nil
}

func (f *fakeRedis) SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) (bool, error) {
	if f.Err != nil {
		return false, f.Err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.kv[key]; ok {
		return false, nil
	}
	f.kv[key] = toString(value)
	f.ttl[key] = expiration
	return true, nil
}

func (f *fakeRedis) DelIfEquals(ctx context.Context, key, value string) error {
	if f.Err != nil {
		return f.Err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.kv[key] == value {
		delete(f.kv, key)
	}
	return nil
}

func (f *fakeRedis) Publish(ctx context.Context, channel string, message interface{}) error {
	if f.Err != nil {
		return f.Err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range f.subs[channel] {
		s.ch <- &redis.Message{Channel: channel, Payload: toString(message)}
	}
	return nil
}

type fakeSub struct{ ch chan *redis.Message }

func (s *fakeSub) Channel() <-chan *redis.Message { return s.ch }
func (s *fakeSub) Close() error                   { return nil }

func (f *fakeRedis) Subscribe(ctx context.Context, channel string) (Subscription, error) {
	if f.Err != nil {
		return nil, f.Err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	s := &fakeSub{ch: make(chan *redis.Message, 64)}
	f.subs[channel] = append(f.subs[channel], s)
	return s, nil
}

func (f *fakeRedis) subscribers(channel string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs[channel])
}

func (f *fakeRedis) Close() error { return nil }
