package oauth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Session is one pending login attempt.
type Session struct {
	Provider  string    `json:"provider"`
	Key       string    `json:"key"`
	State     string    `json:"state"`
	Verifier  string    `json:"verifier"`
	CreatedAt time.Time `json:"created_at"`
}

// SessionBackend stores pending sessions. Take must remove and return a
// session atomically so that two callbacks can never both consume it.
type SessionBackend interface {
	// Put stores s under key, replacing any live session there.
	Put(ctx context.Context, key string, s Session, ttl time.Duration) error
	// Take removes and returns the session for key. It returns (nil, nil)
	// when there is none or it has expired.
	Take(ctx context.Context, key string) (*Session, error)
}

type timedSession struct {
	session   Session
	expiresAt time.Time
}

// MemorySessions keeps sessions in process memory. Expired sessions are
// ignored on read and removed by a periodic sweep.
type MemorySessions struct {
	entries sync.Map
	now     func() time.Time

	sweepInterval time.Duration
	stop          chan struct{}
	done          chan struct{}
	closeOnce     sync.Once
}

// MemoryOption configures MemorySessions.
type MemoryOption func(*MemorySessions)

// WithSweepInterval sets how often expired sessions are purged.
func WithSweepInterval(d time.Duration) MemoryOption {
	return func(m *MemorySessions) { m.sweepInterval = d }
}

// WithMemoryClock overrides the clock used for expiry.
func WithMemoryClock(now func() time.Time) MemoryOption {
	return func(m *MemorySessions) { m.now = now }
}

// NewMemorySessions creates an in-memory backend and starts its sweeper.
// Call Close to stop it.
func NewMemorySessions(opts ...MemoryOption) *MemorySessions {
	m := &MemorySessions{
		now:           time.Now,
		sweepInterval: time.Minute,
		stop:          make(chan struct{}),
		done:          make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	go m.sweepLoop()
	return m
}

// Put implements SessionBackend.
func (m *MemorySessions) Put(_ context.Context, key string, s Session, ttl time.Duration) error {
	m.entries.Store(key, timedSession{session: s, expiresAt: m.now().Add(ttl)})
	return nil
}

// Take implements SessionBackend.
func (m *MemorySessions) Take(_ context.Context, key string) (*Session, error) {
	v, ok := m.entries.LoadAndDelete(key)
	if !ok {
		return nil, nil
	}
	e := v.(timedSession)
	if !m.now().Before(e.expiresAt) {
		return nil, nil
	}
	return &e.session, nil
}

// Len returns the number of stored sessions, expired ones included.
func (m *MemorySessions) Len() int {
	n := 0
	m.entries.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}

// Sweep removes expired sessions.
func (m *MemorySessions) Sweep() {
	now := m.now()
	m.entries.Range(func(k, v any) bool {
		if !now.Before(v.(timedSession).expiresAt) {
			m.entries.CompareAndDelete(k, v)
		}
		return true
	})
}

// Close stops the sweeper.
func (m *MemorySessions) Close() error {
	m.closeOnce.Do(func() {
		close(m.stop)
		<-m.done
	})
	return nil
}

func (m *MemorySessions) sweepLoop() {
	defer close(m.done)

	ticker := time.NewTicker(m.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.Sweep()
		case <-m.stop:
			return
		}
	}
}

// RedisSessions stores sessions in redis with a native key TTL.
type RedisSessions struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisSessions creates a redis backend storing keys under prefix.
func NewRedisSessions(client redis.UniversalClient, prefix string) *RedisSessions {
	return &RedisSessions{client: client, prefix: prefix}
}

// Put implements SessionBackend.
func (r *RedisSessions) Put(ctx context.Context, key string, s Session, ttl time.Duration) error {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}
	if err := r.client.Set(ctx, r.prefix+key, data, ttl).Err(); err != nil {
		return fmt.Errorf("failed to store session: %w", err)
	}
	return nil
}

// Take implements SessionBackend using GETDEL.
func (r *RedisSessions) Take(ctx context.Context, key string) (*Session, error) {
	data, err := r.client.GetDel(ctx, r.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to take session: %w", err)
	}
	var s Session
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session: %w", err)
	}
	return &s, nil
}
