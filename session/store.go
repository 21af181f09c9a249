package session

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"github.com/redis/go-redis/v9"
)

// DefaultTTL is how long an idle session is kept
const DefaultTTL = 24 * time.Hour

// ErrNotFound is returned for unknown or expired sessions
var ErrNotFound = errors.New("session not found")

// Store persists sessions by id. Put overwrites.
type Store interface {
	Get(ctx context.Context, id string) (Session, error)
	Put(ctx context.Context, s Session) error
	Delete(ctx context.Context, id string) error
}

// MemoryStore keeps sessions in process
type MemoryStore struct {
	c *gocache.Cache
}

// NewMemoryStore returns a store whose sessions expire ttl after their
// last Put
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &MemoryStore{c: gocache.New(ttl, time.Minute)}
}

// Get returns the session with id, or ErrNotFound
func (m *MemoryStore) Get(_ context.Context, id string) (Session, error) {
	v, ok := m.c.Get(id)
	if !ok {
		return Session{}, ErrNotFound
	}
	s, _ := v.(Session)
	return s, nil
}

// Put stores s, restarting its ttl
func (m *MemoryStore) Put(_ context.Context, s Session) error {
	m.c.Set(s.ID, s, gocache.DefaultExpiration)
	return nil
}

// Delete removes the session with id
func (m *MemoryStore) Delete(_ context.Context, id string) error {
	m.c.Delete(id)
	return nil
}

// RedisStore keeps sessions as json under "<prefix><id>"
type RedisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisStore creates a redis session store. Prefix may be empty.
func NewRedisStore(client *redis.Client, prefix string, ttl time.Duration) *RedisStore {
	if prefix == "" {
		prefix = "xeroinvoice:session:"
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisStore{client: client, prefix: prefix, ttl: ttl}
}

func (r *RedisStore) key(id string) string {
	return r.prefix + id
}

// Get returns the session with id, or ErrNotFound
func (r *RedisStore) Get(ctx context.Context, id string) (Session, error) {
	b, err := r.client.Get(ctx, r.key(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Session{}, ErrNotFound
		}
		return Session{}, err
	}
	var s Session
	if err := json.Unmarshal(b, &s); err != nil {
		return Session{}, err
	}
	return s, nil
}

// Put stores s as json, restarting its ttl
func (r *RedisStore) Put(ctx context.Context, s Session) error {
	b, err := json.Marshal(s)
	if err != nil {
		return err
	}
	return r.client.Set(ctx, r.key(s.ID), b, r.ttl).Err()
}

// Delete removes the session with id
func (r *RedisStore) Delete(ctx context.Context, id string) error {
	return r.client.Del(ctx, r.key(id)).Err()
}
