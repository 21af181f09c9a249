package users

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/redis/go-redis/v9"
)

// maxTxRetries bounds optimistic update retries under contention
const maxTxRetries = 10

// RedisStore keeps users as json values of a redis hash keyed by email
type RedisStore struct {
	client *redis.Client
	key    string
}

// NewRedisStore returns a store using the hash at key, which may be empty
func NewRedisStore(client *redis.Client, key string) *RedisStore {
	if key == "" {
		key = "xeroinvoice:users"
	}
	return &RedisStore{client: client, key: key}
}

// Get returns the user with email, or ErrNotFound
func (r *RedisStore) Get(ctx context.Context, email string) (User, error) {
	b, err := r.client.HGet(ctx, r.key, NormaliseEmail(email)).Bytes()
	if errors.Is(err, redis.Nil) {
		return User{}, ErrNotFound
	}
	if err != nil {
		return User{}, err
	}
	var u User
	if err := json.Unmarshal(b, &u); err != nil {
		return User{}, err
	}
	return u, nil
}

// Create uses HSETNX so that of concurrent sign ups with one email only
// one succeeds
func (r *RedisStore) Create(ctx context.Context, u User) error {
	b, err := json.Marshal(u)
	if err != nil {
		return err
	}
	ok, err := r.client.HSetNX(ctx, r.key, NormaliseEmail(u.Email), b).Result()
	if err != nil {
		return err
	}
	if !ok {
		return ErrExists
	}
	return nil
}

// Update watches the hash and retries if another writer changes it
// between the read and the write
func (r *RedisStore) Update(ctx context.Context, email string, fn func(User) (User, error)) error {
	field := NormaliseEmail(email)
	txf := func(tx *redis.Tx) error {
		b, err := tx.HGet(ctx, r.key, field).Bytes()
		if errors.Is(err, redis.Nil) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		var u User
		if err := json.Unmarshal(b, &u); err != nil {
			return err
		}
		u, err = fn(u)
		if err != nil {
			return err
		}
		nb, err := json.Marshal(u)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, r.key, field, nb)
			return nil
		})
		return err
	}

	for i := 0; i < maxTxRetries; i++ {
		err := r.client.Watch(ctx, txf, r.key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return err
	}
	return redis.TxFailedErr
}
