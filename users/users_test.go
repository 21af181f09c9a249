package users

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	mr "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rorycl/xeroinvoiceserver/apierror"
	"github.com/rorycl/xeroinvoiceserver/token"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func newRedisStore(t *testing.T) *RedisStore {
	t.Helper()
	m, err := mr.Run()
	require.NoError(t, err)
	t.Cleanup(m.Close)
	client := redis.NewClient(&redis.Options{Addr: m.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisStore(client, "test:users")
}

// stores returns a fresh instance of each store implementation
func stores(t *testing.T) map[string]Store {
	return map[string]Store{
		"file":  NewFileStore(filepath.Join(t.TempDir(), "users.json")),
		"redis": newRedisStore(t),
	}
}

var maple = SignUpInput{FirstName: "Maple", LastName: "Florist", Email: "maple@example.com", Password: "correct horse"}

func TestSignUpAndSignIn(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			svc := NewService(store, WithCost(bcrypt.MinCost))
			ctx := context.Background()

			u, err := svc.SignUp(ctx, maple)
			require.NoError(t, err)
			assert.Equal(t, "maple@example.com", u.Email)
			assert.NotEqual(t, maple.Password, u.Password, "passwords are hashed")

			got, err := svc.SignIn(ctx, "Maple@Example.com", "correct horse")
			require.NoError(t, err)
			assert.Equal(t, "Maple", got.FirstName)

			_, err = svc.SignIn(ctx, "maple@example.com", "wrong password")
			assert.Equal(t, apierror.InvalidCredentials, apierror.KindOf(err))

			_, err = svc.SignIn(ctx, "nobody@example.com", "correct horse")
			assert.Equal(t, apierror.InvalidCredentials, apierror.KindOf(err))
		})
	}
}

func TestSignUpDuplicate(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			svc := NewService(store, WithCost(bcrypt.MinCost))
			ctx := context.Background()

			_, err := svc.SignUp(ctx, maple)
			require.NoError(t, err)

			dup := maple
			dup.Email = " MAPLE@example.com"
			dup.FirstName = "Impostor"
			_, err = svc.SignUp(ctx, dup)
			assert.Equal(t, apierror.EmailTaken, apierror.KindOf(err))

			got, err := store.Get(ctx, "maple@example.com")
			require.NoError(t, err)
			assert.Equal(t, "Maple", got.FirstName, "the first account is untouched")
		})
	}
}

func TestSignUpInvalid(t *testing.T) {
	svc := NewService(NewFileStore(filepath.Join(t.TempDir(), "users.json")), WithCost(bcrypt.MinCost))

	tests := map[string]SignUpInput{
		"no name":        {Email: "a@example.com", Password: "12345678"},
		"bad email":      {FirstName: "A", Email: "a", Password: "12345678"},
		"short password": {FirstName: "A", Email: "a@example.com", Password: "1234"},
	}
	for name, in := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := svc.SignUp(context.Background(), in)
			assert.Equal(t, apierror.InvalidInput, apierror.KindOf(err))
		})
	}
}

func TestFileStoreRecords(t *testing.T) {
	path := filepath.Join(t.TempDir(), "users.json")
	svc := NewService(NewFileStore(path), WithCost(bcrypt.MinCost))
	ctx := context.Background()

	records := func() []map[string]any {
		b, err := os.ReadFile(path)
		require.NoError(t, err)
		var out []map[string]any
		require.NoError(t, json.Unmarshal(b, &out))
		return out
	}

	_, err := svc.SignUp(ctx, maple)
	require.NoError(t, err)
	require.Len(t, records(), 1)
	assert.Equal(t, "Maple", records()[0]["fname"])
	assert.Equal(t, "Florist", records()[0]["lname"])
	assert.NotContains(t, records()[0], "tokenSet")

	_, err = svc.SignUp(ctx, maple)
	require.Error(t, err)
	assert.Len(t, records(), 1, "a duplicate writes nothing")

	other := maple
	other.Email = "other@example.com"
	_, err = svc.SignUp(ctx, other)
	require.NoError(t, err)
	assert.Len(t, records(), 2, "a new email appends exactly one record")
}

func TestFileStoreEmptyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "users.json")
	require.NoError(t, os.WriteFile(path, nil, 0o600))

	_, err := NewFileStore(path).Get(context.Background(), "a@example.com")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFileStoreCorrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "users.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))

	err := NewFileStore(path).Create(context.Background(), User{Email: "a@example.com"})
	assert.Error(t, err)
}

func TestConcurrentSignUps(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			svc := NewService(store, WithCost(bcrypt.MinCost))
			ctx := context.Background()

			const n = 20
			var wg sync.WaitGroup
			errs := make([]error, n)
			for i := 0; i < n; i++ {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					in := maple
					in.Email = fmt.Sprintf("user%d@example.com", i)
					_, errs[i] = svc.SignUp(ctx, in)
				}(i)
			}
			wg.Wait()
			for i := 0; i < n; i++ {
				require.NoError(t, errs[i])
				_, err := store.Get(ctx, fmt.Sprintf("user%d@example.com", i))
				assert.NoError(t, err, "no sign up is lost")
			}

			// the same email from many requests is created once
			var created int
			var mu sync.Mutex
			for i := 0; i < n; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					if _, err := svc.SignUp(ctx, maple); err == nil {
						mu.Lock()
						created++
						mu.Unlock()
					}
				}()
			}
			wg.Wait()
			assert.Equal(t, 1, created)
		})
	}
}

func TestAttachTokenSet(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			svc := NewService(store, WithCost(bcrypt.MinCost))
			ctx := context.Background()
			_, err := svc.SignUp(ctx, maple)
			require.NoError(t, err)

			set := token.Set{
				AccessToken:  "at",
				RefreshToken: "rt",
				TokenType:    "Bearer",
				Expiry:       time.Date(2024, 3, 28, 10, 0, 0, 0, time.UTC),
			}
			require.NoError(t, svc.AttachTokenSet(ctx, "maple@example.com", set))

			u, err := svc.SignIn(ctx, "maple@example.com", "correct horse")
			require.NoError(t, err)
			require.NotNil(t, u.TokenSet)
			assert.Equal(t, "rt", u.TokenSet.RefreshToken)
			assert.True(t, set.Expiry.Equal(u.TokenSet.Expiry))

			require.NoError(t, svc.AttachTokenSet(ctx, "maple@example.com", token.Set{}))
			u, err = store.Get(ctx, "maple@example.com")
			require.NoError(t, err)
			assert.Nil(t, u.TokenSet)

			err = svc.AttachTokenSet(ctx, "nobody@example.com", set)
			assert.Equal(t, apierror.NotFound, apierror.KindOf(err))
		})
	}
}

func TestRedisStoreConcurrentUpdates(t *testing.T) {
	store := newRedisStore(t)
	ctx := context.Background()
	require.NoError(t, store.Create(ctx, User{Email: "maple@example.com", FirstName: "0"}))

	const n = 8
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = store.Update(ctx, "maple@example.com", func(u User) (User, error) {
				var count int
				fmt.Sscanf(u.FirstName, "%d", &count)
				u.FirstName = fmt.Sprint(count + 1)
				return u, nil
			})
		}()
	}
	wg.Wait()

	u, err := store.Get(ctx, "maple@example.com")
	require.NoError(t, err)
	assert.Equal(t, fmt.Sprint(n), u.FirstName, "no update is lost")
}
