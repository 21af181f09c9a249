package users

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
)

// FileStore keeps users as a json array in a file. Each read-modify-write
// holds the store's mutex and the file is replaced by rename, so a
// reader never sees a partial write. Only one process may use a file.
type FileStore struct {
	path string
	mu   sync.Mutex
}

// NewFileStore returns a store backed by path, which need not exist
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

func (f *FileStore) load() ([]User, error) {
	b, err := os.ReadFile(f.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if len(b) == 0 {
		return nil, nil
	}
	var users []User
	if err := json.Unmarshal(b, &users); err != nil {
		return nil, fmt.Errorf("user file %s: %w", f.path, err)
	}
	return users, nil
}

func (f *FileStore) save(users []User) error {
	if users == nil {
		users = []User{}
	}
	b, err := json.MarshalIndent(users, "", "  ")
	if err != nil {
		return err
	}
	return writeFileAtomic(f.path, b, 0o600)
}

func find(users []User, email string) int {
	for i, u := range users {
		if NormaliseEmail(u.Email) == email {
			return i
		}
	}
	return -1
}

// Get returns the user with email, or ErrNotFound
func (f *FileStore) Get(_ context.Context, email string) (User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	users, err := f.load()
	if err != nil {
		return User{}, err
	}
	i := find(users, NormaliseEmail(email))
	if i < 0 {
		return User{}, ErrNotFound
	}
	return users[i], nil
}

// Create appends u, or returns ErrExists
func (f *FileStore) Create(_ context.Context, u User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	users, err := f.load()
	if err != nil {
		return err
	}
	if find(users, NormaliseEmail(u.Email)) >= 0 {
		return ErrExists
	}
	return f.save(append(users, u))
}

// Update rewrites the user with email as returned by fn
func (f *FileStore) Update(_ context.Context, email string, fn func(User) (User, error)) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	users, err := f.load()
	if err != nil {
		return err
	}
	i := find(users, NormaliseEmail(email))
	if i < 0 {
		return ErrNotFound
	}
	u, err := fn(users[i])
	if err != nil {
		return err
	}
	users[i] = u
	return f.save(users)
}

// writeFileAtomic writes data to a temporary file beside path and renames
// it over path
func writeFileAtomic(path string, data []byte, perm fs.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("mkdir %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, ".users-*")
	if err != nil {
		return fmt.Errorf("create temp: %w", err)
	}
	tmpPath := tmp.Name()
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
	}()

	if _, err := tmp.Write(data); err != nil {
		return fmt.Errorf("write temp: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("fsync temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp: %w", err)
	}
	_ = os.Chmod(tmpPath, perm)
	return os.Rename(tmpPath, path)
}
