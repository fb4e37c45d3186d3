package ledger

import (
	"context"
	stderrors "errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/c360/bookrec/errors"
)

// ErrNoSnapshot is returned by Load when no snapshot has been saved yet.
var ErrNoSnapshot = stderrors.New("no snapshot exists")

// SnapshotStore persists opaque ledger snapshots. Save must be atomic: a
// reader never observes a partially written snapshot.
type SnapshotStore interface {
	Save(ctx context.Context, data []byte) error
	Load(ctx context.Context) ([]byte, error)
}

// MemoryStore keeps the snapshot in memory. For tests and dry runs.
type MemoryStore struct {
	mu   sync.Mutex
	data []byte
}

// NewMemoryStore creates an empty in-memory snapshot store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (m *MemoryStore) Save(_ context.Context, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data = append([]byte(nil), data...)
	return nil
}

func (m *MemoryStore) Load(_ context.Context) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.data == nil {
		return nil, ErrNoSnapshot
	}
	return append([]byte(nil), m.data...), nil
}

// FileStore persists the snapshot to a single file. Writes go to a temp
// file in the same directory and are renamed into place, so a crash
// mid-write leaves the previous snapshot intact.
type FileStore struct {
	path string
}

// NewFileStore creates a file-backed snapshot store at path.
func NewFileStore(path string) (*FileStore, error) {
	if path == "" {
		return nil, errors.WrapConfig(errors.ErrInvalidConfig, "FileStore", "NewFileStore", "path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, errors.WrapConfig(err, "FileStore", "NewFileStore", "create snapshot directory")
	}
	return &FileStore{path: path}, nil
}

func (f *FileStore) Save(_ context.Context, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(f.path), filepath.Base(f.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp snapshot: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp snapshot: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync temp snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp snapshot: %w", err)
	}
	if err := os.Rename(tmpName, f.path); err != nil {
		return fmt.Errorf("replace snapshot: %w", err)
	}
	return nil
}

func (f *FileStore) Load(_ context.Context) ([]byte, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNoSnapshot
		}
		return nil, fmt.Errorf("read snapshot: %w", err)
	}
	return data, nil
}

// kvSnapshotKey is the single key used in the KV bucket. KV puts are
// atomic per key, which gives the snapshot its consistency.
const kvSnapshotKey = "checkpoint"

// KVStore persists the snapshot in a NATS JetStream KV bucket, sharing
// durability with the rest of the deployment.
type KVStore struct {
	kv jetstream.KeyValue
}

// NewKVStore creates a snapshot store backed by an existing KV bucket.
func NewKVStore(kv jetstream.KeyValue) (*KVStore, error) {
	if kv == nil {
		return nil, errors.WrapConfig(errors.ErrInvalidConfig, "KVStore", "NewKVStore", "kv bucket is required")
	}
	return &KVStore{kv: kv}, nil
}

func (s *KVStore) Save(ctx context.Context, data []byte) error {
	if _, err := s.kv.Put(ctx, kvSnapshotKey, data); err != nil {
		return fmt.Errorf("put snapshot: %w", err)
	}
	return nil
}

func (s *KVStore) Load(ctx context.Context) ([]byte, error) {
	entry, err := s.kv.Get(ctx, kvSnapshotKey)
	if err != nil {
		if stderrors.Is(err, jetstream.ErrKeyNotFound) {
			return nil, ErrNoSnapshot
		}
		return nil, fmt.Errorf("get snapshot: %w", err)
	}
	return entry.Value(), nil
}
