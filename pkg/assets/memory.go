package assets

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"sync"
	"time"

	"github.com/weftlabs/weft/pkg/models"
)

// MemoryStore keeps assets in process memory. It backs tests and
// single-process deployments that do not need durability.
type MemoryStore struct {
	mu     sync.RWMutex
	assets map[string]*Asset
	blobs  map[string][]byte
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		assets: make(map[string]*Asset),
		blobs:  make(map[string][]byte),
	}
}

func memKey(namespace, id string) string { return namespace + "\x00" + id }

// Put buffers the data and records a copy of the metadata.
func (s *MemoryStore) Put(ctx context.Context, in PutInput) (*Asset, error) {
	data, err := io.ReadAll(in.Data)
	if err != nil {
		return nil, err
	}
	sum := sha256.Sum256(data)
	asset := &Asset{
		ID:        models.NewID(),
		Namespace: in.Namespace,
		Name:      in.Name,
		MIME:      in.MIME,
		Size:      int64(len(data)),
		SHA256:    hex.EncodeToString(sum[:]),
		CreatedAt: time.Now().UTC(),
	}

	s.mu.Lock()
	s.assets[memKey(in.Namespace, asset.ID)] = asset
	s.blobs[memKey(in.Namespace, asset.ID)] = data
	s.mu.Unlock()

	cp := *asset
	return &cp, nil
}

// Get returns copies so callers cannot mutate stored state.
func (s *MemoryStore) Get(ctx context.Context, namespace, id string) (*Asset, io.ReadCloser, error) {
	s.mu.RLock()
	asset, ok := s.assets[memKey(namespace, id)]
	blob := s.blobs[memKey(namespace, id)]
	s.mu.RUnlock()
	if !ok {
		return nil, nil, ErrAssetNotFound
	}
	cp := *asset
	return &cp, io.NopCloser(bytes.NewReader(blob)), nil
}

// Exists reports whether the asset is present.
func (s *MemoryStore) Exists(ctx context.Context, namespace, id string) (bool, error) {
	s.mu.RLock()
	_, ok := s.assets[memKey(namespace, id)]
	s.mu.RUnlock()
	return ok, nil
}

// Delete drops the asset; missing assets are a no-op.
func (s *MemoryStore) Delete(ctx context.Context, namespace, id string) error {
	s.mu.Lock()
	delete(s.assets, memKey(namespace, id))
	delete(s.blobs, memKey(namespace, id))
	s.mu.Unlock()
	return nil
}

// URL has no in-memory form.
func (s *MemoryStore) URL(ctx context.Context, namespace, id string) (string, error) {
	return "", nil
}
