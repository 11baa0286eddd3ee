// Package assets stores binary artifacts produced during runs (tool
// output, uploads) and resolves "asset://" references into inline data
// or URLs before messages reach an LLM provider.
//
// Three backends exist: a filesystem store with date-partitioned
// directories and atomic writes, an S3-compatible store (AWS, MinIO),
// and an in-memory store for tests.
package assets

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/weftlabs/weft/pkg/config"
)

// RefScheme prefixes every asset reference.
const RefScheme = "asset://"

var (
	// ErrAssetNotFound is returned when a reference resolves to nothing.
	ErrAssetNotFound = errors.New("asset not found")
	// ErrInvalidRef is returned for references that do not parse.
	ErrInvalidRef = errors.New("invalid asset reference")
)

// Asset describes a stored artifact.
type Asset struct {
	ID        string    `json:"id"`
	Namespace string    `json:"namespace,omitempty"`
	Name      string    `json:"name,omitempty"`
	MIME      string    `json:"mime,omitempty"`
	Size      int64     `json:"size"`
	SHA256    string    `json:"sha256,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Ref returns the asset's "asset://" reference.
func (a *Asset) Ref() string {
	return BuildRef(a.Namespace, a.ID)
}

// PutInput carries everything needed to store an asset. The ID is always
// generated by the store.
type PutInput struct {
	Namespace string
	Name      string
	MIME      string
	Data      io.Reader
}

// Store is the backend contract. Implementations must never mutate data
// handed to them and must make Put atomic: a reader either sees the whole
// asset or ErrAssetNotFound, never a partial write.
type Store interface {
	Put(ctx context.Context, in PutInput) (*Asset, error)
	Get(ctx context.Context, namespace, id string) (*Asset, io.ReadCloser, error)
	Exists(ctx context.Context, namespace, id string) (bool, error)
	Delete(ctx context.Context, namespace, id string) error

	// URL returns an externally fetchable URL for the asset, or "" when the
	// backend has no URL form (filesystem without a public base).
	URL(ctx context.Context, namespace, id string) (string, error)
}

// New builds the store selected by cfg.Backend.
func New(ctx context.Context, cfg *config.AssetConfig) (Store, error) {
	switch cfg.Backend {
	case "fs":
		return NewFSStore(cfg.Root)
	case "s3":
		return NewS3Store(ctx, cfg)
	case "memory":
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown asset backend %q", cfg.Backend)
	}
}

// BuildRef builds "asset://<namespace>/<id>", omitting the namespace
// segment when empty.
func BuildRef(namespace, id string) string {
	if namespace == "" {
		return RefScheme + id
	}
	return RefScheme + namespace + "/" + id
}

// ParseRef splits an "asset://" reference into namespace and id. The id is
// everything after the last slash; references without a slash have an
// empty namespace.
func ParseRef(ref string) (namespace, id string, err error) {
	rest, ok := strings.CutPrefix(ref, RefScheme)
	if !ok || rest == "" {
		return "", "", fmt.Errorf("%w: %q", ErrInvalidRef, ref)
	}
	if i := strings.LastIndex(rest, "/"); i >= 0 {
		namespace, id = rest[:i], rest[i+1:]
	} else {
		id = rest
	}
	if id == "" {
		return "", "", fmt.Errorf("%w: %q", ErrInvalidRef, ref)
	}
	return namespace, id, nil
}

// IsRef reports whether s looks like an asset reference.
func IsRef(s string) bool {
	return strings.HasPrefix(s, RefScheme)
}
