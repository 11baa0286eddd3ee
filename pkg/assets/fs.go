package assets

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/weftlabs/weft/pkg/models"
)

// FSStore keeps assets on the local filesystem under
// root/<namespace>/YYYY/MM/DD/<id><ext>, with a <id>.json sidecar holding
// the metadata. Asset ids are ULIDs, so the date partition is derived from
// the id itself and lookups need no index.
type FSStore struct {
	root string
}

// NewFSStore creates the root directory if needed.
func NewFSStore(root string) (*FSStore, error) {
	if root == "" {
		return nil, fmt.Errorf("asset root directory not configured")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create asset root: %w", err)
	}
	return &FSStore{root: root}, nil
}

// Put writes the blob to a temp file, fsync-free atomic-renames it into
// place, then writes the sidecar. The sidecar rename is the commit point.
func (s *FSStore) Put(ctx context.Context, in PutInput) (*Asset, error) {
	id := models.NewID()
	dir := filepath.Join(s.root, nsDir(in.Namespace), datePath(id))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create asset dir: %w", err)
	}

	blobPath := filepath.Join(dir, id+extensionForMIME(in.MIME))
	tmpPath := blobPath + ".tmp"
	f, err := os.Create(tmpPath)
	if err != nil {
		return nil, fmt.Errorf("create temp file: %w", err)
	}

	hasher := sha256.New()
	size, err := io.Copy(f, io.TeeReader(in.Data, hasher))
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(tmpPath)
		return nil, fmt.Errorf("write asset: %w", err)
	}
	if err := os.Rename(tmpPath, blobPath); err != nil {
		os.Remove(tmpPath)
		return nil, fmt.Errorf("rename asset: %w", err)
	}

	asset := &Asset{
		ID:        id,
		Namespace: in.Namespace,
		Name:      in.Name,
		MIME:      in.MIME,
		Size:      size,
		SHA256:    hex.EncodeToString(hasher.Sum(nil)),
		CreatedAt: time.Now().UTC(),
	}
	if err := s.writeSidecar(dir, id, asset); err != nil {
		os.Remove(blobPath)
		return nil, err
	}
	return asset, nil
}

func (s *FSStore) writeSidecar(dir, id string, asset *Asset) error {
	data, err := json.Marshal(asset)
	if err != nil {
		return fmt.Errorf("marshal asset metadata: %w", err)
	}
	sidecar := filepath.Join(dir, id+".meta.json")
	tmp := sidecar + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write asset metadata: %w", err)
	}
	if err := os.Rename(tmp, sidecar); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename asset metadata: %w", err)
	}
	return nil
}

// Get reads the sidecar for metadata, then opens the blob.
func (s *FSStore) Get(ctx context.Context, namespace, id string) (*Asset, io.ReadCloser, error) {
	asset, dir, err := s.readSidecar(namespace, id)
	if err != nil {
		return nil, nil, err
	}
	f, err := os.Open(filepath.Join(dir, id+extensionForMIME(asset.MIME)))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil, fmt.Errorf("%w: %s", ErrAssetNotFound, id)
		}
		return nil, nil, fmt.Errorf("open asset: %w", err)
	}
	return asset, f, nil
}

// Exists checks the sidecar.
func (s *FSStore) Exists(ctx context.Context, namespace, id string) (bool, error) {
	_, _, err := s.readSidecar(namespace, id)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, ErrAssetNotFound):
		return false, nil
	default:
		return false, err
	}
}

// Delete removes the blob and its sidecar. Deleting a missing asset is
// not an error.
func (s *FSStore) Delete(ctx context.Context, namespace, id string) error {
	asset, dir, err := s.readSidecar(namespace, id)
	if err != nil {
		if errors.Is(err, ErrAssetNotFound) {
			return nil
		}
		return err
	}
	if err := os.Remove(filepath.Join(dir, id+extensionForMIME(asset.MIME))); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove asset: %w", err)
	}
	if err := os.Remove(filepath.Join(dir, id+".meta.json")); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove asset metadata: %w", err)
	}
	return nil
}

// URL has no filesystem form.
func (s *FSStore) URL(ctx context.Context, namespace, id string) (string, error) {
	return "", nil
}

func (s *FSStore) readSidecar(namespace, id string) (*Asset, string, error) {
	date, err := datePathChecked(id)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %s", ErrAssetNotFound, id)
	}
	dir := filepath.Join(s.root, nsDir(namespace), date)
	data, err := os.ReadFile(filepath.Join(dir, id+".meta.json"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, "", fmt.Errorf("%w: %s", ErrAssetNotFound, id)
		}
		return nil, "", fmt.Errorf("read asset metadata: %w", err)
	}
	var asset Asset
	if err := json.Unmarshal(data, &asset); err != nil {
		return nil, "", fmt.Errorf("decode asset metadata: %w", err)
	}
	return &asset, dir, nil
}

// datePath derives YYYY/MM/DD from the ULID's embedded timestamp.
func datePath(id string) string {
	p, _ := datePathChecked(id)
	return p
}

func datePathChecked(id string) (string, error) {
	u, err := ulid.ParseStrict(id)
	if err != nil {
		return "", err
	}
	t := ulid.Time(u.Time()).UTC()
	return fmt.Sprintf("%04d/%02d/%02d", t.Year(), t.Month(), t.Day()), nil
}

// nsDir maps a namespace to a directory name. Namespaces never contain
// path separators by construction, but guard anyway.
func nsDir(namespace string) string {
	if namespace == "" {
		return "default"
	}
	return strings.ReplaceAll(namespace, string(filepath.Separator), "_")
}

// extensionForMIME returns a file extension for a MIME type.
func extensionForMIME(mimeType string) string {
	switch mimeType {
	case "image/png":
		return ".png"
	case "image/jpeg":
		return ".jpg"
	case "image/gif":
		return ".gif"
	case "image/webp":
		return ".webp"
	case "audio/mpeg":
		return ".mp3"
	case "audio/wav":
		return ".wav"
	case "application/pdf":
		return ".pdf"
	case "text/plain":
		return ".txt"
	case "text/markdown":
		return ".md"
	case "application/json":
		return ".json"
	default:
		return ".dat"
	}
}
