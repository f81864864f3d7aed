package hydro

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

const (
	DriverFilesystem = "fs"
	DriverS3         = "s3"
)

// ArtifactInfo describes a stored windowed table or report.
type ArtifactInfo struct {
	Key          string
	Size         int64
	SHA256       string
	LastModified time.Time
}

// ArtifactStore persists pipeline artifacts under flat keys such as
// "001_rd181211_h19.csv". Put replaces an existing key.
type ArtifactStore interface {
	Put(ctx context.Context, key string, body []byte) (ArtifactInfo, error)
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	Exists(ctx context.Context, key string) (bool, error)
	List(ctx context.Context, prefix string) ([]ArtifactInfo, error)
	Driver() string
}

// FileStore keeps artifacts as plain files in one directory.
type FileStore struct {
	dir string
}

func NewFileStore(dir string) (*FileStore, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, fmt.Errorf("artifact dir is empty")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &FileStore{dir: dir}, nil
}

func (s *FileStore) Driver() string { return DriverFilesystem }

func (s *FileStore) Dir() string { return s.dir }

func checkKey(key string) error {
	if strings.TrimSpace(key) == "" {
		return fmt.Errorf("empty key")
	}
	if strings.ContainsAny(key, `/\`) || strings.Contains(key, "..") {
		return fmt.Errorf("invalid key %q", key)
	}
	return nil
}

// Put writes to a temp file in the target directory and renames it over the
// destination, so readers never see a half-written table.
func (s *FileStore) Put(ctx context.Context, key string, body []byte) (ArtifactInfo, error) {
	if err := checkKey(key); err != nil {
		return ArtifactInfo{}, err
	}
	tmp, err := os.CreateTemp(s.dir, ".tmp-*")
	if err != nil {
		return ArtifactInfo{}, err
	}
	tmpPath := tmp.Name()
	defer func() { _ = os.Remove(tmpPath) }()
	_, copyErr := io.Copy(tmp, bytes.NewReader(body))
	closeErr := tmp.Close()
	if copyErr != nil {
		return ArtifactInfo{}, copyErr
	}
	if closeErr != nil {
		return ArtifactInfo{}, closeErr
	}
	dst := filepath.Join(s.dir, key)
	if err := ReplaceFile(tmpPath, dst); err != nil {
		return ArtifactInfo{}, err
	}
	sum := sha256.Sum256(body)
	return ArtifactInfo{Key: key, Size: int64(len(body)), SHA256: hex.EncodeToString(sum[:]), LastModified: time.Now().UTC()}, nil
}

func (s *FileStore) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	if err := checkKey(key); err != nil {
		return nil, err
	}
	return os.Open(filepath.Join(s.dir, key))
}

func (s *FileStore) Exists(ctx context.Context, key string) (bool, error) {
	if err := checkKey(key); err != nil {
		return false, err
	}
	info, err := os.Stat(filepath.Join(s.dir, key))
	if err == nil {
		return !info.IsDir(), nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, err
}

// List returns the regular files whose names start with prefix, sorted by key.
func (s *FileStore) List(ctx context.Context, prefix string) ([]ArtifactInfo, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, err
	}
	var out []ArtifactInfo
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || strings.HasPrefix(name, ".tmp-") || !strings.HasPrefix(name, prefix) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			return nil, err
		}
		out = append(out, ArtifactInfo{Key: name, Size: info.Size(), LastModified: info.ModTime().UTC()})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

// ListKeys is a convenience over List for name-based lookups.
func ListKeys(ctx context.Context, store ArtifactStore, prefix string) ([]string, error) {
	infos, err := store.List(ctx, prefix)
	if err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(infos))
	for _, info := range infos {
		keys = append(keys, info.Key)
	}
	return keys, nil
}
