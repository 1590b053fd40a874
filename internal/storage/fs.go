package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"framevault/internal/artifact"
)

// FSStore keeps one envelope file per artifact under a directory. Uploads go
// through a temp file and rename so readers never see a partial write.
type FSStore struct {
	dir string
}

// OpenFS creates (if needed) and opens a filesystem-backed store rooted at dir.
func OpenFS(dir string) (*FSStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating artifact directory: %w", err)
	}
	return &FSStore{dir: dir}, nil
}

func (s *FSStore) path(itemID int64) string {
	return filepath.Join(s.dir, fmt.Sprintf("item-%d.fva", itemID))
}

func (s *FSStore) Upload(ctx context.Context, a *artifact.Artifact) error {
	data, err := artifact.Encode(a)
	if err != nil {
		return fmt.Errorf("encoding artifact %d: %w", a.ItemID, err)
	}

	tmp, err := os.CreateTemp(s.dir, fmt.Sprintf(".item-%d-*", a.ItemID))
	if err != nil {
		return fmt.Errorf("uploading artifact %d: %w", a.ItemID, err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("uploading artifact %d: %w", a.ItemID, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("uploading artifact %d: %w", a.ItemID, err)
	}
	if err := os.Rename(tmpName, s.path(a.ItemID)); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("uploading artifact %d: %w", a.ItemID, err)
	}
	return nil
}

func (s *FSStore) Download(ctx context.Context, itemID int64) (*artifact.Artifact, error) {
	data, err := os.ReadFile(s.path(itemID))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("downloading artifact %d: %w", itemID, err)
	}

	a, err := artifact.Decode(data)
	if err != nil {
		return nil, fmt.Errorf("decoding artifact %d: %w", itemID, err)
	}
	return a, nil
}

// Stat parses only the envelope header, leaving the frame payloads on disk.
func (s *FSStore) Stat(ctx context.Context, itemID int64) (*artifact.Meta, error) {
	f, err := os.Open(s.path(itemID))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("reading artifact %d metadata: %w", itemID, err)
	}
	defer f.Close()

	m, err := artifact.DecodeMeta(f)
	if err != nil {
		return nil, fmt.Errorf("reading artifact %d metadata: %w", itemID, err)
	}
	return m, nil
}

func (s *FSStore) List(ctx context.Context) ([]Descriptor, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("listing artifacts: %w", err)
	}

	var result []Descriptor
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasPrefix(name, "item-") || !strings.HasSuffix(name, ".fva") {
			continue
		}
		id, err := strconv.ParseInt(strings.TrimSuffix(strings.TrimPrefix(name, "item-"), ".fva"), 10, 64)
		if err != nil {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			return nil, fmt.Errorf("stat %s: %w", name, err)
		}
		result = append(result, Descriptor{ItemID: id, LastModified: info.ModTime().UTC()})
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ItemID < result[j].ItemID })
	return result, nil
}

func (s *FSStore) Delete(ctx context.Context, itemID int64) error {
	err := os.Remove(s.path(itemID))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("deleting artifact %d: %w", itemID, err)
	}
	return nil
}

func (s *FSStore) Location(itemID int64) string {
	return "file://" + s.path(itemID)
}

func (s *FSStore) Close() error {
	return nil
}
