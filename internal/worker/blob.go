package worker

import (
	"context"
	"io"
	"os"
	"path/filepath"
)

// BlobStore persists result blobs and returns a URI the scheduler records
// verbatim. The core never interprets the URI.
type BlobStore interface {
	Put(ctx context.Context, name string, r io.Reader) (string, error)
}

// DirStore writes blobs into a directory, typically a mounted bucket or
// shared volume, and returns file:// URIs.
type DirStore struct {
	dir string
}

func NewDirStore(dir string) (*DirStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &DirStore{dir: dir}, nil
}

func (d *DirStore) Put(ctx context.Context, name string, r io.Reader) (string, error) {
	path := filepath.Join(d.dir, name)
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		os.Remove(tmp)
		return "", err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return "", err
	}
	if err := os.Rename(tmp, path); err != nil {
		return "", err
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	return "file://" + abs, nil
}
