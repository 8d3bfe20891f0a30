package blob

import (
	"context"
	"io/fs"
	"os"
	"path"
	"path/filepath"

	"github.com/ajitpratap0/interlink/pkg/errors"
)

// Local stores files under a directory on the local filesystem.
type Local struct {
	root string
}

// NewLocal creates root if needed.
func NewLocal(root string) (*Local, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "failed to create storage root")
	}
	return &Local{root: root}, nil
}

func (l *Local) path(key string) string {
	return filepath.Join(l.root, filepath.FromSlash(path.Clean("/"+key)))
}

// List returns the regular files directly under dir.
func (l *Local) List(_ context.Context, dir string) ([]Object, error) {
	entries, err := os.ReadDir(l.path(dir))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, errors.Wrap(err, errors.ErrorTypeConnectivity, "failed to list directory")
	}

	objs := make([]Object, 0, len(entries))
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		objs = append(objs, Object{Key: path.Join(dir, e.Name()), Size: info.Size(), ModTime: info.ModTime()})
	}
	return sortObjects(objs), nil
}

// Read returns the content of key
func (l *Local) Read(_ context.Context, key string) ([]byte, error) {
	data, err := os.ReadFile(l.path(key))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, errors.Newf(errors.ErrorTypeNotFound, "file %s not found", key)
		}
		return nil, errors.Wrap(err, errors.ErrorTypeConnectivity, "failed to read file")
	}
	return data, nil
}

// Write replaces key atomically through a temporary file in the same directory.
func (l *Local) Write(_ context.Context, key string, data []byte) error {
	target := l.path(key)
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return errors.Wrap(err, errors.ErrorTypeConnectivity, "failed to create directory")
	}
	tmp, err := os.CreateTemp(filepath.Dir(target), ".tmp-*")
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeConnectivity, "failed to create temporary file")
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return errors.Wrap(err, errors.ErrorTypeConnectivity, "failed to write file")
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrap(err, errors.ErrorTypeConnectivity, "failed to write file")
	}
	if err := os.Rename(tmp.Name(), target); err != nil {
		return errors.Wrap(err, errors.ErrorTypeConnectivity, "failed to rename file")
	}
	return nil
}

// Copy duplicates from into to
func (l *Local) Copy(ctx context.Context, from, to string) error {
	data, err := l.Read(ctx, from)
	if err != nil {
		return err
	}
	return l.Write(ctx, to, data)
}

// Delete removes key
func (l *Local) Delete(_ context.Context, key string) error {
	if err := os.Remove(l.path(key)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return errors.Wrap(err, errors.ErrorTypeConnectivity, "failed to delete file")
	}
	return nil
}

// Close is a no-op
func (l *Local) Close() error { return nil }
