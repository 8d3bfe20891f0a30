package blob

import (
	"bytes"
	"context"
	"io"

	"cloud.google.com/go/storage"
	"github.com/ajitpratap0/interlink/pkg/errors"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

// GCS stores files in a Google Cloud Storage bucket.
type GCS struct {
	client *storage.Client
	bucket *storage.BucketHandle
	root   string
}

// NewGCS uses application default credentials unless a credentials file is set.
func NewGCS(ctx context.Context, cfg Config) (*GCS, error) {
	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	if cfg.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(cfg.Endpoint), option.WithoutAuthentication())
	}

	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "failed to create GCS client")
	}
	return &GCS{client: client, bucket: client.Bucket(cfg.Bucket), root: cfg.Root}, nil
}

// List returns the objects directly under dir
func (g *GCS) List(ctx context.Context, dir string) ([]Object, error) {
	prefix := dirPrefix(g.root, dir)
	it := g.bucket.Objects(ctx, &storage.Query{Prefix: prefix, Delimiter: "/"})

	var objs []Object
	for {
		attrs, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeConnectivity, "failed to list objects")
		}
		// synthetic directory entries carry only Prefix
		if attrs.Name == "" || attrs.Name == prefix {
			continue
		}
		objs = append(objs, Object{Key: relative(g.root, attrs.Name), Size: attrs.Size, ModTime: attrs.Updated})
	}
	return sortObjects(objs), nil
}

// Read downloads key
func (g *GCS) Read(ctx context.Context, key string) ([]byte, error) {
	r, err := g.bucket.Object(prefixed(g.root, key)).NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, errors.Newf(errors.ErrorTypeNotFound, "object %s not found", key)
		}
		return nil, errors.Wrap(err, errors.ErrorTypeConnectivity, "failed to open object")
	}
	defer r.Close()

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConnectivity, "failed to read object")
	}
	return data, nil
}

// Write uploads key
func (g *GCS) Write(ctx context.Context, key string, data []byte) error {
	w := g.bucket.Object(prefixed(g.root, key)).NewWriter(ctx)
	if _, err := io.Copy(w, bytes.NewReader(data)); err != nil {
		w.Close()
		return errors.Wrap(err, errors.ErrorTypeConnectivity, "failed to write object")
	}
	if err := w.Close(); err != nil {
		return errors.Wrap(err, errors.ErrorTypeConnectivity, "failed to finalize object")
	}
	return nil
}

// Copy copies server-side
func (g *GCS) Copy(ctx context.Context, from, to string) error {
	src := g.bucket.Object(prefixed(g.root, from))
	dst := g.bucket.Object(prefixed(g.root, to))
	if _, err := dst.CopierFrom(src).Run(ctx); err != nil {
		return errors.Wrap(err, errors.ErrorTypeConnectivity, "failed to copy object")
	}
	return nil
}

// Delete removes key
func (g *GCS) Delete(ctx context.Context, key string) error {
	err := g.bucket.Object(prefixed(g.root, key)).Delete(ctx)
	if err != nil && !errors.Is(err, storage.ErrObjectNotExist) {
		return errors.Wrap(err, errors.ErrorTypeConnectivity, "failed to delete object")
	}
	return nil
}

// Close releases the client
func (g *GCS) Close() error {
	return g.client.Close()
}
