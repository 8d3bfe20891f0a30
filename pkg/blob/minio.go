package blob

import (
	"bytes"
	"context"
	"io"

	"github.com/ajitpratap0/interlink/pkg/errors"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// MinIO stores files in a MinIO bucket.
type MinIO struct {
	client *minio.Client
	bucket string
	root   string
}

// NewMinIO creates a client with static credentials
func NewMinIO(cfg Config) (*MinIO, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "failed to create MinIO client")
	}
	return &MinIO{client: client, bucket: cfg.Bucket, root: cfg.Root}, nil
}

// List returns the objects directly under dir
func (m *MinIO) List(ctx context.Context, dir string) ([]Object, error) {
	prefix := dirPrefix(m.root, dir)
	var objs []Object
	for info := range m.client.ListObjects(ctx, m.bucket, minio.ListObjectsOptions{Prefix: prefix}) {
		if info.Err != nil {
			return nil, errors.Wrap(info.Err, errors.ErrorTypeConnectivity, "failed to list objects")
		}
		// common prefixes end in "/"
		if info.Key == prefix || len(info.Key) > 0 && info.Key[len(info.Key)-1] == '/' {
			continue
		}
		objs = append(objs, Object{Key: relative(m.root, info.Key), Size: info.Size, ModTime: info.LastModified})
	}
	return sortObjects(objs), nil
}

// Read downloads key
func (m *MinIO) Read(ctx context.Context, key string) ([]byte, error) {
	obj, err := m.client.GetObject(ctx, m.bucket, prefixed(m.root, key), minio.GetObjectOptions{})
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConnectivity, "failed to get object")
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return nil, errors.Newf(errors.ErrorTypeNotFound, "object %s not found", key)
		}
		return nil, errors.Wrap(err, errors.ErrorTypeConnectivity, "failed to read object")
	}
	return data, nil
}

// Write uploads key
func (m *MinIO) Write(ctx context.Context, key string, data []byte) error {
	_, err := m.client.PutObject(ctx, m.bucket, prefixed(m.root, key), bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: "application/octet-stream"})
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeConnectivity, "failed to put object")
	}
	return nil
}

// Copy copies server-side
func (m *MinIO) Copy(ctx context.Context, from, to string) error {
	_, err := m.client.CopyObject(ctx,
		minio.CopyDestOptions{Bucket: m.bucket, Object: prefixed(m.root, to)},
		minio.CopySrcOptions{Bucket: m.bucket, Object: prefixed(m.root, from)})
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeConnectivity, "failed to copy object")
	}
	return nil
}

// Delete removes key
func (m *MinIO) Delete(ctx context.Context, key string) error {
	if err := m.client.RemoveObject(ctx, m.bucket, prefixed(m.root, key), minio.RemoveObjectOptions{}); err != nil {
		return errors.Wrap(err, errors.ErrorTypeConnectivity, "failed to remove object")
	}
	return nil
}

// Close is a no-op
func (m *MinIO) Close() error { return nil }
