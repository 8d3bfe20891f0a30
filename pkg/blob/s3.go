package blob

import (
	"bytes"
	"context"
	"io"
	"net/url"
	"path"

	"github.com/ajitpratap0/interlink/pkg/errors"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// S3 stores files in an S3 bucket (or any S3-compatible endpoint).
type S3 struct {
	client   *s3.Client
	uploader *manager.Uploader
	bucket   string
	root     string
}

// NewS3 loads the default AWS configuration, overridden by static
// credentials and a custom endpoint when configured.
func NewS3(ctx context.Context, cfg Config) (*S3, error) {
	opts := []func(*awsconfig.LoadOptions) error{}
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	if cfg.AccessKeyID != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "failed to load AWS configuration")
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})

	return &S3{
		client:   client,
		uploader: manager.NewUploader(client),
		bucket:   cfg.Bucket,
		root:     cfg.Root,
	}, nil
}

// List returns the objects directly under dir
func (s *S3) List(ctx context.Context, dir string) ([]Object, error) {
	prefix := dirPrefix(s.root, dir)
	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket:    aws.String(s.bucket),
		Prefix:    aws.String(prefix),
		Delimiter: aws.String("/"),
	})

	var objs []Object
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeConnectivity, "failed to list objects")
		}
		for _, o := range page.Contents {
			key := aws.ToString(o.Key)
			if key == prefix {
				continue
			}
			objs = append(objs, Object{
				Key:     relative(s.root, key),
				Size:    aws.ToInt64(o.Size),
				ModTime: aws.ToTime(o.LastModified),
			})
		}
	}
	return sortObjects(objs), nil
}

// Read downloads key
func (s *S3) Read(ctx context.Context, key string) ([]byte, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(prefixed(s.root, key)),
	})
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, errors.Newf(errors.ErrorTypeNotFound, "object %s not found", key)
		}
		return nil, errors.Wrap(err, errors.ErrorTypeConnectivity, "failed to get object")
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConnectivity, "failed to read object")
	}
	return data, nil
}

// Write uploads key through the multipart uploader
func (s *S3) Write(ctx context.Context, key string, data []byte) error {
	_, err := s.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(prefixed(s.root, key)),
		Body:   bytes.NewReader(data),
	})
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeConnectivity, "failed to upload object")
	}
	return nil
}

// Copy copies server-side
func (s *S3) Copy(ctx context.Context, from, to string) error {
	source := path.Join(s.bucket, prefixed(s.root, from))
	_, err := s.client.CopyObject(ctx, &s3.CopyObjectInput{
		Bucket:     aws.String(s.bucket),
		Key:        aws.String(prefixed(s.root, to)),
		CopySource: aws.String(url.PathEscape(source)),
	})
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeConnectivity, "failed to copy object")
	}
	return nil
}

// Delete removes key
func (s *S3) Delete(ctx context.Context, key string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(prefixed(s.root, key)),
	})
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeConnectivity, "failed to delete object")
	}
	return nil
}

// Close is a no-op; the SDK client holds no connections of its own
func (s *S3) Close() error { return nil }
