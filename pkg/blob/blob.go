// Package blob abstracts the file-like storage that delimited connectors read
// from and write to. Every Store is rooted: keys are slash-separated paths
// relative to the configured root (local directory, bucket prefix or remote
// SFTP directory).
package blob

import (
	"context"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/ajitpratap0/interlink/pkg/config"
	"github.com/ajitpratap0/interlink/pkg/errors"
)

// Kinds of store
const (
	KindLocal = "local"
	KindS3    = "s3"
	KindGCS   = "gcs"
	KindMinIO = "minio"
	KindSFTP  = "sftp"
)

// Object describes one stored file
type Object struct {
	Key     string
	Size    int64
	ModTime time.Time
}

// Store is a flat key/value view over a directory tree.
type Store interface {
	// List returns the files directly under dir, sorted by key.
	List(ctx context.Context, dir string) ([]Object, error)
	// Read returns the full content of key. Missing keys yield not_found.
	Read(ctx context.Context, key string) ([]byte, error)
	// Write creates or replaces key.
	Write(ctx context.Context, key string, data []byte) error
	// Copy duplicates from into to, replacing to.
	Copy(ctx context.Context, from, to string) error
	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
	// Close releases connections
	Close() error
}

// Config selects and configures a store. It is decoded from adapter settings.
type Config struct {
	Kind string `mapstructure:"storage"`
	// Root is the local directory, the key prefix inside a bucket or the remote SFTP directory
	Root string `mapstructure:"root"`

	// object storage
	Bucket          string `mapstructure:"bucket"`
	Region          string `mapstructure:"region"`
	Endpoint        string `mapstructure:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	UseSSL          bool   `mapstructure:"use_ssl"`
	CredentialsFile string `mapstructure:"credentials_file"`

	// sftp
	Host                  string        `mapstructure:"host"`
	Port                  int           `mapstructure:"port"`
	Username              string        `mapstructure:"username"`
	Password              string        `mapstructure:"password"`
	PrivateKeyFile        string        `mapstructure:"private_key_file"`
	KnownHostsFile        string        `mapstructure:"known_hosts_file"`
	InsecureIgnoreHostKey bool          `mapstructure:"insecure_ignore_host_key"`
	DialTimeout           time.Duration `mapstructure:"dial_timeout"`
}

// ConfigFromSettings decodes a store configuration from adapter settings.
// defaultKind applies when the settings do not name one.
func ConfigFromSettings(settings map[string]string, defaultKind string) (Config, error) {
	cfg := Config{Kind: defaultKind, Port: 22, UseSSL: true, DialTimeout: 10 * time.Second}
	if err := config.Decode(settings, &cfg); err != nil {
		return cfg, errors.Wrap(err, errors.ErrorTypeConfig, "invalid storage settings")
	}
	return cfg, cfg.Validate()
}

// Validate checks the fields required by the selected kind.
func (c Config) Validate() error {
	switch c.Kind {
	case KindLocal:
		if c.Root == "" {
			return errors.New(errors.ErrorTypeConfig, "root is required for local storage")
		}
	case KindS3, KindGCS:
		if c.Bucket == "" {
			return errors.Newf(errors.ErrorTypeConfig, "bucket is required for %s storage", c.Kind)
		}
	case KindMinIO:
		if c.Bucket == "" || c.Endpoint == "" {
			return errors.New(errors.ErrorTypeConfig, "bucket and endpoint are required for minio storage")
		}
	case KindSFTP:
		if c.Host == "" || c.Username == "" {
			return errors.New(errors.ErrorTypeConfig, "host and username are required for sftp storage")
		}
		if c.Password == "" && c.PrivateKeyFile == "" {
			return errors.New(errors.ErrorTypeConfig, "password or private_key_file is required for sftp storage")
		}
		if c.KnownHostsFile == "" && !c.InsecureIgnoreHostKey {
			return errors.New(errors.ErrorTypeConfig, "known_hosts_file is required unless insecure_ignore_host_key is set")
		}
	default:
		return errors.Newf(errors.ErrorTypeConfig, "unknown storage kind %q", c.Kind)
	}
	return nil
}

// Open connects the store described by cfg.
func Open(ctx context.Context, cfg Config) (Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	switch cfg.Kind {
	case KindLocal:
		return NewLocal(cfg.Root)
	case KindS3:
		return NewS3(ctx, cfg)
	case KindGCS:
		return NewGCS(ctx, cfg)
	case KindMinIO:
		return NewMinIO(cfg)
	case KindSFTP:
		return NewSFTP(ctx, cfg)
	}
	return nil, errors.Newf(errors.ErrorTypeConfig, "unknown storage kind %q", cfg.Kind)
}

// Move copies from to to and deletes from.
func Move(ctx context.Context, s Store, from, to string) error {
	if err := s.Copy(ctx, from, to); err != nil {
		return err
	}
	return s.Delete(ctx, from)
}

// prefixed joins a bucket prefix and a relative key.
func prefixed(root, key string) string {
	return strings.TrimPrefix(path.Join(root, key), "/")
}

// relative strips the bucket prefix from a full key.
func relative(root, full string) string {
	root = strings.Trim(root, "/")
	if root == "" {
		return full
	}
	return strings.TrimPrefix(strings.TrimPrefix(full, root), "/")
}

// dirPrefix returns the listing prefix for a directory, with a trailing slash.
func dirPrefix(root, dir string) string {
	p := prefixed(root, dir)
	if p == "" {
		return ""
	}
	return p + "/"
}

func sortObjects(objs []Object) []Object {
	sort.Slice(objs, func(i, j int) bool { return objs[i].Key < objs[j].Key })
	return objs
}
