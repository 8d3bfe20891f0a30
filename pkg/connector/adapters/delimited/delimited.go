// Package delimited implements the file-delimited and sftp connectors. Both
// exchange separator-delimited text files through a blob.Store laid out as
// incoming/, processed/, error/ and outgoing/ folders under the locator.
package delimited

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"strings"

	"github.com/ajitpratap0/interlink/pkg/blob"
	"github.com/ajitpratap0/interlink/pkg/compression"
	"github.com/ajitpratap0/interlink/pkg/config"
	"github.com/ajitpratap0/interlink/pkg/connector/base"
	"github.com/ajitpratap0/interlink/pkg/connector/core"
	"github.com/ajitpratap0/interlink/pkg/connector/registry"
	"github.com/ajitpratap0/interlink/pkg/debatch"
	"github.com/ajitpratap0/interlink/pkg/errors"
	"github.com/ajitpratap0/interlink/pkg/models"
	"github.com/ajitpratap0/interlink/pkg/schema"
	"go.uber.org/zap"
)

// schemaSampleRows bounds how many rows GetSchema inspects
const schemaSampleRows = 500

var settingKeys = []string{
	"storage", "root", "pattern", "separator", "header", "tolerate_row_shape", "compression", "extension",
	"incoming_dir", "processed_dir", "error_dir", "outgoing_dir",
}

func init() {
	registry.Register(core.Info{
		Type:          models.AdapterFileDelimited,
		Description:   "Delimited text files on local disk or object storage",
		SupportsRead:  true,
		SupportsWrite: true,
		Settings:      settingKeys,
	}, factory(blob.KindLocal))
	registry.Register(core.Info{
		Type:          models.AdapterSFTP,
		Description:   "Delimited text files on a remote SFTP server",
		SupportsRead:  true,
		SupportsWrite: true,
		Settings:      append(settingKeys, "host", "port", "username", "password", "private_key_file", "known_hosts_file"),
	}, factory(blob.KindSFTP))
}

// Settings configures the connector
type Settings struct {
	config.ConnectorConfig `mapstructure:",squash"`

	// Pattern filters incoming file names (path.Match syntax)
	Pattern          string `mapstructure:"pattern"`
	Separator        string `mapstructure:"separator"`
	Header           bool   `mapstructure:"header"`
	TolerateRowShape bool   `mapstructure:"tolerate_row_shape"`
	// Compression applies to written files; incoming files are detected by extension
	Compression string `mapstructure:"compression"`
	Extension   string `mapstructure:"extension"`

	IncomingDir  string `mapstructure:"incoming_dir"`
	ProcessedDir string `mapstructure:"processed_dir"`
	ErrorDir     string `mapstructure:"error_dir"`
	OutgoingDir  string `mapstructure:"outgoing_dir"`
}

// Connector reads and writes delimited files
type Connector struct {
	*base.BaseConnector
	settings    Settings
	separator   string
	compression compression.Algorithm
	store       blob.Store
}

func factory(defaultKind string) registry.Factory {
	return func(ctx context.Context, inst *models.AdapterInstance, logger *zap.Logger) (core.Adapter, error) {
		storeCfg, err := blob.ConfigFromSettings(inst.Settings, defaultKind)
		if err != nil {
			return nil, err
		}
		store, err := blob.Open(ctx, storeCfg)
		if err != nil {
			return nil, err
		}
		c, err := New(inst, store, logger)
		if err != nil {
			store.Close()
			return nil, err
		}
		return c, nil
	}
}

// New creates a connector over an already opened store. The connector owns store.
func New(inst *models.AdapterInstance, store blob.Store, logger *zap.Logger) (*Connector, error) {
	s := Settings{
		Pattern:      "*",
		Header:       true,
		Extension:    ".csv",
		IncomingDir:  "incoming",
		ProcessedDir: "processed",
		ErrorDir:     "error",
		OutgoingDir:  "outgoing",
	}
	bc, err := base.NewBaseConnector(inst, logger, &s)
	if err != nil {
		return nil, err
	}
	if _, err := path.Match(s.Pattern, ""); err != nil {
		return nil, errors.Newf(errors.ErrorTypeConfig, "invalid pattern %q", s.Pattern)
	}
	sep, err := debatch.ParseSeparator(s.Separator)
	if err != nil {
		return nil, err
	}
	algo, err := compression.Parse(s.Compression)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "invalid compression")
	}
	if s.Extension != "" && !strings.HasPrefix(s.Extension, ".") {
		s.Extension = "." + s.Extension
	}

	return &Connector{
		BaseConnector: bc,
		settings:      s,
		separator:     sep,
		compression:   algo,
		store:         store,
	}, nil
}

// SupportsRead reports true
func (c *Connector) SupportsRead() bool { return true }

// SupportsWrite reports true
func (c *Connector) SupportsWrite() bool { return true }

func (c *Connector) options() debatch.Options {
	return debatch.Options{
		Separator:        c.separator,
		HeaderAware:      c.settings.Header,
		TolerateRowShape: c.settings.TolerateRowShape,
		Logger:           c.GetLogger(),
	}
}

// Read returns one raw batch per matching file in the incoming folder. The
// files stay in place until the batch is committed or aborted.
func (c *Connector) Read(ctx context.Context, locator string) ([]*core.Batch, error) {
	objs, err := c.incoming(ctx, locator)
	if err != nil {
		return nil, err
	}

	batches := make([]*core.Batch, 0, len(objs))
	for _, obj := range objs {
		data, err := c.fetch(ctx, obj.Key)
		if errors.IsType(err, errors.ErrorTypeNotFound) {
			// picked up by a concurrent poller
			continue
		}
		if err != nil {
			return nil, err
		}

		batch := c.newBatch(locator, obj.Key)
		raw, err := decompress(obj.Key, data)
		if err != nil {
			c.GetLogger().Warn("failed to decompress file", zap.String("file", obj.Key), zap.Error(err))
			if aerr := batch.Abort(ctx, err); aerr != nil {
				return nil, aerr
			}
			continue
		}
		batch.Raw = raw
		batches = append(batches, batch)
	}
	return batches, nil
}

// incoming lists the files of the incoming folder that match the pattern.
func (c *Connector) incoming(ctx context.Context, locator string) ([]blob.Object, error) {
	var objs []blob.Object
	err := c.Execute(ctx, func(ctx context.Context) error {
		var err error
		objs, err = c.store.List(ctx, path.Join(locator, c.settings.IncomingDir))
		return err
	})
	if err != nil {
		return nil, err
	}

	matched := objs[:0]
	for _, obj := range objs {
		name := path.Base(obj.Key)
		if strings.HasPrefix(name, ".") {
			continue
		}
		if ok, _ := path.Match(c.settings.Pattern, name); !ok {
			continue
		}
		matched = append(matched, obj)
	}
	return matched, nil
}

func (c *Connector) fetch(ctx context.Context, key string) ([]byte, error) {
	var data []byte
	err := c.Execute(ctx, func(ctx context.Context) error {
		var err error
		data, err = c.store.Read(ctx, key)
		return err
	})
	return data, err
}

// decompress picks the algorithm from the file extension.
func decompress(key string, data []byte) ([]byte, error) {
	algo, _ := compression.FromFileName(path.Base(key))
	raw, err := compression.Decompress(algo, data)
	if err != nil {
		return nil, err
	}
	if raw == nil {
		raw = []byte{}
	}
	return raw, nil
}

func (c *Connector) newBatch(locator, key string) *core.Batch {
	name := path.Base(key)
	return &core.Batch{
		Locator: key,
		Options: c.options(),
		Commit: func(ctx context.Context) error {
			return c.move(ctx, key, path.Join(locator, c.settings.ProcessedDir, name))
		},
		Abort: func(ctx context.Context, cause error) error {
			target := path.Join(locator, c.settings.ErrorDir, name)
			if err := c.move(ctx, key, target); err != nil {
				return err
			}
			if cause == nil {
				return nil
			}
			return c.store.Write(ctx, target+".error.txt", []byte(cause.Error()+"\n"))
		},
	}
}

func (c *Connector) move(ctx context.Context, from, to string) error {
	return c.Execute(ctx, func(ctx context.Context) error {
		return blob.Move(ctx, c.store, from, to)
	})
}

// Write renders records into one file in the outgoing folder. The file name
// is derived from the content, so redelivering the same records overwrites
// the same file. Records whose values cannot be represented with the
// separator are reported as failed and left out of the file.
func (c *Connector) Write(ctx context.Context, locator string, columns []string, records []models.Record) (*core.DeliveryResult, error) {
	result := core.NewDeliveryResult(len(records))
	writable := make([]models.Record, 0, len(records))
	for i, r := range records {
		if _, err := debatch.Render(columns, []models.Record{r}, c.separator); err != nil {
			result.Fail(i, errors.Wrap(err, errors.ErrorTypeValidation, "record cannot be written"))
			continue
		}
		writable = append(writable, r)
	}
	if len(writable) == 0 {
		return result, nil
	}

	data, err := debatch.Render(columns, writable, c.separator)
	if err != nil {
		return nil, err
	}
	if !c.settings.Header {
		data = data[bytes.IndexByte(data, '\n')+1:]
	}
	data, err = compression.Compress(c.compression, data)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeInternal, "failed to compress output")
	}

	prefix := core.InterfaceFromContext(ctx)
	if prefix == "" {
		prefix = c.Instance().Name
	}
	name := fmt.Sprintf("%s-%s%s%s", prefix, debatch.HashRecords(columns, writable)[:16],
		c.settings.Extension, c.compression.Extension())
	key := path.Join(locator, c.settings.OutgoingDir, name)

	if err := c.Execute(ctx, func(ctx context.Context) error {
		return c.store.Write(ctx, key, data)
	}); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeDeliveryFailed, fmt.Sprintf("failed to write %s", key))
	}

	c.GetLogger().Debug("file written", zap.String("file", key), zap.Int("records", len(writable)))
	return result, nil
}

// GetSchema infers column types from the first readable incoming file. It
// only reads: no file is moved, and files that cannot be decompressed are
// passed over.
func (c *Connector) GetSchema(ctx context.Context, locator string) (core.Schema, error) {
	objs, err := c.incoming(ctx, locator)
	if err != nil {
		return nil, err
	}

	for _, obj := range objs {
		data, err := c.fetch(ctx, obj.Key)
		if errors.IsType(err, errors.ErrorTypeNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		raw, err := decompress(obj.Key, data)
		if err != nil {
			c.GetLogger().Debug("skipping file for schema sample", zap.String("file", obj.Key), zap.Error(err))
			continue
		}

		columns, records, err := debatch.Debatch(raw, c.options())
		if err != nil {
			return nil, err
		}
		if len(records) > schemaSampleRows {
			records = records[:schemaSampleRows]
		}
		return schema.InferSchema(columns, records), nil
	}
	return nil, errors.Newf(errors.ErrorTypeNotFound, "no files in %s to sample", path.Join(locator, c.settings.IncomingDir))
}

// Close closes the underlying store
func (c *Connector) Close(_ context.Context) error {
	return c.BaseConnector.Close(c.store.Close)
}
