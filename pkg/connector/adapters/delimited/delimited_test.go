package delimited

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/ajitpratap0/interlink/pkg/blob"
	"github.com/ajitpratap0/interlink/pkg/compression"
	"github.com/ajitpratap0/interlink/pkg/connector/core"
	"github.com/ajitpratap0/interlink/pkg/connector/registry"
	"github.com/ajitpratap0/interlink/pkg/debatch"
	"github.com/ajitpratap0/interlink/pkg/errors"
	"github.com/ajitpratap0/interlink/pkg/models"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newConnector(t *testing.T, settings map[string]string) (*Connector, string) {
	t.Helper()
	root := t.TempDir()
	store, err := blob.NewLocal(root)
	require.NoError(t, err)
	inst := &models.AdapterInstance{
		InstanceID:  uuid.New(),
		Name:        "orders-files",
		AdapterType: models.AdapterFileDelimited,
		Settings:    settings,
	}
	c, err := New(inst, store, zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close(context.Background()) })
	return c, root
}

func writeFile(t *testing.T, root, rel string, data []byte) {
	t.Helper()
	p := filepath.Join(root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
	require.NoError(t, os.WriteFile(p, data, 0o644))
}

func TestReadCommitAbort(t *testing.T) {
	ctx := context.Background()
	c, root := newConnector(t, map[string]string{"separator": ",", "pattern": "*.csv"})

	writeFile(t, root, "orders/incoming/a.csv", []byte("id,name\n1,A\n"))
	writeFile(t, root, "orders/incoming/b.csv", []byte("id,name\n2,B\n"))
	writeFile(t, root, "orders/incoming/notes.txt", []byte("ignored"))

	batches, err := c.Read(ctx, "orders")
	require.NoError(t, err)
	require.Len(t, batches, 2)
	assert.Equal(t, "orders/incoming/a.csv", batches[0].Locator)
	assert.True(t, batches[0].IsRaw())

	cols, recs, err := debatch.Debatch(batches[0].Raw, batches[0].Options)
	require.NoError(t, err)
	assert.Equal(t, []string{"id", "name"}, cols)
	require.Len(t, recs, 1)

	require.NoError(t, batches[0].Commit(ctx))
	require.NoError(t, batches[1].Abort(ctx, errors.New(errors.ErrorTypeMalformedPayload, "bad row")))

	assert.FileExists(t, filepath.Join(root, "orders", "processed", "a.csv"))
	assert.FileExists(t, filepath.Join(root, "orders", "error", "b.csv"))
	reason, err := os.ReadFile(filepath.Join(root, "orders", "error", "b.csv.error.txt"))
	require.NoError(t, err)
	assert.Contains(t, string(reason), "bad row")

	batches, err = c.Read(ctx, "orders")
	require.NoError(t, err)
	assert.Empty(t, batches)
}

func TestReadDecompressesByExtension(t *testing.T) {
	ctx := context.Background()
	c, root := newConnector(t, nil)

	payload := []byte("id\x1fname\n1\x1fA\n")
	gz, err := compression.Compress(compression.Gzip, payload)
	require.NoError(t, err)
	writeFile(t, root, "incoming/a.csv.gz", gz)
	writeFile(t, root, "incoming/broken.csv.zst", []byte("not zstd"))

	batches, err := c.Read(ctx, "")
	require.NoError(t, err)
	require.Len(t, batches, 1)
	assert.Equal(t, payload, batches[0].Raw)
	assert.FileExists(t, filepath.Join(root, "error", "broken.csv.zst"))
}

func TestWriteIsContentAddressed(t *testing.T) {
	ctx := core.WithInterface(context.Background(), "orders")
	c, root := newConnector(t, map[string]string{"separator": "|", "compression": "gzip"})

	cols := []string{"id", "name"}
	recs := []models.Record{
		models.RecordFromValues(cols, []string{"1", "A"}),
		models.RecordFromValues(cols, []string{"2", "B|C"}),
		models.RecordFromValues(cols, []string{"3", "D"}),
	}

	res, err := c.Write(ctx, "out", cols, recs)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Delivered)
	require.Contains(t, res.Failed, 1)
	assert.True(t, errors.IsType(res.Failed[1], errors.ErrorTypeValidation))

	_, err = c.Write(ctx, "out", cols, recs)
	require.NoError(t, err)

	entries, err := os.ReadDir(filepath.Join(root, "out", "outgoing"))
	require.NoError(t, err)
	require.Len(t, entries, 1, "redelivery must overwrite the same file")
	name := entries[0].Name()
	assert.Regexp(t, `^orders-[0-9a-f]{16}\.csv\.gz$`, name)

	data, err := os.ReadFile(filepath.Join(root, "out", "outgoing", name))
	require.NoError(t, err)
	plain, err := compression.Decompress(compression.Gzip, data)
	require.NoError(t, err)
	assert.Equal(t, "id|name\n1|A\n3|D\n", string(plain))
}

func TestWriteWithoutHeader(t *testing.T) {
	c, root := newConnector(t, map[string]string{"separator": ",", "header": "false", "extension": "txt"})
	cols := []string{"id"}
	_, err := c.Write(context.Background(), "", cols, []models.Record{models.RecordFromValues(cols, []string{"7"})})
	require.NoError(t, err)

	entries, err := os.ReadDir(filepath.Join(root, "outgoing"))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, ".txt", filepath.Ext(entries[0].Name()))
	data, err := os.ReadFile(filepath.Join(root, "outgoing", entries[0].Name()))
	require.NoError(t, err)
	assert.Equal(t, "7\n", string(data))
}

func TestGetSchema(t *testing.T) {
	c, root := newConnector(t, map[string]string{"separator": ","})
	writeFile(t, root, "incoming/a.csv", []byte("id,name,created\n1,A,2024-01-01\n2,B,2024-02-01\n"))

	s, err := c.GetSchema(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, "integer", s["id"].DataType)
	assert.Equal(t, "text", s["name"].DataType)
	assert.Equal(t, "date", s["created"].DataType)

	_, err = c.GetSchema(context.Background(), "empty")
	assert.True(t, errors.IsType(err, errors.ErrorTypeNotFound))
}

func TestGetSchemaLeavesIncomingFilesInPlace(t *testing.T) {
	ctx := context.Background()
	c, root := newConnector(t, map[string]string{"separator": ","})
	writeFile(t, root, "incoming/a.csv.zst", []byte("not zstd"))
	writeFile(t, root, "incoming/b.csv", []byte("id,name\n1,A\n"))

	s, err := c.GetSchema(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, "integer", s["id"].DataType)

	assert.FileExists(t, filepath.Join(root, "incoming", "a.csv.zst"))
	assert.FileExists(t, filepath.Join(root, "incoming", "b.csv"))
	assert.NoDirExists(t, filepath.Join(root, "error"))

	writeFile(t, root, "bad/incoming/c.csv", []byte("id,name\n1,A,extra\n"))
	_, err = c.GetSchema(ctx, "bad")
	assert.True(t, errors.IsType(err, errors.ErrorTypeMalformedPayload))
	assert.FileExists(t, filepath.Join(root, "bad", "incoming", "c.csv"))
	assert.NoDirExists(t, filepath.Join(root, "bad", "error"))
}

func TestInvalidSettings(t *testing.T) {
	store, err := blob.NewLocal(t.TempDir())
	require.NoError(t, err)
	for _, settings := range []map[string]string{
		{"pattern": "["},
		{"compression": "rar"},
		{"separator": `\n`},
	} {
		_, err := New(&models.AdapterInstance{AdapterType: models.AdapterFileDelimited, Settings: settings}, store, nil)
		assert.True(t, errors.IsType(err, errors.ErrorTypeConfig), "%v", settings)
	}
}

func TestRegistered(t *testing.T) {
	info, ok := registry.GetRegistry().Info(models.AdapterSFTP)
	require.True(t, ok)
	assert.True(t, info.SupportsRead)

	a, err := registry.Create(context.Background(), &models.AdapterInstance{
		AdapterType: models.AdapterFileDelimited,
		Settings:    map[string]string{"root": t.TempDir()},
	}, zaptest.NewLogger(t))
	require.NoError(t, err)
	assert.True(t, a.SupportsWrite())
	require.NoError(t, a.Close(context.Background()))
}
