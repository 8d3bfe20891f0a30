package configstore

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ajitpratap0/interlink/pkg/errors"
	"github.com/ajitpratap0/interlink/pkg/models"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleDoc = `
instances:
  - instance_id: 6f1c1a52-8a3e-4d7c-9f55-2c1b0e0c0001
    name: orders-csv
    interface_name: orders
    role: source
    adapter_type: file-delimited
    is_enabled: true
    polling_interval_seconds: 15
    locator: /data/orders
    settings:
      separator: ","
      root: ${IL_TEST_ROOT}
  - instance_id: 6f1c1a52-8a3e-4d7c-9f55-2c1b0e0c0002
    name: orders-db
    interface_name: orders
    role: destination
    adapter_type: relational-poll
    is_enabled: true
    locator: orders
subscriptions:
  - interface_name: orders
    destination_instance_id: 6f1c1a52-8a3e-4d7c-9f55-2c1b0e0c0002
    enabled: true
`

func writeDoc(t *testing.T, path, body string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
}

func TestFileStoreLoads(t *testing.T) {
	t.Setenv("IL_TEST_ROOT", "/srv/interlink")
	path := filepath.Join(t.TempDir(), "adapters.yaml")
	writeDoc(t, path, sampleDoc)

	s := NewFileStore(path)
	ctx := context.Background()

	instances, err := s.ListInstances(ctx)
	require.NoError(t, err)
	require.Len(t, instances, 2)
	assert.Equal(t, models.AdapterFileDelimited, instances[0].AdapterType)
	assert.Equal(t, models.RoleSource, instances[0].Role)
	assert.Equal(t, "/srv/interlink", instances[0].Settings["root"])
	assert.Equal(t, 15, instances[0].PollingIntervalSeconds)

	subs, err := s.ListSubscriptions(ctx)
	require.NoError(t, err)
	require.Len(t, subs, 1)
	assert.Nil(t, subs[0].SourceInstanceID)

	inst, err := s.GetInstance(ctx, uuid.MustParse("6f1c1a52-8a3e-4d7c-9f55-2c1b0e0c0002"))
	require.NoError(t, err)
	assert.Equal(t, "orders-db", inst.Name)

	_, err = s.GetInstance(ctx, uuid.New())
	assert.True(t, errors.IsType(err, errors.ErrorTypeNotFound))
}

func TestFileStoreReloadsOnChange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "adapters.yaml")
	writeDoc(t, path, sampleDoc)
	s := NewFileStore(path)
	ctx := context.Background()

	subs, err := s.ListSubscriptions(ctx)
	require.NoError(t, err)
	require.True(t, subs[0].Enabled)

	updated := []byte(sampleDoc[:len(sampleDoc)-len("    enabled: true\n")] + "    enabled: false\n")
	require.NoError(t, os.WriteFile(path, updated, 0o600))
	future := time.Now().Add(time.Minute)
	require.NoError(t, os.Chtimes(path, future, future))

	subs, err = s.ListSubscriptions(ctx)
	require.NoError(t, err)
	assert.False(t, subs[0].Enabled)
}

func TestFileStoreValidation(t *testing.T) {
	path := filepath.Join(t.TempDir(), "adapters.yaml")
	writeDoc(t, path, `
instances:
  - instance_id: 6f1c1a52-8a3e-4d7c-9f55-2c1b0e0c0001
    role: sideways
`)
	_, err := NewFileStore(path).ListInstances(context.Background())
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeValidation))

	_, err = NewFileStore(filepath.Join(t.TempDir(), "missing.yaml")).ListInstances(context.Background())
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))
}
