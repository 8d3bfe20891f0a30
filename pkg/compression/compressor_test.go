package compression

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompressDecompress(t *testing.T) {
	data := bytes.Repeat([]byte("id\x1fname\n1\x1fwidget\n"), 200)
	for _, a := range []Algorithm{None, Gzip, Zstd, LZ4, Snappy} {
		t.Run(string(a), func(t *testing.T) {
			compressed, err := Compress(a, data)
			require.NoError(t, err)
			if a != None {
				assert.Less(t, len(compressed), len(data))
			}
			out, err := Decompress(a, compressed)
			require.NoError(t, err)
			assert.Equal(t, data, out)
		})
	}
}

func TestParse(t *testing.T) {
	a, err := Parse(" GZIP ")
	require.NoError(t, err)
	assert.Equal(t, Gzip, a)

	a, err = Parse("")
	require.NoError(t, err)
	assert.Equal(t, None, a)

	_, err = Parse("rar")
	assert.Error(t, err)
}

func TestFromFileName(t *testing.T) {
	a, base := FromFileName("orders.csv.gz")
	assert.Equal(t, Gzip, a)
	assert.Equal(t, "orders.csv", base)

	a, base = FromFileName("orders.csv.ZST")
	assert.Equal(t, Zstd, a)
	assert.Equal(t, "orders.csv", base)

	a, base = FromFileName("orders.csv")
	assert.Equal(t, None, a)
	assert.Equal(t, "orders.csv", base)
	assert.Equal(t, ".lz4", LZ4.Extension())
}
