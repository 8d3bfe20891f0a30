// Package compression compresses delivered files and decompresses incoming
// ones. The algorithm of an incoming file is recognised by its extension.
package compression

import (
	"bytes"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/snappy"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Algorithm represents a compression algorithm.
type Algorithm string

const (
	// None represents no compression
	None Algorithm = "none"
	// Gzip represents gzip compression
	Gzip Algorithm = "gzip"
	// Zstd represents zstandard compression
	Zstd Algorithm = "zstd"
	// LZ4 represents lz4 frame compression
	LZ4 Algorithm = "lz4"
	// Snappy represents framed snappy compression
	Snappy Algorithm = "snappy"
)

// MaxDecompressedSize bounds the output of Decompress.
const MaxDecompressedSize = 512 << 20

var extensions = map[Algorithm]string{
	None:   "",
	Gzip:   ".gz",
	Zstd:   ".zst",
	LZ4:    ".lz4",
	Snappy: ".sz",
}

// Parse validates an algorithm name. The empty string means None.
func Parse(name string) (Algorithm, error) {
	a := Algorithm(strings.ToLower(strings.TrimSpace(name)))
	if a == "" {
		return None, nil
	}
	if _, ok := extensions[a]; !ok {
		return None, fmt.Errorf("unsupported compression %q", name)
	}
	return a, nil
}

// Extension returns the file suffix for a, including the dot.
func (a Algorithm) Extension() string {
	return extensions[a]
}

// FromFileName detects the algorithm from a file name suffix and returns the
// name without that suffix.
func FromFileName(name string) (Algorithm, string) {
	for a, ext := range extensions {
		if ext != "" && strings.HasSuffix(strings.ToLower(name), ext) {
			return a, name[:len(name)-len(ext)]
		}
	}
	return None, name
}

var (
	zstdOnce    sync.Once
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
	zstdErr     error
)

func zstdCodec() (*zstd.Encoder, *zstd.Decoder, error) {
	zstdOnce.Do(func() {
		zstdEncoder, zstdErr = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
		if zstdErr != nil {
			return
		}
		zstdDecoder, zstdErr = zstd.NewReader(nil, zstd.WithDecoderMaxMemory(MaxDecompressedSize))
	})
	return zstdEncoder, zstdDecoder, zstdErr
}

// Compress compresses data with a.
func Compress(a Algorithm, data []byte) ([]byte, error) {
	switch a {
	case None, "":
		return data, nil
	case Zstd:
		enc, _, err := zstdCodec()
		if err != nil {
			return nil, err
		}
		return enc.EncodeAll(data, nil), nil
	}

	var buf bytes.Buffer
	var w io.WriteCloser
	switch a {
	case Gzip:
		w = gzip.NewWriter(&buf)
	case LZ4:
		w = lz4.NewWriter(&buf)
	case Snappy:
		w = snappy.NewBufferedWriter(&buf)
	default:
		return nil, fmt.Errorf("unsupported compression %q", a)
	}
	if _, err := w.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Decompress reverses Compress. Output beyond MaxDecompressedSize is an error.
func Decompress(a Algorithm, data []byte) ([]byte, error) {
	var r io.Reader
	switch a {
	case None, "":
		return data, nil
	case Zstd:
		_, dec, err := zstdCodec()
		if err != nil {
			return nil, err
		}
		return dec.DecodeAll(data, nil)
	case Gzip:
		gr, err := gzip.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, err
		}
		defer gr.Close()
		r = gr
	case LZ4:
		r = lz4.NewReader(bytes.NewReader(data))
	case Snappy:
		r = snappy.NewReader(bytes.NewReader(data))
	default:
		return nil, fmt.Errorf("unsupported compression %q", a)
	}

	out, err := io.ReadAll(io.LimitReader(r, MaxDecompressedSize+1))
	if err != nil {
		return nil, err
	}
	if len(out) > MaxDecompressedSize {
		return nil, fmt.Errorf("decompressed size exceeds %d bytes", MaxDecompressedSize)
	}
	return out, nil
}
