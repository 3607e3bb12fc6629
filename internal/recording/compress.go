package recording

import (
	"bytes"
	"compress/gzip"
	"fmt"
)

// Compressor shrinks a finalized recording before upload. A compression
// failure is non-fatal: the manager falls back to the raw bytes.
type Compressor interface {
	Compress(data []byte) ([]byte, error)
	Suffix() string
}

// GzipCompressor is the default Compressor.
type GzipCompressor struct{}

func (GzipCompressor) Compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	if _, err := w.Write(data); err != nil {
		return nil, fmt.Errorf("gzip write: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("gzip close: %w", err)
	}
	return buf.Bytes(), nil
}

func (GzipCompressor) Suffix() string { return ".gz" }

// NopCompressor stores recordings uncompressed.
type NopCompressor struct{}

func (NopCompressor) Compress(data []byte) ([]byte, error) { return data, nil }

func (NopCompressor) Suffix() string { return "" }
