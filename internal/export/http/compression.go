package http

import (
	"bytes"
	"compress/gzip"
	"compress/zlib"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/zstd"
)

// Compression type constants.
const (
	CompressionNone   = "none"
	CompressionGzip   = "gzip"
	CompressionZstd   = "zstd"
	CompressionZlib   = "zlib"
	CompressionSnappy = "snappy"
)

// ErrBodyTooLarge is returned when a decompressed body exceeds its limit.
var ErrBodyTooLarge = errors.New("decompressed body exceeds limit")

// ValidCompression reports whether algorithm is a supported name.
func ValidCompression(algorithm string) bool {
	switch algorithm {
	case "", CompressionNone, CompressionGzip, CompressionZstd,
		CompressionZlib, CompressionSnappy:
		return true
	default:
		return false
	}
}

// Compressor compresses request bodies with one algorithm. It is safe for
// concurrent use.
type Compressor struct {
	algorithm string
	encoder   *zstd.Encoder
}

// NewCompressor creates a new Compressor for the specified algorithm.
func NewCompressor(algorithm string) (*Compressor, error) {
	if !ValidCompression(algorithm) {
		return nil, fmt.Errorf("unsupported compression algorithm: %s", algorithm)
	}

	c := &Compressor{algorithm: algorithm}

	// zstd encoders are expensive to create; EncodeAll is concurrency safe.
	if algorithm == CompressionZstd {
		encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
		if err != nil {
			return nil, fmt.Errorf("creating zstd encoder: %w", err)
		}

		c.encoder = encoder
	}

	return c, nil
}

// Compress compresses the data using the configured algorithm.
func (c *Compressor) Compress(data []byte) ([]byte, error) {
	switch c.algorithm {
	case CompressionNone, "":
		return data, nil
	case CompressionGzip:
		return compressGzip(data)
	case CompressionZstd:
		return c.encoder.EncodeAll(data, make([]byte, 0, len(data))), nil
	case CompressionZlib:
		return compressZlib(data)
	case CompressionSnappy:
		return snappy.Encode(nil, data), nil
	default:
		return nil, fmt.Errorf("unsupported compression algorithm: %s", c.algorithm)
	}
}

// ContentEncoding returns the Content-Encoding header value for the algorithm.
func (c *Compressor) ContentEncoding() string {
	switch c.algorithm {
	case CompressionGzip:
		return "gzip"
	case CompressionZstd:
		return "zstd"
	case CompressionZlib:
		return "deflate"
	case CompressionSnappy:
		return "snappy"
	default:
		return ""
	}
}

// Close closes the compressor and releases resources.
func (c *Compressor) Close() error {
	if c.encoder != nil {
		return c.encoder.Close()
	}

	return nil
}

// Decompress reads r according to a Content-Encoding header value and
// returns at most limit decoded bytes. A limit of 0 means no limit.
func Decompress(contentEncoding string, r io.Reader, limit int64) ([]byte, error) {
	encoding := strings.ToLower(strings.TrimSpace(contentEncoding))

	var decoded io.Reader

	switch encoding {
	case "", "identity":
		decoded = r
	case "gzip", "x-gzip":
		gz, err := gzip.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("opening gzip body: %w", err)
		}
		defer gz.Close()

		decoded = gz
	case "deflate":
		zr, err := zlib.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("opening deflate body: %w", err)
		}
		defer zr.Close()

		decoded = zr
	case "zstd":
		zr, err := zstd.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("opening zstd body: %w", err)
		}
		defer zr.Close()

		decoded = zr
	case "snappy":
		// Snappy bodies use the block format, which has no streaming reader.
		raw, err := readLimited(r, limit)
		if err != nil {
			return nil, err
		}

		n, err := snappy.DecodedLen(raw)
		if err != nil {
			return nil, fmt.Errorf("reading snappy header: %w", err)
		}

		if limit > 0 && int64(n) > limit {
			return nil, ErrBodyTooLarge
		}

		out, err := snappy.Decode(nil, raw)
		if err != nil {
			return nil, fmt.Errorf("decoding snappy body: %w", err)
		}

		return out, nil
	default:
		return nil, fmt.Errorf("unsupported content encoding: %s", contentEncoding)
	}

	return readLimited(decoded, limit)
}

func readLimited(r io.Reader, limit int64) ([]byte, error) {
	if limit <= 0 {
		return io.ReadAll(r)
	}

	data, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, fmt.Errorf("reading body: %w", err)
	}

	if int64(len(data)) > limit {
		return nil, ErrBodyTooLarge
	}

	return data, nil
}

func compressGzip(data []byte) ([]byte, error) {
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

func compressZlib(data []byte) ([]byte, error) {
	var buf bytes.Buffer

	w := zlib.NewWriter(&buf)

	if _, err := w.Write(data); err != nil {
		return nil, fmt.Errorf("zlib write: %w", err)
	}

	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("zlib close: %w", err)
	}

	return buf.Bytes(), nil
}
