package http

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompressor_Gzip(t *testing.T) {
	c, err := NewCompressor(CompressionGzip)
	require.NoError(t, err)
	defer c.Close()

	// Use larger data to ensure compression is effective.
	original := []byte("hello world, this is test data for compression, " +
		"hello world, this is test data for compression, " +
		"hello world, this is test data for compression")
	compressed, err := c.Compress(original)
	require.NoError(t, err)

	assert.Less(t, len(compressed), len(original))
	assert.Equal(t, "gzip", c.ContentEncoding())

	// Verify round-trip.
	decompressed, err := Decompress("gzip", bytes.NewReader(compressed), 0)
	require.NoError(t, err)
	assert.Equal(t, original, decompressed)
}

func TestCompressor_Zstd(t *testing.T) {
	c, err := NewCompressor(CompressionZstd)
	require.NoError(t, err)
	defer c.Close()

	original := []byte("hello world, this is test data for compression")
	compressed, err := c.Compress(original)
	require.NoError(t, err)

	assert.Equal(t, "zstd", c.ContentEncoding())

	// Verify round-trip.
	decompressed, err := Decompress("zstd", bytes.NewReader(compressed), 0)
	require.NoError(t, err)
	assert.Equal(t, original, decompressed)
}

func TestCompressor_Zlib(t *testing.T) {
	c, err := NewCompressor(CompressionZlib)
	require.NoError(t, err)
	defer c.Close()

	// Use larger data to ensure compression is effective.
	original := []byte("hello world, this is test data for compression, " +
		"hello world, this is test data for compression, " +
		"hello world, this is test data for compression")
	compressed, err := c.Compress(original)
	require.NoError(t, err)

	assert.Less(t, len(compressed), len(original))
	assert.Equal(t, "deflate", c.ContentEncoding())

	// Verify round-trip.
	decompressed, err := Decompress("deflate", bytes.NewReader(compressed), 0)
	require.NoError(t, err)
	assert.Equal(t, original, decompressed)
}

func TestCompressor_Snappy(t *testing.T) {
	c, err := NewCompressor(CompressionSnappy)
	require.NoError(t, err)
	defer c.Close()

	original := []byte("hello world, this is test data for compression, " +
		"hello world, this is test data for compression")
	compressed, err := c.Compress(original)
	require.NoError(t, err)

	assert.Equal(t, "snappy", c.ContentEncoding())

	// Verify round-trip.
	decompressed, err := Decompress("snappy", bytes.NewReader(compressed), 0)
	require.NoError(t, err)
	assert.Equal(t, original, decompressed)
}

func TestCompressor_None(t *testing.T) {
	c, err := NewCompressor(CompressionNone)
	require.NoError(t, err)
	defer c.Close()

	original := []byte("hello world")
	compressed, err := c.Compress(original)
	require.NoError(t, err)

	assert.Equal(t, original, compressed)
	assert.Equal(t, "", c.ContentEncoding())
}

func TestDecompress_Limit(t *testing.T) {
	original := []byte(strings.Repeat("a", 4096))

	for _, algo := range []string{CompressionGzip, CompressionZstd, CompressionZlib, CompressionSnappy} {
		t.Run(algo, func(t *testing.T) {
			c, err := NewCompressor(algo)
			require.NoError(t, err)
			defer c.Close()

			compressed, err := c.Compress(original)
			require.NoError(t, err)

			_, err = Decompress(c.ContentEncoding(), bytes.NewReader(compressed), 1024)
			assert.ErrorIs(t, err, ErrBodyTooLarge)

			out, err := Decompress(c.ContentEncoding(), bytes.NewReader(compressed), 8192)
			require.NoError(t, err)
			assert.Equal(t, original, out)
		})
	}
}

func TestDecompress_Identity(t *testing.T) {
	out, err := Decompress("", strings.NewReader("plain"), 0)
	require.NoError(t, err)
	assert.Equal(t, "plain", string(out))

	_, err = Decompress("br", strings.NewReader("x"), 0)
	assert.Error(t, err)
}

func TestNewCompressor_Unsupported(t *testing.T) {
	_, err := NewCompressor("lzma")
	assert.Error(t, err)
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{
			name: "valid config",
			cfg: Config{
				Enabled: true,
				Address: "http://localhost:8080",
			},
			wantErr: false,
		},
		{
			name: "disabled config - no validation",
			cfg: Config{
				Enabled: false,
			},
			wantErr: false,
		},
		{
			name: "missing address",
			cfg: Config{
				Enabled: true,
			},
			wantErr: true,
		},
		{
			name: "relative address",
			cfg: Config{
				Enabled: true,
				Address: "localhost:8080/ingest",
			},
			wantErr: true,
		},
		{
			name: "invalid compression",
			cfg: Config{
				Enabled:     true,
				Address:     "http://localhost:8080",
				Compression: "invalid",
			},
			wantErr: true,
		},
		{
			name: "queue batch size > queue size",
			cfg: Config{
				Enabled: true,
				Address: "http://localhost:8080",
				Queue: QueueConfig{
					Enabled:      true,
					BatchSize:    1000,
					MaxQueueSize: 100,
					Workers:      1,
				},
			},
			wantErr: true,
		},
		{
			name: "queue limits ignored when queue disabled",
			cfg: Config{
				Enabled: true,
				Address: "http://localhost:8080",
				Queue: QueueConfig{
					BatchSize:    1000,
					MaxQueueSize: 100,
				},
			},
			wantErr: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.cfg.ApplyDefaults()
			err := tt.cfg.Validate()

			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
