package install

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Codec identifies the compression applied to an archive.
type Codec uint8

const (
	// CodecNone stores the payload as-is.
	CodecNone Codec = iota
	// CodecZstd is zstd framing (.zst).
	CodecZstd
	// CodecGzip is gzip (.gz).
	CodecGzip
	// CodecLZ4 is the LZ4 frame format (.lz4).
	CodecLZ4
)

// errUnknownCodec is returned for codec names or values that are not supported.
var errUnknownCodec = errors.New("unknown compression codec")

// String returns the human-readable codec name.
func (c Codec) String() string {
	switch c {
	case CodecNone:
		return "none"
	case CodecZstd:
		return "zstd"
	case CodecGzip:
		return "gzip"
	case CodecLZ4:
		return "lz4"
	default:
		return fmt.Sprintf("unknown(%d)", c)
	}
}

// Extension returns the archive suffix of the codec.
func (c Codec) Extension() string {
	switch c {
	case CodecZstd:
		return ".zst"
	case CodecGzip:
		return ".gz"
	case CodecLZ4:
		return ".lz4"
	default:
		return ""
	}
}

// ParseCodec parses a codec from its name. An empty name means zstd.
func ParseCodec(name string) (Codec, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "zstd", "zst", "":
		return CodecZstd, nil
	case "gzip", "gz":
		return CodecGzip, nil
	case "lz4":
		return CodecLZ4, nil
	case "none":
		return CodecNone, nil
	default:
		return CodecNone, fmt.Errorf("%q: %w", name, errUnknownCodec)
	}
}

// CodecForFile picks the codec from the archive extension.
func CodecForFile(name string) Codec {
	lower := strings.ToLower(name)

	switch {
	case strings.HasSuffix(lower, ".zst"), strings.HasSuffix(lower, ".zstd"):
		return CodecZstd
	case strings.HasSuffix(lower, ".gz"):
		return CodecGzip
	case strings.HasSuffix(lower, ".lz4"):
		return CodecLZ4
	default:
		return CodecNone
	}
}

// NewReader wraps r with the decompressor of the codec.
func NewReader(c Codec, r io.Reader) (io.ReadCloser, error) {
	switch c {
	case CodecNone:
		return io.NopCloser(r), nil
	case CodecZstd:
		decoder, err := zstd.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("zstd reader: %w", err)
		}

		return decoder.IOReadCloser(), nil
	case CodecGzip:
		reader, err := gzip.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("gzip reader: %w", err)
		}

		return reader, nil
	case CodecLZ4:
		return io.NopCloser(lz4.NewReader(r)), nil
	default:
		return nil, fmt.Errorf("%s: %w", c, errUnknownCodec)
	}
}

// NewWriter wraps w with the compressor of the codec. Close flushes the stream
// but leaves w open.
func NewWriter(c Codec, w io.Writer) (io.WriteCloser, error) {
	switch c {
	case CodecNone:
		return nopWriteCloser{w}, nil
	case CodecZstd:
		encoder, err := zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedBetterCompression))
		if err != nil {
			return nil, fmt.Errorf("zstd writer: %w", err)
		}

		return encoder, nil
	case CodecGzip:
		writer, err := gzip.NewWriterLevel(w, gzip.BestCompression)
		if err != nil {
			return nil, fmt.Errorf("gzip writer: %w", err)
		}

		return writer, nil
	case CodecLZ4:
		return lz4.NewWriter(w), nil
	default:
		return nil, fmt.Errorf("%s: %w", c, errUnknownCodec)
	}
}

type nopWriteCloser struct {
	io.Writer
}

func (nopWriteCloser) Close() error {
	return nil
}
