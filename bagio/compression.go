package bagio

import (
	"bytes"
	"io"

	"github.com/dsnet/compress/bzip2"
	"github.com/klauspost/compress/zlib"
	"github.com/pkg/errors"
)

// CompressionType selects the chunk compression stage.
type CompressionType int

const (
	None CompressionType = iota
	BZ2
	ZLIB
)

// ErrUnknownCompression reports an unrecognized compression string in a
// chunk header.
var ErrUnknownCompression = errors.New("unknown compression")

// Compression strings as stored in CHUNK record headers.
const (
	compressionNone = "none"
	compressionBZ2  = "bz2"
	compressionZLIB = "zlib"
)

func (c CompressionType) String() string {
	switch c {
	case BZ2:
		return compressionBZ2
	case ZLIB:
		return compressionZLIB
	default:
		return compressionNone
	}
}

// ParseCompression maps a chunk header compression string to its type.
func ParseCompression(s string) (CompressionType, error) {
	switch s {
	case compressionNone:
		return None, nil
	case compressionBZ2:
		return BZ2, nil
	case compressionZLIB:
		return ZLIB, nil
	default:
		return None, errors.Wrapf(ErrUnknownCompression, "%q", s)
	}
}

func newCompressor(mode CompressionType, w io.Writer) (io.WriteCloser, error) {
	switch mode {
	case BZ2:
		zw, err := bzip2.NewWriter(w, &bzip2.WriterConfig{Level: bzip2.BestCompression})
		if err != nil {
			return nil, errors.Wrap(err, "bzip2 writer")
		}
		return zw, nil
	case ZLIB:
		return zlib.NewWriter(w), nil
	default:
		return nil, errors.Wrapf(ErrUnknownCompression, "mode %d has no compressor", mode)
	}
}

// Decompress inflates src into dst, which must be sized to the exact
// uncompressed length. With mode None the bytes are copied through.
func Decompress(mode CompressionType, dst, src []byte) error {
	switch mode {
	case None:
		if len(dst) != len(src) {
			return errors.Errorf("uncompressed copy size mismatch: %d != %d", len(dst), len(src))
		}
		copy(dst, src)
		return nil
	case BZ2:
		zr, err := bzip2.NewReader(bytes.NewReader(src), nil)
		if err != nil {
			return errors.Wrap(err, "bzip2 reader")
		}
		defer zr.Close()
		if _, err := io.ReadFull(zr, dst); err != nil {
			return errors.Wrap(err, "bzip2 decompress")
		}
		return nil
	case ZLIB:
		zr, err := zlib.NewReader(bytes.NewReader(src))
		if err != nil {
			return errors.Wrap(err, "zlib reader")
		}
		defer zr.Close()
		if _, err := io.ReadFull(zr, dst); err != nil {
			return errors.Wrap(err, "zlib decompress")
		}
		return nil
	default:
		return errors.Wrapf(ErrUnknownCompression, "mode %d", mode)
	}
}
