// Package record implements the self-framed on-disk record unit of a bag
// file: a length-prefixed header of "key=value" fields followed by a
// length-prefixed opaque data section, all little-endian.
package record

import (
	"encoding/binary"
	"io"

	"github.com/pkg/errors"
)

// WriteHeader writes the length-prefixed header followed by the data
// length prefix. The data section itself is written by the caller, which
// lets records with large or streamed bodies avoid an intermediate copy.
func WriteHeader(w io.Writer, h Header, dataLen uint32) error {
	encoded := h.Encode()

	var lenPrefix [4]byte
	binary.LittleEndian.PutUint32(lenPrefix[:], uint32(len(encoded)))
	if _, err := w.Write(lenPrefix[:]); err != nil {
		return err
	}
	if _, err := w.Write(encoded); err != nil {
		return err
	}
	binary.LittleEndian.PutUint32(lenPrefix[:], dataLen)
	if _, err := w.Write(lenPrefix[:]); err != nil {
		return err
	}
	return nil
}

// Write writes a complete record: header and data section.
func Write(w io.Writer, h Header, data []byte) error {
	if err := WriteHeader(w, h, uint32(len(data))); err != nil {
		return err
	}
	_, err := w.Write(data)
	return err
}

// ReadHeader reads one record header and the data length prefix from r.
// The caller consumes or skips the following dataLen bytes. A clean EOF on
// the first byte is returned as io.EOF so that read-until-EOF scans can
// terminate; EOF anywhere later means the declared lengths exceed the
// input and is reported as ErrBadFormat.
func ReadHeader(r io.Reader) (h Header, dataLen uint32, err error) {
	var lenPrefix [4]byte
	if _, err := io.ReadFull(r, lenPrefix[:]); err != nil {
		if err == io.EOF {
			return nil, 0, io.EOF
		}
		return nil, 0, errors.Wrap(ErrBadFormat, "truncated header length")
	}
	headerLen := binary.LittleEndian.Uint32(lenPrefix[:])
	if int32(headerLen) < 0 {
		return nil, 0, errors.Wrapf(ErrBadFormat, "header length %d is negative in signed view", int32(headerLen))
	}

	buf := make([]byte, headerLen)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, 0, errors.Wrapf(ErrBadFormat, "header length %d exceeds remaining input", headerLen)
	}
	if h, err = ParseHeader(buf); err != nil {
		return nil, 0, err
	}

	if _, err := io.ReadFull(r, lenPrefix[:]); err != nil {
		return nil, 0, errors.Wrap(ErrBadFormat, "truncated data length")
	}
	dataLen = binary.LittleEndian.Uint32(lenPrefix[:])
	if int32(dataLen) < 0 {
		return nil, 0, errors.Wrapf(ErrBadFormat, "data length %d is negative in signed view", int32(dataLen))
	}
	return h, dataLen, nil
}

// ReadHeaderFromBuffer parses a record header at off in buf. It returns
// the header, the data length, and the number of bytes consumed; the data
// section starts at off+consumed.
func ReadHeaderFromBuffer(buf []byte, off uint32) (h Header, dataLen, consumed uint32, err error) {
	if uint64(off)+8 > uint64(len(buf)) {
		return nil, 0, 0, errors.Wrapf(ErrBadFormat, "record offset %d out of range", off)
	}
	p := buf[off:]

	headerLen := binary.LittleEndian.Uint32(p)
	if err := checkLength(headerLen, uint64(len(p)-8)); err != nil {
		return nil, 0, 0, err
	}
	h, err = ParseHeader(p[4 : 4+headerLen])
	if err != nil {
		return nil, 0, 0, err
	}

	dataLen = binary.LittleEndian.Uint32(p[4+headerLen:])
	consumed = 8 + headerLen
	if err := checkLength(dataLen, uint64(uint32(len(p))-consumed)); err != nil {
		return nil, 0, 0, err
	}
	return h, dataLen, consumed, nil
}
