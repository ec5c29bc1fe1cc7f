package record

import (
	"bytes"
	"encoding/binary"
	"sort"

	"github.com/pkg/errors"
)

// ErrBadFormat reports a structurally damaged record: a length prefix that
// is negative in signed view or runs past the available input, or a header
// field with no '=' separator.
var ErrBadFormat = errors.New("malformed bag record")

// Header is the field map of one record. Values are raw bytes; well-known
// fields have typed accessors below. Duplicate keys in a parsed header are
// resolved last-wins, matching the historical reader. The writer never
// emits duplicates.
type Header map[string][]byte

// Encode serializes the header as a concatenation of length-prefixed
// "key=value" fields. Fields are emitted in sorted key order so that a
// record written twice (e.g. a back-patched chunk header) has a stable
// byte length.
func (h Header) Encode() []byte {
	keys := make([]string, 0, len(h))
	for k := range h {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var buf bytes.Buffer
	var lenPrefix [4]byte
	for _, k := range keys {
		v := h[k]
		binary.LittleEndian.PutUint32(lenPrefix[:], uint32(len(k)+1+len(v)))
		buf.Write(lenPrefix[:])
		buf.WriteString(k)
		buf.WriteByte('=')
		buf.Write(v)
	}
	return buf.Bytes()
}

// ParseHeader decodes the field concatenation in buf.
func ParseHeader(buf []byte) (Header, error) {
	h := make(Header)
	for len(buf) > 0 {
		if len(buf) < 4 {
			return nil, errors.Wrap(ErrBadFormat, "truncated field length")
		}
		fieldLen := binary.LittleEndian.Uint32(buf)
		buf = buf[4:]
		if err := checkLength(fieldLen, uint64(len(buf))); err != nil {
			return nil, errors.Wrap(err, "header field")
		}
		field := buf[:fieldLen]
		buf = buf[fieldLen:]

		sep := bytes.IndexByte(field, '=')
		if sep < 0 {
			return nil, errors.Wrapf(ErrBadFormat, "field %q has no '=' separator", field)
		}
		value := make([]byte, len(field)-sep-1)
		copy(value, field[sep+1:])
		h[string(field[:sep])] = value
	}
	return h, nil
}

// checkLength rejects a length prefix that is negative when reinterpreted
// as a signed 32-bit value or that exceeds the remaining input.
func checkLength(n uint32, remaining uint64) error {
	if int32(n) < 0 {
		return errors.Wrapf(ErrBadFormat, "length %d is negative in signed view", int32(n))
	}
	if uint64(n) > remaining {
		return errors.Wrapf(ErrBadFormat, "length %d exceeds remaining %d bytes", n, remaining)
	}
	return nil
}
