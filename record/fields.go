package record

import (
	"encoding/binary"

	"github.com/pkg/errors"
)

// Typed put/get helpers for the well-known header fields. Numeric values
// are fixed-width little-endian.

func (h Header) SetOp(op byte) {
	h[OpFieldName] = []byte{op}
}

func (h Header) Op() (byte, error) {
	v, ok := h[OpFieldName]
	if !ok || len(v) != 1 {
		return 0, errors.Wrap(ErrBadFormat, "missing or malformed op field")
	}
	return v[0], nil
}

// IsOp reports whether the header carries the given opcode.
func (h Header) IsOp(op byte) bool {
	got, err := h.Op()
	return err == nil && got == op
}

func (h Header) SetString(name, value string) {
	h[name] = []byte(value)
}

func (h Header) String(name string) (string, error) {
	v, ok := h[name]
	if !ok {
		return "", errors.Wrapf(ErrBadFormat, "required %q field missing", name)
	}
	return string(v), nil
}

// StringSized returns the named field, rejecting values outside
// [minLen, maxLen] bytes.
func (h Header) StringSized(name string, minLen, maxLen int) (string, error) {
	v, ok := h[name]
	if !ok {
		return "", errors.Wrapf(ErrBadFormat, "required %q field missing", name)
	}
	if len(v) < minLen || len(v) > maxLen {
		return "", errors.Wrapf(ErrBadFormat, "field %q is wrong size (%d bytes)", name, len(v))
	}
	return string(v), nil
}

func (h Header) SetUint32(name string, value uint32) {
	v := make([]byte, 4)
	binary.LittleEndian.PutUint32(v, value)
	h[name] = v
}

func (h Header) Uint32(name string) (uint32, error) {
	v, ok := h[name]
	if !ok || len(v) != 4 {
		return 0, errors.Wrapf(ErrBadFormat, "missing or malformed u32 field %q", name)
	}
	return binary.LittleEndian.Uint32(v), nil
}

func (h Header) SetUint64(name string, value uint64) {
	v := make([]byte, 8)
	binary.LittleEndian.PutUint64(v, value)
	h[name] = v
}

func (h Header) Uint64(name string) (uint64, error) {
	v, ok := h[name]
	if !ok || len(v) != 8 {
		return 0, errors.Wrapf(ErrBadFormat, "missing or malformed u64 field %q", name)
	}
	return binary.LittleEndian.Uint64(v), nil
}

func (h Header) SetTime(name string, t Time) {
	h.SetUint64(name, t.Pack())
}

func (h Header) Time(name string) (Time, error) {
	packed, err := h.Uint64(name)
	if err != nil {
		return Time{}, err
	}
	return UnpackTime(packed), nil
}
