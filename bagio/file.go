// Package bagio provides the positioned byte stream under a bag file: raw
// read/write/seek/truncate plus a switchable compressed write stage and a
// framed decompressor for chunk bodies.
package bagio

import (
	"io"
	"os"

	"github.com/pkg/errors"
)

/*
	A File is owned by exactly one Bag and is not safe for concurrent use.
	Offset() always reports the raw file position: while a compressed write
	stage is active, writes advance the offset by the number of compressed
	bytes that reach the file, and CompressedBytesIn() counts the
	uncompressed bytes fed into the stage since it was entered.
*/

type File struct {
	fp     *os.File
	name   string
	offset uint64

	writeMode CompressionType
	comp      io.WriteCloser
	bytesIn   uint32
}

// rawWriter advances the owning File's raw offset as compressed bytes
// reach the underlying file.
type rawWriter struct {
	f *File
}

func (w rawWriter) Write(p []byte) (int, error) {
	n, err := w.f.fp.Write(p)
	w.f.offset += uint64(n)
	return n, err
}

func (f *File) OpenRead(name string) error {
	return f.open(name, os.O_RDONLY)
}

func (f *File) OpenWrite(name string) error {
	return f.open(name, os.O_CREATE|os.O_TRUNC|os.O_RDWR)
}

func (f *File) OpenReadWrite(name string) error {
	return f.open(name, os.O_RDWR)
}

func (f *File) open(name string, flag int) error {
	if f.fp != nil {
		return errors.Errorf("file %s is already open", f.name)
	}
	fp, err := os.OpenFile(name, flag, 0o644)
	if err != nil {
		return err
	}
	f.fp = fp
	f.name = name
	f.offset = 0
	f.writeMode = None
	f.comp = nil
	f.bytesIn = 0
	return nil
}

func (f *File) IsOpen() bool { return f.fp != nil }

func (f *File) Name() string { return f.name }

// Offset returns the raw file position.
func (f *File) Offset() uint64 { return f.offset }

func (f *File) Close() error {
	if f.fp == nil {
		return nil
	}
	if err := f.SetWriteMode(None); err != nil {
		f.fp.Close()
		f.fp = nil
		return err
	}
	err := f.fp.Close()
	f.fp = nil
	return err
}

// Read implements io.Reader over the raw stream.
func (f *File) Read(p []byte) (int, error) {
	if f.fp == nil {
		return 0, NotOpenError(f.name)
	}
	n, err := f.fp.Read(p)
	f.offset += uint64(n)
	return n, err
}

// ReadFull fills p or fails.
func (f *File) ReadFull(p []byte) error {
	if _, err := io.ReadFull(f, p); err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return ShortReadError(f.name)
		}
		return err
	}
	return nil
}

// Write implements io.Writer. While a compressed write stage is active the
// bytes are routed through the compressor.
func (f *File) Write(p []byte) (int, error) {
	if f.fp == nil {
		return 0, NotOpenError(f.name)
	}
	if f.comp != nil {
		n, err := f.comp.Write(p)
		f.bytesIn += uint32(n)
		return n, err
	}
	n, err := f.fp.Write(p)
	f.offset += uint64(n)
	return n, err
}

// Seek repositions the raw stream. It must not be called while a
// compressed write stage is active.
func (f *File) Seek(pos int64, whence int) error {
	if f.fp == nil {
		return NotOpenError(f.name)
	}
	if f.comp != nil {
		return errors.Errorf("seek on %s with an active compression stage", f.name)
	}
	abs, err := f.fp.Seek(pos, whence)
	if err != nil {
		return err
	}
	f.offset = uint64(abs)
	return nil
}

func (f *File) Truncate(n uint64) error {
	if f.fp == nil {
		return NotOpenError(f.name)
	}
	return f.fp.Truncate(int64(n))
}

// Size returns the current length of the file on disk.
func (f *File) Size() (uint64, error) {
	if f.fp == nil {
		return 0, NotOpenError(f.name)
	}
	st, err := f.fp.Stat()
	if err != nil {
		return 0, err
	}
	return uint64(st.Size()), nil
}

// Getline reads through the next '\n' and returns the line without it.
func (f *File) Getline() (string, error) {
	var line []byte
	var b [1]byte
	for {
		if _, err := io.ReadFull(f, b[:]); err != nil {
			return "", ShortReadError(f.name)
		}
		if b[0] == '\n' {
			return string(line), nil
		}
		line = append(line, b[0])
	}
}

// SetWriteMode transitions the write stage. Entering a compressed mode
// starts buffering writes through the compressor; returning to None
// flushes and closes the compressed stream and resumes raw writes. The
// uncompressed bytes-in counter resets on every transition.
func (f *File) SetWriteMode(mode CompressionType) error {
	if mode == f.writeMode {
		return nil
	}
	if f.comp != nil {
		if err := f.comp.Close(); err != nil {
			return errors.Wrap(err, "flush compression stage")
		}
		f.comp = nil
	}
	f.bytesIn = 0
	if mode != None {
		comp, err := newCompressor(mode, rawWriter{f})
		if err != nil {
			return err
		}
		f.comp = comp
	}
	f.writeMode = mode
	return nil
}

// CompressedBytesIn returns the number of uncompressed bytes fed into the
// current compressed write stage since it was entered.
func (f *File) CompressedBytesIn() uint32 { return f.bytesIn }
