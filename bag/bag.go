// Package bag implements the storage engine for a versioned,
// append-oriented, chunked binary log of time-stamped typed messages
// published on named topics. Payloads are opaque byte blobs; the engine
// records, indexes, and reads them back sequentially or by random access
// over a topic and time range.
package bag

import (
	"fmt"
	goio "io"
	"sync"

	"github.com/pkg/errors"

	"github.com/openrover/baglog/bagio"
	"github.com/openrover/baglog/record"
	"github.com/openrover/baglog/utils/log"
)

const (
	versionString = "1.3"

	defaultChunkThreshold = 768 * 1024
)

/*
	NOTE: a Bag is single threaded with respect to file I/O. Callers must
	serialize Write calls and read iteration. The two internal mutexes are
	defensive locks around the in-memory tables only. topicInfosMu is held
	only while a topic is looked up or added. recordMu is held while the
	file header, one chunk's index records, or the trailer's definition or
	chunk-info records are written, so it can span several record writes.
*/

type Bag struct {
	file bagio.File
	mode Mode

	version int

	compression    bagio.CompressionType
	chunkThreshold uint32

	fileHeaderPos uint64
	indexDataPos  uint64
	topicCount    uint32
	chunkCount    uint32

	topicInfos   map[string]*TopicInfo
	topicIndexes map[string][]IndexEntry
	chunkInfos   []ChunkInfo

	topicInfosMu sync.Mutex
	recordMu     sync.Mutex

	chunkOpen             bool
	currChunk             ChunkInfo
	currChunkDataPos      uint64
	currChunkTopicIndexes map[string][]IndexEntry

	// one-chunk decompression cache
	decompressedChunk uint64
	decompressBuf     []byte

	guard diskGuard
}

// New returns a closed Bag with the default compression (BZ2) and chunk
// threshold (768 KiB).
func New() *Bag {
	return &Bag{
		compression:    bagio.BZ2,
		chunkThreshold: defaultChunkThreshold,
		topicInfos:     map[string]*TopicInfo{},
		topicIndexes:   map[string][]IndexEntry{},
		guard:          newDiskGuard(),
	}
}

// Open transitions a closed bag into the given mode.
func (b *Bag) Open(filename string, mode Mode) error {
	if b.file.IsOpen() {
		return errors.Errorf("bag %s is already open", b.file.Name())
	}
	b.mode = mode

	var err error
	switch mode {
	case Read:
		err = b.openRead(filename)
	case Write:
		err = b.openWrite(filename)
	case Append, ReadAppend:
		err = b.openAppend(filename)
	default:
		err = errors.Errorf("unknown mode: %d", mode)
	}
	if err != nil {
		b.mode = Closed
		if b.file.IsOpen() {
			b.file.Close()
		}
		return err
	}
	return nil
}

func (b *Bag) openRead(filename string) error {
	if err := b.file.OpenRead(filename); err != nil {
		return errors.Wrapf(err, "failed to open file: %s", filename)
	}

	if err := b.readVersion(); err != nil {
		return err
	}

	switch b.version {
	case 102:
		return b.startReadingVersion102()
	case 103:
		return b.startReadingVersion103()
	default:
		return errors.Wrapf(ErrBadVersion, "%d.%d", b.version/100, b.version%100)
	}
}

func (b *Bag) openWrite(filename string) error {
	if err := b.file.OpenWrite(filename); err != nil {
		return errors.Wrapf(err, "failed to open file: %s", filename)
	}

	b.guard.start(b.file.Name())

	return b.startWriting()
}

// openAppend reopens a finished bag, drops its trailer, and positions the
// file for further chunk writes. The file header is rewritten with the
// index-position sentinel 0 first, so a crash before Close leaves a file
// that readers reject instead of misread.
func (b *Bag) openAppend(filename string) error {
	if err := b.file.OpenReadWrite(filename); err != nil {
		return errors.Wrapf(err, "failed to open file: %s", filename)
	}

	b.guard.start(b.file.Name())

	if err := b.readVersion(); err != nil {
		return err
	}
	if b.version != 103 {
		return errors.Wrapf(ErrBadVersion, "cannot append to version %d.%d", b.version/100, b.version%100)
	}
	if err := b.startReadingVersion103(); err != nil {
		return err
	}

	// Chop off the trailer and invalidate the index position until the
	// next Close rewrites it.
	if err := b.file.Truncate(b.indexDataPos); err != nil {
		return errors.Wrap(err, "truncate trailer")
	}
	b.indexDataPos = 0

	if err := b.file.Seek(int64(b.fileHeaderPos), goio.SeekStart); err != nil {
		return err
	}
	if err := b.writeFileHeaderRecord(); err != nil {
		return err
	}

	return b.file.Seek(0, goio.SeekEnd)
}

// Close finalizes the trailer on the first transition out of a writable
// mode and releases the file. Interrupting a Close of a writable bag
// leaves the index-position sentinel at 0; such a file is rejected with
// ErrTruncatedTrailer by both Read and Append.
func (b *Bag) Close() error {
	if !b.file.IsOpen() {
		return nil
	}

	if b.mode == Write || b.mode == Append || b.mode == ReadAppend {
		if err := b.stopWriting(); err != nil {
			b.file.Close()
			b.mode = Closed
			return err
		}
	}

	err := b.file.Close()
	b.mode = Closed
	return err
}

func (b *Bag) Mode() Mode       { return b.mode }
func (b *Bag) Offset() uint64   { return b.file.Offset() }
func (b *Bag) Filename() string { return b.file.Name() }

// Size returns the current on-disk length of the bag file.
func (b *Bag) Size() (uint64, error) { return b.file.Size() }

func (b *Bag) SetChunkThreshold(chunkThreshold uint32) { b.chunkThreshold = chunkThreshold }
func (b *Bag) ChunkThreshold() uint32                  { return b.chunkThreshold }

func (b *Bag) SetCompression(compression bagio.CompressionType) { b.compression = compression }
func (b *Bag) Compression() bagio.CompressionType               { return b.compression }

// Version

func (b *Bag) writeVersion() error {
	version := "#ROSBAG V" + versionString + "\n"

	log.Debug("writing VERSION [%d]: %q", b.file.Offset(), version)

	_, err := b.file.Write([]byte(version))
	return err
}

func (b *Bag) readVersion() error {
	versionLine, err := b.file.Getline()
	if err != nil {
		return errors.Wrap(ErrBadVersion, "missing version line")
	}

	b.fileHeaderPos = b.file.Offset()

	var logType string
	var versionMajor, versionMinor int
	if _, err := fmt.Sscanf(versionLine, "#ROS%s V%d.%d", &logType, &versionMajor, &versionMinor); err != nil {
		return errors.Wrapf(ErrBadVersion, "unparseable version line %q", versionLine)
	}

	// Special case: a few historical writers stamped major version 0.
	if versionMajor == 0 && versionLine[0] == '#' {
		versionMajor = 1
	}

	b.version = versionMajor*100 + versionMinor

	log.Debug("read VERSION: version=%d", b.version)

	return nil
}

func (b *Bag) Version() int      { return b.version }
func (b *Bag) MajorVersion() int { return b.version / 100 }
func (b *Bag) MinorVersion() int { return b.version % 100 }

// File header record

// writeFileHeaderRecord emits the FILE_HEADER record space-padded to
// exactly record.FileHeaderLength bytes, length prefixes included, so the
// back-patched rewrite at Close never outgrows its slot.
func (b *Bag) writeFileHeaderRecord() error {
	b.recordMu.Lock()
	defer b.recordMu.Unlock()

	b.topicCount = uint32(len(b.topicInfos))
	b.chunkCount = uint32(len(b.chunkInfos))

	log.Debug("writing FILE_HEADER [%d]: index_pos=%d topic_count=%d chunk_count=%d",
		b.file.Offset(), b.indexDataPos, b.topicCount, b.chunkCount)

	h := record.Header{}
	h.SetOp(record.OpFileHeader)
	h.SetUint64(record.IndexPosFieldName, b.indexDataPos)
	h.SetUint32(record.TopicCountFieldName, b.topicCount)
	h.SetUint32(record.ChunkCountFieldName, b.chunkCount)

	headerLen := uint32(len(h.Encode()))
	var dataLen uint32
	if headerLen+8 < record.FileHeaderLength {
		dataLen = record.FileHeaderLength - headerLen - 8
	}
	if err := record.WriteHeader(&b.file, h, dataLen); err != nil {
		return err
	}

	if dataLen > 0 {
		padding := make([]byte, dataLen)
		for i := range padding {
			padding[i] = ' '
		}
		if _, err := b.file.Write(padding); err != nil {
			return err
		}
	}
	return nil
}

func (b *Bag) readFileHeaderRecord() error {
	h, dataLen, err := b.readHeader()
	if err != nil {
		return errors.Wrap(err, "error reading FILE_HEADER record")
	}

	if !h.IsOp(record.OpFileHeader) {
		return errors.Wrap(ErrBadFormat, "expected FILE_HEADER op not found")
	}

	if b.indexDataPos, err = h.Uint64(record.IndexPosFieldName); err != nil {
		return err
	}
	if b.version >= 103 {
		if b.topicCount, err = h.Uint32(record.TopicCountFieldName); err != nil {
			return err
		}
		if b.chunkCount, err = h.Uint32(record.ChunkCountFieldName); err != nil {
			return err
		}
	}

	log.Debug("read FILE_HEADER: index_pos=%d topic_count=%d chunk_count=%d",
		b.indexDataPos, b.topicCount, b.chunkCount)

	// The data section is padding.
	return b.file.Seek(int64(dataLen), goio.SeekCurrent)
}

// readHeader reads one record header and data length prefix at the
// current file position.
func (b *Bag) readHeader() (record.Header, uint32, error) {
	return record.ReadHeader(&b.file)
}

// Introspection used by the info tooling.

// Topics returns the known topic names in unspecified order.
func (b *Bag) Topics() []string {
	topics := make([]string, 0, len(b.topicInfos))
	for topic := range b.topicInfos {
		topics = append(topics, topic)
	}
	return topics
}

// TopicInfoFor returns the schema description of a topic.
func (b *Bag) TopicInfoFor(topic string) (*TopicInfo, bool) {
	info, ok := b.topicInfos[topic]
	return info, ok
}

// MessageCount returns the number of indexed messages on a topic.
func (b *Bag) MessageCount(topic string) int {
	return len(b.topicIndexes[topic])
}

// ChunkCount returns the number of chunks in the bag.
func (b *Bag) ChunkCount() int { return len(b.chunkInfos) }

// TimeRange returns the earliest start and latest end time over all
// chunks; ok is false for a bag without chunks.
func (b *Bag) TimeRange() (start, end Time, ok bool) {
	for i, info := range b.chunkInfos {
		if i == 0 || info.StartTime.Before(start) {
			start = info.StartTime
		}
		if i == 0 || info.EndTime.After(end) {
			end = info.EndTime
		}
	}
	return start, end, len(b.chunkInfos) > 0
}
