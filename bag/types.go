package bag

import (
	"github.com/openrover/baglog/bagio"
	"github.com/openrover/baglog/record"
)

// On-disk sizes of one serialized index entry at index versions 1 and 0.
const (
	indexEntrySize   = 12
	indexEntrySizeV0 = 16
)

// Mode selects how a bag file is opened.
type Mode int

const (
	Closed Mode = iota
	Read
	Write
	Append
	ReadAppend
)

// Time is a bag timestamp.
type Time = record.Time

// NewTime builds a timestamp from second and nanosecond counters.
func NewTime(sec, nsec uint32) Time { return record.NewTime(sec, nsec) }

// TopicInfo identifies and describes one logical topic. It is immutable
// after the first message on the topic is written.
type TopicInfo struct {
	Topic      string
	Datatype   string
	MD5Sum     string
	SchemaText string
}

// IndexEntry locates one message: its timestamp, the absolute file
// position of the chunk record holding it, and its byte offset within the
// uncompressed chunk data.
type IndexEntry struct {
	Time     Time
	ChunkPos uint64
	Offset   uint32
}

// ChunkInfo summarizes one chunk for the trailer: the absolute file
// position of the chunk record, the time range it covers, and the number
// of messages per topic it holds.
type ChunkInfo struct {
	Pos         uint64
	StartTime   Time
	EndTime     Time
	TopicCounts map[string]uint32
}

// ChunkHeader carries the chunk record's compression metadata.
type ChunkHeader struct {
	Compression      bagio.CompressionType
	CompressedSize   uint32
	UncompressedSize uint32
}
