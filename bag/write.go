package bag

import (
	"encoding/binary"
	goio "io"
	"sort"

	"github.com/pkg/errors"

	"github.com/openrover/baglog/bagio"
	"github.com/openrover/baglog/record"
	"github.com/openrover/baglog/utils/log"
)

// WriteOption carries the optional connection metadata of one message.
type WriteOption func(*writeOptions)

type writeOptions struct {
	latching bool
	callerID string
}

// Latching marks the message as published on a latched connection.
func Latching() WriteOption {
	return func(o *writeOptions) { o.latching = true }
}

// CallerID records the identity of the publishing node. The callerid field
// is written only for a message that also carries Latching.
func CallerID(id string) WriteOption {
	return func(o *writeOptions) { o.callerID = id }
}

func (b *Bag) startWriting() error {
	if err := b.writeVersion(); err != nil {
		return err
	}
	b.fileHeaderPos = b.file.Offset()
	return b.writeFileHeaderRecord()
}

func (b *Bag) stopWriting() error {
	if b.chunkOpen {
		if err := b.stopWritingChunk(); err != nil {
			return err
		}
	}

	b.indexDataPos = b.file.Offset()
	if err := b.writeMessageDefinitionRecords(); err != nil {
		return err
	}
	if err := b.writeChunkInfoRecords(); err != nil {
		return err
	}

	if err := b.file.Seek(int64(b.fileHeaderPos), goio.SeekStart); err != nil {
		return err
	}
	return b.writeFileHeaderRecord()
}

// Write records one message. When writing has been disabled by the disk
// guard the message is dropped with a throttled warning and no error.
func (b *Bag) Write(topic string, t Time, payload []byte, schemaText, datatype, md5sum string, opts ...WriteOption) error {
	if b.mode != Write && b.mode != Append && b.mode != ReadAppend {
		return errors.Wrapf(ErrNotOpen, "bag not writable in mode %d", b.mode)
	}
	if !b.guard.loggingEnabled() {
		return nil
	}

	var o writeOptions
	for _, opt := range opts {
		opt(&o)
	}

	needsDef := false
	var info *TopicInfo
	{
		b.topicInfosMu.Lock()
		var ok bool
		if info, ok = b.topicInfos[topic]; !ok {
			info = &TopicInfo{
				Topic:      topic,
				Datatype:   datatype,
				MD5Sum:     md5sum,
				SchemaText: schemaText,
			}
			b.topicInfos[topic] = info
			b.topicIndexes[topic] = nil
			needsDef = true
		}
		b.topicInfosMu.Unlock()
	}

	b.guard.scheduledCheck()

	// Seek to the end of the file in case the previous operation was a
	// read. Not legal while a chunk's compression stage is open, and not
	// needed then either: the write position cannot have moved.
	if !b.chunkOpen {
		if err := b.file.Seek(0, goio.SeekEnd); err != nil {
			return err
		}
		if err := b.startWritingChunk(t); err != nil {
			return err
		}
	}

	entry := IndexEntry{
		Time:     t,
		ChunkPos: b.currChunk.Pos,
		Offset:   b.chunkOffset(),
	}
	b.currChunkTopicIndexes[topic] = append(b.currChunkTopicIndexes[topic], entry)
	b.currChunk.TopicCounts[topic]++

	if needsDef {
		if err := b.writeMessageDefinitionRecord(info); err != nil {
			return err
		}
	}

	if err := b.writeMessageDataRecord(topic, t, o, payload); err != nil {
		return err
	}

	if chunkSize := b.chunkOffset(); chunkSize > b.chunkThreshold {
		log.Debug("curr_chunk_size=%d (threshold=%d)", chunkSize, b.chunkThreshold)
		return b.stopWritingChunk()
	}
	return nil
}

// chunkOffset returns the number of uncompressed bytes written into the
// open chunk so far. This is also what IndexEntry.Offset stores.
func (b *Bag) chunkOffset() uint32 {
	if b.compression == bagio.None {
		return uint32(b.file.Offset() - b.currChunkDataPos)
	}
	return b.file.CompressedBytesIn()
}

func (b *Bag) startWritingChunk(t Time) error {
	b.currChunk = ChunkInfo{
		Pos:         b.file.Offset(),
		StartTime:   t,
		EndTime:     t,
		TopicCounts: map[string]uint32{},
	}
	b.currChunkTopicIndexes = map[string][]IndexEntry{}

	// Chunk header with placeholder sizes, patched on chunk close.
	if err := b.writeChunkHeader(ChunkHeader{Compression: b.compression}); err != nil {
		return err
	}

	if err := b.file.SetWriteMode(b.compression); err != nil {
		return err
	}
	b.currChunkDataPos = b.file.Offset()

	b.chunkOpen = true
	return nil
}

func (b *Bag) stopWritingChunk() error {
	// Fold the per-chunk indexes into the bag-wide ones.
	b.chunkInfos = append(b.chunkInfos, b.currChunk)
	for topic, entries := range b.currChunkTopicIndexes {
		b.topicIndexes[topic] = append(b.topicIndexes[topic], entries...)
	}

	uncompressedSize := b.chunkOffset()
	if err := b.file.SetWriteMode(bagio.None); err != nil {
		return err
	}
	compressedSize := uint32(b.file.Offset() - b.currChunkDataPos)

	log.Debug("end chunk: uncompressed=%d compressed=%d", uncompressedSize, compressedSize)

	// Patch the chunk header with the real sizes.
	endOfChunkPos := b.file.Offset()
	if err := b.file.Seek(int64(b.currChunk.Pos), goio.SeekStart); err != nil {
		return err
	}
	err := b.writeChunkHeader(ChunkHeader{
		Compression:      b.compression,
		CompressedSize:   compressedSize,
		UncompressedSize: uncompressedSize,
	})
	if err != nil {
		return err
	}
	if err := b.file.Seek(int64(endOfChunkPos), goio.SeekStart); err != nil {
		return err
	}

	if err := b.writeTopicIndexRecords(); err != nil {
		return err
	}
	b.currChunkTopicIndexes = nil

	b.chunkOpen = false
	return nil
}

func (b *Bag) writeChunkHeader(chunkHeader ChunkHeader) error {
	log.Debug("writing CHUNK [%d]: compression=%s compressed=%d uncompressed=%d",
		b.file.Offset(), chunkHeader.Compression, chunkHeader.CompressedSize, chunkHeader.UncompressedSize)

	h := record.Header{}
	h.SetOp(record.OpChunk)
	h.SetString(record.CompressionFieldName, chunkHeader.Compression.String())
	h.SetUint32(record.SizeFieldName, chunkHeader.UncompressedSize)

	return record.WriteHeader(&b.file, h, chunkHeader.CompressedSize)
}

func (b *Bag) writeMessageDataRecord(topic string, t Time, o writeOptions, payload []byte) error {
	h := record.Header{}
	h.SetOp(record.OpMsgData)
	h.SetString(record.TopicFieldName, topic)
	h.SetTime(record.TimeFieldName, t)
	if o.latching {
		h.SetString(record.LatchingFieldName, "1")
		h.SetString(record.CallerIDFieldName, o.callerID)
	}

	log.Debug("writing MSG_DATA [%d:%d]: topic=%s sec=%d nsec=%d data_len=%d",
		b.file.Offset(), b.chunkOffset(), topic, t.Sec, t.Nsec, len(payload))

	if err := record.Write(&b.file, h, payload); err != nil {
		return err
	}

	if t.After(b.currChunk.EndTime) {
		b.currChunk.EndTime = t
	}
	return nil
}

// Topic index records

// writeTopicIndexRecords emits one INDEX_DATA record per topic present in
// the chunk just closed, outside the compressed stream.
func (b *Bag) writeTopicIndexRecords() error {
	b.recordMu.Lock()
	defer b.recordMu.Unlock()

	for _, topic := range sortedKeys(b.currChunkTopicIndexes) {
		topicIndex := b.currChunkTopicIndexes[topic]

		h := record.Header{}
		h.SetOp(record.OpIndexData)
		h.SetString(record.TopicFieldName, topic)
		h.SetUint32(record.VerFieldName, record.IndexVersion)
		h.SetUint32(record.CountFieldName, uint32(len(topicIndex)))

		log.Debug("writing INDEX_DATA: topic=%s ver=%d count=%d", topic, record.IndexVersion, len(topicIndex))

		dataLen := uint32(len(topicIndex)) * indexEntrySize
		if err := record.WriteHeader(&b.file, h, dataLen); err != nil {
			return err
		}

		buf := make([]byte, indexEntrySize)
		for _, e := range topicIndex {
			binary.LittleEndian.PutUint32(buf[0:], e.Time.Sec)
			binary.LittleEndian.PutUint32(buf[4:], e.Time.Nsec)
			binary.LittleEndian.PutUint32(buf[8:], e.Offset)
			if _, err := b.file.Write(buf); err != nil {
				return err
			}
		}
	}
	return nil
}

// Message definition records

func (b *Bag) writeMessageDefinitionRecords() error {
	b.recordMu.Lock()
	defer b.recordMu.Unlock()

	for _, topic := range sortedKeys(b.topicInfos) {
		if err := b.writeMessageDefinitionRecord(b.topicInfos[topic]); err != nil {
			return err
		}
	}
	return nil
}

func (b *Bag) writeMessageDefinitionRecord(info *TopicInfo) error {
	log.Debug("writing MSG_DEF [%d:%d]: topic=%s md5sum=%s type=%s",
		b.file.Offset(), b.chunkOffset(), info.Topic, info.MD5Sum, info.Datatype)

	h := record.Header{}
	h.SetOp(record.OpMsgDef)
	h.SetString(record.TopicFieldName, info.Topic)
	h.SetString(record.MD5FieldName, info.MD5Sum)
	h.SetString(record.TypeFieldName, info.Datatype)
	h.SetString(record.DefFieldName, info.SchemaText)

	return record.WriteHeader(&b.file, h, 0)
}

// Chunk info records

func (b *Bag) writeChunkInfoRecords() error {
	b.recordMu.Lock()
	defer b.recordMu.Unlock()

	for _, chunkInfo := range b.chunkInfos {
		h := record.Header{}
		h.SetOp(record.OpChunkInfo)
		h.SetUint32(record.VerFieldName, record.ChunkInfoVersion)
		h.SetUint64(record.ChunkPosFieldName, chunkInfo.Pos)
		h.SetTime(record.StartTimeFieldName, chunkInfo.StartTime)
		h.SetTime(record.EndTimeFieldName, chunkInfo.EndTime)
		h.SetUint32(record.CountFieldName, uint32(len(chunkInfo.TopicCounts)))

		var dataLen uint32
		for topic := range chunkInfo.TopicCounts {
			dataLen += 4 + uint32(len(topic)) + 4
		}

		log.Debug("writing CHUNK_INFO [%d]: ver=%d pos=%d start=%s end=%s data_len=%d",
			b.file.Offset(), record.ChunkInfoVersion, chunkInfo.Pos,
			chunkInfo.StartTime, chunkInfo.EndTime, dataLen)

		if err := record.WriteHeader(&b.file, h, dataLen); err != nil {
			return err
		}

		var u32 [4]byte
		for _, topic := range sortedKeys(chunkInfo.TopicCounts) {
			binary.LittleEndian.PutUint32(u32[:], uint32(len(topic)))
			if _, err := b.file.Write(u32[:]); err != nil {
				return err
			}
			if _, err := b.file.Write([]byte(topic)); err != nil {
				return err
			}
			binary.LittleEndian.PutUint32(u32[:], chunkInfo.TopicCounts[topic])
			if _, err := b.file.Write(u32[:]); err != nil {
				return err
			}
		}
	}
	return nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
