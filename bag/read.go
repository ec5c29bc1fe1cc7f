package bag

import (
	"encoding/binary"
	goio "io"

	"github.com/pkg/errors"

	"github.com/openrover/baglog/bagio"
	"github.com/openrover/baglog/record"
	"github.com/openrover/baglog/utils/log"
)

// startReadingVersion103 loads the trailer of a current-format bag: the
// message definition records, the chunk directory, and the per-chunk topic
// index records.
func (b *Bag) startReadingVersion103() error {
	log.Debug("reading in version 1.3 bag")

	if err := b.readFileHeaderRecord(); err != nil {
		return err
	}

	if b.indexDataPos == 0 {
		return errors.Wrap(ErrTruncatedTrailer, "index position not set, writer did not finish")
	}
	size, err := b.file.Size()
	if err != nil {
		return err
	}
	if b.indexDataPos > size {
		return errors.Wrapf(ErrTruncatedTrailer, "index position %d past end of file (%d bytes)", b.indexDataPos, size)
	}

	if err := b.file.Seek(int64(b.indexDataPos), goio.SeekStart); err != nil {
		return err
	}

	for i := uint32(0); i < b.topicCount; i++ {
		if err := b.readMessageDefinitionRecord(); err != nil {
			return errors.Wrap(err, "failed to read message definition record")
		}
	}

	for i := uint32(0); i < b.chunkCount; i++ {
		if err := b.readChunkInfoRecord(); err != nil {
			return errors.Wrap(err, "failed to read chunk info record")
		}
	}

	// Read the topic index records stored after each chunk.
	for _, chunkInfo := range b.chunkInfos {
		if err := b.file.Seek(int64(chunkInfo.Pos), goio.SeekStart); err != nil {
			return err
		}

		// Skip over the chunk data.
		chunkHeader, err := b.readChunkHeader()
		if err != nil {
			return err
		}
		if err := b.file.Seek(int64(chunkHeader.CompressedSize), goio.SeekCurrent); err != nil {
			return err
		}

		for i := 0; i < len(chunkInfo.TopicCounts); i++ {
			if err := b.readTopicIndexRecord(chunkInfo.Pos); err != nil {
				return err
			}
		}
	}

	return nil
}

// startReadingVersion102 loads a legacy unchunked bag: the topic index
// records point at absolute message positions in the file, and the message
// definitions sit in the stream right before each topic's first message.
func (b *Bag) startReadingVersion102() error {
	log.Debug("reading in version 1.2 bag")

	if err := b.readFileHeaderRecord(); err != nil {
		return err
	}

	if b.indexDataPos == 0 {
		return errors.Wrap(ErrTruncatedTrailer, "index position not set, writer did not finish")
	}
	if err := b.file.Seek(int64(b.indexDataPos), goio.SeekStart); err != nil {
		return err
	}

	for {
		if err := b.readTopicIndexRecord(0); err != nil {
			if errors.Is(err, goio.EOF) {
				break
			}
			return err
		}
	}

	for topic, topicIndex := range b.topicIndexes {
		if len(topicIndex) == 0 {
			continue
		}
		firstEntry := topicIndex[0]

		log.Debug("reading message definition for %s at %d", topic, firstEntry.ChunkPos)

		if err := b.file.Seek(int64(firstEntry.ChunkPos), goio.SeekStart); err != nil {
			return err
		}
		if err := b.readMessageDefinitionsUntilData(); err != nil {
			return errors.Wrapf(err, "no message definition found for %s", topic)
		}
	}

	return nil
}

// readMessageDefinitionsUntilData consumes the run of MSG_DEF records at
// the current position, stopping at the first record of any other op.
// Historical writers sometimes repeated definitions, so any positive run
// length is accepted.
func (b *Bag) readMessageDefinitionsUntilData() error {
	sawDef := false
	for {
		h, dataLen, err := b.readHeader()
		if err != nil {
			return err
		}
		op, err := h.Op()
		if err != nil {
			return err
		}
		if op != record.OpMsgDef {
			if !sawDef {
				return errors.Wrap(ErrBadFormat, "expected MSG_DEF op not found")
			}
			return nil
		}
		if err := b.loadMessageDefinition(h); err != nil {
			return err
		}
		if err := b.file.Seek(int64(dataLen), goio.SeekCurrent); err != nil {
			return err
		}
		sawDef = true
	}
}

func (b *Bag) readChunkHeader() (ChunkHeader, error) {
	h, dataLen, err := b.readHeader()
	if err != nil {
		return ChunkHeader{}, err
	}

	if !h.IsOp(record.OpChunk) {
		return ChunkHeader{}, errors.Wrap(ErrBadFormat, "expected CHUNK op not found")
	}

	compressionStr, err := h.String(record.CompressionFieldName)
	if err != nil {
		return ChunkHeader{}, err
	}
	compression, err := bagio.ParseCompression(compressionStr)
	if err != nil {
		return ChunkHeader{}, err
	}
	uncompressedSize, err := h.Uint32(record.SizeFieldName)
	if err != nil {
		return ChunkHeader{}, err
	}

	chunkHeader := ChunkHeader{
		Compression:      compression,
		CompressedSize:   dataLen,
		UncompressedSize: uncompressedSize,
	}

	log.Debug("read CHUNK: compression=%s compressed=%d uncompressed=%d",
		compression, chunkHeader.CompressedSize, chunkHeader.UncompressedSize)

	return chunkHeader, nil
}

// readTopicIndexRecord reads one INDEX_DATA record at the current
// position. chunkPos is the file position of the surrounding chunk; it is
// ignored by the legacy v0 entries, which carry their own file positions.
func (b *Bag) readTopicIndexRecord(chunkPos uint64) error {
	h, dataLen, err := b.readHeader()
	if err != nil {
		return err
	}

	if !h.IsOp(record.OpIndexData) {
		return errors.Wrap(ErrBadFormat, "expected INDEX_DATA op not found")
	}

	indexVersion, err := h.Uint32(record.VerFieldName)
	if err != nil {
		return err
	}
	topic, err := h.String(record.TopicFieldName)
	if err != nil {
		return err
	}
	count, err := h.Uint32(record.CountFieldName)
	if err != nil {
		return err
	}

	log.Debug("read INDEX_DATA: ver=%d topic=%s count=%d", indexVersion, topic, count)

	switch indexVersion {
	case 0:
		return b.readTopicIndexDataVersion0(dataLen, count, topic)
	case 1:
		return b.readTopicIndexDataVersion1(dataLen, count, topic, chunkPos)
	default:
		return errors.Wrapf(ErrBadFormat, "unsupported index data version %d", indexVersion)
	}
}

// readTopicIndexDataVersion0 stores each message's absolute file position
// in the ChunkPos field, with Offset zero.
func (b *Bag) readTopicIndexDataVersion0(dataLen, count uint32, topic string) error {
	if count*indexEntrySizeV0 != dataLen {
		return errors.Wrapf(ErrBadFormat, "v0 index data size %d does not match count %d", dataLen, count)
	}

	buf := make([]byte, indexEntrySizeV0)
	for i := uint32(0); i < count; i++ {
		if err := b.readRecordBody(buf); err != nil {
			return err
		}
		entry := IndexEntry{
			Time:     NewTime(binary.LittleEndian.Uint32(buf[0:]), binary.LittleEndian.Uint32(buf[4:])),
			ChunkPos: binary.LittleEndian.Uint64(buf[8:]),
		}
		b.topicIndexes[topic] = append(b.topicIndexes[topic], entry)
	}
	return nil
}

// readRecordBody fills buf from the file, reporting a short read as
// ErrBadFormat: a record body cut off mid-way means the declared lengths
// exceed the input.
func (b *Bag) readRecordBody(buf []byte) error {
	if err := b.file.ReadFull(buf); err != nil {
		return errors.Wrap(ErrBadFormat, err.Error())
	}
	return nil
}

func (b *Bag) readTopicIndexDataVersion1(dataLen, count uint32, topic string, chunkPos uint64) error {
	if count*indexEntrySize != dataLen {
		return errors.Wrapf(ErrBadFormat, "index data size %d does not match count %d", dataLen, count)
	}

	buf := make([]byte, indexEntrySize)
	for i := uint32(0); i < count; i++ {
		if err := b.readRecordBody(buf); err != nil {
			return err
		}
		entry := IndexEntry{
			Time:     NewTime(binary.LittleEndian.Uint32(buf[0:]), binary.LittleEndian.Uint32(buf[4:])),
			ChunkPos: chunkPos,
			Offset:   binary.LittleEndian.Uint32(buf[8:]),
		}
		b.topicIndexes[topic] = append(b.topicIndexes[topic], entry)
	}
	return nil
}

// Message definition records

func (b *Bag) readMessageDefinitionRecord() error {
	h, dataLen, err := b.readHeader()
	if err != nil {
		return err
	}

	if !h.IsOp(record.OpMsgDef) {
		return errors.Wrap(ErrBadFormat, "expected MSG_DEF op not found")
	}
	if err := b.loadMessageDefinition(h); err != nil {
		return err
	}
	return b.file.Seek(int64(dataLen), goio.SeekCurrent)
}

// loadMessageDefinition registers the topic described by a MSG_DEF header.
// The first definition read for a topic wins; the md5sum is invariant per
// topic across the file.
func (b *Bag) loadMessageDefinition(h record.Header) error {
	topic, err := h.String(record.TopicFieldName)
	if err != nil {
		return err
	}
	md5sum, err := h.StringSized(record.MD5FieldName, 32, 32)
	if err != nil {
		return err
	}
	datatype, err := h.String(record.TypeFieldName)
	if err != nil {
		return err
	}
	schemaText, err := h.String(record.DefFieldName)
	if err != nil {
		return err
	}

	if _, ok := b.topicInfos[topic]; !ok {
		b.topicInfos[topic] = &TopicInfo{
			Topic:      topic,
			Datatype:   datatype,
			MD5Sum:     md5sum,
			SchemaText: schemaText,
		}
		log.Debug("read MSG_DEF: topic=%s md5sum=%s datatype=%s", topic, md5sum, datatype)
	}
	return nil
}

// Chunk info records

func (b *Bag) readChunkInfoRecord() error {
	h, dataLen, err := b.readHeader()
	if err != nil {
		return err
	}
	if !h.IsOp(record.OpChunkInfo) {
		return errors.Wrap(ErrBadFormat, "expected CHUNK_INFO op not found")
	}

	chunkInfoVersion, err := h.Uint32(record.VerFieldName)
	if err != nil {
		return err
	}
	if chunkInfoVersion != record.ChunkInfoVersion {
		return errors.Wrapf(ErrBadFormat, "unsupported chunk info version %d", chunkInfoVersion)
	}

	chunkInfo := ChunkInfo{TopicCounts: map[string]uint32{}}
	if chunkInfo.Pos, err = h.Uint64(record.ChunkPosFieldName); err != nil {
		return err
	}
	if chunkInfo.StartTime, err = h.Time(record.StartTimeFieldName); err != nil {
		return err
	}
	if chunkInfo.EndTime, err = h.Time(record.EndTimeFieldName); err != nil {
		return err
	}
	chunkTopicCount, err := h.Uint32(record.CountFieldName)
	if err != nil {
		return err
	}

	log.Debug("read CHUNK_INFO: chunk_pos=%d topic_count=%d start=%s end=%s",
		chunkInfo.Pos, chunkTopicCount, chunkInfo.StartTime, chunkInfo.EndTime)

	// Parse the topic count entries out of the bounded data section so a
	// record whose declared length disagrees with its contents is rejected
	// rather than read past.
	data := make([]byte, dataLen)
	if err := b.readRecordBody(data); err != nil {
		return err
	}
	for i := uint32(0); i < chunkTopicCount; i++ {
		if len(data) < 4 {
			return errors.Wrap(ErrBadFormat, "chunk info data section shorter than its topic count")
		}
		topicNameLen := binary.LittleEndian.Uint32(data)
		data = data[4:]
		if uint64(topicNameLen)+4 > uint64(len(data)) {
			return errors.Wrapf(ErrBadFormat, "topic name length %d exceeds chunk info data", topicNameLen)
		}
		topicName := string(data[:topicNameLen])
		data = data[topicNameLen:]
		chunkInfo.TopicCounts[topicName] = binary.LittleEndian.Uint32(data)
		data = data[4:]
	}

	b.chunkInfos = append(b.chunkInfos, chunkInfo)

	return nil
}

// Chunk decompression and random access

// decompressChunk loads the chunk at chunkPos into the one-chunk cache.
// With compression none the raw bytes are read straight into the cache
// buffer.
func (b *Bag) decompressChunk(chunkPos uint64) error {
	if b.decompressedChunk == chunkPos && b.decompressBuf != nil {
		return nil
	}

	if err := b.file.Seek(int64(chunkPos), goio.SeekStart); err != nil {
		return err
	}

	chunkHeader, err := b.readChunkHeader()
	if err != nil {
		return errors.Wrap(err, "error reading chunk header")
	}

	compressed := make([]byte, chunkHeader.CompressedSize)
	if err := b.readRecordBody(compressed); err != nil {
		return err
	}

	if chunkHeader.Compression == bagio.None {
		b.decompressBuf = compressed
	} else {
		b.decompressBuf = make([]byte, chunkHeader.UncompressedSize)
		if err := bagio.Decompress(chunkHeader.Compression, b.decompressBuf, compressed); err != nil {
			return err
		}
	}

	b.decompressedChunk = chunkPos
	return nil
}

// readMessageData materializes the payload bytes of the message located by
// entry on the given topic.
func (b *Bag) readMessageData(topic string, entry IndexEntry) ([]byte, error) {
	if b.version == 102 {
		return b.readMessageDataRecord102(topic, entry.ChunkPos)
	}
	return b.readMessageDataRecord103(topic, entry.ChunkPos, entry.Offset)
}

// readMessageDataRecord103 parses records at the entry offset inside the
// decompressed chunk, skipping inline MSG_DEF records, and returns a copy
// of the MSG_DATA payload.
func (b *Bag) readMessageDataRecord103(topic string, chunkPos uint64, offset uint32) ([]byte, error) {
	log.Debug("readMessageDataRecord: chunk_pos=%d offset=%d", chunkPos, offset)

	if err := b.decompressChunk(chunkPos); err != nil {
		return nil, err
	}

	for {
		h, dataLen, consumed, err := record.ReadHeaderFromBuffer(b.decompressBuf, offset)
		if err != nil {
			return nil, err
		}
		op, err := h.Op()
		if err != nil {
			return nil, err
		}
		offset += consumed

		switch op {
		case record.OpMsgDef:
			offset += dataLen
			continue
		case record.OpMsgData:
			msgTopic, err := h.String(record.TopicFieldName)
			if err != nil {
				return nil, err
			}
			if msgTopic != topic {
				return nil, errors.Wrapf(ErrInvariant, "index for %s located a message on %s", topic, msgTopic)
			}
			data := make([]byte, dataLen)
			copy(data, b.decompressBuf[offset:uint64(offset)+uint64(dataLen)])
			return data, nil
		default:
			return nil, errors.Wrapf(ErrBadFormat, "unexpected op 0x%02x in chunk", op)
		}
	}
}

// readMessageDataRecord102 reads a legacy message straight from the file:
// the index entry's chunk position is the message's absolute offset.
func (b *Bag) readMessageDataRecord102(topic string, offset uint64) ([]byte, error) {
	log.Debug("readMessageDataRecord: offset=%d", offset)

	if err := b.file.Seek(int64(offset), goio.SeekStart); err != nil {
		return nil, err
	}

	for {
		h, dataLen, err := b.readHeader()
		if err != nil {
			return nil, err
		}
		op, err := h.Op()
		if err != nil {
			return nil, err
		}

		switch op {
		case record.OpMsgDef:
			if err := b.file.Seek(int64(dataLen), goio.SeekCurrent); err != nil {
				return nil, err
			}
			continue
		case record.OpMsgData:
			msgTopic, err := h.String(record.TopicFieldName)
			if err != nil {
				return nil, err
			}
			if msgTopic != topic {
				return nil, errors.Wrapf(ErrInvariant, "index for %s located a message on %s", topic, msgTopic)
			}
			data := make([]byte, dataLen)
			if err := b.file.ReadFull(data); err != nil {
				return nil, err
			}
			return data, nil
		default:
			return nil, errors.Wrapf(ErrBadFormat, "unexpected op 0x%02x at message position", op)
		}
	}
}
