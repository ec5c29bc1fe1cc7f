package record

// Record opcodes, stored as a single byte in the "op" header field.
const (
	OpMsgDef     byte = 0x01
	OpMsgData    byte = 0x02
	OpFileHeader byte = 0x03
	OpIndexData  byte = 0x04
	OpChunk      byte = 0x05
	OpChunkInfo  byte = 0x06
)

// Header field names.
const (
	OpFieldName          = "op"
	TopicFieldName       = "topic"
	VerFieldName         = "ver"
	CountFieldName       = "count"
	ChunkPosFieldName    = "chunk_pos"
	StartTimeFieldName   = "start_time"
	EndTimeFieldName     = "end_time"
	CompressionFieldName = "compression"
	SizeFieldName        = "size"
	IndexPosFieldName    = "index_pos"
	TopicCountFieldName  = "topic_count"
	ChunkCountFieldName  = "chunk_count"
	MD5FieldName         = "md5"
	TypeFieldName        = "type"
	DefFieldName         = "def"
	LatchingFieldName    = "latching"
	CallerIDFieldName    = "callerid"
	TimeFieldName        = "time"
)

const (
	// FileHeaderLength is the fixed on-disk size of the FILE_HEADER record,
	// length prefixes included. The record is space-padded up to it so the
	// back-patched rewrite can never outgrow the original slot.
	FileHeaderLength = 4096

	IndexVersion     uint32 = 1
	ChunkInfoVersion uint32 = 1
)
