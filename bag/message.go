package bag

// MessageHandle is a cheap reference to one indexed message. It defers
// chunk decompression and payload copy until Instantiate.
type MessageHandle struct {
	info  *TopicInfo
	entry IndexEntry
	bag   *Bag
}

func (m *MessageHandle) Topic() string      { return m.info.Topic }
func (m *MessageHandle) Time() Time         { return m.entry.Time }
func (m *MessageHandle) Datatype() string   { return m.info.Datatype }
func (m *MessageHandle) MD5Sum() string     { return m.info.MD5Sum }
func (m *MessageHandle) SchemaText() string { return m.info.SchemaText }

// Index returns the entry locating the message on disk.
func (m *MessageHandle) Index() IndexEntry { return m.entry }

// Instantiate performs the random-access read and returns the payload
// bytes. A failure here leaves the bag usable for other messages.
func (m *MessageHandle) Instantiate() ([]byte, error) {
	return m.bag.readMessageData(m.info.Topic, m.entry)
}
