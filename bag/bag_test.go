package bag_test

import (
	"bytes"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openrover/baglog/bag"
	"github.com/openrover/baglog/bagio"
)

type msg struct {
	topic   string
	time    bag.Time
	payload []byte
}

func md5For(topic string) string {
	sum := md5.Sum([]byte(topic))
	return hex.EncodeToString(sum[:])
}

func datatypeFor(topic string) string {
	return "test" + topic
}

func schemaFor(topic string) string {
	return "byte[] data # " + topic
}

func writeMsg(t *testing.T, b *bag.Bag, m msg, opts ...bag.WriteOption) {
	t.Helper()
	require.NoError(t, b.Write(m.topic, m.time, m.payload, schemaFor(m.topic), datatypeFor(m.topic), md5For(m.topic), opts...))
}

func writeBag(t *testing.T, path string, compression bagio.CompressionType, threshold uint32, msgs []msg) {
	t.Helper()
	b := bag.New()
	b.SetCompression(compression)
	b.SetChunkThreshold(threshold)
	require.NoError(t, b.Open(path, bag.Write))
	for _, m := range msgs {
		writeMsg(t, b, m)
	}
	require.NoError(t, b.Close())
}

func allTime() (bag.Time, bag.Time) {
	return bag.NewTime(0, 0), bag.NewTime(math.MaxUint32, math.MaxUint32)
}

func readBack(t *testing.T, path string, topics []string) []msg {
	t.Helper()
	b := bag.New()
	require.NoError(t, b.Open(path, bag.Read))
	defer b.Close()

	start, end := allTime()
	var got []msg
	for _, h := range b.GetMessagesByTopic(topics, start, end) {
		payload, err := h.Instantiate()
		require.NoError(t, err)
		assert.Equal(t, datatypeFor(h.Topic()), h.Datatype())
		assert.Equal(t, md5For(h.Topic()), h.MD5Sum())
		assert.Equal(t, schemaFor(h.Topic()), h.SchemaText())
		got = append(got, msg{topic: h.Topic(), time: h.Time(), payload: payload})
	}
	return got
}

// S1: a single message on a single topic survives the round trip.
func TestSingleMessageRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "single.bag")
	want := []msg{{"/a", bag.NewTime(10, 0), []byte{0xDE, 0xAD}}}

	writeBag(t, path, bagio.BZ2, 768*1024, want)

	got := readBack(t, path, []string{"/a"})
	assert.Equal(t, want, got)
}

// S2: two interleaved topics under a tiny chunk threshold come back merged
// in time order with payloads intact.
func TestInterleavedTopicsTinyThreshold(t *testing.T) {
	path := filepath.Join(t.TempDir(), "interleaved.bag")
	want := []msg{
		{"/a", bag.NewTime(1, 0), []byte{0x01}},
		{"/b", bag.NewTime(2, 0), []byte{0x02}},
		{"/a", bag.NewTime(3, 0), []byte{0x03}},
		{"/b", bag.NewTime(4, 0), []byte{0x04}},
	}

	writeBag(t, path, bagio.BZ2, 32, want)

	b := bag.New()
	require.NoError(t, b.Open(path, bag.Read))
	defer b.Close()
	assert.Greater(t, b.ChunkCount(), 1, "threshold 32 must split chunks")

	got := readBack(t, path, []string{"/a", "/b"})
	assert.Equal(t, want, got)
}

// Property 4: round-trip results are identical across compression modes.
func TestCompressionNeutrality(t *testing.T) {
	var msgs []msg
	for i := 0; i < 200; i++ {
		topic := fmt.Sprintf("/t%d", i%3)
		msgs = append(msgs, msg{topic, bag.NewTime(uint32(i), uint32(i*7)), bytes.Repeat([]byte{byte(i)}, i%50+1)})
	}

	var baseline []msg
	for _, compression := range []bagio.CompressionType{bagio.None, bagio.BZ2, bagio.ZLIB} {
		path := filepath.Join(t.TempDir(), compression.String()+".bag")
		writeBag(t, path, compression, 4096, msgs)
		got := readBack(t, path, []string{"/t0", "/t1", "/t2"})
		if baseline == nil {
			baseline = got
		} else {
			assert.Equal(t, baseline, got, "compression %s changed the round trip", compression)
		}
	}
	assert.Len(t, baseline, len(msgs))
}

// Property 3: the message set and order do not depend on where chunk
// boundaries fall.
func TestChunkBoundaryIndependence(t *testing.T) {
	var msgs []msg
	for i := 0; i < 64; i++ {
		msgs = append(msgs, msg{"/only", bag.NewTime(uint32(i), 0), []byte{byte(i), byte(i >> 1)}})
	}

	var baseline []msg
	for _, threshold := range []uint32{1, 64, 1 << 20} {
		path := filepath.Join(t.TempDir(), fmt.Sprintf("thresh%d.bag", threshold))
		writeBag(t, path, bagio.ZLIB, threshold, msgs)
		got := readBack(t, path, []string{"/only"})
		if baseline == nil {
			baseline = got
		} else {
			assert.Equal(t, baseline, got, "threshold %d changed the round trip", threshold)
		}
	}
	assert.Len(t, baseline, len(msgs))
}

// S3: the engine does not sort; out-of-order writes on a topic come back
// in write order.
func TestOutOfOrderWritesPreserveWriteOrder(t *testing.T) {
	path := filepath.Join(t.TempDir(), "unsorted.bag")
	want := []msg{
		{"/a", bag.NewTime(5, 0), []byte{0x05}},
		{"/a", bag.NewTime(3, 0), []byte{0x03}},
		{"/a", bag.NewTime(7, 0), []byte{0x07}},
	}

	writeBag(t, path, bagio.None, 768*1024, want)

	got := readBack(t, path, []string{"/a"})
	assert.Equal(t, want, got)
}

// S4 / property 6: appending to a finished bag extends the per-topic
// indexes.
func TestAppendAfterClose(t *testing.T) {
	path := filepath.Join(t.TempDir(), "append.bag")
	first := []msg{
		{"/a", bag.NewTime(1, 0), []byte{0x01}},
		{"/b", bag.NewTime(2, 0), []byte{0x02}},
		{"/a", bag.NewTime(3, 0), []byte{0x03}},
		{"/b", bag.NewTime(4, 0), []byte{0x04}},
	}
	writeBag(t, path, bagio.BZ2, 32, first)

	b := bag.New()
	require.NoError(t, b.Open(path, bag.Append))
	writeMsg(t, b, msg{"/a", bag.NewTime(5, 0), []byte{0x05}})
	require.NoError(t, b.Close())

	rb := bag.New()
	require.NoError(t, rb.Open(path, bag.Read))
	assert.Equal(t, 3, rb.MessageCount("/a"))
	assert.Equal(t, 2, rb.MessageCount("/b"))
	require.NoError(t, rb.Close())

	got := readBack(t, path, []string{"/a", "/b"})
	assert.Len(t, got, 5)
	assert.Equal(t, msg{"/a", bag.NewTime(5, 0), []byte{0x05}}, got[4])
}

// Property 5: reopening a finished bag for append and closing immediately
// leaves a valid trailer with the same message set.
func TestTrailerIdempotence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "idempotent.bag")
	want := []msg{
		{"/a", bag.NewTime(1, 0), []byte{0x01}},
		{"/b", bag.NewTime(2, 0), []byte{0x02}},
	}
	writeBag(t, path, bagio.ZLIB, 768*1024, want)

	b := bag.New()
	require.NoError(t, b.Open(path, bag.ReadAppend))
	require.NoError(t, b.Close())

	got := readBack(t, path, []string{"/a", "/b"})
	assert.Equal(t, want, got)
}

// S6: a damaged trailer fails open cleanly.
func TestCorruptedTrailer(t *testing.T) {
	path := filepath.Join(t.TempDir(), "corrupt.bag")
	writeBag(t, path, bagio.BZ2, 768*1024, []msg{{"/a", bag.NewTime(10, 0), []byte{0xDE, 0xAD}}})

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	for i := len(data) - 16; i < len(data); i++ {
		data[i] = 0
	}
	require.NoError(t, os.WriteFile(path, data, 0o644))

	b := bag.New()
	err = b.Open(path, bag.Read)
	require.Error(t, err)
	assert.True(t, errors.Is(err, bag.ErrBadFormat) || errors.Is(err, bag.ErrTruncatedTrailer),
		"want BadFormat or TruncatedTrailer, got %v", err)
}

// Property 7: a file whose header still carries the index-position
// sentinel fails Read with TruncatedTrailer.
func TestIndexPosSentinelFailsOpen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "unfinished.bag")
	writeBag(t, path, bagio.None, 768*1024, []msg{{"/a", bag.NewTime(1, 0), []byte{0x01}}})

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	field := bytes.Index(data, []byte("index_pos="))
	require.GreaterOrEqual(t, field, 0)
	for i := 0; i < 8; i++ {
		data[field+len("index_pos=")+i] = 0
	}
	require.NoError(t, os.WriteFile(path, data, 0o644))

	err = bag.New().Open(path, bag.Read)
	assert.ErrorIs(t, err, bag.ErrTruncatedTrailer)

	err = bag.New().Open(path, bag.Append)
	assert.ErrorIs(t, err, bag.ErrTruncatedTrailer)
}

// Property 8: random access returns the same bytes a merged scan finds.
func TestRandomAccessMatchesScan(t *testing.T) {
	path := filepath.Join(t.TempDir(), "random.bag")
	var msgs []msg
	for i := 0; i < 40; i++ {
		msgs = append(msgs, msg{fmt.Sprintf("/t%d", i%2), bag.NewTime(uint32(i), 0), []byte{byte(i), 0xAA}})
	}
	writeBag(t, path, bagio.BZ2, 256, msgs)

	b := bag.New()
	require.NoError(t, b.Open(path, bag.Read))
	defer b.Close()

	start, end := allTime()
	handles := b.GetMessagesByTopic([]string{"/t0", "/t1"}, start, end)
	require.Len(t, handles, len(msgs))

	// Instantiate out of order to exercise the one-chunk cache.
	for i := len(handles) - 1; i >= 0; i-- {
		payload, err := handles[i].Instantiate()
		require.NoError(t, err)
		assert.Equal(t, msgs[i].payload, payload)
	}
}

// GetMessages is the unordered scan with inclusive bounds on both ends.
func TestGetMessagesInclusiveBounds(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scan.bag")
	writeBag(t, path, bagio.None, 768*1024, []msg{
		{"/a", bag.NewTime(1, 0), []byte{0x01}},
		{"/a", bag.NewTime(2, 0), []byte{0x02}},
		{"/a", bag.NewTime(3, 0), []byte{0x03}},
		{"/b", bag.NewTime(2, 500), []byte{0x04}},
	})

	b := bag.New()
	require.NoError(t, b.Open(path, bag.Read))
	defer b.Close()

	handles := b.GetMessages(bag.NewTime(2, 0), bag.NewTime(3, 0))
	times := map[string]int{}
	for _, h := range handles {
		times[h.Time().String()]++
	}
	assert.Len(t, handles, 3)
	assert.Equal(t, 1, times[bag.NewTime(2, 0).String()])
	assert.Equal(t, 1, times[bag.NewTime(2, 500).String()])
	assert.Equal(t, 1, times[bag.NewTime(3, 0).String()])
}

func TestWriteOnReadOnlyBagFails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "readonly.bag")
	writeBag(t, path, bagio.None, 768*1024, []msg{{"/a", bag.NewTime(1, 0), []byte{0x01}}})

	b := bag.New()
	require.NoError(t, b.Open(path, bag.Read))
	defer b.Close()

	err := b.Write("/a", bag.NewTime(2, 0), []byte{0x02}, schemaFor("/a"), datatypeFor("/a"), md5For("/a"))
	assert.ErrorIs(t, err, bag.ErrNotOpen)
}

// Latching metadata rides in the message header without affecting the
// payload round trip.
func TestLatchingMetadata(t *testing.T) {
	path := filepath.Join(t.TempDir(), "latching.bag")

	b := bag.New()
	b.SetCompression(bagio.None)
	require.NoError(t, b.Open(path, bag.Write))
	writeMsg(t, b, msg{"/a", bag.NewTime(1, 0), []byte{0x01}}, bag.Latching(), bag.CallerID("/recorder"))
	require.NoError(t, b.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, bytes.Contains(data, []byte("latching=1")))
	assert.True(t, bytes.Contains(data, []byte("callerid=/recorder")))

	got := readBack(t, path, []string{"/a"})
	assert.Equal(t, []msg{{"/a", bag.NewTime(1, 0), []byte{0x01}}}, got)
}

func TestRewrite(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src.bag")
	dst := filepath.Join(dir, "dst.bag")

	want := []msg{
		{"/a", bag.NewTime(1, 0), []byte{0x01}},
		{"/b", bag.NewTime(2, 0), []byte{0x02}},
		{"/a", bag.NewTime(3, 0), []byte{0x03}},
	}
	writeBag(t, src, bagio.BZ2, 32, want)

	out := bag.New()
	out.SetCompression(bagio.ZLIB)
	require.NoError(t, out.Rewrite(src, dst))

	_, err := os.Stat(dst + ".active")
	assert.True(t, os.IsNotExist(err), "active file must be renamed away")

	got := readBack(t, dst, []string{"/a", "/b"})
	assert.Equal(t, want, got)
}

func TestOpenMissingFile(t *testing.T) {
	err := bag.New().Open(filepath.Join(t.TempDir(), "nope.bag"), bag.Read)
	assert.Error(t, err)
}

func TestBadVersionLine(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.bag")
	require.NoError(t, os.WriteFile(path, []byte("#ROSBAG V1.1\n"), 0o644))

	err := bag.New().Open(path, bag.Read)
	assert.ErrorIs(t, err, bag.ErrBadVersion)

	require.NoError(t, os.WriteFile(path, []byte("not a bag at all\n"), 0o644))
	err = bag.New().Open(path, bag.Read)
	assert.ErrorIs(t, err, bag.ErrBadVersion)
}
