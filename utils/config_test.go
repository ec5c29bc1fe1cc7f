package utils_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openrover/baglog/bagio"
	"github.com/openrover/baglog/utils"
)

func TestParseConfigDefaults(t *testing.T) {
	c, err := utils.ParseConfig([]byte(""))
	require.NoError(t, err)
	assert.Equal(t, bagio.BZ2, c.Compression)
	assert.Equal(t, uint32(768*1024), c.ChunkThreshold)
}

func TestParseConfig(t *testing.T) {
	c, err := utils.ParseConfig([]byte("compression: zlib\nchunk_threshold: 4M\n"))
	require.NoError(t, err)
	assert.Equal(t, bagio.ZLIB, c.Compression)
	assert.Equal(t, uint32(4*1024*1024), c.ChunkThreshold)
}

func TestParseConfigBadCompression(t *testing.T) {
	_, err := utils.ParseConfig([]byte("compression: lz4\n"))
	assert.ErrorIs(t, err, bagio.ErrUnknownCompression)
}

func TestParseConfigBadThreshold(t *testing.T) {
	_, err := utils.ParseConfig([]byte("chunk_threshold: lots\n"))
	assert.Error(t, err)
}
