package utils

import (
	"strings"

	"code.cloudfoundry.org/bytefmt"
	"gopkg.in/yaml.v2"

	"github.com/openrover/baglog/bagio"
	"github.com/openrover/baglog/utils/log"
)

// RecorderConfig holds the writer settings of the baglog CLI.
type RecorderConfig struct {
	Compression    bagio.CompressionType
	ChunkThreshold uint32
}

// ParseConfig reads a YAML recorder configuration. Unset fields keep the
// engine defaults (compression bz2, chunk threshold 768K). Chunk
// thresholds accept human byte sizes such as "512K" or "4M".
func ParseConfig(data []byte) (*RecorderConfig, error) {
	var aux struct {
		Compression    string `yaml:"compression"`
		ChunkThreshold string `yaml:"chunk_threshold"`
		LogLevel       string `yaml:"log_level"`
	}

	if err := yaml.Unmarshal(data, &aux); err != nil {
		return nil, err
	}

	c := &RecorderConfig{
		Compression:    bagio.BZ2,
		ChunkThreshold: 768 * 1024,
	}

	if aux.Compression != "" {
		compression, err := bagio.ParseCompression(aux.Compression)
		if err != nil {
			return nil, err
		}
		c.Compression = compression
	}

	if aux.ChunkThreshold != "" {
		threshold, err := bytefmt.ToBytes(aux.ChunkThreshold)
		if err != nil {
			return nil, err
		}
		c.ChunkThreshold = uint32(threshold)
	}

	if aux.LogLevel != "" {
		switch strings.ToLower(aux.LogLevel) {
		case "fatal":
			log.SetLevel(log.FATAL)
		case "error":
			log.SetLevel(log.ERROR)
		case "warning":
			log.SetLevel(log.WARNING)
		case "debug":
			log.SetLevel(log.DEBUG)
		case "info":
			log.SetLevel(log.INFO)
		default:
			log.Warn("invalid log_level %q, keeping current level", aux.LogLevel)
		}
	}

	return c, nil
}
