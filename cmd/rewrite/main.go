package rewrite

import (
	"fmt"
	"os"

	"code.cloudfoundry.org/bytefmt"
	"github.com/spf13/cobra"

	"github.com/openrover/baglog/bag"
	"github.com/openrover/baglog/bagio"
	"github.com/openrover/baglog/utils"
)

const (
	rewriteUsage     = "rewrite <src> <dst>"
	rewriteShortDesc = "Pipe a bag file through a fresh writer"
	rewriteLongDesc  = "This command rewrites a bag file message by message, recompressing and rechunking it; the destination is replaced only on success"
	rewriteExample   = "baglog rewrite old.bag new.bag --compression zlib --chunk-threshold 1M"
	configDesc       = "set the path for an optional YAML recorder configuration file"
	compressionDesc  = "chunk compression: none, bz2, or zlib"
	thresholdDesc    = "chunk size threshold, e.g. 768K or 4M"
)

var (
	// Cmd is the rewrite command.
	Cmd = &cobra.Command{
		Use:     rewriteUsage,
		Short:   rewriteShortDesc,
		Long:    rewriteLongDesc,
		Example: rewriteExample,
		Args:    cobra.ExactArgs(2),
		RunE:    executeRewrite,
	}

	configFilePath string
	compressionArg string
	thresholdArg   string
)

func init() {
	Cmd.Flags().StringVarP(&configFilePath, "config", "c", "", configDesc)
	Cmd.Flags().StringVar(&compressionArg, "compression", "", compressionDesc)
	Cmd.Flags().StringVar(&thresholdArg, "chunk-threshold", "", thresholdDesc)
}

func executeRewrite(cmd *cobra.Command, args []string) error {
	cmd.SilenceUsage = true

	out := bag.New()

	if configFilePath != "" {
		data, err := os.ReadFile(configFilePath)
		if err != nil {
			return fmt.Errorf("failed to read configuration file: %w", err)
		}
		config, err := utils.ParseConfig(data)
		if err != nil {
			return fmt.Errorf("failed to parse configuration file: %w", err)
		}
		out.SetCompression(config.Compression)
		out.SetChunkThreshold(config.ChunkThreshold)
	}

	// Flags override the configuration file.
	if compressionArg != "" {
		compression, err := bagio.ParseCompression(compressionArg)
		if err != nil {
			return err
		}
		out.SetCompression(compression)
	}
	if thresholdArg != "" {
		threshold, err := bytefmt.ToBytes(thresholdArg)
		if err != nil {
			return fmt.Errorf("invalid chunk threshold %q: %w", thresholdArg, err)
		}
		out.SetChunkThreshold(uint32(threshold))
	}

	return out.Rewrite(args[0], args[1])
}
