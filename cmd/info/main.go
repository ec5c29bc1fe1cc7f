package info

import (
	"fmt"
	"sort"

	"code.cloudfoundry.org/bytefmt"
	"github.com/gobwas/glob"
	"github.com/spf13/cobra"

	"github.com/openrover/baglog/bag"
)

const (
	infoUsage     = "info <file>"
	infoShortDesc = "Summarize the contents of a bag file"
	infoLongDesc  = "This command prints the version, time range, chunk count, and per-topic message counts of a bag file"
	infoExample   = "baglog info recording.bag --topic '/sensors/*'"
	topicDesc     = "only show topics matching this glob pattern"
)

var (
	// Cmd is the info command.
	Cmd = &cobra.Command{
		Use:     infoUsage,
		Short:   infoShortDesc,
		Long:    infoLongDesc,
		Example: infoExample,
		Args:    cobra.ExactArgs(1),
		RunE:    executeInfo,
	}
	// topicPattern filters the topic listing.
	topicPattern string
)

func init() {
	Cmd.Flags().StringVarP(&topicPattern, "topic", "t", "", topicDesc)
}

func executeInfo(cmd *cobra.Command, args []string) error {
	cmd.SilenceUsage = true

	matcher := glob.MustCompile("*")
	if topicPattern != "" {
		var err error
		if matcher, err = glob.Compile(topicPattern); err != nil {
			return fmt.Errorf("invalid topic pattern %q: %w", topicPattern, err)
		}
	}

	b := bag.New()
	if err := b.Open(args[0], bag.Read); err != nil {
		return err
	}
	defer b.Close()

	size, err := b.Size()
	if err != nil {
		return err
	}

	fmt.Printf("path:    %s\n", b.Filename())
	fmt.Printf("version: %d.%d\n", b.MajorVersion(), b.MinorVersion())
	fmt.Printf("size:    %s\n", bytefmt.ByteSize(size))
	fmt.Printf("chunks:  %d\n", b.ChunkCount())
	if start, end, ok := b.TimeRange(); ok {
		fmt.Printf("start:   %s\n", start)
		fmt.Printf("end:     %s\n", end)
	}

	topics := b.Topics()
	sort.Strings(topics)
	fmt.Println("topics:")
	for _, topic := range topics {
		if !matcher.Match(topic) {
			continue
		}
		ti, _ := b.TopicInfoFor(topic)
		fmt.Printf("  %-32s %6d msgs : %s [%s]\n", topic, b.MessageCount(topic), ti.Datatype, ti.MD5Sum)
	}

	return nil
}
