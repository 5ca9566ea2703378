package commands

import (
	"fmt"

	"github.com/fivetwenty-io/vt-client/internal/constants"
	"github.com/fivetwenty-io/vt-client/pkg/vt"
	"github.com/spf13/cobra"
)

// NewFeedCommand creates the feed command.
func NewFeedCommand() *cobra.Command {
	var (
		feedType   string
		cursor     string
		limit      int
		maxMissing int
	)

	cmd := &cobra.Command{
		Use:   "feed",
		Short: "Read objects from a feed",
		Long: `Read objects from a VirusTotal feed. Without --cursor reading starts one
hour ago. The cursor printed at the end continues where this run stopped.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if vt.FeedType(feedType) != vt.FeedTypeFiles {
				return fmt.Errorf("%w: %s", constants.ErrUnsupportedFeedType, feedType)
			}

			client, err := newClient()
			if err != nil {
				return err
			}

			defer func() { _ = client.Close() }()

			feed, err := client.Feed(vt.FeedType(feedType), cursor)
			if err != nil {
				return err
			}

			defer func() { _ = feed.Close() }()

			if maxMissing > 0 {
				feed.MaxMissing = maxMissing
			}

			ctx := commandContext(cmd)
			objects := make([]*vt.Object, 0, max(limit, 0))

			for range limit {
				obj, err := feed.Next(ctx)
				if err != nil {
					return fmt.Errorf("failed to read feed at %s: %w", feed.Cursor(), err)
				}

				objects = append(objects, obj)
			}

			err = printObjects(cmd.OutOrStdout(), outputFormat(), objects)
			if err != nil {
				return err
			}

			_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "cursor: %s\n", feed.Cursor())

			return nil
		},
	}

	cmd.Flags().StringVar(&feedType, "type", string(vt.FeedTypeFiles), "feed type")
	cmd.Flags().StringVar(&cursor, "cursor", "", "feed cursor (YYYYMMDDhhmm or YYYYMMDDhhmm-N)")
	cmd.Flags().IntVarP(&limit, "limit", "n", 10, "number of objects to read")
	cmd.Flags().IntVar(&maxMissing, "max-missing", 0, "consecutive missing packages tolerated (default 60)")

	return cmd
}
