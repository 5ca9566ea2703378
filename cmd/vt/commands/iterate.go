package commands

import (
	"errors"
	"fmt"

	"github.com/fivetwenty-io/vt-client/pkg/vt"
	"github.com/spf13/cobra"
)

// NewIterateCommand creates the iterate command.
func NewIterateCommand() *cobra.Command {
	var (
		params    []string
		limit     int
		batchSize int
		cursor    string
	)

	cmd := &cobra.Command{
		Use:     "iterate PATH",
		Aliases: []string{"list", "ls"},
		Short:   "List the objects of a collection",
		Long: `List the objects returned by a collection endpoint such as
/files/{hash}/comments or /intelligence/search, following pagination.
The cursor printed at the end resumes the listing with --cursor.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			values, err := parseParams(params)
			if err != nil {
				return err
			}

			client, err := newClient()
			if err != nil {
				return err
			}

			defer func() { _ = client.Close() }()

			it, err := client.Iterator(args[0], &vt.IteratorOptions{
				Cursor:    cursor,
				Limit:     limit,
				BatchSize: batchSize,
				Params:    values,
			})
			if err != nil {
				return err
			}

			ctx := commandContext(cmd)
			objects := []*vt.Object{}

			for {
				obj, err := it.Next(ctx)
				if errors.Is(err, vt.ErrNoMoreItems) {
					break
				}

				if err != nil {
					return fmt.Errorf("failed to list %s: %w", args[0], err)
				}

				objects = append(objects, obj)
			}

			err = printObjects(cmd.OutOrStdout(), outputFormat(), objects)
			if err != nil {
				return err
			}

			// A listing stopped by --limit may have more objects.
			if limit > 0 && it.Count() >= limit {
				_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "cursor: %s\n", it.Cursor())
			}

			return nil
		},
	}

	cmd.Flags().StringArrayVarP(&params, "param", "p", nil, "query parameter as key=value (repeatable)")
	cmd.Flags().IntVarP(&limit, "limit", "n", 10, "maximum number of objects (0 for all)")
	cmd.Flags().IntVar(&batchSize, "batch-size", 0, "objects requested per page")
	cmd.Flags().StringVar(&cursor, "cursor", "", "resume from a cursor printed by a previous run")

	return cmd
}
