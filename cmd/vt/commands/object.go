package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

// NewObjectCommand creates the object command.
func NewObjectCommand() *cobra.Command {
	var params []string

	cmd := &cobra.Command{
		Use:     "object PATH",
		Aliases: []string{"obj"},
		Short:   "Get an object",
		Long:    "Retrieve a single object, for example /files/{hash} or /domains/{name}, and print its attributes",
		Args:    cobra.ExactArgs(1),
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

			obj, err := client.GetObject(commandContext(cmd), args[0], values)
			if err != nil {
				return fmt.Errorf("failed to get object %s: %w", args[0], err)
			}

			return printObject(cmd.OutOrStdout(), outputFormat(), obj)
		},
	}

	cmd.Flags().StringArrayVarP(&params, "param", "p", nil, "query parameter as key=value (repeatable)")

	return cmd
}
