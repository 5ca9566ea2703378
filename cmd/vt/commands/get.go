package commands

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/fivetwenty-io/vt-client/internal/constants"
	"github.com/spf13/cobra"
)

// NewGetCommand creates the get command.
func NewGetCommand() *cobra.Command {
	var params []string

	cmd := &cobra.Command{
		Use:   "get PATH",
		Short: "Get an API endpoint",
		Long:  "Send a GET request to an API path such as /users/me and print the data member of the response",
		Args:  cobra.ExactArgs(1),
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

			data, err := client.GetData(commandContext(cmd), args[0], values)
			if err != nil {
				return fmt.Errorf("failed to get %s: %w", args[0], err)
			}

			return printData(cmd.OutOrStdout(), outputFormat(), data)
		},
	}

	cmd.Flags().StringArrayVarP(&params, "param", "p", nil, "query parameter as key=value (repeatable)")

	return cmd
}

// parseParams turns key=value pairs into query parameters.
func parseParams(params []string) (url.Values, error) {
	values := url.Values{}

	for _, param := range params {
		key, value, ok := strings.Cut(param, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("%w: %q", constants.ErrInvalidParam, param)
		}

		values.Add(key, value)
	}

	return values, nil
}
