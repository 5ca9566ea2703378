package commands

import (
	"fmt"
	"io"
	"os"

	"github.com/fivetwenty-io/vt-client/internal/constants"
	"github.com/spf13/cobra"
)

// NewDownloadCommand creates the download command.
func NewDownloadCommand() *cobra.Command {
	var outputPath string

	cmd := &cobra.Command{
		Use:   "download HASH",
		Short: "Download a file",
		Long:  "Download the content of a file by its MD5, SHA-1 or SHA-256 hash. Use -o - to write to standard output.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			hash := args[0]

			client, err := newClient()
			if err != nil {
				return err
			}

			defer func() { _ = client.Close() }()

			if outputPath == "" {
				outputPath = hash
			}

			var writer io.Writer = cmd.OutOrStdout()

			if outputPath != "-" {
				file, err := os.OpenFile(outputPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, constants.DownloadFilePerm)
				if err != nil {
					return fmt.Errorf("failed to create %s: %w", outputPath, err)
				}

				defer func() { _ = file.Close() }()

				writer = file
			}

			written, err := client.DownloadFile(commandContext(cmd), hash, writer)
			if err != nil {
				if outputPath != "-" {
					_ = os.Remove(outputPath)
				}

				return fmt.Errorf("failed to download %s: %w", hash, err)
			}

			if outputPath != "-" {
				_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "Downloaded %d bytes to %s\n", written, outputPath)
			}

			return nil
		},
	}

	cmd.Flags().StringVarP(&outputPath, "output-file", "o", "", "destination file (default is the hash, - for stdout)")

	return cmd
}
