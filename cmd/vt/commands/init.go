package commands

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fivetwenty-io/vt-client/internal/config"
	"github.com/fivetwenty-io/vt-client/internal/constants"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/term"
)

// NewInitCommand creates the init command.
func NewInitCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Save your API key",
		Long:  "Prompt for a VirusTotal API key and save it to the configuration file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var apiKey string

			if flag := cmd.Flags().Lookup("apikey"); flag != nil && flag.Changed {
				apiKey = flag.Value.String()
			} else {
				_, _ = fmt.Fprint(cmd.ErrOrStderr(), "Enter your VirusTotal API key: ")

				key, err := readAPIKey(cmd.InOrStdin())

				_, _ = fmt.Fprintln(cmd.ErrOrStderr())

				if err != nil {
					return err
				}

				apiKey = key
			}

			cfg := config.FromViper(viper.GetViper())
			cfg.APIKey = apiKey

			err := config.Save(cfg, viper.GetString("config"))
			if err != nil {
				return fmt.Errorf("failed to save config: %w", err)
			}

			_, _ = fmt.Fprintln(cmd.OutOrStdout(), "API key saved")

			return nil
		},
	}
}

// readAPIKey reads the key without echo when in is a terminal.
func readAPIKey(in io.Reader) (string, error) {
	if file, ok := in.(*os.File); ok && term.IsTerminal(int(file.Fd())) {
		keyBytes, err := term.ReadPassword(int(file.Fd()))
		if err != nil {
			return "", fmt.Errorf("failed to read API key: %w", err)
		}

		return validAPIKey(string(keyBytes))
	}

	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && line == "" {
		if errors.Is(err, io.EOF) {
			return "", constants.ErrEmptyAPIKey
		}

		return "", fmt.Errorf("failed to read API key: %w", err)
	}

	return validAPIKey(line)
}

func validAPIKey(key string) (string, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return "", constants.ErrEmptyAPIKey
	}

	return key, nil
}
