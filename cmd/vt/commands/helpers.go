package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/fivetwenty-io/vt-client/internal/config"
	"github.com/fivetwenty-io/vt-client/internal/constants"
	"github.com/fivetwenty-io/vt-client/pkg/vt"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

const (
	// Values longer than this are truncated in table output.
	maxCellWidth = 80

	defaultJSONIndent = 2
)

// newClient creates a vt client from the flags, the environment and the
// config file, in that order of precedence.
func newClient() (*vt.Client, error) {
	cfg := config.FromViper(viper.GetViper())

	if cfg.APIKey == "" {
		return nil, constants.ErrNoAPIKeyConfigured
	}

	opts := []vt.Option{
		vt.WithAgent(cfg.Agent),
		vt.WithVerifyTLS(cfg.VerifyTLS),
	}

	if cfg.Host != "" {
		opts = append(opts, vt.WithHost(cfg.Host))
	}

	if cfg.Verbose {
		opts = append(opts,
			vt.WithLogger(vt.NewZerologLogger(os.Stderr, "debug")),
			vt.WithDebug(true),
		)
	}

	client, err := vt.NewClient(cfg.APIKey, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create client: %w", err)
	}

	return client, nil
}

func outputFormat() string {
	return viper.GetString("output")
}

// printValue writes value as json or yaml. Table output is handled by the
// callers since every command lays out its own columns.
func printValue(w io.Writer, format string, value interface{}) error {
	switch format {
	case constants.FormatJSON:
		encoder := json.NewEncoder(w)
		encoder.SetIndent("", strings.Repeat(" ", defaultJSONIndent))

		return encoder.Encode(value)
	case constants.FormatYAML:
		encoder := yaml.NewEncoder(w)
		defer func() { _ = encoder.Close() }()

		return encoder.Encode(plain(value))
	default:
		return fmt.Errorf("%w: %s", constants.ErrUnsupportedFormat, format)
	}
}

// printObjects writes objects in the requested format.
func printObjects(w io.Writer, format string, objects []*vt.Object) error {
	switch format {
	case constants.FormatJSON:
		return printValue(w, format, objects)
	case constants.FormatYAML:
		maps := make([]interface{}, len(objects))
		for i, obj := range objects {
			maps[i] = obj.ToMap()
		}

		return printValue(w, format, maps)
	case constants.FormatTable:
		table := tablewriter.NewWriter(w)
		table.Header("Type", "ID", "Attributes")

		for _, obj := range objects {
			_ = table.Append(obj.Type(), obj.ID(), fmt.Sprintf("%d", len(obj.Attributes())))
		}

		err := table.Render()
		if err != nil {
			return fmt.Errorf("failed to render table: %w", err)
		}

		return nil
	default:
		return fmt.Errorf("%w: %s", constants.ErrUnsupportedFormat, format)
	}
}

// printObject writes a single object; tables list one attribute per row.
func printObject(w io.Writer, format string, obj *vt.Object) error {
	switch format {
	case constants.FormatJSON:
		return printValue(w, format, obj)
	case constants.FormatYAML:
		return printValue(w, format, obj.ToMap())
	case constants.FormatTable:
		table := tablewriter.NewWriter(w)
		table.Header("Attribute", "Value")

		_ = table.Append("type", obj.Type())
		_ = table.Append("id", obj.ID())

		for _, name := range obj.Attributes() {
			value, _ := obj.Get(name)
			_ = table.Append(name, cell(value))
		}

		err := table.Render()
		if err != nil {
			return fmt.Errorf("failed to render table: %w", err)
		}

		return nil
	default:
		return fmt.Errorf("%w: %s", constants.ErrUnsupportedFormat, format)
	}
}

// printData writes the data member of a response. Tables are only produced
// for dictionaries; anything else falls back to json.
func printData(w io.Writer, format string, data interface{}) error {
	if format != constants.FormatTable {
		return printValue(w, format, data)
	}

	fields, ok := data.(map[string]interface{})
	if !ok {
		return printValue(w, constants.FormatJSON, data)
	}

	keys := make([]string, 0, len(fields))
	for key := range fields {
		keys = append(keys, key)
	}

	sort.Strings(keys)

	table := tablewriter.NewWriter(w)
	table.Header("Key", "Value")

	for _, key := range keys {
		_ = table.Append(key, cell(fields[key]))
	}

	err := table.Render()
	if err != nil {
		return fmt.Errorf("failed to render table: %w", err)
	}

	return nil
}

// cell renders a value for a table cell.
func cell(value interface{}) string {
	var s string

	switch v := value.(type) {
	case string:
		s = v
	case json.Number:
		s = v.String()
	case nil:
		s = ""
	default:
		data, err := json.Marshal(v)
		if err != nil {
			s = fmt.Sprintf("%v", v)
		} else {
			s = string(data)
		}
	}

	if len(s) > maxCellWidth {
		s = s[:maxCellWidth-3] + "..."
	}

	return s
}

// plain replaces json.Number values so yaml emits numbers instead of strings.
func plain(value interface{}) interface{} {
	switch v := value.(type) {
	case json.Number:
		if n, err := v.Int64(); err == nil {
			return n
		}

		if f, err := v.Float64(); err == nil {
			return f
		}

		return v.String()
	case map[string]interface{}:
		out := make(map[string]interface{}, len(v))
		for key, item := range v {
			out[key] = plain(item)
		}

		return out
	case []interface{}:
		out := make([]interface{}, len(v))
		for i, item := range v {
			out[i] = plain(item)
		}

		return out
	default:
		return value
	}
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}

	return context.Background()
}
