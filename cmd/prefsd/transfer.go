package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/kalambet/prefsd/internal/settings"
)

var settingsExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Write every setting to a YAML or JSON file",
	Long: `Write every setting to a YAML or JSON file.

Secrets are written masked unless --reveal is given; masked values are
skipped on import.

Examples:
  prefsd settings export --output console.yaml
  prefsd settings export --format json > console.json`,
	RunE: func(cmd *cobra.Command, args []string) error {
		output, _ := cmd.Flags().GetString("output")
		format, _ := cmd.Flags().GetString("format")
		reveal, _ := cmd.Flags().GetBool("reveal")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		w := io.Writer(os.Stdout)
		if output != "" {
			f, err := os.OpenFile(output, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
			if err != nil {
				return fmt.Errorf("creating output file: %w", err)
			}
			defer f.Close()
			w = f
		}

		if err := exportSettings(cmd.Context(), client, w, format, reveal); err != nil {
			return err
		}
		if output != "" {
			printSuccess("Settings exported to %s", output)
		}
		return nil
	},
}

var settingsImportCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Apply settings from a YAML or JSON file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("reading file: %w", err)
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		n, err := importSettings(cmd.Context(), client, data)
		if err != nil {
			return err
		}
		printSuccess("Imported %d settings from %s", n, args[0])
		return nil
	},
}

func init() {
	settingsExportCmd.Flags().String("output", "", "output file path (default: stdout)")
	settingsExportCmd.Flags().String("format", "yaml", "output format: yaml or json")
	settingsExportCmd.Flags().Bool("reveal", false, "write secret values in clear text")

	settingsCmd.AddCommand(settingsExportCmd)
	settingsCmd.AddCommand(settingsImportCmd)
}

func exportSettings(ctx context.Context, client *apiClient, w io.Writer, format string, reveal bool) error {
	resp, err := client.get(ctx, "/settings")
	if err != nil {
		return err
	}

	var snap settings.Snapshot
	if err := decodeJSON(resp, &snap); err != nil {
		return err
	}
	if !reveal {
		snap = snap.Redacted()
	}

	switch format {
	case "yaml", "":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(snap); err != nil {
			return fmt.Errorf("encoding yaml: %w", err)
		}
		return enc.Close()
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(snap)
	default:
		return fmt.Errorf("unknown format %q (want yaml or json)", format)
	}
}

// importSettings applies a flat name/value document through PATCH /settings.
// JSON input is accepted since it parses as YAML.
func importSettings(ctx context.Context, client *apiClient, data []byte) (int, error) {
	var doc map[string]any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return 0, fmt.Errorf("parsing settings file: %w", err)
	}

	names := make([]string, 0, len(doc))
	for name := range doc {
		names = append(names, name)
	}
	sort.Strings(names)

	fields := make(map[string]any, len(doc))
	for _, name := range names {
		key, err := settings.ParseKey(name)
		if err != nil {
			return 0, err
		}
		value := doc[name]
		if key.Secret() && value == settings.RedactedValue {
			printWarning("Skipping masked %s", key)
			continue
		}
		switch value.(type) {
		case string, int, float64, bool:
		default:
			return 0, fmt.Errorf("%s: value must be a string, number or boolean, got %T", key, value)
		}
		fields[key.String()] = value
	}
	if len(fields) == 0 {
		return 0, nil
	}

	resp, err := client.patch(ctx, "/settings", fields)
	if err != nil {
		return 0, err
	}
	var snap settings.Snapshot
	if err := decodeJSON(resp, &snap); err != nil {
		return 0, err
	}
	return len(fields), nil
}
