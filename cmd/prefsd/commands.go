package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"os"

	"github.com/spf13/cobra"

	"github.com/kalambet/prefsd/internal/api"
	"github.com/kalambet/prefsd/internal/config"
	"github.com/kalambet/prefsd/internal/settings"
)

// --- settings ---

var settingsCmd = &cobra.Command{
	Use:   "settings",
	Short: "Read, change or watch console settings on the running daemon",
}

var settingsShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show every setting",
	RunE: func(cmd *cobra.Command, args []string) error {
		reveal, _ := cmd.Flags().GetBool("reveal")
		asJSON, _ := cmd.Flags().GetBool("json")

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		return showSettings(cmd.Context(), client, os.Stdout, reveal, asJSON)
	},
}

var settingsGetCmd = &cobra.Command{
	Use:   "get <key>",
	Short: "Print the value of one setting",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		reveal, _ := cmd.Flags().GetBool("reveal")

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		return getSetting(cmd.Context(), client, os.Stdout, args[0], reveal)
	},
}

var settingsSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Persist a new value for a setting",
	Long: `Persist a new value for a setting.

Values that do not parse for the setting's type are stored as given, and the
setting reads back as its default.

Examples:
  prefsd settings set editorCol 42
  prefsd settings set isNotificationEnabled false
  prefsd settings set query.text "select * from trades"`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		return setSetting(cmd.Context(), client, args[0], args[1])
	},
}

var settingsWatchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Stream setting changes until interrupted",
	RunE: func(cmd *cobra.Command, args []string) error {
		key, _ := cmd.Flags().GetString("key")
		asJSON, _ := cmd.Flags().GetBool("json")

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		return watchSettings(cmd.Context(), client, os.Stdout, key, asJSON)
	},
}

func init() {
	settingsShowCmd.Flags().Bool("reveal", false, "print secret values")
	settingsShowCmd.Flags().Bool("json", false, "print the snapshot as JSON")
	settingsGetCmd.Flags().Bool("reveal", false, "print secret values")
	settingsWatchCmd.Flags().String("key", "", "only watch this setting")
	settingsWatchCmd.Flags().Bool("json", false, "print raw change events as JSON lines")

	settingsCmd.AddCommand(settingsShowCmd)
	settingsCmd.AddCommand(settingsGetCmd)
	settingsCmd.AddCommand(settingsSetCmd)
	settingsCmd.AddCommand(settingsWatchCmd)
}

func showSettings(ctx context.Context, client *apiClient, w io.Writer, reveal, asJSON bool) error {
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

	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(snap)
	}
	for _, key := range settings.Keys() {
		fmt.Fprintf(w, "  %s = %v\n", colorize(colorBold, key.String()), snap.Get(key))
	}
	return nil
}

func getSetting(ctx context.Context, client *apiClient, w io.Writer, name string, reveal bool) error {
	key, err := settings.ParseKey(name)
	if err != nil {
		return err
	}

	resp, err := client.get(ctx, "/settings/"+url.PathEscape(key.String()))
	if err != nil {
		return err
	}

	var v api.SettingValue
	if err := decodeJSON(resp, &v); err != nil {
		return err
	}
	if key.Secret() && !reveal {
		if s, _ := v.Value.(string); s != "" {
			v.Value = settings.RedactedValue
		}
	}
	fmt.Fprintln(w, v.Value)
	return nil
}

func setSetting(ctx context.Context, client *apiClient, name, value string) error {
	key, err := settings.ParseKey(name)
	if err != nil {
		return err
	}

	resp, err := client.put(ctx, "/settings/"+url.PathEscape(key.String()), map[string]any{"value": value})
	if err != nil {
		return err
	}

	var v api.SettingValue
	if err := decodeJSON(resp, &v); err != nil {
		return err
	}

	stored := settings.Stringify(v.Value)
	if key.Secret() {
		stored = settings.RedactedValue
	}
	if key.Kind() != settings.KindString && stored != value && stored == settings.Stringify(key.Default()) {
		printWarning("%q is not a valid %s; %s reads as its default %s", value, key.Kind(), key, stored)
		return nil
	}
	printSuccess("Set %s = %s", key, stored)
	return nil
}

func watchSettings(ctx context.Context, client *apiClient, w io.Writer, name string, asJSON bool) error {
	path := "/settings/events"
	if name != "" {
		key, err := settings.ParseKey(name)
		if err != nil {
			return err
		}
		path += "?key=" + url.QueryEscape(key.String())
	}

	resp, err := client.stream(ctx, path)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	err = readEvents(resp.Body, func(event string, data []byte) error {
		if event != "change" {
			return nil
		}
		if asJSON {
			fmt.Fprintf(w, "%s\n", data)
			return nil
		}
		var ev api.ChangeEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			return fmt.Errorf("decoding change event: %w", err)
		}
		fmt.Fprintln(w, formatChange(ev))
		return nil
	})
	if ctx.Err() != nil {
		return nil
	}
	return err
}

func formatChange(ev api.ChangeEvent) string {
	line := fmt.Sprintf("%s: %v -> %v", colorize(colorBold, ev.Key), ev.Old, colorize(colorCyan, fmt.Sprint(ev.New)))
	if ev.Source != "" {
		line += fmt.Sprintf(" (%s)", ev.Source)
	}
	return line
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update daemon configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		for _, k := range config.ShowAll(cfg) {
			fmt.Printf("  %s = %s  %s\n", colorize(colorBold, k.Key), k.Value, colorize(colorCyan, "($"+k.EnvVar+")"))
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		if err := config.SetKey(key, value); err != nil {
			return err
		}

		printSuccess("Set %s = %s", key, value)
		printWarning("Restart prefsd for the change to take effect")
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
}
