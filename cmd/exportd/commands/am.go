package commands

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/pelletier/go-toml/v2"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/teranos/exportd/am"
)

// redacted replaces secrets in printed configuration.
const redacted = "********"

// AmCmd represents the am (configuration) command
var AmCmd = &cobra.Command{
	Use:   "am",
	Short: "Show and validate configuration",
	Long: `Display and manage exportd configuration.

Configuration sources (later overrides earlier):
1. Default values
2. System config (/etc/exportd/exportd.toml)
3. User config (~/.exportd/exportd.toml)
4. Project config (./exportd.toml, searched up the directory tree)
5. Environment variables (EXPORTD_* prefix)

Examples:
  exportd am show                 # Show current configuration
  exportd am show --format json   # Show configuration in JSON format
  exportd am get pulse.workers    # Get a specific value
  exportd am init                 # Write a starter ./exportd.toml`,
}

var amShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE:  runAmShow,
}

var amGetCmd = &cobra.Command{
	Use:   "get <key>",
	Short: "Get a specific configuration value",
	Long:  "Get a configuration value using dot notation (e.g., database.path, pulse.workers)",
	Args:  cobra.ExactArgs(1),
	RunE:  runAmGet,
}

var amValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate current configuration",
	RunE:  runAmValidate,
}

var amWhereCmd = &cobra.Command{
	Use:   "where",
	Short: "Show where configuration is loaded from",
	RunE:  runAmWhere,
}

var amInitCmd = &cobra.Command{
	Use:   "init [path]",
	Short: "Write a starter configuration file",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runAmInit,
}

var configFormat string

func init() {
	amShowCmd.Flags().StringVar(&configFormat, "format", "toml", "Output format: toml, json, yaml")

	AmCmd.AddCommand(amShowCmd)
	AmCmd.AddCommand(amGetCmd)
	AmCmd.AddCommand(amValidateCmd)
	AmCmd.AddCommand(amWhereCmd)
	AmCmd.AddCommand(amInitCmd)
}

func runAmShow(cmd *cobra.Command, args []string) error {
	out, err := renderSettings(am.GetViper().AllSettings(), configFormat)
	if err != nil {
		return err
	}
	fmt.Fprint(cmd.OutOrStdout(), string(out))
	return nil
}

// renderSettings marshals settings in format with the warehouse DSN hidden.
func renderSettings(settings map[string]any, format string) ([]byte, error) {
	if wh, ok := settings["warehouse"].(map[string]any); ok {
		if dsn, ok := wh["dsn"].(string); ok && dsn != "" {
			wh["dsn"] = redacted
		}
	}

	switch format {
	case "json":
		data, err := json.MarshalIndent(settings, "", "  ")
		if err != nil {
			return nil, fmt.Errorf("failed to marshal config to JSON: %w", err)
		}
		return append(data, '\n'), nil

	case "yaml":
		data, err := yaml.Marshal(settings)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal config to YAML: %w", err)
		}
		return append([]byte("# exportd configuration\n"), data...), nil

	case "toml":
		data, err := toml.Marshal(settings)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal config to TOML: %w", err)
		}
		return append([]byte("# exportd configuration\n"), data...), nil
	}
	return nil, fmt.Errorf("unsupported format: %s (supported: toml, json, yaml)", format)
}

func runAmGet(cmd *cobra.Command, args []string) error {
	key := args[0]
	v := am.GetViper()
	if !v.IsSet(key) {
		return fmt.Errorf("configuration key %q not found", key)
	}
	if key == "warehouse.dsn" {
		fmt.Fprintln(cmd.OutOrStdout(), redacted)
		return nil
	}
	fmt.Fprintln(cmd.OutOrStdout(), v.Get(key))
	return nil
}

func runAmValidate(cmd *cobra.Command, args []string) error {
	if _, err := loadConfig(); err != nil {
		return err
	}
	pterm.Success.Println("Configuration is valid")
	return nil
}

func runAmWhere(cmd *cobra.Command, args []string) error {
	active := am.ActiveConfigPath()

	fmt.Println("Configuration cascade (later overrides earlier):")
	fmt.Println("  [DEFAULT]  Built-in defaults")
	for _, path := range am.ConfigPaths() {
		state := "missing"
		if _, err := os.Stat(path); err == nil {
			state = "found"
		}
		marker := " "
		if path == active {
			marker = "*"
		}
		fmt.Printf("%s [FILE]     %s (%s)\n", marker, path, state)
	}
	fmt.Println("  [ENV]      EXPORTD_* environment variables")
	if active != "" {
		fmt.Printf("\nWatched for changes: %s\n", active)
	}
	return nil
}

func runAmInit(cmd *cobra.Command, args []string) error {
	path := am.ConfigFileName
	if len(args) == 1 {
		path = args[0]
	}
	if err := am.WriteStarterConfig(path); err != nil {
		return err
	}
	abs, _ := filepath.Abs(path)
	pterm.Success.Printfln("Wrote %s; set warehouse.dsn or EXPORTD_WAREHOUSE_DSN before running", abs)
	return nil
}
