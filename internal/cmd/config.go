package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/Iron-Ham/relay/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "View or create the relay configuration",
	RunE:  runConfigShow,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the effective configuration (secrets masked)",
	RunE:  runConfigShow,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create a default config file",
	Long:  `Create a default config file at ~/.config/relay/config.yaml with all available options.`,
	RunE:  runConfigInit,
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Show the config file path",
	RunE:  runConfigPath,
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configPathCmd)
}

// secretKeys are masked by config show.
var secretKeys = []string{"api_key", "tavily_api_key", "redis_password", "postgres_dsn"}

func maskSecrets(settings map[string]any) {
	for k, v := range settings {
		switch val := v.(type) {
		case map[string]any:
			maskSecrets(val)
		case string:
			for _, secret := range secretKeys {
				if strings.EqualFold(k, secret) && val != "" {
					settings[k] = "********"
				}
			}
		}
	}
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	if _, err := config.Load(); err != nil {
		return err
	}

	settings := viper.AllSettings()
	delete(settings, "config")
	maskSecrets(settings)

	out := cmd.OutOrStdout()
	if viper.ConfigFileUsed() != "" {
		fmt.Fprintf(out, "# Config file: %s\n", viper.ConfigFileUsed())
	} else {
		fmt.Fprintln(out, "# Config file: (none - using defaults)")
	}

	enc := yaml.NewEncoder(out)
	enc.SetIndent(2)
	defer enc.Close()
	return enc.Encode(settings)
}

// defaultConfigContent is written by config init.
const defaultConfigContent = `# Relay Configuration
# Every key can also be set from the environment, e.g. RELAY_LLM_API_KEY.

server:
  addr: ":8080"
  # Origins allowed by CORS and the websocket handshake
  allowed_origins: ["*"]
  read_header_timeout_seconds: 10

dispatch:
  # Deadline for one worker invocation
  worker_timeout_seconds: 60
  # Cap on concurrent worker invocations across turns (0 = unlimited)
  max_parallel: 0
  # Retries after the first attempt, for retryable failures only
  max_retries: 2
  retry_base_delay_ms: 2000
  retry_max_delay_ms: 8000

stream:
  # Buffered events per turn before publishers block
  queue_capacity: 256
  # Runes per streamed thought event and the pause between events
  chunk_size: 1
  chunk_delay_ms: 10
  consume_timeout_ms: 1000

checkpoint:
  # Tried in order; unconfigured or unreachable tiers are skipped
  tiers: [redis, postgres, sqlite, memory]
  redis_addr: ""
  redis_key_prefix: "relay:"
  postgres_dsn: ""
  sqlite_path: db/checkpoints/checkpoints.sqlite

llm:
  # Any OpenAI-compatible chat completions endpoint
  base_url: https://api.openai.com/v1
  api_key: ""
  model: gpt-4o-mini
  temperature: 0.2
  timeout_seconds: 60

search:
  # The web worker stays unavailable without a key
  tavily_api_key: ""
  max_results: 5

workers:
  general:
    enabled: true
  math:
    enabled: true
  web:
    enabled: true

logging:
  enabled: true
  # debug, info, warn, error
  level: info
  # Empty logs to stderr
  dir: ""
  # Rotate relay.log at this size (0 disables rotation)
  max_size_mb: 10
  max_backups: 3
  compress: false
`

func runConfigInit(cmd *cobra.Command, args []string) error {
	configDir := config.ConfigDir()
	configFile := config.ConfigFile()

	if _, err := os.Stat(configFile); err == nil {
		return fmt.Errorf("config file already exists at %s", configFile)
	}

	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(configFile, []byte(defaultConfigContent), 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Created config file at %s\n", configFile)
	return nil
}

func runConfigPath(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	if viper.ConfigFileUsed() != "" {
		fmt.Fprintf(out, "Active config: %s\n", viper.ConfigFileUsed())
	} else {
		fmt.Fprintf(out, "Default path: %s (not created)\n", config.ConfigFile())
	}

	fmt.Fprintln(out, "\nSearch paths:")
	fmt.Fprintf(out, "  1. %s\n", filepath.Join(config.ConfigDir(), "config.yaml"))
	fmt.Fprintln(out, "  2. ./config.yaml (current directory)")
	fmt.Fprintln(out, "\nEnvironment variables: RELAY_* (e.g., RELAY_LLM_API_KEY)")
	return nil
}
