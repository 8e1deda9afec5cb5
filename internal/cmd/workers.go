package cmd

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Iron-Ham/relay/internal/config"
	"github.com/Iron-Ham/relay/internal/llm"
	"github.com/Iron-Ham/relay/internal/logging"
	"github.com/Iron-Ham/relay/internal/registry"
	"github.com/Iron-Ham/relay/internal/workers"
)

var workersCmd = &cobra.Command{
	Use:   "workers",
	Short: "List, enable or disable workers",
	RunE:  runWorkersList,
}

var workersListCmd = &cobra.Command{
	Use:   "list",
	Short: "List workers and whether they are available",
	Args:  cobra.NoArgs,
	RunE:  runWorkersList,
}

var workersEnableCmd = &cobra.Command{
	Use:   "enable <pattern>",
	Short: "Enable workers matching a glob pattern",
	Long: `Enable workers matching a glob pattern and save the change to the config
file. A running "relay serve --watch" picks the change up.

Examples:
  relay workers enable web
  relay workers enable '*'
  relay workers enable '{math,web}'`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error { return setWorkers(cmd, args[0], true) },
}

var workersDisableCmd = &cobra.Command{
	Use:   "disable <pattern>",
	Short: "Disable workers matching a glob pattern",
	Args:  cobra.ExactArgs(1),
	RunE:  func(cmd *cobra.Command, args []string) error { return setWorkers(cmd, args[0], false) },
}

func init() {
	rootCmd.AddCommand(workersCmd)
	workersCmd.AddCommand(workersListCmd)
	workersCmd.AddCommand(workersEnableCmd)
	workersCmd.AddCommand(workersDisableCmd)
}

// catalog registers the built-in workers as cfg configures them, without
// opening any store.
func catalog(cfg *config.Config) (*registry.Registry, map[string]bool, error) {
	reg := registry.New()
	deps := workers.Deps{Logger: logging.NopLogger()}
	if cfg.LLM.BaseURL != "" {
		deps.LLM = llm.New(cfg.LLM)
	}
	if tv := workers.NewTavily(cfg.Search.TavilyAPIKey); tv != nil {
		deps.Search = tv
	}
	if err := workers.RegisterDefaults(reg, deps, cfg); err != nil {
		return nil, nil, err
	}
	return reg, workers.Usable(deps), nil
}

func runWorkersList(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	reg, _, err := catalog(cfg)
	if err != nil {
		return err
	}
	return printWorkers(cmd.OutOrStdout(), reg.Describe())
}

func printWorkers(out io.Writer, infos []registry.Info) error {
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tSTATUS\tDESCRIPTION")
	for _, info := range infos {
		status := "disabled"
		if info.Available {
			status = "available"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\n", info.Name, status, info.Description)
	}
	return tw.Flush()
}

func setWorkers(cmd *cobra.Command, pattern string, enabled bool) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	reg, usable, err := catalog(cfg)
	if err != nil {
		return err
	}

	names, err := reg.Match(pattern)
	if err != nil {
		return err
	}

	for _, name := range names {
		viper.Set("workers."+name+".enabled", enabled)
	}
	path, err := writeConfig()
	if err != nil {
		return err
	}

	verb := "Disabled"
	if enabled {
		verb = "Enabled"
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%s %v\n", verb, names)
	fmt.Fprintf(out, "Config saved to %s\n", path)
	if enabled {
		for _, name := range names {
			if !usable[name] {
				fmt.Fprintf(out, "Note: %s is missing a client (llm.base_url or search.tavily_api_key) and stays unavailable\n", name)
			}
		}
	}
	return nil
}

// writeConfig saves viper's settings to the config file in use, or to the
// default location when there is none.
func writeConfig() (string, error) {
	path := viper.ConfigFileUsed()
	if path == "" {
		path = config.ConfigFile()
		if err := os.MkdirAll(config.ConfigDir(), 0755); err != nil {
			return "", fmt.Errorf("failed to create config directory: %w", err)
		}
	}
	if err := viper.WriteConfigAs(path); err != nil {
		return "", fmt.Errorf("failed to write config file: %w", err)
	}
	return path, nil
}
