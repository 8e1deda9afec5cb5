package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/Iron-Ham/relay/internal/config"
	"github.com/Iron-Ham/relay/internal/logging"
)

var logsCmd = &cobra.Command{
	Use:   "logs",
	Short: "Search relay.log by thread, turn, worker or level",
	Long: `Read relay.log from logging.dir, including rotated and compressed
backups, and print the entries that match every given filter.

Examples:
  relay logs --thread th_0123456789
  relay logs --turn 6f1c... --level warn
  relay logs --since 1h -n 0 --format csv > last-hour.csv`,
	Args: cobra.NoArgs,
	RunE: runLogs,
}

var (
	logsThread   string
	logsTurn     string
	logsTail     int
	logsWorker   string
	logsLevel    string
	logsSince    time.Duration
	logsContains string
	logsFormat   string
	logsDir      string
)

func init() {
	rootCmd.AddCommand(logsCmd)
	logsCmd.Flags().StringVar(&logsThread, "thread", "", "Only entries for this thread ID")
	logsCmd.Flags().StringVar(&logsTurn, "turn", "", "Only entries for this turn ID")
	logsCmd.Flags().IntVarP(&logsTail, "tail", "n", 50, "Number of entries to show (0 for all)")
	logsCmd.Flags().StringVar(&logsWorker, "worker", "", "Only entries for this worker")
	logsCmd.Flags().StringVar(&logsLevel, "level", "", "Minimum level: debug, info, warn, error")
	logsCmd.Flags().DurationVar(&logsSince, "since", 0, "Only entries newer than this (e.g. 30m, 2h)")
	logsCmd.Flags().StringVar(&logsContains, "grep", "", "Only entries whose message contains this text")
	logsCmd.Flags().StringVar(&logsFormat, "format", "text", "Output format: text, json, csv")
	logsCmd.Flags().StringVar(&logsDir, "dir", "", "Log directory (default: logging.dir)")
}

func runLogs(cmd *cobra.Command, args []string) error {
	dir := logsDir
	if dir == "" {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		dir = cfg.Logging.Dir
	}
	if dir == "" {
		return fmt.Errorf("logging.dir is not set; relay is logging to stderr")
	}

	filter := logging.Filter{
		Level:    logsLevel,
		ThreadID: logsThread,
		TurnID:   logsTurn,
		Worker:   logsWorker,
		Contains: logsContains,
	}
	if logsSince > 0 {
		filter.Since = time.Now().Add(-logsSince)
	}
	return printLogs(cmd, dir, filter, logsTail, logsFormat)
}

// printLogs writes the last tail entries matching filter; tail <= 0 writes
// them all.
func printLogs(cmd *cobra.Command, dir string, filter logging.Filter, tail int, format string) error {
	entries, err := logging.ReadEntries(dir)
	if err != nil {
		return err
	}
	entries = logging.FilterEntries(entries, filter)
	if tail > 0 && len(entries) > tail {
		entries = entries[len(entries)-tail:]
	}
	return logging.WriteEntries(cmd.OutOrStdout(), entries, format)
}
