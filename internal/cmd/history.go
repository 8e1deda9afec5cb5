package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Iron-Ham/relay/internal/checkpoint"
	"github.com/Iron-Ham/relay/internal/config"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Manage conversation history",
}

var historyClearCmd = &cobra.Command{
	Use:   "clear [thread-id]",
	Short: "Delete one thread's history, or every thread's",
	Long: `Delete one thread's history, or every thread's when no thread ID is
given. History lives in the first usable checkpoint tier (checkpoint.tiers).`,
	Args: cobra.MaximumNArgs(1),
	RunE: runHistoryClear,
}

func init() {
	rootCmd.AddCommand(historyCmd)
	historyCmd.AddCommand(historyClearCmd)
}

func runHistoryClear(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg, true)
	if err != nil {
		return err
	}
	defer logger.Close()

	store, err := checkpoint.Select(cmd.Context(), cfg.Checkpoint, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	return clearHistory(cmd, store, args)
}

func clearHistory(cmd *cobra.Command, store checkpoint.Store, args []string) error {
	out := cmd.OutOrStdout()
	if len(args) == 1 {
		if err := store.Delete(cmd.Context(), args[0]); err != nil {
			return err
		}
		fmt.Fprintf(out, "Deleted thread %s from %s\n", args[0], store.Name())
		return nil
	}

	n, err := store.Clear(cmd.Context())
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Deleted %d thread(s) from %s\n", n, store.Name())
	return nil
}
