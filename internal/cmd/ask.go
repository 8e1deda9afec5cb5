package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/Iron-Ham/relay/internal/config"
	"github.com/Iron-Ham/relay/internal/orchestrator"
	"github.com/Iron-Ham/relay/internal/tui"
)

var askCmd = &cobra.Command{
	Use:   "ask <query>",
	Short: "Answer one query in the terminal",
	Long: `Answer one query in the terminal, streaming each worker's reasoning as
it arrives. When stdout is not a terminal only the final answer is printed.

Pass --thread to continue an earlier conversation.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runAsk,
}

var runCmd = &cobra.Command{
	Use:   "run --plan <plan.yaml> <query>",
	Short: "Answer a query with a fixed task plan",
	Long: `Answer a query with a task plan read from a YAML file instead of one
written by the language model. A task description may contain {query},
which is replaced with the query.

Example plan:
  summary: arithmetic
  tasks:
    - task_id: t1
      description: "compute {query}"
      assigned_worker: math`,
	Args: cobra.MinimumNArgs(1),
	RunE: runAsk,
}

func init() {
	rootCmd.AddCommand(askCmd)
	rootCmd.AddCommand(runCmd)

	for _, c := range []*cobra.Command{askCmd, runCmd} {
		c.Flags().StringP("thread", "t", "", "thread ID to continue (default: a new thread)")
		c.Flags().Bool("tui", false, "show the turn in a full-screen viewer")
		c.Flags().Bool("json", false, "print the result as JSON")
	}
	askCmd.Flags().String("plan", "", "static task plan (YAML)")
	runCmd.Flags().String("plan", "", "static task plan (YAML)")
	_ = runCmd.MarkFlagRequired("plan")
}

type askOptions struct {
	query    string
	threadID string
	planFile string
	asJSON   bool
	useTUI   bool
}

func runAsk(cmd *cobra.Command, args []string) error {
	opts := askOptions{query: strings.Join(args, " ")}
	opts.threadID, _ = cmd.Flags().GetString("thread")
	opts.planFile, _ = cmd.Flags().GetString("plan")
	opts.asJSON, _ = cmd.Flags().GetBool("json")
	opts.useTUI, _ = cmd.Flags().GetBool("tui")

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg, true)
	if err != nil {
		return err
	}
	defer logger.Close()

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	a, err := wire(ctx, cfg, logger, wireOptions{planFile: opts.planFile})
	if err != nil {
		return err
	}
	defer a.Close()

	return ask(ctx, cancel, a.orch, cmd.OutOrStdout(), opts)
}

// ask runs one turn and writes it to out. A terminal gets the live stream
// (or the viewer with useTUI); anything else gets just the answer.
func ask(ctx context.Context, cancel context.CancelFunc, orch *orchestrator.Orchestrator, out io.Writer, opts askOptions) error {
	ts, err := orch.Stream(ctx, orchestrator.Request{ThreadID: opts.threadID, Query: opts.query})
	if err != nil {
		return err
	}

	width, interactive := terminalWidth(out)
	var res *orchestrator.Result

	switch {
	case opts.useTUI && interactive && !opts.asJSON:
		// The viewer leaves the answer on screen.
		_, err = tui.Run(ts, opts.query, cancel)
		return err

	case interactive && !opts.asJSON:
		p := newStreamPrinter(out, width)
		for env := range ts.Events() {
			p.Print(env)
		}
		res, err = ts.Wait()
		if err == nil {
			p.Finish(res)
		}
		return err

	default:
		for range ts.Events() {
		}
		res, err = ts.Wait()
	}
	if err != nil {
		return err
	}

	if opts.asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	}
	_, err = fmt.Fprintln(out, res.FinalOutput)
	return err
}

// terminalWidth reports whether out is a terminal and, if so, its width.
func terminalWidth(out io.Writer) (int, bool) {
	f, ok := out.(*os.File)
	if !ok || !term.IsTerminal(int(f.Fd())) {
		return 0, false
	}
	w, _, err := term.GetSize(int(f.Fd()))
	if err != nil {
		return 80, true
	}
	return w, true
}
