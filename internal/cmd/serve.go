package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fsnotify/fsnotify"
	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Iron-Ham/relay/internal/config"
	"github.com/Iron-Ham/relay/internal/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP server",
	Long: `Run the HTTP server.

Routes:
  POST   /chat/stream         stream a turn as server-sent events
  GET    /chat/ws             stream turns over a websocket
  POST   /chat                run a turn and return the answer as JSON
  DELETE /history[/:thread]   clear conversation history
  GET    /health              liveness and wiring summary
  GET    /workers             list workers
  PUT    /workers/:name       enable or disable a worker

With --watch, edits to the config file's workers section take effect
without a restart.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().String("addr", "", "listen address (default from server.addr)")
	serveCmd.Flags().Bool("watch", false, "reload worker availability when the config file changes")
	serveCmd.Flags().String("plan", "", "answer every query with this static plan instead of the language model")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if addr, _ := cmd.Flags().GetString("addr"); addr != "" {
		cfg.Server.Addr = addr
	}
	planFile, _ := cmd.Flags().GetString("plan")

	logger, err := newLogger(cfg, false)
	if err != nil {
		return err
	}
	defer logger.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := wire(ctx, cfg, logger, wireOptions{planFile: planFile})
	if err != nil {
		return err
	}
	defer a.Close()

	if watch, _ := cmd.Flags().GetBool("watch"); watch {
		watchConfig(a)
	}

	gin.SetMode(gin.ReleaseMode)
	srv := server.New(a.orch, a.registry, server.Options{
		AllowedOrigins: cfg.Server.AllowedOrigins,
		Version:        Version,
		Logger:         logger,
		Events:         a.events,
	})

	fmt.Fprintf(cmd.OutOrStdout(), "relay %s listening on %s (checkpoints: %s)\n", Version, cfg.Server.Addr, a.store.Name())
	return srv.ListenAndServe(ctx, cfg.Server.Addr, cfg.Server.ReadHeaderTimeout())
}

func watchConfig(a *app) {
	if viper.ConfigFileUsed() == "" {
		a.logger.Warn("--watch ignored: no config file in use")
		return
	}
	viper.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		cfg, err := config.Load()
		if err != nil {
			a.logger.Warn("config reload failed", "file", e.Name, "error", err.Error())
			return
		}
		a.logger.Info("config reloaded", "file", e.Name)
		a.applyWorkers(cfg, "config")
	})
	viper.WatchConfig()
}
