package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/felixgeelhaar/jarvis/internal/assistant"
	"github.com/felixgeelhaar/jarvis/internal/persona"
	"github.com/felixgeelhaar/jarvis/internal/server"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API server",
	Run: func(cmd *cobra.Command, args []string) {
		runServe()
	},
}

func init() {
	RootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "Listen address (default from config)")
}

func runServe() {
	app, err := newApp(os.Stdout, true)
	if err != nil {
		fmt.Fprintf(os.Stderr, "jarvis: %v\n", err)
		os.Exit(1)
	}
	defer app.Close()

	addr := serveAddr
	if addr == "" {
		addr = app.cfg.Server.Addr
	}
	timeout := time.Duration(app.cfg.Server.SessionTimeoutSeconds) * time.Second

	state := assistant.NewStateManager(timeout, app.bus, app.obs)
	factory := func(ctx context.Context, username string) (*assistant.Assistant, error) {
		return app.newAssistant(username, persona.Default())
	}

	srv := server.New(addr, state, factory, app.store, app.obs)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := srv.Run(ctx); err != nil {
		app.obs.Log().Error().Err(err).Msg("server failed")
		os.Exit(1)
	}
}
