package cli

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"omar.ai/academic-chat/internal/api"
	"omar.ai/academic-chat/internal/config"
	"omar.ai/academic-chat/internal/core"
	"omar.ai/academic-chat/internal/realtime"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the local HTTP bridge",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithCancel(cmd.Context())
		defer cancel()

		gateway, err := newGateway(ctx)
		if err != nil {
			return err
		}

		sessions, closeSessions, err := openSessions()
		if err != nil {
			return err
		}
		defer closeSessions()

		strs := core.StringsFor(config.AppConfig.Locale)
		merger := core.NewMerger(sessions, gateway, strs)

		hub := realtime.NewHub()
		go hub.Run(ctx)

		apiHandler := api.NewAPIHandler(sessions, merger, gateway, hub, strs)
		unsubscribe := sessions.Subscribe(apiHandler.BroadcastSessions)
		defer unsubscribe()

		addr := serveAddr
		if addr == "" {
			addr = config.AppConfig.HTTPAddr
		}
		srv := &http.Server{
			Addr:        addr,
			Handler:     api.NewRouter(apiHandler),
			ReadTimeout: 15 * time.Second,
			// No WriteTimeout: lecture summaries stream for minutes.
			IdleTimeout: 120 * time.Second,
		}

		serverErr := make(chan error, 1)
		go func() {
			log.Info("Starting server. Press Ctrl+C to quit.", "addr", addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				serverErr <- err
			}
			close(serverErr)
		}()

		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(quit)

		select {
		case err, ok := <-serverErr:
			if ok {
				return err
			}
			return nil
		case <-quit:
		}
		log.Info("Shutting down server...")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}

		sessions.Flush()
		log.Info("Server exiting gracefully")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "Listen address (defaults to HTTP_ADDR)")
}
