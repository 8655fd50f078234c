package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/SimplyPrint/spooltag/internal/api"
	"github.com/SimplyPrint/spooltag/internal/logging"
	"github.com/spf13/cobra"
)

func (a *app) serveCmd() *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the local HTTP and WebSocket service",
		Long: "Serve the conversion, repair, key and library endpoints on the configured\n" +
			"address (SPOOLTAG_HOST / SPOOLTAG_PORT, default 127.0.0.1:32146).",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if addr == "" {
				addr = a.cfg.Address()
			}
			return a.serve(addr)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides config)")
	return cmd
}

func (a *app) serve(addr string) error {
	logging.Info(logging.CatSystem, "spooltag starting", map[string]any{
		"version": api.Version,
	})

	api.SetLibraryDefaults(a.cfg.Library.Dir, a.cfg.Library.CreateParsed)

	mux := api.NewMux()
	mux.HandleFunc("/v1/ws", api.InitWebSocket())

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	stop := make(chan struct{}, 1)
	api.SetShutdownHandler(func() {
		select {
		case stop <- struct{}{}:
		default:
		}
	})

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		defer logging.RecoverAndLog("shutdown watcher", false)
		select {
		case <-sigChan:
		case <-stop:
		}
		log.Println("Shutting down...")
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			logging.Error(logging.CatSystem, "Shutdown failed", map[string]any{
				"error": err.Error(),
			})
		}
	}()

	log.Printf("spooltag %s listening on http://%s\n", api.Version, addr)
	log.Printf("WebSocket available at ws://%s/v1/ws\n", addr)
	logging.Info(logging.CatSystem, "Server started", map[string]any{
		"address": addr,
	})

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server error: %w", err)
	}
	logging.Info(logging.CatSystem, "Server stopped", nil)
	return nil
}
