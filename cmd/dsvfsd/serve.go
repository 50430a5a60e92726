package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/brevitylabs/dsvfs/pkg/httpapi"

	"github.com/spf13/cobra"
)

const DefaultServeAddr = "127.0.0.1:1619"
const HttpReadTimeout = 5 * time.Second
const HttpWriteTimeout = 21 * time.Second
const HttpMaxHeaderBytes = 60000

var serveAddrFlag string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the dsvfsd HTTP server",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		engine, err := buildEngine(ctx)
		if err != nil {
			return err
		}
		server := httpapi.NewServer(engine)
		httpServer := &http.Server{
			Addr:           serveAddrFlag,
			Handler:        server,
			ReadTimeout:    HttpReadTimeout,
			WriteTimeout:   HttpWriteTimeout,
			MaxHeaderBytes: HttpMaxHeaderBytes,
		}

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGHUP, syscall.SIGTERM, syscall.SIGINT)
		go func() {
			<-sigCh
			log.Printf("shutting down dsvfsd\n")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			httpServer.Shutdown(shutdownCtx)
		}()

		log.Printf("dsvfsd listening on %s (backend=%s)\n", serveAddrFlag, backendFlag)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveAddrFlag, "addr", DefaultServeAddr, "address to listen on")
	registerBackendFlags(serveCmd)
	rootCmd.AddCommand(serveCmd)
}
