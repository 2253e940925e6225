// Command fake-analytics serves a canned analytics API for local development
// of the chat client.
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/koscakluka/ema-datachat/internal/fakeapi"
)

func main() {
	addr := flag.String("addr", "127.0.0.1:8000", "address to listen on")
	tokenDelay := flag.Duration("token-delay", fakeapi.DefaultTokenDelay, "pause between streamed tokens")
	quiet := flag.Bool("quiet", false, "do not log requests")
	flag.Parse()

	log := slog.New(slog.NewTextHandler(os.Stderr, nil))

	opts := []fakeapi.ServerOption{fakeapi.WithTokenDelay(*tokenDelay)}
	if !*quiet {
		opts = append(opts, fakeapi.WithRequestLogging())
	}
	server := fakeapi.NewServer(opts...)

	go func() {
		if err := server.Start(*addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("failed to start server", "addr", *addr, "error", err)
			os.Exit(1)
		}
	}()
	log.Info("fake analytics API listening", "addr", *addr)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn("failed to shut down gracefully", "error", err)
	}
}
