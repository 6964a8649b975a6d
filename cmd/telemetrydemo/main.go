// Command telemetrydemo shows how a host application wires the client in:
// construct once at startup, call Track from request handlers, and run
// Shutdown from the host's own graceful-shutdown path. The client installs
// its own SIGTERM/SIGINT handlers, so this demo's shutdown trigger is a
// second, independent signal wait — exactly what a real host would layer
// its own HTTP server shutdown around.
//
// Grounded on cmd/server/main.go's SIGTERM/SIGINT goroutine and ordering:
// stop accepting new work, then drain, then exit.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	telemetry "github.com/estat-sh/telemetry-go"
)

func main() {
	client, err := telemetry.New(
		os.Getenv("TELEMETRY_API_KEY"),
		envOr("TELEMETRY_ENDPOINT", "https://ingest.example.com/v1/events"),
		telemetry.WithDebug(os.Getenv("TELEMETRY_DEBUG") == "true"),
		telemetry.WithOnError(func(err error) {
			log.Printf("[telemetry] background error: %v", err)
		}),
	)
	if err != nil {
		log.Fatalf("telemetry: construction failed: %v", err)
	}

	client.Track(telemetry.Event{
		Method:         "GET",
		Path:           "/health",
		StatusCode:     200,
		ResponseTimeMs: 1.2,
		Timestamp:      time.Now().UTC().Format(time.RFC3339),
	})

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	sig := <-sigCh
	log.Printf("[telemetrydemo] shutdown signal received: %v", sig)

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := client.Shutdown(ctx); err != nil {
		log.Printf("[telemetrydemo] telemetry shutdown: %v", err)
	}
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
