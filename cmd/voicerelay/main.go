// Command voicerelay runs the websocket relay gateway between browser
// clients and the ElevenLabs conversational voice endpoint.
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/voicebridge/voicebridge/pkg/relay"
	"github.com/voicebridge/voicebridge/pkg/trace"
)

const shutdownGrace = 5 * time.Second

func main() {
	if err := godotenv.Load(); err != nil {
		log.Printf("[main] no .env file loaded: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := trace.Initialize(ctx, trace.DefaultConfig()); err != nil {
		log.Fatalf("[main] tracing init failed: %v", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		if err := trace.Shutdown(shutdownCtx); err != nil {
			log.Printf("[main] tracing shutdown: %v", err)
		}
	}()

	cfg := configFromEnv()
	if cfg.UpstreamURL == "" {
		log.Fatal("[main] ELEVENLABS_WS_URL is required")
	}

	gateway := relay.NewServer(cfg)

	mux := http.NewServeMux()
	mux.Handle("/ws", gateway)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	addr := envOr("LISTEN_ADDR", ":8080")
	srv := &http.Server{
		Addr:    addr,
		Handler: mux,
	}

	go func() {
		log.Printf("[main] relay gateway listening on %s", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("[main] server error: %v", err)
		}
	}()

	<-ctx.Done()
	log.Printf("[main] shutting down")

	gateway.Close()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("[main] http shutdown: %v", err)
	}
}

func configFromEnv() *relay.Config {
	cfg := relay.DefaultConfig()
	cfg.AllowedOrigins = os.Getenv("ALLOWED_ORIGINS")
	cfg.UpstreamURL = os.Getenv("ELEVENLABS_WS_URL")
	cfg.APIKey = os.Getenv("ELEVENLABS_API_KEY")

	if v := os.Getenv("IDLE_TIMEOUT_MS"); v != "" {
		ms, err := strconv.Atoi(v)
		if err != nil || ms <= 0 {
			log.Fatalf("[main] invalid IDLE_TIMEOUT_MS: %q", v)
		}
		cfg.IdleTimeout = time.Duration(ms) * time.Millisecond
	}

	if v := os.Getenv("PENDING_POLICY"); v != "" {
		switch v {
		case "drop":
			cfg.PendingPolicy = relay.PendingDrop
		case "queue":
			cfg.PendingPolicy = relay.PendingQueue
		default:
			log.Fatalf("[main] invalid PENDING_POLICY: %q (want drop or queue)", v)
		}
	}

	return cfg
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
