// Command collision-report is the vehicle-to-vehicle collision risk service:
// vehicles stream telemetry over a websocket, the service keeps a live
// neighborhood index in Redis, and a bank of kinematic predictors turns pairs
// of trajectories into threat notifications for both vehicles involved.
package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/banshee-data/collision.report/internal/config"
	"github.com/banshee-data/collision.report/internal/ingest"
	"github.com/banshee-data/collision.report/internal/monitoring"
	"github.com/banshee-data/collision.report/internal/session"
	"github.com/banshee-data/collision.report/internal/store"
	"github.com/banshee-data/collision.report/internal/threatlog"
	"github.com/banshee-data/collision.report/internal/timeutil"
	"github.com/banshee-data/collision.report/internal/version"
)

var (
	listen    = flag.String("listen", ":8080", "Listen address")
	redisAddr = flag.String("redis", "localhost:6379", "Redis address")
	threatDB  = flag.String("threat-db", "threats.db", "Path to the sqlite threat log")
	debug     = flag.Bool("debug", false, "Enable debug logging")
)

// historyPruneInterval and historyMaxAge bound the in-process speed history:
// vehicles that stop reporting are dropped so the buffer tracks the live set.
const (
	historyPruneInterval = time.Minute
	historyMaxAge        = 2 * time.Minute
)

func main() {
	flag.Parse()
	monitoring.EnableDebug(*debug)
	log.Printf("collision-report %s (%s)", version.Version, version.GitSHA)

	if *listen == "" {
		log.Fatal("Listen address is required")
	}

	cfg, err := config.FromEnv()
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	rdb := redis.NewClient(&redis.Options{Addr: *redisAddr})
	defer rdb.Close()

	pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		cancel()
		log.Fatalf("Failed to reach redis at %s: %v", *redisAddr, err)
	}
	cancel()

	// An empty -threat-db disables the audit log entirely.
	var tlog *threatlog.DB
	if *threatDB != "" {
		tlog, err = threatlog.NewDB(*threatDB)
		if err != nil {
			log.Fatalf("Failed to open threat log: %v", err)
		}
		defer tlog.Close()
	}

	clock := timeutil.RealClock{}
	sessions := session.NewRegistry()
	history := store.NewHistoryBuffer()
	dispatcher := &ingest.Dispatcher{Sessions: sessions}
	if tlog != nil {
		dispatcher.Recorder = tlog
	}
	handler := ingest.NewHandler(
		store.NewGeoIndex(rdb),
		store.NewTelemetryStore(rdb),
		history,
		sessions,
		dispatcher,
		cfg,
		clock,
	)

	var wg sync.WaitGroup
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Periodically drop speed history for vehicles that went quiet.
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := clock.NewTicker(historyPruneInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C():
				if removed := history.Prune(clock.Now(), historyMaxAge); removed > 0 {
					monitoring.Debugf("pruned history for %d vehicles", removed)
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	// HTTP server goroutine
	wg.Add(1)
	go func() {
		defer wg.Done()

		mux := http.NewServeMux()

		// admin debugging routes (tailsql over the threat log)
		if tlog != nil {
			if err := tlog.AttachAdminRoutes(mux); err != nil {
				log.Fatalf("Failed to attach admin routes: %v", err)
			}
		}

		srv := NewServer(handler, sessions, rdb, os.Getenv("V2V_AUTH_TOKEN"))
		v2vMux := srv.ServeMux()
		mux.Handle("/v2v", v2vMux)
		mux.Handle("/healthz", v2vMux)
		mux.Handle("/metrics", promhttp.Handler())

		server := &http.Server{
			Addr:    *listen,
			Handler: mux,
		}

		go func() {
			log.Printf("listening on %s", *listen)
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Fatalf("failed to start server: %v", err)
			}
		}()

		<-ctx.Done()
		log.Println("shutting down HTTP server...")
		srv.CloseAll()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("HTTP server shutdown error: %v", err)
		}

		log.Printf("HTTP server routine stopped")
	}()

	wg.Wait()
	log.Printf("Graceful shutdown complete")
}
