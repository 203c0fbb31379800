// Command metrics-collector subscribes to the query event stream and
// serves aggregated counters and latency histograms for scraping. It lets
// several API replicas share one scrape target without the API ever
// blocking on metrics.
package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/nats-io/nats.go"

	"github.com/civicrag/civicrag/engine/telemetry"
	"github.com/civicrag/civicrag/pkg/metrics"
	"github.com/civicrag/civicrag/pkg/natsutil"
)

func main() {
	godotenv.Load()

	natsURL := flag.String("nats", nats.DefaultURL, "NATS server URL")
	port := flag.String("port", "9090", "metrics listen port")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	if err := run(*natsURL, *port, logger); err != nil {
		logger.Error("collector exited with error", "err", err)
		os.Exit(1)
	}
}

func run(natsURL, port string, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	nc, err := nats.Connect(natsURL)
	if err != nil {
		return err
	}
	defer nc.Close()

	reg := metrics.New()

	sub, err := natsutil.Subscribe(nc, telemetry.MetricsSubject, func(_ context.Context, ev telemetry.QueryEvent) {
		reg.Counter(metrics.WithLabels("civicrag_query_outcomes_total", "outcome", ev.Outcome),
			"Query outcomes by kind, aggregated across replicas.").Inc()
		if ev.ErrorKind != "" {
			reg.Counter(metrics.WithLabels("civicrag_query_errors_total", "kind", ev.ErrorKind),
				"Query errors by taxonomy kind.").Inc()
		}
		for stage, ms := range ev.StagesMS {
			reg.Histogram(metrics.WithLabels("civicrag_stage_duration_ms", "stage", stage),
				"Per-stage pipeline durations in milliseconds.", nil).Observe(float64(ms))
		}
	})
	if err != nil {
		return err
	}
	defer sub.Unsubscribe()

	mux := http.NewServeMux()
	mux.Handle("GET /metrics", reg.Handler())
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`{"status":"ok"}`))
	})

	srv := &http.Server{
		Addr:        ":" + port,
		Handler:     mux,
		ReadTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("metrics collector listening", "port", port, "subject", telemetry.MetricsSubject)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutCtx)
}
