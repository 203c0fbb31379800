// Package main implements the civicrag query API server.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/nats-io/nats.go"

	"github.com/civicrag/civicrag/engine/auth"
	"github.com/civicrag/civicrag/engine/domain"
	"github.com/civicrag/civicrag/engine/generation"
	"github.com/civicrag/civicrag/engine/rag"
	"github.com/civicrag/civicrag/engine/retrieval"
	"github.com/civicrag/civicrag/engine/semantic"
	"github.com/civicrag/civicrag/engine/telemetry"
	"github.com/civicrag/civicrag/pkg/metrics"
	"github.com/civicrag/civicrag/pkg/mid"
	"github.com/civicrag/civicrag/pkg/ollama"
	"github.com/civicrag/civicrag/pkg/resilience"
	"github.com/civicrag/civicrag/pkg/secrets"
)

// requestDeadline is the hard cap on one query end to end. Whatever is
// still in flight when it expires is reported as a timeout, never as a
// partial answer.
const requestDeadline = 20 * time.Second

// Config holds all environment-based configuration.
type Config struct {
	Port       string
	OllamaURL  string
	EmbedModel string
	QdrantURL  string
	Collection string
	LLMBaseURL string
	LLMAPIKey  string
	LLMModel   string
	NATSURL    string
	CORSOrigin string
	RateRPS    float64
	RateBurst  int
}

func loadConfig() Config {
	return Config{
		Port:       envOr("PORT", "8080"),
		OllamaURL:  envOr("OLLAMA_URL", "http://localhost:11434"),
		EmbedModel: envOr("EMBED_MODEL", "nomic-embed-text"),
		QdrantURL:  envOr("QDRANT_URL", "localhost:6334"),
		Collection: envOr("QDRANT_COLLECTION", "civic_docs"),
		LLMBaseURL: envOr("LLM_BASE_URL", ""),
		LLMAPIKey:  envOr("LLM_API_KEY", ""),
		LLMModel:   envOr("LLM_MODEL", "gpt-4o-mini"),
		NATSURL:    envOr("NATS_URL", ""),
		CORSOrigin: envOr("CORS_ORIGIN", "*"),
		RateRPS:    envFloat("RATE_LIMIT_RPS", 20),
		RateBurst:  envInt("RATE_LIMIT_BURST", 40),
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func main() {
	godotenv.Load()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	cfg := loadConfig()

	if err := run(cfg, logger); err != nil {
		logger.Error("server exited with error", "err", err)
		os.Exit(1)
	}
}

func run(cfg Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// --- Connect to Qdrant ---
	vectorStore, err := semantic.New(cfg.QdrantURL, cfg.Collection)
	if err != nil {
		return fmt.Errorf("qdrant connect: %w", err)
	}
	defer vectorStore.Close()

	// --- Optional NATS metrics sink ---
	var nc *nats.Conn
	if cfg.NATSURL != "" {
		nc, err = nats.Connect(cfg.NATSURL)
		if err != nil {
			// Metrics are fire-and-forget; a missing sink must not stop the service.
			logger.Warn("nats connect failed, metrics events disabled", "err", err)
		} else {
			defer nc.Close()
		}
	}

	// --- Build the pipeline ---
	reg := metrics.New()
	recorder := telemetry.NewRecorder(reg, nc, logger)

	validator := auth.New(&secrets.Env{Prefix: "CIVICRAG"}, auth.DefaultOptions(), logger)

	embedClient := ollama.NewEmbedClient(cfg.OllamaURL, cfg.EmbedModel)
	retriever := retrieval.New(
		&qdrantSearcher{store: vectorStore, embed: embedClient},
		retrieval.DefaultOptions(),
		logger,
	)

	completer := generation.NewOpenAICompleter(cfg.LLMAPIKey, cfg.LLMBaseURL, cfg.LLMModel)
	generator := generation.New(
		completer,
		generation.DefaultOptions(),
		resilience.NewLimiter(resilience.LimiterOpts{Rate: 10, Burst: 20}),
		resilience.NewBreaker(resilience.DefaultBreakerOpts),
		logger,
	)

	ragSvc := rag.New(retriever, generator, recorder, rag.DefaultOptions(), logger)

	// --- Build HTTP server ---
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", handleHealth)
	mux.Handle("GET /metrics", reg.Handler())
	mux.HandleFunc("POST /query", handleQuery(ragSvc, validator, reg, logger))

	handler := mid.Chain(mux,
		mid.Recover(logger),
		mid.Logger(logger),
		mid.OTel("civicrag-api"),
		mid.CORS(cfg.CORSOrigin),
		mid.RateLimit(cfg.RateRPS, cfg.RateBurst),
	)

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// --- Graceful shutdown ---
	errCh := make(chan error, 1)
	go func() {
		logger.Info("api server starting", "port", cfg.Port)
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

	shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutCtx)
}

// --- Handlers ---

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func writeError(w http.ResponseWriter, err error) {
	kind, status, message := rag.MapError(err)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(errorResponse{Error: kind, Message: message})
}

func handleQuery(ragSvc *rag.Service, validator *auth.Validator, reg *metrics.Registry, logger *slog.Logger) http.HandlerFunc {
	inflight := reg.Gauge("civicrag_inflight_queries", "Queries currently being processed.")

	return func(w http.ResponseWriter, r *http.Request) {
		inflight.Inc()
		defer inflight.Dec()

		if !validator.Validate(r.Context(), r.Header.Get("x-api-key")) {
			writeError(w, domain.ErrAuthDenied)
			return
		}

		var raw domain.QueryRequest
		if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
			writeError(w, domain.NewValidationError("body", "", domain.ErrInvalidQuery))
			return
		}
		query, err := domain.ParseQuery(raw)
		if err != nil {
			writeError(w, err)
			return
		}

		// The pipeline keeps running if the client disconnects; in-flight
		// capability calls finish and metrics are still recorded. The only
		// hard stop is the overall deadline.
		ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), requestDeadline)
		defer cancel()

		answer, err := ragSvc.Query(ctx, query)
		if err != nil {
			logger.Error("query pipeline failed", "err", err)
			writeError(w, err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(answer)
	}
}

// --- Adapters ---

// qdrantSearcher adapts the vector store plus the embedding client to the
// retrieval.Searcher capability.
type qdrantSearcher struct {
	store *semantic.VectorStore
	embed *ollama.EmbedClient
}

func (s *qdrantSearcher) Search(ctx context.Context, text string, topK int) ([]domain.RetrievedChunk, error) {
	embedding, err := s.embed.Embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	results, err := s.store.Search(ctx, embedding, topK)
	if err != nil {
		return nil, err
	}

	chunks := make([]domain.RetrievedChunk, len(results))
	for i, r := range results {
		chunks[i] = domain.RetrievedChunk{
			Content:        r.Content,
			SourceURL:      r.SourceURL,
			Title:          r.Title,
			Section:        r.Section,
			RelevanceScore: float64(r.Score),
		}
	}
	return chunks, nil
}
