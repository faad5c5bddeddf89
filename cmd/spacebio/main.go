package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/orbitalbio/spacebio/internal/ai"
	"github.com/orbitalbio/spacebio/internal/assistant"
	"github.com/orbitalbio/spacebio/internal/config"
	"github.com/orbitalbio/spacebio/internal/embeddings"
	"github.com/orbitalbio/spacebio/internal/ingest"
	"github.com/orbitalbio/spacebio/internal/logger"
	"github.com/orbitalbio/spacebio/internal/search"
	"github.com/orbitalbio/spacebio/internal/storage"
	"github.com/orbitalbio/spacebio/internal/synthesis"
	"github.com/orbitalbio/spacebio/internal/web"
)

func main() {
	_ = godotenv.Load()

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	log := logger.New("spacebio")

	cfg, err := config.Load()
	if err != nil {
		log.Error("load config", slog.Any("err", err))
		os.Exit(1)
	}

	command := os.Args[1]
	args := os.Args[2:]

	switch command {
	case "serve":
		runServe(cfg, log, args)
	case "load":
		runLoad(cfg, log, args)
	case "scrape":
		runScrape(cfg, log)
	case "embed":
		runEmbed(cfg, log)
	case "reindex":
		runReindex(cfg, log)
	case "search":
		runSearch(cfg, log, args)
	case "stats":
		runStats(cfg, log)
	default:
		fmt.Printf("Unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("SpaceBio - NASA space biology research portal")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  spacebio <command> [flags]")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  serve                    Start the HTTP API server")
	fmt.Println("  load -file=<csv>         Import the publication corpus from CSV")
	fmt.Println("  scrape                   Fetch full article text for imported articles")
	fmt.Println("  embed                    Generate embeddings for articles without one")
	fmt.Println("  reindex                  Rebuild the keyword search index")
	fmt.Println("  search [flags] <query>   Search the corpus from the command line")
	fmt.Println("  stats                    Show store and index statistics")
	fmt.Println()
	fmt.Println("Search Flags:")
	fmt.Println("  -semantic         Use semantic search (requires embeddings)")
	fmt.Println("  -year=<year>      Filter by publication year")
	fmt.Println()
	fmt.Println("Load Flags:")
	fmt.Println("  -file=<path>      CSV file to import (default: Data/SB_publication_PMC.csv)")
	fmt.Println("  -replace          Clear existing articles first")
	fmt.Println()
	fmt.Println("Configuration is read from the environment (and .env if present):")
	fmt.Println("  DATA_DIR, BIND_ADDR, OPENROUTER_API_KEY, GROK_API_KEY, ...")
}

func runServe(cfg *config.Config, log *slog.Logger, args []string) {
	serveFlags := flag.NewFlagSet("serve", flag.ExitOnError)
	addr := serveFlags.String("addr", cfg.BindAddr, "Address to listen on")
	serveFlags.Parse(args)

	db := mustOpenDB(cfg, log)
	defer db.Close()

	idx := mustOpenIndex(cfg, log)
	defer idx.Close()

	embedder := buildEmbedder(cfg, log)
	gateway := buildGateway(cfg, log)
	guard := buildGuard(cfg, log)

	retriever := search.NewRetriever(db, idx, embedder, log)
	chat := assistant.NewService(db, retriever, gateway, guard, log,
		cfg.MaxTokensChat, cfg.Temperature)
	generator := synthesis.NewGenerator(db, retriever, gateway, guard, log,
		cfg.MaxTokensGeneration, cfg.Temperature)

	server := web.NewServer(db, idx, retriever, chat, generator, gateway, log,
		cfg.MaxTokensSummary, cfg.Temperature)

	httpServer := &http.Server{
		Addr:              *addr,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      120 * time.Second, // generation calls are slow
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	go func() {
		log.Info("server starting", slog.String("addr", *addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server stopped", slog.Any("err", err))
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	log.Info("shutdown signal received")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error("server shutdown", slog.Any("err", err))
	}
}

func runLoad(cfg *config.Config, log *slog.Logger, args []string) {
	loadFlags := flag.NewFlagSet("load", flag.ExitOnError)
	file := loadFlags.String("file", "Data/SB_publication_PMC.csv", "CSV file to import")
	replace := loadFlags.Bool("replace", false, "Clear existing articles first")
	loadFlags.Parse(args)

	db := mustOpenDB(cfg, log)
	defer db.Close()

	idx := mustOpenIndex(cfg, log)
	defer idx.Close()

	loader := ingest.NewLoader(db, idx, log)
	stats, err := loader.LoadCSV(*file, *replace)
	if err != nil {
		log.Error("import failed", slog.Any("err", err))
		os.Exit(1)
	}

	fmt.Println()
	fmt.Println("=== Import Complete ===")
	fmt.Printf("Rows:     %d\n", stats.TotalRows)
	fmt.Printf("Imported: %d\n", stats.Imported)
	fmt.Printf("Skipped:  %d\n", stats.Skipped)
	fmt.Printf("Errors:   %d\n", stats.Errors)
	fmt.Printf("Duration: %v\n", stats.Duration.Round(time.Millisecond))
}

func runScrape(cfg *config.Config, log *slog.Logger) {
	db := mustOpenDB(cfg, log)
	defer db.Close()

	idx := mustOpenIndex(cfg, log)
	defer idx.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	scraper := ingest.NewScraper(db, idx, log)
	stats, err := scraper.Run(ctx)
	if err != nil {
		log.Error("scrape failed", slog.Any("err", err))
		os.Exit(1)
	}

	fmt.Println()
	fmt.Println("=== Content Fetch Complete ===")
	fmt.Printf("Fetched:  %d\n", stats.Fetched)
	fmt.Printf("Skipped:  %d\n", stats.Skipped)
	fmt.Printf("Failed:   %d\n", stats.Failed)
	fmt.Printf("Duration: %v\n", stats.Duration.Round(time.Second))
}

func runEmbed(cfg *config.Config, log *slog.Logger) {
	db := mustOpenDB(cfg, log)
	defer db.Close()

	embedder := buildEmbedder(cfg, log)
	if embedder == nil {
		log.Error("embedding requires OPENROUTER_API_KEY")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	job := ingest.NewEmbedJob(db, embedder, log)
	stats, err := job.Run(ctx)
	if err != nil {
		log.Error("embedding job failed", slog.Any("err", err))
		os.Exit(1)
	}

	fmt.Println()
	fmt.Println("=== Embedding Generation Complete ===")
	fmt.Printf("Generated: %d\n", stats.Generated)
	fmt.Printf("Failed:    %d\n", stats.Failed)
	fmt.Printf("Duration:  %v\n", stats.Duration.Round(time.Second))
}

func runReindex(cfg *config.Config, log *slog.Logger) {
	db := mustOpenDB(cfg, log)
	defer db.Close()

	idx := mustOpenIndex(cfg, log)
	defer idx.Close()

	start := time.Now()
	if err := idx.Rebuild(db, nil); err != nil {
		log.Error("reindex failed", slog.Any("err", err))
		os.Exit(1)
	}

	count, err := idx.Count()
	if err != nil {
		log.Error("index count", slog.Any("err", err))
		os.Exit(1)
	}

	fmt.Println("=== Reindex Complete ===")
	fmt.Printf("Articles indexed: %d\n", count)
	fmt.Printf("Duration:         %v\n", time.Since(start).Round(time.Millisecond))
}

func runSearch(cfg *config.Config, log *slog.Logger, args []string) {
	searchFlags := flag.NewFlagSet("search", flag.ExitOnError)
	semantic := searchFlags.Bool("semantic", false, "Use semantic search")
	year := searchFlags.Int("year", 0, "Filter by publication year")
	searchFlags.Parse(args)

	if searchFlags.NArg() < 1 {
		fmt.Println("Error: search query required")
		fmt.Println("Usage: spacebio search [flags] <query>")
		os.Exit(1)
	}
	query := strings.Join(searchFlags.Args(), " ")

	db := mustOpenDB(cfg, log)
	defer db.Close()

	idx := mustOpenIndex(cfg, log)
	defer idx.Close()

	mode := search.ModeKeyword
	var embedder embeddings.Embedder
	if *semantic {
		mode = search.ModeSemantic
		embedder = buildEmbedder(cfg, log)
	}

	retriever := search.NewRetriever(db, idx, embedder, log)
	results, used, err := retriever.Retrieve(context.Background(), query, mode, *year, 10)
	if err != nil {
		log.Error("search failed", slog.Any("err", err))
		os.Exit(1)
	}

	if len(results) == 0 {
		fmt.Println("No results found")
		return
	}

	fmt.Printf("\nFound %d results (%s search):\n\n", len(results), used)
	for n, res := range results {
		a := res.Article
		fmt.Printf("%d. %s\n", n+1, a.Title)
		if len(a.Authors) > 0 {
			fmt.Printf("   Authors: %s\n", strings.Join(a.Authors, ", "))
		}
		if a.PublicationYear > 0 {
			fmt.Printf("   Year: %d\n", a.PublicationYear)
		}
		fmt.Printf("   URL: %s\n", a.URL)
		if res.Score > 0 {
			fmt.Printf("   Score: %.3f\n", res.Score)
		}
		fmt.Println()
	}
}

func runStats(cfg *config.Config, log *slog.Logger) {
	db := mustOpenDB(cfg, log)
	defer db.Close()

	idx := mustOpenIndex(cfg, log)
	defer idx.Close()

	articleCount, err := db.CountArticles()
	if err != nil {
		log.Error("count articles", slog.Any("err", err))
		os.Exit(1)
	}
	embeddingCount, err := db.CountEmbeddings()
	if err != nil {
		log.Error("count embeddings", slog.Any("err", err))
		os.Exit(1)
	}
	indexCount, err := idx.Count()
	if err != nil {
		log.Error("count index", slog.Any("err", err))
		os.Exit(1)
	}

	fmt.Println("=== SpaceBio Statistics ===")
	fmt.Printf("Articles:   %d\n", articleCount)
	fmt.Printf("Embeddings: %d\n", embeddingCount)
	fmt.Printf("Indexed:    %d\n", indexCount)
}

func mustOpenDB(cfg *config.Config, log *slog.Logger) *storage.DB {
	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		log.Error("create data directory", slog.Any("err", err))
		os.Exit(1)
	}

	db, err := storage.Open(cfg.DBPath())
	if err != nil {
		log.Error("open database", slog.Any("err", err))
		os.Exit(1)
	}
	return db
}

func mustOpenIndex(cfg *config.Config, log *slog.Logger) *search.Index {
	idx, err := search.Open(cfg.IndexPath())
	if err != nil {
		log.Error("open search index", slog.Any("err", err))
		os.Exit(1)
	}
	return idx
}

// buildEmbedder returns nil when no embeddings provider is configured;
// semantic search then degrades to keyword search.
func buildEmbedder(cfg *config.Config, log *slog.Logger) embeddings.Embedder {
	if cfg.Primary.APIKey == "" {
		log.Warn("no OPENROUTER_API_KEY set, semantic search disabled")
		return nil
	}
	return embeddings.NewOpenAIClient(cfg.Primary.BaseURL, cfg.Primary.APIKey, cfg.EmbeddingModel)
}

func buildGateway(cfg *config.Config, log *slog.Logger) *ai.Gateway {
	if !cfg.HasProviderKeys() {
		log.Warn("no provider API keys set, AI features will fail with provider-unavailable")
	}

	primary := ai.NewOpenAIProvider(cfg.Primary.Name, cfg.Primary.BaseURL,
		cfg.Primary.APIKey, cfg.Primary.Model, true)
	fallback := ai.NewOpenAIProvider(cfg.Fallback.Name, cfg.Fallback.BaseURL,
		cfg.Fallback.APIKey, cfg.Fallback.Model, false)

	return ai.NewGateway(log, primary, fallback)
}

// buildGuard gives topic classification its own gateway pinned to the
// small fast guard model instead of the main chat models.
func buildGuard(cfg *config.Config, log *slog.Logger) *ai.Guard {
	primary := ai.NewOpenAIProvider(cfg.Primary.Name, cfg.Primary.BaseURL,
		cfg.Primary.APIKey, cfg.GuardModel, true)
	fallback := ai.NewOpenAIProvider(cfg.Fallback.Name, cfg.Fallback.BaseURL,
		cfg.Fallback.APIKey, cfg.GuardModel, false)

	return ai.NewGuard(ai.NewGateway(log, primary, fallback), log)
}
