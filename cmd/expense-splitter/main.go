package main

import (
	_ "embed"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/peterbourgon/ff/v4"
	"github.com/peterbourgon/ff/v4/ffhelp"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robfig/cron/v3"
	"github.com/zombor/expense-splitter/internal/auth"
	"github.com/zombor/expense-splitter/internal/ingest"
	"github.com/zombor/expense-splitter/internal/receipt"
	"github.com/zombor/expense-splitter/internal/scanning"
)

//go:embed VERSION.txt
var versionFile string

var version = strings.TrimSpace(versionFile)

func main() {
	// Check for version flag before parsing other flags
	for _, arg := range os.Args[1:] {
		if arg == "--version" || arg == "-version" || arg == "-v" {
			fmt.Println(version)
			os.Exit(0)
		}
	}

	fs := ff.NewFlagSet("expense-splitter")
	var (
		port          = fs.IntLong("port", 8080, "HTTP server port")
		dbPath        = fs.StringLong("db", "expense-splitter.db", "Local database file path, used for anonymous groups")
		sqlDriver     = fs.StringLong("sql-driver", "", "Remote database driver for signed-in users: 'sqlite' or 'postgres' (empty uses the local database)")
		sqlDSN        = fs.StringLong("sql-dsn", "", "Remote database DSN (file path for sqlite)")
		storagePath   = fs.StringLong("storage", "./receipts", "Storage directory path for uploaded originals")
		publicURL     = fs.StringLong("public-url", "http://localhost:8080", "Externally reachable base URL, used to build image links")
		extractorType = fs.StringLong("extractor", "gemini", "Extraction backend: 'gemini', 'openai', 'ollama' or 'tesseract'")
		geminiKey     = fs.StringLong("gemini-key", "", "Google Gemini API key (or set GEMINI_API_KEY env var)")
		geminiModel   = fs.StringLong("gemini-model", "gemini-2.5-pro", "Google Gemini model name")
		openaiURL     = fs.StringLong("openai-url", "https://api.openai.com/v1", "OpenAI-compatible API base URL")
		openaiKey     = fs.StringLong("openai-key", "", "OpenAI API key (or set OPENAI_API_KEY env var)")
		openaiModel   = fs.StringLong("openai-model", "gpt-4o", "OpenAI model name")
		ollamaURL     = fs.StringLong("ollama-url", "http://localhost:11434", "Ollama API base URL")
		ollamaModel   = fs.StringLong("ollama-model", "llava", "Ollama model name (e.g., llava, llava-phi3, qwen2-vl)")
		ocrLanguage   = fs.StringLong("tesseract-lang", "eng", "Tesseract OCR language")
		timeout       = fs.DurationLong("extract-timeout", 45*time.Second, "Timeout for one extraction backend call")
		rateLimit     = fs.IntLong("extract-rate", 30, "Maximum extraction requests per minute (0 disables)")
		breakerLimit  = fs.IntLong("breaker-threshold", 5, "Consecutive backend failures before extraction is paused (0 disables)")
		breakerPause  = fs.DurationLong("breaker-timeout", time.Minute, "How long extraction stays paused once the breaker opens")
		jwtSecret     = fs.StringLong("jwt-secret", "", "HS256 secret for bearer tokens (empty allows anonymous use only)")
		sweepEvery    = fs.DurationLong("sweep-interval", 10*time.Minute, "How often abandoned uploads are swept")
		idleTimeout   = fs.DurationLong("upload-idle-timeout", time.Hour, "How long an upload may sit untouched before it is dropped")
		showVersion   = fs.BoolLong("version", "Show version information")
	)

	if err := ff.Parse(fs, os.Args[1:],
		ff.WithEnvVarPrefix("EXPENSE_SPLITTER"),
	); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", ffhelp.Flags(fs))
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	// Check version flag after parsing
	if *showVersion {
		fmt.Println(version)
		os.Exit(0)
	}

	// Initialize databases
	slog.Info("Initializing database...", "path", *dbPath)
	local, err := receipt.NewBoltDB(*dbPath)
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer local.Close()

	var remote receipt.DB
	if *sqlDriver != "" {
		slog.Info("Initializing remote database...", "driver", *sqlDriver)
		sqlDB, err := receipt.OpenSQLDB(*sqlDriver, *sqlDSN)
		if err != nil {
			slog.Error("Failed to initialize remote database", "error", err)
			os.Exit(1)
		}
		defer sqlDB.Close()
		remote = sqlDB
	}

	// Initialize extractor based on type
	var extractor scanning.Extractor
	switch *extractorType {
	case "gemini":
		// Get Gemini API key from flag or environment
		apiKey := *geminiKey
		if apiKey == "" {
			apiKey = os.Getenv("GEMINI_API_KEY")
		}
		if apiKey == "" {
			slog.Error("Gemini API key is required. Set --gemini-key flag or GEMINI_API_KEY environment variable")
			os.Exit(1)
		}
		slog.Info("Initializing Gemini extractor...", "model", *geminiModel)
		backend, err := scanning.NewGemini(apiKey, *geminiModel, *timeout)
		if err != nil {
			slog.Error("Failed to initialize Gemini", "error", err)
			os.Exit(1)
		}
		extractor = scanning.NewStructuredExtractor(backend)
	case "openai":
		apiKey := *openaiKey
		if apiKey == "" {
			apiKey = os.Getenv("OPENAI_API_KEY")
		}
		slog.Info("Initializing OpenAI extractor...", "url", *openaiURL, "model", *openaiModel)
		backend, err := scanning.NewOpenAI(*openaiURL, apiKey, *openaiModel, *timeout)
		if err != nil {
			slog.Error("Failed to initialize OpenAI", "error", err)
			os.Exit(1)
		}
		extractor = scanning.NewStructuredExtractor(backend)
	case "ollama":
		slog.Info("Initializing Ollama extractor...", "url", *ollamaURL, "model", *ollamaModel)
		recognizer, err := scanning.NewOllama(*ollamaURL, *ollamaModel, *timeout)
		if err != nil {
			slog.Error("Failed to initialize Ollama", "error", err)
			os.Exit(1)
		}
		extractor = scanning.NewTextExtractor(recognizer)
	case "tesseract":
		slog.Info("Initializing Tesseract extractor...", "language", *ocrLanguage)
		extractor = scanning.NewTextExtractor(scanning.NewTesseract(*ocrLanguage))
	default:
		slog.Error("Invalid extractor type", "type", *extractorType, "valid", "gemini, openai, ollama or tesseract")
		os.Exit(1)
	}
	defer extractor.Close()

	extractor = scanning.Guard(extractor, scanning.GuardConfig{
		Name:              *extractorType,
		RequestsPerMinute: *rateLimit,
		FailureThreshold:  uint32(max(*breakerLimit, 0)),
		OpenTimeout:       *breakerPause,
	})

	// Initialize storage
	slog.Info("Initializing storage...")
	store, err := receipt.NewLocalStorage(*storagePath, *publicURL)
	if err != nil {
		slog.Error("Failed to initialize storage", "error", err)
		os.Exit(1)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	receiptService := receipt.NewService(local, remote, store)
	uploads := ingest.NewManager(extractor, store, receiptService, ingest.NewMetrics(registry))

	verifier := auth.NewVerifier(*jwtSecret)
	if !verifier.Enabled() {
		slog.Warn("No JWT secret configured; only anonymous use is possible")
	}

	// Drop uploads people walked away from
	scheduler := cron.New()
	if _, err := scheduler.AddFunc("@every "+sweepEvery.String(), func() {
		uploads.Sweep(*idleTimeout)
	}); err != nil {
		slog.Error("Failed to schedule upload sweep", "error", err)
		os.Exit(1)
	}
	scheduler.Start()
	defer scheduler.Stop()

	server := receipt.NewServer(receiptService, uploads, verifier, promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	// Start server in goroutine
	addr := fmt.Sprintf(":%d", *port)
	go func() {
		if err := server.Start(addr); err != nil {
			slog.Error("Server error", "error", err)
			os.Exit(1)
		}
	}()

	slog.Info("Server started", "address", fmt.Sprintf("http://localhost%s", addr), "version", version)
	if remote == nil {
		slog.Info("No remote database configured; signed-in users share the local database")
	}

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	slog.Info("Shutting down...")
}
