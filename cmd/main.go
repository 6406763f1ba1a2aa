package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/schollz/progressbar/v3"

	"github.com/avass/docq/internal/models"
	cfgPkg "github.com/avass/docq/pkg/config"
	"github.com/avass/docq/pkg/llm"
	"github.com/avass/docq/pkg/loader"
	"github.com/avass/docq/pkg/logging"
	"github.com/avass/docq/pkg/memory"
	"github.com/avass/docq/pkg/processor"
	"github.com/avass/docq/pkg/rag"
	"github.com/avass/docq/pkg/scraper"
	"github.com/avass/docq/pkg/store"
	"github.com/avass/docq/server"
)

type flags struct {
	configPath string
	serve      bool
	ingestPath string
	docsURL    string
	provider   string
	model      string
	noStream   bool
	verbose    bool
}

func main() {
	f := parseFlags()

	if err := run(f); err != nil {
		color.Red("Error: %v", err)
		os.Exit(1)
	}
}

func parseFlags() flags {
	var f flags

	flag.StringVar(&f.configPath, "config", "", "Path to config file")
	flag.BoolVar(&f.serve, "serve", false, "Start the web chat server")
	flag.StringVar(&f.ingestPath, "ingest", "", "File or directory to index")
	flag.StringVar(&f.docsURL, "url", "", "Documentation URL to scrape and index")
	flag.StringVar(&f.provider, "provider", "", "LLM provider (groq, openai, gemini, deepseek)")
	flag.StringVar(&f.model, "model", "", "Model override for the selected provider")
	flag.BoolVar(&f.noStream, "no-stream", false, "Disable streaming responses")
	flag.BoolVar(&f.verbose, "verbose", false, "Enable debug logging")
	flag.Parse()

	return f
}

func run(f flags) error {
	config, err := cfgPkg.LoadConfig(f.configPath)
	if err != nil {
		return err
	}
	if f.provider != "" {
		config.Providers.Default = f.provider
	}

	if errs := config.Validate(); len(errs) > 0 {
		for _, e := range errs {
			color.Red("config: %v", e)
		}
		return fmt.Errorf("invalid configuration")
	}

	level := slog.LevelInfo
	if f.verbose {
		level = slog.LevelDebug
	}
	logger := logging.New(logging.Config{Level: level})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	system, closeStore, err := buildSystem(ctx, config, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	if f.docsURL != "" {
		if err := ingestURL(ctx, system, config, f.docsURL); err != nil {
			return err
		}
	}
	if f.ingestPath != "" {
		if err := ingestPath(ctx, system, logger, f.ingestPath); err != nil {
			return err
		}
	}

	if f.serve {
		srv := server.New(server.Config{
			Addr:            config.Server.Addr,
			Streaming:       config.Server.Streaming,
			ScrapeDepth:     config.Scraper.MaxDepth,
			ScrapeRateLimit: config.Scraper.RateLimit,
		}, system, loader.New(logger), logger)

		color.Cyan("Serving chat UI on %s", config.Server.Addr)
		return srv.Run(ctx)
	}

	return chatLoop(ctx, system, f)
}

func buildSystem(ctx context.Context, config *cfgPkg.Config, logger logging.Logger) (*rag.System, func(), error) {
	vectorStore, err := store.NewWithConfig(ctx, store.VectorStoreConfig{
		ConnString: config.Database.URL,
		TableName:  config.Database.TableName,
		VectorDim:  config.Database.VectorDim,
		BatchSize:  config.Database.BatchSize,
		Logger:     logger,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize vector store: %w", err)
	}

	embedder, err := llm.NewEmbedderWithConfig(llm.EmbedderConfig{
		Model:   config.Embedder.Model,
		BaseURL: config.Embedder.BaseURL,
	})
	if err != nil {
		vectorStore.Close()
		return nil, nil, err
	}

	proc := processor.NewWithConfig(processor.ProcessorConfig{
		ChunkSize:      config.Processor.ChunkSize,
		ChunkOverlap:   config.Processor.ChunkOverlap,
		MinChunkLength: config.Processor.MinChunkLen,
	})

	mem, err := memory.NewManager(memory.Config{
		TokenLimit:         config.Memory.TokenLimit,
		RecentMessages:     config.Memory.RecentMessages,
		QuestionThreshold:  config.Memory.QuestionThreshold,
		SummarizeThreshold: config.Memory.SummarizeThreshold,
	})
	if err != nil {
		vectorStore.Close()
		return nil, nil, err
	}

	system := rag.New(rag.Config{
		TopK:            config.Retrieval.TopK,
		MinSimilarity:   config.Retrieval.MinSimilarity,
		MaxTokens:       config.Memory.MaxTokens,
		DefaultProvider: llm.Provider(config.Providers.Default),
		Providers:       providerFallbacks(config),
	}, vectorStore, embedder, &proc, mem, logger)

	return system, vectorStore.Close, nil
}

func providerFallbacks(config *cfgPkg.Config) map[llm.Provider]llm.ChatConfig {
	return map[llm.Provider]llm.ChatConfig{
		llm.ProviderGroq: {
			APIKey:  config.Providers.Groq.APIKey,
			Model:   config.Providers.Groq.Model,
			BaseURL: config.Providers.Groq.BaseURL,
		},
		llm.ProviderOpenAI: {
			APIKey:  config.Providers.OpenAI.APIKey,
			Model:   config.Providers.OpenAI.Model,
			BaseURL: config.Providers.OpenAI.BaseURL,
		},
		llm.ProviderGemini: {
			APIKey: config.Providers.Gemini.APIKey,
			Model:  config.Providers.Gemini.Model,
		},
		llm.ProviderDeepseek: {
			APIKey:  config.Providers.Deepseek.APIKey,
			Model:   config.Providers.Deepseek.Model,
			BaseURL: config.Providers.Deepseek.BaseURL,
		},
	}
}

func ingestURL(ctx context.Context, system *rag.System, config *cfgPkg.Config, docsURL string) error {
	color.Blue("\nStarting documentation pipeline for %s\n", docsURL)

	var processedCount int32
	sc, err := scraper.NewWithConfig(scraper.ScraperConfig{
		BaseURL:           docsURL,
		MaxDepth:          config.Scraper.MaxDepth,
		RateLimit:         config.Scraper.RateLimit,
		IgnorePatterns:    config.Scraper.IgnorePatterns,
		AllowedExtensions: config.Scraper.AllowedExtensions,
		OnProgress: func(string) {
			atomic.AddInt32(&processedCount, 1)
		},
	})
	if err != nil {
		return fmt.Errorf("failed to initialize scraper: %w", err)
	}

	scrapingBar := getProgressBar(-1, "Scraping documentation...")
	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(100 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				scrapingBar.Set(int(atomic.LoadInt32(&processedCount)))
			}
		}
	}()

	docs, err := sc.Scrape(ctx, docsURL)
	close(done)
	scrapingBar.Finish()
	if err != nil {
		return fmt.Errorf("failed to scrape documents: %w", err)
	}
	color.Green("\n✓ Scraped %d pages\n", len(docs))

	return indexDocuments(ctx, system, docs)
}

func ingestPath(ctx context.Context, system *rag.System, logger logging.Logger, path string) error {
	files := loader.New(logger)

	info, err := os.Stat(path)
	if err != nil {
		return err
	}

	var docs []models.Document
	if info.IsDir() {
		docs, err = files.LoadDir(ctx, path)
	} else {
		docs, err = files.Load(ctx, path)
	}
	if err != nil {
		return err
	}
	if len(docs) == 0 {
		return fmt.Errorf("no supported documents found at %s", path)
	}
	color.Green("✓ Loaded %d documents\n", len(docs))

	return indexDocuments(ctx, system, docs)
}

func indexDocuments(ctx context.Context, system *rag.System, docs []models.Document) error {
	bar := getProgressBar(len(docs), "Indexing documents...")

	total := 0
	for _, doc := range docs {
		count, err := system.Ingest(ctx, []models.Document{doc})
		if err != nil {
			return fmt.Errorf("failed to index %s: %w", doc.Name, err)
		}
		total += count
		bar.Add(1)
	}
	bar.Finish()

	color.Green("\n✓ Indexed %d chunks\n", total)
	return nil
}

func chatLoop(ctx context.Context, system *rag.System, f flags) error {
	color.Cyan("\nChat with your documents (type 'exit' to quit, 'clear' to reset)")

	scanner := bufio.NewScanner(os.Stdin)
	userPrompt := color.New(color.FgGreen).PrintfFunc()
	assistantPrompt := color.New(color.FgCyan).PrintfFunc()

	for {
		userPrompt("\nYou: ")
		if !scanner.Scan() {
			break
		}

		query := strings.TrimSpace(scanner.Text())
		switch strings.ToLower(query) {
		case "":
			continue
		case "exit", "quit":
			return nil
		case "clear":
			system.ClearHistory()
			color.Yellow("Conversation cleared")
			continue
		}

		req := rag.AskRequest{
			Query:    query,
			Provider: llm.Provider(f.provider),
			Model:    f.model,
		}

		spinner := getSpinner("Searching documents...")
		streamed := false
		if !f.noStream {
			req.OnChunk = func(chunk string) {
				if !streamed {
					spinner.Finish()
					fmt.Print("\r")
					assistantPrompt("Assistant: ")
					streamed = true
				}
				fmt.Print(chunk)
			}
		}

		answer, err := system.Ask(ctx, req)
		if err != nil {
			spinner.Finish()
			fmt.Print("\r")
			color.Red("Error: %v", err)
			continue
		}

		if !streamed {
			spinner.Finish()
			fmt.Print("\r")
			assistantPrompt("Assistant: %s", answer.Text)
		}
		fmt.Println()

		if len(answer.Sources) > 0 {
			color.HiBlack("Sources: %s", strings.Join(answer.Sources, ", "))
		}
	}

	return scanner.Err()
}

func getProgressBar(total int, description string) *progressbar.ProgressBar {
	return progressbar.NewOptions(total,
		progressbar.OptionSetDescription(color.BlueString(description)),
		progressbar.OptionSetItsString("items"),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "█",
			SaucerHead:    "█",
			SaucerPadding: "░",
			BarStart:      "[",
			BarEnd:        "]",
		}),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionSetWidth(40),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionSetPredictTime(true),
		progressbar.OptionFullWidth(),
		progressbar.OptionSetRenderBlankState(true),
	)
}

func getSpinner(description string) *progressbar.ProgressBar {
	return progressbar.NewOptions(-1,
		progressbar.OptionSetDescription(color.CyanString(description)),
		progressbar.OptionSpinnerType(14),
		progressbar.OptionSetWidth(20),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionSetRenderBlankState(true),
	)
}
