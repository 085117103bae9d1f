package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/globetrotter-labs/travel-assistant/internal/assistant"
	"github.com/globetrotter-labs/travel-assistant/internal/config"
	"github.com/globetrotter-labs/travel-assistant/internal/docpipeline"
	"github.com/globetrotter-labs/travel-assistant/internal/insurer"
	"github.com/globetrotter-labs/travel-assistant/internal/orchestrator"
	"github.com/globetrotter-labs/travel-assistant/internal/port"
	"github.com/globetrotter-labs/travel-assistant/internal/pricing"
	"github.com/globetrotter-labs/travel-assistant/internal/purchase"
	"github.com/globetrotter-labs/travel-assistant/internal/rag"
	"github.com/globetrotter-labs/travel-assistant/internal/session"
	"github.com/globetrotter-labs/travel-assistant/internal/slotfill"
	"github.com/globetrotter-labs/travel-assistant/internal/voice"
	"github.com/itsneelabh/gomind/ai"
	_ "github.com/itsneelabh/gomind/ai/providers/anthropic"
	_ "github.com/itsneelabh/gomind/ai/providers/gemini"
	_ "github.com/itsneelabh/gomind/ai/providers/openai"
	"github.com/itsneelabh/gomind/core"
	"github.com/liliang-cn/sqvect/v2"
)

func main() {
	// 1. Load and validate configuration (fail fast).
	cfg, err := config.NewConfig()
	if err != nil {
		log.Fatalf("Configuration error: %v", err)
	}

	// 2. Set component type for service_type labeling in telemetry.
	core.SetCurrentComponentType(core.ComponentTypeAgent)

	// 3. Build the AI client all of SLOT/DOC/ORCH's LLM calls share.
	logger := core.NewProductionLogger(
		core.LoggingConfig{Level: "info", Format: "json", Output: "stdout"},
		core.DevelopmentConfig{},
		cfg.Server.Name,
	)
	llmProvider := cfg.LLM.Provider
	if llmProvider == "" {
		llmProvider = string(ai.ProviderOpenAI)
	}
	factory, ok := ai.GetProvider(llmProvider)
	if !ok {
		log.Fatalf("Unknown LLM provider %q (build with -tags bedrock for AWS Bedrock support)", llmProvider)
	}
	aiClient := factory.Create(&ai.AIConfig{
		Provider:   llmProvider,
		APIKey:     cfg.LLM.APIKey,
		Model:      cfg.LLM.Model,
		Timeout:    cfg.LLM.Timeout,
		MaxRetries: cfg.LLM.MaxRetries,
		Logger:     logger,
	})

	// 4. Build each domain component per spec §6 wiring.
	sessions, err := session.NewStore(cfg.Redis.URL, cfg.QuoteTTL, 50, logger)
	if err != nil {
		log.Fatalf("Failed to create session store: %v", err)
	}

	insClient, err := insurer.NewClient(insurer.Config{
		BaseURL:            cfg.Insurer.BaseURL,
		APIKey:             cfg.Insurer.APIKey,
		PerAttemptDeadline: cfg.Insurer.PerAttemptDeadline,
		OverallDeadline:    cfg.Insurer.OverallDeadline,
		Logger:             logger,
	})
	if err != nil {
		log.Fatalf("Failed to create insurer client: %v", err)
	}

	pricer := pricing.NewService(insClient, cfg.TripDurationMaxDays, cfg.QuoteTTL)

	slotExtractor := slotfill.NewExtractor(aiClient, logger)
	docProcessor := docpipeline.NewService(docpipeline.NewBinaryOCREngine(cfg.OCR.EnginePath), aiClient, logger)

	policiesClient, err := core.NewRedisClient(core.RedisClientOptions{
		RedisURL:  cfg.Redis.URL,
		DB:        core.RedisDBCache,
		Namespace: "travel:checkout",
		Logger:    logger,
	})
	if err != nil {
		log.Fatalf("Failed to create checkout idempotency store: %v", err)
	}
	checkout := purchase.NewCoordinator(sessions, insClient, policiesClient, logger)

	var policies *rag.Service
	if cfg.RAG.StorePath != "" {
		store, err := sqvect.New(cfg.RAG.StorePath, 1536)
		if err != nil {
			log.Fatalf("Failed to open policy wording index: %v", err)
		}
		embeddingKey := cfg.RAG.EmbeddingProviderKey
		if embeddingKey == "" {
			embeddingKey = cfg.LLM.APIKey
		}
		embedder := rag.NewOpenAIEmbedder(embeddingKey, "", "", logger)
		policies = rag.NewService(store, embedder)
	}

	var speech *voice.Service
	if voiceTranscriptDB := os.Getenv("VOICE_TRANSCRIPT_DB"); voiceTranscriptDB != "" {
		transcriptStore, err := voice.NewStore(voiceTranscriptDB, logger)
		if err != nil {
			log.Fatalf("Failed to open voice transcript store: %v", err)
		}
		engine := voice.NewOpenAISpeechEngine(cfg.LLM.APIKey, "")
		speech = voice.NewService(engine, transcriptStore)
	}

	blobBaseDir := os.Getenv("BLOB_BASE_DIR")
	if blobBaseDir == "" {
		blobBaseDir = "./blobs"
	}
	blobs := orchestrator.NewLocalBlobFetcher(blobBaseDir)

	// policies is handed to NewCoordinator through a plain interface
	// variable rather than the *rag.Service directly: a nil *rag.Service
	// boxed straight into the PolicySearcher interface would make
	// c.policies == nil false inside ORCH (a typed-nil interface), so the
	// "RAG not configured" check there would never trip.
	var policySearcher orchestrator.PolicySearcher
	if policies != nil {
		policySearcher = policies
	}

	orch := orchestrator.NewCoordinator(sessions, slotExtractor, docProcessor, pricer, checkout, policySearcher, blobs, aiClient, logger)

	// 5. Build the Assistant and HTTP framework.
	a := assistant.New(cfg.Server.Name, orch, checkout, policies, speech, cfg.Payment.WebhookSigningSecret)
	a.BaseAgent.Logger = logger

	resolvedPort := port.NewPortManager(logger).DeterminePort()

	framework, err := core.NewFramework(a,
		core.WithName(cfg.Server.Name),
		core.WithPort(resolvedPort),
		core.WithNamespace(os.Getenv("NAMESPACE")),
		core.WithRedisURL(cfg.Redis.URL),
		core.WithDiscovery(true, "redis"),
		core.WithCORS([]string{"*"}, true),
	)
	if err != nil {
		log.Fatalf("Failed to create framework: %v", err)
	}

	// 6. Graceful shutdown on SIGINT/SIGTERM.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		log.Printf("Received signal %v, initiating graceful shutdown...", sig)
		cancel()
	}()

	log.Printf("Starting %s on port %d", cfg.Server.Name, resolvedPort)
	if err := framework.Run(ctx); err != nil && err != context.Canceled {
		log.Fatalf("Framework error: %v", err)
	}

	log.Println("Travel assistant shutdown complete")
}
