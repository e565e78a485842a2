package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"
	"time"

	"agentsync/internal/config"
	"agentsync/internal/domain"
	"agentsync/internal/infra/chain"
	"agentsync/internal/infra/credhttp"
	"agentsync/internal/infra/db"
	"agentsync/internal/infra/evidence"
	httpinfra "agentsync/internal/infra/http"
	"agentsync/internal/infra/policyopa"
	"agentsync/internal/infra/ratelimit"
	"agentsync/internal/usecase"
)

func main() {
	cfg := config.FromEnv()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := db.NewStore(cfg.PostgresDSN)
	if err != nil {
		log.Fatalf("failed to init store: %v", err)
	}

	chainClient, err := chain.NewClient(cfg.ChainRPCURL, nil, cfg.ChainPollInterval())
	if err != nil {
		log.Fatalf("failed to init chain client: %v", err)
	}

	retry := usecase.RetryPolicy{
		MaxAttempts: cfg.RetryMaxAttempts,
		BaseDelay:   time.Duration(cfg.RetryBaseMillis) * time.Millisecond,
		MaxDelay:    time.Duration(cfg.RetryMaxSeconds) * time.Second,
	}

	indexer := usecase.NewIndexer(chainClient, db.NewProjection(store.DB), usecase.IndexerConfig{
		Confirmations: uint64(cfg.ChainConfirmations),
		StartBlock:    uint64(cfg.ChainStartBlock),
		BatchBlocks:   uint64(cfg.IndexBatchBlocks),
		PollInterval:  cfg.ChainPollInterval(),
		Retry:         retry,
	})

	var evidenceGW evidence.Gateway
	fileStore, err := evidence.NewFileStore(cfg.EvidenceDir)
	if err != nil {
		log.Fatalf("failed to init evidence store: %v", err)
	}
	evidenceGW = fileStore
	if cfg.RedisAddr != "" {
		cached, err := evidence.NewCachedGateway(fileStore, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.EvidenceCacheTTL())
		if err != nil {
			log.Fatalf("failed to init evidence cache: %v", err)
		}
		evidenceGW = cached
	}
	evidenceGW = evidence.NewHTTPFetcher(evidenceGW, nil)

	var rubric usecase.RubricEngine
	if cfg.RubricPath != "" {
		rubric, err = policyopa.NewEngineFromPath(ctx, cfg.RubricPath)
	} else {
		rubric, err = policyopa.NewDefaultEngine(ctx)
	}
	if err != nil {
		log.Fatalf("failed to compile rubric: %v", err)
	}

	creds, err := credhttp.NewClient(cfg.CredIssuerURL, nil)
	if err != nil {
		log.Fatalf("failed to init credential issuer client: %v", err)
	}

	audit := usecase.NewWriteAuditor(db.NewWriteAuditRepository(store.DB))
	reputation := usecase.NewReputationService(chainClient, db.NewFeedbackRepository(store.DB), creds, rubric, audit, retry, indexer.WaitSynced)

	validators := make([]domain.Address, 0, len(cfg.Validators))
	for _, v := range cfg.Validators {
		validators = append(validators, domain.Address(v))
	}
	orch := usecase.NewOrchestrator(
		chainClient,
		db.NewValidationRepository(store.DB),
		db.NewTaskRepository(store.DB),
		reputation,
		evidenceGW,
		audit,
		usecase.OrchestratorConfig{
			Validators: validators,
			Policy: domain.AggregationPolicy{
				Threshold:   cfg.AggThreshold,
				MinFraction: cfg.AggMinFraction,
				Timeout:     cfg.AggTimeout(),
			},
			PollInterval: cfg.TaskPollInterval(),
			Retry:        retry,
		},
	)

	go func() {
		if err := indexer.Run(ctx); err != nil && ctx.Err() == nil {
			log.Fatalf("indexer exited: %v", err)
		}
	}()
	go func() {
		if err := orch.ResumeOpen(ctx); err != nil {
			log.Printf("resume open tasks: %v", err)
		}
	}()

	var limiter domain.RateLimiter
	if cfg.RateLimitRequests > 0 {
		if cfg.RedisAddr != "" {
			limiter, err = ratelimit.NewRedisLimiter(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, nil)
			if err != nil {
				log.Fatalf("failed to init rate limiter: %v", err)
			}
		} else {
			limiter = ratelimit.NewMemoryLimiter(ratelimit.MemoryLimiterConfig{})
		}
	}

	srv := httpinfra.NewServer(cfg, store, orch, limiter)
	if err := srv.Run(); err != nil {
		log.Fatalf("server exited: %v", err)
	}
}
