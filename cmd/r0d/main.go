package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"os"
	ossignal "os/signal"
	"path/filepath"
	"syscall"
	"time"

	"R0-Agent/internal/agent"
	"R0-Agent/internal/api"
	"R0-Agent/internal/auth"
	"R0-Agent/internal/config"
	"R0-Agent/internal/knowledge"
	"R0-Agent/internal/llm/openai"
	"R0-Agent/internal/memory"
	"R0-Agent/internal/roostoo"
	"R0-Agent/internal/signal"
	"R0-Agent/internal/storage/mysql"
	"R0-Agent/internal/tool"
	"R0-Agent/internal/turn"
	"R0-Agent/pkg/logger"
)

// main 是 R0 交易守护进程的入口。
func main() {
	ctx, stop := ossignal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		log.Fatalf("r0d 运行失败: %v", err)
	}
}

func run(ctx context.Context) error {
	configPath := os.Getenv("R0_CONFIG")
	if configPath == "" {
		configPath = filepath.Join("configs", "r0.yaml")
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	if err := logger.Init(logger.Config{
		Level:       cfg.Log.Level,
		Format:      cfg.Log.Format,
		OutputPaths: cfg.Log.OutputPaths,
		Audit: logger.AuditConfig{
			Enabled: cfg.Log.AuditPath != "",
			Path:    cfg.Log.AuditPath,
		},
	}); err != nil {
		return err
	}

	dataDir := cfg.Runtime.DataDir
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return err
	}

	// 策略模型与向量模型共用同一个 OpenAI 客户端。
	policyClient, err := createPolicyClient(cfg)
	if err != nil {
		return err
	}

	memoryStore, closeMemory, err := createMemoryStore(ctx, cfg, dataDir, policyClient)
	if err != nil {
		return err
	}
	defer closeMemory()

	exchangeClient, err := roostoo.NewClient(roostoo.Config{
		BaseURL:   cfg.Exchange.BaseURL,
		APIKey:    cfg.Exchange.APIKey,
		APISecret: cfg.Exchange.APISecret,
		Timeout:   cfg.Exchange.Timeout(),
	})
	if err != nil {
		return err
	}

	registry := tool.NewRegistry()
	tool.RegisterExchangeTools(registry, exchangeClient, signal.DefaultConfig())

	var knowledgeProvider knowledge.Provider
	if cfg.Knowledge.Source != "" {
		provider, err := knowledge.LoadStaticProvider(cfg.Knowledge.Source, cfg.Knowledge.MaxResults)
		if err != nil {
			return err
		}
		knowledgeProvider = provider
	}

	ag := agent.New(policyClient, registry, memoryStore,
		agent.WithMaxIterations(cfg.Agent.MaxIterations),
		agent.WithRecallDepth(cfg.Agent.RecallDepth),
		agent.WithKnowledgeProvider(knowledgeProvider),
		agent.WithPolicyTimeout(cfg.LLM.OpenAI.Timeout()),
	)

	turnStore, err := createTurnStore(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := turnStore.Close(); err != nil {
			log.Printf("关闭回合存储失败: %v", err)
		}
	}()

	turnQueue, err := createTurnQueue(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := turnQueue.Close(); err != nil {
			log.Printf("关闭回合队列失败: %v", err)
		}
	}()

	turnService := turn.NewService(turnStore, turnQueue, cfg.TurnStore.Retries)
	processor := turn.NewProcessor(ag, turnStore, turnQueue, turnQueue,
		turn.WithWorkerCount(cfg.TurnQueue.Worker),
		turn.WithProcessorLogger(logger.Named("processor")),
	)

	processorCtx, processorCancel := context.WithCancel(ctx)
	defer processorCancel()

	go func() {
		if err := processor.Start(processorCtx); err != nil && !errors.Is(err, context.Canceled) {
			logger.L().Error("回合处理器异常退出", slog.Any("error", err))
		}
	}()

	if interval := cfg.Agent.PollInterval(); interval > 0 {
		go runTradeLoop(processorCtx, turnService, cfg.Agent.PollPrompt, interval)
	}

	serverOpts := []api.Option{}
	if cfg.Server.AuthEnabled && len(cfg.Server.APIKeys) > 0 {
		entries := make([]auth.KeyEntry, 0, len(cfg.Server.APIKeys))
		for _, key := range cfg.Server.APIKeys {
			entries = append(entries, auth.KeyEntry{Key: key})
		}
		serverOpts = append(serverOpts, api.WithAuthService(
			auth.NewService(auth.ModeAPIKey, auth.NewMemoryStore(entries)),
		))
	}

	server := api.NewServer(cfg.Server.Address, turnService, serverOpts...)
	if err := server.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// runTradeLoop 以固定节奏提交交易回合，驱动智能体持续巡检行情。
func runTradeLoop(ctx context.Context, service *turn.Service, prompt string, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if _, err := service.Submit(ctx, agent.TurnRequest{
			SessionID: "trade-loop",
			Prompt:    prompt,
		}); err != nil {
			logger.L().Error("提交巡检回合失败", slog.Any("error", err))
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func createPolicyClient(cfg *config.Config) (*openai.Client, error) {
	switch cfg.LLM.Provider {
	case "", "openai":
		return openai.NewClient(openai.Config{
			APIKey:     cfg.LLM.OpenAI.APIKey,
			BaseURL:    cfg.LLM.OpenAI.BaseURL,
			Model:      cfg.LLM.OpenAI.Model,
			EmbedModel: cfg.LLM.OpenAI.EmbedModel,
			Timeout:    cfg.LLM.OpenAI.Timeout(),
		})
	default:
		return nil, fmt.Errorf("未知的大模型 provider: %s", cfg.LLM.Provider)
	}
}

func createMemoryStore(ctx context.Context, cfg *config.Config, dataDir string, embedder memory.Embedder) (memory.Store, func(), error) {
	var (
		repo      memory.Repository
		closeRepo = func() {}
	)
	switch cfg.Memory.Driver {
	case "", "memory":
		fileRepo, err := mysql.NewJSONLSnippetRepository(dataDir)
		if err != nil {
			return nil, nil, err
		}
		repo = fileRepo
	case "mysql":
		sqlRepo, err := mysql.NewSQLSnippetRepository(ctx, mysql.Config{DSN: cfg.Memory.DSN})
		if err != nil {
			return nil, nil, err
		}
		repo = sqlRepo
		closeRepo = func() {
			if err := sqlRepo.Close(); err != nil {
				log.Printf("关闭记忆仓库失败: %v", err)
			}
		}
	default:
		return nil, nil, fmt.Errorf("未知的记忆驱动: %s", cfg.Memory.Driver)
	}

	store := memory.NewVectorStore(
		memory.WithEmbedder(embedder),
		memory.WithRepository(repo),
	)
	if err := store.Warmup(ctx, "trade-loop"); err != nil {
		logger.L().Warn("记忆预热失败", slog.Any("error", err))
	}
	return store, closeRepo, nil
}

func createTurnStore(cfg *config.Config) (turn.Store, error) {
	switch cfg.TurnStore.Driver {
	case "", "memory":
		return turn.NewMemoryStore(), nil
	case "mysql":
		return turn.NewMySQLStore(cfg.TurnStore.DSN,
			turn.WithMaxOpenConns(cfg.TurnStore.MaxOpenConns),
			turn.WithMaxIdleConns(cfg.TurnStore.MaxIdleConns),
			turn.WithConnMaxLifetime(time.Duration(cfg.TurnStore.ConnMaxLifetimeSeconds)*time.Second),
			turn.WithConnMaxIdleTime(time.Duration(cfg.TurnStore.ConnMaxIdleTimeSeconds)*time.Second),
		)
	default:
		return nil, fmt.Errorf("未知的回合存储驱动: %s", cfg.TurnStore.Driver)
	}
}

func createTurnQueue(cfg *config.Config) (turn.Queue, error) {
	switch cfg.TurnQueue.Driver {
	case "", "memory":
		return turn.NewMemoryQueue(1024), nil
	case "redis":
		return turn.NewRedisQueue(turn.RedisQueueConfig{
			Address:   cfg.TurnQueue.Redis.Address,
			Password:  cfg.TurnQueue.Redis.Password,
			DB:        cfg.TurnQueue.Redis.DB,
			Queue:     cfg.TurnQueue.Redis.Queue,
			BlockWait: time.Duration(cfg.TurnQueue.Redis.BlockWait) * time.Second,
		})
	case "rabbitmq":
		return turn.NewRabbitMQQueue(turn.RabbitMQConfig{
			URL:        cfg.TurnQueue.RabbitMQ.URL,
			Queue:      cfg.TurnQueue.RabbitMQ.Queue,
			Prefetch:   cfg.TurnQueue.RabbitMQ.Prefetch,
			Durable:    cfg.TurnQueue.RabbitMQ.Durable,
			AutoDelete: cfg.TurnQueue.RabbitMQ.AutoDelete,
		})
	default:
		return nil, fmt.Errorf("未知的队列驱动: %s", cfg.TurnQueue.Driver)
	}
}
