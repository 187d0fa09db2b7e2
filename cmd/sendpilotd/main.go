package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"SendPilot/internal/api"
	"SendPilot/internal/config"
	"SendPilot/internal/dialogue"
	"SendPilot/internal/llm"
	"SendPilot/internal/llm/openai"
	"SendPilot/internal/notify"
	"SendPilot/internal/price"
	"SendPilot/internal/send"
	"SendPilot/internal/session"
	"SendPilot/internal/token"
	"SendPilot/internal/web3/provider"
	"SendPilot/pkg/logger"
)

// main 是 SendPilot 守护进程的入口。
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		log.Fatalf("sendpilotd 运行失败: %v", err)
	}
}

func run(ctx context.Context) error {
	configPath := os.Getenv("SENDPILOT_CONFIG")
	if configPath == "" {
		configPath = filepath.Join("configs", "sendpilot.json")
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	if err := logger.Init(cfg.Logging); err != nil {
		return err
	}
	defer logger.Sync()

	llmClient, err := createLLMClient(cfg)
	if err != nil {
		return err
	}

	chainRegistry, err := provider.NewRegistry(ctx, provider.Config{
		ChainConfig:  cfg.Web3.ChainConfig,
		DefaultChain: cfg.Web3.DefaultChain,
	})
	if err != nil {
		return err
	}
	defer chainRegistry.Close()

	tokenRegistry, err := token.Load(cfg.Tokens.Registry)
	if err != nil {
		return err
	}

	sessionStore, err := createSessionStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer sessionStore.Close()

	notifier, err := createNotifier(cfg)
	if err != nil {
		return err
	}
	defer notifier.Close()

	preparer := send.NewPreparer(chainRegistry, tokenRegistry)

	var quoter dialogue.SwapQuoter
	if cfg.Price.Enabled {
		quoter = price.NewClient(price.WithBaseURL(cfg.Price.BaseURL))
	}

	opts := []dialogue.Option{dialogue.WithNotifier(notifier)}
	if strings.TrimSpace(cfg.LLM.OpenAI.SystemPrompt) != "" {
		opts = append(opts, dialogue.WithSystemPrompt(cfg.LLM.OpenAI.SystemPrompt))
	}
	orchestrator, err := dialogue.NewOrchestrator(llmClient, preparer, quoter, sessionStore, opts...)
	if err != nil {
		return err
	}

	server := api.NewServer(cfg.Server.Address, orchestrator, cfg.Server.AgentAPIKey)
	if err := server.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func createLLMClient(cfg *config.Config) (llm.Client, error) {
	switch cfg.LLM.Provider {
	case "", "openai":
		apiKey := strings.TrimSpace(cfg.LLM.OpenAI.APIKey)
		if apiKey == "" {
			return nil, errors.New("OpenAI provider 需要配置 api_key 或 api_key_env")
		}
		return openai.NewClient(openai.Config{
			APIKey:  apiKey,
			BaseURL: cfg.LLM.OpenAI.BaseURL,
			Model:   cfg.LLM.OpenAI.Model,
			Timeout: time.Duration(cfg.LLM.OpenAI.TimeoutSeconds) * time.Second,
		})
	default:
		return nil, fmt.Errorf("未知的大模型 provider: %s", cfg.LLM.Provider)
	}
}

func createSessionStore(ctx context.Context, cfg *config.Config) (session.Store, error) {
	ttl := time.Duration(cfg.Sessions.TTLSeconds) * time.Second
	switch cfg.Sessions.Driver {
	case "", "memory":
		opts := []session.MemoryOption{session.WithTTL(ttl)}
		if cfg.Sessions.MaxEntries > 0 {
			opts = append(opts, session.WithMaxEntries(cfg.Sessions.MaxEntries))
		}
		return session.NewMemoryStore(opts...), nil
	case "redis":
		return session.NewRedisStore(ctx, session.RedisConfig{
			Address:  cfg.Sessions.Redis.Address,
			Password: cfg.Sessions.Redis.Password,
			DB:       cfg.Sessions.Redis.DB,
			TTL:      ttl,
		})
	case "mysql":
		return session.NewMySQLStore(ctx, session.MySQLConfig{
			DSN: cfg.Sessions.DSN,
			TTL: ttl,
		})
	default:
		return nil, fmt.Errorf("未知的会话存储驱动: %s", cfg.Sessions.Driver)
	}
}

func createNotifier(cfg *config.Config) (notify.Notifier, error) {
	switch cfg.Notify.Driver {
	case "", "none":
		return notify.NopNotifier{}, nil
	case "rabbitmq":
		return notify.NewRabbitMQNotifier(notify.RabbitMQConfig{
			URL:     cfg.Notify.URL,
			Queue:   cfg.Notify.Queue,
			Durable: true,
		})
	default:
		return nil, fmt.Errorf("未知的通知驱动: %s", cfg.Notify.Driver)
	}
}
