package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"SendPilot/pkg/logger"
)

// Config 描述 SendPilot 启动阶段需要加载的核心配置。
type Config struct {
	Server   ServerConfig   `json:"server"`
	LLM      LLMConfig      `json:"llm"`
	Web3     Web3Config     `json:"web3"`
	Tokens   TokensConfig   `json:"tokens"`
	Sessions SessionsConfig `json:"sessions"`
	Price    PriceConfig    `json:"price"`
	Notify   NotifyConfig   `json:"notify"`
	Logging  logger.Config  `json:"logging"`
}

// ServerConfig 控制 API 服务的监听地址与访问控制。
type ServerConfig struct {
	Address string `json:"address"`
	// AgentAPIKey 非空时要求请求携带 X-Agent-Key 头。
	AgentAPIKey    string `json:"agent_api_key"`
	AgentAPIKeyEnv string `json:"agent_api_key_env"`
}

// LLMConfig 用于配置大模型推理的调用方式。
type LLMConfig struct {
	Provider string       `json:"provider"`
	OpenAI   OpenAIConfig `json:"openai"`
}

// OpenAIConfig 描述 OpenAI 兼容接口的调用参数。
type OpenAIConfig struct {
	APIKey         string `json:"api_key"`
	APIKeyEnv      string `json:"api_key_env"`
	BaseURL        string `json:"base_url"`
	Model          string `json:"model"`
	TimeoutSeconds int    `json:"timeout_seconds"`
	SystemPrompt   string `json:"system_prompt"`
}

// Web3Config 指向链定义文件并指定默认网络。
type Web3Config struct {
	ChainConfig  string `json:"chain_config"`
	DefaultChain string `json:"default_chain"`
}

// TokensConfig 指向 ERC20 代币注册表文件。
type TokensConfig struct {
	Registry string `json:"registry"`
}

// SessionsConfig 选择会话存储后端。
type SessionsConfig struct {
	Driver     string      `json:"driver"`
	TTLSeconds int         `json:"ttl_seconds"`
	MaxEntries int         `json:"max_entries"`
	Redis      RedisConfig `json:"redis"`
	DSN        string      `json:"dsn"`
}

// RedisConfig Redis 连接参数。
type RedisConfig struct {
	Address  string `json:"address"`
	Password string `json:"password"`
	DB       int    `json:"db"`
}

// PriceConfig 价格数据源配置。
type PriceConfig struct {
	Enabled bool   `json:"enabled"`
	BaseURL string `json:"base_url"`
}

// NotifyConfig 提案生命周期事件发布配置。
type NotifyConfig struct {
	Driver string `json:"driver"`
	URL    string `json:"url"`
	Queue  string `json:"queue"`
}

// Load 负责解析指定路径的 JSON 配置文件。
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("配置文件路径为空")
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("打开配置文件失败: %w", err)
	}
	defer file.Close()

	content, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(content, &cfg); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	cfg.applyDefaults(filepath.Dir(path))
	cfg.resolveSecrets()

	return &cfg, nil
}

// applyDefaults 在用户未填写部分字段时设置合理的默认值。
func (c *Config) applyDefaults(baseDir string) {
	if c.Server.Address == "" {
		c.Server.Address = ":8080"
	}

	if c.LLM.Provider == "" {
		c.LLM.Provider = "openai"
	}
	if c.LLM.OpenAI.Model == "" {
		c.LLM.OpenAI.Model = "gpt-4o-mini"
	}
	if c.LLM.OpenAI.TimeoutSeconds <= 0 {
		c.LLM.OpenAI.TimeoutSeconds = 60
	}
	if c.LLM.OpenAI.APIKeyEnv == "" {
		c.LLM.OpenAI.APIKeyEnv = "OPENAI_API_KEY"
	}

	if c.Web3.ChainConfig == "" {
		c.Web3.ChainConfig = filepath.Join(baseDir, "chains.yaml")
	} else if !filepath.IsAbs(c.Web3.ChainConfig) {
		c.Web3.ChainConfig = filepath.Join(baseDir, c.Web3.ChainConfig)
	}

	if c.Tokens.Registry == "" {
		c.Tokens.Registry = filepath.Join(baseDir, "tokens.yaml")
	} else if !filepath.IsAbs(c.Tokens.Registry) {
		c.Tokens.Registry = filepath.Join(baseDir, c.Tokens.Registry)
	}

	if c.Sessions.Driver == "" {
		c.Sessions.Driver = "memory"
	}
	if c.Sessions.TTLSeconds <= 0 {
		c.Sessions.TTLSeconds = 1800
	}
	if c.Sessions.Redis.Address == "" {
		c.Sessions.Redis.Address = "localhost:6379"
	}

	if c.Notify.Driver == "" {
		c.Notify.Driver = "none"
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
}

// resolveSecrets 允许通过环境变量注入密钥，避免写入配置文件。
func (c *Config) resolveSecrets() {
	if c.LLM.OpenAI.APIKey == "" && c.LLM.OpenAI.APIKeyEnv != "" {
		c.LLM.OpenAI.APIKey = os.Getenv(c.LLM.OpenAI.APIKeyEnv)
	}
	if c.Server.AgentAPIKey == "" && c.Server.AgentAPIKeyEnv != "" {
		c.Server.AgentAPIKey = os.Getenv(c.Server.AgentAPIKeyEnv)
	}
}
