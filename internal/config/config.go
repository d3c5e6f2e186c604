package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config 描述了 R0 守护进程在启动阶段需要加载的核心配置。
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Exchange  ExchangeConfig  `yaml:"exchange"`
	LLM       LLMConfig       `yaml:"llm"`
	Agent     AgentConfig     `yaml:"agent"`
	Memory    MemoryConfig    `yaml:"memory"`
	TurnStore TurnStoreConfig `yaml:"turn_store"`
	TurnQueue QueueConfig     `yaml:"turn_queue"`
	Knowledge KnowledgeConfig `yaml:"knowledge"`
	Log       LogConfig       `yaml:"log"`
	Runtime   RuntimeConfig   `yaml:"runtime"`
}

// ServerConfig 控制 API 服务的监听地址等参数。
type ServerConfig struct {
	Address     string   `yaml:"address"`
	APIKeys     []string `yaml:"api_keys"`
	AuthEnabled bool     `yaml:"auth_enabled"`
}

// ExchangeConfig 描述访问 Roostoo 模拟交易所所需的信息。
// 密钥只允许通过环境变量注入，不落盘。
type ExchangeConfig struct {
	BaseURL        string `yaml:"base_url"`
	APIKeyEnv      string `yaml:"api_key_env"`
	APISecretEnv   string `yaml:"api_secret_env"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`

	APIKey    string `yaml:"-"`
	APISecret string `yaml:"-"`
}

// Timeout 返回交易所 HTTP 调用的超时时间。
func (c ExchangeConfig) Timeout() time.Duration {
	if c.TimeoutSeconds <= 0 {
		return 10 * time.Second
	}
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// LLMConfig 用于配置策略模型的调用方式。
type LLMConfig struct {
	Provider string       `yaml:"provider"`
	OpenAI   OpenAIConfig `yaml:"openai"`
}

// OpenAIConfig 描述调用 OpenAI 接口所需的信息。
type OpenAIConfig struct {
	APIKeyEnv      string `yaml:"api_key_env"`
	BaseURL        string `yaml:"base_url"`
	Model          string `yaml:"model"`
	EmbedModel     string `yaml:"embed_model"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`

	APIKey string `yaml:"-"`
}

// Timeout 返回大模型调用的超时时间。
func (c OpenAIConfig) Timeout() time.Duration {
	if c.TimeoutSeconds <= 0 {
		return 60 * time.Second
	}
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// AgentConfig 控制编排循环的行为。
type AgentConfig struct {
	// MaxIterations 是单个回合允许执行的最大动作数，达到后强制终止。
	MaxIterations int `yaml:"max_iterations"`
	// RecallDepth 是每次思考前召回的记忆条数上限。
	RecallDepth int `yaml:"recall_depth"`
	// PollIntervalSeconds 大于 0 时守护进程按该间隔反复发起交易回合。
	PollIntervalSeconds int `yaml:"poll_interval_seconds"`
	// PollPrompt 是轮询模式下每个回合的固定输入。
	PollPrompt string `yaml:"poll_prompt"`
}

// PollInterval 返回轮询间隔，0 表示只执行一次。
func (c AgentConfig) PollInterval() time.Duration {
	if c.PollIntervalSeconds <= 0 {
		return 0
	}
	return time.Duration(c.PollIntervalSeconds) * time.Second
}

// MemoryConfig 描述语义记忆的持久化后端。
type MemoryConfig struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

// TurnStoreConfig 描述回合状态的持久化后端。
type TurnStoreConfig struct {
	Driver                 string `yaml:"driver"`
	DSN                    string `yaml:"dsn"`
	Retries                int    `yaml:"retries"`
	MaxOpenConns           int    `yaml:"max_open_conns"`
	MaxIdleConns           int    `yaml:"max_idle_conns"`
	ConnMaxLifetimeSeconds int    `yaml:"conn_max_lifetime_seconds"`
	ConnMaxIdleTimeSeconds int    `yaml:"conn_max_idle_time_seconds"`
}

// QueueConfig 描述回合队列的驱动与连接参数。
type QueueConfig struct {
	Driver   string         `yaml:"driver"`
	Worker   int            `yaml:"worker"`
	Redis    RedisConfig    `yaml:"redis"`
	RabbitMQ RabbitMQConfig `yaml:"rabbitmq"`
}

// RedisConfig 描述 Redis 队列的连接参数。
type RedisConfig struct {
	Address   string `yaml:"address"`
	Password  string `yaml:"password"`
	DB        int    `yaml:"db"`
	Queue     string `yaml:"queue"`
	BlockWait int    `yaml:"block_wait_seconds"`
}

// RabbitMQConfig 描述 RabbitMQ 队列的连接参数。
type RabbitMQConfig struct {
	URL        string `yaml:"url"`
	Queue      string `yaml:"queue"`
	Prefetch   int    `yaml:"prefetch"`
	Durable    bool   `yaml:"durable"`
	AutoDelete bool   `yaml:"auto_delete"`
}

// KnowledgeConfig 指向交易规则知识库文件。
type KnowledgeConfig struct {
	Source     string `yaml:"source"`
	MaxResults int    `yaml:"max_results"`
}

// LogConfig 控制日志输出。
type LogConfig struct {
	Level       string   `yaml:"level"`
	Format      string   `yaml:"format"`
	OutputPaths []string `yaml:"output_paths"`
	AuditPath   string   `yaml:"audit_path"`
}

// RuntimeConfig 用于放置运行时的通用参数。
type RuntimeConfig struct {
	DataDir string `yaml:"data_dir"`
}

// Load 负责解析指定路径的 YAML 配置文件，并从环境变量注入凭证。
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("配置文件路径为空")
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(content, &cfg); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	cfg.applyDefaults(filepath.Dir(path))
	if err := cfg.loadCredentials(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyDefaults 在用户未填写部分字段时设置合理的默认值。
func (c *Config) applyDefaults(baseDir string) {
	if c.Server.Address == "" {
		c.Server.Address = ":8080"
	}

	if c.Exchange.BaseURL == "" {
		c.Exchange.BaseURL = "https://mock-api.roostoo.com/v3"
	}
	if c.Exchange.APIKeyEnv == "" {
		c.Exchange.APIKeyEnv = "ROOSTOO_API_KEY"
	}
	if c.Exchange.APISecretEnv == "" {
		c.Exchange.APISecretEnv = "ROOSTOO_API_SECRET"
	}

	if c.LLM.Provider == "" {
		c.LLM.Provider = "openai"
	}
	if c.LLM.OpenAI.APIKeyEnv == "" {
		c.LLM.OpenAI.APIKeyEnv = "OPENAI_API_KEY"
	}
	if c.LLM.OpenAI.Model == "" {
		c.LLM.OpenAI.Model = "gpt-4o-mini"
	}
	if c.LLM.OpenAI.EmbedModel == "" {
		c.LLM.OpenAI.EmbedModel = "text-embedding-3-small"
	}

	if c.Agent.MaxIterations <= 0 {
		c.Agent.MaxIterations = 6
	}
	if c.Agent.RecallDepth <= 0 {
		c.Agent.RecallDepth = 4
	}
	if c.Agent.PollPrompt == "" {
		c.Agent.PollPrompt = "Run trade loop"
	}

	if c.Memory.Driver == "" {
		c.Memory.Driver = "memory"
	}
	if c.TurnStore.Driver == "" {
		c.TurnStore.Driver = "memory"
	}
	if c.TurnQueue.Driver == "" {
		c.TurnQueue.Driver = "memory"
	}
	if c.TurnQueue.Worker <= 0 {
		c.TurnQueue.Worker = 1
	}

	if c.Knowledge.MaxResults <= 0 {
		c.Knowledge.MaxResults = 3
	}

	if c.Runtime.DataDir == "" {
		c.Runtime.DataDir = filepath.Join(baseDir, "data")
	} else if !filepath.IsAbs(c.Runtime.DataDir) {
		c.Runtime.DataDir = filepath.Join(baseDir, c.Runtime.DataDir)
	}
}

// loadCredentials 从环境变量读取全部必需凭证，缺失任何一项都会拒绝启动。
func (c *Config) loadCredentials() error {
	c.Exchange.APIKey = strings.TrimSpace(os.Getenv(c.Exchange.APIKeyEnv))
	c.Exchange.APISecret = strings.TrimSpace(os.Getenv(c.Exchange.APISecretEnv))
	c.LLM.OpenAI.APIKey = strings.TrimSpace(os.Getenv(c.LLM.OpenAI.APIKeyEnv))

	var missing []string
	if c.Exchange.APIKey == "" {
		missing = append(missing, c.Exchange.APIKeyEnv)
	}
	if c.Exchange.APISecret == "" {
		missing = append(missing, c.Exchange.APISecretEnv)
	}
	if c.LLM.Provider == "openai" && c.LLM.OpenAI.APIKey == "" {
		missing = append(missing, c.LLM.OpenAI.APIKeyEnv)
	}
	if len(missing) > 0 {
		return fmt.Errorf("缺少必需的环境变量: %s", strings.Join(missing, ", "))
	}
	return nil
}
