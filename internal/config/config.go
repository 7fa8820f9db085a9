package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// Config 描述了 ModelRelay 在启动阶段需要加载的核心配置。
type Config struct {
	Server    ServerConfig    `json:"server"`
	Storage   StorageConfig   `json:"storage"`
	LLM       LLMConfig       `json:"llm"`
	TaskQueue TaskQueueConfig `json:"task_queue"`
	Agent     AgentConfig     `json:"agent"`
	Knowledge KnowledgeConfig `json:"knowledge"`
	Tools     ToolsConfig     `json:"tools"`
	Alerting  AlertingConfig  `json:"alerting"`
	Logging   LoggingConfig   `json:"logging"`
	Runtime   RuntimeConfig   `json:"runtime"`
}

// ServerConfig 控制 API 服务的监听地址等参数。
type ServerConfig struct {
	Address   string `json:"address"`
	AuthToken string `json:"auth_token"`
}

// StorageConfig 统一描述对话记录存储后端的连接信息。
type StorageConfig struct {
	ChatStore ChatStoreConfig `json:"chat_store"`
}

// ChatStoreConfig 提供内存实现，也可以切换到真正的 MySQL。
type ChatStoreConfig struct {
	Driver          string `json:"driver"`
	DSN             string `json:"dsn"`
	MaxOpenConns    int    `json:"max_open_conns"`
	MaxIdleConns    int    `json:"max_idle_conns"`
	ConnMaxLifetime int    `json:"conn_max_lifetime_seconds"`
}

// LLMConfig 用于配置大模型推理的调用方式。
type LLMConfig struct {
	Provider string       `json:"provider"`
	OpenAI   OpenAIConfig `json:"openai"`
	Bridge   BridgeConfig `json:"bridge"`
}

// OpenAIConfig 描述 OpenAI 兼容接入点所需的信息。
// APIKey 支持 "$ENV_VAR" 形式的环境变量间接引用。
type OpenAIConfig struct {
	APIKey         string  `json:"api_key"`
	APIBase        string  `json:"api_base"`
	Model          string  `json:"model"`
	MaxTokens      int     `json:"max_tokens"`
	Temperature    float64 `json:"temperature"`
	EnableThinking *bool   `json:"enable_thinking"`
	TimeoutSeconds int     `json:"timeout_seconds"`
}

// BridgeConfig 描述通过外部子进程完成推理时所需的信息。
type BridgeConfig struct {
	Executable string `json:"executable"`
	WorkingDir string `json:"working_dir"`
	Model      string `json:"model"`
}

// TaskQueueConfig 描述异步任务队列的驱动与连接参数。
type TaskQueueConfig struct {
	Driver     string         `json:"driver"`
	BufferSize int            `json:"buffer_size"`
	Workers    int            `json:"workers"`
	MaxRetries int            `json:"max_retries"`
	Redis      RedisConfig    `json:"redis"`
	RabbitMQ   RabbitMQConfig `json:"rabbitmq"`
}

// RedisConfig 描述 Redis 队列连接参数。
type RedisConfig struct {
	Address  string `json:"address"`
	Password string `json:"password"`
	DB       int    `json:"db"`
	Queue    string `json:"queue"`
}

// RabbitMQConfig 描述 RabbitMQ 队列连接参数。
type RabbitMQConfig struct {
	URL      string `json:"url"`
	Queue    string `json:"queue"`
	Prefetch int    `json:"prefetch"`
	Durable  bool   `json:"durable"`
}

// AgentConfig 控制对话编排的行为。
type AgentConfig struct {
	SystemPrompt       string `json:"system_prompt"`
	MemoryDepth        int    `json:"memory_depth"`
	MaxToolRounds      int    `json:"max_tool_rounds"`
	ChatTimeoutSeconds int    `json:"chat_timeout_seconds"`
}

// KnowledgeConfig 指定静态知识库文件的位置。
type KnowledgeConfig struct {
	Path       string `json:"path"`
	MaxResults int    `json:"max_results"`
}

// ToolsConfig 指定工具清单文件的位置。
type ToolsConfig struct {
	ManifestPath string `json:"manifest_path"`
}

// AlertingConfig 配置告警 webhook。留空的渠道不会启用。
type AlertingConfig struct {
	DingTalkWebhook       string `json:"dingtalk_webhook"`
	SlackWebhook          string `json:"slack_webhook"`
	ThrottleWindowSeconds int    `json:"throttle_window_seconds"`
}

// LoggingConfig 控制运行日志与审计日志的输出。
type LoggingConfig struct {
	Level      string `json:"level"`
	Format     string `json:"format"`
	Output     string `json:"output"`
	FilePath   string `json:"file_path"`
	AuditPath  string `json:"audit_path"`
	MaxSizeMB  int    `json:"max_size_mb"`
	MaxBackups int    `json:"max_backups"`
	MaxAgeDays int    `json:"max_age_days"`
}

// RuntimeConfig 用于放置运行时的通用参数。
type RuntimeConfig struct {
	DataDir string `json:"data_dir"`
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

	return &cfg, nil
}

// applyDefaults 在用户未填写部分字段时设置合理的默认值。
func (c *Config) applyDefaults(baseDir string) {
	if c.Server.Address == "" {
		c.Server.Address = ":8080"
	}

	if c.Storage.ChatStore.Driver == "" {
		c.Storage.ChatStore.Driver = "memory"
	}

	if c.LLM.Provider == "" {
		c.LLM.Provider = "openai"
	}
	if c.LLM.OpenAI.APIKey == "" {
		c.LLM.OpenAI.APIKey = "$MODELRELAY_API_KEY"
	}
	if c.LLM.Bridge.WorkingDir == "" {
		c.LLM.Bridge.WorkingDir = baseDir
	} else if !filepath.IsAbs(c.LLM.Bridge.WorkingDir) {
		c.LLM.Bridge.WorkingDir = filepath.Join(baseDir, c.LLM.Bridge.WorkingDir)
	}

	if c.TaskQueue.Driver == "" {
		c.TaskQueue.Driver = "memory"
	}
	if c.TaskQueue.BufferSize <= 0 {
		c.TaskQueue.BufferSize = 256
	}
	if c.TaskQueue.Workers <= 0 {
		c.TaskQueue.Workers = 4
	}
	if c.TaskQueue.MaxRetries <= 0 {
		c.TaskQueue.MaxRetries = 3
	}

	if c.Alerting.ThrottleWindowSeconds <= 0 {
		c.Alerting.ThrottleWindowSeconds = 300
	}

	if c.Agent.MemoryDepth <= 0 {
		c.Agent.MemoryDepth = 5
	}
	if c.Agent.MaxToolRounds <= 0 {
		c.Agent.MaxToolRounds = 4
	}

	if c.Knowledge.Path != "" && !filepath.IsAbs(c.Knowledge.Path) {
		c.Knowledge.Path = filepath.Join(baseDir, c.Knowledge.Path)
	}
	if c.Tools.ManifestPath != "" && !filepath.IsAbs(c.Tools.ManifestPath) {
		c.Tools.ManifestPath = filepath.Join(baseDir, c.Tools.ManifestPath)
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
	if c.Logging.Output == "" {
		c.Logging.Output = "stdout"
	}

	if c.Runtime.DataDir == "" {
		c.Runtime.DataDir = filepath.Join(baseDir, "data")
	} else if !filepath.IsAbs(c.Runtime.DataDir) {
		c.Runtime.DataDir = filepath.Join(baseDir, c.Runtime.DataDir)
	}
}
