package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"ModelRelay/internal/agent"
	"ModelRelay/internal/api"
	"ModelRelay/internal/config"
	"ModelRelay/internal/knowledge"
	"ModelRelay/internal/llm"
	"ModelRelay/internal/llm/bridge"
	"ModelRelay/internal/llm/openai"
	"ModelRelay/internal/observability/alerting"
	"ModelRelay/internal/storage/mysql"
	"ModelRelay/internal/task"
	"ModelRelay/internal/tool"
	"ModelRelay/pkg/logger"
)

// main 是 ModelRelay 守护进程的入口。
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("modelrelayd 运行失败: %v", err)
	}
}

func run(ctx context.Context) error {
	configPath := os.Getenv("MODELRELAY_CONFIG")
	if configPath == "" {
		configPath = filepath.Join("configs", "modelrelay.json")
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	if err := initLogger(cfg); err != nil {
		return err
	}
	defer func() {
		_ = logger.Sync()
	}()

	provider, err := createProvider(cfg)
	if err != nil {
		return err
	}

	dataDir := cfg.Runtime.DataDir
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return err
	}

	chatRepo, err := createChatRepository(ctx, cfg, dataDir)
	if err != nil {
		return err
	}
	if closer, ok := chatRepo.(interface{ Close() error }); ok {
		defer closer.Close()
	}

	taskQueue, err := createTaskQueue(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := taskQueue.Close(); err != nil {
			logger.L().Warn("关闭任务队列失败", slog.Any("error", err))
		}
	}()

	taskStore := task.NewMemoryStore()
	defer taskStore.Close()

	registry, err := buildToolRegistry(cfg)
	if err != nil {
		return err
	}

	opts := []agent.Option{
		agent.WithMemoryDepth(cfg.Agent.MemoryDepth),
		agent.WithMaxToolRounds(cfg.Agent.MaxToolRounds),
		agent.WithSystemPrompt(cfg.Agent.SystemPrompt),
	}
	if cfg.LLM.OpenAI.MaxTokens > 0 {
		opts = append(opts, agent.WithMaxTokens(cfg.LLM.OpenAI.MaxTokens))
	}
	if cfg.LLM.OpenAI.Temperature > 0 {
		opts = append(opts, agent.WithTemperature(cfg.LLM.OpenAI.Temperature))
	}
	if cfg.LLM.OpenAI.EnableThinking != nil {
		opts = append(opts, agent.WithThinking(*cfg.LLM.OpenAI.EnableThinking))
	}
	if cfg.Agent.ChatTimeoutSeconds > 0 {
		opts = append(opts, agent.WithChatTimeout(time.Duration(cfg.Agent.ChatTimeoutSeconds)*time.Second))
	}
	if cfg.Knowledge.Path != "" {
		knowledgeProvider, err := knowledge.LoadStaticProvider(cfg.Knowledge.Path, cfg.Knowledge.MaxResults)
		if err != nil {
			return err
		}
		opts = append(opts, agent.WithKnowledgeProvider(knowledgeProvider))
	}

	ag := agent.New(provider, registry, chatRepo, opts...)

	taskService := task.NewService(taskStore, taskQueue, cfg.TaskQueue.MaxRetries)
	processorOpts := []task.ProcessorOption{
		task.WithWorkerCount(cfg.TaskQueue.Workers),
		task.WithProcessorLogger(logger.Named("processor")),
	}
	if dispatcher := buildAlertDispatcher(cfg); dispatcher != nil {
		processorOpts = append(processorOpts, task.WithAlertDispatcher(dispatcher))
	}
	processor := task.NewProcessor(ag, taskStore, taskQueue, taskQueue, processorOpts...)

	processorCtx, processorCancel := context.WithCancel(ctx)
	defer processorCancel()

	go func() {
		if err := processor.Start(processorCtx); err != nil && !errors.Is(err, context.Canceled) {
			logger.L().Error("任务处理器异常退出", slog.Any("error", err))
		}
	}()

	server := api.NewServer(cfg.Server.Address, taskService,
		api.WithAgent(ag),
		api.WithAuthToken(cfg.Server.AuthToken),
	)

	logger.L().Info("modelrelayd 启动",
		slog.String("address", cfg.Server.Address),
		slog.String("provider", cfg.LLM.Provider),
		slog.String("queue", cfg.TaskQueue.Driver),
	)
	if err := server.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func initLogger(cfg *config.Config) error {
	outputs := []string{cfg.Logging.Output}
	if cfg.Logging.Output == "file" && cfg.Logging.FilePath != "" {
		outputs = []string{cfg.Logging.FilePath}
	}
	return logger.Init(logger.Config{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		OutputPaths: outputs,
		Audit: logger.AuditConfig{
			Enabled:    cfg.Logging.AuditPath != "",
			Path:       cfg.Logging.AuditPath,
			MaxSizeMB:  cfg.Logging.MaxSizeMB,
			MaxBackups: cfg.Logging.MaxBackups,
			MaxAgeDays: cfg.Logging.MaxAgeDays,
		},
	})
}

func createProvider(cfg *config.Config) (llm.Provider, error) {
	switch cfg.LLM.Provider {
	case "", "openai":
		timeout := time.Duration(cfg.LLM.OpenAI.TimeoutSeconds) * time.Second
		return openai.NewClient(openai.Config{
			APIKey:  cfg.LLM.OpenAI.APIKey,
			BaseURL: cfg.LLM.OpenAI.APIBase,
			Model:   cfg.LLM.OpenAI.Model,
			Timeout: timeout,
		}), nil
	case "bridge":
		execPath := bridge.ResolveExecPath(cfg.LLM.Bridge.WorkingDir, cfg.LLM.Bridge.Executable)
		return bridge.NewClient(execPath, cfg.LLM.Bridge.WorkingDir, cfg.LLM.Bridge.Model)
	default:
		return nil, fmt.Errorf("未知的大模型 provider: %s", cfg.LLM.Provider)
	}
}

func createChatRepository(ctx context.Context, cfg *config.Config, dataDir string) (mysql.ChatRepository, error) {
	switch cfg.Storage.ChatStore.Driver {
	case "", "memory":
		return mysql.NewMemoryChatRepository(dataDir)
	case "mysql":
		return mysql.NewSQLChatRepository(ctx, mysql.Config{
			DSN:             cfg.Storage.ChatStore.DSN,
			MaxOpenConns:    cfg.Storage.ChatStore.MaxOpenConns,
			MaxIdleConns:    cfg.Storage.ChatStore.MaxIdleConns,
			ConnMaxLifetime: time.Duration(cfg.Storage.ChatStore.ConnMaxLifetime) * time.Second,
		})
	default:
		return nil, mysql.ErrUnsupportedDriver
	}
}

func createTaskQueue(cfg *config.Config) (task.Queue, error) {
	switch cfg.TaskQueue.Driver {
	case "", "memory":
		return task.NewMemoryQueue(cfg.TaskQueue.BufferSize), nil
	case "redis":
		return task.NewRedisQueue(task.RedisQueueConfig{
			Address:  cfg.TaskQueue.Redis.Address,
			Password: cfg.TaskQueue.Redis.Password,
			DB:       cfg.TaskQueue.Redis.DB,
			Queue:    cfg.TaskQueue.Redis.Queue,
		})
	case "rabbitmq":
		return task.NewRabbitMQQueue(task.RabbitMQConfig{
			URL:      cfg.TaskQueue.RabbitMQ.URL,
			Queue:    cfg.TaskQueue.RabbitMQ.Queue,
			Prefetch: cfg.TaskQueue.RabbitMQ.Prefetch,
			Durable:  cfg.TaskQueue.RabbitMQ.Durable,
		})
	default:
		return nil, fmt.Errorf("未知的队列驱动: %s", cfg.TaskQueue.Driver)
	}
}

func buildAlertDispatcher(cfg *config.Config) alerting.Dispatcher {
	var notifiers []alerting.Notifier
	if cfg.Alerting.DingTalkWebhook != "" {
		notifiers = append(notifiers, &alerting.DingTalkNotifier{WebhookURL: cfg.Alerting.DingTalkWebhook})
	}
	if cfg.Alerting.SlackWebhook != "" {
		notifiers = append(notifiers, &alerting.SlackNotifier{WebhookURL: cfg.Alerting.SlackWebhook})
	}
	if len(notifiers) == 0 {
		return nil
	}
	window := time.Duration(cfg.Alerting.ThrottleWindowSeconds) * time.Second
	return alerting.NewThrottled(alerting.NewFanout(notifiers...), window)
}

func buildToolRegistry(cfg *config.Config) (*tool.Registry, error) {
	manifest := tool.Manifest{}
	if cfg.Tools.ManifestPath != "" {
		loaded, err := tool.LoadManifest(cfg.Tools.ManifestPath)
		if err != nil {
			return nil, err
		}
		manifest = loaded
	}

	registry := tool.NewRegistry()
	if manifest.Allows("current_time") {
		if err := registry.Register(tool.ClockTool{}); err != nil {
			return nil, err
		}
	}
	if cfg.Knowledge.Path != "" && manifest.Allows("search_knowledge") {
		provider, err := knowledge.LoadStaticProvider(cfg.Knowledge.Path, cfg.Knowledge.MaxResults)
		if err != nil {
			return nil, err
		}
		if err := registry.Register(tool.NewKnowledgeTool(provider)); err != nil {
			return nil, err
		}
	}
	return registry, nil
}
