package config

import (
	"context"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/cloudwego/eino-ext/components/model/ark"
	"github.com/cloudwego/eino/components/model"

	"github.com/ai-spouse/webchat/backend/internal/provider/azure"
)

// 支持的模型提供方。
const (
	ProviderAzure = "azure"
	ProviderArk   = "ark"
)

// Config 聚合整个服务的配置项。
type Config struct {
	Server ServerConfig
	AI     AIConfig
	Chat   ChatConfig
	Log    LogConfig
}

// Load 从环境变量加载配置。
func Load() (*Config, error) {
	server, err := loadServerConfig()
	if err != nil {
		return nil, err
	}

	ai, err := loadAIConfig()
	if err != nil {
		return nil, err
	}

	chat, err := loadChatConfig()
	if err != nil {
		return nil, err
	}

	return &Config{Server: server, AI: ai, Chat: chat, Log: loadLogConfig()}, nil
}

// ServerConfig 描述 HTTP 服务配置。
type ServerConfig struct {
	Addr        string
	StaticDir   string
	PersonaPath string
}

// loadServerConfig 解析服务器监听地址与静态资源位置。
func loadServerConfig() (ServerConfig, error) {
	host := getEnvOrDefault("HOST", "0.0.0.0")
	port := getEnvOrDefault("PORT", "8080")

	cfg := ServerConfig{
		StaticDir:   getEnvOrDefault("STATIC_DIR", "web/frontend"),
		PersonaPath: getEnvOrDefault("PERSONA_PATH", "web/static/persona.txt"),
	}

	if strings.Contains(port, ":") {
		// 允许用户直接传入 ":8080" 或 "127.0.0.1:8080"。
		cfg.Addr = port
		return cfg, nil
	}

	if strings.Contains(port, " ") || strings.Contains(host, " ") {
		return ServerConfig{}, fmt.Errorf("invalid listen address %q:%q", host, port)
	}
	if _, err := strconv.ParseUint(port, 10, 16); err != nil {
		return ServerConfig{}, fmt.Errorf("invalid PORT value %q: %w", port, err)
	}

	cfg.Addr = net.JoinHostPort(host, port)
	return cfg, nil
}

// AIConfig 描述大模型相关配置。
type AIConfig struct {
	Provider string
	Timeout  time.Duration

	AzureEndpoint   string
	AzureAPIKey     string
	AzureAPIVersion string
	AzureDeployment string

	ArkAPIKey    string
	ArkAccessKey string
	ArkSecretKey string
	ArkModel     string
	ArkBaseURL   string
	ArkRegion    string
}

// Enabled 表示当前提供方是否提供了必需的密钥。
func (c AIConfig) Enabled() bool {
	switch c.Provider {
	case ProviderArk:
		return c.ArkModel != "" && (c.ArkAPIKey != "" || (c.ArkAccessKey != "" && c.ArkSecretKey != ""))
	default:
		return c.AzureEndpoint != "" && c.AzureAPIKey != "" && c.AzureDeployment != ""
	}
}

// ModelName returns the deployment or model id sent with each completion.
func (c AIConfig) ModelName() string {
	if c.Provider == ProviderArk {
		return c.ArkModel
	}
	return c.AzureDeployment
}

// NewChatModel 使用配置创建一个模型实例。
func (c AIConfig) NewChatModel(ctx context.Context) (model.BaseChatModel, error) {
	if !c.Enabled() {
		return nil, fmt.Errorf("%s 凭证或模型配置缺失", c.Provider)
	}

	switch c.Provider {
	case ProviderArk:
		return ark.NewChatModel(ctx, &ark.ChatModelConfig{
			BaseURL:   c.ArkBaseURL,
			Region:    c.ArkRegion,
			APIKey:    c.ArkAPIKey,
			AccessKey: c.ArkAccessKey,
			SecretKey: c.ArkSecretKey,
			Model:     c.ArkModel,
		})
	case ProviderAzure:
		return azure.NewChatModel(azure.Config{
			Endpoint:   c.AzureEndpoint,
			APIKey:     c.AzureAPIKey,
			APIVersion: c.AzureAPIVersion,
			Deployment: c.AzureDeployment,
		})
	default:
		return nil, fmt.Errorf("unsupported LLM_PROVIDER %q", c.Provider)
	}
}

func loadAIConfig() (AIConfig, error) {
	provider := strings.ToLower(getEnvOrDefault("LLM_PROVIDER", ProviderAzure))
	if provider != ProviderAzure && provider != ProviderArk {
		return AIConfig{}, fmt.Errorf("invalid LLM_PROVIDER value %q", provider)
	}

	timeoutSeconds := 60
	if override, err := parseOptionalIntEnv("AI_TIMEOUT_SECONDS"); err != nil {
		return AIConfig{}, err
	} else if override != nil {
		if *override < 1 {
			return AIConfig{}, fmt.Errorf("invalid AI_TIMEOUT_SECONDS value %d", *override)
		}
		timeoutSeconds = *override
	}

	return AIConfig{
		Provider:        provider,
		Timeout:         time.Duration(timeoutSeconds) * time.Second,
		AzureEndpoint:   strings.TrimSpace(os.Getenv("AZURE_OPENAI_ENDPOINT")),
		AzureAPIKey:     strings.TrimSpace(os.Getenv("AZURE_OPENAI_API_KEY")),
		AzureAPIVersion: getEnvOrDefault("AZURE_OPENAI_API_VERSION", azure.DefaultAPIVersion),
		AzureDeployment: getEnvOrDefault("AZURE_OPENAI_DEPLOYMENT_NAME", "gpt-4o-mini"),
		ArkAPIKey:       strings.TrimSpace(os.Getenv("ARK_API_KEY")),
		ArkAccessKey:    strings.TrimSpace(os.Getenv("ARK_ACCESS_KEY")),
		ArkSecretKey:    strings.TrimSpace(os.Getenv("ARK_SECRET_KEY")),
		ArkModel:        strings.TrimSpace(os.Getenv("ARK_MODEL")),
		ArkBaseURL:      getEnvOrDefault("ARK_BASE_URL", "https://ark.cn-beijing.volces.com/api/v3"),
		ArkRegion:       getEnvOrDefault("ARK_REGION", "cn-beijing"),
	}, nil
}

// ChatConfig 控制会话历史与生成参数。
type ChatConfig struct {
	HistoryLimit int
	MaxSessions  int
	MaxTokens    int
	Temperature  float32
}

func loadChatConfig() (ChatConfig, error) {
	cfg := ChatConfig{
		HistoryLimit: 10,
		MaxTokens:    500,
		Temperature:  0.7,
	}

	if limit, err := parseOptionalIntEnv("CHAT_HISTORY_LIMIT"); err != nil {
		return ChatConfig{}, err
	} else if limit != nil {
		if *limit < 1 {
			return ChatConfig{}, fmt.Errorf("invalid CHAT_HISTORY_LIMIT value %d", *limit)
		}
		cfg.HistoryLimit = *limit
	}

	if maxSessions, err := parseOptionalIntEnv("CHAT_MAX_SESSIONS"); err != nil {
		return ChatConfig{}, err
	} else if maxSessions != nil && *maxSessions > 0 {
		cfg.MaxSessions = *maxSessions
	}

	if maxTokens, err := parseOptionalIntEnv("CHAT_MAX_TOKENS"); err != nil {
		return ChatConfig{}, err
	} else if maxTokens != nil {
		cfg.MaxTokens = *maxTokens
	}

	if temperature, err := parseOptionalFloat32Env("CHAT_TEMPERATURE"); err != nil {
		return ChatConfig{}, err
	} else if temperature != nil {
		cfg.Temperature = *temperature
	}

	return cfg, nil
}

// LogConfig 描述日志输出。
type LogConfig struct {
	Level  string
	Format string
}

func loadLogConfig() LogConfig {
	return LogConfig{
		Level:  strings.ToLower(getEnvOrDefault("LOG_LEVEL", "info")),
		Format: strings.ToLower(getEnvOrDefault("LOG_FORMAT", "json")),
	}
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func parseOptionalIntEnv(key string) (*int, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.Atoi(value)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}

func parseOptionalFloat32Env(key string) (*float32, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.ParseFloat(value, 32)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	result := float32(val)
	return &result, nil
}
