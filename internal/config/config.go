package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

const (
	defaultBaseURL      = "http://localhost:11434"
	defaultProbeTimeout = 10 * time.Second
	defaultClearDelay   = 300 * time.Millisecond
)

// Config 聚合整个服务的配置项。
type Config struct {
	Server  ServerConfig
	AI      AIConfig
	Session SessionConfig
}

// ServerConfig 描述 HTTP 服务配置。
type ServerConfig struct {
	Addr string
}

// AIConfig 描述与补全服务通信的传输层配置。
type AIConfig struct {
	SystemPrompt string
	Temperature  *float64
	MaxTokens    *int
	ProbeTimeout time.Duration
}

// SessionConfig holds the defaults applied to new chat sessions.
type SessionConfig struct {
	BaseURL      string
	APIKey       string
	DefaultModel string
	ClearDelay   time.Duration
}

// fileConfig mirrors the optional TOML file referenced by CONFIG_FILE.
type fileConfig struct {
	Port         string   `toml:"port"`
	BaseURL      string   `toml:"base_url"`
	APIKey       string   `toml:"api_key"`
	DefaultModel string   `toml:"default_model"`
	SystemPrompt string   `toml:"system_prompt"`
	ProbeTimeout int      `toml:"probe_timeout"`
	ClearDelayMS int      `toml:"clear_delay_ms"`
	Temperature  *float64 `toml:"temperature"`
	MaxTokens    *int     `toml:"max_tokens"`
}

// Load 从配置文件和环境变量加载配置，环境变量优先。
func Load() (*Config, error) {
	file, err := loadFile(strings.TrimSpace(os.Getenv("CONFIG_FILE")))
	if err != nil {
		return nil, err
	}

	server, err := loadServerConfig(file)
	if err != nil {
		return nil, err
	}

	ai, err := loadAIConfig(file)
	if err != nil {
		return nil, err
	}

	session, err := loadSessionConfig(file)
	if err != nil {
		return nil, err
	}

	return &Config{Server: server, AI: ai, Session: session}, nil
}

func loadFile(path string) (fileConfig, error) {
	var file fileConfig
	if path == "" {
		return file, nil
	}

	if _, err := toml.DecodeFile(path, &file); err != nil {
		return fileConfig{}, fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	return file, nil
}

// loadServerConfig 解析服务器监听地址。
func loadServerConfig(file fileConfig) (ServerConfig, error) {
	port := getEnvOrDefault("PORT", file.Port)
	if port == "" {
		port = "8080"
	}

	if strings.Contains(port, ":") {
		// 允许用户直接传入 ":8080" 或 "127.0.0.1:8080"。
		return ServerConfig{Addr: port}, nil
	}

	if strings.Contains(port, " ") {
		return ServerConfig{}, fmt.Errorf("invalid PORT value: %q", port)
	}

	return ServerConfig{Addr: ":" + port}, nil
}

func loadAIConfig(file fileConfig) (AIConfig, error) {
	temperature, err := parseOptionalFloatEnv("CHAT_TEMPERATURE")
	if err != nil {
		return AIConfig{}, err
	}
	if temperature == nil {
		temperature = file.Temperature
	}

	maxTokens, err := parseOptionalIntEnv("CHAT_MAX_TOKENS")
	if err != nil {
		return AIConfig{}, err
	}
	if maxTokens == nil {
		maxTokens = file.MaxTokens
	}

	probeTimeout := defaultProbeTimeout
	if file.ProbeTimeout > 0 {
		probeTimeout = time.Duration(file.ProbeTimeout) * time.Second
	}
	if override, err := parseOptionalIntEnv("PROBE_TIMEOUT"); err != nil {
		return AIConfig{}, err
	} else if override != nil {
		if *override < 1 {
			return AIConfig{}, fmt.Errorf("invalid PROBE_TIMEOUT value %d: must be positive", *override)
		}
		probeTimeout = time.Duration(*override) * time.Second
	}

	return AIConfig{
		SystemPrompt: getEnvOrDefault("SYSTEM_PROMPT", file.SystemPrompt),
		Temperature:  temperature,
		MaxTokens:    maxTokens,
		ProbeTimeout: probeTimeout,
	}, nil
}

func loadSessionConfig(file fileConfig) (SessionConfig, error) {
	baseURL := getEnvOrDefault("OLLAMA_URL", file.BaseURL)
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	if err := validateBaseURL(baseURL); err != nil {
		return SessionConfig{}, err
	}

	clearDelay := defaultClearDelay
	if file.ClearDelayMS > 0 {
		clearDelay = time.Duration(file.ClearDelayMS) * time.Millisecond
	}
	if override, err := parseOptionalIntEnv("CLEAR_DELAY_MS"); err != nil {
		return SessionConfig{}, err
	} else if override != nil {
		if *override < 0 {
			return SessionConfig{}, fmt.Errorf("invalid CLEAR_DELAY_MS value %d: must not be negative", *override)
		}
		clearDelay = time.Duration(*override) * time.Millisecond
	}

	return SessionConfig{
		BaseURL:      baseURL,
		APIKey:       getEnvOrDefault("OPENAI_API_KEY", file.APIKey),
		DefaultModel: getEnvOrDefault("DEFAULT_MODEL", file.DefaultModel),
		ClearDelay:   clearDelay,
	}, nil
}

func validateBaseURL(raw string) error {
	parsed, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid OLLAMA_URL value %q: %w", raw, err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("invalid OLLAMA_URL value %q: %w", raw, errors.New("scheme must be http or https"))
	}
	if parsed.Host == "" {
		return fmt.Errorf("invalid OLLAMA_URL value %q: %w", raw, errors.New("host is required"))
	}
	return nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func parseOptionalFloatEnv(key string) (*float64, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
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
