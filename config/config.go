package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/copp1723/team-crm-sub000/engine"
	"github.com/copp1723/team-crm-sub000/internal/archive"
	"github.com/copp1723/team-crm-sub000/llm"
	"github.com/copp1723/team-crm-sub000/memory"
	"github.com/copp1723/team-crm-sub000/retrieval"
	"github.com/copp1723/team-crm-sub000/summarizer"
)

// =============================================================================
// 🎯 核心配置结构
// =============================================================================

// Config 记忆引擎的完整配置
type Config struct {
	// Server 服务器配置
	Server ServerConfig `yaml:"server" env:"SERVER"`

	// Log 日志配置
	Log LogConfig `yaml:"log" env:"LOG"`

	// Auth 运维接口鉴权配置
	Auth AuthConfig `yaml:"auth" env:"AUTH"`

	// Telemetry 遥测配置
	Telemetry TelemetryConfig `yaml:"telemetry" env:"TELEMETRY"`

	// Memory 记忆存储配置
	Memory memory.Config `yaml:"memory" env:"MEMORY"`

	// Retrieval 相关性检索配置
	Retrieval retrieval.Config `yaml:"retrieval" env:"RETRIEVAL"`

	// LLM 模型调用配置
	LLM llm.Config `yaml:"llm" env:"LLM"`

	// Summarizer 更新批处理与摘要配置
	Summarizer summarizer.Config `yaml:"summarizer" env:"SUMMARIZER"`

	// Engine 引擎生命周期配置
	Engine engine.Config `yaml:"engine" env:"ENGINE"`

	// Archive 摘要归档配置
	Archive archive.Config `yaml:"archive" env:"ARCHIVE"`
}

// ServerConfig 服务器配置
type ServerConfig struct {
	// HTTP 端口
	HTTPPort int `yaml:"http_port" env:"HTTP_PORT"`
	// 读取超时
	ReadTimeout time.Duration `yaml:"read_timeout" env:"READ_TIMEOUT"`
	// 写入超时
	WriteTimeout time.Duration `yaml:"write_timeout" env:"WRITE_TIMEOUT"`
	// 优雅关闭超时
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
	// 每客户端限流速率（请求/秒）
	RateLimitRPS float64 `yaml:"rate_limit_rps" env:"RATE_LIMIT_RPS"`
	// 限流突发容量
	RateLimitBurst int `yaml:"rate_limit_burst" env:"RATE_LIMIT_BURST"`
}

// LogConfig 日志配置
type LogConfig struct {
	// 日志级别: debug, info, warn, error
	Level string `yaml:"level" env:"LEVEL"`
	// 输出格式: json, console
	Format string `yaml:"format" env:"FORMAT"`
	// 输出路径
	OutputPaths []string `yaml:"output_paths" env:"OUTPUT_PATHS"`
	// 是否启用调用者信息
	EnableCaller bool `yaml:"enable_caller" env:"ENABLE_CALLER"`
	// 是否启用堆栈跟踪
	EnableStacktrace bool `yaml:"enable_stacktrace" env:"ENABLE_STACKTRACE"`
}

// AuthConfig 运维接口鉴权配置,HS256 JWT
type AuthConfig struct {
	// 是否启用
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	// 签名密钥
	Secret string `yaml:"secret" env:"SECRET"`
}

// TelemetryConfig 遥测配置
type TelemetryConfig struct {
	// 是否启用
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	// OTLP 端点
	OTLPEndpoint string `yaml:"otlp_endpoint" env:"OTLP_ENDPOINT"`
	// 服务名称
	ServiceName string `yaml:"service_name" env:"SERVICE_NAME"`
	// 采样率
	SampleRate float64 `yaml:"sample_rate" env:"SAMPLE_RATE"`
}

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			HTTPPort:        8080,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			RateLimitRPS:    10,
			RateLimitBurst:  20,
		},
		Log: LogConfig{
			Level:        "info",
			Format:       "json",
			OutputPaths:  []string{"stdout"},
			EnableCaller: true,
		},
		Auth: AuthConfig{
			Enabled: false,
		},
		Telemetry: TelemetryConfig{
			Enabled:      false,
			OTLPEndpoint: "localhost:4317",
			ServiceName:  "teamcrm",
			SampleRate:   1.0,
		},
		Memory:     memory.DefaultConfig(),
		Retrieval:  retrieval.DefaultConfig(),
		LLM:        llm.DefaultConfig(),
		Summarizer: summarizer.DefaultConfig(),
		Engine:     engine.DefaultConfig(),
		Archive:    archive.DefaultConfig(),
	}
}

// Validate 验证配置
func (c *Config) Validate() error {
	var errs []string

	if c.Server.HTTPPort <= 0 || c.Server.HTTPPort > 65535 {
		errs = append(errs, "invalid HTTP port")
	}
	if c.Server.RateLimitRPS < 0 {
		errs = append(errs, "rate_limit_rps must not be negative")
	}

	switch c.Log.Level {
	case "", "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Sprintf("unknown log level: %s", c.Log.Level))
	}

	if c.Auth.Enabled && c.Auth.Secret == "" {
		errs = append(errs, "auth enabled but no secret configured")
	}

	if c.Retrieval.Threshold < 0 || c.Retrieval.Threshold > 1 {
		errs = append(errs, "retrieval threshold must be within [0,1]")
	}

	if c.Summarizer.Threshold <= 0 {
		errs = append(errs, "summarizer threshold must be positive")
	}

	switch c.Archive.Driver {
	case "", "sqlite", "postgres", "mysql":
	default:
		errs = append(errs, fmt.Sprintf("unsupported archive driver: %s", c.Archive.Driver))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors: %s", strings.Join(errs, "; "))
	}
	return nil
}
