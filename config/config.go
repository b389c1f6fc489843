package config

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net"
	"strconv"
	"time"

	"Tidelink/core/link"
	"Tidelink/logger"

	"github.com/joho/godotenv"
	"github.com/sethvargo/go-envconfig"
)

// Config 进程配置，全部来自环境变量（可由 .env 提供）
type Config struct {
	Tidelink Tidelink
	Redis    Redis
	Database Database
	Log      Log
	Discord  Discord
	Netease  Netease

	NodesFile string `env:"NODES_FILE, default=nodes.json"`
}

// Tidelink 客户端行为
type Tidelink struct {
	RetryTimeout     time.Duration `env:"TIDELINK_RETRY_TIMEOUT, default=3s"`
	RetryCount       int           `env:"TIDELINK_RETRY_COUNT, default=15"`
	VoiceTimeout     time.Duration `env:"TIDELINK_VOICE_TIMEOUT, default=15s"`
	DefaultEngine    string        `env:"TIDELINK_DEFAULT_ENGINE, default=youtube"`
	DefaultVolume    int           `env:"TIDELINK_DEFAULT_VOLUME, default=100"`
	FallbackEnable   bool          `env:"TIDELINK_FALLBACK_ENABLE, default=true"`
	FallbackEngine   string        `env:"TIDELINK_FALLBACK_ENGINE, default=soundcloud"`
	Resume           bool          `env:"TIDELINK_RESUME, default=false"`
	ResumeTimeout    int           `env:"TIDELINK_RESUME_TIMEOUT, default=300"`
	UserAgent        string        `env:"TIDELINK_USER_AGENT"`
	ClientName       string        `env:"TIDELINK_CLIENT_NAME, default=tidelink"`
	RESTRate         float64       `env:"TIDELINK_REST_RATE, default=0"`
	RESTBurst        int           `env:"TIDELINK_REST_BURST, default=1"`
	HistoryLimit     int           `env:"TIDELINK_HISTORY_LIMIT, default=0"`
	SessionStore     string        `env:"TIDELINK_SESSION_STORE, default=memory"` // memory | redis | mysql
	StatsTimeout     time.Duration `env:"TIDELINK_STATS_TIMEOUT, default=5s"`
	HandshakeTimeout time.Duration `env:"TIDELINK_HANDSHAKE_TIMEOUT, default=10s"`
}

// Redis 会话存储使用的 Redis
type Redis struct {
	Host     string `env:"REDIS_HOST, default=127.0.0.1"`
	Port     string `env:"REDIS_PORT, default=6379"`
	Password string `env:"REDIS_PASSWORD"`
	DB       int    `env:"REDIS_DB, default=0"`
}

// Addr host:port
func (r Redis) Addr() string {
	return net.JoinHostPort(r.Host, r.Port)
}

// Database 会话存储使用的 MySQL
type Database struct {
	Host     string `env:"DB_HOST, default=127.0.0.1"`
	Port     string `env:"DB_PORT, default=3306"`
	User     string `env:"DB_USER, default=root"`
	Password string `env:"DB_PASSWORD"`
	Name     string `env:"DB_NAME, default=tidelink"`
}

// Addr host:port
func (d Database) Addr() string {
	return net.JoinHostPort(d.Host, d.Port)
}

// Log 日志输出
type Log struct {
	Level      string `env:"LOG_LEVEL, default=info"`
	File       string `env:"LOG_FILE"`
	MaxSize    int    `env:"LOG_MAX_SIZE, default=100"`
	MaxBackups int    `env:"LOG_MAX_BACKUPS, default=3"`
	MaxAge     int    `env:"LOG_MAX_AGE, default=28"`
	Compress   bool   `env:"LOG_COMPRESS, default=true"`
	Console    bool   `env:"LOG_CONSOLE, default=false"`
}

// Logger 转换为 logger.Config
func (l Log) Logger() logger.Config {
	return logger.Config{
		Level:      l.Level,
		OutputPath: l.File,
		MaxSize:    l.MaxSize,
		MaxBackups: l.MaxBackups,
		MaxAge:     l.MaxAge,
		Compress:   l.Compress,
		Console:    l.Console,
	}
}

// Discord 机器人凭据
type Discord struct {
	Token string `env:"DISCORD_TOKEN"`
}

// Netease 网易云音乐来源插件，APIURL 为空时不启用
type Netease struct {
	APIURL string `env:"NETEASE_API_URL"`
	Limit  int    `env:"NETEASE_SEARCH_LIMIT, default=5"`
}

// Load 读取 .env（不存在时忽略）后解析环境变量
func Load(ctx context.Context) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	return LoadFrom(ctx, envconfig.OsLookuper())
}

// LoadFrom 从指定来源解析配置
func LoadFrom(ctx context.Context, l envconfig.Lookuper) (*Config, error) {
	var cfg Config
	if err := envconfig.ProcessWith(ctx, &envconfig.Config{Target: &cfg, Lookuper: l}); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	t := c.Tidelink
	if t.RetryCount < 0 {
		return fmt.Errorf("TIDELINK_RETRY_COUNT must not be negative, got %d", t.RetryCount)
	}
	if t.DefaultVolume < 0 || t.DefaultVolume > 1000 {
		return fmt.Errorf("TIDELINK_DEFAULT_VOLUME must be between 0 and 1000, got %d", t.DefaultVolume)
	}
	if t.HistoryLimit < 0 {
		return fmt.Errorf("TIDELINK_HISTORY_LIMIT must not be negative, got %d", t.HistoryLimit)
	}
	switch t.SessionStore {
	case "memory", "redis", "mysql":
	default:
		return fmt.Errorf("unknown TIDELINK_SESSION_STORE %q", t.SessionStore)
	}
	if _, err := strconv.Atoi(c.Redis.Port); err != nil {
		return fmt.Errorf("invalid REDIS_PORT %q", c.Redis.Port)
	}
	return nil
}

// LinkOptions 转换为客户端选项；会话存储由调用方设置
func (c *Config) LinkOptions() link.Options {
	t := c.Tidelink
	opts := link.DefaultOptions()
	opts.Node.RetryTimeout = t.RetryTimeout
	opts.Node.RetryCount = t.RetryCount
	opts.Node.Resume = t.Resume
	opts.Node.ResumeTimeout = t.ResumeTimeout
	opts.Node.StatsTimeout = t.StatsTimeout
	opts.Node.Driver.ClientName = t.ClientName
	opts.Node.Driver.UserAgent = t.UserAgent
	opts.Node.Driver.RESTRate = t.RESTRate
	opts.Node.Driver.RESTBurst = t.RESTBurst
	opts.Node.Driver.HandshakeTimeout = t.HandshakeTimeout
	opts.VoiceConnectionTimeout = t.VoiceTimeout
	opts.DefaultSearchEngine = t.DefaultEngine
	opts.DefaultVolume = t.DefaultVolume
	opts.SearchFallback = link.SearchFallback{Enable: t.FallbackEnable, Engine: t.FallbackEngine}
	opts.HistoryLimit = t.HistoryLimit
	return opts
}
