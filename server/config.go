package server

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"go.uber.org/multierr"
)

const (
	DefaultHost              = "0.0.0.0"
	DefaultPort              = 3000
	DefaultHeartbeatInterval = 30 * time.Second
	DefaultPeerTimeout       = 90 * time.Second
	DefaultWriteTimeout      = 5 * time.Second
	DefaultMaxMessageBytes   = 1 << 20 // 1MB
	DefaultSendQueue         = 64
	DefaultMaxClients        = 0 // 不限制
	DefaultMaxNameLength     = 32
	DefaultMaxChatLength     = 500
	DefaultStaticDir         = "public"
)

// LogConfig 日志输出与滚动策略
type LogConfig struct {
	Path       string
	Level      string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// Config 服务端运行参数，全部可由环境变量覆盖
type Config struct {
	Host string
	Port int

	HeartbeatInterval time.Duration // 应用层 heartbeat 广播间隔
	PeerTimeout       time.Duration // 读超时：超过该时长无任何入站帧则断开
	WriteTimeout      time.Duration
	MaxMessageBytes   int64
	SendQueue         int // 每个连接的发送队列容量
	MaxClients        int // 0 表示不限制

	MaxNameLength int
	MaxChatLength int

	StaticDir string // 浏览器客户端静态文件目录，空串表示不托管

	Log LogConfig
}

// DefaultConfig 返回全部默认值
func DefaultConfig() Config {
	return Config{
		Host:              DefaultHost,
		Port:              DefaultPort,
		HeartbeatInterval: DefaultHeartbeatInterval,
		PeerTimeout:       DefaultPeerTimeout,
		WriteTimeout:      DefaultWriteTimeout,
		MaxMessageBytes:   DefaultMaxMessageBytes,
		SendQueue:         DefaultSendQueue,
		MaxClients:        DefaultMaxClients,
		MaxNameLength:     DefaultMaxNameLength,
		MaxChatLength:     DefaultMaxChatLength,
		StaticDir:         DefaultStaticDir,
		Log: LogConfig{
			Path:       "server.log",
			Level:      "debug",
			MaxSizeMB:  10,
			MaxBackups: 3,
			MaxAgeDays: 7,
		},
	}
}

// Addr 监听地址 host:port
func (c Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// PingPeriod 控制帧 ping 的发送周期，须小于 PeerTimeout
func (c Config) PingPeriod() time.Duration {
	return c.PeerTimeout * 9 / 10
}

// LoadConfig 从环境变量读取配置；所有非法值合并为一个错误返回
func LoadConfig() (Config, error) {
	return loadConfig(os.Getenv)
}

func loadConfig(getenv func(string) string) (Config, error) {
	cfg := DefaultConfig()
	var errs error

	if v := strings.TrimSpace(getenv("HOST")); v != "" {
		cfg.Host = v
	}
	errs = multierr.Append(errs, intVar(getenv, "PORT", &cfg.Port, 1))
	errs = multierr.Append(errs, durationVar(getenv, "FPS_HEARTBEAT_INTERVAL", &cfg.HeartbeatInterval))
	errs = multierr.Append(errs, durationVar(getenv, "FPS_PEER_TIMEOUT", &cfg.PeerTimeout))
	errs = multierr.Append(errs, durationVar(getenv, "FPS_WRITE_TIMEOUT", &cfg.WriteTimeout))
	errs = multierr.Append(errs, intVar(getenv, "FPS_SEND_QUEUE", &cfg.SendQueue, 1))
	errs = multierr.Append(errs, intVar(getenv, "FPS_MAX_CLIENTS", &cfg.MaxClients, 0))
	errs = multierr.Append(errs, intVar(getenv, "FPS_MAX_NAME_LENGTH", &cfg.MaxNameLength, 1))
	errs = multierr.Append(errs, intVar(getenv, "FPS_MAX_CHAT_LENGTH", &cfg.MaxChatLength, 1))

	var maxMsg int
	if err := intVar(getenv, "FPS_MAX_MESSAGE_BYTES", &maxMsg, 1); err != nil {
		errs = multierr.Append(errs, err)
	} else if maxMsg > 0 {
		cfg.MaxMessageBytes = int64(maxMsg)
	}

	if v, ok := lookup(getenv, "FPS_STATIC_DIR"); ok {
		cfg.StaticDir = v
	}
	if v := strings.TrimSpace(getenv("FPS_LOG_PATH")); v != "" {
		cfg.Log.Path = v
	}
	if v := strings.TrimSpace(getenv("FPS_LOG_LEVEL")); v != "" {
		cfg.Log.Level = v
	}
	errs = multierr.Append(errs, intVar(getenv, "FPS_LOG_MAX_SIZE_MB", &cfg.Log.MaxSizeMB, 1))
	errs = multierr.Append(errs, intVar(getenv, "FPS_LOG_MAX_BACKUPS", &cfg.Log.MaxBackups, 0))
	errs = multierr.Append(errs, intVar(getenv, "FPS_LOG_MAX_AGE_DAYS", &cfg.Log.MaxAgeDays, 0))

	if cfg.Port > 65535 {
		errs = multierr.Append(errs, fmt.Errorf("PORT must be <= 65535, got %d", cfg.Port))
	}
	if cfg.HeartbeatInterval >= cfg.PeerTimeout {
		errs = multierr.Append(errs, fmt.Errorf("FPS_HEARTBEAT_INTERVAL (%s) must be shorter than FPS_PEER_TIMEOUT (%s)",
			cfg.HeartbeatInterval, cfg.PeerTimeout))
	}
	if _, err := parseLevel(cfg.Log.Level); err != nil {
		errs = multierr.Append(errs, err)
	}
	return cfg, errs
}

// lookup 区分未设置与显式置空；"-" 表示关闭该项
func lookup(getenv func(string) string, key string) (string, bool) {
	v := strings.TrimSpace(getenv(key))
	if v == "" {
		return "", false
	}
	if v == "-" {
		return "", true
	}
	return v, true
}

// intVar 解析整数环境变量，未设置时保留默认值
func intVar(getenv func(string) string, key string, dst *int, lo int) error {
	raw := strings.TrimSpace(getenv(key))
	if raw == "" {
		return nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < lo {
		return fmt.Errorf("%s must be an integer >= %d, got %q", key, lo, raw)
	}
	*dst = v
	return nil
}

func durationVar(getenv func(string) string, key string, dst *time.Duration) error {
	raw := strings.TrimSpace(getenv(key))
	if raw == "" {
		return nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return fmt.Errorf("%s must be a positive duration, got %q", key, raw)
	}
	*dst = d
	return nil
}
