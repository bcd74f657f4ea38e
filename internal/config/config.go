package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// Config 描述了中继服务在启动阶段需要加载的全部配置。
type Config struct {
	Server   ServerConfig   `json:"server"`
	Chain    ChainConfig    `json:"chain"`
	Oracle   OracleConfig   `json:"oracle"`
	Fees     FeesConfig     `json:"fees"`
	Assets   AssetsConfig   `json:"assets"`
	Dedup    DedupConfig    `json:"dedup"`
	Storage  StorageConfig  `json:"storage"`
	Tracker  TrackerConfig  `json:"tracker"`
	Auth     AuthConfig     `json:"auth"`
	Alerting AlertingConfig `json:"alerting"`
	Metrics  MetricsConfig  `json:"metrics"`
	Logging  LoggingConfig  `json:"logging"`
}

// ServerConfig 控制 API 服务的监听地址等参数。
type ServerConfig struct {
	Address string `json:"address"`
}

// ChainConfig 包含访问 N3 节点与签名交易所需的信息。代理私钥建议通过
// agent_wif_env 指定环境变量注入，避免明文落盘。
type ChainConfig struct {
	RPCEndpoints      []string `json:"rpc_endpoints"`
	RPCTimeoutSeconds int      `json:"rpc_timeout_seconds"`
	NetworkMagic      uint32   `json:"network_magic"`
	RelayContract     string   `json:"relay_contract"`
	AgentWIF          string   `json:"agent_wif"`
	AgentWIFEnv       string   `json:"agent_wif_env"`
	ValidUntilOffset  uint32   `json:"valid_until_offset"`
	// 节点费用接口不可达时的兜底值，以 GAS 最小单位计。
	SystemFeeFallback  int64 `json:"system_fee_fallback"`
	NetworkFeeFallback int64 `json:"network_fee_fallback"`
}

// OracleConfig 描述价格与兑换服务的接入方式。
type OracleConfig struct {
	BaseURL        string `json:"base_url"`
	APIKey         string `json:"api_key"`
	APIKeyEnv      string `json:"api_key_env"`
	TimeoutSeconds int    `json:"timeout_seconds"`
}

// FeesConfig 控制手续费换算与代理账户的 GAS 水位。金额以最小单位计。
type FeesConfig struct {
	DefaultFeeGas   string `json:"default_fee_gas"`
	SlippageBps     int64  `json:"slippage_bps"`
	MinAgentBalance int64  `json:"min_agent_balance"`
	TopUpTarget     int64  `json:"top_up_target"`
}

// AssetsConfig 指定资产目录文件。留空时使用内置目录。
type AssetsConfig struct {
	CatalogPath string `json:"catalog_path"`
}

// DedupConfig 选择意图去重注册表的实现。
type DedupConfig struct {
	Driver string           `json:"driver"`
	Redis  RedisDedupConfig `json:"redis"`
}

// RedisDedupConfig 描述 Redis 去重注册表的连接参数。
type RedisDedupConfig struct {
	Address    string `json:"address"`
	Password   string `json:"password"`
	DB         int    `json:"db"`
	KeyPrefix  string `json:"key_prefix"`
	TTLSeconds int    `json:"ttl_seconds"`
}

// StorageConfig 统一描述台账后端的连接信息。
type StorageConfig struct {
	Journal JournalConfig `json:"journal"`
}

// JournalConfig 选择台账实现。memory 纯内存，file 落到 data_dir 下的
// JSON 行文件，mysql 走关系库。
type JournalConfig struct {
	Driver                 string `json:"driver"`
	DSN                    string `json:"dsn"`
	DataDir                string `json:"data_dir"`
	MaxOpenConns           int    `json:"max_open_conns"`
	MaxIdleConns           int    `json:"max_idle_conns"`
	ConnMaxLifetimeSeconds int    `json:"conn_max_lifetime_seconds"`
	ConnMaxIdleTimeSeconds int    `json:"conn_max_idle_time_seconds"`
}

// TrackerConfig 控制交易确认轮询。
type TrackerConfig struct {
	Enabled             bool        `json:"enabled"`
	Workers             int         `json:"workers"`
	PollIntervalSeconds int         `json:"poll_interval_seconds"`
	MaxAttempts         int         `json:"max_attempts"`
	Confirmations       uint32      `json:"confirmations"`
	Queue               QueueConfig `json:"queue"`
}

// QueueConfig 选择确认任务队列的实现。
type QueueConfig struct {
	Driver   string              `json:"driver"`
	Redis    RedisQueueConfig    `json:"redis"`
	RabbitMQ RabbitMQQueueConfig `json:"rabbitmq"`
}

// RedisQueueConfig 描述 Redis 队列的连接参数。
type RedisQueueConfig struct {
	Address          string `json:"address"`
	Password         string `json:"password"`
	DB               int    `json:"db"`
	Queue            string `json:"queue"`
	BlockWaitSeconds int    `json:"block_wait_seconds"`
}

// RabbitMQQueueConfig 描述 RabbitMQ 队列的连接参数。
type RabbitMQQueueConfig struct {
	URL        string `json:"url"`
	Queue      string `json:"queue"`
	Prefetch   int    `json:"prefetch"`
	Durable    bool   `json:"durable"`
	AutoDelete bool   `json:"auto_delete"`
}

// AuthConfig 配置 API 访问认证。
type AuthConfig struct {
	Mode   string      `json:"mode"`
	Tokens []AuthToken `json:"tokens"`
}

// AuthToken 是一条静态访问令牌。Name 用于审计日志署名。
type AuthToken struct {
	Token string `json:"token"`
	Name  string `json:"name"`
}

// AlertingConfig 配置告警通知渠道。
type AlertingConfig struct {
	Log     LogAlertConfig     `json:"log"`
	Webhook WebhookAlertConfig `json:"webhook"`
	Email   EmailAlertConfig   `json:"email"`
}

// LogAlertConfig 控制日志告警渠道。
type LogAlertConfig struct {
	Enabled bool `json:"enabled"`
}

// WebhookAlertConfig 控制回调告警渠道。
type WebhookAlertConfig struct {
	Enabled  bool   `json:"enabled"`
	Endpoint string `json:"endpoint"`
	Token    string `json:"token"`
}

// EmailAlertConfig 控制邮件告警渠道。
type EmailAlertConfig struct {
	Enabled       bool     `json:"enabled"`
	SMTPAddr      string   `json:"smtp_addr"`
	Username      string   `json:"username"`
	Password      string   `json:"password"`
	From          string   `json:"from"`
	To            []string `json:"to"`
	SubjectPrefix string   `json:"subject_prefix"`
}

// MetricsConfig 控制独立的指标服务。
type MetricsConfig struct {
	Enabled bool   `json:"enabled"`
	Address string `json:"address"`
}

// LoggingConfig 与 pkg/logger 的配置一一对应。
type LoggingConfig struct {
	Level       string         `json:"level"`
	Format      string         `json:"format"`
	OutputPaths []string       `json:"output_paths"`
	Audit       AuditLogConfig `json:"audit"`
}

// AuditLogConfig 控制审计日志的落盘与轮转。
type AuditLogConfig struct {
	Enabled    bool   `json:"enabled"`
	Path       string `json:"path"`
	MaxSizeMB  int    `json:"max_size_mb"`
	MaxBackups int    `json:"max_backups"`
	MaxAgeDays int    `json:"max_age_days"`
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

// applyDefaults 在用户未填写部分字段时设置合理的默认值。换算、签名等
// 组件各自还有兜底默认值，这里只补驱动选择与路径解析。
func (c *Config) applyDefaults(baseDir string) {
	if c.Server.Address == "" {
		c.Server.Address = ":8080"
	}

	if c.Storage.Journal.Driver == "" {
		c.Storage.Journal.Driver = "memory"
	}
	if c.Storage.Journal.DataDir == "" {
		c.Storage.Journal.DataDir = filepath.Join(baseDir, "data")
	} else if !filepath.IsAbs(c.Storage.Journal.DataDir) {
		c.Storage.Journal.DataDir = filepath.Join(baseDir, c.Storage.Journal.DataDir)
	}

	if c.Assets.CatalogPath != "" && !filepath.IsAbs(c.Assets.CatalogPath) {
		c.Assets.CatalogPath = filepath.Join(baseDir, c.Assets.CatalogPath)
	}

	if c.Dedup.Driver == "" {
		c.Dedup.Driver = "memory"
	}

	if c.Tracker.Queue.Driver == "" {
		c.Tracker.Queue.Driver = "memory"
	}
	if c.Tracker.Workers <= 0 {
		c.Tracker.Workers = 1
	}
	if c.Tracker.PollIntervalSeconds <= 0 {
		c.Tracker.PollIntervalSeconds = 15
	}
	if c.Tracker.MaxAttempts <= 0 {
		c.Tracker.MaxAttempts = 40
	}
	if c.Tracker.Confirmations == 0 {
		c.Tracker.Confirmations = 1
	}

	if c.Auth.Mode == "" {
		c.Auth.Mode = "disabled"
	}
}
