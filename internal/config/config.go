package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config 全局配置结构
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Kafka    KafkaConfig    `mapstructure:"kafka"`
	Lock     LockConfig     `mapstructure:"lock"`
	Ledger   LedgerConfig   `mapstructure:"ledger"`
	Job      JobConfig      `mapstructure:"job"`
	Log      LogConfig      `mapstructure:"log"`
}

type ServerConfig struct {
	Port     int    `mapstructure:"port"`
	Mode     string `mapstructure:"mode"`      // gin 运行模式：debug / release / test
	WorkerID int64  `mapstructure:"worker_id"` // 流水号生成器的机器ID，多实例部署时需不同
	// InternalToken 内部接口（退还、购买入账）的调用凭证，为空时不开放内部接口
	InternalToken string `mapstructure:"internal_token"`
}

// DatabaseConfig 数据库配置
// driver 为 mysql 时使用 Host/Port 等字段；为 sqlite 时只使用 Path
type DatabaseConfig struct {
	Driver        string        `mapstructure:"driver"`
	Host          string        `mapstructure:"host"`
	Port          int           `mapstructure:"port"`
	User          string        `mapstructure:"user"`
	Password      string        `mapstructure:"password"`
	Database      string        `mapstructure:"database"`
	Path          string        `mapstructure:"path"`
	MaxOpenConns  int           `mapstructure:"max_open_conns"`
	MaxIdleConns  int           `mapstructure:"max_idle_conns"`
	SlowThreshold time.Duration `mapstructure:"slow_threshold"`
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type KafkaConfig struct {
	Enabled bool             `mapstructure:"enabled"`
	Brokers []string         `mapstructure:"brokers"`
	Topic   KafkaTopicConfig `mapstructure:"topic"`
}

type KafkaTopicConfig struct {
	CreditEvent string `mapstructure:"credit_event"`
}

// LockConfig 用户锁配置
// backend: redis（多实例部署）/ local（单实例或测试）
type LockConfig struct {
	Backend       string        `mapstructure:"backend"`
	Expiry        time.Duration `mapstructure:"expiry"`
	RetryInterval time.Duration `mapstructure:"retry_interval"`
	Tries         int           `mapstructure:"tries"`
}

// LedgerConfig 积分账本的业务策略
type LedgerConfig struct {
	InitialCredits int64             `mapstructure:"initial_credits"`
	Pricing        map[string]int64  `mapstructure:"pricing"`
	ServiceNames   map[string]string `mapstructure:"service_names"`
	RefundRatio    float64           `mapstructure:"refund_ratio"` // 外部调用失败时的退还比例
}

type JobConfig struct {
	OutboxInterval  time.Duration `mapstructure:"outbox_interval"`
	OutboxBatchSize int           `mapstructure:"outbox_batch_size"`
	MaxRetryCount   int           `mapstructure:"max_retry_count"`
	ReconcileSpec   string        `mapstructure:"reconcile_spec"` // cron 表达式，为空则不启动对账任务
	ReconcileBatch  int           `mapstructure:"reconcile_batch"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // json / console
}

// DefaultPricing 各功能消耗的积分
var DefaultPricing = map[string]int64{
	"image_generation": 15,
	"image_editing":    12,
	"art_card":         25,
	"cover_generator":  25,
	"chat":             1,
}

// DefaultServiceNames 流水展示用的功能名称
var DefaultServiceNames = map[string]string{
	"image_generation": "图片生成",
	"image_editing":    "图片编辑",
	"art_card":         "艺术卡片生成",
	"cover_generator":  "封面生成",
	"chat":             "AI对话",
}

// Default 返回不依赖配置文件的默认配置
func Default() *Config {
	v := viper.New()
	setDefaults(v)

	cfg := &Config{}
	// 仅包含默认值，不会失败
	_ = v.Unmarshal(cfg)
	fillLedgerDefaults(cfg)
	return cfg
}

// LoadConfig 加载配置文件，环境变量 CREDIT_XXX_YYY 可覆盖 xxx.yyy
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")
	v.SetEnvPrefix("CREDIT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("解析配置文件失败: %w", err)
	}
	fillLedgerDefaults(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate 校验会影响账本正确性的配置项
func (c *Config) Validate() error {
	if c.Ledger.InitialCredits < 0 {
		return fmt.Errorf("ledger.initial_credits 不能为负数: %d", c.Ledger.InitialCredits)
	}
	for serviceType, cost := range c.Ledger.Pricing {
		if cost < 0 {
			return fmt.Errorf("ledger.pricing.%s 不能为负数: %d", serviceType, cost)
		}
	}
	if c.Ledger.RefundRatio < 0 || c.Ledger.RefundRatio > 1 {
		return fmt.Errorf("ledger.refund_ratio 必须在 0-1 之间: %v", c.Ledger.RefundRatio)
	}
	switch c.Database.Driver {
	case "mysql", "sqlite":
	default:
		return fmt.Errorf("不支持的数据库驱动: %q", c.Database.Driver)
	}
	switch c.Lock.Backend {
	case "redis", "local":
	default:
		return fmt.Errorf("不支持的锁实现: %q", c.Lock.Backend)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "release")
	v.SetDefault("server.worker_id", 1)
	v.SetDefault("server.internal_token", "")

	v.SetDefault("database.driver", "mysql")
	v.SetDefault("database.host", "127.0.0.1")
	v.SetDefault("database.port", 3306)
	v.SetDefault("database.database", "hootool_credit")
	v.SetDefault("database.path", "credit.db")
	v.SetDefault("database.max_open_conns", 50)
	v.SetDefault("database.max_idle_conns", 10)
	v.SetDefault("database.slow_threshold", 200*time.Millisecond)

	v.SetDefault("redis.host", "127.0.0.1")
	v.SetDefault("redis.port", 6379)

	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.topic.credit_event", "credit_event")

	v.SetDefault("lock.backend", "redis")
	v.SetDefault("lock.expiry", 30*time.Second)
	v.SetDefault("lock.retry_interval", 100*time.Millisecond)
	v.SetDefault("lock.tries", 30)

	v.SetDefault("ledger.initial_credits", 100)
	v.SetDefault("ledger.refund_ratio", 0.5)

	v.SetDefault("job.outbox_interval", 100*time.Millisecond)
	v.SetDefault("job.outbox_batch_size", 100)
	v.SetDefault("job.max_retry_count", 5)
	v.SetDefault("job.reconcile_spec", "0 */30 * * * *")
	v.SetDefault("job.reconcile_batch", 200)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
}

// viper 对 map 类型的默认值会整体覆盖，这里按 key 合并
func fillLedgerDefaults(cfg *Config) {
	if cfg.Ledger.Pricing == nil {
		cfg.Ledger.Pricing = make(map[string]int64, len(DefaultPricing))
	}
	for k, v := range DefaultPricing {
		if _, ok := cfg.Ledger.Pricing[k]; !ok {
			cfg.Ledger.Pricing[k] = v
		}
	}
	if cfg.Ledger.ServiceNames == nil {
		cfg.Ledger.ServiceNames = make(map[string]string, len(DefaultServiceNames))
	}
	for k, v := range DefaultServiceNames {
		if _, ok := cfg.Ledger.ServiceNames[k]; !ok {
			cfg.Ledger.ServiceNames[k] = v
		}
	}
}
