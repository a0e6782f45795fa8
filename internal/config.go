package internal

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config 整個應用的配置
type Config struct {
	Server struct {
		Port            int           `yaml:"port"`
		ReadTimeout     time.Duration `yaml:"read_timeout"`
		WriteTimeout    time.Duration `yaml:"write_timeout"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	} `yaml:"server"`

	Redis struct {
		Addr         string        `yaml:"addr"`
		Password     string        `yaml:"password"`
		DB           int           `yaml:"db"`
		PoolSize     int           `yaml:"pool_size"`
		MinIdleConns int           `yaml:"min_idle_conns"`
		MaxRetries   int           `yaml:"max_retries"`
		ReadTimeout  time.Duration `yaml:"read_timeout"`
		WriteTimeout time.Duration `yaml:"write_timeout"`
	} `yaml:"redis"`

	Postgres struct {
		Host     string `yaml:"host"`
		Port     int    `yaml:"port"`
		User     string `yaml:"user"`
		Password string `yaml:"password"`
		DBName   string `yaml:"dbname"`
		MaxConns int32  `yaml:"max_conns"`
		MinConns int32  `yaml:"min_conns"`
	} `yaml:"postgres"`

	Views struct {
		CounterTTL time.Duration `yaml:"counter_ttl"` // post:views:{id} 滑動過期
		MarkerTTL  time.Duration `yaml:"marker_ttl"`  // viewed:{user}:{post} 過期
	} `yaml:"views"`

	Sync struct {
		Secret          string        `yaml:"secret"`      // cron 呼叫的 Bearer token
		TopK            int           `yaml:"top_k"`       // 每次同步的排行榜上限
		Concurrency     int           `yaml:"concurrency"` // 同時更新的文章數
		LockTTL         time.Duration `yaml:"lock_ttl"`    // 0 表示不加鎖
		EnableInProcess bool          `yaml:"enable_in_process"`
		Interval        time.Duration `yaml:"interval"`
		PerPostTimeout  time.Duration `yaml:"per_post_timeout"`
	} `yaml:"sync"`

	NATS struct {
		URL     string `yaml:"url"` // 空字串表示不發送通知事件
		Stream  string `yaml:"stream"`
		Subject string `yaml:"subject_prefix"`
	} `yaml:"nats"`

	Auth struct {
		UserHeader  string   `yaml:"user_header"` // 上游認證代理設定的用戶 header
		Subscribers []string `yaml:"subscribers"` // 新文章通知的接收者
	} `yaml:"auth"`

	Log struct {
		Level    string `yaml:"level"`
		Format   string `yaml:"format"`
		Output   string `yaml:"output"`
		TimeZone string `yaml:"timezone"`
	} `yaml:"log"`
}

// 預設值
const (
	DefaultCounterTTL  = 30 * 24 * time.Hour
	DefaultMarkerTTL   = 365 * 24 * time.Hour
	DefaultTopK        = 1000
	MaxTopK            = 1000
	DefaultConcurrency = 64
)

// LoadConfig 載入配置檔案並套用環境變數與預設值
func LoadConfig(path string) (*Config, error) {
	// #nosec G304 - path 來自啟動參數，非使用者輸入
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	return ParseConfig(data)
}

// ParseConfig 解析 YAML 配置
func ParseConfig(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyEnv()
	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, nil
}

// applyEnv 環境變數覆蓋（生產環境常用）
func (c *Config) applyEnv() {
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		c.Redis.Addr = addr
	}
	if secret := os.Getenv("CRON_SECRET"); secret != "" {
		c.Sync.Secret = secret
	}
	if natsURL := os.Getenv("NATS_URL"); natsURL != "" {
		c.NATS.URL = natsURL
	}
}

// ApplyDefaults 填入未設定的欄位
func (c *Config) ApplyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = 5 * time.Second
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = 10 * time.Second
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = 30 * time.Second
	}

	if c.Redis.Addr == "" {
		c.Redis.Addr = "localhost:6379"
	}
	if c.Redis.PoolSize == 0 {
		c.Redis.PoolSize = 10
	}

	if c.Postgres.MaxConns == 0 {
		c.Postgres.MaxConns = 10
	}

	if c.Views.CounterTTL == 0 {
		c.Views.CounterTTL = DefaultCounterTTL
	}
	if c.Views.MarkerTTL == 0 {
		c.Views.MarkerTTL = DefaultMarkerTTL
	}

	if c.Sync.TopK == 0 {
		c.Sync.TopK = DefaultTopK
	}
	if c.Sync.Concurrency == 0 {
		c.Sync.Concurrency = DefaultConcurrency
	}
	if c.Sync.Interval == 0 {
		c.Sync.Interval = 3 * time.Hour
	}
	if c.Sync.PerPostTimeout == 0 {
		c.Sync.PerPostTimeout = 5 * time.Second
	}

	if c.NATS.Stream == "" {
		c.NATS.Stream = "BOARD_EVENTS"
	}
	if c.NATS.Subject == "" {
		c.NATS.Subject = "board.notify"
	}

	if c.Auth.UserHeader == "" {
		c.Auth.UserHeader = "X-User-ID"
	}

	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}
}

// Validate 檢查配置是否合理
func (c *Config) Validate() error {
	var errs []error

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port out of range: %d", c.Server.Port))
	}
	if c.Views.CounterTTL <= 0 {
		errs = append(errs, errors.New("views.counter_ttl must be positive"))
	}
	if c.Views.MarkerTTL <= 0 {
		errs = append(errs, errors.New("views.marker_ttl must be positive"))
	}
	if c.Sync.TopK < 1 || c.Sync.TopK > MaxTopK {
		errs = append(errs, fmt.Errorf("sync.top_k must be within 1..%d, got %d", MaxTopK, c.Sync.TopK))
	}
	if c.Sync.Concurrency < 1 {
		errs = append(errs, errors.New("sync.concurrency must be positive"))
	}
	if c.Sync.LockTTL < 0 {
		errs = append(errs, errors.New("sync.lock_ttl must not be negative"))
	}
	if c.Sync.PerPostTimeout < 0 {
		errs = append(errs, errors.New("sync.per_post_timeout must not be negative"))
	}
	if c.Sync.EnableInProcess && c.Sync.Interval <= 0 {
		errs = append(errs, fmt.Errorf("sync.interval must be positive when enable_in_process is set, got %s", c.Sync.Interval))
	}
	// 沒有密鑰時 cron 端點等同公開，直接拒絕啟動
	if c.Sync.Secret == "" {
		errs = append(errs, errors.New("sync.secret is required (or set CRON_SECRET)"))
	}

	return errors.Join(errs...)
}

// PostgresDSN 生成 PostgreSQL 連線字串（pgxpool 使用）
func (c *Config) PostgresDSN() string {
	// 支援環境變數覆蓋（生產環境常用）
	if dsn := os.Getenv("DATABASE_URL"); dsn != "" {
		return dsn
	}

	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
		c.Postgres.Host,
		c.Postgres.Port,
		c.Postgres.User,
		c.Postgres.Password,
		c.Postgres.DBName,
	)
}

// PostgresURL 生成 URL 形式的連線字串（golang-migrate 使用）
func (c *Config) PostgresURL() string {
	if dsn := os.Getenv("DATABASE_URL"); dsn != "" {
		return dsn
	}

	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.Postgres.User, c.Postgres.Password),
		Host:     fmt.Sprintf("%s:%d", c.Postgres.Host, c.Postgres.Port),
		Path:     "/" + c.Postgres.DBName,
		RawQuery: "sslmode=disable",
	}
	return u.String()
}
