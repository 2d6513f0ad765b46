package config

import (
	"fmt"
	"net/netip"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config アプリケーション全体の設定
type Config struct {
	Server        ServerConfig
	Database      DatabaseConfig
	Redis         RedisConfig
	JWT           JWTConfig
	AdminAPI      AdminAPIConfig
	Kafka         KafkaConfig
	Compensation  CompensationConfig
	Generation    GenerationConfig
	TokenCache    TokenCacheConfig
	OpenTelemetry OpenTelemetryConfig
	Environment   string
	LogLevel      string
}

// ServerConfig サーバー設定
type ServerConfig struct {
	Port         int
	GRPCPort     int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// DatabaseConfig データベース設定
type DatabaseConfig struct {
	Host            string
	Port            int
	User            string
	Password        string
	Database        string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// RedisConfig Redis設定
type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
	Enabled  bool
}

// JWTConfig JWT設定
type JWTConfig struct {
	Secret     string
	Expiration time.Duration
	Issuer     string
}

// AdminAPIConfig 管理API設定
type AdminAPIConfig struct {
	Enabled    bool
	APIKey     string
	AllowedIPs []string // IPアドレスまたはCIDR
}

// KafkaConfig 台帳イベント配信設定
type KafkaConfig struct {
	Enabled       bool
	Brokers       []string
	Topic         string
	RelayInterval time.Duration
	BatchSize     int
	SettleDelay   time.Duration
	GapTimeout    time.Duration
}

// CompensationConfig 補償ジョブ設定
type CompensationConfig struct {
	Interval   time.Duration
	BatchSize  int
	MaxRetries int
}

// GenerationConfig 生成プロバイダー呼び出し設定
type GenerationConfig struct {
	ProviderTimeout time.Duration
}

// TokenCacheConfig トークンキャッシュ設定
type TokenCacheConfig struct {
	TTL           time.Duration
	RefreshMargin time.Duration
	MaxEntries    int
}

// OpenTelemetryConfig OpenTelemetry設定
type OpenTelemetryConfig struct {
	Enabled         bool
	ServiceName     string
	ServiceVersion  string
	OTLPEndpoint    string
	OTLPInsecure    bool
	TraceExporter   string // "otlp", "stdout"
	MetricsExporter string // "otlp", "stdout"
}

// Load 設定を読み込む
func Load() (*Config, error) {
	// .envファイルを読み込む（存在しない場合は無視）
	_ = godotenv.Load()

	env := getEnv("ENVIRONMENT", "development")
	port := getEnvAsInt("SERVER_PORT", 8080)

	cfg := &Config{
		Environment: env,
		LogLevel:    strings.ToUpper(getEnv("LOG_LEVEL", "INFO")),
		Server: ServerConfig{
			Port:         port,
			GRPCPort:     getEnvAsInt("GRPC_PORT", port+1),
			ReadTimeout:  getEnvAsDuration("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout: getEnvAsDuration("SERVER_WRITE_TIMEOUT", 15*time.Second),
			IdleTimeout:  getEnvAsDuration("SERVER_IDLE_TIMEOUT", 60*time.Second),
		},
		Database: DatabaseConfig{
			Host:            getEnv("DB_HOST", "localhost"),
			Port:            getEnvAsInt("DB_PORT", 3306),
			User:            getEnv("DB_USER", "root"),
			Password:        getEnv("DB_PASSWORD", ""),
			Database:        getEnv("DB_NAME", "credits_db"),
			MaxOpenConns:    getEnvAsInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    getEnvAsInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: getEnvAsDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
			ConnMaxIdleTime: getEnvAsDuration("DB_CONN_MAX_IDLE_TIME", 10*time.Minute),
		},
		Redis: RedisConfig{
			Host:     getEnv("REDIS_HOST", "localhost"),
			Port:     getEnvAsInt("REDIS_PORT", 6379),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
			Enabled:  getEnvAsBool("REDIS_ENABLED", false),
		},
		JWT: JWTConfig{
			Secret:     getEnv("JWT_SECRET", ""),
			Expiration: getEnvAsDuration("JWT_EXPIRATION", 24*time.Hour),
			Issuer:     getEnv("JWT_ISSUER", "credits-ledger"),
		},
		AdminAPI: AdminAPIConfig{
			Enabled:    getEnvAsBool("ADMIN_API_ENABLED", true),
			APIKey:     getEnv("ADMIN_API_KEY", ""),
			AllowedIPs: getEnvAsSlice("ADMIN_ALLOWED_IPS", nil),
		},
		Kafka: KafkaConfig{
			Enabled:       getEnvAsBool("KAFKA_ENABLED", false),
			Brokers:       getEnvAsSlice("KAFKA_BROKERS", []string{"localhost:9092"}),
			Topic:         getEnv("KAFKA_TOPIC", "credits.ledger"),
			RelayInterval: getEnvAsDuration("KAFKA_RELAY_INTERVAL", 2*time.Second),
			BatchSize:     getEnvAsInt("KAFKA_RELAY_BATCH_SIZE", 100),
			SettleDelay:   getEnvAsDuration("KAFKA_RELAY_SETTLE_DELAY", 2*time.Second),
			GapTimeout:    getEnvAsDuration("KAFKA_RELAY_GAP_TIMEOUT", 30*time.Second),
		},
		Compensation: CompensationConfig{
			Interval:   getEnvAsDuration("COMPENSATION_INTERVAL", 30*time.Second),
			BatchSize:  getEnvAsInt("COMPENSATION_BATCH_SIZE", 50),
			MaxRetries: getEnvAsInt("COMPENSATION_MAX_RETRIES", 10),
		},
		Generation: GenerationConfig{
			ProviderTimeout: getEnvAsDuration("GENERATION_PROVIDER_TIMEOUT", 60*time.Second),
		},
		TokenCache: TokenCacheConfig{
			TTL:           getEnvAsDuration("TOKEN_CACHE_TTL", time.Hour),
			RefreshMargin: getEnvAsDuration("TOKEN_CACHE_REFRESH_MARGIN", 5*time.Minute),
			MaxEntries:    getEnvAsInt("TOKEN_CACHE_MAX_ENTRIES", 10000),
		},
		OpenTelemetry: OpenTelemetryConfig{
			Enabled:         getEnvAsBool("OTEL_ENABLED", true),
			ServiceName:     getEnv("OTEL_SERVICE_NAME", "credits-ledger"),
			ServiceVersion:  getEnv("OTEL_SERVICE_VERSION", "1.0.0"),
			OTLPEndpoint:    getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", "http://localhost:4318"),
			OTLPInsecure:    getEnvAsBool("OTEL_EXPORTER_OTLP_INSECURE", true),
			TraceExporter:   getEnv("OTEL_TRACES_EXPORTER", "otlp"),
			MetricsExporter: getEnv("OTEL_METRICS_EXPORTER", "otlp"),
		},
	}

	// 必須設定の検証
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// validate 設定の検証
func (c *Config) validate() error {
	if c.Database.Host == "" {
		return fmt.Errorf("DB_HOST is required")
	}
	if c.Database.Database == "" {
		return fmt.Errorf("DB_NAME is required")
	}
	if c.JWT.Secret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}
	if c.AdminAPI.Enabled && c.AdminAPI.APIKey == "" {
		return fmt.Errorf("ADMIN_API_KEY is required when the admin API is enabled")
	}
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("KAFKA_BROKERS is required when KAFKA_ENABLED=true")
	}
	if c.Compensation.MaxRetries <= 0 {
		return fmt.Errorf("COMPENSATION_MAX_RETRIES must be positive")
	}
	return nil
}

// IsDevelopment 開発環境かどうか
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

// DSN データベース接続文字列を返す
func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=Local",
		c.User,
		c.Password,
		c.Host,
		c.Port,
		c.Database,
	)
}

// AllowsIP ipが許可リストに含まれるかどうか
// 許可リストが空の場合はすべて許可する。要素はIPアドレスまたはCIDR
func (c *AdminAPIConfig) AllowsIP(ip string) bool {
	if len(c.AllowedIPs) == 0 {
		return true
	}
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return false
	}
	addr = addr.Unmap()
	for _, allowed := range c.AllowedIPs {
		if prefix, err := netip.ParsePrefix(allowed); err == nil {
			if prefix.Contains(addr) {
				return true
			}
			continue
		}
		if a, err := netip.ParseAddr(allowed); err == nil && a.Unmap() == addr {
			return true
		}
	}
	return false
}

// Address Redis接続アドレスを返す
func (c *RedisConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// getEnv 環境変数を取得（デフォルト値付き）
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt 環境変数を整数として取得
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsBool 環境変数を真偽値として取得
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsDuration 環境変数を時間として取得
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsSlice カンマ区切りの環境変数をスライスとして取得
func getEnvAsSlice(key string, defaultValue []string) []string {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	var values []string
	for _, v := range strings.Split(valueStr, ",") {
		if v = strings.TrimSpace(v); v != "" {
			values = append(values, v)
		}
	}
	if len(values) == 0 {
		return defaultValue
	}
	return values
}
