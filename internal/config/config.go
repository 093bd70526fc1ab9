package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// ストアのバックエンド
const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
)

// Config はアプリケーション設定を表す
type Config struct {
	App        AppConfig
	Server     ServerConfig
	Store      StoreConfig
	Database   DatabaseConfig
	Redis      RedisConfig
	AMQP       AMQPConfig
	Auth       AuthConfig
	Tracing    TracingConfig
	Reconciler ReconcilerConfig
}

// AppConfig は実行環境の設定
type AppConfig struct {
	Env      string `envconfig:"ENV" default:"development"`
	LogLevel string `envconfig:"LOG_LEVEL"`
}

// ServerConfig はサーバー設定
type ServerConfig struct {
	Port            string        `envconfig:"PORT" default:"8080"`
	ReadTimeout     time.Duration `envconfig:"SERVER_READ_TIMEOUT" default:"30s"`
	WriteTimeout    time.Duration `envconfig:"SERVER_WRITE_TIMEOUT" default:"30s"`
	ShutdownTimeout time.Duration `envconfig:"SERVER_SHUTDOWN_TIMEOUT" default:"10s"`
}

// StoreConfig はドキュメントストアの設定
type StoreConfig struct {
	Driver     string        `envconfig:"STORE_DRIVER" default:"memory"`
	TxAttempts uint          `envconfig:"STORE_TX_ATTEMPTS" default:"25"`
	TxDelay    time.Duration `envconfig:"STORE_TX_DELAY" default:"2ms"`
	TxMaxDelay time.Duration `envconfig:"STORE_TX_MAX_DELAY" default:"100ms"`
}

// DatabaseConfig はデータベース設定
type DatabaseConfig struct {
	Host           string `envconfig:"DB_HOST" default:"localhost"`
	Port           string `envconfig:"DB_PORT" default:"5432"`
	User           string `envconfig:"DB_USER" default:"postgres"`
	Password       string `envconfig:"DB_PASSWORD" default:"postgres"`
	DBName         string `envconfig:"DB_NAME" default:"class_booking"`
	SSLMode        string `envconfig:"DB_SSLMODE" default:"disable"`
	MigrationsPath string `envconfig:"DB_MIGRATIONS_PATH" default:"migrations"`

	MaxOpenConns    int           `envconfig:"DB_MAX_OPEN_CONNS" default:"25"`
	MaxIdleConns    int           `envconfig:"DB_MAX_IDLE_CONNS" default:"5"`
	ConnMaxLifetime time.Duration `envconfig:"DB_CONN_MAX_LIFETIME" default:"30m"`
	ConnectAttempts uint          `envconfig:"DB_CONNECT_ATTEMPTS" default:"5"`
}

// RedisConfig はRedis設定
type RedisConfig struct {
	Enabled        bool          `envconfig:"REDIS_ENABLED" default:"false"`
	Host           string        `envconfig:"REDIS_HOST" default:"localhost"`
	Port           string        `envconfig:"REDIS_PORT" default:"6379"`
	Password       string        `envconfig:"REDIS_PASSWORD"`
	DB             int           `envconfig:"REDIS_DB" default:"0"`
	LockTTL        time.Duration `envconfig:"REDIS_LOCK_TTL" default:"10s"`
	CourseCacheTTL time.Duration `envconfig:"REDIS_COURSE_CACHE_TTL" default:"30s"`
}

// AMQPConfig はイベント配信先の設定。URL が空の場合は配信しない
type AMQPConfig struct {
	URL      string `envconfig:"AMQP_URL"`
	Exchange string `envconfig:"AMQP_EXCHANGE" default:"booking.events"`
}

// AuthConfig は認証設定。JWTSecret が空の場合はヘッダーで利用者を識別する。
// MetricsUser と MetricsPassword の両方があるときだけ /metrics に Basic 認証をかける
type AuthConfig struct {
	JWTSecret       string `envconfig:"JWT_SECRET"`
	MetricsUser     string `envconfig:"METRICS_USER"`
	MetricsPassword string `envconfig:"METRICS_PASSWORD"`
}

// MetricsAuthEnabled は /metrics の認証が有効かを返す
func (c *AuthConfig) MetricsAuthEnabled() bool {
	return c.MetricsUser != "" && c.MetricsPassword != ""
}

// TracingConfig はトレース設定。Endpoint が空の場合は無効
type TracingConfig struct {
	Endpoint    string `envconfig:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	ServiceName string `envconfig:"OTEL_SERVICE_NAME" default:"class-booking"`
}

// ReconcilerConfig は座席数修復ワーカーの設定
type ReconcilerConfig struct {
	Enabled  bool          `envconfig:"RECONCILER_ENABLED" default:"false"`
	Interval time.Duration `envconfig:"RECONCILER_INTERVAL" default:"1m"`
}

// LoadDotEnv は .env ファイルがあれば環境変数に読み込む（既存の値は上書きしない）
func LoadDotEnv(paths ...string) {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		_ = godotenv.Load(p)
	}
}

// Load は環境変数から設定を読み込む
func Load() (*Config, error) {
	cfg := &Config{}
	sections := []struct {
		name   string
		target any
	}{
		{"app", &cfg.App},
		{"server", &cfg.Server},
		{"store", &cfg.Store},
		{"database", &cfg.Database},
		{"redis", &cfg.Redis},
		{"amqp", &cfg.AMQP},
		{"auth", &cfg.Auth},
		{"tracing", &cfg.Tracing},
		{"reconciler", &cfg.Reconciler},
	}
	for _, s := range sections {
		if err := envconfig.Process("", s.target); err != nil {
			return nil, fmt.Errorf("%s 設定の読み込みに失敗: %w", s.name, err)
		}
	}

	// DATABASE_URL が設定されている場合は優先（Railway等のPaaS形式）
	if raw := os.Getenv("DATABASE_URL"); raw != "" {
		if db, ok := parseDatabaseURL(raw); ok {
			db.MigrationsPath = cfg.Database.MigrationsPath
			db.MaxOpenConns = cfg.Database.MaxOpenConns
			db.MaxIdleConns = cfg.Database.MaxIdleConns
			db.ConnMaxLifetime = cfg.Database.ConnMaxLifetime
			db.ConnectAttempts = cfg.Database.ConnectAttempts
			cfg.Database = db
		}
	}
	if raw := os.Getenv("REDIS_URL"); raw != "" {
		applyRedisURL(&cfg.Redis, raw)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate は設定値の整合性を検証する
func (c *Config) Validate() error {
	switch c.Store.Driver {
	case StoreMemory, StorePostgres:
	default:
		return fmt.Errorf("STORE_DRIVER は %s または %s である必要があります: %q", StoreMemory, StorePostgres, c.Store.Driver)
	}
	if c.Store.TxAttempts == 0 {
		return fmt.Errorf("STORE_TX_ATTEMPTS は1以上である必要があります")
	}
	if c.Reconciler.Enabled && c.Reconciler.Interval <= 0 {
		return fmt.Errorf("RECONCILER_INTERVAL は正の値である必要があります")
	}
	return nil
}

// IsProduction は本番環境かどうかを返す
func (c *AppConfig) IsProduction() bool {
	return c.Env == "production"
}

// DSN はPostgreSQL接続文字列を返す
func (c *DatabaseConfig) DSN() string {
	return "host=" + c.Host +
		" port=" + c.Port +
		" user=" + c.User +
		" password=" + c.Password +
		" dbname=" + c.DBName +
		" sslmode=" + c.SSLMode
}

// URL は golang-migrate 用の接続URLを返す
func (c *DatabaseConfig) URL() string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.User, c.Password),
		Host:     c.Host + ":" + c.Port,
		Path:     "/" + c.DBName,
		RawQuery: "sslmode=" + c.SSLMode,
	}
	return u.String()
}

// Addr はRedis接続アドレスを返す
func (c *RedisConfig) Addr() string {
	return c.Host + ":" + c.Port
}

func parseDatabaseURL(raw string) (DatabaseConfig, bool) {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return DatabaseConfig{}, false
	}
	password, _ := u.User.Password()
	sslmode := u.Query().Get("sslmode")
	if sslmode == "" {
		sslmode = "require"
	}
	port := u.Port()
	if port == "" {
		port = "5432"
	}
	return DatabaseConfig{
		Host:     u.Hostname(),
		Port:     port,
		User:     u.User.Username(),
		Password: password,
		DBName:   strings.TrimPrefix(u.Path, "/"),
		SSLMode:  sslmode,
	}, true
}

func applyRedisURL(c *RedisConfig, raw string) {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return
	}
	c.Enabled = true
	c.Host = u.Hostname()
	if p := u.Port(); p != "" {
		c.Port = p
	}
	if password, ok := u.User.Password(); ok {
		c.Password = password
	}
}
