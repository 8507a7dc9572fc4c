// Package config は環境変数からアプリケーション設定を読み込む。
package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// DefaultJoinFormURL は会員登録フォームの既定URL。
const DefaultJoinFormURL = "https://forms.gle/KwACC2wvx9xWKPD37"

// セッションストアの種類
const (
	SessionStorePostgres = "postgres"
	SessionStoreRedis    = "redis"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL    string
	DBMaxOpenConns int
	DBMaxIdleConns int
	DBConnLifetime time.Duration

	// Token
	SecretKey string

	// OIDC
	OIDCClientID     string
	OIDCClientSecret string
	OIDCDiscoveryURL string
	OIDCRedirectURL  string

	// URLs
	BaseURL       string
	VerifyBaseURL string
	JoinFormURL   string

	// Session
	SessionMaxAge          int // 秒
	SessionStore           string
	RedisURL               string
	SessionCleanupInterval time.Duration

	// Rate Limit（req/min）
	RateLimitVerify int
	RateLimitQRCode int

	// Server
	ServerPort string

	// Cookie
	CookieSecure bool
	CookieDomain string
}

// Load はserveコマンド用の設定を環境変数から読み込む。
// 必須環境変数が未設定の場合はエラーを返す。
func Load() (*Config, error) {
	var missing []string
	require := func(key string) string {
		v := os.Getenv(key)
		if v == "" {
			missing = append(missing, key)
		}
		return v
	}

	cfg := &Config{
		DatabaseURL:      require("DATABASE_URL"),
		SecretKey:        require("SECRET_KEY"),
		OIDCClientID:     require("OIDC_CLIENT_ID"),
		OIDCClientSecret: require("OIDC_CLIENT_SECRET"),
		OIDCDiscoveryURL: require("OIDC_DISCOVERY_URL"),
		BaseURL:          strings.TrimSuffix(require("BASE_URL"), "/"),
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	if err := validateAbsoluteURL("BASE_URL", cfg.BaseURL); err != nil {
		return nil, err
	}

	// Optional fields with defaults
	cfg.OIDCRedirectURL = getEnvString("OIDC_REDIRECT_URL", cfg.BaseURL+"/authorize")
	cfg.VerifyBaseURL = getEnvString("VERIFY_BASE_URL", cfg.BaseURL+"/verify")
	if err := validateAbsoluteURL("VERIFY_BASE_URL", cfg.VerifyBaseURL); err != nil {
		return nil, err
	}
	cfg.JoinFormURL = getEnvString("JOIN_FORM_URL", DefaultJoinFormURL)
	cfg.SessionMaxAge = getEnvInt("SESSION_MAX_AGE", 31*24*60*60)
	cfg.RateLimitVerify = getEnvInt("RATE_LIMIT_VERIFY", 60)
	cfg.RateLimitQRCode = getEnvInt("RATE_LIMIT_QR_CODE", 30)
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.CookieSecure = strings.HasPrefix(cfg.BaseURL, "https://")
	cfg.CookieDomain = getEnvString("COOKIE_DOMAIN", "")

	if err := loadStorage(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadDatabase はDB接続のみを必要とするコマンド（migrate, worker, import-roster）用の設定を読み込む。
func LoadDatabase() (*Config, error) {
	cfg := &Config{DatabaseURL: os.Getenv("DATABASE_URL")}
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("required environment variables are not set: [DATABASE_URL]")
	}
	if err := loadStorage(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// SessionMaxAgeDuration はセッション有効期間をtime.Durationで返す。
func (c *Config) SessionMaxAgeDuration() time.Duration {
	return time.Duration(c.SessionMaxAge) * time.Second
}

// loadStorage はDBプールとセッションストアの設定を読み込む。
func loadStorage(cfg *Config) error {
	cfg.DBMaxOpenConns = getEnvInt("DB_MAX_OPEN_CONNS", 10)
	cfg.DBMaxIdleConns = getEnvInt("DB_MAX_IDLE_CONNS", 5)
	cfg.DBConnLifetime = getEnvDuration("DB_CONN_MAX_LIFETIME", 30*time.Minute)
	cfg.SessionCleanupInterval = getEnvDuration("SESSION_CLEANUP_INTERVAL", time.Hour)

	cfg.SessionStore = strings.ToLower(getEnvString("SESSION_STORE", SessionStorePostgres))
	cfg.RedisURL = os.Getenv("REDIS_URL")

	switch cfg.SessionStore {
	case SessionStorePostgres:
	case SessionStoreRedis:
		if cfg.RedisURL == "" {
			return fmt.Errorf("REDIS_URL is required when SESSION_STORE=%s", SessionStoreRedis)
		}
	default:
		return fmt.Errorf("unsupported SESSION_STORE %q (want %s or %s)", cfg.SessionStore, SessionStorePostgres, SessionStoreRedis)
	}
	return nil
}

func validateAbsoluteURL(key, raw string) error {
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("%s must be an absolute URL, got %q", key, raw)
	}
	return nil
}

func getEnvString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil || i <= 0 {
		return defaultVal
	}
	return i
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return defaultVal
	}
	return d
}
