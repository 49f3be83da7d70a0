package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/spf13/viper"
)

// Config 保存应用程序配置。
type Config struct {
	App      AppConfig      `json:"app"`
	MySQL    MySQLConfig    `json:"mysql"`
	Redis    RedisConfig    `json:"redis"`
	Email    EmailConfig    `json:"email"`
	Security SecurityConfig `json:"security"`
}

// AppConfig 应用程序基础配置。
type AppConfig struct {
	Env                 string        `json:"env"`                   // 运行环境: local / prod
	LogLevel            string        `json:"log_level"`             // 日志级别: debug / info / warn / error
	HTTPAddr            string        `json:"http_addr"`             // API 服务监听地址
	TokenTTL            time.Duration `json:"token_ttl"`             // 登录令牌有效期（如 "168h"）
	ResetTokenTTL       time.Duration `json:"reset_token_ttl"`       // 密码重置令牌有效期
	ResetTokenRetention time.Duration `json:"reset_token_retention"` // 过期令牌保留多久后由 janitor 清除
	ActivationTTL       time.Duration `json:"activation_ttl"`        // 新用户激活令牌有效期
	ResetCooldown       time.Duration `json:"reset_cooldown"`        // 同一地址两次重置请求的最小间隔
	UploadDir           string        `json:"upload_dir"`            // 头像上传目录
	MailWorkers         int           `json:"mail_workers"`          // 邮件 Worker 数量
	MailQueueCapacity   int           `json:"mail_queue_capacity"`   // 邮件队列容量
	JanitorSpec         string        `json:"janitor_spec"`          // 过期令牌清理周期（cron 表达式）
	LoginRateLimit      float64       `json:"login_rate_limit"`      // 登录限流速率（token/s）
	LoginRateBurst      float64       `json:"login_rate_burst"`      // 登录限流桶容量
	SuperuserUtorid     string        `json:"superuser_utorid"`      // 启动时确保存在的超级用户
	SuperuserPassword   string        `json:"superuser_password"`    // 超级用户初始密码
	TrustedProxies      []string      `json:"trusted_proxies"`       // 允许设置 X-Forwarded-For 的代理，为空时只信任直连地址
}

// MySQLConfig MySQL 数据库配置。
type MySQLConfig struct {
	DSN string `json:"dsn"` // 数据库连接字符串
}

// RedisConfig Redis 缓存配置。
type RedisConfig struct {
	Addr     string `json:"addr"`     // Redis 地址 (host:port)
	Password string `json:"password"` // Redis 密码
}

// EmailConfig 邮件通知配置。
type EmailConfig struct {
	SMTPHost  string `json:"smtp_host"`
	SMTPPort  int    `json:"smtp_port"`
	SMTPUser  string `json:"smtp_user"`
	SMTPPass  string `json:"smtp_pass"`
	FromEmail string `json:"from_email"`
}

// Enabled reports whether enough is set to send mail.
func (e EmailConfig) Enabled() bool {
	return e.SMTPHost != "" && e.FromEmail != ""
}

// SecurityConfig 安全相关配置。
type SecurityConfig struct {
	JWTSecret string `json:"jwt_secret"` // JWT 签名密钥
}

// Load 从 JSON 文件加载配置。
//
// 它会尝试读取 configs/config.json 文件，如果不存在则使用默认值。
// 环境变量总是覆盖文件中的值。
func Load(configPath ...string) (*Config, error) {
	path := "configs/config.json"
	if len(configPath) > 0 && configPath[0] != "" {
		path = configPath[0]
	}

	// 如果配置文件不存在，使用默认配置
	if _, err := os.Stat(path); os.IsNotExist(err) {
		cfg := getDefaultConfig()
		applyEnvOverrides(cfg)
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := &Config{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	applyDefaults(cfg)
	applyEnvOverrides(cfg)

	return cfg, nil
}

// getDefaultConfig 返回默认配置。
func getDefaultConfig() *Config {
	return &Config{
		App: AppConfig{
			Env:                 "local",
			LogLevel:            "info",
			HTTPAddr:            ":3000",
			TokenTTL:            7 * 24 * time.Hour,
			ResetTokenTTL:       time.Hour,
			ResetTokenRetention: 24 * time.Hour,
			ActivationTTL:       7 * 24 * time.Hour,
			ResetCooldown:       60 * time.Second,
			UploadDir:           "uploads",
			MailWorkers:         2,
			MailQueueCapacity:   100,
			JanitorSpec:         "@every 10m",
			LoginRateLimit:      1,
			LoginRateBurst:      10,
		},
		MySQL: MySQLConfig{
			DSN: "root:password@tcp(localhost:3306)/pointshub?parseTime=true&loc=UTC",
		},
		Redis: RedisConfig{
			Addr: "localhost:6379",
		},
		Email: EmailConfig{
			SMTPPort: 587,
		},
		Security: SecurityConfig{
			JWTSecret: "dev_secret_change_me",
		},
	}
}

// applyDefaults 对未设置的字段应用默认值。
func applyDefaults(cfg *Config) {
	defaults := getDefaultConfig()

	if cfg.App.Env == "" {
		cfg.App.Env = defaults.App.Env
	}
	if cfg.App.LogLevel == "" {
		cfg.App.LogLevel = defaults.App.LogLevel
	}
	if cfg.App.HTTPAddr == "" {
		cfg.App.HTTPAddr = defaults.App.HTTPAddr
	}
	if cfg.App.TokenTTL == 0 {
		cfg.App.TokenTTL = defaults.App.TokenTTL
	}
	if cfg.App.ResetTokenTTL == 0 {
		cfg.App.ResetTokenTTL = defaults.App.ResetTokenTTL
	}
	if cfg.App.ResetTokenRetention == 0 {
		cfg.App.ResetTokenRetention = defaults.App.ResetTokenRetention
	}
	if cfg.App.ActivationTTL == 0 {
		cfg.App.ActivationTTL = defaults.App.ActivationTTL
	}
	if cfg.App.ResetCooldown == 0 {
		cfg.App.ResetCooldown = defaults.App.ResetCooldown
	}
	if cfg.App.UploadDir == "" {
		cfg.App.UploadDir = defaults.App.UploadDir
	}
	if cfg.App.MailWorkers == 0 {
		cfg.App.MailWorkers = defaults.App.MailWorkers
	}
	if cfg.App.MailQueueCapacity == 0 {
		cfg.App.MailQueueCapacity = defaults.App.MailQueueCapacity
	}
	if cfg.App.JanitorSpec == "" {
		cfg.App.JanitorSpec = defaults.App.JanitorSpec
	}
	if cfg.App.LoginRateLimit == 0 {
		cfg.App.LoginRateLimit = defaults.App.LoginRateLimit
	}
	if cfg.App.LoginRateBurst == 0 {
		cfg.App.LoginRateBurst = defaults.App.LoginRateBurst
	}
	if cfg.MySQL.DSN == "" {
		cfg.MySQL.DSN = defaults.MySQL.DSN
	}
	if cfg.Redis.Addr == "" {
		cfg.Redis.Addr = defaults.Redis.Addr
	}
	if cfg.Security.JWTSecret == "" {
		cfg.Security.JWTSecret = defaults.Security.JWTSecret
	}
	if cfg.Email.SMTPPort == 0 {
		cfg.Email.SMTPPort = defaults.Email.SMTPPort
	}
}

func applyEnvOverrides(cfg *Config) {
	viper.AutomaticEnv()

	_ = viper.BindEnv("db_host", "DB_HOST")
	_ = viper.BindEnv("db_password", "DB_PASSWORD")
	_ = viper.BindEnv("redis_addr", "REDIS_ADDR")
	_ = viper.BindEnv("redis_password", "REDIS_PASSWORD")
	_ = viper.BindEnv("smtp_pass", "SMTP_PASS")
	_ = viper.BindEnv("jwt_secret", "JWT_SECRET")
	_ = viper.BindEnv("superuser_password", "SUPERUSER_PASSWORD")

	if v := os.Getenv("APP_ENV"); v != "" {
		cfg.App.Env = v
	}
	if v := os.Getenv("APP_LOG_LEVEL"); v != "" {
		cfg.App.LogLevel = v
	}
	if v := os.Getenv("APP_HTTP_ADDR"); v != "" {
		cfg.App.HTTPAddr = v
	} else if v := os.Getenv("PORT"); v != "" {
		cfg.App.HTTPAddr = ":" + v
	}
	envDuration("APP_TOKEN_TTL", &cfg.App.TokenTTL)
	envDuration("APP_RESET_TOKEN_TTL", &cfg.App.ResetTokenTTL)
	envDuration("APP_RESET_TOKEN_RETENTION", &cfg.App.ResetTokenRetention)
	envDuration("APP_ACTIVATION_TTL", &cfg.App.ActivationTTL)
	envDuration("APP_RESET_COOLDOWN", &cfg.App.ResetCooldown)
	if v := os.Getenv("APP_UPLOAD_DIR"); v != "" {
		cfg.App.UploadDir = v
	}
	if v := os.Getenv("APP_MAIL_WORKERS"); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			cfg.App.MailWorkers = i
		}
	}
	if v := os.Getenv("APP_MAIL_QUEUE_CAPACITY"); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			cfg.App.MailQueueCapacity = i
		}
	}
	if v := os.Getenv("APP_JANITOR_SPEC"); v != "" {
		cfg.App.JanitorSpec = v
	}
	if v := os.Getenv("APP_LOGIN_RATE_LIMIT"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.App.LoginRateLimit = f
		}
	}
	if v := os.Getenv("APP_LOGIN_RATE_BURST"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.App.LoginRateBurst = f
		}
	}
	if v := os.Getenv("APP_TRUSTED_PROXIES"); v != "" {
		cfg.App.TrustedProxies = nil
		for _, p := range strings.Split(v, ",") {
			if p = strings.TrimSpace(p); p != "" {
				cfg.App.TrustedProxies = append(cfg.App.TrustedProxies, p)
			}
		}
	}
	if v := os.Getenv("SUPERUSER_UTORID"); v != "" {
		cfg.App.SuperuserUtorid = v
	}
	if v := viper.GetString("superuser_password"); v != "" {
		cfg.App.SuperuserPassword = v
	}

	if v := viper.GetString("jwt_secret"); v != "" {
		cfg.Security.JWTSecret = v
	}

	if v := os.Getenv("DB_DSN"); v != "" {
		cfg.MySQL.DSN = v
	} else if hasAnyEnv("DB_HOST", "DB_PORT", "DB_USER", "DB_PASSWORD", "DB_NAME") || viper.GetString("db_host") != "" || viper.GetString("db_password") != "" {
		parsed := parseMySQLDSN(cfg.MySQL.DSN)
		if v := viper.GetString("db_host"); v != "" {
			port := getenvDefault("DB_PORT", parsed.Addr, "3306")
			parsed.Addr = v + ":" + port
		} else if v := os.Getenv("DB_PORT"); v != "" {
			host := parsed.Addr
			if strings.Contains(host, ":") {
				host = strings.Split(host, ":")[0]
			}
			parsed.Addr = host + ":" + v
		}
		if v := os.Getenv("DB_USER"); v != "" {
			parsed.User = v
		}
		if v := viper.GetString("db_password"); v != "" {
			parsed.Passwd = v
		}
		if v := os.Getenv("DB_NAME"); v != "" {
			parsed.DBName = v
		}
		cfg.MySQL.DSN = parsed.FormatDSN()
	}

	if v := viper.GetString("redis_addr"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := viper.GetString("redis_password"); v != "" {
		cfg.Redis.Password = v
	}

	if v := os.Getenv("SMTP_HOST"); v != "" {
		cfg.Email.SMTPHost = v
	}
	if v := os.Getenv("SMTP_PORT"); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			cfg.Email.SMTPPort = i
		}
	}
	if v := os.Getenv("SMTP_USER"); v != "" {
		cfg.Email.SMTPUser = v
	}
	if v := viper.GetString("smtp_pass"); v != "" {
		cfg.Email.SMTPPass = v
	}
	if v := os.Getenv("SMTP_FROM"); v != "" {
		cfg.Email.FromEmail = v
	}
}

func envDuration(key string, dst *time.Duration) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}

func hasAnyEnv(keys ...string) bool {
	for _, key := range keys {
		if os.Getenv(key) != "" {
			return true
		}
	}
	return false
}

func getenvDefault(envKey, fallbackAddr, defaultValue string) string {
	if v := os.Getenv(envKey); v != "" {
		return v
	}
	if fallbackAddr == "" {
		return defaultValue
	}
	if strings.Contains(fallbackAddr, ":") {
		parts := strings.Split(fallbackAddr, ":")
		if len(parts) == 2 && parts[1] != "" {
			return parts[1]
		}
	}
	return defaultValue
}

func parseMySQLDSN(dsn string) *mysql.Config {
	fallback := &mysql.Config{
		User:                 "root",
		Net:                  "tcp",
		Addr:                 "localhost:3306",
		DBName:               "pointshub",
		AllowNativePasswords: true,
		ParseTime:            true,
		Loc:                  time.UTC,
	}
	if dsn == "" {
		return fallback
	}
	parsed, err := mysql.ParseDSN(dsn)
	if err != nil {
		return fallback
	}
	return parsed
}

// UnmarshalJSON 自定义 JSON 解析，支持时间Duration字符串。
func (a *AppConfig) UnmarshalJSON(data []byte) error {
	type Alias AppConfig
	aux := &struct {
		TokenTTL            string `json:"token_ttl"`
		ResetTokenTTL       string `json:"reset_token_ttl"`
		ResetTokenRetention string `json:"reset_token_retention"`
		ActivationTTL       string `json:"activation_ttl"`
		ResetCooldown       string `json:"reset_cooldown"`
		*Alias
	}{
		Alias: (*Alias)(a),
	}

	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	for _, f := range []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"token_ttl", aux.TokenTTL, &a.TokenTTL},
		{"reset_token_ttl", aux.ResetTokenTTL, &a.ResetTokenTTL},
		{"reset_token_retention", aux.ResetTokenRetention, &a.ResetTokenRetention},
		{"activation_ttl", aux.ActivationTTL, &a.ActivationTTL},
		{"reset_cooldown", aux.ResetCooldown, &a.ResetCooldown},
	} {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("invalid %s format: %w", f.name, err)
		}
		*f.dst = d
	}

	return nil
}

// MarshalJSON 自定义 JSON 序列化，将 Duration 转为字符串。
func (a AppConfig) MarshalJSON() ([]byte, error) {
	type Alias AppConfig
	return json.Marshal(&struct {
		TokenTTL            string `json:"token_ttl"`
		ResetTokenTTL       string `json:"reset_token_ttl"`
		ResetTokenRetention string `json:"reset_token_retention"`
		ActivationTTL       string `json:"activation_ttl"`
		ResetCooldown       string `json:"reset_cooldown"`
		*Alias
	}{
		TokenTTL:            a.TokenTTL.String(),
		ResetTokenTTL:       a.ResetTokenTTL.String(),
		ResetTokenRetention: a.ResetTokenRetention.String(),
		ActivationTTL:       a.ActivationTTL.String(),
		ResetCooldown:       a.ResetCooldown.String(),
		Alias:               (*Alias)(&a),
	})
}
