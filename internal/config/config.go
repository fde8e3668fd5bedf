package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the full runtime configuration of the contact service.
type Config struct {
	Environment   string              `yaml:"environment"`
	Server        ServerConfig        `yaml:"server"`
	Logging       LoggingConfig       `yaml:"logging"`
	RateLimit     RateLimitConfig     `yaml:"rate_limit"`
	Backup        BackupConfig        `yaml:"backup"`
	Captcha       CaptchaConfig       `yaml:"captcha"`
	Mail          MailConfig          `yaml:"mail"`
	Redis         RedisConfig         `yaml:"redis"`
	Kafka         KafkaConfig         `yaml:"kafka"`
	Clickhouse    ClickhouseConfig    `yaml:"clickhouse"`
	Elasticsearch ElasticsearchConfig `yaml:"elasticsearch"`
	Admin         AdminConfig         `yaml:"admin"`
}

type ServerConfig struct {
	Host           string        `yaml:"host"`
	Port           int           `yaml:"port"`
	ReadTimeout    time.Duration `yaml:"read_timeout"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
	IdleTimeout    time.Duration `yaml:"idle_timeout"`
	TrustProxy     bool          `yaml:"trust_proxy"`
	AllowedOrigins []string      `yaml:"allowed_origins"`
	// GlobalRPS caps form submissions across all clients; 0 disables the cap.
	GlobalRPS   float64 `yaml:"global_rps"`
	GlobalBurst int     `yaml:"global_burst"`

	EnableTLS   bool   `yaml:"enable_tls"`
	TLSPort     int    `yaml:"tls_port"`
	AutoCert    bool   `yaml:"auto_cert"`
	Domain      string `yaml:"domain"`
	CertFile    string `yaml:"cert_file"`
	KeyFile     string `yaml:"key_file"`
	AutoCertDir string `yaml:"auto_cert_dir"`
	Email       string `yaml:"email"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// RateLimitConfig selects the limiter backend and its windows.
type RateLimitConfig struct {
	Backend string          `yaml:"backend"` // file | redis | memory
	File    string          `yaml:"file"`
	Rules   []RateLimitRule `yaml:"rules"`
}

type RateLimitRule struct {
	Window time.Duration `yaml:"window"`
	Limit  int           `yaml:"limit"`
}

type BackupConfig struct {
	Dir           string        `yaml:"dir"`
	IndexPath     string        `yaml:"index_path"`
	Retention     time.Duration `yaml:"retention"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
	PurgeOnSave   bool          `yaml:"purge_on_save"`
}

type CaptchaConfig struct {
	Secret         string        `yaml:"secret"`
	VerifyURL      string        `yaml:"verify_url"`
	ScoreThreshold float64       `yaml:"score_threshold"`
	Timeout        time.Duration `yaml:"timeout"`
}

type MailConfig struct {
	SMTPHost     string `yaml:"smtp_host"`
	SMTPPort     int    `yaml:"smtp_port"`
	SMTPUser     string `yaml:"smtp_user"`
	SMTPPassword string `yaml:"smtp_password"`
	From         string `yaml:"from"`
	To           string `yaml:"to"`
	SiteName     string `yaml:"site_name"`
	OwnerName    string `yaml:"owner_name"`
}

type RedisConfig struct {
	URL      string `yaml:"url"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
}

type KafkaConfig struct {
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

type ClickhouseConfig struct {
	URL      string `yaml:"url"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
	Table    string `yaml:"table"`
}

type ElasticsearchConfig struct {
	URL      string `yaml:"url"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Index    string `yaml:"index"`
}

// AdminConfig protects the admin API. An empty PasswordHashB64 disables it.
type AdminConfig struct {
	Username        string `yaml:"username"`
	PasswordHashB64 string `yaml:"password_hash_b64"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Environment: "development",
		Server: ServerConfig{
			Host:           "0.0.0.0",
			Port:           8080,
			ReadTimeout:    15 * time.Second,
			WriteTimeout:   15 * time.Second,
			IdleTimeout:    60 * time.Second,
			AllowedOrigins: []string{"https://benjamin-reuland.be", "https://www.benjamin-reuland.be"},
			GlobalBurst:    10,
			TLSPort:        8443,
			AutoCertDir:    "./storage/certs",
		},
		Logging: LoggingConfig{Level: "info", Format: "console"},
		RateLimit: RateLimitConfig{
			Backend: "file",
			File:    "./storage/.rate_limits",
			Rules: []RateLimitRule{
				{Window: time.Minute, Limit: 2},
				{Window: 10 * time.Minute, Limit: 5},
			},
		},
		Backup: BackupConfig{
			Dir:           "./storage/forms",
			Retention:     90 * 24 * time.Hour,
			SweepInterval: time.Hour,
			PurgeOnSave:   true,
		},
		Captcha: CaptchaConfig{
			VerifyURL:      "https://www.google.com/recaptcha/api/siteverify",
			ScoreThreshold: 0.5,
			Timeout:        5 * time.Second,
		},
		Mail: MailConfig{
			SMTPPort:  587,
			From:      "no-reply@benjamin-reuland.be",
			To:        "contact@benjamin-reuland.be",
			SiteName:  "benjamin-reuland.be",
			OwnerName: "Benjamin Reuland",
		},
		Redis:         RedisConfig{PoolSize: 10},
		Kafka:         KafkaConfig{Topic: "contact.submissions"},
		Clickhouse:    ClickhouseConfig{Database: "default", Table: "form_events"},
		Elasticsearch: ElasticsearchConfig{Index: "contact-submissions"},
		Admin:         AdminConfig{Username: "admin"},
	}
}

// LoadConfig builds the configuration from defaults, an optional YAML file
// (CONFIG_FILE), a .env file and finally the process environment.
func LoadConfig() (*Config, error) {
	cfg := Default()

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := loadYAML(path, cfg); err != nil {
			return nil, err
		}
	}

	envFile := os.Getenv("ENV_FILE")
	if envFile == "" {
		envFile = ".env"
	}
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load %s: %w", envFile, err)
	}

	if err := applyEnv(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

func loadYAML(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

func applyEnv(cfg *Config) error {
	var errs []error

	setString(&cfg.Environment, "ENVIRONMENT")

	setString(&cfg.Server.Host, "SERVER_HOST")
	errs = append(errs,
		setInt(&cfg.Server.Port, "SERVER_PORT"),
		setDuration(&cfg.Server.ReadTimeout, "SERVER_READ_TIMEOUT"),
		setDuration(&cfg.Server.WriteTimeout, "SERVER_WRITE_TIMEOUT"),
		setDuration(&cfg.Server.IdleTimeout, "SERVER_IDLE_TIMEOUT"),
		setBool(&cfg.Server.TrustProxy, "TRUST_PROXY"),
		setFloat(&cfg.Server.GlobalRPS, "GLOBAL_RPS"),
		setInt(&cfg.Server.GlobalBurst, "GLOBAL_BURST"),
		setBool(&cfg.Server.EnableTLS, "ENABLE_TLS"),
		setInt(&cfg.Server.TLSPort, "TLS_PORT"),
		setBool(&cfg.Server.AutoCert, "AUTO_CERT"),
	)
	setList(&cfg.Server.AllowedOrigins, "ALLOWED_ORIGINS")
	setString(&cfg.Server.Domain, "DOMAIN")
	setString(&cfg.Server.CertFile, "TLS_CERT_FILE")
	setString(&cfg.Server.KeyFile, "TLS_KEY_FILE")
	setString(&cfg.Server.AutoCertDir, "AUTO_CERT_DIR")
	setString(&cfg.Server.Email, "AUTO_CERT_EMAIL")

	setString(&cfg.Logging.Level, "LOG_LEVEL")
	setString(&cfg.Logging.Format, "LOG_FORMAT")

	setString(&cfg.RateLimit.Backend, "RATE_LIMIT_BACKEND")
	setString(&cfg.RateLimit.File, "RATE_LIMIT_FILE")

	setString(&cfg.Backup.Dir, "BACKUP_DIR")
	setString(&cfg.Backup.IndexPath, "BACKUP_INDEX_PATH")
	errs = append(errs,
		setDuration(&cfg.Backup.Retention, "BACKUP_RETENTION"),
		setDuration(&cfg.Backup.SweepInterval, "BACKUP_SWEEP_INTERVAL"),
		setBool(&cfg.Backup.PurgeOnSave, "BACKUP_PURGE_ON_SAVE"),
	)

	setString(&cfg.Captcha.Secret, "RECAPTCHA_SECRET_KEY")
	setString(&cfg.Captcha.VerifyURL, "RECAPTCHA_VERIFY_URL")
	errs = append(errs,
		setFloat(&cfg.Captcha.ScoreThreshold, "RECAPTCHA_SCORE_THRESHOLD"),
		setDuration(&cfg.Captcha.Timeout, "RECAPTCHA_TIMEOUT"),
	)

	setString(&cfg.Mail.SMTPHost, "SMTP_HOST")
	errs = append(errs, setInt(&cfg.Mail.SMTPPort, "SMTP_PORT"))
	setString(&cfg.Mail.SMTPUser, "SMTP_USER")
	setString(&cfg.Mail.SMTPPassword, "SMTP_PASSWORD")
	setString(&cfg.Mail.From, "MAIL_FROM")
	setString(&cfg.Mail.To, "MAIL_TO")
	setString(&cfg.Mail.SiteName, "SITE_NAME")
	setString(&cfg.Mail.OwnerName, "OWNER_NAME")

	setString(&cfg.Redis.URL, "REDIS_URL")
	setString(&cfg.Redis.Password, "REDIS_PASSWORD")
	errs = append(errs,
		setInt(&cfg.Redis.DB, "REDIS_DB"),
		setInt(&cfg.Redis.PoolSize, "REDIS_POOL_SIZE"),
	)

	setList(&cfg.Kafka.Brokers, "KAFKA_BROKERS")
	setString(&cfg.Kafka.Topic, "KAFKA_TOPIC")

	setString(&cfg.Clickhouse.URL, "CLICKHOUSE_URL")
	setString(&cfg.Clickhouse.Username, "CLICKHOUSE_USERNAME")
	setString(&cfg.Clickhouse.Password, "CLICKHOUSE_PASSWORD")
	setString(&cfg.Clickhouse.Database, "CLICKHOUSE_DATABASE")
	setString(&cfg.Clickhouse.Table, "CLICKHOUSE_TABLE")

	setString(&cfg.Elasticsearch.URL, "ELASTICSEARCH_URL")
	setString(&cfg.Elasticsearch.Username, "ELASTICSEARCH_USERNAME")
	setString(&cfg.Elasticsearch.Password, "ELASTICSEARCH_PASSWORD")
	setString(&cfg.Elasticsearch.Index, "ELASTICSEARCH_INDEX")

	setString(&cfg.Admin.Username, "ADMIN_USERNAME")
	setString(&cfg.Admin.PasswordHashB64, "ADMIN_PASSWORD_HASH_B64")

	return errors.Join(errs...)
}

// Validate reports settings the form endpoint cannot work without.
func (c *Config) Validate() error {
	var errs []error
	if c.Captcha.Secret == "" {
		errs = append(errs, errors.New("RECAPTCHA_SECRET_KEY is not configured"))
	}
	if c.Backup.Dir == "" {
		errs = append(errs, errors.New("backup directory is not configured"))
	}
	switch c.RateLimit.Backend {
	case "file", "memory":
	case "redis":
		if c.Redis.URL == "" {
			errs = append(errs, errors.New("rate limit backend redis requires REDIS_URL"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown rate limit backend %q", c.RateLimit.Backend))
	}
	for _, r := range c.RateLimit.Rules {
		if r.Window <= 0 || r.Limit <= 0 {
			errs = append(errs, fmt.Errorf("invalid rate limit rule %v/%d", r.Window, r.Limit))
		}
	}
	return errors.Join(errs...)
}

func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

func (c *Config) GetServerAddress() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// BackupIndexPath returns the SQLite index location, defaulting to a file
// inside the backup directory.
func (c *Config) BackupIndexPath() string {
	if c.Backup.IndexPath != "" {
		return c.Backup.IndexPath
	}
	return strings.TrimRight(c.Backup.Dir, "/") + "/index.db"
}

func setString(dst *string, key string) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		*dst = v
	}
}

func setList(dst *[]string, key string) {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return
	}
	var out []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	*dst = out
}

func setInt(dst *int, key string) error {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("%s: invalid integer %q", key, v)
	}
	*dst = n
	return nil
}

func setFloat(dst *float64, key string) error {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fmt.Errorf("%s: invalid number %q", key, v)
	}
	*dst = f
	return nil
}

func setBool(dst *bool, key string) error {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fmt.Errorf("%s: invalid boolean %q", key, v)
	}
	*dst = b
	return nil
}

func setDuration(dst *time.Duration, key string) error {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("%s: invalid duration %q", key, v)
	}
	*dst = d
	return nil
}
