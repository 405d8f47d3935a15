package config

import (
	"fmt"
	"log"
	"net/url"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

// ErrConfiguration is returned when a required setting is absent or unusable.
var ErrConfiguration = errors.New("configuration error")

type Database struct {
	URL            string `mapstructure:"url"`
	User           string `mapstructure:"user"`
	Password       string `mapstructure:"password"`
	Name           string `mapstructure:"name"`
	Host           string `mapstructure:"host"`
	Port           string `mapstructure:"port"`
	SSLMode        string `mapstructure:"ssl-mode"`
	MaxConns       int32  `mapstructure:"max-conns"`
	QueryTimeoutMs int    `mapstructure:"query-timeout-ms"`
}

// DSN returns the explicit URL when set, otherwise one assembled from parts.
func (d Database) DSN() string {
	if d.URL != "" {
		return d.URL
	}
	if d.Host == "" {
		return ""
	}
	sslMode := d.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(d.User, d.Password),
		Host:     d.Host + ":" + d.Port,
		Path:     d.Name,
		RawQuery: "sslmode=" + sslMode,
	}
	return u.String()
}

// Key is the credential half of the connection, either the password part or
// the one embedded in the URL.
func (d Database) Key() string {
	if d.Password != "" {
		return d.Password
	}
	if d.URL == "" {
		return ""
	}
	u, err := url.Parse(d.URL)
	if err != nil || u.User == nil {
		return ""
	}
	p, _ := u.User.Password()
	return p
}

func (d Database) QueryTimeout() time.Duration {
	return time.Duration(d.QueryTimeoutMs) * time.Millisecond
}

type Stripe struct {
	SecretKey               string `mapstructure:"secret-key"`
	WebhookSecret           string `mapstructure:"webhook-secret"`
	PriceID                 string `mapstructure:"price-id"`
	WebhookToleranceSeconds int    `mapstructure:"webhook-tolerance-seconds"`
}

func (s Stripe) WebhookTolerance() time.Duration {
	return time.Duration(s.WebhookToleranceSeconds) * time.Second
}

type Server struct {
	Port               string   `mapstructure:"port"`
	PublicBaseURL      string   `mapstructure:"public-base-url"`
	ReadTimeoutMs      int      `mapstructure:"read-timeout-ms"`
	WriteTimeoutMs     int      `mapstructure:"write-timeout-ms"`
	AllowedOrigins     []string `mapstructure:"allowed-origins"`
	ProtectedPrefixes  []string `mapstructure:"protected-prefixes"`
	LoginPath          string   `mapstructure:"login-path"`
	PricingPath        string   `mapstructure:"pricing-path"`
	ShutdownTimeoutMs  int      `mapstructure:"shutdown-timeout-ms"`
	MaxWebhookBodySize int64    `mapstructure:"max-webhook-body-size"`
}

type Auth struct {
	JWTSecret  string `mapstructure:"jwt-secret"`
	CookieName string `mapstructure:"cookie-name"`
}

type Access struct {
	CacheTTLSeconds int `mapstructure:"cache-ttl-seconds"`
}

func (a Access) CacheTTL() time.Duration {
	return time.Duration(a.CacheTTLSeconds) * time.Second
}

type KafkaBroker struct {
	URL string `mapstructure:"url"`
}

type KafkaTopic struct {
	Entitlements string `mapstructure:"entitlements"`
}

type KafkaReader struct {
	GroupID string `mapstructure:"group-id"`
}

type Kafka struct {
	Broker KafkaBroker `mapstructure:"broker"`
	Topic  KafkaTopic  `mapstructure:"topic"`
	Reader KafkaReader `mapstructure:"reader"`
}

type Metrics struct {
	URL          string `mapstructure:"url"`
	IntervalMs   int    `mapstructure:"interval-ms"`
	CommonLabels string `mapstructure:"common-labels"`
}

type Logs struct {
	URL   string `mapstructure:"url"`
	Level string `mapstructure:"level"`
}

type Summarizer struct {
	APIKey            string  `mapstructure:"api-key"`
	Model             string  `mapstructure:"model"`
	Parallelism       int     `mapstructure:"parallelism"`
	RequestsPerSecond float64 `mapstructure:"requests-per-second"`
	BatchSize         int     `mapstructure:"batch-size"`
}

type Config struct {
	Database   Database   `mapstructure:"database"`
	Stripe     Stripe     `mapstructure:"stripe"`
	Server     Server     `mapstructure:"server"`
	Auth       Auth       `mapstructure:"auth"`
	Access     Access     `mapstructure:"access"`
	Kafka      Kafka      `mapstructure:"kafka"`
	Metrics    Metrics    `mapstructure:"metrics"`
	Logs       Logs       `mapstructure:"logs"`
	Summarizer Summarizer `mapstructure:"summarizer"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("database.ssl-mode", "disable")
	v.SetDefault("database.max-conns", 10)
	v.SetDefault("database.query-timeout-ms", 3_000)
	v.SetDefault("stripe.webhook-tolerance-seconds", 300)
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.read-timeout-ms", 10_000)
	v.SetDefault("server.write-timeout-ms", 15_000)
	v.SetDefault("server.shutdown-timeout-ms", 10_000)
	v.SetDefault("server.protected-prefixes", []string{"/app"})
	v.SetDefault("server.login-path", "/login")
	v.SetDefault("server.pricing-path", "/pricing")
	v.SetDefault("server.max-webhook-body-size", 1<<20)
	v.SetDefault("auth.cookie-name", "spotto_session")
	v.SetDefault("access.cache-ttl-seconds", 60)
	v.SetDefault("kafka.topic.entitlements", "entitlement-events")
	v.SetDefault("kafka.reader.group-id", "spotto-service")
	v.SetDefault("metrics.interval-ms", 10_000)
	v.SetDefault("logs.level", "info")
	v.SetDefault("summarizer.model", "gemini-2.0-flash")
	v.SetDefault("summarizer.parallelism", 3)
	v.SetDefault("summarizer.requests-per-second", 2)
	v.SetDefault("summarizer.batch-size", 50)
}

// LoadConfig reads config.yaml from path (when present) with environment
// overrides: database.url is read from DATABASE_URL and so on.
func LoadConfig(path string) (*Config, error) {
	// .env is a development convenience; its absence is normal.
	_ = godotenv.Load()

	v := viper.New()
	v.AddConfigPath(path)
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	setDefaults(v)
	bindEnv(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, errors.Wrap(err, "read config")
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, errors.Wrap(err, "unmarshal config")
	}

	return &config, nil
}

// AutomaticEnv only resolves keys viper already knows about, so keys without a
// default have to be bound explicitly to be settable from the environment.
func bindEnv(v *viper.Viper) {
	for _, key := range []string{
		"database.url", "database.user", "database.password", "database.name",
		"database.host", "database.port",
		"stripe.secret-key", "stripe.webhook-secret", "stripe.price-id",
		"server.public-base-url", "server.allowed-origins",
		"auth.jwt-secret",
		"kafka.broker.url",
		"metrics.url", "metrics.common-labels",
		"logs.url",
		"summarizer.api-key",
	} {
		_ = v.BindEnv(key)
	}
}

// Validate checks every setting the HTTP service cannot run without and
// reports all missing ones at once.
func (c *Config) Validate() error {
	var missing []string
	if c.Database.DSN() == "" {
		missing = append(missing, "database.url")
	}
	if c.Database.Key() == "" {
		missing = append(missing, "database.password")
	}
	if c.Stripe.SecretKey == "" {
		missing = append(missing, "stripe.secret-key")
	}
	if c.Stripe.WebhookSecret == "" {
		missing = append(missing, "stripe.webhook-secret")
	}
	if c.Server.PublicBaseURL == "" {
		missing = append(missing, "server.public-base-url")
	}
	if c.Auth.JWTSecret == "" {
		missing = append(missing, "auth.jwt-secret")
	}
	if len(missing) > 0 {
		return errors.Wrapf(ErrConfiguration, "missing required settings: %s", strings.Join(missing, ", "))
	}

	if _, err := url.ParseRequestURI(c.Server.PublicBaseURL); err != nil {
		return errors.Wrapf(ErrConfiguration, "server.public-base-url: %v", err)
	}
	if c.Stripe.WebhookToleranceSeconds < 0 {
		return errors.Wrap(ErrConfiguration, "stripe.webhook-tolerance-seconds must not be negative")
	}
	return nil
}

// PublicURL joins p onto the public base URL.
func (c *Config) PublicURL(p string) string {
	return strings.TrimRight(c.Server.PublicBaseURL, "/") + "/" + strings.TrimLeft(p, "/")
}

func (c *Config) Addr() string {
	return fmt.Sprintf(":%s", c.Server.Port)
}

func MustLoadConfig(path string) *Config {
	config, err := LoadConfig(path)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if err := config.Validate(); err != nil {
		log.Fatalf("Invalid config: %v", err)
	}
	return config
}
