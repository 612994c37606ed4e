package envconfig

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/kidoxdavid/eazyfoods-sub001/pkg/database"
	"github.com/kidoxdavid/eazyfoods-sub001/pkg/logger"
)

// Config is the full process configuration.
type Config struct {
	Environment string
	Log         logger.Config
	HTTP        HTTPConfig
	Database    database.Config
	RedisURL    string
	Auth        AuthConfig
	Payment     PaymentConfig
	Directions  DirectionsConfig
	Orders      OrderConfig
	Dispatch    DispatchConfig
	Tracking    TrackingConfig
	Tax         TaxConfig
	Telemetry   TelemetryConfig
	Workers     WorkerConfig
}

type HTTPConfig struct {
	Host            string
	Port            string
	HandlerTimeout  time.Duration
	OutboundTimeout time.Duration
}

type AuthConfig struct {
	TokenSecret    string
	TokenTTL       time.Duration
	BcryptCost     int
	GoogleClientID string
	TokenInfoURL   string
}

type PaymentConfig struct {
	GatewayKey string
	GatewayURL string
	Currency   string
}

type DirectionsConfig struct {
	APIKey  string
	BaseURL string
}

type OrderConfig struct {
	AcceptTimeout time.Duration
}

type DispatchConfig struct {
	OfferTimeout time.Duration
	MaxRounds    int
}

type TrackingConfig struct {
	MinLocationInterval  time.Duration
	RouteRefreshInterval time.Duration
	RouteRefreshDistance float64 // metres
}

type TaxConfig struct {
	RatesFile      string
	DefaultPercent string
}

type TelemetryConfig struct {
	ServiceName  string
	Exporter     string // stdout, otlp, none
	OTLPEndpoint string
}

type WorkerConfig struct {
	Enabled          bool
	OutboxInterval   time.Duration
	SweeperInterval  time.Duration
	OutboxBatchSize  int
	OutboxMaxAttempt int
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("environment", "development")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "json")
	v.SetDefault("log_output", "stdout")
	v.SetDefault("log_enable_caller", true)

	v.SetDefault("host", "0.0.0.0")
	v.SetDefault("port", "8080")
	v.SetDefault("handler_timeout", 30*time.Second)
	v.SetDefault("outbound_timeout", 10*time.Second)

	def := database.DefaultConfig()
	v.SetDefault("database_url", "")
	v.SetDefault("db_host", def.Host)
	v.SetDefault("db_port", def.Port)
	v.SetDefault("db_user", def.User)
	v.SetDefault("db_password", def.Password)
	v.SetDefault("db_name", def.DBName)
	v.SetDefault("db_ssl_mode", def.SSLMode)
	v.SetDefault("db_max_open_conns", def.MaxOpenConns)
	v.SetDefault("db_max_idle_conns", def.MaxIdleConns)
	v.SetDefault("db_conn_max_lifetime", def.ConnMaxLifetime)
	v.SetDefault("db_conn_max_idle_time", def.ConnMaxIdleTime)

	v.SetDefault("redis_url", "")

	v.SetDefault("token_secret", "")
	v.SetDefault("token_ttl", 24*time.Hour)
	v.SetDefault("bcrypt_cost", 11)
	v.SetDefault("google_client_id", "")
	v.SetDefault("google_tokeninfo_url", "https://oauth2.googleapis.com/tokeninfo")

	v.SetDefault("payment_gateway_key", "")
	v.SetDefault("payment_gateway_url", "")
	v.SetDefault("payment_currency", "CAD")

	v.SetDefault("directions_api_key", "")
	v.SetDefault("directions_base_url", "https://maps.googleapis.com/maps/api/directions/json")

	v.SetDefault("order_accept_timeout", 15*time.Minute)
	v.SetDefault("dispatch_offer_timeout", 60*time.Second)
	v.SetDefault("dispatch_max_rounds", 3)

	v.SetDefault("location_min_interval", 5*time.Second)
	v.SetDefault("route_refresh_interval", 60*time.Second)
	v.SetDefault("route_refresh_distance_m", 100.0)

	v.SetDefault("tax_rates_file", "")
	v.SetDefault("tax_default_percent", "13")

	v.SetDefault("otel_service_name", "eazyfoods-api")
	v.SetDefault("otel_exporter", "none")
	v.SetDefault("otel_exporter_otlp_endpoint", "localhost:4317")

	v.SetDefault("workers_enabled", true)
	v.SetDefault("outbox_interval", time.Second)
	v.SetDefault("sweeper_interval", 15*time.Second)
	v.SetDefault("outbox_batch_size", 50)
	v.SetDefault("outbox_max_attempts", 10)
}

// Load reads defaults, the optional config file (YAML or .env) and the
// environment, in increasing order of precedence.
func Load(configFile string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
		if strings.HasSuffix(configFile, ".env") {
			v.SetConfigType("env")
		}
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("failed to read config file %s: %w", configFile, err)
			}
		}
	}

	cfg := &Config{
		Environment: v.GetString("environment"),
		Log: logger.Config{
			Level:        logger.ParseLevel(v.GetString("log_level")),
			Format:       v.GetString("log_format"),
			Output:       v.GetString("log_output"),
			EnableCaller: v.GetBool("log_enable_caller"),
			Environment:  v.GetString("environment"),
		},
		HTTP: HTTPConfig{
			Host:            v.GetString("host"),
			Port:            v.GetString("port"),
			HandlerTimeout:  v.GetDuration("handler_timeout"),
			OutboundTimeout: v.GetDuration("outbound_timeout"),
		},
		Database: LoadDatabaseConfig(v),
		RedisURL: v.GetString("redis_url"),
		Auth: AuthConfig{
			TokenSecret:    v.GetString("token_secret"),
			TokenTTL:       v.GetDuration("token_ttl"),
			BcryptCost:     v.GetInt("bcrypt_cost"),
			GoogleClientID: v.GetString("google_client_id"),
			TokenInfoURL:   v.GetString("google_tokeninfo_url"),
		},
		Payment: PaymentConfig{
			GatewayKey: v.GetString("payment_gateway_key"),
			GatewayURL: v.GetString("payment_gateway_url"),
			Currency:   v.GetString("payment_currency"),
		},
		Directions: DirectionsConfig{
			APIKey:  v.GetString("directions_api_key"),
			BaseURL: v.GetString("directions_base_url"),
		},
		Orders: OrderConfig{
			AcceptTimeout: v.GetDuration("order_accept_timeout"),
		},
		Dispatch: DispatchConfig{
			OfferTimeout: v.GetDuration("dispatch_offer_timeout"),
			MaxRounds:    v.GetInt("dispatch_max_rounds"),
		},
		Tracking: TrackingConfig{
			MinLocationInterval:  v.GetDuration("location_min_interval"),
			RouteRefreshInterval: v.GetDuration("route_refresh_interval"),
			RouteRefreshDistance: v.GetFloat64("route_refresh_distance_m"),
		},
		Tax: TaxConfig{
			RatesFile:      v.GetString("tax_rates_file"),
			DefaultPercent: v.GetString("tax_default_percent"),
		},
		Telemetry: TelemetryConfig{
			ServiceName:  v.GetString("otel_service_name"),
			Exporter:     v.GetString("otel_exporter"),
			OTLPEndpoint: v.GetString("otel_exporter_otlp_endpoint"),
		},
		Workers: WorkerConfig{
			Enabled:          v.GetBool("workers_enabled"),
			OutboxInterval:   v.GetDuration("outbox_interval"),
			SweeperInterval:  v.GetDuration("sweeper_interval"),
			OutboxBatchSize:  v.GetInt("outbox_batch_size"),
			OutboxMaxAttempt: v.GetInt("outbox_max_attempts"),
		},
	}

	return cfg, cfg.Validate()
}

// Validate rejects configurations the server cannot run with.
func (c *Config) Validate() error {
	if c.Auth.TokenSecret == "" {
		return errors.New("TOKEN_SECRET is required")
	}
	if len(c.Auth.TokenSecret) < 32 && c.Environment == "production" {
		return errors.New("TOKEN_SECRET must be at least 32 bytes in production")
	}
	if c.Dispatch.MaxRounds <= 0 {
		return errors.New("DISPATCH_MAX_ROUNDS must be positive")
	}
	if c.HTTP.HandlerTimeout <= 0 || c.HTTP.OutboundTimeout <= 0 {
		return errors.New("timeouts must be positive")
	}
	return nil
}
