package config

import (
	"fmt"
	"time"

	pkgconfig "github.com/nimbusworks/auth-service/pkg/config"
)

// Config holds all configuration for the auth service.
type Config struct {
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`

	// HTTP server
	HTTPPort int `env:"AUTH_HTTP_PORT" envDefault:"8001"`

	// PostgreSQL
	PostgresHost string `env:"POSTGRES_HOST" envDefault:"localhost"`
	PostgresPort int    `env:"POSTGRES_PORT" envDefault:"5432"`
	PostgresUser string `env:"POSTGRES_USER" envDefault:"auth"`
	PostgresPass string `env:"POSTGRES_PASSWORD" envDefault:"auth_secret"`
	PostgresDB   string `env:"AUTH_DB_NAME" envDefault:"authdb"`
	PostgresSSL  string `env:"POSTGRES_SSL_MODE" envDefault:"disable"`

	// Redis
	RedisHost     string `env:"REDIS_HOST" envDefault:"localhost"`
	RedisPort     int    `env:"REDIS_PORT" envDefault:"6379"`
	RedisPassword string `env:"REDIS_PASSWORD" envDefault:""`
	RedisDB       int    `env:"REDIS_DB" envDefault:"0"`

	// Kafka
	KafkaBrokers []string `env:"KAFKA_BROKERS" envDefault:"localhost:9092" envSeparator:","`

	// JWT
	JWTSecret         string        `env:"JWT_SECRET" envDefault:"change-this-to-a-secure-secret"`
	JWTIssuer         string        `env:"JWT_ISSUER" envDefault:"auth-service"`
	JWTAudience       string        `env:"JWT_AUDIENCE" envDefault:"platform"`
	AllowedAlgorithms []string      `env:"JWT_ALLOWED_ALGORITHMS" envDefault:"HS256" envSeparator:","`
	AccessTokenTTL    time.Duration `env:"ACCESS_TOKEN_TTL" envDefault:"30m"`
	RefreshTokenTTL   time.Duration `env:"REFRESH_TOKEN_TTL" envDefault:"168h"`

	// Login throttling
	MaxFailedAttempts int             `env:"MAX_FAILED_ATTEMPTS" envDefault:"5"`
	LockoutDuration   time.Duration   `env:"LOCKOUT_DURATION" envDefault:"30m"`
	ProgressiveDelays []time.Duration `env:"PROGRESSIVE_DELAYS" envDefault:"0s,2s,4s,8s,16s" envSeparator:","`

	// Password reset
	ResetTokenTTL    time.Duration `env:"RESET_TOKEN_TTL" envDefault:"1h"`
	OTPResetTokenTTL time.Duration `env:"OTP_RESET_TOKEN_TTL" envDefault:"15m"`

	// Downstream OTP delivery service
	OTPServiceURL string `env:"OTP_SERVICE_URL" envDefault:"http://localhost:8090"`

	// Revocation index policy. When strict, Redis outages fail token checks
	// closed instead of open.
	RevocationStrict bool `env:"REVOCATION_STRICT" envDefault:"false"`

	// When strict, OTP phone verification for an unknown user is an error
	// instead of a no-op.
	OTPPhoneVerifyStrict bool `env:"OTP_PHONE_VERIFY_STRICT" envDefault:"false"`

	// Tracing
	TracingEnabled  bool    `env:"TRACING_ENABLED" envDefault:"false"`
	OTLPEndpoint    string  `env:"OTLP_ENDPOINT" envDefault:"localhost:4318"`
	TraceSampleRate float64 `env:"TRACE_SAMPLE_RATE" envDefault:"1.0"`

	// CORS
	CORSAllowedOrigins []string `env:"CORS_ALLOWED_ORIGINS" envDefault:"*" envSeparator:","`
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := pkgconfig.Load(cfg); err != nil {
		return nil, fmt.Errorf("load auth config: %w", err)
	}
	return cfg, nil
}

// Validate is run by pkgconfig.Load after parsing.
func (c *Config) Validate() error {
	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		return fmt.Errorf("invalid HTTP port: %d", c.HTTPPort)
	}
	if c.MaxFailedAttempts < 1 {
		return fmt.Errorf("MAX_FAILED_ATTEMPTS must be at least 1, got %d", c.MaxFailedAttempts)
	}
	if len(c.ProgressiveDelays) == 0 {
		return fmt.Errorf("PROGRESSIVE_DELAYS must list at least one delay")
	}

	// Outside development, require an explicitly set, strong JWT secret.
	if c.Environment != "development" {
		if c.JWTSecret == "change-this-to-a-secure-secret" {
			return fmt.Errorf("JWT_SECRET must be explicitly set via environment variable in %q mode", c.Environment)
		}
		if len(c.JWTSecret) < 32 {
			return fmt.Errorf("JWT_SECRET must be at least 32 characters long, got %d", len(c.JWTSecret))
		}
	}

	return nil
}
