package config

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/ganapathi9191/vegie9/shared/mailer"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"

	StoreDriverMongo  = "mongo"
	StoreDriverMemory = "memory"

	minTokenSecretLength = 32
)

// AccountServiceConfig is the full configuration of the account service.
type AccountServiceConfig struct {
	AppEnv   string `env:"APP_ENV"   envDefault:"development"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	HTTPAddr        string        `env:"HTTP_ADDR"        envDefault:":8080"`
	GRPCHealthAddr  string        `env:"GRPC_HEALTH_ADDR"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`

	StoreDriver string `env:"STORE_DRIVER" envDefault:"mongo"`
	Mongo       MongoConfig `envPrefix:"MONGO_"`

	Hasher     string `env:"HASHER"      envDefault:"argon2"`
	BcryptCost int    `env:"BCRYPT_COST" envDefault:"10"`

	OTP       OTPConfig       `envPrefix:"OTP_"`
	Redis     RedisConfig     `envPrefix:"REDIS_"`
	Token     TokenConfig     `envPrefix:"TOKEN_"`
	RateLimit RateLimitConfig `envPrefix:"RATE_LIMIT_"`
	Kafka     KafkaConfig     `envPrefix:"KAFKA_"`
	SMTP      mailer.Config

	RequireAuth        bool     `env:"REQUIRE_AUTH"         envDefault:"false"`
	TrustProxyHeaders  bool     `env:"TRUST_PROXY_HEADERS"  envDefault:"false"`
	CORSAllowedOrigins []string `env:"CORS_ALLOWED_ORIGINS" envDefault:"*" envSeparator:","`
}

type MongoConfig struct {
	URI      string `env:"URI"      envDefault:"mongodb://localhost:27017"`
	Database string `env:"DATABASE" envDefault:"vegie9"`
}

type OTPConfig struct {
	TTL            time.Duration `env:"TTL"              envDefault:"10m"`
	ReturnToClient bool          `env:"RETURN_TO_CLIENT" envDefault:"true"`
	MaxAttempts    int           `env:"MAX_ATTEMPTS"     envDefault:"5"`
	AttemptWindow  time.Duration `env:"ATTEMPT_WINDOW"   envDefault:"15m"`
}

type RedisConfig struct {
	Addr     string `env:"ADDR"`
	Password string `env:"PASSWORD"`
}

type TokenConfig struct {
	Secret          string        `env:"SECRET"`
	Issuer          string        `env:"ISSUER"            envDefault:"vegie9-account-service"`
	AccessExpiresIn time.Duration `env:"ACCESS_EXPIRES_IN" envDefault:"15m"`
}

type RateLimitConfig struct {
	RPS   float64 `env:"RPS"   envDefault:"10"`
	Burst int     `env:"BURST" envDefault:"20"`
}

type KafkaConfig struct {
	Brokers []string `env:"BROKERS" envSeparator:","`
	Topic   string   `env:"TOPIC"   envDefault:"account-events"`
}

// Load parses the environment and validates the result. Outside production a
// missing token secret is replaced by a random one, so tokens do not survive restarts.
func Load() (*AccountServiceConfig, error) {
	cfg, err := env.ParseAs[AccountServiceConfig]()
	if err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}

	cfg.AppEnv = strings.ToLower(strings.TrimSpace(cfg.AppEnv))
	cfg.StoreDriver = strings.ToLower(strings.TrimSpace(cfg.StoreDriver))

	if cfg.Token.Secret == "" && !cfg.IsProduction() {
		secret, err := randomSecret()
		if err != nil {
			return nil, err
		}
		cfg.Token.Secret = secret
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *AccountServiceConfig) IsProduction() bool {
	return c.AppEnv == EnvProduction
}

// Validate checks the configuration for values the service cannot run with.
func (c *AccountServiceConfig) Validate() error {
	if c.HTTPAddr == "" {
		return fmt.Errorf("HTTP_ADDR must not be empty")
	}
	if c.ShutdownTimeout <= 0 {
		return fmt.Errorf("SHUTDOWN_TIMEOUT must be positive")
	}

	switch c.StoreDriver {
	case StoreDriverMongo:
		if c.Mongo.URI == "" || c.Mongo.Database == "" {
			return fmt.Errorf("MONGO_URI and MONGO_DATABASE are required for the mongo store")
		}
	case StoreDriverMemory:
	default:
		return fmt.Errorf("unsupported STORE_DRIVER %q", c.StoreDriver)
	}

	switch c.Hasher {
	case "", "argon2", "bcrypt":
	default:
		return fmt.Errorf("unsupported HASHER %q", c.Hasher)
	}

	if c.OTP.TTL < 0 {
		return fmt.Errorf("OTP_TTL must not be negative")
	}
	if c.OTP.MaxAttempts < 1 {
		return fmt.Errorf("OTP_MAX_ATTEMPTS must be at least 1")
	}
	if c.OTP.AttemptWindow <= 0 {
		return fmt.Errorf("OTP_ATTEMPT_WINDOW must be positive")
	}
	if c.IsProduction() && c.OTP.ReturnToClient {
		return fmt.Errorf("OTP_RETURN_TO_CLIENT must be false in production")
	}

	if len(c.Token.Secret) < minTokenSecretLength {
		return fmt.Errorf("TOKEN_SECRET must be at least %d characters", minTokenSecretLength)
	}
	if c.Token.AccessExpiresIn <= 0 {
		return fmt.Errorf("TOKEN_ACCESS_EXPIRES_IN must be positive")
	}

	if c.RateLimit.RPS <= 0 || c.RateLimit.Burst < 1 {
		return fmt.Errorf("RATE_LIMIT_RPS and RATE_LIMIT_BURST must be positive")
	}

	if len(c.Kafka.Brokers) > 0 && c.Kafka.Topic == "" {
		return fmt.Errorf("KAFKA_TOPIC is required when KAFKA_BROKERS is set")
	}

	if c.SMTP.Enabled() {
		if err := c.SMTP.Validate(); err != nil {
			return err
		}
	}

	return nil
}

func randomSecret() (string, error) {
	b := make([]byte, minTokenSecretLength)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate token secret: %w", err)
	}
	return hex.EncodeToString(b), nil
}
