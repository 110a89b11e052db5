package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Profile names the deployment environment the service runs under
type Profile string

const (
	ProfileDevelopment Profile = "development"
	ProfileStaging     Profile = "staging"
	ProfileProduction  Profile = "production"
)

// IsDevelopment reports whether the profile enables developer-only behaviour.
// The comparison is case-insensitive so "Development" from legacy env vars works.
func (p Profile) IsDevelopment() bool {
	return strings.EqualFold(string(p), string(ProfileDevelopment))
}

func (p Profile) String() string {
	return string(p)
}

var (
	// ErrMissingConnectionString is returned when no default connection string is configured
	ErrMissingConnectionString = errors.New("connection string 'default' is not configured")
	// ErrMalformedConnectionString is returned when the connection string cannot be interpreted
	ErrMalformedConnectionString = errors.New("connection string is malformed")
)

// APIConfig holds HTTP listener settings
type APIConfig struct {
	Host       string `mapstructure:"host"`
	Port       int    `mapstructure:"port"`
	HTTPSPort  int    `mapstructure:"https_port"`
	TLS        bool   `mapstructure:"tls"`
	CertFile   string `mapstructure:"cert_file"`
	KeyFile    string `mapstructure:"key_file"`
	TrustProxy bool   `mapstructure:"trust_proxy"`
	HSTSMaxAge int    `mapstructure:"hsts_max_age"` // seconds
}

// AuthConfig holds credential and token settings
type AuthConfig struct {
	JWTSecret  string        `mapstructure:"jwt_secret"`
	JWTExpiry  time.Duration `mapstructure:"jwt_expiry"`
	JWTIssuer  string        `mapstructure:"jwt_issuer"`
	BcryptCost int           `mapstructure:"bcrypt_cost"`
	LoginLimit struct {
		RequestsPerMinute int `mapstructure:"requests_per_minute"`
		Burst             int `mapstructure:"burst"`
	} `mapstructure:"login_rate_limit"`
}

// MailConfig holds outbound SMTP settings
type MailConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	SMTPHost string `mapstructure:"smtp_host"`
	SMTPPort int    `mapstructure:"smtp_port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	From     string `mapstructure:"from"`
}

// SeedConfig controls the default accounts created at startup
type SeedConfig struct {
	Enabled       bool   `mapstructure:"enabled"`
	AdminUsername string `mapstructure:"admin_username"`
	AdminEmail    string `mapstructure:"admin_email"`
	AdminPassword string `mapstructure:"admin_password"`
	// File is an optional YAML file with additional accounts
	File string `mapstructure:"file"`
}

// SecretsConfig selects where sensitive values are read from
type SecretsConfig struct {
	Provider string `mapstructure:"provider"` // env, vault, aws
	Vault    struct {
		Address string `mapstructure:"address"`
		Token   string `mapstructure:"token"`
		Path    string `mapstructure:"path"`
	} `mapstructure:"vault"`
	AWS struct {
		Region    string `mapstructure:"region"`
		AccessKey string `mapstructure:"access_key"`
		SecretKey string `mapstructure:"secret_key"`
		SecretID  string `mapstructure:"secret_id"`
	} `mapstructure:"aws"`
}

// Config holds all configuration for the Snap service
type Config struct {
	// Environment is the deployment profile (SNAP_ENVIRONMENT, default: production)
	Environment Profile `mapstructure:"environment"`
	// DataDir is the base data directory (SNAP_DATA_DIR, default: ./data)
	DataDir string `mapstructure:"data_dir"`

	ConnectionStrings struct {
		// Default is the persisted store location (SNAP_CONNECTION_STRING)
		Default string `mapstructure:"default"`
	} `mapstructure:"connection_strings"`

	API     APIConfig     `mapstructure:"api"`
	Auth    AuthConfig    `mapstructure:"auth"`
	Mail    MailConfig    `mapstructure:"mail"`
	Seed    SeedConfig    `mapstructure:"seed"`
	Secrets SecretsConfig `mapstructure:"secrets"`

	Logging struct {
		Format string `mapstructure:"format"` // console, json
		Level  string `mapstructure:"level"`
	} `mapstructure:"logging"`
}

// Profile returns the configured profile, defaulting to production
func (c *Config) Profile() Profile {
	if c.Environment == "" {
		return ProfileProduction
	}
	return c.Environment
}

// ConnectionString parses the default connection string
func (c *Config) ConnectionString() (ConnectionString, error) {
	return ParseConnectionString(c.ConnectionStrings.Default)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("environment", string(ProfileProduction))
	v.SetDefault("data_dir", "./data")

	v.SetDefault("api.host", "0.0.0.0")
	v.SetDefault("api.port", 8080)
	v.SetDefault("api.https_port", 0)
	v.SetDefault("api.tls", false)
	v.SetDefault("api.trust_proxy", false)
	v.SetDefault("api.hsts_max_age", 31536000)

	v.SetDefault("auth.jwt_expiry", "24h")
	v.SetDefault("auth.jwt_issuer", "snap")
	v.SetDefault("auth.bcrypt_cost", 12)
	v.SetDefault("auth.login_rate_limit.requests_per_minute", 10)
	v.SetDefault("auth.login_rate_limit.burst", 5)

	v.SetDefault("mail.enabled", false)
	v.SetDefault("mail.smtp_port", 587)
	v.SetDefault("mail.from", "no-reply@snap.local")

	v.SetDefault("seed.enabled", true)
	v.SetDefault("seed.admin_username", "admin")
	v.SetDefault("seed.admin_email", "admin@snap.local")

	v.SetDefault("secrets.provider", "env")
	v.SetDefault("secrets.vault.path", "secret/snap")
	v.SetDefault("secrets.aws.secret_id", "snap/secrets")

	v.SetDefault("logging.format", "console")
	v.SetDefault("logging.level", "debug")
}

// loadFromEnv sets up environment variable loading
func loadFromEnv(v *viper.Viper) {
	v.SetEnvPrefix("SNAP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Shorter names, plus the names deployments of the previous service already set
	_ = v.BindEnv("environment", "SNAP_ENVIRONMENT", "ASPNETCORE_ENVIRONMENT")
	_ = v.BindEnv("connection_strings.default", "SNAP_CONNECTION_STRING", "ConnectionStrings__DefaultConnection")
	_ = v.BindEnv("data_dir", "SNAP_DATA_DIR")
	_ = v.BindEnv("auth.jwt_secret", "SNAP_JWT_SECRET")
	_ = v.BindEnv("seed.admin_password", "SNAP_ADMIN_PASSWORD")
}

// LoadConfig loads configuration from file and environment variables.
// An explicit configFile must exist; without one, config.yaml is looked up in . and ./config
// and its absence is not an error.
func LoadConfig(configFile string) (*Config, error) {
	v := viper.New()
	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	setDefaults(v)
	loadFromEnv(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found, will use defaults and env vars
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	if err := LoadSecrets(&config); err != nil {
		return nil, err
	}

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

// validateConfig validates the configuration for security and correctness.
// The connection string is validated by the composer, which owns the store.
func validateConfig(config *Config) error {
	switch strings.ToLower(string(config.Environment)) {
	case "", string(ProfileDevelopment), string(ProfileStaging), string(ProfileProduction):
	default:
		return fmt.Errorf("invalid environment %q (must be development, staging or production)", config.Environment)
	}

	if config.API.Port < 1 || config.API.Port > 65535 {
		return fmt.Errorf("invalid API port: %d (must be 1-65535)", config.API.Port)
	}
	if config.API.HTTPSPort < 0 || config.API.HTTPSPort > 65535 {
		return fmt.Errorf("invalid HTTPS port: %d (must be 0-65535)", config.API.HTTPSPort)
	}
	if config.API.TLS && (config.API.CertFile == "" || config.API.KeyFile == "") {
		return fmt.Errorf("TLS enabled but cert_file or key_file is missing")
	}

	if config.Auth.BcryptCost < 4 || config.Auth.BcryptCost > 31 {
		return fmt.Errorf("invalid bcrypt cost: %d (must be 4-31)", config.Auth.BcryptCost)
	}
	if config.Auth.JWTExpiry <= 0 {
		return fmt.Errorf("jwt_expiry must be positive")
	}
	if config.Auth.JWTSecret != "" && !config.Profile().IsDevelopment() {
		if len(config.Auth.JWTSecret) < 32 {
			return fmt.Errorf("JWT secret must be at least 32 characters (256 bits) for security")
		}
	}

	if config.Mail.Enabled {
		if config.Mail.SMTPHost == "" {
			return fmt.Errorf("mail enabled but smtp_host is empty")
		}
		if config.Mail.SMTPPort < 1 || config.Mail.SMTPPort > 65535 {
			return fmt.Errorf("invalid SMTP port: %d", config.Mail.SMTPPort)
		}
	}

	switch config.Logging.Format {
	case "", "console", "json":
	default:
		return fmt.Errorf("invalid logging format %q (must be console or json)", config.Logging.Format)
	}

	return nil
}
