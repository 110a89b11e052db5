package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/secretsmanager"
	"github.com/hashicorp/vault/api"
)

// ErrSecretNotFound is returned when a provider has no value for a key
var ErrSecretNotFound = errors.New("secret not found")

// SecretManager interface for retrieving secrets
type SecretManager interface {
	GetSecret(key string) (string, error)
	GetJWTSecret() (string, error)
	GetConnectionString() (string, error)
}

// EnvSecretManager uses environment variables (default)
type EnvSecretManager struct{}

func (e *EnvSecretManager) GetSecret(key string) (string, error) {
	envKey := "SNAP_" + strings.ToUpper(key)
	value := os.Getenv(envKey)
	if value == "" {
		return "", fmt.Errorf("environment variable %s not set: %w", envKey, ErrSecretNotFound)
	}
	return value, nil
}

func (e *EnvSecretManager) GetJWTSecret() (string, error) {
	return e.GetSecret("JWT_SECRET")
}

func (e *EnvSecretManager) GetConnectionString() (string, error) {
	return e.GetSecret("CONNECTION_STRING")
}

// VaultSecretManager retrieves secrets from HashiCorp Vault
type VaultSecretManager struct {
	path   string
	client *api.Client
}

func NewVaultSecretManager(config *Config) (*VaultSecretManager, error) {
	client, err := api.NewClient(&api.Config{
		Address: config.Secrets.Vault.Address,
		Timeout: 10 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Vault client: %w", err)
	}

	if config.Secrets.Vault.Token != "" {
		client.SetToken(config.Secrets.Vault.Token)
	} else if token := os.Getenv("VAULT_TOKEN"); token != "" {
		client.SetToken(token)
	}

	path := config.Secrets.Vault.Path
	if path == "" {
		path = "secret/snap"
	}

	return &VaultSecretManager{path: path, client: client}, nil
}

func (v *VaultSecretManager) GetSecret(key string) (string, error) {
	secret, err := v.client.Logical().Read(v.path)
	if err != nil {
		return "", fmt.Errorf("failed to read from Vault: %w", err)
	}

	if secret == nil || secret.Data == nil {
		return "", fmt.Errorf("no secret at path %s: %w", v.path, ErrSecretNotFound)
	}

	value, ok := secret.Data[key]
	if !ok {
		return "", fmt.Errorf("key %s not found in Vault secret: %w", key, ErrSecretNotFound)
	}

	strValue, ok := value.(string)
	if !ok {
		return "", fmt.Errorf("secret value for key %s is not a string", key)
	}

	return strValue, nil
}

func (v *VaultSecretManager) GetJWTSecret() (string, error) {
	return v.GetSecret("jwt_secret")
}

func (v *VaultSecretManager) GetConnectionString() (string, error) {
	return v.GetSecret("connection_string")
}

// AWSSecretManager retrieves secrets from AWS Secrets Manager
type AWSSecretManager struct {
	secretID string
	client   *secretsmanager.SecretsManager
}

func NewAWSSecretManager(config *Config) (*AWSSecretManager, error) {
	awsConfig := &aws.Config{Region: aws.String(config.Secrets.AWS.Region)}
	if config.Secrets.AWS.AccessKey != "" && config.Secrets.AWS.SecretKey != "" {
		awsConfig.Credentials = credentials.NewStaticCredentials(
			config.Secrets.AWS.AccessKey,
			config.Secrets.AWS.SecretKey,
			"",
		)
	}

	sess, err := session.NewSession(awsConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create AWS session: %w", err)
	}

	secretID := config.Secrets.AWS.SecretID
	if secretID == "" {
		secretID = "snap/secrets"
	}

	return &AWSSecretManager{secretID: secretID, client: secretsmanager.New(sess)}, nil
}

func (a *AWSSecretManager) GetSecret(key string) (string, error) {
	result, err := a.client.GetSecretValue(&secretsmanager.GetSecretValueInput{
		SecretId: aws.String(a.secretID),
	})
	if err != nil {
		return "", fmt.Errorf("failed to get secret from AWS: %w", err)
	}
	if result.SecretString == nil {
		return "", fmt.Errorf("AWS secret %s has no string value: %w", a.secretID, ErrSecretNotFound)
	}

	var secrets map[string]string
	if err := json.Unmarshal([]byte(*result.SecretString), &secrets); err != nil {
		return "", fmt.Errorf("failed to parse AWS secret JSON: %w", err)
	}

	value, ok := secrets[key]
	if !ok {
		return "", fmt.Errorf("key %s not found in AWS secret: %w", key, ErrSecretNotFound)
	}

	return value, nil
}

func (a *AWSSecretManager) GetJWTSecret() (string, error) {
	return a.GetSecret("jwt_secret")
}

func (a *AWSSecretManager) GetConnectionString() (string, error) {
	return a.GetSecret("connection_string")
}

// NewSecretManager creates the appropriate secret manager based on configuration
func NewSecretManager(config *Config) (SecretManager, error) {
	provider := config.Secrets.Provider
	if provider == "" {
		provider = "env"
	}

	switch provider {
	case "env":
		return &EnvSecretManager{}, nil
	case "vault":
		return NewVaultSecretManager(config)
	case "aws":
		return NewAWSSecretManager(config)
	default:
		return nil, fmt.Errorf("unsupported secret provider: %s", provider)
	}
}

// LoadSecrets fills the connection string and JWT secret from the configured provider
// when they were not set directly. The env provider is already covered by viper's
// bindings, so it only has to exist.
func LoadSecrets(config *Config) error {
	manager, err := NewSecretManager(config)
	if err != nil {
		return fmt.Errorf("failed to create secret manager: %w", err)
	}
	if _, ok := manager.(*EnvSecretManager); ok {
		return nil
	}
	return applySecrets(config, manager)
}

func applySecrets(config *Config, manager SecretManager) error {
	if config.ConnectionStrings.Default == "" {
		value, err := manager.GetConnectionString()
		if err != nil && !errors.Is(err, ErrSecretNotFound) {
			return fmt.Errorf("failed to load connection string: %w", err)
		}
		config.ConnectionStrings.Default = value
	}

	if config.Auth.JWTSecret == "" {
		value, err := manager.GetJWTSecret()
		if err != nil && !errors.Is(err, ErrSecretNotFound) {
			return fmt.Errorf("failed to load JWT secret: %w", err)
		}
		config.Auth.JWTSecret = value
	}

	return nil
}
