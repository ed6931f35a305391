package config

import (
	"crypto/ecdsa"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/cuongbtq/escrow-engine/internal/domain"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"gopkg.in/yaml.v3"
)

const (
	// MinPort is the minimum valid port number
	MinPort = 1
	// MaxPort is the maximum valid port number
	MaxPort = 65535
)

// Arbitration policies
const (
	PolicyFixed  = "fixed"
	PolicyGemini = "gemini"
)

// Config represents the complete application configuration
type Config struct {
	Server         ServerConfig         `yaml:"server"`
	Database       DatabaseConfig       `yaml:"database"`
	RabbitMQ       RabbitMQConfig       `yaml:"rabbitmq"`
	Logging        LoggingConfig        `yaml:"logging"`
	App            AppConfig            `yaml:"app"`
	Chain          ChainConfig          `yaml:"chain"`
	Signers        SignersConfig        `yaml:"signers"`
	WalletProvider WalletProviderConfig `yaml:"wallet_provider"`
	Arbitration    ArbitrationConfig    `yaml:"arbitration"`
	Reconciler     ReconcilerConfig     `yaml:"reconciler"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	// AdminToken guards the /admin routes when set
	AdminToken string `yaml:"admin_token"`
}

// DatabaseConfig holds PostgreSQL connection configuration
type DatabaseConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	Database        string        `yaml:"database"`
	SSLMode         string        `yaml:"sslmode"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time"`
	ConnectAttempts int           `yaml:"connect_attempts"`
	ConnectBackoff  time.Duration `yaml:"connect_backoff"`
}

// RabbitMQConfig holds RabbitMQ connection and topology configuration.
// An empty host disables the broker: dead letters are only logged and
// arbitration re-triggers are unavailable.
type RabbitMQConfig struct {
	Host       string           `yaml:"host"`
	Port       int              `yaml:"port"`
	User       string           `yaml:"user"`
	Password   string           `yaml:"password"`
	VHost      string           `yaml:"vhost"`
	Exchange   ExchangeConfig   `yaml:"exchange"`
	Queues     QueuesConfig     `yaml:"queues"`
	Connection ConnectionConfig `yaml:"connection"`
	Publish    PublishConfig    `yaml:"publish"`
	Consumer   ConsumerConfig   `yaml:"consumer"`
}

// Enabled reports whether a broker is configured
func (c RabbitMQConfig) Enabled() bool {
	return c.Host != ""
}

// ExchangeConfig holds RabbitMQ exchange configuration
type ExchangeConfig struct {
	Name       string `yaml:"name"`
	Type       string `yaml:"type"`
	Durable    bool   `yaml:"durable"`
	AutoDelete bool   `yaml:"auto_delete"`
}

// QueuesConfig names the engine's queues
type QueuesConfig struct {
	Arbitration QueueConfig `yaml:"arbitration"`
	DeadLetter  QueueConfig `yaml:"dead_letter"`
}

// QueueConfig holds RabbitMQ queue configuration
type QueueConfig struct {
	Name       string `yaml:"name"`
	RoutingKey string `yaml:"routing_key"`
	Durable    bool   `yaml:"durable"`
	AutoDelete bool   `yaml:"auto_delete"`
	Exclusive  bool   `yaml:"exclusive"`
}

// ConnectionConfig holds RabbitMQ connection settings
type ConnectionConfig struct {
	RetryAttempts     int           `yaml:"retry_attempts"`
	RetryInterval     time.Duration `yaml:"retry_interval"`
	Heartbeat         time.Duration `yaml:"heartbeat"`
	ConnectionTimeout time.Duration `yaml:"connection_timeout"`
}

// PublishConfig holds RabbitMQ publish retry settings
type PublishConfig struct {
	RetryAttempts     int           `yaml:"retry_attempts"`
	RetryInterval     time.Duration `yaml:"retry_interval"`
	BackoffMultiplier float64       `yaml:"backoff_multiplier"`
}

// ConsumerConfig holds RabbitMQ consumer settings
type ConsumerConfig struct {
	PrefetchCount int `yaml:"prefetch_count"`
	Concurrency   int `yaml:"concurrency"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level        string `yaml:"level"`
	Format       string `yaml:"format"`
	Output       string `yaml:"output"`
	EnableCaller bool   `yaml:"enable_caller"`
}

// AppConfig holds application metadata
type AppConfig struct {
	Name        string `yaml:"name"`
	Version     string `yaml:"version"`
	Environment string `yaml:"environment"`
}

// ChainConfig holds ledger connection settings
type ChainConfig struct {
	RPCURL              string        `yaml:"rpc_url"`
	ChainID             int64         `yaml:"chain_id"`
	EscrowAddress       string        `yaml:"escrow_address"`
	DAOAddress          string        `yaml:"dao_address"`
	ConfirmationTimeout time.Duration `yaml:"confirmation_timeout"`
	ReplayChunkSize     uint64        `yaml:"replay_chunk_size"`
	MaxBackoff          time.Duration `yaml:"max_backoff"`
}

// SignersConfig holds hex-encoded private keys
type SignersConfig struct {
	AIPrivateKey    string `yaml:"ai_private_key"`
	AdminPrivateKey string `yaml:"admin_private_key"`
}

// WalletProviderConfig holds the custodial wallet service settings
type WalletProviderConfig struct {
	BaseURL string        `yaml:"base_url"`
	APIKey  string        `yaml:"api_key"`
	Timeout time.Duration `yaml:"timeout"`
}

// ArbitrationConfig selects and configures the verdict policy
type ArbitrationConfig struct {
	Policy                string        `yaml:"policy"`
	Project               string        `yaml:"project"`
	Location              string        `yaml:"location"`
	Models                []string      `yaml:"models"`
	DefaultVotingDuration time.Duration `yaml:"default_voting_duration"`
}

// ReconcilerConfig holds event reconciler settings
type ReconcilerConfig struct {
	Concurrency        int           `yaml:"concurrency"`
	ShardBuffer        int           `yaml:"shard_buffer"`
	MaxAttempts        int           `yaml:"max_attempts"`
	RetryInterval      time.Duration `yaml:"retry_interval"`
	MaxRetryInterval   time.Duration `yaml:"max_retry_interval"`
	CheckpointName     string        `yaml:"checkpoint_name"`
	CheckpointInterval time.Duration `yaml:"checkpoint_interval"`
	StartBlock         uint64        `yaml:"start_block"`
}

// Load reads and parses the configuration file. ${VAR} references are
// expanded from the environment before parsing.
func Load(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return &config, nil
}

// ValidateAPI checks the configuration needed by the api-service
func (c *Config) ValidateAPI() error {
	if c.Server.Port < MinPort || c.Server.Port > MaxPort {
		return domain.NewConfigurationError("server.port", fmt.Sprintf("%d must be between %d and %d", c.Server.Port, MinPort, MaxPort))
	}

	if err := c.validateCore(); err != nil {
		return err
	}

	return c.validateRabbitMQ()
}

// ValidateSync checks the configuration needed by the sync-service
func (c *Config) ValidateSync() error {
	if err := c.validateCore(); err != nil {
		return err
	}

	if err := c.validateRabbitMQ(); err != nil {
		return err
	}

	switch c.Arbitration.Policy {
	case "", PolicyFixed:
	case PolicyGemini:
		if c.Arbitration.Project == "" {
			return domain.NewConfigurationError("arbitration.project", "required for the gemini policy")
		}
		if c.Arbitration.Location == "" {
			return domain.NewConfigurationError("arbitration.location", "required for the gemini policy")
		}
	default:
		return domain.NewConfigurationError("arbitration.policy", fmt.Sprintf("unknown policy %q", c.Arbitration.Policy))
	}

	if c.Reconciler.Concurrency < 0 {
		return domain.NewConfigurationError("reconciler.concurrency", "must not be negative")
	}
	if c.Reconciler.MaxAttempts < 0 {
		return domain.NewConfigurationError("reconciler.max_attempts", "must not be negative")
	}

	return nil
}

// ValidateDatabase checks only the database section, for migrations
func (c *Config) ValidateDatabase() error {
	if c.Database.Host == "" {
		return domain.NewConfigurationError("database.host", "required")
	}

	if c.Database.Port < MinPort || c.Database.Port > MaxPort {
		return domain.NewConfigurationError("database.port", fmt.Sprintf("%d must be between %d and %d", c.Database.Port, MinPort, MaxPort))
	}

	if c.Database.Database == "" {
		return domain.NewConfigurationError("database.database", "required")
	}

	return nil
}

func (c *Config) validateCore() error {
	if err := c.ValidateDatabase(); err != nil {
		return err
	}

	if c.Chain.RPCURL == "" {
		return domain.NewConfigurationError("chain.rpc_url", "required")
	}
	if c.Chain.ChainID <= 0 {
		return domain.NewConfigurationError("chain.chain_id", "must be positive")
	}
	if !common.IsHexAddress(c.Chain.EscrowAddress) {
		return domain.NewConfigurationError("chain.escrow_address", "must be a hex address")
	}
	if !common.IsHexAddress(c.Chain.DAOAddress) {
		return domain.NewConfigurationError("chain.dao_address", "must be a hex address")
	}

	if _, err := c.Signers.AIKey(); err != nil {
		return err
	}
	if _, err := c.Signers.AdminKey(); err != nil {
		return err
	}

	return nil
}

func (c *Config) validateRabbitMQ() error {
	if !c.RabbitMQ.Enabled() {
		return nil
	}

	if c.RabbitMQ.Port < MinPort || c.RabbitMQ.Port > MaxPort {
		return domain.NewConfigurationError("rabbitmq.port", fmt.Sprintf("%d must be between %d and %d", c.RabbitMQ.Port, MinPort, MaxPort))
	}

	if c.RabbitMQ.Exchange.Name == "" {
		return domain.NewConfigurationError("rabbitmq.exchange.name", "required")
	}

	if c.RabbitMQ.Queues.Arbitration.Name == "" {
		return domain.NewConfigurationError("rabbitmq.queues.arbitration.name", "required")
	}

	if c.RabbitMQ.Queues.DeadLetter.Name == "" {
		return domain.NewConfigurationError("rabbitmq.queues.dead_letter.name", "required")
	}

	return nil
}

// AIKey parses the required AI signer key
func (s SignersConfig) AIKey() (*ecdsa.PrivateKey, error) {
	if s.AIPrivateKey == "" {
		return nil, domain.NewConfigurationError("signers.ai_private_key", "required")
	}
	return parseKey("signers.ai_private_key", s.AIPrivateKey)
}

// AdminKey parses the optional admin signer key; nil when unset
func (s SignersConfig) AdminKey() (*ecdsa.PrivateKey, error) {
	if s.AdminPrivateKey == "" {
		return nil, nil
	}
	return parseKey("signers.admin_private_key", s.AdminPrivateKey)
}

func parseKey(field, hexKey string) (*ecdsa.PrivateKey, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(hexKey), "0x"))
	if err != nil {
		return nil, domain.NewConfigurationError(field, "not a valid secp256k1 private key")
	}
	return key, nil
}
