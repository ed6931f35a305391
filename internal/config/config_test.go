package config

import (
	"testing"
	"time"

	"github.com/cuongbtq/escrow-engine/internal/domain"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testAIKey    = "0xac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"
	testAIAddr   = "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266"
	testAdminKey = "59c6995e998f97a5a0044966f0945389dc9e86dae88c7a8412f4603b6b78690d"
)

func TestLoad(t *testing.T) {
	tests := []struct {
		name      string
		filePath  string
		wantErr   bool
		errString string
	}{
		{
			name:     "valid config file",
			filePath: "testdata/valid_config.yaml",
			wantErr:  false,
		},
		{
			name:      "non-existent file",
			filePath:  "testdata/nonexistent.yaml",
			wantErr:   true,
			errString: "failed to read config file",
		},
		{
			name:      "malformed yaml",
			filePath:  "testdata/malformed.yaml",
			wantErr:   true,
			errString: "failed to parse config file",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load(tt.filePath)

			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errString)
				assert.Nil(t, cfg)
				return
			}

			require.NoError(t, err)
			require.NotNil(t, cfg)

			assert.Equal(t, 8080, cfg.Server.Port)
			assert.Equal(t, "escrow_db", cfg.Database.Database)
			assert.Equal(t, "arbitration_requests", cfg.RabbitMQ.Queues.Arbitration.Name)
			assert.Equal(t, "escrow_dead_letters", cfg.RabbitMQ.Queues.DeadLetter.Name)
			assert.Equal(t, int64(84532), cfg.Chain.ChainID)
			assert.Equal(t, 2*time.Minute, cfg.Chain.ConfirmationTimeout)
			assert.Equal(t, uint64(2000), cfg.Chain.ReplayChunkSize)
			assert.Equal(t, PolicyGemini, cfg.Arbitration.Policy)
			assert.Equal(t, []string{"gemini-2.0-flash-001", "gemini-2.5-flash"}, cfg.Arbitration.Models)
			assert.Equal(t, 72*time.Hour, cfg.Arbitration.DefaultVotingDuration)
			assert.Equal(t, uint64(1200), cfg.Reconciler.StartBlock)
			assert.Equal(t, "escrow", cfg.Reconciler.CheckpointName)
		})
	}
}

func TestLoad_ExpandsEnvironment(t *testing.T) {
	t.Setenv("ESCROW_TEST_DB_PASSWORD", "s3cret")

	cfg, err := Load("testdata/valid_config.yaml")
	require.NoError(t, err)
	assert.Equal(t, "s3cret", cfg.Database.Password)
}

func validConfig() *Config {
	return &Config{
		Server:   ServerConfig{Port: 8080},
		Database: DatabaseConfig{Host: "localhost", Port: 5432, Database: "escrow_db"},
		RabbitMQ: RabbitMQConfig{
			Host:     "localhost",
			Port:     5672,
			Exchange: ExchangeConfig{Name: "escrow_exchange"},
			Queues: QueuesConfig{
				Arbitration: QueueConfig{Name: "arbitration_requests"},
				DeadLetter:  QueueConfig{Name: "escrow_dead_letters"},
			},
		},
		Chain: ChainConfig{
			RPCURL:        "ws://localhost:8546",
			ChainID:       84532,
			EscrowAddress: "0x5FbDB2315678afecb367f032d93F642f64180aa3",
			DAOAddress:    "0xe7f1725E7734CE288F8367e1Bb143E90bb3F0512",
		},
		Signers: SignersConfig{AIPrivateKey: testAIKey},
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(c *Config)
		sync      bool
		wantField string
	}{
		{name: "valid api config", mutate: func(c *Config) {}},
		{name: "valid sync config", mutate: func(c *Config) {}, sync: true},
		{name: "broker disabled", mutate: func(c *Config) { c.RabbitMQ = RabbitMQConfig{} }, sync: true},
		{name: "server port too low", mutate: func(c *Config) { c.Server.Port = 0 }, wantField: "server.port"},
		{name: "server port too high", mutate: func(c *Config) { c.Server.Port = 70000 }, wantField: "server.port"},
		{name: "sync ignores server port", mutate: func(c *Config) { c.Server.Port = 0 }, sync: true},
		{name: "empty database host", mutate: func(c *Config) { c.Database.Host = "" }, wantField: "database.host"},
		{name: "empty database name", mutate: func(c *Config) { c.Database.Database = "" }, wantField: "database.database"},
		{name: "empty rpc url", mutate: func(c *Config) { c.Chain.RPCURL = "" }, wantField: "chain.rpc_url"},
		{name: "zero chain id", mutate: func(c *Config) { c.Chain.ChainID = 0 }, wantField: "chain.chain_id"},
		{name: "bad escrow address", mutate: func(c *Config) { c.Chain.EscrowAddress = "escrow" }, wantField: "chain.escrow_address"},
		{name: "bad dao address", mutate: func(c *Config) { c.Chain.DAOAddress = "" }, wantField: "chain.dao_address", sync: true},
		{name: "missing ai key", mutate: func(c *Config) { c.Signers.AIPrivateKey = "" }, wantField: "signers.ai_private_key"},
		{name: "bad admin key", mutate: func(c *Config) { c.Signers.AdminPrivateKey = "0x1234" }, wantField: "signers.admin_private_key"},
		{name: "empty exchange name", mutate: func(c *Config) { c.RabbitMQ.Exchange.Name = "" }, wantField: "rabbitmq.exchange.name"},
		{name: "empty arbitration queue", mutate: func(c *Config) { c.RabbitMQ.Queues.Arbitration.Name = "" }, wantField: "rabbitmq.queues.arbitration.name"},
		{name: "empty dead letter queue", mutate: func(c *Config) { c.RabbitMQ.Queues.DeadLetter.Name = "" }, wantField: "rabbitmq.queues.dead_letter.name", sync: true},
		{name: "unknown policy", mutate: func(c *Config) { c.Arbitration.Policy = "coin-flip" }, wantField: "arbitration.policy", sync: true},
		{name: "gemini without project", mutate: func(c *Config) { c.Arbitration.Policy = PolicyGemini }, wantField: "arbitration.project", sync: true},
		{
			name: "gemini without location",
			mutate: func(c *Config) {
				c.Arbitration.Policy = PolicyGemini
				c.Arbitration.Project = "escrow"
			},
			wantField: "arbitration.location",
			sync:      true,
		},
		{name: "negative reconciler concurrency", mutate: func(c *Config) { c.Reconciler.Concurrency = -1 }, wantField: "reconciler.concurrency", sync: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)

			var err error
			if tt.sync {
				err = cfg.ValidateSync()
			} else {
				err = cfg.ValidateAPI()
			}

			if tt.wantField == "" {
				require.NoError(t, err)
				return
			}

			var cfgErr *domain.ConfigurationError
			require.ErrorAs(t, err, &cfgErr)
			assert.Equal(t, tt.wantField, cfgErr.Field)
		})
	}
}

func TestLoad_ValidateIntegration(t *testing.T) {
	t.Run("load and validate valid config", func(t *testing.T) {
		cfg, err := Load("testdata/valid_config.yaml")
		require.NoError(t, err)

		require.NoError(t, cfg.ValidateAPI())
		require.NoError(t, cfg.ValidateSync())
	})

	t.Run("load config without signer", func(t *testing.T) {
		cfg, err := Load("testdata/no_signer.yaml")
		require.NoError(t, err)

		err = cfg.ValidateSync()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "signers.ai_private_key")
		require.NoError(t, cfg.ValidateDatabase())
	})
}

func TestSignersConfig_Keys(t *testing.T) {
	s := SignersConfig{AIPrivateKey: testAIKey, AdminPrivateKey: testAdminKey}

	ai, err := s.AIKey()
	require.NoError(t, err)
	assert.Equal(t, testAIAddr, crypto.PubkeyToAddress(ai.PublicKey).Hex())

	admin, err := s.AdminKey()
	require.NoError(t, err)
	assert.NotNil(t, admin)

	admin, err = SignersConfig{}.AdminKey()
	require.NoError(t, err)
	assert.Nil(t, admin)
}

func TestRabbitMQConfig_Enabled(t *testing.T) {
	assert.False(t, RabbitMQConfig{}.Enabled())
	assert.True(t, RabbitMQConfig{Host: "localhost"}.Enabled())
}
