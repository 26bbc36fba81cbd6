package faucet

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	cfg := DefaultConfig()
	cfg.Ethereum.RPCURL = "http://localhost:8545"
	cfg.Ethereum.PrivateKey = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"
	return cfg
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	require.Equal(t, "redis://localhost:6379", cfg.Redis.URL)
	require.Equal(t, ":8080", cfg.HTTP.ListenAddr)
	require.Equal(t, uint64(21_000), cfg.Ethereum.GasLimit)
	require.Equal(t, 18, cfg.Display.CoinDecimals)
	require.Equal(t, time.Hour, cfg.GetSessionTimeout())
	require.Equal(t, 16, cfg.GetWorkerPoolSize())
	require.Equal(t, 24*time.Hour, cfg.GetStoreConfig().TTL)
	require.Equal(t, 10*time.Second, cfg.GetReadTimeout())
	require.Equal(t, 30*time.Second, cfg.GetWriteTimeout())
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"valid", func(c *Config) {}, ""},
		{"missing redis url", func(c *Config) { c.Redis.URL = "" }, "redis.url is required"},
		{"invalid redis url", func(c *Config) { c.Redis.URL = "://invalid" }, "invalid redis.url"},
		{"negative pool size", func(c *Config) { c.Redis.PoolSize = -1 }, "redis.pool_size"},
		{"missing rpc url", func(c *Config) { c.Ethereum.RPCURL = "" }, "ethereum.rpc_url is required"},
		{"missing private key", func(c *Config) { c.Ethereum.PrivateKey = "" }, "ethereum.private_key is required"},
		{"negative chain id", func(c *Config) { c.Ethereum.ChainID = -1 }, "ethereum.chain_id"},
		{"missing listen addr", func(c *Config) { c.HTTP.ListenAddr = "" }, "http.listen_addr is required"},
		{"bad min amount", func(c *Config) { c.Session.MinDropAmount = "1.5" }, "invalid session.min_drop_amount"},
		{"bad max amount", func(c *Config) { c.Session.MaxDropAmount = "lots" }, "invalid session.max_drop_amount"},
		{"zero max amount", func(c *Config) { c.Session.MaxDropAmount = "0"; c.Session.MinDropAmount = "0" }, "must be positive"},
		{"min above max", func(c *Config) { c.Session.MinDropAmount = "10"; c.Session.MaxDropAmount = "5" }, "must not exceed"},
		{"negative rate", func(c *Config) { c.Admission.SessionsPerHour = -1 }, "admission.sessions_per_hour"},
		{"completions above pool", func(c *Config) { c.WorkerPoolSize = 2 }, "must not exceed worker_pool_size"},
		{"completions within pool", func(c *Config) { c.WorkerPoolSize = 2; c.Session.MaxConcurrentCompletions = 2 }, ""},
		{"negative worker pool", func(c *Config) { c.WorkerPoolSize = -1 }, "worker_pool_size"},
		{"negative retries", func(c *Config) { n := -1; c.ClaimQueue.BroadcastRetries = &n }, "claim_queue.broadcast_retries"},
		{"heartbeat above ttl", func(c *Config) {
			c.LaneElection.LeaseTTLSeconds = 10
			c.LaneElection.HeartbeatRateSeconds = 10
		}, "heartbeat_rate_seconds"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			require.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestConfig_GetManagerConfig(t *testing.T) {
	cfg := validConfig()
	cfg.Session.MinDropAmount = "5"
	cfg.Session.MaxDropAmount = "500"
	cfg.Session.AllowCustomAmount = true
	cfg.Session.TimeoutSeconds = 60
	cfg.Session.CheckIntervalSeconds = 5
	cfg.Session.MaxConcurrentCompletions = 2
	cfg.Admission = AdmissionConfig{
		SessionsPerHour:  3,
		Burst:            2,
		MaxSessionsPerIP: 1,
		DeniedAddresses:  []string{"10.0.0.1"},
	}

	m := cfg.GetManagerConfig()
	require.Equal(t, "5", m.MinDropAmount.String())
	require.Equal(t, "500", m.MaxDropAmount.String())
	require.True(t, m.AllowCustomAmount)
	require.Equal(t, time.Minute, m.SessionTimeout)
	require.Equal(t, 5*time.Second, m.CheckInterval)
	require.Equal(t, 2, m.MaxConcurrentCompletions)
	require.Equal(t, float64(3), m.Admission.SessionsPerHour)
	require.Equal(t, 2, m.Admission.Burst)
	require.Equal(t, 1, m.Admission.MaxSessionsPerIP)
	require.Equal(t, []string{"10.0.0.1"}, m.Admission.DeniedAddresses)
}

func TestConfig_GetQueueConfig(t *testing.T) {
	cfg := validConfig()
	q := cfg.GetQueueConfig()
	require.Equal(t, 5*time.Minute, q.ConfirmTimeout)
	require.Equal(t, 3, q.BroadcastRetries)

	zero := 0
	cfg.ClaimQueue = ClaimQueueConfig{
		ConfirmTimeoutSeconds: 60,
		BroadcastRetries:      &zero,
		RetryBackoffMs:        100,
		MaxRetryBackoffMs:     1000,
		PollIntervalMs:        250,
	}
	q = cfg.GetQueueConfig()
	require.Equal(t, time.Minute, q.ConfirmTimeout)
	require.Equal(t, 0, q.BroadcastRetries, "explicit zero disables retries")
	require.Equal(t, 100*time.Millisecond, q.RetryBackoff)
	require.Equal(t, time.Second, q.MaxRetryBackoff)
	require.Equal(t, 250*time.Millisecond, q.PollInterval)
}

func TestConfig_GetLaneElectorConfig(t *testing.T) {
	cfg := validConfig()
	l := cfg.GetLaneElectorConfig()
	require.Equal(t, 30*time.Second, l.LeaseTTL)
	require.Equal(t, 10*time.Second, l.HeartbeatRate)

	cfg.LaneElection = LaneElectionConfig{LeaseTTLSeconds: 6, HeartbeatRateSeconds: 2}
	l = cfg.GetLaneElectorConfig()
	require.Equal(t, 6*time.Second, l.LeaseTTL)
	require.Equal(t, 2*time.Second, l.HeartbeatRate)
}

func TestConfig_GetWalletConfig(t *testing.T) {
	cfg := validConfig()
	cfg.Ethereum.ChainID = 1337
	cfg.Ethereum.MaxFeeGwei = 2

	w := cfg.GetWalletConfig()
	require.Equal(t, int64(1337), w.ChainID.Int64())
	require.Equal(t, "2000000000", w.MaxFeePerGas.String())
	require.Equal(t, 2*time.Second, w.ReceiptPollInterval)
}

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "faucet.yaml")
	content := `
redis:
  url: redis://redis:6379
  namespace:
    base_prefix: testnet
ethereum:
  rpc_url: http://geth:8545
  private_key: ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80
  chain_id: 1337
http:
  listen_addr: ":9000"
  trust_proxy: true
display:
  title: Test Faucet
  coin_symbol: TST
  home_html: "Send back to {faucetWallet}"
  result_sharing:
    enabled: true
session:
  max_drop_amount: "50000000000000000"
claim_queue:
  broadcast_retries: 1
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	require.Equal(t, "redis://redis:6379", cfg.Redis.URL)
	require.Equal(t, "testnet", cfg.Redis.Namespace.BasePrefix)
	require.Equal(t, int64(1337), cfg.Ethereum.ChainID)
	require.Equal(t, uint64(21_000), cfg.Ethereum.GasLimit, "defaults survive partial files")
	require.True(t, cfg.HTTP.TrustProxy)
	require.Equal(t, "Test Faucet", cfg.Display.Title)
	require.Equal(t, 18, cfg.Display.CoinDecimals)
	require.Equal(t, true, cfg.Display.ResultSharing["enabled"])
	require.Equal(t, "1000000000000000", cfg.Session.MinDropAmount)
	require.Equal(t, 1, cfg.GetQueueConfig().BroadcastRetries)

	_, err = LoadConfig(filepath.Join(dir, "missing.yaml"))
	require.Error(t, err)

	invalid := filepath.Join(dir, "invalid.yaml")
	require.NoError(t, os.WriteFile(invalid, []byte("redis:\n  url: \"\"\n"), 0o600))
	_, err = LoadConfig(invalid)
	require.Error(t, err)
	require.Contains(t, err.Error(), "invalid config")
}
