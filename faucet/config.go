package faucet

import (
	"fmt"
	"math/big"
	"net/url"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/pokt-network/pocket-faucet/claim"
	"github.com/pokt-network/pocket-faucet/config"
	"github.com/pokt-network/pocket-faucet/leader"
	"github.com/pokt-network/pocket-faucet/logging"
	"github.com/pokt-network/pocket-faucet/session"
	"github.com/pokt-network/pocket-faucet/wallet"
)

// Config is the configuration of the faucet service.
type Config struct {
	// Redis holds the session store, claim queue and lane lease.
	Redis config.RedisConfig `yaml:"redis"`

	// Ethereum is the node and key used to pay out claims.
	Ethereum config.EthereumConfig `yaml:"ethereum"`

	// HTTP configures the public API listener.
	HTTP HTTPConfig `yaml:"http"`

	// Metrics configuration.
	Metrics config.MetricsConfig `yaml:"metrics"`

	// PProf configuration.
	PProf config.PprofConfig `yaml:"pprof"`

	// Logging configuration.
	Logging logging.Config `yaml:"logging"`

	// Display is what clients show on the faucet page.
	Display DisplayConfig `yaml:"display"`

	// StatusFile is a YAML list of status entries shown to clients.
	// It is reloaded when it changes.
	StatusFile string `yaml:"status_file,omitempty"`

	// Session configures drop amounts and session expiry.
	Session SessionConfig `yaml:"session"`

	// Admission configures the anti-abuse limits applied at session start.
	Admission AdmissionConfig `yaml:"admission,omitempty"`

	// ClaimQueue configures the payout lane.
	ClaimQueue ClaimQueueConfig `yaml:"claim_queue,omitempty"`

	// LaneElection configures which instance drives the payout lane when
	// several faucet instances share one Redis.
	LaneElection LaneElectionConfig `yaml:"lane_election,omitempty"`

	// WorkerPoolSize bounds background work across subsystems.
	// Default: 16
	WorkerPoolSize int `yaml:"worker_pool_size,omitempty"`
}

// HTTPConfig configures the API listener.
type HTTPConfig struct {
	// ListenAddr is the address of the public API.
	// Default: ":8080"
	ListenAddr string `yaml:"listen_addr"`

	// TrustProxy takes the client address from X-Forwarded-For / X-Real-IP.
	// Enable only behind a reverse proxy that sets these headers.
	TrustProxy bool `yaml:"trust_proxy,omitempty"`

	// ReadTimeoutSeconds bounds reading a request.
	// Default: 10
	ReadTimeoutSeconds int `yaml:"read_timeout_seconds,omitempty"`

	// WriteTimeoutSeconds bounds writing a response.
	// Default: 30
	WriteTimeoutSeconds int `yaml:"write_timeout_seconds,omitempty"`
}

// DisplayConfig is passed through to clients by getFaucetConfig.
type DisplayConfig struct {
	Title          string `yaml:"title"`
	Image          string `yaml:"image,omitempty"`
	HomeHTML       string `yaml:"home_html,omitempty"`
	CoinSymbol     string `yaml:"coin_symbol"`
	CoinType       string `yaml:"coin_type,omitempty"`
	CoinContract   string `yaml:"coin_contract,omitempty"`
	CoinDecimals   int    `yaml:"coin_decimals,omitempty"`
	TxExplorerLink string `yaml:"tx_explorer_link,omitempty"`

	// ResultSharing is forwarded to clients unchanged.
	ResultSharing map[string]any `yaml:"result_sharing,omitempty"`
}

// SessionConfig configures drop amounts and session expiry.
type SessionConfig struct {
	// MinDropAmount is the smallest payout in base units (decimal string).
	// Default: 1000000000000000
	MinDropAmount string `yaml:"min_drop_amount"`

	// MaxDropAmount is the largest payout in base units (decimal string).
	// Default: 100000000000000000
	MaxDropAmount string `yaml:"max_drop_amount"`

	// AllowCustomAmount lets clients request less than the maximum.
	AllowCustomAmount bool `yaml:"allow_custom_amount,omitempty"`

	// TimeoutSeconds is how long a session may stay running or claimable.
	// Default: 3600
	TimeoutSeconds int64 `yaml:"timeout_seconds,omitempty"`

	// CheckIntervalSeconds is how often expired sessions are swept.
	// Default: 30
	CheckIntervalSeconds int64 `yaml:"check_interval_seconds,omitempty"`

	// RetentionHours is how long session records are kept in Redis after
	// their last update.
	// Default: 24
	RetentionHours int64 `yaml:"retention_hours,omitempty"`

	// MaxConcurrentCompletions bounds the completion hooks running at once.
	// Default: 4
	MaxConcurrentCompletions int `yaml:"max_concurrent_completions,omitempty"`
}

// AdmissionConfig configures anti-abuse limits.
type AdmissionConfig struct {
	// SessionsPerHour per remote address (0 = unlimited).
	SessionsPerHour float64 `yaml:"sessions_per_hour,omitempty"`

	// Burst of sessions an address may start back to back.
	// Default: 1
	Burst int `yaml:"burst,omitempty"`

	// MaxSessionsPerIP caps concurrent non-terminal sessions per address
	// (0 = unlimited).
	MaxSessionsPerIP int `yaml:"max_sessions_per_ip,omitempty"`

	// DeniedAddresses lists remote and target addresses that are refused.
	DeniedAddresses []string `yaml:"denied_addresses,omitempty"`
}

// ClaimQueueConfig configures the payout lane.
type ClaimQueueConfig struct {
	// ConfirmTimeoutSeconds bounds the wait for a mined receipt.
	// Default: 300
	ConfirmTimeoutSeconds int64 `yaml:"confirm_timeout_seconds,omitempty"`

	// BroadcastRetries is how often a transient broadcast failure is retried.
	// Default: 3
	BroadcastRetries *int `yaml:"broadcast_retries,omitempty"`

	// RetryBackoffMs is the first retry delay, doubled per attempt.
	// Default: 2000
	RetryBackoffMs int64 `yaml:"retry_backoff_ms,omitempty"`

	// MaxRetryBackoffMs caps the retry delay.
	// Default: 30000
	MaxRetryBackoffMs int64 `yaml:"max_retry_backoff_ms,omitempty"`

	// PollIntervalMs is how often an idle lane looks for work.
	// Default: 2000
	PollIntervalMs int64 `yaml:"poll_interval_ms,omitempty"`
}

// LaneElectionConfig configures the lane lease.
type LaneElectionConfig struct {
	// LeaseTTLSeconds is how long the lease lasts without renewal.
	// Default: 30
	LeaseTTLSeconds int `yaml:"lease_ttl_seconds,omitempty"`

	// HeartbeatRateSeconds is how often the lease is acquired or renewed.
	// Must be less than LeaseTTLSeconds. Default: 10
	HeartbeatRateSeconds int `yaml:"heartbeat_rate_seconds,omitempty"`
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Redis.URL == "" {
		return fmt.Errorf("redis.url is required")
	}
	if _, err := url.Parse(c.Redis.URL); err != nil {
		return fmt.Errorf("invalid redis.url: %w", err)
	}
	if c.Redis.PoolSize < 0 {
		return fmt.Errorf("redis.pool_size must be >= 0 (0 = use default)")
	}

	if c.Ethereum.RPCURL == "" {
		return fmt.Errorf("ethereum.rpc_url is required")
	}
	if c.Ethereum.PrivateKey == "" {
		return fmt.Errorf("ethereum.private_key is required")
	}
	if c.Ethereum.ChainID < 0 {
		return fmt.Errorf("ethereum.chain_id must be >= 0 (0 = query the node)")
	}

	if c.HTTP.ListenAddr == "" {
		return fmt.Errorf("http.listen_addr is required")
	}

	minDrop, maxDrop, err := c.dropBounds()
	if err != nil {
		return err
	}
	if maxDrop.Sign() <= 0 {
		return fmt.Errorf("session.max_drop_amount must be positive")
	}
	if minDrop.Cmp(maxDrop) > 0 {
		return fmt.Errorf("session.min_drop_amount (%s) must not exceed session.max_drop_amount (%s)", minDrop, maxDrop)
	}

	if c.Admission.SessionsPerHour < 0 {
		return fmt.Errorf("admission.sessions_per_hour must be >= 0 (0 = unlimited)")
	}
	if c.WorkerPoolSize < 0 || c.Session.MaxConcurrentCompletions < 0 {
		return fmt.Errorf("worker_pool_size and session.max_concurrent_completions must be >= 0 (0 = use default)")
	}
	if completions := c.GetManagerConfig().MaxConcurrentCompletions; completions > c.GetWorkerPoolSize() {
		return fmt.Errorf("session.max_concurrent_completions (%d) must not exceed worker_pool_size (%d)",
			completions, c.GetWorkerPoolSize())
	}
	if c.ClaimQueue.BroadcastRetries != nil && *c.ClaimQueue.BroadcastRetries < 0 {
		return fmt.Errorf("claim_queue.broadcast_retries must be >= 0")
	}

	if c.LaneElection.HeartbeatRateSeconds > 0 && c.LaneElection.LeaseTTLSeconds > 0 {
		if c.LaneElection.HeartbeatRateSeconds >= c.LaneElection.LeaseTTLSeconds {
			return fmt.Errorf("lane_election.heartbeat_rate_seconds (%d) must be less than lease_ttl_seconds (%d) to prevent lease expiration before renewal",
				c.LaneElection.HeartbeatRateSeconds, c.LaneElection.LeaseTTLSeconds)
		}
	}
	return nil
}

func (c *Config) dropBounds() (*big.Int, *big.Int, error) {
	defaults := session.DefaultManagerConfig()

	minDrop := defaults.MinDropAmount
	if c.Session.MinDropAmount != "" {
		v, ok := new(big.Int).SetString(c.Session.MinDropAmount, 10)
		if !ok || v.Sign() < 0 {
			return nil, nil, fmt.Errorf("invalid session.min_drop_amount %q", c.Session.MinDropAmount)
		}
		minDrop = v
	}

	maxDrop := defaults.MaxDropAmount
	if c.Session.MaxDropAmount != "" {
		v, ok := new(big.Int).SetString(c.Session.MaxDropAmount, 10)
		if !ok {
			return nil, nil, fmt.Errorf("invalid session.max_drop_amount %q", c.Session.MaxDropAmount)
		}
		maxDrop = v
	}
	return minDrop, maxDrop, nil
}

// GetManagerConfig returns the session manager configuration.
// Call Validate first; invalid amounts fall back to defaults.
func (c *Config) GetManagerConfig() session.ManagerConfig {
	cfg := session.DefaultManagerConfig()
	if minDrop, maxDrop, err := c.dropBounds(); err == nil {
		cfg.MinDropAmount, cfg.MaxDropAmount = minDrop, maxDrop
	}
	cfg.AllowCustomAmount = c.Session.AllowCustomAmount
	cfg.SessionTimeout = c.GetSessionTimeout()
	if c.Session.CheckIntervalSeconds > 0 {
		cfg.CheckInterval = time.Duration(c.Session.CheckIntervalSeconds) * time.Second
	}
	if c.Session.MaxConcurrentCompletions > 0 {
		cfg.MaxConcurrentCompletions = c.Session.MaxConcurrentCompletions
	}
	cfg.Admission = session.AdmissionConfig{
		SessionsPerHour:  c.Admission.SessionsPerHour,
		Burst:            c.Admission.Burst,
		MaxSessionsPerIP: c.Admission.MaxSessionsPerIP,
		DeniedAddresses:  c.Admission.DeniedAddresses,
	}
	return cfg
}

// GetSessionTimeout returns the session timeout as a duration.
func (c *Config) GetSessionTimeout() time.Duration {
	if c.Session.TimeoutSeconds > 0 {
		return time.Duration(c.Session.TimeoutSeconds) * time.Second
	}
	return time.Hour // Default
}

// GetStoreConfig returns the session store configuration.
func (c *Config) GetStoreConfig() session.StoreConfig {
	if c.Session.RetentionHours > 0 {
		return session.StoreConfig{TTL: time.Duration(c.Session.RetentionHours) * time.Hour}
	}
	return session.StoreConfig{TTL: 24 * time.Hour}
}

// GetQueueConfig returns the claim queue configuration.
func (c *Config) GetQueueConfig() claim.QueueConfig {
	cfg := claim.DefaultQueueConfig()
	if c.ClaimQueue.ConfirmTimeoutSeconds > 0 {
		cfg.ConfirmTimeout = time.Duration(c.ClaimQueue.ConfirmTimeoutSeconds) * time.Second
	}
	if c.ClaimQueue.BroadcastRetries != nil {
		cfg.BroadcastRetries = *c.ClaimQueue.BroadcastRetries
	}
	if c.ClaimQueue.RetryBackoffMs > 0 {
		cfg.RetryBackoff = time.Duration(c.ClaimQueue.RetryBackoffMs) * time.Millisecond
	}
	if c.ClaimQueue.MaxRetryBackoffMs > 0 {
		cfg.MaxRetryBackoff = time.Duration(c.ClaimQueue.MaxRetryBackoffMs) * time.Millisecond
	}
	if c.ClaimQueue.PollIntervalMs > 0 {
		cfg.PollInterval = time.Duration(c.ClaimQueue.PollIntervalMs) * time.Millisecond
	}
	return cfg
}

// GetLaneElectorConfig returns the lane lease timing.
func (c *Config) GetLaneElectorConfig() leader.LaneElectorConfig {
	cfg := leader.DefaultLaneElectorConfig()
	if c.LaneElection.LeaseTTLSeconds > 0 {
		cfg.LeaseTTL = time.Duration(c.LaneElection.LeaseTTLSeconds) * time.Second
	}
	if c.LaneElection.HeartbeatRateSeconds > 0 {
		cfg.HeartbeatRate = time.Duration(c.LaneElection.HeartbeatRateSeconds) * time.Second
	}
	return cfg
}

// GetWalletConfig returns the wallet configuration.
func (c *Config) GetWalletConfig() wallet.Config {
	return wallet.ConfigFrom(c.Ethereum)
}

// GetReadTimeout returns the HTTP read timeout.
func (c *Config) GetReadTimeout() time.Duration {
	if c.HTTP.ReadTimeoutSeconds > 0 {
		return time.Duration(c.HTTP.ReadTimeoutSeconds) * time.Second
	}
	return 10 * time.Second // Default
}

// GetWriteTimeout returns the HTTP write timeout.
func (c *Config) GetWriteTimeout() time.Duration {
	if c.HTTP.WriteTimeoutSeconds > 0 {
		return time.Duration(c.HTTP.WriteTimeoutSeconds) * time.Second
	}
	return 30 * time.Second // Default
}

// GetWorkerPoolSize returns the shared worker pool size.
func (c *Config) GetWorkerPoolSize() int {
	if c.WorkerPoolSize > 0 {
		return c.WorkerPoolSize
	}
	return 16 // Default
}

// DefaultConfig returns a config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Redis: config.RedisConfig{
			URL: "redis://localhost:6379",
		},
		Ethereum: config.EthereumConfig{
			GasLimit:            21_000,
			ReceiptPollSeconds:  2,
			QueryTimeoutSeconds: 10,
		},
		HTTP: HTTPConfig{
			ListenAddr: ":8080",
		},
		Metrics: config.MetricsConfig{
			Enabled: true,
			Addr:    ":9092",
		},
		Logging: logging.Config{
			Level:           "info",
			Format:          "json",
			Async:           true,
			AsyncBufferSize: 10000,
		},
		Display: DisplayConfig{
			Title:        "Faucet",
			CoinSymbol:   "ETH",
			CoinType:     "native",
			CoinDecimals: 18,
		},
		Session: SessionConfig{
			MinDropAmount:  "1000000000000000",
			MaxDropAmount:  "100000000000000000",
			TimeoutSeconds: 3600,
			RetentionHours: 24,
		},
	}
}

// LoadConfig loads a faucet configuration from a YAML file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Start with defaults
	cfg := DefaultConfig()

	if err = yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err = cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}
