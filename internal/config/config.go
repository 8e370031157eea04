// Package config handles configuration loading and validation for the
// equihash-pool server.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the pool
type Config struct {
	Pool       PoolConfig       `mapstructure:"pool"`
	Node       NodeConfig       `mapstructure:"node"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Master     MasterConfig     `mapstructure:"master"`
	Slave      SlaveConfig      `mapstructure:"slave"`
	Equihash   EquihashConfig   `mapstructure:"equihash"`
	Mining     MiningConfig     `mapstructure:"mining"`
	Validation ValidationConfig `mapstructure:"validation"`
	API        APIConfig        `mapstructure:"api"`
	Security   SecurityConfig   `mapstructure:"security"`
	Notify     NotifyConfig     `mapstructure:"notify"`
	Profiling  ProfilingConfig  `mapstructure:"profiling"`
	Log        LogConfig        `mapstructure:"log"`
}

// PoolConfig defines pool identity settings
type PoolConfig struct {
	Name string `mapstructure:"name"`
	// FeeAddress is presented to the node as the miner address on
	// get_block_template calls; it carries no wallet/payout behavior here.
	FeeAddress string  `mapstructure:"fee_address"`
	Fee        float64 `mapstructure:"fee"`
}

// NodeConfig defines upstream node connection settings. The node is
// treated as the parameter registry and header source; this service
// never parses consensus rules itself. Either URL (single node) or
// Upstreams (multi-node failover) must be set.
type NodeConfig struct {
	URL      string        `mapstructure:"url"`
	RPCUser  string        `mapstructure:"rpc_user"`
	RPCPass  string        `mapstructure:"rpc_password"`
	Timeout  time.Duration `mapstructure:"timeout"`

	Upstreams []UpstreamConfig `mapstructure:"upstreams"`

	HealthCheckInterval time.Duration `mapstructure:"health_check_interval"`
	HealthCheckTimeout  time.Duration `mapstructure:"health_check_timeout"`
	MaxFailures         int           `mapstructure:"max_failures"`
	RecoveryThreshold   int           `mapstructure:"recovery_threshold"`
}

// UpstreamConfig describes a single node in a multi-upstream failover set.
type UpstreamConfig struct {
	Name    string        `mapstructure:"name"`
	URL     string        `mapstructure:"url"`
	RPCUser string        `mapstructure:"rpc_user"`
	RPCPass string        `mapstructure:"rpc_password"`
	Timeout time.Duration `mapstructure:"timeout"`
	Weight  int           `mapstructure:"weight"`
}

// RedisConfig defines Redis connection settings
type RedisConfig struct {
	URL      string `mapstructure:"url"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// MasterConfig defines master server settings
type MasterConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Bind    string `mapstructure:"bind"`
	Secret  string `mapstructure:"secret"`

	// MaturityCheckInterval controls how often candidate/immature blocks
	// are re-checked against chain height. ImmatureDepth/MatureDepth are
	// confirmation-count thresholds for the candidate->immature->matured
	// status transitions; no reward accounting happens at this layer.
	MaturityCheckInterval time.Duration `mapstructure:"maturity_check_interval"`
	ImmatureDepth         uint64        `mapstructure:"immature_depth"`
	MatureDepth           uint64        `mapstructure:"mature_depth"`
}

// SlaveConfig defines slave server settings
type SlaveConfig struct {
	Enabled        bool   `mapstructure:"enabled"`
	MasterURL      string `mapstructure:"master_url"`
	StratumBind    string `mapstructure:"stratum_bind"`
	StratumTLSBind string `mapstructure:"stratum_tls_bind"`
	TLSCert        string `mapstructure:"tls_cert"`
	TLSKey         string `mapstructure:"tls_key"`

	WebSocketEnabled bool   `mapstructure:"websocket_enabled"`
	WebSocketBind    string `mapstructure:"websocket_bind"`
}

// EquihashConfig carries the (n, k, person) parameter set this pool
// verifies shares and blocks against. These are supplied by operators
// per chain/network; the verifier never discovers them on its own.
type EquihashConfig struct {
	N      int    `mapstructure:"n"`
	K      int    `mapstructure:"k"`
	Person string `mapstructure:"person"`
}

// MiningConfig defines mining difficulty settings
type MiningConfig struct {
	InitialDifficulty  uint64        `mapstructure:"initial_difficulty"`
	MinDifficulty      uint64        `mapstructure:"min_difficulty"`
	MaxDifficulty      uint64        `mapstructure:"max_difficulty"`
	VardiffTargetTime  float64       `mapstructure:"vardiff_target_time"`
	VardiffRetarget    float64       `mapstructure:"vardiff_retarget"`
	VardiffVariance    float64       `mapstructure:"vardiff_variance"`
	JobRefreshInterval time.Duration `mapstructure:"job_refresh_interval"`
}

// ValidationConfig defines share validation settings
type ValidationConfig struct {
	TrustThreshold      int           `mapstructure:"trust_threshold"`
	TrustCheckPercent   int           `mapstructure:"trust_check_percent"`
	HashrateWindow      time.Duration `mapstructure:"hashrate_window"`
	HashrateLargeWindow time.Duration `mapstructure:"hashrate_large_window"`
}

// APIConfig defines API server settings
type APIConfig struct {
	Enabled       bool          `mapstructure:"enabled"`
	Bind          string        `mapstructure:"bind"`
	StatsCache    time.Duration `mapstructure:"stats_cache"`
	CORSOrigins   []string      `mapstructure:"cors_origins"`
	AdminEnabled  bool          `mapstructure:"admin_enabled"`
	AdminPassword string        `mapstructure:"admin_password"`
}

// NotifyConfig defines Discord/Telegram block-found notification settings
type NotifyConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	DiscordURL   string `mapstructure:"discord_url"`
	TelegramBot  string `mapstructure:"telegram_bot"`
	TelegramChat string `mapstructure:"telegram_chat"`
	PoolURL      string `mapstructure:"pool_url"`
}

// ProfilingConfig defines the optional pprof debug server
type ProfilingConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Bind    string `mapstructure:"bind"`
}

// SecurityConfig defines security settings
type SecurityConfig struct {
	MaxConnectionsPerIP  int           `mapstructure:"max_connections_per_ip"`
	MaxWorkersPerAddress int           `mapstructure:"max_workers_per_address"`
	BanThreshold         int           `mapstructure:"ban_threshold"`
	BanDuration          time.Duration `mapstructure:"ban_duration"`
	RateLimitShares      int           `mapstructure:"rate_limit_shares"`
}

// LogConfig defines logging settings
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	File   string `mapstructure:"file"`
}

// Load reads configuration from file and environment
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/equihash-pool")
	}

	v.SetEnvPrefix("EQUIHASH_POOL")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	v.SetDefault("pool.name", "Equihash Mining Pool")
	v.SetDefault("pool.fee", 1.0)

	v.SetDefault("node.url", "http://127.0.0.1:8232")
	v.SetDefault("node.timeout", "10s")

	v.SetDefault("redis.url", "127.0.0.1:6379")
	v.SetDefault("redis.db", 0)

	v.SetDefault("master.enabled", true)
	v.SetDefault("master.bind", "0.0.0.0:3221")
	v.SetDefault("master.maturity_check_interval", "1m")
	v.SetDefault("master.immature_depth", 10)
	v.SetDefault("master.mature_depth", 100)

	v.SetDefault("slave.enabled", true)
	v.SetDefault("slave.stratum_bind", "0.0.0.0:3333")
	v.SetDefault("slave.stratum_tls_bind", "0.0.0.0:3334")
	v.SetDefault("slave.websocket_enabled", false)
	v.SetDefault("slave.websocket_bind", "0.0.0.0:3335")

	// Zcash mainnet parameters by default; operators override per chain.
	v.SetDefault("equihash.n", 200)
	v.SetDefault("equihash.k", 9)
	v.SetDefault("equihash.person", "ZcashPoW")

	v.SetDefault("mining.initial_difficulty", 1000000)
	v.SetDefault("mining.min_difficulty", 1000)
	v.SetDefault("mining.max_difficulty", 1000000000000)
	v.SetDefault("mining.vardiff_target_time", 4.0)
	v.SetDefault("mining.vardiff_retarget", 90.0)
	v.SetDefault("mining.vardiff_variance", 30.0)
	v.SetDefault("mining.job_refresh_interval", "500ms")

	v.SetDefault("validation.trust_threshold", 50)
	v.SetDefault("validation.trust_check_percent", 75)
	v.SetDefault("validation.hashrate_window", "10m")
	v.SetDefault("validation.hashrate_large_window", "3h")

	v.SetDefault("api.enabled", true)
	v.SetDefault("api.bind", "0.0.0.0:8080")
	v.SetDefault("api.stats_cache", "10s")
	v.SetDefault("api.cors_origins", []string{"*"})
	v.SetDefault("api.admin_enabled", false)

	v.SetDefault("security.max_connections_per_ip", 100)
	v.SetDefault("security.max_workers_per_address", 256)
	v.SetDefault("security.ban_threshold", 30)
	v.SetDefault("security.ban_duration", "1h")
	v.SetDefault("security.rate_limit_shares", 100)

	v.SetDefault("notify.enabled", false)

	v.SetDefault("profiling.enabled", false)
	v.SetDefault("profiling.bind", "127.0.0.1:6060")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
}

// Validate checks configuration for errors
func (c *Config) Validate() error {
	if c.Pool.Fee < 0 || c.Pool.Fee > 100 {
		return fmt.Errorf("pool.fee must be between 0 and 100")
	}

	if c.Pool.FeeAddress == "" {
		return fmt.Errorf("pool.fee_address is required")
	}

	if c.Node.URL == "" && len(c.Node.Upstreams) == 0 {
		return fmt.Errorf("node.url or node.upstreams is required")
	}

	if len(c.Node.Upstreams) > 0 && c.Node.Upstreams[0].URL == "" {
		return fmt.Errorf("node.upstreams[0].url is required")
	}

	if c.Master.Enabled && c.Master.Secret == "" {
		return fmt.Errorf("master.secret is required when master is enabled")
	}

	if c.Equihash.K >= c.Equihash.N {
		return fmt.Errorf("equihash.k must be less than equihash.n")
	}

	if len(c.Equihash.Person) != 8 {
		return fmt.Errorf("equihash.person must be exactly 8 characters")
	}

	if c.Mining.MinDifficulty > c.Mining.MaxDifficulty {
		return fmt.Errorf("mining.min_difficulty must be <= max_difficulty")
	}

	if c.Mining.VardiffTargetTime <= 0 {
		return fmt.Errorf("mining.vardiff_target_time must be positive")
	}

	return nil
}

// IsCombinedMode returns true if running master and slave together
func (c *Config) IsCombinedMode() bool {
	return c.Master.Enabled && c.Slave.Enabled
}

// IsMasterOnly returns true if running master only
func (c *Config) IsMasterOnly() bool {
	return c.Master.Enabled && !c.Slave.Enabled
}

// IsSlaveOnly returns true if running slave only
func (c *Config) IsSlaveOnly() bool {
	return !c.Master.Enabled && c.Slave.Enabled
}
