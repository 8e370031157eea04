package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		config  Config
		wantErr bool
		errMsg  string
	}{
		{
			name: "valid config",
			config: Config{
				Pool: PoolConfig{
					Name:       "Test Pool",
					Fee:        1.0,
					FeeAddress: "zs1testaddress",
				},
				Node: NodeConfig{
					URL:     "http://127.0.0.1:8232",
					Timeout: 10 * time.Second,
				},
				Master: MasterConfig{
					Enabled: true,
					Secret:  "test-secret",
				},
				Equihash: EquihashConfig{
					N:      200,
					K:      9,
					Person: "ZcashPoW",
				},
				Mining: MiningConfig{
					MinDifficulty:     1000,
					MaxDifficulty:     1000000,
					VardiffTargetTime: 4.0,
				},
			},
			wantErr: false,
		},
		{
			name: "missing fee address",
			config: Config{
				Pool: PoolConfig{
					Name: "Test Pool",
					Fee:  1.0,
				},
			},
			wantErr: true,
			errMsg:  "pool.fee_address is required",
		},
		{
			name: "invalid fee - negative",
			config: Config{
				Pool: PoolConfig{
					Name:       "Test Pool",
					Fee:        -1.0,
					FeeAddress: "zs1test",
				},
			},
			wantErr: true,
			errMsg:  "pool.fee must be between 0 and 100",
		},
		{
			name: "invalid fee - over 100",
			config: Config{
				Pool: PoolConfig{
					Name:       "Test Pool",
					Fee:        101.0,
					FeeAddress: "zs1test",
				},
			},
			wantErr: true,
			errMsg:  "pool.fee must be between 0 and 100",
		},
		{
			name: "missing node url",
			config: Config{
				Pool: PoolConfig{
					Name:       "Test Pool",
					Fee:        1.0,
					FeeAddress: "zs1test",
				},
				Node: NodeConfig{},
			},
			wantErr: true,
			errMsg:  "node.url or node.upstreams is required",
		},
		{
			name: "missing master secret",
			config: Config{
				Pool: PoolConfig{
					Name:       "Test Pool",
					Fee:        1.0,
					FeeAddress: "zs1test",
				},
				Node: NodeConfig{
					URL: "http://127.0.0.1:8232",
				},
				Master: MasterConfig{
					Enabled: true,
					Secret:  "",
				},
			},
			wantErr: true,
			errMsg:  "master.secret is required when master is enabled",
		},
		{
			name: "equihash k not less than n",
			config: Config{
				Pool: PoolConfig{
					Name:       "Test Pool",
					Fee:        1.0,
					FeeAddress: "zs1test",
				},
				Node: NodeConfig{
					URL: "http://127.0.0.1:8232",
				},
				Equihash: EquihashConfig{
					N:      9,
					K:      9,
					Person: "ZcashPoW",
				},
			},
			wantErr: true,
			errMsg:  "equihash.k must be less than equihash.n",
		},
		{
			name: "equihash person not 8 bytes",
			config: Config{
				Pool: PoolConfig{
					Name:       "Test Pool",
					Fee:        1.0,
					FeeAddress: "zs1test",
				},
				Node: NodeConfig{
					URL: "http://127.0.0.1:8232",
				},
				Equihash: EquihashConfig{
					N:      200,
					K:      9,
					Person: "short",
				},
			},
			wantErr: true,
			errMsg:  "equihash.person must be exactly 8 characters",
		},
		{
			name: "invalid difficulty range",
			config: Config{
				Pool: PoolConfig{
					Name:       "Test Pool",
					Fee:        1.0,
					FeeAddress: "zs1test",
				},
				Node: NodeConfig{
					URL: "http://127.0.0.1:8232",
				},
				Master: MasterConfig{
					Enabled: false,
				},
				Equihash: EquihashConfig{
					N:      200,
					K:      9,
					Person: "ZcashPoW",
				},
				Mining: MiningConfig{
					MinDifficulty: 1000000,
					MaxDifficulty: 1000,
				},
			},
			wantErr: true,
			errMsg:  "mining.min_difficulty must be <= max_difficulty",
		},
		{
			name: "invalid vardiff target time",
			config: Config{
				Pool: PoolConfig{
					Name:       "Test Pool",
					Fee:        1.0,
					FeeAddress: "zs1test",
				},
				Node: NodeConfig{
					URL: "http://127.0.0.1:8232",
				},
				Master: MasterConfig{
					Enabled: false,
				},
				Equihash: EquihashConfig{
					N:      200,
					K:      9,
					Person: "ZcashPoW",
				},
				Mining: MiningConfig{
					MinDifficulty:     1000,
					MaxDifficulty:     1000000,
					VardiffTargetTime: 0,
				},
			},
			wantErr: true,
			errMsg:  "mining.vardiff_target_time must be positive",
		},
		{
			name: "upstream with empty url",
			config: Config{
				Pool: PoolConfig{
					Name:       "Test Pool",
					Fee:        1.0,
					FeeAddress: "zs1test",
				},
				Node: NodeConfig{
					Upstreams: []UpstreamConfig{
						{Name: "test", URL: ""},
					},
				},
			},
			wantErr: true,
			errMsg:  "node.upstreams[0].url is required",
		},
		{
			name: "valid config with upstreams",
			config: Config{
				Pool: PoolConfig{
					Name:       "Test Pool",
					Fee:        1.0,
					FeeAddress: "zs1test",
				},
				Node: NodeConfig{
					Upstreams: []UpstreamConfig{
						{Name: "primary", URL: "http://127.0.0.1:8232"},
						{Name: "backup", URL: "http://127.0.0.2:8232"},
					},
				},
				Master: MasterConfig{
					Enabled: false,
				},
				Equihash: EquihashConfig{
					N:      200,
					K:      9,
					Person: "ZcashPoW",
				},
				Mining: MiningConfig{
					MinDifficulty:     1000,
					MaxDifficulty:     1000000,
					VardiffTargetTime: 4.0,
				},
			},
			wantErr: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.wantErr {
				if err == nil {
					t.Error("Expected error but got nil")
				} else if tt.errMsg != "" && err.Error() != tt.errMsg {
					t.Errorf("Error = %q, want %q", err.Error(), tt.errMsg)
				}
			} else {
				if err != nil {
					t.Errorf("Unexpected error: %v", err)
				}
			}
		})
	}
}

func TestIsCombinedMode(t *testing.T) {
	tests := []struct {
		name     string
		master   bool
		slave    bool
		expected bool
	}{
		{"both enabled", true, true, true},
		{"master only", true, false, false},
		{"slave only", false, true, false},
		{"both disabled", false, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{
				Master: MasterConfig{Enabled: tt.master},
				Slave:  SlaveConfig{Enabled: tt.slave},
			}
			if got := cfg.IsCombinedMode(); got != tt.expected {
				t.Errorf("IsCombinedMode() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestIsMasterOnly(t *testing.T) {
	tests := []struct {
		name     string
		master   bool
		slave    bool
		expected bool
	}{
		{"both enabled", true, true, false},
		{"master only", true, false, true},
		{"slave only", false, true, false},
		{"both disabled", false, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{
				Master: MasterConfig{Enabled: tt.master},
				Slave:  SlaveConfig{Enabled: tt.slave},
			}
			if got := cfg.IsMasterOnly(); got != tt.expected {
				t.Errorf("IsMasterOnly() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestIsSlaveOnly(t *testing.T) {
	tests := []struct {
		name     string
		master   bool
		slave    bool
		expected bool
	}{
		{"both enabled", true, true, false},
		{"master only", true, false, false},
		{"slave only", false, true, true},
		{"both disabled", false, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{
				Master: MasterConfig{Enabled: tt.master},
				Slave:  SlaveConfig{Enabled: tt.slave},
			}
			if got := cfg.IsSlaveOnly(); got != tt.expected {
				t.Errorf("IsSlaveOnly() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestConfigStructs(t *testing.T) {
	pool := PoolConfig{
		Name:       "Test Pool",
		Fee:        1.5,
		FeeAddress: "zs1test",
	}
	if pool.Name != "Test Pool" {
		t.Errorf("PoolConfig.Name = %s, want Test Pool", pool.Name)
	}
	if pool.Fee != 1.5 {
		t.Errorf("PoolConfig.Fee = %f, want 1.5", pool.Fee)
	}

	node := NodeConfig{
		URL:                 "http://localhost:8232",
		RPCUser:             "rpcuser",
		RPCPass:             "rpcpass",
		Timeout:             10 * time.Second,
		HealthCheckInterval: 5 * time.Second,
		MaxFailures:         3,
	}
	if node.URL != "http://localhost:8232" {
		t.Errorf("NodeConfig.URL = %s, want http://localhost:8232", node.URL)
	}
	if node.RPCUser != "rpcuser" {
		t.Errorf("NodeConfig.RPCUser = %s, want rpcuser", node.RPCUser)
	}
	if node.MaxFailures != 3 {
		t.Errorf("NodeConfig.MaxFailures = %d, want 3", node.MaxFailures)
	}

	upstream := UpstreamConfig{
		Name:    "primary",
		URL:     "http://127.0.0.1:8232",
		RPCUser: "upstreamuser",
		RPCPass: "upstreampass",
		Timeout: 10 * time.Second,
		Weight:  10,
	}
	if upstream.Weight != 10 {
		t.Errorf("UpstreamConfig.Weight = %d, want 10", upstream.Weight)
	}
	if upstream.RPCUser != "upstreamuser" {
		t.Errorf("UpstreamConfig.RPCUser = %s, want upstreamuser", upstream.RPCUser)
	}

	redis := RedisConfig{
		URL:      "localhost:6379",
		Password: "secret",
		DB:       1,
	}
	if redis.DB != 1 {
		t.Errorf("RedisConfig.DB = %d, want 1", redis.DB)
	}

	equihash := EquihashConfig{
		N:      200,
		K:      9,
		Person: "ZcashPoW",
	}
	if equihash.N != 200 {
		t.Errorf("EquihashConfig.N = %d, want 200", equihash.N)
	}
	if len(equihash.Person) != 8 {
		t.Errorf("EquihashConfig.Person = %q, want 8 bytes", equihash.Person)
	}

	mining := MiningConfig{
		InitialDifficulty:  1000000,
		MinDifficulty:      1000,
		MaxDifficulty:      1000000000,
		VardiffTargetTime:  4.0,
		VardiffRetarget:    90.0,
		VardiffVariance:    30.0,
		JobRefreshInterval: 500 * time.Millisecond,
	}
	if mining.InitialDifficulty != 1000000 {
		t.Errorf("MiningConfig.InitialDifficulty = %d, want 1000000", mining.InitialDifficulty)
	}

	validation := ValidationConfig{
		TrustThreshold:      50,
		TrustCheckPercent:   75,
		HashrateWindow:      10 * time.Minute,
		HashrateLargeWindow: 3 * time.Hour,
	}
	if validation.TrustThreshold != 50 {
		t.Errorf("ValidationConfig.TrustThreshold = %d, want 50", validation.TrustThreshold)
	}

	api := APIConfig{
		Enabled:       true,
		Bind:          "0.0.0.0:8080",
		StatsCache:    10 * time.Second,
		CORSOrigins:   []string{"*"},
		AdminEnabled:  true,
		AdminPassword: "admin123",
	}
	if !api.AdminEnabled {
		t.Error("APIConfig.AdminEnabled should be true")
	}

	security := SecurityConfig{
		MaxConnectionsPerIP:  100,
		MaxWorkersPerAddress: 256,
		BanThreshold:         30,
		BanDuration:          1 * time.Hour,
		RateLimitShares:      100,
	}
	if security.MaxConnectionsPerIP != 100 {
		t.Errorf("SecurityConfig.MaxConnectionsPerIP = %d, want 100", security.MaxConnectionsPerIP)
	}

	notify := NotifyConfig{
		Enabled:      true,
		DiscordURL:   "https://discord.com/api/webhooks/...",
		TelegramBot:  "bot_token",
		TelegramChat: "chat_id",
		PoolURL:      "https://pool.example.com",
	}
	if !notify.Enabled {
		t.Error("NotifyConfig.Enabled should be true")
	}

	log := LogConfig{
		Level:  "debug",
		Format: "json",
		File:   "/var/log/pool.log",
	}
	if log.Level != "debug" {
		t.Errorf("LogConfig.Level = %s, want debug", log.Level)
	}

	profiling := ProfilingConfig{
		Enabled: true,
		Bind:    "127.0.0.1:6060",
	}
	if !profiling.Enabled {
		t.Error("ProfilingConfig.Enabled should be true")
	}
}

func TestLoadWithTempConfig(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
pool:
  name: "Test Pool"
  fee: 1.0
  fee_address: "zs1testaddress"

node:
  url: "http://127.0.0.1:8232"
  timeout: 10s

master:
  enabled: false

slave:
  enabled: true
  stratum_bind: "0.0.0.0:3333"

equihash:
  n: 200
  k: 9
  person: "ZcashPoW"

mining:
  initial_difficulty: 1000000
  min_difficulty: 1000
  max_difficulty: 1000000000
  vardiff_target_time: 4.0
`

	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("Failed to write temp config: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Pool.Name != "Test Pool" {
		t.Errorf("Pool.Name = %s, want Test Pool", cfg.Pool.Name)
	}

	if cfg.Pool.Fee != 1.0 {
		t.Errorf("Pool.Fee = %f, want 1.0", cfg.Pool.Fee)
	}

	if cfg.Node.URL != "http://127.0.0.1:8232" {
		t.Errorf("Node.URL = %s, want http://127.0.0.1:8232", cfg.Node.URL)
	}

	if cfg.Master.Enabled {
		t.Error("Master.Enabled should be false")
	}

	if !cfg.Slave.Enabled {
		t.Error("Slave.Enabled should be true")
	}

	if cfg.Equihash.N != 200 || cfg.Equihash.K != 9 {
		t.Errorf("Equihash = (%d,%d), want (200,9)", cfg.Equihash.N, cfg.Equihash.K)
	}
}

func TestLoadInvalidConfig(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	// Missing required fee_address
	configContent := `
pool:
  name: "Test Pool"
  fee: 1.0

node:
  url: "http://127.0.0.1:8232"
`

	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("Failed to write temp config: %v", err)
	}

	_, err := Load(configPath)
	if err == nil {
		t.Error("Load() should return error for invalid config")
	}
}

func TestLoadNonexistentConfig(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	if err == nil {
		t.Error("Load() should return error for non-existent config")
	}
}
