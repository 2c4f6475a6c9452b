package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config application configuration structure
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	NATS       NATSConfig       `yaml:"nats"`
	Auth       AuthConfig       `yaml:"auth"`
	Admin      AdminConfig      `yaml:"admin"`
	CORS       CORSConfig       `yaml:"cors"`
	Blockchain BlockchainConfig `yaml:"blockchain"`
	Policy     PolicyConfig     `yaml:"policy"`
	Approvals  ApprovalsConfig  `yaml:"approvals"`
	Lifecycle  LifecycleConfig  `yaml:"lifecycle"`
	Webhooks   WebhooksConfig   `yaml:"webhooks"`
}

// ServerConfig server configuration
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// DatabaseConfig Database configuration
type DatabaseConfig struct {
	DSN    string `yaml:"dsn"`
	Driver string `yaml:"driver"`
}

// NATSConfig NATS message server configuration
type NATSConfig struct {
	URL           string `yaml:"url"`
	Timeout       int    `yaml:"timeout"`
	ReconnectWait int    `yaml:"reconnect_wait"`
	MaxReconnects int    `yaml:"max_reconnects"`
}

// AuthConfig authentication secrets configuration
type AuthConfig struct {
	JWTSecret           string `yaml:"jwtSecret"`           // Secret for agent API tokens
	ApprovalTokenSecret string `yaml:"approvalTokenSecret"` // HMAC secret for approval decision tokens
	WebhookSecret       string `yaml:"webhookSecret"`       // Default signing secret for new subscriptions
}

// AdminConfig Admin API access control configuration
type AdminConfig struct {
	AllowedIPs   []string `yaml:"allowedIPs"`   // List of allowed IP addresses or CIDR ranges
	TOTPSecret   string   `yaml:"totpSecret"`   // TOTP secret for admin login
	PasswordHash string   `yaml:"passwordHash"` // bcrypt hash of the admin password
}

// CORSConfig CORS configuration
type CORSConfig struct {
	AllowedOrigins   []string `yaml:"allowedOrigins"`
	AllowCredentials bool     `yaml:"allowCredentials"`
	MaxAge           int      `yaml:"maxAge"`
}

// BlockchainConfig Blockchain configuration
type BlockchainConfig struct {
	Networks map[string]NetworkConfig `yaml:"networks"`
}

// NetworkConfig network configuration
type NetworkConfig struct {
	ChainID      int64    `yaml:"chainId"`
	Name         string   `yaml:"name"`
	RPCEndpoints []string `yaml:"rpcEndpoints"`
	PrivateKey   string   `yaml:"privateKey"` // Signer private key (hex, without 0x prefix)
	GasLimit     uint64   `yaml:"gasLimit"`   // 0 means estimate per transaction
	Enabled      bool     `yaml:"enabled"`
}

// PolicyConfig spending policy defaults
type PolicyConfig struct {
	DustFloorWei     string `yaml:"dustFloorWei"`     // Minimum transfer value accepted by preflight
	DefaultFeeCapWei string `yaml:"defaultFeeCapWei"` // Preflight fee warning threshold
	GasGuardBps      int    `yaml:"gasGuardBps"`      // Allowed deviation from reference gas price, basis points
	GasOracleURL     string `yaml:"gasOracleUrl"`     // External gas price oracle; empty disables the drift guard
}

// ApprovalsConfig approval coordinator configuration
type ApprovalsConfig struct {
	TTLSeconds     int `yaml:"ttlSeconds"`     // Approval request expiry
	SweepInterval  int `yaml:"sweepInterval"`  // Expiry sweep interval (seconds)
	RecentListSize int `yaml:"recentListSize"` // Max entries returned by the recent list API
}

// LifecycleConfig transaction lifecycle tracker configuration
type LifecycleConfig struct {
	PollInterval int `yaml:"pollInterval"` // Receipt poll interval (seconds)
	BatchSize    int `yaml:"batchSize"`    // Max transactions polled per tick
}

// WebhooksConfig webhook notifier configuration
type WebhooksConfig struct {
	TimeoutSeconds       int `yaml:"timeoutSeconds"`       // Per-delivery HTTP timeout
	DefaultMaxRetries    int `yaml:"defaultMaxRetries"`    // Retries after the first failed attempt
	DefaultBaseBackoffMs int `yaml:"defaultBaseBackoffMs"` // First retry delay, doubled per attempt
	MaxBackoffMs         int `yaml:"maxBackoffMs"`         // Backoff cap
}

var AppConfig *Config

// LoadConfig 加载配置文件并应用环境变量覆盖
func LoadConfig(configPath string) error {
	// 配置文件路径为空时使用默认路径
	if configPath == "" {
		configPath = "config.yaml"
		if _, err := os.Stat("config.local.yaml"); err == nil {
			configPath = "config.local.yaml"
			log.Printf("🔧 Using local configuration file: config.local.yaml")
		}
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}
	fmt.Printf("✅ [%s] Loading configuration from config file: %s\n", time.Now().Format("2006-01-02 15:04:05"), configPath)

	overrideFromEnv(&config)
	applyDefaults(&config)

	// Debug: Admin configuration
	if len(config.Admin.AllowedIPs) > 0 {
		fmt.Printf("📋 [Config] Admin IP whitelist loaded: %d IPs/CIDRs configured\n", len(config.Admin.AllowedIPs))
	} else {
		fmt.Printf("📋 [Config] Admin IP whitelist: not configured (localhost-only mode)\n")
	}

	// Debug: CORS configuration
	if len(config.CORS.AllowedOrigins) > 0 {
		fmt.Printf("📋 [Config] CORS allowed origins loaded: %d origins configured\n", len(config.CORS.AllowedOrigins))
	} else {
		fmt.Printf("📋 [Config] CORS: not configured (will allow all origins *)\n")
	}

	fmt.Printf("📋 [Config] Networks enabled: %s\n", strings.Join(enabledNetworks(&config), ", "))

	AppConfig = &config
	return nil
}

// overrideFromEnv 环境变量覆盖配置
func overrideFromEnv(config *Config) {
	// Database DSN
	if dsn := os.Getenv("DATABASE_DSN"); dsn != "" {
		config.Database.DSN = dsn
	}

	// server configuration
	if host := os.Getenv("SERVER_HOST"); host != "" {
		config.Server.Host = host
	}
	if port := os.Getenv("SERVER_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Server.Port = p
		}
	}

	// NATS configuration
	if natsURL := os.Getenv("NATS_URL"); natsURL != "" {
		config.NATS.URL = natsURL
	}
	if natsTimeout := os.Getenv("NATS_TIMEOUT"); natsTimeout != "" {
		if t, err := strconv.Atoi(natsTimeout); err == nil {
			config.NATS.Timeout = t
		}
	}

	// Auth secrets
	if jwtSecret := os.Getenv("JWT_SECRET"); jwtSecret != "" {
		config.Auth.JWTSecret = jwtSecret
	}
	if approvalSecret := os.Getenv("APPROVAL_TOKEN_SECRET"); approvalSecret != "" {
		config.Auth.ApprovalTokenSecret = approvalSecret
	}
	if webhookSecret := os.Getenv("WEBHOOK_SECRET"); webhookSecret != "" {
		config.Auth.WebhookSecret = webhookSecret
	}

	// Admin configuration
	if totpSecret := os.Getenv("ADMIN_TOTP_SECRET"); totpSecret != "" {
		config.Admin.TOTPSecret = totpSecret
	}
	if passwordHash := os.Getenv("ADMIN_PASSWORD_HASH"); passwordHash != "" {
		config.Admin.PasswordHash = passwordHash
	}

	// Network configuration
	for networkName, networkConfig := range config.Blockchain.Networks {
		// Private key: network-specific (e.g. SEPOLIA_PRIVATE_KEY) wins over generic PRIVATE_KEY
		envPrivateKey := fmt.Sprintf("%s_PRIVATE_KEY", strings.ToUpper(networkName))
		if privateKey := os.Getenv(envPrivateKey); privateKey != "" {
			networkConfig.PrivateKey = privateKey
			fmt.Printf("✅ [Config] Loaded private key for network '%s' from environment variable: %s\n", networkName, envPrivateKey)
		} else if privateKey := os.Getenv("PRIVATE_KEY"); privateKey != "" {
			networkConfig.PrivateKey = privateKey
			fmt.Printf("✅ [Config] Loaded private key for network '%s' from environment variable: PRIVATE_KEY\n", networkName)
		}

		envRPC := fmt.Sprintf("%s_RPC_ENDPOINTS", strings.ToUpper(networkName))
		if rpcEndpoints := os.Getenv(envRPC); rpcEndpoints != "" {
			networkConfig.RPCEndpoints = strings.Split(rpcEndpoints, ",")
		}

		envGasLimit := fmt.Sprintf("%s_GAS_LIMIT", strings.ToUpper(networkName))
		if gasLimit := os.Getenv(envGasLimit); gasLimit != "" {
			if limit, err := strconv.ParseUint(gasLimit, 10, 64); err == nil {
				networkConfig.GasLimit = limit
			}
		}

		config.Blockchain.Networks[networkName] = networkConfig
	}

	// CORS configuration
	if corsOrigins := os.Getenv("CORS_ALLOWED_ORIGINS"); corsOrigins != "" {
		origins := strings.Split(corsOrigins, ",")
		config.CORS.AllowedOrigins = make([]string, 0, len(origins))
		for _, origin := range origins {
			trimmed := strings.TrimSpace(origin)
			if trimmed != "" {
				config.CORS.AllowedOrigins = append(config.CORS.AllowedOrigins, trimmed)
			}
		}
	}
}

// applyDefaults 为未设置的配置项填充默认值
func applyDefaults(config *Config) {
	if config.Policy.GasGuardBps == 0 {
		config.Policy.GasGuardBps = 2000
	}
	if config.Approvals.TTLSeconds == 0 {
		config.Approvals.TTLSeconds = 3600
	}
	if config.Approvals.SweepInterval == 0 {
		config.Approvals.SweepInterval = 60
	}
	if config.Approvals.RecentListSize == 0 {
		config.Approvals.RecentListSize = 100
	}
	if config.Lifecycle.PollInterval == 0 {
		config.Lifecycle.PollInterval = 10
	}
	if config.Lifecycle.BatchSize == 0 {
		config.Lifecycle.BatchSize = 50
	}
	if config.Webhooks.TimeoutSeconds == 0 {
		config.Webhooks.TimeoutSeconds = 10
	}
	if config.Webhooks.DefaultMaxRetries == 0 {
		config.Webhooks.DefaultMaxRetries = 3
	}
	if config.Webhooks.DefaultBaseBackoffMs == 0 {
		config.Webhooks.DefaultBaseBackoffMs = 1000
	}
	if config.Webhooks.MaxBackoffMs == 0 {
		config.Webhooks.MaxBackoffMs = 60000
	}
}

func enabledNetworks(config *Config) []string {
	var names []string
	for name, network := range config.Blockchain.Networks {
		if network.Enabled {
			names = append(names, name)
		}
	}
	if len(names) == 0 {
		return []string{"(none)"}
	}
	return names
}

// GetNetworkConfig 获取指定网络的配置
func GetNetworkConfig(networkName string) (*NetworkConfig, error) {
	if AppConfig == nil {
		return nil, fmt.Errorf("config not loaded")
	}

	network, exists := AppConfig.Blockchain.Networks[networkName]
	if !exists {
		return nil, fmt.Errorf("network %s not found in config", networkName)
	}

	if !network.Enabled {
		return nil, fmt.Errorf("network %s is disabled", networkName)
	}

	return &network, nil
}
