package config

import (
	"fmt"
	"os"
	"runtime"
	"strings"

	"github.com/spf13/viper"
)

// Config holds all configuration for the query core.
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Storage   StorageConfig
	Log       LogConfig
	Metrics   MetricsConfig
	Query     QueryConfig
	PlanMaker PlanMakerConfig
	Broker    BrokerConfig
}

type ServerConfig struct {
	Host           string
	Port           int
	ReadTimeout    int
	WriteTimeout   int
	MaxPayloadSize int64
	TLSEnabled     bool
	TLSCertFile    string
	TLSKeyFile     string
}

// DatabaseConfig configures the DuckDB engine backing the demo segment
// implementation's filtered-scan and metadata reads.
type DatabaseConfig struct {
	MaxConnections int
	MemoryLimit    string
	ThreadCount    int
}

type StorageConfig struct {
	Backend   string // local, s3, azure
	LocalPath string

	// CacheDir is where segstore caches remote (s3/azure) segment files
	// after fetching them via Backend.List/Read, so DuckDB's read_parquet
	// can query a local path. Unused for the local backend, which already
	// resolves a local path directly.
	CacheDir string

	S3Bucket    string
	S3Region    string
	S3Endpoint  string
	S3AccessKey string
	S3SecretKey string
	S3UseSSL    bool
	S3PathStyle bool

	AzureConnectionString   string
	AzureAccountName        string
	AzureAccountKey         string
	AzureSASToken           string
	AzureContainer          string
	AzureUseManagedIdentity bool

	// CircuitBreakerEnabled wraps the chosen backend in a ResilientBackend
	// guarding remote reads (s3/azure) against a wedged downstream.
	CircuitBreakerEnabled bool
}

type LogConfig struct {
	Level  string
	Format string
}

type MetricsConfig struct {
	Enabled bool
}

// QueryConfig carries the per-server execution tunables: worker pool size
// and default request timeout.
type QueryConfig struct {
	WorkerPoolSize   int
	DefaultTimeoutMs int64
	TraceEnabled     bool
	TraceHistorySize int
}

// PlanMakerConfig mirrors query.PlanMakerConfig so it can be loaded from
// configuration without this package importing internal/query.
type PlanMakerConfig struct {
	MaxInitialResultHolderCapacity int
	NumGroupsLimit                 int
}

// BrokerConfig configures the broker's per-server fan-out.
type BrokerConfig struct {
	ServerAddrs        []string
	RequestTimeoutMs   int64
	CircuitBreakerOpen bool
}

// Load loads configuration from environment and config file.
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("ARC_QUERY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetConfigName("arc-query")
	v.SetConfigType("toml")
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/arc-query/")
	v.AddConfigPath("$HOME/.arc-query/")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	maxPayloadSize, err := ParseSize(v.GetString("server.max_payload_size"))
	if err != nil {
		return nil, fmt.Errorf("invalid server.max_payload_size: %w", err)
	}

	cfg := &Config{
		Server: ServerConfig{
			Host:           v.GetString("server.host"),
			Port:           v.GetInt("server.port"),
			ReadTimeout:    v.GetInt("server.read_timeout"),
			WriteTimeout:   v.GetInt("server.write_timeout"),
			MaxPayloadSize: maxPayloadSize,
			TLSEnabled:     v.GetBool("server.tls_enabled"),
			TLSCertFile:    v.GetString("server.tls_cert_file"),
			TLSKeyFile:     v.GetString("server.tls_key_file"),
		},
		Database: DatabaseConfig{
			MaxConnections: v.GetInt("database.max_connections"),
			MemoryLimit:    v.GetString("database.memory_limit"),
			ThreadCount:    v.GetInt("database.thread_count"),
		},
		Storage: StorageConfig{
			Backend:     v.GetString("storage.backend"),
			LocalPath:   v.GetString("storage.local_path"),
			CacheDir:    v.GetString("storage.cache_dir"),
			S3Bucket:    v.GetString("storage.s3_bucket"),
			S3Region:    v.GetString("storage.s3_region"),
			S3Endpoint:  v.GetString("storage.s3_endpoint"),
			S3AccessKey: v.GetString("storage.s3_access_key"),
			S3SecretKey: v.GetString("storage.s3_secret_key"),
			S3UseSSL:    v.GetBool("storage.s3_use_ssl"),
			S3PathStyle: v.GetBool("storage.s3_path_style"),

			AzureConnectionString:   v.GetString("storage.azure_connection_string"),
			AzureAccountName:        v.GetString("storage.azure_account_name"),
			AzureAccountKey:         v.GetString("storage.azure_account_key"),
			AzureSASToken:           v.GetString("storage.azure_sas_token"),
			AzureContainer:          v.GetString("storage.azure_container"),
			AzureUseManagedIdentity: v.GetBool("storage.azure_use_managed_identity"),

			CircuitBreakerEnabled: v.GetBool("storage.circuit_breaker_enabled"),
		},
		Log: LogConfig{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
		},
		Metrics: MetricsConfig{
			Enabled: v.GetBool("metrics.enabled"),
		},
		Query: QueryConfig{
			WorkerPoolSize:   v.GetInt("query.worker_pool_size"),
			DefaultTimeoutMs: v.GetInt64("query.default_timeout_ms"),
			TraceEnabled:     v.GetBool("query.trace_enabled"),
			TraceHistorySize: v.GetInt("query.trace_history_size"),
		},
		PlanMaker: PlanMakerConfig{
			MaxInitialResultHolderCapacity: v.GetInt("planmaker.max_initial_result_holder_capacity"),
			NumGroupsLimit:                 v.GetInt("planmaker.num_groups_limit"),
		},
		Broker: BrokerConfig{
			ServerAddrs:        v.GetStringSlice("broker.server_addrs"),
			RequestTimeoutMs:   v.GetInt64("broker.request_timeout_ms"),
			CircuitBreakerOpen: v.GetBool("broker.circuit_breaker_enabled"),
		},
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8200)
	v.SetDefault("server.read_timeout", 30)
	v.SetDefault("server.write_timeout", 30)
	v.SetDefault("server.max_payload_size", "64MB")
	v.SetDefault("server.tls_enabled", false)
	v.SetDefault("server.tls_cert_file", "")
	v.SetDefault("server.tls_key_file", "")

	v.SetDefault("database.max_connections", getDefaultMaxConnections())
	v.SetDefault("database.memory_limit", getDefaultMemoryLimit())
	v.SetDefault("database.thread_count", getDefaultThreadCount())

	v.SetDefault("storage.backend", "local")
	v.SetDefault("storage.local_path", "./data/segments")
	v.SetDefault("storage.cache_dir", "./data/segment-cache")
	v.SetDefault("storage.s3_region", "us-east-1")
	v.SetDefault("storage.s3_use_ssl", true)
	v.SetDefault("storage.s3_path_style", false)
	v.SetDefault("storage.azure_container", "arc-segments")
	v.SetDefault("storage.circuit_breaker_enabled", true)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("metrics.enabled", true)

	v.SetDefault("query.worker_pool_size", getDefaultThreadCount())
	v.SetDefault("query.default_timeout_ms", 10_000)
	v.SetDefault("query.trace_enabled", true)
	v.SetDefault("query.trace_history_size", 100)

	v.SetDefault("planmaker.max_initial_result_holder_capacity", 10_000)
	v.SetDefault("planmaker.num_groups_limit", 100_000)

	v.SetDefault("broker.server_addrs", []string{})
	v.SetDefault("broker.request_timeout_ms", 10_000)
	v.SetDefault("broker.circuit_breaker_enabled", true)
}

func getDefaultThreadCount() int {
	return runtime.NumCPU()
}

func getDefaultMaxConnections() int {
	cores := runtime.NumCPU()
	maxConns := cores * 2
	if maxConns < 4 {
		return 4
	}
	if maxConns > 64 {
		return 64
	}
	return maxConns
}

func getDefaultMemoryLimit() string {
	cores := runtime.NumCPU()
	estimatedMemGB := cores * 2
	targetMemGB := estimatedMemGB / 2
	if targetMemGB < 1 {
		return "1GB"
	}
	if targetMemGB > 32 {
		return "32GB"
	}
	return fmt.Sprintf("%dGB", targetMemGB)
}

// ValidateTLS validates TLS configuration when TLS is enabled.
func (cfg *ServerConfig) ValidateTLS() error {
	if !cfg.TLSEnabled {
		return nil
	}
	if cfg.TLSCertFile == "" {
		return fmt.Errorf("TLS enabled but server.tls_cert_file not specified")
	}
	if cfg.TLSKeyFile == "" {
		return fmt.Errorf("TLS enabled but server.tls_key_file not specified")
	}
	certInfo, err := os.Stat(cfg.TLSCertFile)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("TLS certificate file not found: %s", cfg.TLSCertFile)
		}
		return fmt.Errorf("cannot access TLS certificate file %s: %w", cfg.TLSCertFile, err)
	}
	if certInfo.IsDir() {
		return fmt.Errorf("TLS certificate path is a directory, not a file: %s", cfg.TLSCertFile)
	}
	keyInfo, err := os.Stat(cfg.TLSKeyFile)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("TLS key file not found: %s", cfg.TLSKeyFile)
		}
		return fmt.Errorf("cannot access TLS key file %s: %w", cfg.TLSKeyFile, err)
	}
	if keyInfo.IsDir() {
		return fmt.Errorf("TLS key path is a directory, not a file: %s", cfg.TLSKeyFile)
	}
	return nil
}

// ParseSize parses a human-readable size string (e.g., "1GB", "500MB", "100KB") to bytes.
func ParseSize(sizeStr string) (int64, error) {
	sizeStr = strings.TrimSpace(strings.ToUpper(sizeStr))
	if sizeStr == "" {
		return 0, fmt.Errorf("empty size string")
	}

	type unitInfo struct {
		suffix     string
		multiplier int64
	}
	units := []unitInfo{
		{"GB", 1024 * 1024 * 1024},
		{"MB", 1024 * 1024},
		{"KB", 1024},
		{"B", 1},
	}

	for _, unit := range units {
		if strings.HasSuffix(sizeStr, unit.suffix) {
			numStr := strings.TrimSpace(strings.TrimSuffix(sizeStr, unit.suffix))
			var num float64
			var trailing string
			n, _ := fmt.Sscanf(numStr, "%f%s", &num, &trailing)
			if n == 0 {
				return 0, fmt.Errorf("invalid size number: %s", numStr)
			}
			if trailing != "" {
				return 0, fmt.Errorf("invalid size format: %s (use e.g., '1GB', '500MB', '100KB')", sizeStr)
			}
			if num < 0 {
				return 0, fmt.Errorf("size cannot be negative: %s", sizeStr)
			}
			return int64(num * float64(unit.multiplier)), nil
		}
	}

	var num int64
	var trailing string
	n, _ := fmt.Sscanf(sizeStr, "%d%s", &num, &trailing)
	if n == 0 || trailing != "" {
		return 0, fmt.Errorf("invalid size format: %s (use e.g., '1GB', '500MB', '100KB')", sizeStr)
	}
	if num < 0 {
		return 0, fmt.Errorf("size cannot be negative: %s", sizeStr)
	}
	return num, nil
}
