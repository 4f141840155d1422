package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	platformstrings "chainrelay/pkg/platform/strings"
)

// EnvPrefix namespaces every environment variable, e.g. CHAINRELAY_SERVER_ADDR.
const EnvPrefix = "CHAINRELAY"

// Config is the full runtime configuration of the relay process.
type Config struct {
	LogLevel string
	Server   Server
	Auth     Auth
	Database Database
	Redis    RedisConfig
	Kafka    Kafka
	Ledger   Ledger
	Pipeline Pipeline
}

// Server captures HTTP and WebSocket level configuration.
type Server struct {
	Addr            string
	AdminToken      string
	ShutdownTimeout time.Duration
	// SendBuffer bounds the outbound frame queue per WebSocket session.
	SendBuffer   int
	WriteTimeout time.Duration
	PingInterval time.Duration
}

// Auth configures validation of tokens minted by the account service.
type Auth struct {
	JWTSigningKey string
	Issuer        string
}

// Database configures the PostgreSQL message store. An empty URL selects the
// in-memory store (development only).
type Database struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// RedisConfig configures the optional Redis client used for presence
// notifications and the cross-instance submission lane.
type RedisConfig struct {
	URL             string
	PoolSize        int
	MinIdleConns    int
	DialTimeout     time.Duration
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	PresenceChannel string
}

// Kafka configures the optional notarization event stream.
type Kafka struct {
	Brokers []string
	Topic   string
}

// Ledger selects and configures the notarization contract client.
type Ledger struct {
	// Mode is "ethereum" for a real JSON-RPC endpoint or "memory" for the
	// in-process simulated ledger.
	Mode            string
	RPCURL          string
	ContractAddress string
	PrivateKey      string
	GasLimit        uint64
	CallTimeout     time.Duration
}

// Pipeline tunes the notarization workers.
type Pipeline struct {
	Workers             int
	QueueSize           int
	MaxAttempts         int
	BaseBackoff         time.Duration
	MaxBackoff          time.Duration
	ConfirmPollInterval time.Duration
	ConfirmTimeout      time.Duration
	SweepInterval       time.Duration
	SweepBatch          int
	// Lane is "local" (single process) or "redis" (lock shared across instances).
	Lane    string
	LaneTTL time.Duration
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log_level", "info")

	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.admin_token", "")
	v.SetDefault("server.shutdown_timeout", 10*time.Second)
	v.SetDefault("server.send_buffer", 64)
	v.SetDefault("server.write_timeout", 10*time.Second)
	v.SetDefault("server.ping_interval", 30*time.Second)

	// Use a default for development - should be overridden in production
	v.SetDefault("auth.jwt_signing_key", "dev-secret-key-change-in-production")
	v.SetDefault("auth.issuer", "")

	v.SetDefault("database.url", "")
	v.SetDefault("database.max_open_conns", 20)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", 30*time.Minute)

	v.SetDefault("redis.url", "")
	v.SetDefault("redis.pool_size", 10)
	v.SetDefault("redis.min_idle_conns", 2)
	v.SetDefault("redis.dial_timeout", 5*time.Second)
	v.SetDefault("redis.read_timeout", 3*time.Second)
	v.SetDefault("redis.write_timeout", 3*time.Second)
	v.SetDefault("redis.presence_channel", "chainrelay:presence")

	v.SetDefault("kafka.brokers", "")
	v.SetDefault("kafka.topic", "chainrelay.notarization")

	v.SetDefault("ledger.mode", "memory")
	v.SetDefault("ledger.rpc_url", "http://127.0.0.1:8545")
	v.SetDefault("ledger.contract_address", "")
	v.SetDefault("ledger.private_key", "")
	v.SetDefault("ledger.gas_limit", 100000)
	v.SetDefault("ledger.call_timeout", 15*time.Second)

	v.SetDefault("pipeline.workers", 4)
	v.SetDefault("pipeline.queue_size", 1024)
	v.SetDefault("pipeline.max_attempts", 5)
	v.SetDefault("pipeline.base_backoff", 2*time.Second)
	v.SetDefault("pipeline.max_backoff", 2*time.Minute)
	v.SetDefault("pipeline.confirm_poll_interval", 2*time.Second)
	v.SetDefault("pipeline.confirm_timeout", 2*time.Minute)
	v.SetDefault("pipeline.sweep_interval", 5*time.Minute)
	v.SetDefault("pipeline.sweep_batch", 100)
	v.SetDefault("pipeline.lane", "local")
	v.SetDefault("pipeline.lane_ttl", 5*time.Minute)
}

// Load reads configuration from defaults, an optional file, and CHAINRELAY_*
// environment variables (highest precedence).
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file %s: %w", path, err)
		}
	}

	cfg := &Config{
		LogLevel: v.GetString("log_level"),
		Server: Server{
			Addr:            v.GetString("server.addr"),
			AdminToken:      v.GetString("server.admin_token"),
			ShutdownTimeout: v.GetDuration("server.shutdown_timeout"),
			SendBuffer:      v.GetInt("server.send_buffer"),
			WriteTimeout:    v.GetDuration("server.write_timeout"),
			PingInterval:    v.GetDuration("server.ping_interval"),
		},
		Auth: Auth{
			JWTSigningKey: v.GetString("auth.jwt_signing_key"),
			Issuer:        v.GetString("auth.issuer"),
		},
		Database: Database{
			URL:             v.GetString("database.url"),
			MaxOpenConns:    v.GetInt("database.max_open_conns"),
			MaxIdleConns:    v.GetInt("database.max_idle_conns"),
			ConnMaxLifetime: v.GetDuration("database.conn_max_lifetime"),
		},
		Redis: RedisConfig{
			URL:             v.GetString("redis.url"),
			PoolSize:        v.GetInt("redis.pool_size"),
			MinIdleConns:    v.GetInt("redis.min_idle_conns"),
			DialTimeout:     v.GetDuration("redis.dial_timeout"),
			ReadTimeout:     v.GetDuration("redis.read_timeout"),
			WriteTimeout:    v.GetDuration("redis.write_timeout"),
			PresenceChannel: v.GetString("redis.presence_channel"),
		},
		Kafka: Kafka{
			Brokers: platformstrings.SplitList(v.GetString("kafka.brokers")),
			Topic:   v.GetString("kafka.topic"),
		},
		Ledger: Ledger{
			Mode:            strings.ToLower(v.GetString("ledger.mode")),
			RPCURL:          v.GetString("ledger.rpc_url"),
			ContractAddress: v.GetString("ledger.contract_address"),
			PrivateKey:      v.GetString("ledger.private_key"),
			GasLimit:        v.GetUint64("ledger.gas_limit"),
			CallTimeout:     v.GetDuration("ledger.call_timeout"),
		},
		Pipeline: Pipeline{
			Workers:             v.GetInt("pipeline.workers"),
			QueueSize:           v.GetInt("pipeline.queue_size"),
			MaxAttempts:         v.GetInt("pipeline.max_attempts"),
			BaseBackoff:         v.GetDuration("pipeline.base_backoff"),
			MaxBackoff:          v.GetDuration("pipeline.max_backoff"),
			ConfirmPollInterval: v.GetDuration("pipeline.confirm_poll_interval"),
			ConfirmTimeout:      v.GetDuration("pipeline.confirm_timeout"),
			SweepInterval:       v.GetDuration("pipeline.sweep_interval"),
			SweepBatch:          v.GetInt("pipeline.sweep_batch"),
			Lane:                strings.ToLower(v.GetString("pipeline.lane")),
			LaneTTL:             v.GetDuration("pipeline.lane_ttl"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations the relay cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.Pipeline.Workers <= 0 {
		errs = append(errs, errors.New("pipeline.workers must be positive"))
	}
	if c.Pipeline.QueueSize <= 0 {
		errs = append(errs, errors.New("pipeline.queue_size must be positive"))
	}
	if c.Pipeline.MaxAttempts <= 0 {
		errs = append(errs, errors.New("pipeline.max_attempts must be positive"))
	}
	if c.Pipeline.BaseBackoff <= 0 || c.Pipeline.MaxBackoff < c.Pipeline.BaseBackoff {
		errs = append(errs, errors.New("pipeline backoff must satisfy 0 < base <= max"))
	}
	switch c.Pipeline.Lane {
	case "local":
	case "redis":
		if c.Redis.URL == "" {
			errs = append(errs, errors.New("pipeline.lane=redis requires redis.url"))
		}
		// An attempt may poll a leftover transaction and then a fresh one
		// while holding the lane.
		if c.Pipeline.LaneTTL <= 2*c.Pipeline.ConfirmTimeout {
			errs = append(errs, errors.New("pipeline.lane_ttl must exceed twice pipeline.confirm_timeout"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown pipeline.lane %q", c.Pipeline.Lane))
	}
	switch c.Ledger.Mode {
	case "memory":
	case "ethereum":
		if c.Ledger.ContractAddress == "" {
			errs = append(errs, errors.New("ledger.contract_address is required in ethereum mode"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown ledger.mode %q", c.Ledger.Mode))
	}
	if c.Server.SendBuffer <= 0 {
		errs = append(errs, errors.New("server.send_buffer must be positive"))
	}
	return errors.Join(errs...)
}
