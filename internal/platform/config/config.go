// Package config loads the server configuration in three layers: struct
// defaults, an optional YAML file, then PRIVACY_* environment variables.
//
// Environment keys map to config paths by dropping the prefix, lowercasing
// and turning "__" into a level separator:
//
//	PRIVACY_SERVER__ADDR       -> server.addr
//	PRIVACY_RETENTION__WORKERS -> retention.workers
//	PRIVACY_KAFKA__BROKERS     -> kafka.brokers (comma separated)
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"

	pstrings "privacy/pkg/platform/strings"
	"privacy/pkg/validation"
)

const (
	// EnvPrefix is stripped from every environment key.
	EnvPrefix = "PRIVACY_"
	// PathEnvVar names the optional YAML file.
	PathEnvVar = "PRIVACY_CONFIG_PATH"
)

type Config struct {
	Server    Server    `koanf:"server"`
	Postgres  Postgres  `koanf:"postgres"`
	Redis     Redis     `koanf:"redis"`
	Kafka     Kafka     `koanf:"kafka"`
	Retention Retention `koanf:"retention"`
	Privacy   Privacy   `koanf:"privacy"`
	Audit     Audit     `koanf:"audit"`
	Log       Log       `koanf:"log"`
}

// Server captures ops HTTP server configuration.
type Server struct {
	Addr            string        `koanf:"addr" validate:"required"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout" validate:"gt=0"`
}

// Postgres selects the durable entity store and audit outbox. An empty URL
// runs the engine on the in-memory store.
type Postgres struct {
	URL          string        `koanf:"url"`
	MaxOpenConns int           `koanf:"max_open_conns" validate:"min=0"`
	MaxIdleConns int           `koanf:"max_idle_conns" validate:"min=0"`
	ConnMaxLife  time.Duration `koanf:"conn_max_lifetime" validate:"min=0"`
}

// Redis enables the distributed per-subject lock. An empty URL keeps the
// in-process lock.
type Redis struct {
	URL          string        `koanf:"url"`
	PoolSize     int           `koanf:"pool_size" validate:"min=0"`
	MinIdleConns int           `koanf:"min_idle_conns" validate:"min=0"`
	DialTimeout  time.Duration `koanf:"dial_timeout" validate:"min=0"`
	ReadTimeout  time.Duration `koanf:"read_timeout" validate:"min=0"`
	WriteTimeout time.Duration `koanf:"write_timeout" validate:"min=0"`
}

// Kafka enables forwarding audit events to a topic. No brokers, no Kafka.
type Kafka struct {
	Brokers           []string `koanf:"brokers" validate:"dive,hostname_port"`
	Topic             string   `koanf:"topic" validate:"required_with=Brokers"`
	ClientID          string   `koanf:"client_id"`
	Partitions        int32    `koanf:"partitions" validate:"min=1"`
	ReplicationFactor int16    `koanf:"replication_factor" validate:"min=1"`
}

type Retention struct {
	Interval   time.Duration `koanf:"interval" validate:"gt=0"`
	Workers    int           `koanf:"workers" validate:"min=1"`
	LockTTL    time.Duration `koanf:"lock_ttl" validate:"gt=0"`
	RunOnStart bool          `koanf:"run_on_start"`
}

type Privacy struct {
	// PseudonymSecret keys pseudonymization. Empty means a per-process key,
	// so pseudonyms change on restart.
	PseudonymSecret    string        `koanf:"pseudonym_secret"`
	Epsilon            float64       `koanf:"epsilon" validate:"gt=0"`
	Sensitivity        float64       `koanf:"sensitivity" validate:"gte=0"`
	MaxPendingRequests int           `koanf:"max_pending_requests" validate:"min=1"`
	MaxOverduePIAs     int           `koanf:"max_overdue_pias" validate:"min=1"`
	PIAMaxDraftAge     time.Duration `koanf:"pia_max_draft_age" validate:"gt=0"`
	BreachWindow       time.Duration `koanf:"breach_window" validate:"gt=0"`
}

type Audit struct {
	// AsyncBuffer > 0 makes the publisher fire-and-forget with a bounded
	// drop-oldest buffer of that size.
	AsyncBuffer    int           `koanf:"async_buffer" validate:"min=0"`
	RelayInterval  time.Duration `koanf:"relay_interval" validate:"gt=0"`
	RelayBatchSize int           `koanf:"relay_batch_size" validate:"min=1"`
}

type Log struct {
	Level  string `koanf:"level" validate:"oneof=debug info warn error"`
	Format string `koanf:"format" validate:"oneof=json text"`
}

// Default returns the configuration used when nothing overrides it.
func Default() Config {
	return Config{
		Server: Server{
			Addr:            ":8080",
			ShutdownTimeout: 10 * time.Second,
		},
		Postgres: Postgres{
			MaxOpenConns: 10,
			MaxIdleConns: 5,
			ConnMaxLife:  30 * time.Minute,
		},
		Redis: Redis{
			PoolSize:     10,
			MinIdleConns: 2,
			DialTimeout:  5 * time.Second,
			ReadTimeout:  3 * time.Second,
			WriteTimeout: 3 * time.Second,
		},
		Kafka: Kafka{
			Topic:             "privacy.audit",
			ClientID:          "privacy-engine",
			Partitions:        1,
			ReplicationFactor: 1,
		},
		Retention: Retention{
			Interval: 24 * time.Hour,
			Workers:  4,
			LockTTL:  time.Minute,
		},
		Privacy: Privacy{
			Epsilon:            1,
			Sensitivity:        1,
			MaxPendingRequests: 10,
			MaxOverduePIAs:     5,
			PIAMaxDraftAge:     30 * 24 * time.Hour,
			BreachWindow:       30 * 24 * time.Hour,
		},
		Audit: Audit{
			RelayInterval:  time.Second,
			RelayBatchSize: 100,
		},
		Log: Log{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load reads the file named by PRIVACY_CONFIG_PATH, if set, and the
// environment, then validates the result.
func Load() (*Config, error) {
	return LoadFile(os.Getenv(PathEnvVar))
}

// LoadFile is Load with an explicit file path. An empty path skips the file
// layer.
func LoadFile(path string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(Default(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("load config defaults: %w", err)
	}
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", path, err)
		}
	}
	if err := k.Load(env.ProviderWithValue(EnvPrefix, ".", envKeyValue), nil); err != nil {
		return nil, fmt.Errorf("load config environment: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := validation.Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// envKeyValue maps PRIVACY_A__B to a.b and splits list values. Returning an
// empty key drops the variable (the config path variable itself).
func envKeyValue(key, value string) (string, any) {
	if key == PathEnvVar {
		return "", nil
	}
	path := strings.ToLower(strings.TrimPrefix(key, EnvPrefix))
	path = strings.ReplaceAll(path, "__", ".")
	if path == "kafka.brokers" {
		return path, pstrings.SplitList(value)
	}
	return path, value
}
