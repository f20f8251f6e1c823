package config

import (
	"log"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config holds the overall application configuration.
type Config struct {
	LogLevel      string `envconfig:"LOG_LEVEL"      default:"info"`
	SequenceStore string `envconfig:"SEQUENCE_STORE" default:"redis"` // redis | postgres
	DatabaseURL   string `envconfig:"DATABASE_URL"`                   // required when SequenceStore is postgres

	ProcessorFile string `envconfig:"PROCESSOR_CONFIG_FILE" default:"processors.yaml"`

	Redis     RedisConfig
	Transport TransportConfig
	HTTP      HTTPConfig
}

// RedisConfig covers the sequence counter, the remote message id mapping
// and the multipart reassembly store.
type RedisConfig struct {
	Addr           string        `envconfig:"REDIS_ADDR"       default:"localhost:6379"`
	Password       string        `envconfig:"REDIS_PASSWORD"   default:""`
	DB             int           `envconfig:"REDIS_DB"         default:"0"`
	RemoteIDExpiry time.Duration `envconfig:"REMOTE_ID_EXPIRY" default:"168h"` // how long smsc id -> message id mappings live
}

// TransportConfig holds the SMPP bind and session parameters for the
// single transceiver connection this process maintains.
type TransportConfig struct {
	Name string `envconfig:"TRANSPORT_NAME" default:"smppgate"`

	SMSCAddr   string `envconfig:"SMSC_ADDR"   default:"localhost:2775"`
	SystemID   string `envconfig:"SYSTEM_ID"   default:"smppclient1"`
	Password   string `envconfig:"PASSWORD"    default:"password"`
	SystemType string `envconfig:"SYSTEM_TYPE" default:""`

	// SequencePrefix overrides the sequence counter partition key. Leave
	// empty to derive system_id@transport_name, which keeps distinct binds
	// on distinct counters.
	SequencePrefix string `envconfig:"SEQUENCE_PREFIX" default:""`

	DialTimeout  time.Duration `envconfig:"DIAL_TIMEOUT"  default:"10s"`
	WriteTimeout time.Duration `envconfig:"WRITE_TIMEOUT" default:"10s"`
	BindTimeout  time.Duration `envconfig:"BIND_TIMEOUT"  default:"10s"`

	EnquireLinkInterval time.Duration `envconfig:"ENQUIRE_LINK_INTERVAL" default:"30s"`
	EnquireLinkMissed   int           `envconfig:"ENQUIRE_LINK_MISSED"   default:"3"`

	SubmitTimeout       time.Duration `envconfig:"SUBMIT_TIMEOUT"        default:"30s"`
	ExpireSweepInterval time.Duration `envconfig:"EXPIRE_SWEEP_INTERVAL" default:"1s"`
	UnbindTimeout       time.Duration `envconfig:"UNBIND_TIMEOUT"        default:"2s"`

	Reconnect ReconnectConfig

	// Default address coding for submitted messages.
	SourceTON byte `envconfig:"SOURCE_TON" default:"0"`
	SourceNPI byte `envconfig:"SOURCE_NPI" default:"0"`
	DestTON   byte `envconfig:"DEST_TON"   default:"1"`
	DestNPI   byte `envconfig:"DEST_NPI"   default:"1"`
}

// ReconnectConfig controls the supervisor backoff behavior.
type ReconnectConfig struct {
	MinDelay        time.Duration `envconfig:"RECONNECT_MIN_DELAY"    default:"1s"`
	MaxDelay        time.Duration `envconfig:"RECONNECT_MAX_DELAY"    default:"2m"`
	StableThreshold time.Duration `envconfig:"RECONNECT_STABLE_AFTER" default:"1m"`
}

// SequenceKey returns the partition key for the durable sequence counter.
func (c TransportConfig) SequenceKey() string {
	if c.SequencePrefix != "" {
		return c.SequencePrefix
	}
	return c.SystemID + "@" + c.Name
}

// HTTPConfig holds the status API listener settings.
type HTTPConfig struct {
	Addr         string        `envconfig:"HTTP_ADDR"          default:"0.0.0.0:8080"`
	ReadTimeout  time.Duration `envconfig:"HTTP_READ_TIMEOUT"  default:"5s"`
	WriteTimeout time.Duration `envconfig:"HTTP_WRITE_TIMEOUT" default:"5s"`
	IdleTimeout  time.Duration `envconfig:"HTTP_IDLE_TIMEOUT"  default:"60s"`

	// Bcrypt hash of the API key required on the submission endpoint.
	// Empty disables authentication. Status endpoints are always open.
	APIKeyHash string `envconfig:"HTTP_API_KEY_HASH" default:""`
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config

	if err := godotenv.Load(); err != nil {
		log.Printf("no .env file found, skipping: %v", err)
	}

	err := envconfig.Process("", &cfg)
	if err != nil {
		return nil, err
	}
	return &cfg, nil
}
