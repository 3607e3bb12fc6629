// Package config defines process configuration for the VKYC service.
//
// Operational parameters that tune verification and call behavior (OCR
// confidence threshold, retry caps, grace periods, the recording cap) are
// deliberately configuration, not constants, so deployments can adjust them
// without a rebuild.
package config

import "time"

// Config contains process configuration. Extend as needed.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`

	// Addr configures the HTTP listen address, e.g. ":8080".
	Addr string `koanf:"addr"`

	// PublicBaseURL is the externally reachable base used when rendering
	// verification links, e.g. "https://kyc.example.com".
	PublicBaseURL string `koanf:"public_base_url"`

	// WSBaseURL is the websocket base returned to clients on session start.
	WSBaseURL string `koanf:"ws_base_url"`

	// TicketSigningKey signs the short-lived websocket join tickets.
	TicketSigningKey string `koanf:"ticket_signing_key"`

	// TicketTTL bounds how long a join ticket stays valid.
	TicketTTL time.Duration `koanf:"ticket_ttl"`

	// LinkTTL is the validity window of an issued verification link.
	LinkTTL time.Duration `koanf:"link_ttl"`

	// SessionExpiry bounds how long a begun session may wait for an agent
	// before it is expired.
	SessionExpiry time.Duration `koanf:"session_expiry"`

	// DisconnectGrace is how long a silent peer may stay disconnected
	// before the channel reports the disconnect to the session engine.
	DisconnectGrace time.Duration `koanf:"disconnect_grace"`

	// HeartbeatInterval is advertised to clients on connect.
	HeartbeatInterval time.Duration `koanf:"heartbeat_interval"`

	// OCRConfidenceThreshold is the minimum OCR confidence accepted before
	// fields are submitted to the registry.
	OCRConfidenceThreshold float64 `koanf:"ocr_confidence_threshold"`

	// OCRMaxAttempts caps re-captures per document type.
	OCRMaxAttempts int `koanf:"ocr_max_attempts"`

	// RegistryMaxRetries is the total registry attempt budget per document,
	// counting the first call. Only transient failures consume a retry.
	RegistryMaxRetries int `koanf:"registry_max_retries"`

	// RegistryTimeout bounds a single registry verification call.
	RegistryTimeout time.Duration `koanf:"registry_timeout"`

	// RegistryBackoff is the base delay between registry retries; the delay
	// doubles per attempt.
	RegistryBackoff time.Duration `koanf:"registry_backoff"`

	// OCRTimeout bounds a single OCR extraction call.
	OCRTimeout time.Duration `koanf:"ocr_timeout"`

	// OCRBaseURL and RegistryBaseURL locate the external capabilities.
	OCRBaseURL      string `koanf:"ocr_base_url"`
	RegistryBaseURL string `koanf:"registry_base_url"`
	RegistryAPIKey  string `koanf:"registry_api_key"`

	// RecordingCap is the hard bound on buffered recording duration.
	RecordingCap time.Duration `koanf:"recording_cap"`

	// BiometricQueueSize bounds the in-memory biometric event queue.
	BiometricQueueSize int `koanf:"biometric_queue_size"`

	// ICEServers is the static TURN/STUN list handed to clients.
	ICEServers []string `koanf:"ice_servers"`

	Redis    RedisConfig    `koanf:"redis"`
	Postgres PostgresConfig `koanf:"postgres"`
	S3       S3Config       `koanf:"s3"`
}

// RedisConfig configures the verification-link store. An empty URL means
// Redis is not configured and the in-memory store is used.
type RedisConfig struct {
	URL          string        `koanf:"url"`
	PoolSize     int           `koanf:"pool_size"`
	MinIdleConns int           `koanf:"min_idle_conns"`
	DialTimeout  time.Duration `koanf:"dial_timeout"`
	ReadTimeout  time.Duration `koanf:"read_timeout"`
	WriteTimeout time.Duration `koanf:"write_timeout"`
}

// PostgresConfig configures the persistent session/audit stores. An empty
// DSN means in-memory stores are used.
type PostgresConfig struct {
	DSN          string        `koanf:"dsn"`
	MaxOpenConns int           `koanf:"max_open_conns"`
	MaxIdleConns int           `koanf:"max_idle_conns"`
	ConnLifetime time.Duration `koanf:"conn_lifetime"`
}

// S3Config configures recording artifact storage. An empty bucket disables
// uploads; finalized recordings then stay on local disk.
type S3Config struct {
	Bucket       string `koanf:"bucket"`
	Region       string `koanf:"region"`
	BaseEndpoint string `koanf:"base_endpoint"`
	AccessKey    string `koanf:"access_key"`
	SecretKey    string `koanf:"secret_key"`
	Prefix       string `koanf:"prefix"`
}

// New returns a Config populated with defaults.
func New() *Config {
	return &Config{
		LogLevel:               "info",
		Addr:                   ":8080",
		PublicBaseURL:          "http://localhost:8080",
		WSBaseURL:              "ws://localhost:8080",
		TicketSigningKey:       "dev-secret-key-change-in-production",
		TicketTTL:              2 * time.Minute,
		LinkTTL:                24 * time.Hour,
		SessionExpiry:          5 * time.Minute,
		DisconnectGrace:        30 * time.Second,
		HeartbeatInterval:      30 * time.Second,
		OCRConfidenceThreshold: 0.6,
		OCRMaxAttempts:         3,
		RegistryMaxRetries:     2,
		RegistryTimeout:        10 * time.Second,
		RegistryBackoff:        500 * time.Millisecond,
		OCRTimeout:             30 * time.Second,
		OCRBaseURL:             "http://localhost:8001",
		RegistryBaseURL:        "http://localhost:8002",
		RecordingCap:           10 * time.Minute,
		BiometricQueueSize:     1024,
		Redis: RedisConfig{
			PoolSize:     10,
			MinIdleConns: 2,
			DialTimeout:  5 * time.Second,
			ReadTimeout:  3 * time.Second,
			WriteTimeout: 3 * time.Second,
		},
		Postgres: PostgresConfig{
			MaxOpenConns: 10,
			MaxIdleConns: 5,
			ConnLifetime: 30 * time.Minute,
		},
		S3: S3Config{
			Prefix: "vkyc_videos",
		},
	}
}
