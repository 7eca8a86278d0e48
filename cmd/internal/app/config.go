package app

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"roomgate/cmd/internal/admission"
	"roomgate/cmd/internal/credential"
	"roomgate/cmd/internal/gateway"
)

const envPrefix = "ROOMGATE_"

// Config contains all runtime configuration. Values come from defaults, then the optional
// YAML file named by ROOMGATE_CONFIG_FILE, then ROOMGATE_* environment variables.
type Config struct {
	HTTPAddr  string
	LogLevel  string
	LogFormat string

	ReadHeaderTimeout time.Duration
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	MaxHeaderBytes    int

	// DatabaseURL selects Postgres. Otherwise SQLitePath selects SQLite. Otherwise codes live in memory.
	DatabaseURL string
	DBMaxConns  int32
	DBMinConns  int32
	DBSchema    string
	SQLitePath  string

	// If true, /readyz returns 503 unless a database is configured and reachable.
	ReadinessRequireDB bool

	LeaseTimeout      time.Duration
	HeartbeatInterval time.Duration
	ExpiryGrace       time.Duration
	SweepInterval     time.Duration

	LiveKit         credential.Endpoint
	LiveKitFallback credential.Endpoint
	CredentialTTL   time.Duration

	AdminAPIKey         string
	AdmissionRateEvents int
	AdmissionRateWindow time.Duration
	TrustProxy          bool
	MaxBodyBytes        int
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() Config {
	lease := admission.DefaultConfig()
	gw := gateway.DefaultConfig()
	return Config{
		HTTPAddr:  "0.0.0.0:8080",
		LogLevel:  "info",
		LogFormat: "json",

		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
		MaxHeaderBytes:    1 << 20,

		DBMaxConns: 10,
		DBSchema:   "roomgate",

		LeaseTimeout:      lease.LeaseTimeout,
		HeartbeatInterval: lease.HeartbeatInterval,
		ExpiryGrace:       lease.ExpiryGrace,
		SweepInterval:     lease.SweepInterval,

		CredentialTTL: credential.DefaultTTL,

		AdmissionRateEvents: gw.AdmissionRateEvents,
		AdmissionRateWindow: gw.AdmissionRateWindow,
		MaxBodyBytes:        int(gw.MaxBodyBytes),
	}
}

// LoadConfig builds Config from defaults, the optional config file and the environment.
func LoadConfig() (Config, error) {
	cfg := DefaultConfig()
	if path := EnvString(envPrefix+"CONFIG_FILE", ""); path != "" {
		fc, err := LoadConfigFile(path)
		if err != nil {
			return Config{}, err
		}
		if err := fc.apply(&cfg); err != nil {
			return Config{}, fmt.Errorf("config file %s: %w", path, err)
		}
	}
	cfg = cfg.withEnv()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) withEnv() Config {
	e := func(name string) string { return envPrefix + name }

	c.HTTPAddr = EnvString(e("HTTP_ADDR"), c.HTTPAddr)
	c.LogLevel = EnvString(e("LOG_LEVEL"), c.LogLevel)
	c.LogFormat = EnvString(e("LOG_FORMAT"), c.LogFormat)

	c.ReadHeaderTimeout = EnvDuration(e("HTTP_READ_HEADER_TIMEOUT"), c.ReadHeaderTimeout)
	c.ReadTimeout = EnvDuration(e("HTTP_READ_TIMEOUT"), c.ReadTimeout)
	c.WriteTimeout = EnvDuration(e("HTTP_WRITE_TIMEOUT"), c.WriteTimeout)
	c.IdleTimeout = EnvDuration(e("HTTP_IDLE_TIMEOUT"), c.IdleTimeout)
	c.MaxHeaderBytes = EnvInt(e("HTTP_MAX_HEADER_BYTES"), c.MaxHeaderBytes)

	c.DatabaseURL = EnvString(e("DATABASE_URL"), c.DatabaseURL)
	c.DBMaxConns = EnvInt32(e("DB_MAX_CONNS"), c.DBMaxConns)
	c.DBMinConns = EnvInt32(e("DB_MIN_CONNS"), c.DBMinConns)
	c.DBSchema = EnvString(e("DB_SCHEMA"), c.DBSchema)
	c.SQLitePath = EnvString(e("SQLITE_PATH"), c.SQLitePath)
	c.ReadinessRequireDB = EnvBool(e("READINESS_REQUIRE_DB"), c.ReadinessRequireDB)

	c.LeaseTimeout = EnvDuration(e("LEASE_TIMEOUT"), c.LeaseTimeout)
	c.HeartbeatInterval = EnvDuration(e("HEARTBEAT_INTERVAL"), c.HeartbeatInterval)
	c.ExpiryGrace = EnvDuration(e("EXPIRY_GRACE"), c.ExpiryGrace)
	c.SweepInterval = EnvDuration(e("SWEEP_INTERVAL"), c.SweepInterval)

	c.LiveKit.URL = EnvString(e("LIVEKIT_URL"), c.LiveKit.URL)
	c.LiveKit.APIKey = EnvString(e("LIVEKIT_API_KEY"), c.LiveKit.APIKey)
	c.LiveKit.APISecret = EnvString(e("LIVEKIT_API_SECRET"), c.LiveKit.APISecret)
	c.LiveKitFallback.URL = EnvString(e("LIVEKIT_FALLBACK_URL"), c.LiveKitFallback.URL)
	c.LiveKitFallback.APIKey = EnvString(e("LIVEKIT_FALLBACK_API_KEY"), c.LiveKitFallback.APIKey)
	c.LiveKitFallback.APISecret = EnvString(e("LIVEKIT_FALLBACK_API_SECRET"), c.LiveKitFallback.APISecret)
	c.CredentialTTL = EnvDuration(e("CREDENTIAL_TTL"), c.CredentialTTL)

	c.AdminAPIKey = EnvString(e("ADMIN_API_KEY"), c.AdminAPIKey)
	c.AdmissionRateEvents = EnvInt(e("ADMISSION_RATE_EVENTS"), c.AdmissionRateEvents)
	c.AdmissionRateWindow = EnvDuration(e("ADMISSION_RATE_WINDOW"), c.AdmissionRateWindow)
	c.TrustProxy = EnvBool(e("TRUST_PROXY"), c.TrustProxy)
	c.MaxBodyBytes = EnvInt(e("MAX_BODY_BYTES"), c.MaxBodyBytes)
	return c
}

// Validate checks the values that would otherwise fail later at wiring time.
func (c Config) Validate() error {
	if strings.TrimSpace(c.HTTPAddr) == "" {
		return errors.New("config: http addr is required")
	}
	if !c.LiveKit.Complete() {
		return errors.New("config: ROOMGATE_LIVEKIT_URL, ROOMGATE_LIVEKIT_API_KEY and ROOMGATE_LIVEKIT_API_SECRET are required")
	}
	if err := c.Admission().Validate(); err != nil {
		return err
	}
	if c.DBMinConns > c.DBMaxConns && c.DBMaxConns > 0 {
		return fmt.Errorf("config: db min conns %d exceeds max conns %d", c.DBMinConns, c.DBMaxConns)
	}
	return nil
}

// Admission returns the lease timings.
func (c Config) Admission() admission.Config {
	return admission.Config{
		LeaseTimeout:      c.LeaseTimeout,
		HeartbeatInterval: c.HeartbeatInterval,
		ExpiryGrace:       c.ExpiryGrace,
		SweepInterval:     c.SweepInterval,
	}
}

// Gateway returns the HTTP surface settings.
func (c Config) Gateway() gateway.Config {
	return gateway.Config{
		TrustProxy:          c.TrustProxy,
		MaxBodyBytes:        int64(c.MaxBodyBytes),
		AdminAPIKey:         c.AdminAPIKey,
		AdmissionRateEvents: c.AdmissionRateEvents,
		AdmissionRateWindow: c.AdmissionRateWindow,
	}
}

// IssuerOptions returns the credential options implied by the config.
func (c Config) IssuerOptions() []credential.IssuerOption {
	opts := []credential.IssuerOption{credential.WithTTL(c.CredentialTTL)}
	if c.LiveKitFallback.Complete() {
		opts = append(opts, credential.WithFallback(c.LiveKitFallback))
	}
	return opts
}
