package app

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// FileConfig is the YAML layout of ROOMGATE_CONFIG_FILE. Durations are Go duration strings.
type FileConfig struct {
	Server struct {
		HTTPAddr     string `yaml:"http_addr"`
		TrustProxy   *bool  `yaml:"trust_proxy"`
		MaxBodyBytes int    `yaml:"max_body_bytes"`
	} `yaml:"server"`

	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`

	Database struct {
		URL          string `yaml:"url"`
		Schema       string `yaml:"schema"`
		MaxConns     int32  `yaml:"max_conns"`
		MinConns     int32  `yaml:"min_conns"`
		SQLitePath   string `yaml:"sqlite_path"`
		RequireReady *bool  `yaml:"require_ready"`
	} `yaml:"database"`

	Lease struct {
		Timeout           string `yaml:"timeout"`
		HeartbeatInterval string `yaml:"heartbeat_interval"`
		ExpiryGrace       string `yaml:"expiry_grace"`
		SweepInterval     string `yaml:"sweep_interval"`
	} `yaml:"lease"`

	LiveKit struct {
		URL       string `yaml:"url"`
		APIKey    string `yaml:"api_key"`
		APISecret string `yaml:"api_secret"`
		Fallback  struct {
			URL       string `yaml:"url"`
			APIKey    string `yaml:"api_key"`
			APISecret string `yaml:"api_secret"`
		} `yaml:"fallback"`
		CredentialTTL string `yaml:"credential_ttl"`
	} `yaml:"livekit"`

	Admin struct {
		APIKey string `yaml:"api_key"`
	} `yaml:"admin"`

	RateLimit struct {
		Events int    `yaml:"events"`
		Window string `yaml:"window"`
	} `yaml:"rate_limit"`
}

var envRef = regexp.MustCompile(`\$\{([^}]+)\}`)

// LoadConfigFile reads path and expands ${VAR} references from the environment before parsing.
func LoadConfigFile(path string) (FileConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return FileConfig{}, fmt.Errorf("reading config file: %w", err)
	}
	var fc FileConfig
	if err := yaml.Unmarshal([]byte(expandEnvVars(string(data))), &fc); err != nil {
		return FileConfig{}, fmt.Errorf("parsing config file: %w", err)
	}
	return fc, nil
}

// expandEnvVars replaces ${VAR} with the variable's value; unset variables become empty.
func expandEnvVars(s string) string {
	return envRef.ReplaceAllStringFunc(s, func(m string) string {
		return os.Getenv(envRef.FindStringSubmatch(m)[1])
	})
}

// apply copies every set field onto cfg.
func (fc FileConfig) apply(cfg *Config) error {
	setString(&cfg.HTTPAddr, fc.Server.HTTPAddr)
	if fc.Server.TrustProxy != nil {
		cfg.TrustProxy = *fc.Server.TrustProxy
	}
	if fc.Server.MaxBodyBytes > 0 {
		cfg.MaxBodyBytes = fc.Server.MaxBodyBytes
	}

	setString(&cfg.LogLevel, fc.Log.Level)
	setString(&cfg.LogFormat, fc.Log.Format)

	setString(&cfg.DatabaseURL, fc.Database.URL)
	setString(&cfg.DBSchema, fc.Database.Schema)
	setString(&cfg.SQLitePath, fc.Database.SQLitePath)
	if fc.Database.MaxConns > 0 {
		cfg.DBMaxConns = fc.Database.MaxConns
	}
	if fc.Database.MinConns > 0 {
		cfg.DBMinConns = fc.Database.MinConns
	}
	if fc.Database.RequireReady != nil {
		cfg.ReadinessRequireDB = *fc.Database.RequireReady
	}

	setString(&cfg.LiveKit.URL, fc.LiveKit.URL)
	setString(&cfg.LiveKit.APIKey, fc.LiveKit.APIKey)
	setString(&cfg.LiveKit.APISecret, fc.LiveKit.APISecret)
	setString(&cfg.LiveKitFallback.URL, fc.LiveKit.Fallback.URL)
	setString(&cfg.LiveKitFallback.APIKey, fc.LiveKit.Fallback.APIKey)
	setString(&cfg.LiveKitFallback.APISecret, fc.LiveKit.Fallback.APISecret)

	setString(&cfg.AdminAPIKey, fc.Admin.APIKey)
	if fc.RateLimit.Events > 0 {
		cfg.AdmissionRateEvents = fc.RateLimit.Events
	}

	durations := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"lease.timeout", fc.Lease.Timeout, &cfg.LeaseTimeout},
		{"lease.heartbeat_interval", fc.Lease.HeartbeatInterval, &cfg.HeartbeatInterval},
		{"lease.expiry_grace", fc.Lease.ExpiryGrace, &cfg.ExpiryGrace},
		{"lease.sweep_interval", fc.Lease.SweepInterval, &cfg.SweepInterval},
		{"livekit.credential_ttl", fc.LiveKit.CredentialTTL, &cfg.CredentialTTL},
		{"rate_limit.window", fc.RateLimit.Window, &cfg.AdmissionRateWindow},
	}
	for _, d := range durations {
		if d.raw == "" {
			continue
		}
		v, err := time.ParseDuration(d.raw)
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", d.name, d.raw, err)
		}
		*d.dst = v
	}
	return nil
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}
