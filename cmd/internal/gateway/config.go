package gateway

import "time"

// Config controls the HTTP surface.
type Config struct {
	// TrustProxy makes client IP detection honour X-Forwarded-For / X-Real-IP.
	TrustProxy   bool
	MaxBodyBytes int64
	// AdminAPIKey guards the admin routes. Empty disables the check.
	AdminAPIKey string

	// AdmissionRateEvents admission requests are allowed per client IP per AdmissionRateWindow.
	AdmissionRateEvents int
	AdmissionRateWindow time.Duration
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		MaxBodyBytes:        64 << 10,
		AdmissionRateEvents: 30,
		AdmissionRateWindow: time.Minute,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MaxBodyBytes <= 0 {
		c.MaxBodyBytes = d.MaxBodyBytes
	}
	if c.AdmissionRateEvents <= 0 {
		c.AdmissionRateEvents = d.AdmissionRateEvents
	}
	if c.AdmissionRateWindow <= 0 {
		c.AdmissionRateWindow = d.AdmissionRateWindow
	}
	return c
}
