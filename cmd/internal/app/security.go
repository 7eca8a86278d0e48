package app

import (
	"errors"
	"fmt"

	"roomgate/cmd/security/token"
)

// ValidateSecurityConfig checks secrets at startup. An unset admin key leaves the admin
// routes open, which is logged loudly but allowed for local runs.
func ValidateSecurityConfig(cfg Config, log Logger) error {
	if cfg.AdminAPIKey == "" {
		log.Warn("security.admin.open", "hint", "set ROOMGATE_ADMIN_API_KEY to protect /api/admin")
		return nil
	}
	key, err := token.ValidateKey(cfg.AdminAPIKey, token.MinKeyBytes)
	switch {
	case errors.Is(err, token.ErrKeyMissing):
		return errors.New("security policy: ROOMGATE_ADMIN_API_KEY is blank")
	case errors.Is(err, token.ErrKeyTooShort):
		return fmt.Errorf("security policy: ROOMGATE_ADMIN_API_KEY is too short (min %d bytes)", token.MinKeyBytes)
	case err != nil:
		return err
	}
	log.Info("security.admin.key", "fingerprint", token.Fingerprint(key))
	return nil
}
