package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"

	"github.com/pewsoft/subscriptions/internal/config"
)

// HashAPIKey creates a SHA-256 hash of the API key
func HashAPIKey(key string) string {
	hasher := sha256.New()
	hasher.Write([]byte(key))
	return hex.EncodeToString(hasher.Sum(nil))
}

// GenerateAPIKey generates a new API key
// The key is returned in its raw form, it should be hashed before storing in config
func GenerateAPIKey() string {
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		panic(err)
	}
	return hex.EncodeToString(key)
}

// ValidateAdminAPIKey returns the admin user id bound to key
func ValidateAdminAPIKey(cfg *config.Configuration, key string) (string, bool) {
	if key == "" {
		return "", false
	}
	userID, ok := cfg.Auth.AdminAPIKeys[HashAPIKey(key)]
	return userID, ok && userID != ""
}

// ValidateCronSecret compares the scheduler secret in constant time
func ValidateCronSecret(cfg *config.Configuration, secret string) bool {
	if cfg.Auth.CronSecret == "" || secret == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(cfg.Auth.CronSecret), []byte(secret)) == 1
}
