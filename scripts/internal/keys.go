package internal

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/pewsoft/subscriptions/internal/auth"
	"github.com/pewsoft/subscriptions/internal/config"
)

// GenerateAdminAPIKey prints a new platform admin key and its config entry
func GenerateAdminAPIKey() error {
	userID := os.Getenv("USER_ID")
	if userID == "" {
		return fmt.Errorf("user_id is required")
	}

	rawKey := auth.GenerateAPIKey()
	hashedKey := auth.HashAPIKey(rawKey)

	jsonBytes, err := json.Marshal(map[string]string{hashedKey: userID})
	if err != nil {
		return err
	}

	fmt.Printf("\nNew admin API key generated:\n")
	fmt.Printf("Raw key (send as x-api-key): %s\n", rawKey)
	fmt.Printf("\nAdd this to your config.yaml under auth.admin_api_keys:\n")
	fmt.Printf("  %s: %s\n", hashedKey, userID)
	fmt.Printf("\nOr set this environment variable:\n")
	fmt.Printf("PEWSOFT_AUTH_ADMIN_API_KEYS='%s'\n", string(jsonBytes))

	return nil
}

// GenerateTenantToken signs a short lived tenant token for local testing
func GenerateTenantToken() error {
	userID := os.Getenv("USER_ID")
	tenantID := os.Getenv("TENANT_ID")
	if userID == "" || tenantID == "" {
		return fmt.Errorf("tenant_id and user_id are required")
	}

	cfg, err := config.NewConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	token, err := auth.GenerateToken(cfg.Auth.Secret, userID, tenantID, 24*time.Hour)
	if err != nil {
		return err
	}

	fmt.Printf("Authorization: Bearer %s\n", token)
	return nil
}
