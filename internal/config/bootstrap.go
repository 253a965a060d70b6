package config

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
)

const bootstrapTemplate = `# aria runtime configuration
admin:
  host: 127.0.0.1
  port: 8790
  token: %q

database:
  url: ${ARIA_DATABASE_URL}

llm:
  gateway_url: ${ARIA_GATEWAY_URL}
  api_key: ${ARIA_GATEWAY_API_KEY}
  models:
    - model: claude-sonnet-4
      max_tokens: 8192
    - model: gpt-4o
      max_tokens: 8192

edge:
  url: ${ARIA_EDGE_URL}
  api_key: ${ARIA_EDGE_API_KEY}

scheduler:
  enabled: true
  workers: 4

artifacts:
  root: artifacts

logging:
  level: info
  format: json
`

// Bootstrap writes a starter configuration file with a freshly generated
// admin token when no file exists at path. An existing file is left
// untouched.
func Bootstrap(path string) error {
	if path == "" {
		return fmt.Errorf("config path is required")
	}
	if _, err := os.Stat(path); err == nil {
		return nil
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("stat config: %w", err)
	}

	token, err := generateToken()
	if err != nil {
		return err
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config dir: %w", err)
		}
	}
	content := fmt.Sprintf(bootstrapTemplate, token)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	slog.Default().With("component", "config").Info("generated configuration", "path", path)
	return nil
}

func generateToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
