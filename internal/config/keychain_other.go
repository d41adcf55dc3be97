//go:build !darwin

package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// secretsFilePath follows PREFSD_STORAGE_DATA_DIR when it is set.
func secretsFilePath() string {
	if dir := os.Getenv("PREFSD_STORAGE_DATA_DIR"); dir != "" {
		return filepath.Join(dir, "secrets.json")
	}
	return filepath.Join(defaultDataDir(), "secrets.json")
}

func secretID(service, account string) string {
	return service + "/" + account
}

func readSecrets(path string) (map[string]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	secrets := make(map[string]string)
	if err := json.Unmarshal(data, &secrets); err != nil {
		return nil, fmt.Errorf("parsing secrets file: %w", err)
	}
	return secrets, nil
}

func keychainGet(service, account string) ([]byte, error) {
	secrets, err := readSecrets(secretsFilePath())
	if err != nil {
		return nil, fmt.Errorf("secret store not available: %w", err)
	}
	val, ok := secrets[secretID(service, account)]
	if !ok {
		return nil, fmt.Errorf("secret %q not found", secretID(service, account))
	}
	return []byte(val), nil
}

func keychainSet(service, account, value string) error {
	p := secretsFilePath()

	secrets, err := readSecrets(p)
	if err != nil {
		if !os.IsNotExist(err) {
			return err
		}
		secrets = make(map[string]string)
	}
	secrets[secretID(service, account)] = value

	if err := os.MkdirAll(filepath.Dir(p), 0o700); err != nil {
		return fmt.Errorf("creating secrets dir: %w", err)
	}
	out, err := json.MarshalIndent(secrets, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(p, out, 0o600)
}
