package app

import (
	"fmt"
	"os"
	"path/filepath"
)

// PassphraseEnv names the environment variable consulted before prompting for the key passphrase.
const PassphraseEnv = "DATAFS_PASSPHRASE"

// GetDefaults returns application default paths, checking environment variables first.
// Environment variables:
//   - DATAFS_CONFIG_PATH: config file location (default: ~/.config/datafs.toml)
//   - DATAFS_HOME: base directory for datafs data (default: ~/.local/share/datafs)
func GetDefaults() (map[string]string, error) {
	configPath, err := getConfigPath()
	if err != nil {
		return nil, err
	}

	baseDir, err := getBaseDir()
	if err != nil {
		return nil, err
	}

	return map[string]string{
		"config_path": configPath,
		"base_dir":    baseDir,
		"log_dir":     filepath.Join(baseDir, "log"),
	}, nil
}

// getConfigPath returns the config file path, checking DATAFS_CONFIG_PATH first,
// then falling back to ~/.config/datafs.toml.
func getConfigPath() (string, error) {
	if path := os.Getenv("DATAFS_CONFIG_PATH"); path != "" {
		return path, nil
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	return filepath.Join(homeDir, ".config", "datafs.toml"), nil
}

// getBaseDir returns the base directory for datafs data, checking DATAFS_HOME
// first, then falling back to the XDG default ~/.local/share/datafs.
func getBaseDir() (string, error) {
	if path := os.Getenv("DATAFS_HOME"); path != "" {
		return path, nil
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	return filepath.Join(homeDir, ".local", "share", "datafs"), nil
}

// PassphraseFromEnv returns the passphrase set in DATAFS_PASSPHRASE, if any.
func PassphraseFromEnv() (string, bool) {
	return os.LookupEnv(PassphraseEnv)
}
