package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// Config represents the main configuration for datafs.
type Config struct {
	User        UserConfig        `toml:"user"`
	BaseDir     string            `toml:"base_dir"`
	LogDir      string            `toml:"log_dir"`
	Manager     ManagerConfig     `toml:"manager"`
	Authorities []AuthorityConfig `toml:"authorities"`
	Cache       CacheConfig       `toml:"cache"`
	Encryption  EncryptionConfig  `toml:"encryption"`
	Staging     StagingConfig     `toml:"staging"`

	// Authority names tried on read and written on update. Empty means attachment order.
	DownloadPriority []string `toml:"download_priority,omitempty"`
	UploadServices   []string `toml:"upload_services,omitempty"`

	Replication       string        `toml:"replication"`        // "any" (default) or "all"
	Timeout           time.Duration `toml:"timeout"`            // per backend call; 0 disables
	ChecksumAlgorithm string        `toml:"checksum_algorithm"` // "sha256" (default), "sha384", "sha512", "md5"
}

// UserConfig is the identity recorded as provenance on archives and versions.
type UserConfig struct {
	Username string `toml:"username"`
	Contact  string `toml:"contact"`
}

// ManagerConfig represents configuration for the metadata store.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type ManagerConfig struct {
	Type string `toml:"type"` // "memory", "sqlite", "postgres" or "redis"

	// SQLite-specific fields (only used when Type == "sqlite")
	Path string `toml:"path,omitempty"`

	// Postgres-specific fields (only used when Type == "postgres")
	DSN string `toml:"dsn,omitempty"`

	// Redis-specific fields (only used when Type == "redis")
	RedisAddr     string `toml:"redis_addr,omitempty"`
	RedisPassword string `toml:"redis_password,omitempty"`
	RedisDB       int    `toml:"redis_db,omitempty"`
	RedisPrefix   string `toml:"redis_prefix,omitempty"`
}

// AuthorityConfig represents configuration for a blob storage backend.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type AuthorityConfig struct {
	Type string `toml:"type"` // "memory", "filesystem", "temp", "s3" or "gcs"
	Name string `toml:"name"`

	// Transforms applied on top of the backend.
	Compress bool `toml:"compress,omitempty"` // zstd
	Encrypt  bool `toml:"encrypt,omitempty"`  // age, using the [encryption] keys

	// FileSystem-specific fields (only used when Type == "filesystem")
	Root string `toml:"root,omitempty"`

	// S3-specific fields (only used when Type == "s3")
	S3Bucket          string `toml:"s3_bucket,omitempty"`
	S3Prefix          string `toml:"s3_prefix,omitempty"`
	S3Region          string `toml:"s3_region,omitempty"`
	S3Endpoint        string `toml:"s3_endpoint,omitempty"`
	S3AccessKeyID     string `toml:"s3_access_key_id,omitempty"`
	S3SecretAccessKey string `toml:"s3_secret_access_key,omitempty"`

	// GCS-specific fields (only used when Type == "gcs")
	GCSBucket          string `toml:"gcs_bucket,omitempty"`
	GCSPrefix          string `toml:"gcs_prefix,omitempty"`
	GCSCredentialsFile string `toml:"gcs_credentials_file,omitempty"`
}

// CacheConfig represents configuration for the optional cache tier.
type CacheConfig struct {
	Type        string `toml:"type"`                    // "" (none), "lru" or "filesystem"
	Size        int    `toml:"size,omitempty"`          // lru: max cached blobs
	MaxBlobSize int64  `toml:"max_blob_size,omitempty"` // lru: larger blobs are not cached
	Root        string `toml:"root,omitempty"`          // filesystem: cache directory
}

// EncryptionConfig holds paths to the age key pair used by encrypted authorities.
type EncryptionConfig struct {
	Type           string `toml:"type"` // "age" (default) or "test"
	PublicKeyPath  string `toml:"public_key_path"`
	PrivateKeyPath string `toml:"private_key_path"`
}

// StagingConfig represents configuration for the local staging area.
type StagingConfig struct {
	Dir     string `toml:"dir,omitempty"` // empty uses a fresh temp directory
	MaxSize int64  `toml:"max_size"`      // max bytes staged at once; 0 means unbounded
}

// NewConfig creates a new Config with the provided identity and defaults rooted at baseDir.
func NewConfig(username, contact, baseDir string) *Config {
	return &Config{
		User:    UserConfig{Username: username, Contact: contact},
		BaseDir: baseDir,
		LogDir:  filepath.Join(baseDir, "log"),
		Manager: ManagerConfig{
			Type: "sqlite",
			Path: filepath.Join(baseDir, "db", "datafs.db"),
		},
		Authorities: []AuthorityConfig{
			{Type: "filesystem", Name: "local", Root: filepath.Join(baseDir, "authorities", "local")},
		},
		Encryption: EncryptionConfig{
			PublicKeyPath:  filepath.Join(baseDir, "keys", "datafs.pub"),
			PrivateKeyPath: filepath.Join(baseDir, "keys", "datafs.key"),
		},
		Staging:           StagingConfig{Dir: filepath.Join(baseDir, "staging")},
		Replication:       "any",
		Timeout:           30 * time.Second,
		ChecksumAlgorithm: "sha256",
	}
}

// Validate checks cross-field consistency that decoding cannot.
func (c *Config) Validate() error {
	names := make(map[string]bool, len(c.Authorities))
	for i, a := range c.Authorities {
		if a.Name == "" {
			return fmt.Errorf("authority %d has no name", i)
		}
		if names[a.Name] {
			return fmt.Errorf("duplicate authority name %q", a.Name)
		}
		names[a.Name] = true
	}
	for _, list := range [][]string{c.DownloadPriority, c.UploadServices} {
		for _, n := range list {
			if !names[n] {
				return fmt.Errorf("unknown authority %q in priority list", n)
			}
		}
	}
	switch c.Replication {
	case "", "any", "all":
	default:
		return fmt.Errorf("unknown replication policy %q", c.Replication)
	}
	if c.Timeout < 0 {
		return fmt.Errorf("negative timeout %s", c.Timeout)
	}
	return nil
}

// Manager handles reading and writing configuration.
type Manager struct{}

// Read decodes a Config from the provided reader.
func (m *Manager) Read(r io.Reader) (*Config, error) {
	var cfg Config
	if _, err := toml.NewDecoder(r).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	return &cfg, nil
}

// Write encodes a Config to the provided writer.
func (m *Manager) Write(w io.Writer, cfg *Config) error {
	if err := toml.NewEncoder(w).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return nil
}

// ReadFromFile reads a Config from the specified file path.
func ReadFromFile(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	cfg, err := m.Read(f)
	if err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// writeToFile writes a Config to the specified file path.
func writeToFile(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	if err := m.Write(f, cfg); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}
	return nil
}

// Init initializes a new config file at the specified path with the provided Config.
func Init(path string, cfg *Config) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}

	if err := writeToFile(path, cfg); err != nil {
		return fmt.Errorf("initializing config: %w", err)
	}
	return nil
}
