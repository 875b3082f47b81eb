package config

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestManager_ReadWrite_RoundTrip(t *testing.T) {
	original := &Config{
		User:    UserConfig{Username: "jdoe", Contact: "jdoe@example.com"},
		BaseDir: "/home/user/.local/share/datafs",
		LogDir:  "/home/user/.local/share/datafs/log",
		Manager: ManagerConfig{Type: "redis", RedisAddr: "localhost:6379", RedisDB: 2, RedisPrefix: "datafs"},
		Authorities: []AuthorityConfig{
			{Type: "filesystem", Name: "local", Root: "/backup/local", Compress: true},
			{Type: "s3", Name: "remote", S3Bucket: "bucket", S3Region: "us-east-1", Encrypt: true},
		},
		Cache: CacheConfig{Type: "lru", Size: 64, MaxBlobSize: 1 << 20},
		Encryption: EncryptionConfig{
			PublicKeyPath:  "/home/user/.local/share/datafs/keys/datafs.pub",
			PrivateKeyPath: "/home/user/.local/share/datafs/keys/datafs.key",
		},
		Staging:           StagingConfig{Dir: "/tmp/stage", MaxSize: 2048},
		DownloadPriority:  []string{"local", "remote"},
		UploadServices:    []string{"remote"},
		Replication:       "all",
		Timeout:           45 * time.Second,
		ChecksumAlgorithm: "md5",
	}

	var buf bytes.Buffer
	m := &Manager{}

	if err := m.Write(&buf, original); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	got, err := m.Read(&buf)
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}

	if got.User != original.User {
		t.Errorf("User = %+v, want %+v", got.User, original.User)
	}
	if got.Manager != original.Manager {
		t.Errorf("Manager = %+v, want %+v", got.Manager, original.Manager)
	}
	if len(got.Authorities) != 2 {
		t.Fatalf("len(Authorities) = %d, want 2", len(got.Authorities))
	}
	if got.Authorities[0] != original.Authorities[0] {
		t.Errorf("Authorities[0] = %+v, want %+v", got.Authorities[0], original.Authorities[0])
	}
	if got.Authorities[1] != original.Authorities[1] {
		t.Errorf("Authorities[1] = %+v, want %+v", got.Authorities[1], original.Authorities[1])
	}
	if got.Cache != original.Cache {
		t.Errorf("Cache = %+v, want %+v", got.Cache, original.Cache)
	}
	if got.Staging != original.Staging {
		t.Errorf("Staging = %+v, want %+v", got.Staging, original.Staging)
	}
	if strings.Join(got.DownloadPriority, ",") != "local,remote" {
		t.Errorf("DownloadPriority = %v, want [local remote]", got.DownloadPriority)
	}
	if strings.Join(got.UploadServices, ",") != "remote" {
		t.Errorf("UploadServices = %v, want [remote]", got.UploadServices)
	}
	if got.Replication != "all" {
		t.Errorf("Replication = %q, want %q", got.Replication, "all")
	}
	if got.Timeout != 45*time.Second {
		t.Errorf("Timeout = %s, want %s", got.Timeout, 45*time.Second)
	}
	if got.ChecksumAlgorithm != "md5" {
		t.Errorf("ChecksumAlgorithm = %q, want %q", got.ChecksumAlgorithm, "md5")
	}
}

func TestManager_Read_DurationString(t *testing.T) {
	m := &Manager{}
	cfg, err := m.Read(strings.NewReader(`
timeout = "1m30s"

[manager]
type = "memory"

[[authorities]]
type = "memory"
name = "mem"
`))
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if cfg.Timeout != 90*time.Second {
		t.Errorf("Timeout = %s, want 1m30s", cfg.Timeout)
	}
	if len(cfg.Authorities) != 1 || cfg.Authorities[0].Name != "mem" {
		t.Errorf("Authorities = %+v, want one named mem", cfg.Authorities)
	}
}

func TestNewConfig(t *testing.T) {
	cfg := NewConfig("jdoe", "jdoe@example.com", "/data/datafs")

	if cfg.User.Username != "jdoe" {
		t.Errorf("User.Username = %q, want %q", cfg.User.Username, "jdoe")
	}
	if cfg.LogDir != "/data/datafs/log" {
		t.Errorf("LogDir = %q, want %q", cfg.LogDir, "/data/datafs/log")
	}
	if cfg.Manager.Type != "sqlite" || cfg.Manager.Path != "/data/datafs/db/datafs.db" {
		t.Errorf("Manager = %+v, want sqlite at /data/datafs/db/datafs.db", cfg.Manager)
	}
	if len(cfg.Authorities) != 1 || cfg.Authorities[0].Root != "/data/datafs/authorities/local" {
		t.Errorf("Authorities = %+v, want one filesystem authority", cfg.Authorities)
	}
	if cfg.Encryption.PublicKeyPath != "/data/datafs/keys/datafs.pub" {
		t.Errorf("Encryption.PublicKeyPath = %q, want %q", cfg.Encryption.PublicKeyPath, "/data/datafs/keys/datafs.pub")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() error = %v", err)
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "defaults", mutate: func(*Config) {}},
		{
			name:    "duplicate authority",
			mutate:  func(c *Config) { c.Authorities = append(c.Authorities, AuthorityConfig{Type: "memory", Name: "local"}) },
			wantErr: "duplicate authority",
		},
		{
			name:    "unnamed authority",
			mutate:  func(c *Config) { c.Authorities = append(c.Authorities, AuthorityConfig{Type: "memory"}) },
			wantErr: "has no name",
		},
		{
			name:    "unknown priority entry",
			mutate:  func(c *Config) { c.DownloadPriority = []string{"nowhere"} },
			wantErr: "unknown authority",
		},
		{
			name:    "bad replication",
			mutate:  func(c *Config) { c.Replication = "quorum" },
			wantErr: "replication",
		},
		{
			name:    "negative timeout",
			mutate:  func(c *Config) { c.Timeout = -time.Second },
			wantErr: "negative timeout",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewConfig("u", "", "/base")
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() error = %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want error containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestInit(t *testing.T) {
	t.Run("creates config file", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "datafs.toml")
		cfg := NewConfig("u1", "", dir)

		if err := Init(path, cfg); err != nil {
			t.Fatalf("Init() error = %v", err)
		}

		if _, err := os.Stat(path); err != nil {
			t.Fatalf("config file not created: %v", err)
		}
	})

	t.Run("fails if file already exists", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "datafs.toml")
		cfg := NewConfig("u1", "", dir)

		if err := Init(path, cfg); err != nil {
			t.Fatalf("first Init() error = %v", err)
		}

		err := Init(path, cfg)
		if err == nil {
			t.Fatal("second Init() expected error")
		}
	})
}

func TestReadFromFile(t *testing.T) {
	t.Run("reads valid config", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "datafs.toml")
		cfg := NewConfig("read-test", "", dir)
		cfg.Manager = ManagerConfig{Type: "memory"}

		if err := Init(path, cfg); err != nil {
			t.Fatalf("Init() error = %v", err)
		}

		got, err := ReadFromFile(path)
		if err != nil {
			t.Fatalf("ReadFromFile() error = %v", err)
		}
		if got.User.Username != "read-test" {
			t.Errorf("User.Username = %q, want %q", got.User.Username, "read-test")
		}
		if got.Manager.Type != "memory" {
			t.Errorf("Manager.Type = %q, want %q", got.Manager.Type, "memory")
		}
	})

	t.Run("rejects invalid config", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "datafs.toml")
		cfg := NewConfig("u", "", dir)
		cfg.Replication = "sometimes"
		if err := Init(path, cfg); err != nil {
			t.Fatalf("Init() error = %v", err)
		}

		if _, err := ReadFromFile(path); err == nil {
			t.Fatal("ReadFromFile() expected error for invalid config")
		}
	})

	t.Run("returns error for missing file", func(t *testing.T) {
		_, err := ReadFromFile("/nonexistent/path/datafs.toml")
		if err == nil {
			t.Fatal("ReadFromFile() expected error for missing file")
		}
	})
}
