package authority

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"datafs-go/internal/config"
	"datafs-go/internal/datafs"
	"datafs-go/internal/encryption"
)

// testContract exercises the behavior every Authority must share.
func testContract(t *testing.T, a datafs.Authority) {
	t.Helper()
	ctx := context.Background()
	key := datafs.Key{Archive: "my_archive", Version: "0.0.1"}

	t.Run("fetch missing", func(t *testing.T) {
		_, err := a.Fetch(ctx, datafs.Key{Archive: "absent", Version: "1"})
		if !errors.Is(err, datafs.ErrNotFound) {
			t.Errorf("Fetch() error = %v, want ErrNotFound", err)
		}
	})

	t.Run("store fetch delete", func(t *testing.T) {
		if err := a.Store(ctx, key, strings.NewReader("hello world")); err != nil {
			t.Fatalf("Store() error = %v", err)
		}

		ok, err := a.Exists(ctx, key)
		if err != nil || !ok {
			t.Fatalf("Exists() = %v, %v, want true", ok, err)
		}

		rc, err := a.Fetch(ctx, key)
		if err != nil {
			t.Fatalf("Fetch() error = %v", err)
		}
		got, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			t.Fatalf("reading fetched blob: %v", err)
		}
		if string(got) != "hello world" {
			t.Errorf("Fetch() = %q, want %q", got, "hello world")
		}

		if err := a.Delete(ctx, key); err != nil {
			t.Fatalf("Delete() error = %v", err)
		}
		if ok, _ := a.Exists(ctx, key); ok {
			t.Error("Exists() = true after Delete")
		}
		if err := a.Delete(ctx, key); err != nil {
			t.Errorf("second Delete() error = %v, want nil", err)
		}
	})

	t.Run("overwrite", func(t *testing.T) {
		for _, s := range []string{"first", "second"} {
			if err := a.Store(ctx, key, strings.NewReader(s)); err != nil {
				t.Fatalf("Store(%q) error = %v", s, err)
			}
		}
		rc, err := a.Fetch(ctx, key)
		if err != nil {
			t.Fatalf("Fetch() error = %v", err)
		}
		defer rc.Close()
		got, _ := io.ReadAll(rc)
		if string(got) != "second" {
			t.Errorf("Fetch() = %q, want %q", got, "second")
		}
	})

	t.Run("same version with different checksums", func(t *testing.T) {
		first := datafs.Key{Archive: "racy", Version: "0.0.2", Checksum: "aaaa"}
		second := datafs.Key{Archive: "racy", Version: "0.0.2", Checksum: "bbbb"}
		if err := a.Store(ctx, first, strings.NewReader("committed")); err != nil {
			t.Fatalf("Store() error = %v", err)
		}
		if err := a.Store(ctx, second, strings.NewReader("rejected")); err != nil {
			t.Fatalf("Store() error = %v", err)
		}
		rc, err := a.Fetch(ctx, first)
		if err != nil {
			t.Fatalf("Fetch() error = %v", err)
		}
		defer rc.Close()
		got, _ := io.ReadAll(rc)
		if string(got) != "committed" {
			t.Errorf("Fetch() = %q, want committed", got)
		}
	})

	t.Run("empty blob", func(t *testing.T) {
		k := datafs.Key{Archive: "empty", Version: "0.0.1"}
		if err := a.Store(ctx, k, bytes.NewReader(nil)); err != nil {
			t.Fatalf("Store() error = %v", err)
		}
		rc, err := a.Fetch(ctx, k)
		if err != nil {
			t.Fatalf("Fetch() error = %v", err)
		}
		defer rc.Close()
		got, _ := io.ReadAll(rc)
		if len(got) != 0 {
			t.Errorf("Fetch() returned %d bytes, want 0", len(got))
		}
	})
}

func TestMemory(t *testing.T) {
	testContract(t, NewMemory())
}

func TestFileSystem(t *testing.T) {
	root := filepath.Join(t.TempDir(), "authority")
	fs, err := NewFileSystem(root)
	if err != nil {
		t.Fatalf("NewFileSystem() error = %v", err)
	}
	testContract(t, fs)

	t.Run("layout", func(t *testing.T) {
		key := datafs.Key{Archive: "layout", Version: "1.2.3"}
		if err := fs.Store(context.Background(), key, strings.NewReader("x")); err != nil {
			t.Fatalf("Store() error = %v", err)
		}
		if _, err := os.Stat(filepath.Join(root, "layout", "1.2.3")); err != nil {
			t.Errorf("blob file not at expected path: %v", err)
		}
		entries, _ := os.ReadDir(filepath.Join(root, "layout"))
		for _, e := range entries {
			if strings.HasPrefix(e.Name(), ".tmp-") {
				t.Errorf("temp file %s left behind", e.Name())
			}
		}
	})

	t.Run("requires root", func(t *testing.T) {
		if _, err := NewFileSystem(""); err == nil {
			t.Error("NewFileSystem(\"\") expected error")
		}
	})

	t.Run("cancelled store leaves nothing", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		key := datafs.Key{Archive: "cancelled", Version: "1"}
		if err := fs.Store(ctx, key, strings.NewReader("data")); err == nil {
			t.Fatal("Store() with cancelled context expected error")
		}
		if ok, _ := fs.Exists(context.Background(), key); ok {
			t.Error("blob exists after cancelled Store")
		}
	})
}

func TestTemp(t *testing.T) {
	tmp, err := NewTemp()
	if err != nil {
		t.Fatalf("NewTemp() error = %v", err)
	}
	testContract(t, tmp)

	root := tmp.Root()
	if err := tmp.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if _, err := os.Stat(root); !os.IsNotExist(err) {
		t.Errorf("temp root still exists after Close: %v", err)
	}
}

func TestCompressed(t *testing.T) {
	testContract(t, NewCompressed(NewMemory()))

	t.Run("inner holds compressed bytes", func(t *testing.T) {
		inner := NewMemory()
		c := NewCompressed(inner)
		ctx := context.Background()
		key := datafs.Key{Archive: "big", Version: "0.0.1"}
		plain := bytes.Repeat([]byte("datafs "), 10000)

		if err := c.Store(ctx, key, bytes.NewReader(plain)); err != nil {
			t.Fatalf("Store() error = %v", err)
		}
		rc, _ := inner.Fetch(ctx, key)
		raw, _ := io.ReadAll(rc)
		rc.Close()
		if len(raw) >= len(plain) {
			t.Errorf("stored %d bytes for %d bytes of repetitive input", len(raw), len(plain))
		}
	})
}

func TestEncrypted(t *testing.T) {
	enc := encryption.NewTestEncryptor()
	dec, err := enc.Unlock("")
	if err != nil {
		t.Fatalf("Unlock() error = %v", err)
	}
	testContract(t, NewEncrypted(NewMemory(), enc, dec))

	t.Run("locked fetch", func(t *testing.T) {
		inner := NewMemory()
		e := NewEncrypted(inner, enc, nil)
		ctx := context.Background()
		key := datafs.Key{Archive: "secret", Version: "0.0.1"}

		if err := e.Store(ctx, key, strings.NewReader("payload")); err != nil {
			t.Fatalf("Store() error = %v", err)
		}
		if _, err := e.Fetch(ctx, key); !errors.Is(err, datafs.ErrCredentials) {
			t.Errorf("Fetch() error = %v, want ErrCredentials", err)
		}
	})

	t.Run("compressed then encrypted", func(t *testing.T) {
		cfg := config.AuthorityConfig{Name: "both", Compress: true, Encrypt: true}
		a, err := Wrap(NewMemory(), cfg, enc, dec)
		if err != nil {
			t.Fatalf("Wrap() error = %v", err)
		}
		testContract(t, a)
	})
}

func TestWrap_EncryptWithoutKeys(t *testing.T) {
	cfg := config.AuthorityConfig{Name: "sealed", Encrypt: true}
	_, err := Wrap(NewMemory(), cfg, nil, nil)
	if !errors.Is(err, datafs.ErrCredentials) {
		t.Errorf("Wrap() error = %v, want ErrCredentials", err)
	}
}

func TestRegistry(t *testing.T) {
	ctx := context.Background()
	r := NewRegistry()

	tests := []struct {
		name    string
		cfg     config.AuthorityConfig
		wantErr error
		anyErr  bool
	}{
		{name: "memory", cfg: config.AuthorityConfig{Type: "memory", Name: "m"}},
		{name: "filesystem", cfg: config.AuthorityConfig{Type: "filesystem", Name: "fs", Root: t.TempDir()}},
		{name: "filesystem without root", cfg: config.AuthorityConfig{Type: "filesystem", Name: "fs"}, anyErr: true},
		{name: "unknown", cfg: config.AuthorityConfig{Type: "ftp", Name: "f"}, wantErr: datafs.ErrBackendUnsupported},
		{name: "s3 without bucket", cfg: config.AuthorityConfig{Type: "s3", Name: "s"}, wantErr: datafs.ErrCredentials},
		{name: "gcs without bucket", cfg: config.AuthorityConfig{Type: "gcs", Name: "g"}, wantErr: datafs.ErrCredentials},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, err := r.New(ctx, tt.cfg)
			switch {
			case tt.wantErr != nil:
				if !errors.Is(err, tt.wantErr) {
					t.Errorf("New() error = %v, want %v", err, tt.wantErr)
				}
			case tt.anyErr:
				if err == nil {
					t.Error("New() expected error")
				}
			default:
				if err != nil || a == nil {
					t.Errorf("New() = %v, %v", a, err)
				}
			}
		})
	}

	t.Run("register custom", func(t *testing.T) {
		mem := NewMemory()
		r.Register("custom", func(context.Context, config.AuthorityConfig) (datafs.Authority, error) { return mem, nil })
		a, err := r.New(ctx, config.AuthorityConfig{Type: "custom"})
		if err != nil || a != datafs.Authority(mem) {
			t.Errorf("New(custom) = %v, %v", a, err)
		}
	})

	want := []string{"custom", "filesystem", "gcs", "memory", "s3", "temp"}
	if got := r.Types(); strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("Types() = %v, want %v", got, want)
	}
}
