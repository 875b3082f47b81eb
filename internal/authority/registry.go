package authority

import (
	"context"
	"fmt"
	"sort"

	"datafs-go/internal/config"
	"datafs-go/internal/datafs"
	"datafs-go/internal/encryption"
)

// Factory builds an authority from its configuration section.
type Factory func(ctx context.Context, cfg config.AuthorityConfig) (datafs.Authority, error)

// Registry maps authority type names to factories.
type Registry struct {
	factories map[string]Factory
}

// NewRegistry returns a registry with the built-in types registered.
func NewRegistry() *Registry {
	r := &Registry{factories: make(map[string]Factory)}
	r.Register("memory", func(context.Context, config.AuthorityConfig) (datafs.Authority, error) {
		return NewMemory(), nil
	})
	r.Register("filesystem", func(_ context.Context, cfg config.AuthorityConfig) (datafs.Authority, error) {
		if cfg.Root == "" {
			return nil, fmt.Errorf("filesystem authority %q requires root to be set", cfg.Name)
		}
		return NewFileSystem(cfg.Root)
	})
	r.Register("temp", func(context.Context, config.AuthorityConfig) (datafs.Authority, error) {
		return NewTemp()
	})
	r.Register("s3", func(ctx context.Context, cfg config.AuthorityConfig) (datafs.Authority, error) {
		return NewS3(ctx, S3Config{
			Bucket:          cfg.S3Bucket,
			Prefix:          cfg.S3Prefix,
			Region:          cfg.S3Region,
			Endpoint:        cfg.S3Endpoint,
			AccessKeyID:     cfg.S3AccessKeyID,
			SecretAccessKey: cfg.S3SecretAccessKey,
		})
	})
	r.Register("gcs", func(ctx context.Context, cfg config.AuthorityConfig) (datafs.Authority, error) {
		return NewGCS(ctx, GCSConfig{
			Bucket:          cfg.GCSBucket,
			Prefix:          cfg.GCSPrefix,
			CredentialsFile: cfg.GCSCredentialsFile,
		})
	})
	return r
}

// Register adds or replaces the factory for typ.
func (r *Registry) Register(typ string, f Factory) {
	r.factories[typ] = f
}

// Types returns the registered type names, sorted.
func (r *Registry) Types() []string {
	types := make([]string, 0, len(r.factories))
	for t := range r.factories {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// New builds the bare authority described by cfg. Unknown types fail with
// ErrBackendUnsupported.
func (r *Registry) New(ctx context.Context, cfg config.AuthorityConfig) (datafs.Authority, error) {
	f, ok := r.factories[cfg.Type]
	if !ok {
		return nil, fmt.Errorf("%w: authority type %q", datafs.ErrBackendUnsupported, cfg.Type)
	}
	a, err := f(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("creating %s authority %q: %w", cfg.Type, cfg.Name, err)
	}
	return a, nil
}

// Wrap applies the transforms cfg asks for. Content is compressed before it
// is encrypted. dec may be nil when no passphrase was supplied; reads from
// the encrypted authority then fail with ErrCredentials.
func Wrap(a datafs.Authority, cfg config.AuthorityConfig, enc encryption.Encryptor, dec encryption.Decryptor) (datafs.Authority, error) {
	if cfg.Encrypt {
		if enc == nil || !enc.IsConfigured() {
			return nil, fmt.Errorf("%w: authority %q is encrypted but no keys are configured", datafs.ErrCredentials, cfg.Name)
		}
		a = NewEncrypted(a, enc, dec)
	}
	if cfg.Compress {
		a = NewCompressed(a)
	}
	return a, nil
}
