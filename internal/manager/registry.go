package manager

import (
	"context"
	"fmt"
	"sort"

	"datafs-go/internal/config"
	"datafs-go/internal/datafs"
)

// Factory builds a manager from its configuration section.
type Factory func(ctx context.Context, cfg config.ManagerConfig) (datafs.Manager, error)

// Registry maps manager type names to factories.
type Registry struct {
	factories map[string]Factory
}

// NewRegistry returns a registry with memory, sqlite, postgres and redis registered.
func NewRegistry() *Registry {
	r := &Registry{factories: make(map[string]Factory)}
	r.Register("memory", func(context.Context, config.ManagerConfig) (datafs.Manager, error) {
		return NewMemory(), nil
	})
	r.Register("sqlite", func(_ context.Context, cfg config.ManagerConfig) (datafs.Manager, error) {
		if cfg.Path == "" {
			return nil, fmt.Errorf("sqlite manager requires path to be set")
		}
		return NewSQLite(cfg.Path)
	})
	r.Register("postgres", func(ctx context.Context, cfg config.ManagerConfig) (datafs.Manager, error) {
		return NewPostgres(ctx, cfg.DSN)
	})
	r.Register("redis", func(ctx context.Context, cfg config.ManagerConfig) (datafs.Manager, error) {
		return NewRedis(ctx, RedisConfig{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
			Prefix:   cfg.RedisPrefix,
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

// New builds the manager described by cfg. Unknown types fail with ErrBackendUnsupported.
func (r *Registry) New(ctx context.Context, cfg config.ManagerConfig) (datafs.Manager, error) {
	f, ok := r.factories[cfg.Type]
	if !ok {
		return nil, fmt.Errorf("%w: manager type %q", datafs.ErrBackendUnsupported, cfg.Type)
	}
	m, err := f(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("creating %s manager: %w", cfg.Type, err)
	}
	return m, nil
}
