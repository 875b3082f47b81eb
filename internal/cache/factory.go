package cache

import (
	"fmt"

	"datafs-go/internal/authority"
	"datafs-go/internal/config"
	"datafs-go/internal/datafs"
)

// NewCacheFromConfig creates the cache tier described by cfg. An empty type
// means no cache and returns a nil Authority.
func NewCacheFromConfig(cfg config.CacheConfig) (datafs.Authority, error) {
	switch cfg.Type {
	case "":
		return nil, nil
	case "lru":
		c, err := NewLRU(cfg.Size, cfg.MaxBlobSize)
		if err != nil {
			return nil, err
		}
		return c, nil
	case "filesystem":
		if cfg.Root == "" {
			return nil, fmt.Errorf("filesystem cache requires root to be set")
		}
		fs, err := authority.NewFileSystem(cfg.Root)
		if err != nil {
			return nil, err
		}
		return fs, nil
	default:
		return nil, fmt.Errorf("%w: cache type %q", datafs.ErrBackendUnsupported, cfg.Type)
	}
}
