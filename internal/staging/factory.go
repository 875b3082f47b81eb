package staging

import (
	"datafs-go/internal/config"
	"datafs-go/internal/datafs"
)

// NewStagingAreaFromConfig creates the staging area described by cfg.
// Without a configured directory a fresh temp directory is used.
func NewStagingAreaFromConfig(cfg config.StagingConfig) (datafs.StagingArea, error) {
	if cfg.Dir == "" {
		sa, err := NewTempStagingArea()
		if err != nil {
			return nil, err
		}
		sa.maxSize = cfg.MaxSize
		return sa, nil
	}
	return NewFileSystemStagingArea(cfg.Dir, cfg.MaxSize, datafs.UUIDGenerator{})
}
