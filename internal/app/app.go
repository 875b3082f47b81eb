package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"datafs-go/internal/authority"
	"datafs-go/internal/cache"
	"datafs-go/internal/config"
	"datafs-go/internal/datafs"
	"datafs-go/internal/encryption"
	"datafs-go/internal/manager"
	"datafs-go/internal/staging"
)

// App is the application layer between the CLI and the datafs session.
// It constructs every backend from config, exposes operations that accept
// raw CLI arguments, and releases backend resources on Close.
type App struct {
	cfg     *config.Config
	session *datafs.Session
	logger  *slog.Logger
	op      *Operation
	skipped []string
	closers []io.Closer

	// noUploads is set when upload_services names only skipped backends.
	noUploads bool
	logFile *os.File
}

// Options carries the per-invocation inputs that do not live in the config file.
type Options struct {
	// Passphrase unlocks the private key. Without it encrypted authorities
	// accept writes but fail reads with ErrCredentials.
	Passphrase string

	// Stderr receives a copy of every log line. nil logs to the file only.
	Stderr io.Writer

	// Registries override the built-in backend types. nil uses the defaults.
	Authorities *authority.Registry
	Managers    *manager.Registry
}

// NewApp creates a fully wired App from the given config.
// operation identifies the CLI command being run (e.g. "update", "download").
// The caller must call Close when done.
func NewApp(ctx context.Context, cfg *config.Config, operation string, opts Options) (*App, error) {
	if opts.Authorities == nil {
		opts.Authorities = authority.NewRegistry()
	}
	if opts.Managers == nil {
		opts.Managers = manager.NewRegistry()
	}

	op := NewOperation(operation, datafs.RealClock{}, datafs.UUIDGenerator{})
	logger, logFile, err := newLogger(cfg.LogDir, op.ID, opts.Stderr)
	if err != nil {
		return nil, fmt.Errorf("creating logger: %w", err)
	}

	a := &App{cfg: cfg, logger: logger, op: op, logFile: logFile}
	success := false
	defer func() {
		if !success {
			a.closeBackends()
			logFile.Close()
		}
	}()

	mgr, err := opts.Managers.New(ctx, cfg.Manager)
	if err != nil {
		return nil, err
	}
	a.track(mgr)

	sa, err := staging.NewStagingAreaFromConfig(cfg.Staging)
	if err != nil {
		return nil, fmt.Errorf("creating staging area: %w", err)
	}
	a.track(sa)

	replication, err := datafs.ParseReplication(cfg.Replication)
	if err != nil {
		return nil, err
	}

	enc, dec, err := a.keys(cfg.Encryption, opts.Passphrase)
	if err != nil {
		return nil, err
	}

	sessionOpts := []datafs.Option{
		datafs.WithManager(mgr),
		datafs.WithStaging(sa),
		datafs.WithReplication(replication),
		datafs.WithTimeout(cfg.Timeout),
		datafs.WithLogger(&slogAdapter{l: logger}),
	}
	if cfg.ChecksumAlgorithm != "" {
		sessionOpts = append(sessionOpts, datafs.WithChecksum(cfg.ChecksumAlgorithm))
	}

	var attached []string
	for _, ac := range cfg.Authorities {
		auth, err := a.buildAuthority(ctx, opts.Authorities, ac, enc, dec)
		if err != nil {
			if skippable(err) {
				a.skip(ac.Name, err)
				continue
			}
			return nil, err
		}
		sessionOpts = append(sessionOpts, datafs.WithAuthority(ac.Name, auth))
		attached = append(attached, ac.Name)
	}

	c, err := cache.NewCacheFromConfig(cfg.Cache)
	switch {
	case err != nil && skippable(err):
		a.skip("cache", err)
	case err != nil:
		return nil, fmt.Errorf("creating cache: %w", err)
	case c != nil:
		sessionOpts = append(sessionOpts, datafs.WithCache(c))
	}

	if names := a.available(cfg.DownloadPriority, attached); len(names) > 0 {
		sessionOpts = append(sessionOpts, datafs.WithDownloadPriority(names...))
	} else if len(cfg.DownloadPriority) > 0 {
		a.logger.Warn("no configured authority available, using attachment order", "setting", "download_priority")
	}
	if names := a.available(cfg.UploadServices, attached); len(names) > 0 {
		sessionOpts = append(sessionOpts, datafs.WithUploadServices(names...))
	} else if len(cfg.UploadServices) > 0 {
		a.noUploads = true
		a.logger.Warn("no configured upload service available, updates disabled", "setting", "upload_services")
	}

	user := datafs.User{Username: cfg.User.Username, Contact: cfg.User.Contact}
	s, err := datafs.NewSession(user, sessionOpts...)
	if err != nil {
		return nil, err
	}
	a.session = s

	logger.Debug("session ready", "operation", operation, "manager", cfg.Manager.Type,
		"authorities", strings.Join(attached, ","), "skipped", len(a.skipped))
	success = true
	return a, nil
}

// keys loads the encryptor and, when a passphrase is given, the unlocked decryptor.
// Both are nil when no authority asks for encryption.
func (a *App) keys(cfg config.EncryptionConfig, passphrase string) (encryption.Encryptor, encryption.Decryptor, error) {
	if !slices.ContainsFunc(a.cfg.Authorities, func(ac config.AuthorityConfig) bool { return ac.Encrypt }) {
		return nil, nil, nil
	}
	enc, err := encryption.NewEncryptorFromConfig(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("creating encryptor: %w", err)
	}
	if passphrase == "" || !enc.IsConfigured() {
		return enc, nil, nil
	}
	dec, err := enc.Unlock(passphrase)
	if err != nil {
		return nil, nil, fmt.Errorf("unlocking private key: %w", err)
	}
	return enc, dec, nil
}

func (a *App) buildAuthority(ctx context.Context, reg *authority.Registry, ac config.AuthorityConfig, enc encryption.Encryptor, dec encryption.Decryptor) (datafs.Authority, error) {
	bare, err := reg.New(ctx, ac)
	if err != nil {
		return nil, err
	}
	wrapped, err := authority.Wrap(bare, ac, enc, dec)
	if err != nil {
		closeIfCloser(bare)
		return nil, err
	}
	a.track(bare)
	return wrapped, nil
}

// skippable reports whether a backend construction error should drop the
// backend with a warning instead of failing the whole app.
func skippable(err error) bool {
	return errors.Is(err, datafs.ErrBackendUnsupported) || errors.Is(err, datafs.ErrCredentials)
}

func (a *App) skip(name string, err error) {
	a.skipped = append(a.skipped, name)
	a.logger.Warn("backend skipped", "name", name, "error", err)
}

// available filters a configured priority list down to attached authorities.
func (a *App) available(names, attached []string) []string {
	var out []string
	for _, n := range names {
		if slices.Contains(attached, n) {
			out = append(out, n)
		}
	}
	return out
}

// uploadsAllowed fails when every configured upload service was skipped,
// rather than writing to authorities the config left out.
func (a *App) uploadsAllowed() error {
	if a.noUploads {
		return fmt.Errorf("%w: none of upload_services %v is available", datafs.ErrUnavailable, a.cfg.UploadServices)
	}
	return nil
}

func (a *App) track(v any) {
	if c, ok := v.(io.Closer); ok {
		a.closers = append(a.closers, c)
	}
}

func closeIfCloser(v any) {
	if c, ok := v.(io.Closer); ok {
		c.Close()
	}
}

func (a *App) closeBackends() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

// Session returns the wired session.
func (a *App) Session() *datafs.Session { return a.session }

// Skipped returns the names of backends dropped during construction.
func (a *App) Skipped() []string { return slices.Clone(a.skipped) }

// Operation returns the operation this app was created for.
func (a *App) Operation() *Operation { return a.op }

// observe marks the operation failed when err is non-nil and returns err.
func (a *App) observe(err error) error {
	if err != nil {
		a.op.Fail()
		a.logger.Error("operation failed", "operation", a.op.Name, "error", err)
	}
	return err
}

// CreateArchive registers a new archive.
func (a *App) CreateArchive(ctx context.Context, name string, metadata map[string]any, unversioned, allowExisting bool) (*datafs.Archive, error) {
	arch, err := a.session.CreateArchive(ctx, name, datafs.CreateOptions{
		Metadata:      metadata,
		Unversioned:   unversioned,
		AllowExisting: allowExisting,
	})
	return arch, a.observe(err)
}

// UpdateFile resolves rawPath and stores it as a new version of the named archive.
func (a *App) UpdateFile(ctx context.Context, name, rawPath string, opts datafs.UpdateOptions) (*datafs.UpdateResult, error) {
	if err := a.uploadsAllowed(); err != nil {
		return nil, a.observe(err)
	}
	p, err := filepath.Abs(rawPath)
	if err != nil {
		return nil, a.observe(fmt.Errorf("resolving path: %w", err))
	}
	arch, err := a.session.GetArchive(ctx, name)
	if err != nil {
		return nil, a.observe(err)
	}
	res, err := arch.UpdateFile(ctx, p, opts)
	return res, a.observe(err)
}

// Update stores the content read from r as a new version of the named archive.
func (a *App) Update(ctx context.Context, name string, r io.Reader, opts datafs.UpdateOptions) (*datafs.UpdateResult, error) {
	if err := a.uploadsAllowed(); err != nil {
		return nil, a.observe(err)
	}
	arch, err := a.session.GetArchive(ctx, name)
	if err != nil {
		return nil, a.observe(err)
	}
	res, err := arch.Update(ctx, r, opts)
	return res, a.observe(err)
}

// Download writes a version to rawDest, replacing the file atomically.
func (a *App) Download(ctx context.Context, name, version, rawDest string) (*datafs.VersionRecord, error) {
	dest, err := filepath.Abs(rawDest)
	if err != nil {
		return nil, a.observe(fmt.Errorf("resolving path: %w", err))
	}
	arch, err := a.session.GetArchive(ctx, name)
	if err != nil {
		return nil, a.observe(err)
	}
	v, err := arch.DownloadFile(ctx, version, dest)
	return v, a.observe(err)
}

// Cat writes a version to w.
func (a *App) Cat(ctx context.Context, name, version string, w io.Writer) (*datafs.VersionRecord, error) {
	arch, err := a.session.GetArchive(ctx, name)
	if err != nil {
		return nil, a.observe(err)
	}
	v, err := arch.Download(ctx, version, w)
	return v, a.observe(err)
}

// History returns every version of the named archive.
func (a *App) History(ctx context.Context, name string) (datafs.History, error) {
	arch, err := a.session.GetArchive(ctx, name)
	if err != nil {
		return nil, a.observe(err)
	}
	h, err := arch.GetHistory(ctx)
	return h, a.observe(err)
}

// Versions returns the version ids of the named archive.
func (a *App) Versions(ctx context.Context, name string) ([]string, error) {
	h, err := a.History(ctx, name)
	if err != nil {
		return nil, err
	}
	return h.Versions(), nil
}

// Dependencies returns the pins recorded on a version.
func (a *App) Dependencies(ctx context.Context, name, version string) (map[string]string, error) {
	arch, err := a.session.GetArchive(ctx, name)
	if err != nil {
		return nil, a.observe(err)
	}
	deps, err := arch.GetDependencies(ctx, version)
	return deps, a.observe(err)
}

// Metadata returns the archive-level metadata.
func (a *App) Metadata(ctx context.Context, name string) (map[string]any, error) {
	arch, err := a.session.GetArchive(ctx, name)
	if err != nil {
		return nil, a.observe(err)
	}
	md, err := arch.GetMetadata(ctx)
	return md, a.observe(err)
}

// UpdateMetadata merges or replaces the archive-level metadata.
func (a *App) UpdateMetadata(ctx context.Context, name string, patch map[string]any, replace bool) error {
	arch, err := a.session.GetArchive(ctx, name)
	if err != nil {
		return a.observe(err)
	}
	return a.observe(arch.UpdateMetadata(ctx, patch, replace))
}

// List returns every archive name.
func (a *App) List(ctx context.Context) ([]string, error) {
	names, err := a.session.ListArchives(ctx)
	return names, a.observe(err)
}

// Delete removes an archive and its blobs.
func (a *App) Delete(ctx context.Context, name string) error {
	return a.observe(a.session.DeleteArchive(ctx, name))
}

// Close logs the operation outcome and closes all backends and the log file.
func (a *App) Close() error {
	err := a.closeBackends()
	if err != nil {
		a.logger.Warn("closing backends failed", "error", err)
	}
	a.logger.Info("operation finished", "operation", a.op.Name, "status", a.op.Status, "duration", a.op.Elapsed(datafs.RealClock{}))

	if a.logFile != nil {
		a.logFile.Close()
	}
	return err
}
