package datafs

import (
	"context"
	"fmt"
	"regexp"
	"slices"
	"sync"
	"time"

	"datafs-go/internal/checksum"
)

// Replication selects how many upload authorities must accept a write.
type Replication int

const (
	// ReplicateAny commits once at least one upload authority stored the content.
	ReplicateAny Replication = iota
	// ReplicateAll commits only when every upload authority stored the content.
	ReplicateAll
)

// ParseReplication converts a policy name ("any", "all") to a Replication.
func ParseReplication(s string) (Replication, error) {
	switch s {
	case "", "any":
		return ReplicateAny, nil
	case "all":
		return ReplicateAll, nil
	}
	return ReplicateAny, fmt.Errorf("unknown replication policy %q", s)
}

func (r Replication) String() string {
	if r == ReplicateAll {
		return "all"
	}
	return "any"
}

var archiveNamePattern = regexp.MustCompile(`^[0-9A-Za-z][0-9A-Za-z._+-]{0,254}$`)

// ValidateArchiveName checks that name can be used as an archive key.
func ValidateArchiveName(name string) error {
	if !archiveNamePattern.MatchString(name) {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return nil
}

// Session binds a manager, named authorities, an optional cache and a user
// identity. Archives obtained from a session read the session's current
// bindings on every operation, so attaching or detaching backends affects
// only archives of this session.
type Session struct {
	mu sync.RWMutex

	user        User
	manager     Manager
	authorities map[string]Authority
	attached    []string // attachment order
	download    []string // explicit download priority; nil means attachment order
	upload      []string // explicit upload services; nil means attachment order
	cache       Authority

	replication Replication
	timeout     time.Duration
	algorithm   string
	staging     StagingArea
	clock       Clock
	logger      Logger
}

// Option configures a Session.
type Option func(*Session) error

// WithManager attaches the metadata store.
func WithManager(m Manager) Option {
	return func(s *Session) error {
		s.manager = m
		return nil
	}
}

// WithAuthority attaches a named blob store.
func WithAuthority(name string, a Authority) Option {
	return func(s *Session) error {
		return s.attachAuthority(name, a)
	}
}

// WithCache attaches a cache tier.
func WithCache(c Authority) Option {
	return func(s *Session) error {
		s.cache = c
		return nil
	}
}

// WithDownloadPriority sets the order authorities are tried on read.
func WithDownloadPriority(names ...string) Option {
	return func(s *Session) error {
		return s.setOrder(&s.download, names)
	}
}

// WithUploadServices sets the authorities written on update.
func WithUploadServices(names ...string) Option {
	return func(s *Session) error {
		return s.setOrder(&s.upload, names)
	}
}

// WithReplication sets the write policy.
func WithReplication(r Replication) Option {
	return func(s *Session) error {
		s.replication = r
		return nil
	}
}

// WithTimeout bounds every individual manager and authority call. Zero disables the bound.
func WithTimeout(d time.Duration) Option {
	return func(s *Session) error {
		if d < 0 {
			return fmt.Errorf("negative timeout %s", d)
		}
		s.timeout = d
		return nil
	}
}

// WithChecksum sets the algorithm used for new archives' content.
func WithChecksum(alg string) Option {
	return func(s *Session) error {
		e, err := checksum.New(alg)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrBackendUnsupported, err)
		}
		s.algorithm = e.Algorithm()
		return nil
	}
}

// WithStaging sets the local staging area.
func WithStaging(sa StagingArea) Option {
	return func(s *Session) error {
		s.staging = sa
		return nil
	}
}

// WithClock overrides the time source.
func WithClock(c Clock) Option {
	return func(s *Session) error {
		s.clock = c
		return nil
	}
}

// WithLogger sets the logger.
func WithLogger(l Logger) Option {
	return func(s *Session) error {
		s.logger = l
		return nil
	}
}

// NewSession creates a Session acting as user.
func NewSession(user User, opts ...Option) (*Session, error) {
	s := &Session{
		user:        user,
		authorities: make(map[string]Authority),
		algorithm:   checksum.Default,
		clock:       RealClock{},
		logger:      NewNopLogger(),
	}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, fmt.Errorf("configuring session: %w", err)
		}
	}
	return s, nil
}

// User returns the session identity.
func (s *Session) User() User { return s.user }

// AttachManager replaces the session's metadata store.
func (s *Session) AttachManager(m Manager) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.manager = m
}

// AttachAuthority adds a named blob store. Names must be unique within the session.
func (s *Session) AttachAuthority(name string, a Authority) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attachAuthority(name, a)
}

func (s *Session) attachAuthority(name string, a Authority) error {
	if name == "" {
		return fmt.Errorf("authority name must not be empty")
	}
	if a == nil {
		return fmt.Errorf("authority %q is nil", name)
	}
	if _, ok := s.authorities[name]; ok {
		return fmt.Errorf("authority %q: %w", name, ErrAlreadyExists)
	}
	s.authorities[name] = a
	s.attached = append(s.attached, name)
	return nil
}

// DetachAuthority removes a named blob store and drops it from both orderings.
func (s *Session) DetachAuthority(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.authorities[name]; !ok {
		return fmt.Errorf("authority %q: %w", name, ErrNotFound)
	}
	delete(s.authorities, name)
	s.attached = slices.DeleteFunc(s.attached, func(n string) bool { return n == name })
	if s.download != nil {
		s.download = slices.DeleteFunc(s.download, func(n string) bool { return n == name })
	}
	if s.upload != nil {
		s.upload = slices.DeleteFunc(s.upload, func(n string) bool { return n == name })
	}
	return nil
}

// AttachCache sets the cache tier. A nil cache disables caching.
func (s *Session) AttachCache(c Authority) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache = c
}

// Authorities returns the attached authority names in attachment order.
func (s *Session) Authorities() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.attached)
}

// SetDownloadPriority sets the order authorities are tried on read.
// Passing no names restores attachment order.
func (s *Session) SetDownloadPriority(names ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.setOrder(&s.download, names)
}

// SetUploadServices sets the authorities written on update.
// Passing no names restores attachment order.
func (s *Session) SetUploadServices(names ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.setOrder(&s.upload, names)
}

// DownloadPriority returns the effective read order.
func (s *Session) DownloadPriority() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.effective(s.download))
}

// UploadServices returns the effective write set.
func (s *Session) UploadServices() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.effective(s.upload))
}

func (s *Session) setOrder(dst *[]string, names []string) error {
	if len(names) == 0 {
		*dst = nil
		return nil
	}
	seen := make(map[string]bool, len(names))
	for _, n := range names {
		if _, ok := s.authorities[n]; !ok {
			return fmt.Errorf("authority %q: %w", n, ErrNotFound)
		}
		if seen[n] {
			return fmt.Errorf("authority %q listed twice", n)
		}
		seen[n] = true
	}
	*dst = slices.Clone(names)
	return nil
}

func (s *Session) effective(order []string) []string {
	if order == nil {
		return s.attached
	}
	return order
}

type namedAuthority struct {
	name      string
	authority Authority
}

// binding is a consistent snapshot of the session taken at the start of an operation.
type binding struct {
	user        User
	manager     Manager
	download    []namedAuthority
	upload      []namedAuthority
	all         []namedAuthority
	cache       Authority
	replication Replication
	timeout     time.Duration
	algorithm   string
	staging     StagingArea
	clock       Clock
	logger      Logger
}

func (s *Session) bind() (*binding, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.manager == nil {
		return nil, ErrNoManager
	}
	resolve := func(names []string) []namedAuthority {
		out := make([]namedAuthority, 0, len(names))
		for _, n := range names {
			out = append(out, namedAuthority{name: n, authority: s.authorities[n]})
		}
		return out
	}
	return &binding{
		user:        s.user,
		manager:     s.manager,
		download:    resolve(s.effective(s.download)),
		upload:      resolve(s.effective(s.upload)),
		all:         resolve(s.attached),
		cache:       s.cache,
		replication: s.replication,
		timeout:     s.timeout,
		algorithm:   s.algorithm,
		staging:     s.staging,
		clock:       s.clock,
		logger:      s.logger,
	}, nil
}

// call derives the context for one backend call.
func (b *binding) call(ctx context.Context) (context.Context, context.CancelFunc) {
	if b.timeout > 0 {
		return context.WithTimeout(ctx, b.timeout)
	}
	return context.WithCancel(ctx)
}

func (b *binding) requireStaging() error {
	if b.staging == nil {
		return fmt.Errorf("no staging area configured")
	}
	return nil
}

// CreateOptions configures archive creation.
type CreateOptions struct {
	Metadata map[string]any

	// AllowExisting turns a name collision into a metadata merge instead of ErrAlreadyExists.
	AllowExisting bool

	// Unversioned archives default to timestamp version ids instead of patch bumps.
	Unversioned bool
}

// CreateArchive registers a new archive and returns it bound to this session.
func (s *Session) CreateArchive(ctx context.Context, name string, opts CreateOptions) (*Archive, error) {
	if err := ValidateArchiveName(name); err != nil {
		return nil, err
	}
	b, err := s.bind()
	if err != nil {
		return nil, err
	}

	rec := &ArchiveRecord{
		Name:      name,
		Metadata:  CloneMetadata(opts.Metadata),
		Owner:     b.user.Username,
		Contact:   b.user.Contact,
		Versioned: !opts.Unversioned,
		CreatedAt: b.clock.Now().UTC(),
	}
	if rec.Metadata == nil {
		rec.Metadata = map[string]any{}
	}

	cctx, cancel := b.call(ctx)
	err = b.manager.CreateArchive(cctx, rec, !opts.AllowExisting)
	cancel()
	if err != nil {
		return nil, fmt.Errorf("creating archive %s: %w", name, err)
	}
	b.logger.Info("archive created", "archive", name, "owner", rec.Owner, "versioned", rec.Versioned)

	return s.GetArchive(ctx, name)
}

// GetArchive looks up an existing archive.
func (s *Session) GetArchive(ctx context.Context, name string) (*Archive, error) {
	b, err := s.bind()
	if err != nil {
		return nil, err
	}
	cctx, cancel := b.call(ctx)
	defer cancel()
	rec, err := b.manager.GetArchive(cctx, name)
	if err != nil {
		return nil, fmt.Errorf("getting archive %s: %w", name, err)
	}
	return &Archive{session: s, record: rec}, nil
}

// ListArchives returns all archive names.
func (s *Session) ListArchives(ctx context.Context) ([]string, error) {
	b, err := s.bind()
	if err != nil {
		return nil, err
	}
	cctx, cancel := b.call(ctx)
	defer cancel()
	names, err := b.manager.ListArchives(cctx)
	if err != nil {
		return nil, fmt.Errorf("listing archives: %w", err)
	}
	return names, nil
}

// DeleteArchive deletes an archive by name. See Archive.Delete.
func (s *Session) DeleteArchive(ctx context.Context, name string) error {
	a, err := s.GetArchive(ctx, name)
	if err != nil {
		return err
	}
	return a.Delete(ctx)
}

// HashFile returns the session's checksum algorithm and the digest of the file at path.
func (s *Session) HashFile(path string) (string, string, error) {
	s.mu.RLock()
	alg := s.algorithm
	s.mu.RUnlock()

	e, err := checksum.New(alg)
	if err != nil {
		return "", "", err
	}
	sum, err := e.SumFile(path)
	if err != nil {
		return "", "", err
	}
	return alg, sum, nil
}
