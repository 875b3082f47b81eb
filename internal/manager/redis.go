package manager

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/redis/go-redis/v9"

	"datafs-go/internal/datafs"
)

// Key layout, under a configurable prefix:
//
//	<prefix>:archives         SET of archive names
//	<prefix>:archive:<name>   HASH owner, contact, versioned, metadata, created_at
//	<prefix>:history:<name>   LIST of JSON version records, append order
//	<prefix>:ids:<name>       SET of version ids
//	<prefix>:tail:<name>      STRING latest version id

// redisCreateScript registers an archive unless it exists.
// KEYS[1] = archive hash, KEYS[2] = archives set
// ARGV = name, owner, contact, versioned, metadata, created_at
// Returns 1 when created, 0 when the archive already exists.
var redisCreateScript = redis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 1 then
    return 0
end
redis.call("HSET", KEYS[1],
    "owner", ARGV[2], "contact", ARGV[3], "versioned", ARGV[4],
    "metadata", ARGV[5], "created_at", ARGV[6])
redis.call("SADD", KEYS[2], ARGV[1])
return 1
`)

// redisAppendScript is the atomic check-tail-then-append.
// KEYS[1] = archive hash, KEYS[2] = history list, KEYS[3] = ids set, KEYS[4] = tail
// ARGV[1] = expected tail ("" for empty), ARGV[2] = version id, ARGV[3] = JSON record
// Returns 1 when appended, 0 on conflict, -1 when the archive does not exist.
var redisAppendScript = redis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 0 then
    return -1
end
local tail = redis.call("GET", KEYS[4])
if not tail then
    tail = ""
end
if tail ~= ARGV[1] then
    return 0
end
if redis.call("SISMEMBER", KEYS[3], ARGV[2]) == 1 then
    return 0
end
redis.call("RPUSH", KEYS[2], ARGV[3])
redis.call("SADD", KEYS[3], ARGV[2])
redis.call("SET", KEYS[4], ARGV[2])
return 1
`)

// redisDeleteScript removes an archive and its history.
// KEYS[1] = archive hash, KEYS[2] = archives set, KEYS[3..5] = history, ids, tail
// ARGV[1] = name. Returns 0 when the archive does not exist.
var redisDeleteScript = redis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 0 then
    return 0
end
redis.call("DEL", KEYS[1], KEYS[3], KEYS[4], KEYS[5])
redis.call("SREM", KEYS[2], ARGV[1])
return 1
`)

// metadataRetries bounds optimistic WATCH retries on metadata updates.
const metadataRetries = 10

// RedisConfig holds connection settings for the Redis manager.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Prefix   string // defaults to "datafs"
}

// Redis is a Manager backed by Redis. Creates, appends and deletes run as
// Lua scripts; metadata patches use WATCH transactions.
type Redis struct {
	client redis.UniversalClient
	prefix string
}

type redisVersion struct {
	VersionID         string            `json:"version_id"`
	Checksum          string            `json:"checksum"`
	ChecksumAlgorithm string            `json:"checksum_algorithm"`
	Size              int64             `json:"size"`
	CreatedAt         string            `json:"created_at"`
	CreatedBy         string            `json:"created_by"`
	Dependencies      map[string]string `json:"dependencies"`
	Metadata          map[string]any    `json:"metadata"`
}

// NewRedis connects to the server in cfg.
func NewRedis(ctx context.Context, cfg RedisConfig) (*Redis, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("%w: redis manager requires an address", datafs.ErrCredentials)
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.Addr, err)
	}
	return NewRedisFromClient(client, cfg.Prefix), nil
}

// NewRedisFromClient wraps an existing client.
func NewRedisFromClient(client redis.UniversalClient, prefix string) *Redis {
	if prefix == "" {
		prefix = "datafs"
	}
	return &Redis{client: client, prefix: prefix}
}

func (r *Redis) archivesKey() string           { return r.prefix + ":archives" }
func (r *Redis) archiveKey(name string) string { return r.prefix + ":archive:" + name }
func (r *Redis) historyKey(name string) string { return r.prefix + ":history:" + name }
func (r *Redis) idsKey(name string) string     { return r.prefix + ":ids:" + name }
func (r *Redis) tailKey(name string) string    { return r.prefix + ":tail:" + name }

func (r *Redis) CreateArchive(ctx context.Context, rec *datafs.ArchiveRecord, raiseIfExists bool) error {
	meta, err := encodeMetadata(rec.Metadata)
	if err != nil {
		return err
	}
	versioned := "0"
	if rec.Versioned {
		versioned = "1"
	}

	created, err := redisCreateScript.Run(ctx, r.client,
		[]string{r.archiveKey(rec.Name), r.archivesKey()},
		rec.Name, rec.Owner, rec.Contact, versioned, meta, formatTime(rec.CreatedAt)).Int()
	if err != nil {
		return fmt.Errorf("creating archive %s: %w", rec.Name, err)
	}
	if created == 1 {
		return nil
	}
	if raiseIfExists {
		return fmt.Errorf("archive %s: %w", rec.Name, datafs.ErrAlreadyExists)
	}
	return r.UpdateMetadata(ctx, rec.Name, rec.Metadata, false)
}

func (r *Redis) GetArchive(ctx context.Context, name string) (*datafs.ArchiveRecord, error) {
	fields, err := r.client.HGetAll(ctx, r.archiveKey(name)).Result()
	if err != nil {
		return nil, fmt.Errorf("getting archive %s: %w", name, err)
	}
	if len(fields) == 0 {
		return nil, fmt.Errorf("archive %s: %w", name, datafs.ErrNotFound)
	}

	rec := &datafs.ArchiveRecord{
		Name:      name,
		Owner:     fields["owner"],
		Contact:   fields["contact"],
		Versioned: fields["versioned"] == "1",
	}
	if rec.Metadata, err = decodeMetadata(fields["metadata"]); err != nil {
		return nil, err
	}
	if rec.CreatedAt, err = parseTime(fields["created_at"]); err != nil {
		return nil, err
	}
	return rec, nil
}

func (r *Redis) ListArchives(ctx context.Context) ([]string, error) {
	names, err := r.client.SMembers(ctx, r.archivesKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("listing archives: %w", err)
	}
	sort.Strings(names)
	return names, nil
}

func (r *Redis) AppendVersion(ctx context.Context, name, expectedTail string, rec *datafs.VersionRecord) error {
	payload, err := json.Marshal(redisVersion{
		VersionID:         rec.VersionID,
		Checksum:          rec.Checksum,
		ChecksumAlgorithm: rec.ChecksumAlgorithm,
		Size:              rec.Size,
		CreatedAt:         formatTime(rec.CreatedAt),
		CreatedBy:         rec.CreatedBy,
		Dependencies:      rec.Dependencies,
		Metadata:          rec.Metadata,
	})
	if err != nil {
		return fmt.Errorf("encoding version %s: %w", rec.VersionID, err)
	}

	res, err := redisAppendScript.Run(ctx, r.client,
		[]string{r.archiveKey(name), r.historyKey(name), r.idsKey(name), r.tailKey(name)},
		expectedTail, rec.VersionID, string(payload)).Int()
	if err != nil {
		return fmt.Errorf("appending %s to %s: %w", rec.VersionID, name, err)
	}
	switch res {
	case 1:
		return nil
	case -1:
		return fmt.Errorf("archive %s: %w", name, datafs.ErrNotFound)
	default:
		return fmt.Errorf("%w: appending %s to %s after %q", datafs.ErrConflict, rec.VersionID, name, expectedTail)
	}
}

func (r *Redis) GetHistory(ctx context.Context, name string) ([]*datafs.VersionRecord, error) {
	n, err := r.client.Exists(ctx, r.archiveKey(name)).Result()
	if err != nil {
		return nil, fmt.Errorf("looking up archive %s: %w", name, err)
	}
	if n == 0 {
		return nil, fmt.Errorf("archive %s: %w", name, datafs.ErrNotFound)
	}

	raw, err := r.client.LRange(ctx, r.historyKey(name), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("reading history of %s: %w", name, err)
	}

	history := make([]*datafs.VersionRecord, 0, len(raw))
	for i, item := range raw {
		var rv redisVersion
		if err := json.Unmarshal([]byte(item), &rv); err != nil {
			return nil, fmt.Errorf("decoding version %d of %s: %w", i, name, err)
		}
		created, err := parseTime(rv.CreatedAt)
		if err != nil {
			return nil, err
		}
		v := &datafs.VersionRecord{
			VersionID:         rv.VersionID,
			Checksum:          rv.Checksum,
			ChecksumAlgorithm: rv.ChecksumAlgorithm,
			Size:              rv.Size,
			CreatedAt:         created,
			CreatedBy:         rv.CreatedBy,
			Dependencies:      rv.Dependencies,
			Metadata:          rv.Metadata,
		}
		if v.Dependencies == nil {
			v.Dependencies = map[string]string{}
		}
		if v.Metadata == nil {
			v.Metadata = map[string]any{}
		}
		history = append(history, v)
	}
	return history, nil
}

func (r *Redis) UpdateMetadata(ctx context.Context, name string, patch map[string]any, replace bool) error {
	key := r.archiveKey(name)

	txf := func(tx *redis.Tx) error {
		raw, err := tx.HGet(ctx, key, "metadata").Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				return fmt.Errorf("archive %s: %w", name, datafs.ErrNotFound)
			}
			return fmt.Errorf("reading metadata of %s: %w", name, err)
		}
		current, err := decodeMetadata(raw)
		if err != nil {
			return err
		}
		encoded, err := encodeMetadata(applyMetadata(current, patch, replace))
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, key, "metadata", encoded)
			return nil
		})
		return err
	}

	for i := 0; i < metadataRetries; i++ {
		err := r.client.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return err
	}
	return fmt.Errorf("%w: metadata of %s changed concurrently %d times", datafs.ErrConflict, name, metadataRetries)
}

func (r *Redis) DeleteArchive(ctx context.Context, name string) error {
	res, err := redisDeleteScript.Run(ctx, r.client,
		[]string{r.archiveKey(name), r.archivesKey(), r.historyKey(name), r.idsKey(name), r.tailKey(name)},
		name).Int()
	if err != nil {
		return fmt.Errorf("deleting archive %s: %w", name, err)
	}
	if res == 0 {
		return fmt.Errorf("archive %s: %w", name, datafs.ErrNotFound)
	}
	return nil
}

// Close closes the client.
func (r *Redis) Close() error {
	return r.client.Close()
}

// Compile-time check that Redis implements datafs.Manager
var _ datafs.Manager = (*Redis)(nil)
