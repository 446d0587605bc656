// Package redisbackend implements the key-value backend adapter on Redis.
// Records are stored one hash per key, relationship edges as a sorted set
// per subject (member "predicate:object", score = insertion time) so
// relationship queries are ordered and paginable, and version history as a
// sorted-set index over a hash of snapshots.
package redisbackend

import (
	"context"
	stderrors "errors"
	"fmt"
	"strings"
	"time"

	"github.com/devrev/omnistore/internal/codec"
	"github.com/devrev/omnistore/internal/errors"
	"github.com/devrev/omnistore/internal/model"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// emptyMarker represents a record with zero fields, which a Redis hash
// cannot hold directly
const emptyMarker = "__omnistore_empty__"

// Adapter is the Redis backend adapter
type Adapter struct {
	name        string
	client      *redis.Client
	keyPrefix   string
	maxVersions int
	logger      *zap.Logger
}

// Config holds Redis adapter configuration
type Config struct {
	Name        string
	Addr        string
	Password    string
	DB          int
	KeyPrefix   string
	MaxVersions int
	PoolSize    int
}

// New creates a Redis adapter and verifies connectivity
func New(cfg *Config, logger *zap.Logger) (*Adapter, error) {
	if cfg.Name == "" {
		cfg.Name = "redis"
	}
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = "omnistore"
	}
	if cfg.MaxVersions <= 0 {
		cfg.MaxVersions = 10
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, errors.ConnectionFailed(cfg.Name, "failed to connect to Redis", err)
	}

	return &Adapter{
		name:        cfg.Name,
		client:      client,
		keyPrefix:   cfg.KeyPrefix,
		maxVersions: cfg.MaxVersions,
		logger:      logger,
	}, nil
}

// NewFromClient wraps an existing client, used by tests against miniature
// or mock servers
func NewFromClient(name string, client *redis.Client, keyPrefix string, maxVersions int, logger *zap.Logger) *Adapter {
	if keyPrefix == "" {
		keyPrefix = "omnistore"
	}
	if maxVersions <= 0 {
		maxVersions = 10
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Adapter{name: name, client: client, keyPrefix: keyPrefix, maxVersions: maxVersions, logger: logger}
}

// Name implements backend.Backend
func (a *Adapter) Name() string { return a.name }

func (a *Adapter) recordKey(key string) string {
	return fmt.Sprintf("%s:record:%s", a.keyPrefix, key)
}

func (a *Adapter) versionIndexKey(key string) string {
	return fmt.Sprintf("%s:veridx:%s", a.keyPrefix, key)
}

func (a *Adapter) versionDataKey(key string) string {
	return fmt.Sprintf("%s:verdata:%s", a.keyPrefix, key)
}

func (a *Adapter) edgesKey(subject string) string {
	return fmt.Sprintf("%s:edges:%s", a.keyPrefix, subject)
}

func (a *Adapter) reverseEdgesKey(object string) string {
	return fmt.Sprintf("%s:redges:%s", a.keyPrefix, object)
}

// wrapErr classifies a go-redis error into the storage error taxonomy
func (a *Adapter) wrapErr(err error, msg string) error {
	if err == nil {
		return nil
	}
	if stderrors.Is(err, context.DeadlineExceeded) {
		return errors.Timeout(a.name, err)
	}
	return errors.ConnectionFailed(a.name, msg, err)
}

// Store implements backend.Backend
func (a *Adapter) Store(ctx context.Context, key string, rec model.Record) error {
	fields := make(map[string]string, len(rec))
	for name, value := range rec {
		encoded, err := codec.EncodeField(value)
		if err != nil {
			return errors.Rejected(a.name, fmt.Sprintf("field %q is not serializable", name), err)
		}
		fields[name] = encoded
	}
	if len(fields) == 0 {
		fields[emptyMarker] = "1"
	}

	// DEL then HSET inside one transaction so stale fields from a
	// previous write never leak into the new record.
	pipe := a.client.TxPipeline()
	pipe.Del(ctx, a.recordKey(key))
	pipe.HSet(ctx, a.recordKey(key), fields)
	_, err := pipe.Exec(ctx)
	return a.wrapErr(err, "failed to store record")
}

// Load implements backend.Backend
func (a *Adapter) Load(ctx context.Context, key string) (model.Record, error) {
	raw, err := a.client.HGetAll(ctx, a.recordKey(key)).Result()
	if err != nil {
		return nil, a.wrapErr(err, "failed to load record")
	}
	if len(raw) == 0 {
		return nil, errors.KeyNotFound(key).WithBackend(a.name)
	}

	rec := make(model.Record, len(raw))
	for name, value := range raw {
		if name == emptyMarker {
			continue
		}
		rec[name] = codec.DecodeField(value)
	}
	return rec, nil
}

// Delete implements backend.Backend. Removing an absent key is not an error.
func (a *Adapter) Delete(ctx context.Context, key string) error {
	pipe := a.client.TxPipeline()
	pipe.Del(ctx, a.recordKey(key))
	pipe.Del(ctx, a.versionIndexKey(key))
	pipe.Del(ctx, a.versionDataKey(key))
	_, err := pipe.Exec(ctx)
	return a.wrapErr(err, "failed to delete record")
}

// escapeGlob neutralizes SCAN MATCH metacharacters so a key fragment is
// matched literally
func escapeGlob(s string) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		switch c := s[i]; c {
		case '*', '?', '[', ']', '^', '\\':
			b.WriteByte('\\')
			b.WriteByte(c)
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}

// ListKeys implements backend.Backend
func (a *Adapter) ListKeys(ctx context.Context, prefix string) ([]string, error) {
	pattern := fmt.Sprintf("%s:record:%s*", escapeGlob(a.keyPrefix), escapeGlob(prefix))
	stripLen := len(a.keyPrefix) + len(":record:")

	var keys []string
	iter := a.client.Scan(ctx, 0, pattern, 0).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val()[stripLen:])
	}
	if err := iter.Err(); err != nil {
		return nil, a.wrapErr(err, "failed to list keys")
	}
	return keys, nil
}

// StoreVersion implements backend.Backend. The version index is trimmed to
// the adapter's bound, oldest first.
func (a *Adapter) StoreVersion(ctx context.Context, key, label string, rec model.Record) error {
	data, err := codec.Encode(rec)
	if err != nil {
		return errors.Rejected(a.name, "version snapshot is not serializable", err)
	}

	score := float64(time.Now().UnixNano()) / float64(time.Second)
	pipe := a.client.TxPipeline()
	pipe.ZAdd(ctx, a.versionIndexKey(key), redis.Z{Score: score, Member: label})
	pipe.HSet(ctx, a.versionDataKey(key), label, string(data))
	if _, err := pipe.Exec(ctx); err != nil {
		return a.wrapErr(err, "failed to store version")
	}

	// Trim history past the bound
	count, err := a.client.ZCard(ctx, a.versionIndexKey(key)).Result()
	if err != nil {
		return a.wrapErr(err, "failed to count versions")
	}
	if count > int64(a.maxVersions) {
		oldest, err := a.client.ZRange(ctx, a.versionIndexKey(key), 0, count-int64(a.maxVersions)-1).Result()
		if err != nil {
			return a.wrapErr(err, "failed to find versions to prune")
		}
		if len(oldest) > 0 {
			pipe := a.client.TxPipeline()
			pipe.ZRem(ctx, a.versionIndexKey(key), toAnySlice(oldest)...)
			pipe.HDel(ctx, a.versionDataKey(key), oldest...)
			if _, err := pipe.Exec(ctx); err != nil {
				return a.wrapErr(err, "failed to prune versions")
			}
		}
	}
	return nil
}

// LoadVersion implements backend.Backend
func (a *Adapter) LoadVersion(ctx context.Context, key, label string) (model.Record, error) {
	if label == "" {
		latest, err := a.client.ZRevRange(ctx, a.versionIndexKey(key), 0, 0).Result()
		if err != nil {
			return nil, a.wrapErr(err, "failed to find latest version")
		}
		if len(latest) == 0 {
			return nil, errors.KeyNotFound(key).WithBackend(a.name)
		}
		label = latest[0]
	}

	data, err := a.client.HGet(ctx, a.versionDataKey(key), label).Result()
	if stderrors.Is(err, redis.Nil) {
		return nil, errors.KeyNotFound(key).WithBackend(a.name)
	}
	if err != nil {
		return nil, a.wrapErr(err, "failed to load version")
	}
	return codec.Decode([]byte(data))
}

// ListVersions implements backend.Backend
func (a *Adapter) ListVersions(ctx context.Context, key string) ([]model.VersionInfo, error) {
	members, err := a.client.ZRevRangeWithScores(ctx, a.versionIndexKey(key), 0, -1).Result()
	if err != nil {
		return nil, a.wrapErr(err, "failed to list versions")
	}

	out := make([]model.VersionInfo, 0, len(members))
	for _, member := range members {
		label, _ := member.Member.(string)
		sec := int64(member.Score)
		nsec := int64((member.Score - float64(sec)) * float64(time.Second))
		out = append(out, model.VersionInfo{
			Label:     label,
			Timestamp: time.Unix(sec, nsec),
		})
	}
	return out, nil
}

// StoreEdge implements backend.EdgeStore. The reverse index lets PurgeEdges
// remove edges pointing at a key without scanning every subject.
func (a *Adapter) StoreEdge(ctx context.Context, subject, predicate, object string) error {
	score := float64(time.Now().UnixNano()) / float64(time.Second)
	pipe := a.client.TxPipeline()
	pipe.ZAdd(ctx, a.edgesKey(subject), redis.Z{Score: score, Member: predicate + ":" + object})
	pipe.ZAdd(ctx, a.reverseEdgesKey(object), redis.Z{Score: score, Member: predicate + ":" + subject})
	_, err := pipe.Exec(ctx)
	return a.wrapErr(err, "failed to store edge")
}

// DeleteEdge implements backend.EdgeStore
func (a *Adapter) DeleteEdge(ctx context.Context, subject, predicate, object string) error {
	pipe := a.client.TxPipeline()
	pipe.ZRem(ctx, a.edgesKey(subject), predicate+":"+object)
	pipe.ZRem(ctx, a.reverseEdgesKey(object), predicate+":"+subject)
	_, err := pipe.Exec(ctx)
	return a.wrapErr(err, "failed to delete edge")
}

// Edges implements backend.EdgeStore, returning edges in insertion order
func (a *Adapter) Edges(ctx context.Context, subject string) ([]model.RelationshipEdge, error) {
	members, err := a.client.ZRange(ctx, a.edgesKey(subject), 0, -1).Result()
	if err != nil {
		return nil, a.wrapErr(err, "failed to load edges")
	}

	out := make([]model.RelationshipEdge, 0, len(members))
	for _, member := range members {
		predicate, object, ok := strings.Cut(member, ":")
		if !ok {
			continue
		}
		out = append(out, model.RelationshipEdge{Subject: subject, Predicate: predicate, Object: object})
	}
	return out, nil
}

// PurgeEdges implements backend.EdgeStore: removes every edge where key is
// subject or object, both indexes
func (a *Adapter) PurgeEdges(ctx context.Context, key string) error {
	outgoing, err := a.client.ZRange(ctx, a.edgesKey(key), 0, -1).Result()
	if err != nil {
		return a.wrapErr(err, "failed to load outgoing edges")
	}
	incoming, err := a.client.ZRange(ctx, a.reverseEdgesKey(key), 0, -1).Result()
	if err != nil {
		return a.wrapErr(err, "failed to load incoming edges")
	}

	pipe := a.client.TxPipeline()
	for _, member := range outgoing {
		predicate, object, ok := strings.Cut(member, ":")
		if !ok {
			continue
		}
		pipe.ZRem(ctx, a.reverseEdgesKey(object), predicate+":"+key)
	}
	for _, member := range incoming {
		predicate, subject, ok := strings.Cut(member, ":")
		if !ok {
			continue
		}
		pipe.ZRem(ctx, a.edgesKey(subject), predicate+":"+key)
	}
	pipe.Del(ctx, a.edgesKey(key))
	pipe.Del(ctx, a.reverseEdgesKey(key))
	_, err = pipe.Exec(ctx)
	return a.wrapErr(err, "failed to purge edges")
}

// HealthCheck implements backend.Backend
func (a *Adapter) HealthCheck(ctx context.Context) error {
	return a.wrapErr(a.client.Ping(ctx).Err(), "ping failed")
}

// Close implements backend.Backend
func (a *Adapter) Close() error {
	return a.client.Close()
}

func toAnySlice(in []string) []any {
	out := make([]any, len(in))
	for i, s := range in {
		out[i] = s
	}
	return out
}
