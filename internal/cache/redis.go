package cache

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/collection-cli/internal/model"
)

// RedisCache is a PageCache backed by Redis. Pages are stored as JSON with
// SET EX so expiry is enforced by the server.
type RedisCache struct {
	rdb       redis.UniversalClient
	prefix    string
	opTimeout time.Duration
	owned     bool
}

// RedisOption configures a RedisCache.
type RedisOption func(*RedisCache)

// WithPrefix overrides DefaultPrefix.
func WithPrefix(prefix string) RedisOption {
	return func(c *RedisCache) {
		if prefix != "" {
			c.prefix = prefix
		}
	}
}

// WithOpTimeout bounds every Redis round trip.
func WithOpTimeout(d time.Duration) RedisOption {
	return func(c *RedisCache) {
		if d > 0 {
			c.opTimeout = d
		}
	}
}

// NewRedis wraps an existing client. The caller keeps ownership of rdb.
func NewRedis(rdb redis.UniversalClient, opts ...RedisOption) *RedisCache {
	c := &RedisCache{rdb: rdb, prefix: DefaultPrefix, opTimeout: 2 * time.Second}
	for _, o := range opts {
		o(c)
	}
	return c
}

// OpenRedis parses url, connects and pings the server.
func OpenRedis(ctx context.Context, url string, opts ...RedisOption) (*RedisCache, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, eris.Wrap(err, "cache: parse redis url")
	}
	rdb := redis.NewClient(opt)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, eris.Wrap(err, "cache: ping redis")
	}
	c := NewRedis(rdb, opts...)
	c.owned = true
	return c, nil
}

// Client exposes the underlying client so other components (status events)
// can share the connection pool.
func (c *RedisCache) Client() redis.UniversalClient {
	return c.rdb
}

func (c *RedisCache) Put(ctx context.Context, flowID, assetID, sectionID string, page *model.SectionPage, ttl time.Duration) error {
	data, err := json.Marshal(page)
	if err != nil {
		return eris.Wrap(err, "cache: marshal page")
	}
	ctx, cancel := context.WithTimeout(ctx, c.opTimeout)
	defer cancel()

	key := Key(c.prefix, flowID, assetID, sectionID)
	if err := c.rdb.Set(ctx, key, data, ttlOrDefault(ttl)).Err(); err != nil {
		return eris.Wrapf(err, "cache: set %s", key)
	}
	return nil
}

func (c *RedisCache) Get(ctx context.Context, flowID, assetID, sectionID string) (*model.SectionPage, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, c.opTimeout)
	defer cancel()

	key := Key(c.prefix, flowID, assetID, sectionID)
	data, err := c.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, eris.Wrapf(err, "cache: get %s", key)
	}

	var page model.SectionPage
	if err := json.Unmarshal(data, &page); err != nil {
		return nil, false, eris.Wrapf(err, "cache: decode %s", key)
	}
	return &page, true, nil
}

// ScanAll walks the flow's keyspace with SCAN and fetches values in MGET
// batches. Keys that expire between the two calls are skipped, as are
// values that fail to decode.
func (c *RedisCache) ScanAll(ctx context.Context, flowID string) ([]Entry, error) {
	flowPrefix := c.prefix + flowID + ":"
	var keys []string
	var cursor uint64
	for {
		scanCtx, cancel := context.WithTimeout(ctx, c.opTimeout)
		batch, next, err := c.rdb.Scan(scanCtx, cursor, flowPrefix+"*", 200).Result()
		cancel()
		if err != nil {
			return nil, eris.Wrap(err, "cache: scan")
		}
		keys = append(keys, batch...)
		cursor = next
		if cursor == 0 {
			break
		}
	}
	if len(keys) == 0 {
		return nil, nil
	}
	sort.Strings(keys)
	keys = compactStrings(keys)

	entries := make([]Entry, 0, len(keys))
	for start := 0; start < len(keys); start += 200 {
		end := min(start+200, len(keys))
		chunk := keys[start:end]

		mgetCtx, cancel := context.WithTimeout(ctx, c.opTimeout)
		vals, err := c.rdb.MGet(mgetCtx, chunk...).Result()
		cancel()
		if err != nil {
			return nil, eris.Wrap(err, "cache: mget")
		}

		for i, v := range vals {
			s, ok := v.(string)
			if !ok {
				continue
			}
			assetID, sectionID, ok := splitKey(flowPrefix, chunk[i])
			if !ok {
				continue
			}
			var page model.SectionPage
			if err := json.Unmarshal([]byte(s), &page); err != nil {
				zap.L().Warn("cache: skipping undecodable page", zap.String("key", chunk[i]), zap.Error(err))
				continue
			}
			entries = append(entries, Entry{AssetID: assetID, SectionID: sectionID, Page: &page})
		}
	}
	sortEntries(entries)
	return entries, nil
}

// Close releases the client if OpenRedis created it.
func (c *RedisCache) Close() error {
	if !c.owned {
		return nil
	}
	return c.rdb.Close()
}

func compactStrings(s []string) []string {
	if len(s) < 2 {
		return s
	}
	out := s[:1]
	for _, v := range s[1:] {
		if v != out[len(out)-1] {
			out = append(out, v)
		}
	}
	return out
}

func sortEntries(entries []Entry) {
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].AssetID != entries[j].AssetID {
			return entries[i].AssetID < entries[j].AssetID
		}
		return entries[i].SectionID < entries[j].SectionID
	})
}
