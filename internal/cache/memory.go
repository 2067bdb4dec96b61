package cache

import (
	"context"
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/sells-group/collection-cli/internal/model"
)

// MemoryCache is an in-process PageCache for single-node runs and tests.
// Pages are deep-copied on the way in so later mutation by the caller does
// not leak into the cache.
type MemoryCache struct {
	c      *gocache.Cache
	prefix string
}

// NewMemory creates a MemoryCache that purges expired entries every
// cleanupInterval.
func NewMemory(cleanupInterval time.Duration) *MemoryCache {
	if cleanupInterval <= 0 {
		cleanupInterval = 10 * time.Minute
	}
	return &MemoryCache{
		c:      gocache.New(DefaultTTL, cleanupInterval),
		prefix: DefaultPrefix,
	}
}

func (m *MemoryCache) Put(ctx context.Context, flowID, assetID, sectionID string, page *model.SectionPage, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.c.Set(Key(m.prefix, flowID, assetID, sectionID), clonePage(page), ttlOrDefault(ttl))
	return nil
}

func (m *MemoryCache) Get(ctx context.Context, flowID, assetID, sectionID string) (*model.SectionPage, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	v, found := m.c.Get(Key(m.prefix, flowID, assetID, sectionID))
	if !found {
		return nil, false, nil
	}
	return clonePage(v.(*model.SectionPage)), true, nil
}

func (m *MemoryCache) ScanAll(ctx context.Context, flowID string) ([]Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	flowPrefix := m.prefix + flowID + ":"

	var entries []Entry
	for key, item := range m.c.Items() {
		if !strings.HasPrefix(key, flowPrefix) {
			continue
		}
		assetID, sectionID, ok := splitKey(flowPrefix, key)
		if !ok {
			continue
		}
		entries = append(entries, Entry{
			AssetID:   assetID,
			SectionID: sectionID,
			Page:      clonePage(item.Object.(*model.SectionPage)),
		})
	}
	sortEntries(entries)
	return entries, nil
}

// Close flushes all entries.
func (m *MemoryCache) Close() error {
	m.c.Flush()
	return nil
}

func clonePage(p *model.SectionPage) *model.SectionPage {
	if p == nil {
		return nil
	}
	out := *p
	if p.Questions == nil {
		return &out
	}
	out.Questions = make([]model.Question, len(p.Questions))
	for i, q := range p.Questions {
		q.Options = append([]model.Option(nil), q.Options...)
		q.Metadata.AssetIDs = append([]string(nil), q.Metadata.AssetIDs...)
		out.Questions[i] = q
	}
	return &out
}
