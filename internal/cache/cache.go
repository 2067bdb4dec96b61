// Package cache holds generated section pages between the generation and
// aggregation phases of a flow. Entries are keyed by (flow, asset, section)
// and expire after a TTL; an expired or absent entry reads as a miss.
package cache

import (
	"context"
	"strings"
	"time"

	"github.com/sells-group/collection-cli/internal/model"
)

// DefaultTTL is how long a page survives when no TTL is configured.
const DefaultTTL = time.Hour

// DefaultPrefix namespaces every key written by this package.
const DefaultPrefix = "collection:page:"

// Entry is a cached page together with its coordinates.
type Entry struct {
	AssetID   string
	SectionID string
	Page      *model.SectionPage
}

// PageCache stores section pages for one or more flows. Implementations must
// be safe for concurrent use.
type PageCache interface {
	// Put stores page for the pair, replacing any previous value.
	Put(ctx context.Context, flowID, assetID, sectionID string, page *model.SectionPage, ttl time.Duration) error
	// Get returns the page for the pair. A miss returns found=false and a nil error.
	Get(ctx context.Context, flowID, assetID, sectionID string) (*model.SectionPage, bool, error)
	// ScanAll returns every live page for flowID, sorted by asset then section.
	ScanAll(ctx context.Context, flowID string) ([]Entry, error)
	Close() error
}

// Key builds the storage key for a pair.
func Key(prefix, flowID, assetID, sectionID string) string {
	return prefix + flowID + ":" + assetID + ":" + sectionID
}

// splitKey recovers (asset, section) from a key under flowPrefix.
func splitKey(flowPrefix, key string) (assetID, sectionID string, ok bool) {
	rest, found := strings.CutPrefix(key, flowPrefix)
	if !found {
		return "", "", false
	}
	idx := strings.LastIndex(rest, ":")
	if idx <= 0 || idx == len(rest)-1 {
		return "", "", false
	}
	return rest[:idx], rest[idx+1:], true
}

func ttlOrDefault(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		return DefaultTTL
	}
	return ttl
}
