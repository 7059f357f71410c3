package search

import (
	"sort"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/codesearch-hq/hybridsearch/internal/store"
)

// DefaultEntityLookupCacheSize bounds the LookupByEntityNames cache.
const DefaultEntityLookupCacheSize = 1000

// entityLookupCache memoizes LookupByEntityNames results, keyed by the
// sorted entity names plus the filter set, so repeated transitive
// augmentations over the same closure (common when a hot structural query
// keeps getting re-run) skip the keyword index round trip.
type entityLookupCache struct {
	cache *lru.Cache[string, []*store.KeywordHitDoc]
}

func newEntityLookupCache(size int) *entityLookupCache {
	if size <= 0 {
		size = DefaultEntityLookupCacheSize
	}
	c, _ := lru.New[string, []*store.KeywordHitDoc](size)
	return &entityLookupCache{cache: c}
}

func entityLookupKey(names []string, filters store.SearchFilters) string {
	sorted := make([]string, len(names))
	copy(sorted, names)
	sort.Strings(sorted)

	var b strings.Builder
	b.WriteString(strings.Join(sorted, ","))
	b.WriteString("|lang=")
	b.WriteString(strings.Join(sortedCopy(filters.Languages), ","))
	b.WriteString("|repo=")
	b.WriteString(strings.Join(sortedCopy(filters.Repositories), ","))
	b.WriteString("|path=")
	b.WriteString(strings.Join(sortedCopy(filters.FilePathPrefixes), ","))
	b.WriteString("|type=")
	b.WriteString(strings.Join(sortedCopy(filters.EntityTypes), ","))
	return b.String()
}

func sortedCopy(s []string) []string {
	out := make([]string, len(s))
	copy(out, s)
	sort.Strings(out)
	return out
}

func (c *entityLookupCache) get(key string) ([]*store.KeywordHitDoc, bool) {
	return c.cache.Get(key)
}

func (c *entityLookupCache) put(key string, hits []*store.KeywordHitDoc) {
	c.cache.Add(key, hits)
}
