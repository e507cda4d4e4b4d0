package client

import (
	"net/url"
	"strconv"
	"sync"

	"github.com/goccy/go-json"
	"github.com/golang/glog"

	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

type FilterClause struct {
	Field      string `json:"field"`
	Comparator string `json:"comparator"`
	Value      any    `json:"value"`
}

// Query is the recognized set of list parameters. Field order below is the
// canonical cache key order. Two queries are equal iff their cache keys are equal.
type Query struct {
	Page     int            `json:"page,omitempty"`
	PerPage  int            `json:"per_page,omitempty"`
	Search   string         `json:"search,omitempty"`
	MatchAll []FilterClause `json:"match_all,omitempty"`
	MatchAny []FilterClause `json:"match_any,omitempty"`
	Sort     string         `json:"sort,omitempty"`
}

// copy with a different page
func (self *Query) WithPage(page int) *Query {
	query := *self
	query.Page = page
	query.MatchAll = slices.Clone(self.MatchAll)
	query.MatchAny = slices.Clone(self.MatchAny)
	return &query
}

func (self *Query) Values() url.Values {
	values := url.Values{}
	if 0 < self.Page {
		values.Set("page", strconv.Itoa(self.Page))
	}
	if 0 < self.PerPage {
		values.Set("per_page", strconv.Itoa(self.PerPage))
	}
	if self.Search != "" {
		values.Set("search", self.Search)
	}
	if 0 < len(self.MatchAll) {
		if matchAllJson, err := json.Marshal(self.MatchAll); err == nil {
			values.Set("match_all", string(matchAllJson))
		}
	}
	if 0 < len(self.MatchAny) {
		if matchAnyJson, err := json.Marshal(self.MatchAny); err == nil {
			values.Set("match_any", string(matchAnyJson))
		}
	}
	if self.Sort != "" {
		values.Set("sort", self.Sort)
	}
	return values
}

type cacheKeyFields struct {
	Query
	Entity string `json:"entity"`
}

// CacheKey is the canonical string identity of a (entity type, query) pair.
// Struct field order fixes the serialization order, so identical values always
// produce the identical key regardless of how the query was assembled.
func CacheKey(entityType string, query *Query) string {
	fields := cacheKeyFields{
		Entity: entityType,
	}
	if query != nil {
		fields.Query = *query
	}
	keyJson, err := json.Marshal(fields)
	if err != nil {
		// a Query is always serializable. Filter values that are not are a caller bug.
		panic(err)
	}
	return string(keyJson)
}

type Pagination struct {
	IsFirstPage bool `json:"is_first_page"`
	IsLastPage  bool `json:"is_last_page"`
	Page        int  `json:"page"`
	PerPage     int  `json:"per_page"`
}

// CacheQueryRecord is the stored result of one page of one query.
// Pages are independent records, not accumulated in place.
type CacheQueryRecord struct {
	Entity     string
	Query      Query
	Ids        []string
	Pagination Pagination
}

func (self *CacheQueryRecord) clone() *CacheQueryRecord {
	record := *self
	record.Ids = slices.Clone(self.Ids)
	record.Query.MatchAll = slices.Clone(self.Query.MatchAll)
	record.Query.MatchAny = slices.Clone(self.Query.MatchAny)
	return &record
}

// QueryCache maps cache keys to ordered id lists plus pagination metadata.
// It composes with the EntityStore for page-level and all-pages-so-far views.
type QueryCache struct {
	stateLock sync.Mutex

	// cache key -> record
	records map[string]*CacheQueryRecord
}

func NewQueryCache() *QueryCache {
	return &QueryCache{
		records: map[string]*CacheQueryRecord{},
	}
}

// atomic replace of the record for the key. Returns the cache key.
func (self *QueryCache) Write(entityType string, query *Query, ids []string, pagination Pagination) string {
	cacheKey := CacheKey(entityType, query)

	record := &CacheQueryRecord{
		Entity:     entityType,
		Ids:        slices.Clone(ids),
		Pagination: pagination,
	}
	if query != nil {
		record.Query = *query
		record.Query.MatchAll = slices.Clone(query.MatchAll)
		record.Query.MatchAny = slices.Clone(query.MatchAny)
	}

	self.stateLock.Lock()
	self.records[cacheKey] = record
	self.stateLock.Unlock()

	glog.V(2).Infof("[qc]write key=%s n=%d\n", cacheKey, len(ids))
	return cacheKey
}

func (self *QueryCache) Read(cacheKey string) (*CacheQueryRecord, bool) {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	record, ok := self.records[cacheKey]
	if !ok {
		return nil, false
	}
	return record.clone(), true
}

func (self *QueryCache) Invalidate(cacheKey string) {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	delete(self.records, cacheKey)
}

// records whose entity matches, in stable key order. Drives FetchAll.
func (self *QueryCache) RecordsForEntity(entityType string) []*CacheQueryRecord {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	cacheKeys := maps.Keys(self.records)
	slices.Sort(cacheKeys)
	records := []*CacheQueryRecord{}
	for _, cacheKey := range cacheKeys {
		record := self.records[cacheKey]
		if record.Entity == entityType {
			records = append(records, record.clone())
		}
	}
	return records
}

// ReadAllPages concatenates the ids of pages 1..upToPage of the base query,
// deduplicates preserving first-seen order, and drops ids the store has not
// loaded yet. A missing page record is a gap, not an error: a refreshed or
// invalidated earlier page corrects the view in place on the next read.
func (self *QueryCache) ReadAllPages(store *EntityStore, entityType string, baseQuery *Query, upToPage int) []string {
	if baseQuery == nil {
		baseQuery = &Query{}
	}

	ids := []string{}
	seenIds := map[string]bool{}
	for page := 1; page <= upToPage; page += 1 {
		record, ok := self.Read(CacheKey(entityType, baseQuery.WithPage(page)))
		if !ok {
			continue
		}
		for _, id := range record.Ids {
			if seenIds[id] {
				continue
			}
			seenIds[id] = true
			if !store.Contains(entityType, id) {
				// not yet loaded rather than deleted
				continue
			}
			ids = append(ids, id)
		}
	}
	return ids
}
