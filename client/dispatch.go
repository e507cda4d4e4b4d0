package client

import (
	"github.com/goccy/go-json"
	"github.com/golang/glog"
)

// push events carried on entity topics
const (
	PushEventEntitiesUpdated  = "entities_updated"
	PushEventCacheInvalidated = "cache_invalidated"
)

type entitiesUpdatedData struct {
	Entity   string   `json:"entity"`
	Entities []Record `json:"entities"`
}

type cacheInvalidatedData struct {
	CacheKey string `json:"cache_key"`
}

// Dispatcher is the normalization glue between the transports and the cache:
// a fetch response becomes an entity store merge plus a query cache write, and
// a push message becomes a store merge or a cache invalidation.
type Dispatcher struct {
	store   *EntityStore
	cache   *QueryCache
	metrics *Metrics
}

func NewDispatcher(store *EntityStore, cache *QueryCache, metrics *Metrics) *Dispatcher {
	return &Dispatcher{
		store:   store,
		cache:   cache,
		metrics: metrics,
	}
}

// normalizes one successful fetch response. Returns the cache key written.
func (self *Dispatcher) NormalizeResponse(entityType string, query *Query, result *FetchResult) string {
	ids := make([]string, 0, len(result.Entities))
	for _, record := range result.Entities {
		if id := record.Id(); id != "" {
			ids = append(ids, id)
		}
	}
	self.store.Merge(entityType, result.Entities)
	return self.cache.Write(entityType, query, ids, result.Pagination)
}

// HandleMessage routes one inbound push frame. Unknown events are logged and
// ignored so that new server events never break older clients.
func (self *Dispatcher) HandleMessage(topic string, event string, data json.RawMessage) {
	switch event {
	case PushEventEntitiesUpdated:
		updated := &entitiesUpdatedData{}
		if err := json.Unmarshal(data, updated); err != nil {
			glog.Infof("[d]drop %s %s = %s\n", topic, event, err)
			return
		}
		if updated.Entity == "" || len(updated.Entities) == 0 {
			return
		}
		glog.V(2).Infof("[d]push merge %s entity=%s n=%d\n", topic, updated.Entity, len(updated.Entities))
		self.store.Merge(updated.Entity, updated.Entities)
	case PushEventCacheInvalidated:
		invalidated := &cacheInvalidatedData{}
		if err := json.Unmarshal(data, invalidated); err != nil {
			glog.Infof("[d]drop %s %s = %s\n", topic, event, err)
			return
		}
		if invalidated.CacheKey == "" {
			return
		}
		glog.V(2).Infof("[d]push invalidate %s key=%s\n", topic, invalidated.CacheKey)
		self.cache.Invalidate(invalidated.CacheKey)
	default:
		glog.V(1).Infof("[d]unknown event %s %s\n", topic, event)
	}
}
