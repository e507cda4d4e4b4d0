package client

import (
	"sync"

	"github.com/golang/glog"

	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

// an opaque server record. The only field the store interprets is `id`.
type Record map[string]any

func (self Record) Id() string {
	if id, ok := self["id"].(string); ok {
		return id
	}
	return ""
}

func (self Record) clone() Record {
	return maps.Clone(self)
}

type EntityStoreUpdateListener func(entityType string)

// EntityStore is the canonical copy of every known entity, keyed by
// (entity type, id). Merge is a shallow replace-by-id, last writer wins.
// All other structures hold ids, never record copies.
// Mutation is serialized by `stateLock` to reproduce the atomicity of a
// single-threaded event loop.
type EntityStore struct {
	stateLock sync.Mutex

	// entity type -> id -> latest record
	entities map[string]map[string]Record

	updateListeners *callbackList[EntityStoreUpdateListener]
}

func NewEntityStore() *EntityStore {
	return &EntityStore{
		entities:        map[string]map[string]Record{},
		updateListeners: newCallbackList[EntityStoreUpdateListener](),
	}
}

// replaces each record by id. A later write of the same id fully replaces the
// earlier one, never a partial merge. Records without an id are dropped.
func (self *EntityStore) Merge(entityType string, records []Record) {
	self.stateLock.Lock()
	byId, ok := self.entities[entityType]
	if !ok {
		byId = map[string]Record{}
		self.entities[entityType] = byId
	}
	merged := 0
	for _, record := range records {
		id := record.Id()
		if id == "" {
			glog.Infof("[es]drop record without id entity=%s\n", entityType)
			continue
		}
		byId[id] = record.clone()
		merged += 1
	}
	self.stateLock.Unlock()

	glog.V(2).Infof("[es]merge entity=%s n=%d\n", entityType, merged)

	if 0 < merged {
		for _, updateListener := range self.updateListeners.get() {
			updateListener(entityType)
		}
	}
}

func (self *EntityStore) Get(entityType string, id string) (Record, bool) {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	byId, ok := self.entities[entityType]
	if !ok {
		return nil, false
	}
	record, ok := byId[id]
	if !ok {
		return nil, false
	}
	return record.clone(), true
}

func (self *EntityStore) Contains(entityType string, id string) bool {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	byId, ok := self.entities[entityType]
	if !ok {
		return false
	}
	_, ok = byId[id]
	return ok
}

func (self *EntityStore) EntityTypes() []string {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	entityTypes := maps.Keys(self.entities)
	slices.Sort(entityTypes)
	return entityTypes
}

// all records of one entity type, in id order
func (self *EntityStore) All(entityType string) []Record {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	byId, ok := self.entities[entityType]
	if !ok {
		return []Record{}
	}
	ids := maps.Keys(byId)
	slices.Sort(ids)
	records := make([]Record, 0, len(ids))
	for _, id := range ids {
		records = append(records, byId[id].clone())
	}
	return records
}

// the listener fires after every merge that changed at least one record.
// returns a function to remove the listener.
func (self *EntityStore) AddUpdateListener(updateListener EntityStoreUpdateListener) func() {
	return self.updateListeners.add(updateListener)
}
