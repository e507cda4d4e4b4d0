package client

import (
	"testing"

	"github.com/goccy/go-json"

	"github.com/go-playground/assert/v2"
)

func TestNormalizeResponse(t *testing.T) {
	dispatcher := newTestDispatcher()

	query := &Query{Page: 1}
	cacheKey := dispatcher.NormalizeResponse("tokens", query, &FetchResult{
		Entities: []Record{
			{"id": "a", "v": 1},
			{"v": 2},
			{"id": "b", "v": 3},
		},
		Pagination: Pagination{Page: 1, IsLastPage: true},
	})
	assert.Equal(t, CacheKey("tokens", query), cacheKey)

	record, ok := dispatcher.cache.Read(cacheKey)
	assert.Equal(t, true, ok)
	// the id-less record contributes neither an id nor a store entry
	assert.Equal(t, []string{"a", "b"}, record.Ids)
	assert.Equal(t, true, record.Pagination.IsLastPage)
	assert.Equal(t, 2, len(dispatcher.store.All("tokens")))
}

func TestHandleMessageEntitiesUpdated(t *testing.T) {
	dispatcher := newTestDispatcher()

	dispatcher.HandleMessage(
		"tokens:n1",
		PushEventEntitiesUpdated,
		json.RawMessage(`{"entity":"tokens","entities":[{"id":"a","v":1}]}`),
	)

	record, ok := dispatcher.store.Get("tokens", "a")
	assert.Equal(t, true, ok)
	assert.Equal(t, float64(1), record["v"])
}

func TestHandleMessageCacheInvalidated(t *testing.T) {
	dispatcher := newTestDispatcher()

	cacheKey := dispatcher.cache.Write("tokens", &Query{Page: 1}, []string{"a"}, Pagination{Page: 1})
	dispatcher.HandleMessage(
		"tokens:n1",
		PushEventCacheInvalidated,
		json.RawMessage(`{"cache_key":`+string(mustMarshal(t, cacheKey))+`}`),
	)

	_, ok := dispatcher.cache.Read(cacheKey)
	assert.Equal(t, false, ok)
}

func TestHandleMessageMalformedAndUnknown(t *testing.T) {
	dispatcher := newTestDispatcher()

	// malformed payloads and unknown events are dropped without effect
	dispatcher.HandleMessage("tokens:n1", PushEventEntitiesUpdated, json.RawMessage(`{"entity":`))
	dispatcher.HandleMessage("tokens:n1", PushEventEntitiesUpdated, json.RawMessage(`{"entity":"","entities":[{"id":"a"}]}`))
	dispatcher.HandleMessage("tokens:n1", PushEventCacheInvalidated, json.RawMessage(`{"cache_key":""}`))
	dispatcher.HandleMessage("tokens:n1", "entities_deleted", json.RawMessage(`{}`))

	assert.Equal(t, 0, len(dispatcher.store.EntityTypes()))
}

func mustMarshal(t *testing.T, value any) []byte {
	valueBytes, err := json.Marshal(value)
	assert.Equal(t, nil, err)
	return valueBytes
}
