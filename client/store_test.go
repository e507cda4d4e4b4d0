package client

import (
	"testing"

	"github.com/go-playground/assert/v2"
)

func TestEntityStoreMerge(t *testing.T) {
	store := NewEntityStore()

	store.Merge("tokens", []Record{{"id": "a", "v": 1}})
	store.Merge("tokens", []Record{{"id": "a", "v": 2}})

	record, ok := store.Get("tokens", "a")
	assert.Equal(t, true, ok)
	assert.Equal(t, 2, record["v"])

	// replace by id is shallow, not a deep merge
	store.Merge("tokens", []Record{{"id": "a", "w": 3}})
	record, ok = store.Get("tokens", "a")
	assert.Equal(t, true, ok)
	assert.Equal(t, nil, record["v"])
	assert.Equal(t, 3, record["w"])
}

func TestEntityStoreGetAbsent(t *testing.T) {
	store := NewEntityStore()

	_, ok := store.Get("tokens", "a")
	assert.Equal(t, false, ok)

	store.Merge("tokens", []Record{{"id": "a"}})
	_, ok = store.Get("tokens", "b")
	assert.Equal(t, false, ok)
	_, ok = store.Get("accounts", "a")
	assert.Equal(t, false, ok)
	assert.Equal(t, false, store.Contains("accounts", "a"))
	assert.Equal(t, true, store.Contains("tokens", "a"))
}

func TestEntityStoreDropsRecordsWithoutId(t *testing.T) {
	store := NewEntityStore()

	store.Merge("tokens", []Record{{"v": 1}, {"id": "a", "v": 2}})

	assert.Equal(t, []string{"tokens"}, store.EntityTypes())
	assert.Equal(t, 1, len(store.All("tokens")))
}

func TestEntityStoreCopies(t *testing.T) {
	store := NewEntityStore()

	record := Record{"id": "a", "v": 1}
	store.Merge("tokens", []Record{record})

	// mutating the input does not reach the canonical copy
	record["v"] = 100
	stored, _ := store.Get("tokens", "a")
	assert.Equal(t, 1, stored["v"])

	// mutating a read copy does not either
	stored["v"] = 200
	stored2, _ := store.Get("tokens", "a")
	assert.Equal(t, 1, stored2["v"])
}

func TestEntityStoreUpdateListener(t *testing.T) {
	store := NewEntityStore()

	updatedEntityTypes := []string{}
	remove := store.AddUpdateListener(func(entityType string) {
		updatedEntityTypes = append(updatedEntityTypes, entityType)
	})

	store.Merge("tokens", []Record{{"id": "a"}})
	store.Merge("accounts", []Record{{"id": "b"}})
	// nothing merged, no notification
	store.Merge("wallets", []Record{{"v": 1}})

	assert.Equal(t, []string{"tokens", "accounts"}, updatedEntityTypes)

	remove()
	store.Merge("tokens", []Record{{"id": "c"}})
	assert.Equal(t, 2, len(updatedEntityTypes))
}
