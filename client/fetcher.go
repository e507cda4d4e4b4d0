package client

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/golang/glog"

	"golang.org/x/exp/slices"
)

type LoadingStatus int

const (
	LoadingStatusDefault LoadingStatus = iota
	LoadingStatusInitiated
	LoadingStatusPending
	LoadingStatusSuccess
	LoadingStatusFailed
)

func (self LoadingStatus) String() string {
	switch self {
	case LoadingStatusDefault:
		return "default"
	case LoadingStatusInitiated:
		return "initiated"
	case LoadingStatusPending:
		return "pending"
	case LoadingStatusSuccess:
		return "success"
	case LoadingStatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

type StatusListener func(status LoadingStatus)

// fires when the projected id set changed
type DataListener func()

type Projection struct {
	Data       []Record
	Pagination Pagination
}

type ProjectFunc func(store *EntityStore, cache *QueryCache, entityType string, query *Query) *Projection

// the single page of the current query
func ProjectPage(store *EntityStore, cache *QueryCache, entityType string, query *Query) *Projection {
	record, ok := cache.Read(CacheKey(entityType, query))
	if !ok {
		return &Projection{Data: []Record{}}
	}
	data := make([]Record, 0, len(record.Ids))
	for _, id := range record.Ids {
		if r, ok := store.Get(entityType, id); ok {
			data = append(data, r)
		}
	}
	return &Projection{
		Data:       data,
		Pagination: record.Pagination,
	}
}

// all pages so far, deduplicated in first-seen order. The infinite scroll view.
func ProjectAllPages(store *EntityStore, cache *QueryCache, entityType string, query *Query) *Projection {
	upToPage := query.Page
	if upToPage < 1 {
		upToPage = 1
	}
	ids := cache.ReadAllPages(store, entityType, query, upToPage)
	data := make([]Record, 0, len(ids))
	for _, id := range ids {
		if r, ok := store.Get(entityType, id); ok {
			data = append(data, r)
		}
	}
	projection := &Projection{Data: data}
	if record, ok := cache.Read(CacheKey(entityType, query)); ok {
		projection.Pagination = record.Pagination
	}
	return projection
}

type FetcherSettings struct {
	// leading-edge debounce window for cache key changes
	DebounceWindow time.Duration
	// injectable clock for tests
	Now func() time.Time
}

func DefaultFetcherSettings() *FetcherSettings {
	return &FetcherSettings{
		DebounceWindow: 300 * time.Millisecond,
		Now:            time.Now,
	}
}

// Fetcher drives the request lifecycle of one (entity type, query) view:
// a loading status state machine, a leading-edge debounce of key changes,
// and id-set diffing so that listeners only fire when the rendered set changes.
// One instance per owning view; the status is never shared between fetchers.
type Fetcher struct {
	ctx    context.Context
	cancel context.CancelFunc

	dispatcher *Dispatcher
	entityType string
	fetchOp    FetchOperation
	project    ProjectFunc
	settings   *FetcherSettings

	stateLock    sync.Mutex
	status       LoadingStatus
	query        Query
	cacheKey     string
	renderedIds  []string
	lastFireTime time.Time

	statusListeners *callbackList[StatusListener]
	dataListeners   *callbackList[DataListener]

	removeStoreListener func()
}

func NewFetcherWithDefaults(
	ctx context.Context,
	dispatcher *Dispatcher,
	entityType string,
	fetchOp FetchOperation,
	query *Query,
) *Fetcher {
	return NewFetcher(ctx, dispatcher, entityType, fetchOp, ProjectPage, query, DefaultFetcherSettings())
}

func NewFetcher(
	ctx context.Context,
	dispatcher *Dispatcher,
	entityType string,
	fetchOp FetchOperation,
	project ProjectFunc,
	query *Query,
	settings *FetcherSettings,
) *Fetcher {
	cancelCtx, cancel := context.WithCancel(ctx)

	if project == nil {
		project = ProjectPage
	}
	if query == nil {
		query = &Query{}
	}

	fetcher := &Fetcher{
		ctx:             cancelCtx,
		cancel:          cancel,
		dispatcher:      dispatcher,
		entityType:      entityType,
		fetchOp:         fetchOp,
		project:         project,
		settings:        settings,
		status:          LoadingStatusDefault,
		query:           *query,
		cacheKey:        CacheKey(entityType, query),
		renderedIds:     []string{},
		statusListeners: newCallbackList[StatusListener](),
		dataListeners:   newCallbackList[DataListener](),
	}
	// a push merge for this entity is immediately visible to the projection
	fetcher.removeStoreListener = dispatcher.store.AddUpdateListener(func(updatedEntityType string) {
		if updatedEntityType == entityType {
			fetcher.projectAndNotify()
		}
	})
	return fetcher
}

func (self *Fetcher) Status() LoadingStatus {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	return self.status
}

func (self *Fetcher) Query() Query {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	return self.query
}

func (self *Fetcher) CacheKey() string {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	return self.cacheKey
}

// recomputed on every read, never cached, so that individually refreshed
// page records correct the view in place
func (self *Fetcher) Data() *Projection {
	self.stateLock.Lock()
	query := self.query
	self.stateLock.Unlock()
	return self.project(self.dispatcher.store, self.dispatcher.cache, self.entityType, &query)
}

func (self *Fetcher) AddStatusListener(statusListener StatusListener) func() {
	return self.statusListeners.add(statusListener)
}

func (self *Fetcher) AddDataListener(dataListener DataListener) func() {
	return self.dataListeners.add(dataListener)
}

// Fetch drives one request for the current query. The first call transitions
// Default -> Initiated, later calls -> Pending. The returned error mirrors the
// Failed status; callers that only observe status can ignore it.
func (self *Fetcher) Fetch(ctx context.Context) error {
	self.stateLock.Lock()
	var next LoadingStatus
	if self.status == LoadingStatusDefault {
		next = LoadingStatusInitiated
	} else {
		next = LoadingStatusPending
	}
	self.status = next
	self.stateLock.Unlock()
	self.notifyStatus(next)

	return self.fetchCurrent(ctx)
}

// SetQuery changes the cache key of this fetcher. Refetches are leading-edge
// debounced: the first change in a burst fires immediately, later changes
// within the window only update the key and leave the status Pending until
// the next fetch.
func (self *Fetcher) SetQuery(ctx context.Context, query *Query) error {
	if query == nil {
		query = &Query{}
	}
	nextCacheKey := CacheKey(self.entityType, query)

	self.stateLock.Lock()
	if nextCacheKey == self.cacheKey {
		self.stateLock.Unlock()
		return nil
	}
	self.query = *query
	self.query.MatchAll = slices.Clone(query.MatchAll)
	self.query.MatchAny = slices.Clone(query.MatchAny)
	self.cacheKey = nextCacheKey
	self.status = LoadingStatusPending
	now := self.settings.Now()
	fire := self.settings.DebounceWindow <= now.Sub(self.lastFireTime)
	if fire {
		self.lastFireTime = now
	}
	self.stateLock.Unlock()
	self.notifyStatus(LoadingStatusPending)

	if !fire {
		glog.V(2).Infof("[f]%s debounce key=%s\n", self.entityType, nextCacheKey)
		return nil
	}
	return self.fetchCurrent(ctx)
}

func (self *Fetcher) fetchCurrent(ctx context.Context) error {
	if ctx == nil {
		ctx = self.ctx
	}

	self.stateLock.Lock()
	query := self.query
	cacheKey := self.cacheKey
	self.stateLock.Unlock()

	_, hit := self.dispatcher.cache.Read(cacheKey)
	self.dispatcher.metrics.countCacheRead(hit)

	result, err := self.fetchOp(ctx, &query)
	return self.resolve(&query, result, err)
}

func (self *Fetcher) resolve(query *Query, result *FetchResult, err error) error {
	if err != nil || result == nil {
		self.setStatus(LoadingStatusFailed)
		self.dispatcher.metrics.countFetch(self.entityType, LoadingStatusFailed)
		if err != nil {
			glog.Infof("[f]%s fetch error = %s\n", self.entityType, err)
			return err
		}
		glog.Infof("[f]%s fetch resolved unsuccessful\n", self.entityType)
		return errors.New("fetch resolved unsuccessful")
	}

	// last-resolved-wins: the response is written under the key of its own
	// request, so a slow earlier resolution can overwrite a faster later one
	// for the same key without corrupting other keys
	self.dispatcher.NormalizeResponse(self.entityType, query, result)
	self.setStatus(LoadingStatusSuccess)
	self.dispatcher.metrics.countFetch(self.entityType, LoadingStatusSuccess)
	self.projectAndNotify()
	return nil
}

// FetchAll re-issues the fetch operation for every page currently recorded for
// this entity type, in parallel. Best-effort background repair after a
// mutation that could have shifted many pages: individual page failures are
// swallowed and logged, never surfaced to the owning view.
func (self *Fetcher) FetchAll(ctx context.Context) {
	if ctx == nil {
		ctx = self.ctx
	}

	records := self.dispatcher.cache.RecordsForEntity(self.entityType)
	wg := sync.WaitGroup{}
	for _, record := range records {
		wg.Add(1)
		go func(record *CacheQueryRecord) {
			defer wg.Done()
			query := record.Query
			result, err := self.fetchOp(ctx, &query)
			if err != nil {
				glog.Infof("[f]%s fetch all page %d error = %s\n", self.entityType, query.Page, err)
				return
			}
			if result == nil {
				glog.Infof("[f]%s fetch all page %d resolved unsuccessful\n", self.entityType, query.Page)
				return
			}
			self.dispatcher.NormalizeResponse(self.entityType, &query, result)
		}(record)
	}
	wg.Wait()
	self.projectAndNotify()
}

func (self *Fetcher) setStatus(status LoadingStatus) {
	self.stateLock.Lock()
	self.status = status
	self.stateLock.Unlock()
	self.notifyStatus(status)
}

func (self *Fetcher) notifyStatus(status LoadingStatus) {
	for _, statusListener := range self.statusListeners.get() {
		statusListener(status)
	}
}

// recompute the projection and notify data listeners only if the id set
// differs from the previously rendered set. Avoids re-render storms when a
// background refresh returns the same ids.
func (self *Fetcher) projectAndNotify() {
	projection := self.Data()
	ids := make([]string, 0, len(projection.Data))
	for _, record := range projection.Data {
		ids = append(ids, record.Id())
	}

	self.stateLock.Lock()
	changed := !sameIdSet(self.renderedIds, ids)
	if changed {
		self.renderedIds = ids
	}
	self.stateLock.Unlock()

	if changed {
		for _, dataListener := range self.dataListeners.get() {
			dataListener()
		}
	}
}

// empty symmetric difference by id
func sameIdSet(a []string, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	bSet := make(map[string]bool, len(b))
	for _, id := range b {
		bSet[id] = true
	}
	for _, id := range a {
		if !bSet[id] {
			return false
		}
	}
	return true
}

func (self *Fetcher) Close() {
	self.cancel()
	self.removeStoreListener()
}
