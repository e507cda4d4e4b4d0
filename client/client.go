package client

import (
	"context"
	"errors"

	"github.com/golang/glog"
)

var ErrNoSession = errors.New("no session jwt set")

type SyncClientSettings struct {
	FetcherSettings *FetcherSettings
	ChannelSettings *ChannelSessionSettings
	// nil disables instrumentation
	Metrics *Metrics
}

func DefaultSyncClientSettings() *SyncClientSettings {
	return &SyncClientSettings{
		FetcherSettings: DefaultFetcherSettings(),
		ChannelSettings: DefaultChannelSessionSettings(),
	}
}

// SyncClient is the single context object that owns the entity store, the
// query cache, the dispatcher, the channel session and the api client.
// Constructed once at process start and injected wherever fetchers are made;
// there is no module-level shared state.
type SyncClient struct {
	ctx    context.Context
	cancel context.CancelFunc

	instanceId Id

	api        *AdminApi
	store      *EntityStore
	cache      *QueryCache
	dispatcher *Dispatcher
	channel    *ChannelSessionManager
	settings   *SyncClientSettings

	sessionJwt *SessionJwt
}

func NewSyncClientWithDefaults(ctx context.Context, apiUrl string, channelUrl string) *SyncClient {
	return NewSyncClient(ctx, apiUrl, channelUrl, DefaultSyncClientSettings())
}

func NewSyncClient(ctx context.Context, apiUrl string, channelUrl string, settings *SyncClientSettings) *SyncClient {
	cancelCtx, cancel := context.WithCancel(ctx)

	instanceId := NewId()

	api := NewAdminApiWithContext(cancelCtx, apiUrl)
	api.SetInstanceId(instanceId)

	store := NewEntityStore()
	cache := NewQueryCache()
	dispatcher := NewDispatcher(store, cache, settings.Metrics)
	channel := NewChannelSessionManager(
		cancelCtx,
		channelUrl,
		dispatcher.HandleMessage,
		settings.Metrics,
		settings.ChannelSettings,
	)

	syncClient := &SyncClient{
		ctx:        cancelCtx,
		cancel:     cancel,
		instanceId: instanceId,
		api:        api,
		store:      store,
		cache:      cache,
		dispatcher: dispatcher,
		channel:    channel,
		settings:   settings,
	}

	channel.AddDisconnectListener(func(err error) {
		// cached data keeps serving while disconnected, it is just potentially stale
		glog.Infof("[sc]%s live updates lost = %s\n", instanceId, err)
	})

	glog.V(1).Infof("[sc]start %s api=%s channel=%s\n", instanceId, apiUrl, channelUrl)
	return syncClient
}

func (self *SyncClient) InstanceId() Id {
	return self.instanceId
}

func (self *SyncClient) Api() *AdminApi {
	return self.api
}

func (self *SyncClient) Store() *EntityStore {
	return self.store
}

func (self *SyncClient) Cache() *QueryCache {
	return self.cache
}

func (self *SyncClient) Dispatcher() *Dispatcher {
	return self.dispatcher
}

func (self *SyncClient) Channel() *ChannelSessionManager {
	return self.channel
}

// SetJwt attaches the session token to api calls and derives the identity
// used for entity topic names.
func (self *SyncClient) SetJwt(jwt string) error {
	sessionJwt, err := ParseSessionJwtUnverified(jwt)
	if err != nil {
		return err
	}
	self.api.SetJwt(jwt)
	self.sessionJwt = sessionJwt
	return nil
}

func (self *SyncClient) SessionJwt() *SessionJwt {
	return self.sessionJwt
}

func (self *SyncClient) Connect(ctx context.Context) error {
	return self.channel.Connect(ctx)
}

// JoinEntityChannel queues a join for the entity topic of the current session.
func (self *SyncClient) JoinEntityChannel(entityType string) error {
	if self.sessionJwt == nil {
		return ErrNoSession
	}
	return self.channel.JoinChannel(self.sessionJwt.EntityTopic(entityType))
}

// NewFetcher makes a fetcher over this client's cache. A nil fetchOp uses the
// api list endpoint of the entity type, a nil project uses ProjectPage.
func (self *SyncClient) NewFetcher(
	entityType string,
	fetchOp FetchOperation,
	project ProjectFunc,
	query *Query,
) *Fetcher {
	if fetchOp == nil {
		fetchOp = self.api.FetchOp(entityType)
	}
	return NewFetcher(
		self.ctx,
		self.dispatcher,
		entityType,
		fetchOp,
		project,
		query,
		self.settings.FetcherSettings,
	)
}

func (self *SyncClient) Close() {
	self.channel.Close()
	self.api.Close()
	self.cancel()
}
