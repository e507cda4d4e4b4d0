package client

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"
)

const defaultHttpTimeout = 60 * time.Second
const defaultHttpConnectTimeout = 5 * time.Second
const defaultHttpTlsTimeout = 5 * time.Second

// well-known entity types of the admin API
const (
	EntityAccounts     = "accounts"
	EntityTokens       = "tokens"
	EntityWallets      = "wallets"
	EntityTransactions = "transactions"
)

func defaultClient() *http.Client {
	// see https://medium.com/@nate510/don-t-use-go-s-default-http-client-4804cb19f779
	dialer := &net.Dialer{
		Timeout: defaultHttpConnectTimeout,
	}
	transport := &http.Transport{
		DialContext:         dialer.DialContext,
		TLSHandshakeTimeout: defaultHttpTlsTimeout,
	}
	return &http.Client{
		Transport: transport,
		Timeout:   defaultHttpTimeout,
	}
}

type apiCallback[R any] interface {
	Result(result R, err error)
}

// for internal use
type simpleApiCallback[R any] struct {
	callback func(result R, err error)
}

func NewApiCallback[R any](callback func(result R, err error)) apiCallback[R] {
	return &simpleApiCallback[R]{
		callback: callback,
	}
}

func NewNoopApiCallback[R any]() apiCallback[R] {
	return &simpleApiCallback[R]{
		callback: func(result R, err error) {},
	}
}

func (self *simpleApiCallback[R]) Result(result R, err error) {
	self.callback(result, err)
}

type ApiCallbackResult[R any] struct {
	Result R
	Error  error
}

func NewBlockingApiCallback[R any]() (apiCallback[R], chan ApiCallbackResult[R]) {
	c := make(chan ApiCallbackResult[R])
	apiCallback := NewApiCallback[R](func(result R, err error) {
		c <- ApiCallbackResult[R]{
			Result: result,
			Error:  err,
		}
	})
	return apiCallback, c
}

// AdminApi is the REST surface consumed by fetchers. Core sync code only
// depends on the FetchOperation closures it produces.
type AdminApi struct {
	ctx    context.Context
	cancel context.CancelFunc

	apiUrl string
	client *http.Client

	jwt        string
	instanceId Id
}

func NewAdminApi(apiUrl string) *AdminApi {
	return NewAdminApiWithContext(context.Background(), apiUrl)
}

func NewAdminApiWithContext(ctx context.Context, apiUrl string) *AdminApi {
	cancelCtx, cancel := context.WithCancel(ctx)

	return &AdminApi{
		ctx:    cancelCtx,
		cancel: cancel,
		apiUrl: apiUrl,
		client: defaultClient(),
	}
}

// this gets attached to api calls that need it
func (self *AdminApi) SetJwt(jwt string) {
	self.jwt = jwt
}

func (self *AdminApi) SetInstanceId(instanceId Id) {
	self.instanceId = instanceId
}

type ApiError struct {
	Message string `json:"message"`
}

type AuthLoginWithPasswordCallback apiCallback[*AuthLoginWithPasswordResult]

type AuthLoginWithPasswordArgs struct {
	UserAuth string `json:"user_auth"`
	Password string `json:"password"`
}

type AuthLoginWithPasswordResult struct {
	Success bool                       `json:"success"`
	Data    *AuthLoginWithPasswordData `json:"data,omitempty"`
	Error   *ApiError                  `json:"error,omitempty"`
}

type AuthLoginWithPasswordData struct {
	Jwt      string `json:"jwt"`
	UserName string `json:"user_name,omitempty"`
}

func (self *AdminApi) AuthLoginWithPassword(authLoginWithPassword *AuthLoginWithPasswordArgs, callback AuthLoginWithPasswordCallback) {
	go post(
		self,
		self.ctx,
		fmt.Sprintf("%s/auth/login", self.apiUrl),
		authLoginWithPassword,
		&AuthLoginWithPasswordResult{},
		callback,
	)
}

func (self *AdminApi) AuthLoginWithPasswordSync(authLoginWithPassword *AuthLoginWithPasswordArgs) (*AuthLoginWithPasswordResult, error) {
	return post(
		self,
		self.ctx,
		fmt.Sprintf("%s/auth/login", self.apiUrl),
		authLoginWithPassword,
		&AuthLoginWithPasswordResult{},
		NewNoopApiCallback[*AuthLoginWithPasswordResult](),
	)
}

type ListEntitiesCallback apiCallback[*ListEntitiesResult]

type ListEntitiesResult struct {
	Success bool              `json:"success"`
	Data    *ListEntitiesData `json:"data,omitempty"`
	Error   *ApiError         `json:"error,omitempty"`
}

type ListEntitiesData struct {
	Entities   []Record   `json:"entities"`
	Pagination Pagination `json:"pagination"`
}

func (self *AdminApi) ListEntities(entityType string, query *Query, callback ListEntitiesCallback) {
	go get(
		self,
		self.ctx,
		self.listUrl(entityType, query),
		&ListEntitiesResult{},
		callback,
	)
}

func (self *AdminApi) ListEntitiesSync(ctx context.Context, entityType string, query *Query) (*ListEntitiesResult, error) {
	return get(
		self,
		ctx,
		self.listUrl(entityType, query),
		&ListEntitiesResult{},
		NewNoopApiCallback[*ListEntitiesResult](),
	)
}

func (self *AdminApi) listUrl(entityType string, query *Query) string {
	url := fmt.Sprintf("%s/%s", self.apiUrl, entityType)
	if query != nil {
		if values := query.Values(); 0 < len(values) {
			url = fmt.Sprintf("%s?%s", url, values.Encode())
		}
	}
	return url
}

// the result of one remote fetch, already unwrapped from the response envelope
type FetchResult struct {
	Entities   []Record
	Pagination Pagination
}

// FetchOperation drives one page request for a fetcher. A nil result with a
// nil error is a logical failure even on transport success.
type FetchOperation func(ctx context.Context, query *Query) (*FetchResult, error)

// FetchOp adapts the list endpoint of one entity type into a FetchOperation.
func (self *AdminApi) FetchOp(entityType string) FetchOperation {
	return func(ctx context.Context, query *Query) (*FetchResult, error) {
		result, err := self.ListEntitiesSync(ctx, entityType, query)
		if err != nil {
			return nil, err
		}
		if !result.Success || result.Data == nil {
			// resolved but unsuccessful
			return nil, nil
		}
		return &FetchResult{
			Entities:   result.Data.Entities,
			Pagination: result.Data.Pagination,
		}, nil
	}
}

func (self *AdminApi) Close() {
	self.cancel()
}

func post[R any](api *AdminApi, ctx context.Context, url string, args any, result R, callback apiCallback[R]) (R, error) {
	var requestBodyBytes []byte
	if args == nil {
		requestBodyBytes = make([]byte, 0)
	} else {
		var err error
		requestBodyBytes, err = json.Marshal(args)
		if err != nil {
			var empty R
			callback.Result(empty, err)
			return empty, err
		}
	}

	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(requestBodyBytes))
	if err != nil {
		var empty R
		callback.Result(empty, err)
		return empty, err
	}
	req.Header.Add("Content-Type", "application/json")
	api.addAuthHeaders(req)

	return doRequest(api, req, result, callback)
}

func get[R any](api *AdminApi, ctx context.Context, url string, result R, callback apiCallback[R]) (R, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		var empty R
		callback.Result(empty, err)
		return empty, err
	}
	req.Header.Add("Content-Type", "application/json")
	api.addAuthHeaders(req)

	return doRequest(api, req, result, callback)
}

func (self *AdminApi) addAuthHeaders(req *http.Request) {
	if self.jwt != "" {
		req.Header.Add("Authorization", fmt.Sprintf("Bearer %s", self.jwt))
	}
	if self.instanceId != (Id{}) {
		req.Header.Add("X-Instance-Id", self.instanceId.String())
	}
}

func doRequest[R any](api *AdminApi, req *http.Request, result R, callback apiCallback[R]) (R, error) {
	r, err := api.client.Do(req)
	if err != nil {
		var empty R
		callback.Result(empty, err)
		return empty, err
	}
	defer r.Body.Close()

	responseBodyBytes, err := io.ReadAll(r.Body)

	if http.StatusOK != r.StatusCode {
		// the response body is the error message
		errorMessage := strings.TrimSpace(string(responseBodyBytes))
		err = errors.New(errorMessage)
		callback.Result(result, err)
		return result, err
	}

	if err != nil {
		callback.Result(result, err)
		return result, err
	}

	err = json.Unmarshal(responseBodyBytes, &result)
	if err != nil {
		var empty R
		callback.Result(empty, err)
		return empty, err
	}

	callback.Result(result, nil)
	return result, nil
}
