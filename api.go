package geosync

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"
)

const defaultHttpTimeout = 60 * time.Second
const defaultHttpConnectTimeout = 5 * time.Second
const defaultHttpTlsTimeout = 5 * time.Second

func defaultClient() *http.Client {
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

// GeoApi is the store HTTP api client for upstream writes.
type GeoApi struct {
	ctx    context.Context
	cancel context.CancelFunc

	apiUrl string

	byJwt string
}

func NewGeoApi(apiUrl string) *GeoApi {
	return NewGeoApiWithContext(context.Background(), apiUrl)
}

func NewGeoApiWithContext(ctx context.Context, apiUrl string) *GeoApi {
	cancelCtx, cancel := context.WithCancel(ctx)

	return &GeoApi{
		ctx:    cancelCtx,
		cancel: cancel,
		apiUrl: apiUrl,
	}
}

// this gets attached to api calls that need it
func (self *GeoApi) SetByJwt(byJwt string) {
	self.byJwt = byJwt
}

type EntityPositionUpdateCallback apiCallback[*EntityPositionUpdateResult]

type EntityPositionUpdateArgs struct {
	EntityId string  `json:"entity_id"`
	Lat      float64 `json:"lat"`
	Lng      float64 `json:"lng"`
}

type EntityPositionUpdateResult struct {
	UpdateTime string                           `json:"update_time,omitempty"`
	Error      *EntityPositionUpdateResultError `json:"error,omitempty"`
}

type EntityPositionUpdateResultError struct {
	Message string `json:"message"`
}

func (self *GeoApi) UpdateEntityPosition(
	update *EntityPositionUpdateArgs,
	callback EntityPositionUpdateCallback,
) {
	go post(
		self.ctx,
		fmt.Sprintf("%s/geo/entities/%s/position", self.apiUrl, update.EntityId),
		update,
		self.byJwt,
		&EntityPositionUpdateResult{},
		callback,
	)
}

func (self *GeoApi) UpdateEntityPositionSync(ctx context.Context, update *EntityPositionUpdateArgs) (*EntityPositionUpdateResult, error) {
	callback, c := NewBlockingApiCallback[*EntityPositionUpdateResult]()
	self.UpdateEntityPosition(update, callback)
	select {
	case r := <-c:
		return r.Result, r.Error
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// WriteEntityPosition implements PositionWriter for the location publisher.
func (self *GeoApi) WriteEntityPosition(ctx context.Context, entityId string, position Position) error {
	result, err := self.UpdateEntityPositionSync(ctx, &EntityPositionUpdateArgs{
		EntityId: entityId,
		Lat:      position.Latitude,
		Lng:      position.Longitude,
	})
	if err != nil {
		return err
	}
	if result.Error != nil {
		return fmt.Errorf("position update rejected: %s", result.Error.Message)
	}
	return nil
}

func (self *GeoApi) Close() {
	self.cancel()
}

func post[R any](
	ctx context.Context,
	url string,
	args any,
	byJwt string,
	result R,
	callback apiCallback[R],
) (R, error) {
	var empty R

	requestBodyBytes, err := json.Marshal(args)
	if err != nil {
		callback.Result(empty, err)
		return empty, err
	}

	request, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(requestBodyBytes))
	if err != nil {
		callback.Result(empty, err)
		return empty, err
	}
	request.Header.Add("Content-Type", "application/json")
	if byJwt != "" {
		request.Header.Add("Authorization", fmt.Sprintf("Bearer %s", byJwt))
	}

	response, err := defaultClient().Do(request)
	if err != nil {
		callback.Result(empty, err)
		return empty, err
	}
	defer response.Body.Close()

	if response.StatusCode != http.StatusOK {
		err = fmt.Errorf("api error %d: %s", response.StatusCode, response.Status)
		callback.Result(empty, err)
		return empty, err
	}

	responseBodyBytes, err := io.ReadAll(response.Body)
	if err != nil {
		callback.Result(empty, err)
		return empty, err
	}
	if err := json.Unmarshal(responseBodyBytes, result); err != nil {
		callback.Result(empty, err)
		return empty, err
	}

	callback.Result(result, nil)
	return result, nil
}
