package geosync

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/golang/glog"

	"golang.org/x/exp/maps"
)

// Feed is the change-feed subscribe contract against the document store.
// `onDelta` receives the full current result set of the query on every
// change, in server order. `onError` is terminal for the subscription:
// the feed is not auto-retried, recovery is resubscription.
type Feed interface {
	Subscribe(
		collection string,
		constraints []*Constraint,
		onDelta func(documents []*Document),
		onError func(err error),
	) (func(), error)
}

// FeedError is a change-feed subscribe/listen failure. Non-fatal: previously
// emitted state is retained by consumers.
type FeedError struct {
	Collection string
	Message    string
}

func (self *FeedError) Error() string {
	if self.Collection == "" {
		return fmt.Sprintf("feed error: %s", self.Message)
	}
	return fmt.Sprintf("feed error (%s): %s", self.Collection, self.Message)
}

// wire frames between the feed client and the store sync endpoint
const (
	frameTypeAuth        = "auth"
	frameTypeAuthResult  = "auth_result"
	frameTypeSubscribe   = "subscribe"
	frameTypeUnsubscribe = "unsubscribe"
	frameTypeDelta       = "delta"
	frameTypeError       = "error"
)

type feedFrame struct {
	Type           string        `json:"type"`
	SubscriptionId *Id           `json:"subscription_id,omitempty"`
	Collection     string        `json:"collection,omitempty"`
	Constraints    []*Constraint `json:"constraints,omitempty"`
	Documents      []*Document   `json:"documents,omitempty"`
	Message        string        `json:"message,omitempty"`
	ByJwt          string        `json:"by_jwt,omitempty"`
}

type FeedClientSettings struct {
	WsHandshakeTimeout time.Duration
	AuthTimeout        time.Duration
	PingTimeout        time.Duration
	WriteTimeout       time.Duration
	ReadTimeout        time.Duration
}

func DefaultFeedClientSettings() *FeedClientSettings {
	return &FeedClientSettings{
		WsHandshakeTimeout: 2 * time.Second,
		AuthTimeout:        2 * time.Second,
		PingTimeout:        5 * time.Second,
		WriteTimeout:       5 * time.Second,
		ReadTimeout:        15 * time.Second,
	}
}

type feedSubscription struct {
	subscriptionId Id
	collection     string
	onDelta        func(documents []*Document)
	onError        func(err error)
}

// FeedClient is the production Feed implementation: one websocket connection
// to the store sync endpoint multiplexing all subscriptions. Deltas for one
// subscription are dispatched sequentially from the read loop, preserving
// server arrival order per collection.
type FeedClient struct {
	ctx    context.Context
	cancel context.CancelFunc

	url   string
	byJwt string

	settings *FeedClientSettings

	ws        *websocket.Conn
	writeLock sync.Mutex

	stateLock     sync.Mutex
	subscriptions map[Id]*feedSubscription
	closed        bool
}

func NewFeedClientWithDefaults(ctx context.Context, url string, byJwt string) (*FeedClient, error) {
	return NewFeedClient(ctx, url, byJwt, DefaultFeedClientSettings())
}

func NewFeedClient(ctx context.Context, url string, byJwt string, settings *FeedClientSettings) (*FeedClient, error) {
	cancelCtx, cancel := context.WithCancel(ctx)

	dialer := &websocket.Dialer{
		HandshakeTimeout: settings.WsHandshakeTimeout,
	}
	ws, _, err := dialer.DialContext(cancelCtx, url, nil)
	if err != nil {
		cancel()
		return nil, err
	}

	success := false
	defer func() {
		if !success {
			ws.Close()
			cancel()
		}
	}()

	ws.SetWriteDeadline(time.Now().Add(settings.AuthTimeout))
	if err := ws.WriteJSON(&feedFrame{
		Type:  frameTypeAuth,
		ByJwt: byJwt,
	}); err != nil {
		return nil, err
	}
	ws.SetReadDeadline(time.Now().Add(settings.AuthTimeout))
	var authResult feedFrame
	if err := ws.ReadJSON(&authResult); err != nil {
		return nil, err
	}
	if authResult.Type != frameTypeAuthResult {
		return nil, fmt.Errorf("feed auth failed: %s", authResult.Message)
	}

	client := &FeedClient{
		ctx:           cancelCtx,
		cancel:        cancel,
		url:           url,
		byJwt:         byJwt,
		settings:      settings,
		ws:            ws,
		subscriptions: map[Id]*feedSubscription{},
	}

	success = true
	go client.run()
	go client.pingLoop()
	return client, nil
}

// Subscribe opens one live change-feed for a collection query. The returned
// closure tears the subscription down and is safe to call more than once.
func (self *FeedClient) Subscribe(
	collection string,
	constraints []*Constraint,
	onDelta func(documents []*Document),
	onError func(err error),
) (func(), error) {
	subscription := &feedSubscription{
		subscriptionId: NewId(),
		collection:     collection,
		onDelta:        onDelta,
		onError:        onError,
	}

	self.stateLock.Lock()
	if self.closed {
		self.stateLock.Unlock()
		return nil, &FeedError{
			Collection: collection,
			Message:    "feed client is closed",
		}
	}
	self.subscriptions[subscription.subscriptionId] = subscription
	self.stateLock.Unlock()

	if err := self.writeFrame(&feedFrame{
		Type:           frameTypeSubscribe,
		SubscriptionId: &subscription.subscriptionId,
		Collection:     collection,
		Constraints:    constraints,
	}); err != nil {
		self.stateLock.Lock()
		delete(self.subscriptions, subscription.subscriptionId)
		self.stateLock.Unlock()
		return nil, &FeedError{
			Collection: collection,
			Message:    err.Error(),
		}
	}

	unsubscribe := func() {
		self.stateLock.Lock()
		_, active := self.subscriptions[subscription.subscriptionId]
		delete(self.subscriptions, subscription.subscriptionId)
		self.stateLock.Unlock()

		if active {
			// best effort. The connection may already be gone.
			self.writeFrame(&feedFrame{
				Type:           frameTypeUnsubscribe,
				SubscriptionId: &subscription.subscriptionId,
			})
		}
	}
	return unsubscribe, nil
}

func (self *FeedClient) writeFrame(frame *feedFrame) error {
	self.writeLock.Lock()
	defer self.writeLock.Unlock()
	self.ws.SetWriteDeadline(time.Now().Add(self.settings.WriteTimeout))
	return self.ws.WriteJSON(frame)
}

func (self *FeedClient) run() {
	defer self.close()

	self.ws.SetReadDeadline(time.Now().Add(self.settings.ReadTimeout))
	self.ws.SetPongHandler(func(string) error {
		self.ws.SetReadDeadline(time.Now().Add(self.settings.ReadTimeout))
		return nil
	})

	for {
		var frame feedFrame
		if err := self.ws.ReadJSON(&frame); err != nil {
			glog.Infof("[feed]read error = %s\n", err)
			self.connectionLost(err)
			return
		}
		self.ws.SetReadDeadline(time.Now().Add(self.settings.ReadTimeout))

		switch frame.Type {
		case frameTypeDelta:
			if subscription := self.subscription(frame.SubscriptionId); subscription != nil {
				subscription.onDelta(frame.Documents)
			}
		case frameTypeError:
			if subscription := self.subscription(frame.SubscriptionId); subscription != nil {
				subscription.onError(&FeedError{
					Collection: subscription.collection,
					Message:    frame.Message,
				})
			}
		default:
			glog.V(1).Infof("[feed]ignoring frame type = %s\n", frame.Type)
		}
	}
}

func (self *FeedClient) subscription(subscriptionId *Id) *feedSubscription {
	if subscriptionId == nil {
		return nil
	}
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	return self.subscriptions[*subscriptionId]
}

// connection loss surfaces as a feed error to every active subscription.
// Subscriptions are not replayed on a new connection.
func (self *FeedClient) connectionLost(err error) {
	self.stateLock.Lock()
	subscriptions := maps.Values(self.subscriptions)
	maps.Clear(self.subscriptions)
	self.stateLock.Unlock()

	for _, subscription := range subscriptions {
		subscription.onError(&FeedError{
			Collection: subscription.collection,
			Message:    fmt.Sprintf("connection lost: %s", err),
		})
	}
}

func (self *FeedClient) pingLoop() {
	for {
		select {
		case <-self.ctx.Done():
			return
		case <-time.After(self.settings.PingTimeout):
		}

		self.writeLock.Lock()
		self.ws.SetWriteDeadline(time.Now().Add(self.settings.WriteTimeout))
		err := self.ws.WriteMessage(websocket.PingMessage, nil)
		self.writeLock.Unlock()
		if err != nil {
			return
		}
	}
}

func (self *FeedClient) close() {
	self.stateLock.Lock()
	self.closed = true
	self.stateLock.Unlock()

	self.cancel()
	self.ws.Close()
}

func (self *FeedClient) Close() {
	self.close()
}
