package geosync

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/go-playground/assert/v2"

	"golang.org/x/exp/slices"
)

type testFeedSubscription struct {
	collection  string
	constraints []*Constraint
	onDelta     func(documents []*Document)
	onError     func(err error)
	active      bool
}

type testFeed struct {
	mutex         sync.Mutex
	events        []string
	subscriptions map[string]*testFeedSubscription
	subscribeErrs map[string]error
}

func newTestFeed() *testFeed {
	return &testFeed{
		subscriptions: map[string]*testFeedSubscription{},
		subscribeErrs: map[string]error{},
	}
}

func (self *testFeed) Subscribe(
	collection string,
	constraints []*Constraint,
	onDelta func(documents []*Document),
	onError func(err error),
) (func(), error) {
	self.mutex.Lock()
	defer self.mutex.Unlock()

	if err := self.subscribeErrs[collection]; err != nil {
		return nil, err
	}

	subscription := &testFeedSubscription{
		collection:  collection,
		constraints: constraints,
		onDelta:     onDelta,
		onError:     onError,
		active:      true,
	}
	self.subscriptions[collection] = subscription
	self.events = append(self.events, fmt.Sprintf("subscribe:%s", collection))

	unsubscribe := func() {
		self.mutex.Lock()
		defer self.mutex.Unlock()
		if subscription.active {
			subscription.active = false
			self.events = append(self.events, fmt.Sprintf("unsubscribe:%s", collection))
		}
	}
	return unsubscribe, nil
}

func (self *testFeed) subscription(collection string) *testFeedSubscription {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	return self.subscriptions[collection]
}

func (self *testFeed) emit(collection string, documents []*Document) {
	self.subscription(collection).onDelta(documents)
}

func (self *testFeed) emitError(collection string, err error) {
	self.subscription(collection).onError(err)
}

func (self *testFeed) eventLog() []string {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	return slices.Clone(self.events)
}

func testDocument(id string, latitude float64, longitude float64) *Document {
	return &Document{
		Id: id,
		Fields: map[string]any{
			"lat":    latitude,
			"lng":    longitude,
			"status": StatusAvailable,
		},
	}
}

func testMapSyncSettings() *MapSyncSettings {
	return &MapSyncSettings{
		DebounceTimeout: 50 * time.Millisecond,
	}
}

func TestMapSyncPublish(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	feed := newTestFeed()
	filterState := &FilterState{
		Bbox: &BoundingBox{
			Southwest: Position{Latitude: 22, Longitude: 75},
			Northeast: Position{Latitude: 23, Longitude: 76},
		},
	}
	mapSync := OpenMapSync(
		ctx,
		feed,
		[]string{CollectionDonations, CollectionRequests},
		filterState,
		testMapSyncSettings(),
	)
	defer mapSync.Close()

	var mutex sync.Mutex
	snapshots := []*MapSnapshot{}
	mapSync.AddSnapshotCallback(func(snapshot *MapSnapshot) {
		mutex.Lock()
		defer mutex.Unlock()
		snapshots = append(snapshots, snapshot)
	})

	feed.emit(CollectionDonations, []*Document{
		// resolvable and inside the viewport
		testDocument("a", 22.70, 75.85),
		// no resolvable position, never emitted
		{Id: "b", Fields: map[string]any{"status": StatusAvailable}},
		// outside the viewport
		testDocument("c", 50.0, 75.85),
	})

	time.Sleep(150 * time.Millisecond)

	donations := mapSync.Donations()
	assert.Equal(t, 1, len(donations))
	assert.Equal(t, "a", donations[0].Id)
	assert.Equal(t, CollectionDonations, donations[0].Collection)
	assert.Equal(t, StatusAvailable, donations[0].Status)
	assert.Equal(t, 22.70, donations[0].Position.Latitude)

	assert.Equal(t, 0, len(mapSync.Requests()))
	assert.Equal(t, false, mapSync.LastUpdateTime().IsZero())

	mutex.Lock()
	assert.Equal(t, 1, len(snapshots))
	assert.Equal(t, 1, len(snapshots[0].Donations))
	mutex.Unlock()
}

func TestMapSyncCoalesce(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	feed := newTestFeed()
	mapSync := OpenMapSync(
		ctx,
		feed,
		[]string{CollectionDonations},
		nil,
		&MapSyncSettings{
			DebounceTimeout: 200 * time.Millisecond,
		},
	)
	defer mapSync.Close()

	var mutex sync.Mutex
	publishCount := 0
	mapSync.AddSnapshotCallback(func(snapshot *MapSnapshot) {
		mutex.Lock()
		defer mutex.Unlock()
		publishCount += 1
	})

	// five deltas within one debounce window
	for i := 0; i < 5; i += 1 {
		documents := []*Document{}
		for j := 0; j <= i; j += 1 {
			documents = append(documents, testDocument(fmt.Sprintf("d%d", j), 22.70, 75.85))
		}
		feed.emit(CollectionDonations, documents)
		time.Sleep(10 * time.Millisecond)
	}

	time.Sleep(400 * time.Millisecond)

	// exactly one publication, carrying the cumulative effect of the last
	mutex.Lock()
	assert.Equal(t, 1, publishCount)
	mutex.Unlock()
	assert.Equal(t, 5, len(mapSync.Donations()))
}

func TestMapSyncDeltaReplacesSet(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	feed := newTestFeed()
	mapSync := OpenMapSync(ctx, feed, []string{CollectionDonations}, nil, testMapSyncSettings())
	defer mapSync.Close()

	feed.emit(CollectionDonations, []*Document{
		testDocument("a", 22.70, 75.85),
		testDocument("b", 22.71, 75.86),
	})
	time.Sleep(150 * time.Millisecond)
	assert.Equal(t, 2, len(mapSync.Donations()))

	// each delta carries the full current result set
	feed.emit(CollectionDonations, []*Document{
		testDocument("b", 22.71, 75.86),
	})
	time.Sleep(150 * time.Millisecond)

	donations := mapSync.Donations()
	assert.Equal(t, 1, len(donations))
	assert.Equal(t, "b", donations[0].Id)
}

func TestMapSyncConstraints(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	feed := newTestFeed()
	mapSync := OpenMapSync(
		ctx,
		feed,
		[]string{CollectionDonations, CollectionRequests},
		&FilterState{
			UserRole: RoleNgo,
		},
		testMapSyncSettings(),
	)
	defer mapSync.Close()

	// the ngo role constraint reaches the feed
	constraints := feed.subscription(CollectionDonations).constraints
	assert.Equal(t, 1, len(constraints))
	assert.Equal(t, "status", constraints[0].Field)
	assert.Equal(t, StatusAvailable, constraints[0].Value)

	assert.Equal(t, 0, len(feed.subscription(CollectionRequests).constraints))
}

func TestMapSyncFilterSwitch(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	feed := newTestFeed()
	mapSync := OpenMapSync(
		ctx,
		feed,
		[]string{CollectionDonations, CollectionRequests},
		&FilterState{
			UserRole: RoleDonor,
			UserId:   "donor-1",
		},
		testMapSyncSettings(),
	)
	defer mapSync.Close()

	oldSubscription := feed.subscription(CollectionDonations)

	mapSync.SetFilterState(&FilterState{
		UserRole: RoleNgo,
	})

	// every old feed is torn down before any new one is observed
	events := feed.eventLog()
	assert.Equal(t, []string{
		"subscribe:donations",
		"subscribe:requests",
		"unsubscribe:donations",
		"unsubscribe:requests",
		"subscribe:donations",
		"subscribe:requests",
	}, events)

	// the new donations query carries the ngo constraint
	constraints := feed.subscription(CollectionDonations).constraints
	assert.Equal(t, 1, len(constraints))
	assert.Equal(t, StatusAvailable, constraints[0].Value)

	// a straggler delta from the torn-down feed cannot race into the
	// published snapshot
	oldSubscription.onDelta([]*Document{
		testDocument("stale", 22.70, 75.85),
	})
	time.Sleep(150 * time.Millisecond)
	assert.Equal(t, 0, len(mapSync.Donations()))
}

func TestMapSyncSetFilterStateSameIdentity(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	feed := newTestFeed()
	filterState := &FilterState{
		UserRole: RoleDonor,
		UserId:   "donor-1",
	}
	mapSync := OpenMapSync(ctx, feed, []string{CollectionDonations}, filterState, testMapSyncSettings())
	defer mapSync.Close()

	// same identity does not resubscribe
	mapSync.SetFilterState(filterState)
	assert.Equal(t, []string{"subscribe:donations"}, feed.eventLog())
}

func TestMapSyncSetCollections(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	feed := newTestFeed()
	mapSync := OpenMapSync(ctx, feed, []string{CollectionDonations}, nil, testMapSyncSettings())
	defer mapSync.Close()

	feed.emit(CollectionDonations, []*Document{
		testDocument("a", 22.70, 75.85),
	})
	time.Sleep(150 * time.Millisecond)
	assert.Equal(t, 1, len(mapSync.Donations()))

	mapSync.SetCollections([]string{CollectionRequests})

	assert.Equal(t, []string{
		"subscribe:donations",
		"unsubscribe:donations",
		"subscribe:requests",
	}, feed.eventLog())

	// dropped collections no longer contribute to the snapshot
	assert.Equal(t, 0, len(mapSync.Donations()))
}

func TestMapSyncFeedError(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	feed := newTestFeed()
	mapSync := OpenMapSync(ctx, feed, []string{CollectionDonations}, nil, testMapSyncSettings())
	defer mapSync.Close()

	var mutex sync.Mutex
	feedErrors := []error{}
	mapSync.AddErrorCallback(func(err error) {
		mutex.Lock()
		defer mutex.Unlock()
		feedErrors = append(feedErrors, err)
	})

	feed.emit(CollectionDonations, []*Document{
		testDocument("a", 22.70, 75.85),
	})
	time.Sleep(150 * time.Millisecond)
	assert.Equal(t, 1, len(mapSync.Donations()))

	feed.emitError(CollectionDonations, &FeedError{
		Collection: CollectionDonations,
		Message:    "permission denied",
	})

	// the error is surfaced and previously emitted state is retained
	mutex.Lock()
	assert.Equal(t, 1, len(feedErrors))
	_, ok := feedErrors[0].(*FeedError)
	assert.Equal(t, true, ok)
	mutex.Unlock()
	assert.Equal(t, 1, len(mapSync.Donations()))
}

func TestMapSyncSubscribeError(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	feed := newTestFeed()
	feed.subscribeErrs[CollectionDonations] = &FeedError{
		Collection: CollectionDonations,
		Message:    "permission denied",
	}

	var mutex sync.Mutex
	feedErrors := []error{}

	mapSync := OpenMapSync(
		ctx,
		feed,
		[]string{CollectionDonations, CollectionRequests},
		nil,
		testMapSyncSettings(),
	)
	defer mapSync.Close()
	mapSync.AddErrorCallback(func(err error) {
		mutex.Lock()
		defer mutex.Unlock()
		feedErrors = append(feedErrors, err)
	})

	// the healthy collection still subscribed
	assert.Equal(t, []string{"subscribe:requests"}, feed.eventLog())

	feed.emit(CollectionRequests, []*Document{
		testDocument("r", 22.70, 75.85),
	})
	time.Sleep(150 * time.Millisecond)
	assert.Equal(t, 1, len(mapSync.Requests()))
}

func TestMapSyncForceRefresh(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	feed := newTestFeed()
	mapSync := OpenMapSync(ctx, feed, []string{CollectionDonations}, nil, testMapSyncSettings())
	defer mapSync.Close()

	feed.emit(CollectionDonations, []*Document{
		testDocument("a", 22.70, 75.85),
	})
	time.Sleep(150 * time.Millisecond)

	firstUpdateTime := mapSync.LastUpdateTime()
	assert.Equal(t, false, firstUpdateTime.IsZero())

	var mutex sync.Mutex
	snapshots := []*MapSnapshot{}
	mapSync.AddSnapshotCallback(func(snapshot *MapSnapshot) {
		mutex.Lock()
		defer mutex.Unlock()
		snapshots = append(snapshots, snapshot)
	})

	time.Sleep(10 * time.Millisecond)
	mapSync.ForceRefresh()

	// the timestamp moved and consumers were re-notified, data unchanged
	assert.Equal(t, true, firstUpdateTime.Before(mapSync.LastUpdateTime()))
	mutex.Lock()
	assert.Equal(t, 1, len(snapshots))
	assert.Equal(t, 1, len(snapshots[0].Donations))
	mutex.Unlock()
}

func TestMapSyncQueryViewport(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	feed := newTestFeed()
	mapSync := OpenMapSync(ctx, feed, []string{CollectionDonations}, nil, testMapSyncSettings())
	defer mapSync.Close()

	feed.emit(CollectionDonations, []*Document{
		testDocument("near", 22.70, 75.85),
		testDocument("far", 28.60, 77.20),
	})
	time.Sleep(150 * time.Millisecond)

	entities := mapSync.QueryViewport(&BoundingBox{
		Southwest: Position{Latitude: 22, Longitude: 75},
		Northeast: Position{Latitude: 23, Longitude: 76},
	})
	assert.Equal(t, 1, len(entities))
	assert.Equal(t, "near", entities[0].Id)
}

func TestMapSyncClose(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	feed := newTestFeed()
	mapSync := OpenMapSync(ctx, feed, []string{CollectionDonations}, nil, testMapSyncSettings())

	oldSubscription := feed.subscription(CollectionDonations)

	mapSync.Close()
	assert.Equal(t, []string{
		"subscribe:donations",
		"unsubscribe:donations",
	}, feed.eventLog())

	// close is idempotent and deltas after close are ignored
	mapSync.Close()
	oldSubscription.onDelta([]*Document{
		testDocument("late", 22.70, 75.85),
	})
	time.Sleep(150 * time.Millisecond)
	assert.Equal(t, 0, len(mapSync.Donations()))
}

func TestMapSyncUpdateChannel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	feed := newTestFeed()
	mapSync := OpenMapSync(ctx, feed, []string{CollectionDonations}, nil, testMapSyncSettings())
	defer mapSync.Close()

	update := mapSync.UpdateChannel()
	feed.emit(CollectionDonations, []*Document{
		testDocument("a", 22.70, 75.85),
	})

	select {
	case <-update:
	case <-time.After(time.Second):
		t.Fatal("no update notification")
	}
}
