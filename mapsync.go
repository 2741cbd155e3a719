package geosync

import (
	"context"
	"sync"
	"time"

	"github.com/golang/glog"

	"golang.org/x/exp/slices"
)

type SnapshotFunction = func(snapshot *MapSnapshot)
type FeedErrorFunction = func(err error)

// MapSnapshot is the debounced, filtered view published to the UI.
// Slices are owned by the snapshot and never mutated after publication.
type MapSnapshot struct {
	Donations      []*Entity
	Requests       []*Entity
	Volunteers     []*Entity
	LastUpdateTime time.Time
}

type MapSyncSettings struct {
	DebounceTimeout time.Duration
}

func DefaultMapSyncSettings() *MapSyncSettings {
	return &MapSyncSettings{
		DebounceTimeout: 200 * time.Millisecond,
	}
}

// MapSync keeps a client-side view of the tracked collections consistent
// with the store: exactly one live change-feed per collection, deltas routed
// through position resolution and viewport filtering, surviving records
// coalesced into at most one snapshot publication per debounce window.
//
// Changing the filter state or collection list tears down every open feed
// before any new one is opened. Old and new feeds never run concurrently.
type MapSync struct {
	ctx    context.Context
	cancel context.CancelFunc

	feed Feed

	settings *MapSyncSettings

	coalescer *UpdateCoalescer

	stateLock           sync.Mutex
	collections         []string
	filterState         *FilterState
	subscriptionHandles []func()
	generation          int
	collectionEntities  map[string][]*Entity
	index               *SpatialIndex
	closed              bool

	updateMonitor     *Monitor
	snapshotCallbacks *CallbackList[SnapshotFunction]
	errorCallbacks    *CallbackList[FeedErrorFunction]
}

func OpenMapSyncWithDefaults(
	ctx context.Context,
	feed Feed,
	collections []string,
	filterState *FilterState,
) *MapSync {
	return OpenMapSync(ctx, feed, collections, filterState, DefaultMapSyncSettings())
}

func OpenMapSync(
	ctx context.Context,
	feed Feed,
	collections []string,
	filterState *FilterState,
	settings *MapSyncSettings,
) *MapSync {
	cancelCtx, cancel := context.WithCancel(ctx)

	if filterState == nil {
		filterState = &FilterState{}
	}

	mapSync := &MapSync{
		ctx:                cancelCtx,
		cancel:             cancel,
		feed:               feed,
		settings:           settings,
		collections:        slices.Clone(collections),
		filterState:        filterState,
		collectionEntities: map[string][]*Entity{},
		index:              NewSpatialIndex(),
		updateMonitor:      NewMonitor(),
		snapshotCallbacks:  NewCallbackList[SnapshotFunction](),
		errorCallbacks:     NewCallbackList[FeedErrorFunction](),
	}
	mapSync.coalescer = NewUpdateCoalescer(cancelCtx, &UpdateCoalescerSettings{
		DebounceTimeout: settings.DebounceTimeout,
	})

	func() {
		mapSync.stateLock.Lock()
		defer mapSync.stateLock.Unlock()
		mapSync.openWithLock()
	}()

	go func() {
		select {
		case <-cancelCtx.Done():
			mapSync.Close()
		}
	}()

	return mapSync
}

func (self *MapSync) openWithLock() {
	generation := self.generation
	for _, collection := range self.collections {
		collection := collection
		unsubscribe, err := self.feed.Subscribe(
			collection,
			self.filterState.CollectionConstraints(collection),
			func(documents []*Document) {
				self.delta(generation, collection, documents)
			},
			func(err error) {
				self.feedError(collection, err)
			},
		)
		if err != nil {
			glog.Infof("[mapsync]subscribe %s error = %s\n", collection, err)
			metricFeedErrors.WithLabelValues(collection).Inc()
			self.errorNotify(err)
			continue
		}
		self.subscriptionHandles = append(self.subscriptionHandles, unsubscribe)
	}
}

// closes every open handle in the ledger and bumps the generation so that
// deltas from torn-down feeds can no longer land in the published state
func (self *MapSync) teardownWithLock() {
	for _, unsubscribe := range self.subscriptionHandles {
		unsubscribe()
	}
	self.subscriptionHandles = nil
	self.generation += 1
}

func (self *MapSync) delta(generation int, collection string, documents []*Document) {
	metricFeedDeltas.WithLabelValues(collection).Inc()

	self.stateLock.Lock()
	filterState := self.filterState
	stale := generation != self.generation || self.closed
	self.stateLock.Unlock()
	if stale {
		return
	}

	// insertion order of the delta is preserved
	entities := []*Entity{}
	for _, document := range documents {
		position := ResolvePosition(document.Fields)
		if position == nil {
			metricRecordsDropped.WithLabelValues(collection, dropReasonUnresolved).Inc()
			continue
		}
		if !position.WithinBox(filterState.Bbox) {
			metricRecordsDropped.WithLabelValues(collection, dropReasonViewport).Inc()
			continue
		}
		entities = append(entities, EntityFromDocument(collection, document, *position))
	}

	self.stateLock.Lock()
	if generation != self.generation || self.closed {
		self.stateLock.Unlock()
		return
	}
	self.collectionEntities[collection] = entities
	self.stateLock.Unlock()

	self.coalescer.Update(collection, func() {
		self.publish()
	})
}

// a feed error does not clear previously emitted state and is not retried.
// Recovery is resubscription via SetFilterState or SetCollections.
func (self *MapSync) feedError(collection string, err error) {
	glog.Infof("[mapsync]feed %s error = %s\n", collection, err)
	metricFeedErrors.WithLabelValues(collection).Inc()
	self.errorNotify(err)
}

func (self *MapSync) errorNotify(err error) {
	if _, ok := err.(*FeedError); !ok {
		err = &FeedError{
			Message: err.Error(),
		}
	}
	for _, callback := range self.errorCallbacks.Get() {
		callback(err)
	}
}

func (self *MapSync) publish() {
	self.stateLock.Lock()
	if self.closed {
		self.stateLock.Unlock()
		return
	}
	snapshot := self.snapshotWithLock()
	all := []*Entity{}
	for _, entities := range self.collectionEntities {
		all = append(all, entities...)
	}
	index := self.index
	self.stateLock.Unlock()

	index.Replace(all)

	self.updateMonitor.NotifyAll()
	for _, callback := range self.snapshotCallbacks.Get() {
		callback(snapshot)
	}
}

func (self *MapSync) snapshotWithLock() *MapSnapshot {
	return &MapSnapshot{
		Donations:      slices.Clone(self.collectionEntities[CollectionDonations]),
		Requests:       slices.Clone(self.collectionEntities[CollectionRequests]),
		Volunteers:     slices.Clone(self.collectionEntities[CollectionVolunteers]),
		LastUpdateTime: self.coalescer.LastUpdateTime(),
	}
}

// SetFilterState swaps the filter for a new subscription cycle: full
// teardown, then re-open with the new constraints. No-op when the identity
// is unchanged.
func (self *MapSync) SetFilterState(filterState *FilterState) {
	if filterState == nil {
		filterState = &FilterState{}
	}

	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	if self.closed || self.filterState == filterState {
		return
	}
	self.teardownWithLock()
	self.filterState = filterState
	self.openWithLock()
}

// SetCollections swaps the tracked-collection list, with the same teardown
// then re-open sequencing as SetFilterState.
func (self *MapSync) SetCollections(collections []string) {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	if self.closed || slices.Equal(self.collections, collections) {
		return
	}
	self.teardownWithLock()
	self.collections = slices.Clone(collections)
	for collection := range self.collectionEntities {
		if !slices.Contains(self.collections, collection) {
			delete(self.collectionEntities, collection)
		}
	}
	self.openWithLock()
}

func (self *MapSync) Snapshot() *MapSnapshot {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	return self.snapshotWithLock()
}

func (self *MapSync) Donations() []*Entity {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	return slices.Clone(self.collectionEntities[CollectionDonations])
}

func (self *MapSync) Requests() []*Entity {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	return slices.Clone(self.collectionEntities[CollectionRequests])
}

func (self *MapSync) Volunteers() []*Entity {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	return slices.Clone(self.collectionEntities[CollectionVolunteers])
}

func (self *MapSync) LastUpdateTime() time.Time {
	return self.coalescer.LastUpdateTime()
}

// ForceRefresh stamps the update time and re-notifies consumers with the
// current snapshot, without touching the underlying data.
func (self *MapSync) ForceRefresh() {
	self.coalescer.ForceRefresh()

	self.stateLock.Lock()
	if self.closed {
		self.stateLock.Unlock()
		return
	}
	snapshot := self.snapshotWithLock()
	self.stateLock.Unlock()

	self.updateMonitor.NotifyAll()
	for _, callback := range self.snapshotCallbacks.Get() {
		callback(snapshot)
	}
}

// QueryViewport returns the published entities inside the box, from the
// snapshot spatial index.
func (self *MapSync) QueryViewport(box *BoundingBox) []*Entity {
	self.stateLock.Lock()
	index := self.index
	self.stateLock.Unlock()
	return index.SearchBox(box)
}

// UpdateChannel closes on every snapshot publication.
func (self *MapSync) UpdateChannel() chan struct{} {
	return self.updateMonitor.NotifyChannel()
}

func (self *MapSync) AddSnapshotCallback(snapshotCallback SnapshotFunction) func() {
	callbackId := self.snapshotCallbacks.Add(snapshotCallback)
	return func() {
		self.snapshotCallbacks.Remove(callbackId)
	}
}

func (self *MapSync) AddErrorCallback(errorCallback FeedErrorFunction) func() {
	callbackId := self.errorCallbacks.Add(errorCallback)
	return func() {
		self.errorCallbacks.Remove(callbackId)
	}
}

// Close tears down every open feed and cancels pending publications.
// Idempotent.
func (self *MapSync) Close() {
	self.stateLock.Lock()
	if self.closed {
		self.stateLock.Unlock()
		return
	}
	self.closed = true
	self.teardownWithLock()
	self.stateLock.Unlock()

	self.coalescer.Close()
	self.cancel()
}
