package geosync

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/golang/glog"
)

type GeoErrorCode string

const (
	GeoErrorPermissionDenied    GeoErrorCode = "permission-denied"
	GeoErrorPositionUnavailable GeoErrorCode = "position-unavailable"
	GeoErrorTimeout             GeoErrorCode = "timeout"
)

func (self GeoErrorCode) UserMessage() string {
	switch self {
	case GeoErrorPermissionDenied:
		return "Location permission denied. Enable location access to share your position."
	case GeoErrorPositionUnavailable:
		return "Your position is currently unavailable."
	case GeoErrorTimeout:
		return "Timed out waiting for a position fix."
	default:
		return "Location tracking failed."
	}
}

// GeoError is a device-position failure. Any sample error stops tracking.
type GeoError struct {
	Code    GeoErrorCode
	Message string
}

func (self *GeoError) Error() string {
	if self.Message == "" {
		return string(self.Code)
	}
	return fmt.Sprintf("%s: %s", self.Code, self.Message)
}

// GeoSample is one device position fix.
type GeoSample struct {
	Latitude   float64
	Longitude  float64
	Accuracy   float64
	SampleTime time.Time
}

type WatchOptions struct {
	HighAccuracy bool
	// bound on the wait for the first fix
	Timeout time.Duration
	// maximum acceptable cached-sample age. Zero forces fresh samples.
	MaximumAge time.Duration
}

// GeoProvider is the device position contract. WatchPosition opens one
// continuous subscription and returns a clear function.
type GeoProvider interface {
	WatchPosition(
		options *WatchOptions,
		onSample func(sample *GeoSample),
		onError func(geoErr *GeoError),
	) (func(), error)
}

// PositionWriter is the upstream position write contract.
type PositionWriter interface {
	WriteEntityPosition(ctx context.Context, entityId string, position Position) error
}

// TrackedPosition is the publisher state exposed for UI display. The last
// good coordinates are preserved across stop and error.
type TrackedPosition struct {
	Latitude   float64
	Longitude  float64
	Accuracy   float64
	SampleTime time.Time
	IsTracking bool
	Err        *GeoError
}

// tracking state machine is:
// trackingStateIdle
//
//	-> trackingStateTracking
//	  -> trackingStateIdle (explicit stop, disable, unmount, or sample error)
type trackingState string

const (
	trackingStateIdle     trackingState = "Idle"
	trackingStateTracking trackingState = "Tracking"
)

// upstream write state machine is:
// writeStateIdle
//
//	-> writeStateInFlight
//	  -> writeStateIdle (write completed, success or failure)
//
// samples arriving while in flight are dropped for upstream purposes
type writeState string

const (
	writeStateIdle     writeState = "Idle"
	writeStateInFlight writeState = "InFlight"
)

type LocationFunction = func(position *TrackedPosition)
type TrackingErrorFunction = func(err error)
type NotifyFunction = func(message string)

type LocationPublisherSettings struct {
	// entity record receiving throttled upstream writes. Empty disables writes.
	TargetEntityId string
	HighAccuracy   bool
	// bound on the wait for the first fix
	WatchTimeout time.Duration
	// minimum interval between attempted upstream writes
	UpdateTimeout time.Duration
	// minimum interval between user-facing success notifications
	NotifyTimeout time.Duration
	// deadline for one upstream write
	WriteTimeout time.Duration
}

func DefaultLocationPublisherSettings() *LocationPublisherSettings {
	return &LocationPublisherSettings{
		HighAccuracy:  true,
		WatchTimeout:  10 * time.Second,
		UpdateTimeout: 5 * time.Second,
		NotifyTimeout: 30 * time.Second,
		WriteTimeout:  10 * time.Second,
	}
}

// LocationPublisher continuously samples device position, updates local
// display state on every sample, and forwards throttled writes to the
// tracked entity's upstream record.
type LocationPublisher struct {
	ctx    context.Context
	cancel context.CancelFunc

	provider GeoProvider
	writer   PositionWriter

	settings *LocationPublisherSettings

	stateLock            sync.Mutex
	trackingState        trackingState
	writeState           writeState
	position             TrackedPosition
	lastWriteAttemptTime time.Time
	lastNotifyTime       time.Time
	clearWatch           func()
	enabled              bool

	locationCallbacks *CallbackList[LocationFunction]
	errorCallbacks    *CallbackList[TrackingErrorFunction]
	notifyCallbacks   *CallbackList[NotifyFunction]
}

func NewLocationPublisherWithDefaults(
	ctx context.Context,
	provider GeoProvider,
	writer PositionWriter,
) *LocationPublisher {
	return NewLocationPublisher(ctx, provider, writer, DefaultLocationPublisherSettings())
}

func NewLocationPublisher(
	ctx context.Context,
	provider GeoProvider,
	writer PositionWriter,
	settings *LocationPublisherSettings,
) *LocationPublisher {
	cancelCtx, cancel := context.WithCancel(ctx)

	publisher := &LocationPublisher{
		ctx:               cancelCtx,
		cancel:            cancel,
		provider:          provider,
		writer:            writer,
		settings:          settings,
		trackingState:     trackingStateIdle,
		writeState:        writeStateIdle,
		enabled:           true,
		locationCallbacks: NewCallbackList[LocationFunction](),
		errorCallbacks:    NewCallbackList[TrackingErrorFunction](),
		notifyCallbacks:   NewCallbackList[NotifyFunction](),
	}

	// tracking must never outlive the owning context
	go func() {
		select {
		case <-cancelCtx.Done():
			publisher.StopTracking()
		}
	}()

	return publisher
}

// StartTracking opens exactly one continuous position subscription.
// No-op when already tracking. Surfaces an error when the platform has no
// geolocation capability.
func (self *LocationPublisher) StartTracking() error {
	self.stateLock.Lock()
	if !self.enabled {
		self.stateLock.Unlock()
		return fmt.Errorf("location tracking is disabled")
	}
	if self.trackingState == trackingStateTracking {
		self.stateLock.Unlock()
		return nil
	}
	if self.provider == nil {
		geoErr := &GeoError{
			Code:    GeoErrorPositionUnavailable,
			Message: "geolocation is not supported on this platform",
		}
		self.position.Err = geoErr
		self.stateLock.Unlock()
		self.errorNotify(geoErr)
		return geoErr
	}
	self.trackingState = trackingStateTracking
	self.position.IsTracking = true
	self.position.Err = nil
	self.stateLock.Unlock()

	clearWatch, err := self.provider.WatchPosition(
		&WatchOptions{
			HighAccuracy: self.settings.HighAccuracy,
			Timeout:      self.settings.WatchTimeout,
			MaximumAge:   0,
		},
		self.sample,
		self.sampleError,
	)
	if err != nil {
		self.stateLock.Lock()
		self.trackingState = trackingStateIdle
		self.position.IsTracking = false
		self.stateLock.Unlock()
		self.errorNotify(err)
		return err
	}

	self.stateLock.Lock()
	if self.trackingState != trackingStateTracking {
		// stopped while the watch was opening
		self.stateLock.Unlock()
		clearWatch()
		return nil
	}
	self.clearWatch = clearWatch
	self.stateLock.Unlock()
	return nil
}

// every sample updates local display state. An upstream write is attempted
// only when a target is configured, at least UpdateTimeout has passed since
// the last attempted write, and no write is in flight. A sample arriving
// mid-write is dropped for upstream purposes, not queued.
func (self *LocationPublisher) sample(sample *GeoSample) {
	self.stateLock.Lock()
	self.position.Latitude = sample.Latitude
	self.position.Longitude = sample.Longitude
	self.position.Accuracy = sample.Accuracy
	self.position.SampleTime = sample.SampleTime
	self.position.Err = nil
	position := self.position

	targetEntityId := self.settings.TargetEntityId
	writeNow := false
	if targetEntityId != "" && self.writer != nil && self.trackingState == trackingStateTracking {
		if self.writeState == writeStateIdle &&
			self.settings.UpdateTimeout <= time.Since(self.lastWriteAttemptTime) {
			self.writeState = writeStateInFlight
			self.lastWriteAttemptTime = time.Now()
			writeNow = true
		} else {
			metricPositionWriteDrops.Inc()
		}
	}
	self.stateLock.Unlock()

	for _, callback := range self.locationCallbacks.Get() {
		callback(&position)
	}

	if writeNow {
		go self.write(targetEntityId, Position{
			Latitude:  sample.Latitude,
			Longitude: sample.Longitude,
		})
	}
}

func (self *LocationPublisher) write(entityId string, position Position) {
	writeCtx, writeCancel := context.WithTimeout(self.ctx, self.settings.WriteTimeout)
	defer writeCancel()

	err := self.writer.WriteEntityPosition(writeCtx, entityId, position)

	self.stateLock.Lock()
	self.writeState = writeStateIdle
	notify := false
	if err == nil && self.settings.NotifyTimeout <= time.Since(self.lastNotifyTime) {
		self.lastNotifyTime = time.Now()
		notify = true
	}
	self.stateLock.Unlock()

	if err != nil {
		// no retry is scheduled. The next sample interval is the retry path.
		glog.Infof("[location]upstream write error = %s\n", err)
		metricPositionWrites.WithLabelValues(writeResultError).Inc()
		self.errorNotify(fmt.Errorf("position update failed: %w", err))
		return
	}

	metricPositionWrites.WithLabelValues(writeResultOk).Inc()
	if notify {
		for _, callback := range self.notifyCallbacks.Get() {
			callback("Your location is being shared")
		}
	}
}

// any sample error transitions back to idle. The last known good position
// stays available for display.
func (self *LocationPublisher) sampleError(geoErr *GeoError) {
	self.stateLock.Lock()
	clearWatch := self.clearWatch
	self.clearWatch = nil
	self.trackingState = trackingStateIdle
	self.position.IsTracking = false
	self.position.Err = geoErr
	position := self.position
	self.stateLock.Unlock()

	if clearWatch != nil {
		clearWatch()
	}

	glog.Infof("[location]tracking error = %s\n", geoErr)
	self.errorNotify(geoErr)
	for _, callback := range self.locationCallbacks.Get() {
		callback(&position)
	}
}

// StopTracking cancels the underlying subscription. Idempotent, safe to call
// when already idle.
func (self *LocationPublisher) StopTracking() {
	self.stateLock.Lock()
	clearWatch := self.clearWatch
	self.clearWatch = nil
	wasTracking := self.trackingState == trackingStateTracking
	self.trackingState = trackingStateIdle
	self.position.IsTracking = false
	position := self.position
	self.stateLock.Unlock()

	if clearWatch != nil {
		clearWatch()
	}
	if wasTracking {
		for _, callback := range self.locationCallbacks.Get() {
			callback(&position)
		}
	}
}

// SetEnabled(false) always stops tracking.
func (self *LocationPublisher) SetEnabled(enabled bool) {
	self.stateLock.Lock()
	self.enabled = enabled
	self.stateLock.Unlock()

	if !enabled {
		self.StopTracking()
	}
}

func (self *LocationPublisher) IsTracking() bool {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	return self.trackingState == trackingStateTracking
}

func (self *LocationPublisher) Location() *TrackedPosition {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	position := self.position
	return &position
}

func (self *LocationPublisher) AddLocationCallback(locationCallback LocationFunction) func() {
	callbackId := self.locationCallbacks.Add(locationCallback)
	return func() {
		self.locationCallbacks.Remove(callbackId)
	}
}

func (self *LocationPublisher) AddErrorCallback(errorCallback TrackingErrorFunction) func() {
	callbackId := self.errorCallbacks.Add(errorCallback)
	return func() {
		self.errorCallbacks.Remove(callbackId)
	}
}

func (self *LocationPublisher) AddNotifyCallback(notifyCallback NotifyFunction) func() {
	callbackId := self.notifyCallbacks.Add(notifyCallback)
	return func() {
		self.notifyCallbacks.Remove(callbackId)
	}
}

func (self *LocationPublisher) errorNotify(err error) {
	for _, callback := range self.errorCallbacks.Get() {
		callback(err)
	}
}

// Close stops tracking and releases the publisher. Idempotent.
func (self *LocationPublisher) Close() {
	self.cancel()
	self.StopTracking()
}
