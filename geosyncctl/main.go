package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/docopt/docopt-go"

	"golang.org/x/term"

	"github.com/aaharnet/geosync"
	"github.com/aaharnet/geosync/config"
)

const GeosyncCtlVersion = "0.0.1"

var Out *log.Logger
var Err *log.Logger

func init() {
	Out = log.New(os.Stdout, "", 0)
	Err = log.New(os.Stderr, "", log.Ldate|log.Ltime|log.Lshortfile)
}

func main() {
	usage := `Geosync control.

Usage:
    geosyncctl watch --config=<config> [--jwt=<jwt>]
        [--duration=<seconds>] [--verbose]
    geosyncctl track --config=<config> --samples=<samples>
        [--entity=<entity_id>]
    geosyncctl icon --role=<role> [--status=<status>] [--size=<size>]

Options:
    -h --help                Show this screen.
    --version                Show version.
    --config=<config>        Path to the yaml configuration.
    --jwt=<jwt>              Viewer JWT. Overrides the configured one and
                             scopes queries to the jwt claims.
    --duration=<seconds>     Stop watching after this many seconds.
    --samples=<samples>      Path to a json-lines position sample file.
    --entity=<entity_id>     Entity record to publish positions to.
    --role=<role>            One of donor, ngo, volunteer, admin.
    --verbose                Per-snapshot debug logging.
    --status=<status>        Donation status for the icon color.
    --size=<size>            One of small, normal, large.`

	opts, err := docopt.ParseArgs(usage, os.Args[1:], GeosyncCtlVersion)
	if err != nil {
		panic(err)
	}

	if watch_, _ := opts.Bool("watch"); watch_ {
		watch(opts)
	} else if track_, _ := opts.Bool("track"); track_ {
		track(opts)
	} else if icon_, _ := opts.Bool("icon"); icon_ {
		icon(opts)
	}
}

func watch(opts docopt.Opts) {
	debugLog := geosync.LogFn(geosync.LogLevelDebug, "watch")
	if verbose, _ := opts.Bool("--verbose"); verbose {
		geosync.GlobalLogLevel = geosync.LogLevelDebug
	}

	configPath, _ := opts.String("--config")
	cfg, err := config.LoadAppConfig(configPath)
	if err != nil {
		Err.Fatalf("could not load config: %s", err)
	}

	byJwt := cfg.Store.ByJwt
	if jwt, err := opts.String("--jwt"); err == nil && jwt != "" {
		byJwt = jwt
	}

	var bbox *geosync.BoundingBox
	if cfg.Sync.Bbox != nil {
		bbox = &geosync.BoundingBox{
			Southwest: geosync.Position{
				Latitude:  cfg.Sync.Bbox.SouthwestLat,
				Longitude: cfg.Sync.Bbox.SouthwestLng,
			},
			Northeast: geosync.Position{
				Latitude:  cfg.Sync.Bbox.NortheastLat,
				Longitude: cfg.Sync.Bbox.NortheastLng,
			},
		}
	}

	filterState := &geosync.FilterState{
		Bbox:     bbox,
		Status:   cfg.Sync.Status,
		FoodType: cfg.Sync.FoodType,
	}
	if byJwt != "" {
		filterState, err = geosync.FilterStateFromByJwt(byJwt, bbox)
		if err != nil {
			Err.Fatalf("could not parse jwt: %s", err)
		}
		filterState.Status = cfg.Sync.Status
		filterState.FoodType = cfg.Sync.FoodType
	}

	ctx := context.Background()
	if seconds, err := opts.Int("--duration"); err == nil && 0 < seconds {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(seconds)*time.Second)
		defer cancel()
	}

	feedClient, err := geosync.NewFeedClientWithDefaults(ctx, cfg.Store.FeedUrl, byJwt)
	if err != nil {
		Err.Fatalf("could not connect to the store feed: %s", err)
	}
	defer feedClient.Close()

	mapSync := geosync.OpenMapSync(
		ctx,
		feedClient,
		cfg.Sync.Collections,
		filterState,
		&geosync.MapSyncSettings{
			DebounceTimeout: time.Duration(cfg.Sync.DebounceMs) * time.Millisecond,
		},
	)
	defer mapSync.Close()

	mapSync.AddErrorCallback(func(err error) {
		Err.Printf("%s", err)
	})

	interactive := term.IsTerminal(int(os.Stdout.Fd()))
	for {
		select {
		case <-ctx.Done():
			if interactive {
				fmt.Print("\n")
			}
			return
		case <-mapSync.UpdateChannel():
		}

		snapshot := mapSync.Snapshot()
		debugLog("snapshot at %s", snapshot.LastUpdateTime.Format(time.RFC3339Nano))
		line := fmt.Sprintf(
			"%s donations=%d requests=%d volunteers=%d",
			snapshot.LastUpdateTime.Format(time.TimeOnly),
			len(snapshot.Donations),
			len(snapshot.Requests),
			len(snapshot.Volunteers),
		)
		if interactive {
			fmt.Printf("\r%s", line)
		} else {
			Out.Printf("%s", line)
		}
	}
}

func track(opts docopt.Opts) {
	configPath, _ := opts.String("--config")
	cfg, err := config.LoadAppConfig(configPath)
	if err != nil {
		Err.Fatalf("could not load config: %s", err)
	}

	entityId := cfg.Tracking.EntityId
	if entity, err := opts.String("--entity"); err == nil && entity != "" {
		entityId = entity
	}
	if entityId == "" {
		Err.Fatalf("no tracked entity. Set tracking.entity_id or pass --entity.")
	}

	samplesPath, _ := opts.String("--samples")
	provider, sampleCount, err := newFileGeoProvider(samplesPath)
	if err != nil {
		Err.Fatalf("could not load samples: %s", err)
	}

	ctx := context.Background()

	api := geosync.NewGeoApiWithContext(ctx, cfg.Store.ApiUrl)
	api.SetByJwt(cfg.Store.ByJwt)
	defer api.Close()

	publisher := geosync.NewLocationPublisher(ctx, provider, api, &geosync.LocationPublisherSettings{
		TargetEntityId: entityId,
		HighAccuracy:   cfg.Tracking.HighAccuracy,
		WatchTimeout:   10 * time.Second,
		UpdateTimeout:  time.Duration(cfg.Tracking.UpdateIntervalMs) * time.Millisecond,
		NotifyTimeout:  time.Duration(cfg.Tracking.NotifyIntervalMs) * time.Millisecond,
		WriteTimeout:   10 * time.Second,
	})
	defer publisher.Close()

	publisher.AddLocationCallback(func(position *geosync.TrackedPosition) {
		Out.Printf(
			"position lat=%.6f lng=%.6f accuracy=%.1f tracking=%t",
			position.Latitude,
			position.Longitude,
			position.Accuracy,
			position.IsTracking,
		)
	})
	publisher.AddNotifyCallback(func(message string) {
		Out.Printf("%s", message)
	})
	publisher.AddErrorCallback(func(err error) {
		Err.Printf("%s", err)
	})

	if err := publisher.StartTracking(); err != nil {
		Err.Fatalf("could not start tracking: %s", err)
	}

	<-provider.done
	// let the last throttled write settle
	time.Sleep(1 * time.Second)
	publisher.StopTracking()
	Out.Printf("replayed %d samples", sampleCount)
}

func icon(opts docopt.Opts) {
	role, _ := opts.String("--role")
	status, _ := opts.String("--status")
	size, _ := opts.String("--size")

	descriptor := geosync.GetIcon(geosync.Role(role), status, geosync.IconSize(size))
	descriptorJson, err := json.MarshalIndent(descriptor, "", "    ")
	if err != nil {
		panic(err)
	}
	Out.Printf("%s", descriptorJson)
}

// one line per sample
type fileSample struct {
	Lat      float64 `json:"lat"`
	Lng      float64 `json:"lng"`
	Accuracy float64 `json:"accuracy"`
	DelayMs  int     `json:"delay_ms"`
}

// fileGeoProvider replays recorded samples through the device position
// contract, for publishing without real hardware.
type fileGeoProvider struct {
	samples []*fileSample
	done    chan struct{}
}

func newFileGeoProvider(path string) (*fileGeoProvider, int, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, err
	}
	defer f.Close()

	samples := []*fileSample{}
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var sample fileSample
		if err := json.Unmarshal(line, &sample); err != nil {
			return nil, 0, err
		}
		samples = append(samples, &sample)
	}
	if err := scanner.Err(); err != nil {
		return nil, 0, err
	}

	provider := &fileGeoProvider{
		samples: samples,
		done:    make(chan struct{}),
	}
	return provider, len(samples), nil
}

func (self *fileGeoProvider) WatchPosition(
	options *geosync.WatchOptions,
	onSample func(sample *geosync.GeoSample),
	onError func(geoErr *geosync.GeoError),
) (func(), error) {
	stop := make(chan struct{})
	go func() {
		defer close(self.done)
		for _, sample := range self.samples {
			select {
			case <-stop:
				return
			case <-time.After(time.Duration(sample.DelayMs) * time.Millisecond):
			}
			onSample(&geosync.GeoSample{
				Latitude:   sample.Lat,
				Longitude:  sample.Lng,
				Accuracy:   sample.Accuracy,
				SampleTime: time.Now(),
			})
		}
	}()
	var clearOnce sync.Once
	clearWatch := func() {
		clearOnce.Do(func() {
			close(stop)
		})
	}
	return clearWatch, nil
}
