package config

// AppConfig is the geosyncctl configuration, loaded from yaml.
type AppConfig struct {
	Store    StoreConfig    `yaml:"store"`
	Sync     SyncConfig     `yaml:"sync"`
	Tracking TrackingConfig `yaml:"tracking"`
}

type StoreConfig struct {
	FeedUrl string `yaml:"feed_url" validate:"required,url"`
	ApiUrl  string `yaml:"api_url" validate:"required,url"`
	ByJwt   string `yaml:"by_jwt"`
}

type SyncConfig struct {
	Collections []string    `yaml:"collections"`
	DebounceMs  int         `yaml:"debounce_ms" validate:"gte=0"`
	Status      string      `yaml:"status"`
	FoodType    string      `yaml:"food_type"`
	Bbox        *BboxConfig `yaml:"bbox"`
}

type BboxConfig struct {
	SouthwestLat float64 `yaml:"southwest_lat" validate:"gte=-90,lte=90"`
	SouthwestLng float64 `yaml:"southwest_lng" validate:"gte=-180,lte=180"`
	NortheastLat float64 `yaml:"northeast_lat" validate:"gte=-90,lte=90"`
	NortheastLng float64 `yaml:"northeast_lng" validate:"gte=-180,lte=180"`
}

type TrackingConfig struct {
	EntityId         string `yaml:"entity_id"`
	HighAccuracy     bool   `yaml:"high_accuracy"`
	UpdateIntervalMs int    `yaml:"update_interval_ms" validate:"gte=0"`
	NotifyIntervalMs int    `yaml:"notify_interval_ms" validate:"gte=0"`
}
