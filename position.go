package geosync

// Position is a canonical (lat, lng) pair resolved from a raw document.
type Position struct {
	Latitude  float64 `json:"lat"`
	Longitude float64 `json:"lng"`
}

// BoundingBox is an axis-aligned lat/lng rectangle, typically the map viewport.
type BoundingBox struct {
	Southwest Position `json:"southwest"`
	Northeast Position `json:"northeast"`
}

// source fields tried in priority order, top-level before nested `location`
var latitudeFields = []string{"lat", "latitude"}
var longitudeFields = []string{"lng", "longitude"}

const nestedLocationField = "location"

// ResolvePosition normalizes the heterogeneous location encodings found in
// store documents into a canonical position. Both axes must resolve to a
// numeric value or the result is nil. Pure function, never errors.
func ResolvePosition(fields map[string]any) *Position {
	latitude, latitudeOk := resolveAxis(fields, latitudeFields)
	longitude, longitudeOk := resolveAxis(fields, longitudeFields)
	if !latitudeOk || !longitudeOk {
		return nil
	}
	return &Position{
		Latitude:  latitude,
		Longitude: longitude,
	}
}

func resolveAxis(fields map[string]any, names []string) (float64, bool) {
	for _, name := range names {
		if value, ok := numericValue(fields[name]); ok {
			return value, true
		}
	}
	if nested, ok := fields[nestedLocationField].(map[string]any); ok {
		for _, name := range names {
			if value, ok := numericValue(nested[name]); ok {
				return value, true
			}
		}
	}
	return 0, false
}

func numericValue(value any) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	default:
		return 0, false
	}
}

// WithinBox is an inclusive rectangular containment test. A nil box is an
// unfiltered pass-through. Longitude wraparound across the antimeridian is
// out of scope: a box with southwest.lng > northeast.lng matches nothing
// between them.
func (self Position) WithinBox(box *BoundingBox) bool {
	if box == nil {
		return true
	}
	return box.Southwest.Latitude <= self.Latitude &&
		self.Latitude <= box.Northeast.Latitude &&
		box.Southwest.Longitude <= self.Longitude &&
		self.Longitude <= box.Northeast.Longitude
}
