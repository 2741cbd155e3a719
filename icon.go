package geosync

import (
	"sync"
)

type IconSize string

const (
	IconSizeSmall  IconSize = "small"
	IconSizeNormal IconSize = "normal"
	IconSizeLarge  IconSize = "large"
)

var iconScales = map[IconSize]float64{
	IconSizeSmall:  0.7,
	IconSizeNormal: 1.0,
	IconSizeLarge:  1.3,
}

// color resolves from status first, role as fallback
var statusColors = map[string]string{
	StatusAvailable: "#22c55e",
	StatusAssigned:  "#f59e0b",
	StatusPicked:    "#3b82f6",
	StatusDelivered: "#6b7280",
}

var roleColors = map[Role]string{
	RoleDonor:     "#16a34a",
	RoleNgo:       "#2563eb",
	RoleVolunteer: "#ea580c",
	RoleAdmin:     "#7c3aed",
}

const defaultIconColor = "#7c3aed"

// deterministic 32x32 vector shapes per role
var roleIconPaths = map[Role]string{
	// map pin
	RoleDonor: "M16 2c-5.5 0-10 4.5-10 10 0 7.5 10 18 10 18s10-10.5 10-18c0-5.5-4.5-10-10-10z",
	// house
	RoleNgo: "M16 3 3 14h4v13h8v-8h2v8h8V14h4z",
	// person
	RoleVolunteer: "M16 4a5 5 0 1 1 0 10 5 5 0 0 1 0-10zm0 12c-6 0-11 3-11 7v5h22v-5c0-4-5-7-11-7z",
}

// circle, used for admin and any unknown role
const defaultIconPath = "M16 4a12 12 0 1 0 0 24 12 12 0 0 0 0-24z"

const iconBaseSize = 32.0

// IconDescriptor is a rendering descriptor for a map marker. Descriptors are
// shared: identical (role, status, size) keys return the identical instance,
// so downstream rendering can skip re-creation on reference equality.
type IconDescriptor struct {
	Role    Role     `json:"role"`
	Status  string   `json:"status,omitempty"`
	Size    IconSize `json:"size"`
	Color   string   `json:"color"`
	Scale   float64  `json:"scale"`
	Width   float64  `json:"width"`
	Height  float64  `json:"height"`
	AnchorX float64  `json:"anchor_x"`
	AnchorY float64  `json:"anchor_y"`
	SvgPath string   `json:"svg_path"`
}

// value-equality key. Raw literals or pointers as keys would make identical
// lookups miss.
type iconKey struct {
	role   Role
	status string
	size   IconSize
}

var iconCacheMutex sync.Mutex

// unbounded memoization. The key space is bounded by role x status x size, no
// eviction needed.
var iconCache = map[iconKey]*IconDescriptor{}

// GetIcon returns the rendering descriptor for a marker. An empty size means
// normal. The same key always returns the same instance.
func GetIcon(role Role, status string, size IconSize) *IconDescriptor {
	if size == "" {
		size = IconSizeNormal
	}
	key := iconKey{
		role:   role,
		status: status,
		size:   size,
	}

	iconCacheMutex.Lock()
	defer iconCacheMutex.Unlock()

	if icon, ok := iconCache[key]; ok {
		return icon
	}
	icon := buildIcon(role, status, size)
	iconCache[key] = icon
	return icon
}

func buildIcon(role Role, status string, size IconSize) *IconDescriptor {
	scale, ok := iconScales[size]
	if !ok {
		scale = iconScales[IconSizeNormal]
	}

	color, ok := statusColors[status]
	if !ok {
		if color, ok = roleColors[role]; !ok {
			color = defaultIconColor
		}
	}

	svgPath, ok := roleIconPaths[role]
	if !ok {
		svgPath = defaultIconPath
	}

	side := iconBaseSize * scale
	return &IconDescriptor{
		Role:    role,
		Status:  status,
		Size:    size,
		Color:   color,
		Scale:   scale,
		Width:   side,
		Height:  side,
		AnchorX: side / 2,
		AnchorY: side,
		SvgPath: svgPath,
	}
}
