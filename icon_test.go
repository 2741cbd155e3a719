package geosync

import (
	"testing"

	"github.com/go-playground/assert/v2"
)

func TestGetIconSameInstance(t *testing.T) {
	a := GetIcon(RoleNgo, "", IconSizeNormal)
	b := GetIcon(RoleNgo, "", IconSizeNormal)
	assert.Equal(t, true, a == b)

	// a status variant is a different descriptor
	c := GetIcon(RoleNgo, StatusAvailable, IconSizeNormal)
	assert.Equal(t, false, a == c)
	assert.Equal(t, true, c == GetIcon(RoleNgo, StatusAvailable, IconSizeNormal))
}

func TestGetIconDefaultSize(t *testing.T) {
	// empty size means normal, same cache entry
	a := GetIcon(RoleDonor, "", "")
	b := GetIcon(RoleDonor, "", IconSizeNormal)
	assert.Equal(t, true, a == b)
	assert.Equal(t, IconSizeNormal, a.Size)
}

func TestGetIconScale(t *testing.T) {
	small := GetIcon(RoleVolunteer, "", IconSizeSmall)
	normal := GetIcon(RoleVolunteer, "", IconSizeNormal)
	large := GetIcon(RoleVolunteer, "", IconSizeLarge)

	assert.Equal(t, 0.7, small.Scale)
	assert.Equal(t, 1.0, normal.Scale)
	assert.Equal(t, 1.3, large.Scale)

	assert.Equal(t, iconBaseSize*0.7, small.Width)
	assert.Equal(t, small.Width, small.Height)
	assert.Equal(t, small.Width/2, small.AnchorX)
	assert.Equal(t, small.Height, small.AnchorY)
}

func TestGetIconColor(t *testing.T) {
	// status wins over role
	assert.Equal(t, statusColors[StatusAvailable], GetIcon(RoleNgo, StatusAvailable, IconSizeNormal).Color)
	// role is the fallback
	assert.Equal(t, roleColors[RoleNgo], GetIcon(RoleNgo, "", IconSizeNormal).Color)
	// unknown role and status fall back to the default color
	assert.Equal(t, defaultIconColor, GetIcon(Role("dispatcher"), "unknown-status", IconSizeNormal).Color)
}

func TestGetIconShapes(t *testing.T) {
	donor := GetIcon(RoleDonor, "", IconSizeNormal)
	ngo := GetIcon(RoleNgo, "", IconSizeNormal)
	volunteer := GetIcon(RoleVolunteer, "", IconSizeNormal)
	admin := GetIcon(RoleAdmin, "", IconSizeNormal)

	// four distinct deterministic shapes
	assert.NotEqual(t, donor.SvgPath, ngo.SvgPath)
	assert.NotEqual(t, ngo.SvgPath, volunteer.SvgPath)
	assert.NotEqual(t, volunteer.SvgPath, admin.SvgPath)
	assert.Equal(t, defaultIconPath, admin.SvgPath)

	// unknown roles draw the default shape
	assert.Equal(t, defaultIconPath, GetIcon(Role("dispatcher"), "", IconSizeNormal).SvgPath)
}
