package geosync

import (
	"testing"

	gojwt "github.com/golang-jwt/jwt/v5"

	"github.com/go-playground/assert/v2"
)

func signTestJwt(t *testing.T, claims gojwt.MapClaims) string {
	token := gojwt.NewWithClaims(gojwt.SigningMethodHS256, claims)
	jwt, err := token.SignedString([]byte("test-signing-key"))
	assert.Equal(t, nil, err)
	return jwt
}

func TestParseViewerJwtUnverified(t *testing.T) {
	jwt := signTestJwt(t, gojwt.MapClaims{
		"user_id": "donor-1",
		"role":    "donor",
	})

	viewerJwt, err := ParseViewerJwtUnverified(jwt)
	assert.Equal(t, nil, err)
	assert.Equal(t, "donor-1", viewerJwt.UserId)
	assert.Equal(t, RoleDonor, viewerJwt.Role)

	// uid is accepted as a user id synonym
	jwt = signTestJwt(t, gojwt.MapClaims{
		"uid":  "volunteer-1",
		"role": "volunteer",
	})
	viewerJwt, err = ParseViewerJwtUnverified(jwt)
	assert.Equal(t, nil, err)
	assert.Equal(t, "volunteer-1", viewerJwt.UserId)
	assert.Equal(t, RoleVolunteer, viewerJwt.Role)

	// missing claims leave the zero values
	jwt = signTestJwt(t, gojwt.MapClaims{})
	viewerJwt, err = ParseViewerJwtUnverified(jwt)
	assert.Equal(t, nil, err)
	assert.Equal(t, "", viewerJwt.UserId)
	assert.Equal(t, Role(""), viewerJwt.Role)

	_, err = ParseViewerJwtUnverified("not-a-jwt")
	assert.NotEqual(t, nil, err)
}

func TestFilterStateFromByJwt(t *testing.T) {
	jwt := signTestJwt(t, gojwt.MapClaims{
		"user_id": "ngo-1",
		"role":    "ngo",
	})

	bbox := &BoundingBox{
		Southwest: Position{Latitude: 10, Longitude: 10},
		Northeast: Position{Latitude: 20, Longitude: 20},
	}
	filterState, err := FilterStateFromByJwt(jwt, bbox)
	assert.Equal(t, nil, err)
	assert.Equal(t, "ngo-1", filterState.UserId)
	assert.Equal(t, RoleNgo, filterState.UserRole)
	assert.Equal(t, bbox, filterState.Bbox)
}
