package geosync

import (
	gojwt "github.com/golang-jwt/jwt/v5"
)

// viewer attributes carried as custom claims on the platform jwt
type ViewerJwt struct {
	UserId string
	Role   Role
}

// ParseViewerJwtUnverified extracts the viewer claims without verifying the
// signature. The store verifies the jwt on its side; the client only needs
// the claims to build queries.
func ParseViewerJwtUnverified(jwt string) (*ViewerJwt, error) {
	parser := gojwt.NewParser()
	token, _, err := parser.ParseUnverified(jwt, gojwt.MapClaims{})
	if err != nil {
		return nil, err
	}

	claims := token.Claims.(gojwt.MapClaims)

	viewerJwt := &ViewerJwt{}

	if userId, ok := claims["user_id"].(string); ok {
		viewerJwt.UserId = userId
	} else if userId, ok := claims["uid"].(string); ok {
		viewerJwt.UserId = userId
	}
	if role, ok := claims["role"].(string); ok {
		viewerJwt.Role = Role(role)
	}

	return viewerJwt, nil
}

// FilterStateFromByJwt builds a filter state scoped to the jwt's viewer.
func FilterStateFromByJwt(byJwt string, bbox *BoundingBox) (*FilterState, error) {
	viewerJwt, err := ParseViewerJwtUnverified(byJwt)
	if err != nil {
		return nil, err
	}
	return &FilterState{
		Bbox:     bbox,
		UserId:   viewerJwt.UserId,
		UserRole: viewerJwt.Role,
	}, nil
}
