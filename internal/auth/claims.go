package auth

import (
	"github.com/golang-jwt/jwt/v5"
)

// CustomClaims represents the custom JWT claims for the API
type CustomClaims struct {
	OrgID   string `json:"orgId"`
	ActorID string `json:"actorId"`
	Role    string `json:"role"`
	jwt.RegisteredClaims
}

// Validate performs additional validation on custom claims.
// OrgID may be empty: platform administrators are not bound to an
// organization.
func (c *CustomClaims) Validate() error {
	if c.ActorID == "" {
		return jwt.ErrTokenInvalidClaims
	}
	if c.Role == "" {
		return jwt.ErrTokenInvalidClaims
	}
	return nil
}
