package models

import "github.com/golang-jwt/jwt/v5"

// Role constants for token-scoped access. Tokens are issued by the identity
// service of the surrounding console; this API only validates them.
const (
	RoleAdmin     = "ADMIN"
	RoleScheduler = "SCHEDULER"
	RoleTherapist = "THERAPIST"
)

// JWTClaims carries the authenticated actor's identity.
type JWTClaims struct {
	UserID   string `json:"userId"`
	ClinicID string `json:"clinicId"`
	Role     string `json:"role"`
	jwt.RegisteredClaims
}
