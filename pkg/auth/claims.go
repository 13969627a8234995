package auth

import (
	"github.com/golang-jwt/jwt/v5"
)

// AccessTokenPayload captures the data available when minting a device token.
type AccessTokenPayload struct {
	// Identity is the username or email the device reports locations for.
	Identity string
	JTI      string
}

// AccessTokenClaims binds a device session to one identity. Subject carries
// the same identity so standard JWT tooling can read it.
type AccessTokenClaims struct {
	Identity string `json:"identity"`
	jwt.RegisteredClaims
}
