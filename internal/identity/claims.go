package identity

import (
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// Claims is the verified claim set handed to the resolver. Token signature
// and lifetime validation happen upstream; by the time a Claims value reaches
// this package it is trusted.
type Claims struct {
	Email       string `json:"email,omitempty"`
	DisplayName string `json:"name,omitempty"`

	jwt.RegisteredClaims
}

// SubjectID returns the stable account identifier carried by the claims.
func (c Claims) SubjectID() string {
	return strings.TrimSpace(c.Subject)
}
