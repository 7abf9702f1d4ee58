// Cartographus - Media Server Analytics and Geographic Visualization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cartographus

package http

import (
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// Claims is the bearer-token payload HttpWorker expects, grounded on the
// teacher's internal/auth/jwt.go Claims type.
type Claims struct {
	Username string `json:"username"`
	jwt.RegisteredClaims
}

// JWTValidator validates HS256 bearer tokens against a shared secret, the
// minimal slice of the teacher's JWTManager this worker needs (it only
// validates; token issuance belongs to the auth surface of the original
// front end, out of this fleet's scope).
type JWTValidator struct {
	secret []byte
}

// NewJWTValidator requires a secret of at least 32 bytes, matching the
// teacher's minimum JWT_SECRET length requirement.
func NewJWTValidator(secret string) (*JWTValidator, error) {
	if len(secret) < 32 {
		return nil, fmt.Errorf("http: jwt secret must be at least 32 characters")
	}
	return &JWTValidator{secret: []byte(secret)}, nil
}

// Validate parses and verifies tokenString, rejecting any signing method
// other than HMAC (the algorithm-confusion check the teacher's
// ValidateToken performs).
func (v *JWTValidator) Validate(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("http: unexpected signing method %v", token.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("http: invalid token: %w", err)
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("http: invalid token claims")
	}
	return claims, nil
}
