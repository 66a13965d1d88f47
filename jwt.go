package main

import (
	"errors"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

const (
	JWTAccessTokenExpirationTime = time.Hour * 12
	JWTIssuer                    = "travel_blog"
)

var errNoSigningKey = errors.New("jwt: signing key not configured")

// NewJWTAccessToken signs a token whose ID claim carries the user id.
func NewJWTAccessToken(user User, secret []byte) (string, error) {
	if len(secret) == 0 {
		return "", errNoSigningKey
	}

	now := time.Now()
	claims := jwt.NewWithClaims(jwt.SigningMethodHS512, jwt.RegisteredClaims{
		Issuer:    JWTIssuer,
		ExpiresAt: jwt.NewNumericDate(now.Add(JWTAccessTokenExpirationTime)),
		IssuedAt:  jwt.NewNumericDate(now),
		Audience:  jwt.ClaimStrings{user.Username},
		ID:        strconv.FormatInt(user.ID, 10),
	})

	return claims.SignedString(secret)
}

// VerifyJWTToken returns the user id carried by a valid token.
func VerifyJWTToken(token string, secret []byte) (int64, bool) {
	if len(secret) == 0 {
		return 0, false
	}

	claims := &jwt.RegisteredClaims{}
	tkn, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("jwt: unexpected signing method")
		}
		return secret, nil
	})
	if err != nil || !tkn.Valid || claims.Issuer != JWTIssuer {
		return 0, false
	}

	id, err := strconv.ParseInt(claims.ID, 10, 64)
	if err != nil {
		return 0, false
	}

	return id, true
}
