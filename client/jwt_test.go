package client

import (
	"testing"

	gojwt "github.com/golang-jwt/jwt/v5"

	"github.com/go-playground/assert/v2"
)

func TestParseSessionJwtUnverified(t *testing.T) {
	token := gojwt.NewWithClaims(gojwt.SigningMethodHS256, gojwt.MapClaims{
		"user_id":      "u1",
		"network_id":   "n1",
		"network_name": "testnet",
	})
	jwt, err := token.SignedString([]byte("test-secret"))
	assert.Equal(t, nil, err)

	// the client reads claims without verifying the signature
	sessionJwt, err := ParseSessionJwtUnverified(jwt)
	assert.Equal(t, nil, err)
	assert.Equal(t, "u1", sessionJwt.UserId)
	assert.Equal(t, "n1", sessionJwt.NetworkId)
	assert.Equal(t, "testnet", sessionJwt.NetworkName)

	assert.Equal(t, "accounts:n1", sessionJwt.EntityTopic("accounts"))
}

func TestParseSessionJwtMissingClaims(t *testing.T) {
	token := gojwt.NewWithClaims(gojwt.SigningMethodHS256, gojwt.MapClaims{})
	jwt, err := token.SignedString([]byte("test-secret"))
	assert.Equal(t, nil, err)

	sessionJwt, err := ParseSessionJwtUnverified(jwt)
	assert.Equal(t, nil, err)
	assert.Equal(t, "", sessionJwt.UserId)
	assert.Equal(t, "", sessionJwt.NetworkId)
}

func TestParseSessionJwtMalformed(t *testing.T) {
	_, err := ParseSessionJwtUnverified("not-a-jwt")
	assert.NotEqual(t, nil, err)
}
