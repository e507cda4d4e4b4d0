package client

import (
	"fmt"

	gojwt "github.com/golang-jwt/jwt/v5"
)

// identity claims of the session JWT. The token is issued and verified by the
// server; the client only reads claims to derive channel topic names.
type SessionJwt struct {
	UserId      string
	NetworkId   string
	NetworkName string
}

func ParseSessionJwtUnverified(jwt string) (*SessionJwt, error) {
	parser := gojwt.NewParser()
	token, _, err := parser.ParseUnverified(jwt, gojwt.MapClaims{})
	if err != nil {
		return nil, err
	}

	claims := token.Claims.(gojwt.MapClaims)

	sessionJwt := &SessionJwt{}
	if userId, ok := claims["user_id"].(string); ok {
		sessionJwt.UserId = userId
	}
	if networkId, ok := claims["network_id"].(string); ok {
		sessionJwt.NetworkId = networkId
	}
	if networkName, ok := claims["network_name"].(string); ok {
		sessionJwt.NetworkName = networkName
	}
	return sessionJwt, nil
}

// e.g. "accounts:<network_id>"
func (self *SessionJwt) EntityTopic(entityType string) string {
	return fmt.Sprintf("%s:%s", entityType, self.NetworkId)
}
