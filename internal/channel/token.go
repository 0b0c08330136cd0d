package channel

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// visitorTokenTTL bounds how long a signed visitor token stays valid. The
// contact server re-issues contact-scoped tokens after creation, so this
// only needs to cover the connect handshake.
const visitorTokenTTL = 10 * time.Minute

// VisitorClaims are the page-tracking claims carried by the connect token.
type VisitorClaims struct {
	VisitorID  string `json:"vid"`
	SessionID  string `json:"sid"`
	CampaignID string `json:"cid"`
	jwt.RegisteredClaims
}

// SignVisitorToken signs the visitor page token used to authenticate the
// transport connection.
func SignVisitorToken(secret []byte, visitorID, sessionID, campaignID string) (string, error) {
	if len(secret) == 0 {
		return "", fmt.Errorf("sign visitor token: empty secret")
	}
	now := time.Now()
	claims := VisitorClaims{
		VisitorID:  visitorID,
		SessionID:  sessionID,
		CampaignID: campaignID,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(visitorTokenTTL)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(secret)
	if err != nil {
		return "", fmt.Errorf("sign visitor token: %w", err)
	}
	return signed, nil
}

// ParseVisitorToken verifies and decodes a visitor page token.
func ParseVisitorToken(secret []byte, raw string) (*VisitorClaims, error) {
	claims := &VisitorClaims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("parse visitor token: %w", err)
	}
	return claims, nil
}
