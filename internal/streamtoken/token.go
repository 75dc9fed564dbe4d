// Package streamtoken mints and verifies the short-lived tokens embedded in
// media-stream URLs. The media socket is a public wss endpoint; the token
// binds an upgrade request to the call it was issued for.
package streamtoken

import (
	"errors"
	"time"

	"voicebridge/internal/config"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

type Manager struct {
	secret []byte
	ttl    time.Duration
}

func NewManager(cfg config.StreamConfig) (*Manager, error) {
	if cfg.TokenSecret == "" {
		return nil, errors.New("STREAM_TOKEN_SECRET is required")
	}
	ttl := cfg.TokenTTL
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Manager{secret: []byte(cfg.TokenSecret), ttl: ttl}, nil
}

// Claims carried by a stream token. Scenario travels with the token so the
// relay can configure the speech session without a storage round-trip.
type Claims struct {
	CallSID  string `json:"call_sid"`
	UserID   string `json:"user_id"`
	Scenario string `json:"scenario"`
	jwt.RegisteredClaims
}

func (m *Manager) Issue(now time.Time, callSID, userID, scenario string) (string, error) {
	if callSID == "" {
		return "", errors.New("streamtoken: call sid is required")
	}
	claims := Claims{
		CallSID:  callSID,
		UserID:   userID,
		Scenario: scenario,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
}

func (m *Manager) Verify(tokenString string, now time.Time) (Claims, error) {
	var claims Claims

	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuedAt(),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(func() time.Time { return now }),
	)

	_, err := parser.ParseWithClaims(tokenString, &claims, func(token *jwt.Token) (any, error) {
		return m.secret, nil
	})
	if err != nil {
		return Claims{}, err
	}
	if claims.CallSID == "" {
		return Claims{}, errors.New("streamtoken: token missing call sid")
	}
	return claims, nil
}
