package uplink

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// DeviceClaims identifies the sensor in a signed upload token.
type DeviceClaims struct {
	SensorID    string `json:"sensor_id"`
	SensorSetID string `json:"sensor_set_id"`
	jwt.RegisteredClaims
}

// TokenIssuer mints short-lived HS256 device tokens for the Authorization
// header when the API is configured for JWT auth instead of a static bearer
// token.
type TokenIssuer struct {
	secretKey   []byte
	sensorID    string
	sensorSetID string
	ttl         time.Duration
}

// NewTokenIssuer creates an issuer for the given device identity.
func NewTokenIssuer(secret, sensorID, sensorSetID string, ttl time.Duration) *TokenIssuer {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &TokenIssuer{
		secretKey:   []byte(secret),
		sensorID:    sensorID,
		sensorSetID: sensorSetID,
		ttl:         ttl,
	}
}

// Issue signs a fresh token valid from now for the configured TTL.
func (t *TokenIssuer) Issue(now time.Time) (string, error) {
	claims := DeviceClaims{
		SensorID:    t.sensorID,
		SensorSetID: t.sensorSetID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(t.ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    "luxagent",
			Subject:   t.sensorID,
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(t.secretKey)
}
