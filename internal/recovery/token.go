package recovery

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var (
	ErrInvalidToken  = errors.New("invalid or expired recovery token")
	ErrTokenMismatch = errors.New("recovery token does not match the issued credential")
)

// TokenClaims holds the recovery token payload.
type TokenClaims struct {
	PlayerID string `json:"player_id"`
	RoomCode string `json:"room_code"`
	TokenID  string `json:"token_id"`
	jwt.RegisteredClaims
}

// TokenManager issues and validates recovery tokens: signed credentials a
// disconnected player must present to resume their session. Each token is
// single-use per reconnection window; the coordinator replaces it on every
// successful reconnect.
type TokenManager struct {
	secret []byte
	ttl    time.Duration
}

// NewTokenManager creates a TokenManager. ttl is the reconnection grace
// window after which tokens expire.
func NewTokenManager(secret string, ttl time.Duration) *TokenManager {
	return &TokenManager{secret: []byte(secret), ttl: ttl}
}

// Issue creates a fresh recovery token for a player in a room.
func (m *TokenManager) Issue(roomCode, playerID string) (string, error) {
	now := time.Now()
	claims := &TokenClaims{
		PlayerID: playerID,
		RoomCode: roomCode,
		TokenID:  uuid.NewString(),
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(m.ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			Subject:   playerID,
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(m.secret)
}

// Validate parses and verifies a recovery token and checks it was issued for
// the given room and player.
func (m *TokenManager) Validate(tokenStr, roomCode, playerID string) (*TokenClaims, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &TokenClaims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return m.secret, nil
	})
	if err != nil || !token.Valid {
		return nil, ErrInvalidToken
	}
	claims, ok := token.Claims.(*TokenClaims)
	if !ok {
		return nil, ErrInvalidToken
	}
	if claims.RoomCode != roomCode || claims.PlayerID != playerID {
		return nil, ErrTokenMismatch
	}
	return claims, nil
}
