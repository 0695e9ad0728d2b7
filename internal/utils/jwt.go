package utils

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/chambalink/backend/internal/models"
)

// Claims is the session token payload. UserID and Role are typed so callers
// never re-parse them out of strings.
type Claims struct {
	UserID uuid.UUID   `json:"uid"`
	Role   models.Role `json:"role"`
	jwt.RegisteredClaims
}

// SignJWT issues an HS256 session token for the user.
func SignJWT(secret string, userID uuid.UUID, role models.Role, expiresMin int) (string, error) {
	now := time.Now()
	claims := Claims{
		UserID: userID,
		Role:   role,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Duration(expiresMin) * time.Minute)),
		},
	}
	t := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return t.SignedString([]byte(secret))
}

var errInvalidToken = errors.New("invalid token")

// ParseJWT validates tokenStr and returns its claims. Used by both the
// cookie middleware and the websocket upgrade, which carry the same token.
func ParseJWT(secret, tokenStr string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, err
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.UserID == uuid.Nil {
		return nil, errInvalidToken
	}
	return claims, nil
}
