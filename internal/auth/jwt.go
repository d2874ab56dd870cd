package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/lalith-99/arenachat/internal/identity"
)

// Issuer is stamped on every token this service signs and required on every
// token it accepts.
const Issuer = "arenachat"

// Claims is the payload inside every JWT token.
//
// Accounts live in the platform's identity service; this service only
// verifies the token it hands out. The claims carry exactly what the
// messaging core needs to know about the caller without a database round
// trip: who they are, the name their messages are stamped with, and whether
// they are a platform admin.
//
// Why is the display name in the token?
//   - Every message stores a snapshot of the sender's name at send time.
//     Taking it from the token means the insert path never waits on a user
//     lookup.
//
// Event roles (registrant, captain, event admin) are NOT in the token. They
// change during an event and are read fresh whenever a channel opens and on
// every write.
type Claims struct {
	UserID        uuid.UUID `json:"user_id"`
	DisplayName   string    `json:"display_name"`
	IsGlobalAdmin bool      `json:"is_global_admin,omitempty"`
	jwt.RegisteredClaims
}

// Caller turns verified claims into the caller identity the core works
// with. Admin mode is a per-connection toggle, not a claim: asking for it
// grants nothing by itself, the resolver still checks event ownership or
// the global admin flag.
func (c *Claims) Caller(adminMode bool) identity.Caller {
	return identity.Caller{
		UserID:        c.UserID,
		DisplayName:   c.DisplayName,
		IsGlobalAdmin: c.IsGlobalAdmin,
		AdminMode:     adminMode,
	}
}

// GenerateToken creates a signed HS256 JWT for a user.
//
// Why HS256 (HMAC-SHA256)?
//   - One shared secret, no key pair to distribute.
//   - The identity service and this service share JWT_SECRET. If more
//     services had to verify tokens without being able to issue them, we
//     would switch to RS256.
func GenerateToken(userID uuid.UUID, displayName string, isGlobalAdmin bool, secret string, ttl time.Duration) (string, error) {
	if userID == uuid.Nil {
		return "", errors.New("sign token: user id is required")
	}
	now := time.Now()

	claims := Claims{
		UserID:        userID,
		DisplayName:   displayName,
		IsGlobalAdmin: isGlobalAdmin,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    Issuer,
			Subject:   userID.String(),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// ParseToken validates a JWT string and extracts the claims.
//
// It verifies:
//  1. The signature matches our secret.
//  2. The token hasn't expired.
//  3. The signing method is HMAC (rejects "none" and algorithm switching).
//  4. The issuer is ours and the user id is set.
func ParseToken(tokenString, secret string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{},
		func(token *jwt.Token) (any, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
			}
			return []byte(secret), nil
		},
		jwt.WithIssuer(Issuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, fmt.Errorf("parse token: %w", err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token claims")
	}
	if claims.UserID == uuid.Nil {
		return nil, fmt.Errorf("token has no user id")
	}
	return claims, nil
}
