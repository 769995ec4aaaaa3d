// Package identity resolves who is looking at a session from a signed token.
package identity

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var ErrInvalidToken = errors.New("invalid token")

type Role string

const (
	RoleCoach       Role = "COACH"
	RoleParticipant Role = "PARTICIPANT"
	RoleSuperAdmin  Role = "SUPER_ADMIN"
)

func (r Role) Valid() bool {
	switch r {
	case RoleCoach, RoleParticipant, RoleSuperAdmin:
		return true
	}

	return false
}

type Viewer struct {
	UserID   string `json:"user_id"`
	UserName string `json:"user_name"`
	Role     Role   `json:"role"`
}

// CanHost reports whether v may open live sessions.
func (v Viewer) CanHost() bool {
	return v.Role == RoleCoach || v.Role == RoleSuperAdmin
}

type claims struct {
	UserID   string `json:"user_id"`
	UserName string `json:"user_name"`
	Role     Role   `json:"role"`
	jwt.RegisteredClaims
}

// IssueToken signs v with secret. A zero ttl issues a token without expiry.
func IssueToken(secret string, v Viewer, ttl time.Duration) (string, error) {
	if secret == "" {
		return "", errors.New("secret is empty")
	}

	c := claims{
		UserID:   v.UserID,
		UserName: v.UserName,
		Role:     v.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt: jwt.NewNumericDate(time.Now()),
		},
	}
	if ttl > 0 {
		c.ExpiresAt = jwt.NewNumericDate(time.Now().Add(ttl))
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, c)

	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}

	return signed, nil
}

func ParseToken(secret, tokenString string) (Viewer, error) {
	var c claims
	token, err := jwt.ParseWithClaims(tokenString, &c, func(token *jwt.Token) (interface{}, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return Viewer{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	if !token.Valid || c.UserID == "" || !c.Role.Valid() {
		return Viewer{}, ErrInvalidToken
	}

	return Viewer{
		UserID:   c.UserID,
		UserName: c.UserName,
		Role:     c.Role,
	}, nil
}

// PeekToken reads the viewer from a token without checking its signature. Clients use it to
// name themselves; the server always verifies with ParseToken.
func PeekToken(tokenString string) (Viewer, error) {
	var c claims
	if _, _, err := jwt.NewParser().ParseUnverified(tokenString, &c); err != nil {
		return Viewer{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	if c.UserID == "" || !c.Role.Valid() {
		return Viewer{}, ErrInvalidToken
	}

	return Viewer{
		UserID:   c.UserID,
		UserName: c.UserName,
		Role:     c.Role,
	}, nil
}
