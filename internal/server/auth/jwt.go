// Package auth issues and checks the signed tokens that confirm a user's
// email address.
package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const confirmationType = "confirmation_token"

// DefaultConfirmationTTL bounds how long a signup link stays usable.
const DefaultConfirmationTTL = 30 * time.Minute

var (
	ErrTokenExpired = errors.New("token expired")
	ErrTokenInvalid = errors.New("token invalid")
)

// ConfirmationClaims are the registered claims plus the token type. Subject
// is the user id.
type ConfirmationClaims struct {
	jwt.RegisteredClaims
	Type  string `json:"type"`
	Email string `json:"email,omitempty"`
}

// Token is a signed confirmation token with its validity window.
type Token struct {
	Value     string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// IssueConfirmation signs a confirmation token for userID valid for ttl from now.
func IssueConfirmation(userID, email string, secret []byte, now time.Time, ttl time.Duration) (Token, error) {
	iat := jwt.NewNumericDate(now)
	exp := jwt.NewNumericDate(now.Add(ttl))

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, ConfirmationClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   userID,
			IssuedAt:  iat,
			ExpiresAt: exp,
		},
		Type:  confirmationType,
		Email: email,
	})

	s, err := token.SignedString(secret)
	if err != nil {
		return Token{}, err
	}

	return Token{Value: s, IssuedAt: iat.Time, ExpiresAt: exp.Time}, nil
}

// ValidateConfirmation checks signature, type and expiry as of now and
// returns the claims.
func ValidateConfirmation(tokenString string, secret []byte, now time.Time) (*ConfirmationClaims, error) {
	claims := &ConfirmationClaims{}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		return secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(func() time.Time { return now }),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, ErrTokenInvalid
	}

	if !token.Valid || claims.Type != confirmationType || claims.Subject == "" {
		return nil, ErrTokenInvalid
	}

	return claims, nil
}
