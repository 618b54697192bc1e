// Package auth issues and verifies the access tokens that identify a subject.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/vedran77/vetchat/internal/domain"
)

var ErrInvalidToken = errors.New("invalid or expired token")

type claims struct {
	Email string `json:"email,omitempty"`
	jwt.RegisteredClaims
}

type Tokens struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewTokens(secret string, ttl time.Duration) *Tokens {
	return &Tokens{
		secret: []byte(secret),
		ttl:    ttl,
		now:    time.Now,
	}
}

// Issue signs an HS256 token for the subject.
func (t *Tokens) Issue(subject domain.Subject) (string, error) {
	now := t.now()
	c := claims{
		Email: subject.Email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(t.ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, c)
	return token.SignedString(t.secret)
}

// Verify parses tokenStr and returns the subject it names.
func (t *Tokens) Verify(tokenStr string) (domain.Subject, error) {
	var c claims
	token, err := jwt.ParseWithClaims(tokenStr, &c, func(tok *jwt.Token) (any, error) {
		if _, ok := tok.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", tok.Header["alg"])
		}
		return t.secret, nil
	}, jwt.WithTimeFunc(t.now))
	if err != nil || !token.Valid {
		return domain.Subject{}, ErrInvalidToken
	}

	if c.Subject == "" {
		return domain.Subject{}, ErrInvalidToken
	}
	return domain.Subject{ID: c.Subject, Email: c.Email}, nil
}
