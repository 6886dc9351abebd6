package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

// ErrInvalidToken is returned for any token that fails parsing or verification.
var ErrInvalidToken = errors.New("invalid token")

// ErrBadCredentials is returned when the admin password does not match.
var ErrBadCredentials = errors.New("bad credentials")

const adminSubject = "admin"

// HashPassword generates a bcrypt hash of the password.
func HashPassword(password string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(bytes), nil
}

// CheckPasswordHash compares a password with a bcrypt hash.
func CheckPasswordHash(password, hash string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
	return err == nil
}

// Claims is the payload of an admin token.
type Claims struct {
	jwt.RegisteredClaims
	Role string `json:"role"`
}

// Authenticator checks the admin password and issues HS256 bearer tokens.
type Authenticator struct {
	secret       []byte
	passwordHash string
	password     string
	ttl          time.Duration
	now          func() time.Time
}

// NewAuthenticator prefers passwordHash; password is only compared when no hash is set.
func NewAuthenticator(secret, passwordHash, password string, ttl time.Duration) *Authenticator {
	return &Authenticator{
		secret:       []byte(secret),
		passwordHash: passwordHash,
		password:     password,
		ttl:          ttl,
		now:          time.Now,
	}
}

// Login checks the password and returns a signed token with its expiry.
func (a *Authenticator) Login(password string) (string, time.Time, error) {
	if !a.checkPassword(password) {
		return "", time.Time{}, ErrBadCredentials
	}
	return a.GenerateToken()
}

func (a *Authenticator) checkPassword(password string) bool {
	if password == "" {
		return false
	}
	if a.passwordHash != "" {
		return CheckPasswordHash(password, a.passwordHash)
	}
	return a.password != "" && password == a.password
}

// GenerateToken issues an admin token valid for the configured TTL.
func (a *Authenticator) GenerateToken() (string, time.Time, error) {
	now := a.now()
	expires := now.Add(a.ttl)
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   adminSubject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
		Role: adminSubject,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(a.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign admin token: %w", err)
	}
	return signed, expires, nil
}

// ParseToken verifies signature, algorithm and expiry.
func (a *Authenticator) ParseToken(tokenString string) (*Claims, error) {
	var claims Claims
	_, err := jwt.ParseWithClaims(tokenString, &claims, func(token *jwt.Token) (any, error) {
		return a.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(a.now),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.Role != adminSubject {
		return nil, fmt.Errorf("%w: unexpected role %q", ErrInvalidToken, claims.Role)
	}
	return &claims, nil
}
