package web

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrMissingCredential = errors.New("missing credential")
	ErrInvalidCredential = errors.New("invalid credential")
	ErrAuthNotConfigured = errors.New("admin auth is not configured")
)

const adminRole = "admin"

// AuthManager accepts either the static admin API key or an HS256 admin token.
type AuthManager struct {
	apiKey string
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewAuthManager(apiKey, jwtSecret string, ttl time.Duration) *AuthManager {
	if ttl <= 0 {
		ttl = 12 * time.Hour
	}
	return &AuthManager{apiKey: apiKey, secret: []byte(jwtSecret), ttl: ttl, now: time.Now}
}

type AdminClaims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// Mint signs an admin token for subject (an operator name, recorded in logs).
func (a *AuthManager) Mint(subject string) (string, time.Time, error) {
	if len(a.secret) == 0 {
		return "", time.Time{}, ErrAuthNotConfigured
	}
	now := a.now()
	exp := now.Add(a.ttl)
	claims := AdminClaims{
		Role: adminRole,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
			Subject:   subject,
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, exp, nil
}

// Authenticate returns the operator subject behind the request's bearer credential.
func (a *AuthManager) Authenticate(r *http.Request) (string, error) {
	if a.apiKey == "" && len(a.secret) == 0 {
		return "", ErrAuthNotConfigured
	}
	hdr := r.Header.Get("Authorization")
	if hdr == "" {
		return "", ErrMissingCredential
	}
	scheme, cred, ok := strings.Cut(hdr, " ")
	if !ok || !strings.EqualFold(scheme, "bearer") || cred == "" {
		return "", ErrInvalidCredential
	}
	cred = strings.TrimSpace(cred)

	if a.apiKey != "" && subtle.ConstantTimeCompare([]byte(cred), []byte(a.apiKey)) == 1 {
		return "api-key", nil
	}
	if len(a.secret) == 0 {
		return "", ErrInvalidCredential
	}
	claims, err := a.parse(cred)
	if err != nil {
		return "", err
	}
	return claims.Subject, nil
}

func (a *AuthManager) parse(tok string) (*AdminClaims, error) {
	claims := &AdminClaims{}
	tkn, err := jwt.ParseWithClaims(tok, claims, func(t *jwt.Token) (any, error) {
		return a.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(a.now))
	if err != nil || !tkn.Valid || claims.Role != adminRole {
		return nil, ErrInvalidCredential
	}
	return claims, nil
}
