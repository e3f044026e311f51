package auth

import (
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const defaultTokenTTL = 30 * time.Minute

var (
	errMissingSigningSecret = errors.New("signing secret must be provided")
	errMissingAccessKey     = errors.New("access key must be provided")
	errMissingSubjectClaim  = errors.New("subject claim must be provided")
	// ErrInvalidAccessKey indicates a failed admin login attempt.
	ErrInvalidAccessKey = errors.New("auth: invalid access key")
)

// AdminIssuerConfig configures the admin JWT issuer.
type AdminIssuerConfig struct {
	SigningSecret []byte
	AccessKey     string
	Issuer        string
	Audience      string
	TokenTTL      time.Duration
	Clock         func() time.Time
}

// AdminIssuer exchanges the configured access key for short-lived HS256
// JWTs guarding the dashboard routes.
type AdminIssuer struct {
	config AdminIssuerConfig
	clock  func() time.Time
}

// NewAdminIssuer constructs an AdminIssuer with sane defaults.
func NewAdminIssuer(cfg AdminIssuerConfig) (*AdminIssuer, error) {
	if len(cfg.SigningSecret) == 0 {
		return nil, errMissingSigningSecret
	}
	if strings.TrimSpace(cfg.AccessKey) == "" {
		return nil, errMissingAccessKey
	}
	ttl := cfg.TokenTTL
	if ttl <= 0 {
		ttl = defaultTokenTTL
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &AdminIssuer{
		config: AdminIssuerConfig{
			SigningSecret: append([]byte(nil), cfg.SigningSecret...),
			AccessKey:     cfg.AccessKey,
			Issuer:        cfg.Issuer,
			Audience:      cfg.Audience,
			TokenTTL:      ttl,
			Clock:         clock,
		},
		clock: clock,
	}, nil
}

// Login verifies the presented access key in constant time and issues a
// signed JWT plus its expiry in seconds.
func (i *AdminIssuer) Login(accessKey string) (string, int64, error) {
	presented := sha256.Sum256([]byte(accessKey))
	expected := sha256.Sum256([]byte(i.config.AccessKey))
	if subtle.ConstantTimeCompare(presented[:], expected[:]) != 1 {
		return "", 0, ErrInvalidAccessKey
	}

	now := i.clock().UTC()
	expiresAt := now.Add(i.config.TokenTTL).UTC()

	registered := jwt.RegisteredClaims{
		Subject:   "admin",
		Issuer:    i.config.Issuer,
		Audience:  []string{i.config.Audience},
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(expiresAt),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, registered)
	signed, err := token.SignedString(i.config.SigningSecret)
	if err != nil {
		return "", 0, err
	}
	return signed, int64(expiresAt.Sub(now).Seconds()), nil
}

// ValidateToken ensures the JWT is well formed and returns the subject.
func (i *AdminIssuer) ValidateToken(tokenString string) (string, error) {
	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(
		tokenString,
		claims,
		func(token *jwt.Token) (interface{}, error) {
			if token.Method.Alg() != jwt.SigningMethodHS256.Alg() {
				return nil, fmt.Errorf("unexpected signing algorithm: %s", token.Method.Alg())
			}
			return i.config.SigningSecret, nil
		},
		jwt.WithAudience(i.config.Audience),
		jwt.WithIssuer(i.config.Issuer),
		jwt.WithTimeFunc(i.clock),
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
	)
	if err != nil {
		return "", err
	}
	if claims.Subject == "" {
		return "", errMissingSubjectClaim
	}
	return claims.Subject, nil
}
