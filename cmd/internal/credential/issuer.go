package credential

import (
	"crypto/rand"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/oklog/ulid/v2"
)

// DefaultTTL matches the lifetime of a code so a session never outlives its grant by much.
const DefaultTTL = 24 * time.Hour

// Endpoint is one transport server and the key pair that signs its tokens.
type Endpoint struct {
	URL       string
	APIKey    string
	APISecret string
}

// Complete reports whether URL, key and secret are all set.
func (e Endpoint) Complete() bool {
	return strings.TrimSpace(e.URL) != "" &&
		strings.TrimSpace(e.APIKey) != "" &&
		strings.TrimSpace(e.APISecret) != ""
}

// Credential is a signed token for one endpoint.
type Credential struct {
	URL       string
	Token     string
	ExpiresAt time.Time
}

// Grant is the result of a successful admission: the primary credential and, when configured, a fallback.
type Grant struct {
	Primary  Credential
	Fallback *Credential
}

// Issuer signs credentials for the configured endpoints.
type Issuer struct {
	primary  Endpoint
	fallback *Endpoint
	ttl      time.Duration
}

// IssuerOption configures Issuer.
type IssuerOption func(*Issuer)

// WithFallback enables fallback credentials. Incomplete endpoints are ignored.
func WithFallback(ep Endpoint) IssuerOption {
	return func(i *Issuer) {
		if ep.Complete() {
			i.fallback = &ep
		}
	}
}

// WithTTL sets the token lifetime (default 24h).
func WithTTL(ttl time.Duration) IssuerOption {
	return func(i *Issuer) {
		if ttl > 0 {
			i.ttl = ttl
		}
	}
}

// NewIssuer constructs an Issuer. The primary endpoint must be complete.
func NewIssuer(primary Endpoint, opts ...IssuerOption) (*Issuer, error) {
	if !primary.Complete() {
		return nil, ErrInvalidEndpoint
	}
	i := &Issuer{primary: primary, ttl: DefaultTTL}
	for _, opt := range opts {
		if opt != nil {
			opt(i)
		}
	}
	return i, nil
}

// HasFallback reports whether fallback credentials are issued.
func (i *Issuer) HasFallback() bool { return i.fallback != nil }

// Issue mints credentials letting identity join room.
func (i *Issuer) Issue(identity, room string, now time.Time) (Grant, error) {
	identity = strings.TrimSpace(identity)
	room = strings.TrimSpace(room)
	if identity == "" || room == "" {
		return Grant{}, ErrInvalidInput
	}
	if now.IsZero() {
		now = time.Now().UTC()
	}

	primary, err := i.sign(i.primary, identity, room, now)
	if err != nil {
		return Grant{}, fmt.Errorf("sign primary: %w", err)
	}
	g := Grant{Primary: primary}
	if i.fallback != nil {
		fb, err := i.sign(*i.fallback, identity, room, now)
		if err != nil {
			return Grant{}, fmt.Errorf("sign fallback: %w", err)
		}
		g.Fallback = &fb
	}
	return g, nil
}

func (i *Issuer) sign(ep Endpoint, identity, room string, now time.Time) (Credential, error) {
	jti, err := ulid.New(ulid.Timestamp(now), rand.Reader)
	if err != nil {
		return Credential{}, err
	}
	exp := now.Add(i.ttl)
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    ep.APIKey,
			Subject:   identity,
			ID:        jti.String(),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
		Name:  identity,
		Video: participantGrant(room),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(ep.APISecret))
	if err != nil {
		return Credential{}, err
	}
	return Credential{URL: ep.URL, Token: token, ExpiresAt: exp}, nil
}

// Verify checks a token signed for ep and returns its claims.
func Verify(ep Endpoint, token string, now time.Time) (Claims, error) {
	if !ep.Complete() {
		return Claims{}, ErrInvalidEndpoint
	}
	if now.IsZero() {
		now = time.Now()
	}
	var claims Claims
	parsed, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(ep.APISecret), nil
	},
		jwt.WithIssuer(ep.APIKey),
		jwt.WithTimeFunc(func() time.Time { return now }),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Claims{}, ErrExpiredToken
		}
		return Claims{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !parsed.Valid || claims.Subject == "" || claims.Video == nil || claims.Video.Room == "" {
		return Claims{}, ErrInvalidToken
	}
	return claims, nil
}
