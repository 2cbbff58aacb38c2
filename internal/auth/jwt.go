package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrTokenExpired = errors.New("token expired")
	ErrTokenInvalid = errors.New("token invalid")
)

// TokenService issues and checks the HS256 bearer tokens handed out at login.
type TokenService struct {
	Secret   []byte
	Issuer   string
	Duration time.Duration

	// Now overrides the clock; nil means time.Now.
	Now func() time.Time
}

// Claims carry the account identity plus the account shard it lives in, so
// handlers never have to scan account shards for the caller.
type Claims struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
	Shard    string `json:"shard,omitempty"`
	jwt.RegisteredClaims
}

func (ts TokenService) now() time.Time {
	if ts.Now != nil {
		return ts.Now()
	}
	return time.Now()
}

// Sign returns a token for u and its expiry.
func (ts TokenService) Sign(u *User) (string, time.Time, error) {
	issued := ts.now()
	exp := issued.Add(ts.Duration)

	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		UserID:   u.ID,
		Username: u.Username,
		Shard:    u.Shard,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    ts.Issuer,
			Subject:   u.Username,
			ExpiresAt: jwt.NewNumericDate(exp),
			IssuedAt:  jwt.NewNumericDate(issued),
		},
	})
	signed, err := tok.SignedString(ts.Secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token for %s: %w", u.Username, err)
	}
	return signed, exp, nil
}

// Parse verifies raw and returns its claims. Expired tokens yield
// ErrTokenExpired, anything else that fails verification ErrTokenInvalid.
func (ts TokenService) Parse(raw string) (*Claims, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(ts.now),
		jwt.WithExpirationRequired(),
	}
	if ts.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(ts.Issuer))
	}

	claims := &Claims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return ts.Secret, nil
	}, opts...)
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return nil, ErrTokenExpired
	case err != nil:
		return nil, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	case claims.Username == "":
		return nil, fmt.Errorf("%w: no username", ErrTokenInvalid)
	}
	return claims, nil
}
