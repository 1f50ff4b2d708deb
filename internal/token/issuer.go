// Package token implements issuing and verification of the signed access and
// refresh token pair. The issuer holds no state beyond the signing secret and
// TTLs; everything else is a pure function of input and clock.
package token

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"go-account-portal/internal/model"
)

const (
	KindAccess  = "access"
	KindRefresh = "refresh"
)

type Issuer struct {
	secret     []byte
	accessTTL  time.Duration
	refreshTTL time.Duration
	now        func() time.Time
}

func NewIssuer(secret string, accessTTL time.Duration, refreshTTL time.Duration) (*Issuer, error) {
	if len(secret) < 16 {
		return nil, fmt.Errorf("signing secret must be at least 16 bytes")
	}
	if accessTTL <= 0 || refreshTTL <= 0 {
		return nil, fmt.Errorf("token TTLs must be positive")
	}

	return &Issuer{
		secret:     []byte(secret),
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
		now:        time.Now,
	}, nil
}

// WithClock overrides the issuer's clock. Tests use this to mint expired
// tokens without sleeping.
func (i *Issuer) WithClock(now func() time.Time) *Issuer {
	clone := *i
	clone.now = now
	return &clone
}

func (i *Issuer) AccessTTL() time.Duration  { return i.accessTTL }
func (i *Issuer) RefreshTTL() time.Duration { return i.refreshTTL }

// Issue produces a signed access/refresh pair for the user. The access token
// carries identity and role for per-request authorization; the refresh token
// carries the session id that binds it to exactly one registry entry.
func (i *Issuer) Issue(user model.User, sessionID string) (model.TokenPair, error) {
	now := i.now().UTC()

	accessToken, err := i.sign(jwt.MapClaims{
		"sub":   user.ID,
		"email": user.Email,
		"role":  user.Role,
		"typ":   KindAccess,
		"jti":   uuid.NewString(),
		"iat":   now.Unix(),
		"exp":   now.Add(i.accessTTL).Unix(),
	})
	if err != nil {
		return model.TokenPair{}, fmt.Errorf("sign access token: %w", err)
	}

	refreshToken, err := i.sign(jwt.MapClaims{
		"sub": user.ID,
		"sid": sessionID,
		"typ": KindRefresh,
		"jti": uuid.NewString(),
		"iat": now.Unix(),
		"exp": now.Add(i.refreshTTL).Unix(),
	})
	if err != nil {
		return model.TokenPair{}, fmt.Errorf("sign refresh token: %w", err)
	}

	return model.TokenPair{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		TokenType:    "Bearer",
		ExpiresIn:    int64(i.accessTTL.Seconds()),
		User:         user.Public(),
	}, nil
}

// Verify parses and validates a token, failing closed on any signature,
// expiry, or kind mismatch. All failures surface as model.ErrInvalidToken;
// callers never learn which check tripped.
func (i *Issuer) Verify(tokenString string, expectedKind string) (*model.AuthClaims, error) {
	parsed, err := jwt.Parse(tokenString,
		func(t *jwt.Token) (interface{}, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method %q", t.Method.Alg())
			}
			return i.secret, nil
		},
		jwt.WithTimeFunc(i.now),
	)
	if err != nil || !parsed.Valid {
		return nil, model.ErrInvalidToken
	}

	claimsMap, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return nil, model.ErrInvalidToken
	}

	kind, _ := claimsMap["typ"].(string)
	if expectedKind != "" && kind != expectedKind {
		return nil, model.ErrInvalidToken
	}

	claims := &model.AuthClaims{Kind: kind}
	claims.UserID, _ = claimsMap["sub"].(string)
	claims.Email, _ = claimsMap["email"].(string)
	claims.Role, _ = claimsMap["role"].(string)
	claims.SessionID, _ = claimsMap["sid"].(string)
	claims.TokenID, _ = claimsMap["jti"].(string)

	if claims.UserID == "" {
		return nil, model.ErrInvalidToken
	}
	if kind == KindRefresh && claims.SessionID == "" {
		return nil, model.ErrInvalidToken
	}

	return claims, nil
}

func (i *Issuer) sign(claims jwt.MapClaims) (string, error) {
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
}
