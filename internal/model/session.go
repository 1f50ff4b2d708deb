package model

import "time"

// Session represents one logical login (device/browser instance). The raw
// refresh token is never stored; TokenHash is its SHA-256 fingerprint.
//
// Lifecycle is a single terminal transition: active -> revoked. RevokedAt is
// the only mutation a session record ever receives; rotation revokes the old
// record and inserts a fresh one rather than editing it in place.
type Session struct {
	ID         string     `json:"id"`
	UserID     string     `json:"user_id"`
	TokenHash  string     `json:"-"`
	TokenEpoch int64      `json:"-"`
	CreatedAt  time.Time  `json:"created_at"`
	ExpiresAt  time.Time  `json:"expires_at"`
	RevokedAt  *time.Time `json:"revoked_at,omitempty"`
}

// Valid reports whether the session can still redeem a refresh token at the
// given instant, assuming the owner's token epoch is userEpoch. An epoch
// mismatch means a revoke-all landed after this session was minted.
func (s Session) Valid(now time.Time, userEpoch int64) bool {
	return s.RevokedAt == nil && now.Before(s.ExpiresAt) && s.TokenEpoch == userEpoch
}
