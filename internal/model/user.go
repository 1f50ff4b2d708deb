package model

import "time"

const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

// User is the persisted credential record. PasswordHash and Avatar never
// leave the service layer; handlers only see PublicUser.
type User struct {
	ID              string
	Email           string
	PasswordHash    string
	DisplayName     string
	Role            string
	Active          bool
	Avatar          []byte
	AvatarUpdatedAt *time.Time
	TokenEpoch      int64
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

type PublicUser struct {
	ID          string     `json:"id"`
	Email       string     `json:"email"`
	DisplayName string     `json:"display_name,omitempty"`
	Role        string     `json:"role"`
	Active      bool       `json:"active"`
	HasAvatar   bool       `json:"has_avatar"`
	AvatarAt    *time.Time `json:"avatar_updated_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

func (u User) Public() PublicUser {
	return PublicUser{
		ID:          u.ID,
		Email:       u.Email,
		DisplayName: u.DisplayName,
		Role:        u.Role,
		Active:      u.Active,
		HasAvatar:   len(u.Avatar) > 0 || u.AvatarUpdatedAt != nil,
		AvatarAt:    u.AvatarUpdatedAt,
		CreatedAt:   u.CreatedAt,
		UpdatedAt:   u.UpdatedAt,
	}
}

// AuthClaims is the verified content of a signed token. Kind distinguishes
// access tokens from refresh tokens; SessionID is only set on refresh tokens.
type AuthClaims struct {
	UserID    string
	Email     string
	Role      string
	Kind      string
	SessionID string
	TokenID   string
}

type TokenPair struct {
	AccessToken  string     `json:"access_token"`
	RefreshToken string     `json:"refresh_token"`
	TokenType    string     `json:"token_type"`
	ExpiresIn    int64      `json:"expires_in"`
	User         PublicUser `json:"user"`
}
