package user

import "time"

type User struct {
	ID           string    `json:"id"`
	Username     string    `json:"username"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Session is an opaque bearer token with an expiry. The token value is the
// only credential the HTTP layer sees after login.
type Session struct {
	Token     string
	UserID    string
	ExpiresAt time.Time
	CreatedAt time.Time
}

// RegisterRequest payload of registration.
// swagger:model RegisterRequest
type RegisterRequest struct {
	Username string `json:"username" example:"mike"`
	Email    string `json:"email"    example:"mike@example.com"`
	Password string `json:"password" example:"s3cret"`
}

// LoginRequest payload of login.
// swagger:model LoginRequest
type LoginRequest struct {
	Email    string `json:"email"    example:"mike@example.com"`
	Password string `json:"password" example:"s3cret"`
}

// LoginResponse carries the session token.
// swagger:model LoginResponse
type LoginResponse struct {
	Token string `json:"token"`
	User  User   `json:"user"`
}
