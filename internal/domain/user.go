package domain

import "time"

// User is the authenticating principal.
type User struct {
	ID             int64
	Email          string
	PasswordHash   string
	OTPSecret      string
	Enabled        bool
	LoginPermitted bool
	EmailVerified  bool
	CreatedAt      time.Time
	UpdatedAt      time.Time
}
