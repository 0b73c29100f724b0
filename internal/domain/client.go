package domain

import "time"

// AuthorizationClient is a registered caller identity. Clients are provisioned
// once from the configured allow-list and are immutable afterwards.
type AuthorizationClient struct {
	ID           int64
	Name         string
	ClientID     string
	ClientSecret string
	CreatedAt    time.Time
}
