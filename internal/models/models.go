package models

import "time"

// Credential is the stored OAuth grant for one identity token. All fields are
// written together; a record is never partially updated.
type Credential struct {
	IdentityToken string
	AccessSecret  string
	RefreshSecret string
	ExpiresAt     time.Time
}

// Expired reports whether the access secret can no longer be used at now.
func (c Credential) Expired(now time.Time) bool {
	return !now.Before(c.ExpiresAt)
}

// Activity is a single upstream activity. StartTime, ElapsedTime and Distance
// may be missing from upstream data.
type Activity struct {
	ID          int64
	Name        string
	Description *string
	StartTime   *time.Time
	ElapsedTime *time.Duration
	// Distance in meters.
	Distance *float64
}

// Athlete is the account profile returned alongside an authorization grant.
type Athlete struct {
	ID        int64  `json:"id"`
	Username  string `json:"username,omitempty"`
	FirstName string `json:"firstname,omitempty"`
	LastName  string `json:"lastname,omitempty"`
}

// Grant groups the secrets issued by the upstream provider on a code or refresh exchange.
type Grant struct {
	AccessSecret  string
	RefreshSecret string
	ExpiresAt     time.Time
	Athlete       *Athlete
}
