package types

import "time"

// User represents an account in the system.
// It contains identity, credentials, profile fields, and audit metadata.
type User struct {
	// ID is the opaque unique identifier of the user.
	ID string `json:"id" db:"id"`

	// Name is the user's display name (at most 20 characters).
	Name string `json:"name" db:"name"`

	// Email is the user's unique email address. Guest accounts carry a
	// generated address under the guest domain.
	Email string `json:"email" db:"email"`

	// PasswordHash stores the bcrypt hash of the user's password.
	// This field is never exposed in API responses.
	PasswordHash string `json:"-" db:"password_hash"`

	// IsGuest marks auto-provisioned accounts that can later be converted
	// into full accounts.
	IsGuest bool `json:"isGuest" db:"is_guest"`

	// ProfilePicture is the URL of the user's avatar. Empty means unset.
	ProfilePicture string `json:"profilePicture,omitempty" db:"profile_picture"`

	// Phone is the user's optional contact number.
	Phone string `json:"phone,omitempty" db:"phone"`

	// Rating is the user's reputation score.
	Rating float64 `json:"rating" db:"rating"`

	// CreatedAt is the timestamp when the account was created.
	CreatedAt time.Time `json:"createdAt" db:"created_at"`

	// UpdatedAt is the timestamp of the most recent change to the account.
	UpdatedAt time.Time `json:"updatedAt" db:"updated_at"`
}

// PublicUser is the subset of user fields returned by the auth endpoints.
type PublicUser struct {
	Name    string `json:"name"`
	Email   string `json:"email"`
	IsGuest bool   `json:"isGuest"`
}

// Public returns the auth-facing view of the user.
func (u User) Public() PublicUser {
	return PublicUser{Name: u.Name, Email: u.Email, IsGuest: u.IsGuest}
}

// Profile is the user's own view of their account, including the number of
// reports they have submitted.
type Profile struct {
	ID             string  `json:"id"`
	Name           string  `json:"name"`
	Email          string  `json:"email"`
	Phone          string  `json:"phone"`
	ProfilePicture string  `json:"profilePicture"`
	IsGuest        bool    `json:"isGuest"`
	Rating         float64 `json:"rating"`
	Reports        int     `json:"reports"`
}

// ProfileUpdate carries a partial profile change. Each field distinguishes
// "not sent" from "sent as null" from "sent with a value".
type ProfileUpdate struct {
	Name           Optional[string] `json:"name"`
	Email          Optional[string] `json:"email"`
	Phone          Optional[string] `json:"phone"`
	ProfilePicture Optional[string] `json:"profilePicture"`
}
