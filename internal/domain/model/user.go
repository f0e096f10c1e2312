package model

import (
	"strings"
	"time"

	"codepolish/internal/domain"
)

type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

// User is an identity record created from an OAuth login.
type User struct {
	ID           int64     `json:"id"`
	OpenID       string    `json:"openId"`
	Name         string    `json:"name"`
	Email        string    `json:"email"`
	LoginMethod  string    `json:"loginMethod"`
	Role         Role      `json:"role"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
	LastSignedIn time.Time `json:"lastSignedIn"`
}

func NewUser(openID, name, email, loginMethod string) (*User, error) {
	openID = strings.TrimSpace(openID)
	if openID == "" || len(openID) > 64 {
		return nil, domain.ErrInvalidArgument
	}
	now := time.Now()
	return &User{
		OpenID:       openID,
		Name:         strings.TrimSpace(name),
		Email:        strings.ToLower(strings.TrimSpace(email)),
		LoginMethod:  loginMethod,
		Role:         RoleUser,
		CreatedAt:    now,
		UpdatedAt:    now,
		LastSignedIn: now,
	}, nil
}

func (u *User) IsZero() bool  { return u == nil || u.ID == 0 }
func (u *User) IsAdmin() bool { return u != nil && u.Role == RoleAdmin }
func (u *User) Touch()        { u.LastSignedIn = time.Now(); u.UpdatedAt = u.LastSignedIn }
