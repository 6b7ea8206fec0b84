package user

import "errors"

var (
	ErrNotFound           = errors.New("user not found")
	ErrUsernameTaken      = errors.New("username is already in use")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrInvalidAccessCode  = errors.New("access code is incorrect")
	ErrInvalidSession     = errors.New("session is invalid")
)

type Role int

const (
	RoleAdmin    Role = 1
	RoleProducer Role = 2
	RoleConsumer Role = 3
)

// ParseRole maps a role name to its Role, returning 0 for unknown names.
func ParseRole(name string) Role {
	switch name {
	case "admin":
		return RoleAdmin
	case "producer":
		return RoleProducer
	case "consumer":
		return RoleConsumer
	}
	return 0
}

type User struct {
	Username     string `json:"username"`
	PasswordHash string `json:"-"`
	Role         Role   `json:"role"`
	DisplayName  string `json:"display_name"`
}

// DisplayInfo is what other room members get to see about a user.
type DisplayInfo struct {
	Username    string `json:"username"`
	Role        Role   `json:"role"`
	DisplayName string `json:"display_name"`
}

func (u *User) DisplayInfo() DisplayInfo {
	return DisplayInfo{Username: u.Username, Role: u.Role, DisplayName: u.DisplayName}
}

// Session is the identity a connection or request acts as.
type Session struct {
	UserID      string
	DisplayName string
	Role        Role
	Active      bool
}

type SignupRequest struct {
	Username    string `json:"username"`
	Password    string `json:"password"`
	DisplayName string `json:"display_name"`
	AccessCode  string `json:"access_code"`
}

type SigninRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Username    string `json:"username"`
	DisplayName string `json:"display_name"`
	Role        Role   `json:"role"`
}
