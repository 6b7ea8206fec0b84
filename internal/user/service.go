package user

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

const tokenIssuer = "crisisflow"

type Service struct {
	repo        *Repository
	directory   Directory
	jwtSecret   []byte
	tokenTTL    time.Duration
	accessCodes map[string]Role
	now         func() time.Time
}

type SessionClaims struct {
	Username    string `json:"username"`
	DisplayName string `json:"display_name"`
	Role        Role   `json:"role"`
	jwt.RegisteredClaims
}

// NewService wires sign-up and sign-in. accessCodes maps the code a new
// user must present to the role they receive.
func NewService(repo *Repository, directory Directory, secret string, tokenTTL time.Duration, accessCodes map[string]Role) *Service {
	return &Service{
		repo:        repo,
		directory:   directory,
		jwtSecret:   []byte(secret),
		tokenTTL:    tokenTTL,
		accessCodes: accessCodes,
		now:         time.Now,
	}
}

func (s *Service) roleFor(code string) Role {
	for candidate, role := range s.accessCodes {
		if subtle.ConstantTimeCompare([]byte(candidate), []byte(code)) == 1 {
			return role
		}
	}
	return 0
}

func (s *Service) Register(ctx context.Context, req *SignupRequest) (*User, error) {
	username := strings.TrimSpace(req.Username)
	if username == "" || req.Password == "" {
		return nil, fmt.Errorf("%w: username and password are required", ErrInvalidCredentials)
	}

	role := s.roleFor(req.AccessCode)
	if role == 0 {
		return nil, ErrInvalidAccessCode
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}

	displayName := strings.TrimSpace(req.DisplayName)
	if displayName == "" {
		displayName = username
	}

	u := &User{
		Username:     username,
		PasswordHash: string(hashed),
		Role:         role,
		DisplayName:  displayName,
	}
	if err := s.repo.CreateUser(ctx, u); err != nil {
		return nil, err
	}

	if s.directory != nil {
		s.directory.Invalidate(ctx)
	}
	return u, nil
}

func (s *Service) Login(ctx context.Context, req *SigninRequest) (*LoginResponse, error) {
	u, err := s.repo.GetUserByUsername(ctx, req.Username)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(req.Password)); err != nil {
		return nil, ErrInvalidCredentials
	}

	token, err := s.IssueToken(u)
	if err != nil {
		return nil, err
	}

	return &LoginResponse{
		AccessToken: token,
		Username:    u.Username,
		DisplayName: u.DisplayName,
		Role:        u.Role,
	}, nil
}

// IssueToken signs a session token for u.
func (s *Service) IssueToken(u *User) (string, error) {
	now := s.now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, SessionClaims{
		Username:    u.Username,
		DisplayName: u.DisplayName,
		Role:        u.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    tokenIssuer,
			Subject:   u.Username,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.tokenTTL)),
		},
	})
	return token.SignedString(s.jwtSecret)
}

// ValidateToken resolves a signed session token into a Session.
func (s *Service) ValidateToken(tokenString string) (*Session, error) {
	claims := &SessionClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		return s.jwtSecret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(tokenIssuer),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil || !token.Valid {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSession, err)
	}
	if claims.Username == "" {
		return nil, ErrInvalidSession
	}

	return &Session{
		UserID:      claims.Username,
		DisplayName: claims.DisplayName,
		Role:        claims.Role,
		Active:      true,
	}, nil
}

func (s *Service) UsersByID(ctx context.Context) (map[string]DisplayInfo, error) {
	if s.directory != nil {
		return s.directory.UsersByID(ctx)
	}
	return s.repo.GetAll(ctx)
}
