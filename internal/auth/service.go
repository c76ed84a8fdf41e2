package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"model_registry/internal/models"
	"model_registry/internal/storage"

	"github.com/google/uuid"
)

var (
	// ErrBadCredentials is returned when a login does not match a user.
	ErrBadCredentials = errors.New("bad credentials")

	// ErrUserExists is returned when signing up with a taken email.
	ErrUserExists = errors.New("email exists")

	// ErrInvalidSignup is returned for empty emails or passwords.
	ErrInvalidSignup = errors.New("email and password are required")
)

// Service manages accounts and sessions.
type Service struct {
	users  storage.UserStore
	tokens *TokenIssuer
}

// NewService creates an account service.
func NewService(users storage.UserStore, tokens *TokenIssuer) *Service {
	return &Service{users: users, tokens: tokens}
}

// Tokens returns the issuer used for sessions.
func (s *Service) Tokens() *TokenIssuer { return s.tokens }

// Signup creates a user whose username is its email and returns a token.
func (s *Service) Signup(ctx context.Context, email, password string) (string, error) {
	email = strings.TrimSpace(email)
	if email == "" || password == "" {
		return "", ErrInvalidSignup
	}

	u, err := s.CreateUser(ctx, email, email, password)
	if err != nil {
		return "", err
	}

	token, _, err := s.tokens.Issue(u.ID)
	return token, err
}

// CreateUser stores a new account with a hashed password.
func (s *Service) CreateUser(ctx context.Context, email, username, password string) (*models.User, error) {
	hash, err := HashPassword(password)
	if err != nil {
		return nil, err
	}

	u := &models.User{Email: email, Username: username, PasswordHash: hash}
	if err := s.users.Create(ctx, u); err != nil {
		if errors.Is(err, storage.ErrDuplicate) {
			return nil, ErrUserExists
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}
	return u, nil
}

// Login checks a username and password and returns a session token.
func (s *Service) Login(ctx context.Context, username, password string) (string, time.Time, error) {
	u, err := s.users.GetByUsername(ctx, username)
	if errors.Is(err, storage.ErrUserNotFound) {
		return "", time.Time{}, ErrBadCredentials
	}
	if err != nil {
		return "", time.Time{}, err
	}

	ok, err := VerifyPassword(password, u.PasswordHash)
	if err != nil || !ok {
		return "", time.Time{}, ErrBadCredentials
	}

	return s.tokens.Issue(u.ID)
}

// Authenticate verifies a token and returns its user ID.
func (s *Service) Authenticate(token string) (uuid.UUID, error) {
	return s.tokens.Verify(token)
}
