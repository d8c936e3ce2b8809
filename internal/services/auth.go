package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"fleet-sync/internal/models"
	"fleet-sync/internal/operations"
	"fleet-sync/internal/repository"
	"fleet-sync/pkg/jwt"

	"github.com/golang/glog"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrNotAuthenticated   = errors.New("not authenticated")
	ErrTokenExpired       = errors.New("token expired")
)

type AuthService struct {
	users   repository.Users
	jwtUtil *jwt.JWTUtil

	mu      sync.Mutex
	revoked map[string]time.Time
}

func NewAuthService(users repository.Users, jwtUtil *jwt.JWTUtil) *AuthService {
	return &AuthService{
		users:   users,
		jwtUtil: jwtUtil,
		revoked: make(map[string]time.Time),
	}
}

func (s *AuthService) Login(ctx context.Context, email, password string) (operations.AuthPayload, error) {
	user, err := s.users.ByEmail(ctx, email)
	if errors.Is(err, repository.ErrNotFound) {
		return operations.AuthPayload{}, ErrInvalidCredentials
	}
	if err != nil {
		return operations.AuthPayload{}, err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(password)); err != nil {
		return operations.AuthPayload{}, ErrInvalidCredentials
	}

	token, err := s.jwtUtil.GenerateToken(user.ID, user.Email, user.Role, user.OrganizationID)
	if err != nil {
		return operations.AuthPayload{}, fmt.Errorf("failed to generate token: %w", err)
	}

	return operations.AuthPayload{Token: token, Identity: user.Identity}, nil
}

// Authenticate returns the claims of a valid, unrevoked token.
func (s *AuthService) Authenticate(token string) (*jwt.Claims, error) {
	if token == "" {
		return nil, ErrNotAuthenticated
	}

	claims, err := s.jwtUtil.ValidateToken(token)
	if jwt.IsExpired(err) {
		return nil, ErrTokenExpired
	}
	if err != nil {
		return nil, ErrNotAuthenticated
	}

	s.mu.Lock()
	_, revoked := s.revoked[token]
	s.mu.Unlock()
	if revoked {
		return nil, ErrNotAuthenticated
	}
	return claims, nil
}

// Logout revokes token until it would have expired anyway.
func (s *AuthService) Logout(token string) {
	expiry, ok := jwt.ExpiresAt(token)
	if !ok {
		return
	}

	s.mu.Lock()
	s.revoked[token] = expiry
	s.mu.Unlock()
}

// PruneRevoked forgets revoked tokens that have expired since and returns
// how many were dropped.
func (s *AuthService) PruneRevoked() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	pruned := 0
	for t, exp := range s.revoked {
		if now.After(exp) {
			delete(s.revoked, t)
			pruned++
		}
	}
	return pruned, nil
}

func (s *AuthService) Identity(ctx context.Context, id string) (models.Identity, error) {
	user, err := s.users.ByID(ctx, id)
	if err != nil {
		return models.Identity{}, err
	}
	return user.Identity, nil
}

// EnsureUser creates the account unless one exists with the same email.
func (s *AuthService) EnsureUser(ctx context.Context, identity models.Identity, password string) error {
	if _, err := s.users.ByEmail(ctx, identity.Email); err == nil {
		return nil
	} else if !errors.Is(err, repository.ErrNotFound) {
		return err
	}

	hash, err := HashPassword(password)
	if err != nil {
		return err
	}
	user, err := s.users.Create(ctx, models.User{Identity: identity, Password: hash})
	if err != nil {
		return err
	}
	glog.Infof("Created user %s (%s)", user.Email, user.ID)
	return nil
}

func HashPassword(password string) (string, error) {
	hashedBytes, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hashedBytes), nil
}
