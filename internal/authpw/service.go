// Package authpw provides email/password authentication.
package authpw

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"flowdesk/api/internal/store"
	"flowdesk/api/internal/util"
)

var (
	// ErrInvalidCredentials is returned on a failed sign-in. The message is
	// the same whether the email or the password was wrong.
	ErrInvalidCredentials = errors.New("invalid email or password")

	// ErrEmailTaken is returned when registering with an email that
	// already has an account.
	ErrEmailTaken = errors.New("email already registered")

	// ErrWeakPassword is returned when a password fails the length check.
	ErrWeakPassword = errors.New("password must be at least 8 characters")

	// ErrMissingFields is returned when required request fields are empty.
	ErrMissingFields = errors.New("name, email, and password are required")

	// ErrWrongPassword is returned when a profile update supplies the
	// wrong current password.
	ErrWrongPassword = errors.New("current password is incorrect")
)

// presenceColors is the palette new accounts cycle through for their
// presence avatar.
var presenceColors = []string{"#3B82F6", "#10B981", "#F59E0B", "#EF4444", "#8B5CF6", "#EC4899"}

// UserStore defines the storage interface for auth.
type UserStore interface {
	GetUserByEmail(ctx context.Context, email string) (store.User, error)
	GetUserByID(ctx context.Context, id string) (store.User, error)
	CreateUser(ctx context.Context, user store.User) error
	UpdateUser(ctx context.Context, user store.User) (store.User, error)
}

// Service provides email/password authentication.
type Service struct {
	store UserStore
}

// NewService creates a new auth service.
func NewService(users UserStore) *Service {
	return &Service{store: users}
}

// SignUpRequest contains sign-up parameters.
type SignUpRequest struct {
	Name     string
	Email    string
	Password string
}

// SignUp creates a new user account.
func (s *Service) SignUp(ctx context.Context, req SignUpRequest) (store.User, error) {
	req.Name = strings.TrimSpace(req.Name)
	req.Email = strings.TrimSpace(req.Email)
	if req.Name == "" || req.Email == "" || req.Password == "" {
		return store.User{}, ErrMissingFields
	}
	if len(req.Password) < 8 {
		return store.User{}, ErrWeakPassword
	}

	if _, err := s.store.GetUserByEmail(ctx, req.Email); err == nil {
		return store.User{}, ErrEmailTaken
	}

	hash, err := HashPassword(req.Password)
	if err != nil {
		return store.User{}, err
	}

	now := time.Now()
	user := store.User{
		ID:           util.NewID("usr"),
		Name:         req.Name,
		Email:        strings.ToLower(req.Email),
		PasswordHash: hash,
		Color:        pickColor(req.Email),
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := s.store.CreateUser(ctx, user); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return store.User{}, ErrEmailTaken
		}
		return store.User{}, fmt.Errorf("create user: %w", err)
	}
	return user, nil
}

// SignIn authenticates a user by email and password.
func (s *Service) SignIn(ctx context.Context, email, password string) (store.User, error) {
	if email == "" || password == "" {
		return store.User{}, ErrInvalidCredentials
	}

	user, err := s.store.GetUserByEmail(ctx, email)
	if err != nil {
		return store.User{}, ErrInvalidCredentials
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return store.User{}, ErrInvalidCredentials
	}
	return user, nil
}

// UpdateProfileRequest contains profile update parameters. Password
// fields are optional; both must be present to change the password.
type UpdateProfileRequest struct {
	UserID          string
	Name            string
	Email           string
	CurrentPassword string
	NewPassword     string
}

// UpdateProfile changes a user's name, email, and optionally password.
// A password change requires the current password to match.
func (s *Service) UpdateProfile(ctx context.Context, req UpdateProfileRequest) (store.User, error) {
	user, err := s.store.GetUserByID(ctx, req.UserID)
	if err != nil {
		return store.User{}, err
	}

	if name := strings.TrimSpace(req.Name); name != "" {
		user.Name = name
	}
	if email := strings.TrimSpace(req.Email); email != "" {
		user.Email = strings.ToLower(email)
	}

	if req.NewPassword != "" {
		if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.CurrentPassword)); err != nil {
			return store.User{}, ErrWrongPassword
		}
		if len(req.NewPassword) < 8 {
			return store.User{}, ErrWeakPassword
		}
		hash, err := HashPassword(req.NewPassword)
		if err != nil {
			return store.User{}, err
		}
		user.PasswordHash = hash
	}

	updated, err := s.store.UpdateUser(ctx, user)
	if errors.Is(err, store.ErrConflict) {
		return store.User{}, ErrEmailTaken
	}
	if err != nil {
		return store.User{}, fmt.Errorf("update profile: %w", err)
	}
	return updated, nil
}

// HashPassword hashes a password with bcrypt at the default cost.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}

// pickColor assigns a stable palette color from the email so the same
// account always gets the same avatar color.
func pickColor(email string) string {
	var sum int
	for _, r := range strings.ToLower(email) {
		sum += int(r)
	}
	return presenceColors[sum%len(presenceColors)]
}
