// Package users provides optional local accounts. A user may keep the
// Xero token set of their last connection so that signing in again
// reconnects without a consent flow.
package users

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/rorycl/xeroinvoiceserver/apierror"
	"github.com/rorycl/xeroinvoiceserver/token"
	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/bcrypt"
)

// Store errors
var (
	ErrNotFound = errors.New("user not found")
	ErrExists   = errors.New("user already exists")
)

// User is a local account. Password holds a bcrypt hash.
type User struct {
	FirstName string     `json:"fname"`
	LastName  string     `json:"lname"`
	Email     string     `json:"email"`
	Password  string     `json:"password"`
	TokenSet  *token.Set `json:"tokenSet,omitempty"`
}

// Store persists users keyed by normalised email address
type Store interface {
	Get(ctx context.Context, email string) (User, error)
	// Create stores u, or returns ErrExists if its email is taken
	Create(ctx context.Context, u User) error
	// Update replaces the user with fn's result, atomically with
	// respect to other writers
	Update(ctx context.Context, email string, fn func(User) (User, error)) error
}

// NormaliseEmail is the store key of an email address
func NormaliseEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// SignUpInput is a new account
type SignUpInput struct {
	FirstName string `json:"fname" validate:"required"`
	LastName  string `json:"lname"`
	Email     string `json:"email" validate:"required,email"`
	Password  string `json:"password" validate:"required,min=8"`
}

// Service signs users up and in
type Service struct {
	store    Store
	cost     int
	validate *validator.Validate
}

// Option configures a Service
type Option func(*Service)

// WithCost sets the bcrypt cost
func WithCost(cost int) Option {
	return func(s *Service) { s.cost = cost }
}

// NewService returns a Service over store
func NewService(store Store, opts ...Option) *Service {
	s := &Service{
		store:    store,
		cost:     bcrypt.DefaultCost,
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// SignUp creates an account. An existing email is rejected with
// EmailTaken and nothing is written.
func (s *Service) SignUp(ctx context.Context, in SignUpInput) (User, error) {
	in.Email = NormaliseEmail(in.Email)
	if err := s.validate.Struct(in); err != nil {
		return User{}, apierror.Wrap(apierror.InvalidInput, err, "first name, a valid email and a password of at least 8 characters are required")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), s.cost)
	if err != nil {
		return User{}, fmt.Errorf("hashing password: %w", err)
	}
	u := User{
		FirstName: strings.TrimSpace(in.FirstName),
		LastName:  strings.TrimSpace(in.LastName),
		Email:     in.Email,
		Password:  string(hash),
	}
	if err := s.store.Create(ctx, u); err != nil {
		if errors.Is(err, ErrExists) {
			return User{}, apierror.Wrap(apierror.EmailTaken, err, "an account with this email already exists")
		}
		return User{}, err
	}
	log.Info().Str("email", u.Email).Msg("user signed up")
	return u, nil
}

// SignIn checks a password. Unknown emails and wrong passwords are not
// distinguished.
func (s *Service) SignIn(ctx context.Context, email, password string) (User, error) {
	u, err := s.store.Get(ctx, NormaliseEmail(email))
	if errors.Is(err, ErrNotFound) {
		return User{}, apierror.New(apierror.InvalidCredentials, "email or password incorrect")
	}
	if err != nil {
		return User{}, err
	}
	if bcrypt.CompareHashAndPassword([]byte(u.Password), []byte(password)) != nil {
		return User{}, apierror.New(apierror.InvalidCredentials, "email or password incorrect")
	}
	return u, nil
}

// AttachTokenSet stores set on the user's record; a zero set clears it
func (s *Service) AttachTokenSet(ctx context.Context, email string, set token.Set) error {
	err := s.store.Update(ctx, NormaliseEmail(email), func(u User) (User, error) {
		if set.IsZero() {
			u.TokenSet = nil
		} else {
			u.TokenSet = &set
		}
		return u, nil
	})
	if errors.Is(err, ErrNotFound) {
		return apierror.Wrap(apierror.NotFound, err, "no such user")
	}
	return err
}
