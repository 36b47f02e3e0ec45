// Package auth signs class representatives up and in.
//
// Accounts live in Firebase Authentication; each account has a profile
// document in the Users collection of the same project. Every call returns
// a Result instead of an error so callers can switch on the three outcomes.
package auth

import (
	"context"
	"errors"
	"log"
	"net"
	"os"
	"strings"

	"github.com/rollcall-dev/rollcall/internal/roster/mirror"
	"github.com/rollcall-dev/rollcall/internal/roster/schema"
)

// RoleCR is the role given to every account created by SignUp.
const RoleCR = "CR"

// Profile is the Users document of an account.
type Profile struct {
	UID   string `json:"uid" firestore:"uid"`
	Name  string `json:"name" firestore:"name"`
	Email string `json:"email" firestore:"email"`
	Role  string `json:"role" firestore:"role"`
}

// ErrProfileNotFound is returned by a Backend when an account has no profile.
var ErrProfileNotFound = errors.New("profile not found")

// Backend is the account store behind a Service.
type Backend interface {
	CreateUser(ctx context.Context, name, email, password string) (uid string, err error)
	VerifyIDToken(ctx context.Context, idToken string) (uid string, err error)
	SaveProfile(ctx context.Context, p *Profile) error
	FetchProfile(ctx context.Context, uid string) (*Profile, error)
}

// Service validates input and maps backend failures onto Results.
type Service struct {
	backend Backend
	logger  *log.Logger

	// reason turns a backend-specific refusal into a user-facing message.
	// It returns "" when err is not recognized.
	reason func(error) string
}

// NewService creates a Service. If logger is nil, a default logger writing
// to stderr is used.
func NewService(backend Backend, logger *log.Logger) *Service {
	if logger == nil {
		logger = log.New(os.Stderr, "[auth] ", log.LstdFlags)
	}
	return &Service{backend: backend, logger: logger, reason: firebaseReason}
}

// SignUp creates an account and stores its CR profile.
func (s *Service) SignUp(ctx context.Context, name, email, password string) Result {
	name = strings.TrimSpace(name)
	email = strings.TrimSpace(email)
	if r, ok := validateSignUp(name, email, password); !ok {
		return r
	}

	uid, err := s.backend.CreateUser(ctx, name, email, password)
	if err != nil {
		s.logger.Printf("Signup failed for %s: %v", email, err)
		return s.classify(err, "Signup failed")
	}

	profile := &Profile{UID: uid, Name: name, Email: email, Role: RoleCR}
	if err := s.backend.SaveProfile(ctx, profile); err != nil {
		s.logger.Printf("Failed to persist profile %s: %v", uid, err)
		return s.classify(err, "Signup failed")
	}
	return Success{UID: uid, Profile: profile}
}

// Login verifies a Firebase ID token issued to a client and loads the
// account's profile. A missing profile is not an error.
func (s *Service) Login(ctx context.Context, idToken string) Result {
	idToken = strings.TrimSpace(idToken)
	if idToken == "" {
		return Invalid{Reason: "ID token cannot be empty."}
	}

	uid, err := s.backend.VerifyIDToken(ctx, idToken)
	if err != nil {
		s.logger.Printf("Login failed: %v", err)
		return s.classify(err, "Login failed")
	}

	profile, err := s.backend.FetchProfile(ctx, uid)
	switch {
	case errors.Is(err, ErrProfileNotFound):
		profile = nil
	case err != nil:
		s.logger.Printf("Failed to fetch profile %s: %v", uid, err)
		if isUnavailable(err) {
			return Unavailable{Err: err}
		}
		profile = nil
	}
	return Success{UID: uid, Profile: profile}
}

func validateSignUp(name, email, password string) (Result, bool) {
	if schema.ValidateVar(name, "required,alphaspace,max=100") != nil {
		return Invalid{Reason: "Name should contain only alphabets."}, false
	}
	if schema.ValidateVar(email, "required,email") != nil {
		return Invalid{Reason: "Please enter a valid email address."}, false
	}
	if password == "" {
		return Invalid{Reason: "Password cannot be empty."}, false
	}
	if schema.ValidateVar(password, "min=6") != nil {
		return Invalid{Reason: "Password must be at least 6 characters."}, false
	}
	return nil, true
}

func (s *Service) classify(err error, fallback string) Result {
	if isUnavailable(err) {
		return Unavailable{Err: err}
	}
	if s.reason != nil {
		if reason := s.reason(err); reason != "" {
			return Invalid{Reason: reason}
		}
	}
	return Invalid{Reason: fallback + ": " + err.Error()}
}

func isUnavailable(err error) bool {
	if mirror.IsUnavailable(err) || errors.Is(err, context.DeadlineExceeded) || firebaseUnavailable(err) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}
