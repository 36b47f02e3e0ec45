package auth

import (
	"context"
	"fmt"

	"cloud.google.com/go/firestore"
	firebase "firebase.google.com/go/v4"
	fbauth "firebase.google.com/go/v4/auth"
	"firebase.google.com/go/v4/errorutils"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// UsersCollection holds one profile document per account, keyed by uid.
const UsersCollection = "Users"

// FirebaseBackend keeps accounts in Firebase Authentication and profiles in
// Firestore.
type FirebaseBackend struct {
	auth  *fbauth.Client
	store *firestore.Client
}

var _ Backend = (*FirebaseBackend)(nil)

// NewFirebaseBackend builds the auth and Firestore clients of app.
func NewFirebaseBackend(ctx context.Context, app *firebase.App) (*FirebaseBackend, error) {
	authClient, err := app.Auth(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create auth client: %w", err)
	}
	store, err := app.Firestore(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create firestore client: %w", err)
	}
	return &FirebaseBackend{auth: authClient, store: store}, nil
}

func (b *FirebaseBackend) CreateUser(ctx context.Context, name, email, password string) (string, error) {
	params := (&fbauth.UserToCreate{}).
		Email(email).
		Password(password).
		DisplayName(name)
	user, err := b.auth.CreateUser(ctx, params)
	if err != nil {
		return "", err
	}
	return user.UID, nil
}

func (b *FirebaseBackend) VerifyIDToken(ctx context.Context, idToken string) (string, error) {
	token, err := b.auth.VerifyIDToken(ctx, idToken)
	if err != nil {
		return "", err
	}
	return token.UID, nil
}

func (b *FirebaseBackend) SaveProfile(ctx context.Context, p *Profile) error {
	_, err := b.store.Collection(UsersCollection).Doc(p.UID).Set(ctx, p)
	return err
}

func (b *FirebaseBackend) FetchProfile(ctx context.Context, uid string) (*Profile, error) {
	snap, err := b.store.Collection(UsersCollection).Doc(uid).Get(ctx)
	if status.Code(err) == codes.NotFound {
		return nil, ErrProfileNotFound
	}
	if err != nil {
		return nil, err
	}
	var p Profile
	if err := snap.DataTo(&p); err != nil {
		return nil, fmt.Errorf("failed to decode profile %s: %w", uid, err)
	}
	return &p, nil
}

// Close releases the Firestore client.
func (b *FirebaseBackend) Close() error {
	return b.store.Close()
}

func firebaseUnavailable(err error) bool {
	if errorutils.IsUnavailable(err) || errorutils.IsDeadlineExceeded(err) {
		return true
	}
	switch status.Code(err) {
	case codes.Unavailable, codes.DeadlineExceeded:
		return true
	}
	return false
}

func firebaseReason(err error) string {
	switch {
	case fbauth.IsEmailAlreadyExists(err):
		return "The email address is already in use by another account."
	case fbauth.IsIDTokenExpired(err):
		return "Your session has expired. Please sign in again."
	case fbauth.IsIDTokenRevoked(err):
		return "Your session was revoked. Please sign in again."
	case fbauth.IsIDTokenInvalid(err):
		return "The sign-in token is invalid."
	case fbauth.IsUserNotFound(err):
		return "There is no account for these credentials."
	case errorutils.IsInvalidArgument(err):
		return "The request was rejected as invalid."
	}
	return ""
}
