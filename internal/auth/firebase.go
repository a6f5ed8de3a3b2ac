package auth

import (
	"context"
	"fmt"

	firebase "firebase.google.com/go/v4"
	fbauth "firebase.google.com/go/v4/auth"
	"google.golang.org/api/iterator"
)

// FirebaseIdentity implements TokenVerifier and Directory against
// Firebase Authentication.
type FirebaseIdentity struct {
	client *fbauth.Client
}

func NewFirebaseIdentity(ctx context.Context, projectID string) (*FirebaseIdentity, error) {
	var conf *firebase.Config
	if projectID != "" {
		conf = &firebase.Config{ProjectID: projectID}
	}
	app, err := firebase.NewApp(ctx, conf)
	if err != nil {
		return nil, fmt.Errorf("initializing identity provider app: %w", err)
	}
	client, err := app.Auth(ctx)
	if err != nil {
		return nil, fmt.Errorf("initializing identity provider client: %w", err)
	}
	return &FirebaseIdentity{client: client}, nil
}

func (f *FirebaseIdentity) VerifyIDToken(ctx context.Context, idToken string) (*Claims, error) {
	token, err := f.client.VerifyIDToken(ctx, idToken)
	if err != nil {
		return nil, fmt.Errorf("verifying id token: %w", err)
	}
	email, _ := token.Claims["email"].(string)
	verified, _ := token.Claims["email_verified"].(bool)
	return &Claims{
		UID:           token.UID,
		Email:         email,
		EmailVerified: verified,
		Custom:        token.Claims,
	}, nil
}

func (f *FirebaseIdentity) GetUser(ctx context.Context, uid string) (*UserRecord, error) {
	record, err := f.client.GetUser(ctx, uid)
	if err != nil {
		return nil, fmt.Errorf("fetching user %s: %w", uid, err)
	}
	return fromFirebaseUser(record), nil
}

func (f *FirebaseIdentity) GetUserByEmail(ctx context.Context, email string) (*UserRecord, error) {
	record, err := f.client.GetUserByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("fetching user by email: %w", err)
	}
	return fromFirebaseUser(record), nil
}

func (f *FirebaseIdentity) SetCustomClaims(ctx context.Context, uid string, claims map[string]any) error {
	if err := f.client.SetCustomUserClaims(ctx, uid, claims); err != nil {
		return fmt.Errorf("setting custom claims for %s: %w", uid, err)
	}
	return nil
}

func (f *FirebaseIdentity) ListUsers(ctx context.Context, pageToken string, pageSize int) ([]*UserRecord, string, error) {
	pager := iterator.NewPager(f.client.Users(ctx, ""), pageSize, pageToken)
	var page []*fbauth.ExportedUserRecord
	next, err := pager.NextPage(&page)
	if err != nil {
		return nil, "", fmt.Errorf("listing users: %w", err)
	}
	out := make([]*UserRecord, 0, len(page))
	for _, exported := range page {
		out = append(out, fromFirebaseUser(exported.UserRecord))
	}
	return out, next, nil
}

func fromFirebaseUser(record *fbauth.UserRecord) *UserRecord {
	return &UserRecord{
		UID:           record.UID,
		Email:         record.Email,
		EmailVerified: record.EmailVerified,
		CustomClaims:  record.CustomClaims,
	}
}
