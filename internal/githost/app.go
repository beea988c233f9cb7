package githost

import (
	"context"
	"crypto/rsa"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	gh "github.com/google/go-github/v82/github"
	"golang.org/x/oauth2"
)

// appJWTLifetime is the validity window of the app-level JWT. GitHub caps it
// at 10 minutes.
const appJWTLifetime = 9 * time.Minute

// AppCredentials holds GitHub App authentication material.
type AppCredentials struct {
	AppID      string
	PrivateKey *rsa.PrivateKey
}

// LoadAppCredentials reads the app id and RS256 private key from the given
// PEM content or file path (exactly one of key/keyPath must be non-empty).
func LoadAppCredentials(appID, key, keyPath string) (*AppCredentials, error) {
	if appID == "" {
		return nil, fmt.Errorf("GITHUB_APP_ID is empty")
	}
	pem := []byte(key)
	if key == "" {
		if keyPath == "" {
			return nil, fmt.Errorf("neither GITHUB_PRIVATE_KEY nor GITHUB_PRIVATE_KEY_PATH is set")
		}
		data, err := os.ReadFile(keyPath)
		if err != nil {
			return nil, fmt.Errorf("reading private key from %s: %w", keyPath, err)
		}
		pem = data
	}
	parsed, err := jwt.ParseRSAPrivateKeyFromPEM(pem)
	if err != nil {
		return nil, fmt.Errorf("parsing GitHub App private key: %w", err)
	}
	return &AppCredentials{AppID: appID, PrivateKey: parsed}, nil
}

// AppJWT mints a short-lived RS256 JWT identifying the app itself.
func (a *AppCredentials) AppJWT(now time.Time) (string, error) {
	claims := jwt.RegisteredClaims{
		Issuer:    a.AppID,
		IssuedAt:  jwt.NewNumericDate(now.Add(-30 * time.Second)),
		ExpiresAt: jwt.NewNumericDate(now.Add(appJWTLifetime)),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	signed, err := token.SignedString(a.PrivateKey)
	if err != nil {
		return "", fmt.Errorf("signing app JWT: %w", err)
	}
	return signed, nil
}

// InstallationTokenSource yields installation access tokens for one
// installation, refreshing shortly before expiry. Implements oauth2.TokenSource.
type InstallationTokenSource struct {
	creds          *AppCredentials
	installationID int64

	mu      sync.Mutex
	current *oauth2.Token
}

// NewInstallationTokenSource returns a caching token source for the given
// installation.
func NewInstallationTokenSource(creds *AppCredentials, installationID int64) *InstallationTokenSource {
	return &InstallationTokenSource{creds: creds, installationID: installationID}
}

// Token returns a valid installation token, minting a new one when the cached
// token is missing or within a minute of expiry.
func (s *InstallationTokenSource) Token() (*oauth2.Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current != nil && time.Until(s.current.Expiry) > time.Minute {
		return s.current, nil
	}

	appJWT, err := s.creds.AppJWT(time.Now())
	if err != nil {
		return nil, err
	}

	appClient := gh.NewClient(nil).WithAuthToken(appJWT)
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()
	tok, _, err := appClient.Apps.CreateInstallationToken(ctx, s.installationID, nil)
	if err != nil {
		return nil, fmt.Errorf("creating installation token: %w", err)
	}

	s.current = &oauth2.Token{
		AccessToken: tok.GetToken(),
		Expiry:      tok.GetExpiresAt().Time,
	}
	return s.current, nil
}

// ListInstallations returns all installations visible to the app.
func ListInstallations(ctx context.Context, creds *AppCredentials) ([]*gh.Installation, error) {
	appJWT, err := creds.AppJWT(time.Now())
	if err != nil {
		return nil, err
	}
	client := gh.NewClient(nil).WithAuthToken(appJWT)

	var all []*gh.Installation
	opts := &gh.ListOptions{PerPage: 100}
	for {
		installs, resp, err := client.Apps.ListInstallations(ctx, opts)
		if err != nil {
			return nil, fmt.Errorf("listing installations: %w", err)
		}
		all = append(all, installs...)
		if resp.NextPage == 0 {
			return all, nil
		}
		opts.Page = resp.NextPage
	}
}
