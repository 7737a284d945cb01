package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// defaultUserinfoURL is Google's OAuth2 userinfo endpoint, the provider
// the web UI signs in with.
const defaultUserinfoURL = "https://www.googleapis.com/oauth2/v2/userinfo"

// UserinfoVerifier validates an OAuth2 access token by calling the
// provider's userinfo endpoint. Any OIDC-compatible provider works as long
// as the response carries id, email and name fields.
type UserinfoVerifier struct {
	url    string
	client *http.Client
}

// NewUserinfoVerifier creates a verifier against the given userinfo URL.
// An empty url selects Google.
func NewUserinfoVerifier(url string) *UserinfoVerifier {
	if url == "" {
		url = defaultUserinfoURL
	}
	return &UserinfoVerifier{
		url:    url,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// Verify implements IdentityVerifier.
func (v *UserinfoVerifier) Verify(ctx context.Context, credential string) (*Identity, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, v.url, nil)
	if err != nil {
		return nil, fmt.Errorf("build userinfo request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+credential)

	resp, err := v.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("userinfo request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return nil, ErrIdentityRejected
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("userinfo endpoint returned %d", resp.StatusCode)
	}

	var info struct {
		ID    string `json:"id"`
		Sub   string `json:"sub"`
		Email string `json:"email"`
		Name  string `json:"name"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return nil, fmt.Errorf("decode userinfo response: %w", err)
	}

	subject := info.Sub
	if subject == "" {
		subject = info.ID
	}
	if subject == "" || info.Email == "" {
		return nil, ErrIdentityRejected
	}
	return &Identity{Subject: subject, Email: info.Email, Name: info.Name}, nil
}
