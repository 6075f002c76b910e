package googleauth

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	DefaultUserInfoURL = "https://www.googleapis.com/oauth2/v3/userinfo"

	defaultTokenTTL = 24 * time.Hour
)

// User is the verified identity returned by a token exchange.
type User struct {
	UID           string `json:"uid"`
	Email         string `json:"email"`
	DisplayName   string `json:"displayName"`
	PhotoURL      string `json:"photoURL,omitempty"`
	EmailVerified bool   `json:"emailVerified"`
}

// userInfoResponse is the shape returned by Google's userinfo endpoint.
type userInfoResponse struct {
	Sub           string `json:"sub"`
	Email         string `json:"email"`
	Name          string `json:"name"`
	Picture       string `json:"picture"`
	EmailVerified bool   `json:"email_verified"`
}

// SessionClaims is the signed payload of an application session token.
type SessionClaims struct {
	UID       string `json:"uid"`
	Email     string `json:"email"`
	ExpiresAt int64  `json:"exp"`
}

// Verifier exchanges Google access tokens for application session tokens.
// The access token is verified against Google's userinfo endpoint rather
// than trusted as-is.
type Verifier struct {
	userInfoURL string
	httpClient  *http.Client
	signingKey  []byte
	tokenTTL    time.Duration

	now func() time.Time
}

type Option func(*Verifier)

func WithUserInfoURL(url string) Option {
	return func(v *Verifier) {
		v.userInfoURL = strings.TrimSpace(url)
	}
}

func WithHTTPClient(httpClient *http.Client) Option {
	return func(v *Verifier) {
		v.httpClient = httpClient
	}
}

func WithTokenTTL(ttl time.Duration) Option {
	return func(v *Verifier) {
		v.tokenTTL = ttl
	}
}

// NewVerifier creates a Verifier that signs session tokens with the given key.
func NewVerifier(signingKey []byte, opts ...Option) (*Verifier, error) {
	if len(signingKey) == 0 {
		return nil, errors.New("googleauth: signing key must not be empty")
	}
	v := &Verifier{
		userInfoURL: DefaultUserInfoURL,
		httpClient:  &http.Client{Timeout: 10 * time.Second},
		signingKey:  signingKey,
		tokenTTL:    defaultTokenTTL,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v, nil
}

// Exchange verifies a Google access token and returns the user identity
// plus a signed application session token.
func (v *Verifier) Exchange(ctx context.Context, accessToken string) (User, string, error) {
	accessToken = strings.TrimSpace(accessToken)
	if accessToken == "" {
		return User{}, "", errors.New("googleauth: access token is required")
	}

	info, err := v.fetchUserInfo(ctx, accessToken)
	if err != nil {
		return User{}, "", err
	}
	if info.Sub == "" {
		return User{}, "", errors.New("googleauth: userinfo response has no subject")
	}

	user := User{
		UID:           "google_" + info.Sub,
		Email:         info.Email,
		DisplayName:   info.Name,
		PhotoURL:      info.Picture,
		EmailVerified: info.EmailVerified,
	}

	token, err := v.mintSessionToken(user)
	if err != nil {
		return User{}, "", err
	}
	return user, token, nil
}

// VerifySessionToken checks a previously minted session token and returns
// its claims if the signature is valid and the token has not expired.
func (v *Verifier) VerifySessionToken(token string) (SessionClaims, error) {
	parts := strings.Split(token, ".")
	if len(parts) != 2 {
		return SessionClaims{}, errors.New("googleauth: malformed session token")
	}

	payload, err := base64.RawURLEncoding.DecodeString(parts[0])
	if err != nil {
		return SessionClaims{}, fmt.Errorf("googleauth: decode token payload: %w", err)
	}
	sig, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return SessionClaims{}, fmt.Errorf("googleauth: decode token signature: %w", err)
	}
	if !hmac.Equal(sig, v.sign(payload)) {
		return SessionClaims{}, errors.New("googleauth: invalid token signature")
	}

	var claims SessionClaims
	if err := json.Unmarshal(payload, &claims); err != nil {
		return SessionClaims{}, fmt.Errorf("googleauth: decode token claims: %w", err)
	}
	if v.now().Unix() >= claims.ExpiresAt {
		return SessionClaims{}, errors.New("googleauth: session token expired")
	}
	return claims, nil
}

func (v *Verifier) fetchUserInfo(ctx context.Context, accessToken string) (userInfoResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, v.userInfoURL, nil)
	if err != nil {
		return userInfoResponse{}, fmt.Errorf("googleauth: create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	res, err := v.httpClient.Do(req)
	if err != nil {
		return userInfoResponse{}, fmt.Errorf("googleauth: userinfo request failed: %w", err)
	}
	defer func() { _ = res.Body.Close() }()

	if res.StatusCode != http.StatusOK {
		buf, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return userInfoResponse{}, fmt.Errorf("googleauth: userinfo returned status %d: %s", res.StatusCode, string(buf))
	}

	raw, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return userInfoResponse{}, fmt.Errorf("googleauth: read userinfo body: %w", err)
	}

	var info userInfoResponse
	if err := json.Unmarshal(raw, &info); err != nil {
		return userInfoResponse{}, fmt.Errorf("googleauth: decode userinfo: %w", err)
	}
	return info, nil
}

func (v *Verifier) mintSessionToken(user User) (string, error) {
	payload, err := json.Marshal(SessionClaims{
		UID:       user.UID,
		Email:     user.Email,
		ExpiresAt: v.now().Add(v.tokenTTL).Unix(),
	})
	if err != nil {
		return "", fmt.Errorf("googleauth: marshal claims: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(payload) + "." +
		base64.RawURLEncoding.EncodeToString(v.sign(payload)), nil
}

func (v *Verifier) sign(payload []byte) []byte {
	mac := hmac.New(sha256.New, v.signingKey)
	mac.Write(payload)
	return mac.Sum(nil)
}
