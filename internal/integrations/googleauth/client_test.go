package googleauth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func userInfoServer(t *testing.T, wantToken string, body string, status int) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "Bearer "+wantToken, r.Header.Get("Authorization"))
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
}

func TestNewVerifier_EmptyKey(t *testing.T) {
	_, err := NewVerifier(nil)
	require.Error(t, err)
}

func TestExchange_HappyPath(t *testing.T) {
	srv := userInfoServer(t, "g-token",
		`{"sub":"12345","email":"user@gmail.com","name":"Test User","picture":"https://p/img","email_verified":true}`,
		http.StatusOK)
	defer srv.Close()

	v, err := NewVerifier([]byte("secret"), WithUserInfoURL(srv.URL))
	require.NoError(t, err)

	user, token, err := v.Exchange(context.Background(), "g-token")
	require.NoError(t, err)
	require.Equal(t, "google_12345", user.UID)
	require.Equal(t, "user@gmail.com", user.Email)
	require.Equal(t, "Test User", user.DisplayName)
	require.True(t, user.EmailVerified)
	require.NotEmpty(t, token)

	claims, err := v.VerifySessionToken(token)
	require.NoError(t, err)
	require.Equal(t, "google_12345", claims.UID)
	require.Equal(t, "user@gmail.com", claims.Email)
}

func TestExchange_EmptyToken(t *testing.T) {
	v, err := NewVerifier([]byte("secret"))
	require.NoError(t, err)
	_, _, err = v.Exchange(context.Background(), "  ")
	require.Error(t, err)
}

func TestExchange_RejectedByGoogle(t *testing.T) {
	srv := userInfoServer(t, "bad-token", `{"error":"invalid_token"}`, http.StatusUnauthorized)
	defer srv.Close()

	v, err := NewVerifier([]byte("secret"), WithUserInfoURL(srv.URL))
	require.NoError(t, err)

	_, _, err = v.Exchange(context.Background(), "bad-token")
	require.Error(t, err)
	require.Contains(t, err.Error(), "401")
}

func TestExchange_MissingSubject(t *testing.T) {
	srv := userInfoServer(t, "g-token", `{"email":"user@gmail.com"}`, http.StatusOK)
	defer srv.Close()

	v, err := NewVerifier([]byte("secret"), WithUserInfoURL(srv.URL))
	require.NoError(t, err)

	_, _, err = v.Exchange(context.Background(), "g-token")
	require.Error(t, err)
	require.Contains(t, err.Error(), "no subject")
}

func TestVerifySessionToken_TamperedSignature(t *testing.T) {
	v, err := NewVerifier([]byte("secret"))
	require.NoError(t, err)
	token, err := v.mintSessionToken(User{UID: "google_1", Email: "a@b.c"})
	require.NoError(t, err)

	other, err := NewVerifier([]byte("different-secret"))
	require.NoError(t, err)
	_, err = other.VerifySessionToken(token)
	require.Error(t, err)
	require.Contains(t, err.Error(), "signature")
}

func TestVerifySessionToken_Expired(t *testing.T) {
	v, err := NewVerifier([]byte("secret"), WithTokenTTL(time.Minute))
	require.NoError(t, err)

	issued := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	v.now = func() time.Time { return issued }
	token, err := v.mintSessionToken(User{UID: "google_1"})
	require.NoError(t, err)

	v.now = func() time.Time { return issued.Add(2 * time.Minute) }
	_, err = v.VerifySessionToken(token)
	require.Error(t, err)
	require.Contains(t, err.Error(), "expired")
}

func TestVerifySessionToken_Malformed(t *testing.T) {
	v, err := NewVerifier([]byte("secret"))
	require.NoError(t, err)
	_, err = v.VerifySessionToken("not-a-token")
	require.Error(t, err)
}
