package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dropsminer/core/internal/httpclient"
)

type recordingPrompter struct {
	calls int32
}

func (p *recordingPrompter) AskEnterCode(_ context.Context, _, _ string) error {
	atomic.AddInt32(&p.calls, 1)
	return nil
}

func newTestState(t *testing.T, handler http.HandlerFunc) (*State, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	sess, err := httpclient.NewSession(httpclient.Config{ConnectionQuality: 6})
	require.NoError(t, err)

	client := ClientInfo{ClientURL: srv.URL, ClientID: "test-client-id", UserAgent: "test-agent"}
	st := New(sess, client, &recordingPrompter{}, filepath.Join(t.TempDir(), "cookies.json"))
	return st, srv
}

// Exercises the device-code part of spec.md's end-to-end scenario #1:
// no cookie, and the token endpoint grants on the 3rd poll.
func TestOAuthLogin_FreshLoginGrantsOnThirdPoll(t *testing.T) {
	var pollCount int32
	u, err := url.Parse("https://www.twitch.tv")
	require.NoError(t, err)
	_ = u

	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.SetCookie(w, &http.Cookie{Name: "unique_id", Value: "dev-abc123"})
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/oauth2/device", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"device_code":      "DEVCODE",
			"user_code":        "WXYZ1234",
			"interval":         0,
			"verification_uri": "https://www.twitch.tv/activate?device-code=WXYZ1234",
			"expires_in":       1800,
		})
	})
	mux.HandleFunc("/oauth2/token", func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&pollCount, 1)
		if n < 3 {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{"access_token": "tok-xyz"})
	})
	mux.HandleFunc("/oauth2/validate", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"client_id": "test-client-id", "user_id": "42"})
	})

	srv := httptest.NewServer(mux)
	defer srv.Close()

	sess, err := httpclient.NewSession(httpclient.Config{ConnectionQuality: 6})
	require.NoError(t, err)
	client := ClientInfo{ClientURL: srv.URL, ClientID: "test-client-id", UserAgent: "test-agent"}
	st := New(sess, client, &recordingPrompter{}, filepath.Join(t.TempDir(), "cookies.json"))

	// Point the package's OAuth endpoint variables at the local mux and
	// drive the device/token polling through oauthLogin directly.
	deviceEndpoint = srv.URL + "/oauth2/device"
	tokenEndpoint = srv.URL + "/oauth2/token"
	device, err := st.oauthLogin(context.Background())
	require.NoError(t, err)
	require.Equal(t, "tok-xyz", device)
	require.Equal(t, int32(3), atomic.LoadInt32(&pollCount))
}

func TestHeaders_GQLVariantIncludesAuthorization(t *testing.T) {
	st, srv := newTestState(t, func(w http.ResponseWriter, r *http.Request) {})
	defer srv.Close()

	st.mu.Lock()
	st.accessToken = "abc"
	st.deviceID = "dev"
	st.sessionID = "sess"
	h := st.headersLocked(true)
	st.mu.Unlock()

	require.Equal(t, "OAuth abc", h.Get("Authorization"))
	require.Equal(t, "dev", h.Get("X-Device-Id"))
	require.Equal(t, "sess", h.Get("Client-Session-Id"))
	require.Equal(t, "test-client-id", h.Get("Client-Id"))
}

func TestCreateNonce_ProducesRequestedLength(t *testing.T) {
	n := createNonce(hexLower, 16)
	require.Len(t, n, 16)
	for _, c := range n {
		require.Contains(t, hexLower, string(c))
	}
}

func TestLoggedIn_ClosesExactlyOnce(t *testing.T) {
	st, srv := newTestState(t, func(w http.ResponseWriter, r *http.Request) {})
	defer srv.Close()

	select {
	case <-st.LoggedIn():
		t.Fatal("should not be logged in yet")
	default:
	}

	st.markLoggedIn()
	st.markLoggedIn() // must not panic or double-close

	select {
	case <-st.LoggedIn():
	default:
		t.Fatal("expected LoggedIn channel to be closed")
	}
}

func TestIntrospectToken_UnauthorizedReturnsNilNotError(t *testing.T) {
	st, srv := newTestState(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})
	defer srv.Close()
	validateEndpoint = srv.URL

	st.mu.Lock()
	st.accessToken = "expired"
	resp, err := st.introspectToken(context.Background())
	st.mu.Unlock()

	require.NoError(t, err)
	require.Nil(t, resp)
}

func TestIntrospectToken_OKDecodesValidateResponse(t *testing.T) {
	st, srv := newTestState(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `{"client_id":"test-client-id","user_id":"99"}`)
	})
	defer srv.Close()
	validateEndpoint = srv.URL

	st.mu.Lock()
	st.accessToken = "good"
	resp, err := st.introspectToken(context.Background())
	st.mu.Unlock()

	require.NoError(t, err)
	require.Equal(t, "test-client-id", resp.ClientID)
	require.Equal(t, 99, resp.UserID)
}
