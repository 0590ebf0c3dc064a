package httpclient

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDo_SuccessBelow500ReturnsReadableBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	sess, err := NewSession(Config{ConnectionQuality: 3})
	require.NoError(t, err)

	resp, err := sess.Do(context.Background(), Request{Method: "GET", URL: srv.URL}, nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestDo_RetriesOn500ThenSucceeds(t *testing.T) {
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts < 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	sess, err := NewSession(Config{ConnectionQuality: 6})
	require.NoError(t, err)

	resp, err := sess.Do(context.Background(), Request{Method: "GET", URL: srv.URL}, nil)
	require.NoError(t, err)
	resp.Body.Close()
	require.GreaterOrEqual(t, attempts, 2)
}

func TestConnectionQuality_ClampedTo1And6(t *testing.T) {
	low, err := NewSession(Config{ConnectionQuality: 0})
	require.NoError(t, err)
	require.Equal(t, 1, low.quality)

	high, err := NewSession(Config{ConnectionQuality: 99})
	require.NoError(t, err)
	require.Equal(t, 6, high.quality)
}

func TestCookieJar_SaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cookies.json")

	jar := NewPersistentJar()
	u := mustParseURL(t, "https://id.twitch.tv/oauth2/device")
	jar.SetCookies(u, []*http.Cookie{{Name: "unique_id", Value: "abc123"}})

	require.NoError(t, jar.Save(path))

	loaded := NewPersistentJar()
	require.NoError(t, loaded.Load(path))

	val, ok := loaded.Get("id.twitch.tv", "unique_id")
	require.True(t, ok)
	require.Equal(t, "abc123", val)
}

func TestCookieJar_PrunesEmptyEntriesOnSave(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cookies.json")

	jar := NewPersistentJar()
	u := mustParseURL(t, "https://gql.twitch.tv/gql")
	jar.SetCookies(u, []*http.Cookie{{Name: "x", Value: "y"}})
	jar.SetCookies(u, []*http.Cookie{{Name: "x", Value: ""}}) // cleared by server

	require.NoError(t, jar.Save(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, "{}", string(data))
}

func mustParseURL(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	require.NoError(t, err)
	return u
}
