package gql

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dropsminer/core/internal/httpclient"
)

type fakeHeaders struct{}

func (fakeHeaders) ValidateAndGQLHeaders(ctx context.Context) (http.Header, error) {
	return http.Header{"Authorization": []string{"OAuth test"}}, nil
}

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	sess, err := httpclient.NewSession(httpclient.Config{ConnectionQuality: 6})
	require.NoError(t, err)
	c := NewClient(sess, fakeHeaders{})
	c.endpoint = srv.URL
	return c, srv
}

func TestRequest_RetriesServiceErrorOnce(t *testing.T) {
	var calls int32
	c, srv := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&calls, 1)
		if n == 1 {
			json.NewEncoder(w).Encode(Response{Errors: []ResponseError{{Message: "service error"}}})
			return
		}
		json.NewEncoder(w).Encode(Response{Data: map[string]any{"ok": true}})
	})
	defer srv.Close()
	resp, err := c.Request(context.Background(), Op("Inventory"))
	require.NoError(t, err)
	require.Len(t, resp, 1)
	require.Equal(t, true, resp[0].Data["ok"])
	require.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestRequest_NullsServerErrorPath(t *testing.T) {
	c, srv := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(Response{
			Data:   map[string]any{"user": map[string]any{"campaign": "stale"}},
			Errors: []ResponseError{{Message: "server error", Path: []any{"user", "campaign"}}},
		})
	})
	defer srv.Close()
	resp, err := c.Request(context.Background(), Op("Campaigns"))
	require.NoError(t, err)
	require.Nil(t, resp[0].Data["user"].(map[string]any)["campaign"])
}

func TestRequest_UnknownErrorFails(t *testing.T) {
	c, srv := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(Response{Errors: []ResponseError{{Message: "something weird"}}})
	})
	defer srv.Close()
	_, err := c.Request(context.Background(), Op("Campaigns"))
	require.Error(t, err)
}

func TestMergeData_IdentityOnSelf(t *testing.T) {
	a := map[string]any{"x": float64(1), "y": map[string]any{"z": "w"}}
	merged, err := MergeData(a, a)
	require.NoError(t, err)
	require.Equal(t, a, merged)
}

func TestMergeData_PreservesPrimaryPreferringItsValues(t *testing.T) {
	primary := map[string]any{"a": float64(1), "shared": map[string]any{"k": "primary"}}
	secondary := map[string]any{"b": float64(2), "shared": map[string]any{"k": "secondary", "extra": true}}

	merged, err := MergeData(primary, secondary)
	require.NoError(t, err)
	require.Equal(t, float64(1), merged["a"])
	require.Equal(t, float64(2), merged["b"])
	require.Equal(t, "primary", merged["shared"].(map[string]any)["k"])
	require.Equal(t, true, merged["shared"].(map[string]any)["extra"])
}

func TestMergeData_TypeMismatchErrors(t *testing.T) {
	primary := map[string]any{"a": map[string]any{"k": "v"}}
	secondary := map[string]any{"a": "not-a-map"}
	_, err := MergeData(primary, secondary)
	require.Error(t, err)
}
