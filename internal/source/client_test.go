package source

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/telhawk-systems/assetsync/internal/asset"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := New(Config{InstanceURL: server.URL + "/", APIKey: "key", APISecret: "secret", Timeout: 5 * time.Second}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestNew_RequiresURL(t *testing.T) {
	_, err := New(Config{}, nil)
	assert.Error(t, err)
}

func TestNew_DefaultTimeout(t *testing.T) {
	client, err := New(Config{InstanceURL: "https://axonius.example.com"}, nil)
	require.NoError(t, err)
	assert.Equal(t, 60*time.Second, client.httpClient.Timeout)
}

func TestReady(t *testing.T) {
	tests := []struct {
		name string
		body string
		want bool
	}{
		{name: "succeeded", body: `{"has_succeeded": true}`, want: true},
		{name: "not succeeded", body: `{"has_succeeded": false}`, want: false},
		{name: "field missing", body: `{}`, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "/api/v2/discovery", r.URL.Path)
				assert.Equal(t, http.MethodGet, r.Method)
				assert.Equal(t, "key", r.Header.Get("api-key"))
				assert.Equal(t, "secret", r.Header.Get("api-secret"))
				w.Header().Set("Content-Type", "application/json")
				_, _ = w.Write([]byte(tt.body))
			})

			ready, err := client.Ready(context.Background())
			require.NoError(t, err)
			assert.Equal(t, tt.want, ready)
		})
	}
}

func TestReady_HTTPError(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "invalid credentials", http.StatusUnauthorized)
	})

	_, err := client.Ready(context.Background())
	require.Error(t, err)

	var statusErr *StatusError
	require.True(t, errors.As(err, &statusErr))
	assert.Equal(t, http.StatusUnauthorized, statusErr.StatusCode)
	assert.Contains(t, err.Error(), "invalid credentials")
}

func TestFetchPage(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v2/assets/devices", r.URL.Path)
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.Equal(t, "application/json", r.Header.Get("Accept"))

		var body PageRequestBody
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, PageSpec{Limit: 2, Offset: 40}, body.Page)
		assert.True(t, body.IncludeMetadata)
		assert.True(t, body.ReturnPlainData)
		assert.True(t, body.UseCacheEntry)
		assert.Equal(t, []string{"specific_data.data.hostname"}, body.Fields)

		_, _ = w.Write([]byte(`{
			"assets": [
				{"specific_data.data.hostname": "a", "specific_data.data.last_seen": 1705312800},
				{"specific_data.data.hostname": "b"}
			],
			"page": {"totalResources": 42}
		}`))
	})

	records, err := client.FetchPage(context.Background(), asset.PageRequest{
		AssetType: asset.TypeDevices,
		Fields:    []string{"specific_data.data.hostname"},
		Limit:     2,
		Offset:    40,
	})
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "a", records[0]["specific_data.data.hostname"])
	assert.Equal(t, json.Number("1705312800"), records[0]["specific_data.data.last_seen"])
}

func TestFetchPage_EmptyFieldsSentAsList(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var raw map[string]any
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&raw))
		assert.Equal(t, []any{}, raw["fields"])
		_, _ = w.Write([]byte(`{"assets": []}`))
	})

	records, err := client.FetchPage(context.Background(), asset.PageRequest{AssetType: asset.TypeUsers, Limit: 10})
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestFetchPage_BadJSON(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"assets": [`))
	})

	_, err := client.FetchPage(context.Background(), asset.PageRequest{AssetType: asset.TypeDevices, Limit: 10})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decode response")
}

func TestFetchPage_ContextCanceled(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"assets": []}`))
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := client.FetchPage(ctx, asset.PageRequest{AssetType: asset.TypeDevices, Limit: 10})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNilClient(t *testing.T) {
	var c *Client
	_, err := c.Ready(context.Background())
	assert.ErrorIs(t, err, ErrNotConfigured)
	_, err = c.FetchPage(context.Background(), asset.PageRequest{})
	assert.ErrorIs(t, err, ErrNotConfigured)
	assert.NoError(t, c.Close())
}
