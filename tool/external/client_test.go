package external

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/tools", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"tools": []map[string]any{
				{"name": "search", "description": "search the index"},
				{"name": "purge", "description": "purge the index", "requires_approval": true, "danger_level": "high"},
			},
		})
	})
	mux.HandleFunc("/call", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Name string         `json:"name"`
			Args map[string]any `json:"args"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		switch req.Name {
		case "search":
			_ = json.NewEncoder(w).Encode(map[string]any{"result": "3 hits"})
		default:
			_ = json.NewEncoder(w).Encode(map[string]any{"is_error": true, "error": "unknown tool"})
		}
	})
	mux.HandleFunc("/ping", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	return httptest.NewServer(mux)
}

func TestClient_ListAndCall(t *testing.T) {
	srv := newTestServer(t)
	defer srv.Close()

	c, err := NewClient(ServerConfig{Name: "idx", Endpoint: srv.URL})
	require.NoError(t, err)

	tools, err := c.ListTools(context.Background())
	require.NoError(t, err)
	require.Len(t, tools, 2)
	assert.Equal(t, "search", tools[0].Name)
	assert.True(t, tools[1].RequiresApproval)

	result, err := c.CallTool(context.Background(), "search", map[string]any{"q": "x"})
	require.NoError(t, err)
	assert.Equal(t, "3 hits", result)

	_, err = c.CallTool(context.Background(), "nope", nil)
	assert.ErrorContains(t, err, "unknown tool")

	assert.NoError(t, c.Ping(context.Background()))
}

func TestNewClient_RequiresEndpoint(t *testing.T) {
	_, err := NewClient(ServerConfig{Name: "bad"})
	assert.Error(t, err)
}
