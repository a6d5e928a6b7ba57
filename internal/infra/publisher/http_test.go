package publisher

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vietddude/relay/internal/core/domain"
)

// fakeAPI serves a tiny graph style API. Tokens: "user-tok" is a person,
// "page-tok" is a page with one capability, anything else is rejected.
func fakeAPI(t *testing.T) *httptest.Server {
	t.Helper()

	token := func(r *http.Request) string {
		return strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	}
	writeJSON := func(w http.ResponseWriter, v any) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(v)
	}
	invalid := map[string]any{"error": map[string]any{"message": "Invalid OAuth access token.", "code": 190}}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /me", func(w http.ResponseWriter, r *http.Request) {
		switch token(r) {
		case "user-tok":
			writeJSON(w, map[string]any{"id": "u1", "name": "Alice"})
		case "page-tok":
			writeJSON(w, map[string]any{"id": "pg1", "name": "Bakery", "category": "Food"})
		default:
			w.WriteHeader(http.StatusBadRequest)
			writeJSON(w, invalid)
		}
	})
	mux.HandleFunc("GET /me/permissions", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{"data": []map[string]string{
			{"permission": "manage-posts", "status": "granted"},
			{"permission": "read-engagement", "status": "declined"},
		}})
	})
	mux.HandleFunc("GET /pg1", func(w http.ResponseWriter, r *http.Request) {
		if token(r) != "page-tok" {
			w.WriteHeader(http.StatusBadRequest)
			writeJSON(w, invalid)
			return
		}
		writeJSON(w, map[string]any{"id": "pg1", "name": "Bakery", "category": "Food"})
	})
	mux.HandleFunc("POST /{target}/comments", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Message string `json:"message"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)

		switch {
		case token(r) != "user-tok" && token(r) != "page-tok":
			w.WriteHeader(http.StatusBadRequest)
			writeJSON(w, invalid)
		case r.PathValue("target") == "limited":
			w.WriteHeader(http.StatusBadRequest)
			writeJSON(w, map[string]any{"error": map[string]any{"message": "(#4) rate limit reached", "code": 4}})
		case r.PathValue("target") == "broken":
			w.WriteHeader(http.StatusBadGateway)
			_, _ = w.Write([]byte("<html>bad gateway</html>"))
		default:
			writeJSON(w, map[string]any{"id": r.PathValue("target") + "_" + body.Message})
		}
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestHTTPClient_Validate(t *testing.T) {
	srv := fakeAPI(t)
	c := NewHTTPClient(Config{BaseURL: srv.URL + "/", Timeout: 2 * time.Second})
	ctx := context.Background()

	t.Run("auto user", func(t *testing.T) {
		ident, err := c.Validate(ctx, "user-tok", "", domain.KindAuto)
		require.NoError(t, err)
		assert.Equal(t, "Alice", ident.DisplayName)
		assert.Equal(t, domain.KindUser, ident.Kind)
	})

	t.Run("page with hint", func(t *testing.T) {
		ident, err := c.Validate(ctx, "page-tok", "pg1", domain.KindAuto)
		require.NoError(t, err)
		assert.Equal(t, "Bakery", ident.DisplayName)
		assert.Equal(t, domain.KindPage, ident.Kind)
		assert.Equal(t, []string{"manage-posts"}, ident.Capabilities)
	})

	t.Run("auto page without hint", func(t *testing.T) {
		ident, err := c.Validate(ctx, "page-tok", "", domain.KindAuto)
		require.NoError(t, err)
		assert.Equal(t, domain.KindPage, ident.Kind)
		assert.Equal(t, []string{"manage-posts"}, ident.Capabilities)
	})

	t.Run("auto falls back to user", func(t *testing.T) {
		ident, err := c.Validate(ctx, "user-tok", "pg1", domain.KindAuto)
		require.NoError(t, err)
		assert.Equal(t, domain.KindUser, ident.Kind)
	})

	t.Run("page required", func(t *testing.T) {
		_, err := c.Validate(ctx, "user-tok", "", domain.KindPage)
		assert.Error(t, err)
	})

	t.Run("invalid token", func(t *testing.T) {
		_, err := c.Validate(ctx, "nope", "", domain.KindAuto)
		var apiErr *APIError
		require.ErrorAs(t, err, &apiErr)
		assert.Equal(t, 190, apiErr.Code)
		assert.Contains(t, apiErr.Error(), "Invalid OAuth access token")
	})
}

func TestHTTPClient_Post(t *testing.T) {
	srv := fakeAPI(t)
	c := NewHTTPClient(Config{BaseURL: srv.URL, Timeout: 2 * time.Second})
	ctx := context.Background()
	user := domain.Credential{ID: "c1", Secret: "user-tok"}

	res := c.Post(ctx, "p1", "hello", user)
	assert.True(t, res.OK)
	assert.Equal(t, "p1_hello", res.PostID)

	res = c.Post(ctx, "limited", "hello", user)
	assert.False(t, res.OK)
	assert.False(t, res.Transport)
	assert.Equal(t, "(#4) rate limit reached", res.ErrorMessage)
	assert.Equal(t, 4, res.ErrorCode)

	res = c.Post(ctx, "p1", "hello", domain.Credential{ID: "c2", Secret: "bad"})
	assert.False(t, res.OK)
	assert.Equal(t, "Invalid OAuth access token.", res.ErrorMessage)

	res = c.Post(ctx, "broken", "hello", user)
	assert.False(t, res.OK)
	assert.False(t, res.Transport)
	assert.Equal(t, http.StatusBadGateway, res.ErrorCode)
}

func TestHTTPClient_PostTransportFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	base := srv.URL
	srv.Close()

	c := NewHTTPClient(Config{BaseURL: base, Timeout: time.Second})
	res := c.Post(context.Background(), "p1", "hello", domain.Credential{Secret: "user-tok"})

	assert.False(t, res.OK)
	assert.True(t, res.Transport)
	assert.NotEmpty(t, res.ErrorMessage)
}

func TestNew_SelectsTransport(t *testing.T) {
	c, err := New(Config{BaseURL: "http://localhost:1"})
	require.NoError(t, err)
	assert.IsType(t, &HTTPClient{}, c)

	_, err = New(Config{Transport: "http"})
	assert.Error(t, err)

	_, err = New(Config{Transport: "carrier-pigeon"})
	assert.Error(t, err)

	g, err := New(Config{Transport: "grpc", GRPCAddr: "localhost:50051"})
	require.NoError(t, err)
	assert.IsType(t, &GRPCClient{}, g)
	require.NoError(t, g.Close())
}
