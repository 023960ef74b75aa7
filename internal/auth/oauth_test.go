package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

// fakeGitHub serves the token endpoint and /user.
func fakeGitHub(t *testing.T, userJSON string, userStatus int) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/login/oauth/access_token", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "the-code", r.Form.Get("code"))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"access_token":"gho_test","token_type":"bearer"}`))
	})
	mux.HandleFunc("/user", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer gho_test", r.Header.Get("Authorization"))
		w.WriteHeader(userStatus)
		w.Write([]byte(userJSON))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func newTestProvider(srv *httptest.Server) *GitHubProvider {
	p := NewGitHubProvider("client-id", "client-secret", "http://localhost/auth/github/callback")
	p.config.Endpoint = oauth2.Endpoint{
		AuthURL:   srv.URL + "/login/oauth/authorize",
		TokenURL:  srv.URL + "/login/oauth/access_token",
		AuthStyle: oauth2.AuthStyleInParams,
	}
	p.userURL = srv.URL + "/user"
	return p
}

func TestAuthURL_CarriesState(t *testing.T) {
	p := NewGitHubProvider("client-id", "secret", "http://localhost/cb")

	u, err := url.Parse(p.AuthURL("state-123"))
	require.NoError(t, err)

	assert.Equal(t, "github.com", u.Host)
	assert.Equal(t, "state-123", u.Query().Get("state"))
	assert.Equal(t, "client-id", u.Query().Get("client_id"))
}

func TestNewState_Unique(t *testing.T) {
	assert.NotEqual(t, NewState(), NewState())
}

func TestExchange_Success(t *testing.T) {
	srv := fakeGitHub(t, `{"id":99,"login":"octocat","name":"Mona","email":"mona@github.com"}`, http.StatusOK)

	user, err := newTestProvider(srv).Exchange(context.Background(), "the-code")
	require.NoError(t, err)
	assert.Equal(t, int64(99), user.ID)
	assert.Equal(t, "octocat", user.Login)
	assert.Equal(t, "Mona", user.Name)
}

func TestExchange_APIError(t *testing.T) {
	srv := fakeGitHub(t, `{"message":"Bad credentials"}`, http.StatusUnauthorized)

	_, err := newTestProvider(srv).Exchange(context.Background(), "the-code")
	assert.ErrorContains(t, err, "status 401")
}

func TestExchange_IncompleteProfile(t *testing.T) {
	srv := fakeGitHub(t, `{"id":0}`, http.StatusOK)

	_, err := newTestProvider(srv).Exchange(context.Background(), "the-code")
	assert.Error(t, err)
}
