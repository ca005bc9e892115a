package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"collabhub/internal/utils"
)

func TestPermitAll(t *testing.T) {
	ok, err := PermitAll{}.Authorize(context.Background(), "", "doc")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestJWTAuthorizer(t *testing.T) {
	a := NewJWTAuthorizer("s3cret")
	token, err := utils.SignDocumentToken(&utils.DocumentTokenClaims{UserId: "u1", Documents: []string{"doc-1"}}, []byte("s3cret"))
	require.NoError(t, err)

	ok, err := a.Authorize(context.Background(), token, "doc-1")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = a.Authorize(context.Background(), token, "doc-2")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = a.Authorize(context.Background(), "garbage", "doc-1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestHTTPAuthorizer(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Token string `json:"token"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		docID := r.URL.Query().Get("doc_id")
		switch {
		case body.Token == "good" && docID == "doc-1":
			_, _ = w.Write([]byte(`{"ok": true}`))
		case body.Token == "legacy":
			_, _ = w.Write([]byte(`{}`))
		case body.Token == "revoked":
			_, _ = w.Write([]byte(`{"ok": false}`))
		default:
			w.WriteHeader(http.StatusForbidden)
		}
	}))
	defer server.Close()

	a := NewHTTPAuthorizer(server.URL+"/", time.Second)
	cases := map[string]bool{"good": true, "legacy": true, "revoked": false, "bad": false}
	for token, want := range cases {
		ok, err := a.Authorize(context.Background(), token, "doc-1")
		require.NoError(t, err, token)
		assert.Equal(t, want, ok, token)
	}
}

func TestHTTPAuthorizerRejectsUndecodableBody(t *testing.T) {
	for name, body := range map[string]string{
		"html":  "<html>login page</html>",
		"empty": "",
		"array": "[true]",
	} {
		t.Run(name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusOK)
				_, _ = w.Write([]byte(body))
			}))
			defer server.Close()

			ok, err := NewHTTPAuthorizer(server.URL, time.Second).Authorize(context.Background(), "t", "doc-1")
			assert.Error(t, err)
			assert.False(t, ok)
		})
	}
}

func TestHTTPAuthorizerUnreachable(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	ok, err := NewHTTPAuthorizer(url, 200*time.Millisecond).Authorize(context.Background(), "t", "d")
	assert.Error(t, err)
	assert.False(t, ok)
}
