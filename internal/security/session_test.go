package security

import (
	"crypto/tls"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractToken(t *testing.T) {
	tests := []struct {
		name       string
		header     string
		cookie     string
		wantToken  string
		wantSource TokenSource
	}{
		{name: "none", wantSource: TokenSourceNone},
		{name: "bearer", header: "Bearer abc.def.ghi", wantToken: "abc.def.ghi", wantSource: TokenSourceHeader},
		{name: "bearer lowercase scheme", header: "bearer abc", wantToken: "abc", wantSource: TokenSourceHeader},
		{name: "cookie", cookie: "c.o.k", wantToken: "c.o.k", wantSource: TokenSourceCookie},
		{name: "header wins", header: "Bearer h", cookie: "c", wantToken: "h", wantSource: TokenSourceHeader},
		{name: "basic scheme falls back to cookie", header: "Basic dXNlcg==", cookie: "c", wantToken: "c", wantSource: TokenSourceCookie},
		{name: "empty bearer", header: "Bearer ", wantSource: TokenSourceNone},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.header != "" {
				r.Header.Set("Authorization", tt.header)
			}
			if tt.cookie != "" {
				r.AddCookie(&http.Cookie{Name: SessionCookieName, Value: tt.cookie})
			}
			token, source := ExtractToken(r)
			assert.Equal(t, tt.wantToken, token)
			assert.Equal(t, tt.wantSource, source)
		})
	}
}

func TestSessionCookieFlags(t *testing.T) {
	expires := time.Now().Add(time.Hour)

	plain := httptest.NewRequest(http.MethodPost, "/", nil)
	c := CreateSessionCookie(plain, SessionCookieName, "tok", expires)
	assert.True(t, c.HttpOnly)
	assert.False(t, c.Secure)
	assert.Equal(t, http.SameSiteLaxMode, c.SameSite)
	assert.Equal(t, "/", c.Path)

	tlsReq := httptest.NewRequest(http.MethodPost, "/", nil)
	tlsReq.TLS = &tls.ConnectionState{}
	assert.True(t, CreateSessionCookie(tlsReq, SessionCookieName, "tok", expires).Secure)

	proxied := httptest.NewRequest(http.MethodPost, "/", nil)
	proxied.Header.Set("X-Forwarded-Proto", "https")
	del := CreateDeleteCookie(proxied, SessionCookieName)
	assert.True(t, del.Secure)
	assert.Equal(t, -1, del.MaxAge)
}

func TestGenerateSecureToken(t *testing.T) {
	a, err := GenerateSecureToken(32)
	require.NoError(t, err)
	b, err := GenerateSecureToken(32)
	require.NoError(t, err)

	assert.Len(t, a, 64)
	assert.NotEqual(t, a, b)
	assert.NotEqual(t, GenerateStateID(), GenerateStateID())
}

func TestCSRFToken(t *testing.T) {
	g := NewCSRFGenerator(testSecret)

	token, err := g.GenerateToken("jti-1")
	require.NoError(t, err)
	assert.True(t, g.ValidateToken("jti-1", token))
	assert.False(t, g.ValidateToken("jti-2", token))
	assert.False(t, g.ValidateToken("jti-1", ""))
	assert.False(t, NewCSRFGenerator([]byte("another-secret-another-secret-xx")).ValidateToken("jti-1", token))

	_, err = g.GenerateToken("")
	assert.Error(t, err)

	assert.False(t, RequiresCSRF(http.MethodGet))
	assert.True(t, RequiresCSRF(http.MethodPatch))
}
