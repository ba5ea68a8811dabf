package server

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeOrigin(t *testing.T) {
	tests := []struct {
		in   string
		want string
		ok   bool
	}{
		{in: "http://Example.COM", want: "http://example.com", ok: true},
		{in: "HTTPS://example.com:8443", want: "https://example.com:8443", ok: true},
		{in: "http://example.com/path", want: "http://example.com", ok: true},
		{in: "example.com", ok: false},
		{in: "http://", ok: false},
		{in: "ftp://example.com", ok: false},
		{in: "javascript:alert(1)", ok: false},
	}

	for _, tt := range tests {
		got, ok := normalizeOrigin(tt.in)
		assert.Equal(t, tt.ok, ok, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
}

func TestNormalizeOrigins(t *testing.T) {
	origins, allowAll := normalizeOrigins([]string{" http://A.example ", "", "bogus", "*"})
	assert.Equal(t, []string{"http://a.example"}, origins)
	assert.True(t, allowAll)

	origins, allowAll = normalizeOrigins(nil)
	assert.Nil(t, origins)
	assert.False(t, allowAll)
}

func requestWithOrigin(origin string) *http.Request {
	r := httptest.NewRequest(http.MethodGet, "/ws", http.NoBody)
	if origin != "" {
		r.Header.Set("Origin", origin)
	}
	return r
}

func TestOriginPolicy(t *testing.T) {
	p := newOriginPolicy([]string{"http://localhost:8080"})

	assert.True(t, p.allows(requestWithOrigin("http://LOCALHOST:8080")))
	assert.False(t, p.allows(requestWithOrigin("http://localhost:9090")))
	assert.False(t, p.allows(requestWithOrigin("")))
	assert.False(t, p.checkOrigin(requestWithOrigin("http://evil.example")))

	wildcard := newOriginPolicy([]string{"*"})
	assert.True(t, wildcard.allows(requestWithOrigin("https://anything.example")))
	assert.False(t, wildcard.allows(requestWithOrigin("not a url")))
}
