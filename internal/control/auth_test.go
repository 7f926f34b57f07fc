// internal/control/auth_test.go
package control

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/pdp-injector/internal/config"
	"github.com/xkilldash9x/pdp-injector/internal/eventloop"
	"github.com/xkilldash9x/pdp-injector/internal/page"
)

func sign(t *testing.T, method jwt.SigningMethod, secret any, exp time.Time) string {
	t.Helper()
	tok := jwt.NewWithClaims(method, jwt.MapClaims{"sub": "operator", "exp": exp.Unix()})
	s, err := tok.SignedString(secret)
	require.NoError(t, err)
	return s
}

func TestRequireToken(t *testing.T) {
	secret := []byte("s3cret")
	loop := eventloop.New(nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- loop.Run(ctx) }()
	defer func() {
		cancel()
		<-done
	}()
	h := New(config.ControlConfig{JWTSecret: string(secret)}, loop, func() *page.Session { return nil }, nil).Handler()

	status := func(path, auth string) int {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		if auth != "" {
			req.Header.Set("Authorization", auth)
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}

	assert.Equal(t, http.StatusOK, status("/healthz", ""), "health stays open")
	assert.Equal(t, http.StatusUnauthorized, status("/state", ""))
	assert.Equal(t, http.StatusUnauthorized, status("/state", "Bearer garbage"))
	assert.Equal(t, http.StatusUnauthorized, status("/state", "Bearer "+sign(t, jwt.SigningMethodHS256, []byte("other"), time.Now().Add(time.Hour))))
	assert.Equal(t, http.StatusUnauthorized, status("/state", "Bearer "+sign(t, jwt.SigningMethodHS256, secret, time.Now().Add(-time.Hour))))
	assert.Equal(t, http.StatusUnauthorized, status("/state", "Bearer "+sign(t, jwt.SigningMethodHS512, secret, time.Now().Add(time.Hour))))

	// A valid token gets through to the handler, which has no session yet.
	assert.Equal(t, http.StatusServiceUnavailable, status("/state", "Bearer "+sign(t, jwt.SigningMethodHS256, secret, time.Now().Add(time.Hour))))
}
