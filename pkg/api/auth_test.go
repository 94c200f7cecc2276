package api

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func TestExpectedToken_IsDeterministicPerSecret(t *testing.T) {
	a := expectedToken("secret-one")
	b := expectedToken("secret-one")
	c := expectedToken("secret-two")
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
}

func TestValidToken(t *testing.T) {
	secret := "shared-secret"
	token := expectedToken(secret)

	assert.True(t, validToken(secret, token))
	assert.False(t, validToken(secret, "wrong"))
	assert.False(t, validToken("other-secret", token))
}

func TestBearerToken(t *testing.T) {
	gin.SetMode(gin.TestMode)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer abc123")
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = req

	token, ok := bearerToken(c)
	assert.True(t, ok)
	assert.Equal(t, "abc123", token)
}

func TestBearerToken_MissingOrMalformedHeader(t *testing.T) {
	gin.SetMode(gin.TestMode)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = req

	_, ok := bearerToken(c)
	assert.False(t, ok)

	req.Header.Set("Authorization", "Basic abc123")
	_, ok = bearerToken(c)
	assert.False(t, ok)
}

func TestRequireAuth_RejectsMissingOrWrongToken(t *testing.T) {
	gin.SetMode(gin.TestMode)
	s := &Server{cfg: Config{AuthSecret: "secret"}}
	router := gin.New()
	router.GET("/protected", s.requireAuth(), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})

	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	req = httptest.NewRequest(http.MethodGet, "/protected", nil)
	req.Header.Set("Authorization", "Bearer "+expectedToken("secret"))
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}
