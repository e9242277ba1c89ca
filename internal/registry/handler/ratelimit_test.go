package handler_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/jmerrifield20/NodeRegistrar/internal/registry/handler"
	"github.com/stretchr/testify/assert"
)

func TestRateLimiter_perIP(t *testing.T) {
	gin.SetMode(gin.TestMode)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	r := gin.New()
	r.Use(handler.RateLimiter(ctx, 0.001, 2))
	r.GET("/", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	hit := func(remote string) int {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = remote
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w.Code
	}

	assert.Equal(t, http.StatusNoContent, hit("10.0.0.1:1000"))
	assert.Equal(t, http.StatusNoContent, hit("10.0.0.1:1001"))
	assert.Equal(t, http.StatusTooManyRequests, hit("10.0.0.1:1002"))
	assert.Equal(t, http.StatusNoContent, hit("10.0.0.2:1000"), "buckets are per source address")
}
