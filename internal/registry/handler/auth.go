package handler

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jmerrifield20/NodeRegistrar/internal/access"
	"github.com/jmerrifield20/NodeRegistrar/internal/identity"
	"github.com/jmerrifield20/NodeRegistrar/internal/registry/model"
	"github.com/jmerrifield20/NodeRegistrar/internal/users"
	"go.uber.org/zap"
)

// callerKey is the gin context key holding the authenticated model.Caller.
const callerKey = "registrar_caller"

// authenticator is satisfied by *users.UserService.
type authenticator interface {
	Authenticate(ctx context.Context, login, password string) (*users.User, error)
}

// AuthHandler establishes caller identity from HTTP basic credentials or a
// bearer token, and issues bearer tokens.
type AuthHandler struct {
	users  authenticator
	tokens *identity.TokenIssuer // nil = basic auth only
	logger *zap.Logger
}

// NewAuthHandler creates an AuthHandler. tokens may be nil to disable bearer
// tokens.
func NewAuthHandler(users authenticator, tokens *identity.TokenIssuer, logger *zap.Logger) *AuthHandler {
	return &AuthHandler{users: users, tokens: tokens, logger: logger}
}

// Register mounts the token route on the provided router group.
func (h *AuthHandler) Register(rg *gin.RouterGroup) {
	auth := rg.Group("/auth")
	{
		auth.POST("/token", h.IssueToken)
	}
}

// Authenticate is middleware that rejects unauthenticated requests with 401
// and stores the caller for downstream handlers. The source address always
// comes from the request, never from a token.
func (h *AuthHandler) Authenticate() gin.HandlerFunc {
	return func(c *gin.Context) {
		caller, err := h.callerFromRequest(c)
		if err != nil {
			h.logger.Debug("authentication failed",
				zap.String("path", c.Request.URL.Path),
				zap.String("client_ip", c.ClientIP()),
				zap.Error(err),
			)
			c.Header("WWW-Authenticate", `Basic realm="registrar"`)
			c.AbortWithStatusJSON(http.StatusUnauthorized, envelope{Result: false, Message: "unable to authenticate user"})
			return
		}
		c.Set(callerKey, caller)
		c.Next()
	}
}

// RequirePermission is middleware that aborts with 403 unless the caller's
// role carries perm. It must run after Authenticate.
func RequirePermission(perm string) gin.HandlerFunc {
	return func(c *gin.Context) {
		caller := CallerFromCtx(c)
		if !access.Allowed(caller.Role, perm) {
			c.AbortWithStatusJSON(http.StatusForbidden, envelope{Result: false, Message: "missing permission " + perm})
			return
		}
		c.Next()
	}
}

// CallerFromCtx returns the caller stored by Authenticate, or the zero Caller.
func CallerFromCtx(c *gin.Context) model.Caller {
	v, ok := c.Get(callerKey)
	if !ok {
		return model.Caller{SourceIP: c.ClientIP()}
	}
	caller, _ := v.(model.Caller)
	return caller
}

func (h *AuthHandler) callerFromRequest(c *gin.Context) (model.Caller, error) {
	header := c.GetHeader("Authorization")
	if strings.HasPrefix(header, "Bearer ") {
		if h.tokens == nil {
			return model.Caller{}, errors.New("bearer tokens are disabled")
		}
		claims, err := h.tokens.Verify(strings.TrimPrefix(header, "Bearer "))
		if err != nil {
			return model.Caller{}, err
		}
		return model.Caller{Login: claims.Login, Role: claims.Role, SourceIP: c.ClientIP()}, nil
	}

	login, password, ok := c.Request.BasicAuth()
	if !ok {
		return model.Caller{}, errors.New("no credentials")
	}
	u, err := h.users.Authenticate(c.Request.Context(), login, password)
	if err != nil {
		return model.Caller{}, err
	}
	return model.Caller{Login: u.Login, Role: u.Role, SourceIP: c.ClientIP()}, nil
}

type tokenResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// IssueToken handles POST /auth/token. The caller presents basic credentials
// and receives a bearer token.
func (h *AuthHandler) IssueToken(c *gin.Context) {
	if h.tokens == nil {
		c.JSON(http.StatusNotFound, envelope{Result: false, Message: "bearer tokens are disabled"})
		return
	}
	login, password, ok := c.Request.BasicAuth()
	if !ok {
		c.Header("WWW-Authenticate", `Basic realm="registrar"`)
		c.JSON(http.StatusUnauthorized, envelope{Result: false, Message: "basic credentials required"})
		return
	}
	u, err := h.users.Authenticate(c.Request.Context(), login, password)
	if err != nil {
		if !errors.Is(err, users.ErrInvalidCredentials) {
			h.logger.Error("authenticate", zap.String("login", login), zap.Error(err))
		}
		c.JSON(http.StatusUnauthorized, envelope{Result: false, Message: "unable to authenticate user"})
		return
	}

	token, expires, err := h.tokens.Issue(u.ID.String(), u.Login, u.Role)
	if err != nil {
		h.logger.Error("issue token", zap.String("login", login), zap.Error(err))
		c.JSON(http.StatusInternalServerError, envelope{Result: false, Message: "failed to issue token"})
		return
	}
	c.JSON(http.StatusOK, tokenResponse{Token: token, ExpiresAt: expires})
}
