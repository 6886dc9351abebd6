package server

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"LnSPoll/core/auth"
	"LnSPoll/logger"
)

type contextKey string

const claimsKey contextKey = "adminClaims"

// LoginRequest represents the login request body
type LoginRequest struct {
	Password string `json:"password"`
}

// LoginHandler exchanges the admin password for a bearer token.
func (h *APIHandler) LoginHandler(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := ParseJSONBody(r, &req); err != nil {
		ErrorResponse(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Password == "" {
		ErrorResponse(w, http.StatusBadRequest, "password is required")
		return
	}

	token, expires, err := h.auth.Login(req.Password)
	if err != nil {
		if errors.Is(err, auth.ErrBadCredentials) {
			logger.Warn("[Login] 管理员密码错误", logger.String("remote", r.RemoteAddr))
			ErrorResponse(w, http.StatusUnauthorized, "invalid password")
			return
		}
		logger.Error("[Login] 生成令牌失败", logger.ErrorField(err))
		ErrorResponse(w, http.StatusInternalServerError, "failed to issue token")
		return
	}

	logger.Info("[Login] admin logged in", logger.String("remote", r.RemoteAddr))
	JSONResponse(w, http.StatusOK, map[string]interface{}{
		"token":     token,
		"expiresAt": expires,
	})
}

// bearerToken reads the Authorization header. Browsers cannot set headers on a
// websocket handshake, so the feed may pass the token as ?token= instead.
func bearerToken(r *http.Request, allowQuery bool) (string, bool) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		if allowQuery {
			if t := r.URL.Query().Get("token"); t != "" {
				return t, true
			}
		}
		return "", false
	}
	parts := strings.Split(authHeader, " ")
	if len(parts) != 2 || parts[0] != "Bearer" || parts[1] == "" {
		return "", false
	}
	return parts[1], true
}

func (h *APIHandler) authenticate(next http.HandlerFunc, allowQuery bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token, ok := bearerToken(r, allowQuery)
		if !ok {
			ErrorResponse(w, http.StatusUnauthorized, "a bearer token is required")
			return
		}

		claims, err := h.auth.ParseToken(token)
		if err != nil {
			logger.Debug("[Auth] token rejected", logger.ErrorField(err))
			ErrorResponse(w, http.StatusUnauthorized, "invalid or expired token")
			return
		}

		ctx := context.WithValue(r.Context(), claimsKey, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	}
}

// AuthMiddleware guards admin endpoints with a bearer token.
func (h *APIHandler) AuthMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return h.authenticate(next, false)
}

// ClaimsFromContext returns the admin claims set by AuthMiddleware.
func ClaimsFromContext(ctx context.Context) (*auth.Claims, bool) {
	c, ok := ctx.Value(claimsKey).(*auth.Claims)
	return c, ok
}
