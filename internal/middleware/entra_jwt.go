package middleware

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"IBT-ASSESS/internal/config"
	"IBT-ASSESS/internal/services"

	"github.com/MicahParks/keyfunc/v3"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

const ClaimsKey = "claims"

// NewEntraJWTMiddleware validates Entra ID bearer tokens against the tenant
// JWKS. The returned cleanup stops the background key refresh.
func NewEntraJWTMiddleware(cfg config.AuthConfig, logger *zap.Logger) (gin.HandlerFunc, func(), error) {
	ctx, cancel := context.WithCancel(context.Background())

	k, err := keyfunc.NewDefaultCtx(ctx, []string{cfg.JWKSURL})
	if err != nil {
		cancel()
		return nil, nil, fmt.Errorf("failed to load JWKS from %s: %w", cfg.JWKSURL, err)
	}

	return entraJWT(cfg, k.Keyfunc, logger), cancel, nil
}

func entraJWT(cfg config.AuthConfig, keys jwt.Keyfunc, logger *zap.Logger) gin.HandlerFunc {
	if logger == nil {
		logger = zap.NewNop()
	}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{"RS256"}),
		jwt.WithLeeway(30 * time.Second),
		jwt.WithExpirationRequired(),
	}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	if cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(cfg.Audience))
	}

	return func(c *gin.Context) {
		auth := c.GetHeader("Authorization")
		if auth == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing Authorization header"})
			return
		}
		scheme, rawToken, ok := strings.Cut(auth, " ")
		rawToken = strings.TrimSpace(rawToken)
		if !ok || !strings.EqualFold(scheme, "Bearer") || rawToken == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid Authorization header"})
			return
		}

		token, err := jwt.Parse(rawToken, keys, opts...)
		if err != nil || !token.Valid {
			logger.Debug("Rejected bearer token", zap.Error(err))
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		claims, ok := token.Claims.(jwt.MapClaims)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token claims"})
			return
		}

		if cfg.TenantID != "" {
			if tid, _ := claims["tid"].(string); tid != cfg.TenantID {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "wrong tenant"})
				return
			}
		}

		c.Set(ClaimsKey, claims)
		if actor := actorFromClaims(claims); actor != "" {
			c.Set(services.ActorKey, actor)
		}
		c.Next()
	}
}

func actorFromClaims(claims jwt.MapClaims) string {
	for _, key := range []string{"preferred_username", "upn", "oid", "sub"} {
		if v, _ := claims[key].(string); v != "" {
			return v
		}
	}
	return ""
}
