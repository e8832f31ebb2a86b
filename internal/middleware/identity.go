package middleware

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/writeflow/writeflow-backend/internal/logger"
	"github.com/writeflow/writeflow-backend/internal/requestdata"
)

const guestCookieName = "guest_id"

// IdentityMiddleware resolves the caller to either an authenticated user (JWT
// Bearer token) or a guest (cookie). A request with neither gets a fresh guest
// id minted and set as a cookie, so every request downstream carries exactly
// one identity.
type IdentityMiddleware struct {
	log          *logger.Logger
	jwtSecretKey string
	cookieSecure bool
}

func NewIdentityMiddleware(log *logger.Logger, jwtSecretKey string, cookieSecure bool) *IdentityMiddleware {
	return &IdentityMiddleware{
		log:          log.With("middleware", "IdentityMiddleware"),
		jwtSecretKey: jwtSecretKey,
		cookieSecure: cookieSecure,
	}
}

func (im *IdentityMiddleware) Resolve() gin.HandlerFunc {
	return func(c *gin.Context) {
		rd := &requestdata.RequestData{}

		if token := extractBearerToken(c); token != "" {
			userID, err := im.parseUserID(token)
			if err != nil {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
				return
			}
			rd.UserID = userID
		} else {
			rd.GuestID = im.resolveGuestID(c)
		}

		ctx := requestdata.WithRequestData(c.Request.Context(), rd)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

func (im *IdentityMiddleware) parseUserID(tokenString string) (uuid.UUID, error) {
	parsed, err := jwt.ParseWithClaims(tokenString, &jwt.RegisteredClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
		}
		return []byte(im.jwtSecretKey), nil
	})
	if err != nil || !parsed.Valid {
		return uuid.Nil, fmt.Errorf("parse token: %w", err)
	}
	claims, ok := parsed.Claims.(*jwt.RegisteredClaims)
	if !ok || claims.Subject == "" {
		return uuid.Nil, fmt.Errorf("token missing subject")
	}
	userID, err := uuid.Parse(claims.Subject)
	if err != nil {
		return uuid.Nil, fmt.Errorf("subject is not a uuid: %w", err)
	}
	return userID, nil
}

func (im *IdentityMiddleware) resolveGuestID(c *gin.Context) string {
	if raw, err := c.Cookie(guestCookieName); err == nil {
		if parsed, err := uuid.Parse(raw); err == nil {
			return parsed.String()
		}
	}
	guestID := uuid.New().String()
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(guestCookieName, guestID, int((365 * 24 * time.Hour).Seconds()), "/", "", im.cookieSecure, true)
	im.log.Debug("Minted guest id", "guest_id", guestID)
	return guestID
}

func extractBearerToken(c *gin.Context) string {
	authHeader := c.GetHeader("Authorization")
	if len(authHeader) > 7 && strings.EqualFold(authHeader[:7], "Bearer ") {
		return authHeader[7:]
	}
	return ""
}
