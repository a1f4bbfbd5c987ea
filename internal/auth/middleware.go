package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

type contextKey string

const sessionIDKey contextKey = "sessionID"

// CookieName is the cookie carrying the signed session token.
const CookieName = "fruit_session"

// GetSessionID retrieves the session id from context.
func GetSessionID(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}
	if value, ok := ctx.Value(sessionIDKey).(string); ok && value != "" {
		return value, true
	}
	return "", false
}

// SessionFromGin returns the session id resolved by SessionMiddleware.
func SessionFromGin(c *gin.Context) string {
	if id, ok := GetSessionID(c.Request.Context()); ok {
		return id
	}
	return c.GetString(string(sessionIDKey))
}

// Sessions signs and verifies session tokens.
type Sessions struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewSessions creates a signer. The secret must not be empty.
func NewSessions(secret string, ttl time.Duration) (*Sessions, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, errors.New("session secret is required")
	}
	if ttl <= 0 {
		return nil, errors.New("session ttl must be positive")
	}
	return &Sessions{secret: []byte(secret), ttl: ttl, now: time.Now}, nil
}

// Issue creates a signed token for sessionID.
func (s *Sessions) Issue(sessionID string) (string, error) {
	now := s.now()
	claims := jwt.RegisteredClaims{
		Subject:   sessionID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
}

// Parse validates a token and returns its session id.
func (s *Sessions) Parse(tokenString string) (string, error) {
	claims := &jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return s.secret, nil
	}, jwt.WithTimeFunc(s.now))
	if err != nil || !token.Valid {
		return "", errors.New("invalid session token")
	}
	if _, err := uuid.Parse(claims.Subject); err != nil {
		return "", errors.New("invalid session subject")
	}
	return claims.Subject, nil
}

// SessionMiddleware resolves the caller's session from its cookie, starting a
// new session when the cookie is missing or invalid.
func SessionMiddleware(sessions *Sessions) gin.HandlerFunc {
	return func(c *gin.Context) {
		sessionID := ""
		if cookie, err := c.Cookie(CookieName); err == nil && cookie != "" {
			if id, err := sessions.Parse(cookie); err == nil {
				sessionID = id
			}
		}

		if sessionID == "" {
			sessionID = uuid.NewString()
			token, err := sessions.Issue(sessionID)
			if err != nil {
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "failed to start session"})
				return
			}
			c.SetSameSite(http.SameSiteLaxMode)
			c.SetCookie(CookieName, token, int(sessions.ttl.Seconds()), "/", "", false, true)
		}

		ctx := context.WithValue(c.Request.Context(), sessionIDKey, sessionID)
		c.Request = c.Request.WithContext(ctx)
		c.Set(string(sessionIDKey), sessionID)

		c.Next()
	}
}
