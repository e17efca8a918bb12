package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/bcrypt"

	app "github.com/wbrunovieira/WB-project-manager-sub000/cmd/api/app"
)

// APIKeyPrefix marks bearer tokens that are API keys rather than sessions.
// Keys have the form wbk_<key id>_<secret>.
const APIKeyPrefix = "wbk_"

const sessionCookie = "session"

// AuthUser represents the authenticated user.
type AuthUser struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name"`
	// "api_key" or "session"
	Via string `json:"via"`
}

// CurrentUser returns the user set by Middleware.
func CurrentUser(c *gin.Context) (AuthUser, bool) {
	v, ok := c.Get("user")
	if !ok {
		return AuthUser{}, false
	}
	u, ok := v.(AuthUser)
	return u, ok
}

// Middleware accepts an API key or a session token, from the Authorization
// header or the session cookie, and stores the user in the context.
func Middleware(a *app.App) gin.HandlerFunc {
	return func(c *gin.Context) {
		if a.Cfg.TestBypassAuth {
			c.Set("user", AuthUser{
				ID:    "test-user",
				Email: "test@example.com",
				Name:  "Test User",
				Via:   "session",
			})
			c.Set("auth_key", "test-user")
			c.Next()
			return
		}
		if a.DB == nil {
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "auth not configured"})
			return
		}
		var tokenStr string
		if h := c.GetHeader("Authorization"); strings.HasPrefix(h, "Bearer ") {
			tokenStr = strings.TrimSpace(strings.TrimPrefix(h, "Bearer "))
		} else if v, err := c.Cookie(sessionCookie); err == nil {
			tokenStr = v
		}
		if tokenStr == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing credentials"})
			return
		}
		if strings.HasPrefix(tokenStr, APIKeyPrefix) {
			u, keyID, err := apiKeyUser(c, a, tokenStr)
			if err != nil {
				log.Ctx(c.Request.Context()).Debug().Err(err).Msg("api key rejected")
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid api key"})
				return
			}
			c.Set("user", u)
			c.Set("auth_key", "key:"+keyID)
			c.Next()
			return
		}
		uid, err := ParseSession(a.Cfg.SessionSecret, tokenStr)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		u := AuthUser{Via: "session"}
		err = a.DB.QueryRow(c.Request.Context(), `select id::text, email, coalesce(name,'') from users where id=$1`, uid).Scan(&u.ID, &u.Email, &u.Name)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unknown user"})
			return
		}
		c.Set("user", u)
		c.Set("auth_key", "user:"+u.ID)
		c.Next()
	}
}

func apiKeyUser(c *gin.Context, a *app.App, token string) (AuthUser, string, error) {
	keyID, secret, ok := strings.Cut(strings.TrimPrefix(token, APIKeyPrefix), "_")
	if !ok || keyID == "" || secret == "" {
		return AuthUser{}, "", errors.New("malformed api key")
	}
	ctx := c.Request.Context()
	u := AuthUser{Via: "api_key"}
	var hash string
	const q = `select u.id::text, u.email, coalesce(u.name,''), k.secret_hash
from api_keys k join users u on u.id=k.user_id
where k.id=$1 and k.revoked_at is null`
	if err := a.DB.QueryRow(ctx, q, keyID).Scan(&u.ID, &u.Email, &u.Name, &hash); err != nil {
		return AuthUser{}, "", fmt.Errorf("lookup key %s: %w", keyID, err)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(secret)); err != nil {
		return AuthUser{}, "", err
	}
	_, _ = a.DB.Exec(ctx, `update api_keys set last_used_at=now() where id=$1`, keyID)
	return u, keyID, nil
}

// IssueSession signs a session token for userID.
func IssueSession(secret, userID string, ttl time.Duration) (string, error) {
	if secret == "" {
		return "", errors.New("session secret not configured")
	}
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   userID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

// ParseSession validates a session token and returns its subject.
func ParseSession(secret, tokenStr string) (string, error) {
	if secret == "" {
		return "", errors.New("session secret not configured")
	}
	var claims jwt.RegisteredClaims
	token, err := jwt.ParseWithClaims(tokenStr, &claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return []byte(secret), nil
	})
	if err != nil {
		return "", err
	}
	if !token.Valid || claims.Subject == "" {
		return "", errors.New("invalid session")
	}
	return claims.Subject, nil
}

// Member rejects requests from users outside the workspace named by the
// route parameter and stores their workspace role.
func Member(a *app.App, param string) gin.HandlerFunc {
	return func(c *gin.Context) {
		u, ok := CurrentUser(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated"})
			return
		}
		if a.DB == nil {
			c.Next()
			return
		}
		var role string
		err := a.DB.QueryRow(c.Request.Context(), `select role from workspace_members where workspace_id=$1 and user_id=$2`, c.Param(param), u.ID).Scan(&role)
		if errors.Is(err, pgx.ErrNoRows) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden"})
			return
		}
		if err != nil {
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.Set("workspace_role", role)
		c.Next()
	}
}

type loginReq struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

// Login exchanges email and password for a session cookie.
func Login(a *app.App) gin.HandlerFunc {
	return func(c *gin.Context) {
		var in loginReq
		if err := c.ShouldBindJSON(&in); err != nil {
			app.AbortBind(c, err)
			return
		}
		if a.DB == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "login disabled"})
			return
		}
		var id, hash string
		err := a.DB.QueryRow(c.Request.Context(), `select id::text, coalesce(password_hash,'') from users where lower(email)=lower($1)`, in.Email).Scan(&id, &hash)
		if err != nil || hash == "" || bcrypt.CompareHashAndPassword([]byte(hash), []byte(in.Password)) != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
			return
		}
		s, err := IssueSession(a.Cfg.SessionSecret, id, 24*time.Hour)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "token"})
			return
		}
		c.SetSameSite(http.SameSiteLaxMode)
		c.SetCookie(sessionCookie, s, 86400, "/", "", a.Cfg.Env != "dev", true)
		c.JSON(http.StatusOK, gin.H{"ok": true})
	}
}

func Logout() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.SetSameSite(http.SameSiteLaxMode)
		c.SetCookie(sessionCookie, "", -1, "/", "", false, true)
		c.JSON(http.StatusOK, gin.H{"ok": true})
	}
}

// Me returns the current user.
func Me(c *gin.Context) {
	u, ok := CurrentUser(c)
	if !ok {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated"})
		return
	}
	c.JSON(http.StatusOK, u)
}
