package users

import (
	"crypto/rand"
	"encoding/hex"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	app "github.com/wbrunovieira/WB-project-manager-sub000/cmd/api/app"
	authpkg "github.com/wbrunovieira/WB-project-manager-sub000/cmd/api/auth"
)

type passwordReq struct {
	Current string `json:"current_password" binding:"required"`
	New     string `json:"new_password" binding:"required,min=8"`
}

// ChangePassword replaces the password of the signed-in user.
func ChangePassword(a *app.App) gin.HandlerFunc {
	return func(c *gin.Context) {
		u, _ := authpkg.CurrentUser(c)
		var in passwordReq
		if err := c.ShouldBindJSON(&in); err != nil {
			app.AbortBind(c, err)
			return
		}
		ctx := c.Request.Context()
		var hash string
		if err := a.DB.QueryRow(ctx, `select coalesce(password_hash,'') from users where id=$1`, u.ID).Scan(&hash); err != nil {
			app.AbortError(c, http.StatusNotFound, "not_found", "user not found", nil)
			return
		}
		if hash == "" || bcrypt.CompareHashAndPassword([]byte(hash), []byte(in.Current)) != nil {
			app.AbortError(c, http.StatusForbidden, "invalid_credentials", "current password does not match", nil)
			return
		}
		next, err := bcrypt.GenerateFromPassword([]byte(in.New), bcrypt.DefaultCost)
		if err != nil {
			app.AbortError(c, http.StatusInternalServerError, "internal", err.Error(), nil)
			return
		}
		if _, err := a.DB.Exec(ctx, `update users set password_hash=$1 where id=$2`, string(next), u.ID); err != nil {
			app.AbortError(c, http.StatusInternalServerError, "db_error", err.Error(), nil)
			return
		}
		c.JSON(http.StatusOK, gin.H{"ok": true})
	}
}

type APIKey struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	CreatedAt  time.Time  `json:"created_at"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty"`
	// Token is only returned once, on creation.
	Token string `json:"token,omitempty"`
}

type keyReq struct {
	Name string `json:"name" binding:"required,max=100"`
}

// newToken returns a key id, its secret and the bearer token joining them.
func newToken() (id, secret, token string, err error) {
	id = strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
	b := make([]byte, 24)
	if _, err = rand.Read(b); err != nil {
		return "", "", "", err
	}
	secret = hex.EncodeToString(b)
	return id, secret, authpkg.APIKeyPrefix + id + "_" + secret, nil
}

// CreateAPIKey mints an API key for the signed-in user. Only the bcrypt hash
// of the secret is stored.
func CreateAPIKey(a *app.App) gin.HandlerFunc {
	return func(c *gin.Context) {
		u, _ := authpkg.CurrentUser(c)
		var in keyReq
		if err := c.ShouldBindJSON(&in); err != nil {
			app.AbortBind(c, err)
			return
		}
		id, secret, token, err := newToken()
		if err != nil {
			app.AbortError(c, http.StatusInternalServerError, "internal", err.Error(), nil)
			return
		}
		hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
		if err != nil {
			app.AbortError(c, http.StatusInternalServerError, "internal", err.Error(), nil)
			return
		}
		k := APIKey{ID: id, Name: in.Name, Token: token}
		err = a.DB.QueryRow(c.Request.Context(), `insert into api_keys (id, user_id, name, secret_hash) values ($1, $2, $3, $4) returning created_at`,
			id, u.ID, in.Name, string(hash)).Scan(&k.CreatedAt)
		if err != nil {
			app.AbortError(c, http.StatusInternalServerError, "db_error", err.Error(), nil)
			return
		}
		c.JSON(http.StatusCreated, k)
	}
}

// ListAPIKeys returns the active keys of the signed-in user.
func ListAPIKeys(a *app.App) gin.HandlerFunc {
	return func(c *gin.Context) {
		u, _ := authpkg.CurrentUser(c)
		rows, err := a.DB.Query(c.Request.Context(), `select id, name, created_at, last_used_at from api_keys where user_id=$1 and revoked_at is null order by created_at`, u.ID)
		if err != nil {
			app.AbortError(c, http.StatusInternalServerError, "db_error", err.Error(), nil)
			return
		}
		defer rows.Close()
		out := []APIKey{}
		for rows.Next() {
			var k APIKey
			if err := rows.Scan(&k.ID, &k.Name, &k.CreatedAt, &k.LastUsedAt); err != nil {
				app.AbortError(c, http.StatusInternalServerError, "db_error", err.Error(), nil)
				return
			}
			out = append(out, k)
		}
		c.JSON(http.StatusOK, out)
	}
}

// RevokeAPIKey disables a key owned by the signed-in user.
func RevokeAPIKey(a *app.App) gin.HandlerFunc {
	return func(c *gin.Context) {
		u, _ := authpkg.CurrentUser(c)
		tag, err := a.DB.Exec(c.Request.Context(), `update api_keys set revoked_at=now() where id=$1 and user_id=$2 and revoked_at is null`, c.Param("keyID"), u.ID)
		if err != nil {
			app.AbortError(c, http.StatusInternalServerError, "db_error", err.Error(), nil)
			return
		}
		if tag.RowsAffected() == 0 {
			app.AbortError(c, http.StatusNotFound, "not_found", "api key not found", nil)
			return
		}
		c.Status(http.StatusNoContent)
	}
}
