package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/isometry/ldapbridge/internal/auth"
	"github.com/isometry/ldapbridge/internal/ldap"
	"github.com/isometry/ldapbridge/internal/logging"
	"github.com/isometry/ldapbridge/internal/users"
)

type handlers struct {
	authn Authenticator
	store UserStore
}

func (h *handlers) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// login expects a JSON object holding "password" and the lookup fields, e.g.
// {"username": "alice", "password": "s3cret"}. Numbers are kept as json.Number so
// numeric identifiers keep their exact digits.
func (h *handlers) login(c *gin.Context) {
	var body map[string]any
	dec := json.NewDecoder(c.Request.Body)
	dec.UseNumber()
	if err := dec.Decode(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Request body must be a JSON object"})
		return
	}

	password, ok := body["password"].(string)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing password"})
		return
	}
	delete(body, "password")

	user, err := h.authn.Authenticate(c.Request.Context(), password, nil, body)

	var argErr *ldap.ArgumentError
	switch {
	case err == nil:
	case errors.As(err, &argErr):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "expected": argErr.Expected})
		return
	case errors.Is(err, auth.ErrInvalidCredentials), errors.Is(err, auth.ErrInactiveUser):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid credentials"})
		return
	case ldap.IsValidationError(err):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	default:
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Authentication backend unavailable"})
		return
	}

	session := sessions.Default(c)
	session.Clear()
	session.Set(sessionUserKey, user.ID.String())
	if err := session.Save(); err != nil {
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to save session"})
		return
	}

	logging.SubsystemInfo(c.Request.Context(), logSubsystem, "Session started", map[string]any{
		"username": user.Username,
	})
	c.JSON(http.StatusOK, gin.H{"message": "Logged in", "user": user})
}

func (h *handlers) logout(c *gin.Context) {
	session := sessions.Default(c)
	if session.Get(sessionUserKey) == nil {
		c.JSON(http.StatusOK, gin.H{"message": "No session"})
		return
	}

	session.Clear()
	session.Options(sessions.Options{Path: "/", MaxAge: -1})
	if err := session.Save(); err != nil {
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to save session"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Logged out"})
}

// authRequired loads the session user into the context, or aborts with 401.
func (h *handlers) authRequired(c *gin.Context) {
	session := sessions.Default(c)

	raw, _ := session.Get(sessionUserKey).(string)
	id, err := uuid.Parse(raw)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}

	user, err := h.store.Get(c.Request.Context(), id)
	switch {
	case errors.Is(err, users.ErrNotFound):
		session.Clear()
		_ = session.Save()
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	case err != nil:
		_ = c.Error(err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "Failed to load user"})
		return
	case !user.IsActive:
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}

	c.Set(sessionUserKey, user)
	c.Next()
}

func (h *handlers) me(c *gin.Context) {
	user := c.MustGet(sessionUserKey).(*users.User)
	c.JSON(http.StatusOK, gin.H{"user": user, "lookup_fields": h.authn.LookupFields()})
}
