// Package api serves the JSON login API backed by the directory.
package api

import (
	"context"
	"crypto/rand"
	"net/http"
	"time"

	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/isometry/ldapbridge/internal/config"
	"github.com/isometry/ldapbridge/internal/ldap"
	"github.com/isometry/ldapbridge/internal/logging"
	"github.com/isometry/ldapbridge/internal/users"
)

const (
	logSubsystem = logging.SubsystemAPI

	sessionName    = "ldapbridge"
	sessionUserKey = "user_id"
	sessionMaxAge  = 12 * time.Hour
)

// Authenticator logs users in against the directory.
type Authenticator interface {
	Authenticate(ctx context.Context, password string, args []any, kwargs map[string]any) (*users.User, error)
	LookupFields() ldap.LookupFields
}

// UserStore loads local users for established sessions.
type UserStore interface {
	Get(ctx context.Context, id uuid.UUID) (*users.User, error)
}

// Config configures the router.
type Config struct {
	// SessionSecret signs session cookies. A random secret is generated when empty,
	// so sessions do not survive a restart.
	SessionSecret []byte
	SecureCookies bool
}

// ConfigFromSettings extracts the router configuration from settings.
func ConfigFromSettings(settings *config.Settings) Config {
	return Config{
		SessionSecret: []byte(settings.HTTP.SessionSecret),
		SecureCookies: settings.HTTP.SecureCookies,
	}
}

// NewRouter returns the API router. Request contexts carry the loggers of base.
func NewRouter(base context.Context, authn Authenticator, store UserStore, config Config) *gin.Engine {
	router := gin.New()
	router.Use(requestLogger(base), gin.Recovery())
	router.Use(sessions.Sessions(sessionName, newCookieStore(base, config)))

	h := &handlers{authn: authn, store: store}

	router.GET("/healthz", h.health)

	public := router.Group("/api")
	public.POST("/login", h.login)
	public.POST("/logout", h.logout)

	private := router.Group("/api")
	private.Use(h.authRequired)
	private.GET("/me", h.me)

	return router
}

func newCookieStore(ctx context.Context, config Config) cookie.Store {
	secret := config.SessionSecret
	if len(secret) == 0 {
		logging.SubsystemWarn(ctx, logSubsystem, "No session secret configured, generating one")
		secret = make([]byte, 32)
		// crypto/rand.Read never returns an error on supported platforms.
		_, _ = rand.Read(secret)
	}

	store := cookie.NewStore(secret)
	store.Options(sessions.Options{
		Path:     "/",
		MaxAge:   int(sessionMaxAge.Seconds()),
		Secure:   config.SecureCookies,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	return store
}

// requestLogger gives each request the loggers of base and logs it once served.
func requestLogger(base context.Context) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		ctx := logging.Inherit(c.Request.Context(), base)
		c.Request = c.Request.WithContext(ctx)

		c.Next()

		fields := map[string]any{
			"method":      c.Request.Method,
			"path":        c.FullPath(),
			"status":      c.Writer.Status(),
			"duration_ms": time.Since(start).Milliseconds(),
			"client_ip":   c.ClientIP(),
		}
		if len(c.Errors) > 0 {
			fields["error"] = c.Errors.String()
		}

		switch status := c.Writer.Status(); {
		case status >= http.StatusInternalServerError:
			logging.SubsystemError(ctx, logSubsystem, "Request failed", fields)
		case status >= http.StatusBadRequest:
			logging.SubsystemInfo(ctx, logSubsystem, "Request rejected", fields)
		default:
			logging.SubsystemDebug(ctx, logSubsystem, "Request served", fields)
		}
	}
}
