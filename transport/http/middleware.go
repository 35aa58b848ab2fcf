package http

import (
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/elnormous/contenttype"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/layer-3/gatekeeper/connector"
	"github.com/layer-3/gatekeeper/core"
	"github.com/layer-3/gatekeeper/ports"
)

const (
	sessionKey   = "session"
	skipGateKey  = "skipGate"
	requestIDKey = "requestID"

	// RequestIDHeader carries the request id in both directions
	RequestIDHeader = "X-Request-ID"
)

var jsonMediaType = contenttype.NewMediaType("application/json")

// GateConfig lists the protected path prefixes and where to send visitors without a session
type GateConfig struct {
	Prefixes  []string
	LoginPath string
	Now       func() time.Time
}

// MatchesPrefix reports whether path is prefix itself or lies below it.
// "/bookmarks" matches "/bookmarks" and "/bookmarks/1" but not "/bookmarks-info".
func MatchesPrefix(path, prefix string) bool {
	prefix = strings.TrimSuffix(prefix, "/")
	return path == prefix || strings.HasPrefix(path, prefix+"/")
}

// Gate redirects requests for protected paths to the login page unless they
// carry a valid, unexpired session. Every failure to load a session redirects.
func Gate(cfg GateConfig, sessions ports.SessionStore, metrics *Metrics, log *slog.Logger) gin.HandlerFunc {
	if cfg.LoginPath == "" {
		cfg.LoginPath = "/login"
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if log == nil {
		log = slog.Default()
	}

	return func(c *gin.Context) {
		if c.GetBool(skipGateKey) || !gated(c.Request.URL.Path, cfg.Prefixes) {
			metrics.gateDecision("exempt")
			c.Next()
			return
		}

		session, err := sessions.Load(c.Writer, c.Request)
		switch {
		case err != nil:
			if !errors.Is(err, core.ErrNoSession) && !errors.Is(err, core.ErrSessionExpired) {
				log.Warn("gate.session_rejected", "path", c.Request.URL.Path, "error", err)
			}
			redirectToLogin(c, cfg.LoginPath, metrics)
			return
		case !session.Authenticated():
			redirectToLogin(c, cfg.LoginPath, metrics)
			return
		case session.Expired(cfg.Now()):
			sessions.Destroy(c.Writer)
			redirectToLogin(c, cfg.LoginPath, metrics)
			return
		}

		metrics.gateDecision("allowed")
		c.Set(sessionKey, session)
		c.Next()
	}
}

func gated(path string, prefixes []string) bool {
	for _, prefix := range prefixes {
		if MatchesPrefix(path, prefix) {
			return true
		}
	}
	return false
}

func redirectToLogin(c *gin.Context, loginPath string, metrics *Metrics) {
	metrics.gateDecision("redirected")
	target := loginPath + "?next=" + url.QueryEscape(c.Request.URL.RequestURI())
	c.Redirect(http.StatusFound, target)
	c.Abort()
}

// RequireSession is the API variant of Gate: it answers 401 instead of redirecting
// and exposes the session to handlers.
func RequireSession(sessions ports.SessionStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		session, err := sessions.Load(c.Writer, c.Request)
		if err != nil || !session.Authenticated() {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unauthenticated"})
			return
		}

		c.Set(sessionKey, session)
		c.Next()
	}
}

// SessionFromContext returns the session stored by Gate or RequireSession
func SessionFromContext(c *gin.Context) (*core.Session, bool) {
	v, ok := c.Get(sessionKey)
	if !ok {
		return nil, false
	}
	session, ok := v.(*core.Session)
	return session, ok && session.Authenticated()
}

// RequireJSON rejects request bodies that are not application/json
func RequireJSON() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctype, err := contenttype.GetMediaType(c.Request)
		if err != nil || !ctype.Matches(jsonMediaType) {
			c.AbortWithStatusJSON(http.StatusUnsupportedMediaType, gin.H{"error": "Content-Type must be application/json"})
			return
		}
		c.Next()
	}
}

// RequestLogger assigns a request id and logs every request once it completes.
// The level follows the status class.
func RequestLogger(log *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		requestID := c.GetHeader(RequestIDHeader)
		if _, err := uuid.Parse(requestID); err != nil {
			requestID = uuid.NewString()
		}
		c.Set(requestIDKey, requestID)
		c.Header(RequestIDHeader, requestID)

		c.Next()

		status := c.Writer.Status()
		level := slog.LevelInfo
		switch {
		case status >= 500:
			level = slog.LevelError
		case status >= 400:
			level = slog.LevelWarn
		}

		log.LogAttrs(c.Request.Context(), level, "http.request",
			slog.String("request_id", requestID),
			slog.String("method", c.Request.Method),
			slog.String("path", c.Request.URL.Path),
			slog.Int("status", status),
			slog.Int64("duration_ms", time.Since(start).Milliseconds()),
			slog.String("connector", string(connector.Detect(c.Request.Header))),
		)
	}
}
