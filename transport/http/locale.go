package http

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"golang.org/x/text/language"
)

// DefaultLocaleCookie is the cookie a visitor's explicit locale choice is kept in
const DefaultLocaleCookie = "NEXT_LOCALE"

// LocaleConfig describes the localized documentation family. The first
// supported locale is the fallback.
type LocaleConfig struct {
	Prefix     string
	Locales    []string
	CookieName string
}

// Locale moves documentation requests without a locale segment to the
// negotiated locale. Documentation is public, so requests under Prefix never
// reach the session gate.
func Locale(cfg LocaleConfig) gin.HandlerFunc {
	if cfg.Prefix == "" || len(cfg.Locales) == 0 {
		return func(c *gin.Context) { c.Next() }
	}
	if cfg.CookieName == "" {
		cfg.CookieName = DefaultLocaleCookie
	}

	tags := make([]language.Tag, 0, len(cfg.Locales))
	for _, l := range cfg.Locales {
		tags = append(tags, language.Make(l))
	}
	matcher := language.NewMatcher(tags)

	return func(c *gin.Context) {
		path := c.Request.URL.Path
		if !MatchesPrefix(path, cfg.Prefix) {
			c.Next()
			return
		}
		c.Set(skipGateKey, true)

		rest := strings.TrimPrefix(path, strings.TrimSuffix(cfg.Prefix, "/"))
		segment, _, _ := strings.Cut(strings.TrimPrefix(rest, "/"), "/")
		if supportedLocale(cfg.Locales, segment) != "" {
			c.Next()
			return
		}

		locale := negotiateLocale(c.Request, cfg, matcher)
		target := strings.TrimSuffix(cfg.Prefix, "/") + "/" + locale + rest
		if q := c.Request.URL.RawQuery; q != "" {
			target += "?" + q
		}

		c.Redirect(http.StatusTemporaryRedirect, target)
		c.Abort()
	}
}

func negotiateLocale(r *http.Request, cfg LocaleConfig, matcher language.Matcher) string {
	if cookie, err := r.Cookie(cfg.CookieName); err == nil {
		if l := supportedLocale(cfg.Locales, cookie.Value); l != "" {
			return l
		}
	}

	accepted, _, err := language.ParseAcceptLanguage(r.Header.Get("Accept-Language"))
	if err != nil || len(accepted) == 0 {
		return cfg.Locales[0]
	}

	_, index, confidence := matcher.Match(accepted...)
	if confidence == language.No {
		return cfg.Locales[0]
	}
	return cfg.Locales[index]
}

func supportedLocale(locales []string, candidate string) string {
	for _, l := range locales {
		if strings.EqualFold(l, candidate) {
			return l
		}
	}
	return ""
}
