package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	echo "github.com/labstack/echo/v4"
)

const ctxClient = "api_client"

// ClientFromCtx returns the API client name set by BearerAuth.
func ClientFromCtx(c echo.Context) (string, bool) {
	v, ok := c.Get(ctxClient).(string)
	return v, ok && v != ""
}

func bearer(r *http.Request) string {
	h := strings.TrimSpace(r.Header.Get("Authorization"))
	if len(h) < 7 || !strings.EqualFold(h[:7], "bearer ") {
		return ""
	}
	return strings.TrimSpace(h[7:])
}

func tokenEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// BearerAuth authenticates /v1 requests against the configured tokens
// (client name -> token) and stores the client name in the context.
func BearerAuth(tokens map[string]string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			tok := bearer(c.Request())
			if tok == "" {
				return c.JSON(http.StatusUnauthorized, map[string]string{"error": "missing bearer token"})
			}
			for name, want := range tokens {
				if want != "" && tokenEqual(tok, want) {
					c.Set(ctxClient, name)
					return next(c)
				}
			}
			return c.JSON(http.StatusUnauthorized, map[string]string{"error": "invalid token"})
		}
	}
}

// CronAuth gates the cron endpoint behind a shared secret. With required
// false (local runs) every request passes.
func CronAuth(secret string, required bool) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if !required {
				return next(c)
			}
			tok := bearer(c.Request())
			if secret == "" || tok == "" || !tokenEqual(tok, secret) {
				return c.JSON(http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
			}
			return next(c)
		}
	}
}
