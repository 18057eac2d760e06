package middleware

import (
	"net/http"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
)

// DefaultBodyLimit fits a complete certificate with every free-text field
// filled in several times over.
const DefaultBodyLimit = "256K"

// BodyLimit rejects request bodies larger than limit ("256K", "1M") with
// 413. Bodyless methods are not checked.
func BodyLimit(limit string) echo.MiddlewareFunc {
	if limit == "" {
		limit = DefaultBodyLimit
	}
	return echomw.BodyLimitWithConfig(echomw.BodyLimitConfig{
		Limit: limit,
		Skipper: func(c echo.Context) bool {
			switch c.Request().Method {
			case http.MethodGet, http.MethodHead, http.MethodOptions:
				return true
			}
			return false
		},
	})
}
