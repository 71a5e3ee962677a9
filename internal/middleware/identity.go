package middleware

// identity.go defines helper functions shared across middleware files. It
// provides a PickerID extraction function reading the identity the JWTAuth
// middleware stored in the Echo context. When no identity is present,
// "unknown" is returned; callers in the handler layer reject such requests
// before any mutation.

import (
	"github.com/labstack/echo/v4"
)

// PickerID extracts the picker identity from the request context. It
// returns "unknown" when no authenticated identity is available.
func PickerID(c echo.Context) string {
	if v, ok := c.Get("picker_id").(string); ok && v != "" {
		return v
	}
	return "unknown"
}
