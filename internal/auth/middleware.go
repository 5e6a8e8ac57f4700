package auth

import (
	"context"

	"github.com/gofiber/fiber/v2"

	"github.com/fathima-sithara/tiffin-realtime/internal/apperr"
	"github.com/fathima-sithara/tiffin-realtime/internal/domain"
)

// IdentityKey is the Locals key RequireAuth stores the identity under.
const IdentityKey = "identity"

// ActiveChecker is the slice of the user directory the gate needs.
type ActiveChecker interface {
	IsActive(ctx context.Context, userID string) (bool, error)
}

// TokenFromRequest prefers the Authorization header and falls back to ?token=,
// since browsers cannot set headers on a websocket upgrade.
func TokenFromRequest(c *fiber.Ctx) (string, error) {
	if h := c.Get(fiber.HeaderAuthorization); h != "" {
		return ParseBearerToken(h)
	}
	if t := c.Query("token"); t != "" {
		return t, nil
	}
	return "", apperr.Auth(apperr.ReasonMissing, "no token provided")
}

// Authenticate runs the identity gate for one request or upgrade.
func Authenticate(ctx context.Context, c *fiber.Ctx, v *Verifier, users ActiveChecker) (domain.Identity, error) {
	token, err := TokenFromRequest(c)
	if err != nil {
		return domain.Identity{}, err
	}
	id, err := v.Verify(token)
	if err != nil {
		return domain.Identity{}, err
	}
	if users != nil {
		active, err := users.IsActive(ctx, id.UserID)
		if err != nil {
			return domain.Identity{}, apperr.Normalize(err, "user lookup failed")
		}
		if !active {
			return domain.Identity{}, apperr.Auth(apperr.ReasonInvalid, "user account is deactivated")
		}
	}
	return id, nil
}

// RequireAuth stores the verified identity in Locals for downstream handlers.
// onError renders the failure; the api package owns the error body format.
func RequireAuth(v *Verifier, users ActiveChecker, onError func(*fiber.Ctx, error) error) fiber.Handler {
	return func(c *fiber.Ctx) error {
		id, err := Authenticate(c.UserContext(), c, v, users)
		if err != nil {
			return onError(c, err)
		}
		c.Locals(IdentityKey, id)
		return c.Next()
	}
}

// IdentityFrom returns the identity stored by RequireAuth.
func IdentityFrom(c *fiber.Ctx) (domain.Identity, bool) {
	id, ok := c.Locals(IdentityKey).(domain.Identity)
	return id, ok
}

// RequireRole must run after RequireAuth.
func RequireRole(onError func(*fiber.Ctx, error) error, roles ...domain.Role) fiber.Handler {
	return func(c *fiber.Ctx) error {
		id, ok := IdentityFrom(c)
		if !ok {
			return onError(c, apperr.Auth(apperr.ReasonMissing, "not authenticated"))
		}
		for _, r := range roles {
			if id.Role == r {
				return c.Next()
			}
		}
		return onError(c, apperr.Authorization("role not allowed"))
	}
}
