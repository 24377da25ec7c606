package usercontext

import "github.com/gofiber/fiber/v2"

const KeyUserContext = "USER_CONTEXT"

// UserContext is the authenticated identity for a request.
type UserContext struct {
	UserID          uint   `json:"user_id"`
	Email           string `json:"email"`
	IsAuthenticated bool   `json:"is_authenticated"`
}

// SetUserContext stores the user context on the fiber context.
func SetUserContext(c *fiber.Ctx, ctx UserContext) {
	c.Locals(KeyUserContext, ctx)
}

// GetUserContext retrieves the user context from the fiber context, or an
// anonymous context if none is set.
func GetUserContext(c *fiber.Ctx) UserContext {
	if ctx := c.Locals(KeyUserContext); ctx != nil {
		if uc, ok := ctx.(UserContext); ok {
			return uc
		}
	}
	return UserContext{IsAuthenticated: false}
}

// GetUserID returns the current user's ID, or 0 when unauthenticated.
func GetUserID(c *fiber.Ctx) uint {
	return GetUserContext(c).UserID
}
