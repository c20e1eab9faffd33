package middleware

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/LinkFox/internal/pkg/session"
	"github.com/ManuelReschke/LinkFox/internal/pkg/usercontext"
)

// UserContextMiddleware reads the login session written by the account
// service and sets the user context for every request. Billing routes rely on
// it instead of touching the session themselves.
func UserContextMiddleware(c *fiber.Ctx) error {
	store := session.GetSessionStore()
	if store == nil {
		usercontext.SetUserContext(c, usercontext.UserContext{})
		return c.Next()
	}

	sess, err := store.Get(c)
	if err != nil {
		log.Warnf("[Session] could not load session: %v", err)
		usercontext.SetUserContext(c, usercontext.UserContext{})
		return c.Next()
	}

	userID, ok := sess.Get(usercontext.KeyUserID).(uint)
	if !ok || userID == 0 {
		usercontext.SetUserContext(c, usercontext.UserContext{})
		return c.Next()
	}

	email, _ := sess.Get(usercontext.KeyUserEmail).(string)
	isAdmin, _ := sess.Get(usercontext.KeyIsAdmin).(bool)
	usercontext.SetUserContext(c, usercontext.UserContext{
		UserID:     userID,
		Email:      email,
		IsLoggedIn: true,
		IsAdmin:    isAdmin,
	})
	return c.Next()
}
