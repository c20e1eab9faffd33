package session

import (
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2/middleware/session"
	"github.com/gofiber/storage/redis"

	"github.com/ManuelReschke/LinkFox/internal/pkg/config"
)

var sessionStore *session.Store

// NewSessionStore creates the redis backed session store. Sessions are
// written by the account service on login and only read here.
func NewSessionStore(cfg config.CacheConfig, secure bool) *session.Store {
	port, err := strconv.Atoi(cfg.Port)
	if err != nil {
		port = 6379
	}

	// Separate database for sessions (cache uses DB 0)
	storage := redis.New(redis.Config{
		Host:     cfg.Host,
		Port:     port,
		Password: cfg.Password,
		Database: 1,
		Reset:    false,
	})

	sessionStore = session.New(session.Config{
		Storage:        storage,
		CookieHTTPOnly: true,
		CookieSecure:   secure,
		Expiration:     time.Hour * 1,
		KeyLookup:      "cookie:session_id",
	})
	return sessionStore
}

// UseStore replaces the package store, e.g. with an in-memory store in tests.
func UseStore(store *session.Store) {
	sessionStore = store
}

func GetSessionStore() *session.Store {
	return sessionStore
}
