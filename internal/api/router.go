// Package api exposes the daemon's operations over HTTP on the session's
// unix socket, plus a websocket event stream mirroring the internal bus.
package api

import (
	"net/http"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/parley-im/parley/internal/broadcast"
	"github.com/parley-im/parley/internal/bus"
	"github.com/parley-im/parley/internal/cache"
	"github.com/parley-im/parley/internal/engine"
	"github.com/parley-im/parley/internal/identity"
)

// API bundles the handlers' dependencies.
type API struct {
	engine    *engine.Engine
	broadcast *broadcast.Engine
	identity  *identity.Provider
	db        *cache.DB
	bus       *bus.Bus
	logger    *zap.Logger
}

// New creates the API.
func New(eng *engine.Engine, bc *broadcast.Engine, id *identity.Provider, db *cache.DB, b *bus.Bus, logger *zap.Logger) *API {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &API{
		engine:    eng,
		broadcast: bc,
		identity:  id,
		db:        db,
		bus:       b,
		logger:    logger,
	}
}

// Router builds the gin engine with all routes registered.
func (a *API) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(cors.Default())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := r.Group("/v1")

	auth := v1.Group("/auth")
	auth.POST("/signup", a.signUp)
	auth.POST("/signin", a.signIn)
	auth.POST("/signout", a.signOut)

	signed := v1.Group("")
	signed.Use(a.requireAuth)
	{
		signed.GET("/me", a.me)
		signed.PATCH("/me", a.updateProfile)
		signed.GET("/contacts", a.listContacts)

		signed.GET("/chats", a.listChats)
		signed.POST("/chats", a.createOrGetChat)
		signed.GET("/chats/active", a.activeChat)
		signed.PUT("/chats/active", a.setActiveChat)
		signed.GET("/chats/:id/messages", a.listMessages)
		signed.POST("/chats/:id/messages", a.sendMessage)
		signed.POST("/chats/:id/read", a.markAsRead)
		signed.GET("/chats/:id/typing", a.typing)
		signed.POST("/chats/:id/typing", a.setTyping)

		signed.POST("/messages/:id/retry", a.retrySend)
		signed.GET("/search", a.searchMessages)

		signed.GET("/statuses", a.listStatuses)
		signed.POST("/statuses", a.addStatus)
		signed.POST("/statuses/:id/view", a.viewStatus)
		signed.DELETE("/statuses/:id", a.deleteStatus)
		signed.GET("/statuses/:id/viewers", a.statusViewers)

		signed.GET("/watch", a.watch)
	}

	return r
}

// requireAuth rejects requests while no account is signed in. The transport
// is a 0600 unix socket, so presence of an identity is the whole check.
func (a *API) requireAuth(c *gin.Context) {
	if a.identity.Current() == nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "not signed in"})
		return
	}
	c.Next()
}
