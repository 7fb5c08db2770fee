// Package httpapi exposes the core over HTTP. It is a thin adapter: request
// decoding, actor identification and status mapping live here, every
// decision is made by the packages underneath.
package httpapi

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/ghostmem/ghostmem/core"
	"github.com/ghostmem/ghostmem/embedder"
	"github.com/ghostmem/ghostmem/ghost"
	"github.com/ghostmem/ghostmem/publish"
	"github.com/ghostmem/ghostmem/search"
	"github.com/ghostmem/ghostmem/store"
)

// actorHeader carries the caller identity. Authentication proper is a
// deployment concern; this adapter trusts the header.
const actorHeader = "X-Actor-ID"

// Server bundles the core services behind a gin router.
type Server struct {
	records     store.RecordStore
	emb         embedder.Embedder
	resolver    *ghost.Resolver
	configs     *ghost.ConfigManager
	escalations *ghost.Tracker
	coordinator *publish.Coordinator
	searcher    *search.Searcher
	log         *logrus.Logger
}

// NewServer wires the HTTP adapter.
func NewServer(records store.RecordStore, emb embedder.Embedder, resolver *ghost.Resolver, configs *ghost.ConfigManager, escalations *ghost.Tracker, coordinator *publish.Coordinator, searcher *search.Searcher, log *logrus.Logger) *Server {
	if log == nil {
		log = logrus.New()
	}
	return &Server{
		records:     records,
		emb:         emb,
		resolver:    resolver,
		configs:     configs,
		escalations: escalations,
		coordinator: coordinator,
		searcher:    searcher,
		log:         log,
	}
}

// Router builds the gin engine with all routes mounted.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(s.requireActor())

	api := r.Group("/api/v1")
	{
		api.POST("/records", s.handleCreateRecord)
		api.DELETE("/records/:id", s.handleDeleteRecord)
		api.GET("/records/:id/access", s.handleCheckAccess)

		ghostGroup := api.Group("/ghost")
		{
			ghostGroup.GET("/config", s.handleGetConfig)
			ghostGroup.PATCH("/config", s.handleUpdateConfig)
			ghostGroup.POST("/config/reset", s.handleResetConfig)
			ghostGroup.POST("/trust", s.handleSetTrust)
			ghostGroup.DELETE("/trust/:accessor", s.handleRemoveTrust)
			ghostGroup.POST("/block", s.handleBlock)
			ghostGroup.POST("/unblock", s.handleUnblock)
			ghostGroup.POST("/escalations/reset", s.handleResetEscalation)
		}

		pub := api.Group("/publications")
		{
			pub.POST("/publish", s.handlePublish)
			pub.POST("/retract", s.handleRetract)
			pub.POST("/revise", s.handleRevise)
			pub.POST("/confirm", s.handleConfirm)
			pub.POST("/deny", s.handleDeny)
			pub.POST("/moderate", s.handleModerate)
		}

		api.POST("/search", s.handleSearch)
	}
	return r
}

// requireActor rejects requests without a caller identity.
func (s *Server) requireActor() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.GetHeader(actorHeader) == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing " + actorHeader + " header"})
			return
		}
		c.Next()
	}
}

func actor(c *gin.Context) string {
	return c.GetHeader(actorHeader)
}

// fail maps domain errors to HTTP statuses.
func (s *Server) fail(c *gin.Context, err error) {
	switch {
	case core.IsValidation(err):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, core.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, core.ErrNotOwner), errors.Is(err, core.ErrNotPermitted):
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
	case publish.IsTokenMisuse(err):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		s.log.WithError(err).Error("request failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
