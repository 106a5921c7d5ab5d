// Package api exposes read-only engine state over a local HTTP surface for
// whatever UI fronts the client.
package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/stagecast/engine/internal/config"
	"github.com/stagecast/engine/internal/domain"
	"github.com/stagecast/engine/internal/engine"
)

func SetupRouter(cfg *config.Config, eng *engine.Engine) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	r.Static("/static", cfg.StaticPath)
	r.GET("/", func(c *gin.Context) {
		c.File(cfg.StaticPath + "/index.html")
	})

	log.Info().Str("module", "api").Str("addr", cfg.APIAddr).Msg("router setup")

	api := r.Group("/api")

	api.GET("/status", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"session":      eng.SessionID(),
			"self":         eng.Self(),
			"connected":    eng.Connected(),
			"peerLinks":    eng.Mesh().LinkCount(),
			"participants": len(eng.Participants()),
		})
	})

	api.GET("/participants", func(c *gin.Context) {
		c.JSON(http.StatusOK, eng.Participants())
	})

	api.GET("/chat", func(c *gin.Context) {
		c.JSON(http.StatusOK, eng.Chat().Messages())
	})

	api.GET("/questions", func(c *gin.Context) {
		c.JSON(http.StatusOK, eng.Questions().Questions())
	})

	api.GET("/polls", func(c *gin.Context) {
		c.JSON(http.StatusOK, eng.Polls().Polls())
	})

	api.GET("/polls/:id/leading", func(c *gin.Context) {
		poll, ok := eng.Polls().Get(domain.PollID(c.Param("id")))
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "unknown poll"})
			return
		}
		lead, ok := poll.LeadingOption()
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "poll has no options"})
			return
		}
		c.JSON(http.StatusOK, lead)
	})

	api.GET("/transfers", func(c *gin.Context) {
		c.JSON(http.StatusOK, eng.Transfers().Snapshot())
	})

	api.GET("/streams", func(c *gin.Context) {
		c.JSON(http.StatusOK, eng.Mesh().RemoteStreams().Snapshot())
	})

	return r
}
