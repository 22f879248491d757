// Package httpapi is the loopback control surface: the headless client's
// stand-in for the mobile UI that drives the voice transport.
package httpapi

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/hearby/hearby/internal/config"
	"github.com/hearby/hearby/internal/core"
	"github.com/hearby/hearby/internal/domain"
)

type joinRequest struct {
	Channel string `json:"channel" binding:"required"`
	UserID  string `json:"user_id"`
}

type muteRequest struct {
	Mute *bool `json:"mute" binding:"required"`
}

func SetupRouter(ctx context.Context, cfg *config.Config, tr core.Transport, hub *EventHub) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	api := r.Group("/api")

	api.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api.POST("/join", func(c *gin.Context) {
		var req joinRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "bad_payload"})
			return
		}
		userID := req.UserID
		if userID == "" {
			userID = uuid.NewString()
		}
		log.Info().Str("module", "httpapi").Str("channel", req.Channel).Str("user", userID).Msg("join")
		if err := tr.Join(c.Request.Context(), domain.Channel(req.Channel), domain.UserID(userID)); err != nil {
			log.Error().Err(err).Str("module", "httpapi").Str("channel", req.Channel).Msg("join failed")
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"channel": req.Channel, "user_id": userID})
	})

	api.POST("/leave", func(c *gin.Context) {
		log.Info().Str("module", "httpapi").Msg("leave")
		tr.Leave(c.Request.Context())
		c.JSON(http.StatusOK, gin.H{"left": true})
	})

	api.POST("/mute", func(c *gin.Context) {
		var req muteRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "bad_payload"})
			return
		}
		tr.MuteLocal(*req.Mute)
		c.JSON(http.StatusOK, gin.H{"muted": tr.Muted()})
	})

	api.GET("/state", func(c *gin.Context) {
		ch, joined := tr.Channel()
		remoteTracks := 0
		if stream := tr.RemoteStream(); stream != nil {
			remoteTracks = stream.TrackCount()
		}
		c.JSON(http.StatusOK, gin.H{
			"transport":     tr.Mode(),
			"channel":       ch,
			"joined":        joined,
			"muted":         tr.Muted(),
			"peers":         tr.Peers(),
			"remote_tracks": remoteTracks,
		})
	})

	api.GET("/ws/events", func(c *gin.Context) {
		hub.HandleEvents(ctx, c)
	})

	return r
}
