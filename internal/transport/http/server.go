package http

import (
	stdhttp "net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/liveloop/loopjam/internal/config"
	"github.com/liveloop/loopjam/internal/core"
)

// NewServer builds the HTTP server: health, ephemeral room stats, and the
// websocket upgrade endpoint the relay rides on.
func NewServer(hub *core.Hub, cfg config.Config, logger *zerolog.Logger) *stdhttp.Server {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(LoggerMiddleware(logger), gin.Recovery())

	router.GET("/health", healthHandler)
	router.GET("/api/rooms", roomStatsHandler(hub, logger))
	router.GET("/ws", gin.WrapH(NewWSHandler(hub, logger)))

	return &stdhttp.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
	}
}

func healthHandler(c *gin.Context) {
	c.String(stdhttp.StatusOK, "ok")
}

// roomStatsHandler lists current room keys and member counts. The data is
// ephemeral hub state, not persisted anywhere.
func roomStatsHandler(hub *core.Hub, logger *zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		stats, err := hub.RoomStats(c.Request.Context())
		if err != nil {
			logger.Error().Err(err).Msg("room stats")
			c.JSON(stdhttp.StatusServiceUnavailable, gin.H{"error": "hub unavailable"})
			return
		}
		c.JSON(stdhttp.StatusOK, gin.H{"rooms": stats})
	}
}
