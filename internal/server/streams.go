package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/helixchat/helix/internal/stream"
)

// handleListStreams reports active streaming sessions, optionally scoped
// to one owner via ?owner=.
func (s *Server) handleListStreams(c *gin.Context) {
	ctx := c.Request.Context()

	var (
		sessions []*stream.Session
		err      error
	)
	if owner := c.Query("owner"); owner != "" {
		sessions, err = s.registry.ListByOwner(ctx, owner)
	} else {
		sessions, err = s.registry.ListActive(ctx)
	}
	if err != nil {
		s.logger.Error("failed to list stream sessions", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list streams"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"count":   len(sessions),
		"streams": sessions,
	})
}
