package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/helixchat/helix/internal/ratelimit"
	"github.com/helixchat/helix/internal/relay"
)

// chatRequest is the POST /api/chat body.
type chatRequest struct {
	Message        string `json:"message" binding:"required"`
	ConversationID string `json:"conversationId"`
	Provider       string `json:"provider"`
	UseRetrieval   bool   `json:"useRetrieval"`
}

// handleChat relays one chat turn as an SSE stream. Each relay event is
// one `data:` frame; the stream always ends with a `data: [DONE]` frame
// unless the client went away first.
func (s *Server) handleChat(c *gin.Context) {
	var req chatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	owner := ratelimit.Identity(c)
	ch, err := s.relay.Chat(c.Request.Context(), &relay.ChatRequest{
		Owner:          owner,
		Message:        req.Message,
		ConversationID: req.ConversationID,
		Provider:       req.Provider,
		UseRetrieval:   req.UseRetrieval,
	})
	if err != nil {
		if errors.Is(err, relay.ErrEmptyMessage) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to start chat"})
		return
	}

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache, no-transform")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.Flush()

	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				// Relay finished; the client may already be gone.
				if c.Request.Context().Err() == nil {
					_, _ = fmt.Fprint(c.Writer, "data: [DONE]\n\n")
					c.Writer.Flush()
				}
				return
			}
			data, err := json.Marshal(ev)
			if err != nil {
				s.logger.Error("failed to marshal relay event", zap.Error(err))
				continue
			}
			if _, err := fmt.Fprintf(c.Writer, "data: %s\n\n", data); err != nil {
				s.logger.Debug("failed to write SSE frame", zap.Error(err))
				return
			}
			c.Writer.Flush()
		case <-c.Request.Context().Done():
			return
		}
	}
}
