package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/helixchat/helix/internal/cache"
	"github.com/helixchat/helix/internal/common/cnst"
	"github.com/helixchat/helix/internal/conversation"
	"github.com/helixchat/helix/internal/ratelimit"
)

func (s *Server) handleListConversations(c *gin.Context) {
	ctx := c.Request.Context()
	owner := ratelimit.Identity(c)

	convs, err := cache.GetOrComputeJSON(ctx, s.cache, cnst.ConversationListKey(owner), s.cfg.Cache.ListTTL,
		func(ctx context.Context) ([]*conversation.Conversation, error) {
			return s.db.ListConversations(ctx, owner)
		})
	if err != nil {
		s.logger.Error("failed to list conversations", zap.String("owner", owner), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list conversations"})
		return
	}
	c.JSON(http.StatusOK, convs)
}

func (s *Server) handleGetConversation(c *gin.Context) {
	ctx := c.Request.Context()
	id := c.Param("id")
	owner := ratelimit.Identity(c)

	conv, err := cache.GetOrComputeJSON(ctx, s.cache, cnst.ConversationKey(id), s.cfg.Cache.ConversationTTL,
		func(ctx context.Context) (*conversation.Conversation, error) {
			return s.db.GetConversation(ctx, id)
		})
	if err != nil {
		if errors.Is(err, conversation.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "conversation not found"})
			return
		}
		s.logger.Error("failed to get conversation", zap.String("id", id), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to get conversation"})
		return
	}
	if conv.OwnerID != owner {
		c.JSON(http.StatusNotFound, gin.H{"error": "conversation not found"})
		return
	}
	c.JSON(http.StatusOK, conv)
}

func (s *Server) handleDeleteConversation(c *gin.Context) {
	ctx := c.Request.Context()
	id := c.Param("id")
	owner := ratelimit.Identity(c)

	conv, err := s.db.GetConversation(ctx, id)
	if err != nil {
		if errors.Is(err, conversation.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "conversation not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to delete conversation"})
		return
	}
	if conv.OwnerID != owner {
		c.JSON(http.StatusNotFound, gin.H{"error": "conversation not found"})
		return
	}

	if err := s.db.DeleteConversation(ctx, id); err != nil {
		s.logger.Error("failed to delete conversation", zap.String("id", id), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to delete conversation"})
		return
	}
	s.cache.InvalidateConversation(ctx, id, owner)
	c.Status(http.StatusNoContent)
}

func (s *Server) handleListMessages(c *gin.Context) {
	ctx := c.Request.Context()
	id := c.Param("id")

	page, _ := strconv.Atoi(c.Query("page"))
	pageSize, _ := strconv.Atoi(c.Query("pageSize"))

	var (
		msgs []*conversation.Message
		err  error
	)
	if page > 0 && pageSize > 0 {
		msgs, err = cache.GetOrComputeJSON(ctx, s.cache, cnst.MessagePageKey(id, page, pageSize), s.cfg.Cache.MessageTTL,
			func(ctx context.Context) ([]*conversation.Message, error) {
				return s.db.ListMessagesPage(ctx, id, page, pageSize)
			})
	} else {
		msgs, err = cache.GetOrComputeJSON(ctx, s.cache, cnst.MessageListKey(id), s.cfg.Cache.MessageTTL,
			func(ctx context.Context) ([]*conversation.Message, error) {
				return s.db.ListMessages(ctx, id)
			})
	}
	if err != nil {
		s.logger.Error("failed to list messages", zap.String("conversation", id), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list messages"})
		return
	}
	c.JSON(http.StatusOK, msgs)
}

func (s *Server) handleListFiles(c *gin.Context) {
	ctx := c.Request.Context()
	id := c.Param("id")

	files, err := cache.GetOrComputeJSON(ctx, s.cache, cnst.FileListKey(id), s.cfg.Cache.FileTTL,
		func(ctx context.Context) ([]*conversation.File, error) {
			return s.db.ListFiles(ctx, id)
		})
	if err != nil {
		s.logger.Error("failed to list files", zap.String("conversation", id), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list files"})
		return
	}
	c.JSON(http.StatusOK, files)
}

func (s *Server) handleUploadFile(c *gin.Context) {
	ctx := c.Request.Context()
	id := c.Param("id")

	fh, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing file field"})
		return
	}

	file := &conversation.File{
		ID:             uuid.New().String(),
		ConversationID: id,
		Name:           fh.Filename,
		Size:           fh.Size,
		ContentType:    fh.Header.Get("Content-Type"),
	}
	if err := s.db.SaveFile(ctx, file); err != nil {
		s.logger.Error("failed to save file", zap.String("conversation", id), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to save file"})
		return
	}
	s.cache.Invalidate(ctx, cnst.FileListKey(id))
	c.JSON(http.StatusCreated, file)
}

func (s *Server) handleDeleteFile(c *gin.Context) {
	ctx := c.Request.Context()
	id := c.Param("id")
	fileID := c.Param("fileId")

	if err := s.db.DeleteFile(ctx, fileID); err != nil {
		s.logger.Error("failed to delete file", zap.String("file", fileID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to delete file"})
		return
	}
	s.cache.Invalidate(ctx, cnst.FileListKey(id))
	c.Status(http.StatusNoContent)
}
