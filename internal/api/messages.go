package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/parley-im/parley/internal/engine"
	"github.com/parley-im/parley/internal/model"
)

func (a *API) listMessages(c *gin.Context) {
	before, _ := strconv.ParseInt(c.Query("before"), 10, 64)
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))

	msgs, err := a.db.ListMessages(c.Param("id"), before, limit)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": msgs})
}

type sendMessageRequest struct {
	Body  string            `json:"body"`
	Type  model.MessageType `json:"type"`
	Media *mediaUpload      `json:"media"`
}

type mediaUpload struct {
	FileName    string `json:"file_name"`
	ContentType string `json:"content_type"`
	Data        []byte `json:"data"` // base64 in JSON
}

func (a *API) sendMessage(c *gin.Context) {
	var req sendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	var media *engine.MediaUpload
	if req.Media != nil {
		media = &engine.MediaUpload{
			FileName:    req.Media.FileName,
			ContentType: req.Media.ContentType,
			Data:        req.Media.Data,
		}
	}
	id, err := a.engine.SendMessage(c.Request.Context(), c.Param("id"), req.Body, req.Type, media)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"message_id": id})
}

func (a *API) retrySend(c *gin.Context) {
	if err := a.engine.RetrySend(c.Param("id")); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"message_id": c.Param("id")})
}

func (a *API) searchMessages(c *gin.Context) {
	q := c.Query("q")
	if q == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "missing query"})
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))

	results, err := a.db.SearchMessages(q, c.Query("chat_id"), limit)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"results": results})
}
