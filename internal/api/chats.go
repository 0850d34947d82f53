package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

func (a *API) listChats(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"chats": a.engine.Chats()})
}

type createChatRequest struct {
	PeerID string `json:"peer_id"`
}

func (a *API) createOrGetChat(c *gin.Context) {
	var req createChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	id, err := a.engine.CreateOrGetChat(c.Request.Context(), req.PeerID)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"chat_id": id})
}

func (a *API) activeChat(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"chat_id":  a.engine.ActiveChatID(),
		"messages": a.engine.ActiveMessages(),
	})
}

type setActiveRequest struct {
	ChatID string `json:"chat_id"`
}

func (a *API) setActiveChat(c *gin.Context) {
	var req setActiveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := a.engine.SetActiveChat(c.Request.Context(), req.ChatID); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"chat_id": req.ChatID})
}

func (a *API) markAsRead(c *gin.Context) {
	if err := a.engine.MarkAsRead(c.Request.Context(), c.Param("id")); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

type setTypingRequest struct {
	Typing bool `json:"typing"`
}

func (a *API) setTyping(c *gin.Context) {
	var req setTypingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	a.engine.SetTyping(c.Param("id"), req.Typing)
	c.JSON(http.StatusOK, gin.H{"typing": req.Typing})
}

func (a *API) typing(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"typing": a.engine.Typing(c.Param("id"))})
}
