package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/parley-im/parley/internal/broadcast"
	"github.com/parley-im/parley/internal/metrics"
	"github.com/parley-im/parley/internal/model"
)

func (a *API) listStatuses(c *gin.Context) {
	switch feed := c.DefaultQuery("feed", "recent"); feed {
	case "mine":
		c.JSON(http.StatusOK, gin.H{"statuses": a.broadcast.Mine()})
	case "recent":
		c.JSON(http.StatusOK, gin.H{"statuses": a.broadcast.Recent()})
	case "viewed":
		c.JSON(http.StatusOK, gin.H{"statuses": a.broadcast.Viewed()})
	default:
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "unknown feed " + feed})
	}
}

type addStatusRequest struct {
	Type            model.StatusType `json:"type"`
	Caption         string           `json:"caption"`
	BackgroundColor string           `json:"background_color"`
	Media           *mediaUpload     `json:"media"`
}

func (a *API) addStatus(c *gin.Context) {
	var req addStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	var media *broadcast.MediaUpload
	if req.Media != nil {
		media = &broadcast.MediaUpload{
			FileName:    req.Media.FileName,
			ContentType: req.Media.ContentType,
			Data:        req.Media.Data,
		}
	}
	id, err := a.broadcast.AddStatus(c.Request.Context(), req.Type, req.Caption, req.BackgroundColor, media)
	if err != nil {
		fail(c, err)
		return
	}
	metrics.StatusesPosted.Inc()
	c.JSON(http.StatusCreated, gin.H{"status_id": id})
}

func (a *API) viewStatus(c *gin.Context) {
	if err := a.broadcast.MarkViewed(c.Request.Context(), c.Param("id")); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (a *API) deleteStatus(c *gin.Context) {
	if err := a.broadcast.DeleteStatus(c.Request.Context(), c.Param("id")); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}

func (a *API) statusViewers(c *gin.Context) {
	viewers, err := a.broadcast.Viewers(c.Request.Context(), c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"viewers": viewers})
}
