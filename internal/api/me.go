package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

type signUpRequest struct {
	Name     string `json:"name"`
	Phone    string `json:"phone"`
	Password string `json:"password"`
}

func (a *API) signUp(c *gin.Context) {
	var req signUpRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	u, err := a.identity.SignUp(c.Request.Context(), req.Name, req.Phone, req.Password)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, u)
}

type signInRequest struct {
	Phone    string `json:"phone"`
	Password string `json:"password"`
}

func (a *API) signIn(c *gin.Context) {
	var req signInRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	u, err := a.identity.SignIn(c.Request.Context(), req.Phone, req.Password)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, u)
}

func (a *API) signOut(c *gin.Context) {
	if err := a.identity.SignOut(c.Request.Context()); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "signed out"})
}

func (a *API) me(c *gin.Context) {
	c.JSON(http.StatusOK, a.identity.Current())
}

type updateProfileRequest struct {
	Name   string `json:"name"`
	About  string `json:"about"`
	Avatar string `json:"avatar"`
}

func (a *API) updateProfile(c *gin.Context) {
	var req updateProfileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	u, err := a.identity.UpdateProfile(c.Request.Context(), req.Name, req.About, req.Avatar)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, u)
}

func (a *API) listContacts(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"contacts": a.engine.Contacts()})
}
