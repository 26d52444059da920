package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"auctionhouse/internal/auth"
)

type AuthHandler struct {
	Service *auth.Service
}

func (h *AuthHandler) Register(r gin.IRouter) {
	g := r.Group("/api/v1/auth")
	g.POST("/challenge", h.challenge)
	g.POST("/login", h.login)
}

type challengeRequest struct {
	Address string `json:"address" binding:"required"`
}

// @Summary Request a sign-in challenge
// @Tags auth
// @Accept json
// @Produce json
// @Param body body challengeRequest true "wallet address"
// @Success 200 {object} apiResponse
// @Router /api/v1/auth/challenge [post]
func (h *AuthHandler) challenge(c *gin.Context) {
	var req challengeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		Error(c, http.StatusBadRequest, "invalid body", nil)
		return
	}
	ch, err := h.Service.Challenge(c.Request.Context(), req.Address)
	if err != nil {
		Fail(c, err)
		return
	}
	Ok(c, ch, nil)
}

type loginRequest struct {
	Address   string `json:"address" binding:"required"`
	Signature string `json:"signature" binding:"required"`
}

// @Summary Exchange a signed challenge for a session token
// @Tags auth
// @Accept json
// @Produce json
// @Param body body loginRequest true "signed challenge"
// @Success 200 {object} apiResponse
// @Failure 401 {object} apiResponse
// @Router /api/v1/auth/login [post]
func (h *AuthHandler) login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		Error(c, http.StatusBadRequest, "invalid body", nil)
		return
	}
	session, err := h.Service.Login(c.Request.Context(), req.Address, req.Signature)
	if err != nil {
		Fail(c, err)
		return
	}
	Ok(c, session, nil)
}
