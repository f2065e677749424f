package server

import (
	"net/http"

	"github.com/MarcoPoloResearchLab/waxlog/internal/apperr"
	"github.com/MarcoPoloResearchLab/waxlog/internal/users"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const opIssueToken = "http.issue_token"

func (h *httpHandler) handleRegister(c *gin.Context) {
	var request credentialsRequestPayload
	if !h.bindJSON(c, &request) {
		return
	}
	user, err := h.users.Register(c.Request.Context(), request.Username, request.Password)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, toUserPayload(user))
}

func (h *httpHandler) handleToken(c *gin.Context) {
	var request credentialsRequestPayload
	if !h.bindJSON(c, &request) {
		return
	}
	user, err := h.users.Authenticate(c.Request.Context(), request.Username, request.Password)
	if err != nil {
		h.respondError(c, err)
		return
	}

	token, expiresIn, err := h.tokens.IssueToken(c.Request.Context(), user.UserID)
	if err != nil {
		h.respondError(c, apperr.Internal(opIssueToken, "token_issue_failed", err))
		return
	}
	if h.sessionCookie != "" {
		c.SetSameSite(http.SameSiteLaxMode)
		c.SetCookie(h.sessionCookie, token, int(expiresIn), "/", "", c.Request.TLS != nil, true)
	}
	h.logger.Info("access token issued", zap.String("user_id", user.UserID))

	c.JSON(http.StatusOK, tokenResponsePayload{
		AccessToken: token,
		ExpiresIn:   expiresIn,
		TokenType:   "Bearer",
	})
}

func (h *httpHandler) handleGetProfile(c *gin.Context) {
	user, err := h.users.Profile(c.Request.Context(), currentUserID(c))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, toUserPayload(user))
}

func (h *httpHandler) handleUpdateProfile(c *gin.Context) {
	var request profileUpdatePayload
	if !h.bindJSON(c, &request) {
		return
	}
	user, err := h.users.UpdateProfile(c.Request.Context(), currentUserID(c), users.ProfileChanges{
		DisplayName: request.DisplayName,
		Bio:         request.Bio,
		AvatarURL:   request.AvatarURL,
	})
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, toUserPayload(user))
}

func (h *httpHandler) handleDeleteAccount(c *gin.Context) {
	if err := h.users.Delete(c.Request.Context(), currentUserID(c)); err != nil {
		h.respondError(c, err)
		return
	}
	if h.sessionCookie != "" {
		c.SetCookie(h.sessionCookie, "", -1, "/", "", c.Request.TLS != nil, true)
	}
	c.Status(http.StatusNoContent)
}
