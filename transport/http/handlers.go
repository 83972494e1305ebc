package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/keyward/keyward/core"
	"github.com/keyward/keyward/service"
)

// CeremonyHandlers contains HTTP handlers for the ceremony endpoints.
type CeremonyHandlers struct {
	ceremonies *service.CeremonyService
}

// NewCeremonyHandlers creates new ceremony handlers.
func NewCeremonyHandlers(ceremonies *service.CeremonyService) *CeremonyHandlers {
	return &CeremonyHandlers{ceremonies: ceremonies}
}

// StartRegistration handles the registration start request.
func (h *CeremonyHandlers) StartRegistration(c *gin.Context) {
	var req struct {
		Username    string `json:"username" binding:"required"`
		DisplayName string `json:"display_name" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	result, err := h.ceremonies.StartRegistration(c.Request.Context(), req.Username, req.DisplayName)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to start registration"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"session_id":         result.SessionID,
		"creation_challenge": result.Challenge,
	})
}

// FinishRegistration handles the registration finish request.
func (h *CeremonyHandlers) FinishRegistration(c *gin.Context) {
	sessionID, response, ok := bindFinishRequest(c)
	if !ok {
		return
	}

	session, err := h.ceremonies.FinishRegistration(c.Request.Context(), sessionID, response)
	if err != nil {
		abortCeremonyError(c, err)
		return
	}
	respondSession(c, session)
}

// StartAuthentication handles the authentication start request. The account
// hint is optional; without it the discoverable flow is used.
func (h *CeremonyHandlers) StartAuthentication(c *gin.Context) {
	var req struct {
		AccountID string `json:"account_id"`
	}
	// An empty body is a valid usernameless start.
	_ = c.ShouldBindJSON(&req)

	result, err := h.ceremonies.StartAuthentication(c.Request.Context(), req.AccountID)
	if err != nil {
		if errors.Is(err, core.ErrAccountNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "account not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to start authentication"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"session_id":        result.SessionID,
		"request_challenge": result.Challenge,
	})
}

// FinishAuthentication handles the authentication finish request.
func (h *CeremonyHandlers) FinishAuthentication(c *gin.Context) {
	sessionID, response, ok := bindFinishRequest(c)
	if !ok {
		return
	}

	session, err := h.ceremonies.FinishAuthentication(c.Request.Context(), sessionID, response)
	if err != nil {
		abortCeremonyError(c, err)
		return
	}
	respondSession(c, session)
}

// CreateInstallKey handles install-key issuance for the authenticated account.
func (h *CeremonyHandlers) CreateInstallKey(c *gin.Context) {
	var req struct {
		DeviceID   string   `json:"device_id" binding:"required"`
		Categories []string `json:"categories"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	accountID := c.GetString(ContextAccountID)
	key, err := h.ceremonies.CreateInstallKey(c.Request.Context(), accountID, req.DeviceID, req.Categories)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create install key"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"install_key": key})
}

// RedeemInstallKey handles a device exchanging its install key for public-key
// registration. This endpoint is unauthenticated: the key is the credential.
func (h *CeremonyHandlers) RedeemInstallKey(c *gin.Context) {
	var req struct {
		InstallKey string `json:"install_key" binding:"required"`
		PublicKey  string `json:"public_key" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	device, err := h.ceremonies.RedeemInstallKey(c.Request.Context(), req.InstallKey, req.PublicKey)
	if err != nil {
		if errors.Is(err, core.ErrInstallKeyInvalid) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid install key"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to redeem install key"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"device_id":  device.DeviceID,
		"account_id": device.AccountID,
	})
}

// StartDeviceSign handles the device-sign start request.
func (h *CeremonyHandlers) StartDeviceSign(c *gin.Context) {
	var req struct {
		DeviceID string `json:"device_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	start, err := h.ceremonies.StartDeviceSign(c.Request.Context(), req.DeviceID)
	if err != nil {
		switch {
		case errors.Is(err, core.ErrDeviceNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "device not found"})
		case errors.Is(err, core.ErrDeviceKeyMissing):
			c.JSON(http.StatusConflict, gin.H{"error": "device has no public key"})
		case errors.Is(err, core.ErrDeviceAlreadySigned):
			c.JSON(http.StatusConflict, gin.H{"error": "device is already signed"})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to start device signing"})
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"session_id":        start.SessionID,
		"request_challenge": start.Challenge,
		"device_info": gin.H{
			"device_id":  start.Device.DeviceID,
			"public_key": start.Device.PublicKey,
			"categories": start.Device.Categories,
			"created_at": start.Device.CreatedAt.Format(time.RFC3339),
		},
	})
}

// FinishDeviceSign handles the device-sign finish request.
func (h *CeremonyHandlers) FinishDeviceSign(c *gin.Context) {
	sessionID, response, ok := bindFinishRequest(c)
	if !ok {
		return
	}

	record, err := h.ceremonies.FinishDeviceSign(c.Request.Context(), sessionID, response)
	if err != nil {
		abortCeremonyError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"device_id": record.DeviceID,
		"signed_at": record.SignedAt.Format(time.RFC3339),
	})
}

// Me returns the authenticated account id.
func (h *CeremonyHandlers) Me(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"account_id": c.GetString(ContextAccountID)})
}

// bindFinishRequest decodes the shared shape of every finish call: a session
// id plus the raw credential response produced by the client's authenticator.
func bindFinishRequest(c *gin.Context) (string, []byte, bool) {
	var req struct {
		SessionID  string          `json:"session_id" binding:"required"`
		Credential json.RawMessage `json:"credential" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return "", nil, false
	}
	return req.SessionID, req.Credential, true
}

// abortCeremonyError maps finish-ceremony failures to responses. An unknown
// session is safe to report precisely; every verification failure collapses
// to one generic message so callers cannot probe which sub-check tripped.
func abortCeremonyError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, core.ErrExpiredOrUnknownSession):
		c.JSON(http.StatusBadRequest, gin.H{"error": "session is unknown or expired"})
	case errors.Is(err, core.ErrCredentialVerificationFailed),
		errors.Is(err, core.ErrUnknownCredential),
		errors.Is(err, core.ErrPossibleCredentialCloning),
		errors.Is(err, core.ErrCredentialAccountMismatch):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication failed"})
	case errors.Is(err, core.ErrDeviceAlreadySigned):
		c.JSON(http.StatusConflict, gin.H{"error": "device is already signed"})
	case errors.Is(err, core.ErrDeviceNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "device not found"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

func respondSession(c *gin.Context, session core.Session) {
	c.JSON(http.StatusOK, gin.H{
		"token":      session.Token,
		"account_id": session.AccountID,
		"expires_at": session.ExpiresAt.Format(time.RFC3339),
	})
}
