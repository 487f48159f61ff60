package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/keyfort/backend/internal/middleware"
	"github.com/keyfort/backend/internal/passkey"
	"github.com/keyfort/backend/internal/services"
	"github.com/keyfort/backend/internal/totp"
	"github.com/keyfort/backend/pkg/logger"
	"github.com/keyfort/backend/pkg/utils"
)

type TOTPHandler struct {
	Engine   *totp.Engine
	Passkeys *passkey.Manager
	Audit    *services.AuditService
}

func NewTOTPHandler(engine *totp.Engine, passkeys *passkey.Manager, audit *services.AuditService) *TOTPHandler {
	return &TOTPHandler{Engine: engine, Passkeys: passkeys, Audit: audit}
}

func (h *TOTPHandler) Status(c *fiber.Ctx) error {
	user := middleware.GetCurrentUser(c)
	if user == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}

	status, err := h.Engine.Status(user.ID)
	if err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed to load TOTP status")
	}

	passkeyCount, err := h.Passkeys.Count(user.ID)
	if err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed to load passkey count")
	}

	return utils.Success(c, fiber.StatusOK, fiber.Map{
		"totpEnabled":            status.Enabled,
		"totpEnabledAt":          status.EnabledAt,
		"pendingSetup":           status.PendingSetup,
		"passkeysRegistered":     passkeyCount,
		"recoveryCodesRemaining": status.RecoveryCodesLeft,
	})
}

func (h *TOTPHandler) Setup(c *fiber.Ctx) error {
	user := middleware.GetCurrentUser(c)
	if user == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}

	enrollment, err := h.Engine.GenerateSecret(user.ID, user.Email)
	if err != nil {
		logger.Error("totp_setup_failed", err, map[string]interface{}{
			"user_id": user.ID.String(),
		})
		return utils.Error(c, fiber.StatusInternalServerError, "failed to generate TOTP secret")
	}

	return utils.Success(c, fiber.StatusOK, fiber.Map{
		"secret":     enrollment.Secret,
		"otpauthUrl": enrollment.ProvisioningURI,
	})
}

type totpCodeRequest struct {
	Code string `json:"code"`
}

func (h *TOTPHandler) VerifySetup(c *fiber.Ctx) error {
	user := middleware.GetCurrentUser(c)
	if user == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}

	var req totpCodeRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid request body")
	}
	if req.Code == "" {
		return utils.Error(c, fiber.StatusBadRequest, "code is required")
	}

	activation, err := h.Engine.ConfirmSetup(user.ID, req.Code)
	switch {
	case errors.Is(err, totp.ErrNoPendingSetup):
		return utils.Error(c, fiber.StatusBadRequest, "TOTP setup not started")
	case errors.Is(err, totp.ErrMalformedCode), errors.Is(err, totp.ErrInvalidCode):
		return utils.Error(c, fiber.StatusBadRequest, "invalid TOTP code")
	case err != nil:
		return utils.Error(c, fiber.StatusInternalServerError, "failed to enable TOTP")
	}

	logger.Info("totp_enabled", map[string]interface{}{
		"user_id": user.ID.String(),
	})

	h.Audit.LogAsync(services.AuditEntry{
		UserID:       &user.ID,
		Action:       "totp.enabled",
		ResourceType: "user",
		ResourceID:   &user.ID,
		IPAddress:    c.IP(),
		RequestID:    getRequestID(c),
	})

	return utils.Success(c, fiber.StatusOK, fiber.Map{
		"enabledAt":     activation.EnabledAt,
		"recoveryCodes": activation.RecoveryCodes,
	})
}

func (h *TOTPHandler) Check(c *fiber.Ctx) error {
	user := middleware.GetCurrentUser(c)
	if user == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}

	var req totpCodeRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid request body")
	}
	if req.Code == "" {
		return utils.Error(c, fiber.StatusBadRequest, "code is required")
	}

	err := h.Engine.CheckCode(user.ID, req.Code)
	switch {
	case errors.Is(err, totp.ErrNotEnabled):
		return utils.Error(c, fiber.StatusBadRequest, "TOTP is not enabled")
	case errors.Is(err, totp.ErrMalformedCode), errors.Is(err, totp.ErrInvalidCode):
		h.Audit.LogAsync(services.AuditEntry{
			UserID:       &user.ID,
			Action:       "totp.check_failed",
			ResourceType: "user",
			ResourceID:   &user.ID,
			IPAddress:    c.IP(),
			RequestID:    getRequestID(c),
		})
		return utils.Error(c, fiber.StatusUnauthorized, "invalid TOTP code")
	case err != nil:
		return utils.Error(c, fiber.StatusInternalServerError, "failed to verify TOTP code")
	}

	h.Audit.LogAsync(services.AuditEntry{
		UserID:       &user.ID,
		Action:       "totp.check_passed",
		ResourceType: "user",
		ResourceID:   &user.ID,
		IPAddress:    c.IP(),
		RequestID:    getRequestID(c),
	})

	return utils.Success(c, fiber.StatusOK, fiber.Map{"valid": true})
}

func (h *TOTPHandler) Disable(c *fiber.Ctx) error {
	user := middleware.GetCurrentUser(c)
	if user == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}

	var req totpCodeRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid request body")
	}
	if req.Code == "" {
		return utils.Error(c, fiber.StatusBadRequest, "code is required")
	}

	err := h.Engine.Disable(user.ID, req.Code)
	switch {
	case errors.Is(err, totp.ErrNotEnabled):
		return utils.Error(c, fiber.StatusBadRequest, "TOTP is not enabled")
	case errors.Is(err, totp.ErrMalformedCode), errors.Is(err, totp.ErrInvalidCode):
		return utils.Error(c, fiber.StatusBadRequest, "invalid TOTP code")
	case err != nil:
		return utils.Error(c, fiber.StatusInternalServerError, "failed to disable TOTP")
	}

	logger.Info("totp_disabled", map[string]interface{}{
		"user_id": user.ID.String(),
	})

	h.Audit.LogAsync(services.AuditEntry{
		UserID:       &user.ID,
		Action:       "totp.disabled",
		ResourceType: "user",
		ResourceID:   &user.ID,
		IPAddress:    c.IP(),
		RequestID:    getRequestID(c),
	})

	return utils.Success(c, fiber.StatusOK, fiber.Map{"message": "TOTP disabled"})
}

func (h *TOTPHandler) UseRecovery(c *fiber.Ctx) error {
	user := middleware.GetCurrentUser(c)
	if user == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}

	var req totpCodeRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid request body")
	}
	if req.Code == "" {
		return utils.Error(c, fiber.StatusBadRequest, "code is required")
	}

	remaining, err := h.Engine.UseRecoveryCode(user.ID, req.Code)
	switch {
	case errors.Is(err, totp.ErrNotEnabled):
		return utils.Error(c, fiber.StatusBadRequest, "TOTP is not enabled")
	case errors.Is(err, totp.ErrInvalidCode):
		h.Audit.LogAsync(services.AuditEntry{
			UserID:       &user.ID,
			Action:       "totp.recovery_failed",
			ResourceType: "user",
			ResourceID:   &user.ID,
			IPAddress:    c.IP(),
			RequestID:    getRequestID(c),
		})
		return utils.Error(c, fiber.StatusUnauthorized, "invalid recovery code")
	case err != nil:
		return utils.Error(c, fiber.StatusInternalServerError, "failed to verify recovery code")
	}

	logger.Info("totp_recovery_used", map[string]interface{}{
		"user_id":         user.ID.String(),
		"remaining_codes": remaining,
	})

	h.Audit.LogAsync(services.AuditEntry{
		UserID:       &user.ID,
		Action:       "totp.recovery_used",
		ResourceType: "user",
		ResourceID:   &user.ID,
		Details: map[string]interface{}{
			"remaining_codes": remaining,
		},
		IPAddress: c.IP(),
		RequestID: getRequestID(c),
	})

	return utils.Success(c, fiber.StatusOK, fiber.Map{
		"valid":                  true,
		"recoveryCodesRemaining": remaining,
	})
}
