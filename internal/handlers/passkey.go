package handlers

import (
	"encoding/json"
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/keyfort/backend/internal/middleware"
	"github.com/keyfort/backend/internal/passkey"
	"github.com/keyfort/backend/internal/services"
	"github.com/keyfort/backend/pkg/logger"
	"github.com/keyfort/backend/pkg/utils"
)

type PasskeyHandler struct {
	Manager *passkey.Manager
	Audit   *services.AuditService
}

func NewPasskeyHandler(manager *passkey.Manager, audit *services.AuditService) *PasskeyHandler {
	return &PasskeyHandler{Manager: manager, Audit: audit}
}

func (h *PasskeyHandler) RegisterOptions(c *fiber.Ctx) error {
	user := middleware.GetCurrentUser(c)
	if user == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}

	creation, err := h.Manager.BeginRegistration(*user)
	if err != nil {
		logger.Error("passkey_register_options_failed", err, map[string]interface{}{
			"user_id": user.ID.String(),
		})
		return utils.Error(c, fiber.StatusInternalServerError, "failed to start passkey registration")
	}

	return utils.Success(c, fiber.StatusOK, creation)
}

type registerCompleteRequest struct {
	Name     string          `json:"name"`
	Response json.RawMessage `json:"response"`
}

func (h *PasskeyHandler) RegisterComplete(c *fiber.Ctx) error {
	user := middleware.GetCurrentUser(c)
	if user == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}

	var req registerCompleteRequest
	if err := c.BodyParser(&req); err != nil || len(req.Response) == 0 {
		return utils.Error(c, fiber.StatusBadRequest, "response is required")
	}

	cred, err := h.Manager.FinishRegistration(*user, req.Response, strings.TrimSpace(req.Name))
	switch {
	case errors.Is(err, passkey.ErrInvalidResponse):
		return utils.Error(c, fiber.StatusBadRequest, "invalid credential response")
	case errors.Is(err, passkey.ErrDuplicateCredential):
		return utils.Error(c, fiber.StatusConflict, "credential already registered")
	case err != nil:
		logger.Warn("passkey_register_rejected", map[string]interface{}{
			"user_id": user.ID.String(),
			"error":   err.Error(),
		})
		h.Audit.LogAsync(services.AuditEntry{
			UserID:       &user.ID,
			Action:       "passkey.register_failed",
			ResourceType: "user",
			ResourceID:   &user.ID,
			IPAddress:    c.IP(),
			RequestID:    getRequestID(c),
		})
		return utils.Error(c, fiber.StatusUnauthorized, "passkey registration failed")
	}

	logger.Info("passkey_registered", map[string]interface{}{
		"user_id":       user.ID.String(),
		"credential_id": cred.ID.String(),
	})

	h.Audit.LogAsync(services.AuditEntry{
		UserID:       &user.ID,
		Action:       "passkey.registered",
		ResourceType: "passkey",
		ResourceID:   &cred.ID,
		Details: map[string]interface{}{
			"name": cred.Name,
		},
		IPAddress: c.IP(),
		RequestID: getRequestID(c),
	})

	return utils.Success(c, fiber.StatusCreated, fiber.Map{
		"id":        cred.ID,
		"name":      cred.Name,
		"createdAt": cred.CreatedAt,
	})
}

func (h *PasskeyHandler) List(c *fiber.Ctx) error {
	user := middleware.GetCurrentUser(c)
	if user == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}

	views, err := h.Manager.List(user.ID)
	if err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed to list passkeys")
	}

	return utils.Success(c, fiber.StatusOK, fiber.Map{"credentials": views})
}

func (h *PasskeyHandler) Revoke(c *fiber.Ctx) error {
	user := middleware.GetCurrentUser(c)
	if user == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}

	credentialID := c.Params("credentialId")
	if credentialID == "" {
		return utils.Error(c, fiber.StatusBadRequest, "credentialId is required")
	}

	err := h.Manager.Revoke(user.ID, credentialID)
	switch {
	case errors.Is(err, passkey.ErrCredentialNotFound):
		return utils.Error(c, fiber.StatusNotFound, "credential not found")
	case err != nil:
		return utils.Error(c, fiber.StatusInternalServerError, "failed to revoke passkey")
	}

	logger.Info("passkey_revoked", map[string]interface{}{
		"user_id":       user.ID.String(),
		"credential_id": credentialID,
	})

	h.Audit.LogAsync(services.AuditEntry{
		UserID:       &user.ID,
		Action:       "passkey.revoked",
		ResourceType: "passkey",
		ResourceID:   &user.ID,
		Details: map[string]interface{}{
			"credential_id": credentialID,
		},
		IPAddress: c.IP(),
		RequestID: getRequestID(c),
	})

	return utils.Success(c, fiber.StatusOK, fiber.Map{"message": "passkey revoked"})
}

type loginOptionsRequest struct {
	Email string `json:"email"`
}

func (h *PasskeyHandler) LoginOptions(c *fiber.Ctx) error {
	var req loginOptionsRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid request body")
	}
	if req.Email == "" {
		return utils.Error(c, fiber.StatusBadRequest, "email is required")
	}

	assertion, err := h.Manager.BeginAuthentication(req.Email)
	switch {
	case errors.Is(err, passkey.ErrAccountNotFound):
		return utils.Error(c, fiber.StatusNotFound, "account not found")
	case errors.Is(err, passkey.ErrNoCredentials):
		return utils.Error(c, fiber.StatusBadRequest, "no passkeys registered")
	case err != nil:
		logger.Error("passkey_login_options_failed", err, map[string]interface{}{
			"email": req.Email,
		})
		return utils.Error(c, fiber.StatusInternalServerError, "failed to start passkey login")
	}

	return utils.Success(c, fiber.StatusOK, assertion)
}

type loginCompleteRequest struct {
	Email    string          `json:"email"`
	Response json.RawMessage `json:"response"`
}

func (h *PasskeyHandler) LoginComplete(c *fiber.Ctx) error {
	var req loginCompleteRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid request body")
	}
	if req.Email == "" || len(req.Response) == 0 {
		return utils.Error(c, fiber.StatusBadRequest, "email and response are required")
	}

	user, err := h.Manager.FinishAuthentication(req.Email, req.Response)
	switch {
	case errors.Is(err, passkey.ErrInvalidResponse):
		return utils.Error(c, fiber.StatusBadRequest, "invalid credential response")
	case err != nil:
		// Expired, mismatched, wrong-type, unknown-credential and signature
		// failures all collapse into one answer so the response does not
		// reveal which gate rejected the assertion.
		logger.Warn("passkey_login_rejected", map[string]interface{}{
			"email": req.Email,
			"error": err.Error(),
		})
		h.Audit.LogAsync(services.AuditEntry{
			Action:       "passkey.login_failed",
			ResourceType: "user",
			Details: map[string]interface{}{
				"email": req.Email,
			},
			IPAddress: c.IP(),
			RequestID: getRequestID(c),
		})
		return utils.Error(c, fiber.StatusUnauthorized, "passkey verification failed")
	}

	token, err := utils.GenerateToken(user)
	if err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed generating token")
	}

	logger.Info("passkey_login", map[string]interface{}{
		"user_id": user.ID.String(),
	})

	h.Audit.LogAsync(services.AuditEntry{
		UserID:       &user.ID,
		Action:       "passkey.login",
		ResourceType: "user",
		ResourceID:   &user.ID,
		IPAddress:    c.IP(),
		RequestID:    getRequestID(c),
	})

	return utils.Success(c, fiber.StatusOK, fiber.Map{"token": token, "user": user})
}
