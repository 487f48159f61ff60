package handlers

import (
	"bytes"
	"database/sql/driver"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/webauthn"
	gosqlite "github.com/glebarez/go-sqlite"
	"github.com/glebarez/sqlite"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/keyfort/backend/internal/challenge"
	"github.com/keyfort/backend/internal/database"
	"github.com/keyfort/backend/internal/middleware"
	"github.com/keyfort/backend/internal/models"
	"github.com/keyfort/backend/internal/passkey"
	"github.com/keyfort/backend/internal/services"
	"github.com/keyfort/backend/internal/totp"
	"github.com/keyfort/backend/pkg/logger"
	"github.com/keyfort/backend/pkg/utils"
	"gorm.io/gorm"
)

type testEnv struct {
	app *fiber.App
	db  *gorm.DB
}

var testSetupOnce sync.Once

func setupTestEnv(t *testing.T) *testEnv {
	t.Helper()

	testSetupOnce.Do(func() {
		gosqlite.MustRegisterScalarFunction("NOW", 0, func(ctx *gosqlite.FunctionContext, args []driver.Value) (driver.Value, error) {
			return time.Now().UTC(), nil
		})
		logger.Init()
		utils.ConfigureJWT("test-secret", 24)
		utils.ConfigureEncryption("test-encryption-secret")
	})

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{TranslateError: true})
	if err != nil {
		t.Fatalf("failed opening in-memory sqlite database: %v", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed getting sql.DB from gorm: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)

	t.Cleanup(func() {
		_ = sqlDB.Close()
	})

	if err := database.Migrate(db); err != nil {
		t.Fatalf("failed automigrating models: %v", err)
	}

	wa, err := webauthn.New(&webauthn.Config{
		RPID:          "localhost",
		RPDisplayName: "KeyFort Test",
		RPOrigins:     []string{"http://localhost:3001"},
		AuthenticatorSelection: protocol.AuthenticatorSelection{
			AuthenticatorAttachment: protocol.Platform,
			UserVerification:        protocol.VerificationPreferred,
		},
		AttestationPreference: protocol.PreferNoAttestation,
	})
	if err != nil {
		t.Fatalf("failed initializing webauthn: %v", err)
	}

	challenges := challenge.NewGormStore(db, 5*time.Minute)

	auditService := services.NewAuditService(db)
	totpEngine := totp.NewEngine(db, "KeyFort Test")
	passkeyManager := passkey.NewManager(db, wa, challenges)

	totpHandler := NewTOTPHandler(totpEngine, passkeyManager, auditService)
	passkeyHandler := NewPasskeyHandler(passkeyManager, auditService)
	authMiddleware := middleware.NewAuthMiddleware(db)

	app := fiber.New(fiber.Config{BodyLimit: 1 * 1024 * 1024})
	app.Use(recover.New(recover.Config{EnableStackTrace: true}))
	app.Use(middleware.CORS("http://localhost:3001"))
	app.Use(middleware.RequestLogger())

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.Status(fiber.StatusOK).JSON(fiber.Map{"status": "ok"})
	})

	api := app.Group("/api")

	totpRoutes := api.Group("/auth/totp", authMiddleware.RequireAuth)
	totpRoutes.Get("/status", totpHandler.Status)
	totpRoutes.Post("/setup", totpHandler.Setup)
	totpRoutes.Post("/verify", totpHandler.VerifySetup)
	totpRoutes.Post("/check", totpHandler.Check)
	totpRoutes.Post("/disable", totpHandler.Disable)
	totpRoutes.Post("/recovery", totpHandler.UseRecovery)

	passkeyRoutes := api.Group("/auth/passkey")
	passkeyRoutes.Post("/register/options", authMiddleware.RequireAuth, passkeyHandler.RegisterOptions)
	passkeyRoutes.Post("/register/complete", authMiddleware.RequireAuth, passkeyHandler.RegisterComplete)
	passkeyRoutes.Get("/list", authMiddleware.RequireAuth, passkeyHandler.List)
	passkeyRoutes.Delete("/:credentialId", authMiddleware.RequireAuth, passkeyHandler.Revoke)
	passkeyRoutes.Post("/login/options", passkeyHandler.LoginOptions)
	passkeyRoutes.Post("/login/complete", passkeyHandler.LoginComplete)

	return &testEnv{app: app, db: db}
}

func createTestUser(t *testing.T, db *gorm.DB, email string) (*models.User, string) {
	t.Helper()

	user := &models.User{
		Email:       email,
		DisplayName: "Test User",
	}
	if err := db.Create(user).Error; err != nil {
		t.Fatalf("failed creating test user: %v", err)
	}

	token, err := utils.GenerateToken(user)
	if err != nil {
		t.Fatalf("failed generating auth token: %v", err)
	}

	return user, token
}

func authHeaders(token string) map[string]string {
	return map[string]string{"Authorization": "Bearer " + token}
}

func performRequest(t *testing.T, app *fiber.App, method, path string, body io.Reader, headers map[string]string) *http.Response {
	t.Helper()

	req := httptest.NewRequest(method, path, body)
	for key, value := range headers {
		req.Header.Set(key, value)
	}

	resp, err := app.Test(req, int((10 * time.Second).Milliseconds()))
	if err != nil {
		t.Fatalf("request %s %s failed: %v", method, path, err)
	}

	return resp
}

func performJSONRequest(t *testing.T, app *fiber.App, method, path string, payload any, headers map[string]string) *http.Response {
	t.Helper()

	var body io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			t.Fatalf("failed to marshal payload: %v", err)
		}
		body = bytes.NewReader(encoded)
	}

	requestHeaders := map[string]string{}
	for key, value := range headers {
		requestHeaders[key] = value
	}
	if payload != nil {
		requestHeaders["Content-Type"] = "application/json"
	}

	return performRequest(t, app, method, path, body, requestHeaders)
}

func decodeJSONMap(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("failed reading response body: %v", err)
	}

	var payload map[string]any
	if err := json.Unmarshal(raw, &payload); err != nil {
		t.Fatalf("failed decoding JSON response: %v body=%q", err, string(raw))
	}

	return payload
}

func assertStatus(t *testing.T, resp *http.Response, expected int) {
	t.Helper()
	if resp.StatusCode != expected {
		t.Fatalf("expected status %d, got %d", expected, resp.StatusCode)
	}
}

func assertEnvelopeError(t *testing.T, body map[string]any, expected string) {
	t.Helper()
	if success, _ := body["success"].(bool); success {
		t.Fatalf("expected success=false, got %+v", body)
	}
	if got, _ := body["error"].(string); got != expected {
		t.Fatalf("expected error %q, got %q", expected, got)
	}
}
