package middleware

import (
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/keyfort/backend/internal/models"
	"github.com/keyfort/backend/pkg/logger"
	"github.com/keyfort/backend/pkg/utils"
	"gorm.io/gorm"
)

var authSetupOnce sync.Once

func setupAuthTest(t *testing.T) (*fiber.App, *gorm.DB) {
	t.Helper()

	authSetupOnce.Do(func() {
		logger.Init()
		utils.ConfigureJWT("test-secret", 24)
	})

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
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

	if err := db.AutoMigrate(&models.User{}); err != nil {
		t.Fatalf("failed automigrating: %v", err)
	}

	auth := NewAuthMiddleware(db)
	app := fiber.New()
	app.Get("/me", auth.RequireAuth, func(c *fiber.Ctx) error {
		user := GetCurrentUser(c)
		return c.JSON(fiber.Map{"id": user.ID, "email": user.Email})
	})
	return app, db
}

func requestWithToken(t *testing.T, app *fiber.App, token string) *http.Response {
	t.Helper()

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := app.Test(req, int((5 * time.Second).Milliseconds()))
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	return resp
}

func TestRequireAuthRejectsMissingAndBadTokens(t *testing.T) {
	app, _ := setupAuthTest(t)

	resp := requestWithToken(t, app, "")
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("missing token: expected 401, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = requestWithToken(t, app, "not-a-jwt")
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("garbage token: expected 401, got %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestRequireAuthLoadsExistingUser(t *testing.T) {
	app, db := setupAuthTest(t)

	user := models.User{Email: "alice@example.com"}
	if err := db.Create(&user).Error; err != nil {
		t.Fatalf("failed creating user: %v", err)
	}
	token, err := utils.GenerateToken(&user)
	if err != nil {
		t.Fatalf("failed generating token: %v", err)
	}

	resp := requestWithToken(t, app, token)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestRequireAuthProvisionsUnseenUser(t *testing.T) {
	app, db := setupAuthTest(t)

	// A valid token for a user this service has never stored.
	upstream := models.User{
		BaseModel: models.BaseModel{ID: uuid.New()},
		Email:     "New.User@Example.com",
	}
	token, err := utils.GenerateToken(&upstream)
	if err != nil {
		t.Fatalf("failed generating token: %v", err)
	}

	resp := requestWithToken(t, app, token)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	var stored models.User
	if err := db.First(&stored, "id = ?", upstream.ID).Error; err != nil {
		t.Fatalf("user was not provisioned: %v", err)
	}
	if stored.Email != "new.user@example.com" {
		t.Fatalf("expected lowercased email, got %q", stored.Email)
	}
}
