package main

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/webauthn"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/keyfort/backend/internal/challenge"
	"github.com/keyfort/backend/internal/config"
	"github.com/keyfort/backend/internal/database"
	"github.com/keyfort/backend/internal/handlers"
	"github.com/keyfort/backend/internal/middleware"
	"github.com/keyfort/backend/internal/passkey"
	"github.com/keyfort/backend/internal/services"
	"github.com/keyfort/backend/internal/totp"
	"github.com/keyfort/backend/pkg/logger"
	"github.com/keyfort/backend/pkg/utils"
)

func main() {
	logger.Init()

	cfg := config.Load()
	utils.ConfigureJWT(cfg.JWT.Secret, cfg.JWT.ExpirationHours)
	utils.ConfigureEncryption(cfg.Encryption.Secret)

	db, err := database.Connect(cfg.DB)
	if err != nil {
		log.Fatalf("database connection failed: %v", err)
	}

	wa, err := webauthn.New(&webauthn.Config{
		RPID:          cfg.RelyingParty.ID,
		RPDisplayName: cfg.RelyingParty.DisplayName,
		RPOrigins:     cfg.RelyingParty.Origins,
		AuthenticatorSelection: protocol.AuthenticatorSelection{
			AuthenticatorAttachment: protocol.Platform,
			UserVerification:        protocol.VerificationPreferred,
		},
		AttestationPreference: protocol.PreferNoAttestation,
		Timeouts: webauthn.TimeoutsConfig{
			Login: webauthn.TimeoutConfig{
				Enforce: true,
				Timeout: 60 * time.Second,
			},
			Registration: webauthn.TimeoutConfig{
				Enforce: true,
				Timeout: 60 * time.Second,
			},
		},
	})
	if err != nil {
		log.Fatalf("webauthn initialization failed: %v", err)
	}

	challenges := challenge.NewGormStore(db, cfg.Challenge.TTL)
	challenge.StartSweep(challenges, cfg.Challenge.SweepInterval)

	auditService := services.NewAuditService(db)
	totpEngine := totp.NewEngine(db, cfg.TOTP.Issuer)
	passkeyManager := passkey.NewManager(db, wa, challenges)

	totpHandler := handlers.NewTOTPHandler(totpEngine, passkeyManager, auditService)
	passkeyHandler := handlers.NewPasskeyHandler(passkeyManager, auditService)

	authMiddleware := middleware.NewAuthMiddleware(db)

	app := fiber.New(fiber.Config{BodyLimit: 1 * 1024 * 1024})
	app.Use(recover.New(recover.Config{EnableStackTrace: true}))
	app.Use(middleware.CORS(cfg.Server.CORSOrigins))
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

	listenAddr := fmt.Sprintf(":%s", cfg.Server.Port)

	logger.Info("server_starting", map[string]interface{}{
		"port":    cfg.Server.Port,
		"address": listenAddr,
		"rp_id":   cfg.RelyingParty.ID,
	})

	errCh := make(chan error, 1)
	go func() {
		errCh <- app.Listen(listenAddr)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		log.Printf("shutting down server due to signal: %s", sig)
		shutdownDone := make(chan struct{})
		go func() {
			_ = app.Shutdown()
			close(shutdownDone)
		}()
		select {
		case <-shutdownDone:
		case <-time.After(10 * time.Second):
			log.Print("forced shutdown timeout reached")
		}
	case err := <-errCh:
		if err != nil {
			log.Fatalf("server error: %v", err)
		}
	}
}
