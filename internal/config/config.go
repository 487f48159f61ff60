package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	DB           DBConfig
	JWT          JWTConfig
	Server       ServerConfig
	Encryption   EncryptionConfig
	TOTP         TOTPConfig
	RelyingParty RelyingPartyConfig
	Challenge    ChallengeConfig
}

type DBConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	Name     string
	SSLMode  string
}

type JWTConfig struct {
	Secret          string
	ExpirationHours int
}

type ServerConfig struct {
	Port        string
	CORSOrigins string
}

// EncryptionConfig keys the at-rest encryption of TOTP secrets. An empty
// secret disables encryption, which is only acceptable in tests.
type EncryptionConfig struct {
	Secret string
}

type TOTPConfig struct {
	Issuer string
}

// RelyingPartyConfig identifies this service to authenticators. RPID must be
// a registrable suffix of every origin in Origins.
type RelyingPartyConfig struct {
	ID          string
	DisplayName string
	Origins     []string
}

type ChallengeConfig struct {
	TTL           time.Duration
	SweepInterval time.Duration
}

func Load() *Config {
	return &Config{
		DB: DBConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "keyfort"),
			Password: getEnv("DB_PASSWORD", "keyfort_secret"),
			Name:     getEnv("DB_NAME", "keyfort"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		JWT: JWTConfig{
			Secret:          getEnv("JWT_SECRET", "change-me-in-production"),
			ExpirationHours: getEnvAsInt("JWT_EXPIRATION_HOURS", 24),
		},
		Server: ServerConfig{
			Port:        getEnv("SERVER_PORT", "8080"),
			CORSOrigins: getEnv("CORS_ORIGINS", "http://localhost:3001,http://127.0.0.1:3001"),
		},
		Encryption: EncryptionConfig{
			Secret: getEnv("ENCRYPTION_SECRET", ""),
		},
		TOTP: TOTPConfig{
			Issuer: getEnv("TOTP_ISSUER", "KeyFort"),
		},
		RelyingParty: RelyingPartyConfig{
			ID:          getEnv("RP_ID", "localhost"),
			DisplayName: getEnv("RP_DISPLAY_NAME", "KeyFort"),
			Origins:     getEnvAsSlice("RP_ORIGINS", []string{"http://localhost:3001"}),
		},
		Challenge: ChallengeConfig{
			TTL:           getEnvAsDuration("CHALLENGE_TTL", 5*time.Minute),
			SweepInterval: getEnvAsDuration("CHALLENGE_SWEEP_INTERVAL", 1*time.Minute),
		},
	}
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	if value, ok := os.LookupEnv(key); ok {
		parsed, err := strconv.Atoi(value)
		if err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvAsDuration(key string, fallback time.Duration) time.Duration {
	if value, ok := os.LookupEnv(key); ok {
		parsed, err := time.ParseDuration(value)
		if err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvAsSlice(key string, fallback []string) []string {
	if value, ok := os.LookupEnv(key); ok {
		parts := strings.Split(value, ",")
		result := make([]string, 0, len(parts))
		for _, part := range parts {
			if trimmed := strings.TrimSpace(part); trimmed != "" {
				result = append(result, trimmed)
			}
		}
		if len(result) > 0 {
			return result
		}
	}
	return fallback
}
