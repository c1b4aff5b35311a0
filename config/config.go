package config

import (
	"fmt"
	"log"
	"time"

	"community-rewards-system/utils"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

type Config struct {
	Port           string        `env:"PORT" envDefault:"5200"`
	DatabaseURL    string        `env:"DATABASE_URL,required,notEmpty"`
	JWTSecret      string        `env:"JWT_SECRET,required,notEmpty"`
	JWTTTL         time.Duration `env:"JWT_TTL" envDefault:"168h"`
	AllowedOrigins []string      `env:"ALLOWED_ORIGINS" envSeparator:"," envDefault:"http://localhost:3000"`
	LogLevel       string        `env:"LOG_LEVEL" envDefault:"info"`

	ReconcileInterval time.Duration `env:"RECONCILE_INTERVAL" envDefault:"10m"`

	UploadDir string `env:"UPLOAD_DIR" envDefault:"uploads"`
	R2        R2

	// ServiceToken authenticates the OAuth callback collaborator on
	// /api/auth/social. Social login is disabled when empty.
	ServiceToken string `env:"SERVICE_TOKEN"`

	Discord Discord
}

type R2 struct {
	AccountID       string `env:"CLOUDFLARE_ACCOUNT_ID"`
	AccessKeyID     string `env:"R2_ACCESS_KEY_ID"`
	AccessKeySecret string `env:"R2_ACCESS_KEY_SECRET"`
	Bucket          string `env:"R2_BUCKET_NAME"`
	CDNBaseURL      string `env:"CDN_BASE_URL"`
}

func (r R2) Store() utils.R2Config {
	return utils.R2Config{
		AccountID:       r.AccountID,
		AccessKeyID:     r.AccessKeyID,
		AccessKeySecret: r.AccessKeySecret,
		Bucket:          r.Bucket,
		CDNBaseURL:      r.CDNBaseURL,
	}
}

type Discord struct {
	ServerID        string `env:"DISCORD_SERVER_ID"`
	BotToken        string `env:"DISCORD_BOT_TOKEN"`
	AdminRoleID     string `env:"DISCORD_ADMIN_ROLE_ID"`
	ModeratorRoleID string `env:"DISCORD_MODERATOR_ROLE_ID"`
}

// Load reads .env when present, then the process environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using system env")
	}
	return Parse()
}

// Parse reads configuration from the process environment only.
func Parse() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	return &cfg, nil
}
