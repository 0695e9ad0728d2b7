package config

import (
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	AppPort       string `envconfig:"APP_PORT" default:"8080"`
	LogLevel      string `envconfig:"LOG_LEVEL" default:"info"`
	DBDSN         string `envconfig:"DB_DSN" required:"true"`
	JWTSecret     string `envconfig:"JWT_SECRET" required:"true"`
	JWTExpiresMin int    `envconfig:"JWT_EXPIRES_MIN" default:"10080"`
	CORSOrigins   string `envconfig:"CORS_ORIGINS" default:"http://127.0.0.1:3000, http://localhost:3000"`

	RedisAddr     string `envconfig:"REDIS_ADDR" default:"localhost:6379"`
	RedisPassword string `envconfig:"REDIS_PASSWORD" default:""`

	// Contact policy for outbound chat text: block, redact or ignore.
	ContactPolicy string `envconfig:"CONTACT_POLICY" default:"block"`

	// Offer ledger tuning.
	Currencies      []string      `envconfig:"CURRENCIES" default:"MXN,USD"`
	OfferTTL        time.Duration `envconfig:"OFFER_TTL" default:"72h"`
	OfferLockGrace  time.Duration `envconfig:"OFFER_LOCK_GRACE" default:"2m"`
	OfferSweepEvery time.Duration `envconfig:"OFFER_SWEEP_EVERY" default:"1m"`

	// Checkout gateway.
	CheckoutBaseURL    string        `envconfig:"CHECKOUT_BASE_URL" default:"https://gateway.sandbox.chambalink.mx/api"`
	CheckoutAPIKey     string        `envconfig:"CHECKOUT_API_KEY" default:""`
	CheckoutSecret     string        `envconfig:"CHECKOUT_SECRET" default:""`
	CheckoutTimeout    time.Duration `envconfig:"CHECKOUT_TIMEOUT" default:"15s"`
	CheckoutSuccessURL string        `envconfig:"CHECKOUT_SUCCESS_URL" default:"http://localhost:3000/pagos/exito"`
	CheckoutCancelURL  string        `envconfig:"CHECKOUT_CANCEL_URL" default:"http://localhost:3000/pagos/cancelado"`

	// Attachment storage.
	S3Bucket           string        `envconfig:"S3_BUCKET" default:""`
	S3Region           string        `envconfig:"S3_REGION" default:"us-east-1"`
	S3Endpoint         string        `envconfig:"S3_ENDPOINT" default:""`
	S3AccessKeyID      string        `envconfig:"S3_ACCESS_KEY_ID" default:""`
	S3SecretKey        string        `envconfig:"S3_SECRET_KEY" default:""`
	S3UsePathStyle     bool          `envconfig:"S3_USE_PATH_STYLE" default:"false"`
	PresignTTL         time.Duration `envconfig:"PRESIGN_TTL" default:"10m"`
	MaxAttachmentBytes int64         `envconfig:"MAX_ATTACHMENT_BYTES" default:"26214400"`
}

func Load() (Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
