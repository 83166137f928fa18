// Package config loads the service settings from the environment.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Prefix is prepended to every variable name, e.g. SWIPECORE_USER_ID.
const Prefix = "SWIPECORE"

// Config holds the settings of the swipecore binary.
type Config struct {
	ListenAddr string `envconfig:"LISTEN_ADDR" default:":8080"`
	LogLevel   Level  `envconfig:"LOG_LEVEL" default:"info"`

	// UserID is the signed-in user the core runs for.
	UserID    string `envconfig:"USER_ID" required:"true"`
	JWTSecret string `envconfig:"JWT_SECRET"`
	// AllowedOrigins are the CORS origins of the shell.
	AllowedOrigins []string `envconfig:"ALLOWED_ORIGINS" default:"*"`

	PostgresDSN string `envconfig:"POSTGRES_DSN" required:"true"`
	// CreateSchema creates missing tables at startup.
	CreateSchema bool   `envconfig:"CREATE_SCHEMA" default:"false"`
	RedisAddr    string `envconfig:"REDIS_ADDR"`

	S3Region    string `envconfig:"S3_REGION" default:"us-east-1"`
	S3Endpoint  string `envconfig:"S3_ENDPOINT"`
	S3PublicURL string `envconfig:"S3_PUBLIC_URL"`

	SQLitePath string `envconfig:"SQLITE_PATH" default:"data/local.db"`
	// Location is the device position as "latitude,longitude". Empty means
	// unknown.
	Location Location `envconfig:"LOCATION"`

	DailyLikes        int           `envconfig:"DAILY_LIKES" default:"30"`
	SwipeThreshold    float64       `envconfig:"SWIPE_THRESHOLD" default:"100"`
	FeedBatchSize     int           `envconfig:"FEED_BATCH_SIZE" default:"10"`
	FeedLowWatermark  int           `envconfig:"FEED_LOW_WATERMARK" default:"3"`
	IcebreakerDelay   time.Duration `envconfig:"ICEBREAKER_DELAY" default:"1s"`
	TypingIdle        time.Duration `envconfig:"TYPING_IDLE" default:"2s"`
	LocateTimeout     time.Duration `envconfig:"LOCATE_TIMEOUT" default:"3s"`
	NotificationRetry time.Duration `envconfig:"NOTIFICATION_RETRY" default:"1s"`
	RestoreCard       bool          `envconfig:"RESTORE_CARD_ON_FAILURE" default:"false"`
}

// Load reads the optional .env files, then the environment. Variables
// already set in the environment win over the files.
func Load(files ...string) (*Config, error) {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", f, err)
		}
	}

	var cfg Config
	if err := envconfig.Process(Prefix, &cfg); err != nil {
		return nil, fmt.Errorf("process environment: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.DailyLikes <= 0 {
		return fmt.Errorf("%s_DAILY_LIKES must be positive", Prefix)
	}
	if c.SwipeThreshold <= 0 {
		return fmt.Errorf("%s_SWIPE_THRESHOLD must be positive", Prefix)
	}
	if c.FeedLowWatermark >= c.FeedBatchSize {
		return fmt.Errorf("%s_FEED_LOW_WATERMARK must be below %s_FEED_BATCH_SIZE", Prefix, Prefix)
	}
	return nil
}

// Level is a log level decoded from its name.
type Level struct {
	slog.Level
}

// Decode implements envconfig.Decoder.
func (l *Level) Decode(value string) error {
	return l.UnmarshalText([]byte(value))
}

// Location is an optional coordinate pair.
type Location struct {
	Latitude  float64
	Longitude float64
	Set       bool
}

// Decode implements envconfig.Decoder.
func (l *Location) Decode(value string) error {
	value = strings.TrimSpace(value)
	if value == "" {
		*l = Location{}
		return nil
	}
	latStr, lonStr, ok := strings.Cut(value, ",")
	if !ok {
		return fmt.Errorf("location %q: want latitude,longitude", value)
	}
	lat, err := strconv.ParseFloat(strings.TrimSpace(latStr), 64)
	if err != nil || lat < -90 || lat > 90 {
		return fmt.Errorf("location %q: bad latitude", value)
	}
	lon, err := strconv.ParseFloat(strings.TrimSpace(lonStr), 64)
	if err != nil || lon < -180 || lon > 180 {
		return fmt.Errorf("location %q: bad longitude", value)
	}
	*l = Location{Latitude: lat, Longitude: lon, Set: true}
	return nil
}
