package config

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds every runtime setting of the server in its final type.
type Config struct {
	Port      string
	CachePath string
	ReadOnly  bool

	LogLevel  string
	LogFormat string
	LogFile   string

	MaxConcurrentJobs int
	SegmentDuration   float64
	JobRetention      time.Duration
	MaxFinishedJobs   int
	JanitorInterval   time.Duration

	FFmpegPath string
	YTDLPPath  string

	AllowedOrigins  []string
	ShutdownTimeout time.Duration
}

// Defaults applied when a variable is unset or invalid.
const (
	DefaultPort              = "8080"
	DefaultCachePath         = "./hls_cache"
	DefaultMaxConcurrentJobs = 2
	DefaultSegmentDuration   = 10.0
	DefaultMaxFinishedJobs   = 500
)

// Load reads the .env file from the current working directory and sets
// environment variables. If .env does not exist, Load returns an error but
// callers can ignore it and use system env or defaults. Pass one or more paths
// to load from specific files (e.g. ".env"); with no paths, ".env" is used.
func Load(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	return godotenv.Load(paths...)
}

// FromEnv builds a Config from the process environment, falling back to the
// package defaults. Call Load first to pick up a .env file.
func FromEnv() *Config {
	cfg := &Config{
		Port:      GetEnv("PORT", DefaultPort),
		CachePath: GetEnv("CACHE_PATH", DefaultCachePath),
		ReadOnly:  GetEnvBool("READONLY", false),

		LogLevel:  GetEnv("LOG_LEVEL", "info"),
		LogFormat: GetEnv("LOG_FORMAT", "json"),
		LogFile:   GetEnv("LOG_FILE", ""),

		MaxConcurrentJobs: GetEnvInt("MAX_CONCURRENT_JOBS", DefaultMaxConcurrentJobs),
		SegmentDuration:   GetEnvFloat("SEGMENT_DURATION", DefaultSegmentDuration),
		JobRetention:      time.Duration(GetEnvInt("JOB_RETENTION_MINUTES", 60)) * time.Minute,
		MaxFinishedJobs:   GetEnvInt("MAX_FINISHED_JOBS", DefaultMaxFinishedJobs),
		JanitorInterval:   time.Duration(GetEnvInt("JANITOR_INTERVAL_MINUTES", 5)) * time.Minute,

		FFmpegPath: GetEnv("FFMPEG_PATH", "ffmpeg"),
		YTDLPPath:  GetEnv("YTDLP_PATH", "yt-dlp"),

		AllowedOrigins:  GetEnvList("ALLOWED_ORIGINS", []string{"*"}),
		ShutdownTimeout: time.Duration(GetEnvInt("SHUTDOWN_TIMEOUT_SECONDS", 10)) * time.Second,
	}
	return cfg
}

// Validate resets out-of-range values to their defaults and reports each
// correction on log so a bad environment never stops the server.
func (c *Config) Validate(log *slog.Logger) {
	if c.MaxConcurrentJobs < 1 {
		log.Warn("MAX_CONCURRENT_JOBS must be at least 1, using default",
			slog.Int("value", c.MaxConcurrentJobs), slog.Int("default", DefaultMaxConcurrentJobs))
		c.MaxConcurrentJobs = DefaultMaxConcurrentJobs
	}
	if c.SegmentDuration <= 0 {
		log.Warn("SEGMENT_DURATION must be positive, using default",
			slog.Float64("value", c.SegmentDuration), slog.Float64("default", DefaultSegmentDuration))
		c.SegmentDuration = DefaultSegmentDuration
	}
	if c.MaxFinishedJobs < 1 {
		log.Warn("MAX_FINISHED_JOBS must be at least 1, using default",
			slog.Int("value", c.MaxFinishedJobs), slog.Int("default", DefaultMaxFinishedJobs))
		c.MaxFinishedJobs = DefaultMaxFinishedJobs
	}
	if c.JobRetention <= 0 {
		c.JobRetention = time.Hour
	}
	if c.JanitorInterval <= 0 {
		c.JanitorInterval = 5 * time.Minute
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = 10 * time.Second
	}
	if _, err := strconv.Atoi(c.Port); err != nil {
		log.Warn("PORT is not a number, using default", slog.String("value", c.Port))
		c.Port = DefaultPort
	}
	if c.CachePath == "" {
		c.CachePath = DefaultCachePath
	}
}

// GetEnv returns the value of the environment variable named by key, or fallback
// if the variable is unset or empty.
func GetEnv(key, fallback string) string {
	if s := os.Getenv(key); s != "" {
		return s
	}
	return fallback
}

// GetEnvInt returns the integer value of the environment variable named by key,
// or fallback if the variable is unset, empty, or not a valid integer.
func GetEnvInt(key string, fallback int) int {
	if s := os.Getenv(key); s != "" {
		if n, err := strconv.Atoi(s); err == nil {
			return n
		}
	}
	return fallback
}

// GetEnvFloat is GetEnvInt for floating point values.
func GetEnvFloat(key string, fallback float64) float64 {
	if s := os.Getenv(key); s != "" {
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return f
		}
	}
	return fallback
}

// GetEnvBool accepts anything strconv.ParseBool does.
func GetEnvBool(key string, fallback bool) bool {
	if s := os.Getenv(key); s != "" {
		if b, err := strconv.ParseBool(s); err == nil {
			return b
		}
	}
	return fallback
}

// GetEnvList splits a comma separated variable, dropping empty items.
func GetEnvList(key string, fallback []string) []string {
	s := os.Getenv(key)
	if s == "" {
		return fallback
	}
	var out []string
	for _, item := range strings.Split(s, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}
