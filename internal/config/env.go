package config

import (
    "os"
    "strconv"
    "strings"
    "time"

    "github.com/joho/godotenv"
)

// LoggingConfig holds logging-related configuration.
type LoggingConfig struct {
    Level        string
    Pretty       bool
    File         string
    MaxSizeMB    int
    MaxBackups   int
    MaxAgeDays   int
    Compress     bool
}

// AxiomConfig holds Axiom logging configuration.
type AxiomConfig struct {
    Send          bool
    APIKey        string
    OrgID         string
    Dataset       string
    FlushInterval time.Duration
}

// ServerConfig defines the HTTP listener.
type ServerConfig struct {
    Port            string
    ShutdownTimeout time.Duration
}

// RenderConfig defines how pages are rasterised.
type RenderConfig struct {
    Scale       float64 // multiplier over the page's intrinsic size (72 dpi points)
    Format      string  // "jpeg"|"png"
    Quality     int
    ColorMode   string  // "rgb"|"gray"
    Concurrency int
    ThumbWidth  int
}

// PaginationConfig defines the windowed loading policy.
type PaginationConfig struct {
    InitialBatchSize  int
    PrefetchBatchSize int
    PrefetchThreshold int
    BatchTimeout      time.Duration
}

// ViewportConfig defines flip viewport behavior.
type ViewportConfig struct {
    TwoPage       bool
    FlipDuration  time.Duration
    ZoomStep      float64
    MinZoom       float64
    MaxZoom       float64
}

// IntakeConfig bounds accepted uploads.
type IntakeConfig struct {
    MaxBytes      int64
    AllowOffice   bool
    UploadDir     string
}

// NarrationConfig defines speech defaults.
type NarrationConfig struct {
    Binary   string
    Language string
    Volume   float64
}

// RedisConfig defines Redis connectivity. Empty URL disables Redis-backed stores.
type RedisConfig struct {
    URL      string
    PageTTL  time.Duration
}

// S3Config defines the optional archive bucket.
type S3Config struct {
    Bucket          string
    Region          string
    Prefix          string
    AccessKeyID     string
    SecretAccessKey string
    Endpoint        string // S3-compatible endpoint, path-style addressing
    Password        string // encrypts archived sources when set
    ArchivePages    bool
}

// ConverterConfig defines the LibreOffice converter.
type ConverterConfig struct {
    Binary     string
    MaxWorkers int
    Timeout    time.Duration
}

// WebConfig guards the viewer. Empty credentials leave it open.
type WebConfig struct {
    Username string
    Password string
}

// MaintenanceConfig defines periodic housekeeping.
type MaintenanceConfig struct {
    CleanupSchedule string
    TempMaxAge      time.Duration
}

// Config is the top-level configuration.
type Config struct {
    Logging     LoggingConfig
    Axiom       AxiomConfig
    Server      ServerConfig
    Render      RenderConfig
    Pagination  PaginationConfig
    Viewport    ViewportConfig
    Intake      IntakeConfig
    Narration   NarrationConfig
    Redis       RedisConfig
    S3          S3Config
    Converter   ConverterConfig
    Maintenance MaintenanceConfig
    Web         WebConfig
}

// Load reads .env files (if present) and then the environment.
func Load() Config {
    _ = godotenv.Load(".env")
    _ = godotenv.Load("config.env")
    return FromEnv()
}

// FromEnv loads configuration from environment with sensible defaults.
func FromEnv() Config {
    cfg := Config{}

    cfg.Logging = LoggingConfig{
        Level:      getEnv("LOG_LEVEL", "info"),
        Pretty:     parseBool(getEnv("LOG_PRETTY", devDefaultPretty())),
        File:       getEnv("LOG_FILE", "logs/flipbook.log"),
        MaxSizeMB:  parseInt(getEnv("LOG_MAX_SIZE_MB", "100"), 100),
        MaxBackups: parseInt(getEnv("LOG_MAX_BACKUPS", "10"), 10),
        MaxAgeDays: parseInt(getEnv("LOG_MAX_AGE_DAYS", "30"), 30),
        Compress:   parseBool(getEnv("LOG_COMPRESS", "true")),
    }

    baseDataset := getEnv("AXIOM_DATASET", "dev")
    cfg.Axiom = AxiomConfig{
        Send:          parseBool(getEnv("SEND_LOGS_TO_AXIOM", "0")),
        APIKey:        getEnv("AXIOM_API_KEY", ""),
        OrgID:         getEnv("AXIOM_ORG_ID", ""),
        Dataset:       baseDataset + "_flipbook",
        FlushInterval: parseDuration(getEnv("AXIOM_FLUSH_INTERVAL", "10s"), 10*time.Second),
    }

    cfg.Server = ServerConfig{
        Port:            getEnv("PORT", "8080"),
        ShutdownTimeout: parseDuration(getEnv("SHUTDOWN_TIMEOUT", "10s"), 10*time.Second),
    }

    cfg.Render = RenderConfig{
        Scale:       parseFloat(getEnv("RENDER_SCALE", "1.5"), 1.5),
        Format:      strings.ToLower(getEnv("RENDER_FORMAT", "jpeg")),
        Quality:     parseInt(getEnv("RENDER_QUALITY", "85"), 85),
        ColorMode:   strings.ToLower(getEnv("RENDER_COLOR", "rgb")),
        Concurrency: parseInt(getEnv("RENDER_CONCURRENCY", "4"), 4),
        ThumbWidth:  parseInt(getEnv("RENDER_THUMB_WIDTH", "160"), 160),
    }

    cfg.Pagination = PaginationConfig{
        InitialBatchSize:  parseInt(getEnv("INITIAL_BATCH_SIZE", "10"), 10),
        PrefetchBatchSize: parseInt(getEnv("PREFETCH_BATCH_SIZE", "5"), 5),
        PrefetchThreshold: parseInt(getEnv("PREFETCH_THRESHOLD", "3"), 3),
        BatchTimeout:      parseDuration(getEnv("BATCH_TIMEOUT", "2m"), 2*time.Minute),
    }

    cfg.Viewport = ViewportConfig{
        TwoPage:      parseBool(getEnv("VIEWPORT_TWO_PAGE", "true")),
        FlipDuration: parseDuration(getEnv("FLIP_DURATION", "1s"), time.Second),
        ZoomStep:     parseFloat(getEnv("ZOOM_STEP", "0.2"), 0.2),
        MinZoom:      parseFloat(getEnv("ZOOM_MIN", "0.6"), 0.6),
        MaxZoom:      parseFloat(getEnv("ZOOM_MAX", "2.0"), 2.0),
    }

    cfg.Intake = IntakeConfig{
        MaxBytes:    int64(parseInt(getEnv("INTAKE_MAX_MB", "10"), 10)) << 20,
        AllowOffice: parseBool(getEnv("INTAKE_ALLOW_OFFICE", "false")),
        UploadDir:   getEnv("UPLOAD_DIR", "uploads"),
    }

    cfg.Narration = NarrationConfig{
        Binary:   getEnv("NARRATION_BINARY", "espeak-ng"),
        Language: getEnv("NARRATION_LANGUAGE", "en-US"),
        Volume:   parseFloat(getEnv("NARRATION_VOLUME", "1"), 1),
    }

    cfg.Redis = RedisConfig{
        URL:     getEnv("REDIS_URL", ""),
        PageTTL: parseDuration(getEnv("PAGE_CACHE_TTL", "24h"), 24*time.Hour),
    }

    cfg.S3 = S3Config{
        Bucket:          getEnv("AWS_S3_BUCKET", ""),
        Region:          getEnv("AWS_REGION", ""),
        Prefix:          getEnv("AWS_S3_PREFIX", "flipbook"),
        AccessKeyID:     getEnv("AWS_ACCESS_KEY_ID", ""),
        SecretAccessKey: getEnv("AWS_SECRET_ACCESS_KEY", ""),
        Endpoint:        getEnv("AWS_S3_ENDPOINT", ""),
        Password:        getEnv("ARCHIVE_PASSWORD", ""),
        ArchivePages:    parseBool(getEnv("ARCHIVE_PAGES", "false")),
    }

    cfg.Converter = ConverterConfig{
        Binary:     getEnv("LIBREOFFICE_BINARY", "libreoffice"),
        MaxWorkers: parseInt(getEnv("LIBREOFFICE_WORKERS", "2"), 2),
        Timeout:    parseDuration(getEnv("LIBREOFFICE_TIMEOUT", "180s"), 180*time.Second),
    }

    cfg.Maintenance = MaintenanceConfig{
        CleanupSchedule: getEnv("CLEANUP_SCHEDULE", "@every 1h"),
        TempMaxAge:      parseDuration(getEnv("TEMP_MAX_AGE", "1h"), time.Hour),
    }

    cfg.Web = WebConfig{
        Username: getEnv("WEB_USERNAME", ""),
        Password: getEnv("WEB_PASSWORD", ""),
    }

    cfg.normalize()
    return cfg
}

// normalize clamps values that would break the pagination or viewport invariants.
func (c *Config) normalize() {
    if c.Render.Scale <= 0 { c.Render.Scale = 1.5 }
    if c.Render.Quality < 1 || c.Render.Quality > 100 { c.Render.Quality = 85 }
    if c.Render.Format != "png" { c.Render.Format = "jpeg" }
    if c.Render.ColorMode != "gray" { c.Render.ColorMode = "rgb" }
    if c.Render.Concurrency <= 0 { c.Render.Concurrency = 1 }
    if c.Pagination.InitialBatchSize < 1 { c.Pagination.InitialBatchSize = 10 }
    if c.Pagination.PrefetchBatchSize < 1 { c.Pagination.PrefetchBatchSize = 5 }
    if c.Pagination.PrefetchThreshold < 0 { c.Pagination.PrefetchThreshold = 3 }
    if c.Viewport.ZoomStep <= 0 { c.Viewport.ZoomStep = 0.2 }
    if c.Viewport.MinZoom <= 0 || c.Viewport.MinZoom > 1 { c.Viewport.MinZoom = 0.6 }
    if c.Viewport.MaxZoom < 1 { c.Viewport.MaxZoom = 2.0 }
    if c.Intake.MaxBytes <= 0 { c.Intake.MaxBytes = 10 << 20 }
    if c.Narration.Volume < 0 || c.Narration.Volume > 1 { c.Narration.Volume = 1 }
    if c.Converter.MaxWorkers <= 0 { c.Converter.MaxWorkers = 1 }
}

// Helpers
func getEnv(key, def string) string {
    if v := os.Getenv(key); v != "" {
        return v
    }
    return def
}

func parseInt(s string, def int) int {
    if s == "" { return def }
    if n, err := strconv.Atoi(s); err == nil { return n }
    return def
}

func parseFloat(s string, def float64) float64 {
    if s == "" { return def }
    if f, err := strconv.ParseFloat(s, 64); err == nil { return f }
    return def
}

func parseBool(s string) bool {
    v := strings.ToLower(strings.TrimSpace(s))
    return v == "1" || v == "true" || v == "yes" || v == "on"
}

func parseDuration(s string, def time.Duration) time.Duration {
    if s == "" { return def }
    if d, err := time.ParseDuration(s); err == nil { return d }
    return def
}

func devDefaultPretty() string {
    env := strings.ToLower(os.Getenv("ENVIRONMENT"))
    if env == "dev" || env == "development" || env == "local" { return "true" }
    return "false"
}
