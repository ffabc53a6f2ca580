package config

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// AppConfig holds environment driven configuration values.
// Secrets never have defaults inside code and must come from config.json, .env or the environment.
type AppConfig struct {
	AppPort            string
	GinMode            string
	GinPath            string
	AllowedOrigins     []string
	RateLimitPerMinute int
	FrontendBaseURL    string
	CookieSecure       bool
	CookieSameSite     string
	// Tokens
	AccessTokenSecret  string
	RefreshTokenSecret string
	AccessTokenTTL     time.Duration
	RefreshTokenTTL    time.Duration
	ResetTokenTTL      time.Duration
	// Database: "mongo" (default) or "mysql" (gorm)
	DatabaseDriver string
	DatabaseURI    string
	DBHost         string
	DBPort         string
	DBUser         string
	DBPassword     string
	DBName         string
	MongoURI       string
	MongoDatabase  string
	// Redis for revocation, cooldowns, captcha and OAuth state
	RedisEnabled  bool
	RedisHost     string
	RedisPort     int
	RedisDB       int
	RedisPassword string
	// Mail: "smtp", "resend", "sendgrid" or "log"
	MailProvider   string
	MailFrom       string
	MailFromName   string
	SMTPHost       string
	SMTPPort       int
	SMTPUsername   string
	SMTPPassword   string
	SMTPTLS        bool
	ResendAPIKey   string
	SendGridAPIKey string
	// OTP
	OTPValidity       time.Duration
	OTPCooldown       time.Duration
	OTPCaptchaEnabled bool
	// Media: "local" or "s3"
	MediaDriver     string
	UploadDir       string
	PublicBaseURL   string
	MaxUploadMB     int
	S3Bucket        string
	S3Region        string
	S3Endpoint      string
	S3AccessKey     string
	S3SecretKey     string
	S3PublicBaseURL string
	// NATS for notification events; empty disables publishing
	NATSURL string
	// OAuth
	GitHubClientID      string
	GitHubClientSecret  string
	GoogleClientID      string
	GoogleClientSecret  string
	DiscordClientID     string
	DiscordClientSecret string
	OAuthRedirectBase   string
	// Logging
	LogLevel      string
	LogPath       string
	LogMaxSizeMB  int
	LogMaxBackups int
	LogMaxAgeDays int
	LogCompress   bool
}

var cfg AppConfig
var loaded bool

// Load loads the application configuration. It should be called once during boot.
func Load() AppConfig {
	if loaded {
		return cfg
	}
	c, err := LoadFrom(filepath.Join("config", "config.json"), ".env")
	if err != nil {
		log.Fatal(err)
	}
	cfg = c
	loaded = true
	return cfg
}

// Get returns the cached configuration, loading it if necessary.
func Get() AppConfig {
	if !loaded {
		return Load()
	}
	return cfg
}

// LoadFrom builds a config from the given JSON and .env files.
// Precedence: JSON file -> defaults -> .env -> environment variables.
func LoadFrom(jsonPath, envPath string) (AppConfig, error) {
	var c AppConfig
	if err := loadJSONConfig(jsonPath, &c); err != nil {
		return c, fmt.Errorf("parse %s: %w", jsonPath, err)
	}
	applyDefaults(&c)

	// godotenv never overrides variables that are already set, so the real
	// environment keeps the last word.
	if envPath != "" {
		if err := godotenv.Load(envPath); err != nil && !os.IsNotExist(err) {
			return c, fmt.Errorf("load %s: %w", envPath, err)
		}
	}
	if err := applyEnvOverrides(&c); err != nil {
		return c, err
	}

	if c.AccessTokenSecret == "" || c.RefreshTokenSecret == "" {
		return c, fmt.Errorf("ACCESS_TOKEN_SECRET and REFRESH_TOKEN_SECRET must be set")
	}
	return c, nil
}

// section reads typed values out of one grouped JSON object.
type section map[string]any

func (s section) str(key string, dst *string) {
	if v, ok := s[key].(string); ok && v != "" {
		*dst = v
	}
}

func (s section) num(key string, dst *int) {
	if v, ok := s[key].(float64); ok {
		*dst = int(v)
	}
}

func (s section) flag(key string, dst *bool) {
	if v, ok := s[key].(bool); ok {
		*dst = v
	}
}

func (s section) list(key string, dst *[]string) {
	arr, ok := s[key].([]any)
	if !ok {
		return
	}
	res := make([]string, 0, len(arr))
	for _, it := range arr {
		if v, ok := it.(string); ok {
			res = append(res, v)
		}
	}
	if len(res) > 0 {
		*dst = res
	}
}

// dur accepts "15m" style strings or a number of seconds.
func (s section) dur(key string, dst *time.Duration) {
	switch v := s[key].(type) {
	case string:
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	case float64:
		*dst = time.Duration(v) * time.Second
	}
}

func group(raw map[string]any, name string) section {
	if m, ok := raw[name].(map[string]any); ok {
		return m
	}
	return section{}
}

// loadJSONConfig reads JSON file into out if present. Returns error only for invalid JSON.
func loadJSONConfig(path string, out *AppConfig) error {
	f, err := os.Open(path)
	if err != nil {
		return nil // silently ignore missing file
	}
	defer f.Close()

	var raw map[string]any
	if err := json.NewDecoder(f).Decode(&raw); err != nil {
		return err
	}

	app := group(raw, "app")
	app.str("AppPort", &out.AppPort)
	app.str("GinMode", &out.GinMode)
	app.str("GinPath", &out.GinPath)
	app.list("AllowedOrigins", &out.AllowedOrigins)
	app.num("RateLimitPerMinute", &out.RateLimitPerMinute)
	app.str("FrontendBaseURL", &out.FrontendBaseURL)
	app.flag("CookieSecure", &out.CookieSecure)
	app.str("CookieSameSite", &out.CookieSameSite)

	auth := group(raw, "auth")
	auth.str("AccessTokenSecret", &out.AccessTokenSecret)
	auth.str("RefreshTokenSecret", &out.RefreshTokenSecret)
	auth.dur("AccessTokenTTL", &out.AccessTokenTTL)
	auth.dur("RefreshTokenTTL", &out.RefreshTokenTTL)
	auth.dur("ResetTokenTTL", &out.ResetTokenTTL)

	db := group(raw, "database")
	db.str("Driver", &out.DatabaseDriver)
	db.str("DatabaseURI", &out.DatabaseURI)
	db.str("DBHost", &out.DBHost)
	db.str("DBPort", &out.DBPort)
	db.str("DBUser", &out.DBUser)
	db.str("DBPassword", &out.DBPassword)
	db.str("DBName", &out.DBName)

	mg := group(raw, "mongo")
	mg.str("URI", &out.MongoURI)
	mg.str("Database", &out.MongoDatabase)

	rds := group(raw, "redis")
	rds.flag("Enabled", &out.RedisEnabled)
	rds.str("RedisHost", &out.RedisHost)
	rds.num("RedisPort", &out.RedisPort)
	rds.num("RedisDB", &out.RedisDB)
	rds.str("RedisPassword", &out.RedisPassword)

	mail := group(raw, "mail")
	mail.str("Provider", &out.MailProvider)
	mail.str("From", &out.MailFrom)
	mail.str("FromName", &out.MailFromName)
	mail.str("SMTPHost", &out.SMTPHost)
	mail.num("SMTPPort", &out.SMTPPort)
	mail.str("SMTPUsername", &out.SMTPUsername)
	mail.str("SMTPPassword", &out.SMTPPassword)
	mail.flag("SMTPTLS", &out.SMTPTLS)
	mail.str("ResendAPIKey", &out.ResendAPIKey)
	mail.str("SendGridAPIKey", &out.SendGridAPIKey)

	otp := group(raw, "otp")
	otp.dur("Validity", &out.OTPValidity)
	otp.dur("Cooldown", &out.OTPCooldown)
	otp.flag("CaptchaEnabled", &out.OTPCaptchaEnabled)

	media := group(raw, "media")
	media.str("Driver", &out.MediaDriver)
	media.str("UploadDir", &out.UploadDir)
	media.str("PublicBaseURL", &out.PublicBaseURL)
	media.num("MaxUploadMB", &out.MaxUploadMB)
	media.str("S3Bucket", &out.S3Bucket)
	media.str("S3Region", &out.S3Region)
	media.str("S3Endpoint", &out.S3Endpoint)
	media.str("S3AccessKey", &out.S3AccessKey)
	media.str("S3SecretKey", &out.S3SecretKey)
	media.str("S3PublicBaseURL", &out.S3PublicBaseURL)

	group(raw, "nats").str("URL", &out.NATSURL)

	oa := group(raw, "oauth")
	oa.str("GitHubClientID", &out.GitHubClientID)
	oa.str("GitHubClientSecret", &out.GitHubClientSecret)
	oa.str("GoogleClientID", &out.GoogleClientID)
	oa.str("GoogleClientSecret", &out.GoogleClientSecret)
	oa.str("DiscordClientID", &out.DiscordClientID)
	oa.str("DiscordClientSecret", &out.DiscordClientSecret)
	oa.str("RedirectBase", &out.OAuthRedirectBase)

	lg := group(raw, "log")
	lg.str("Level", &out.LogLevel)
	lg.str("Path", &out.LogPath)
	lg.num("MaxSizeMB", &out.LogMaxSizeMB)
	lg.num("MaxBackups", &out.LogMaxBackups)
	lg.num("MaxAgeDays", &out.LogMaxAgeDays)
	lg.flag("Compress", &out.LogCompress)
	return nil
}

// applyDefaults sets sane defaults for zero-value fields.
func applyDefaults(c *AppConfig) {
	if c.AppPort == "" {
		c.AppPort = "8000"
	}
	if c.GinMode == "" {
		c.GinMode = "release"
	}
	if c.GinPath == "" {
		c.GinPath = "logs/go_gin.log"
	}
	if len(c.AllowedOrigins) == 0 {
		c.AllowedOrigins = []string{"http://localhost:5173"}
	}
	if c.RateLimitPerMinute == 0 {
		c.RateLimitPerMinute = 60
	}
	if c.FrontendBaseURL == "" {
		c.FrontendBaseURL = "http://localhost:5173"
	}
	if c.CookieSameSite == "" {
		c.CookieSameSite = "lax"
	}
	if c.AccessTokenTTL == 0 {
		c.AccessTokenTTL = 15 * time.Minute
	}
	if c.RefreshTokenTTL == 0 {
		c.RefreshTokenTTL = 240 * time.Hour
	}
	if c.ResetTokenTTL == 0 {
		c.ResetTokenTTL = time.Hour
	}
	if c.DatabaseDriver == "" {
		c.DatabaseDriver = "mongo"
	}
	if c.DBHost == "" {
		c.DBHost = "127.0.0.1"
	}
	if c.DBPort == "" {
		c.DBPort = "3306"
	}
	if c.DBUser == "" {
		c.DBUser = "root"
	}
	if c.DBName == "" {
		c.DBName = "whisperhub"
	}
	if c.MongoURI == "" {
		c.MongoURI = "mongodb://127.0.0.1:27017"
	}
	if c.MongoDatabase == "" {
		c.MongoDatabase = "whisperhub"
	}
	if c.RedisHost == "" {
		c.RedisHost = "127.0.0.1"
	}
	if c.RedisPort == 0 {
		c.RedisPort = 6379
	}
	if c.MailProvider == "" {
		c.MailProvider = "log"
	}
	if c.MailFromName == "" {
		c.MailFromName = "WhisperHub"
	}
	if c.SMTPPort == 0 {
		c.SMTPPort = 587
	}
	if c.OTPValidity == 0 {
		c.OTPValidity = 10 * time.Minute
	}
	if c.OTPCooldown == 0 {
		c.OTPCooldown = 60 * time.Second
	}
	if c.MediaDriver == "" {
		c.MediaDriver = "local"
	}
	if c.UploadDir == "" {
		c.UploadDir = "static/uploads"
	}
	if c.PublicBaseURL == "" {
		c.PublicBaseURL = "/static/uploads"
	}
	if c.MaxUploadMB == 0 {
		c.MaxUploadMB = 5
	}
	if c.S3Region == "" {
		c.S3Region = "us-east-1"
	}
	if c.OAuthRedirectBase == "" {
		c.OAuthRedirectBase = "http://localhost:8000"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.LogMaxSizeMB == 0 {
		c.LogMaxSizeMB = 100
	}
	if c.LogMaxBackups == 0 {
		c.LogMaxBackups = 3
	}
	if c.LogMaxAgeDays == 0 {
		c.LogMaxAgeDays = 7
	}
}

// applyEnvOverrides maps known environment variables onto config values when present.
func applyEnvOverrides(c *AppConfig) error {
	strs := map[string]*string{
		"APP_PORT":              &c.AppPort,
		"GIN_MODE":              &c.GinMode,
		"GIN_PATH":              &c.GinPath,
		"FRONTEND_BASE_URL":     &c.FrontendBaseURL,
		"COOKIE_SAMESITE":       &c.CookieSameSite,
		"ACCESS_TOKEN_SECRET":   &c.AccessTokenSecret,
		"REFRESH_TOKEN_SECRET":  &c.RefreshTokenSecret,
		"DATABASE_DRIVER":       &c.DatabaseDriver,
		"DATABASE_URI":          &c.DatabaseURI,
		"DB_HOST":               &c.DBHost,
		"DB_PORT":               &c.DBPort,
		"DB_USER":               &c.DBUser,
		"DB_PASSWORD":           &c.DBPassword,
		"DB_NAME":               &c.DBName,
		"MONGODB_URI":           &c.MongoURI,
		"MONGODB_DATABASE":      &c.MongoDatabase,
		"REDIS_HOST":            &c.RedisHost,
		"REDIS_PASSWORD":        &c.RedisPassword,
		"MAIL_PROVIDER":         &c.MailProvider,
		"MAIL_FROM":             &c.MailFrom,
		"MAIL_FROM_NAME":        &c.MailFromName,
		"SMTP_HOST":             &c.SMTPHost,
		"SMTP_USERNAME":         &c.SMTPUsername,
		"SMTP_PASSWORD":         &c.SMTPPassword,
		"RESEND_API_KEY":        &c.ResendAPIKey,
		"SENDGRID_API_KEY":      &c.SendGridAPIKey,
		"MEDIA_DRIVER":          &c.MediaDriver,
		"UPLOAD_DIR":            &c.UploadDir,
		"PUBLIC_BASE_URL":       &c.PublicBaseURL,
		"S3_BUCKET":             &c.S3Bucket,
		"S3_REGION":             &c.S3Region,
		"S3_ENDPOINT":           &c.S3Endpoint,
		"S3_ACCESS_KEY":         &c.S3AccessKey,
		"S3_SECRET_KEY":         &c.S3SecretKey,
		"S3_PUBLIC_BASE_URL":    &c.S3PublicBaseURL,
		"NATS_URL":              &c.NATSURL,
		"GITHUB_CLIENT_ID":      &c.GitHubClientID,
		"GITHUB_CLIENT_SECRET":  &c.GitHubClientSecret,
		"GOOGLE_CLIENT_ID":      &c.GoogleClientID,
		"GOOGLE_CLIENT_SECRET":  &c.GoogleClientSecret,
		"DISCORD_CLIENT_ID":     &c.DiscordClientID,
		"DISCORD_CLIENT_SECRET": &c.DiscordClientSecret,
		"OAUTH_REDIRECT_BASE":   &c.OAuthRedirectBase,
		"LOG_LEVEL":             &c.LogLevel,
		"LOG_PATH":              &c.LogPath,
	}
	for key, dst := range strs {
		if v := getEnv(key, ""); v != "" {
			*dst = v
		}
	}

	ints := map[string]*int{
		"RATE_LIMIT_PER_MINUTE": &c.RateLimitPerMinute,
		"REDIS_PORT":            &c.RedisPort,
		"REDIS_DB":              &c.RedisDB,
		"SMTP_PORT":             &c.SMTPPort,
		"MAX_UPLOAD_MB":         &c.MaxUploadMB,
		"LOG_MAX_SIZE_MB":       &c.LogMaxSizeMB,
		"LOG_MAX_BACKUPS":       &c.LogMaxBackups,
		"LOG_MAX_AGE_DAYS":      &c.LogMaxAgeDays,
	}
	for key, dst := range ints {
		if v := getEnv(key, ""); v != "" {
			i, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("invalid integer value for %s: %w", key, err)
			}
			*dst = i
		}
	}

	bools := map[string]*bool{
		"COOKIE_SECURE":       &c.CookieSecure,
		"REDIS_ENABLED":       &c.RedisEnabled,
		"SMTP_TLS":            &c.SMTPTLS,
		"OTP_CAPTCHA_ENABLED": &c.OTPCaptchaEnabled,
		"LOG_COMPRESS":        &c.LogCompress,
	}
	for key, dst := range bools {
		if v := getEnv(key, ""); v != "" {
			*dst = v == "true" || v == "1"
		}
	}

	durs := map[string]*time.Duration{
		"ACCESS_TOKEN_TTL":  &c.AccessTokenTTL,
		"REFRESH_TOKEN_TTL": &c.RefreshTokenTTL,
		"RESET_TOKEN_TTL":   &c.ResetTokenTTL,
		"OTP_VALIDITY":      &c.OTPValidity,
		"OTP_COOLDOWN":      &c.OTPCooldown,
	}
	for key, dst := range durs {
		if v := getEnv(key, ""); v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				return fmt.Errorf("invalid duration value for %s: %w", key, err)
			}
			*dst = d
		}
	}

	c.AllowedOrigins = readListEnv("CORS_ALLOWED_ORIGINS", c.AllowedOrigins)
	return nil
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func readListEnv(key string, defaults []string) []string {
	if raw := os.Getenv(key); raw != "" {
		return splitAndTrim(raw)
	}
	return defaults
}

func splitAndTrim(raw string) []string {
	items := []string{}
	for _, item := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(item); trimmed != "" {
			items = append(items, trimmed)
		}
	}
	return items
}
