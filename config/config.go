package config

import (
	"encoding/json"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

const (
	day = int64(24 * 60 * 60 * 1000)
	mib = int64(1024 * 1024)
)

// AppConfig holds the service configuration. It is loaded once at boot and
// passed by value to every component.
type AppConfig struct {
	AppPort            string
	BaseURL            string // public scheme://host used in returned links; derived from the request when empty
	UseXSendfile       bool   // serve files through X-Accel-Redirect
	RateLimitPerMinute int
	AllowedOrigins     []string
	TrustedProxies     []string // proxies whose X-Forwarded-For is believed
	// Gin framework configuration
	GinMode string
	GinPath string
	// Storage and upload limits
	StoragePath      string
	MaxContentLength int64
	MaxURLLength     int
	MaxExtLength     int
	SecretBytes      int
	IDAlphabet       string
	IDMinLength      int
	// Expiration bounds in milliseconds
	MinExpiration    int64
	MaxExpiration    int64
	PruneIntervalMin int
	// Remote fetch
	RemoteTimeoutSec         int
	RemoteInsecureSkipVerify bool
	// Virus scanning
	VScanSocket         string
	VScanQuarantinePath string
	VScanIntervalHours  int
	VScanIgnore         []string
	VScanWorkers        int
	// NSFW detection
	NSFWDetect    bool
	NSFWThreshold float64
	// Database
	DatabaseURI    string
	DBMaxOpenConns int
	// Redis cache for short URL lookups
	RedisEnabled   bool
	RedisHost      string
	RedisPort      int
	RedisDB        int
	RedisPassword  string
	URLCacheTTLSec int
	// Logging configuration
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

	// A .env file is optional; values in it only fill unset variables.
	_ = godotenv.Load()

	// Precedence: config/config.json -> defaults -> environment variable overrides
	path := getEnv("FHOST_CONFIG", filepath.Join("config", "config.json"))
	if err := loadJSONConfig(path, &cfg); err != nil {
		log.Fatalf("invalid config file %s: %v", path, err)
	}
	applyDefaults(&cfg)
	applyEnvOverrides(&cfg)

	loaded = true
	return cfg
}

// Defaults returns a configuration with only defaults applied.
func Defaults() AppConfig {
	var c AppConfig
	applyDefaults(&c)
	return c
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

type section map[string]any

func (m section) str(key string) string {
	if s, ok := m[key].(string); ok {
		return s
	}
	return ""
}

func (m section) num(key string) float64 {
	if f, ok := m[key].(float64); ok {
		return f
	}
	return 0
}

func (m section) boolean(key string) bool {
	b, _ := m[key].(bool)
	return b
}

func (m section) list(key string) []string {
	arr, ok := m[key].([]any)
	if !ok {
		return nil
	}
	res := make([]string, 0, len(arr))
	for _, it := range arr {
		if s, ok := it.(string); ok {
			res = append(res, s)
		}
	}
	return res
}

func (m section) sub(key string) section {
	if s, ok := m[key].(map[string]any); ok {
		return s
	}
	return section{}
}

// loadJSONConfig reads grouped JSON into out if the file exists. Returns error only for invalid JSON.
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
	root := section(raw)

	app := root.sub("app")
	out.AppPort = app.str("AppPort")
	out.BaseURL = app.str("BaseURL")
	out.UseXSendfile = app.boolean("UseXSendfile")
	out.RateLimitPerMinute = int(app.num("RateLimitPerMinute"))
	out.AllowedOrigins = app.list("AllowedOrigins")
	out.TrustedProxies = app.list("TrustedProxies")

	g := root.sub("gin")
	out.GinMode = g.str("Mode")
	out.GinPath = g.str("LogPath")

	st := root.sub("storage")
	out.StoragePath = st.str("StoragePath")
	out.MaxContentLength = int64(st.num("MaxContentLength"))
	out.MaxURLLength = int(st.num("MaxURLLength"))
	out.MaxExtLength = int(st.num("MaxExtLength"))
	out.SecretBytes = int(st.num("SecretBytes"))
	out.IDAlphabet = st.str("IDAlphabet")
	out.IDMinLength = int(st.num("IDMinLength"))
	out.RemoteTimeoutSec = int(st.num("RemoteTimeoutSec"))
	out.RemoteInsecureSkipVerify = st.boolean("RemoteInsecureSkipVerify")

	exp := root.sub("expiration")
	out.MinExpiration = int64(exp.num("MinExpiration"))
	out.MaxExpiration = int64(exp.num("MaxExpiration"))
	out.PruneIntervalMin = int(exp.num("PruneIntervalMin"))

	vs := root.sub("vscan")
	out.VScanSocket = vs.str("Socket")
	out.VScanQuarantinePath = vs.str("QuarantinePath")
	out.VScanIntervalHours = int(vs.num("IntervalHours"))
	out.VScanIgnore = vs.list("Ignore")
	out.VScanWorkers = int(vs.num("Workers"))

	ns := root.sub("nsfw")
	out.NSFWDetect = ns.boolean("Detect")
	out.NSFWThreshold = ns.num("Threshold")

	dbs := root.sub("database")
	out.DatabaseURI = dbs.str("DatabaseURI")
	out.DBMaxOpenConns = int(dbs.num("MaxOpenConns"))

	rds := root.sub("redis")
	out.RedisEnabled = rds.boolean("Enabled")
	out.RedisHost = rds.str("RedisHost")
	out.RedisPort = int(rds.num("RedisPort"))
	out.RedisDB = int(rds.num("RedisDB"))
	out.RedisPassword = rds.str("RedisPassword")
	out.URLCacheTTLSec = int(rds.num("URLCacheTTLSec"))

	lg := root.sub("log")
	out.LogLevel = lg.str("Level")
	out.LogPath = lg.str("Path")
	out.LogMaxSizeMB = int(lg.num("MaxSizeMB"))
	out.LogMaxBackups = int(lg.num("MaxBackups"))
	out.LogMaxAgeDays = int(lg.num("MaxAgeDays"))
	out.LogCompress = lg.boolean("Compress")

	return nil
}

// applyDefaults sets sane defaults for zero-value fields.
func applyDefaults(c *AppConfig) {
	if c.AppPort == "" {
		c.AppPort = "8080"
	}
	if c.GinMode == "" {
		c.GinMode = "release"
	}
	if c.GinPath == "" {
		c.GinPath = "logs/go_gin.log"
	}
	if c.RateLimitPerMinute == 0 {
		c.RateLimitPerMinute = 60
	}
	if len(c.AllowedOrigins) == 0 {
		c.AllowedOrigins = []string{"*"}
	}
	if c.StoragePath == "" {
		c.StoragePath = "up"
	}
	if c.MaxContentLength == 0 {
		c.MaxContentLength = 256 * mib
	}
	if c.MaxURLLength == 0 {
		c.MaxURLLength = 4096
	}
	if c.MaxExtLength == 0 {
		c.MaxExtLength = 9
	}
	if c.SecretBytes == 0 {
		c.SecretBytes = 16
	}
	if c.IDAlphabet == "" {
		c.IDAlphabet = "DEQhd2uFteibPwq0SWBInTpA_jcZL5GKz3YCR14Ulk87Jors9vNHgfaOmMXy6Vx-"
	}
	if c.IDMinLength == 0 {
		c.IDMinLength = 1
	}
	if c.MinExpiration == 0 {
		c.MinExpiration = 30 * day
	}
	if c.MaxExpiration == 0 {
		c.MaxExpiration = 365 * day
	}
	if c.RemoteTimeoutSec == 0 {
		c.RemoteTimeoutSec = 30
	}
	if c.VScanQuarantinePath == "" {
		c.VScanQuarantinePath = "quarantine"
	}
	if c.VScanIntervalHours == 0 {
		c.VScanIntervalHours = 7 * 24
	}
	if c.VScanIgnore == nil {
		c.VScanIgnore = []string{
			"Eicar-Test-Signature",
			"PUA.Win.Packer.XmMusicFile",
		}
	}
	if c.VScanWorkers == 0 {
		c.VScanWorkers = 4
	}
	if c.NSFWThreshold == 0 {
		c.NSFWThreshold = 0.92
	}
	if c.DatabaseURI == "" {
		c.DatabaseURI = "sqlite://fhost.db"
	}
	if c.DBMaxOpenConns == 0 {
		c.DBMaxOpenConns = 20
	}
	if c.RedisHost == "" {
		c.RedisHost = "127.0.0.1"
	}
	if c.RedisPort == 0 {
		c.RedisPort = 6379
	}
	if c.URLCacheTTLSec == 0 {
		c.URLCacheTTLSec = 3600
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
func applyEnvOverrides(c *AppConfig) {
	if v := getEnv("APP_PORT", ""); v != "" {
		c.AppPort = v
	}
	if v := getEnv("BASE_URL", ""); v != "" {
		c.BaseURL = strings.TrimRight(v, "/")
	}
	if v := getEnv("USE_X_SENDFILE", ""); v != "" {
		c.UseXSendfile = mustParseBool(v)
	}
	if v := getEnv("RATE_LIMIT_PER_MINUTE", ""); v != "" {
		c.RateLimitPerMinute = mustParseInt(v)
	}
	c.AllowedOrigins = readListEnv("ALLOWED_ORIGINS", c.AllowedOrigins)
	c.TrustedProxies = readListEnv("TRUSTED_PROXIES", c.TrustedProxies)
	if v := getEnv("GIN_MODE", ""); v != "" {
		c.GinMode = v
	}
	if v := getEnv("GIN_PATH", ""); v != "" {
		c.GinPath = v
	}
	if v := getEnv("STORAGE_PATH", ""); v != "" {
		c.StoragePath = v
	}
	if v := getEnv("MAX_CONTENT_LENGTH", ""); v != "" {
		c.MaxContentLength = mustParseInt64(v)
	}
	if v := getEnv("MAX_URL_LENGTH", ""); v != "" {
		c.MaxURLLength = mustParseInt(v)
	}
	if v := getEnv("MIN_EXPIRATION", ""); v != "" {
		c.MinExpiration = mustParseInt64(v)
	}
	if v := getEnv("MAX_EXPIRATION", ""); v != "" {
		c.MaxExpiration = mustParseInt64(v)
	}
	if v := getEnv("PRUNE_INTERVAL_MIN", ""); v != "" {
		c.PruneIntervalMin = mustParseInt(v)
	}
	if v := getEnv("REMOTE_INSECURE_SKIP_VERIFY", ""); v != "" {
		c.RemoteInsecureSkipVerify = mustParseBool(v)
	}
	if v := getEnv("VSCAN_SOCKET", ""); v != "" {
		c.VScanSocket = v
	}
	if v := getEnv("VSCAN_QUARANTINE_PATH", ""); v != "" {
		c.VScanQuarantinePath = v
	}
	if v := getEnv("VSCAN_INTERVAL_HOURS", ""); v != "" {
		c.VScanIntervalHours = mustParseInt(v)
	}
	c.VScanIgnore = readListEnv("VSCAN_IGNORE", c.VScanIgnore)
	if v := getEnv("NSFW_DETECT", ""); v != "" {
		c.NSFWDetect = mustParseBool(v)
	}
	if v := getEnv("DATABASE_URI", ""); v != "" {
		c.DatabaseURI = v
	}
	if v := getEnv("REDIS_ENABLED", ""); v != "" {
		c.RedisEnabled = mustParseBool(v)
	}
	if v := getEnv("REDIS_HOST", ""); v != "" {
		c.RedisHost = v
	}
	if v := getEnv("REDIS_PORT", ""); v != "" {
		c.RedisPort = mustParseInt(v)
	}
	if v := getEnv("REDIS_PASSWORD", ""); v != "" {
		c.RedisPassword = v
	}
	if v := getEnv("LOG_LEVEL", ""); v != "" {
		c.LogLevel = v
	}
	if v := getEnv("LOG_PATH", ""); v != "" {
		c.LogPath = v
	}
}

func mustParseInt(val string) int {
	i, err := strconv.Atoi(val)
	if err != nil {
		log.Fatalf("invalid integer value %s: %v", val, err)
	}
	return i
}

func mustParseInt64(val string) int64 {
	i, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		log.Fatalf("invalid integer value %s: %v", val, err)
	}
	return i
}

func mustParseBool(val string) bool {
	b, err := strconv.ParseBool(val)
	if err != nil {
		log.Fatalf("invalid boolean value %s: %v", val, err)
	}
	return b
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
