package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/hitoshi/adsync/internal/model"
	"github.com/hitoshi/adsync/internal/schedule"
)

// DefaultSyncInterval は同期間隔が未設定の場合の値。
const DefaultSyncInterval = 23 * time.Hour

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Schedule
	SyncInterval     time.Duration
	MinimumTimeOfDay *schedule.TimeOfDay
	MaximumTimeOfDay *schedule.TimeOfDay

	// Sync
	GroupMappings          []model.GroupMapping
	ExcludedUsernames      []string
	RequiredDirectoryGroup string
	EnableOrgCreation      bool
	EnableTeamCreation     bool
	EnableUserCreation     bool
	IsDryRun               bool

	// LDAP
	LDAPURL                string
	LDAPBindDN             string
	LDAPBindPassword       string
	LDAPBaseDN             string
	LDAPGroupBaseDN        string
	LDAPPageSize           int
	LDAPTimeout            time.Duration
	LDAPStartTLS           bool
	LDAPInsecureSkipVerify bool
	LDAPExcludeDisabled    bool

	// Gogs
	GogsAPIURL                      string
	GogsUsername                    string
	GogsPassword                    string
	GogsAccessToken                 string
	GogsLDAPSourceID                int64
	EnableGogsAccessTokenGeneration bool
	GogsRequestsPerSecond           float64
	GogsMaxRetries                  int
	GogsTimeout                     time.Duration

	// History
	DatabaseURL          string
	HistoryRetentionDays int

	// Server
	StatusAddr string

	// Logging
	LogLevel string
}

// Load は環境変数からConfigを読み込む。
// ADSYNC_ENV_FILE（未指定時は存在する場合の.env）を先に読み込み、
// 既に設定されている環境変数は上書きしない。
// 必須環境変数が未設定の場合はエラーを返す。
func Load() (*Config, error) {
	if err := loadEnvFile(); err != nil {
		return nil, err
	}

	cfg := &Config{}

	// Required fields
	var missing []string

	cfg.GogsAPIURL = strings.TrimSpace(os.Getenv("GOGS_API_URL"))
	if cfg.GogsAPIURL == "" {
		missing = append(missing, "GOGS_API_URL")
	}

	cfg.LDAPURL = strings.TrimSpace(os.Getenv("LDAP_URL"))
	if cfg.LDAPURL == "" {
		missing = append(missing, "LDAP_URL")
	}

	cfg.LDAPBaseDN = strings.TrimSpace(os.Getenv("LDAP_BASE_DN"))
	if cfg.LDAPBaseDN == "" {
		missing = append(missing, "LDAP_BASE_DN")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	mappings, err := loadGroupMappings()
	if err != nil {
		return nil, err
	}
	if len(mappings) == 0 {
		return nil, errors.New("no group mappings configured: set GROUP_MAPPINGS_FILE or GROUP_MAPPINGS")
	}
	cfg.GroupMappings = mappings

	cfg.SyncInterval = loadSyncInterval()
	if cfg.MinimumTimeOfDay, err = getEnvTimeOfDay("MINIMUM_TIME_OF_DAY"); err != nil {
		return nil, err
	}
	if cfg.MaximumTimeOfDay, err = getEnvTimeOfDay("MAXIMUM_TIME_OF_DAY"); err != nil {
		return nil, err
	}

	// Optional fields with defaults
	cfg.ExcludedUsernames = splitCSV(os.Getenv("EXCLUDED_USERNAMES"))
	cfg.RequiredDirectoryGroup = strings.TrimSpace(os.Getenv("REQUIRED_DIRECTORY_GROUP"))
	cfg.EnableOrgCreation = getEnvBool("ENABLE_GOGS_ORG_CREATION", false)
	cfg.EnableTeamCreation = getEnvBool("ENABLE_GOGS_TEAM_CREATION", false)
	cfg.EnableUserCreation = getEnvBool("ENABLE_GOGS_USER_CREATION", false)
	cfg.IsDryRun = loadDryRun()

	cfg.LDAPBindDN = os.Getenv("LDAP_BIND_DN")
	cfg.LDAPBindPassword = os.Getenv("LDAP_BIND_PASSWORD")
	cfg.LDAPGroupBaseDN = getEnvString("LDAP_GROUP_BASE_DN", cfg.LDAPBaseDN)
	cfg.LDAPPageSize = getEnvInt("LDAP_PAGE_SIZE", 500)
	cfg.LDAPTimeout = getEnvDuration("LDAP_TIMEOUT", 30*time.Second)
	cfg.LDAPStartTLS = getEnvBool("LDAP_START_TLS", false)
	cfg.LDAPInsecureSkipVerify = getEnvBool("LDAP_INSECURE_SKIP_VERIFY", false)
	cfg.LDAPExcludeDisabled = getEnvBool("LDAP_EXCLUDE_DISABLED", false)

	cfg.GogsUsername = os.Getenv("GOGS_USERNAME")
	cfg.GogsPassword = os.Getenv("GOGS_PASSWORD")
	cfg.GogsAccessToken = os.Getenv("GOGS_ACCESS_TOKEN")
	cfg.GogsLDAPSourceID = getEnvInt64("GOGS_LDAP_AUTH_SOURCE_ID", 0)
	cfg.EnableGogsAccessTokenGeneration = getEnvBool("ENABLE_GOGS_ACCESS_TOKEN_GENERATION", false)
	cfg.GogsRequestsPerSecond = getEnvFloat("GOGS_REQUESTS_PER_SECOND", 10)
	cfg.GogsMaxRetries = getEnvInt("GOGS_MAX_RETRIES", 3)
	cfg.GogsTimeout = getEnvDuration("GOGS_TIMEOUT", 30*time.Second)

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	cfg.HistoryRetentionDays = getEnvInt("HISTORY_RETENTION_DAYS", 30)
	cfg.StatusAddr = os.Getenv("STATUS_ADDR")
	cfg.LogLevel = getEnvString("LOG_LEVEL", "info")

	return cfg, nil
}

// HasHistory は同期履歴の保存先が設定されているかを返す。
func (c *Config) HasHistory() bool {
	return c.DatabaseURL != ""
}

func loadEnvFile() error {
	path := os.Getenv("ADSYNC_ENV_FILE")
	if path == "" {
		if _, err := os.Stat(".env"); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return fmt.Errorf("failed to stat .env: %w", err)
		}
		path = ".env"
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("failed to load env file %s: %w", path, err)
	}
	return nil
}

func loadSyncInterval() time.Duration {
	if d := getEnvDuration("SYNC_INTERVAL", 0); d > 0 {
		return d
	}
	if h := getEnvInt("SYNC_INTERVAL_HOURS", 0); h > 0 {
		return time.Duration(h) * time.Hour
	}
	if m := getEnvInt("SYNC_INTERVAL_MINUTES", 0); m > 0 {
		return time.Duration(m) * time.Minute
	}
	return DefaultSyncInterval
}

// IS_DRY_RUN が真偽値として解釈できない場合は、空白でなければ真とする。
func loadDryRun() bool {
	v := strings.TrimSpace(os.Getenv("IS_DRY_RUN"))
	if v == "" {
		return false
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return true
	}
	return b
}

func splitCSV(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func getEnvTimeOfDay(key string) (*schedule.TimeOfDay, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return nil, nil
	}
	t, err := schedule.ParseTimeOfDay(v)
	if err != nil {
		return nil, fmt.Errorf("invalid %s: %w", key, err)
	}
	return &t, nil
}

func getEnvString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvInt64(key string, defaultVal int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvFloat(key string, defaultVal float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return defaultVal
	}
	return f
}

func getEnvBool(key string, defaultVal bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return defaultVal
	}
	return b
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}
