// Package config はアプリケーション設定の読み込みを提供する。
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
// 各コンポーネントにはコンストラクタ経由で必要な値だけを渡す。
type Config struct {
	// Database
	DatabaseURL string

	// Lending
	LendingPeriodDays int
	MaxRenewals       int
	MaxCheckedOut     int
	// CheckinForceReturn はクラウド側のクリーンアップが失敗しても
	// 貸出を返却済みとして扱うかどうか。falseの場合は返却を中断する。
	CheckinForceReturn bool

	// Cloud
	AWSAccountAlias string
	IAMGroups       []string
	CloudTimeout    time.Duration

	// Collector
	CollectRegions   []string
	CollectInterval  time.Duration
	CollectOverlap   time.Duration
	CollectBackfill  time.Duration
	CollectPageSize  int
	CollectMaxPages  int
	CollectRatePerSec float64

	// Expiry monitor
	MonitorInterval time.Duration
	WarningDays     []int

	// Mail
	SMTPAddr    string
	MailFrom    string
	AdminEmails []string

	// Server
	ServerPort string

	// Rate Limit
	RateLimitGeneral int
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合はエラーを返す。
func Load() (*Config, error) {
	cfg := &Config{}

	// Required fields
	var missing []string

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	// Optional fields with defaults
	cfg.LendingPeriodDays = getEnvInt("LENDING_PERIOD_DAYS", 14)
	cfg.MaxRenewals = getEnvInt("MAX_RENEWALS", 2)
	// http://docs.aws.amazon.com/IAM/latest/UserGuide/reference_iam-limits.html
	cfg.MaxCheckedOut = getEnvInt("MAX_CHECKED_OUT", 5000)
	cfg.CheckinForceReturn = getEnvBool("CHECKIN_FORCE_RETURN", true)

	cfg.AWSAccountAlias = getEnvString("AWS_ACCOUNT_ALIAS", "")
	cfg.IAMGroups = getEnvList("AWS_IAM_GROUPS", nil)
	cfg.CloudTimeout = getEnvDuration("CLOUD_TIMEOUT", 30*time.Second)

	cfg.CollectRegions = getEnvList("COLLECT_REGIONS", []string{"us-east-1"})
	cfg.CollectInterval = getEnvDuration("COLLECT_INTERVAL", 10*time.Minute)
	cfg.CollectOverlap = getEnvDuration("COLLECT_OVERLAP", time.Hour)
	cfg.CollectBackfill = getEnvDuration("COLLECT_BACKFILL", 7*24*time.Hour)
	cfg.CollectPageSize = getEnvInt("COLLECT_PAGE_SIZE", 50)
	cfg.CollectMaxPages = getEnvInt("COLLECT_MAX_PAGES", 40)
	cfg.CollectRatePerSec = getEnvFloat("COLLECT_RATE_PER_SEC", 2.0)

	cfg.MonitorInterval = getEnvDuration("MONITOR_INTERVAL", time.Hour)
	cfg.WarningDays = getEnvIntList("EXPIRATION_WARNING_DAYS", []int{5, 3, 1})

	cfg.SMTPAddr = getEnvString("SMTP_ADDR", "")
	cfg.MailFrom = getEnvString("MAIL_FROM", "openbare@localhost")
	cfg.AdminEmails = getEnvList("ADMIN_EMAILS", nil)

	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.RateLimitGeneral = getEnvInt("RATE_LIMIT_GENERAL", 120)

	return cfg, nil
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

// getEnvList はカンマ区切りの環境変数を文字列スライスとして読み込む。
func getEnvList(key string, defaultVal []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	var items []string
	for _, s := range strings.Split(v, ",") {
		s = strings.TrimSpace(s)
		if s != "" {
			items = append(items, s)
		}
	}
	if len(items) == 0 {
		return defaultVal
	}
	return items
}

// getEnvIntList はカンマ区切りの環境変数を整数スライスとして読み込む。
// 1つでも解析できない値があればデフォルト値を返す。
func getEnvIntList(key string, defaultVal []int) []int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	var items []int
	for _, s := range strings.Split(v, ",") {
		i, err := strconv.Atoi(strings.TrimSpace(s))
		if err != nil {
			return defaultVal
		}
		items = append(items, i)
	}
	return items
}
