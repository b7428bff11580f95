package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"kiwoomapp/internal/crypto"
)

// Clock is a KST wall-clock time of day in minutes since midnight
type Clock int

// ParseClock parses "HH:MM"
func ParseClock(s string) (Clock, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) != 2 {
		return 0, fmt.Errorf("invalid clock %q", s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return 0, fmt.Errorf("invalid hour in %q", s)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, fmt.Errorf("invalid minute in %q", s)
	}
	return Clock(h*60 + m), nil
}

// MustClock is ParseClock for literals
func MustClock(s string) Clock {
	c, err := ParseClock(s)
	if err != nil {
		panic(err)
	}
	return c
}

// ClockOf returns the time of day of t in loc
func ClockOf(t time.Time, loc *time.Location) Clock {
	t = t.In(loc)
	return Clock(t.Hour()*60 + t.Minute())
}

func (c Clock) String() string {
	return fmt.Sprintf("%02d:%02d", int(c)/60, int(c)%60)
}

// UnmarshalYAML accepts "HH:MM" scalars
func (c *Clock) UnmarshalYAML(value *yaml.Node) error {
	parsed, err := ParseClock(value.Value)
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// Session holds the trading-day boundaries
type Session struct {
	DayStart        Clock `yaml:"day_start"`
	NXTOpen         Clock `yaml:"nxt_open"`
	NXTClose        Clock `yaml:"nxt_close"`
	KRXOpen         Clock `yaml:"krx_open"`
	KRXClose        Clock `yaml:"krx_close"`
	PostCloseCutoff Clock `yaml:"post_close_cutoff"`
	CleanupAt       Clock `yaml:"cleanup_at"`
}

// DefaultSession returns the KRX/NXT schedule
func DefaultSession() Session {
	return Session{
		DayStart:        MustClock("07:50"),
		NXTOpen:         MustClock("08:00"),
		NXTClose:        MustClock("08:50"),
		KRXOpen:         MustClock("09:00"),
		KRXClose:        MustClock("15:30"),
		PostCloseCutoff: MustClock("20:00"),
		CleanupAt:       MustClock("06:00"),
	}
}

// Validate checks the boundaries are ordered
func (s Session) Validate() error {
	order := []Clock{s.DayStart, s.NXTOpen, s.NXTClose, s.KRXOpen, s.KRXClose, s.PostCloseCutoff}
	for i := 1; i < len(order); i++ {
		if order[i] < order[i-1] {
			return fmt.Errorf("session boundary %d (%s) before %s", i, order[i], order[i-1])
		}
	}
	return nil
}

// Thresholds are the tunable constants of the buy ladder, sell pricing and bounce backtest
type Thresholds struct {
	BudgetFillRatio      float64       `yaml:"budget_fill_ratio"`
	ProximityRatio       float64       `yaml:"proximity_ratio"`
	SpikeHighToPrevClose float64       `yaml:"spike_high_to_prev_close"`
	SpikeMinValue        float64       `yaml:"spike_min_value"`
	TouchRetrace         float64       `yaml:"touch_retrace"`
	BounceGapDivisor     float64       `yaml:"bounce_gap_divisor"`
	LadderSteps          int           `yaml:"ladder_steps"`
	DailyWindow          int           `yaml:"daily_window"`
	MinuteWindow         int           `yaml:"minute_window"`
	SellPriceTTL         time.Duration `yaml:"sell_price_ttl"`
	BounceDays           int           `yaml:"bounce_days"`
	StaleWatchDays       int           `yaml:"stale_watch_days"`
}

// DefaultThresholds returns the production values
func DefaultThresholds() Thresholds {
	return Thresholds{
		BudgetFillRatio:      0.85,
		ProximityRatio:       0.05,
		SpikeHighToPrevClose: 1.12,
		SpikeMinValue:        150000,
		TouchRetrace:         0.4,
		BounceGapDivisor:     5,
		LadderSteps:          10,
		DailyWindow:          16,
		MinuteWindow:         416,
		SellPriceTTL:         15 * time.Second,
		BounceDays:           5,
		StaleWatchDays:       10,
	}
}

// DefaultColorRungs maps watchlist color tags to ladder indexes
func DefaultColorRungs() map[string]int {
	return map[string]int{
		"red":    2,
		"orange": 3,
		"yellow": 4,
		"green":  5,
		"blue":   6,
		"navy":   7,
		"purple": 8,
	}
}

// Config holds the application configuration
type Config struct {
	Port         int
	MockMode     bool
	StateDir     string
	LogLevel     string
	PostgresMode bool // POSTGRES_HOST set

	KiwoomBaseURL string
	Accounts      []string
	Tokens        map[string]string // account -> bearer token

	TickInterval   time.Duration
	ReportInterval time.Duration
	ArchiveDir     string
	ReportOut      string
	ClickHouseDSN  string

	Session    Session
	Thresholds Thresholds
	ColorRungs map[string]int
}

// fileConfig is the YAML override document
type fileConfig struct {
	Session    Session        `yaml:"session"`
	Thresholds Thresholds     `yaml:"thresholds"`
	ColorRungs map[string]int `yaml:"color_rungs"`
}

// Load reads configuration from the environment and the optional CONFIG_FILE.
// Callers load .env beforehand.
func Load() (Config, error) {
	cfg := Config{
		Port:           getEnvInt("PORT", 9090),
		MockMode:       getEnvBool("MOCK_MODE", true),
		StateDir:       getEnv("STATE_DIR", "./state"),
		LogLevel:       getEnv("LOG_LEVEL", "info"),
		PostgresMode:   os.Getenv("POSTGRES_HOST") != "",
		KiwoomBaseURL:  getEnv("KIWOOM_BASE_URL", "https://api.kiwoom.com"),
		Tokens:         make(map[string]string),
		TickInterval:   getEnvDuration("TICK_INTERVAL", 3*time.Second),
		ReportInterval: getEnvDuration("REPORT_INTERVAL", 24*time.Hour),
		ArchiveDir:     getEnv("ARCHIVE_DIR", "./archive"),
		ReportOut:      getEnv("REPORT_OUT", "./report.csv"),
		ClickHouseDSN:  os.Getenv("CLICKHOUSE_DSN"),
		Session:        DefaultSession(),
		Thresholds:     DefaultThresholds(),
		ColorRungs:     DefaultColorRungs(),
	}

	for _, acct := range strings.Split(getEnv("KIWOOM_ACCOUNTS", ""), ",") {
		acct = strings.TrimSpace(acct)
		if acct == "" {
			continue
		}
		cfg.Accounts = append(cfg.Accounts, acct)
		cfg.Tokens[acct] = os.Getenv("KIWOOM_TOKEN_" + acct)
	}
	if len(cfg.Accounts) == 0 && cfg.MockMode {
		cfg.Accounts = []string{"mock"}
	}
	if err := cfg.openTokens(); err != nil {
		return cfg, err
	}

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := cfg.applyFile(path); err != nil {
			return cfg, err
		}
	}

	if err := cfg.Session.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// openTokens decrypts sealed KIWOOM_TOKEN_* values in place
func (c *Config) openTokens() error {
	key := ""
	for acct, tok := range c.Tokens {
		if !crypto.IsSealed(tok) {
			continue
		}
		if key == "" {
			k, err := crypto.LoadKey()
			if err != nil {
				return fmt.Errorf("account %s has a sealed token: %w", acct, err)
			}
			key = k
		}
		plain, err := crypto.OpenToken(tok, key)
		if err != nil {
			return fmt.Errorf("failed to open token for account %s: %w", acct, err)
		}
		c.Tokens[acct] = plain
	}
	return nil
}

func (c *Config) applyFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	fc := fileConfig{Session: c.Session, Thresholds: c.Thresholds}
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}
	c.Session = fc.Session
	c.Thresholds = fc.Thresholds
	if len(fc.ColorRungs) > 0 {
		c.ColorRungs = fc.ColorRungs
	}
	return nil
}

func getEnv(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return i
}

func getEnvBool(key string, def bool) bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv(key))) {
	case "1", "true", "y", "yes":
		return true
	case "0", "false", "n", "no":
		return false
	default:
		return def
	}
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}
