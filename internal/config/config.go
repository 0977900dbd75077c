package config

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

const (
	settingsFile     = "config/setting.ini"
	defaultEnv       = "dev"
	envConfigPattern = "config/%s/promptgate.ini"
)

// Settings contains global toggles such as the active environment.
type Settings struct {
	Environment string
	Defaults    map[string]string
}

// Config describes runtime options for the bot process.
type Config struct {
	Environment string

	// Telegram transport
	TelegramToken   string
	TelegramBaseURL string
	SendRate        float64
	PollTimeout     int

	// Upstream completion service
	OpenRouterAPIKey  string
	OpenRouterBaseURL string
	OpenRouterReferer string
	OpenRouterTitle   string
	RequestTimeout    time.Duration
	DefaultModel      string
	SystemPrompt      string

	// Gatekeeping
	OperatorID string
	PricePer1K float64
	PricesFile string

	// Ledger persistence: file | sqlite | postgres
	LedgerBackend string
	LedgerPath    string
	LedgerDSN     string

	// Admin HTTP API
	AdminEnabled bool
	AdminPort    int
	AdminSecret  string

	// Logging
	LogFile  string
	LogLevel string
}

// Load reads the current environment and loads the matching config file.
// Environment variables with the PROMPTGATE_ prefix override file values.
func Load(root string) (Config, error) {
	if root == "" {
		root = "."
	}
	s, err := loadSettings(root)
	if err != nil {
		return Config{}, err
	}

	envValues, err := parseINI(filepath.Join(root, fmt.Sprintf(envConfigPattern, s.Environment)))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			envValues = map[string]string{}
		} else {
			return Config{}, err
		}
	}

	merged := make(map[string]string)
	for k, v := range s.Defaults {
		merged[k] = v
	}
	for k, v := range envValues {
		merged[k] = v
	}

	cfg := Config{
		Environment:       s.Environment,
		TelegramToken:     firstNonEmpty(os.Getenv("PROMPTGATE_TELEGRAM_TOKEN"), merged["telegram_token"]),
		TelegramBaseURL:   firstNonEmpty(os.Getenv("PROMPTGATE_TELEGRAM_BASE_URL"), merged["telegram_base_url"]),
		SendRate:          parseOptionalFloat(firstNonEmpty(os.Getenv("PROMPTGATE_SEND_RATE"), merged["send_rate"]), 20),
		PollTimeout:       parseOptionalInt(firstNonEmpty(os.Getenv("PROMPTGATE_POLL_TIMEOUT"), merged["poll_timeout"]), 30),
		OpenRouterAPIKey:  firstNonEmpty(os.Getenv("PROMPTGATE_OPENROUTER_API_KEY"), merged["openrouter_api_key"]),
		OpenRouterBaseURL: firstNonEmpty(os.Getenv("PROMPTGATE_OPENROUTER_BASE_URL"), merged["openrouter_base_url"]),
		OpenRouterReferer: firstNonEmpty(os.Getenv("PROMPTGATE_OPENROUTER_REFERER"), merged["openrouter_referer"]),
		OpenRouterTitle:   firstNonEmpty(os.Getenv("PROMPTGATE_OPENROUTER_TITLE"), merged["openrouter_title"], "promptgate"),
		DefaultModel:      firstNonEmpty(os.Getenv("PROMPTGATE_DEFAULT_MODEL"), merged["default_model"], "anthropic/claude-sonnet-4"),
		SystemPrompt:      firstNonEmpty(merged["system_prompt"], "You are a senior software engineer. Answer precisely and include complete code when asked."),
		OperatorID:        firstNonEmpty(os.Getenv("PROMPTGATE_OPERATOR_ID"), merged["operator_id"]),
		PricePer1K:        0.02,
		PricesFile:        firstNonEmpty(os.Getenv("PROMPTGATE_PRICES_FILE"), merged["prices_file"]),
		LedgerBackend:     strings.ToLower(firstNonEmpty(os.Getenv("PROMPTGATE_LEDGER_BACKEND"), merged["ledger_backend"], "file")),
		LedgerPath:        firstNonEmpty(os.Getenv("PROMPTGATE_LEDGER_PATH"), merged["ledger_path"], DefaultLedgerPath()),
		LedgerDSN:         firstNonEmpty(os.Getenv("PROMPTGATE_LEDGER_DSN"), merged["ledger_dsn"]),
		AdminEnabled:      parseOptionalBool(firstNonEmpty(os.Getenv("PROMPTGATE_ADMIN_ENABLED"), merged["admin_enabled"]), false),
		AdminPort:         parseOptionalInt(firstNonEmpty(os.Getenv("PROMPTGATE_ADMIN_PORT"), merged["admin_port"]), 8079),
		AdminSecret:       firstNonEmpty(os.Getenv("PROMPTGATE_ADMIN_SECRET"), merged["admin_secret"]),
		LogFile:           firstNonEmpty(os.Getenv("PROMPTGATE_LOG_FILE"), merged["log_file"]),
		LogLevel:          firstNonEmpty(os.Getenv("PROMPTGATE_LOG_LEVEL"), merged["log_level"], "info"),
	}

	if v := merged["price_per_1k"]; v != "" {
		parsed, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return Config{}, fmt.Errorf("invalid price_per_1k %q: %w", v, err)
		}
		cfg.PricePer1K = parsed
	}
	if v := firstNonEmpty(os.Getenv("PROMPTGATE_REQUEST_TIMEOUT"), merged["request_timeout"]); v != "" {
		dur, err := time.ParseDuration(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid request_timeout %q: %w", v, err)
		}
		cfg.RequestTimeout = dur
	}

	switch cfg.LedgerBackend {
	case "file", "sqlite", "postgres":
	default:
		return Config{}, fmt.Errorf("invalid ledger_backend %q: want file, sqlite or postgres", cfg.LedgerBackend)
	}
	if cfg.LedgerBackend == "postgres" && strings.TrimSpace(cfg.LedgerDSN) == "" {
		return Config{}, errors.New("ledger_backend postgres requires ledger_dsn")
	}
	return cfg, nil
}

// Validate checks the values a running bot cannot do without.
func (c Config) Validate() error {
	if strings.TrimSpace(c.TelegramToken) == "" {
		return errors.New("telegram_token is required")
	}
	if strings.TrimSpace(c.OpenRouterAPIKey) == "" {
		return errors.New("openrouter_api_key is required")
	}
	if c.AdminEnabled && strings.TrimSpace(c.AdminSecret) == "" {
		return errors.New("admin_enabled requires admin_secret")
	}
	return nil
}

func loadSettings(root string) (Settings, error) {
	values, err := parseINI(filepath.Join(root, settingsFile))
	if errors.Is(err, os.ErrNotExist) {
		return Settings{Environment: defaultEnv, Defaults: map[string]string{}}, nil
	}
	if err != nil {
		return Settings{}, err
	}
	env := values["environment"]
	if env == "" {
		env = defaultEnv
	}
	defaults := make(map[string]string)
	for k, v := range values {
		if k == "environment" {
			continue
		}
		defaults[k] = v
	}
	return Settings{Environment: env, Defaults: defaults}, nil
}

func parseINI(path string) (map[string]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	values := make(map[string]string)
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, ";") {
			continue
		}
		if strings.HasPrefix(line, "[") {
			continue
		}
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.TrimSpace(parts[0])
		val := strings.TrimSpace(parts[1])
		if key == "" {
			continue
		}
		values[strings.ToLower(key)] = val
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return values, nil
}

func parseBool(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}

func parseOptionalBool(v string, fallback bool) bool {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	return parseBool(v)
}

func parseOptionalInt(v string, fallback int) int {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	if parsed, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
		return parsed
	}
	return fallback
}

func parseOptionalFloat(v string, fallback float64) float64 {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	if parsed, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
		return parsed
	}
	return fallback
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

// DefaultLedgerPath returns the fallback ledger location under the user's
// home directory.
func DefaultLedgerPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "ledger.json"
	}
	return filepath.Join(home, ".promptgate", "ledger.json")
}
