// Copyright 2026 The Railclerk Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Duration is a time.Duration written in YAML as a Go duration string
// ("1.5s", "20m").
type Duration time.Duration

// UnmarshalYAML parses a duration string.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var text string
	if err := node.Decode(&text); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(strings.TrimSpace(text))
	if err != nil {
		return fmt.Errorf("line %d: %w", node.Line, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML writes the duration string.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config is the complete railclerk configuration.
type Config struct {
	Service ServiceConfig `yaml:"service"`
	Account AccountConfig `yaml:"account"`
	Session SessionConfig `yaml:"session"`
	Auth    AuthConfig    `yaml:"auth"`
	Captcha CaptchaConfig `yaml:"captcha"`
	Trip    TripConfig    `yaml:"trip"`
	Order   OrderConfig   `yaml:"order"`
}

// ServiceConfig describes the remote booking service.
type ServiceConfig struct {
	BaseURL string   `yaml:"base_url"`
	Timeout Duration `yaml:"timeout"`

	// InsecureSkipVerify disables TLS certificate verification. The
	// booking host has historically served chains that fail
	// verification, so the default is true.
	InsecureSkipVerify bool `yaml:"insecure_skip_verify"`

	UserAgent string `yaml:"user_agent"`
}

// AccountConfig holds login credentials for password login. Values
// are normally ${VAR} references resolved from the environment.
type AccountConfig struct {
	Username     string `yaml:"username"`
	Password     string `yaml:"password"`
	PasswordFile string `yaml:"password_file"`
}

// SessionConfig selects where session artifacts are persisted.
type SessionConfig struct {
	// Backend is one of "file", "sealed", "sqlite".
	Backend string `yaml:"backend"`
	Path    string `yaml:"path"`

	// IdentityPath and Recipients are used by the sealed backend.
	IdentityPath string   `yaml:"identity_path"`
	Recipients   []string `yaml:"recipients"`

	// Seed artifacts are injected into an empty store at startup,
	// for operators who copy cookies out of a browser.
	Seed map[string]string `yaml:"seed"`
}

// AuthConfig tunes the login state machine.
type AuthConfig struct {
	// Method is "qr" or "password".
	Method            string   `yaml:"method"`
	QRTimeout         Duration `yaml:"qr_timeout"`
	QRPollInterval    Duration `yaml:"qr_poll_interval"`
	QRMaxChallenges   int      `yaml:"qr_max_challenges"`
	QRImagePath       string   `yaml:"qr_image_path"`
	CaptchaRetries    int      `yaml:"captcha_retries"`
	KeepaliveInterval Duration `yaml:"keepalive_interval"`
}

// CaptchaConfig selects the captcha solver.
type CaptchaConfig struct {
	// Solver is "manual", "auto", or "chain" (auto, then manual).
	Solver        string   `yaml:"solver"`
	RecognizerURL string   `yaml:"recognizer_url"`
	Timeout       Duration `yaml:"timeout"`
	ImageDir      string   `yaml:"image_dir"`
}

// TripConfig is the journey to book.
type TripConfig struct {
	Date        string   `yaml:"date"`
	From        string   `yaml:"from"`
	To          string   `yaml:"to"`
	FromName    string   `yaml:"from_name"`
	ToName      string   `yaml:"to_name"`
	WindowStart string   `yaml:"window_start"`
	WindowEnd   string   `yaml:"window_end"`
	Classes     []string `yaml:"classes"`
	Passenger   string   `yaml:"passenger"`
}

// OrderConfig tunes the order pipeline.
type OrderConfig struct {
	Pacing        PacingConfig `yaml:"pacing"`
	QueueTemplate string       `yaml:"queue_template"`
	LedgerPath    string       `yaml:"ledger_path"`
	DryRun        bool         `yaml:"dry_run"`
	Attempts      int          `yaml:"attempts"`
}

// PacingConfig is the minimum pause around each pipeline step.
type PacingConfig struct {
	AfterSubmit     Duration `yaml:"after_submit"`
	AfterConfirm    Duration `yaml:"after_confirm"`
	AfterPassengers Duration `yaml:"after_passengers"`
	AfterCheck      Duration `yaml:"after_check"`
	BeforeQueue     Duration `yaml:"before_queue"`
	AfterQueue      Duration `yaml:"after_queue"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	state := stateDir()
	return &Config{
		Service: ServiceConfig{
			BaseURL:            "https://kyfw.12306.cn",
			Timeout:            Duration(10 * time.Second),
			InsecureSkipVerify: true,
			UserAgent:          "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
		},
		Session: SessionConfig{
			Backend: "file",
			Path:    filepath.Join(state, "session.json"),
		},
		Auth: AuthConfig{
			Method:            "qr",
			QRTimeout:         Duration(300 * time.Second),
			QRPollInterval:    Duration(2 * time.Second),
			QRMaxChallenges:   5,
			QRImagePath:       filepath.Join(state, "login-qr.png"),
			CaptchaRetries:    3,
			KeepaliveInterval: Duration(1200 * time.Second),
		},
		Captcha: CaptchaConfig{
			Solver:   "manual",
			Timeout:  Duration(15 * time.Second),
			ImageDir: state,
		},
		Trip: TripConfig{
			WindowStart: "07:00",
			WindowEnd:   "20:00",
			Classes:     []string{"second", "no_seat"},
		},
		Order: OrderConfig{
			Pacing: PacingConfig{
				AfterSubmit:     Duration(1500 * time.Millisecond),
				AfterConfirm:    Duration(time.Second),
				AfterPassengers: Duration(800 * time.Millisecond),
				AfterCheck:      Duration(time.Second),
				BeforeQueue:     Duration(2 * time.Second),
				AfterQueue:      Duration(time.Second),
			},
			LedgerPath: filepath.Join(state, "ledger.db"),
			Attempts:   1,
		},
	}
}

// Load reads the file named by RAILCLERK_CONFIG, or the default
// location. A missing default file is not an error; defaults apply.
func Load(envFile string) (*Config, error) {
	if path := os.Getenv("RAILCLERK_CONFIG"); path != "" {
		return LoadFile(path, envFile)
	}
	path := DefaultPath()
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		if err := loadEnvFile(envFile, ""); err != nil {
			return nil, err
		}
		cfg := Default()
		cfg.expandVariables()
		return cfg, nil
	}
	return LoadFile(path, envFile)
}

// LoadFile reads path over the defaults. envFile names a dotenv file
// to load first; when empty, a .env beside path is used if present.
func LoadFile(path, envFile string) (*Config, error) {
	if err := loadEnvFile(envFile, filepath.Join(filepath.Dir(path), ".env")); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	cfg.expandVariables()
	return cfg, nil
}

// DefaultPath is $XDG_CONFIG_HOME/railclerk/config.yaml, falling back
// to ~/.config.
func DefaultPath() string {
	base := os.Getenv("XDG_CONFIG_HOME")
	if base == "" {
		home, _ := os.UserHomeDir()
		base = filepath.Join(home, ".config")
	}
	return filepath.Join(base, "railclerk", "config.yaml")
}

func stateDir() string {
	base := os.Getenv("XDG_STATE_HOME")
	if base == "" {
		home, _ := os.UserHomeDir()
		base = filepath.Join(home, ".local", "state")
	}
	return filepath.Join(base, "railclerk")
}

// loadEnvFile loads explicit (which must exist) or fallback (if it
// exists). Variables already set in the process environment win.
func loadEnvFile(explicit, fallback string) error {
	if explicit != "" {
		if err := godotenv.Load(explicit); err != nil {
			return fmt.Errorf("loading env file %s: %w", explicit, err)
		}
		return nil
	}
	if fallback == "" {
		return nil
	}
	if _, err := os.Stat(fallback); err != nil {
		return nil
	}
	if err := godotenv.Load(fallback); err != nil {
		return fmt.Errorf("loading env file %s: %w", fallback, err)
	}
	return nil
}

func (c *Config) expandVariables() {
	fields := []*string{
		&c.Service.BaseURL,
		&c.Account.Username,
		&c.Account.Password,
		&c.Account.PasswordFile,
		&c.Session.Path,
		&c.Session.IdentityPath,
		&c.Auth.QRImagePath,
		&c.Captcha.RecognizerURL,
		&c.Captcha.ImageDir,
		&c.Trip.Passenger,
		&c.Order.QueueTemplate,
		&c.Order.LedgerPath,
	}
	for _, field := range fields {
		*field = expandVars(*field)
	}
	for i := range c.Session.Recipients {
		c.Session.Recipients[i] = expandVars(c.Session.Recipients[i])
	}
	for name, value := range c.Session.Seed {
		c.Session.Seed[name] = expandVars(value)
	}
}

var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

// expandVars replaces ${NAME} and ${NAME:-default}. Unset or empty
// variables without a default expand to "".
func expandVars(s string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		if value := os.Getenv(parts[1]); value != "" {
			return value
		}
		return parts[2]
	})
}

var (
	datePattern    = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)
	stationPattern = regexp.MustCompile(`^[A-Z]{3}$`)
	clockPattern   = regexp.MustCompile(`^([01]\d|2[0-3]):[0-5]\d$`)
)

// Validate reports every problem at once.
func (c *Config) Validate() error {
	var errs []error

	if c.Service.BaseURL == "" {
		errs = append(errs, errors.New("service.base_url is required"))
	}
	if c.Service.Timeout <= 0 {
		errs = append(errs, errors.New("service.timeout must be positive"))
	}

	switch c.Session.Backend {
	case "file", "sqlite":
	case "sealed":
		if len(c.Session.Recipients) == 0 {
			errs = append(errs, errors.New("session.recipients is required for the sealed backend"))
		}
		if c.Session.IdentityPath == "" {
			errs = append(errs, errors.New("session.identity_path is required for the sealed backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("session.backend %q: want file, sealed, or sqlite", c.Session.Backend))
	}
	if c.Session.Path == "" {
		errs = append(errs, errors.New("session.path is required"))
	}

	switch c.Auth.Method {
	case "qr", "password":
	default:
		errs = append(errs, fmt.Errorf("auth.method %q: want qr or password", c.Auth.Method))
	}
	if c.Auth.QRTimeout <= 0 || c.Auth.QRPollInterval <= 0 {
		errs = append(errs, errors.New("auth.qr_timeout and auth.qr_poll_interval must be positive"))
	}
	if c.Auth.QRMaxChallenges < 1 {
		errs = append(errs, errors.New("auth.qr_max_challenges must be at least 1"))
	}
	if c.Auth.CaptchaRetries < 1 {
		errs = append(errs, errors.New("auth.captcha_retries must be at least 1"))
	}
	if c.Auth.KeepaliveInterval <= 0 {
		errs = append(errs, errors.New("auth.keepalive_interval must be positive"))
	}

	switch c.Captcha.Solver {
	case "manual":
	case "auto", "chain":
		if c.Captcha.RecognizerURL == "" {
			errs = append(errs, fmt.Errorf("captcha.recognizer_url is required for solver %q", c.Captcha.Solver))
		}
	default:
		errs = append(errs, fmt.Errorf("captcha.solver %q: want manual, auto, or chain", c.Captcha.Solver))
	}

	if c.Order.Attempts < 1 {
		errs = append(errs, errors.New("order.attempts must be at least 1"))
	}

	return errors.Join(errs...)
}

// ValidateTrip checks the fields a query or booking needs. It is
// separate from Validate because login and session commands run
// without a trip.
func (c *Config) ValidateTrip() error {
	var errs []error
	trip := c.Trip
	if !datePattern.MatchString(trip.Date) {
		errs = append(errs, fmt.Errorf("trip.date %q: want YYYY-MM-DD", trip.Date))
	} else if _, err := time.Parse(time.DateOnly, trip.Date); err != nil {
		errs = append(errs, fmt.Errorf("trip.date %q: %w", trip.Date, err))
	}
	if !stationPattern.MatchString(trip.From) {
		errs = append(errs, fmt.Errorf("trip.from %q: want a three-letter station telecode", trip.From))
	}
	if !stationPattern.MatchString(trip.To) {
		errs = append(errs, fmt.Errorf("trip.to %q: want a three-letter station telecode", trip.To))
	}
	if !clockPattern.MatchString(trip.WindowStart) || !clockPattern.MatchString(trip.WindowEnd) {
		errs = append(errs, fmt.Errorf("trip window %q-%q: want HH:MM", trip.WindowStart, trip.WindowEnd))
	} else if trip.WindowStart > trip.WindowEnd {
		errs = append(errs, fmt.Errorf("trip window %s-%s: start is after end", trip.WindowStart, trip.WindowEnd))
	}
	if len(trip.Classes) == 0 {
		errs = append(errs, errors.New("trip.classes must name at least one inventory class"))
	}
	return errors.Join(errs...)
}
